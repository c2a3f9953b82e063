package main

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	firebaseauth "firebase.google.com/go/v4/auth"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/MikeMC777/storefront/internal/address"
	"github.com/MikeMC777/storefront/internal/auth"
	"github.com/MikeMC777/storefront/internal/cart"
	"github.com/MikeMC777/storefront/internal/events"
	"github.com/MikeMC777/storefront/internal/lock"
	"github.com/MikeMC777/storefront/internal/memstore"
	"github.com/MikeMC777/storefront/internal/order"
	"github.com/MikeMC777/storefront/internal/payment"
	"github.com/MikeMC777/storefront/internal/user"
)

const (
	secretKey = "sk_test_handlers"
	buyer     = "fb-buyer"
)

//
// ---------- STUBS & FAKES ----------
//

// stubVerifier accepts "good" as a token for buyer.
type stubVerifier struct{}

func (stubVerifier) VerifyIDToken(_ context.Context, tok string) (*firebaseauth.Token, error) {
	if tok != "good" {
		return nil, errors.New("token expired")
	}
	return &firebaseauth.Token{UID: buyer, Claims: map[string]interface{}{"email": "ama@example.com", "name": "Ama Mensah"}}, nil
}

// paystackFake answers transaction/verify from an in-memory table: reference -> minor amount.
type paystackFake struct {
	mu   sync.Mutex
	paid map[string]int64
}

func newPaystackServer(t *testing.T) (*httptest.Server, *paystackFake) {
	t.Helper()
	f := &paystackFake{paid: map[string]int64{}}
	mux := http.NewServeMux()
	mux.HandleFunc("/transaction/verify/", func(w http.ResponseWriter, r *http.Request) {
		ref := strings.TrimPrefix(r.URL.Path, "/transaction/verify/")
		f.mu.Lock()
		amount, ok := f.paid[ref]
		f.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		if !ok {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]any{"status": false, "message": "Transaction reference not found"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status": true,
			"data": map[string]any{
				"status": "success", "reference": ref, "amount": amount, "currency": "GHS",
				"customer": map[string]any{"email": "ama@example.com"},
			},
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, f
}

func (f *paystackFake) pay(ref string, minor int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paid[ref] = minor
}

type testEnv struct {
	router *gin.Engine
	store  *memstore.Store
	gw     *paystackFake
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	srv, gw := newPaystackServer(t)
	ps, err := payment.NewPaystack(payment.PaystackConfig{
		SecretKey: secretKey,
		BaseURL:   srv.URL,
		Currency:  "GHS",
		Timeout:   2 * time.Second,
	})
	if err != nil {
		t.Fatalf("paystack: %v", err)
	}

	store := memstore.New()
	store.SeedDemo()
	carts := cart.NewService(store.Carts, store.Catalog)
	orders := order.NewService(order.Deps{
		Orders:    store.Orders,
		Carts:     carts,
		Addresses: store.Addresses,
		Gateway:   ps,
		Events:    &events.Recorder{},
		Locker:    lock.NewLocal(),
		Pricing: order.Pricing{
			TaxRate:       decimal.RequireFromString("0.10"),
			ShippingRates: map[string]decimal.Decimal{"standard": decimal.NewFromInt(10)},
		},
	})

	r := newRouter(routerDeps{
		Orders:   orders,
		Carts:    carts,
		Webhooks: ps,
		Auth:     auth.Middleware(stubVerifier{}, user.NewService(store.Users), nil),
		Logger:   zap.NewNop(),
	})
	return &testEnv{router: r, store: store, gw: gw}
}

func (e *testEnv) do(method, target, body string, hdr map[string]string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if hdr == nil {
		req.Header.Set("Authorization", "Bearer good")
	}
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

// fillCart puts the scarf (50) and two sandals at the variant sale price (15): subtotal 80.
func (e *testEnv) fillCart(t *testing.T) {
	t.Helper()
	for _, body := range []string{
		`{"productId":"demo-kente-scarf","quantity":1}`,
		`{"productId":"demo-leather-sandals","variantId":"demo-leather-sandals-42","quantity":2}`,
	} {
		if w := e.do(http.MethodPost, "/cart/items", body, nil); w.Code != http.StatusCreated {
			t.Fatalf("add item: status=%d body=%s", w.Code, w.Body.String())
		}
	}
}

func decodeOrder(t *testing.T, w *httptest.ResponseRecorder) order.Order {
	t.Helper()
	var o order.Order
	if err := json.Unmarshal(w.Body.Bytes(), &o); err != nil {
		t.Fatalf("decode order: %v body=%s", err, w.Body.String())
	}
	return o
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error     string `json:"error"`
		RequestID string `json:"request_id"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v body=%s", err, w.Body.String())
	}
	if body.RequestID == "" {
		t.Fatalf("error body without request_id: %s", w.Body.String())
	}
	return body.Error
}

func sign(body string) string {
	mac := hmac.New(sha512.New, []byte(secretKey))
	mac.Write([]byte(body))
	return hex.EncodeToString(mac.Sum(nil))
}

//
// ---------- TESTS ----------
//

func TestVerifyPayment_CreatesOrderOnce(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	e.fillCart(t)
	e.gw.pay("T-100", 8000)

	w := e.do(http.MethodPost, "/orders/verify-payment", `{"reference":"T-100"}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	first := decodeOrder(t, w)
	if first.Status != order.StatusProcessing || first.PaymentStatus != order.PaymentPaid {
		t.Fatalf("status=%s payment=%s", first.Status, first.PaymentStatus)
	}
	if !first.Total.Equal(decimal.NewFromInt(80)) || len(first.Items) != 2 {
		t.Fatalf("total=%s items=%d", first.Total, len(first.Items))
	}

	w = e.do(http.MethodGet, "/cart", "", nil)
	var c cart.Cart
	if err := json.Unmarshal(w.Body.Bytes(), &c); err != nil {
		t.Fatalf("decode cart: %v", err)
	}
	if c.ItemCount != 0 {
		t.Fatalf("cart not cleared: %d items", c.ItemCount)
	}

	w = e.do(http.MethodPost, "/orders/verify-payment", `{"reference":"T-100"}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("replay status=%d body=%s", w.Code, w.Body.String())
	}
	if again := decodeOrder(t, w); again.ID != first.ID {
		t.Fatalf("replay returned %s, want %s", again.ID, first.ID)
	}
	if n := e.store.Orders.Count(); n != 1 {
		t.Fatalf("orders=%d, want 1", n)
	}
}

func TestVerifyPayment_Errors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		body     string
		fill     bool
		pay      bool
		hdr      map[string]string
		wantCode int
		wantErr  string
	}{
		{"unknown reference", `{"reference":"T-missing"}`, true, false, nil, http.StatusBadRequest, "payment_verification_failed"},
		{"empty cart", `{"reference":"T-1"}`, false, true, nil, http.StatusBadRequest, "empty_cart"},
		{"missing reference", `{}`, true, true, nil, http.StatusBadRequest, "invalid_request"},
		{"malformed json", `{"reference":`, true, true, nil, http.StatusBadRequest, "invalid_request"},
		{"no token", `{"reference":"T-1"}`, true, true, map[string]string{}, http.StatusUnauthorized, "unauthenticated"},
		{"bad token", `{"reference":"T-1"}`, true, true, map[string]string{"Authorization": "Bearer stale"}, http.StatusUnauthorized, "unauthenticated"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			e := newTestEnv(t)
			if tc.fill {
				e.fillCart(t)
			}
			if tc.pay {
				e.gw.pay("T-1", 8000)
			}
			w := e.do(http.MethodPost, "/orders/verify-payment", tc.body, tc.hdr)
			if w.Code != tc.wantCode {
				t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
			}
			if got := errorCode(t, w); got != tc.wantErr {
				t.Fatalf("error=%q, want %q", got, tc.wantErr)
			}
			if n := e.store.Orders.Count(); n != 0 {
				t.Fatalf("orders=%d, want 0", n)
			}
		})
	}
}

func TestCreateOrder_ServerTotals(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	e.fillCart(t)
	e.gw.pay("T-200", 9800)

	// The client claims a total of 1; the server's 80 + 10 + 8 wins.
	body := `{"paystackReference":"T-200","shippingMethod":"standard","total":"1",
		"shippingAddress":{"firstName":"Ama","lastName":"Mensah","email":"ama@example.com","address":"12 Oxford St","city":"Accra"}}`
	w := e.do(http.MethodPost, "/orders", body, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	o := decodeOrder(t, w)
	if !o.Total.Equal(decimal.NewFromInt(98)) {
		t.Fatalf("total=%s, want 98", o.Total)
	}
	if o.ShippingAddress == nil || o.ShippingAddress.City != "Accra" {
		t.Fatalf("shipping address not attached: %+v", o.ShippingAddress)
	}
}

func TestCreateOrder_UnknownShippingMethod(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	e.fillCart(t)
	e.gw.pay("T-300", 9800)

	body := `{"paystackReference":"T-300","shippingMethod":"drone",
		"shippingAddress":{"firstName":"Ama","email":"ama@example.com","address":"12 Oxford St","city":"Accra"}}`
	w := e.do(http.MethodPost, "/orders", body, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	if got := errorCode(t, w); got != "invalid_request" {
		t.Fatalf("error=%q", got)
	}
}

func TestManualOrder_CancelLifecycle(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	e.fillCart(t)

	if err := e.store.Addresses.Create(context.Background(), &address.Address{
		ID: "addr-1", UserID: buyer, FullName: "Ama Mensah", Street: "12 Oxford St", City: "Accra",
	}); err != nil {
		t.Fatalf("seed address: %v", err)
	}

	w := e.do(http.MethodPost, "/orders/legacy", `{"shippingAddressId":"addr-1"}`, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("create status=%d body=%s", w.Code, w.Body.String())
	}
	o := decodeOrder(t, w)
	if o.Status != order.StatusPending || o.PaymentMethod != order.PaymentMethodManual {
		t.Fatalf("status=%s method=%s", o.Status, o.PaymentMethod)
	}

	w = e.do(http.MethodGet, "/orders/"+o.ID, "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get status=%d body=%s", w.Code, w.Body.String())
	}

	w = e.do(http.MethodPut, "/orders/"+o.ID+"/cancel", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("cancel status=%d body=%s", w.Code, w.Body.String())
	}
	if got := decodeOrder(t, w); got.Status != order.StatusCancelled {
		t.Fatalf("status=%s after cancel", got.Status)
	}

	w = e.do(http.MethodPut, "/orders/"+o.ID+"/cancel", "", nil)
	if w.Code != http.StatusBadRequest || errorCode(t, w) != "order_not_cancellable" {
		t.Fatalf("second cancel status=%d body=%s", w.Code, w.Body.String())
	}

	w = e.do(http.MethodGet, "/orders", "", nil)
	var list []order.Order
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil || len(list) != 1 {
		t.Fatalf("list: err=%v len=%d body=%s", err, len(list), w.Body.String())
	}
}

func TestGetOrder_Unknown(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)

	w := e.do(http.MethodGet, "/orders/does-not-exist", "", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	if got := errorCode(t, w); got != "not_found" {
		t.Fatalf("error=%q", got)
	}
}

func TestCartEndpoints(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	e.fillCart(t)

	w := e.do(http.MethodGet, "/cart", "", nil)
	var c cart.Cart
	if err := json.Unmarshal(w.Body.Bytes(), &c); err != nil {
		t.Fatalf("decode cart: %v", err)
	}
	if !c.Subtotal.Equal(decimal.NewFromInt(80)) || c.ItemCount != 3 || len(c.Items) != 2 {
		t.Fatalf("subtotal=%s count=%d lines=%d", c.Subtotal, c.ItemCount, len(c.Items))
	}

	var scarf string
	for _, l := range c.Items {
		if l.ProductID == "demo-kente-scarf" {
			scarf = l.ID
		}
	}
	if scarf == "" {
		t.Fatalf("scarf line missing")
	}

	if w := e.do(http.MethodPut, "/cart/items/"+scarf, `{"quantity":3}`, nil); w.Code != http.StatusOK {
		t.Fatalf("update status=%d body=%s", w.Code, w.Body.String())
	}
	if w := e.do(http.MethodPut, "/cart/items/"+scarf, `{"quantity":0}`, nil); w.Code != http.StatusNoContent {
		t.Fatalf("update to zero status=%d body=%s", w.Code, w.Body.String())
	}
	if w := e.do(http.MethodDelete, "/cart/items/"+scarf, "", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("delete removed line status=%d", w.Code)
	}
	if w := e.do(http.MethodPost, "/cart/items", `{"productId":"nope","quantity":1}`, nil); w.Code != http.StatusBadRequest {
		t.Fatalf("unknown product status=%d", w.Code)
	}
	if w := e.do(http.MethodDelete, "/cart", "", nil); w.Code != http.StatusNoContent {
		t.Fatalf("clear status=%d", w.Code)
	}
	if w := e.do(http.MethodDelete, "/cart", "", nil); w.Code != http.StatusNoContent {
		t.Fatalf("second clear status=%d", w.Code)
	}
}

func TestPaystackWebhook(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	e.fillCart(t)

	payload := `{"event":"charge.success","data":{"status":"success","reference":"T-900","amount":9800,"currency":"GHS",
		"customer":{"email":"ama@example.com"},"metadata":{"user_id":"` + buyer + `"}}}`

	bad := e.do(http.MethodPost, "/payments/paystack/webhook", payload, map[string]string{payment.SignatureHeader: "deadbeef"})
	if bad.Code != http.StatusUnauthorized {
		t.Fatalf("bad signature status=%d", bad.Code)
	}
	if n := e.store.Orders.Count(); n != 0 {
		t.Fatalf("orders=%d after rejected webhook", n)
	}

	for i := 0; i < 2; i++ {
		w := e.do(http.MethodPost, "/payments/paystack/webhook", payload, map[string]string{payment.SignatureHeader: sign(payload)})
		if w.Code != http.StatusOK {
			t.Fatalf("delivery %d status=%d body=%s", i, w.Code, w.Body.String())
		}
	}
	if n := e.store.Orders.Count(); n != 1 {
		t.Fatalf("orders=%d, want 1", n)
	}

	// A verify-payment call racing the webhook sees the same order.
	w := e.do(http.MethodPost, "/orders/verify-payment", `{"reference":"T-900"}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("verify after webhook status=%d body=%s", w.Code, w.Body.String())
	}
	if o := decodeOrder(t, w); !o.Total.Equal(decimal.NewFromInt(98)) || o.Status != order.StatusProcessing {
		t.Fatalf("total=%s status=%s", o.Total, o.Status)
	}
}
