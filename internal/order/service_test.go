package order_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MikeMC777/storefront/internal/address"
	"github.com/MikeMC777/storefront/internal/cart"
	"github.com/MikeMC777/storefront/internal/events"
	"github.com/MikeMC777/storefront/internal/lock"
	"github.com/MikeMC777/storefront/internal/memstore"
	"github.com/MikeMC777/storefront/internal/order"
	"github.com/MikeMC777/storefront/internal/payment"
	"github.com/MikeMC777/storefront/internal/product"
)

const (
	userID   = "user-1"
	otherID  = "user-2"
	prodA    = "prod-a"
	prodB    = "prod-b"
	variantV = "var-v"
)

// txn is what the fake gateway reports for a reference.
type txn struct {
	Status   string
	Minor    int64
	Currency string
	Metadata map[string]any
}

type fakeGateway struct {
	mu       sync.Mutex
	txns     map[string]txn
	verifies atomic.Int32
	lastInit map[string]any
}

func (g *fakeGateway) set(ref string, t txn) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.txns[ref] = t
}

func newGatewayServer(t *testing.T) (*httptest.Server, *fakeGateway) {
	t.Helper()
	g := &fakeGateway{txns: map[string]txn{}}
	mux := http.NewServeMux()
	mux.HandleFunc("/transaction/verify/", func(w http.ResponseWriter, r *http.Request) {
		g.verifies.Add(1)
		ref := strings.TrimPrefix(r.URL.Path, "/transaction/verify/")
		g.mu.Lock()
		tx, ok := g.txns[ref]
		g.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		if !ok {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]any{"status": false, "message": "Transaction reference not found"})
			return
		}
		cur := tx.Currency
		if cur == "" {
			cur = "GHS"
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status": true,
			"data": map[string]any{
				"status":    tx.Status,
				"reference": ref,
				"amount":    tx.Minor,
				"currency":  cur,
				"customer":  map[string]any{"email": "buyer@example.com"},
				"metadata":  tx.Metadata,
			},
		})
	})
	mux.HandleFunc("/transaction/initialize", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		g.mu.Lock()
		g.lastInit = body
		g.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status": true,
			"data": map[string]any{
				"authorization_url": "https://checkout.paystack.test/abc",
				"access_code":       "abc",
				"reference":         "ref-init",
			},
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, g
}

type fixture struct {
	store  *memstore.Store
	carts  *cart.Service
	svc    *order.Service
	gw     *fakeGateway
	events *events.Recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	srv, gw := newGatewayServer(t)
	ps, err := payment.NewPaystack(payment.PaystackConfig{
		SecretKey: "sk_test",
		BaseURL:   srv.URL,
		Currency:  "GHS",
		Timeout:   2 * time.Second,
	})
	require.NoError(t, err)

	store := memstore.New()
	store.Catalog.PutProduct(product.Product{ID: prodA, Name: "Kente Scarf", SKU: "KS-1", BasePrice: memstore.Price("50")})
	store.Catalog.PutProduct(product.Product{ID: prodB, Name: "Sandals", SKU: "SD", BasePrice: memstore.Price("30")})
	store.Catalog.PutVariant(product.Variant{
		ID: variantV, ProductID: prodB, Name: "Size 42", SKU: "SD-42",
		Price: memstore.Price("20"), SalePrice: memstore.PriceRef("15"),
	})

	carts := cart.NewService(store.Carts, store.Catalog)
	rec := &events.Recorder{}
	f := &fixture{store: store, carts: carts, gw: gw, events: rec}
	f.svc = order.NewService(order.Deps{
		Orders:    store.Orders,
		Carts:     carts,
		Addresses: store.Addresses,
		Gateway:   ps,
		Events:    rec,
		Locker:    lock.NewLocal(),
		Pricing: order.Pricing{
			TaxRate: memstore.Price("0.10"),
			ShippingRates: map[string]decimal.Decimal{
				"standard":  memstore.Price("10"),
				"express":   memstore.Price("25"),
				"overnight": memstore.Price("50"),
			},
		},
	})
	return f
}

// fillCart adds product A x1 and variant V of product B x2: subtotal 80.
func (f *fixture) fillCart(t *testing.T, uid string) {
	t.Helper()
	ctx := context.Background()
	_, err := f.carts.Add(ctx, uid, cart.AddItemRequest{ProductID: prodA, Quantity: 1})
	require.NoError(t, err)
	v := variantV
	_, err = f.carts.Add(ctx, uid, cart.AddItemRequest{ProductID: prodB, VariantID: &v, Quantity: 2})
	require.NoError(t, err)
}

func itemPrices(o *order.Order) map[string]decimal.Decimal {
	out := map[string]decimal.Decimal{}
	for _, it := range o.Items {
		out[it.ProductID] = it.Price
	}
	return out
}

func TestVerifyAndCreate_Scenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fillCart(t, userID)

	c, err := f.carts.Get(ctx, userID)
	require.NoError(t, err)
	assert.True(t, c.Subtotal.Equal(memstore.Price("80")))
	assert.Equal(t, 3, c.ItemCount)

	f.gw.set("ref-80", txn{Status: "success", Minor: 8000})
	o, err := f.svc.VerifyAndCreate(ctx, userID, "ref-80")
	require.NoError(t, err)

	assert.Equal(t, order.StatusProcessing, o.Status)
	assert.Equal(t, order.PaymentPaid, o.PaymentStatus)
	assert.Equal(t, order.FulfillmentUnfulfilled, o.FulfillmentStatus)
	assert.True(t, o.Subtotal.Equal(memstore.Price("80")))
	assert.True(t, o.Total.Equal(o.Subtotal.Add(o.ShippingTotal).Add(o.TaxTotal)))
	assert.True(t, o.Total.GreaterThanOrEqual(o.Subtotal))
	assert.Equal(t, "GHS", o.Currency)
	assert.Equal(t, "buyer@example.com", o.CustomerEmail)
	assert.True(t, strings.HasPrefix(o.OrderNumber, "ORD-"))

	require.Len(t, o.Items, 2)
	prices := itemPrices(o)
	assert.True(t, prices[prodA].Equal(memstore.Price("50")))
	assert.True(t, prices[prodB].Equal(memstore.Price("15")))
	for _, it := range o.Items {
		if it.ProductID == prodB {
			require.NotNil(t, it.VariantName)
			assert.Equal(t, "Size 42", *it.VariantName)
			assert.Equal(t, "SD-42", it.SKU)
			assert.True(t, it.Subtotal.Equal(memstore.Price("30")))
		}
	}

	c, err = f.carts.Get(ctx, userID)
	require.NoError(t, err)
	assert.True(t, c.Empty())
	assert.Contains(t, f.events.Types(), events.OrderCreated)
}

func TestVerifyAndCreate_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fillCart(t, userID)
	f.gw.set("ref-1", txn{Status: "success", Minor: 8000})

	first, err := f.svc.VerifyAndCreate(ctx, userID, "ref-1")
	require.NoError(t, err)
	second, err := f.svc.VerifyAndCreate(ctx, userID, "ref-1")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, f.store.Orders.Count())
	assert.Equal(t, int32(1), f.gw.verifies.Load(), "replay must not hit the gateway")
}

func TestVerifyAndCreate_ConcurrentRetries(t *testing.T) {
	f := newFixture(t)
	f.fillCart(t, userID)
	f.gw.set("ref-c", txn{Status: "success", Minor: 8000})

	const n = 8
	ids := make([]string, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			o, err := f.svc.VerifyAndCreate(context.Background(), userID, "ref-c")
			errs[i] = err
			if o != nil {
				ids[i] = o.ID
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
	}
	assert.Equal(t, 1, f.store.Orders.Count())
}

func TestVerifyAndCreate_DuplicateInsertReturnsExisting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fillCart(t, userID)
	f.gw.set("ref-race", txn{Status: "success", Minor: 8000})

	ref := "ref-race"
	winner := &order.Order{
		ID: "winner", OrderNumber: "ORD-W", UserID: userID, Status: order.StatusProcessing,
		PaymentReference: &ref, Subtotal: memstore.Price("80"), Total: memstore.Price("80"),
	}
	raced := false
	f.store.Orders.BeforeCreate = func(*order.Order) {
		if raced {
			return
		}
		raced = true
		require.NoError(t, f.store.Orders.Create(ctx, winner, nil))
	}

	o, err := f.svc.VerifyAndCreate(ctx, userID, ref)
	require.NoError(t, err)
	assert.Equal(t, "winner", o.ID)
	assert.Equal(t, 1, f.store.Orders.Count())
}

func TestVerifyAndCreate_VerificationFailed(t *testing.T) {
	cases := map[string]func(f *fixture){
		"failed status": func(f *fixture) { f.gw.set("ref-x", txn{Status: "failed", Minor: 8000}) },
		"unknown ref":   func(*fixture) {},
		"wrong currency": func(f *fixture) {
			f.gw.set("ref-x", txn{Status: "success", Minor: 8000, Currency: "NGN"})
		},
	}
	for name, setup := range cases {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			f.fillCart(t, userID)
			setup(f)

			o, err := f.svc.VerifyAndCreate(ctx, userID, "ref-x")
			assert.Nil(t, o)
			assert.ErrorIs(t, err, payment.ErrVerificationFailed)
			assert.Equal(t, 0, f.store.Orders.Count())

			c, err := f.carts.Get(ctx, userID)
			require.NoError(t, err)
			assert.Len(t, c.Items, 2)
			assert.Equal(t, 3, c.ItemCount)
		})
	}
}

func TestVerifyAndCreate_EmptyCartRecordsUnreconciled(t *testing.T) {
	f := newFixture(t)
	f.gw.set("ref-empty", txn{Status: "success", Minor: 4500})

	_, err := f.svc.VerifyAndCreate(context.Background(), userID, "ref-empty")
	require.ErrorIs(t, err, order.ErrEmptyCart)
	assert.Equal(t, 0, f.store.Orders.Count())

	un := f.store.Orders.Unreconciled()
	require.Len(t, un, 1)
	assert.Equal(t, "ref-empty", un[0].Reference)
	assert.True(t, un[0].Amount.Equal(memstore.Price("45")))
	assert.Contains(t, f.events.Types(), events.PaymentUnreconciled)
}

func TestVerifyAndCreate_PriceSnapshot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fillCart(t, userID)
	f.gw.set("ref-p", txn{Status: "success", Minor: 8000})

	o, err := f.svc.VerifyAndCreate(ctx, userID, "ref-p")
	require.NoError(t, err)

	f.store.Catalog.PutProduct(product.Product{ID: prodA, Name: "Kente Scarf", BasePrice: memstore.Price("99")})

	got, err := f.svc.Get(ctx, userID, o.ID)
	require.NoError(t, err)
	assert.True(t, itemPrices(got)[prodA].Equal(memstore.Price("50")))
}

func TestVerifyAndCreate_ReferenceOwnedByAnotherUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fillCart(t, userID)
	f.fillCart(t, otherID)
	f.gw.set("ref-o", txn{Status: "success", Minor: 8000})

	_, err := f.svc.VerifyAndCreate(ctx, userID, "ref-o")
	require.NoError(t, err)

	_, err = f.svc.VerifyAndCreate(ctx, otherID, "ref-o")
	assert.ErrorIs(t, err, order.ErrReferenceInUse)
	assert.ErrorIs(t, err, order.ErrValidation)

	f.gw.set("ref-meta", txn{Status: "success", Minor: 8000, Metadata: map[string]any{"user_id": userID}})
	_, err = f.svc.VerifyAndCreate(ctx, otherID, "ref-meta")
	assert.ErrorIs(t, err, order.ErrReferenceInUse)
	assert.Equal(t, 1, f.store.Orders.Count())
}

func TestVerifyAndCreate_MetadataTotalsAndUnderpayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fillCart(t, userID)
	f.gw.set("ref-m", txn{Status: "success", Minor: 8000, Metadata: map[string]any{"shipping": "25", "tax": "8"}})

	o, err := f.svc.VerifyAndCreate(ctx, userID, "ref-m")
	require.NoError(t, err)
	assert.True(t, o.ShippingTotal.Equal(memstore.Price("25")))
	assert.True(t, o.TaxTotal.Equal(memstore.Price("8")))
	assert.True(t, o.Total.Equal(memstore.Price("113")))
	assert.Equal(t, order.StatusOnHold, o.Status)
}

func TestCreateWithPayment_RecomputesTotals(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fillCart(t, userID)
	f.gw.set("ref-co", txn{Status: "success", Minor: 9800})

	lie := memstore.Price("1")
	o, err := f.svc.CreateWithPayment(ctx, userID, order.CreateOrderRequest{
		PaystackReference: "ref-co",
		ShippingMethod:    "Standard",
		ShippingAddress: order.ShippingAddressInput{
			FirstName: "Ama", LastName: "Mensah", Email: "ama@example.com",
			Address: "12 Oxford St", City: "Accra", Country: "GH",
		},
		Subtotal: &lie, Total: &lie,
	})
	require.NoError(t, err)

	assert.True(t, o.Subtotal.Equal(memstore.Price("80")))
	assert.True(t, o.ShippingTotal.Equal(memstore.Price("10")))
	assert.True(t, o.TaxTotal.Equal(memstore.Price("8")))
	assert.True(t, o.Total.Equal(memstore.Price("98")))
	assert.Equal(t, order.StatusProcessing, o.Status)
	assert.Equal(t, "standard", o.ShippingMethod)
	assert.Equal(t, "ama@example.com", o.CustomerEmail)

	require.NotNil(t, o.ShippingAddress)
	assert.Equal(t, "Ama Mensah", o.ShippingAddress.FullName)
	assert.Equal(t, 1, f.store.Addresses.Count())
	assert.Equal(t, o.ShippingAddressID, o.BillingAddressID)
}

func TestCreateWithPayment_LostRaceLeavesNoAddress(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fillCart(t, userID)
	f.gw.set("ref-lr", txn{Status: "success", Minor: 9800})

	ref := "ref-lr"
	winner := &order.Order{
		ID: "winner", OrderNumber: "ORD-W", UserID: userID, Status: order.StatusProcessing,
		PaymentReference: &ref, Subtotal: memstore.Price("80"), Total: memstore.Price("98"),
	}
	raced := false
	f.store.Orders.BeforeCreate = func(*order.Order) {
		if raced {
			return
		}
		raced = true
		require.NoError(t, f.store.Orders.Create(ctx, winner, nil))
	}

	o, err := f.svc.CreateWithPayment(ctx, userID, order.CreateOrderRequest{
		PaystackReference: ref,
		ShippingMethod:    "standard",
		ShippingAddress: order.ShippingAddressInput{
			FirstName: "Ama", Email: "ama@example.com", Address: "12 Oxford St", City: "Accra",
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "winner", o.ID)
	assert.Equal(t, 1, f.store.Orders.Count())
	assert.Equal(t, 0, f.store.Addresses.Count())
}

func TestCreateWithPayment_UnknownShippingMethod(t *testing.T) {
	f := newFixture(t)
	f.fillCart(t, userID)
	f.gw.set("ref-u", txn{Status: "success", Minor: 9800})

	_, err := f.svc.CreateWithPayment(context.Background(), userID, order.CreateOrderRequest{
		PaystackReference: "ref-u",
		ShippingMethod:    "teleport",
	})
	assert.ErrorIs(t, err, order.ErrValidation)
	assert.Equal(t, int32(0), f.gw.verifies.Load())
}

func TestVerifyAndCreate_CartClearFailureIsNotFatal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fillCart(t, userID)
	f.gw.set("ref-cc", txn{Status: "success", Minor: 8000})
	f.store.Carts.ClearErr = errors.New("connection reset")

	o, err := f.svc.VerifyAndCreate(ctx, userID, "ref-cc")
	require.NoError(t, err)
	assert.NotEmpty(t, o.ID)
	assert.Equal(t, 1, f.store.Orders.Count())
	assert.Contains(t, f.events.Types(), events.CartClearFailed)
}

func TestReconcileVerified(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.fillCart(t, userID)

	_, err := f.svc.ReconcileVerified(ctx, userID, &payment.Record{Reference: "wh-1", Status: "failed"})
	assert.ErrorIs(t, err, payment.ErrVerificationFailed)

	rec := &payment.Record{
		Reference: "wh-1",
		Status:    payment.StatusSuccess,
		Amount:    memstore.Price("115"),
		Currency:  "GHS",
		Metadata:  map[string]any{"user_id": userID, "shipping_method": "express"},
	}
	o, err := f.svc.ReconcileVerified(ctx, userID, rec)
	require.NoError(t, err)
	assert.True(t, o.Total.Equal(memstore.Price("113")))
	assert.Equal(t, order.StatusProcessing, o.Status)
	assert.Equal(t, "express", o.ShippingMethod)
	assert.Equal(t, int32(0), f.gw.verifies.Load())
}

func TestCreateManual(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ship := &address.Address{ID: "addr-1", UserID: userID, FullName: "Kofi", Street: "1 Ring Rd", City: "Kumasi"}
	require.NoError(t, f.store.Addresses.Create(ctx, ship))

	_, err := f.svc.CreateManual(ctx, userID, order.ManualOrderRequest{ShippingAddressID: "addr-1"})
	assert.ErrorIs(t, err, order.ErrEmptyCart)

	f.fillCart(t, userID)
	_, err = f.svc.CreateManual(ctx, userID, order.ManualOrderRequest{ShippingAddressID: "nope"})
	assert.ErrorIs(t, err, address.ErrNotFound)

	o, err := f.svc.CreateManual(ctx, userID, order.ManualOrderRequest{
		ShippingAddressID: "addr-1",
		CustomerNote:      "<b>call</b> on arrival",
	})
	require.NoError(t, err)
	assert.Equal(t, order.StatusPending, o.Status)
	assert.Equal(t, order.PaymentPending, o.PaymentStatus)
	assert.Nil(t, o.PaymentReference)
	assert.Equal(t, "call on arrival", o.CustomerNote)
	require.NotNil(t, o.BillingAddressID)
	assert.Equal(t, "addr-1", *o.BillingAddressID)
	assert.True(t, o.Total.Equal(memstore.Price("80")))

	c, err := f.carts.Get(ctx, userID)
	require.NoError(t, err)
	assert.True(t, c.Empty())
}

func TestCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.Addresses.Create(ctx, &address.Address{ID: "addr-1", UserID: userID}))

	newOrder := func() *order.Order {
		f.fillCart(t, userID)
		o, err := f.svc.CreateManual(ctx, userID, order.ManualOrderRequest{ShippingAddressID: "addr-1"})
		require.NoError(t, err)
		return o
	}

	pending := newOrder()
	_, err := f.svc.Cancel(ctx, otherID, pending.ID)
	assert.ErrorIs(t, err, order.ErrNotFound)

	got, err := f.svc.Cancel(ctx, userID, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusCancelled, got.Status)
	assert.Contains(t, f.events.Types(), events.OrderCancelled)

	_, err = f.svc.Cancel(ctx, userID, pending.ID)
	assert.ErrorIs(t, err, order.ErrNotCancellable)

	processing := newOrder()
	f.store.Orders.SetStatus(processing.ID, order.StatusProcessing)
	got, err = f.svc.Cancel(ctx, userID, processing.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusCancelled, got.Status)

	completed := newOrder()
	f.store.Orders.SetStatus(completed.ID, order.StatusCompleted)
	_, err = f.svc.Cancel(ctx, userID, completed.ID)
	assert.ErrorIs(t, err, order.ErrNotCancellable)
	got, err = f.svc.Get(ctx, userID, completed.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusCompleted, got.Status)

	_, err = f.svc.Cancel(ctx, userID, "missing")
	assert.ErrorIs(t, err, order.ErrNotFound)
}

func TestListAndGet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.fillCart(t, userID)
	f.gw.set("ref-a", txn{Status: "success", Minor: 8000})
	first, err := f.svc.VerifyAndCreate(ctx, userID, "ref-a")
	require.NoError(t, err)

	f.fillCart(t, userID)
	f.gw.set("ref-b", txn{Status: "success", Minor: 8000})
	second, err := f.svc.VerifyAndCreate(ctx, userID, "ref-b")
	require.NoError(t, err)

	list, err := f.svc.List(ctx, userID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID)
	assert.Equal(t, first.ID, list[1].ID)
	assert.Len(t, list[0].Items, 2)

	empty, err := f.svc.List(ctx, otherID)
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)

	_, err = f.svc.Get(ctx, otherID, first.ID)
	assert.ErrorIs(t, err, order.ErrNotFound)
}

func TestInitializePayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.InitializePayment(ctx, userID, order.InitializePaymentRequest{Email: "a@b.co"})
	assert.ErrorIs(t, err, order.ErrEmptyCart)

	f.fillCart(t, userID)
	got, err := f.svc.InitializePayment(ctx, userID, order.InitializePaymentRequest{Email: "a@b.co", ShippingMethod: "express"})
	require.NoError(t, err)
	assert.Equal(t, "ref-init", got.Reference)

	f.gw.mu.Lock()
	body := f.gw.lastInit
	f.gw.mu.Unlock()
	assert.EqualValues(t, 11300, body["amount"])
	md := body["metadata"].(map[string]any)
	assert.Equal(t, userID, md["user_id"])
	assert.Equal(t, "25", md["shipping"])
	assert.Equal(t, "8", md["tax"])
	assert.Equal(t, "express", md["shipping_method"])
}
