package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/MikeMC777/storefront/internal/logging"
)

const DefaultBaseURL = "https://api.paystack.co"

var tracer = otel.Tracer("github.com/MikeMC777/storefront/internal/payment")

type PaystackConfig struct {
	SecretKey string
	BaseURL   string
	Currency  string
	Timeout   time.Duration
	HTTP      *http.Client
	Logger    *zap.Logger
}

// Paystack talks to the Paystack transaction API. It is safe for concurrent use.
type Paystack struct {
	http      *http.Client
	baseURL   string
	secretKey string
	currency  string
	log       *zap.Logger
}

func NewPaystack(cfg PaystackConfig) (*Paystack, error) {
	if strings.TrimSpace(cfg.SecretKey) == "" {
		return nil, errors.New("paystack: secret key is required")
	}
	if _, err := MinorUnitScale(cfg.Currency); err != nil {
		return nil, err
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	client := cfg.HTTP
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &Paystack{
		http:      client,
		baseURL:   base,
		secretKey: cfg.SecretKey,
		currency:  strings.ToUpper(cfg.Currency),
		log:       logging.OrNop(cfg.Logger).Named("paystack"),
	}, nil
}

func (p *Paystack) Currency() string { return p.currency }

type envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type verifyData struct {
	Status    string          `json:"status"`
	Reference string          `json:"reference"`
	Amount    int64           `json:"amount"`
	Currency  string          `json:"currency"`
	Channel   string          `json:"channel"`
	PaidAt    *time.Time      `json:"paid_at"`
	Metadata  json.RawMessage `json:"metadata"`
	Customer  struct {
		Email string `json:"email"`
	} `json:"customer"`
}

// Verify asks the gateway whether reference settled. Every failure mode,
// including timeouts, is reported as ErrVerificationFailed.
func (p *Paystack) Verify(ctx context.Context, reference string) (*Record, error) {
	reference = strings.TrimSpace(reference)
	ctx, span := tracer.Start(ctx, "paystack.verify")
	defer span.End()
	span.SetAttributes(attribute.String("payment.reference", reference))

	if reference == "" {
		return nil, fmt.Errorf("%w: reference is required", ErrVerificationFailed)
	}

	p.log.Info("verifying payment", zap.String("reference", reference))
	env, err := p.do(ctx, http.MethodGet, "/transaction/verify/"+url.PathEscape(reference), nil)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		p.log.Warn("payment verification error", zap.String("reference", reference), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrVerificationFailed, err)
	}

	var data verifyData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, fmt.Errorf("%w: decode transaction: %v", ErrVerificationFailed, err)
	}
	rec, err := p.record(data)
	if err != nil {
		return nil, err
	}
	// the ledger and the orders table are keyed on the requested reference
	switch {
	case rec.Reference == "":
		rec.Reference = reference
	case rec.Reference != reference:
		span.SetStatus(codes.Error, "reference mismatch")
		p.log.Warn("gateway answered for another reference", zap.String("reference", reference), zap.String("got", rec.Reference))
		return nil, fmt.Errorf("%w: gateway returned reference %q", ErrVerificationFailed, rec.Reference)
	}
	if !rec.Succeeded() {
		span.SetStatus(codes.Error, "transaction status "+rec.Status)
		p.log.Warn("payment not successful", zap.String("reference", reference), zap.String("status", rec.Status))
		return nil, fmt.Errorf("%w: transaction status %q", ErrVerificationFailed, rec.Status)
	}
	if !strings.EqualFold(rec.Currency, p.currency) {
		return nil, fmt.Errorf("%w: currency %s, expected %s", ErrVerificationFailed, rec.Currency, p.currency)
	}

	p.log.Info("payment verified", zap.String("reference", reference), zap.String("amount", rec.Amount.String()))
	return rec, nil
}

// Initialize opens a server-initiated transaction for AmountMinor in the deployment currency.
func (p *Paystack) Initialize(ctx context.Context, req InitializeRequest) (*Initialization, error) {
	ctx, span := tracer.Start(ctx, "paystack.initialize")
	defer span.End()

	if strings.TrimSpace(req.Email) == "" || req.AmountMinor <= 0 {
		return nil, fmt.Errorf("%w: email and a positive amount are required", ErrInitializationFailed)
	}

	body := map[string]any{
		"email":    strings.TrimSpace(req.Email),
		"amount":   req.AmountMinor,
		"currency": p.currency,
	}
	if req.Reference != "" {
		body["reference"] = req.Reference
	}
	if req.CallbackURL != "" {
		body["callback_url"] = req.CallbackURL
	}
	if len(req.Metadata) > 0 {
		body["metadata"] = req.Metadata
	}

	p.log.Info("initializing payment", zap.Int64("amount_minor", req.AmountMinor), zap.String("reference", req.Reference))
	env, err := p.do(ctx, http.MethodPost, "/transaction/initialize", body)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		p.log.Warn("payment initialization error", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrInitializationFailed, err)
	}

	var data struct {
		AuthorizationURL string `json:"authorization_url"`
		AccessCode       string `json:"access_code"`
		Reference        string `json:"reference"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, fmt.Errorf("%w: decode initialization: %v", ErrInitializationFailed, err)
	}
	span.SetAttributes(attribute.String("payment.reference", data.Reference))
	return &Initialization{
		AuthorizationURL: data.AuthorizationURL,
		AccessCode:       data.AccessCode,
		Reference:        data.Reference,
	}, nil
}

func (p *Paystack) do(ctx context.Context, method, path string, body any) (*envelope, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+p.secretKey)
	req.Header.Set("Content-Type", "application/json")

	res, err := p.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	var env envelope
	if err := json.NewDecoder(io.LimitReader(res.Body, 1<<20)).Decode(&env); err != nil {
		return nil, fmt.Errorf("gateway %s: decode: %w", res.Status, err)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, fmt.Errorf("gateway %s: %s", res.Status, env.Message)
	}
	if !env.Status {
		return nil, fmt.Errorf("gateway rejected request: %s", env.Message)
	}
	return &env, nil
}

func (p *Paystack) record(d verifyData) (*Record, error) {
	cur := strings.ToUpper(d.Currency)
	if cur == "" {
		cur = p.currency
	}
	amount, err := FromMinor(d.Amount, cur)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVerificationFailed, err)
	}
	return &Record{
		Reference:     d.Reference,
		Status:        d.Status,
		Amount:        amount,
		AmountMinor:   d.Amount,
		Currency:      cur,
		CustomerEmail: d.Customer.Email,
		Channel:       d.Channel,
		PaidAt:        d.PaidAt,
		Metadata:      decodeMetadata(d.Metadata),
	}, nil
}

// decodeMetadata accepts the object form and the JSON-in-a-string form Paystack
// returns for metadata set by older checkout widgets.
func decodeMetadata(raw json.RawMessage) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err == nil {
		return m
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil && s != "" {
		if err := json.Unmarshal([]byte(s), &m); err == nil {
			return m
		}
	}
	return nil
}
