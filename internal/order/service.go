package order

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/MikeMC777/storefront/internal/address"
	"github.com/MikeMC777/storefront/internal/cart"
	"github.com/MikeMC777/storefront/internal/events"
	"github.com/MikeMC777/storefront/internal/lock"
	"github.com/MikeMC777/storefront/internal/logging"
	"github.com/MikeMC777/storefront/internal/payment"
	"github.com/MikeMC777/storefront/internal/product"
)

var (
	ErrValidation     = errors.New("invalid order request")
	ErrEmptyCart      = errors.New("cart is empty")
	ErrNotCancellable = errors.New("order cannot be cancelled in its current status")
	ErrReferenceInUse = fmt.Errorf("%w: payment reference belongs to another account", ErrValidation)
)

var tracer = otel.Tracer("github.com/MikeMC777/storefront/internal/order")

const (
	defaultCartClearTimeout = 3 * time.Second
	referenceLockTTL        = 30 * time.Second
	referenceLockWait       = 3 * time.Second
	referenceLockPoll       = 100 * time.Millisecond
)

type Deps struct {
	Orders    Repository
	Carts     Carts
	Addresses address.Repository
	Gateway   Gateway
	Events    events.Publisher
	// Locker is optional; without it the payment_reference constraint alone prevents duplicates.
	Locker           lock.Locker
	Pricing          Pricing
	Logger           *zap.Logger
	CartClearTimeout time.Duration
	Now              func() time.Time
}

type Service struct {
	orders    Repository
	carts     Carts
	addresses address.Repository
	gateway   Gateway
	events    events.Publisher
	locker    lock.Locker
	pricing   Pricing
	log       *zap.Logger
	sanitize  *bluemonday.Policy
	clearTO   time.Duration
	now       func() time.Time
	newID     func() string
}

func NewService(d Deps) *Service {
	s := &Service{
		orders:    d.Orders,
		carts:     d.Carts,
		addresses: d.Addresses,
		gateway:   d.Gateway,
		events:    d.Events,
		locker:    d.Locker,
		pricing:   d.Pricing,
		log:       logging.OrNop(d.Logger).Named("order"),
		sanitize:  bluemonday.StrictPolicy(),
		clearTO:   d.CartClearTimeout,
		now:       d.Now,
		newID:     uuid.NewString,
	}
	if s.events == nil {
		s.events = events.NewLogPublisher(s.log)
	}
	if s.clearTO <= 0 {
		s.clearTO = defaultCartClearTimeout
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// reconcileInput describes one attempt to turn a payment reference into an order.
type reconcileInput struct {
	userID    string
	reference string
	// record is set when the payment was already verified, e.g. by a signed webhook.
	record *payment.Record
	// useRates prices shipping and tax from configuration when the gateway metadata has none.
	useRates       bool
	shippingMethod string
	newAddress     *address.Address
	customerEmail  string
	claimed        *Totals
}

// VerifyAndCreate reconciles a client-initiated payment against the user's cart.
// Shipping and tax come from the transaction metadata, or are zero.
func (s *Service) VerifyAndCreate(ctx context.Context, userID, reference string) (*Order, error) {
	return s.reconcile(ctx, reconcileInput{userID: userID, reference: reference})
}

// CreateWithPayment is checkout with a shipping address and method. Client totals
// are compared against the server's and never persisted.
func (s *Service) CreateWithPayment(ctx context.Context, userID string, req CreateOrderRequest) (*Order, error) {
	method, err := s.pricing.ShippingMethod(req.ShippingMethod)
	if err != nil {
		return nil, err
	}
	in := reconcileInput{
		userID:         userID,
		reference:      req.PaystackReference,
		useRates:       true,
		shippingMethod: method,
		newAddress:     s.addressFromInput(userID, req.ShippingAddress),
		customerEmail:  strings.TrimSpace(req.ShippingAddress.Email),
	}
	if req.Subtotal != nil || req.Shipping != nil || req.Tax != nil || req.Total != nil {
		in.claimed = &Totals{
			Subtotal: orZero(req.Subtotal),
			Shipping: orZero(req.Shipping),
			Tax:      orZero(req.Tax),
			Total:    orZero(req.Total),
		}
	}
	return s.reconcile(ctx, in)
}

// ReconcileVerified creates the order for a payment the gateway has already confirmed.
func (s *Service) ReconcileVerified(ctx context.Context, userID string, rec *payment.Record) (*Order, error) {
	if rec == nil || !rec.Succeeded() {
		return nil, payment.ErrVerificationFailed
	}
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: payment %s carries no user", ErrValidation, rec.Reference)
	}
	method, err := s.pricing.ShippingMethod(metadataString(rec.Metadata, metaShippingMethod))
	if err != nil {
		method = ""
	}
	return s.reconcile(ctx, reconcileInput{
		userID:         userID,
		reference:      rec.Reference,
		record:         rec,
		useRates:       true,
		shippingMethod: method,
	})
}

func (s *Service) reconcile(ctx context.Context, in reconcileInput) (*Order, error) {
	ref := strings.TrimSpace(in.reference)
	ctx, span := tracer.Start(ctx, "order.reconcile")
	defer span.End()
	span.SetAttributes(attribute.String("payment.reference", ref), attribute.String("user.id", in.userID))

	if ref == "" {
		return nil, fmt.Errorf("%w: payment reference is required", ErrValidation)
	}
	log := s.log.With(zap.String("reference", ref), zap.String("user_id", in.userID))

	if s.locker != nil {
		unlock, err := lock.Acquire(ctx, s.locker, "order:ref:"+ref, referenceLockTTL, referenceLockWait, referenceLockPoll)
		if err != nil {
			log.Debug("reference lock unavailable, continuing", zap.Error(err))
		}
		defer unlock()
	}

	if o, err := s.existing(ctx, in.userID, ref); err != nil || o != nil {
		if o != nil {
			log.Info("order already exists for reference", zap.String("order_id", o.ID))
		}
		return o, err
	}

	rec := in.record
	if rec == nil {
		var err error
		if rec, err = s.gateway.Verify(ctx, ref); err != nil {
			span.SetStatus(codes.Error, "verification failed")
			return nil, err
		}
	}
	if owner := metadataString(rec.Metadata, metaUserID); owner != "" && owner != in.userID {
		log.Warn("payment metadata names another user", zap.String("owner", owner))
		return nil, ErrReferenceInUse
	}

	c, err := s.carts.Get(ctx, in.userID)
	if err != nil {
		return nil, fmt.Errorf("order: cart snapshot: %w", err)
	}
	if c.Empty() {
		s.recordUnreconciled(ctx, in.userID, rec, "cart empty at reconciliation")
		return nil, ErrEmptyCart
	}

	totals, ok := metadataTotals(c.Subtotal, rec.Metadata)
	if !ok {
		if in.useRates {
			if totals, err = s.pricing.Quote(c.Subtotal, in.shippingMethod); err != nil {
				return nil, err
			}
		} else {
			totals = newTotals(c.Subtotal, decimal.Zero, decimal.Zero)
		}
	}
	if in.claimed != nil && !in.claimed.Total.Equal(totals.Total) {
		log.Warn("client totals differ from server totals",
			zap.String("client_total", in.claimed.Total.String()),
			zap.String("server_total", totals.Total.String()))
	}

	status := StatusProcessing
	if rec.Amount.LessThan(totals.Total) {
		status = StatusOnHold
		log.Warn("paid amount below order total, placing order on hold",
			zap.String("paid", rec.Amount.String()),
			zap.String("total", totals.Total.String()))
	}

	currency := rec.Currency
	if currency == "" && s.gateway != nil {
		currency = s.gateway.Currency()
	}
	email := in.customerEmail
	if email == "" {
		email = rec.CustomerEmail
	}

	o := &Order{
		ID:                s.newID(),
		OrderNumber:       NewOrderNumber(s.now()),
		UserID:            in.userID,
		CustomerEmail:     email,
		Status:            status,
		PaymentStatus:     PaymentPaid,
		FulfillmentStatus: FulfillmentUnfulfilled,
		Subtotal:          totals.Subtotal,
		ShippingTotal:     totals.Shipping,
		TaxTotal:          totals.Tax,
		Total:             totals.Total,
		Currency:          currency,
		PaymentReference:  &ref,
		PaymentMethod:     PaymentMethodPaystack,
		ShippingMethod:    in.shippingMethod,
		Items:             s.snapshot(c),
	}

	if in.newAddress != nil {
		o.ShippingAddressID = &in.newAddress.ID
		o.BillingAddressID = &in.newAddress.ID
	}

	if err := s.orders.Create(ctx, o, in.newAddress); err != nil {
		if errors.Is(err, ErrDuplicateReference) {
			log.Info("lost race on payment reference, returning existing order")
			existing, err := s.existing(ctx, in.userID, ref)
			if err == nil && existing == nil {
				err = fmt.Errorf("order: reference %s reported duplicate but not found", ref)
			}
			return existing, err
		}
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("order: persist: %w", err)
	}
	log.Info("order created",
		zap.String("order_id", o.ID),
		zap.String("order_number", o.OrderNumber),
		zap.String("status", o.Status),
		zap.String("total", o.Total.String()))

	s.clearCart(ctx, o)
	s.publish(ctx, events.OrderCreated, o.ID, o)
	s.attachAddresses(ctx, o)
	return o, nil
}

// CreateManual places an order for offline payment from a saved address.
func (s *Service) CreateManual(ctx context.Context, userID string, req ManualOrderRequest) (*Order, error) {
	shipID := strings.TrimSpace(req.ShippingAddressID)
	if shipID == "" {
		return nil, fmt.Errorf("%w: shippingAddressId is required", ErrValidation)
	}
	ship, err := s.addresses.GetForUser(ctx, userID, shipID)
	if err != nil {
		return nil, err
	}
	bill := ship
	if req.BillingAddressID != nil && strings.TrimSpace(*req.BillingAddressID) != "" {
		if bill, err = s.addresses.GetForUser(ctx, userID, strings.TrimSpace(*req.BillingAddressID)); err != nil {
			return nil, err
		}
	}

	c, err := s.carts.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("order: cart snapshot: %w", err)
	}
	if c.Empty() {
		return nil, ErrEmptyCart
	}

	totals := newTotals(c.Subtotal, decimal.Zero, decimal.Zero)
	currency := ""
	if s.gateway != nil {
		currency = s.gateway.Currency()
	}
	o := &Order{
		ID:                s.newID(),
		OrderNumber:       NewOrderNumber(s.now()),
		UserID:            userID,
		CustomerEmail:     ship.Email,
		Status:            StatusPending,
		PaymentStatus:     PaymentPending,
		FulfillmentStatus: FulfillmentUnfulfilled,
		Subtotal:          totals.Subtotal,
		ShippingTotal:     totals.Shipping,
		TaxTotal:          totals.Tax,
		Total:             totals.Total,
		Currency:          currency,
		PaymentMethod:     PaymentMethodManual,
		ShippingAddressID: &ship.ID,
		BillingAddressID:  &bill.ID,
		CustomerNote:      strings.TrimSpace(s.sanitize.Sanitize(req.CustomerNote)),
		Items:             s.snapshot(c),
	}
	if err := s.orders.Create(ctx, o, nil); err != nil {
		return nil, fmt.Errorf("order: persist: %w", err)
	}
	s.log.Info("manual order created", zap.String("order_id", o.ID), zap.String("user_id", userID))

	s.clearCart(ctx, o)
	s.publish(ctx, events.OrderCreated, o.ID, o)
	o.ShippingAddress, o.BillingAddress = ship, bill
	return o, nil
}

// InitializePayment opens a gateway transaction for the user's cart, priced on the server.
func (s *Service) InitializePayment(ctx context.Context, userID string, req InitializePaymentRequest) (*payment.Initialization, error) {
	method, err := s.pricing.ShippingMethod(req.ShippingMethod)
	if err != nil {
		return nil, err
	}
	c, err := s.carts.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("order: cart snapshot: %w", err)
	}
	if c.Empty() {
		return nil, ErrEmptyCart
	}
	totals, err := s.pricing.Quote(c.Subtotal, method)
	if err != nil {
		return nil, err
	}
	minor, err := payment.ToMinor(totals.Total, s.gateway.Currency())
	if err != nil {
		return nil, err
	}
	return s.gateway.Initialize(ctx, payment.InitializeRequest{
		Email:       req.Email,
		AmountMinor: minor,
		CallbackURL: req.CallbackURL,
		Metadata: map[string]any{
			metaUserID:         userID,
			metaShipping:       totals.Shipping.String(),
			metaTax:            totals.Tax.String(),
			metaShippingMethod: method,
		},
	})
}

func (s *Service) List(ctx context.Context, userID string) ([]Order, error) {
	out, err := s.orders.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("order: list %s: %w", userID, err)
	}
	if out == nil {
		out = []Order{}
	}
	for i := range out {
		s.attachAddresses(ctx, &out[i])
	}
	return out, nil
}

// Get returns the order if userID owns it.
func (s *Service) Get(ctx context.Context, userID, id string) (*Order, error) {
	o, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.UserID != userID {
		return nil, ErrNotFound
	}
	s.attachAddresses(ctx, o)
	return o, nil
}

// Cancel moves a PENDING or PROCESSING order to CANCELLED. There is no way back.
func (s *Service) Cancel(ctx context.Context, userID, id string) (*Order, error) {
	o, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if !slices.Contains(cancellable, o.Status) {
		return nil, ErrNotCancellable
	}
	ok, err := s.orders.TransitionStatus(ctx, id, cancellable, StatusCancelled)
	if err != nil {
		return nil, fmt.Errorf("order: cancel %s: %w", id, err)
	}
	if !ok {
		return nil, ErrNotCancellable
	}
	s.log.Info("order cancelled", zap.String("order_id", id), zap.String("user_id", userID))

	o, err = s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, events.OrderCancelled, o.ID, o)
	return o, nil
}

// existing returns the order for reference, nil if there is none, or
// ErrReferenceInUse if another user owns it.
func (s *Service) existing(ctx context.Context, userID, ref string) (*Order, error) {
	o, err := s.orders.GetByPaymentReference(ctx, ref)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("order: lookup reference: %w", err)
	}
	if o.UserID != userID {
		return nil, ErrReferenceInUse
	}
	s.attachAddresses(ctx, o)
	return o, nil
}

func (s *Service) snapshot(c *cart.Cart) []Item {
	items := make([]Item, 0, len(c.Items))
	for _, l := range c.Items {
		it := Item{
			ID:          s.newID(),
			ProductID:   l.ProductID,
			VariantID:   l.VariantID,
			ProductName: l.Product.Name,
			SKU:         product.SKUFor(&l.Product, l.Variant),
			Quantity:    l.Quantity,
			Price:       l.UnitPrice,
			Subtotal:    l.LineTotal,
		}
		if l.Variant != nil {
			name := l.Variant.Name
			it.VariantName = &name
		}
		items = append(items, it)
	}
	return items
}

func (s *Service) clearCart(ctx context.Context, o *Order) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.clearTO)
	defer cancel()
	if err := s.carts.Clear(ctx, o.UserID); err != nil {
		s.log.Warn("cart clear failed after order creation",
			zap.String("order_id", o.ID), zap.String("user_id", o.UserID), zap.Error(err))
		s.publish(ctx, events.CartClearFailed, o.UserID, map[string]string{"orderId": o.ID, "userId": o.UserID})
	}
}

func (s *Service) recordUnreconciled(ctx context.Context, userID string, rec *payment.Record, reason string) {
	p := &UnreconciledPayment{
		Reference: rec.Reference,
		UserID:    userID,
		Amount:    rec.Amount,
		Currency:  rec.Currency,
		Reason:    reason,
		CreatedAt: s.now().UTC(),
	}
	s.log.Warn("verified payment has no order",
		zap.String("reference", p.Reference), zap.String("user_id", userID),
		zap.String("amount", p.Amount.String()), zap.String("reason", reason))
	if err := s.orders.RecordUnreconciled(ctx, p); err != nil {
		s.log.Error("record unreconciled payment", zap.String("reference", p.Reference), zap.Error(err))
	}
	s.publish(ctx, events.PaymentUnreconciled, p.Reference, p)
}

func (s *Service) attachAddresses(ctx context.Context, o *Order) {
	load := func(id *string) *address.Address {
		if id == nil || s.addresses == nil {
			return nil
		}
		a, err := s.addresses.GetForUser(ctx, o.UserID, *id)
		if err != nil {
			if !errors.Is(err, address.ErrNotFound) {
				s.log.Warn("load order address", zap.String("order_id", o.ID), zap.Error(err))
			}
			return nil
		}
		return a
	}
	o.ShippingAddress = load(o.ShippingAddressID)
	if o.BillingAddressID != nil && o.ShippingAddressID != nil && *o.BillingAddressID == *o.ShippingAddressID {
		o.BillingAddress = o.ShippingAddress
	} else {
		o.BillingAddress = load(o.BillingAddressID)
	}
}

func (s *Service) publish(ctx context.Context, typ, key string, payload any) {
	ev := events.Event{Type: typ, Key: key, OccurredAt: s.now().UTC(), Payload: payload}
	if err := s.events.Publish(ctx, ev); err != nil {
		s.log.Warn("publish event", zap.String("type", typ), zap.String("key", key), zap.Error(err))
	}
}

func (s *Service) addressFromInput(userID string, in ShippingAddressInput) *address.Address {
	clean := func(v string) string { return strings.TrimSpace(s.sanitize.Sanitize(v)) }
	name := strings.TrimSpace(clean(in.FirstName) + " " + clean(in.LastName))
	return &address.Address{
		ID:         s.newID(),
		UserID:     userID,
		FullName:   name,
		Street:     clean(in.Address),
		City:       clean(in.City),
		State:      clean(in.State),
		Country:    clean(in.Country),
		PostalCode: clean(in.ZipCode),
		Phone:      clean(in.Phone),
		Email:      strings.TrimSpace(in.Email),
	}
}

func orZero(d *decimal.Decimal) decimal.Decimal {
	if d == nil {
		return decimal.Zero
	}
	return *d
}
