// Package memstore holds in-memory implementations of the repositories.
// It backs STORAGE_DRIVER=memory and the service tests.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/MikeMC777/storefront/internal/address"
	"github.com/MikeMC777/storefront/internal/cart"
	"github.com/MikeMC777/storefront/internal/order"
	"github.com/MikeMC777/storefront/internal/product"
	"github.com/MikeMC777/storefront/internal/user"
)

type Store struct {
	Catalog   *Catalog
	Carts     *Carts
	Orders    *Orders
	Addresses *Addresses
	Users     *Users
}

func New() *Store {
	cat := &Catalog{products: map[string]product.Product{}, variants: map[string]product.Variant{}}
	addrs := &Addresses{byID: map[string]address.Address{}}
	return &Store{
		Catalog: cat,
		Carts:   &Carts{catalog: cat, items: map[string]cart.Item{}},
		Orders: &Orders{
			addresses:    addrs,
			byID:         map[string]order.Order{},
			byRef:        map[string]string{},
			unreconciled: map[string]order.UnreconciledPayment{},
		},
		Addresses: addrs,
		Users:     &Users{byID: map[string]user.User{}},
	}
}

// ---------- catalog ----------

type Catalog struct {
	mu       sync.RWMutex
	products map[string]product.Product
	variants map[string]product.Variant
}

func (c *Catalog) PutProduct(p product.Product) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.products[p.ID] = p
}

func (c *Catalog) PutVariant(v product.Variant) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.variants[v.ID] = v
}

func (c *Catalog) GetByID(_ context.Context, id string) (*product.Product, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.products[id]
	if !ok {
		return nil, product.ErrNotFound
	}
	return &p, nil
}

func (c *Catalog) GetVariant(_ context.Context, id string) (*product.Variant, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.variants[id]
	if !ok {
		return nil, product.ErrVariantNotFound
	}
	return &v, nil
}

// ---------- cart ----------

type Carts struct {
	mu      sync.Mutex
	catalog *Catalog
	items   map[string]cart.Item
	// ClearErr, when set, is returned by Clear without touching the cart.
	ClearErr error
}

func (r *Carts) Lines(_ context.Context, userID string) ([]cart.Line, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.catalog.mu.RLock()
	defer r.catalog.mu.RUnlock()

	var out []cart.Line
	for _, it := range r.items {
		if it.UserID != userID {
			continue
		}
		p, ok := r.catalog.products[it.ProductID]
		if !ok {
			continue
		}
		l := cart.Line{Item: it, Product: p}
		if it.VariantID != nil {
			if v, ok := r.catalog.variants[*it.VariantID]; ok {
				l.Variant = &v
			}
		}
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *Carts) Upsert(_ context.Context, it *cart.Item) (*cart.Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	for id, cur := range r.items {
		if cur.UserID == it.UserID && cur.ProductID == it.ProductID && variantKey(cur.VariantID) == variantKey(it.VariantID) {
			cur.Quantity += it.Quantity
			cur.UpdatedAt = now
			r.items[id] = cur
			return &cur, nil
		}
	}
	cp := *it
	cp.CreatedAt, cp.UpdatedAt = now, now
	r.items[cp.ID] = cp
	return &cp, nil
}

func (r *Carts) SetQuantity(_ context.Context, userID, itemID string, quantity int) (*cart.Item, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.items[itemID]
	if !ok || cur.UserID != userID {
		return nil, cart.ErrItemNotFound
	}
	cur.Quantity = quantity
	cur.UpdatedAt = time.Now().UTC()
	r.items[itemID] = cur
	return &cur, nil
}

func (r *Carts) Delete(_ context.Context, userID, itemID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.items[itemID]
	if !ok || cur.UserID != userID {
		return false, nil
	}
	delete(r.items, itemID)
	return true, nil
}

func (r *Carts) Clear(_ context.Context, userID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ClearErr != nil {
		return 0, r.ClearErr
	}
	var n int64
	for id, it := range r.items {
		if it.UserID == userID {
			delete(r.items, id)
			n++
		}
	}
	return n, nil
}

func variantKey(id *string) string {
	if id == nil {
		return ""
	}
	return *id
}

// ---------- addresses ----------

type Addresses struct {
	mu   sync.RWMutex
	byID map[string]address.Address
}

func (r *Addresses) Create(_ context.Context, a *address.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a.CreatedAt = time.Now().UTC()
	r.byID[a.ID] = *a
	return nil
}

func (r *Addresses) GetForUser(_ context.Context, userID, id string) (*address.Address, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.byID[id]
	if !ok || a.UserID != userID {
		return nil, address.ErrNotFound
	}
	return &a, nil
}

func (r *Addresses) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// ---------- users ----------

type Users struct {
	mu   sync.RWMutex
	byID map[string]user.User
}

func (r *Users) CreateIfAbsent(_ context.Context, u *user.User) (*user.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.byID[u.ID]; ok {
		return &cur, nil
	}
	cp := *u
	cp.CreatedAt = time.Now().UTC()
	cp.UpdatedAt = cp.CreatedAt
	r.byID[cp.ID] = cp
	return &cp, nil
}

func (r *Users) GetByID(_ context.Context, id string) (*user.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.byID[id]
	if !ok {
		return nil, user.ErrNotFound
	}
	return &u, nil
}

// ---------- orders ----------

type Orders struct {
	addresses    *Addresses
	mu           sync.RWMutex
	byID         map[string]order.Order
	byRef        map[string]string
	unreconciled map[string]order.UnreconciledPayment
	seq          int64
	// BeforeCreate runs at the start of Create, outside the lock.
	BeforeCreate func(o *order.Order)
}

func (r *Orders) Create(ctx context.Context, o *order.Order, shipping *address.Address) error {
	if r.BeforeCreate != nil {
		r.BeforeCreate(o)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if o.PaymentReference != nil {
		if _, taken := r.byRef[*o.PaymentReference]; taken {
			return order.ErrDuplicateReference
		}
	}
	// the address is written only once the order is sure to be stored
	if shipping != nil {
		if err := r.addresses.Create(ctx, shipping); err != nil {
			return err
		}
	}
	// strictly increasing timestamps keep newest-first ordering stable
	r.seq++
	now := time.Now().UTC().Add(time.Duration(r.seq))
	o.CreatedAt, o.UpdatedAt = now, now
	for i := range o.Items {
		o.Items[i].OrderID = o.ID
	}
	r.byID[o.ID] = cloneOrder(*o)
	if o.PaymentReference != nil {
		r.byRef[*o.PaymentReference] = o.ID
	}
	return nil
}

func (r *Orders) GetByID(_ context.Context, id string) (*order.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.byID[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	o = cloneOrder(o)
	return &o, nil
}

func (r *Orders) GetByPaymentReference(ctx context.Context, reference string) (*order.Order, error) {
	r.mu.RLock()
	id, ok := r.byRef[reference]
	r.mu.RUnlock()
	if !ok {
		return nil, order.ErrNotFound
	}
	return r.GetByID(ctx, id)
}

func (r *Orders) ListByUser(_ context.Context, userID string) ([]order.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []order.Order
	for _, o := range r.byID {
		if o.UserID == userID {
			out = append(out, cloneOrder(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *Orders) TransitionStatus(_ context.Context, id string, from []string, to string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.byID[id]
	if !ok {
		return false, nil
	}
	for _, s := range from {
		if o.Status == s {
			o.Status = to
			o.UpdatedAt = time.Now().UTC()
			r.byID[id] = o
			return true, nil
		}
	}
	return false, nil
}

func (r *Orders) RecordUnreconciled(_ context.Context, p *order.UnreconciledPayment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.unreconciled[p.Reference]; !ok {
		r.unreconciled[p.Reference] = *p
	}
	return nil
}

// SetStatus overwrites an order's status.
func (r *Orders) SetStatus(id, status string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if o, ok := r.byID[id]; ok {
		o.Status = status
		r.byID[id] = o
	}
}

func (r *Orders) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

func (r *Orders) Unreconciled() []order.UnreconciledPayment {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]order.UnreconciledPayment, 0, len(r.unreconciled))
	for _, p := range r.unreconciled {
		out = append(out, p)
	}
	return out
}

func cloneOrder(o order.Order) order.Order {
	o.Items = append([]order.Item(nil), o.Items...)
	o.ShippingAddress, o.BillingAddress = nil, nil
	return o
}

// Price is a shorthand for test fixtures.
func Price(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// PriceRef is Price returning a pointer, for optional sale prices.
func PriceRef(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

// SeedDemo loads a small catalog so the memory driver is usable for local runs.
func (s *Store) SeedDemo() {
	s.Catalog.PutProduct(product.Product{ID: "demo-kente-scarf", Name: "Kente Scarf", SKU: "KS-01", BasePrice: Price("50")})
	s.Catalog.PutProduct(product.Product{ID: "demo-leather-sandals", Name: "Leather Sandals", SKU: "LS-01", BasePrice: Price("30")})
	s.Catalog.PutVariant(product.Variant{ID: "demo-leather-sandals-42", ProductID: "demo-leather-sandals", Name: "Size 42", SKU: "LS-01-42", Price: Price("20"), SalePrice: PriceRef("15")})
	s.Catalog.PutProduct(product.Product{ID: "demo-shea-butter", Name: "Shea Butter 250ml", SKU: "SB-250", BasePrice: Price("12.50"), SalePrice: PriceRef("9.99")})
}
