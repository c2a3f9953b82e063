package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/MikeMC777/storefront/internal/address"
)

var (
	ErrNotFound = errors.New("order not found")
	// ErrDuplicateReference reports an insert that lost the race on orders.payment_reference.
	ErrDuplicateReference = errors.New("payment reference already has an order")
)

const paymentReferenceConstraint = "orders_payment_reference_key"

type Repository interface {
	// Create inserts the order and its items atomically. A non-nil shipping
	// address is new and is inserted in the same transaction.
	Create(ctx context.Context, o *Order, shipping *address.Address) error
	GetByID(ctx context.Context, id string) (*Order, error)
	GetByPaymentReference(ctx context.Context, reference string) (*Order, error)
	// ListByUser returns the user's orders newest first, items included.
	ListByUser(ctx context.Context, userID string) ([]Order, error)
	// TransitionStatus moves the order to `to` only if its status is one of from.
	TransitionStatus(ctx context.Context, id string, from []string, to string) (bool, error)
	RecordUnreconciled(ctx context.Context, p *UnreconciledPayment) error
}

type PGRepo struct{ db *pgxpool.Pool }

func NewPGRepo(db *pgxpool.Pool) *PGRepo { return &PGRepo{db: db} }

const orderColumns = `id, order_number, user_id, customer_email, status, payment_status, fulfillment_status,
	subtotal::text, shipping_total::text, tax_total::text, total::text, currency,
	payment_reference, payment_method, shipping_method, shipping_address_id, billing_address_id,
	customer_note, created_at, updated_at`

func (r *PGRepo) Create(ctx context.Context, o *Order, shipping *address.Address) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if shipping != nil {
		if err := tx.QueryRow(ctx, `
			INSERT INTO addresses (id, user_id, full_name, street, city, state, country, postal_code, phone, email, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,NOW())
			RETURNING created_at
		`, shipping.ID, shipping.UserID, shipping.FullName, shipping.Street, shipping.City, shipping.State,
			shipping.Country, shipping.PostalCode, shipping.Phone, shipping.Email).Scan(&shipping.CreatedAt); err != nil {
			return fmt.Errorf("shipping address: %w", err)
		}
	}

	if err := tx.QueryRow(ctx, `
		INSERT INTO orders (id, order_number, user_id, customer_email, status, payment_status, fulfillment_status,
			subtotal, shipping_total, tax_total, total, currency, payment_reference, payment_method, shipping_method,
			shipping_address_id, billing_address_id, customer_note, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,NOW(),NOW())
		RETURNING created_at, updated_at
	`, o.ID, o.OrderNumber, o.UserID, o.CustomerEmail, o.Status, o.PaymentStatus, o.FulfillmentStatus,
		o.Subtotal.String(), o.ShippingTotal.String(), o.TaxTotal.String(), o.Total.String(), o.Currency,
		o.PaymentReference, o.PaymentMethod, o.ShippingMethod, o.ShippingAddressID, o.BillingAddressID,
		o.CustomerNote,
	).Scan(&o.CreatedAt, &o.UpdatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == paymentReferenceConstraint {
			return ErrDuplicateReference
		}
		return err
	}

	for i := range o.Items {
		it := &o.Items[i]
		it.OrderID = o.ID
		if _, err := tx.Exec(ctx, `
			INSERT INTO order_items (id, order_id, product_id, variant_id, product_name, variant_name, sku, quantity, price, subtotal)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		`, it.ID, o.ID, it.ProductID, it.VariantID, it.ProductName, it.VariantName, it.SKU, it.Quantity,
			it.Price.String(), it.Subtotal.String()); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (r *PGRepo) GetByID(ctx context.Context, id string) (*Order, error) {
	return r.getOne(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
}

func (r *PGRepo) GetByPaymentReference(ctx context.Context, reference string) (*Order, error) {
	return r.getOne(ctx, `SELECT `+orderColumns+` FROM orders WHERE payment_reference = $1`, reference)
}

func (r *PGRepo) getOne(ctx context.Context, query string, arg string) (*Order, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	o, err := scanOrder(r.db.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	items, err := r.items(ctx, []string{o.ID})
	if err != nil {
		return nil, err
	}
	o.Items = items[o.ID]
	return o, nil
}

func (r *PGRepo) ListByUser(ctx context.Context, userID string) ([]Order, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rows, err := r.db.Query(ctx, `
		SELECT `+orderColumns+`
		FROM orders WHERE user_id = $1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var (
		out []Order
		ids []string
	)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
		ids = append(ids, o.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return out, nil
	}

	items, err := r.items(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Items = items[out[i].ID]
	}
	return out, nil
}

func (r *PGRepo) TransitionStatus(ctx context.Context, id string, from []string, to string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tag, err := r.db.Exec(ctx, `
		UPDATE orders
		SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status = ANY($3)
	`, id, to, from)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *PGRepo) RecordUnreconciled(ctx context.Context, p *UnreconciledPayment) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := r.db.Exec(ctx, `
		INSERT INTO unreconciled_payments (reference, user_id, amount, currency, reason, created_at)
		VALUES ($1,$2,$3,$4,$5,NOW())
		ON CONFLICT (reference) DO NOTHING
	`, p.Reference, p.UserID, p.Amount.String(), p.Currency, p.Reason)
	return err
}

func (r *PGRepo) items(ctx context.Context, orderIDs []string) (map[string][]Item, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, order_id, product_id, variant_id, product_name, variant_name, sku, quantity, price::text, subtotal::text
		FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY product_name ASC, id ASC
	`, orderIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]Item, len(orderIDs))
	for rows.Next() {
		var (
			it              Item
			price, subtotal string
		)
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.VariantID, &it.ProductName, &it.VariantName,
			&it.SKU, &it.Quantity, &price, &subtotal); err != nil {
			return nil, err
		}
		if it.Price, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("order item %s: price: %w", it.ID, err)
		}
		if it.Subtotal, err = decimal.NewFromString(subtotal); err != nil {
			return nil, fmt.Errorf("order item %s: subtotal: %w", it.ID, err)
		}
		out[it.OrderID] = append(out[it.OrderID], it)
	}
	return out, rows.Err()
}

func scanOrder(row pgx.Row) (*Order, error) {
	var (
		o                          Order
		subtotal, ship, tax, total string
	)
	if err := row.Scan(&o.ID, &o.OrderNumber, &o.UserID, &o.CustomerEmail, &o.Status, &o.PaymentStatus,
		&o.FulfillmentStatus, &subtotal, &ship, &tax, &total, &o.Currency, &o.PaymentReference, &o.PaymentMethod,
		&o.ShippingMethod, &o.ShippingAddressID, &o.BillingAddressID, &o.CustomerNote, &o.CreatedAt, &o.UpdatedAt,
	); err != nil {
		return nil, err
	}
	for _, f := range []struct {
		dst *decimal.Decimal
		raw string
	}{{&o.Subtotal, subtotal}, {&o.ShippingTotal, ship}, {&o.TaxTotal, tax}, {&o.Total, total}} {
		d, err := decimal.NewFromString(f.raw)
		if err != nil {
			return nil, fmt.Errorf("order %s: amount %q: %w", o.ID, f.raw, err)
		}
		*f.dst = d
	}
	return &o, nil
}
