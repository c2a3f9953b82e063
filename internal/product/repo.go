// Package product provides read access to catalog products and variants for pricing.
package product

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound        = errors.New("product not found")
	ErrVariantNotFound = errors.New("variant not found")
)

// Catalog is the read side the cart needs; catalog management lives elsewhere.
type Catalog interface {
	GetByID(ctx context.Context, id string) (*Product, error)
	GetVariant(ctx context.Context, id string) (*Variant, error)
}

type PGRepo struct{ db *pgxpool.Pool }

func NewPGRepo(db *pgxpool.Pool) *PGRepo { return &PGRepo{db: db} }

func (r *PGRepo) GetByID(ctx context.Context, id string) (*Product, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var (
		p         Product
		basePrice string
		salePrice *string
	)
	err := r.db.QueryRow(ctx, `
		SELECT id, name, sku, base_price::text, sale_price::text, created_at, updated_at
		FROM products WHERE id=$1
	`, id).Scan(&p.ID, &p.Name, &p.SKU, &basePrice, &salePrice, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if p.BasePrice, err = decimal.NewFromString(basePrice); err != nil {
		return nil, fmt.Errorf("product %s: base price: %w", id, err)
	}
	if p.SalePrice, err = ParseOptional(salePrice); err != nil {
		return nil, fmt.Errorf("product %s: sale price: %w", id, err)
	}
	return &p, nil
}

func (r *PGRepo) GetVariant(ctx context.Context, id string) (*Variant, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var (
		v         Variant
		price     string
		salePrice *string
	)
	err := r.db.QueryRow(ctx, `
		SELECT id, product_id, name, sku, price::text, sale_price::text
		FROM product_variants WHERE id=$1
	`, id).Scan(&v.ID, &v.ProductID, &v.Name, &v.SKU, &price, &salePrice)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrVariantNotFound
		}
		return nil, err
	}
	if v.Price, err = decimal.NewFromString(price); err != nil {
		return nil, fmt.Errorf("variant %s: price: %w", id, err)
	}
	if v.SalePrice, err = ParseOptional(salePrice); err != nil {
		return nil, fmt.Errorf("variant %s: sale price: %w", id, err)
	}
	return &v, nil
}

// ParseOptional parses a nullable NUMERIC read as text.
func ParseOptional(s *string) (*decimal.Decimal, error) {
	if s == nil {
		return nil, nil
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
