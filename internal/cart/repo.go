package cart

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/MikeMC777/storefront/internal/product"
)

var ErrItemNotFound = errors.New("cart item not found")

type Repository interface {
	// Lines returns the user's items joined with their product and variant.
	Lines(ctx context.Context, userID string) ([]Line, error)
	// Upsert adds quantity to the matching (user, product, variant) row or creates it.
	Upsert(ctx context.Context, it *Item) (*Item, error)
	SetQuantity(ctx context.Context, userID, itemID string, quantity int) (*Item, error)
	Delete(ctx context.Context, userID, itemID string) (bool, error)
	Clear(ctx context.Context, userID string) (int64, error)
}

type PGRepo struct{ db *pgxpool.Pool }

func NewPGRepo(db *pgxpool.Pool) *PGRepo { return &PGRepo{db: db} }

func (r *PGRepo) Lines(ctx context.Context, userID string) ([]Line, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rows, err := r.db.Query(ctx, `
		SELECT ci.id, ci.user_id, ci.product_id, ci.variant_id, ci.quantity, ci.created_at, ci.updated_at,
		       p.name, p.sku, p.base_price::text, p.sale_price::text, p.created_at, p.updated_at,
		       v.name, v.sku, v.price::text, v.sale_price::text
		FROM cart_items ci
		JOIN products p ON p.id = ci.product_id
		LEFT JOIN product_variants v ON v.id = ci.variant_id
		WHERE ci.user_id = $1
		ORDER BY ci.created_at ASC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Line
	for rows.Next() {
		var (
			l                          Line
			basePrice                  string
			salePrice                  *string
			vName, vSKU, vPrice, vSale *string
		)
		if err := rows.Scan(
			&l.ID, &l.UserID, &l.ProductID, &l.VariantID, &l.Quantity, &l.CreatedAt, &l.UpdatedAt,
			&l.Product.Name, &l.Product.SKU, &basePrice, &salePrice, &l.Product.CreatedAt, &l.Product.UpdatedAt,
			&vName, &vSKU, &vPrice, &vSale,
		); err != nil {
			return nil, err
		}
		l.Product.ID = l.ProductID
		if l.Product.BasePrice, err = decimal.NewFromString(basePrice); err != nil {
			return nil, fmt.Errorf("cart line %s: base price: %w", l.ID, err)
		}
		if l.Product.SalePrice, err = product.ParseOptional(salePrice); err != nil {
			return nil, fmt.Errorf("cart line %s: sale price: %w", l.ID, err)
		}
		if l.VariantID != nil && vPrice != nil {
			v := &product.Variant{ID: *l.VariantID, ProductID: l.ProductID, Name: deref(vName), SKU: deref(vSKU)}
			if v.Price, err = decimal.NewFromString(*vPrice); err != nil {
				return nil, fmt.Errorf("cart line %s: variant price: %w", l.ID, err)
			}
			if v.SalePrice, err = product.ParseOptional(vSale); err != nil {
				return nil, fmt.Errorf("cart line %s: variant sale price: %w", l.ID, err)
			}
			l.Variant = v
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (r *PGRepo) Upsert(ctx context.Context, it *Item) (*Item, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var out Item
	err := r.db.QueryRow(ctx, `
		INSERT INTO cart_items (id, user_id, product_id, variant_id, quantity, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,NOW(),NOW())
		ON CONFLICT (user_id, product_id, (COALESCE(variant_id, '')))
		DO UPDATE SET quantity = cart_items.quantity + EXCLUDED.quantity, updated_at = NOW()
		RETURNING id, user_id, product_id, variant_id, quantity, created_at, updated_at
	`, it.ID, it.UserID, it.ProductID, it.VariantID, it.Quantity).
		Scan(&out.ID, &out.UserID, &out.ProductID, &out.VariantID, &out.Quantity, &out.CreatedAt, &out.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *PGRepo) SetQuantity(ctx context.Context, userID, itemID string, quantity int) (*Item, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var out Item
	err := r.db.QueryRow(ctx, `
		UPDATE cart_items SET quantity = $3, updated_at = NOW()
		WHERE id = $1 AND user_id = $2
		RETURNING id, user_id, product_id, variant_id, quantity, created_at, updated_at
	`, itemID, userID, quantity).
		Scan(&out.ID, &out.UserID, &out.ProductID, &out.VariantID, &out.Quantity, &out.CreatedAt, &out.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrItemNotFound
		}
		return nil, err
	}
	return &out, nil
}

func (r *PGRepo) Delete(ctx context.Context, userID, itemID string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	cmd, err := r.db.Exec(ctx, `DELETE FROM cart_items WHERE id=$1 AND user_id=$2`, itemID, userID)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() > 0, nil
}

func (r *PGRepo) Clear(ctx context.Context, userID string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	cmd, err := r.db.Exec(ctx, `DELETE FROM cart_items WHERE user_id=$1`, userID)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
