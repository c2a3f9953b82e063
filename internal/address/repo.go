package address

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotFound = errors.New("address not found")

type Repository interface {
	Create(ctx context.Context, a *Address) error
	// GetForUser fails with ErrNotFound when the address is absent or owned by someone else.
	GetForUser(ctx context.Context, userID, id string) (*Address, error)
}

type PGRepo struct{ db *pgxpool.Pool }

func NewPGRepo(db *pgxpool.Pool) *PGRepo { return &PGRepo{db: db} }

func (r *PGRepo) Create(ctx context.Context, a *Address) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return r.db.QueryRow(ctx, `
		INSERT INTO addresses (id, user_id, full_name, street, city, state, country, postal_code, phone, email, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,NOW())
		RETURNING created_at
	`, a.ID, a.UserID, a.FullName, a.Street, a.City, a.State, a.Country, a.PostalCode, a.Phone, a.Email).Scan(&a.CreatedAt)
}

func (r *PGRepo) GetForUser(ctx context.Context, userID, id string) (*Address, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var a Address
	err := r.db.QueryRow(ctx, `
		SELECT id, user_id, full_name, street, city, state, country, postal_code, phone, email, created_at
		FROM addresses WHERE id=$1 AND user_id=$2
	`, id, userID).Scan(&a.ID, &a.UserID, &a.FullName, &a.Street, &a.City, &a.State, &a.Country, &a.PostalCode, &a.Phone, &a.Email, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &a, nil
}
