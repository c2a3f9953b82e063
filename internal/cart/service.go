package cart

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/MikeMC777/storefront/internal/product"
)

var (
	ErrProductNotFound = errors.New("product not found")
	ErrVariantNotFound = errors.New("variant not found")
	ErrInvalidQuantity = errors.New("quantity must be at least 1")
)

type Service struct {
	repo    Repository
	catalog product.Catalog
	newID   func() string
}

func NewService(repo Repository, catalog product.Catalog) *Service {
	return &Service{repo: repo, catalog: catalog, newID: uuid.NewString}
}

// Get reads the cart with prices resolved against the catalog as it is now.
func (s *Service) Get(ctx context.Context, userID string) (*Cart, error) {
	lines, err := s.repo.Lines(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("cart: load %s: %w", userID, err)
	}
	return Build(lines), nil
}

func (s *Service) Add(ctx context.Context, userID string, in AddItemRequest) (*Item, error) {
	if in.Quantity < 1 {
		return nil, ErrInvalidQuantity
	}
	productID := strings.TrimSpace(in.ProductID)
	if _, err := s.catalog.GetByID(ctx, productID); err != nil {
		if errors.Is(err, product.ErrNotFound) {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("cart: product %s: %w", productID, err)
	}

	var variantID *string
	if in.VariantID != nil && strings.TrimSpace(*in.VariantID) != "" {
		id := strings.TrimSpace(*in.VariantID)
		v, err := s.catalog.GetVariant(ctx, id)
		if err != nil {
			if errors.Is(err, product.ErrVariantNotFound) {
				return nil, ErrVariantNotFound
			}
			return nil, fmt.Errorf("cart: variant %s: %w", id, err)
		}
		if v.ProductID != productID {
			return nil, ErrVariantNotFound
		}
		variantID = &id
	}

	return s.repo.Upsert(ctx, &Item{
		ID:        s.newID(),
		UserID:    userID,
		ProductID: productID,
		VariantID: variantID,
		Quantity:  in.Quantity,
	})
}

// UpdateQuantity sets a line's quantity. A quantity of zero or less removes
// the line and returns a nil item.
func (s *Service) UpdateQuantity(ctx context.Context, userID, itemID string, quantity int) (*Item, error) {
	if quantity <= 0 {
		return nil, s.Remove(ctx, userID, itemID)
	}
	return s.repo.SetQuantity(ctx, userID, itemID, quantity)
}

func (s *Service) Remove(ctx context.Context, userID, itemID string) error {
	ok, err := s.repo.Delete(ctx, userID, itemID)
	if err != nil {
		return fmt.Errorf("cart: remove %s: %w", itemID, err)
	}
	if !ok {
		return ErrItemNotFound
	}
	return nil
}

// Clear empties the cart. Clearing an empty cart is not an error.
func (s *Service) Clear(ctx context.Context, userID string) error {
	if _, err := s.repo.Clear(ctx, userID); err != nil {
		return fmt.Errorf("cart: clear %s: %w", userID, err)
	}
	return nil
}
