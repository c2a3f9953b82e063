package order

import (
	"context"

	"github.com/MikeMC777/storefront/internal/cart"
	"github.com/MikeMC777/storefront/internal/payment"
)

// Gateway is the payment provider as the order flow sees it. *payment.Paystack satisfies it.
type Gateway interface {
	Verify(ctx context.Context, reference string) (*payment.Record, error)
	Initialize(ctx context.Context, req payment.InitializeRequest) (*payment.Initialization, error)
	Currency() string
}

// Carts is the slice of the cart aggregate the reconciler needs. *cart.Service satisfies it.
type Carts interface {
	Get(ctx context.Context, userID string) (*cart.Cart, error)
	Clear(ctx context.Context, userID string) error
}
