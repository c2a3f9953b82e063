package order

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	"github.com/MikeMC777/storefront/internal/address"
)

// Order status.
const (
	StatusPending    = "PENDING"
	StatusProcessing = "PROCESSING"
	StatusCompleted  = "COMPLETED"
	StatusCancelled  = "CANCELLED"
	StatusOnHold     = "ON_HOLD"
	StatusRefunded   = "REFUNDED"
	StatusFailed     = "FAILED"
)

// Payment status.
const (
	PaymentPending           = "PENDING"
	PaymentAuthorized        = "AUTHORIZED"
	PaymentPaid              = "PAID"
	PaymentPartiallyRefunded = "PARTIALLY_REFUNDED"
	PaymentRefunded          = "REFUNDED"
	PaymentVoided            = "VOIDED"
	PaymentFailed            = "FAILED"
)

// Fulfillment status.
const (
	FulfillmentUnfulfilled        = "UNFULFILLED"
	FulfillmentPartiallyFulfilled = "PARTIALLY_FULFILLED"
	FulfillmentFulfilled          = "FULFILLED"
)

const (
	PaymentMethodPaystack = "paystack"
	PaymentMethodManual   = "manual"
)

// cancellable lists the statuses from which Cancel may move an order.
var cancellable = []string{StatusPending, StatusProcessing}

type Order struct {
	ID                string           `json:"id"`
	OrderNumber       string           `json:"orderNumber"`
	UserID            string           `json:"userId"`
	CustomerEmail     string           `json:"customerEmail,omitempty"`
	Status            string           `json:"status"`
	PaymentStatus     string           `json:"paymentStatus"`
	FulfillmentStatus string           `json:"fulfillmentStatus"`
	Subtotal          decimal.Decimal  `json:"subtotal"`
	ShippingTotal     decimal.Decimal  `json:"shippingTotal"`
	TaxTotal          decimal.Decimal  `json:"taxTotal"`
	Total             decimal.Decimal  `json:"total"`
	Currency          string           `json:"currency"`
	PaymentReference  *string          `json:"paymentReference,omitempty"`
	PaymentMethod     string           `json:"paymentMethod"`
	ShippingMethod    string           `json:"shippingMethod,omitempty"`
	ShippingAddressID *string          `json:"shippingAddressId,omitempty"`
	BillingAddressID  *string          `json:"billingAddressId,omitempty"`
	CustomerNote      string           `json:"customerNote,omitempty"`
	CreatedAt         time.Time        `json:"createdAt"`
	UpdatedAt         time.Time        `json:"updatedAt"`
	Items             []Item           `json:"items"`
	ShippingAddress   *address.Address `json:"shippingAddress,omitempty"`
	BillingAddress    *address.Address `json:"billingAddress,omitempty"`
}

// Item is an order line. Price is the unit price at the moment the order was placed.
type Item struct {
	ID          string          `json:"id"`
	OrderID     string          `json:"orderId"`
	ProductID   string          `json:"productId"`
	VariantID   *string         `json:"variantId,omitempty"`
	ProductName string          `json:"productName"`
	VariantName *string         `json:"variantName,omitempty"`
	SKU         string          `json:"sku,omitempty"`
	Quantity    int             `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	Subtotal    decimal.Decimal `json:"subtotal"`
}

// UnreconciledPayment is a gateway-confirmed payment that produced no order.
type UnreconciledPayment struct {
	Reference string          `json:"reference"`
	UserID    string          `json:"userId"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	Reason    string          `json:"reason"`
	CreatedAt time.Time       `json:"createdAt"`
}

// NewOrderNumber returns a sortable human-readable order number such as ORD-01J9Z3....
func NewOrderNumber(now time.Time) string {
	return "ORD-" + ulid.MustNew(ulid.Timestamp(now), rand.Reader).String()
}
