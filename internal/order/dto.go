package order

import "github.com/shopspring/decimal"

// VerifyPaymentRequest payload for reconciling a client-initiated payment.
// swagger:model VerifyPaymentRequest
type VerifyPaymentRequest struct {
	Reference string `json:"reference" binding:"required" example:"T123456789"`
}

// ShippingAddressInput shipping details captured at checkout.
// swagger:model ShippingAddressInput
type ShippingAddressInput struct {
	FirstName string `json:"firstName" binding:"required" example:"Ama"`
	LastName  string `json:"lastName" example:"Mensah"`
	Email     string `json:"email" binding:"required,email" example:"ama@example.com"`
	Phone     string `json:"phone" example:"+233201234567"`
	Address   string `json:"address" binding:"required" example:"12 Oxford St"`
	City      string `json:"city" binding:"required" example:"Accra"`
	State     string `json:"state" example:"Greater Accra"`
	ZipCode   string `json:"zipCode" example:"00233"`
	Country   string `json:"country" example:"GH"`
}

// CheckoutItem is the client's view of a cart line. It is informational only.
// swagger:model CheckoutItem
type CheckoutItem struct {
	ProductID string           `json:"productId"`
	VariantID *string          `json:"variantId,omitempty"`
	Quantity  int              `json:"quantity"`
	Price     *decimal.Decimal `json:"price,omitempty" swaggertype:"string"`
}

// CreateOrderRequest payload for checkout with a Paystack reference.
// Totals sent by the client are compared against the server's and otherwise ignored.
// swagger:model CreateOrderRequest
type CreateOrderRequest struct {
	PaystackReference string               `json:"paystackReference" binding:"required" example:"T123456789"`
	ShippingAddress   ShippingAddressInput `json:"shippingAddress" binding:"required"`
	ShippingMethod    string               `json:"shippingMethod" example:"standard"`
	Items             []CheckoutItem       `json:"items"`
	Subtotal          *decimal.Decimal     `json:"subtotal,omitempty" swaggertype:"string"`
	Shipping          *decimal.Decimal     `json:"shipping,omitempty" swaggertype:"string"`
	Tax               *decimal.Decimal     `json:"tax,omitempty" swaggertype:"string"`
	Total             *decimal.Decimal     `json:"total,omitempty" swaggertype:"string"`
}

// ManualOrderRequest payload for an order without online payment.
// swagger:model ManualOrderRequest
type ManualOrderRequest struct {
	ShippingAddressID string  `json:"shippingAddressId" binding:"required" example:"4e7d4e5c-5cb9-4a3f-9f21-7e1a4f9f2b2a"`
	BillingAddressID  *string `json:"billingAddressId,omitempty"`
	CustomerNote      string  `json:"customerNote,omitempty" example:"Leave at the gate"`
}

// InitializePaymentRequest payload for a server-initiated Paystack transaction.
// swagger:model InitializePaymentRequest
type InitializePaymentRequest struct {
	Email          string `json:"email" binding:"required,email" example:"ama@example.com"`
	ShippingMethod string `json:"shippingMethod" example:"express"`
	CallbackURL    string `json:"callbackUrl,omitempty" example:"https://shop.example.com/checkout/complete"`
}
