package cart

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/MikeMC777/storefront/internal/product"
)

// Item is one persisted cart row. (UserID, ProductID, VariantID) is unique.
type Item struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	ProductID string    `json:"productId"`
	VariantID *string   `json:"variantId,omitempty"`
	Quantity  int       `json:"quantity"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Line is an Item joined with the catalog rows it points at.
type Line struct {
	Item
	Product   product.Product  `json:"product"`
	Variant   *product.Variant `json:"variant,omitempty"`
	UnitPrice decimal.Decimal  `json:"unitPrice"`
	LineTotal decimal.Decimal  `json:"lineTotal"`
}

// Cart is computed on read and never stored.
type Cart struct {
	Items     []Line          `json:"items"`
	Subtotal  decimal.Decimal `json:"subtotal"`
	ItemCount int             `json:"itemCount"`
}

func (c *Cart) Empty() bool { return c == nil || len(c.Items) == 0 }

// AddItemRequest payload for adding to the cart.
// swagger:model AddItemRequest
type AddItemRequest struct {
	ProductID string  `json:"productId" binding:"required" example:"4e7d4e5c-5cb9-4a3f-9f21-7e1a4f9f2b2a"`
	VariantID *string `json:"variantId,omitempty"`
	Quantity  int     `json:"quantity"  binding:"required" example:"2"`
}

// UpdateItemRequest payload for changing a line quantity. Zero or less removes the line.
// swagger:model UpdateItemRequest
type UpdateItemRequest struct {
	Quantity *int `json:"quantity" binding:"required" example:"3"`
}

// Build prices lines with the current catalog values and totals them.
func Build(lines []Line) *Cart {
	c := &Cart{Items: make([]Line, 0, len(lines)), Subtotal: decimal.Zero}
	for _, l := range lines {
		l.UnitPrice = product.EffectivePrice(&l.Product, l.Variant)
		l.LineTotal = l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
		c.Subtotal = c.Subtotal.Add(l.LineTotal)
		c.ItemCount += l.Quantity
		c.Items = append(c.Items, l)
	}
	return c
}
