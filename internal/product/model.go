package product

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	SKU  string `json:"sku,omitempty"`
	// NUMERIC columns are read as text and parsed, never as float.
	BasePrice decimal.Decimal  `json:"basePrice"`
	SalePrice *decimal.Decimal `json:"salePrice,omitempty"`
	CreatedAt time.Time        `json:"createdAt"`
	UpdatedAt time.Time        `json:"updatedAt"`
}

type Variant struct {
	ID        string           `json:"id"`
	ProductID string           `json:"productId"`
	Name      string           `json:"name"`
	SKU       string           `json:"sku,omitempty"`
	Price     decimal.Decimal  `json:"price"`
	SalePrice *decimal.Decimal `json:"salePrice,omitempty"`
}

// EffectivePrice resolves the unit price a buyer pays right now.
//
// Order of precedence: variant sale price, variant price (when a variant is
// selected), product sale price, product base price. A zero or missing sale
// price does not count. A nil product with no variant prices at zero.
func EffectivePrice(p *Product, v *Variant) decimal.Decimal {
	if v != nil {
		if positive(v.SalePrice) {
			return *v.SalePrice
		}
		return v.Price
	}
	if p == nil {
		return decimal.Zero
	}
	if positive(p.SalePrice) {
		return *p.SalePrice
	}
	return p.BasePrice
}

// SKUFor prefers the variant SKU over the product SKU.
func SKUFor(p *Product, v *Variant) string {
	if v != nil && v.SKU != "" {
		return v.SKU
	}
	if p != nil {
		return p.SKU
	}
	return ""
}

func positive(d *decimal.Decimal) bool {
	return d != nil && d.IsPositive()
}
