package order

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

const DefaultShippingMethod = "standard"

// Metadata keys written on initialize and read back on verification.
const (
	metaUserID         = "user_id"
	metaShipping       = "shipping"
	metaTax            = "tax"
	metaShippingMethod = "shipping_method"
)

type Pricing struct {
	TaxRate       decimal.Decimal
	ShippingRates map[string]decimal.Decimal
}

type Totals struct {
	Subtotal decimal.Decimal `json:"subtotal"`
	Shipping decimal.Decimal `json:"shipping"`
	Tax      decimal.Decimal `json:"tax"`
	Total    decimal.Decimal `json:"total"`
}

func newTotals(subtotal, shipping, tax decimal.Decimal) Totals {
	return Totals{
		Subtotal: subtotal,
		Shipping: shipping,
		Tax:      tax,
		Total:    subtotal.Add(shipping).Add(tax),
	}
}

// ShippingMethod normalises a method name. Empty selects the default; unknown methods are rejected.
func (p Pricing) ShippingMethod(method string) (string, error) {
	m := strings.ToLower(strings.TrimSpace(method))
	if m == "" {
		m = DefaultShippingMethod
	}
	if _, ok := p.ShippingRates[m]; !ok {
		if method == "" {
			return "", nil
		}
		return "", fmt.Errorf("%w: unknown shipping method %q", ErrValidation, method)
	}
	return m, nil
}

// Quote prices subtotal with the configured rate for method and the configured tax rate.
func (p Pricing) Quote(subtotal decimal.Decimal, method string) (Totals, error) {
	m, err := p.ShippingMethod(method)
	if err != nil {
		return Totals{}, err
	}
	shipping := decimal.Zero
	if m != "" {
		shipping = p.ShippingRates[m]
	}
	return newTotals(subtotal, shipping, subtotal.Mul(p.TaxRate).Round(2)), nil
}

// metadataTotals reads shipping and tax stamped on the transaction. Both must be
// present and parse for the metadata to be used.
func metadataTotals(subtotal decimal.Decimal, md map[string]any) (Totals, bool) {
	shipping, ok := metadataDecimal(md, metaShipping)
	if !ok {
		return Totals{}, false
	}
	tax, ok := metadataDecimal(md, metaTax)
	if !ok {
		return Totals{}, false
	}
	return newTotals(subtotal, shipping, tax), true
}

func metadataDecimal(md map[string]any, key string) (decimal.Decimal, bool) {
	var (
		d   decimal.Decimal
		err error
	)
	switch v := md[key].(type) {
	case string:
		d, err = decimal.NewFromString(strings.TrimSpace(v))
	case float64:
		d = decimal.NewFromFloat(v)
	default:
		return decimal.Zero, false
	}
	if err != nil || d.IsNegative() {
		return decimal.Zero, false
	}
	return d, true
}

func metadataString(md map[string]any, key string) string {
	s, _ := md[key].(string)
	return strings.TrimSpace(s)
}
