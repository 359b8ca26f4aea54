package validate

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/dshills/cartsync/internal/schema"
)

// Count checks a decoded cart count payload.
func Count(c *schema.CountResponse) error {
	if c.Count < 0 {
		return fmt.Errorf("count: %d must be ≥ 0", c.Count)
	}
	return nil
}

// Totals checks that every amount in a cart summary is non-negative.
// Optional amounts are only checked when present. Total is not recomputed
// from the other fields: it may include tax, which the payload omits.
func Totals(t *schema.Totals) error {
	if err := nonNegative("subtotal", t.Subtotal); err != nil {
		return err
	}
	if err := nonNegative("total", t.Total); err != nil {
		return err
	}
	if t.ShippingCost.Valid {
		if err := nonNegative("shipping_cost", t.ShippingCost.Decimal); err != nil {
			return err
		}
	}
	if t.Discount.Valid {
		if err := nonNegative("discount", t.Discount.Decimal); err != nil {
			return err
		}
	}
	return nil
}

// Status checks that an authenticated session names its user.
func Status(s *schema.StatusResponse) error {
	if s.IsAuthenticated && s.User == nil {
		return fmt.Errorf("status: is_authenticated is true but user is missing")
	}
	return nil
}

// Suggestions checks every entry of a suggestion list.
func Suggestions(list []schema.Suggestion) error {
	for i, s := range list {
		prefix := fmt.Sprintf("suggestion[%d]", i)
		if s.Name == "" {
			return fmt.Errorf("%s: nombre is required", prefix)
		}
		if s.URL == "" {
			return fmt.Errorf("%s: url is required", prefix)
		}
		if s.Price.IsNegative() {
			return fmt.Errorf("%s: precio %s must be ≥ 0", prefix, s.Price)
		}
	}
	return nil
}

func nonNegative(field string, d decimal.Decimal) error {
	if d.IsNegative() {
		return fmt.Errorf("totals: %s %s must be ≥ 0", field, d)
	}
	return nil
}
