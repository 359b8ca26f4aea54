// Package wishlist toggles products in the signed-in user's wishlist and
// keeps each product's heart icon in line with the server.
package wishlist

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/dshills/cartsync/internal/logging"
	"github.com/dshills/cartsync/internal/schema"
)

// ErrMissingProductID is returned when Toggle names no product.
var ErrMissingProductID = errors.New("product id is required")

// Service is the remote wishlist.
type Service interface {
	ToggleWishlist(ctx context.Context, productID string) (*schema.WishlistResponse, error)
}

// View shows whether a product is in the wishlist.
type View interface {
	SetWishlisted(productID string, in bool)
}

// Toggler flips wishlist membership for one page.
type Toggler struct {
	svc  Service
	view View
	log  *zap.Logger
}

// New returns a Toggler. A nil logger discards output.
func New(svc Service, view View, log *zap.Logger) *Toggler {
	return &Toggler{svc: svc, view: view, log: logging.OrNop(log)}
}

// Toggle flips productID's membership and reports whether it is now in the
// wishlist. Failures are logged and leave the icon as it was; no toast is
// shown for them.
func (t *Toggler) Toggle(ctx context.Context, productID string) (bool, error) {
	if productID == "" {
		return false, ErrMissingProductID
	}
	resp, err := t.svc.ToggleWishlist(ctx, productID)
	if err != nil {
		t.log.Warn("wishlist toggle failed", zap.String("product_id", productID), zap.Error(err))
		return false, err
	}
	t.view.SetWishlisted(productID, resp.InWishlist)
	t.log.Debug("wishlist toggled", zap.String("product_id", productID), zap.Bool("in_wishlist", resp.InWishlist))
	return resp.InWishlist, nil
}
