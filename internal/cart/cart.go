// Package cart keeps the visible cart fragments of a page in line with the
// server after every mutating action. It holds no cart state of its own:
// each mutation is followed by fresh reads of the count and totals.
package cart

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/cartsync/internal/api"
	"github.com/dshills/cartsync/internal/logging"
	"github.com/dshills/cartsync/internal/schema"
)

// Notification texts used when the server supplies none.
const (
	MsgAdded        = "Item added to cart"
	MsgUpdated      = "Cart updated"
	MsgRemoved      = "Item removed from cart"
	MsgAddFailed    = "Could not add item to cart"
	MsgUpdateFailed = "Could not update cart"
	MsgRemoveFailed = "Could not remove item from cart"
	MsgInvalidInput = "Invalid product or quantity"
)

var (
	// ErrMissingProductID is returned when an action names no product.
	ErrMissingProductID = errors.New("product id is required")
	// ErrInvalidQuantity is returned for a negative add quantity.
	ErrInvalidQuantity = errors.New("quantity must be positive")
)

// Service is the remote cart.
type Service interface {
	AddItem(ctx context.Context, productID string, quantity int) (*schema.CartResponse, error)
	UpdateItem(ctx context.Context, productID string, quantity int) (*schema.CartResponse, error)
	RemoveItem(ctx context.Context, productID string) (*schema.CartResponse, error)
	Count(ctx context.Context) (int, error)
	Totals(ctx context.Context) (*schema.Totals, error)
}

// View renders cart state.
type View interface {
	SetCount(n int)
	SetTotals(t *schema.Totals)
	RemoveRow(productID string)
}

// Notifier shows transient messages.
type Notifier interface {
	Success(message string)
	Failure(message string)
}

// Reloader replaces the whole page.
type Reloader interface {
	Reload(ctx context.Context) error
}

// Config holds the collaborators of a Sync.
type Config struct {
	Service  Service
	View     View
	Notifier Notifier
	Reloader Reloader
	Logger   *zap.Logger
	// BadgeFromMutation sets the badge from cart_total in mutation
	// responses instead of fetching the count.
	BadgeFromMutation bool
}

// Sync is the cart synchronizer for one page.
type Sync struct {
	svc         Service
	view        View
	notify      Notifier
	reload      Reloader
	log         *zap.Logger
	badgeInline bool
}

// New returns a Sync wired to cfg's collaborators.
func New(cfg Config) *Sync {
	return &Sync{
		svc:         cfg.Service,
		view:        cfg.View,
		notify:      cfg.Notifier,
		reload:      cfg.Reloader,
		log:         logging.OrNop(cfg.Logger),
		badgeInline: cfg.BadgeFromMutation,
	}
}

// AddItem adds quantity units of productID. A zero quantity means one.
// Totals are not refreshed.
func (s *Sync) AddItem(ctx context.Context, productID string, quantity int) error {
	if quantity == 0 {
		quantity = 1
	}
	if err := s.checkInput(productID, quantity); err != nil {
		return err
	}

	resp, err := s.svc.AddItem(ctx, productID, quantity)
	if err != nil {
		return s.fail("add item", err, MsgAddFailed)
	}
	s.refreshBadge(ctx, resp)
	s.notify.Success(orDefault(resp.Message, MsgAdded))
	return nil
}

// UpdateQuantity sets the quantity of productID. A quantity of zero or
// less removes the line instead.
func (s *Sync) UpdateQuantity(ctx context.Context, productID string, quantity int) error {
	if quantity <= 0 {
		return s.RemoveItem(ctx, productID)
	}
	if err := s.checkInput(productID, quantity); err != nil {
		return err
	}

	resp, err := s.svc.UpdateItem(ctx, productID, quantity)
	if err != nil {
		return s.fail("update quantity", err, MsgUpdateFailed)
	}
	s.refreshAll(ctx, resp)
	s.notify.Success(MsgUpdated)
	return nil
}

// RemoveItem removes productID's line and its row. When the server reports
// the cart is now empty the page is reloaded.
func (s *Sync) RemoveItem(ctx context.Context, productID string) error {
	if err := s.checkInput(productID, 1); err != nil {
		return err
	}

	resp, err := s.svc.RemoveItem(ctx, productID)
	if err != nil {
		return s.fail("remove item", err, MsgRemoveFailed)
	}
	s.view.RemoveRow(productID)
	s.refreshAll(ctx, resp)
	s.notify.Success(MsgRemoved)

	if resp.IsEmpty && s.reload != nil {
		if err := s.reload.Reload(ctx); err != nil {
			s.log.Warn("page reload failed", zap.Error(err))
		}
	}
	return nil
}

// RefreshCount fetches the item count and writes it to the badges. Failures
// are logged and leave the page untouched.
func (s *Sync) RefreshCount(ctx context.Context) (int, error) {
	n, err := s.svc.Count(ctx)
	if err != nil {
		s.log.Warn("cart count refresh failed", zap.Error(err))
		return 0, err
	}
	s.view.SetCount(n)
	return n, nil
}

// RefreshTotals fetches the cart summary and writes it to the page.
// Failures are logged and leave the page untouched.
func (s *Sync) RefreshTotals(ctx context.Context) (*schema.Totals, error) {
	t, err := s.svc.Totals(ctx)
	if err != nil {
		s.log.Warn("cart totals refresh failed", zap.Error(err))
		return nil, err
	}
	s.view.SetTotals(t)
	return t, nil
}

// refreshAll runs the totals and badge refreshes concurrently. Their
// failures are already logged and do not fail the mutation.
func (s *Sync) refreshAll(ctx context.Context, resp *schema.CartResponse) {
	var g errgroup.Group
	g.Go(func() error {
		_, err := s.RefreshTotals(ctx)
		return err
	})
	g.Go(func() error {
		s.refreshBadge(ctx, resp)
		return nil
	})
	_ = g.Wait()
}

func (s *Sync) refreshBadge(ctx context.Context, resp *schema.CartResponse) {
	if s.badgeInline && resp != nil && resp.CartTotal != nil {
		s.view.SetCount(*resp.CartTotal)
		return
	}
	_, _ = s.RefreshCount(ctx)
}

func (s *Sync) checkInput(productID string, quantity int) error {
	var err error
	switch {
	case productID == "":
		err = ErrMissingProductID
	case quantity < 0:
		err = ErrInvalidQuantity
	default:
		return nil
	}
	s.notify.Failure(MsgInvalidInput)
	return err
}

func (s *Sync) fail(op string, err error, fallback string) error {
	s.log.Info(op+" rejected", zap.Error(err), zap.Bool("transport", api.IsTransport(err)))
	s.notify.Failure(api.UserMessage(err, fallback))
	return err
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
