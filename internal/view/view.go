// Package view applies storefront state to a page.Document: badge counts,
// totals, cart rows, toasts, the login alert and role-gated fragments.
package view

import (
	"strconv"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/dshills/cartsync/internal/logging"
	"github.com/dshills/cartsync/internal/page"
	"github.com/dshills/cartsync/internal/schema"
	"github.com/dshills/cartsync/internal/variant"
)

// Element ids rendered by the storefront templates.
const (
	SubtotalID   = "cartSubtotal"
	TotalID      = "cartTotal"
	ShippingID   = "cartShipping"
	DiscountID   = "cartDiscount"
	SuccessToast = "cartToast"
	FailureToast = "errorToast"
	LoginAlertID = "loginAlert"
	UserNameID   = "currentUserName"
	ChoicesID    = "viewChoices"
	toastBody    = "toast-body"
	rowIDPrefix  = "cart-item-"
	wishIDPrefix = "wishlist-"
	authAttr     = "data-auth-required"
	roleAttr     = "data-role-required"
	hiddenClass  = "d-none"
	shownClass   = "show"
	heartIcon    = "bi-heart"
	heartFilled  = "bi-heart-fill"
)

// RowID returns the element id of a product's cart row.
func RowID(productID string) string { return rowIDPrefix + productID }

// WishlistButtonID returns the element id of a product's wishlist button.
func WishlistButtonID(productID string) string { return wishIDPrefix + productID }

// DocumentView renders cart and session state into a page. Missing target
// elements are skipped silently. Every notification is also recorded.
type DocumentView struct {
	doc      *page.Document
	badgeIDs []string
	log      *zap.Logger

	mu      sync.Mutex
	notes   []schema.Notification
	choices []schema.ViewChoice
}

// New returns a view over doc using the badge ids of v.
func New(doc *page.Document, v *variant.Variant, log *zap.Logger) *DocumentView {
	return &DocumentView{
		doc:      doc,
		badgeIDs: append([]string(nil), v.BadgeIDs...),
		log:      logging.OrNop(log),
	}
}

// Document returns the underlying page.
func (v *DocumentView) Document() *page.Document { return v.doc }

// SetCount writes n into every badge and shows the badge only when the
// cart holds items.
func (v *DocumentView) SetCount(n int) {
	text := strconv.Itoa(n)
	for _, id := range v.badgeIDs {
		if !v.doc.SetText(id, text) {
			continue
		}
		v.doc.SetVisible(id, n > 0)
	}
}

// SetTotals writes the cart summary. Shipping and discount are only written
// when present and non-zero.
func (v *DocumentView) SetTotals(t *schema.Totals) {
	if t == nil {
		return
	}
	v.doc.SetText(SubtotalID, money(t.Subtotal))
	v.doc.SetText(TotalID, money(t.Total))
	if t.ShippingCost.Valid && !t.ShippingCost.Decimal.IsZero() {
		v.doc.SetText(ShippingID, money(t.ShippingCost.Decimal))
	}
	if t.Discount.Valid && !t.Discount.Decimal.IsZero() {
		v.doc.SetText(DiscountID, "-"+money(t.Discount.Decimal))
	}
}

// RemoveRow detaches the row of productID from the document.
func (v *DocumentView) RemoveRow(productID string) {
	if !v.doc.Remove(RowID(productID)) {
		v.log.Debug("cart row not found", zap.String("product_id", productID))
	}
}

// Success shows the success toast.
func (v *DocumentView) Success(message string) {
	v.toast(SuccessToast, schema.NotificationSuccess, message)
}

// Failure shows the error toast.
func (v *DocumentView) Failure(message string) {
	v.toast(FailureToast, schema.NotificationFailure, message)
}

func (v *DocumentView) toast(id string, kind schema.NotificationKind, message string) {
	v.record(kind, message)
	if v.doc.SetDescendantText(id, toastBody, message) {
		v.doc.SetClass(id, shownClass, true)
	}
}

// Alert shows the login alert styled for kind.
func (v *DocumentView) Alert(kind schema.NotificationKind, message string) {
	v.record(kind, message)
	style := "success"
	if kind == schema.NotificationFailure {
		style = "danger"
	}
	if !v.doc.SetAttr(LoginAlertID, "class", "alert alert-"+style) {
		return
	}
	v.doc.SetText(LoginAlertID, message)
	v.doc.SetClass(LoginAlertID, hiddenClass, false)
}

// ApplySession toggles auth- and role-gated elements. Role gating is an
// exact match against the user's rol; an anonymous session hides every
// gated element.
func (v *DocumentView) ApplySession(st *schema.StatusResponse) {
	if st == nil || !st.IsAuthenticated || st.User == nil {
		v.doc.SetVisibleWhere(authAttr, func(string) bool { return false })
		v.doc.SetVisibleWhere(roleAttr, func(string) bool { return false })
		return
	}
	rol := st.User.Rol
	v.doc.SetVisibleWhere(authAttr, func(string) bool { return true })
	v.doc.SetVisibleWhere(roleAttr, func(val string) bool { return val == rol })
	v.doc.SetText(UserNameID, st.User.Username)
}

// SetWishlisted swaps the heart icon of a product's wishlist button.
func (v *DocumentView) SetWishlisted(productID string, in bool) {
	id := WishlistButtonID(productID)
	if !v.doc.SetDescendantTagClass(id, "i", heartIcon, !in) {
		v.log.Debug("wishlist button not found", zap.String("product_id", productID))
		return
	}
	v.doc.SetDescendantTagClass(id, "i", heartFilled, in)
}

// OfferViews adds one button per choice under the login alert. Call it
// after Alert, which replaces the alert's content.
func (v *DocumentView) OfferViews(choices []schema.ViewChoice) {
	v.mu.Lock()
	v.choices = append(v.choices[:0], choices...)
	v.mu.Unlock()

	if !v.doc.AppendElement(LoginAlertID, "div", "",
		html.Attribute{Key: "id", Val: ChoicesID},
		html.Attribute{Key: "class", Val: "d-grid gap-2 mt-3"}) {
		return
	}
	for i, c := range choices {
		class := "btn btn-outline-primary"
		if i == len(choices)-1 {
			class = "btn btn-primary"
		}
		v.doc.AppendElement(ChoicesID, "button", c.Label,
			html.Attribute{Key: "class", Val: class},
			html.Attribute{Key: "data-href", Val: c.Target})
	}
}

// ViewChoices returns the choices last offered by OfferViews.
func (v *DocumentView) ViewChoices() []schema.ViewChoice {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]schema.ViewChoice(nil), v.choices...)
}

// Notifications returns every notification shown so far, in order.
func (v *DocumentView) Notifications() []schema.Notification {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]schema.Notification{}, v.notes...)
}

func (v *DocumentView) record(kind schema.NotificationKind, message string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.notes = append(v.notes, schema.Notification{Kind: kind, Message: message})
}

func money(d decimal.Decimal) string {
	return "$" + d.StringFixed(2)
}
