package schema

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// CartRequest is the JSON body of the add, update and remove cart endpoints.
// Quantity is omitted for removals.
type CartRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity,omitempty"`
}

// CartResponse is the reply of every mutating cart endpoint.
type CartResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message,omitempty"`
	Error     string `json:"error,omitempty"`
	IsEmpty   bool   `json:"is_empty,omitempty"`
	CartTotal *int   `json:"cart_total,omitempty"` // item count, form-encoded variant only
}

// CountResponse is the reply of the cart count endpoint.
type CountResponse struct {
	Count int `json:"count"`
}

// Totals is the server-computed cart summary. Money values decode from
// either JSON numbers or strings.
type Totals struct {
	Subtotal     decimal.Decimal     `json:"subtotal"`
	Total        decimal.Decimal     `json:"total"`
	ShippingCost decimal.NullDecimal `json:"shipping_cost"`
	Discount     decimal.NullDecimal `json:"discount"`
}

// LoginRequest is the JSON body of the login endpoint.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// RegisterRequest is the body of the registration endpoint. Field names
// follow the storefront's account creation form.
type RegisterRequest struct {
	Username  string `json:"username"`
	Email     string `json:"email,omitempty"`
	Password  string `json:"password1"`
	Password2 string `json:"password2"`
}

// RedirectResponse is returned by login, registration and logout. User is
// only sent by the JSON login.
type RedirectResponse struct {
	RedirectURL string `json:"redirect_url"`
	Message     string `json:"message,omitempty"`
	User        *User  `json:"user,omitempty"`
}

// WishlistResponse is the reply of the wishlist toggle endpoint.
type WishlistResponse struct {
	Success    bool `json:"success"`
	InWishlist bool `json:"in_wishlist"`
}

// ViewChoice is a page a user may pick after login instead of being
// redirected.
type ViewChoice struct {
	Label  string `json:"label"`
	Target string `json:"target"`
}

// User is the authenticated principal. Rol is compared verbatim against
// data-role-required attributes.
type User struct {
	Username string `json:"username"`
	Rol      string `json:"rol"`
}

// StatusResponse is the reply of the auth status endpoint.
type StatusResponse struct {
	IsAuthenticated bool  `json:"is_authenticated"`
	User            *User `json:"user,omitempty"`
}

// Suggestion is a single product search suggestion.
type Suggestion struct {
	Name  string          `json:"nombre"`
	Price decimal.Decimal `json:"precio"`
	Image string          `json:"imagen,omitempty"`
	URL   string          `json:"url"`
}

// SuggestionsResponse is the reply of the search suggestions endpoint.
type SuggestionsResponse struct {
	Suggestions []Suggestion `json:"suggestions"`
}

// Envelope captures the failure fields any endpoint may return alongside
// its payload. Success is a pointer so an absent field is not read as false.
type Envelope struct {
	Success *bool           `json:"success"`
	Error   string          `json:"error"`
	Message string          `json:"message"`
	Errors  json.RawMessage `json:"errors"` // form errors; shape varies by view
}

// NotificationKind distinguishes success toasts from failure toasts.
type NotificationKind string

const (
	NotificationSuccess NotificationKind = "success"
	NotificationFailure NotificationKind = "failure"
)

// Notification is a transient message shown to the user.
type Notification struct {
	Kind    NotificationKind `json:"kind"`
	Message string           `json:"message"`
}

// Result is the report produced for a single CLI operation.
type Result struct {
	Tool          string          `json:"tool"`
	Version       string          `json:"version"`
	Operation     string          `json:"operation"`
	Input         Input           `json:"input"`
	OK            bool            `json:"ok"`
	Error         string          `json:"error,omitempty"`
	Notifications []Notification  `json:"notifications"`
	Count         *int            `json:"count,omitempty"`
	Totals        *Totals         `json:"totals,omitempty"`
	Navigation    *Navigation     `json:"navigation,omitempty"`
	Session       *StatusResponse `json:"session,omitempty"`
	Suggestions   []Suggestion    `json:"suggestions,omitempty"`
	InWishlist    *bool           `json:"in_wishlist,omitempty"`
	ViewChoices   []ViewChoice    `json:"view_choices,omitempty"`
}

// Input captures the parameters used for this run.
type Input struct {
	BaseURL  string   `json:"base_url"`
	Variant  string   `json:"variant"`
	Page     string   `json:"page,omitempty"`
	PageHash string   `json:"page_hash,omitempty"` // SHA-256 of the page as loaded
	Args     []string `json:"args"`
}

// Navigation records reloads and redirects performed during an operation.
type Navigation struct {
	Target   string `json:"target,omitempty"`
	Reloaded bool   `json:"reloaded"`
}
