package variant

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Encoding selects how a request body is serialized.
type Encoding int

const (
	// JSON sends an application/json body.
	JSON Encoding = iota
	// Form sends an application/x-www-form-urlencoded body.
	Form
)

// ErrInvalidProductID is returned for product ids that cannot travel as a
// path segment: "." and ".." would be folded away when the URL is resolved.
var ErrInvalidProductID = errors.New("product id must not be a dot segment")

// ErrUnsupported is returned for actions a variant has no endpoint for.
var ErrUnsupported = errors.New("not supported by this storefront variant")

// productPlaceholder is substituted with the escaped product id in path templates.
const productPlaceholder = "{product_id}"

// Variant describes one storefront copy: its endpoint paths, body encodings
// and the element ids its templates render. The copies differ in paths and
// response shapes and are kept apart rather than merged.
type Variant struct {
	Name string

	AddPath      string
	UpdatePath   string // may contain {product_id}
	RemovePath   string
	CountPath    string
	TotalsPath   string
	LoginPath    string
	RegisterPath string
	LogoutPath   string
	StatusPath   string
	SuggestPath  string
	WishlistPath string // contains {product_id}; empty when unsupported
	PagePath     string // page reloaded after the cart empties

	UpdateEncoding Encoding
	LoginEncoding  Encoding // registration too

	// EmployeeRol is the rol offered a choice between the shop and the
	// employee dashboard after login. Empty disables the choice.
	EmployeeRol   string
	DashboardPath string

	// BadgeFromMutation sets the badge from cart_total in mutation responses
	// instead of issuing a count refresh.
	BadgeFromMutation bool

	CSRFCookie string
	CSRFField  string
	CSRFHeader string
	// CookieFirst prefers the CSRF cookie over the hidden form field.
	CookieFirst bool

	BadgeIDs []string
}

// Get returns the built-in variant for the given name.
func Get(name string) (*Variant, error) {
	switch name {
	case "gateway", "":
		return gateway(), nil
	case "gateway-new":
		return gatewayNew(), nil
	default:
		return nil, fmt.Errorf("unknown variant %q: valid variants are gateway, gateway-new", name)
	}
}

// Names lists the built-in variant names.
func Names() []string {
	return []string{"gateway", "gateway-new"}
}

// ProductPath expands a path template for productID. Templates without a
// placeholder are returned unchanged.
func ProductPath(tmpl, productID string) (string, error) {
	if !PathCarriesProduct(tmpl) {
		return tmpl, nil
	}
	if productID == "." || productID == ".." {
		return "", fmt.Errorf("%w: %q", ErrInvalidProductID, productID)
	}
	return strings.ReplaceAll(tmpl, productPlaceholder, url.PathEscape(productID)), nil
}

// PathCarriesProduct reports whether the product id travels in the path
// rather than the request body.
func PathCarriesProduct(tmpl string) bool {
	return strings.Contains(tmpl, productPlaceholder)
}
