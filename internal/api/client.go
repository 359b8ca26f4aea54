package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"

	"github.com/dshills/cartsync/internal/csrf"
	"github.com/dshills/cartsync/internal/logging"
	"github.com/dshills/cartsync/internal/redact"
	"github.com/dshills/cartsync/internal/schema"
	"github.com/dshills/cartsync/internal/schema/validate"
	"github.com/dshills/cartsync/internal/variant"
)

// maxBodyBytes caps every response body read.
const maxBodyBytes = 10 * 1024 * 1024 // 10 MiB

// Config holds the parameters for New.
type Config struct {
	BaseURL string
	Variant *variant.Variant
	// HTTPClient defaults to a client without a timeout; a cookie jar is
	// attached when it has none. The jar is wrapped so cookies can be saved.
	HTTPClient *http.Client
	// Page supplies the hidden CSRF form field. Optional.
	Page csrf.InputLookup
	// CSRF overrides the token source derived from the variant.
	CSRF   csrf.Source
	Logger *zap.Logger
	// Debug logs redacted request and response bodies.
	Debug bool
}

// Client talks to the storefront's JSON endpoints on behalf of one browser
// session. It keeps no cart state of its own.
type Client struct {
	base    *url.URL
	variant *variant.Variant
	http    *http.Client
	jar     *recordingJar
	csrf    csrf.Source
	log     *zap.Logger
	debug   bool
}

// New validates cfg and returns a Client with its own cookie session.
func New(cfg Config) (*Client, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", cfg.BaseURL, err)
	}
	if (base.Scheme != "http" && base.Scheme != "https") || base.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q: expected an absolute http or https URL", cfg.BaseURL)
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}

	v := cfg.Variant
	if v == nil {
		if v, err = variant.Get(""); err != nil {
			return nil, err
		}
	}

	hc := &http.Client{}
	if cfg.HTTPClient != nil {
		copied := *cfg.HTTPClient
		hc = &copied
	}
	if hc.Jar == nil {
		jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		if err != nil {
			return nil, fmt.Errorf("creating cookie jar: %w", err)
		}
		hc.Jar = jar
	}
	jar := newRecordingJar(hc.Jar)
	hc.Jar = jar

	src := cfg.CSRF
	if src == nil {
		cookie := csrf.CookieSource{Jar: hc.Jar, URL: base, Name: v.CSRFCookie}
		var field csrf.Source
		if cfg.Page != nil {
			field = csrf.FieldSource{Page: cfg.Page, Name: v.CSRFField}
		}
		if v.CookieFirst {
			src = csrf.Chain{cookie, field}
		} else {
			src = csrf.Chain{field, cookie}
		}
	}

	return &Client{
		base:    base,
		variant: v,
		http:    hc,
		jar:     jar,
		csrf:    src,
		log:     logging.OrNop(cfg.Logger),
		debug:   cfg.Debug,
	}, nil
}

// Variant returns the storefront variant the client speaks.
func (c *Client) Variant() *variant.Variant { return c.variant }

// BaseURL returns the normalized storefront root.
func (c *Client) BaseURL() *url.URL {
	u := *c.base
	return &u
}

// AddItem posts a product and quantity to the add endpoint.
func (c *Client) AddItem(ctx context.Context, productID string, quantity int) (*schema.CartResponse, error) {
	b, err := jsonBody(schema.CartRequest{ProductID: productID, Quantity: quantity})
	if err != nil {
		return nil, err
	}
	var resp schema.CartResponse
	if err := c.do(ctx, "add item", http.MethodPost, c.variant.AddPath, nil, b, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// UpdateItem sets the quantity of a cart line. The form-encoded variant
// carries the product id in the path.
func (c *Client) UpdateItem(ctx context.Context, productID string, quantity int) (*schema.CartResponse, error) {
	tmpl := c.variant.UpdatePath
	path, err := variant.ProductPath(tmpl, productID)
	if err != nil {
		return nil, err
	}

	var b *body
	switch c.variant.UpdateEncoding {
	case variant.Form:
		vals := url.Values{}
		if !variant.PathCarriesProduct(tmpl) {
			vals.Set("product_id", productID)
		}
		vals.Set("quantity", fmt.Sprint(quantity))
		b = formBody(vals)
	default:
		b, err = jsonBody(schema.CartRequest{ProductID: productID, Quantity: quantity})
		if err != nil {
			return nil, err
		}
	}

	var resp schema.CartResponse
	if err := c.do(ctx, "update item", http.MethodPost, path, nil, b, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RemoveItem posts a product id to the remove endpoint.
func (c *Client) RemoveItem(ctx context.Context, productID string) (*schema.CartResponse, error) {
	b, err := jsonBody(schema.CartRequest{ProductID: productID})
	if err != nil {
		return nil, err
	}
	var resp schema.CartResponse
	if err := c.do(ctx, "remove item", http.MethodPost, c.variant.RemovePath, nil, b, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Count fetches the number of items in the cart.
func (c *Client) Count(ctx context.Context) (int, error) {
	var resp schema.CountResponse
	if err := c.do(ctx, "cart count", http.MethodGet, c.variant.CountPath, nil, nil, &resp); err != nil {
		return 0, err
	}
	if err := validate.Count(&resp); err != nil {
		return 0, &TransportError{Op: "cart count", Err: err}
	}
	return resp.Count, nil
}

// Totals fetches the server-computed cart summary.
func (c *Client) Totals(ctx context.Context) (*schema.Totals, error) {
	var resp schema.Totals
	if err := c.do(ctx, "cart totals", http.MethodGet, c.variant.TotalsPath, nil, nil, &resp); err != nil {
		return nil, err
	}
	if err := validate.Totals(&resp); err != nil {
		return nil, &TransportError{Op: "cart totals", Err: err}
	}
	return &resp, nil
}

// Login submits credentials. The form-encoded variant also posts the CSRF
// field, as a browser form submission would.
func (c *Client) Login(ctx context.Context, username, password string) (*schema.RedirectResponse, error) {
	vals := url.Values{}
	vals.Set("username", username)
	vals.Set("password", password)
	return c.submitAccountForm(ctx, "login", c.variant.LoginPath, vals,
		schema.LoginRequest{Username: username, Password: password})
}

// Register creates an account and signs it in. It is encoded like Login.
func (c *Client) Register(ctx context.Context, req schema.RegisterRequest) (*schema.RedirectResponse, error) {
	if c.variant.RegisterPath == "" {
		return nil, fmt.Errorf("register: %w", variant.ErrUnsupported)
	}
	vals := url.Values{}
	vals.Set("username", req.Username)
	if req.Email != "" {
		vals.Set("email", req.Email)
	}
	vals.Set("password1", req.Password)
	vals.Set("password2", req.Password2)
	return c.submitAccountForm(ctx, "register", c.variant.RegisterPath, vals, req)
}

func (c *Client) submitAccountForm(ctx context.Context, op, path string, vals url.Values, payload any) (*schema.RedirectResponse, error) {
	var (
		b   *body
		err error
	)
	switch c.variant.LoginEncoding {
	case variant.Form:
		if tok := c.csrf.Token(); tok != "" {
			vals.Set(c.variant.CSRFField, tok)
		}
		b = formBody(vals)
	default:
		b, err = jsonBody(payload)
		if err != nil {
			return nil, err
		}
	}

	var resp schema.RedirectResponse
	if err := c.do(ctx, op, http.MethodPost, path, nil, b, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ToggleWishlist adds productID to the wishlist or removes it. The request
// carries no body beyond the form content type, as the storefront's script
// sends it.
func (c *Client) ToggleWishlist(ctx context.Context, productID string) (*schema.WishlistResponse, error) {
	tmpl := c.variant.WishlistPath
	if tmpl == "" {
		return nil, fmt.Errorf("toggle wishlist: %w", variant.ErrUnsupported)
	}
	path, err := variant.ProductPath(tmpl, productID)
	if err != nil {
		return nil, err
	}
	var resp schema.WishlistResponse
	if err := c.do(ctx, "toggle wishlist", http.MethodPost, path, nil, formBody(url.Values{}), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Logout ends the session.
func (c *Client) Logout(ctx context.Context) (*schema.RedirectResponse, error) {
	var resp schema.RedirectResponse
	if err := c.do(ctx, "logout", http.MethodPost, c.variant.LogoutPath, nil, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status reports whether the session is authenticated and as whom.
func (c *Client) Status(ctx context.Context) (*schema.StatusResponse, error) {
	var resp schema.StatusResponse
	if err := c.do(ctx, "auth status", http.MethodGet, c.variant.StatusPath, nil, nil, &resp); err != nil {
		return nil, err
	}
	if err := validate.Status(&resp); err != nil {
		return nil, &TransportError{Op: "auth status", Err: err}
	}
	return &resp, nil
}

// Suggestions fetches product suggestions for a search query.
func (c *Client) Suggestions(ctx context.Context, query string) ([]schema.Suggestion, error) {
	var resp schema.SuggestionsResponse
	q := url.Values{"q": {query}}
	if err := c.do(ctx, "search suggestions", http.MethodGet, c.variant.SuggestPath, q, nil, &resp); err != nil {
		return nil, err
	}
	if err := validate.Suggestions(resp.Suggestions); err != nil {
		return nil, &TransportError{Op: "search suggestions", Err: err}
	}
	return resp.Suggestions, nil
}

// FetchPage GETs an HTML page with the session cookies, for reloads.
func (c *Client) FetchPage(ctx context.Context, path string) ([]byte, error) {
	const op = "fetch page"
	req, err := c.newRequest(ctx, http.MethodGet, path, nil, nil)
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}
	req.Header.Set("Accept", "text/html")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransportError{Op: op, Err: fmt.Errorf("HTTP request failed: %w", err)}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &TransportError{Op: op, Err: fmt.Errorf("reading response body: %w", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &AppError{Op: op, Status: resp.StatusCode}
	}
	return data, nil
}

type body struct {
	contentType string
	data        []byte
}

func jsonBody(v any) (*body, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}
	return &body{contentType: "application/json", data: data}, nil
}

func formBody(vals url.Values) *body {
	return &body{contentType: "application/x-www-form-urlencoded", data: []byte(vals.Encode())}
}

// newRequest resolves path against the base URL and sets the headers every
// storefront call carries. Mutating requests get the CSRF header.
func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, b *body) (*http.Request, error) {
	ref, err := url.Parse(strings.TrimPrefix(path, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid path %q: %w", path, err)
	}
	u := c.base.ResolveReference(ref)
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	var rd io.Reader
	if b != nil {
		rd = bytes.NewReader(b.data)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), rd)
	if err != nil {
		return nil, fmt.Errorf("creating HTTP request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if b != nil {
		req.Header.Set("Content-Type", b.contentType)
	}
	if method != http.MethodGet && method != http.MethodHead {
		if tok := c.csrf.Token(); tok != "" {
			req.Header.Set(c.variant.CSRFHeader, tok)
		}
		req.Header.Set("Referer", c.base.String())
	}
	return req, nil
}

// do performs one round trip and classifies the outcome. Status is checked
// first, then the payload is decoded into out, then the success flag.
func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, b *body, out any) error {
	req, err := c.newRequest(ctx, method, path, query, b)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	reqID := req.Header.Get("X-Request-ID")

	if c.debug {
		var reqBody string
		if b != nil {
			reqBody = redact.Redact(string(b.data))
		}
		c.log.Debug("request",
			zap.String("op", op),
			zap.String("method", method),
			zap.String("url", req.URL.String()),
			zap.String("request_id", reqID),
			zap.String("body", reqBody))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &TransportError{Op: op, Err: fmt.Errorf("HTTP request failed: %w", err)}
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return &TransportError{Op: op, Err: fmt.Errorf("reading response body: %w", err)}
	}
	respStr := string(respBytes)

	if c.debug {
		c.log.Debug("response",
			zap.String("op", op),
			zap.Int("status", resp.StatusCode),
			zap.String("request_id", reqID),
			zap.String("body", truncate(redact.Redact(respStr), 500)))
	}

	var env schema.Envelope
	_ = json.Unmarshal(respBytes, &env) // best effort; bodies of failed requests may not be JSON

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &AppError{Op: op, Status: resp.StatusCode, Message: envelopeMessage(&env)}
	}

	if out != nil {
		if err := json.Unmarshal(respBytes, out); err != nil {
			return &TransportError{Op: op, Err: fmt.Errorf("parsing response JSON (HTTP %d, body: %s): %w", resp.StatusCode, truncate(respStr, 200), err)}
		}
	}

	if env.Success != nil && !*env.Success {
		return &AppError{Op: op, Status: resp.StatusCode, Message: envelopeMessage(&env)}
	}
	return nil
}

// truncate limits a string to maxLen runes, appending "..." if truncated.
func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen]) + "..."
}
