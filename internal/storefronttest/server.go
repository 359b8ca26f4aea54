// Package storefronttest runs an in-memory storefront that speaks either
// variant's endpoints, for tests of the sync clients.
package storefronttest

import (
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/dshills/cartsync/internal/variant"
)

const (
	// CSRFToken is the token issued in the csrftoken cookie and the page's
	// hidden field.
	CSRFToken = "test-csrf-token"
	sessionID = "test-session"
)

// Product is a catalog entry.
type Product struct {
	ID    string
	Name  string
	Price decimal.Decimal
	Stock int
}

// User is an account that can log in.
type User struct {
	Username    string
	Email       string
	Password    string
	Rol         string
	RedirectURL string
}

// Request is a recorded incoming request.
type Request struct {
	Method      string
	Path        string
	ContentType string
	CSRF        string
	Body        string
}

type failure struct {
	status int
	body   string
}

// Server is a fake storefront backed by an in-memory cart.
type Server struct {
	*httptest.Server
	Variant *variant.Variant

	mu       sync.Mutex
	products map[string]Product
	users    map[string]User
	order    []string       // product ids in insertion order
	lines    map[string]int // product id → quantity
	session  string         // logged-in username, "" when anonymous
	shipping decimal.Decimal
	discount decimal.NullDecimal
	wishlist map[string]bool
	failures map[string]failure
	requests []Request
}

// New starts a storefront for v and closes it when the test ends.
func New(t testing.TB, v *variant.Variant) *Server {
	t.Helper()
	s := &Server{
		Variant:  v,
		products: make(map[string]Product),
		users:    make(map[string]User),
		lines:    make(map[string]int),
		wishlist: make(map[string]bool),
		failures: make(map[string]failure),
		shipping: decimal.RequireFromString("10.00"),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

// AddProduct registers a catalog product.
func (s *Server) AddProduct(p Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID] = p
}

// AddUser registers an account.
func (s *Server) AddUser(u User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.Username] = u
}

// SetLine puts a line in the cart directly, bypassing stock checks.
func (s *Server) SetLine(productID string, quantity int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setLineLocked(productID, quantity)
}

// SetDiscount applies a discount to the totals.
func (s *Server) SetDiscount(d decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.discount = decimal.NewNullDecimal(d)
}

// Lines returns a copy of the cart quantities by product id.
func (s *Server) Lines() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(s.lines))
	for k, v := range s.lines {
		out[k] = v
	}
	return out
}

// User returns a registered account.
func (s *Server) User(username string) (User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[username]
	return u, ok
}

// Wishlisted reports whether productID is in the wishlist.
func (s *Server) Wishlisted(productID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wishlist[productID]
}

// FailNext makes the next request to path answer with status and body.
func (s *Server) FailNext(path string, status int, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[path] = failure{status: status, body: body}
}

// Requests returns every request received so far.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// RequestsTo counts requests whose path starts with prefix.
func (s *Server) RequestsTo(prefix string) int {
	n := 0
	for _, r := range s.Requests() {
		if strings.HasPrefix(r.Path, prefix) {
			n++
		}
	}
	return n
}

// PageHTML renders the cart page for the current cart.
func (s *Server) PageHTML() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pageLocked()
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	data, _ := io.ReadAll(r.Body)
	s.mu.Lock()
	defer s.mu.Unlock()

	s.requests = append(s.requests, Request{
		Method:      r.Method,
		Path:        r.URL.Path,
		ContentType: r.Header.Get("Content-Type"),
		CSRF:        r.Header.Get(s.Variant.CSRFHeader),
		Body:        string(data),
	})

	if f, ok := s.failures[r.URL.Path]; ok {
		delete(s.failures, r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(f.status)
		io.WriteString(w, f.body) //nolint:errcheck
		return
	}

	v := s.Variant
	path := r.URL.Path
	switch {
	case r.Method == http.MethodGet && (path == "/" || path == v.PagePath):
		s.handlePage(w)
	case r.Method == http.MethodGet && path == v.CountPath:
		writeJSON(w, http.StatusOK, map[string]any{"count": s.countLocked()})
	case r.Method == http.MethodGet && path == v.TotalsPath:
		s.handleTotals(w)
	case r.Method == http.MethodGet && path == v.StatusPath:
		s.handleStatus(w, r)
	case r.Method == http.MethodGet && path == v.SuggestPath:
		s.handleSuggestions(w, r.URL.Query().Get("q"))
	case r.Method != http.MethodPost:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"success": false, "message": "Método no permitido"})
	case r.Header.Get(v.CSRFHeader) != CSRFToken && !formHasToken(r, data, v.CSRFField):
		writeJSON(w, http.StatusForbidden, map[string]any{"error": "CSRF verification failed"})
	case path == v.AddPath:
		s.handleAdd(w, r, data)
	case s.matchUpdate(path):
		s.handleUpdate(w, r, data)
	case path == v.RemovePath:
		s.handleRemove(w, r, data)
	case path == v.LoginPath:
		s.handleLogin(w, r, data)
	case v.RegisterPath != "" && path == v.RegisterPath:
		s.handleRegister(w, r, data)
	case s.matchWishlist(path):
		s.handleWishlist(w, r)
	case path == v.LogoutPath:
		s.session = ""
		http.SetCookie(w, &http.Cookie{Name: "sessionid", Value: "", Path: "/", MaxAge: -1})
		writeJSON(w, http.StatusOK, map[string]any{"redirect_url": "/"})
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handlePage(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{Name: s.Variant.CSRFCookie, Value: CSRFToken, Path: "/"})
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	io.WriteString(w, s.pageLocked()) //nolint:errcheck
}

func (s *Server) handleAdd(w http.ResponseWriter, r *http.Request, data []byte) {
	id, qty, err := decodeCartRequest(r, data, "")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "message": err.Error()})
		return
	}
	if qty < 1 {
		qty = 1
	}
	p, ok := s.products[id]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"success": false, "message": "Producto no encontrado"})
		return
	}
	if s.lines[id]+qty > p.Stock {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "message": "Stock insuficiente"})
		return
	}
	s.setLineLocked(id, s.lines[id]+qty)
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"message":    fmt.Sprintf("%s añadido al carrito", p.Name),
		"cart_total": s.countLocked(),
	})
}

func (s *Server) matchUpdate(path string) bool {
	tmpl := s.Variant.UpdatePath
	if !variant.PathCarriesProduct(tmpl) {
		return path == tmpl
	}
	prefix, _, _ := strings.Cut(tmpl, "{product_id}")
	return strings.HasPrefix(path, prefix)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request, data []byte) {
	var pathID string
	if tmpl := s.Variant.UpdatePath; variant.PathCarriesProduct(tmpl) {
		prefix, _, _ := strings.Cut(tmpl, "{product_id}")
		pathID, _ = url.PathUnescape(strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, prefix), "/"))
	}
	id, qty, err := decodeCartRequest(r, data, pathID)
	if err != nil || qty < 1 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "message": "Datos de actualización inválidos"})
		return
	}
	p, ok := s.products[id]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"success": false, "message": "Producto no encontrado"})
		return
	}
	if qty > p.Stock {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "message": "Stock insuficiente"})
		return
	}
	s.setLineLocked(id, qty)
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"message":    "Cantidad actualizada",
		"cart_total": s.countLocked(),
	})
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request, data []byte) {
	id, _, err := decodeCartRequest(r, data, "")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "message": err.Error()})
		return
	}
	if _, ok := s.lines[id]; !ok {
		writeJSON(w, http.StatusOK, map[string]any{"success": false, "error": "El producto no está en el carrito"})
		return
	}
	s.setLineLocked(id, 0)
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"message":  "Producto eliminado del carrito",
		"is_empty": len(s.lines) == 0,
	})
}

func (s *Server) handleTotals(w http.ResponseWriter) {
	subtotal, shipping, total := s.totalsLocked()
	resp := map[string]any{
		"subtotal":      subtotal.StringFixed(2),
		"total":         total.StringFixed(2),
		"shipping_cost": shipping.StringFixed(2),
	}
	if s.discount.Valid {
		resp["discount"] = s.discount.Decimal.StringFixed(2)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request, data []byte) {
	var username, password string
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var req struct {
			Username string `json:"username"`
			Password string `json:"password"`
		}
		_ = json.Unmarshal(data, &req)
		username, password = req.Username, req.Password
	} else {
		vals, _ := url.ParseQuery(string(data))
		username, password = vals.Get("username"), vals.Get("password")
	}

	u, ok := s.users[username]
	if !ok || u.Password != password {
		if s.Variant.LoginEncoding == variant.Form {
			writeJSON(w, http.StatusOK, map[string]any{
				"success": false,
				"errors":  map[string][]string{"__all__": {"Usuario o contraseña incorrectos"}},
			})
			return
		}
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "Credenciales inválidas"})
		return
	}

	s.startSessionLocked(w, u)
	resp := map[string]any{
		"success":      true,
		"message":      "Inicio de sesión exitoso",
		"redirect_url": redirectOrRoot(u.RedirectURL),
	}
	if s.Variant.LoginEncoding == variant.JSON {
		resp["user"] = map[string]string{"username": u.Username, "rol": u.Rol}
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleRegister creates a customer account and signs it in.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request, data []byte) {
	var username, email, pw1, pw2 string
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var req struct {
			Username  string `json:"username"`
			Email     string `json:"email"`
			Password1 string `json:"password1"`
			Password2 string `json:"password2"`
		}
		_ = json.Unmarshal(data, &req)
		username, email, pw1, pw2 = req.Username, req.Email, req.Password1, req.Password2
	} else {
		vals, _ := url.ParseQuery(string(data))
		username, email = vals.Get("username"), vals.Get("email")
		pw1, pw2 = vals.Get("password1"), vals.Get("password2")
	}

	errs := map[string][]string{}
	if username == "" {
		errs["username"] = []string{"Este campo es obligatorio."}
	} else if _, taken := s.users[username]; taken {
		errs["username"] = []string{"Ya existe un usuario con ese nombre."}
	}
	if pw1 == "" || pw1 != pw2 {
		errs["password2"] = []string{"Las contraseñas no coinciden."}
	}
	if len(errs) > 0 {
		if s.Variant.LoginEncoding == variant.Form {
			writeJSON(w, http.StatusOK, map[string]any{"success": false, "errors": errs})
			return
		}
		var first string
		for _, k := range []string{"username", "password2"} {
			if m, ok := errs[k]; ok {
				first = m[0]
				break
			}
		}
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": first})
		return
	}

	u := User{Username: username, Email: email, Password: pw1, Rol: "cliente"}
	s.users[username] = u
	s.startSessionLocked(w, u)
	writeJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"message":      "Registro exitoso",
		"redirect_url": "/",
	})
}

func (s *Server) matchWishlist(path string) bool {
	tmpl := s.Variant.WishlistPath
	if tmpl == "" {
		return false
	}
	prefix, _, _ := strings.Cut(tmpl, "{product_id}")
	return strings.HasPrefix(path, prefix)
}

// handleWishlist flips a product's wishlist membership.
func (s *Server) handleWishlist(w http.ResponseWriter, r *http.Request) {
	prefix, _, _ := strings.Cut(s.Variant.WishlistPath, "{product_id}")
	id, _ := url.PathUnescape(strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, prefix), "/"))
	if _, ok := s.products[id]; !ok {
		http.NotFound(w, r)
		return
	}
	in := !s.wishlist[id]
	if in {
		s.wishlist[id] = true
	} else {
		delete(s.wishlist, id)
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "in_wishlist": in})
}

func (s *Server) startSessionLocked(w http.ResponseWriter, u User) {
	s.session = u.Username
	http.SetCookie(w, &http.Cookie{Name: "sessionid", Value: sessionID, Path: "/", HttpOnly: true})
}

func redirectOrRoot(target string) string {
	if target == "" {
		return "/"
	}
	return target
}

// handleStatus reports the logged-in user to requests carrying the session
// cookie.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	u, ok := s.users[s.session]
	ck, err := r.Cookie("sessionid")
	if s.session == "" || !ok || err != nil || ck.Value != sessionID {
		writeJSON(w, http.StatusOK, map[string]any{"is_authenticated": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"is_authenticated": true,
		"user":             map[string]string{"username": u.Username, "rol": u.Rol},
	})
}

func (s *Server) handleSuggestions(w http.ResponseWriter, q string) {
	q = strings.ToLower(strings.TrimSpace(q))
	ids := make([]string, 0, len(s.products))
	for id := range s.products {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := []map[string]string{}
	for _, id := range ids {
		p := s.products[id]
		if q == "" || !strings.Contains(strings.ToLower(p.Name), q) {
			continue
		}
		out = append(out, map[string]string{
			"nombre": p.Name,
			"precio": p.Price.StringFixed(2),
			"url":    "/producto/" + id + "/",
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"suggestions": out})
}

func (s *Server) setLineLocked(id string, qty int) {
	if qty <= 0 {
		delete(s.lines, id)
		for i, o := range s.order {
			if o == id {
				s.order = append(s.order[:i], s.order[i+1:]...)
				break
			}
		}
		return
	}
	if _, ok := s.lines[id]; !ok {
		s.order = append(s.order, id)
	}
	s.lines[id] = qty
}

func (s *Server) countLocked() int {
	n := 0
	for _, q := range s.lines {
		n += q
	}
	return n
}

func (s *Server) totalsLocked() (subtotal, shipping, total decimal.Decimal) {
	for id, q := range s.lines {
		subtotal = subtotal.Add(s.products[id].Price.Mul(decimal.NewFromInt(int64(q))))
	}
	if subtotal.IsPositive() {
		shipping = s.shipping
	}
	total = subtotal.Add(shipping)
	if s.discount.Valid {
		total = total.Sub(s.discount.Decimal)
	}
	return subtotal, shipping, total
}

func (s *Server) pageLocked() string {
	var sb strings.Builder
	sb.WriteString("<!DOCTYPE html>\n<html><head><title>Carrito</title></head><body>\n")
	sb.WriteString(`<form><input type="hidden" name="` + s.Variant.CSRFField + `" value="` + CSRFToken + `"></form>` + "\n")
	count := s.countLocked()
	for _, id := range s.Variant.BadgeIDs {
		class := "badge"
		if count == 0 {
			class += " d-none"
		}
		fmt.Fprintf(&sb, "<span id=%q class=%q>%d</span>\n", id, class, count)
	}
	sb.WriteString(`<div id="loginAlert" class="alert d-none"></div>` + "\n")
	sb.WriteString(`<span id="currentUserName"></span>` + "\n")
	sb.WriteString(`<a data-auth-required style="display: none" href="/perfil/">Perfil</a>` + "\n")
	sb.WriteString(`<a data-role-required="admin" style="display: none" href="/dashboard/">Dashboard</a>` + "\n")
	if s.Variant.WishlistPath != "" {
		ids := make([]string, 0, len(s.products))
		for id := range s.products {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			icon := "bi bi-heart"
			if s.wishlist[id] {
				icon = "bi bi-heart-fill"
			}
			fmt.Fprintf(&sb, "<button id=\"wishlist-%s\" class=\"toggle-wishlist\"><i class=%q></i></button>\n",
				html.EscapeString(id), icon)
		}
	}

	if len(s.order) == 0 {
		sb.WriteString(`<p id="emptyCart">Tu carrito está vacío</p>` + "\n")
	} else {
		sb.WriteString("<table><tbody>\n")
		for _, id := range s.order {
			p := s.products[id]
			fmt.Fprintf(&sb, "<tr id=\"cart-item-%s\"><td>%s</td><td>%d</td><td>$%s</td></tr>\n",
				html.EscapeString(id), html.EscapeString(p.Name), s.lines[id], p.Price.StringFixed(2))
		}
		sb.WriteString("</tbody></table>\n")
		subtotal, shipping, total := s.totalsLocked()
		fmt.Fprintf(&sb, "<span id=\"cartSubtotal\">$%s</span>\n", subtotal.StringFixed(2))
		fmt.Fprintf(&sb, "<span id=\"cartShipping\">$%s</span>\n", shipping.StringFixed(2))
		sb.WriteString("<span id=\"cartDiscount\"></span>\n")
		fmt.Fprintf(&sb, "<span id=\"cartTotal\">$%s</span>\n", total.StringFixed(2))
	}

	sb.WriteString(`<div id="cartToast" class="toast"><div class="toast-body"></div></div>` + "\n")
	sb.WriteString(`<div id="errorToast" class="toast"><div class="toast-body"></div></div>` + "\n")
	sb.WriteString("</body></html>\n")
	return sb.String()
}

// decodeCartRequest reads product_id and quantity from a JSON or
// form-encoded body. pathID, when set, takes precedence over the body.
func decodeCartRequest(r *http.Request, data []byte, pathID string) (string, int, error) {
	var (
		id  string
		qty int
	)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var req struct {
			ProductID json.RawMessage `json:"product_id"`
			Quantity  int             `json:"quantity"`
		}
		if err := json.Unmarshal(data, &req); err != nil {
			return "", 0, fmt.Errorf("JSON inválido")
		}
		id = strings.Trim(string(req.ProductID), `"`)
		qty = req.Quantity
	} else {
		vals, err := url.ParseQuery(string(data))
		if err != nil {
			return "", 0, fmt.Errorf("formulario inválido")
		}
		id = vals.Get("product_id")
		qty, _ = strconv.Atoi(vals.Get("quantity"))
	}
	if pathID != "" {
		id = pathID
	}
	if id == "" {
		return "", 0, fmt.Errorf("ID de producto inválido")
	}
	return id, qty, nil
}

func formHasToken(r *http.Request, data []byte, field string) bool {
	if !strings.HasPrefix(r.Header.Get("Content-Type"), "application/x-www-form-urlencoded") {
		return false
	}
	vals, err := url.ParseQuery(string(data))
	return err == nil && vals.Get(field) == CSRFToken
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}
