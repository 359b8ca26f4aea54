package main

import (
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/dshills/cartsync/internal/schema"
	"github.com/dshills/cartsync/internal/storefronttest"
	"github.com/dshills/cartsync/internal/variant"
)

// startStorefront starts a fake storefront with two products in the cart
// and points CARTSYNC_BASE_URL at it.
func startStorefront(t *testing.T, variantName string) *storefronttest.Server {
	t.Helper()
	v, err := variant.Get(variantName)
	if err != nil {
		t.Fatal(err)
	}
	srv := storefronttest.New(t, v)
	srv.AddProduct(storefronttest.Product{ID: "42", Name: "Laptop", Price: decimal.RequireFromString("500.00"), Stock: 5})
	srv.AddProduct(storefronttest.Product{ID: "7", Name: "Mouse", Price: decimal.RequireFromString("20.00"), Stock: 10})
	srv.AddUser(storefronttest.User{Username: "ana", Password: "secret", Rol: "admin", RedirectURL: "/dashboard/"})
	srv.SetLine("42", 1)
	srv.SetLine("7", 2)

	t.Setenv("CARTSYNC_BASE_URL", srv.URL)
	t.Setenv("CARTSYNC_VARIANT", variantName)
	t.Setenv("CARTSYNC_REDIRECT_DELAY", "0s")
	return srv
}

// execute runs the root command with args.
func execute(t *testing.T, args ...string) error {
	t.Helper()
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	return cmd.Execute()
}

func readResult(t *testing.T, path string) schema.Result {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading output: %v", err)
	}
	var res schema.Result
	if err := json.Unmarshal(data, &res); err != nil {
		t.Fatalf("output is not valid JSON: %v\n%s", err, data)
	}
	return res
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *exitErr
	if errors.As(err, &ee) {
		return ee.code
	}
	return -1
}

func TestAdd_UpdatesBadgeAndWritesOutputs(t *testing.T) {
	startStorefront(t, "gateway")
	dir := t.TempDir()
	out := filepath.Join(dir, "out.json")
	pageOut := filepath.Join(dir, "page.html")
	diffOut := filepath.Join(dir, "page.diff")

	err := execute(t, "add", "7", "--quantity", "2", "--out", out, "--page-out", pageOut, "--diff-out", diffOut)
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	res := readResult(t, out)
	if !res.OK || res.Operation != "add" {
		t.Errorf("result = %+v", res)
	}
	if len(res.Notifications) != 1 || res.Notifications[0].Message != "Mouse añadido al carrito" {
		t.Errorf("notifications = %+v", res.Notifications)
	}
	if res.Input.Variant != "gateway" || !strings.HasPrefix(res.Input.PageHash, "sha256:") {
		t.Errorf("input = %+v", res.Input)
	}

	pageHTML, err := os.ReadFile(pageOut)
	if err != nil {
		t.Fatalf("reading page: %v", err)
	}
	if !strings.Contains(string(pageHTML), `id="cart-counter" class="badge" style="display: block">5</span>`) {
		t.Errorf("badge not updated in page:\n%s", pageHTML)
	}
	diff, err := os.ReadFile(diffOut)
	if err != nil {
		t.Fatalf("reading diff: %v", err)
	}
	if !strings.Contains(string(diff), "+<span id=\"cart-counter\"") {
		t.Errorf("diff missing badge change:\n%s", diff)
	}
}

func TestUpdate_ZeroRemovesAndReloadsWhenEmpty(t *testing.T) {
	srv := startStorefront(t, "gateway")
	srv.SetLine("42", 0)
	out := filepath.Join(t.TempDir(), "out.json")

	if err := execute(t, "update", "7", "0", "--out", out); err != nil {
		t.Fatalf("update: %v", err)
	}
	res := readResult(t, out)
	if res.Navigation == nil || !res.Navigation.Reloaded {
		t.Errorf("navigation = %+v, want reload", res.Navigation)
	}
	if srv.RequestsTo("/api/cart/update/") != 0 {
		t.Error("update endpoint must not be called for quantity 0")
	}
	if len(srv.Lines()) != 0 {
		t.Errorf("cart = %v, want empty", srv.Lines())
	}
}

func TestUpdate_GatewayNewFormEncoded(t *testing.T) {
	srv := startStorefront(t, "gateway-new")
	out := filepath.Join(t.TempDir(), "out.json")

	if err := execute(t, "update", "7", "4", "--out", out); err != nil {
		t.Fatalf("update: %v", err)
	}
	if got := srv.Lines()["7"]; got != 4 {
		t.Errorf("quantity = %d, want 4", got)
	}
	if srv.RequestsTo("/tienda/carrito/agregar/7/") != 1 {
		t.Errorf("requests = %+v", srv.Requests())
	}
}

func TestUpdate_InvalidQuantity(t *testing.T) {
	startStorefront(t, "gateway")
	err := execute(t, "update", "7", "many")
	if code := exitCode(err); code != exitInput {
		t.Errorf("exit code = %d, want %d (%v)", code, exitInput, err)
	}
}

func TestAdd_RejectedWritesOutputAndExits2(t *testing.T) {
	startStorefront(t, "gateway")
	out := filepath.Join(t.TempDir(), "out.json")

	err := execute(t, "add", "999", "--out", out)
	if code := exitCode(err); code != exitRejected {
		t.Fatalf("exit code = %d, want %d (%v)", code, exitRejected, err)
	}
	res := readResult(t, out)
	if res.OK {
		t.Error("ok should be false")
	}
	if len(res.Notifications) != 1 || res.Notifications[0].Message != "Producto no encontrado" {
		t.Errorf("notifications = %+v", res.Notifications)
	}
}

func TestCount_TransportFailureExits4(t *testing.T) {
	srv := startStorefront(t, "gateway")
	pagePath := filepath.Join(t.TempDir(), "cart.html")
	if err := os.WriteFile(pagePath, []byte(srv.PageHTML()), 0o644); err != nil {
		t.Fatal(err)
	}
	srv.Close()
	out := filepath.Join(t.TempDir(), "out.json")

	err := execute(t, "count", "--page", pagePath, "--out", out)
	if code := exitCode(err); code != exitTransport {
		t.Fatalf("exit code = %d, want %d (%v)", code, exitTransport, err)
	}
	res := readResult(t, out)
	if res.OK || res.Count != nil {
		t.Errorf("result = %+v", res)
	}
	if len(res.Notifications) != 0 {
		t.Errorf("refresh failures must not notify: %+v", res.Notifications)
	}
}

func TestCountAndTotals(t *testing.T) {
	srv := startStorefront(t, "gateway")
	srv.SetDiscount(decimal.RequireFromString("15"))
	dir := t.TempDir()

	countOut := filepath.Join(dir, "count.json")
	if err := execute(t, "count", "--out", countOut); err != nil {
		t.Fatalf("count: %v", err)
	}
	if res := readResult(t, countOut); res.Count == nil || *res.Count != 3 {
		t.Errorf("count = %v, want 3", res.Count)
	}

	totalsOut := filepath.Join(dir, "totals.md")
	pageOut := filepath.Join(dir, "page.html")
	if err := execute(t, "totals", "--format", "md", "--out", totalsOut, "--page-out", pageOut); err != nil {
		t.Fatalf("totals: %v", err)
	}
	md, _ := os.ReadFile(totalsOut)
	for _, want := range []string{"# cartsync: totals", "| Subtotal | $540.00 |", "| Discount | -$15.00 |", "| **Total** | **$535.00** |"} {
		if !strings.Contains(string(md), want) {
			t.Errorf("markdown missing %q:\n%s", want, md)
		}
	}
	pageHTML, _ := os.ReadFile(pageOut)
	if !strings.Contains(string(pageHTML), `<span id="cartDiscount">-$15.00</span>`) {
		t.Errorf("discount not written to page:\n%s", pageHTML)
	}
}

func TestLoginStatusLogout_CookiesPersist(t *testing.T) {
	for _, name := range variant.Names() {
		t.Run(name, func(t *testing.T) {
			startStorefront(t, name)
			dir := t.TempDir()
			cookies := filepath.Join(dir, "cookies.json")

			loginOut := filepath.Join(dir, "login.json")
			t.Setenv(envPassword, "secret")
			if err := execute(t, "login", "--username", "ana", "--cookies", cookies, "--out", loginOut); err != nil {
				t.Fatalf("login: %v", err)
			}
			res := readResult(t, loginOut)
			if res.Navigation == nil || res.Navigation.Target != "/dashboard/" {
				t.Errorf("navigation = %+v", res.Navigation)
			}

			statusOut := filepath.Join(dir, "status.json")
			pageOut := filepath.Join(dir, "page.html")
			if err := execute(t, "status", "--cookies", cookies, "--out", statusOut, "--page-out", pageOut); err != nil {
				t.Fatalf("status: %v", err)
			}
			res = readResult(t, statusOut)
			if res.Session == nil || !res.Session.IsAuthenticated || res.Session.User.Rol != "admin" {
				t.Errorf("session = %+v", res.Session)
			}
			pageHTML, _ := os.ReadFile(pageOut)
			if !strings.Contains(string(pageHTML), `<span id="currentUserName">ana</span>`) {
				t.Errorf("user name not applied:\n%s", pageHTML)
			}

			if err := execute(t, "logout", "--cookies", cookies, "--out", filepath.Join(dir, "logout.json")); err != nil {
				t.Fatalf("logout: %v", err)
			}
			if err := execute(t, "status", "--cookies", cookies, "--out", statusOut); err != nil {
				t.Fatalf("status after logout: %v", err)
			}
			if res = readResult(t, statusOut); res.Session == nil || res.Session.IsAuthenticated {
				t.Errorf("session after logout = %+v", res.Session)
			}
		})
	}
}

func TestLogin_BadPasswordExits2(t *testing.T) {
	for _, name := range variant.Names() {
		t.Run(name, func(t *testing.T) {
			startStorefront(t, name)
			out := filepath.Join(t.TempDir(), "out.json")

			err := execute(t, "login", "--username", "ana", "--password", "nope", "--out", out)
			if code := exitCode(err); code != exitRejected {
				t.Fatalf("exit code = %d, want %d (%v)", code, exitRejected, err)
			}
			res := readResult(t, out)
			if len(res.Notifications) != 1 || res.Notifications[0].Kind != schema.NotificationFailure {
				t.Errorf("notifications = %+v", res.Notifications)
			}
		})
	}
}

func TestLogin_MissingPasswordExits3(t *testing.T) {
	startStorefront(t, "gateway")
	t.Setenv(envPassword, "")
	err := execute(t, "login", "--username", "ana", "--out", filepath.Join(t.TempDir(), "out.json"))
	if code := exitCode(err); code != exitInput {
		t.Errorf("exit code = %d, want %d (%v)", code, exitInput, err)
	}
}

func TestSuggest(t *testing.T) {
	startStorefront(t, "gateway")
	out := filepath.Join(t.TempDir(), "out.json")

	if err := execute(t, "suggest", "lap", "--out", out); err != nil {
		t.Fatalf("suggest: %v", err)
	}
	res := readResult(t, out)
	if len(res.Suggestions) != 1 || res.Suggestions[0].Name != "Laptop" {
		t.Errorf("suggestions = %+v", res.Suggestions)
	}
	if res.Navigation == nil || res.Navigation.Target != "/productos/?search=lap" {
		t.Errorf("navigation = %+v", res.Navigation)
	}
}

func TestInvalidFormatExits3(t *testing.T) {
	startStorefront(t, "gateway")
	err := execute(t, "count", "--format", "xml")
	if code := exitCode(err); code != exitInput {
		t.Errorf("exit code = %d, want %d (%v)", code, exitInput, err)
	}
}

func TestMissingBaseURLExits3(t *testing.T) {
	t.Setenv("CARTSYNC_BASE_URL", "")
	err := execute(t, "count")
	if code := exitCode(err); code != exitInput {
		t.Errorf("exit code = %d, want %d (%v)", code, exitInput, err)
	}
}

func TestConfigFile(t *testing.T) {
	srv := startStorefront(t, "gateway")
	t.Setenv("CARTSYNC_BASE_URL", "")
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "cartsync.yaml")
	if err := os.WriteFile(cfgPath, []byte("base_url: "+srv.URL+"\nvariant: gateway\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	out := filepath.Join(dir, "out.json")
	if err := execute(t, "count", "--config", cfgPath, "--out", out); err != nil {
		t.Fatalf("count: %v", err)
	}
	if res := readResult(t, out); res.Input.BaseURL != srv.URL+"/" {
		t.Errorf("base url = %q", res.Input.BaseURL)
	}
}

func TestUpdate_DotProductIDExits3(t *testing.T) {
	srv := startStorefront(t, "gateway-new")
	out := filepath.Join(t.TempDir(), "out.json")

	err := execute(t, "update", "..", "3", "--out", out)
	if code := exitCode(err); code != exitInput {
		t.Fatalf("exit code = %d, want %d (%v)", code, exitInput, err)
	}
	if srv.RequestsTo("/tienda/carrito/agregar/") != 0 {
		t.Errorf("requests = %+v", srv.Requests())
	}
	if res := readResult(t, out); res.OK {
		t.Errorf("result = %+v", res)
	}
}

func TestWishlist_TogglesHeart(t *testing.T) {
	srv := startStorefront(t, "gateway-new")
	dir := t.TempDir()
	out := filepath.Join(dir, "out.json")
	pageOut := filepath.Join(dir, "page.html")

	if err := execute(t, "wishlist", "7", "--out", out, "--page-out", pageOut); err != nil {
		t.Fatalf("wishlist: %v", err)
	}
	res := readResult(t, out)
	if res.InWishlist == nil || !*res.InWishlist {
		t.Errorf("in_wishlist = %v", res.InWishlist)
	}
	if !srv.Wishlisted("7") {
		t.Error("server wishlist not updated")
	}
	pageHTML, _ := os.ReadFile(pageOut)
	if !strings.Contains(string(pageHTML), `<button id="wishlist-7" class="toggle-wishlist"><i class="bi bi-heart-fill"></i></button>`) {
		t.Errorf("heart not filled:\n%s", pageHTML)
	}

	if err := execute(t, "wishlist", "7", "--out", out); err != nil {
		t.Fatalf("second wishlist: %v", err)
	}
	if res := readResult(t, out); res.InWishlist == nil || *res.InWishlist {
		t.Errorf("in_wishlist after second toggle = %v", res.InWishlist)
	}
}

func TestWishlist_UnsupportedVariantExits3(t *testing.T) {
	startStorefront(t, "gateway")
	err := execute(t, "wishlist", "7", "--out", filepath.Join(t.TempDir(), "out.json"))
	if code := exitCode(err); code != exitInput {
		t.Errorf("exit code = %d, want %d (%v)", code, exitInput, err)
	}
}

func TestRegister_CreatesAccount(t *testing.T) {
	for _, name := range variant.Names() {
		t.Run(name, func(t *testing.T) {
			srv := startStorefront(t, name)
			out := filepath.Join(t.TempDir(), "out.json")

			err := execute(t, "register", "--username", "nuevo", "--email", "nuevo@example.com", "--password", "pw-123", "--out", out)
			if err != nil {
				t.Fatalf("register: %v", err)
			}
			u, ok := srv.User("nuevo")
			if !ok || u.Email != "nuevo@example.com" || u.Password != "pw-123" {
				t.Errorf("user = %+v, %v", u, ok)
			}
			res := readResult(t, out)
			if res.Navigation == nil || res.Navigation.Target != "/" {
				t.Errorf("navigation = %+v", res.Navigation)
			}
			if len(res.Notifications) != 1 || res.Notifications[0].Message != "Registro exitoso" {
				t.Errorf("notifications = %+v", res.Notifications)
			}
		})
	}
}

func TestRegister_TakenUsernameExits2(t *testing.T) {
	for _, name := range variant.Names() {
		t.Run(name, func(t *testing.T) {
			startStorefront(t, name)
			out := filepath.Join(t.TempDir(), "out.json")

			err := execute(t, "register", "--username", "ana", "--password", "pw-123", "--out", out)
			if code := exitCode(err); code != exitRejected {
				t.Fatalf("exit code = %d, want %d (%v)", code, exitRejected, err)
			}
			res := readResult(t, out)
			want := schema.Notification{Kind: schema.NotificationFailure, Message: "Ya existe un usuario con ese nombre."}
			if len(res.Notifications) != 1 || res.Notifications[0] != want {
				t.Errorf("notifications = %+v", res.Notifications)
			}
			if res.Navigation != nil {
				t.Errorf("navigation = %+v", res.Navigation)
			}
		})
	}
}

func TestRegister_PasswordMismatchExits3(t *testing.T) {
	srv := startStorefront(t, "gateway")
	err := execute(t, "register", "--username", "nuevo", "--password", "a", "--password2", "b", "--out", filepath.Join(t.TempDir(), "out.json"))
	if code := exitCode(err); code != exitInput {
		t.Errorf("exit code = %d, want %d (%v)", code, exitInput, err)
	}
	if srv.RequestsTo("/api/register/") != 0 {
		t.Error("register endpoint must not be called")
	}
}

func TestLogin_EmployeeChoosesView(t *testing.T) {
	srv := startStorefront(t, "gateway")
	srv.AddUser(storefronttest.User{Username: "eva", Password: "secret", Rol: "empleado"})
	t.Setenv(envPassword, "secret")
	dir := t.TempDir()

	out := filepath.Join(dir, "choose.json")
	pageOut := filepath.Join(dir, "page.html")
	if err := execute(t, "login", "--username", "eva", "--out", out, "--page-out", pageOut); err != nil {
		t.Fatalf("login: %v", err)
	}
	res := readResult(t, out)
	if res.Navigation != nil {
		t.Errorf("navigated without a choice: %+v", res.Navigation)
	}
	want := []schema.ViewChoice{{Label: "Customer view", Target: "/"}, {Label: "Employee view", Target: "/admin/dashboard/"}}
	if len(res.ViewChoices) != 2 || res.ViewChoices[0] != want[0] || res.ViewChoices[1] != want[1] {
		t.Errorf("view choices = %+v", res.ViewChoices)
	}
	pageHTML, _ := os.ReadFile(pageOut)
	if !strings.Contains(string(pageHTML), `data-href="/admin/dashboard/"`) {
		t.Errorf("choice buttons missing:\n%s", pageHTML)
	}

	out = filepath.Join(dir, "employee.json")
	if err := execute(t, "login", "--username", "eva", "--view", "employee", "--out", out); err != nil {
		t.Fatalf("login --view employee: %v", err)
	}
	if res := readResult(t, out); res.Navigation == nil || res.Navigation.Target != "/admin/dashboard/" {
		t.Errorf("navigation = %+v", res.Navigation)
	}
}

func TestLogin_InvalidViewExits3(t *testing.T) {
	startStorefront(t, "gateway")
	err := execute(t, "login", "--username", "ana", "--password", "secret", "--view", "admin")
	if code := exitCode(err); code != exitInput {
		t.Errorf("exit code = %d, want %d (%v)", code, exitInput, err)
	}
}
