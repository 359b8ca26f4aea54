package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dshills/cartsync/internal/api"
	"github.com/dshills/cartsync/internal/auth"
	"github.com/dshills/cartsync/internal/cart"
	"github.com/dshills/cartsync/internal/config"
	"github.com/dshills/cartsync/internal/logging"
	"github.com/dshills/cartsync/internal/page"
	"github.com/dshills/cartsync/internal/patch"
	"github.com/dshills/cartsync/internal/render"
	"github.com/dshills/cartsync/internal/schema"
	"github.com/dshills/cartsync/internal/search"
	"github.com/dshills/cartsync/internal/variant"
	"github.com/dshills/cartsync/internal/view"
	"github.com/dshills/cartsync/internal/wishlist"
)

// version is set at build time via -ldflags "-X main.version=x.y.z".
var version = "dev"

// Exit codes.
const (
	exitUnexpected = 1
	exitRejected   = 2
	exitInput      = 3
	exitTransport  = 4
)

// envPassword supplies the login password when --password is not given.
const envPassword = "CARTSYNC_PASSWORD"

// Names accepted by login --view.
const (
	viewCustomer = "customer"
	viewEmployee = "employee"
)

// exitErr carries a numeric exit code through the cobra error path.
type exitErr struct {
	code int
	msg  string
}

func (e *exitErr) Error() string { return e.msg }

// codeError returns an exitErr for the given code.
func codeError(code int, format string, args ...any) error {
	return &exitErr{code: code, msg: fmt.Sprintf(format, args...)}
}

// globalFlags holds the flags shared by every command.
type globalFlags struct {
	configPath string
	baseURL    string
	variant    string
	page       string
	pageOut    string
	diffOut    string
	cookies    string
	format     string
	out        string
	verbose    bool
	debug      bool
}

// session is everything one command needs: the client, the page and the
// components that keep the page in sync.
type session struct {
	cfg      *config.Config
	variant  *variant.Variant
	log      *zap.Logger
	client   *api.Client
	doc      *page.Document
	view     *view.DocumentView
	location *view.Location
	cookies  string

	input  schema.Input
	before []byte
}

// operation runs one command against a session and fills in res.
type operation func(ctx context.Context, s *session, res *schema.Result) error

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		var ee *exitErr
		if errors.As(err, &ee) {
			fmt.Fprintln(os.Stderr, "Error:", ee.msg)
			os.Exit(ee.code)
		}
		// cobra already printed the error
		os.Exit(exitUnexpected)
	}
}

func newRootCmd() *cobra.Command {
	var flags globalFlags
	root := &cobra.Command{
		Use:           "cartsync",
		Short:         "Drive a storefront cart and keep a page snapshot in sync",
		Long:          "cartsync performs cart, login and search actions against a storefront and patches an HTML page the way the storefront's scripts would.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flags.configPath, "config", "", "YAML config file")
	pf.StringVar(&flags.baseURL, "base-url", "", "Storefront root URL (overrides config and "+config.EnvBaseURL+")")
	pf.StringVar(&flags.variant, "variant", "", "Storefront variant: gateway or gateway-new")
	pf.StringVar(&flags.page, "page", "", "HTML file used as the page; fetched from the storefront when empty")
	pf.StringVar(&flags.pageOut, "page-out", "", "Write the page after the operation to this file")
	pf.StringVar(&flags.diffOut, "diff-out", "", "Write a unified diff of the page to this file")
	pf.StringVar(&flags.cookies, "cookies", "", "Cookie file used to keep the session between runs")
	pf.StringVar(&flags.format, "format", "json", "Output format: json or md")
	pf.StringVar(&flags.out, "out", "", "Write output to file instead of stdout")
	pf.BoolVar(&flags.verbose, "verbose", false, "Log processing steps to stderr")
	pf.BoolVar(&flags.debug, "debug", false, "Log redacted request and response bodies to stderr")

	var quantity int
	addCmd := &cobra.Command{
		Use:   "add <product-id>",
		Short: "Add a product to the cart",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), "add", args, flags, func(ctx context.Context, s *session, res *schema.Result) error {
				return s.cart().AddItem(ctx, args[0], quantity)
			})
		},
	}
	addCmd.Flags().IntVar(&quantity, "quantity", 1, "Quantity to add")

	updateCmd := &cobra.Command{
		Use:   "update <product-id> <quantity>",
		Short: "Set the quantity of a cart line; zero or less removes it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			qty, err := strconv.Atoi(args[1])
			if err != nil {
				return codeError(exitInput, "invalid quantity %q: must be an integer", args[1])
			}
			return run(cmd.Context(), "update", args, flags, func(ctx context.Context, s *session, res *schema.Result) error {
				return s.cart().UpdateQuantity(ctx, args[0], qty)
			})
		},
	}

	removeCmd := &cobra.Command{
		Use:   "remove <product-id>",
		Short: "Remove a product from the cart",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), "remove", args, flags, func(ctx context.Context, s *session, res *schema.Result) error {
				return s.cart().RemoveItem(ctx, args[0])
			})
		},
	}

	countCmd := &cobra.Command{
		Use:   "count",
		Short: "Refresh the cart badge",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), "count", args, flags, func(ctx context.Context, s *session, res *schema.Result) error {
				n, err := s.cart().RefreshCount(ctx)
				if err != nil {
					return err
				}
				res.Count = &n
				return nil
			})
		},
	}

	totalsCmd := &cobra.Command{
		Use:   "totals",
		Short: "Refresh the cart subtotal, shipping, discount and total",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), "totals", args, flags, func(ctx context.Context, s *session, res *schema.Result) error {
				t, err := s.cart().RefreshTotals(ctx)
				if err != nil {
					return err
				}
				res.Totals = t
				return nil
			})
		},
	}

	var username, password, viewName string
	loginCmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and follow the redirect",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pw := password
			if pw == "" {
				pw = os.Getenv(envPassword)
			}
			switch viewName {
			case "", viewCustomer, viewEmployee:
			default:
				return codeError(exitInput, "--view must be %s or %s, got %q", viewCustomer, viewEmployee, viewName)
			}
			return run(cmd.Context(), "login", []string{username}, flags, func(ctx context.Context, s *session, res *schema.Result) error {
				sess, err := s.auth()
				if err != nil {
					return err
				}
				if err := sess.Login(ctx, username, pw); err != nil {
					return err
				}
				res.ViewChoices = s.view.ViewChoices()
				if sess.State() != auth.Choosing || viewName == "" {
					return nil
				}
				return sess.ChooseView(s.viewTarget(viewName))
			})
		},
	}
	loginCmd.Flags().StringVar(&username, "username", "", "Account username")
	loginCmd.Flags().StringVar(&password, "password", "", "Account password (default $"+envPassword+")")
	loginCmd.Flags().StringVar(&viewName, "view", "", "View to open when the account may choose: customer or employee")

	var reg schema.RegisterRequest
	registerCmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account and follow the redirect",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req := reg
			if req.Password == "" {
				req.Password = os.Getenv(envPassword)
			}
			return run(cmd.Context(), "register", []string{req.Username}, flags, func(ctx context.Context, s *session, res *schema.Result) error {
				sess, err := s.auth()
				if err != nil {
					return err
				}
				return sess.Register(ctx, req)
			})
		},
	}
	registerCmd.Flags().StringVar(&reg.Username, "username", "", "Account username")
	registerCmd.Flags().StringVar(&reg.Email, "email", "", "Account email")
	registerCmd.Flags().StringVar(&reg.Password, "password", "", "Account password (default $"+envPassword+")")
	registerCmd.Flags().StringVar(&reg.Password2, "password2", "", "Password confirmation (default --password)")

	wishlistCmd := &cobra.Command{
		Use:   "wishlist <product-id>",
		Short: "Add a product to the wishlist, or remove it if already there",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), "wishlist", args, flags, func(ctx context.Context, s *session, res *schema.Result) error {
				in, err := wishlist.New(s.client, s.view, s.log).Toggle(ctx, args[0])
				if err != nil {
					return err
				}
				res.InWishlist = &in
				return nil
			})
		},
	}

	logoutCmd := &cobra.Command{
		Use:   "logout",
		Short: "End the session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), "logout", args, flags, func(ctx context.Context, s *session, res *schema.Result) error {
				sess, err := s.auth()
				if err != nil {
					return err
				}
				return sess.Logout(ctx)
			})
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show the session and apply it to role-gated elements",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), "status", args, flags, func(ctx context.Context, s *session, res *schema.Result) error {
				sess, err := s.auth()
				if err != nil {
					return err
				}
				st, err := sess.CheckStatus(ctx)
				if err != nil {
					return err
				}
				res.Session = st
				return nil
			})
		},
	}

	suggestCmd := &cobra.Command{
		Use:   "suggest <query>",
		Short: "Fetch product suggestions for a search query",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), "suggest", args, flags, func(ctx context.Context, s *session, res *schema.Result) error {
				list, err := search.New(s.client, s.log).Suggest(ctx, args[0])
				if err != nil {
					return err
				}
				res.Suggestions = list
				if len(list) > 0 {
					res.Navigation = &schema.Navigation{Target: search.ResultsURL(args[0])}
				}
				return nil
			})
		},
	}

	root.AddCommand(addCmd, updateCmd, removeCmd, countCmd, totalsCmd, loginCmd, registerCmd, logoutCmd, statusCmd, suggestCmd, wishlistCmd)
	return root
}

// run opens a session, performs op, writes every requested output and maps
// the outcome to an exit code. Output is written even when op fails.
func run(ctx context.Context, name string, args []string, flags globalFlags, op operation) error {
	if ctx == nil {
		ctx = context.Background()
	}

	// --- Step 1: Validate flags ---
	if err := validateFlags(flags); err != nil {
		return codeError(exitInput, "invalid flags: %s", err)
	}
	renderer, err := render.NewRenderer(flags.format)
	if err != nil {
		return codeError(exitInput, "invalid format: %s", err)
	}

	// --- Step 2: Open the session ---
	s, err := open(ctx, flags)
	if err != nil {
		return err
	}
	defer s.log.Sync() //nolint:errcheck

	// --- Step 3: Perform the operation ---
	s.log.Info("running", zap.String("operation", name), zap.Strings("args", args))
	res := &schema.Result{
		Tool:      "cartsync",
		Version:   version,
		Operation: name,
		Input:     s.input,
	}
	res.Input.Args = append([]string{}, args...)
	opErr := op(ctx, s, res)
	res.OK = opErr == nil
	if opErr != nil {
		res.Error = opErr.Error()
	}
	res.Notifications = s.view.Notifications()
	if nav := s.location.Navigation(); nav != nil {
		res.Navigation = nav
	}

	// --- Step 4: Persist the session and page ---
	if err := s.saveCookies(); err != nil {
		s.log.Warn("saving cookies failed", zap.Error(err))
	}
	if err := s.writePage(flags); err != nil {
		return codeError(exitInput, "%s", err)
	}

	// --- Step 5: Render and write output ---
	out, err := renderer.Render(res)
	if err != nil {
		return codeError(exitUnexpected, "rendering output: %s", err)
	}
	if err := writeOutput(flags.out, out); err != nil {
		return codeError(exitInput, "%s", err)
	}

	return classify(name, opErr)
}

// open loads configuration, applies flag overrides and prepares the page.
func open(ctx context.Context, flags globalFlags) (*session, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, codeError(exitInput, "loading config: %s", err)
	}
	if flags.baseURL != "" {
		cfg.BaseURL = flags.baseURL
	}
	if flags.variant != "" {
		cfg.Variant = flags.variant
	}
	if flags.verbose || flags.debug {
		cfg.LogLevel = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, codeError(exitInput, "invalid config: %s", err)
	}

	log, err := logging.New(logging.Options{Level: cfg.LogLevel})
	if err != nil {
		return nil, codeError(exitInput, "creating logger: %s", err)
	}
	v, err := variant.Get(cfg.Variant)
	if err != nil {
		return nil, codeError(exitInput, "%s", err)
	}

	doc := page.Empty()
	if flags.page != "" {
		if doc, err = page.Load(flags.page); err != nil {
			return nil, codeError(exitInput, "loading page: %s", err)
		}
	}

	client, err := api.New(api.Config{
		BaseURL: cfg.BaseURL,
		Variant: v,
		Page:    doc,
		Logger:  log,
		Debug:   flags.debug,
	})
	if err != nil {
		return nil, codeError(exitInput, "%s", err)
	}

	s := &session{
		cfg:     cfg,
		variant: v,
		log:     log,
		client:  client,
		doc:     doc,
		cookies: flags.cookies,
	}
	if s.cookies == "" {
		s.cookies = cfg.CookieFile
	}
	if err := s.loadCookies(); err != nil {
		return nil, codeError(exitInput, "loading cookies: %s", err)
	}

	pagePath := cfg.PageFor(v)
	if flags.page == "" {
		log.Debug("fetching page", zap.String("path", pagePath))
		data, err := client.FetchPage(ctx, pagePath)
		if err != nil {
			return nil, classify("fetch page", err)
		}
		if err := doc.Replace(data); err != nil {
			return nil, codeError(exitTransport, "%s", err)
		}
	}

	s.before, err = doc.Render()
	if err != nil {
		return nil, codeError(exitUnexpected, "%s", err)
	}
	s.view = view.New(doc, v, log)
	s.location = view.NewLocation(doc, client, pagePath)
	s.input = schema.Input{
		BaseURL:  client.BaseURL().String(),
		Variant:  v.Name,
		Page:     flags.page,
		PageHash: doc.Hash,
	}
	if s.input.Page == "" {
		s.input.Page = pagePath
	}
	return s, nil
}

func (s *session) cart() *cart.Sync {
	return cart.New(cart.Config{
		Service:           s.client,
		View:              s.view,
		Notifier:          s.view,
		Reloader:          s.location,
		Logger:            s.log,
		BadgeFromMutation: s.variant.BadgeFromMutation,
	})
}

func (s *session) auth() (*auth.Session, error) {
	delay, err := s.cfg.GetRedirectDelay()
	if err != nil {
		return nil, err
	}
	return auth.New(auth.Config{
		Service:       s.client,
		UI:            s.view,
		Navigator:     s.location,
		Logger:        s.log,
		RedirectDelay: delay,
		EmployeeRol:   s.variant.EmployeeRol,
		DashboardPath: s.variant.DashboardPath,
	}), nil
}

// viewTarget maps a --view name to the path it opens.
func (s *session) viewTarget(name string) string {
	if name == viewEmployee {
		return s.variant.DashboardPath
	}
	return "/"
}

func (s *session) loadCookies() error {
	if s.cookies == "" {
		return nil
	}
	f, err := os.Open(s.cookies)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()
	return s.client.LoadCookies(f)
}

func (s *session) saveCookies() error {
	if s.cookies == "" {
		return nil
	}
	f, err := os.OpenFile(s.cookies, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if err := s.client.SaveCookies(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// writePage writes the page and its diff when requested.
func (s *session) writePage(flags globalFlags) error {
	if flags.pageOut == "" && flags.diffOut == "" {
		return nil
	}
	after, err := s.doc.Render()
	if err != nil {
		return err
	}
	if flags.pageOut != "" {
		if err := os.WriteFile(flags.pageOut, after, 0o644); err != nil {
			return fmt.Errorf("writing page: %w", err)
		}
	}
	if flags.diffOut != "" {
		name := filepath.Base(s.input.Page)
		if name == "" || name == "/" || name == "." {
			name = "page.html"
		}
		diff := patch.PageDiff(name, s.before, after)
		if err := os.WriteFile(flags.diffOut, []byte(diff), 0o644); err != nil {
			return fmt.Errorf("writing diff: %w", err)
		}
	}
	return nil
}

func writeOutput(path string, out []byte) error {
	if path != "" {
		if err := os.WriteFile(path, out, 0o644); err != nil {
			return fmt.Errorf("writing output file: %w", err)
		}
		return nil
	}
	if _, err := os.Stdout.Write(out); err != nil {
		return fmt.Errorf("writing output: %w", err)
	}
	// Ensure output ends with a newline for terminal friendliness.
	if len(out) > 0 && out[len(out)-1] != '\n' {
		fmt.Fprintln(os.Stdout)
	}
	return nil
}

// classify maps an operation error to an exit code.
func classify(name string, err error) error {
	if err == nil {
		return nil
	}
	var ae *api.AppError
	switch {
	case errors.Is(err, cart.ErrMissingProductID),
		errors.Is(err, cart.ErrInvalidQuantity),
		errors.Is(err, auth.ErrMissingCredentials),
		errors.Is(err, auth.ErrPasswordMismatch),
		errors.Is(err, variant.ErrInvalidProductID),
		errors.Is(err, variant.ErrUnsupported),
		errors.Is(err, wishlist.ErrMissingProductID):
		return codeError(exitInput, "%s: %s", name, err)
	case api.IsTransport(err):
		return codeError(exitTransport, "%s: %s", name, err)
	case errors.As(err, &ae):
		return codeError(exitRejected, "%s: %s", name, err)
	default:
		return codeError(exitUnexpected, "%s: %s", name, err)
	}
}

// validateFlags returns an error if any flag value is invalid.
func validateFlags(flags globalFlags) error {
	switch flags.format {
	case "json", "md":
	default:
		return fmt.Errorf("--format must be json or md, got %q", flags.format)
	}
	if flags.variant != "" {
		if _, err := variant.Get(flags.variant); err != nil {
			return err
		}
	}
	return nil
}
