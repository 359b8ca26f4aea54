// Package auth drives the login, logout and session-status flows of a
// storefront page.
package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dshills/cartsync/internal/api"
	"github.com/dshills/cartsync/internal/logging"
	"github.com/dshills/cartsync/internal/schema"
)

// DefaultRedirectDelay is how long the success alert stays up before the
// browser is sent to the redirect target.
const DefaultRedirectDelay = 1500 * time.Millisecond

// Alert texts used when the server supplies none.
const (
	MsgLoginSucceeded    = "Login successful. Redirecting..."
	MsgLoginFailed       = "Authentication failed"
	MsgMissingFields     = "Username and password are required"
	MsgRegistered        = "Registration successful. Redirecting..."
	MsgRegisterFailed    = "Registration failed. Please try again."
	MsgPasswordsMismatch = "Passwords do not match"
	MsgWelcome           = "Welcome %s!"
	MsgChooseView        = "Welcome %s! Which view would you like to open?"
)

// Labels of the views offered to employees after login.
const (
	LabelCustomerView = "Customer view"
	LabelEmployeeView = "Employee view"
)

var (
	// ErrBusy is returned by Login while a previous login is in flight or
	// redirecting.
	ErrBusy = errors.New("login already in progress")
	// ErrMissingCredentials is returned when username or password is empty.
	ErrMissingCredentials = errors.New("username and password are required")
	// ErrPasswordMismatch is returned when a registration's passwords differ.
	ErrPasswordMismatch = errors.New("passwords do not match")
	// ErrNoViewChoice is returned by ChooseView when no choice is pending or
	// the target was not offered.
	ErrNoViewChoice = errors.New("no such view choice pending")
)

// State is the login state machine.
type State int

const (
	Idle State = iota
	Submitting
	Redirecting
	// Choosing waits for an employee to pick a view.
	Choosing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Submitting:
		return "submitting"
	case Redirecting:
		return "redirecting"
	case Choosing:
		return "choosing"
	default:
		return "unknown"
	}
}

// Service is the remote auth API.
type Service interface {
	Login(ctx context.Context, username, password string) (*schema.RedirectResponse, error)
	Register(ctx context.Context, req schema.RegisterRequest) (*schema.RedirectResponse, error)
	Logout(ctx context.Context) (*schema.RedirectResponse, error)
	Status(ctx context.Context) (*schema.StatusResponse, error)
}

// UI shows the login alert and applies session state to the page.
type UI interface {
	Alert(kind schema.NotificationKind, message string)
	OfferViews(choices []schema.ViewChoice)
	ApplySession(st *schema.StatusResponse)
}

// Navigator moves the browser to another page.
type Navigator interface {
	Navigate(target string)
}

// Config holds the collaborators of a Session.
type Config struct {
	Service   Service
	UI        UI
	Navigator Navigator
	Logger    *zap.Logger
	// RedirectDelay is the pause between the success alert and navigation.
	// Zero navigates immediately.
	RedirectDelay time.Duration
	// Sleep waits out the redirect delay. Defaults to a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
	// EmployeeRol users choose between the shop and DashboardPath after
	// login instead of being redirected. Empty disables the choice.
	EmployeeRol   string
	DashboardPath string
}

// Session is the auth client for one page.
type Session struct {
	svc   Service
	ui    UI
	nav   Navigator
	log   *zap.Logger
	delay time.Duration
	sleep func(ctx context.Context, d time.Duration) error

	employeeRol string
	dashboard   string

	mu      sync.Mutex
	state   State
	choices []schema.ViewChoice
}

// New returns a Session in the Idle state.
func New(cfg Config) *Session {
	delay := cfg.RedirectDelay
	if delay < 0 {
		delay = 0
	}
	sleep := cfg.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	return &Session{
		svc:   cfg.Service,
		ui:    cfg.UI,
		nav:   cfg.Navigator,
		log:   logging.OrNop(cfg.Logger),
		delay: delay,
		sleep: sleep,

		employeeRol: cfg.EmployeeRol,
		dashboard:   cfg.DashboardPath,
	}
}

// State returns the current login state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Login submits credentials. On success it shows a welcome alert, waits
// the redirect delay and navigates to the server's redirect target; an
// employee is offered a choice of views instead and the session waits in
// Choosing. On failure it shows the server's message and returns to Idle.
func (s *Session) Login(ctx context.Context, username, password string) error {
	if username == "" || password == "" {
		s.ui.Alert(schema.NotificationFailure, MsgMissingFields)
		return ErrMissingCredentials
	}
	return s.submit(ctx, "login", MsgLoginFailed, func() (*schema.RedirectResponse, error) {
		return s.svc.Login(ctx, username, password)
	}, func(resp *schema.RedirectResponse) string {
		if resp.User != nil && resp.User.Username != "" {
			return fmt.Sprintf(MsgWelcome, resp.User.Username)
		}
		return orDefault(resp.Message, MsgLoginSucceeded)
	})
}

// Register creates an account. It shares Login's flow: the server's form
// errors are shown on failure and the browser is redirected after the
// delay on success.
func (s *Session) Register(ctx context.Context, req schema.RegisterRequest) error {
	if req.Username == "" || req.Password == "" {
		s.ui.Alert(schema.NotificationFailure, MsgMissingFields)
		return ErrMissingCredentials
	}
	if req.Password2 == "" {
		req.Password2 = req.Password
	}
	if req.Password2 != req.Password {
		s.ui.Alert(schema.NotificationFailure, MsgPasswordsMismatch)
		return ErrPasswordMismatch
	}
	return s.submit(ctx, "register", MsgRegisterFailed, func() (*schema.RedirectResponse, error) {
		return s.svc.Register(ctx, req)
	}, func(resp *schema.RedirectResponse) string {
		return orDefault(resp.Message, MsgRegistered)
	})
}

// submit runs one account request through the state machine.
func (s *Session) submit(ctx context.Context, op, fallback string, call func() (*schema.RedirectResponse, error), welcome func(*schema.RedirectResponse) string) error {
	if !s.transition(Idle, Submitting) {
		return ErrBusy
	}

	resp, err := call()
	if err != nil {
		s.log.Info(op+" rejected", zap.Error(err))
		s.ui.Alert(schema.NotificationFailure, api.UserMessage(err, fallback))
		s.transition(Submitting, Idle)
		return err
	}
	if resp == nil {
		resp = &schema.RedirectResponse{}
	}

	if s.isEmployee(resp.User) {
		s.mu.Lock()
		s.state = Choosing
		s.choices = []schema.ViewChoice{
			{Label: LabelCustomerView, Target: "/"},
			{Label: LabelEmployeeView, Target: s.dashboard},
		}
		choices := append([]schema.ViewChoice(nil), s.choices...)
		s.mu.Unlock()

		s.ui.Alert(schema.NotificationSuccess, fmt.Sprintf(MsgChooseView, resp.User.Username))
		s.ui.OfferViews(choices)
		s.log.Debug("offering views", zap.String("username", resp.User.Username))
		return nil
	}

	s.transition(Submitting, Redirecting)
	s.ui.Alert(schema.NotificationSuccess, welcome(resp))

	target := redirectTarget(resp)
	if err := s.sleep(ctx, s.delay); err != nil {
		s.transition(Redirecting, Idle)
		return err
	}
	s.log.Debug("redirecting", zap.String("op", op), zap.String("target", target))
	s.nav.Navigate(target)
	return nil
}

// ChooseView navigates to one of the views offered after an employee
// login.
func (s *Session) ChooseView(target string) error {
	s.mu.Lock()
	if s.state != Choosing {
		s.mu.Unlock()
		return ErrNoViewChoice
	}
	found := false
	for _, c := range s.choices {
		if c.Target == target {
			found = true
			break
		}
	}
	if !found {
		s.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrNoViewChoice, target)
	}
	s.state = Redirecting
	s.choices = nil
	s.mu.Unlock()

	s.nav.Navigate(target)
	return nil
}

// Choices returns the views offered while Choosing.
func (s *Session) Choices() []schema.ViewChoice {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]schema.ViewChoice(nil), s.choices...)
}

func (s *Session) isEmployee(u *schema.User) bool {
	return s.employeeRol != "" && s.dashboard != "" && u != nil && u.Rol == s.employeeRol
}

// Logout ends the session and navigates to the server's redirect target.
// Failures are logged only.
func (s *Session) Logout(ctx context.Context) error {
	resp, err := s.svc.Logout(ctx)
	if err != nil {
		s.log.Warn("logout failed", zap.Error(err))
		return err
	}
	s.nav.Navigate(redirectTarget(resp))
	return nil
}

// CheckStatus reads the session status and toggles the auth- and
// role-gated fragments of the page. Failures are logged and leave the page
// untouched.
func (s *Session) CheckStatus(ctx context.Context) (*schema.StatusResponse, error) {
	st, err := s.svc.Status(ctx)
	if err != nil {
		s.log.Warn("auth status check failed", zap.Error(err))
		return nil, err
	}
	s.ui.ApplySession(st)
	return st, nil
}

func (s *Session) transition(from, to State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != from {
		return false
	}
	s.state = to
	return true
}

func redirectTarget(resp *schema.RedirectResponse) string {
	if resp == nil || resp.RedirectURL == "" {
		return "/"
	}
	return resp.RedirectURL
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
