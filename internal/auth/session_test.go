package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"

	"github.com/dshills/cartsync/internal/api"
	"github.com/dshills/cartsync/internal/schema"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeService struct {
	loginResp  *schema.RedirectResponse
	loginErr   error
	logoutResp *schema.RedirectResponse
	logoutErr  error
	status     *schema.StatusResponse
	statusErr  error

	registerResp *schema.RedirectResponse
	registerErr  error
	registered   []schema.RegisterRequest

	// block, when set, holds Login until closed.
	block  chan struct{}
	logins int
}

func (f *fakeService) Login(ctx context.Context, _, _ string) (*schema.RedirectResponse, error) {
	f.logins++
	if f.block != nil {
		<-f.block
	}
	return f.loginResp, f.loginErr
}

func (f *fakeService) Register(_ context.Context, req schema.RegisterRequest) (*schema.RedirectResponse, error) {
	f.registered = append(f.registered, req)
	return f.registerResp, f.registerErr
}

func (f *fakeService) Logout(context.Context) (*schema.RedirectResponse, error) {
	return f.logoutResp, f.logoutErr
}

func (f *fakeService) Status(context.Context) (*schema.StatusResponse, error) {
	return f.status, f.statusErr
}

type fakeUI struct {
	mu      sync.Mutex
	alerts  []schema.Notification
	session *schema.StatusResponse
	target  string
	choices []schema.ViewChoice
}

func (u *fakeUI) Alert(kind schema.NotificationKind, msg string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.alerts = append(u.alerts, schema.Notification{Kind: kind, Message: msg})
}

func (u *fakeUI) OfferViews(c []schema.ViewChoice) { u.choices = c }

func (u *fakeUI) ApplySession(st *schema.StatusResponse) { u.session = st }

func (u *fakeUI) Navigate(target string) { u.target = target }

// recordSleep captures the requested delay without waiting.
type recordSleep struct{ got time.Duration }

func (r *recordSleep) sleep(_ context.Context, d time.Duration) error {
	r.got = d
	return nil
}

func newSession(svc *fakeService, ui *fakeUI, sl *recordSleep) *Session {
	return New(Config{
		Service:       svc,
		UI:            ui,
		Navigator:     ui,
		RedirectDelay: DefaultRedirectDelay,
		Sleep:         sl.sleep,
	})
}

func TestLogin_RedirectsAfterDelay(t *testing.T) {
	svc := &fakeService{loginResp: &schema.RedirectResponse{RedirectURL: "/dashboard/"}}
	ui := &fakeUI{}
	sl := &recordSleep{}
	s := newSession(svc, ui, sl)

	if err := s.Login(context.Background(), "ana", "secret"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if ui.target != "/dashboard/" {
		t.Errorf("target = %q, want /dashboard/", ui.target)
	}
	if sl.got != DefaultRedirectDelay {
		t.Errorf("delay = %v, want %v", sl.got, DefaultRedirectDelay)
	}
	if s.State() != Redirecting {
		t.Errorf("state = %v, want redirecting", s.State())
	}
	want := []schema.Notification{{Kind: schema.NotificationSuccess, Message: MsgLoginSucceeded}}
	if diff := cmp.Diff(want, ui.alerts); diff != "" {
		t.Errorf("alerts mismatch (-want +got):\n%s", diff)
	}
}

func TestLogin_RealTimerHonorsDelay(t *testing.T) {
	svc := &fakeService{loginResp: &schema.RedirectResponse{RedirectURL: "/dashboard/"}}
	ui := &fakeUI{}
	s := New(Config{Service: svc, UI: ui, Navigator: ui, RedirectDelay: 20 * time.Millisecond})

	start := time.Now()
	if err := s.Login(context.Background(), "ana", "secret"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Errorf("navigated after %v, before the delay", elapsed)
	}
	if ui.target != "/dashboard/" {
		t.Errorf("target = %q", ui.target)
	}
}

func TestLogin_EmptyRedirectFallsBackToRoot(t *testing.T) {
	svc := &fakeService{loginResp: &schema.RedirectResponse{}}
	ui := &fakeUI{}
	if err := newSession(svc, ui, &recordSleep{}).Login(context.Background(), "ana", "secret"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if ui.target != "/" {
		t.Errorf("target = %q, want /", ui.target)
	}
}

func TestLogin_FailureReturnsToIdle(t *testing.T) {
	svc := &fakeService{loginErr: &api.AppError{Op: "login", Status: 401, Message: "Credenciales inválidas"}}
	ui := &fakeUI{}
	s := newSession(svc, ui, &recordSleep{})

	if err := s.Login(context.Background(), "ana", "bad"); err == nil {
		t.Fatal("expected error")
	}
	if s.State() != Idle {
		t.Errorf("state = %v, want idle", s.State())
	}
	if ui.target != "" {
		t.Errorf("navigated to %q on failure", ui.target)
	}
	if ui.alerts[0].Message != "Credenciales inválidas" || ui.alerts[0].Kind != schema.NotificationFailure {
		t.Errorf("alert = %+v", ui.alerts[0])
	}

	// A second attempt is allowed from idle.
	svc.loginErr = nil
	svc.loginResp = &schema.RedirectResponse{RedirectURL: "/"}
	if err := s.Login(context.Background(), "ana", "secret"); err != nil {
		t.Fatalf("second Login: %v", err)
	}
}

func TestLogin_FailureWithoutMessage(t *testing.T) {
	svc := &fakeService{loginErr: &api.AppError{Op: "login", Status: 400}}
	ui := &fakeUI{}
	_ = newSession(svc, ui, &recordSleep{}).Login(context.Background(), "ana", "bad")
	if ui.alerts[0].Message != MsgLoginFailed {
		t.Errorf("alert = %q, want %q", ui.alerts[0].Message, MsgLoginFailed)
	}
}

func TestLogin_TransportFailure(t *testing.T) {
	svc := &fakeService{loginErr: &api.TransportError{Op: "login", Err: errors.New("refused")}}
	ui := &fakeUI{}
	_ = newSession(svc, ui, &recordSleep{}).Login(context.Background(), "ana", "x")
	if ui.alerts[0].Message != api.ConnectionErrorMessage {
		t.Errorf("alert = %q", ui.alerts[0].Message)
	}
}

func TestLogin_MissingCredentials(t *testing.T) {
	svc := &fakeService{}
	ui := &fakeUI{}
	err := newSession(svc, ui, &recordSleep{}).Login(context.Background(), "ana", "")
	if !errors.Is(err, ErrMissingCredentials) {
		t.Fatalf("err = %v", err)
	}
	if svc.logins != 0 {
		t.Error("no request should be sent")
	}
}

func TestLogin_BusyWhileSubmitting(t *testing.T) {
	svc := &fakeService{
		loginResp: &schema.RedirectResponse{RedirectURL: "/"},
		block:     make(chan struct{}),
	}
	ui := &fakeUI{}
	s := newSession(svc, ui, &recordSleep{})

	done := make(chan error)
	go func() { done <- s.Login(context.Background(), "ana", "secret") }()

	deadline := time.Now().Add(2 * time.Second)
	for s.State() != Submitting {
		if time.Now().After(deadline) {
			close(svc.block)
			<-done
			t.Fatal("login never reached submitting")
		}
		time.Sleep(time.Millisecond)
	}

	if err := s.Login(context.Background(), "ana", "secret"); !errors.Is(err, ErrBusy) {
		t.Errorf("concurrent Login = %v, want ErrBusy", err)
	}
	close(svc.block)
	if err := <-done; err != nil {
		t.Fatalf("first Login: %v", err)
	}
	if svc.logins != 1 {
		t.Errorf("logins = %d, want 1", svc.logins)
	}
	if err := s.Login(context.Background(), "ana", "secret"); !errors.Is(err, ErrBusy) {
		t.Errorf("Login while redirecting = %v, want ErrBusy", err)
	}
}

func TestLogin_CanceledDuringDelay(t *testing.T) {
	svc := &fakeService{loginResp: &schema.RedirectResponse{RedirectURL: "/dashboard/"}}
	ui := &fakeUI{}
	s := New(Config{Service: svc, UI: ui, Navigator: ui, RedirectDelay: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Login(ctx, "ana", "secret"); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if ui.target != "" {
		t.Errorf("navigated to %q", ui.target)
	}
	if s.State() != Idle {
		t.Errorf("state = %v, want idle", s.State())
	}
}

func TestLogout_Navigates(t *testing.T) {
	svc := &fakeService{logoutResp: &schema.RedirectResponse{RedirectURL: "/adios/"}}
	ui := &fakeUI{}
	if err := newSession(svc, ui, &recordSleep{}).Logout(context.Background()); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if ui.target != "/adios/" {
		t.Errorf("target = %q", ui.target)
	}
}

func TestLogout_FailureDoesNotNavigate(t *testing.T) {
	svc := &fakeService{logoutErr: &api.TransportError{Op: "logout", Err: errors.New("down")}}
	ui := &fakeUI{}
	if err := newSession(svc, ui, &recordSleep{}).Logout(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if ui.target != "" || len(ui.alerts) != 0 {
		t.Errorf("logout failure should only be logged: target=%q alerts=%v", ui.target, ui.alerts)
	}
}

func TestCheckStatus_AppliesSession(t *testing.T) {
	st := &schema.StatusResponse{IsAuthenticated: true, User: &schema.User{Username: "ana", Rol: "admin"}}
	svc := &fakeService{status: st}
	ui := &fakeUI{}

	got, err := newSession(svc, ui, &recordSleep{}).CheckStatus(context.Background())
	if err != nil {
		t.Fatalf("CheckStatus: %v", err)
	}
	if diff := cmp.Diff(st, got); diff != "" {
		t.Errorf("status mismatch (-want +got):\n%s", diff)
	}
	if ui.session != st {
		t.Error("session not applied to UI")
	}
}

func TestCheckStatus_FailureLeavesUI(t *testing.T) {
	svc := &fakeService{statusErr: &api.TransportError{Op: "auth status", Err: errors.New("down")}}
	ui := &fakeUI{}
	if _, err := newSession(svc, ui, &recordSleep{}).CheckStatus(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if ui.session != nil {
		t.Error("UI should be untouched")
	}
}

func TestLogin_ZeroDelayNavigatesImmediately(t *testing.T) {
	svc := &fakeService{loginResp: &schema.RedirectResponse{RedirectURL: "/"}}
	ui := &fakeUI{}
	s := New(Config{Service: svc, UI: ui, Navigator: ui})
	if err := s.Login(context.Background(), "ana", "secret"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if ui.target != "/" {
		t.Errorf("target = %q", ui.target)
	}
}

func TestState_String(t *testing.T) {
	for s, want := range map[State]string{Idle: "idle", Submitting: "submitting", Redirecting: "redirecting", Choosing: "choosing", State(9): "unknown"} {
		if s.String() != want {
			t.Errorf("%d.String() = %q, want %q", int(s), s.String(), want)
		}
	}
}

func newEmployeeSession(svc *fakeService, ui *fakeUI, sl *recordSleep) *Session {
	return New(Config{
		Service:       svc,
		UI:            ui,
		Navigator:     ui,
		RedirectDelay: DefaultRedirectDelay,
		Sleep:         sl.sleep,
		EmployeeRol:   "empleado",
		DashboardPath: "/admin/dashboard/",
	})
}

func TestLogin_WelcomesUserByName(t *testing.T) {
	svc := &fakeService{loginResp: &schema.RedirectResponse{
		RedirectURL: "/dashboard/",
		User:        &schema.User{Username: "ana", Rol: "admin"},
	}}
	ui := &fakeUI{}
	s := newEmployeeSession(svc, ui, &recordSleep{})

	if err := s.Login(context.Background(), "ana", "secret"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	want := []schema.Notification{{Kind: schema.NotificationSuccess, Message: "Welcome ana!"}}
	if diff := cmp.Diff(want, ui.alerts); diff != "" {
		t.Errorf("alerts mismatch (-want +got):\n%s", diff)
	}
	if ui.target != "/dashboard/" {
		t.Errorf("target = %q", ui.target)
	}
	if ui.choices != nil {
		t.Errorf("non-employee offered views: %+v", ui.choices)
	}
}

func TestLogin_EmployeeChoosesView(t *testing.T) {
	svc := &fakeService{loginResp: &schema.RedirectResponse{
		RedirectURL: "/",
		User:        &schema.User{Username: "eva", Rol: "empleado"},
	}}
	ui := &fakeUI{}
	sl := &recordSleep{}
	s := newEmployeeSession(svc, ui, sl)

	if err := s.Login(context.Background(), "eva", "secret"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if s.State() != Choosing {
		t.Fatalf("state = %v, want choosing", s.State())
	}
	if ui.target != "" {
		t.Errorf("navigated to %q before a choice", ui.target)
	}
	if sl.got != 0 {
		t.Errorf("slept %v before a choice", sl.got)
	}
	wantChoices := []schema.ViewChoice{
		{Label: LabelCustomerView, Target: "/"},
		{Label: LabelEmployeeView, Target: "/admin/dashboard/"},
	}
	if diff := cmp.Diff(wantChoices, ui.choices); diff != "" {
		t.Errorf("choices mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(wantChoices, s.Choices()); diff != "" {
		t.Errorf("Choices() mismatch (-want +got):\n%s", diff)
	}
	wantAlerts := []schema.Notification{{Kind: schema.NotificationSuccess, Message: "Welcome eva! Which view would you like to open?"}}
	if diff := cmp.Diff(wantAlerts, ui.alerts); diff != "" {
		t.Errorf("alerts mismatch (-want +got):\n%s", diff)
	}

	if err := s.Login(context.Background(), "eva", "secret"); !errors.Is(err, ErrBusy) {
		t.Errorf("second Login err = %v, want ErrBusy", err)
	}
	if err := s.ChooseView("/admin/dashboard/"); err != nil {
		t.Fatalf("ChooseView: %v", err)
	}
	if ui.target != "/admin/dashboard/" {
		t.Errorf("target = %q", ui.target)
	}
	if s.State() != Redirecting {
		t.Errorf("state = %v, want redirecting", s.State())
	}
}

func TestLogin_EmployeeRolIgnoredWithoutConfig(t *testing.T) {
	svc := &fakeService{loginResp: &schema.RedirectResponse{
		RedirectURL: "/panel/",
		User:        &schema.User{Username: "eva", Rol: "empleado"},
	}}
	ui := &fakeUI{}
	s := newSession(svc, ui, &recordSleep{})

	if err := s.Login(context.Background(), "eva", "secret"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if ui.target != "/panel/" || ui.choices != nil {
		t.Errorf("target = %q choices = %+v", ui.target, ui.choices)
	}
}

func TestChooseView_Errors(t *testing.T) {
	svc := &fakeService{loginResp: &schema.RedirectResponse{User: &schema.User{Username: "eva", Rol: "empleado"}}}
	ui := &fakeUI{}
	s := newEmployeeSession(svc, ui, &recordSleep{})

	if err := s.ChooseView("/"); !errors.Is(err, ErrNoViewChoice) {
		t.Errorf("ChooseView while idle err = %v", err)
	}
	if err := s.Login(context.Background(), "eva", "secret"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if err := s.ChooseView("/elsewhere/"); !errors.Is(err, ErrNoViewChoice) {
		t.Errorf("ChooseView unknown target err = %v", err)
	}
	if s.State() != Choosing {
		t.Errorf("state = %v, want choosing", s.State())
	}
	if ui.target != "" {
		t.Errorf("navigated to %q", ui.target)
	}
}

func TestRegister_RedirectsAfterDelay(t *testing.T) {
	svc := &fakeService{registerResp: &schema.RedirectResponse{RedirectURL: "/tienda/", Message: "Account created"}}
	ui := &fakeUI{}
	sl := &recordSleep{}
	s := newSession(svc, ui, sl)

	req := schema.RegisterRequest{Username: "nuevo", Email: "n@example.com", Password: "pw"}
	if err := s.Register(context.Background(), req); err != nil {
		t.Fatalf("Register: %v", err)
	}
	req.Password2 = "pw"
	if diff := cmp.Diff([]schema.RegisterRequest{req}, svc.registered); diff != "" {
		t.Errorf("request mismatch (-want +got):\n%s", diff)
	}
	if ui.target != "/tienda/" || sl.got != DefaultRedirectDelay {
		t.Errorf("target = %q delay = %v", ui.target, sl.got)
	}
	want := []schema.Notification{{Kind: schema.NotificationSuccess, Message: "Account created"}}
	if diff := cmp.Diff(want, ui.alerts); diff != "" {
		t.Errorf("alerts mismatch (-want +got):\n%s", diff)
	}
}

func TestRegister_ShowsFormErrors(t *testing.T) {
	svc := &fakeService{registerErr: &api.AppError{Message: "A user with that username already exists."}}
	ui := &fakeUI{}
	s := newSession(svc, ui, &recordSleep{})

	err := s.Register(context.Background(), schema.RegisterRequest{Username: "ana", Password: "pw"})
	if err == nil {
		t.Fatal("expected error")
	}
	if s.State() != Idle {
		t.Errorf("state = %v, want idle", s.State())
	}
	want := []schema.Notification{{Kind: schema.NotificationFailure, Message: "A user with that username already exists."}}
	if diff := cmp.Diff(want, ui.alerts); diff != "" {
		t.Errorf("alerts mismatch (-want +got):\n%s", diff)
	}
}

func TestRegister_RejectedLocally(t *testing.T) {
	tests := []struct {
		name    string
		req     schema.RegisterRequest
		wantErr error
		wantMsg string
	}{
		{"missing username", schema.RegisterRequest{Password: "pw"}, ErrMissingCredentials, MsgMissingFields},
		{"missing password", schema.RegisterRequest{Username: "ana"}, ErrMissingCredentials, MsgMissingFields},
		{"mismatch", schema.RegisterRequest{Username: "ana", Password: "pw", Password2: "pq"}, ErrPasswordMismatch, MsgPasswordsMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeService{}
			ui := &fakeUI{}
			s := newSession(svc, ui, &recordSleep{})
			if err := s.Register(context.Background(), tt.req); !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
			if len(svc.registered) != 0 {
				t.Errorf("request sent: %+v", svc.registered)
			}
			if len(ui.alerts) != 1 || ui.alerts[0].Message != tt.wantMsg {
				t.Errorf("alerts = %+v", ui.alerts)
			}
		})
	}
}
