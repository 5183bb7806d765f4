package handler_test

import (
	"context"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alexedwards/scs/v2"

	"github.com/joestump/vetric/internal/auth"
	"github.com/joestump/vetric/internal/authflow"
	"github.com/joestump/vetric/internal/email"
	"github.com/joestump/vetric/internal/handler"
	"github.com/joestump/vetric/internal/identity"
	"github.com/joestump/vetric/internal/session"
	"github.com/joestump/vetric/internal/testutil"
)

type captureSender struct {
	mu   sync.Mutex
	sent []email.Message
}

func (c *captureSender) Send(_ context.Context, msg email.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, msg)
	return nil
}

func (c *captureSender) last() (email.Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.sent) == 0 {
		return email.Message{}, false
	}
	return c.sent[len(c.sent)-1], true
}

type testEnv struct {
	srv      *httptest.Server
	client   *http.Client
	provider *identity.Local
	sessions *session.Store
	mail     *captureSender
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithConfig(t, authflow.DefaultConfig())
}

func newTestEnvWithConfig(t *testing.T, cfg authflow.Config) *testEnv {
	t.Helper()
	mail := &captureSender{}
	p := identity.NewLocal(testutil.NewTestDB(t), mail, identity.NewHub(), identity.LocalConfig{
		Issuer:   "http://localhost:8080",
		Secret:   []byte("handler-test-secret"),
		ResetURL: "http://localhost:8080/auth/reset-password",
	})
	store, err := session.Open(context.Background(), p)
	if err != nil {
		t.Fatalf("open session store: %v", err)
	}
	t.Cleanup(store.Close)
	<-store.Ready()

	sm := scs.New()
	router := handler.NewRouter(handler.Deps{
		SessionManager: sm,
		Provider:       p,
		Controller:     authflow.NewController(p, cfg),
		Flows:          authflow.NewRegistry(time.Minute),
		AuthHandlers:   auth.NewHandlers(p, sm),
		AuthMiddleware: auth.NewMiddleware(sm, store),
		BearerAuth:     auth.NewBearerMiddleware(store),
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	jar, _ := cookiejar.New(nil)
	client := &http.Client{
		Jar: jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	return &testEnv{srv: srv, client: client, provider: p, sessions: store, mail: mail}
}

type response struct {
	*http.Response
	body string
}

func (env *testEnv) get(t *testing.T, path string, htmx bool) response {
	t.Helper()
	return env.send(t, http.MethodGet, path, nil, htmx)
}

func (env *testEnv) post(t *testing.T, path string, form url.Values, htmx bool) response {
	t.Helper()
	return env.send(t, http.MethodPost, path, form, htmx)
}

func (env *testEnv) send(t *testing.T, method, path string, form url.Values, htmx bool) response {
	t.Helper()
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequest(method, env.srv.URL+path, body)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if htmx {
		req.Header.Set("HX-Request", "true")
	}
	resp, err := env.client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return response{Response: resp, body: string(b)}
}

func (env *testEnv) waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// signUp registers through the page and waits for the navbar to show addr.
func (env *testEnv) signUp(t *testing.T, addr string) {
	t.Helper()
	env.get(t, "/auth?mode=signup", false)
	resp := env.post(t, "/auth/signup", url.Values{
		"email": {addr}, "password": {"hunter22"}, "confirm_password": {"hunter22"},
	}, false)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("signup status = %d; body: %s", resp.StatusCode, resp.body)
	}
	env.waitFor(t, "navbar to show "+addr, func() bool {
		return strings.Contains(env.get(t, "/", false).body, addr)
	})
}

func assertContains(t *testing.T, body, want string) {
	t.Helper()
	if !strings.Contains(body, want) {
		t.Errorf("body does not contain %q", want)
	}
}

func assertNotContains(t *testing.T, body, unwanted string) {
	t.Helper()
	if strings.Contains(body, unwanted) {
		t.Errorf("body unexpectedly contains %q", unwanted)
	}
}

func TestLanding_SignedOutNavbar(t *testing.T) {
	env := newTestEnv(t)
	resp := env.get(t, "/", false)

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	assertContains(t, resp.body, `href="/auth?mode=login"`)
	assertContains(t, resp.body, `href="/auth?mode=signup"`)
	assertContains(t, resp.body, "Login here")
	assertNotContains(t, resp.body, "Logout")
	assertContains(t, resp.body, `data-theme="dark"`)
}

func TestAuthPage_Modes(t *testing.T) {
	env := newTestEnv(t)

	login := env.get(t, "/auth", false)
	assertContains(t, login.body, "Welcome Back")
	assertContains(t, login.body, "Forgot Password?")
	assertContains(t, login.body, "Create New Account")
	assertNotContains(t, login.body, "confirm_password")

	signup := env.get(t, "/auth?mode=signup", false)
	assertContains(t, signup.body, "<h2>Create Account</h2>")
	assertContains(t, signup.body, `name="confirm_password"`)
	assertContains(t, signup.body, "Already Have Account?")
}

func TestAuthPage_SignupValidation(t *testing.T) {
	env := newTestEnv(t)
	env.get(t, "/auth?mode=signup", false)

	resp := env.post(t, "/auth/signup", url.Values{
		"email": {"a@example.com"}, "password": {"abcdef"}, "confirm_password": {"abcdeg"},
	}, false)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	assertContains(t, resp.body, authflow.MsgPasswordMismatch)
	assertContains(t, resp.body, `value="a@example.com"`)
	if h := resp.Header.Get("Refresh"); h != "" {
		t.Errorf("Refresh = %q, want none", h)
	}
}

func TestAuthPage_SignupSuccess(t *testing.T) {
	env := newTestEnv(t)
	env.get(t, "/auth?mode=signup", false)

	resp := env.post(t, "/auth/signup", url.Values{
		"email": {"alice@example.com"}, "password": {"hunter22"}, "confirm_password": {"hunter22"},
	}, false)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", resp.StatusCode, resp.body)
	}
	assertContains(t, resp.body, authflow.MsgRegistered)
	if h := resp.Header.Get("Refresh"); h != "2; url=/" {
		t.Errorf("Refresh = %q, want %q", h, "2; url=/")
	}

	env.waitFor(t, "signed-in navbar", func() bool {
		return strings.Contains(env.get(t, "/", false).body, "alice@example.com")
	})
	home := env.get(t, "/", false)
	assertContains(t, home.body, "Logout")
	assertNotContains(t, home.body, `href="/auth?mode=signup"`)

	// Success is terminal.
	again := env.post(t, "/auth/login", url.Values{"email": {"alice@example.com"}, "password": {"hunter22"}}, false)
	if again.StatusCode != http.StatusConflict {
		t.Errorf("resubmit status = %d, want 409", again.StatusCode)
	}
}

func TestAuthPage_SignedInRedirected(t *testing.T) {
	env := newTestEnv(t)
	env.signUp(t, "bob@example.com")

	resp := env.get(t, "/auth", false)
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("status = %d, want 302", resp.StatusCode)
	}
	if loc := resp.Header.Get("Location"); loc != "/" {
		t.Errorf("Location = %q, want /", loc)
	}
}

func TestAuthPage_LoginErrorThenEdit(t *testing.T) {
	env := newTestEnv(t)
	env.get(t, "/auth", false)

	resp := env.post(t, "/auth/login", url.Values{"email": {"nobody@example.com"}, "password": {"hunter22"}}, true)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	assertContains(t, resp.body, "User not found")
	assertContains(t, resp.body, `hx-post="/auth/edit"`)
	assertNotContains(t, resp.body, "<html")

	edit := env.post(t, "/auth/edit", url.Values{"form": {"page"}}, true)
	assertContains(t, edit.body, `id="page-message"`)
	assertNotContains(t, edit.body, "User not found")
}

func TestModal_EditPerForm(t *testing.T) {
	env := newTestEnv(t)
	env.get(t, "/auth/modal", true)
	env.post(t, "/auth/modal/login", url.Values{"email": {"nobody@example.com"}, "password": {"hunter22"}}, true)

	reset := env.post(t, "/auth/modal/edit", url.Values{"form": {"reset"}}, true)
	assertContains(t, reset.body, `id="reset-message"`)
	assertNotContains(t, reset.body, "User not found")

	modal := env.post(t, "/auth/modal/edit", url.Values{"form": {"modal"}}, true)
	assertContains(t, modal.body, `id="modal-message"`)
}

func TestAuthPage_ModeToggle(t *testing.T) {
	env := newTestEnv(t)
	env.get(t, "/auth", false)

	resp := env.post(t, "/auth/mode", url.Values{"mode": {"signup"}}, true)
	assertContains(t, resp.body, "<h2>Create Account</h2>")
	assertContains(t, resp.body, `action="/auth/signup"`)
}

func TestAuthPage_ResetRequiresEmail(t *testing.T) {
	env := newTestEnv(t)
	env.get(t, "/auth", false)

	resp := env.post(t, "/auth/reset", url.Values{"email": {""}}, false)
	assertContains(t, resp.body, authflow.MsgEmailRequired)
	if _, sent := env.mail.last(); sent {
		t.Error("reset email sent for empty address")
	}
}

func TestAuthPage_LoginAfterResetWithoutNavigation(t *testing.T) {
	cfg := authflow.DefaultConfig()
	cfg.ResetDelay = 0
	env := newTestEnvWithConfig(t, cfg)
	if _, err := env.provider.Register(context.Background(), "frank@example.com", "hunter22"); err != nil {
		t.Fatalf("register: %v", err)
	}
	env.get(t, "/auth", false)

	reset := env.post(t, "/auth/reset", url.Values{"email": {"frank@example.com"}}, false)
	if reset.StatusCode != http.StatusOK {
		t.Fatalf("reset status = %d; body: %s", reset.StatusCode, reset.body)
	}
	if h := reset.Header.Get("Refresh"); h != "" {
		t.Errorf("Refresh = %q, want none with a zero reset delay", h)
	}
	assertContains(t, reset.body, authflow.MsgResetSent)
	assertContains(t, reset.body, "alert-success")

	login := env.post(t, "/auth/login", url.Values{"email": {"frank@example.com"}, "password": {"hunter22"}}, false)
	if login.StatusCode != http.StatusOK {
		t.Fatalf("login after reset status = %d, want 200", login.StatusCode)
	}
	assertContains(t, login.body, authflow.MsgLoggedIn)
}

func TestModal_LoginSuccess(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.provider.Register(context.Background(), "carol@example.com", "hunter22"); err != nil {
		t.Fatalf("register: %v", err)
	}

	modal := env.get(t, "/auth/modal?mode=login", true)
	assertContains(t, modal.body, `class="modal-backdrop"`)
	assertContains(t, modal.body, "Forgot password?")
	assertContains(t, modal.body, "Don't have an account?")

	resp := env.post(t, "/auth/modal/login", url.Values{"email": {"carol@example.com"}, "password": {"hunter22"}}, true)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", resp.StatusCode, resp.body)
	}
	assertContains(t, resp.body, authflow.MsgLoggedIn)
	trigger := resp.Header.Get("HX-Trigger")
	if trigger != `{"authNavigate":{"after":1500,"to":"/"}}` {
		t.Errorf("HX-Trigger = %q", trigger)
	}
}

func TestModal_CloseUnmountsFlow(t *testing.T) {
	env := newTestEnv(t)
	env.get(t, "/auth/modal?mode=signup", true)
	env.send(t, http.MethodDelete, "/auth/modal", nil, true)

	// No flow is mounted any more, so the submission mounts a fresh one.
	resp := env.post(t, "/auth/modal/signup", url.Values{
		"email": {"dan@example.com"}, "password": {"abc"}, "confirm_password": {"abc"},
	}, true)
	assertContains(t, resp.body, authflow.MsgPasswordTooShort)
}

func TestModal_ResetFlow(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.provider.Register(context.Background(), "erin@example.com", "hunter22"); err != nil {
		t.Fatalf("register: %v", err)
	}

	modal := env.get(t, "/auth/modal/reset?email=erin%40example.com", true)
	assertContains(t, modal.body, "Reset Password")
	assertContains(t, modal.body, `value="erin@example.com"`)

	resp := env.post(t, "/auth/modal/reset", url.Values{"email": {"erin@example.com"}}, true)
	assertContains(t, resp.body, authflow.MsgResetSent)
	assertNotContains(t, resp.body, "Send Reset Link")

	msg, ok := env.mail.last()
	if !ok {
		t.Fatal("no reset email sent")
	}
	m := regexp.MustCompile(`reset-password\?token=(\S+)`).FindStringSubmatch(msg.Text)
	if m == nil {
		t.Fatalf("no token in %q", msg.Text)
	}
	token, _ := url.QueryUnescape(m[1])

	page := env.get(t, "/auth/reset-password?token="+url.QueryEscape(token), false)
	assertContains(t, page.body, "Choose a new password")

	short := env.post(t, "/auth/reset-password", url.Values{
		"token": {token}, "password": {"abc"}, "confirm_password": {"abc"},
	}, false)
	if short.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("short password status = %d, want 422", short.StatusCode)
	}

	done := env.post(t, "/auth/reset-password", url.Values{
		"token": {token}, "password": {"newpass1"}, "confirm_password": {"newpass1"},
	}, false)
	if done.StatusCode != http.StatusOK {
		t.Fatalf("confirm status = %d; body: %s", done.StatusCode, done.body)
	}
	assertContains(t, done.body, "Your password has been updated.")

	reused := env.post(t, "/auth/reset-password", url.Values{
		"token": {token}, "password": {"newpass2"}, "confirm_password": {"newpass2"},
	}, false)
	assertContains(t, reused.body, "This reset link")

	if _, err := env.provider.Authenticate(context.Background(), "erin@example.com", "newpass1"); err != nil {
		t.Errorf("authenticate with new password: %v", err)
	}
}

func TestLogout(t *testing.T) {
	env := newTestEnv(t)
	env.signUp(t, "frank@example.com")

	resp := env.post(t, "/auth/logout", url.Values{}, false)
	if resp.StatusCode != http.StatusSeeOther {
		t.Fatalf("status = %d, want 303", resp.StatusCode)
	}
	home := env.get(t, "/", false)
	assertNotContains(t, home.body, "frank@example.com")
	assertContains(t, home.body, `href="/auth?mode=login"`)
	env.waitFor(t, "provider sign-out", func() bool { return env.sessions.Len() == 0 })
}

func TestTheme_Toggle(t *testing.T) {
	env := newTestEnv(t)

	resp := env.post(t, "/theme", url.Values{}, true)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if got := resp.Header.Get("HX-Trigger"); got != `{"themeChanged":{"theme":"light"}}` {
		t.Errorf("HX-Trigger = %q", got)
	}
	assertContains(t, env.get(t, "/", false).body, `data-theme="light"`)

	bad := env.post(t, "/theme", url.Values{"theme": {"purple"}}, true)
	if bad.StatusCode != http.StatusBadRequest {
		t.Errorf("invalid theme status = %d, want 400", bad.StatusCode)
	}
}

func TestNotFound(t *testing.T) {
	env := newTestEnv(t)
	resp := env.get(t, "/no/such/page", false)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
	assertContains(t, resp.body, "nothing at this address")
}

func TestMachineRoutes(t *testing.T) {
	env := newTestEnv(t)

	if resp := env.get(t, "/metrics", false); resp.StatusCode != http.StatusOK {
		t.Errorf("/metrics status = %d, want 200", resp.StatusCode)
	}
	if resp := env.get(t, "/static/js/app.js", false); resp.StatusCode != http.StatusOK {
		t.Errorf("app.js status = %d, want 200", resp.StatusCode)
	}
	if resp := env.get(t, "/api/v1/session", false); resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("/api/v1/session status = %d, want 401", resp.StatusCode)
	}
}
