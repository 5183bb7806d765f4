package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/joestump/vetric/internal/api"
	"github.com/joestump/vetric/internal/auth"
	"github.com/joestump/vetric/internal/authflow"
	"github.com/joestump/vetric/internal/email"
	"github.com/joestump/vetric/internal/identity"
	"github.com/joestump/vetric/internal/session"
	"github.com/joestump/vetric/internal/testutil"
)

// testEnv wires the API router to a real Local provider on an in-memory
// SQLite database.
type testEnv struct {
	Router   http.Handler
	Provider *identity.Local
	Sessions *session.Store
	Flows    *authflow.Registry
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	p := identity.NewLocal(testutil.NewTestDB(t), email.NewLogSender(), identity.NewHub(), identity.LocalConfig{
		Issuer:   "http://localhost:8080",
		Secret:   []byte("api-test-secret"),
		ResetURL: "http://localhost:8080/auth/reset-password",
	})
	store, err := session.Open(context.Background(), p)
	if err != nil {
		t.Fatalf("open session store: %v", err)
	}
	t.Cleanup(store.Close)
	<-store.Ready()

	flows := authflow.NewRegistry(time.Minute)
	router := api.NewAPIRouter(api.Deps{
		BearerAuth: auth.NewBearerMiddleware(store),
		Controller: authflow.NewController(p, authflow.DefaultConfig()),
		Flows:      flows,
		Provider:   p,
		Verifier:   p,
	})
	return &testEnv{Router: router, Provider: p, Sessions: store, Flows: flows}
}

// do sends a JSON request through the router.
func (env *testEnv) do(t *testing.T, method, path string, body any, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	return env.doFrom(t, "", method, path, body, header)
}

// doFrom is do with the request's RemoteAddr set to remote, when not empty.
func (env *testEnv) doFrom(t *testing.T, remote, method, path string, body any, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if remote != "" {
		req.RemoteAddr = remote
	}
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	env.Router.ServeHTTP(rec, req)
	return rec
}

// signUp registers an account and waits until the session store knows the
// returned handle.
func (env *testEnv) signUp(t *testing.T, addr string) api.AuthResponse {
	t.Helper()
	rec := env.do(t, "POST", "/auth/register", api.RegisterRequest{
		Email: addr, Password: "hunter22", ConfirmPassword: "hunter22",
	}, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("register status = %d, want 201; body: %s", rec.Code, rec.Body.String())
	}
	var resp api.AuthResponse
	decode(t, rec, &resp)
	if resp.Session == nil {
		t.Fatal("register returned no session")
	}
	env.waitFor(t, func() bool { return env.Sessions.Lookup(resp.Session.Handle).Authenticated() })
	return resp
}

func (env *testEnv) waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met within 2s")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func bearer(handle string) http.Header {
	return http.Header{"Authorization": {"Bearer " + handle}}
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("decode: %v; body: %s", err, rec.Body.String())
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}
