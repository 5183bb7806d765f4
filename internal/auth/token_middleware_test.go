package auth_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/joestump/vetric/internal/auth"
	"github.com/joestump/vetric/internal/identity"
)

func TestBearerMiddleware(t *testing.T) {
	proj := &fakeProjection{sessions: map[string]identity.Identity{"s1": {ID: "u1", Email: "a@example.com"}}}
	var handle string
	h := auth.NewBearerMiddleware(proj).Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handle = auth.HandleFromContext(r.Context())
		if !auth.ViewFromContext(r.Context()).Authenticated() {
			t.Error("view not on context")
		}
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name    string
		header  string
		loading bool
		want    int
	}{
		{"valid", "Bearer s1", false, http.StatusOK},
		{"missing header", "", false, http.StatusUnauthorized},
		{"wrong scheme", "Basic s1", false, http.StatusUnauthorized},
		{"empty token", "Bearer ", false, http.StatusUnauthorized},
		{"unknown session", "Bearer nope", false, http.StatusUnauthorized},
		{"loading", "Bearer s1", true, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			proj.loading = tt.loading
			handle = ""
			req := httptest.NewRequest(http.MethodGet, "/api/v1/session", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
			if tt.want == http.StatusOK && handle != "s1" {
				t.Errorf("handle = %q, want s1", handle)
			}
		})
	}
}
