package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
)

const handleContextKey contextKey = "session_handle"

// BearerMiddleware authenticates API requests by the provider session
// handle sent as a Bearer token. Browser session cookies are not consulted.
type BearerMiddleware struct {
	store Projection
}

// NewBearerMiddleware creates a new BearerMiddleware.
func NewBearerMiddleware(store Projection) *BearerMiddleware {
	return &BearerMiddleware{store: store}
}

// Authenticate rejects requests without a live session handle with 401, or
// with 503 while the session store is still loading. On success the View and
// the handle are put on the request context.
func (m *BearerMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handle, ok := bearerToken(r)
		if !ok {
			writeJSONError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		view := m.store.Lookup(handle)
		if view.Loading {
			w.Header().Set("Retry-After", "1")
			writeJSONError(w, http.StatusServiceUnavailable, "session store loading")
			return
		}
		if !view.Authenticated() {
			writeJSONError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		ctx := WithView(r.Context(), view)
		ctx = context.WithValue(ctx, handleContextKey, handle)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// HandleFromContext returns the session handle BearerMiddleware accepted.
func HandleFromContext(ctx context.Context) string {
	h, _ := ctx.Value(handleContextKey).(string)
	return h
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return "", false
	}
	tok := strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	return tok, tok != ""
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
