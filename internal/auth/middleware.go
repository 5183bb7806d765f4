package auth

import (
	"context"
	"net/http"

	"github.com/alexedwards/scs/v2"

	"github.com/joestump/vetric/internal/session"
)

type contextKey string

const viewContextKey contextKey = "session_view"

// Projection is the read side of the session store.
type Projection interface {
	Lookup(sessionID string) session.View
}

// Middleware resolves the browser session to the identity it is signed in as.
type Middleware struct {
	sessions *scs.SessionManager
	store    Projection
}

// NewMiddleware creates a new auth Middleware.
func NewMiddleware(sm *scs.SessionManager, store Projection) *Middleware {
	return &Middleware{sessions: sm, store: store}
}

// LoadIdentity puts the session View on the request context. A handle the
// provider no longer knows is dropped from the browser session.
func (m *Middleware) LoadIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handle := m.sessions.GetString(r.Context(), SessionHandleKey)
		view := m.store.Lookup(handle)
		if handle != "" && !view.Loading && !view.Authenticated() {
			m.sessions.Remove(r.Context(), SessionHandleKey)
		}
		next.ServeHTTP(w, r.WithContext(WithView(r.Context(), view)))
	})
}

// RequireGuest sends signed-in visitors to redirectTo.
func (m *Middleware) RequireGuest(redirectTo string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if ViewFromContext(r.Context()).Authenticated() {
				http.Redirect(w, r, redirectTo, http.StatusFound)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WithView returns ctx carrying v.
func WithView(ctx context.Context, v session.View) context.Context {
	return context.WithValue(ctx, viewContextKey, v)
}

// ViewFromContext returns the request's session View. Without LoadIdentity
// in the chain it reports an anonymous visitor.
func ViewFromContext(ctx context.Context) session.View {
	v, _ := ctx.Value(viewContextKey).(session.View)
	return v
}
