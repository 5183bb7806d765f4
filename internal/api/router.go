package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/joestump/vetric/internal/auth"
	"github.com/joestump/vetric/internal/authflow"
	"github.com/joestump/vetric/internal/identity"
)

// Deps holds all dependencies required to build the API router.
type Deps struct {
	BearerAuth *auth.BearerMiddleware
	Controller *authflow.Controller
	// Flows tracks flows of clients that send X-Flow-ID.
	Flows    *authflow.Registry
	Provider identity.Provider
	// Verifier is optional; without it /auth/verify is not routed.
	Verifier identity.TokenVerifier
}

// NewAPIRouter creates a chi sub-router for /api/v1.
// Auth submissions are public; session routes require a Bearer session handle.
func NewAPIRouter(deps Deps) chi.Router {
	r := chi.NewRouter()

	// All API responses are JSON.
	r.Use(jsonContentType)

	h := &authAPIHandler{ctrl: deps.Controller, flows: deps.Flows, provider: deps.Provider}
	r.Post("/auth/register", h.Register)
	r.Post("/auth/login", h.Login)
	r.Post("/auth/password-reset", h.PasswordReset)
	if deps.Verifier != nil {
		v := &verifyAPIHandler{verifier: deps.Verifier}
		r.Post("/auth/verify", v.Verify)
	}

	r.Group(func(r chi.Router) {
		r.Use(deps.BearerAuth.Authenticate)
		r.Get("/session", h.Session)
		r.Post("/auth/logout", h.Logout)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found", "not_found")
	})

	return r
}

// jsonContentType is a middleware that sets Content-Type: application/json on all responses.
func jsonContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
