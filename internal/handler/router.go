package handler

import (
	"io/fs"
	"net/http"

	"github.com/alexedwards/scs/v2"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger/v2"

	_ "github.com/joestump/vetric/docs/swagger"
	"github.com/joestump/vetric/internal/api"
	"github.com/joestump/vetric/internal/auth"
	"github.com/joestump/vetric/internal/authflow"
	"github.com/joestump/vetric/internal/identity"
	"github.com/joestump/vetric/web"
)

// Deps holds all dependencies required to build the HTTP router.
type Deps struct {
	SessionManager *scs.SessionManager
	Provider       identity.Provider
	Controller     *authflow.Controller
	Flows          *authflow.Registry
	AuthHandlers   *auth.Handlers
	AuthMiddleware *auth.Middleware
	BearerAuth     *auth.BearerMiddleware
	// Verifier and ResetConfirmer default to Provider when it implements
	// them; set them when Provider is wrapped.
	Verifier       identity.TokenVerifier
	ResetConfirmer identity.ResetConfirmer
	// RedirectTo is where signed-in visitors of /auth are sent.
	RedirectTo string
}

// NewRouter assembles the full chi router with all middleware and routes.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	// Standard middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	// Machine routes carry no browser session.
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/api/docs/*", httpSwagger.WrapHandler)

	verifier := deps.Verifier
	if v, ok := deps.Provider.(identity.TokenVerifier); ok && verifier == nil {
		verifier = v
	}
	confirmer := deps.ResetConfirmer
	if c, ok := deps.Provider.(identity.ResetConfirmer); ok && confirmer == nil {
		confirmer = c
	}
	r.Mount("/api/v1", api.NewAPIRouter(api.Deps{
		BearerAuth: deps.BearerAuth,
		Controller: deps.Controller,
		Flows:      deps.Flows,
		Provider:   deps.Provider,
		Verifier:   verifier,
	}))

	// Static assets (embedded). Use fs.Sub so the file server sees
	// css/app.css and js/app.js directly, not static/css/... paths.
	staticSub, err := fs.Sub(web.StaticFS, "static")
	if err != nil {
		panic("failed to sub static FS: " + err.Error())
	}
	r.Handle("/static/*", http.StripPrefix("/static", http.FileServerFS(staticSub)))

	redirectTo := deps.RedirectTo
	if redirectTo == "" {
		redirectTo = "/"
	}
	landing := NewLandingHandler()
	authPages := NewAuthHandler(deps.Controller, deps.Flows, deps.SessionManager)

	r.Group(func(r chi.Router) {
		r.Use(deps.SessionManager.LoadAndSave)
		r.Use(deps.AuthMiddleware.LoadIdentity)

		r.Post("/theme", NewThemeHandler().Toggle)
		r.Get("/", landing.Index)

		r.With(deps.AuthMiddleware.RequireGuest(redirectTo)).Get("/auth", authPages.Page)
		r.Post("/auth/login", authPages.PageLogin)
		r.Post("/auth/signup", authPages.PageSignup)
		r.Post("/auth/reset", authPages.PageReset)
		r.Post("/auth/mode", authPages.PageMode)
		r.Post("/auth/edit", authPages.PageEdit)
		r.Post("/auth/logout", deps.AuthHandlers.Logout)

		r.Get("/auth/modal", authPages.Modal)
		r.Delete("/auth/modal", authPages.CloseModal)
		r.Get("/auth/modal/reset", authPages.ResetModal)
		r.Post("/auth/modal/login", authPages.ModalLogin)
		r.Post("/auth/modal/signup", authPages.ModalSignup)
		r.Post("/auth/modal/reset", authPages.ModalReset)
		r.Post("/auth/modal/mode", authPages.ModalMode)
		r.Post("/auth/modal/edit", authPages.ModalEdit)

		// Providers that mail their own reset links host the confirmation
		// page themselves.
		if confirmer != nil {
			reset := NewResetPasswordHandler(confirmer)
			r.Get("/auth/reset-password", reset.Show)
			r.Post("/auth/reset-password", reset.Confirm)
		}

		r.NotFound(landing.NotFound)
	})

	return r
}
