package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/joestump/vetric/internal/auth"
	"github.com/joestump/vetric/internal/authflow"
	"github.com/joestump/vetric/internal/build"
	"github.com/joestump/vetric/internal/config"
	"github.com/joestump/vetric/internal/db"
	"github.com/joestump/vetric/internal/email"
	"github.com/joestump/vetric/internal/handler"
	"github.com/joestump/vetric/internal/identity"
	"github.com/joestump/vetric/internal/ratelimit"
	"github.com/joestump/vetric/internal/session"
	"github.com/joestump/vetric/internal/telemetry"
)

const (
	maintenanceInterval = time.Minute
	flowTTL             = 30 * time.Minute
	shutdownTimeout     = 10 * time.Second
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			shutdownTracing, err := telemetry.Setup(ctx, "vetric", build.Version, cfg.OTel.Endpoint)
			if err != nil {
				return err
			}
			defer func() { _ = shutdownTracing(context.Background()) }()

			database, err := db.New(cfg.DB.Driver, cfg.DB.DSN)
			if err != nil {
				return err
			}
			defer func() { _ = database.Close() }()

			if err := db.Migrate(database, cfg.DB.Driver); err != nil {
				return err
			}

			var rdb redis.UniversalClient
			if cfg.Redis.Addr != "" {
				rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password})
				defer func() { _ = rdb.Close() }()
			}

			bus, err := newBus(ctx, rdb)
			if err != nil {
				return err
			}
			if c, ok := bus.(io.Closer); ok {
				defer func() { _ = c.Close() }()
			}
			base, err := newProvider(ctx, cfg, database, bus)
			if err != nil {
				return err
			}

			var limiter ratelimit.Limiter
			if rdb != nil {
				limiter = ratelimit.NewRedis(rdb, cfg.Reset.MaxRequests, cfg.Reset.Window)
			} else {
				limiter = ratelimit.NewMemory(cfg.Reset.MaxRequests, cfg.Reset.Window)
			}
			provider := ratelimit.NewThrottledProvider(base, limiter)

			// The one subscription of this process.
			sessions, err := session.Open(ctx, provider)
			if err != nil {
				return err
			}
			defer sessions.Close()

			sessionManager := auth.NewSessionManager(database, cfg.DB.Driver, cfg.SessionLifetime, !cfg.InsecureCookies)
			controller := authflow.NewController(provider, authflow.Config{
				RedirectTo:  cfg.Flow.RedirectTo,
				SignupDelay: cfg.Flow.SignupRedirect,
				LoginDelay:  cfg.Flow.LoginRedirect,
				ResetDelay:  cfg.Flow.ResetRedirect,
			})
			flows := authflow.NewRegistry(flowTTL)

			deps := handler.Deps{
				SessionManager: sessionManager,
				Provider:       provider,
				Controller:     controller,
				Flows:          flows,
				AuthHandlers:   auth.NewHandlers(provider, sessionManager),
				AuthMiddleware: auth.NewMiddleware(sessionManager, sessions),
				BearerAuth:     auth.NewBearerMiddleware(sessions),
				RedirectTo:     cfg.Flow.RedirectTo,
			}
			if v, ok := base.(identity.TokenVerifier); ok {
				deps.Verifier = v
			}
			if c, ok := base.(identity.ResetConfirmer); ok {
				deps.ResetConfirmer = c
			}

			go runMaintenance(ctx, provider, flows)

			srv := &http.Server{Addr: cfg.HTTP.Addr, Handler: handler.NewRouter(deps)}
			errCh := make(chan error, 1)
			go func() {
				log.Printf("vetric %s listening on %s (identity provider: %s)", build.String(), cfg.HTTP.Addr, cfg.Identity.Provider)
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			case <-ctx.Done():
			}

			log.Println("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
}

// newBus relays identity notifications through Redis when it is configured,
// so every instance's session store sees every sign-in.
func newBus(ctx context.Context, rdb redis.UniversalClient) (identity.Bus, error) {
	if rdb == nil {
		return identity.NewHub(), nil
	}
	bus, err := identity.NewRedisBus(ctx, rdb, identity.DefaultRedisChannel)
	if err != nil {
		return nil, fmt.Errorf("identity bus: %w", err)
	}
	return bus, nil
}

func newProvider(ctx context.Context, cfg *config.Config, database *sqlx.DB, bus identity.Bus) (identity.Provider, error) {
	switch cfg.Identity.Provider {
	case config.ProviderFirebase:
		return identity.NewFirebase(ctx, bus, identity.FirebaseConfig{
			APIKey:    cfg.Firebase.APIKey,
			ProjectID: cfg.Firebase.ProjectID,
		}), nil
	case config.ProviderLocal:
		var sender email.Sender = email.NewLogSender()
		if cfg.Email.Provider == "resend" {
			sender = email.NewResendSender(cfg.Email.ResendAPIKey, cfg.Email.From)
		}
		return identity.NewLocal(database, sender, bus, identity.LocalConfig{
			Issuer:     cfg.PublicURL,
			Secret:     []byte(cfg.Local.JWTSecret),
			SessionTTL: cfg.Local.SessionTTL,
			ResetTTL:   cfg.Local.ResetTTL,
			ResetURL:   cfg.PublicURL + "/auth/reset-password",
		}), nil
	}
	return nil, fmt.Errorf("unsupported identity provider %q", cfg.Identity.Provider)
}

// runMaintenance refreshes or expires provider sessions and releases
// abandoned flows until ctx is done.
func runMaintenance(ctx context.Context, m identity.Maintainer, flows *authflow.Registry) {
	t := time.NewTicker(maintenanceInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := m.Maintain(ctx); err != nil {
				log.Printf("maintenance: %v", err)
			}
			if n := flows.Sweep(); n > 0 {
				log.Printf("maintenance: released %d idle flows", n)
			}
		}
	}
}
