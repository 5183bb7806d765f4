package auth

import (
	"context"
	"net/http"
	"time"

	"github.com/alexedwards/scs/mysqlstore"
	"github.com/alexedwards/scs/postgresstore"
	"github.com/alexedwards/scs/sqlite3store"
	"github.com/alexedwards/scs/v2"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/joestump/vetric/internal/identity"
)

const (
	// SessionHandleKey holds the provider's opaque session handle.
	SessionHandleKey = "identity_session"
	// SessionOwnerKey identifies the browser to the flow registry.
	SessionOwnerKey = "flow_owner"
)

// NewSessionManager creates an SCS session manager backed by the application DB.
// The driver parameter selects the appropriate store: "mysql", "postgres", or
// "sqlite3" (default).
func NewSessionManager(db *sqlx.DB, driver string, lifetime time.Duration, secure bool) *scs.SessionManager {
	sm := scs.New()
	switch driver {
	case "mysql":
		sm.Store = mysqlstore.New(db.DB)
	case "postgres":
		sm.Store = postgresstore.New(db.DB)
	default: // sqlite3
		sm.Store = sqlite3store.New(db.DB)
	}
	sm.Lifetime = lifetime
	sm.Cookie.Name = "vetric_session"
	sm.Cookie.HttpOnly = true
	sm.Cookie.Secure = secure
	sm.Cookie.SameSite = http.SameSiteLaxMode
	return sm
}

// SignIn links a provider session to the browser session. The token is
// renewed to prevent fixation.
func SignIn(ctx context.Context, sm *scs.SessionManager, sess *identity.Session) error {
	if err := sm.RenewToken(ctx); err != nil {
		return err
	}
	sm.Put(ctx, SessionHandleKey, sess.ID)
	return nil
}

// Owner returns the browser's flow owner id, creating one on first use.
func Owner(ctx context.Context, sm *scs.SessionManager) string {
	if id := sm.GetString(ctx, SessionOwnerKey); id != "" {
		return id
	}
	id := uuid.NewString()
	sm.Put(ctx, SessionOwnerKey, id)
	return id
}
