// Package identity is the client side of the identity provider: the account
// operations the site delegates (register, authenticate, password reset,
// sign-out) and the change notifications the session projection is built from.
//
// Two backends implement Provider: Firebase (Identity Toolkit REST API) and
// Local (accounts stored in the application database).
package identity

import (
	"context"
	"time"
)

// Identity is the authenticated principal the rest of the application observes.
type Identity struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Session is a live sign-in owned by the provider. ID is an opaque handle the
// application may store in a browser session; it never constructs one itself.
type Session struct {
	ID         string
	IdentityID string
	Email      string
	IDToken    string
	ExpiresAt  time.Time
}

// Identity returns the principal the session authenticates.
func (s *Session) Identity() Identity {
	return Identity{ID: s.IdentityID, Email: s.Email}
}

// Provider is the identity provider client.
//
// Register and Authenticate establish a session and announce it to
// subscribers; failures are returned as *Error carrying an auth/* code.
type Provider interface {
	Register(ctx context.Context, email, password string) (*Session, error)
	Authenticate(ctx context.Context, email, password string) (*Session, error)
	RequestPasswordReset(ctx context.Context, email string) error
	SignOut(ctx context.Context, sessionID string) error

	// Subscribe delivers a snapshot of the live sessions followed by every
	// subsequent change, until the subscription is cancelled.
	Subscribe(ctx context.Context) (*Subscription, error)
}

// Claims are the verified contents of a provider-issued ID token.
type Claims struct {
	IdentityID string `json:"identity_id"`
	Email      string `json:"email"`
	SessionID  string `json:"session_id,omitempty"`
}

// TokenVerifier validates ID tokens issued by a provider.
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, raw string) (*Claims, error)
}

// ResetConfirmer is implemented by providers that host the password reset
// confirmation themselves rather than on the provider's domain.
type ResetConfirmer interface {
	ConfirmPasswordReset(ctx context.Context, token, newPassword string) error
}

// Maintainer is implemented by providers with periodic upkeep (token refresh,
// expiry sweeps).
type Maintainer interface {
	Maintain(ctx context.Context) error
}
