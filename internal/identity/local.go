package identity

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"net/mail"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jmoiron/sqlx"

	"github.com/joestump/vetric/internal/email"
	"github.com/joestump/vetric/internal/store"
)

const localAudience = "vetric"

// LocalConfig configures the Local provider.
type LocalConfig struct {
	// Issuer is the iss claim of issued ID tokens, normally the public URL.
	Issuer string
	// Secret signs ID tokens (HS256).
	Secret     []byte
	SessionTTL time.Duration
	ResetTTL   time.Duration
	// ResetURL is the absolute URL of the reset confirmation page; the token
	// is appended as ?token=.
	ResetURL string
}

// Local is a Provider backed by the application database.
type Local struct {
	users    *store.UserStore
	sessions *store.SessionStore
	resets   *store.ResetStore
	mailer   email.Sender
	bus      Bus
	cfg      LocalConfig
	now      func() time.Time
}

// NewLocal creates a Local provider. Events are published on bus.
func NewLocal(db *sqlx.DB, mailer email.Sender, bus Bus, cfg LocalConfig) *Local {
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 7 * 24 * time.Hour
	}
	if cfg.ResetTTL <= 0 {
		cfg.ResetTTL = time.Hour
	}
	return &Local{
		users:    store.NewUserStore(db),
		sessions: store.NewSessionStore(db),
		resets:   store.NewResetStore(db),
		mailer:   mailer,
		bus:      bus,
		cfg:      cfg,
		now:      time.Now,
	}
}

func (l *Local) Register(ctx context.Context, emailAddr, password string) (*Session, error) {
	if err := validateEmail(emailAddr); err != nil {
		return nil, err
	}
	if password == "" {
		return nil, NewError(CodeMissingPassword)
	}
	if len(password) < MinPasswordLength {
		e := NewError(CodeWeakPassword)
		e.Message = fmt.Sprintf("Password should be at least %d characters (%s).", MinPasswordLength, CodeWeakPassword)
		return nil, e
	}

	hash, err := hashPassword(password)
	if err != nil {
		return nil, wrapError(CodeInternalError, err)
	}
	u, err := l.users.Create(ctx, emailAddr, hash)
	if errors.Is(err, store.ErrDuplicateEmail) {
		return nil, NewError(CodeEmailAlreadyInUse)
	}
	if err != nil {
		return nil, wrapError(CodeInternalError, err)
	}
	return l.openSession(ctx, u.ID)
}

func (l *Local) Authenticate(ctx context.Context, emailAddr, password string) (*Session, error) {
	if err := validateEmail(emailAddr); err != nil {
		return nil, err
	}
	if password == "" {
		return nil, NewError(CodeMissingPassword)
	}

	u, err := l.users.GetByEmail(ctx, emailAddr)
	if errors.Is(err, store.ErrNotFound) {
		return nil, NewError(CodeUserNotFound)
	}
	if err != nil {
		return nil, wrapError(CodeInternalError, err)
	}
	ok, err := checkPassword(u.PasswordHash, password)
	if err != nil {
		return nil, wrapError(CodeInternalError, err)
	}
	if !ok {
		return nil, NewError(CodeWrongPassword)
	}
	return l.openSession(ctx, u.ID)
}

func (l *Local) RequestPasswordReset(ctx context.Context, emailAddr string) error {
	if err := validateEmail(emailAddr); err != nil {
		return err
	}
	u, err := l.users.GetByEmail(ctx, emailAddr)
	if errors.Is(err, store.ErrNotFound) {
		return NewError(CodeUserNotFound)
	}
	if err != nil {
		return wrapError(CodeInternalError, err)
	}

	raw, hash, err := newResetToken()
	if err != nil {
		return wrapError(CodeInternalError, err)
	}
	if _, err := l.resets.Create(ctx, u.ID, hash, l.cfg.ResetTTL); err != nil {
		return wrapError(CodeInternalError, err)
	}

	link := l.cfg.ResetURL + "?token=" + url.QueryEscape(raw)
	err = l.mailer.Send(ctx, email.Message{
		To:      u.Email,
		Subject: "Reset your Vetric password",
		HTML: fmt.Sprintf(`<p>Follow this link to reset your Vetric password:</p>
<p><a href="%s">Reset password</a></p>
<p>The link expires in %s. If you didn't ask to reset your password, you can ignore this email.</p>`, link, l.cfg.ResetTTL),
		Text: fmt.Sprintf("Follow this link to reset your Vetric password:\n\n%s\n\nThe link expires in %s. If you didn't ask to reset your password, you can ignore this email.\n", link, l.cfg.ResetTTL),
	})
	if err != nil {
		return wrapError(CodeNetworkRequestFailed, err)
	}
	return nil
}

// ConfirmPasswordReset sets a new password for the account a reset token was
// issued to. Every open session of that account is signed out.
func (l *Local) ConfirmPasswordReset(ctx context.Context, token, newPassword string) error {
	if len(newPassword) < MinPasswordLength {
		return NewError(CodeWeakPassword)
	}
	r, err := l.resets.Consume(ctx, hashResetToken(token))
	switch {
	case errors.Is(err, store.ErrNotFound):
		return NewError(CodeInvalidActionCode)
	case errors.Is(err, store.ErrResetExpired):
		return NewError(CodeExpiredActionCode)
	case err != nil:
		return wrapError(CodeInternalError, err)
	}

	hash, err := hashPassword(newPassword)
	if err != nil {
		return wrapError(CodeInternalError, err)
	}
	if err := l.users.UpdatePassword(ctx, r.UserID, hash); err != nil {
		return wrapError(CodeInternalError, err)
	}

	ids, err := l.sessions.DeleteByUser(ctx, r.UserID)
	if err != nil {
		return wrapError(CodeInternalError, err)
	}
	for _, id := range ids {
		l.publish(ctx, Event{Kind: EventSignedOut, SessionID: id})
	}
	return nil
}

// SignOut ends a session. Unknown sessions are ignored.
func (l *Local) SignOut(ctx context.Context, sessionID string) error {
	err := l.sessions.Delete(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return wrapError(CodeInternalError, err)
	}
	l.publish(ctx, Event{Kind: EventSignedOut, SessionID: sessionID})
	return nil
}

func (l *Local) Subscribe(ctx context.Context) (*Subscription, error) {
	return subscribeWithSnapshot(ctx, l.bus, func(ctx context.Context) (map[string]Identity, error) {
		active, err := l.sessions.ListActive(ctx, l.now())
		if err != nil {
			return nil, fmt.Errorf("list active sessions: %w", err)
		}
		out := make(map[string]Identity, len(active))
		for _, s := range active {
			out[s.ID] = Identity{ID: s.UserID, Email: s.Email}
		}
		return out, nil
	})
}

// Maintain deletes expired sessions and announces them as sign-outs.
func (l *Local) Maintain(ctx context.Context) error {
	expired, err := l.sessions.ListExpired(ctx, l.now())
	if err != nil {
		return fmt.Errorf("list expired sessions: %w", err)
	}
	for _, s := range expired {
		if err := l.sessions.Delete(ctx, s.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("delete expired session %s: %w", s.ID, err)
		}
		l.publish(ctx, Event{Kind: EventSignedOut, SessionID: s.ID})
	}
	return nil
}

type localClaims struct {
	Email     string `json:"email"`
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

func (l *Local) VerifyIDToken(ctx context.Context, raw string) (*Claims, error) {
	var c localClaims
	_, err := jwt.ParseWithClaims(raw, &c, func(*jwt.Token) (any, error) { return l.cfg.Secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(l.cfg.Issuer),
		jwt.WithAudience(localAudience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(l.now),
	)
	if errors.Is(err, jwt.ErrTokenExpired) {
		return nil, wrapError(CodeTokenExpired, err)
	}
	if err != nil {
		return nil, wrapError(CodeInvalidIDToken, err)
	}
	return &Claims{IdentityID: c.Subject, Email: c.Email, SessionID: c.SessionID}, nil
}

func (l *Local) openSession(ctx context.Context, userID string) (*Session, error) {
	s, err := l.sessions.Create(ctx, userID, l.cfg.SessionTTL)
	if err != nil {
		return nil, wrapError(CodeInternalError, err)
	}
	token, err := l.issueIDToken(s)
	if err != nil {
		return nil, wrapError(CodeInternalError, err)
	}

	sess := &Session{
		ID:         s.ID,
		IdentityID: s.UserID,
		Email:      s.Email,
		IDToken:    token,
		ExpiresAt:  s.ExpiresAt,
	}
	id := sess.Identity()
	l.publish(ctx, Event{Kind: EventSignedIn, SessionID: sess.ID, Identity: &id})
	return sess, nil
}

func (l *Local) issueIDToken(s *store.IdentitySession) (string, error) {
	now := l.now()
	claims := localClaims{
		Email:     s.Email,
		SessionID: s.ID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    l.cfg.Issuer,
			Subject:   s.UserID,
			Audience:  jwt.ClaimStrings{localAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(s.ExpiresAt),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(l.cfg.Secret)
}

// publish announces e. A failed publish leaves the projection stale until the
// next snapshot, so it is logged rather than failing the operation.
func (l *Local) publish(ctx context.Context, e Event) {
	if err := l.bus.Publish(ctx, e); err != nil {
		log.Printf("identity: publish %s for session %s: %v", e.Kind, e.SessionID, err)
	}
}

func validateEmail(addr string) error {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return NewError(CodeMissingEmail)
	}
	parsed, err := mail.ParseAddress(addr)
	if err != nil || parsed.Address != addr {
		return NewError(CodeInvalidEmail)
	}
	return nil
}

// newResetToken returns a random URL-safe token and the SHA-256 hex digest
// that is stored in its place.
func newResetToken() (raw, hash string, err error) {
	b := make([]byte, 32)
	if _, err = rand.Read(b); err != nil {
		return "", "", err
	}
	raw = base64.RawURLEncoding.EncodeToString(b)
	return raw, hashResetToken(raw), nil
}

func hashResetToken(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}
