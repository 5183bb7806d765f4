package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

const (
	DefaultIdentityToolkitURL = "https://identitytoolkit.googleapis.com/v1"
	DefaultSecureTokenURL     = "https://securetoken.googleapis.com/v1/token"

	firebaseIssuerPrefix = "https://securetoken.google.com/"
	firebaseKeysURL      = "https://www.googleapis.com/service_accounts/v1/jwk/securetoken@system.gserviceaccount.com"

	// refreshWindow is how long before expiry Maintain refreshes an ID token.
	refreshWindow = 5 * time.Minute
)

// FirebaseConfig configures the Firebase provider.
type FirebaseConfig struct {
	APIKey    string
	ProjectID string

	// Endpoint overrides, empty for the Google defaults.
	IdentityToolkitURL string
	SecureTokenURL     string

	HTTPClient *http.Client
}

// Firebase is a Provider backed by the Firebase Auth (Identity Toolkit) REST
// API. Sessions are held in memory; the refresh token never leaves the server.
type Firebase struct {
	cfg      FirebaseConfig
	client   *http.Client
	oauth    *oauth2.Config
	verifier *oidc.IDTokenVerifier
	bus      Bus
	now      func() time.Time

	mu       sync.RWMutex
	sessions map[string]*firebaseSession
}

type firebaseSession struct {
	identity  Identity
	idToken   string
	token     *oauth2.Token
	expiresAt time.Time
}

// NewFirebase creates a Firebase provider that verifies ID tokens against
// Google's published signing keys.
func NewFirebase(ctx context.Context, bus Bus, cfg FirebaseConfig) *Firebase {
	keys := oidc.NewRemoteKeySet(oidc.ClientContext(ctx, httpClient(cfg)), firebaseKeysURL)
	verifier := oidc.NewVerifier(firebaseIssuerPrefix+cfg.ProjectID, keys, &oidc.Config{ClientID: cfg.ProjectID})
	return NewFirebaseWithVerifier(bus, cfg, verifier)
}

// NewFirebaseWithVerifier creates a Firebase provider with a caller-supplied
// ID token verifier.
func NewFirebaseWithVerifier(bus Bus, cfg FirebaseConfig, verifier *oidc.IDTokenVerifier) *Firebase {
	if cfg.IdentityToolkitURL == "" {
		cfg.IdentityToolkitURL = DefaultIdentityToolkitURL
	}
	if cfg.SecureTokenURL == "" {
		cfg.SecureTokenURL = DefaultSecureTokenURL
	}
	cfg.IdentityToolkitURL = strings.TrimRight(cfg.IdentityToolkitURL, "/")

	return &Firebase{
		cfg:    cfg,
		client: httpClient(cfg),
		oauth: &oauth2.Config{
			Endpoint: oauth2.Endpoint{
				TokenURL:  cfg.SecureTokenURL + "?key=" + url.QueryEscape(cfg.APIKey),
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		verifier: verifier,
		bus:      bus,
		now:      time.Now,
		sessions: make(map[string]*firebaseSession),
	}
}

func httpClient(cfg FirebaseConfig) *http.Client {
	if cfg.HTTPClient != nil {
		return cfg.HTTPClient
	}
	return &http.Client{Timeout: 15 * time.Second}
}

type passwordRequest struct {
	Email             string `json:"email"`
	Password          string `json:"password"`
	ReturnSecureToken bool   `json:"returnSecureToken"`
}

type passwordResponse struct {
	LocalID      string `json:"localId"`
	Email        string `json:"email"`
	IDToken      string `json:"idToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    string `json:"expiresIn"`
}

func (f *Firebase) Register(ctx context.Context, email, password string) (*Session, error) {
	var resp passwordResponse
	if err := f.call(ctx, "accounts:signUp", passwordRequest{email, password, true}, &resp); err != nil {
		return nil, err
	}
	return f.openSession(ctx, resp)
}

func (f *Firebase) Authenticate(ctx context.Context, email, password string) (*Session, error) {
	var resp passwordResponse
	if err := f.call(ctx, "accounts:signInWithPassword", passwordRequest{email, password, true}, &resp); err != nil {
		return nil, err
	}
	return f.openSession(ctx, resp)
}

func (f *Firebase) RequestPasswordReset(ctx context.Context, email string) error {
	req := struct {
		RequestType string `json:"requestType"`
		Email       string `json:"email"`
	}{"PASSWORD_RESET", email}
	return f.call(ctx, "accounts:sendOobCode", req, nil)
}

// SignOut forgets the session. Firebase has no server-side sign-out for a
// single session, so the refresh token is simply discarded.
func (f *Firebase) SignOut(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	_, ok := f.sessions[sessionID]
	delete(f.sessions, sessionID)
	f.mu.Unlock()

	if ok {
		f.publish(ctx, Event{Kind: EventSignedOut, SessionID: sessionID})
	}
	return nil
}

func (f *Firebase) Subscribe(ctx context.Context) (*Subscription, error) {
	return subscribeWithSnapshot(ctx, f.bus, func(context.Context) (map[string]Identity, error) {
		f.mu.RLock()
		defer f.mu.RUnlock()
		out := make(map[string]Identity, len(f.sessions))
		for id, s := range f.sessions {
			out[id] = s.identity
		}
		return out, nil
	})
}

// Maintain refreshes ID tokens that are about to expire. A session whose
// refresh token is rejected is signed out.
func (f *Firebase) Maintain(ctx context.Context) error {
	deadline := f.now().Add(refreshWindow)

	f.mu.RLock()
	due := make(map[string]*oauth2.Token)
	for id, s := range f.sessions {
		if s.expiresAt.Before(deadline) {
			due[id] = s.token
		}
	}
	f.mu.RUnlock()

	for id, tok := range due {
		if err := f.refresh(ctx, id, tok); err != nil {
			var rerr *oauth2.RetrieveError
			if !errors.As(err, &rerr) {
				log.Printf("identity: refresh session %s: %v", id, err)
				continue
			}
			log.Printf("identity: refresh token rejected for session %s: %s", id, rerr.ErrorCode)
			_ = f.SignOut(ctx, id)
		}
	}
	return nil
}

func (f *Firebase) refresh(ctx context.Context, id string, stale *oauth2.Token) error {
	// Force a round trip; the cached access token is irrelevant here.
	expired := &oauth2.Token{RefreshToken: stale.RefreshToken, Expiry: time.Unix(1, 0)}
	tok, err := f.oauth.TokenSource(context.WithValue(ctx, oauth2.HTTPClient, f.client), expired).Token()
	if err != nil {
		return err
	}
	idToken, _ := tok.Extra("id_token").(string)
	if idToken == "" {
		return fmt.Errorf("token response has no id_token")
	}

	f.mu.Lock()
	s, ok := f.sessions[id]
	if ok {
		s.idToken = idToken
		s.token = tok
		s.expiresAt = tok.Expiry
	}
	f.mu.Unlock()

	if ok {
		ident := s.identity
		f.publish(ctx, Event{Kind: EventRefreshed, SessionID: id, Identity: &ident})
	}
	return nil
}

// VerifyIDToken validates a Firebase ID token and returns its claims. The
// session handle is filled in when the token belongs to a session this
// instance holds.
func (f *Firebase) VerifyIDToken(ctx context.Context, raw string) (*Claims, error) {
	tok, err := f.verifier.Verify(oidc.ClientContext(ctx, f.client), raw)
	if err != nil {
		var expired *oidc.TokenExpiredError
		if errors.As(err, &expired) {
			return nil, firebaseError(CodeTokenExpired, "", err)
		}
		return nil, firebaseError(CodeInvalidIDToken, "", err)
	}
	var body struct {
		Email string `json:"email"`
	}
	if err := tok.Claims(&body); err != nil {
		return nil, firebaseError(CodeInvalidIDToken, "", err)
	}

	claims := &Claims{IdentityID: tok.Subject, Email: body.Email}
	f.mu.RLock()
	for id, s := range f.sessions {
		if s.idToken == raw {
			claims.SessionID = id
			break
		}
	}
	f.mu.RUnlock()
	return claims, nil
}

func (f *Firebase) openSession(ctx context.Context, resp passwordResponse) (*Session, error) {
	secs, err := strconv.Atoi(resp.ExpiresIn)
	if err != nil {
		secs = 3600
	}
	expiresAt := f.now().Add(time.Duration(secs) * time.Second)

	sess := &Session{
		ID:         uuid.NewString(),
		IdentityID: resp.LocalID,
		Email:      resp.Email,
		IDToken:    resp.IDToken,
		ExpiresAt:  expiresAt,
	}
	ident := sess.Identity()

	f.mu.Lock()
	f.sessions[sess.ID] = &firebaseSession{
		identity:  ident,
		idToken:   resp.IDToken,
		token:     &oauth2.Token{RefreshToken: resp.RefreshToken, Expiry: expiresAt},
		expiresAt: expiresAt,
	}
	f.mu.Unlock()

	f.publish(ctx, Event{Kind: EventSignedIn, SessionID: sess.ID, Identity: &ident})
	return sess, nil
}

func (f *Firebase) publish(ctx context.Context, e Event) {
	if err := f.bus.Publish(ctx, e); err != nil {
		log.Printf("identity: publish %s for session %s: %v", e.Kind, e.SessionID, err)
	}
}

type restError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// call POSTs body to an Identity Toolkit method and decodes the reply into
// out. REST failures come back as *Error with the matching auth/* code.
func (f *Firebase) call(ctx context.Context, method string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return firebaseError(CodeInternalError, "", err)
	}
	endpoint := fmt.Sprintf("%s/%s?key=%s", f.cfg.IdentityToolkitURL, method, url.QueryEscape(f.cfg.APIKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return firebaseError(CodeInternalError, "", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return firebaseError(CodeNetworkRequestFailed, "", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return firebaseError(CodeNetworkRequestFailed, "", err)
	}
	if resp.StatusCode != http.StatusOK {
		var re restError
		if err := json.Unmarshal(data, &re); err != nil || re.Error.Message == "" {
			return firebaseError(CodeInternalError, "", fmt.Errorf("%s: HTTP %d", method, resp.StatusCode))
		}
		return translateRESTError(re.Error.Message)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return firebaseError(CodeInternalError, "", fmt.Errorf("decode %s response: %w", method, err))
	}
	return nil
}

// restCodes maps Identity Toolkit error messages to auth/* codes.
var restCodes = map[string]string{
	"EMAIL_EXISTS":                CodeEmailAlreadyInUse,
	"EMAIL_NOT_FOUND":             CodeUserNotFound,
	"USER_NOT_FOUND":              CodeUserNotFound,
	"INVALID_PASSWORD":            CodeWrongPassword,
	"INVALID_LOGIN_CREDENTIALS":   CodeInvalidCredential,
	"WEAK_PASSWORD":               CodeWeakPassword,
	"INVALID_EMAIL":               CodeInvalidEmail,
	"MISSING_EMAIL":               CodeMissingEmail,
	"MISSING_PASSWORD":            CodeMissingPassword,
	"USER_DISABLED":               CodeUserDisabled,
	"TOO_MANY_ATTEMPTS_TRY_LATER": CodeTooManyRequests,
	"OPERATION_NOT_ALLOWED":       CodeOperationNotAllowed,
	"PASSWORD_LOGIN_DISABLED":     CodeOperationNotAllowed,
	"INVALID_ID_TOKEN":            CodeInvalidIDToken,
	"TOKEN_EXPIRED":               CodeTokenExpired,
}

// translateRESTError parses messages of the form "CODE" or "CODE : detail".
func translateRESTError(msg string) *Error {
	name, detail, _ := strings.Cut(msg, " : ")
	name = strings.TrimSpace(name)
	code, ok := restCodes[name]
	if !ok {
		return firebaseError(CodeInternalError, msg, nil)
	}
	return firebaseError(code, strings.TrimSpace(detail), nil)
}

// firebaseError renders messages the way the Firebase web SDK does:
// "Firebase: Error (auth/wrong-password)." or, with detail,
// "Firebase: Password should be at least 6 characters (auth/weak-password).".
func firebaseError(code, detail string, cause error) *Error {
	if detail == "" {
		detail = "Error"
	}
	return &Error{
		Code:    code,
		Message: fmt.Sprintf("Firebase: %s (%s).", detail, code),
		Err:     cause,
	}
}
