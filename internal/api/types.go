package api

import (
	"time"

	"github.com/joestump/vetric/internal/authflow"
	"github.com/joestump/vetric/internal/identity"
)

// RegisterRequest is the request body for POST /api/v1/auth/register.
type RegisterRequest struct {
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
}

// LoginRequest is the request body for POST /api/v1/auth/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// PasswordResetRequest is the request body for POST /api/v1/auth/password-reset.
type PasswordResetRequest struct {
	Email string `json:"email"`
}

// VerifyRequest is the request body for POST /api/v1/auth/verify.
type VerifyRequest struct {
	IDToken string `json:"id_token"`
}

// FlowStateResponse is the flow state after a submission.
type FlowStateResponse struct {
	Mode    string `json:"mode"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// NavigationResponse tells the client where to go and after how long.
type NavigationResponse struct {
	To      string `json:"to"`
	AfterMS int64  `json:"after_ms"`
}

// SessionResponse describes an established provider session. Handle is the
// Bearer token for the session routes.
type SessionResponse struct {
	Handle    string            `json:"handle"`
	IDToken   string            `json:"id_token"`
	ExpiresAt time.Time         `json:"expires_at"`
	Identity  identity.Identity `json:"identity"`
}

// AuthResponse is returned by register, login and password-reset.
type AuthResponse struct {
	State      FlowStateResponse   `json:"state"`
	Session    *SessionResponse    `json:"session,omitempty"`
	Navigation *NavigationResponse `json:"navigation,omitempty"`
}

// CurrentSessionResponse is returned by GET /api/v1/session.
type CurrentSessionResponse struct {
	Handle   string            `json:"handle"`
	Identity identity.Identity `json:"identity"`
}

func toFlowState(s authflow.State) FlowStateResponse {
	return FlowStateResponse{Mode: string(s.Mode), Status: string(s.Status), Message: s.Message}
}

func toNavigation(n *authflow.Navigation) *NavigationResponse {
	if n == nil {
		return nil
	}
	return &NavigationResponse{To: n.To, AfterMS: n.After.Milliseconds()}
}

func toSession(s *identity.Session) *SessionResponse {
	if s == nil {
		return nil
	}
	return &SessionResponse{
		Handle:    s.ID,
		IDToken:   s.IDToken,
		ExpiresAt: s.ExpiresAt,
		Identity:  s.Identity(),
	}
}
