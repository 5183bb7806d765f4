package authflow

import (
	"errors"
	"strings"

	"github.com/joestump/vetric/internal/identity"
)

var (
	// ErrInFlight rejects a submission while another is pending on the
	// same flow. The flow is left untouched.
	ErrInFlight = errors.New("a submission is already in progress")
	// ErrCompleted rejects a submission on a flow that already succeeded.
	ErrCompleted = errors.New("flow already completed")
	// ErrReleased is returned when the flow was released, before or while
	// the provider call ran.
	ErrReleased = errors.New("flow released")
)

// Validation messages.
const (
	MsgPasswordMismatch = "Passwords do not match"
	MsgPasswordTooShort = "Password must be at least 6 characters"
	MsgEmailRequired    = "Please enter your email first"
)

// Success messages.
const (
	MsgRegistered = "Account created successfully! Redirecting..."
	MsgLoggedIn   = "Login successful! Redirecting..."
	MsgResetSent  = "Password reset email sent! Check your inbox."
)

// ValidationError is a locally detected input problem. The provider was not
// called.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// ProviderError is a provider failure. Message is the user-facing text; Err
// is what the provider returned.
type ProviderError struct {
	Code    string
	Message string
	Err     error
}

func (e *ProviderError) Error() string { return e.Message }

func (e *ProviderError) Unwrap() error { return e.Err }

// providerMessages maps provider error substrings to user messages. Order
// matters only if two entries could match the same error.
var providerMessages = []struct {
	match, message string
}{
	{"invalid-credential", "Wrong email or password"},
	{"user-not-found", "User not found"},
	{"wrong-password", "Wrong password"},
	{"email-already-in-use", "Email already in use"},
	{"weak-password", "Password is too weak"},
}

// UserMessage returns the text shown for err in a surface's message region.
// Provider failures without a mapping show the provider's own message.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Message
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Message
	}

	raw := err.Error()
	haystack := raw
	var ie *identity.Error
	if errors.As(err, &ie) {
		raw = ie.Message
		haystack = ie.Code + " " + ie.Message
	}
	for _, m := range providerMessages {
		if strings.Contains(haystack, m.match) {
			return m.message
		}
	}
	return raw
}

// newProviderError normalizes a provider failure.
func newProviderError(err error) *ProviderError {
	pe := &ProviderError{Message: UserMessage(err), Err: err}
	var ie *identity.Error
	if errors.As(err, &ie) {
		pe.Code = ie.Code
	}
	return pe
}
