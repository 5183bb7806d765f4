package identity

import "fmt"

// Provider error codes, in the auth/* namespace the Firebase SDK reports.
const (
	CodeInvalidCredential    = "auth/invalid-credential"
	CodeUserNotFound         = "auth/user-not-found"
	CodeWrongPassword        = "auth/wrong-password"
	CodeEmailAlreadyInUse    = "auth/email-already-in-use"
	CodeWeakPassword         = "auth/weak-password"
	CodeInvalidEmail         = "auth/invalid-email"
	CodeMissingPassword      = "auth/missing-password"
	CodeMissingEmail         = "auth/missing-email"
	CodeUserDisabled         = "auth/user-disabled"
	CodeTooManyRequests      = "auth/too-many-requests"
	CodeOperationNotAllowed  = "auth/operation-not-allowed"
	CodeInvalidActionCode    = "auth/invalid-action-code"
	CodeExpiredActionCode    = "auth/expired-action-code"
	CodeInvalidIDToken       = "auth/invalid-id-token"
	CodeTokenExpired         = "auth/user-token-expired"
	CodeNetworkRequestFailed = "auth/network-request-failed"
	CodeInternalError        = "auth/internal-error"
)

// Error is a failure reported by the identity provider. Message is the text
// the provider produced; Code is its auth/* code.
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Err }

// NewError builds an Error whose message embeds the code, e.g.
// "Error (auth/wrong-password).".
func NewError(code string) *Error {
	return &Error{Code: code, Message: fmt.Sprintf("Error (%s).", code)}
}

// wrapError builds an Error for code that keeps cause for logging.
func wrapError(code string, cause error) *Error {
	e := NewError(code)
	e.Err = cause
	return e
}
