package handler

import (
	"errors"
	"log"
	"net/http"

	"github.com/joestump/vetric/internal/identity"
)

// Reset confirmation messages.
const (
	msgResetDone        = "Your password has been updated. You can now sign in."
	msgResetInvalid     = "This reset link is invalid or has already been used."
	msgResetExpired     = "This reset link has expired. Request a new one from the sign in page."
	msgResetShort       = "Password must be at least 6 characters"
	msgResetMismatch    = "Passwords do not match"
	msgResetUnavailable = "Something went wrong. Please try again."
)

// ResetPasswordPage is the data for the reset confirmation page.
type ResetPasswordPage struct {
	BasePage
	Token   string
	Message string
	Done    bool
}

// ResetPasswordHandler serves the page reset emails link to. Only providers
// that confirm resets themselves need it.
type ResetPasswordHandler struct {
	confirmer identity.ResetConfirmer
}

// NewResetPasswordHandler creates a new ResetPasswordHandler.
func NewResetPasswordHandler(c identity.ResetConfirmer) *ResetPasswordHandler {
	return &ResetPasswordHandler{confirmer: c}
}

// Show handles GET /auth/reset-password?token=.
func (h *ResetPasswordHandler) Show(w http.ResponseWriter, r *http.Request) {
	data := ResetPasswordPage{BasePage: newBasePage(r), Token: r.URL.Query().Get("token")}
	if data.Token == "" {
		data.Message = msgResetInvalid
	}
	render(w, "reset_password.html", data)
}

// Confirm handles POST /auth/reset-password.
func (h *ResetPasswordHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	data := ResetPasswordPage{BasePage: newBasePage(r), Token: r.PostFormValue("token")}
	password := r.PostFormValue("password")

	switch {
	case len(password) < identity.MinPasswordLength:
		data.Message = msgResetShort
	case password != r.PostFormValue("confirm_password"):
		data.Message = msgResetMismatch
	}
	if data.Message != "" {
		renderStatus(w, http.StatusUnprocessableEntity, "reset_password.html", data)
		return
	}

	err := h.confirmer.ConfirmPasswordReset(r.Context(), data.Token, password)
	var ie *identity.Error
	switch {
	case err == nil:
		data.Done = true
		data.Message = msgResetDone
		render(w, "reset_password.html", data)
		return
	case errors.As(err, &ie) && ie.Code == identity.CodeInvalidActionCode:
		data.Message = msgResetInvalid
	case errors.As(err, &ie) && ie.Code == identity.CodeExpiredActionCode:
		data.Message = msgResetExpired
	case errors.As(err, &ie) && ie.Code == identity.CodeWeakPassword:
		data.Message = msgResetShort
	default:
		log.Printf("reset-password: confirm: %v", err)
		data.Message = msgResetUnavailable
	}
	renderStatus(w, http.StatusUnprocessableEntity, "reset_password.html", data)
}
