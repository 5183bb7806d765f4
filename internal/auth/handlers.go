package auth

import (
	"context"
	"log"
	"net/http"

	"github.com/alexedwards/scs/v2"

	"github.com/joestump/vetric/internal/identity"
)

// Handlers provides HTTP handlers for signing out.
type Handlers struct {
	provider identity.Provider
	sessions *scs.SessionManager
}

// NewHandlers creates a new Handlers with the given dependencies.
func NewHandlers(p identity.Provider, sm *scs.SessionManager) *Handlers {
	return &Handlers{provider: p, sessions: sm}
}

// Logout asks the provider to end the session without waiting for it, drops
// the handle from the browser session and goes home. The navbar flips once
// the provider's sign-out notification reaches the session store.
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	handle := h.sessions.PopString(r.Context(), SessionHandleKey)
	if handle != "" {
		ctx := context.WithoutCancel(r.Context())
		go func() {
			if err := h.provider.SignOut(ctx, handle); err != nil {
				log.Printf("auth: sign out %s: %v", handle, err)
			}
		}()
	}
	if err := h.sessions.RenewToken(r.Context()); err != nil {
		http.Error(w, "logout error", http.StatusInternalServerError)
		return
	}

	if r.Header.Get("HX-Request") == "true" {
		w.Header().Set("HX-Redirect", "/")
		w.WriteHeader(http.StatusNoContent)
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}
