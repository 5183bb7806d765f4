package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/alexedwards/scs/v2"

	"github.com/joestump/vetric/internal/auth"
	"github.com/joestump/vetric/internal/authflow"
	"github.com/joestump/vetric/internal/identity"
)

// AuthForm is the view model of the shared login/signup form.
type AuthForm struct {
	// ID prefixes element ids so the page and the modal can coexist.
	ID string
	// Action is the route prefix submissions post to.
	Action string
	State  authflow.State
	Email  string
}

func (f AuthForm) Signup() bool { return f.State.Mode == authflow.ModeSignup }

func (f AuthForm) Pending() bool { return f.State.Pending() }

// Locked disables the inputs: nothing can be submitted while a call is in
// flight or after the flow has succeeded.
func (f AuthForm) Locked() bool {
	return f.State.Status == authflow.StatusPending || f.State.Status == authflow.StatusSuccess
}

func (f AuthForm) Errored() bool { return f.State.Status == authflow.StatusError }

func (f AuthForm) Succeeded() bool { return f.State.Status == authflow.StatusSuccess }

// SubmitAction is the route the primary button posts to.
func (f AuthForm) SubmitAction() string {
	if f.Signup() {
		return f.Action + "/signup"
	}
	return f.Action + "/login"
}

// ToggleMode is the mode the toggle switches to.
func (f AuthForm) ToggleMode() authflow.Mode {
	if f.Signup() {
		return authflow.ModeLogin
	}
	return authflow.ModeSignup
}

// AuthPage is the data for the dedicated auth page.
type AuthPage struct {
	BasePage
	Form AuthForm
}

// AuthHandler serves the page and modal auth surfaces. Both submit through
// the same controller; each browser gets one flow per surface.
type AuthHandler struct {
	ctrl     *authflow.Controller
	flows    *authflow.Registry
	sessions *scs.SessionManager
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(ctrl *authflow.Controller, flows *authflow.Registry, sm *scs.SessionManager) *AuthHandler {
	return &AuthHandler{ctrl: ctrl, flows: flows, sessions: sm}
}

// Page handles GET /auth. Every visit mounts a fresh page flow.
func (h *AuthHandler) Page(w http.ResponseWriter, r *http.Request) {
	owner := auth.Owner(r.Context(), h.sessions)
	f := h.flows.Mount(owner, authflow.SurfacePage, authflow.ParseMode(r.URL.Query().Get("mode")))
	render(w, "auth.html", AuthPage{BasePage: newBasePage(r), Form: pageForm(f, "")})
}

// PageLogin handles POST /auth/login.
func (h *AuthHandler) PageLogin(w http.ResponseWriter, r *http.Request) {
	h.submitCredentials(w, r, authflow.SurfacePage, authflow.ModeLogin)
}

// PageSignup handles POST /auth/signup.
func (h *AuthHandler) PageSignup(w http.ResponseWriter, r *http.Request) {
	h.submitCredentials(w, r, authflow.SurfacePage, authflow.ModeSignup)
}

// PageReset handles POST /auth/reset, the "Forgot Password?" button. It uses
// the email already typed into the form.
func (h *AuthHandler) PageReset(w http.ResponseWriter, r *http.Request) {
	h.submitReset(w, r, authflow.SurfacePage)
}

// PageMode handles POST /auth/mode.
func (h *AuthHandler) PageMode(w http.ResponseWriter, r *http.Request) {
	h.setMode(w, r, authflow.SurfacePage)
}

// PageEdit handles POST /auth/edit, sent as the user types.
func (h *AuthHandler) PageEdit(w http.ResponseWriter, r *http.Request) {
	h.edit(w, r, authflow.SurfacePage)
}

// Modal handles GET /auth/modal and returns the modal fragment.
func (h *AuthHandler) Modal(w http.ResponseWriter, r *http.Request) {
	owner := auth.Owner(r.Context(), h.sessions)
	f := h.flows.Mount(owner, authflow.SurfaceModal, authflow.ParseMode(r.URL.Query().Get("mode")))
	renderFragment(w, "auth_modal", modalForm(f, ""))
}

// ResetModal handles GET /auth/modal/reset. It replaces the auth modal.
func (h *AuthHandler) ResetModal(w http.ResponseWriter, r *http.Request) {
	owner := auth.Owner(r.Context(), h.sessions)
	f := h.flows.Mount(owner, authflow.SurfaceModal, authflow.ModeLogin)
	renderFragment(w, "reset_modal", resetForm(f, r.URL.Query().Get("email")))
}

// CloseModal handles DELETE /auth/modal. A completion still in flight for
// the modal is discarded.
func (h *AuthHandler) CloseModal(w http.ResponseWriter, r *http.Request) {
	h.flows.Unmount(auth.Owner(r.Context(), h.sessions), authflow.SurfaceModal)
	w.WriteHeader(http.StatusOK)
}

// ModalLogin handles POST /auth/modal/login.
func (h *AuthHandler) ModalLogin(w http.ResponseWriter, r *http.Request) {
	h.submitCredentials(w, r, authflow.SurfaceModal, authflow.ModeLogin)
}

// ModalSignup handles POST /auth/modal/signup.
func (h *AuthHandler) ModalSignup(w http.ResponseWriter, r *http.Request) {
	h.submitCredentials(w, r, authflow.SurfaceModal, authflow.ModeSignup)
}

// ModalReset handles POST /auth/modal/reset.
func (h *AuthHandler) ModalReset(w http.ResponseWriter, r *http.Request) {
	h.submitReset(w, r, authflow.SurfaceModal)
}

// ModalMode handles POST /auth/modal/mode.
func (h *AuthHandler) ModalMode(w http.ResponseWriter, r *http.Request) {
	h.setMode(w, r, authflow.SurfaceModal)
}

// ModalEdit handles POST /auth/modal/edit.
func (h *AuthHandler) ModalEdit(w http.ResponseWriter, r *http.Request) {
	h.edit(w, r, authflow.SurfaceModal)
}

func (h *AuthHandler) submitCredentials(w http.ResponseWriter, r *http.Request, surface string, mode authflow.Mode) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	owner := auth.Owner(r.Context(), h.sessions)
	f := h.flows.Acquire(owner, surface, mode)
	creds := authflow.Credentials{
		Email:           r.PostFormValue("email"),
		Password:        r.PostFormValue("password"),
		ConfirmPassword: r.PostFormValue("confirm_password"),
	}

	nav := navigatorFor(w, r)
	var (
		sess *identity.Session
		err  error
	)
	if mode == authflow.ModeSignup {
		sess, err = h.ctrl.Register(r.Context(), f, nav, creds)
	} else {
		sess, err = h.ctrl.Authenticate(r.Context(), f, nav, creds)
	}

	// The provider session exists whether or not the surface is still
	// around to show it.
	if sess != nil {
		if serr := auth.SignIn(r.Context(), h.sessions, sess); serr != nil {
			log.Printf("auth: link session %s: %v", sess.ID, serr)
			http.Error(w, "session error", http.StatusInternalServerError)
			return
		}
	}
	h.respond(w, r, f, creds.Email, err, false)
}

func (h *AuthHandler) submitReset(w http.ResponseWriter, r *http.Request, surface string) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	owner := auth.Owner(r.Context(), h.sessions)
	f := h.flows.Acquire(owner, surface, authflow.ParseMode(r.PostFormValue("current_mode")))
	addr := r.PostFormValue("email")
	err := h.ctrl.RequestPasswordReset(r.Context(), f, navigatorFor(w, r), addr)
	h.respond(w, r, f, addr, err, surface == authflow.SurfaceModal)
}

func (h *AuthHandler) setMode(w http.ResponseWriter, r *http.Request, surface string) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	mode := authflow.ParseMode(r.PostFormValue("mode"))
	owner := auth.Owner(r.Context(), h.sessions)
	f := h.flows.Acquire(owner, surface, mode)
	err := f.SetMode(mode)
	h.respond(w, r, f, r.PostFormValue("email"), err, false)
}

func (h *AuthHandler) edit(w http.ResponseWriter, r *http.Request, surface string) {
	owner := auth.Owner(r.Context(), h.sessions)
	f, ok := h.flows.Get(owner, surface)
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	f.Edit()
	renderFragment(w, "auth_message", editForm(f, surface, r.PostFormValue("form")))
}

// editForm picks the form whose message an edit re-renders. The reset form
// shares the modal's flow.
func editForm(f *authflow.Flow, surface, formID string) AuthForm {
	switch {
	case formID == "reset":
		return resetForm(f, "")
	case surface == authflow.SurfacePage:
		return pageForm(f, "")
	}
	return modalForm(f, "")
}

// respond re-renders the surface after a submission. Gate rejections leave
// the flow as it was and answer 409; the response that owns the in-flight
// call renders its outcome.
func (h *AuthHandler) respond(w http.ResponseWriter, r *http.Request, f *authflow.Flow, email string, err error, reset bool) {
	status := http.StatusOK
	switch {
	case errors.Is(err, authflow.ErrInFlight),
		errors.Is(err, authflow.ErrCompleted),
		errors.Is(err, authflow.ErrReleased):
		status = http.StatusConflict
	}

	var form AuthForm
	switch {
	case reset:
		form = resetForm(f, email)
	case f.Surface() == authflow.SurfaceModal:
		form = modalForm(f, email)
	default:
		form = pageForm(f, email)
	}

	if isHTMX(r) {
		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		tmpl := "auth_form"
		if reset {
			tmpl = "reset_form"
		}
		renderFragment(w, tmpl, form)
		return
	}

	if f.Surface() == authflow.SurfaceModal {
		// The modal without HTMX degrades to the page.
		http.Redirect(w, r, "/auth?mode="+string(form.State.Mode), http.StatusSeeOther)
		return
	}
	renderStatus(w, status, "auth.html", AuthPage{BasePage: newBasePage(r), Form: form})
}

func pageForm(f *authflow.Flow, email string) AuthForm {
	return AuthForm{ID: authflow.SurfacePage, Action: "/auth", State: f.State(), Email: email}
}

func modalForm(f *authflow.Flow, email string) AuthForm {
	return AuthForm{ID: authflow.SurfaceModal, Action: "/auth/modal", State: f.State(), Email: email}
}

func resetForm(f *authflow.Flow, email string) AuthForm {
	return AuthForm{ID: "reset", Action: "/auth/modal", State: f.State(), Email: email}
}

// navigatorFor renders the post-success navigation for the request's
// surface: an HX-Trigger for HTMX swaps (handled in app.js) and a Refresh
// header for plain form posts.
func navigatorFor(w http.ResponseWriter, r *http.Request) authflow.Navigator {
	return authflow.NavigatorFunc(func(to string, after time.Duration) {
		if isHTMX(r) {
			trigger, _ := json.Marshal(map[string]any{
				"authNavigate": map[string]any{"to": to, "after": after.Milliseconds()},
			})
			w.Header().Set("HX-Trigger", string(trigger))
			return
		}
		secs := strconv.FormatFloat(after.Seconds(), 'f', -1, 64)
		w.Header().Set("Refresh", fmt.Sprintf("%s; url=%s", secs, to))
	})
}
