package api

import (
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"

	"github.com/joestump/vetric/internal/auth"
	"github.com/joestump/vetric/internal/authflow"
	"github.com/joestump/vetric/internal/identity"
)

// flowHeader lets a client keep one flow across requests, so a second
// submission while the first is in flight is rejected.
const flowHeader = "X-Flow-ID"

// authAPIHandler is the JSON surface of the auth controller.
type authAPIHandler struct {
	ctrl     *authflow.Controller
	flows    *authflow.Registry
	provider identity.Provider
}

// flow returns the flow a request submits through and a func to call once
// the submission is done.
func (h *authAPIHandler) flow(r *http.Request, mode authflow.Mode) (*authflow.Flow, func()) {
	id := r.Header.Get(flowHeader)
	if id == "" || h.flows == nil {
		return authflow.NewFlow(authflow.SurfaceAPI, mode), func() {}
	}
	owner := flowOwner(r, id)
	f := h.flows.Acquire(owner, authflow.SurfaceAPI, mode)
	return f, func() {
		// A completed flow accepts nothing more; forget it so the id can
		// be reused.
		if f.State().Status == authflow.StatusSuccess {
			h.flows.Unmount(owner, authflow.SurfaceAPI)
		}
	}
}

// flowOwner scopes a client flow id to the caller's address, so two clients
// picking the same id get separate flows.
func flowOwner(r *http.Request, id string) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return host + "|" + id
}

// Register godoc
//
//	@Summary		Create an account
//	@Description	Validates the passwords locally, then registers with the identity provider.
//	@Tags			auth
//	@Accept			json
//	@Produce		json
//	@Param			X-Flow-ID	header		string			false	"Client flow id"
//	@Param			body		body		RegisterRequest	true	"Credentials"
//	@Success		201			{object}	AuthResponse
//	@Failure		400			{object}	errorBody
//	@Failure		409			{object}	errorBody
//	@Failure		422			{object}	errorBody
//	@Router			/auth/register [post]
func (h *authAPIHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "bad_request")
		return
	}
	f, done := h.flow(r, authflow.ModeSignup)
	defer done()

	var nav authflow.Recorder
	sess, err := h.ctrl.Register(r.Context(), f, &nav, authflow.Credentials{
		Email:           req.Email,
		Password:        req.Password,
		ConfirmPassword: req.ConfirmPassword,
	})
	h.writeSession(w, http.StatusCreated, f, &nav, sess, err)
}

// Login godoc
//
//	@Summary		Sign in
//	@Tags			auth
//	@Accept			json
//	@Produce		json
//	@Param			X-Flow-ID	header		string			false	"Client flow id"
//	@Param			body		body		LoginRequest	true	"Credentials"
//	@Success		200			{object}	AuthResponse
//	@Failure		401			{object}	errorBody
//	@Failure		409			{object}	errorBody
//	@Router			/auth/login [post]
func (h *authAPIHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "bad_request")
		return
	}
	f, done := h.flow(r, authflow.ModeLogin)
	defer done()

	var nav authflow.Recorder
	sess, err := h.ctrl.Authenticate(r.Context(), f, &nav, authflow.Credentials{
		Email:    req.Email,
		Password: req.Password,
	})
	h.writeSession(w, http.StatusOK, f, &nav, sess, err)
}

// PasswordReset godoc
//
//	@Summary	Send a password reset email
//	@Tags		auth
//	@Accept		json
//	@Produce	json
//	@Param		body	body		PasswordResetRequest	true	"Account email"
//	@Success	202		{object}	AuthResponse
//	@Failure	422		{object}	errorBody
//	@Failure	429		{object}	errorBody
//	@Router		/auth/password-reset [post]
func (h *authAPIHandler) PasswordReset(w http.ResponseWriter, r *http.Request) {
	var req PasswordResetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "bad_request")
		return
	}
	f, done := h.flow(r, authflow.ModeLogin)
	defer done()

	var nav authflow.Recorder
	if err := h.ctrl.RequestPasswordReset(r.Context(), f, &nav, req.Email); err != nil {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, AuthResponse{
		State:      toFlowState(f.State()),
		Navigation: toNavigation(nav.Requested()),
	})
}

func (h *authAPIHandler) writeSession(w http.ResponseWriter, status int, f *authflow.Flow, nav *authflow.Recorder, sess *identity.Session, err error) {
	// A session established after the flow was released is still handed
	// back; the client owns it.
	if err != nil && !(sess != nil && errors.Is(err, authflow.ErrReleased)) {
		writeFlowError(w, err)
		return
	}
	writeJSON(w, status, AuthResponse{
		State:      toFlowState(f.State()),
		Session:    toSession(sess),
		Navigation: toNavigation(nav.Requested()),
	})
}

// Session godoc
//
//	@Summary	Current session
//	@Tags		session
//	@Produce	json
//	@Security	BearerToken
//	@Success	200	{object}	CurrentSessionResponse
//	@Failure	401	{object}	errorBody
//	@Failure	503	{object}	errorBody
//	@Router		/session [get]
func (h *authAPIHandler) Session(w http.ResponseWriter, r *http.Request) {
	view := auth.ViewFromContext(r.Context())
	if !view.Authenticated() {
		writeError(w, http.StatusUnauthorized, "unauthorized", "unauthorized")
		return
	}
	writeJSON(w, http.StatusOK, CurrentSessionResponse{
		Handle:   auth.HandleFromContext(r.Context()),
		Identity: *view.Identity,
	})
}

// Logout godoc
//
//	@Summary	Sign out
//	@Tags		auth
//	@Security	BearerToken
//	@Success	204
//	@Failure	401	{object}	errorBody
//	@Router		/auth/logout [post]
func (h *authAPIHandler) Logout(w http.ResponseWriter, r *http.Request) {
	handle := auth.HandleFromContext(r.Context())
	if err := h.provider.SignOut(r.Context(), handle); err != nil {
		log.Printf("api: sign out %s: %v", handle, err)
		writeError(w, http.StatusBadGateway, authflow.UserMessage(err), "provider_error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
