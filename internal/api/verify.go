package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/joestump/vetric/internal/identity"
)

type verifyAPIHandler struct {
	verifier identity.TokenVerifier
}

// Verify godoc
//
//	@Summary		Verify an ID token
//	@Description	Checks a provider-issued ID token and returns its claims.
//	@Tags			auth
//	@Accept			json
//	@Produce		json
//	@Param			body	body		VerifyRequest	true	"ID token"
//	@Success		200		{object}	identity.Claims
//	@Failure		401		{object}	errorBody
//	@Router			/auth/verify [post]
func (h *verifyAPIHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.IDToken == "" {
		writeError(w, http.StatusBadRequest, "id_token is required", "bad_request")
		return
	}
	claims, err := h.verifier.VerifyIDToken(r.Context(), req.IDToken)
	if err != nil {
		code := identity.CodeInvalidIDToken
		var ie *identity.Error
		if errors.As(err, &ie) {
			code = ie.Code
		}
		writeError(w, http.StatusUnauthorized, err.Error(), code)
		return
	}
	writeJSON(w, http.StatusOK, claims)
}
