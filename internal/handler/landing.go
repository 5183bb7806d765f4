package handler

import (
	"net/http"
)

// LandingHandler serves the public landing page.
type LandingHandler struct{}

// NewLandingHandler creates a new LandingHandler.
func NewLandingHandler() *LandingHandler { return &LandingHandler{} }

// Index serves GET /.
func (h *LandingHandler) Index(w http.ResponseWriter, r *http.Request) {
	render(w, "landing.html", newBasePage(r))
}

// NotFound renders the 404 page.
func (h *LandingHandler) NotFound(w http.ResponseWriter, r *http.Request) {
	renderStatus(w, http.StatusNotFound, "404.html", newBasePage(r))
}
