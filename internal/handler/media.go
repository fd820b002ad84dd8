package handler

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/snaplinkhq/snaplink/internal/extract"
)

// MediaHandler serves media metadata extraction for the supported platforms.
type MediaHandler struct {
	registry *extract.Registry
}

// NewMediaHandler creates a new MediaHandler.
func NewMediaHandler(registry *extract.Registry) *MediaHandler {
	return &MediaHandler{registry: registry}
}

// Platforms lists the platforms an extractor is registered for.
// GET /api/v1/media
func (h *MediaHandler) Platforms(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"platforms": h.registry.Platforms(),
	})
}

// Extract resolves a post URL on the given platform into embed metadata.
// GET /api/v1/media/{platform}?url=...
func (h *MediaHandler) Extract(w http.ResponseWriter, r *http.Request) {
	platform := strings.ToLower(chi.URLParam(r, "platform"))

	postURL := r.URL.Query().Get("url")
	if postURL == "" {
		writeError(w, http.StatusBadRequest, "url query parameter is required")
		return
	}
	parsed, err := url.Parse(postURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		writeError(w, http.StatusBadRequest, "url must be an absolute http(s) URL")
		return
	}

	extractor, err := h.registry.Get(platform)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	result, err := extractor.Extract(r.Context(), postURL)
	if err != nil {
		writeError(w, http.StatusBadGateway, "extraction failed: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, result)
}
