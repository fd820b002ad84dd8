package handler

import (
	"crypto/rand"
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/snaplinkhq/snaplink/internal/model"
	"github.com/snaplinkhq/snaplink/internal/server/middleware"
	"github.com/snaplinkhq/snaplink/internal/store"
)

const (
	codeAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	codeLength   = 7
	maxQRSize    = 1024
)

// ToolsHandler serves the utility endpoints: QR code rendering, link
// shortening, and short link redirects.
type ToolsHandler struct {
	store   *store.Store
	baseURL string
}

// NewToolsHandler creates a new ToolsHandler. baseURL is the public origin
// used to build short link URLs, e.g. "https://snaplink.example.com".
func NewToolsHandler(st *store.Store, baseURL string) *ToolsHandler {
	return &ToolsHandler{store: st, baseURL: baseURL}
}

// QR renders the given text as a QR code PNG. This endpoint returns raw image
// bytes, not the JSON envelope.
// GET /api/v1/tools/qr?text=...&size=256
func (h *ToolsHandler) QR(w http.ResponseWriter, r *http.Request) {
	text := r.URL.Query().Get("text")
	if text == "" {
		writeError(w, http.StatusBadRequest, "text query parameter is required")
		return
	}
	size := clampInt(queryInt(r, "size", 256), 64, maxQRSize)

	png, err := qrcode.Encode(text, qrcode.Medium, size)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to encode qr code: "+err.Error())
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(png)))
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}

// shortenRequest is the expected payload for Shorten.
type shortenRequest struct {
	URL string `json:"url"`
}

// shortenResponse returns the generated code and the full short URL.
type shortenResponse struct {
	Code     string `json:"code"`
	ShortURL string `json:"short_url"`
	Target   string `json:"target_url"`
}

// Shorten creates a short link for the given URL, owned by the calling API
// key. Codes are random; on the rare collision the insert is retried with a
// fresh code.
// POST /api/v1/tools/shorten
func (h *ToolsHandler) Shorten(w http.ResponseWriter, r *http.Request) {
	var req shortenRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	parsed, err := url.Parse(req.URL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		writeError(w, http.StatusBadRequest, "url must be an absolute http(s) URL")
		return
	}

	principal := middleware.GetPrincipal(r.Context())

	var link *model.ShortLink
	for attempt := 0; attempt < 3; attempt++ {
		link = &model.ShortLink{
			Code:      randomCode(),
			TargetURL: req.URL,
			APIKeyID:  principal.Key.ID,
		}
		err = h.store.CreateShortLink(r.Context(), link)
		if !errors.Is(err, store.ErrDuplicate) {
			break
		}
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create short link: "+err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, shortenResponse{
		Code:     link.Code,
		ShortURL: h.baseURL + "/s/" + link.Code,
		Target:   link.TargetURL,
	})
}

// Redirect resolves a short link code and issues a 302 to its target. This
// endpoint is public and counts a hit on every resolution.
// GET /s/{code}
func (h *ToolsHandler) Redirect(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")

	link, err := h.store.ResolveShortLink(r.Context(), code)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "unknown short link")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to resolve short link: "+err.Error())
		return
	}

	http.Redirect(w, r, link.TargetURL, http.StatusFound)
}

func randomCode() string {
	buf := make([]byte, codeLength)
	rand.Read(buf)
	for i, b := range buf {
		buf[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(buf)
}
