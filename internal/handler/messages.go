package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/snaplinkhq/snaplink/internal/messaging"
	"github.com/snaplinkhq/snaplink/internal/server/middleware"
)

// MessagesHandler serves outbound message delivery over per-key messaging
// sessions.
type MessagesHandler struct {
	sessions *messaging.Registry
}

// NewMessagesHandler creates a new MessagesHandler.
func NewMessagesHandler(sessions *messaging.Registry) *MessagesHandler {
	return &MessagesHandler{sessions: sessions}
}

// sendRequest is the expected payload for Send.
type sendRequest struct {
	To   string `json:"to"`
	Body string `json:"body"`
}

// Send delivers a message through the calling key's session, dialing one on
// demand. Returns 503 when no messaging transport is configured.
// POST /api/v1/messages
func (h *MessagesHandler) Send(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.To) == "" || req.Body == "" {
		writeError(w, http.StatusBadRequest, "to and body are required")
		return
	}

	principal := middleware.GetPrincipal(r.Context())

	session, err := h.sessions.Get(r.Context(), principal.Key.ID)
	if err != nil {
		if errors.Is(err, messaging.ErrNoDialer) {
			writeError(w, http.StatusServiceUnavailable, "messaging is not configured")
			return
		}
		writeError(w, http.StatusBadGateway, "failed to open session: "+err.Error())
		return
	}

	if err := session.Send(r.Context(), req.To, req.Body); err != nil {
		// A dead session is evicted so the next request dials fresh.
		h.sessions.Evict(principal.Key.ID)
		writeError(w, http.StatusBadGateway, "send failed: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"delivered": true})
}
