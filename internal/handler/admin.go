package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/snaplinkhq/snaplink/internal/model"
	"github.com/snaplinkhq/snaplink/internal/store"
)

// AdminHandler serves operator-only endpoints: cross-user key listings,
// the global usage log, and account deactivation.
type AdminHandler struct {
	store *store.Store
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(st *store.Store) *AdminHandler {
	return &AdminHandler{store: st}
}

// ListUsers returns every registered account.
// GET /api/v1/admin/users
func (h *AdminHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.store.ListUsers(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list users: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, users)
}

// DeactivateUser disables an account. Its API keys stop validating on the
// next request.
// DELETE /api/v1/admin/users/{userId}
func (h *AdminHandler) DeactivateUser(w http.ResponseWriter, r *http.Request) {
	idStr := chi.URLParam(r, "userId")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid user id: "+idStr)
		return
	}

	if err := h.store.DeactivateUser(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "user not found: "+idStr)
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to deactivate user: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"deactivated": id})
}

// ListKeys returns every API key across all users.
// GET /api/v1/admin/keys
func (h *AdminHandler) ListKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := h.store.ListAPIKeys(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list keys: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, keys)
}

// usageLogResponse pairs the global log with its total size so operators can
// see how close the log is to its retention cap.
type usageLogResponse struct {
	Total   int                `json:"total"`
	Cap     int                `json:"cap"`
	Entries []model.UsageEntry `json:"entries"`
}

// ListUsage returns the most recent entries of the global usage log.
// GET /api/v1/admin/usage
func (h *AdminHandler) ListUsage(w http.ResponseWriter, r *http.Request) {
	limit := clampInt(queryInt(r, "limit", 100), 1, model.UsageLogCap)

	entries, err := h.store.ListUsage(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list usage: "+err.Error())
		return
	}
	total, err := h.store.CountUsage(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to count usage: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, usageLogResponse{
		Total:   total,
		Cap:     model.UsageLogCap,
		Entries: entries,
	})
}
