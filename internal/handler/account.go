package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/snaplinkhq/snaplink/internal/model"
	"github.com/snaplinkhq/snaplink/internal/server/middleware"
	"github.com/snaplinkhq/snaplink/internal/service"
	"github.com/snaplinkhq/snaplink/internal/store"
)

// AccountHandler serves registration, login, API key management, and usage
// reporting for authenticated users.
type AccountHandler struct {
	store   *store.Store
	authSvc *service.AuthService
}

// NewAccountHandler creates a new AccountHandler.
func NewAccountHandler(st *store.Store, authSvc *service.AuthService) *AccountHandler {
	return &AccountHandler{store: st, authSvc: authSvc}
}

// registerRequest is the expected payload for the Register endpoint.
type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Register creates a new user account.
// POST /api/v1/auth/register
func (h *AccountHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))

	if req.Username == "" || req.Email == "" {
		writeError(w, http.StatusBadRequest, "username and email are required")
		return
	}
	if !strings.Contains(req.Email, "@") {
		writeError(w, http.StatusBadRequest, "invalid email address")
		return
	}
	if len(req.Password) < 8 {
		writeError(w, http.StatusBadRequest, "password must be at least 8 characters")
		return
	}

	user, err := h.authSvc.Register(r.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			writeError(w, http.StatusConflict, "username or email already taken")
			return
		}
		writeError(w, http.StatusInternalServerError, "registration failed: "+err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, user)
}

// loginRequest is the expected payload for the Login endpoint.
type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// loginResponse carries the session token and its lifetime.
type loginResponse struct {
	Token     string      `json:"token"`
	TokenType string      `json:"token_type"`
	ExpiresIn int         `json:"expires_in"`
	User      *model.User `json:"user"`
}

// Login authenticates a user and returns a JWT session token.
// POST /api/v1/auth/login
func (h *AccountHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	user, token, err := h.authSvc.Login(r.Context(), strings.ToLower(req.Email), req.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		Token:     token,
		TokenType: "bearer",
		ExpiresIn: int((24 * time.Hour).Seconds()),
		User:      user,
	})
}

// Me returns the authenticated user's profile.
// GET /api/v1/account
func (h *AccountHandler) Me(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	writeJSON(w, http.StatusOK, user)
}

// ListKeys returns the authenticated user's API keys. Key material is never
// included, only the display prefix.
// GET /api/v1/account/keys
func (h *AccountHandler) ListKeys(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	keys, err := h.store.ListAPIKeysByUser(r.Context(), user.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list keys: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, keys)
}

// createKeyRequest is the expected payload for CreateKey.
type createKeyRequest struct {
	Name string `json:"name"`
}

// createKeyResponse includes the plaintext key, shown once only.
type createKeyResponse struct {
	*model.APIKey
	Key string `json:"key"`
}

// CreateKey issues a new API key for the authenticated user and returns the
// plaintext exactly once.
// POST /api/v1/account/keys
func (h *AccountHandler) CreateKey(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	var req createKeyRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		req.Name = "default"
	}

	key, plaintext, err := h.authSvc.IssueKey(r.Context(), user.ID, req.Name)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to issue key: "+err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, createKeyResponse{APIKey: key, Key: plaintext})
}

// RevokeKey deactivates one of the authenticated user's API keys. Keys owned
// by other users are reported as not found.
// DELETE /api/v1/account/keys/{keyId}
func (h *AccountHandler) RevokeKey(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	idStr := chi.URLParam(r, "keyId")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid key id: "+idStr)
		return
	}

	if err := h.authSvc.RevokeKey(r.Context(), id, user.ID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "key not found: "+idStr)
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to revoke key: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"revoked": id})
}

// usageResponse pairs the user's quota position with their recent request log.
type usageResponse struct {
	Quota   model.QuotaStatus  `json:"quota"`
	Entries []model.UsageEntry `json:"entries"`
}

// Usage returns the authenticated user's quota status and recent requests.
// GET /api/v1/account/usage
func (h *AccountHandler) Usage(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	limit := clampInt(queryInt(r, "limit", 50), 1, model.UsageLogCap)

	entries, err := h.store.ListUsageByUser(r.Context(), user.ID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list usage: "+err.Error())
		return
	}

	today := store.Today()
	writeJSON(w, http.StatusOK, usageResponse{
		Quota: model.QuotaStatus{
			Used:  user.QuotaUsed(today),
			Limit: user.DailyLimit,
			Date:  today,
		},
		Entries: entries,
	})
}
