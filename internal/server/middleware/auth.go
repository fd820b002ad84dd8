package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/snaplinkhq/snaplink/internal/model"
	"github.com/snaplinkhq/snaplink/internal/service"
)

// PrincipalKey is the context key under which the authenticated API key
// principal is stored.
const PrincipalKey contextKey = "principal"

// UserKey is the context key under which the JWT-authenticated user is stored.
const UserKey contextKey = "user"

const maxAuthBodySize = 1 << 20 // 1 MiB

// ExtractAPIKey pulls the API key from the request, checking the X-API-Key
// header first, then the apiKey query parameter, then an apiKey field in a
// JSON request body. When a body is consumed it is restored so downstream
// handlers can read it again.
func ExtractAPIKey(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	if key := r.URL.Query().Get("apiKey"); key != "" {
		return key
	}
	if r.Body == nil || !strings.Contains(r.Header.Get("Content-Type"), "application/json") {
		return ""
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxAuthBodySize))
	r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(body))
	if err != nil {
		return ""
	}
	var payload struct {
		APIKey string `json:"apiKey"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	return payload.APIKey
}

// RequireAPIKey returns an HTTP middleware that authenticates requests by
// API key, enforces the key's own rpm ceiling and the owner's daily quota,
// and records the request in the usage log after the handler completes.
// Requests without a key get 401 with a MissingApiKey error, unknown or
// revoked keys get 401 with InvalidApiKey, requests over the key's rpm get
// 429 with RateLimitExceeded, and requests over quota get 429 with the
// current quota status. Rate-limited and quota-denied requests consume
// neither quota nor a usage log entry.
func RequireAPIKey(auth *service.AuthService, quota *service.Quota, recorder *service.Recorder, keyLimits *KeyRateLimiter, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := ExtractAPIKey(r)
			if key == "" {
				writeAuthError(w, http.StatusUnauthorized, "MissingApiKey")
				return
			}

			principal, err := auth.ValidateKey(r.Context(), key)
			if err != nil {
				if !errors.Is(err, service.ErrInvalidKey) {
					logger.Error("api key validation failed", "error", err)
				}
				writeAuthError(w, http.StatusUnauthorized, "InvalidApiKey")
				return
			}

			if keyLimits.OnLimit(w, r, principal.Key) {
				return
			}

			status, ok := quota.CheckAndAdmit(principal.User)
			if !ok {
				writeQuotaError(w, status)
				return
			}

			ctx := context.WithValue(r.Context(), PrincipalKey, principal)
			next.ServeHTTP(w, r.WithContext(ctx))

			if _, err := recorder.Record(ctx, principal, r.URL.Path, clientIP(r), r.UserAgent()); err != nil {
				logger.Error("usage recording failed",
					"key_prefix", principal.Key.KeyPrefix,
					"error", err,
				)
			}
		})
	}
}

// RequireUser returns an HTTP middleware that authenticates requests by a
// JWT bearer token and stores the resolved user in the request context.
func RequireUser(auth *service.AuthService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				writeAuthError(w, http.StatusUnauthorized, "missing bearer token")
				return
			}
			user, err := auth.ValidateJWT(r.Context(), token)
			if err != nil {
				writeAuthError(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}
			ctx := context.WithValue(r.Context(), UserKey, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin returns an HTTP middleware that rejects non-admin users.
// Must be chained after RequireUser.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := GetUser(r.Context())
		if user == nil || !user.IsAdmin() {
			writeAuthError(w, http.StatusForbidden, "admin access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GetPrincipal extracts the authenticated API key principal from the context.
func GetPrincipal(ctx context.Context) *service.Principal {
	if p, ok := ctx.Value(PrincipalKey).(*service.Principal); ok {
		return p
	}
	return nil
}

// GetUser extracts the JWT-authenticated user from the context.
func GetUser(ctx context.Context) *model.User {
	if u, ok := ctx.Value(UserKey).(*model.User); ok {
		return u
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		return header[7:]
	}
	return ""
}

func clientIP(r *http.Request) string {
	// chi's RealIP middleware rewrites RemoteAddr from X-Forwarded-For,
	// so RemoteAddr may or may not carry a port.
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

func writeAuthError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(model.Response{Success: false, Error: message})
}

func writeQuotaError(w http.ResponseWriter, status model.QuotaStatus) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	json.NewEncoder(w).Encode(model.Response{
		Success: false,
		Error:   "QuotaExceeded",
		Data:    status,
	})
}
