package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/httprate"

	"github.com/snaplinkhq/snaplink/internal/model"
)

// RateLimitByKey returns an HTTP middleware that applies a coarse global
// requests-per-minute ceiling keyed on the presented API key, falling back
// to the client IP when no key is present. This runs before validation as a
// flood guard; each key's own rpm field is enforced after validation by
// KeyRateLimiter.
func RateLimitByKey(requestsPerMinute int) func(http.Handler) http.Handler {
	return httprate.Limit(
		requestsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			if key := ExtractAPIKey(r); key != "" {
				return key, nil
			}
			return httprate.KeyByIP(r)
		}),
	)
}

// RateLimitByIP returns an HTTP middleware that limits requests per IP
// address. Used on the unauthenticated endpoints.
func RateLimitByIP(requestsPerMinute int) func(http.Handler) http.Handler {
	return httprate.LimitByIP(requestsPerMinute, time.Minute)
}

// KeyRateLimiter enforces each API key's stored rate_limit_per_minute over
// a sliding one-minute window. httprate limiters carry a fixed ceiling, so
// one limiter is kept per distinct rpm value; requests are counted under
// the key's id, so two keys sharing an rpm never share a window.
type KeyRateLimiter struct {
	mu       sync.Mutex
	limiters map[int]*httprate.RateLimiter
}

// NewKeyRateLimiter creates an empty KeyRateLimiter.
func NewKeyRateLimiter() *KeyRateLimiter {
	return &KeyRateLimiter{limiters: make(map[int]*httprate.RateLimiter)}
}

// OnLimit counts the request against the key's window and writes a 429 when
// the key's ceiling is exceeded. Returns true when the request was denied.
// Keys with a non-positive rpm are uncapped.
func (k *KeyRateLimiter) OnLimit(w http.ResponseWriter, r *http.Request, key *model.APIKey) bool {
	if key.RateLimitPerMinute <= 0 {
		return false
	}

	k.mu.Lock()
	lim, ok := k.limiters[key.RateLimitPerMinute]
	if !ok {
		lim = httprate.NewRateLimiter(key.RateLimitPerMinute, time.Minute,
			httprate.WithLimitHandler(keyRateLimitExceeded))
		k.limiters[key.RateLimitPerMinute] = lim
	}
	k.mu.Unlock()

	return lim.OnLimit(w, r, strconv.FormatInt(key.ID, 10))
}

func keyRateLimitExceeded(w http.ResponseWriter, r *http.Request) {
	writeAuthError(w, http.StatusTooManyRequests, "RateLimitExceeded")
}
