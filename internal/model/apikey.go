package model

import "time"

// APIKey represents a bearer secret that authorizes requests on behalf of a
// user. The raw key is never stored; only a SHA-256 hash and a short prefix
// for identification are persisted.
type APIKey struct {
	ID                 int64      `json:"id" db:"id"`
	UserID             int64      `json:"user_id" db:"user_id"`
	KeyHash            string     `json:"-" db:"key_hash"`            // SHA-256 hash, never expose
	KeyPrefix          string     `json:"key_prefix" db:"key_prefix"` // "sk_" + first 8 hex chars
	Name               string     `json:"name" db:"name"`
	RateLimitPerMinute int        `json:"rate_limit_per_minute" db:"rate_limit_per_minute"`
	IsActive           bool       `json:"is_active" db:"is_active"`
	UsageCount         int64      `json:"usage_count" db:"usage_count"`
	LastUsedAt         *time.Time `json:"last_used_at,omitempty" db:"last_used_at"`
	RevokedAt          *time.Time `json:"revoked_at,omitempty" db:"revoked_at"`
	CreatedAt          time.Time  `json:"created_at" db:"created_at"`
}
