package model

import "time"

// UsageLogCap is the maximum number of usage log entries retained. Inserting
// beyond the cap evicts the oldest entries in the same transaction.
const UsageLogCap = 1000

// UsageEntry is one recorded admitted request. Entries reference the key by
// id (a real foreign key); the prefix is carried only for display.
type UsageEntry struct {
	ID        int64     `json:"id" db:"id"`
	APIKeyID  int64     `json:"api_key_id" db:"api_key_id"`
	KeyPrefix string    `json:"key_prefix" db:"key_prefix"`
	Endpoint  string    `json:"endpoint" db:"endpoint"`
	IP        string    `json:"ip,omitempty" db:"ip"`
	UserAgent string    `json:"user_agent,omitempty" db:"user_agent"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
