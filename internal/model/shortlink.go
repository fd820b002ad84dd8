package model

import "time"

// ShortLink maps a short code to a target URL. Created through the tools API
// and resolved by the public /s/{code} redirect.
type ShortLink struct {
	ID        int64     `json:"id" db:"id"`
	Code      string    `json:"code" db:"code"`
	TargetURL string    `json:"target_url" db:"target_url"`
	APIKeyID  int64     `json:"api_key_id" db:"api_key_id"`
	Hits      int64     `json:"hits" db:"hits"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
