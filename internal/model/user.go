package model

import "time"

// Roles a user account can hold. Admins can inspect every key and the full
// usage log; regular users only see their own resources.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// User represents a registered account that owns API keys. Passwords are
// stored as bcrypt hashes.
type User struct {
	ID            int64      `json:"id" db:"id"`
	Username      string     `json:"username" db:"username"`
	Email         string     `json:"email" db:"email"`
	PasswordHash  string     `json:"-" db:"password_hash"` // bcrypt hash, never expose
	Role          string     `json:"role" db:"role"`
	IsActive      bool       `json:"is_active" db:"is_active"`
	DailyLimit    int        `json:"daily_limit" db:"daily_limit"`
	RequestsToday int        `json:"requests_today" db:"requests_today"`
	QuotaDate     string     `json:"quota_date" db:"quota_date"` // UTC calendar day of the counter, YYYY-MM-DD
	LastLoginAt   *time.Time `json:"last_login_at,omitempty" db:"last_login_at"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
}

// IsAdmin reports whether the user holds the admin role.
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// QuotaUsed returns the number of requests counted against today's quota.
// A counter stamped with an earlier calendar day has not rolled over yet and
// counts as zero.
func (u *User) QuotaUsed(today string) int {
	if u.QuotaDate != today {
		return 0
	}
	return u.RequestsToday
}
