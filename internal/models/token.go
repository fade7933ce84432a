package models

import "time"

// RefreshToken represents a persisted refresh token session. The token string
// is opaque: it is looked up, never decoded. Validity is governed by the
// revoked flag alone; expires_at only feeds the retention sweep.
type RefreshToken struct {
	ID          string     `db:"id" json:"id"`
	UserID      string     `db:"user_id" json:"user_id"`
	Token       string     `db:"token" json:"token"`
	DeviceInfo  string     `db:"device_info" json:"device_info"`
	UserAgent   string     `db:"user_agent" json:"user_agent"`
	IPAddress   string     `db:"ip_address" json:"ip_address"`
	IssuedAt    time.Time  `db:"issued_at" json:"issued_at"`
	ExpiresAt   time.Time  `db:"expires_at" json:"expires_at"`
	LastLoginAt *time.Time `db:"last_login_at" json:"last_login_at,omitempty"`
	Revoked     bool       `db:"revoked" json:"revoked"`
	RevokedAt   *time.Time `db:"revoked_at" json:"revoked_at,omitempty"`
}
