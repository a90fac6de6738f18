package models

import "time"

// OAuthCredential is keyed by (AccountID, Platform). ExpiresAt already has the
// refresh margin subtracted.
type OAuthCredential struct {
	AccountID    string    `db:"account_id" json:"account_id"`
	Platform     string    `db:"platform" json:"platform"`
	AccessToken  string    `db:"access_token" json:"access_token"`
	RefreshToken string    `db:"refresh_token" json:"refresh_token"`
	ExpiresAt    time.Time `db:"expires_at" json:"expires_at"`
	Version      int64     `db:"version" json:"version"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

func (c *OAuthCredential) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

type TokenStatus struct {
	AccountID string    `json:"account_id"`
	Platform  string    `json:"platform"`
	Valid     bool      `json:"valid"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}
