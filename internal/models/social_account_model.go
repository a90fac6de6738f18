package models

import (
	"time"
)

const (
	AccountStatusNormal   = "normal"
	AccountStatusDisabled = "disabled"
)

type SocialAccount struct {
	ID              string    `db:"id" json:"id"`
	UserID          int64     `db:"user_id" json:"user_id"`
	Platform        string    `db:"platform" json:"platform"`
	PlatformUserID  string    `db:"platform_user_id" json:"platform_user_id"`
	AccountName     string    `db:"account_name" json:"account_name"`
	AccountUsername string    `db:"account_username" json:"account_username"`
	ProfilePicture  string    `db:"profile_picture_url" json:"profile_picture"`
	GroupID         string    `db:"group_id" json:"group_id"`
	AccountStatus   string    `db:"account_status" json:"account_status"`
	LoginTime       time.Time `db:"login_time" json:"login_time"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}

// RemoteProfile is what a platform reports about the authorizing user.
type RemoteProfile struct {
	ID             string `json:"id"`
	Username       string `json:"username"`
	Name           string `json:"name"`
	ProfilePicture string `json:"profile_picture"`
}
