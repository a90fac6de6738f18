package models

import "time"

// ApiKey is a machine credential for the publishing API. Only the hash of
// the secret is stored; Secret is set once, on creation.
type ApiKey struct {
	ID        int64     `db:"id" json:"id"`
	UserID    int64     `db:"user_id" json:"user_id"`
	KeyHash   string    `db:"key_hash" json:"-"`
	Prefix    string    `db:"prefix" json:"prefix"`
	Secret    string    `db:"-" json:"secret,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
