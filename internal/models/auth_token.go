package models

import "time"

// AuthToken is an opaque random session token. Expired rows are never
// deleted; they simply fail verification.
type AuthToken struct {
	Token     string    `json:"-"`
	UserID    int64     `json:"userId"`
	PublicKey string    `json:"publicKey"`
	ExpiresAt time.Time `json:"expiresAt"`
}
