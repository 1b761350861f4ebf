package models

import "time"

// KeyPairRecord is a short-lived server key pair bound to one client for
// sealed request/response bodies. IDToken is a lookup handle, not a secret.
type KeyPairRecord struct {
	IDToken         string    `json:"idToken"`
	PublicKey       string    `json:"publicKey"`
	PrivateKey      string    `json:"privateKey"`
	ClientPublicKey string    `json:"clientPublicKey"`
	ExpiresAt       time.Time `json:"expiresAt"`
}
