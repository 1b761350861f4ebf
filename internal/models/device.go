package models

// Device is a secondary identity for a user, with its own public key.
type Device struct {
	ID        int64  `json:"id"`
	UserID    int64  `json:"userId"`
	Name      string `json:"name"`
	PublicKey string `json:"publicKey"`
}
