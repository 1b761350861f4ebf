package models

// User holds the account record. Hash is the server-side SHA3-256 of the
// client-submitted password hash concatenated with ServerSalt; the server
// never sees a plaintext password.
type User struct {
	ID         int64  `json:"id"`
	Username   string `json:"username"`
	Email      string `json:"-"`
	Hash       string `json:"-"`
	ClientSalt string `json:"-"`
	KeygenSalt string `json:"-"`
	ServerSalt string `json:"-"`
	PublicKey  string `json:"publicKey"`
}
