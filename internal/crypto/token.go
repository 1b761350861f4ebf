package crypto

import (
	"crypto/rand"
	"encoding/hex"

	"golang.org/x/crypto/sha3"
)

const saltCharset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// RandomToken returns 256 bits of randomness as a 64-character hex string.
// Used for both auth tokens and key-exchange id tokens.
func RandomToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// GenerateSalt returns a random salt of 6 to 9 characters.
func GenerateSalt() (string, error) {
	buf := make([]byte, 10)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	// 256 % 4 == 0, so modulo keeps the length distribution uniform.
	length := 6 + int(buf[0])%4
	out := make([]byte, length)
	for i := 0; i < length; i++ {
		out[i] = saltCharset[int(buf[i+1])%len(saltCharset)]
	}
	return string(out), nil
}

// HashPassword computes the stored form of a client password hash:
// SHA3-256 over the client hash concatenated with the server salt.
func HashPassword(clientHash, serverSalt string) string {
	sum := sha3.Sum256([]byte(clientHash + serverSalt))
	return hex.EncodeToString(sum[:])
}
