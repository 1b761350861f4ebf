package crypto

import (
	"crypto/rand"
	"encoding/hex"
	"errors"

	"golang.org/x/crypto/nacl/box"
)

const KeyBytes = 32

var ErrDecrypt = errors.New("sealed box decryption failed")

// KeyPair is an ephemeral Curve25519 pair used only for transport
// encryption, never as a user's long-term identity.
type KeyPair struct {
	Public  [KeyBytes]byte
	Private [KeyBytes]byte
}

func GenerateKeyPair() (*KeyPair, error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &KeyPair{Public: *pub, Private: *priv}, nil
}

// Seal encrypts plaintext to peerPub as an anonymous sealed box. Anyone
// holding the public key can seal; no sender authentication is provided.
func Seal(plaintext []byte, peerPub [KeyBytes]byte) ([]byte, error) {
	return box.SealAnonymous(nil, plaintext, &peerPub, rand.Reader)
}

// Open decrypts a sealed box with the pair's private key.
func Open(ciphertext []byte, kp *KeyPair) ([]byte, error) {
	out, ok := box.OpenAnonymous(nil, ciphertext, &kp.Public, &kp.Private)
	if !ok {
		return nil, ErrDecrypt
	}
	return out, nil
}

// EncodeKey renders a key as the 64-character hex form used on the wire.
func EncodeKey(key [KeyBytes]byte) string {
	return hex.EncodeToString(key[:])
}

func DecodeKey(s string) ([KeyBytes]byte, error) {
	var key [KeyBytes]byte
	raw, err := hex.DecodeString(s)
	if err != nil {
		return key, err
	}
	if len(raw) != KeyBytes {
		return key, errors.New("public key must be 32 bytes")
	}
	copy(key[:], raw)
	return key, nil
}
