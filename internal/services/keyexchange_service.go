package services

import (
	"context"
	"encoding/hex"
	"errors"
	"time"

	"veilchat/internal/crypto"
	"veilchat/internal/models"
	"veilchat/internal/repositories"
	"veilchat/pkg/apperrors"
	"veilchat/pkg/logger"
)

var (
	// ErrKeyPairExpired is distinct from a plain lookup failure so the
	// transport layer can tell the client to negotiate again rather than
	// attempting a doomed decryption.
	ErrKeyPairExpired  = errors.New("key pair expired")
	ErrKeyPairNotFound = errors.New("key pair not found")
)

// KeyExchangeService manages the ephemeral key pairs behind the sealed
// request/response envelope.
type KeyExchangeService struct {
	keyPairs repositories.KeyPairRepository
	log      *logger.Logger
	ttl      time.Duration
	now      func() time.Time
}

func NewKeyExchangeService(keyPairs repositories.KeyPairRepository, log *logger.Logger, ttl time.Duration) *KeyExchangeService {
	return &KeyExchangeService{
		keyPairs: keyPairs,
		log:      log,
		ttl:      ttl,
		now:      time.Now,
	}
}

// Negotiate generates a fresh server key pair bound to the client's
// public key and stores it under a new id token.
func (s *KeyExchangeService) Negotiate(ctx context.Context, clientPublicKey string) (*models.KeyPairRecord, error) {
	if _, err := crypto.DecodeKey(clientPublicKey); err != nil {
		return nil, apperrors.InvalidArg("malformed client public key")
	}

	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, "key pair generation failed", err)
	}

	for attempt := 0; attempt < issueAttempts; attempt++ {
		idToken, err := crypto.RandomToken()
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CodeInternal, "id token generation failed", err)
		}

		record := &models.KeyPairRecord{
			IDToken:         idToken,
			PublicKey:       crypto.EncodeKey(kp.Public),
			PrivateKey:      hex.EncodeToString(kp.Private[:]),
			ClientPublicKey: clientPublicKey,
			ExpiresAt:       s.now().Add(s.ttl),
		}
		err = s.keyPairs.Create(ctx, record)
		if errors.Is(err, repositories.ErrDuplicate) {
			s.log.Warn("id token collision, regenerating")
			continue
		}
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CodeInternal, "key pair insert failed", err)
		}
		return record, nil
	}
	return nil, apperrors.Internal("id token generation kept colliding")
}

// Unseal resolves the id token to its key pair and decrypts the sealed
// request body. Expiry is checked before any decryption attempt.
func (s *KeyExchangeService) Unseal(ctx context.Context, idToken, digest string) ([]byte, *models.KeyPairRecord, error) {
	record, err := s.keyPairs.GetByIDToken(ctx, idToken)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, nil, ErrKeyPairNotFound
	}
	if err != nil {
		return nil, nil, apperrors.Wrap(apperrors.CodeInternal, "key pair lookup failed", err)
	}
	if record.ExpiresAt.Before(s.now()) {
		return nil, nil, ErrKeyPairExpired
	}

	kp, err := recordKeyPair(record)
	if err != nil {
		return nil, nil, apperrors.Wrap(apperrors.CodeInternal, "stored key pair corrupt", err)
	}

	ciphertext, err := hex.DecodeString(digest)
	if err != nil {
		return nil, nil, apperrors.InvalidArg("digest is not valid hex")
	}
	plaintext, err := crypto.Open(ciphertext, kp)
	if err != nil {
		return nil, nil, apperrors.Wrap(apperrors.CodeInvalidArgument, "sealed request decryption failed", err)
	}
	return plaintext, record, nil
}

// SealResponse encrypts a response body to the client key bound at
// negotiation time and renders it as hex.
func (s *KeyExchangeService) SealResponse(record *models.KeyPairRecord, payload []byte) (string, error) {
	clientKey, err := crypto.DecodeKey(record.ClientPublicKey)
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeInternal, "stored client key corrupt", err)
	}
	sealed, err := crypto.Seal(payload, clientKey)
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeInternal, "response sealing failed", err)
	}
	return hex.EncodeToString(sealed), nil
}

func recordKeyPair(record *models.KeyPairRecord) (*crypto.KeyPair, error) {
	pub, err := crypto.DecodeKey(record.PublicKey)
	if err != nil {
		return nil, err
	}
	priv, err := crypto.DecodeKey(record.PrivateKey)
	if err != nil {
		return nil, err
	}
	return &crypto.KeyPair{Public: pub, Private: priv}, nil
}
