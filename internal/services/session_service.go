package services

import (
	"context"
	"errors"
	"time"

	"veilchat/internal/crypto"
	"veilchat/internal/models"
	"veilchat/internal/repositories"
	"veilchat/pkg/apperrors"
	"veilchat/pkg/logger"
)

// issueAttempts bounds the collision-retry loop. A 256-bit token colliding
// even once is already implausible.
const issueAttempts = 5

// SessionService issues and verifies opaque auth tokens with a sliding
// expiration window.
type SessionService struct {
	tokens        repositories.TokenRepository
	log           *logger.Logger
	tokenTTL      time.Duration
	refreshWindow time.Duration
	now           func() time.Time
}

func NewSessionService(tokens repositories.TokenRepository, log *logger.Logger, tokenTTL, refreshWindow time.Duration) *SessionService {
	return &SessionService{
		tokens:        tokens,
		log:           log,
		tokenTTL:      tokenTTL,
		refreshWindow: refreshWindow,
		now:           time.Now,
	}
}

// Issue generates a random token and inserts it, regenerating on a
// uniqueness collision. The store's unique constraint is the arbiter, so
// there is no check-then-insert window.
func (s *SessionService) Issue(ctx context.Context, userID int64, publicKey string) (string, error) {
	for attempt := 0; attempt < issueAttempts; attempt++ {
		token, err := crypto.RandomToken()
		if err != nil {
			return "", apperrors.Wrap(apperrors.CodeInternal, "token generation failed", err)
		}

		err = s.tokens.Create(ctx, &models.AuthToken{
			Token:     token,
			UserID:    userID,
			PublicKey: publicKey,
			ExpiresAt: s.now().Add(s.tokenTTL),
		})
		if errors.Is(err, repositories.ErrDuplicate) {
			s.log.Warn("auth token collision, regenerating")
			continue
		}
		if err != nil {
			return "", apperrors.Wrap(apperrors.CodeInternal, "token insert failed", err)
		}
		return token, nil
	}
	return "", apperrors.Internal("token generation kept colliding")
}

// Verify resolves a token to its user. A token more than refreshWindow
// into its lifetime gets its expiration extended to a full TTL from now;
// that write is opportunistic and its failure only shortens the session,
// so it is logged and not surfaced.
func (s *SessionService) Verify(ctx context.Context, token string) (int64, error) {
	record, err := s.tokens.GetByToken(ctx, token)
	if errors.Is(err, repositories.ErrNotFound) {
		return 0, apperrors.Unauthenticated("auth token not valid")
	}
	if err != nil {
		return 0, apperrors.Wrap(apperrors.CodeInternal, "token lookup failed", err)
	}

	now := s.now()
	if record.ExpiresAt.Before(now) {
		return 0, apperrors.Unauthenticated("session has expired")
	}

	if record.ExpiresAt.Before(now.Add(s.tokenTTL - s.refreshWindow)) {
		if err := s.tokens.UpdateExpiration(ctx, token, now.Add(s.tokenTTL)); err != nil {
			s.log.Error("failed to refresh token expiration", "err", err)
		}
	}

	return record.UserID, nil
}
