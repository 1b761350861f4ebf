package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"veilchat/internal/repositories"
	"veilchat/pkg/apperrors"
	"veilchat/pkg/logger"
)

const (
	testTokenTTL      = 24 * time.Hour
	testRefreshWindow = time.Hour
)

func newTestSessionService(repo repositories.TokenRepository) *SessionService {
	return NewSessionService(repo, logger.New("error"), testTokenTTL, testRefreshWindow)
}

func TestSessionService_IssueThenVerify(t *testing.T) {
	repo := newFakeTokenRepo()
	svc := newTestSessionService(repo)
	ctx := context.Background()

	token, err := svc.Issue(ctx, 7, "pubkey")
	require.NoError(t, err)
	assert.Len(t, token, 64)

	userID, err := svc.Verify(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, int64(7), userID)
}

func TestSessionService_VerifyUnknownToken(t *testing.T) {
	svc := newTestSessionService(newFakeTokenRepo())

	_, err := svc.Verify(context.Background(), "nope")
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeUnauthenticated, apperrors.CodeOf(err))
}

func TestSessionService_VerifyExpiredToken(t *testing.T) {
	repo := newFakeTokenRepo()
	svc := newTestSessionService(repo)
	ctx := context.Background()

	token, err := svc.Issue(ctx, 7, "pubkey")
	require.NoError(t, err)

	// Jump past the TTL.
	svc.now = func() time.Time { return time.Now().Add(testTokenTTL + time.Minute) }

	_, err = svc.Verify(ctx, token)
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeUnauthenticated, apperrors.CodeOf(err))
}

func TestSessionService_RefreshInsideWindow(t *testing.T) {
	repo := newFakeTokenRepo()
	svc := newTestSessionService(repo)
	ctx := context.Background()

	token, err := svc.Issue(ctx, 7, "pubkey")
	require.NoError(t, err)
	issued := repo.tokens[token].ExpiresAt

	// More than refreshWindow into the token's life: verify must extend.
	svc.now = func() time.Time { return issued.Add(-testTokenTTL + 2*testRefreshWindow) }

	_, err = svc.Verify(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, 1, repo.updates)
	assert.True(t, repo.tokens[token].ExpiresAt.After(issued), "expiration must be strictly extended")
}

func TestSessionService_NoRefreshOutsideWindow(t *testing.T) {
	repo := newFakeTokenRepo()
	svc := newTestSessionService(repo)
	ctx := context.Background()

	token, err := svc.Issue(ctx, 7, "pubkey")
	require.NoError(t, err)
	issued := repo.tokens[token].ExpiresAt

	// Used immediately: no refresh yet.
	_, err = svc.Verify(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, 0, repo.updates)
	assert.Equal(t, issued, repo.tokens[token].ExpiresAt)
}

func TestSessionService_IssueRetriesOnCollision(t *testing.T) {
	repo := newFakeTokenRepo()
	repo.createErrs = []error{repositories.ErrDuplicate, repositories.ErrDuplicate}
	svc := newTestSessionService(repo)

	token, err := svc.Issue(context.Background(), 7, "pubkey")
	require.NoError(t, err)
	assert.Len(t, token, 64)
	assert.Len(t, repo.tokens, 1)
}
