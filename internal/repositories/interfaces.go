package repositories

import (
	"context"
	"errors"
	"time"

	"veilchat/internal/models"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when an insert violates a uniqueness
	// constraint. Token issuance relies on it for the
	// generate-insert-retry loop instead of a racy existence check.
	ErrDuplicate = errors.New("duplicate key")
)

type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id int64) (*models.User, error)
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
}

type TokenRepository interface {
	Create(ctx context.Context, token *models.AuthToken) error
	GetByToken(ctx context.Context, token string) (*models.AuthToken, error)
	UpdateExpiration(ctx context.Context, token string, expiresAt time.Time) error
}

type KeyPairRepository interface {
	Create(ctx context.Context, record *models.KeyPairRecord) error
	GetByIDToken(ctx context.Context, idToken string) (*models.KeyPairRecord, error)
}

type DeviceRepository interface {
	Create(ctx context.Context, device *models.Device) error
	GetByUserAndKey(ctx context.Context, userID int64, publicKey string) (*models.Device, error)
	ListByConversation(ctx context.Context, conversationID int64) ([]*models.Device, error)
}

type ConversationRepository interface {
	// Create inserts the conversation and all membership rows in one
	// transaction.
	Create(ctx context.Context, conversation *models.Conversation, memberships []models.Membership) error
	GetMembership(ctx context.Context, userID, conversationID int64) (*models.Membership, error)
	ListMembers(ctx context.Context, conversationID int64) ([]*models.User, error)
	ListForUser(ctx context.Context, userID int64) ([]*models.Conversation, []*models.Membership, error)
}

// DigestFilter selects digests addressed to one recipient identity.
// Exactly one of the two fields is set.
type DigestFilter struct {
	UserID   *int64
	DeviceID *int64
}

type MessageRepository interface {
	// CreateWithDigests inserts the message row and every digest row in a
	// single transaction: either the whole message persists or none of it.
	CreateWithDigests(ctx context.Context, message *models.Message, digests []models.Digest) error
	ListForConversation(ctx context.Context, conversationID int64, filter DigestFilter) ([]*models.MessageView, error)
	GetLastDigest(ctx context.Context, conversationID int64, filter DigestFilter) (string, error)
}
