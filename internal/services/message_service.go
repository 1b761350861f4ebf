package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"veilchat/internal/models"
	"veilchat/internal/repositories"
	"veilchat/pkg/apperrors"
	"veilchat/pkg/logger"
)

// Broadcaster is the fan-out half of the presence directory. Delivery is
// best-effort; none of these calls can fail the triggering request.
type Broadcaster interface {
	SendToUser(userID int64, event string, args ...any)
	SendToDevice(deviceID int64, event string, args ...any)
}

// DigestInput is one recipient-addressed digest from a message-send
// request.
type DigestInput struct {
	ID     int64
	Digest string
}

// MessageService runs the message pipeline (permission check, roster
// validation, transactional persistence, fan-out) and the analogous
// conversation-creation flow.
type MessageService struct {
	users         repositories.UserRepository
	devices       repositories.DeviceRepository
	conversations repositories.ConversationRepository
	messages      repositories.MessageRepository
	directory     Broadcaster
	log           *logger.Logger
	now           func() time.Time
}

func NewMessageService(
	users repositories.UserRepository,
	devices repositories.DeviceRepository,
	conversations repositories.ConversationRepository,
	messages repositories.MessageRepository,
	directory Broadcaster,
	log *logger.Logger,
) *MessageService {
	return &MessageService{
		users:         users,
		devices:       devices,
		conversations: conversations,
		messages:      messages,
		directory:     directory,
		log:           log,
		now:           time.Now,
	}
}

// requireMembership gates every conversation-scoped operation. The same
// opaque denial covers "no such conversation" and "not a member" so
// non-members cannot probe for conversation existence.
func (s *MessageService) requireMembership(ctx context.Context, userID, conversationID int64) error {
	_, err := s.conversations.GetMembership(ctx, userID, conversationID)
	if errors.Is(err, repositories.ErrNotFound) {
		return apperrors.Forbidden("access denied")
	}
	if err != nil {
		return apperrors.Wrap(apperrors.CodeInternal, "membership lookup failed", err)
	}
	return nil
}

// SendMessage validates the digest set against the live roster, persists
// message and digests atomically, and fans each digest out to its own
// recipient's live connections.
func (s *MessageService) SendMessage(ctx context.Context, senderID, conversationID int64, userDigests, deviceDigests []DigestInput) error {
	if err := s.requireMembership(ctx, senderID, conversationID); err != nil {
		return err
	}

	members, err := s.conversations.ListMembers(ctx, conversationID)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeInternal, "roster lookup failed", err)
	}
	devices, err := s.devices.ListByConversation(ctx, conversationID)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeInternal, "roster lookup failed", err)
	}

	memberIDs := make(map[int64]bool, len(members))
	for _, m := range members {
		memberIDs[m.ID] = true
	}
	deviceIDs := make(map[int64]bool, len(devices))
	for _, d := range devices {
		deviceIDs[d.ID] = true
	}

	// An id outside the roster means a malformed or stale client, not a
	// benign race: hard failure.
	for _, d := range userDigests {
		if !memberIDs[d.ID] {
			return apperrors.InvalidArg("digest recipient is not a conversation member")
		}
	}
	for _, d := range deviceDigests {
		if !deviceIDs[d.ID] {
			return apperrors.InvalidArg("digest recipient is not a conversation device")
		}
	}
	if hasDuplicateID(userDigests) || hasDuplicateID(deviceDigests) {
		return apperrors.InvalidArg("duplicate digest recipient")
	}

	// Membership may have shifted since the client fetched the roster;
	// a count mismatch is recoverable by refreshing and retrying.
	if len(userDigests) != len(members) || len(deviceDigests) != len(devices) {
		return apperrors.FailedPrecondition("missing digests, refresh to send messages to new members")
	}

	message := &models.Message{
		ConversationID: conversationID,
		SenderID:       senderID,
		SentAt:         s.now(),
	}
	digests := make([]models.Digest, 0, len(userDigests)+len(deviceDigests))
	for _, d := range userDigests {
		id := d.ID
		digests = append(digests, models.Digest{Contents: d.Digest, UserID: &id})
	}
	for _, d := range deviceDigests {
		id := d.ID
		digests = append(digests, models.Digest{Contents: d.Digest, DeviceID: &id})
	}

	if err := s.messages.CreateWithDigests(ctx, message, digests); err != nil {
		return apperrors.Wrap(apperrors.CodeInternal, "message persist failed", err)
	}

	sender, err := s.users.GetByID(ctx, senderID)
	if err != nil {
		// Persistence already succeeded; fan-out with a blank sender name
		// would confuse clients, so log and skip it.
		s.log.Error("sender lookup failed after persist, skipping fan-out", "err", err)
		return nil
	}

	sentAt := message.SentAt.UnixMilli()
	for _, d := range userDigests {
		view := models.MessageView{Sender: sender.Username, Digest: d.Digest, Time: sentAt}
		s.directory.SendToUser(d.ID, "new_message", conversationID, view)
	}
	for _, d := range deviceDigests {
		view := models.MessageView{Sender: sender.Username, Digest: d.Digest, Time: sentAt}
		s.directory.SendToDevice(d.ID, "new_message", conversationID, view)
	}

	return nil
}

// NewConversationEvent is the payload of the new_conversation fan-out.
type NewConversationEvent struct {
	ConversationID int64  `json:"conversationId"`
	Name           string `json:"name"`
}

// CreateConversation resolves participant usernames, requires the caller
// to be among them, persists conversation plus memberships in one
// transaction, and notifies every online participant.
func (s *MessageService) CreateConversation(ctx context.Context, creatorID int64, participants []string, customName string) (*models.Conversation, error) {
	if len(participants) == 0 {
		return nil, apperrors.InvalidArg("participants must not be empty")
	}

	// Resolve every username before any write; one unknown name aborts
	// the whole request.
	seen := make(map[int64]bool, len(participants))
	userIDs := make([]int64, 0, len(participants))
	containsCreator := false
	for _, username := range participants {
		user, err := s.users.GetByUsername(ctx, strings.ToLower(username))
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, apperrors.NotFound("some users not found")
		}
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CodeInternal, "user lookup failed", err)
		}
		if user.ID == creatorID {
			containsCreator = true
		}
		// A participant listed twice still gets exactly one membership.
		if !seen[user.ID] {
			seen[user.ID] = true
			userIDs = append(userIDs, user.ID)
		}
	}
	if !containsCreator {
		return nil, apperrors.InvalidArg("participants did not contain user")
	}

	name := customName
	if name == "" {
		name = strings.Join(participants, " ")
	}

	conversation := &models.Conversation{DefaultName: name, CreatedAt: s.now()}
	memberships := make([]models.Membership, 0, len(userIDs))
	for _, id := range userIDs {
		membership := models.Membership{UserID: id}
		if id == creatorID && customName != "" {
			custom := customName
			membership.CustomName = &custom
		}
		memberships = append(memberships, membership)
	}

	if err := s.conversations.Create(ctx, conversation, memberships); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, "conversation persist failed", err)
	}

	event := NewConversationEvent{ConversationID: conversation.ID, Name: name}
	for _, id := range userIDs {
		s.directory.SendToUser(id, "new_conversation", event)
	}

	return conversation, nil
}

// ListConversations returns the caller's conversations with display name
// resolved and the latest digest addressed to the requesting identity.
func (s *MessageService) ListConversations(ctx context.Context, userID int64, deviceID *int64) ([]models.ConversationSummary, error) {
	conversations, memberships, err := s.conversations.ListForUser(ctx, userID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, "conversation list failed", err)
	}

	summaries := make([]models.ConversationSummary, 0, len(conversations))
	for i, conversation := range conversations {
		name := conversation.DefaultName
		if memberships[i].CustomName != nil {
			name = *memberships[i].CustomName
		}
		lastDigest, err := s.messages.GetLastDigest(ctx, conversation.ID, s.filterFor(userID, deviceID))
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CodeInternal, "last digest lookup failed", err)
		}
		summaries = append(summaries, models.ConversationSummary{
			ID:         conversation.ID,
			Name:       name,
			LastDigest: lastDigest,
		})
	}
	return summaries, nil
}

// ListMessages returns the conversation history as seen by the
// requesting identity: each row carries only that identity's digest.
func (s *MessageService) ListMessages(ctx context.Context, userID, conversationID int64, deviceID *int64) ([]*models.MessageView, error) {
	if err := s.requireMembership(ctx, userID, conversationID); err != nil {
		return nil, err
	}
	views, err := s.messages.ListForConversation(ctx, conversationID, s.filterFor(userID, deviceID))
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, "message list failed", err)
	}
	return views, nil
}

// LastDigest returns the most recent digest addressed to the requesting
// identity in a conversation, or an empty string when there is none.
func (s *MessageService) LastDigest(ctx context.Context, userID, conversationID int64, deviceID *int64) (string, error) {
	if err := s.requireMembership(ctx, userID, conversationID); err != nil {
		return "", err
	}
	digest, err := s.messages.GetLastDigest(ctx, conversationID, s.filterFor(userID, deviceID))
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeInternal, "last digest lookup failed", err)
	}
	return digest, nil
}

// IdentityKey is one roster entry of the key listing: a recipient id and
// its public key.
type IdentityKey struct {
	ID  int64  `json:"id"`
	Key string `json:"key"`
}

// ConversationKeys returns the public keys a sender needs to produce one
// digest per roster identity.
func (s *MessageService) ConversationKeys(ctx context.Context, userID, conversationID int64) (userKeys, deviceKeys []IdentityKey, err error) {
	if err := s.requireMembership(ctx, userID, conversationID); err != nil {
		return nil, nil, err
	}

	members, err := s.conversations.ListMembers(ctx, conversationID)
	if err != nil {
		return nil, nil, apperrors.Wrap(apperrors.CodeInternal, "roster lookup failed", err)
	}
	devices, err := s.devices.ListByConversation(ctx, conversationID)
	if err != nil {
		return nil, nil, apperrors.Wrap(apperrors.CodeInternal, "roster lookup failed", err)
	}

	userKeys = make([]IdentityKey, 0, len(members))
	for _, m := range members {
		userKeys = append(userKeys, IdentityKey{ID: m.ID, Key: m.PublicKey})
	}
	deviceKeys = make([]IdentityKey, 0, len(devices))
	for _, d := range devices {
		deviceKeys = append(deviceKeys, IdentityKey{ID: d.ID, Key: d.PublicKey})
	}
	return userKeys, deviceKeys, nil
}

func (s *MessageService) filterFor(userID int64, deviceID *int64) repositories.DigestFilter {
	if deviceID != nil {
		return repositories.DigestFilter{DeviceID: deviceID}
	}
	return repositories.DigestFilter{UserID: &userID}
}

func hasDuplicateID(digests []DigestInput) bool {
	seen := make(map[int64]bool, len(digests))
	for _, d := range digests {
		if seen[d.ID] {
			return true
		}
		seen[d.ID] = true
	}
	return false
}
