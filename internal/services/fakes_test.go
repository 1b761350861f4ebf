package services

import (
	"context"
	"strings"
	"time"

	"veilchat/internal/models"
	"veilchat/internal/repositories"
)

// In-memory stand-ins for the store interfaces, shared by the service
// tests in this package.

type fakeTokenRepo struct {
	tokens     map[string]*models.AuthToken
	createErrs []error // consumed per Create call before the real insert
	updates    int
}

func newFakeTokenRepo() *fakeTokenRepo {
	return &fakeTokenRepo{tokens: make(map[string]*models.AuthToken)}
}

func (r *fakeTokenRepo) Create(_ context.Context, token *models.AuthToken) error {
	if len(r.createErrs) > 0 {
		err := r.createErrs[0]
		r.createErrs = r.createErrs[1:]
		if err != nil {
			return err
		}
	}
	if _, exists := r.tokens[token.Token]; exists {
		return repositories.ErrDuplicate
	}
	copied := *token
	r.tokens[token.Token] = &copied
	return nil
}

func (r *fakeTokenRepo) GetByToken(_ context.Context, token string) (*models.AuthToken, error) {
	record, ok := r.tokens[token]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	copied := *record
	return &copied, nil
}

func (r *fakeTokenRepo) UpdateExpiration(_ context.Context, token string, expiresAt time.Time) error {
	record, ok := r.tokens[token]
	if !ok {
		return repositories.ErrNotFound
	}
	record.ExpiresAt = expiresAt
	r.updates++
	return nil
}

type fakeKeyPairRepo struct {
	records map[string]*models.KeyPairRecord
}

func newFakeKeyPairRepo() *fakeKeyPairRepo {
	return &fakeKeyPairRepo{records: make(map[string]*models.KeyPairRecord)}
}

func (r *fakeKeyPairRepo) Create(_ context.Context, record *models.KeyPairRecord) error {
	if _, exists := r.records[record.IDToken]; exists {
		return repositories.ErrDuplicate
	}
	copied := *record
	r.records[record.IDToken] = &copied
	return nil
}

func (r *fakeKeyPairRepo) GetByIDToken(_ context.Context, idToken string) (*models.KeyPairRecord, error) {
	record, ok := r.records[idToken]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	copied := *record
	return &copied, nil
}

type fakeUserRepo struct {
	users  map[int64]*models.User
	nextID int64
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: make(map[int64]*models.User), nextID: 1}
}

func (r *fakeUserRepo) add(username string) *models.User {
	user := &models.User{ID: r.nextID, Username: username, PublicKey: strings.Repeat("a", 64)}
	r.users[user.ID] = user
	r.nextID++
	return user
}

func (r *fakeUserRepo) Create(_ context.Context, user *models.User) error {
	for _, u := range r.users {
		if u.Username == user.Username || (user.Email != "" && u.Email == user.Email) {
			return repositories.ErrDuplicate
		}
	}
	user.ID = r.nextID
	r.nextID++
	copied := *user
	r.users[user.ID] = &copied
	return nil
}

func (r *fakeUserRepo) GetByID(_ context.Context, id int64) (*models.User, error) {
	user, ok := r.users[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return user, nil
}

func (r *fakeUserRepo) GetByUsername(_ context.Context, username string) (*models.User, error) {
	for _, user := range r.users {
		if user.Username == username {
			return user, nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (r *fakeUserRepo) GetByEmail(_ context.Context, email string) (*models.User, error) {
	for _, user := range r.users {
		if user.Email == email {
			return user, nil
		}
	}
	return nil, repositories.ErrNotFound
}

type fakeDeviceRepo struct {
	devices map[int64]*models.Device
	nextID  int64
	// conversation roster: every device whose owner is a member; nil
	// means every device counts
	conversationHasUser func(conversationID, userID int64) bool
}

func newFakeDeviceRepo() *fakeDeviceRepo {
	return &fakeDeviceRepo{devices: make(map[int64]*models.Device), nextID: 1}
}

func (r *fakeDeviceRepo) add(userID int64, key string) *models.Device {
	device := &models.Device{ID: r.nextID, UserID: userID, Name: "device", PublicKey: key}
	r.devices[device.ID] = device
	r.nextID++
	return device
}

func (r *fakeDeviceRepo) Create(_ context.Context, device *models.Device) error {
	device.ID = r.nextID
	r.nextID++
	copied := *device
	r.devices[device.ID] = &copied
	return nil
}

func (r *fakeDeviceRepo) GetByUserAndKey(_ context.Context, userID int64, publicKey string) (*models.Device, error) {
	for _, device := range r.devices {
		if device.UserID == userID && device.PublicKey == publicKey {
			return device, nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (r *fakeDeviceRepo) ListByConversation(_ context.Context, conversationID int64) ([]*models.Device, error) {
	var devices []*models.Device
	for _, device := range r.devices {
		if r.conversationHasUser == nil || r.conversationHasUser(conversationID, device.UserID) {
			devices = append(devices, device)
		}
	}
	return devices, nil
}

type fakeConversationRepo struct {
	conversations map[int64]*models.Conversation
	memberships   map[int64]map[int64]*models.Membership // conversationID -> userID
	users         *fakeUserRepo
	nextID        int64
}

func newFakeConversationRepo(users *fakeUserRepo) *fakeConversationRepo {
	return &fakeConversationRepo{
		conversations: make(map[int64]*models.Conversation),
		memberships:   make(map[int64]map[int64]*models.Membership),
		users:         users,
		nextID:        1,
	}
}

func (r *fakeConversationRepo) addMember(conversationID, userID int64) {
	if r.conversations[conversationID] == nil {
		r.conversations[conversationID] = &models.Conversation{ID: conversationID, DefaultName: "room"}
	}
	if r.memberships[conversationID] == nil {
		r.memberships[conversationID] = make(map[int64]*models.Membership)
	}
	r.memberships[conversationID][userID] = &models.Membership{UserID: userID, ConversationID: conversationID}
}

func (r *fakeConversationRepo) Create(_ context.Context, conversation *models.Conversation, memberships []models.Membership) error {
	conversation.ID = r.nextID
	r.nextID++
	copied := *conversation
	r.conversations[conversation.ID] = &copied
	r.memberships[conversation.ID] = make(map[int64]*models.Membership)
	for i := range memberships {
		memberships[i].ConversationID = conversation.ID
		m := memberships[i]
		r.memberships[conversation.ID][m.UserID] = &m
	}
	return nil
}

func (r *fakeConversationRepo) GetMembership(_ context.Context, userID, conversationID int64) (*models.Membership, error) {
	membership, ok := r.memberships[conversationID][userID]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return membership, nil
}

func (r *fakeConversationRepo) ListMembers(_ context.Context, conversationID int64) ([]*models.User, error) {
	var members []*models.User
	for userID := range r.memberships[conversationID] {
		if user, ok := r.users.users[userID]; ok {
			members = append(members, user)
		}
	}
	return members, nil
}

func (r *fakeConversationRepo) ListForUser(_ context.Context, userID int64) ([]*models.Conversation, []*models.Membership, error) {
	var conversations []*models.Conversation
	var memberships []*models.Membership
	for conversationID, byUser := range r.memberships {
		if membership, ok := byUser[userID]; ok {
			conversations = append(conversations, r.conversations[conversationID])
			memberships = append(memberships, membership)
		}
	}
	return conversations, memberships, nil
}

type fakeMessageRepo struct {
	messages []*models.Message
	digests  [][]models.Digest
	lasts    map[string]string
	nextID   int64
}

func newFakeMessageRepo() *fakeMessageRepo {
	return &fakeMessageRepo{lasts: make(map[string]string), nextID: 1}
}

func (r *fakeMessageRepo) CreateWithDigests(_ context.Context, message *models.Message, digests []models.Digest) error {
	message.ID = r.nextID
	r.nextID++
	copied := *message
	r.messages = append(r.messages, &copied)
	stored := make([]models.Digest, len(digests))
	copy(stored, digests)
	for i := range stored {
		stored[i].MessageID = message.ID
	}
	r.digests = append(r.digests, stored)
	return nil
}

func (r *fakeMessageRepo) ListForConversation(_ context.Context, conversationID int64, filter repositories.DigestFilter) ([]*models.MessageView, error) {
	return nil, nil
}

func (r *fakeMessageRepo) GetLastDigest(_ context.Context, conversationID int64, filter repositories.DigestFilter) (string, error) {
	return "", nil
}

type sentEvent struct {
	userID   *int64
	deviceID *int64
	event    string
	args     []any
}

type fakeBroadcaster struct {
	events []sentEvent
}

func (b *fakeBroadcaster) SendToUser(userID int64, event string, args ...any) {
	b.events = append(b.events, sentEvent{userID: &userID, event: event, args: args})
}

func (b *fakeBroadcaster) SendToDevice(deviceID int64, event string, args ...any) {
	b.events = append(b.events, sentEvent{deviceID: &deviceID, event: event, args: args})
}
