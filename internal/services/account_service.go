package services

import (
	"context"
	"errors"
	"strings"

	"veilchat/internal/crypto"
	"veilchat/internal/models"
	"veilchat/internal/repositories"
	"veilchat/pkg/apperrors"
	"veilchat/pkg/logger"
)

// AccountService covers account creation, login and the salt exchange
// that precedes both. Password material arrives pre-hashed by the client;
// the server only adds its own salted SHA3-256 layer on top.
type AccountService struct {
	users    repositories.UserRepository
	devices  repositories.DeviceRepository
	sessions *SessionService
	log      *logger.Logger
}

func NewAccountService(users repositories.UserRepository, devices repositories.DeviceRepository, sessions *SessionService, log *logger.Logger) *AccountService {
	return &AccountService{users: users, devices: devices, sessions: sessions, log: log}
}

type RegisterCommand struct {
	Email           string
	Username        string
	Hash            string
	ClientSalt      string
	KeygenSalt      string
	PublicKey       string
	DeviceName      string
	DevicePublicKey string
}

type Salts struct {
	ClientSalt string `json:"clientSalt"`
	KeygenSalt string `json:"keygenSalt"`
}

// NewSalts returns fresh salts for an account that is about to be created.
func (s *AccountService) NewSalts() (*Salts, error) {
	clientSalt, err := crypto.GenerateSalt()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, "salt generation failed", err)
	}
	keygenSalt, err := crypto.GenerateSalt()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, "salt generation failed", err)
	}
	return &Salts{ClientSalt: clientSalt, KeygenSalt: keygenSalt}, nil
}

// SaltsFor returns the stored salts a client needs before it can log in.
func (s *AccountService) SaltsFor(ctx context.Context, username string) (*Salts, error) {
	user, err := s.users.GetByUsername(ctx, strings.ToLower(username))
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, apperrors.NotFound("user does not exist")
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, "user lookup failed", err)
	}
	return &Salts{ClientSalt: user.ClientSalt, KeygenSalt: user.KeygenSalt}, nil
}

// Register creates the account and immediately issues an auth token.
func (s *AccountService) Register(ctx context.Context, cmd RegisterCommand) (string, error) {
	username := strings.ToLower(cmd.Username)
	if !isAlphanumeric(username) {
		return "", apperrors.InvalidArg("only alphanumeric characters allowed in username")
	}

	if _, err := s.users.GetByUsername(ctx, username); err == nil {
		return "", apperrors.AlreadyExists("user already exists")
	} else if !errors.Is(err, repositories.ErrNotFound) {
		return "", apperrors.Wrap(apperrors.CodeInternal, "user lookup failed", err)
	}
	if _, err := s.users.GetByEmail(ctx, cmd.Email); err == nil {
		return "", apperrors.AlreadyExists("email already in use")
	} else if !errors.Is(err, repositories.ErrNotFound) {
		return "", apperrors.Wrap(apperrors.CodeInternal, "email lookup failed", err)
	}

	serverSalt, err := crypto.GenerateSalt()
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeInternal, "salt generation failed", err)
	}

	user := &models.User{
		Username:   username,
		Email:      cmd.Email,
		Hash:       crypto.HashPassword(cmd.Hash, serverSalt),
		ClientSalt: cmd.ClientSalt,
		KeygenSalt: cmd.KeygenSalt,
		ServerSalt: serverSalt,
		PublicKey:  cmd.PublicKey,
	}
	err = s.users.Create(ctx, user)
	if errors.Is(err, repositories.ErrDuplicate) {
		// Lost a race with a concurrent registration for the same
		// username or email; the unique constraints are authoritative.
		return "", apperrors.AlreadyExists("user already exists")
	}
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeInternal, "user insert failed", err)
	}

	if cmd.DevicePublicKey != "" {
		name := cmd.DeviceName
		if name == "" {
			name = "device"
		}
		device := &models.Device{UserID: user.ID, Name: name, PublicKey: cmd.DevicePublicKey}
		if err := s.devices.Create(ctx, device); err != nil {
			return "", apperrors.Wrap(apperrors.CodeInternal, "device insert failed", err)
		}
	}

	return s.sessions.Issue(ctx, user.ID, cmd.PublicKey)
}

// Login verifies credentials and issues a token. The submitted public key
// must be either the user's password-derived key or one of their
// registered device keys.
func (s *AccountService) Login(ctx context.Context, username, hash, publicKey string) (string, error) {
	user, err := s.users.GetByUsername(ctx, strings.ToLower(username))
	if errors.Is(err, repositories.ErrNotFound) {
		return "", apperrors.Unauthenticated("invalid login credentials")
	}
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeInternal, "user lookup failed", err)
	}

	if crypto.HashPassword(hash, user.ServerSalt) != user.Hash {
		return "", apperrors.Unauthenticated("invalid login credentials")
	}

	if publicKey != user.PublicKey {
		_, err := s.devices.GetByUserAndKey(ctx, user.ID, publicKey)
		if errors.Is(err, repositories.ErrNotFound) {
			return "", apperrors.Unauthenticated("unrecognised public key, please retry login")
		}
		if err != nil {
			return "", apperrors.Wrap(apperrors.CodeInternal, "device lookup failed", err)
		}
	}

	return s.sessions.Issue(ctx, user.ID, publicKey)
}

// UsernameOf resolves an authenticated user id to its username.
func (s *AccountService) UsernameOf(ctx context.Context, userID int64) (string, error) {
	user, err := s.users.GetByID(ctx, userID)
	if errors.Is(err, repositories.ErrNotFound) {
		return "", apperrors.NotFound("user not found")
	}
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeInternal, "user lookup failed", err)
	}
	return user.Username, nil
}

func isAlphanumeric(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !('a' <= c && c <= 'z') && !('0' <= c && c <= '9') {
			return false
		}
	}
	return true
}
