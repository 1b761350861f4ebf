package repositories

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"veilchat/internal/models"
)

const keyPairPrefix = "keypair:"

// evictionGrace keeps a record readable past its logical expiry. Readers
// must be able to tell an expired key pair from an unknown id token, so
// eviction may only happen after every reader would already classify the
// record as expired.
const evictionGrace = time.Hour

// RedisKeyPairRepository stores ephemeral key-pair records with a native
// TTL, so expired records disappear on their own instead of accumulating.
// The Redis TTL runs evictionGrace behind ExpiresAt; the read-time
// ExpiresAt comparison is the authority on validity.
type RedisKeyPairRepository struct {
	client *redis.Client
}

func NewRedisKeyPairRepository(client *redis.Client) *RedisKeyPairRepository {
	return &RedisKeyPairRepository{client: client}
}

func (r *RedisKeyPairRepository) Create(ctx context.Context, record *models.KeyPairRecord) error {
	jsonData, err := json.Marshal(record)
	if err != nil {
		return errors.Wrap(err, "keyPairRepo.Create marshal")
	}

	ttl := time.Until(record.ExpiresAt)
	if ttl <= 0 {
		return errors.New("key pair record already expired")
	}

	// SetNX keeps the id token unique: a second insert under the same
	// token fails instead of overwriting the first record's keys.
	ok, err := r.client.SetNX(ctx, keyPairPrefix+record.IDToken, jsonData, ttl+evictionGrace).Result()
	if err != nil {
		return errors.Wrap(err, "keyPairRepo.Create set")
	}
	if !ok {
		return ErrDuplicate
	}
	return nil
}

func (r *RedisKeyPairRepository) GetByIDToken(ctx context.Context, idToken string) (*models.KeyPairRecord, error) {
	jsonData, err := r.client.Get(ctx, keyPairPrefix+idToken).Result()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "keyPairRepo.GetByIDToken")
	}

	var record models.KeyPairRecord
	if err := json.Unmarshal([]byte(jsonData), &record); err != nil {
		return nil, errors.Wrap(err, "keyPairRepo.GetByIDToken unmarshal")
	}
	return &record, nil
}
