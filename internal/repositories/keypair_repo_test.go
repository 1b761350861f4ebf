package repositories

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"veilchat/internal/models"
)

// getTestRedisClient connects to the Redis named by TEST_REDIS_URL and
// skips the test when it is not set.
func getTestRedisClient(t *testing.T) *redis.Client {
	t.Helper()

	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set, skipping redis integration test")
	}

	opts, err := redis.ParseURL(url)
	require.NoError(t, err)
	client := redis.NewClient(opts)
	require.NoError(t, client.Ping(context.Background()).Err(), "failed to connect to test Redis")
	return client
}

func cleanupTestKeyPairs(t *testing.T, client *redis.Client, ctx context.Context) {
	keys, err := client.Keys(ctx, keyPairPrefix+"*").Result()
	if err != nil {
		t.Logf("Warning: failed to get keys: %v", err)
		return
	}
	if len(keys) > 0 {
		if err := client.Del(ctx, keys...).Err(); err != nil {
			t.Logf("Warning: failed to cleanup test key pairs: %v", err)
		}
	}
}

func TestKeyPairRepository_CreateAndGet(t *testing.T) {
	client := getTestRedisClient(t)
	repo := NewRedisKeyPairRepository(client)
	ctx := context.Background()

	defer cleanupTestKeyPairs(t, client, ctx)

	record := &models.KeyPairRecord{
		IDToken:         "idtoken-1",
		PublicKey:       "aa",
		PrivateKey:      "bb",
		ClientPublicKey: "cc",
		ExpiresAt:       time.Now().Add(10 * time.Minute),
	}

	err := repo.Create(ctx, record)
	require.NoError(t, err)

	retrieved, err := repo.GetByIDToken(ctx, "idtoken-1")
	require.NoError(t, err)
	assert.Equal(t, record.PublicKey, retrieved.PublicKey)
	assert.Equal(t, record.PrivateKey, retrieved.PrivateKey)
	assert.Equal(t, record.ClientPublicKey, retrieved.ClientPublicKey)
}

func TestKeyPairRepository_DuplicateIDToken(t *testing.T) {
	client := getTestRedisClient(t)
	repo := NewRedisKeyPairRepository(client)
	ctx := context.Background()

	defer cleanupTestKeyPairs(t, client, ctx)

	record := &models.KeyPairRecord{
		IDToken:   "idtoken-dup",
		ExpiresAt: time.Now().Add(10 * time.Minute),
	}
	require.NoError(t, repo.Create(ctx, record))

	err := repo.Create(ctx, record)
	assert.ErrorIs(t, err, ErrDuplicate)
}

// An expired record must stay readable so callers can distinguish
// "expired, renegotiate" from "unknown id token". Eviction only happens
// evictionGrace after the logical expiry.
func TestKeyPairRepository_ExpiredRecordStillReadable(t *testing.T) {
	client := getTestRedisClient(t)
	repo := NewRedisKeyPairRepository(client)
	ctx := context.Background()

	defer cleanupTestKeyPairs(t, client, ctx)

	record := &models.KeyPairRecord{
		IDToken:   "idtoken-short",
		ExpiresAt: time.Now().Add(time.Second),
	}
	require.NoError(t, repo.Create(ctx, record))

	ttl, err := client.TTL(ctx, keyPairPrefix+"idtoken-short").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, evictionGrace/2, "redis TTL must outlive the logical expiry")

	time.Sleep(2 * time.Second)

	retrieved, err := repo.GetByIDToken(ctx, "idtoken-short")
	require.NoError(t, err)
	assert.True(t, retrieved.ExpiresAt.Before(time.Now()), "record should read back as logically expired")
}
