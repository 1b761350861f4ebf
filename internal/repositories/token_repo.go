package repositories

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"veilchat/internal/models"
)

type PostgresTokenRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresTokenRepository(pool *pgxpool.Pool) *PostgresTokenRepository {
	return &PostgresTokenRepository{pool: pool}
}

// Create inserts the token row. The unique constraint on the token column
// is the collision check; callers regenerate and retry on ErrDuplicate.
func (r *PostgresTokenRepository) Create(ctx context.Context, token *models.AuthToken) error {
	query := `INSERT INTO auth_tokens (token, user_id, public_key, expires_at)
	          VALUES ($1, $2, $3, $4)`

	_, err := r.pool.Exec(ctx, query, token.Token, token.UserID, token.PublicKey, token.ExpiresAt)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return errors.Wrap(err, "tokenRepo.Create")
	}
	return nil
}

func (r *PostgresTokenRepository) GetByToken(ctx context.Context, tokenStr string) (*models.AuthToken, error) {
	query := `SELECT token, user_id, public_key, expires_at FROM auth_tokens WHERE token = $1`

	var token models.AuthToken
	err := r.pool.QueryRow(ctx, query, tokenStr).Scan(
		&token.Token, &token.UserID, &token.PublicKey, &token.ExpiresAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "tokenRepo.GetByToken")
	}
	return &token, nil
}

func (r *PostgresTokenRepository) UpdateExpiration(ctx context.Context, tokenStr string, expiresAt time.Time) error {
	query := `UPDATE auth_tokens SET expires_at = $1 WHERE token = $2`

	_, err := r.pool.Exec(ctx, query, expiresAt, tokenStr)
	if err != nil {
		return errors.Wrap(err, "tokenRepo.UpdateExpiration")
	}
	return nil
}
