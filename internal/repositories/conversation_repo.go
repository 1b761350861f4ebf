package repositories

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"veilchat/internal/models"
)

type PostgresConversationRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresConversationRepository(pool *pgxpool.Pool) *PostgresConversationRepository {
	return &PostgresConversationRepository{pool: pool}
}

// Create inserts the conversation row and one membership row per
// participant inside a single transaction. The unique (user_id,
// conversation_id) constraint makes a duplicate participant fail the whole
// insert instead of silently producing two membership rows.
func (r *PostgresConversationRepository) Create(ctx context.Context, conversation *models.Conversation, memberships []models.Membership) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "conversationRepo.Create begin")
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx,
		`INSERT INTO conversations (default_name, created_at) VALUES ($1, $2) RETURNING id`,
		conversation.DefaultName, conversation.CreatedAt,
	).Scan(&conversation.ID)
	if err != nil {
		return errors.Wrap(err, "conversationRepo.Create insert conversation")
	}

	for i := range memberships {
		memberships[i].ConversationID = conversation.ID
		_, err = tx.Exec(ctx,
			`INSERT INTO memberships (user_id, conversation_id, custom_name) VALUES ($1, $2, $3)`,
			memberships[i].UserID, conversation.ID, memberships[i].CustomName,
		)
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		if err != nil {
			return errors.Wrap(err, "conversationRepo.Create insert membership")
		}
	}

	return errors.Wrap(tx.Commit(ctx), "conversationRepo.Create commit")
}

func (r *PostgresConversationRepository) GetMembership(ctx context.Context, userID, conversationID int64) (*models.Membership, error) {
	query := `SELECT user_id, conversation_id, custom_name FROM memberships
	          WHERE user_id = $1 AND conversation_id = $2`

	var membership models.Membership
	err := r.pool.QueryRow(ctx, query, userID, conversationID).Scan(
		&membership.UserID, &membership.ConversationID, &membership.CustomName,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "conversationRepo.GetMembership")
	}
	return &membership, nil
}

func (r *PostgresConversationRepository) ListMembers(ctx context.Context, conversationID int64) ([]*models.User, error) {
	query := `SELECT u.id, u.username, u.public_key
	          FROM memberships m
	          JOIN users u ON u.id = m.user_id
	          WHERE m.conversation_id = $1
	          ORDER BY u.id`

	rows, err := r.pool.Query(ctx, query, conversationID)
	if err != nil {
		return nil, errors.Wrap(err, "conversationRepo.ListMembers")
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		var user models.User
		if err := rows.Scan(&user.ID, &user.Username, &user.PublicKey); err != nil {
			return nil, errors.Wrap(err, "conversationRepo.ListMembers scan")
		}
		users = append(users, &user)
	}
	return users, errors.Wrap(rows.Err(), "conversationRepo.ListMembers rows")
}

func (r *PostgresConversationRepository) ListForUser(ctx context.Context, userID int64) ([]*models.Conversation, []*models.Membership, error) {
	query := `SELECT c.id, c.default_name, c.created_at, m.user_id, m.conversation_id, m.custom_name
	          FROM memberships m
	          JOIN conversations c ON c.id = m.conversation_id
	          WHERE m.user_id = $1
	          ORDER BY c.id`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, nil, errors.Wrap(err, "conversationRepo.ListForUser")
	}
	defer rows.Close()

	var conversations []*models.Conversation
	var memberships []*models.Membership
	for rows.Next() {
		var conversation models.Conversation
		var membership models.Membership
		err := rows.Scan(
			&conversation.ID, &conversation.DefaultName, &conversation.CreatedAt,
			&membership.UserID, &membership.ConversationID, &membership.CustomName,
		)
		if err != nil {
			return nil, nil, errors.Wrap(err, "conversationRepo.ListForUser scan")
		}
		conversations = append(conversations, &conversation)
		memberships = append(memberships, &membership)
	}
	return conversations, memberships, errors.Wrap(rows.Err(), "conversationRepo.ListForUser rows")
}
