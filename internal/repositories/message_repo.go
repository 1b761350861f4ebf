package repositories

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"veilchat/internal/models"
)

type PostgresMessageRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresMessageRepository(pool *pgxpool.Pool) *PostgresMessageRepository {
	return &PostgresMessageRepository{pool: pool}
}

// CreateWithDigests persists the message and all its digests atomically.
// A failure on any digest rolls back the message row as well, so a message
// can never exist with a partial digest set.
func (r *PostgresMessageRepository) CreateWithDigests(ctx context.Context, message *models.Message, digests []models.Digest) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "messageRepo.CreateWithDigests begin")
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx,
		`INSERT INTO messages (conversation_id, sender_id, sent_at) VALUES ($1, $2, $3) RETURNING id`,
		message.ConversationID, message.SenderID, message.SentAt,
	).Scan(&message.ID)
	if err != nil {
		return errors.Wrap(err, "messageRepo.CreateWithDigests insert message")
	}

	for i := range digests {
		digests[i].MessageID = message.ID
		// The table check constraint enforces the same exclusivity, but a
		// bad recipient pair should never reach the database at all.
		if (digests[i].UserID == nil) == (digests[i].DeviceID == nil) {
			return errors.New("digest must target exactly one of user or device")
		}
		err = tx.QueryRow(ctx,
			`INSERT INTO digests (message_id, contents, user_id, device_id) VALUES ($1, $2, $3, $4) RETURNING id`,
			message.ID, digests[i].Contents, digests[i].UserID, digests[i].DeviceID,
		).Scan(&digests[i].ID)
		if err != nil {
			return errors.Wrap(err, "messageRepo.CreateWithDigests insert digest")
		}
	}

	return errors.Wrap(tx.Commit(ctx), "messageRepo.CreateWithDigests commit")
}

func (r *PostgresMessageRepository) ListForConversation(ctx context.Context, conversationID int64, filter DigestFilter) ([]*models.MessageView, error) {
	query := `SELECT u.username, d.contents, m.sent_at
	          FROM digests d
	          JOIN messages m ON m.id = d.message_id
	          JOIN users u ON u.id = m.sender_id
	          WHERE m.conversation_id = $1 AND ` + filter.clause() + `
	          ORDER BY m.sent_at DESC`

	rows, err := r.pool.Query(ctx, query, conversationID, filter.arg())
	if err != nil {
		return nil, errors.Wrap(err, "messageRepo.ListForConversation")
	}
	defer rows.Close()

	var views []*models.MessageView
	for rows.Next() {
		var view models.MessageView
		var sentAt time.Time
		if err := rows.Scan(&view.Sender, &view.Digest, &sentAt); err != nil {
			return nil, errors.Wrap(err, "messageRepo.ListForConversation scan")
		}
		view.Time = sentAt.UnixMilli()
		views = append(views, &view)
	}
	return views, errors.Wrap(rows.Err(), "messageRepo.ListForConversation rows")
}

func (r *PostgresMessageRepository) GetLastDigest(ctx context.Context, conversationID int64, filter DigestFilter) (string, error) {
	query := `SELECT d.contents
	          FROM digests d
	          JOIN messages m ON m.id = d.message_id
	          WHERE m.conversation_id = $1 AND ` + filter.clause() + `
	          ORDER BY m.sent_at DESC
	          LIMIT 1`

	var contents string
	err := r.pool.QueryRow(ctx, query, conversationID, filter.arg()).Scan(&contents)
	if errors.Is(err, pgx.ErrNoRows) {
		// A conversation with no messages yet is not an error.
		return "", nil
	}
	if err != nil {
		return "", errors.Wrap(err, "messageRepo.GetLastDigest")
	}
	return contents, nil
}

func (f DigestFilter) clause() string {
	if f.DeviceID != nil {
		return `d.device_id = $2`
	}
	return `d.user_id = $2`
}

func (f DigestFilter) arg() int64 {
	if f.DeviceID != nil {
		return *f.DeviceID
	}
	if f.UserID != nil {
		return *f.UserID
	}
	return 0
}
