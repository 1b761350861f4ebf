package repositories

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"veilchat/internal/models"
)

type PostgresDeviceRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresDeviceRepository(pool *pgxpool.Pool) *PostgresDeviceRepository {
	return &PostgresDeviceRepository{pool: pool}
}

func (r *PostgresDeviceRepository) Create(ctx context.Context, device *models.Device) error {
	query := `INSERT INTO devices (user_id, name, public_key)
	          VALUES ($1, $2, $3)
	          RETURNING id`

	err := r.pool.QueryRow(ctx, query, device.UserID, device.Name, device.PublicKey).Scan(&device.ID)
	if err != nil {
		return errors.Wrap(err, "deviceRepo.Create")
	}
	return nil
}

func (r *PostgresDeviceRepository) GetByUserAndKey(ctx context.Context, userID int64, publicKey string) (*models.Device, error) {
	query := `SELECT id, user_id, name, public_key FROM devices
	          WHERE user_id = $1 AND public_key = $2`

	var device models.Device
	err := r.pool.QueryRow(ctx, query, userID, publicKey).Scan(
		&device.ID, &device.UserID, &device.Name, &device.PublicKey,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "deviceRepo.GetByUserAndKey")
	}
	return &device, nil
}

// ListByConversation returns every device owned by any member of the
// conversation; this is the device half of the roster.
func (r *PostgresDeviceRepository) ListByConversation(ctx context.Context, conversationID int64) ([]*models.Device, error) {
	query := `SELECT d.id, d.user_id, d.name, d.public_key
	          FROM devices d
	          JOIN memberships m ON m.user_id = d.user_id
	          WHERE m.conversation_id = $1
	          ORDER BY d.id`

	rows, err := r.pool.Query(ctx, query, conversationID)
	if err != nil {
		return nil, errors.Wrap(err, "deviceRepo.ListByConversation")
	}
	defer rows.Close()

	var devices []*models.Device
	for rows.Next() {
		var device models.Device
		if err := rows.Scan(&device.ID, &device.UserID, &device.Name, &device.PublicKey); err != nil {
			return nil, errors.Wrap(err, "deviceRepo.ListByConversation scan")
		}
		devices = append(devices, &device)
	}
	return devices, errors.Wrap(rows.Err(), "deviceRepo.ListByConversation rows")
}
