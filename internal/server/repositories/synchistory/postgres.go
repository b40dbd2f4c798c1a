package synchistory

import (
	"context"
	"fmt"
	"time"

	"alarmify/internal/dbx"
	"alarmify/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Record(ctx context.Context, e models.SyncHistoryEntry) error {
	query := `INSERT INTO sync_history (user_id, device_id, operation, alarm_count, conflict_count, synced_at)
	          VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := r.db.ExecContext(ctx, query,
		e.UserID, e.DeviceID, e.Operation, e.AlarmCount, e.ConflictCount, e.SyncedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) List(ctx context.Context, userID string, limit int) ([]models.SyncHistoryEntry, error) {
	query := `SELECT id, user_id, device_id, operation, alarm_count, conflict_count, synced_at FROM sync_history
	          WHERE user_id = $1
	          ORDER BY synced_at DESC
	          LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var entries []models.SyncHistoryEntry
	for rows.Next() {
		var e models.SyncHistoryEntry
		var syncedAt int64
		if err := rows.Scan(&e.ID, &e.UserID, &e.DeviceID, &e.Operation, &e.AlarmCount, &e.ConflictCount, &syncedAt); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		e.SyncedAt = time.Unix(0, syncedAt)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return entries, nil
}
