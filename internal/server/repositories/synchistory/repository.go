package synchistory

import (
	"context"

	"alarmify/internal/server/models"
)

// Repository stores per-user sync audit rows.
type Repository interface {
	Record(ctx context.Context, e models.SyncHistoryEntry) error
	List(ctx context.Context, userID string, limit int) ([]models.SyncHistoryEntry, error)
}
