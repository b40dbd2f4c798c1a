package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"alarmify/internal/alarm"
	"alarmify/internal/dbx"
	"alarmify/internal/server/models"
	"alarmify/internal/server/repositories/repomanager"
	"alarmify/internal/syncengine"
)

const historyLimit = 10

// SyncService owns the cloud side of alarm exchange: full backups, restores,
// and merge-based syncs.
type SyncService struct {
	db    *sql.DB
	repos repomanager.Manager
	grace time.Duration
	now   func() time.Time
}

// NewSyncService constructs a SyncService with the given tombstone grace
// window.
func NewSyncService(db *sql.DB, repos repomanager.Manager, grace time.Duration) *SyncService {
	return &SyncService{
		db:    db,
		repos: repos,
		grace: grace,
		now:   time.Now,
	}
}

// Backup replaces the user's stored alarm set with the uploaded one.
func (s *SyncService) Backup(ctx context.Context, userID, deviceID string, alarms []alarm.Alarm) error {
	return dbx.WithTx(ctx, s.db, func(ctx context.Context, tx dbx.DBTX) error {
		_, tombs, err := s.repos.Alarms(tx).LoadSet(ctx, userID)
		if err != nil {
			return err
		}
		if err := s.repos.Alarms(tx).ReplaceSet(ctx, userID, alarms, tombs); err != nil {
			return err
		}
		return s.repos.SyncHistory(tx).Record(ctx, models.SyncHistoryEntry{
			UserID:     userID,
			DeviceID:   deviceID,
			Operation:  "backup",
			AlarmCount: len(alarms),
			SyncedAt:   s.now(),
		})
	})
}

// Restore returns the user's stored alarm set.
func (s *SyncService) Restore(ctx context.Context, userID string) ([]alarm.Alarm, error) {
	alarms, _, err := s.repos.Alarms(s.db).LoadSet(ctx, userID)
	if err != nil {
		return nil, err
	}
	return alarms, nil
}

// Sync merges the uploaded set against the stored one, persists the merged
// result, and returns it. The stored copy takes the tie-breaking "local" role
// in the merge; the whole exchange is one transaction, so a failed sync
// leaves the stored set untouched.
func (s *SyncService) Sync(ctx context.Context, userID, deviceID string, incoming []alarm.Alarm, incomingTombs []alarm.Tombstone) (syncengine.Result, error) {
	var merged syncengine.Result
	err := dbx.WithTx(ctx, s.db, func(ctx context.Context, tx dbx.DBTX) error {
		stored, storedTombs, err := s.repos.Alarms(tx).LoadSet(ctx, userID)
		if err != nil {
			return err
		}

		merged = syncengine.Merge(stored, storedTombs, incoming, incomingTombs, s.now(), s.grace)

		if err := s.repos.Alarms(tx).ReplaceSet(ctx, userID, merged.Alarms, merged.Tombstones); err != nil {
			return err
		}
		if err := s.repos.Devices(tx).UpdateLastSync(ctx, userID, deviceID, s.now()); err != nil {
			return err
		}
		return s.repos.SyncHistory(tx).Record(ctx, models.SyncHistoryEntry{
			UserID:        userID,
			DeviceID:      deviceID,
			Operation:     "sync",
			AlarmCount:    len(merged.Alarms),
			ConflictCount: len(merged.Conflicts),
			SyncedAt:      s.now(),
		})
	})
	if err != nil {
		return syncengine.Result{}, fmt.Errorf("sync transaction: %w", err)
	}
	return merged, nil
}

// RegisterDevice upserts a device in the user's registry.
func (s *SyncService) RegisterDevice(ctx context.Context, userID string, d alarm.Device) error {
	return s.repos.Devices(s.db).Upsert(ctx, userID, d)
}

// Devices lists the user's registered devices.
func (s *SyncService) Devices(ctx context.Context, userID string) ([]alarm.Device, error) {
	return s.repos.Devices(s.db).List(ctx, userID)
}

// History returns the user's most recent sync audit rows.
func (s *SyncService) History(ctx context.Context, userID string) ([]models.SyncHistoryEntry, error) {
	return s.repos.SyncHistory(s.db).List(ctx, userID, historyLimit)
}
