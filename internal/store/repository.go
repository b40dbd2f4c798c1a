package store

import (
	"context"

	"alarmify/internal/alarm"
)

// StoredAlarm pairs an alarm with its scheduler bookkeeping. LastFiredDate is
// a local "YYYY-MM-DD" key and never travels through sync.
type StoredAlarm struct {
	Alarm         alarm.Alarm
	LastFiredDate string
}

// Repository persists the alarm set, tombstones, and small metadata values
// (device identity). The Store writes through to it while holding its own
// lock; implementations do local I/O only.
type Repository interface {
	LoadAlarms(ctx context.Context) ([]StoredAlarm, error)
	LoadTombstones(ctx context.Context) ([]alarm.Tombstone, error)

	SaveAlarm(ctx context.Context, a alarm.Alarm, lastFiredDate string) error
	DeleteAlarm(ctx context.Context, id string) error
	SaveTombstone(ctx context.Context, t alarm.Tombstone) error
	SetLastFired(ctx context.Context, id, date string) error

	// ReplaceAll swaps the full persisted state in one transaction. Used by
	// the sync engine to commit a merged result atomically.
	ReplaceAll(ctx context.Context, alarms []StoredAlarm, tombstones []alarm.Tombstone) error

	// GetMeta returns common.ErrNotFound when the key is absent.
	GetMeta(ctx context.Context, key string) (string, error)
	SetMeta(ctx context.Context, key, value string) error
}
