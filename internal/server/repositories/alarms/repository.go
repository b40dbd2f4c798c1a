package alarms

import (
	"context"

	"alarmify/internal/alarm"
)

// Repository stores each user's cloud copy of the alarm set and its
// tombstones.
type Repository interface {
	LoadSet(ctx context.Context, userID string) ([]alarm.Alarm, []alarm.Tombstone, error)
	ReplaceSet(ctx context.Context, userID string, alarms []alarm.Alarm, tombstones []alarm.Tombstone) error
}
