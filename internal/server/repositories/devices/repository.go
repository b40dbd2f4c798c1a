package devices

import (
	"context"
	"time"

	"alarmify/internal/alarm"
)

// Repository stores each user's registered devices.
type Repository interface {
	Upsert(ctx context.Context, userID string, d alarm.Device) error
	List(ctx context.Context, userID string) ([]alarm.Device, error)
	UpdateLastSync(ctx context.Context, userID, deviceID string, at time.Time) error
}
