package devices

import (
	"context"
	"fmt"
	"time"

	"alarmify/internal/alarm"
	"alarmify/internal/dbx"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Upsert registers a device, refreshing its name and platform tag when it is
// already known.
func (r *PostgresRepository) Upsert(ctx context.Context, userID string, d alarm.Device) error {
	registeredAt := d.RegisteredAt
	if registeredAt.IsZero() {
		registeredAt = time.Now()
	}

	query := `INSERT INTO devices (user_id, device_id, name, platform_tag, registered_at, last_sync_at)
	          VALUES ($1, $2, $3, $4, $5, 0)
	          ON CONFLICT (user_id, device_id)
	          DO UPDATE SET name = $3, platform_tag = $4`

	if _, err := r.db.ExecContext(ctx, query, userID, d.DeviceID, d.Name, d.PlatformTag, registeredAt.UnixNano()); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) List(ctx context.Context, userID string) ([]alarm.Device, error) {
	query := `SELECT device_id, name, platform_tag, registered_at, last_sync_at FROM devices
	          WHERE user_id = $1
	          ORDER BY registered_at`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var devices []alarm.Device
	for rows.Next() {
		var d alarm.Device
		var registeredAt, lastSyncAt int64
		if err := rows.Scan(&d.DeviceID, &d.Name, &d.PlatformTag, &registeredAt, &lastSyncAt); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		d.RegisteredAt = time.Unix(0, registeredAt)
		if lastSyncAt > 0 {
			d.LastSyncAt = time.Unix(0, lastSyncAt)
		}
		devices = append(devices, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return devices, nil
}

func (r *PostgresRepository) UpdateLastSync(ctx context.Context, userID, deviceID string, at time.Time) error {
	query := `UPDATE devices SET last_sync_at = $3
	          WHERE user_id = $1 AND device_id = $2`

	if _, err := r.db.ExecContext(ctx, query, userID, deviceID, at.UnixNano()); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}
