package alarms

import (
	"context"
	"encoding/json"
	"fmt"

	"alarmify/internal/alarm"
	"alarmify/internal/dbx"
)

// PostgresRepository stores alarms as JSON documents keyed by (user, alarm).
// The merge logic never queries inside an alarm, so the payload stays opaque
// to the database.
type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) LoadSet(ctx context.Context, userID string) ([]alarm.Alarm, []alarm.Tombstone, error) {
	query := `SELECT payload FROM cloud_alarms
	          WHERE user_id = $1
	          ORDER BY alarm_id`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var alarms []alarm.Alarm
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, nil, fmt.Errorf("db error: %w", err)
		}
		var a alarm.Alarm
		if err := json.Unmarshal([]byte(payload), &a); err != nil {
			return nil, nil, fmt.Errorf("decoding alarm payload: %w", err)
		}
		alarms = append(alarms, a)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("db error: %w", err)
	}

	tombstones, err := r.loadTombstones(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	return alarms, tombstones, nil
}

func (r *PostgresRepository) loadTombstones(ctx context.Context, userID string) ([]alarm.Tombstone, error) {
	query := `SELECT payload FROM cloud_tombstones
	          WHERE user_id = $1
	          ORDER BY alarm_id`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var tombstones []alarm.Tombstone
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		var t alarm.Tombstone
		if err := json.Unmarshal([]byte(payload), &t); err != nil {
			return nil, fmt.Errorf("decoding tombstone payload: %w", err)
		}
		tombstones = append(tombstones, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return tombstones, nil
}

// ReplaceSet swaps the user's stored set wholesale. Callers run it inside a
// transaction so a failed replace never leaves a partial set.
func (r *PostgresRepository) ReplaceSet(ctx context.Context, userID string, alarms []alarm.Alarm, tombstones []alarm.Tombstone) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM cloud_alarms WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, `DELETE FROM cloud_tombstones WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	for _, a := range alarms {
		payload, err := json.Marshal(a)
		if err != nil {
			return fmt.Errorf("encoding alarm payload: %w", err)
		}
		query := `INSERT INTO cloud_alarms (user_id, alarm_id, payload, last_modified)
		          VALUES ($1, $2, $3, $4)`
		if _, err := r.db.ExecContext(ctx, query, userID, a.ID, string(payload), a.LastModified.UnixNano()); err != nil {
			return fmt.Errorf("db error: %w", err)
		}
	}

	for _, t := range tombstones {
		payload, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("encoding tombstone payload: %w", err)
		}
		query := `INSERT INTO cloud_tombstones (user_id, alarm_id, payload, deleted_at)
		          VALUES ($1, $2, $3, $4)`
		if _, err := r.db.ExecContext(ctx, query, userID, t.ID, string(payload), t.DeletedAt.UnixNano()); err != nil {
			return fmt.Errorf("db error: %w", err)
		}
	}
	return nil
}
