package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"alarmify/internal/alarm"
	"alarmify/internal/common"
	"alarmify/internal/dbx"
	"alarmify/internal/store/migrations"
)

// Open opens the client database and applies the embedded migrations.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return nil, fmt.Errorf("setting goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "."); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return db, nil
}

// SQLiteRepository implements Repository on the client database.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository binds a repository to an open database handle.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func scanAlarm(rows *sql.Rows) (StoredAlarm, error) {
	var (
		sa                      StoredAlarm
		days                    string
		fadeIn, active          int
		createdAt, lastModified int64
	)
	err := rows.Scan(&sa.Alarm.ID, &sa.Alarm.Time, &days, &sa.Alarm.PlaylistName,
		&sa.Alarm.PlaylistURI, &sa.Alarm.Volume, &fadeIn, &sa.Alarm.FadeInMinutes,
		&active, &createdAt, &lastModified, &sa.Alarm.OriginDevice, &sa.LastFiredDate)
	if err != nil {
		return StoredAlarm{}, err
	}
	if err := json.Unmarshal([]byte(days), &sa.Alarm.Days); err != nil {
		return StoredAlarm{}, fmt.Errorf("decoding days for alarm %s: %w", sa.Alarm.ID, err)
	}
	if len(sa.Alarm.Days) == 0 {
		sa.Alarm.Days = nil
	}
	sa.Alarm.FadeIn = fadeIn != 0
	sa.Alarm.Active = active != 0
	sa.Alarm.CreatedAt = time.Unix(0, createdAt)
	sa.Alarm.LastModified = time.Unix(0, lastModified)
	return sa, nil
}

const alarmColumns = `id, time, days, playlist_name, playlist_uri, volume,
	fade_in, fade_in_minutes, active, created_at, last_modified, origin_device, last_fired_date`

// LoadAlarms returns every persisted alarm with its fire bookkeeping.
func (r *SQLiteRepository) LoadAlarms(ctx context.Context) ([]StoredAlarm, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+alarmColumns+` FROM alarms`)
	if err != nil {
		return nil, fmt.Errorf("selecting alarms: %w", err)
	}
	defer rows.Close()

	var result []StoredAlarm
	for rows.Next() {
		sa, err := scanAlarm(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, sa)
	}
	return result, rows.Err()
}

// LoadTombstones returns every persisted tombstone.
func (r *SQLiteRepository) LoadTombstones(ctx context.Context) ([]alarm.Tombstone, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, deleted_at, observed FROM tombstones`)
	if err != nil {
		return nil, fmt.Errorf("selecting tombstones: %w", err)
	}
	defer rows.Close()

	var result []alarm.Tombstone
	for rows.Next() {
		var (
			t         alarm.Tombstone
			deletedAt int64
			observed  int
		)
		if err := rows.Scan(&t.ID, &deletedAt, &observed); err != nil {
			return nil, err
		}
		t.DeletedAt = time.Unix(0, deletedAt)
		t.Observed = observed != 0
		result = append(result, t)
	}
	return result, rows.Err()
}

func saveAlarm(ctx context.Context, db dbx.DBTX, a alarm.Alarm, lastFiredDate string) error {
	days := a.Days
	if days == nil {
		days = []alarm.Weekday{}
	}
	encoded, err := json.Marshal(days)
	if err != nil {
		return fmt.Errorf("encoding days: %w", err)
	}

	query := `INSERT INTO alarms (` + alarmColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			time = excluded.time,
			days = excluded.days,
			playlist_name = excluded.playlist_name,
			playlist_uri = excluded.playlist_uri,
			volume = excluded.volume,
			fade_in = excluded.fade_in,
			fade_in_minutes = excluded.fade_in_minutes,
			active = excluded.active,
			created_at = excluded.created_at,
			last_modified = excluded.last_modified,
			origin_device = excluded.origin_device,
			last_fired_date = excluded.last_fired_date`
	_, err = db.ExecContext(ctx, query,
		a.ID, a.Time, string(encoded), a.PlaylistName, a.PlaylistURI, a.Volume,
		boolToInt(a.FadeIn), a.FadeInMinutes, boolToInt(a.Active),
		a.CreatedAt.UnixNano(), a.LastModified.UnixNano(), a.OriginDevice, lastFiredDate)
	if err != nil {
		return fmt.Errorf("upserting alarm: %w", err)
	}
	return nil
}

func saveTombstone(ctx context.Context, db dbx.DBTX, t alarm.Tombstone) error {
	query := `INSERT INTO tombstones (id, deleted_at, observed) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			deleted_at = excluded.deleted_at,
			observed = excluded.observed`
	_, err := db.ExecContext(ctx, query, t.ID, t.DeletedAt.UnixNano(), boolToInt(t.Observed))
	if err != nil {
		return fmt.Errorf("upserting tombstone: %w", err)
	}
	return nil
}

// SaveAlarm upserts one alarm row.
func (r *SQLiteRepository) SaveAlarm(ctx context.Context, a alarm.Alarm, lastFiredDate string) error {
	return saveAlarm(ctx, r.db, a, lastFiredDate)
}

// DeleteAlarm removes an alarm row; missing rows are ignored.
func (r *SQLiteRepository) DeleteAlarm(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM alarms WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting alarm: %w", err)
	}
	return nil
}

// SaveTombstone upserts one tombstone row.
func (r *SQLiteRepository) SaveTombstone(ctx context.Context, t alarm.Tombstone) error {
	return saveTombstone(ctx, r.db, t)
}

// SetLastFired updates the fire-dedupe date for one alarm.
func (r *SQLiteRepository) SetLastFired(ctx context.Context, id, date string) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE alarms SET last_fired_date = ? WHERE id = ?`, date, id); err != nil {
		return fmt.Errorf("updating fire mark: %w", err)
	}
	return nil
}

// ReplaceAll swaps the persisted alarm and tombstone sets in one transaction.
func (r *SQLiteRepository) ReplaceAll(ctx context.Context, alarms []StoredAlarm, tombstones []alarm.Tombstone) error {
	return dbx.WithTx(ctx, r.db, func(ctx context.Context, tx dbx.DBTX) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM alarms`); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM tombstones`); err != nil {
			return err
		}
		for _, sa := range alarms {
			if err := saveAlarm(ctx, tx, sa.Alarm, sa.LastFiredDate); err != nil {
				return err
			}
		}
		for _, t := range tombstones {
			if err := saveTombstone(ctx, tx, t); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetMeta reads one metadata value.
func (r *SQLiteRepository) GetMeta(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx, `SELECT value FROM metadata WHERE key = ?`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", common.ErrNotFound
		}
		return "", fmt.Errorf("selecting metadata: %w", err)
	}
	return value, nil
}

// SetMeta upserts one metadata value.
func (r *SQLiteRepository) SetMeta(ctx context.Context, key, value string) error {
	query := `INSERT INTO metadata (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`
	if _, err := r.db.ExecContext(ctx, query, key, value); err != nil {
		return fmt.Errorf("upserting metadata: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
