package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alarmify/internal/alarm"
	"alarmify/internal/common"
	"alarmify/internal/logging"
)

func setupRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	db, err := Open(context.Background(), "file:"+t.Name()+"?mode=memory&cache=shared")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return NewSQLiteRepository(db)
}

func TestSQLiteAlarmRoundTrip(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	a := alarm.Alarm{
		ID:            "a1",
		Time:          "07:00",
		Days:          []alarm.Weekday{alarm.Monday, alarm.Friday},
		PlaylistName:  "Morning Mix",
		PlaylistURI:   "spotify:playlist:morning",
		Volume:        80,
		FadeIn:        true,
		FadeInMinutes: 5,
		Active:        true,
		CreatedAt:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		LastModified:  time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC),
		OriginDevice:  "dev-1",
	}
	require.NoError(t, repo.SaveAlarm(ctx, a, "2026-03-02"))

	loaded, err := repo.LoadAlarms(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "2026-03-02", loaded[0].LastFiredDate)
	got := loaded[0].Alarm
	assert.Equal(t, a.Days, got.Days)
	assert.True(t, got.CreatedAt.Equal(a.CreatedAt))
	assert.True(t, got.LastModified.Equal(a.LastModified))
	got.CreatedAt, got.LastModified = a.CreatedAt, a.LastModified
	assert.Equal(t, a, got)
}

func TestSQLiteDeleteAndTombstones(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	a := alarm.Alarm{ID: "a1", Time: "07:00", PlaylistURI: "spotify:playlist:x", Volume: 50,
		CreatedAt: time.Now(), LastModified: time.Now()}
	require.NoError(t, repo.SaveAlarm(ctx, a, ""))
	require.NoError(t, repo.DeleteAlarm(ctx, "a1"))

	loaded, err := repo.LoadAlarms(ctx)
	require.NoError(t, err)
	assert.Empty(t, loaded)

	tomb := alarm.Tombstone{ID: "a1", DeletedAt: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC), Observed: true}
	require.NoError(t, repo.SaveTombstone(ctx, tomb))

	tombs, err := repo.LoadTombstones(ctx)
	require.NoError(t, err)
	require.Len(t, tombs, 1)
	assert.True(t, tombs[0].DeletedAt.Equal(tomb.DeletedAt))
	assert.True(t, tombs[0].Observed)
}

func TestSQLiteReplaceAll(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	old := alarm.Alarm{ID: "old", Time: "06:00", PlaylistURI: "spotify:playlist:old", Volume: 10,
		CreatedAt: time.Now(), LastModified: time.Now()}
	require.NoError(t, repo.SaveAlarm(ctx, old, ""))

	merged := []StoredAlarm{
		{Alarm: alarm.Alarm{ID: "n1", Time: "07:00", PlaylistURI: "spotify:playlist:n1", Volume: 80,
			CreatedAt: time.Now(), LastModified: time.Now()}, LastFiredDate: "2026-03-02"},
		{Alarm: alarm.Alarm{ID: "n2", Time: "08:00", PlaylistURI: "spotify:playlist:n2", Volume: 60,
			CreatedAt: time.Now(), LastModified: time.Now()}},
	}
	tombs := []alarm.Tombstone{{ID: "old", DeletedAt: time.Now()}}
	require.NoError(t, repo.ReplaceAll(ctx, merged, tombs))

	loaded, err := repo.LoadAlarms(ctx)
	require.NoError(t, err)
	assert.Len(t, loaded, 2)

	loadedTombs, err := repo.LoadTombstones(ctx)
	require.NoError(t, err)
	require.Len(t, loadedTombs, 1)
	assert.Equal(t, "old", loadedTombs[0].ID)
}

func TestSQLiteMeta(t *testing.T) {
	repo := setupRepo(t)
	ctx := context.Background()

	_, err := repo.GetMeta(ctx, "device_id")
	assert.ErrorIs(t, err, common.ErrNotFound)

	require.NoError(t, repo.SetMeta(ctx, "device_id", "abc"))
	require.NoError(t, repo.SetMeta(ctx, "device_id", "def"))

	v, err := repo.GetMeta(ctx, "device_id")
	require.NoError(t, err)
	assert.Equal(t, "def", v)
}

func TestStoreWithSQLiteSurvivesReload(t *testing.T) {
	db, err := Open(context.Background(), "file:"+t.Name()+"?mode=memory&cache=shared")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	t.Cleanup(func() { _ = db.Close() })

	repo := NewSQLiteRepository(db)
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 7, 0, 0, 0, time.Local)

	s := New(repo, logging.NewDiscard(), WithClock(func() time.Time { return now }))
	a, err := s.Upsert(ctx, alarm.Alarm{Time: "07:00", PlaylistURI: "spotify:playlist:x", Volume: 80, Active: true})
	require.NoError(t, err)
	s.MarkFired(ctx, a.ID, now)

	reloaded := New(repo, logging.NewDiscard(), WithClock(func() time.Time { return now }))
	require.NoError(t, reloaded.Load(ctx))
	assert.Len(t, reloaded.List(), 1)
	assert.Empty(t, reloaded.FindDue(now), "fire mark must survive a reload")
}
