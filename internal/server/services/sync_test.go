package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alarmify/internal/alarm"
	"alarmify/internal/syncengine"
)

func newSyncService(t *testing.T, txCount int) (*SyncService, *fakeManager) {
	t.Helper()
	repos := newFakeManager()
	db := newTxDB(t, txCount)
	return NewSyncService(db, repos, syncengine.DefaultGraceWindow), repos
}

func serverAlarm(id string, volume int, modified time.Time) alarm.Alarm {
	return alarm.Alarm{
		ID:           id,
		Time:         "07:00",
		PlaylistURI:  "spotify:playlist:m",
		Volume:       volume,
		Active:       true,
		LastModified: modified,
	}
}

func TestBackupAndRestore(t *testing.T) {
	s, _ := newSyncService(t, 1)
	ctx := context.Background()

	set := []alarm.Alarm{
		serverAlarm("a-1", 80, time.Now()),
		serverAlarm("a-2", 50, time.Now()),
	}
	require.NoError(t, s.Backup(ctx, "u-1", "dev-1", set))

	restored, err := s.Restore(ctx, "u-1")
	require.NoError(t, err)
	assert.Len(t, restored, 2)

	history, err := s.History(ctx, "u-1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "backup", history[0].Operation)
	assert.Equal(t, 2, history[0].AlarmCount)

	// Another user's restore stays empty.
	other, err := s.Restore(ctx, "u-2")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestSyncMergesAndPersists(t *testing.T) {
	s, repos := newSyncService(t, 1)
	ctx := context.Background()

	t1 := time.Now().Add(-2 * time.Hour)
	t2 := time.Now().Add(-time.Hour)
	repos.alarms.alarms["u-1"] = []alarm.Alarm{serverAlarm("r", 50, t1)}
	repos.devices.devices["u-1"] = []alarm.Device{{DeviceID: "dev-1", Name: "phone"}}

	incoming := []alarm.Alarm{
		serverAlarm("r", 90, t2),
		serverAlarm("q", 30, t2),
	}
	merged, err := s.Sync(ctx, "u-1", "dev-1", incoming, nil)
	require.NoError(t, err)

	require.Len(t, merged.Alarms, 2)
	byID := map[string]alarm.Alarm{}
	for _, a := range merged.Alarms {
		byID[a.ID] = a
	}
	assert.Equal(t, 90, byID["r"].Volume, "the newer edit wins")
	assert.Equal(t, 30, byID["q"].Volume)
	require.Len(t, merged.Conflicts, 1)
	assert.Equal(t, 50, merged.Conflicts[0].Loser.Volume)

	// The merged set is persisted, the device's sync time updated, and an
	// audit row recorded.
	stored, _, err := repos.alarms.LoadSet(ctx, "u-1")
	require.NoError(t, err)
	assert.Len(t, stored, 2)
	assert.False(t, repos.devices.devices["u-1"][0].LastSyncAt.IsZero())

	history, err := s.History(ctx, "u-1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "sync", history[0].Operation)
	assert.Equal(t, 1, history[0].ConflictCount)
}

func TestSyncDeletionPropagates(t *testing.T) {
	s, repos := newSyncService(t, 1)
	ctx := context.Background()

	repos.alarms.alarms["u-1"] = []alarm.Alarm{serverAlarm("r", 50, time.Now().Add(-2*time.Hour))}

	tomb := alarm.Tombstone{ID: "r", DeletedAt: time.Now().Add(-time.Hour)}
	merged, err := s.Sync(ctx, "u-1", "dev-1", nil, []alarm.Tombstone{tomb})
	require.NoError(t, err)

	assert.Empty(t, merged.Alarms)
	require.Len(t, merged.Tombstones, 1)

	stored, storedTombs, err := repos.alarms.LoadSet(ctx, "u-1")
	require.NoError(t, err)
	assert.Empty(t, stored)
	assert.Len(t, storedTombs, 1)
}

func TestRegisterDeviceAndList(t *testing.T) {
	s, _ := newSyncService(t, 0)
	ctx := context.Background()

	d := alarm.Device{DeviceID: "dev-1", Name: "bedroom-pi", PlatformTag: "linux"}
	require.NoError(t, s.RegisterDevice(ctx, "u-1", d))
	// Re-registering refreshes rather than duplicates.
	d.Name = "kitchen-pi"
	require.NoError(t, s.RegisterDevice(ctx, "u-1", d))

	devices, err := s.Devices(ctx, "u-1")
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, "kitchen-pi", devices[0].Name)
}
