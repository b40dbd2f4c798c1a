package alarms

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alarmify/internal/alarm"
)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresRepository(db), mock
}

func TestLoadSetDecodesPayloads(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	a := alarm.Alarm{ID: "a-1", Time: "07:00", PlaylistURI: "spotify:playlist:m", Volume: 80, LastModified: time.Now().UTC()}
	payload, err := json.Marshal(a)
	require.NoError(t, err)
	tomb := alarm.Tombstone{ID: "t-1", DeletedAt: time.Now().UTC()}
	tombPayload, err := json.Marshal(tomb)
	require.NoError(t, err)

	mock.ExpectQuery(`SELECT payload FROM cloud_alarms`).
		WithArgs("u-1").
		WillReturnRows(sqlmock.NewRows([]string{"payload"}).AddRow(string(payload)))
	mock.ExpectQuery(`SELECT payload FROM cloud_tombstones`).
		WithArgs("u-1").
		WillReturnRows(sqlmock.NewRows([]string{"payload"}).AddRow(string(tombPayload)))

	alarms, tombstones, err := repo.LoadSet(context.Background(), "u-1")
	require.NoError(t, err)
	require.Len(t, alarms, 1)
	assert.Equal(t, "a-1", alarms[0].ID)
	assert.Equal(t, 80, alarms[0].Volume)
	require.Len(t, tombstones, 1)
	assert.Equal(t, "t-1", tombstones[0].ID)
}

func TestReplaceSetDeletesThenInserts(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	a := alarm.Alarm{ID: "a-1", Time: "07:00", PlaylistURI: "spotify:playlist:m", Volume: 80, LastModified: time.Now()}
	tomb := alarm.Tombstone{ID: "t-1", DeletedAt: time.Now()}

	mock.ExpectExec(`DELETE FROM cloud_alarms`).WithArgs("u-1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM cloud_tombstones`).WithArgs("u-1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO cloud_alarms`).
		WithArgs("u-1", "a-1", sqlmock.AnyArg(), a.LastModified.UnixNano()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO cloud_tombstones`).
		WithArgs("u-1", "t-1", sqlmock.AnyArg(), tomb.DeletedAt.UnixNano()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.ReplaceSet(context.Background(), "u-1", []alarm.Alarm{a}, []alarm.Tombstone{tomb})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadSetEmptyUser(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectQuery(`SELECT payload FROM cloud_alarms`).
		WithArgs("u-1").
		WillReturnRows(sqlmock.NewRows([]string{"payload"}))
	mock.ExpectQuery(`SELECT payload FROM cloud_tombstones`).
		WithArgs("u-1").
		WillReturnRows(sqlmock.NewRows([]string{"payload"}))

	alarms, tombstones, err := repo.LoadSet(context.Background(), "u-1")
	require.NoError(t, err)
	assert.Empty(t, alarms)
	assert.Empty(t, tombstones)
}
