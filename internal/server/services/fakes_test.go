package services

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"alarmify/internal/alarm"
	"alarmify/internal/common"
	"alarmify/internal/dbx"
	"alarmify/internal/server/models"
	"alarmify/internal/server/repositories/alarms"
	"alarmify/internal/server/repositories/devices"
	"alarmify/internal/server/repositories/refreshtokens"
	"alarmify/internal/server/repositories/synchistory"
	"alarmify/internal/server/repositories/users"
)

// fakeManager hands out in-memory repositories regardless of the database
// handle, so service logic is exercised without SQL.
type fakeManager struct {
	users   *fakeUserRepo
	tokens  *fakeTokenRepo
	alarms  *fakeAlarmRepo
	devices *fakeDeviceRepo
	history *fakeHistoryRepo
}

func newFakeManager() *fakeManager {
	return &fakeManager{
		users:   &fakeUserRepo{byEmail: map[string]*models.User{}},
		tokens:  &fakeTokenRepo{tokens: map[string]models.RefreshToken{}},
		alarms:  &fakeAlarmRepo{alarms: map[string][]alarm.Alarm{}, tombs: map[string][]alarm.Tombstone{}},
		devices: &fakeDeviceRepo{devices: map[string][]alarm.Device{}},
		history: &fakeHistoryRepo{},
	}
}

func (m *fakeManager) Users(dbx.DBTX) users.Repository                 { return m.users }
func (m *fakeManager) RefreshTokens(dbx.DBTX) refreshtokens.Repository { return m.tokens }
func (m *fakeManager) Alarms(dbx.DBTX) alarms.Repository               { return m.alarms }
func (m *fakeManager) Devices(dbx.DBTX) devices.Repository             { return m.devices }
func (m *fakeManager) SyncHistory(dbx.DBTX) synchistory.Repository     { return m.history }

type fakeUserRepo struct {
	byEmail map[string]*models.User
	nextID  int
}

func (r *fakeUserRepo) Create(ctx context.Context, u *models.User) (*models.User, error) {
	if _, ok := r.byEmail[u.Email]; ok {
		return nil, common.ErrAlreadyExists
	}
	r.nextID++
	u.ID = fmt.Sprintf("u-%d", r.nextID)
	u.CreatedAt = time.Now()
	r.byEmail[u.Email] = u
	return u, nil
}

func (r *fakeUserRepo) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	u, ok := r.byEmail[email]
	if !ok {
		return nil, common.ErrNotFound
	}
	return u, nil
}

func (r *fakeUserRepo) GetByID(ctx context.Context, id string) (*models.User, error) {
	for _, u := range r.byEmail {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, common.ErrNotFound
}

type fakeTokenRepo struct {
	tokens map[string]models.RefreshToken
}

func (r *fakeTokenRepo) Create(ctx context.Context, userID, token string, validity time.Duration) error {
	r.tokens[token] = models.RefreshToken{Token: token, UserID: userID, Expires: time.Now().Add(validity)}
	return nil
}

func (r *fakeTokenRepo) Find(ctx context.Context, token string) (*models.RefreshToken, error) {
	rt, ok := r.tokens[token]
	if !ok {
		return nil, common.ErrNotFound
	}
	return &rt, nil
}

func (r *fakeTokenRepo) Delete(ctx context.Context, token string) error {
	delete(r.tokens, token)
	return nil
}

type fakeAlarmRepo struct {
	alarms map[string][]alarm.Alarm
	tombs  map[string][]alarm.Tombstone
}

func (r *fakeAlarmRepo) LoadSet(ctx context.Context, userID string) ([]alarm.Alarm, []alarm.Tombstone, error) {
	return r.alarms[userID], r.tombs[userID], nil
}

func (r *fakeAlarmRepo) ReplaceSet(ctx context.Context, userID string, a []alarm.Alarm, t []alarm.Tombstone) error {
	r.alarms[userID] = a
	r.tombs[userID] = t
	return nil
}

type fakeDeviceRepo struct {
	devices map[string][]alarm.Device
}

func (r *fakeDeviceRepo) Upsert(ctx context.Context, userID string, d alarm.Device) error {
	for i, existing := range r.devices[userID] {
		if existing.DeviceID == d.DeviceID {
			r.devices[userID][i] = d
			return nil
		}
	}
	r.devices[userID] = append(r.devices[userID], d)
	return nil
}

func (r *fakeDeviceRepo) List(ctx context.Context, userID string) ([]alarm.Device, error) {
	return r.devices[userID], nil
}

func (r *fakeDeviceRepo) UpdateLastSync(ctx context.Context, userID, deviceID string, at time.Time) error {
	for i, d := range r.devices[userID] {
		if d.DeviceID == deviceID {
			r.devices[userID][i].LastSyncAt = at
		}
	}
	return nil
}

type fakeHistoryRepo struct {
	entries []models.SyncHistoryEntry
}

func (r *fakeHistoryRepo) Record(ctx context.Context, e models.SyncHistoryEntry) error {
	r.entries = append(r.entries, e)
	return nil
}

func (r *fakeHistoryRepo) List(ctx context.Context, userID string, limit int) ([]models.SyncHistoryEntry, error) {
	var out []models.SyncHistoryEntry
	for i := len(r.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if r.entries[i].UserID == userID {
			out = append(out, r.entries[i])
		}
	}
	return out, nil
}

// newTxDB returns a database handle that accepts n begin/commit pairs. The
// fakes ignore the transaction handle, so only the lifecycle is mocked.
func newTxDB(t *testing.T, n int) *sql.DB {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	for i := 0; i < n; i++ {
		mock.ExpectBegin()
		mock.ExpectCommit()
	}
	return db
}
