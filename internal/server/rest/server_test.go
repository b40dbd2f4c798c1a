package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alarmify/internal/alarm"
	"alarmify/internal/common"
	"alarmify/internal/logging"
	"alarmify/internal/server/auth"
	"alarmify/internal/server/models"
	"alarmify/internal/server/services"
	"alarmify/internal/syncengine"
)

const testSecret = "test-secret"

type fakeUsers struct {
	registerErr error
	loginErr    error
	refreshErr  error
	user        models.User
}

func (f *fakeUsers) Register(ctx context.Context, email, password string) (*models.User, error) {
	if f.registerErr != nil {
		return nil, f.registerErr
	}
	u := f.user
	u.Email = email
	return &u, nil
}

func (f *fakeUsers) Login(ctx context.Context, email, password string) (*models.User, *services.TokenPair, error) {
	if f.loginErr != nil {
		return nil, nil, f.loginErr
	}
	access, err := auth.GenerateToken(f.user.ID, []byte(testSecret), time.Minute)
	if err != nil {
		return nil, nil, err
	}
	u := f.user
	return &u, &services.TokenPair{AccessToken: access, RefreshToken: "refresh-1", ExpiresAt: time.Now().Add(time.Minute)}, nil
}

func (f *fakeUsers) RefreshToken(ctx context.Context, refreshToken string) (*services.TokenPair, error) {
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	return &services.TokenPair{AccessToken: "access-2", RefreshToken: "refresh-2", ExpiresAt: time.Now().Add(time.Minute)}, nil
}

func (f *fakeUsers) GetUser(ctx context.Context, userID string) (*models.User, error) {
	if userID != f.user.ID {
		return nil, common.ErrNotFound
	}
	u := f.user
	return &u, nil
}

type fakeSync struct {
	result     syncengine.Result
	gotUserID  string
	gotAlarms  []alarm.Alarm
	registered []alarm.Device
}

func (f *fakeSync) Backup(ctx context.Context, userID, deviceID string, alarms []alarm.Alarm) error {
	f.gotUserID = userID
	f.gotAlarms = alarms
	return nil
}

func (f *fakeSync) Restore(ctx context.Context, userID string) ([]alarm.Alarm, error) {
	return f.gotAlarms, nil
}

func (f *fakeSync) Sync(ctx context.Context, userID, deviceID string, alarms []alarm.Alarm, tombstones []alarm.Tombstone) (syncengine.Result, error) {
	f.gotUserID = userID
	f.gotAlarms = alarms
	return f.result, nil
}

func (f *fakeSync) RegisterDevice(ctx context.Context, userID string, d alarm.Device) error {
	f.registered = append(f.registered, d)
	return nil
}

func (f *fakeSync) Devices(ctx context.Context, userID string) ([]alarm.Device, error) {
	return f.registered, nil
}

func (f *fakeSync) History(ctx context.Context, userID string) ([]models.SyncHistoryEntry, error) {
	return []models.SyncHistoryEntry{{UserID: userID, DeviceID: "dev-1", Operation: "sync", AlarmCount: 2, SyncedAt: time.Now()}}, nil
}

func newTestServer(t *testing.T, users *fakeUsers, syncAPI *fakeSync) *httptest.Server {
	t.Helper()
	s := NewServer(":0", testSecret, users, syncAPI, logging.NewDiscard())
	srv := httptest.NewServer(s.Router())
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url string, token string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(raw))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func getJSON(t *testing.T, url, token string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func loginToken(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	resp := postJSON(t, srv.URL+"/api/v1/auth/login", "", map[string]string{"email": "a@b.c", "password": "pw"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out struct {
		AccessToken string `json:"accessToken"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out.AccessToken
}

func TestRegisterSuccess(t *testing.T) {
	users := &fakeUsers{user: models.User{ID: "u-1"}}
	srv := newTestServer(t, users, &fakeSync{})

	resp := postJSON(t, srv.URL+"/api/v1/auth/register", "", map[string]string{"email": "a@b.c", "password": "longenough"})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	var out map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "u-1", out["userId"])
}

func TestRegisterErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"validation", &services.ValidationError{Field: "email", Reason: "must be a valid address"}, http.StatusBadRequest},
		{"duplicate", common.ErrAlreadyExists, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, &fakeUsers{registerErr: tt.err}, &fakeSync{})
			resp := postJSON(t, srv.URL+"/api/v1/auth/register", "", map[string]string{"email": "x", "password": "y"})
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

func TestLoginAndMe(t *testing.T) {
	users := &fakeUsers{user: models.User{ID: "u-1", Email: "a@b.c"}}
	srv := newTestServer(t, users, &fakeSync{})

	token := loginToken(t, srv)

	resp := getJSON(t, srv.URL+"/api/v1/auth/me", token)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var me struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&me))
	assert.Equal(t, "u-1", me.ID)
}

func TestLoginRejected(t *testing.T) {
	srv := newTestServer(t, &fakeUsers{loginErr: common.ErrUnauthorized}, &fakeSync{})
	resp := postJSON(t, srv.URL+"/api/v1/auth/login", "", map[string]string{"email": "a@b.c", "password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAuthMiddleware(t *testing.T) {
	users := &fakeUsers{user: models.User{ID: "u-1"}}
	srv := newTestServer(t, users, &fakeSync{})

	// No token.
	resp := getJSON(t, srv.URL+"/api/v1/alarms", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Garbage token.
	resp = getJSON(t, srv.URL+"/api/v1/alarms", "garbage")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Expired token.
	expired, err := auth.GenerateToken("u-1", []byte(testSecret), -time.Minute)
	require.NoError(t, err)
	resp = getJSON(t, srv.URL+"/api/v1/alarms", expired)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	var out map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "token expired", out["error"])
}

func TestRefreshExpired(t *testing.T) {
	srv := newTestServer(t, &fakeUsers{refreshErr: common.ErrRefreshTokenExpired}, &fakeSync{})
	resp := postJSON(t, srv.URL+"/api/v1/auth/refresh", "", map[string]string{"refreshToken": "stale"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSyncEndpoint(t *testing.T) {
	users := &fakeUsers{user: models.User{ID: "u-1"}}
	syncAPI := &fakeSync{result: syncengine.Result{
		Alarms: []alarm.Alarm{{ID: "m-1", Time: "07:00", PlaylistURI: "spotify:playlist:m", Volume: 80}},
	}}
	srv := newTestServer(t, users, syncAPI)
	token := loginToken(t, srv)

	body := map[string]any{
		"deviceId": "dev-1",
		"alarms":   []alarm.Alarm{{ID: "l-1", Time: "08:00", PlaylistURI: "spotify:playlist:l", Volume: 40}},
	}
	resp := postJSON(t, srv.URL+"/api/v1/sync", token, body)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		MergedAlarms     []alarm.Alarm          `json:"mergedAlarms"`
		MergedTombstones []alarm.Tombstone      `json:"mergedTombstones"`
		Conflicts        []alarm.ConflictRecord `json:"conflicts"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Len(t, out.MergedAlarms, 1)
	assert.Equal(t, "m-1", out.MergedAlarms[0].ID)
	assert.NotNil(t, out.MergedTombstones)
	assert.NotNil(t, out.Conflicts)

	// The authenticated user, not the payload, scopes the sync.
	assert.Equal(t, "u-1", syncAPI.gotUserID)
}

func TestDevicesEndpoints(t *testing.T) {
	users := &fakeUsers{user: models.User{ID: "u-1"}}
	syncAPI := &fakeSync{}
	srv := newTestServer(t, users, syncAPI)
	token := loginToken(t, srv)

	resp := postJSON(t, srv.URL+"/api/v1/devices", token, map[string]string{"deviceId": "dev-1", "name": "pi", "platformTag": "linux"})
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	// Missing device id is rejected.
	resp = postJSON(t, srv.URL+"/api/v1/devices", token, map[string]string{"name": "pi"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = getJSON(t, srv.URL+"/api/v1/devices", token)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out struct {
		Devices []alarm.Device `json:"devices"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Len(t, out.Devices, 1)
	assert.Equal(t, "dev-1", out.Devices[0].DeviceID)
}

func TestHistoryEndpoint(t *testing.T) {
	users := &fakeUsers{user: models.User{ID: "u-1"}}
	srv := newTestServer(t, users, &fakeSync{})
	token := loginToken(t, srv)

	resp := getJSON(t, srv.URL+"/api/v1/sync/history", token)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out struct {
		History []historyPayload `json:"history"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Len(t, out.History, 1)
	assert.Equal(t, "sync", out.History[0].Operation)
}
