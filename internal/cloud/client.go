// Package cloud is the REST client for the alarm sync service. It owns the
// cloud access/refresh token pair through a session manager and implements
// the transport the sync engine needs.
package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"alarmify/internal/alarm"
	"alarmify/internal/common"
	"alarmify/internal/logging"
	"alarmify/internal/session"
	"alarmify/internal/syncengine"
)

// User is the cloud account the client is signed in as.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// SyncHistoryEntry is one audit row of a past sync.
type SyncHistoryEntry struct {
	DeviceID      string    `json:"deviceId"`
	Operation     string    `json:"operation"`
	SyncedAt      time.Time `json:"syncedAt"`
	AlarmCount    int       `json:"alarmCount"`
	ConflictCount int       `json:"conflictCount"`
}

// Client talks to the cloud API. All authorized calls go through a session
// manager that refreshes the access token ahead of expiry; the Client itself
// is the session.Refresher driving that.
type Client struct {
	http     *http.Client
	baseURL  string
	log      logging.Logger
	sessions *session.Manager
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// NewClient creates a signed-out client for the given base URL.
func NewClient(baseURL string, log logging.Logger, opts ...Option) *Client {
	c := &Client{
		http:    &http.Client{Timeout: 15 * time.Second},
		baseURL: strings.TrimRight(baseURL, "/"),
		log:     log.With("component", "cloud"),
	}
	for _, o := range opts {
		o(c)
	}
	c.sessions = session.NewManager(c, log)
	return c
}

// SignedIn reports whether the client holds a usable session.
func (c *Client) SignedIn(ctx context.Context) bool {
	_, err := c.sessions.GetValidToken(ctx)
	return err == nil
}

// Logout drops the cached session.
func (c *Client) Logout() {
	c.sessions.Clear()
}

type loginResponse struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	ExpiresAt    time.Time `json:"expiresAt"`
	User         User      `json:"user"`
}

// Register creates an account and returns its id.
func (c *Client) Register(ctx context.Context, email, password string) (string, error) {
	var out struct {
		UserID string `json:"userId"`
	}
	err := c.postJSON(ctx, "/api/v1/auth/register", map[string]string{"email": email, "password": password}, &out)
	if err != nil {
		return "", err
	}
	return out.UserID, nil
}

// Login authenticates and installs the returned session, so subsequent calls
// are authorized.
func (c *Client) Login(ctx context.Context, email, password string) (User, error) {
	var out loginResponse
	err := c.postJSON(ctx, "/api/v1/auth/login", map[string]string{"email": email, "password": password}, &out)
	if err != nil {
		return User{}, err
	}
	c.sessions.SetSession(session.Token{
		AccessToken:  out.AccessToken,
		RefreshToken: out.RefreshToken,
		ExpiresAt:    out.ExpiresAt,
	})
	return out.User, nil
}

// Refresh exchanges the refresh token for a rotated session pair. It
// implements session.Refresher for the client's own manager.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (session.Token, error) {
	var out loginResponse
	err := c.postJSON(ctx, "/api/v1/auth/refresh", map[string]string{"refreshToken": refreshToken}, &out)
	if err != nil {
		return session.Token{}, err
	}
	return session.Token{
		AccessToken:  out.AccessToken,
		RefreshToken: out.RefreshToken,
		ExpiresAt:    out.ExpiresAt,
	}, nil
}

// GetCurrentUser returns the signed-in account.
func (c *Client) GetCurrentUser(ctx context.Context) (User, error) {
	var out User
	if err := c.authorized(ctx, http.MethodGet, "/api/v1/auth/me", nil, &out); err != nil {
		return User{}, err
	}
	return out, nil
}

// BackupAlarms replaces the cloud copy of this user's alarm set.
func (c *Client) BackupAlarms(ctx context.Context, deviceID string, alarms []alarm.Alarm) error {
	body := map[string]any{"deviceId": deviceID, "alarms": alarms}
	return c.authorized(ctx, http.MethodPost, "/api/v1/alarms/backup", body, nil)
}

// RestoreAlarms fetches the cloud copy of this user's alarm set.
func (c *Client) RestoreAlarms(ctx context.Context) ([]alarm.Alarm, error) {
	var out struct {
		Alarms []alarm.Alarm `json:"alarms"`
	}
	if err := c.authorized(ctx, http.MethodGet, "/api/v1/alarms", nil, &out); err != nil {
		return nil, err
	}
	return out.Alarms, nil
}

// SyncAlarms exchanges the local set with the cloud and returns the merged
// result. It implements syncengine.Transport.
func (c *Client) SyncAlarms(ctx context.Context, deviceID string, alarms []alarm.Alarm, tombstones []alarm.Tombstone) (syncengine.Exchange, error) {
	body := map[string]any{"deviceId": deviceID, "alarms": alarms, "tombstones": tombstones}
	var out struct {
		MergedAlarms     []alarm.Alarm          `json:"mergedAlarms"`
		MergedTombstones []alarm.Tombstone      `json:"mergedTombstones"`
		Conflicts        []alarm.ConflictRecord `json:"conflicts"`
	}
	if err := c.authorized(ctx, http.MethodPost, "/api/v1/sync", body, &out); err != nil {
		return syncengine.Exchange{}, err
	}
	return syncengine.Exchange{
		Alarms:     out.MergedAlarms,
		Tombstones: out.MergedTombstones,
		Conflicts:  out.Conflicts,
	}, nil
}

// RegisterDevice upserts this device in the user's device registry.
func (c *Client) RegisterDevice(ctx context.Context, d alarm.Device) error {
	body := map[string]string{"deviceId": d.DeviceID, "name": d.Name, "platformTag": d.PlatformTag}
	return c.authorized(ctx, http.MethodPost, "/api/v1/devices", body, nil)
}

// GetDevices lists the user's registered devices.
func (c *Client) GetDevices(ctx context.Context) ([]alarm.Device, error) {
	var out struct {
		Devices []alarm.Device `json:"devices"`
	}
	if err := c.authorized(ctx, http.MethodGet, "/api/v1/devices", nil, &out); err != nil {
		return nil, err
	}
	return out.Devices, nil
}

// GetSyncHistory lists the most recent sync audit rows.
func (c *Client) GetSyncHistory(ctx context.Context) ([]SyncHistoryEntry, error) {
	var out struct {
		History []SyncHistoryEntry `json:"history"`
	}
	if err := c.authorized(ctx, http.MethodGet, "/api/v1/sync/history", nil, &out); err != nil {
		return nil, err
	}
	return out.History, nil
}

// postJSON performs an unauthenticated JSON round-trip.
func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	return c.roundTrip(ctx, http.MethodPost, path, "", body, out)
}

// authorized performs a bearer-authenticated JSON round-trip. The session
// manager refreshes the token ahead of expiry, so a 401 here means the
// session is truly dead.
func (c *Client) authorized(ctx context.Context, method, path string, body, out any) error {
	tok, err := c.sessions.GetValidToken(ctx)
	if err != nil {
		return err
	}
	err = c.roundTrip(ctx, method, path, tok.AccessToken, body, out)
	if errors.Is(err, common.ErrUnauthorized) {
		// The token was refreshed ahead of expiry, so a rejection means the
		// session is dead, not stale.
		c.sessions.Clear()
		return fmt.Errorf("%s %s: %w", method, path, common.ErrAuthExpired)
	}
	return err
}

type errorResponse struct {
	Error string `json:"error"`
}

func (c *Client) roundTrip(ctx context.Context, method, path, bearer string, body, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &buf)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("cloud request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var envelope errorResponse
		_ = json.NewDecoder(resp.Body).Decode(&envelope)
		switch resp.StatusCode {
		case http.StatusUnauthorized:
			return fmt.Errorf("%s %s: %s: %w", method, path, envelope.Error, common.ErrUnauthorized)
		case http.StatusNotFound:
			return fmt.Errorf("%s %s: %s: %w", method, path, envelope.Error, common.ErrNotFound)
		case http.StatusConflict:
			return fmt.Errorf("%s %s: %s: %w", method, path, envelope.Error, common.ErrAlreadyExists)
		default:
			return fmt.Errorf("%s %s: status %d %s", method, path, resp.StatusCode, envelope.Error)
		}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
