// Package session owns the playback API access/refresh token pair and
// deduplicates concurrent refreshes with a single-flight guard.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"alarmify/internal/common"
	"alarmify/internal/logging"
)

// Token is an OAuth-style session. It lives in memory only; persistence is
// the job of an external secure store.
type Token struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// Refresher exchanges a refresh token for a fresh session.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (Token, error)
}

const (
	defaultExpiryMargin   = 60 * time.Second
	defaultRefreshTimeout = 5 * time.Second
)

// Manager caches the current session and refreshes it when it expires within
// the safety margin. Concurrent callers during an in-flight refresh all await
// the same refresh operation, keyed by the refresh token identity.
type Manager struct {
	mu        sync.Mutex
	current   Token
	refresher Refresher
	margin    time.Duration
	timeout   time.Duration
	now       func() time.Time
	sf        singleflight.Group
	log       logging.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithExpiryMargin overrides the refresh-ahead window.
func WithExpiryMargin(d time.Duration) Option {
	return func(m *Manager) { m.margin = d }
}

// WithRefreshTimeout bounds how long a caller blocks on a refresh.
func WithRefreshTimeout(d time.Duration) Option {
	return func(m *Manager) { m.timeout = d }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a Manager with no session; callers must SetSession after
// external authentication.
func NewManager(r Refresher, log logging.Logger, opts ...Option) *Manager {
	m := &Manager{
		refresher: r,
		margin:    defaultExpiryMargin,
		timeout:   defaultRefreshTimeout,
		now:       time.Now,
		log:       log.With("component", "session"),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// SetSession installs a session obtained by external authentication.
func (m *Manager) SetSession(t Token) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = t
}

// Clear drops the cached session.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = Token{}
}

// GetValidToken returns the cached session, refreshing it first when it
// expires within the safety margin. A failed refresh surfaces ErrAuthExpired
// to every waiter and clears the session; the Manager never retries on its
// own — re-authentication is up to the caller.
func (m *Manager) GetValidToken(ctx context.Context) (Token, error) {
	m.mu.Lock()
	cur := m.current
	m.mu.Unlock()

	if cur.AccessToken != "" && cur.ExpiresAt.After(m.now().Add(m.margin)) {
		return cur, nil
	}
	if cur.RefreshToken == "" {
		return Token{}, common.ErrAuthExpired
	}

	ch := m.sf.DoChan(cur.RefreshToken, func() (any, error) {
		// The refresh outlives any single waiter; it gets its own deadline.
		rctx, cancel := context.WithTimeout(context.Background(), m.timeout)
		defer cancel()

		t, err := m.refresher.Refresh(rctx, cur.RefreshToken)
		if err != nil {
			m.log.Error(rctx, "session refresh failed", "error", err)
			m.mu.Lock()
			if m.current.RefreshToken == cur.RefreshToken {
				m.current = Token{}
			}
			m.mu.Unlock()
			return Token{}, fmt.Errorf("refreshing session: %w", common.ErrAuthExpired)
		}

		m.mu.Lock()
		m.current = t
		m.mu.Unlock()
		m.log.Debug(rctx, "session refreshed", "expires_at", t.ExpiresAt)
		return t, nil
	})

	wctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	select {
	case res := <-ch:
		if res.Err != nil {
			return Token{}, res.Err
		}
		return res.Val.(Token), nil
	case <-wctx.Done():
		return Token{}, wctx.Err()
	}
}
