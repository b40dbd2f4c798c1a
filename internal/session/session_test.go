package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"alarmify/internal/common"
	"alarmify/internal/logging"
)

type countingRefresher struct {
	calls atomic.Int64
	delay time.Duration
	token Token
	err   error
}

func (r *countingRefresher) Refresh(ctx context.Context, refreshToken string) (Token, error) {
	r.calls.Add(1)
	if r.delay > 0 {
		select {
		case <-time.After(r.delay):
		case <-ctx.Done():
			return Token{}, ctx.Err()
		}
	}
	if r.err != nil {
		return Token{}, r.err
	}
	return r.token, nil
}

func TestGetValidTokenReturnsCached(t *testing.T) {
	r := &countingRefresher{}
	m := NewManager(r, logging.NewDiscard())
	m.SetSession(Token{AccessToken: "a", RefreshToken: "r", ExpiresAt: time.Now().Add(time.Hour)})

	tok, err := m.GetValidToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "a", tok.AccessToken)
	assert.EqualValues(t, 0, r.calls.Load())
}

func TestGetValidTokenRefreshesWithinMargin(t *testing.T) {
	fresh := Token{AccessToken: "new", RefreshToken: "r2", ExpiresAt: time.Now().Add(time.Hour)}
	r := &countingRefresher{token: fresh}
	m := NewManager(r, logging.NewDiscard())
	// Expires in 30s, inside the 60s margin.
	m.SetSession(Token{AccessToken: "old", RefreshToken: "r1", ExpiresAt: time.Now().Add(30 * time.Second)})

	tok, err := m.GetValidToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "new", tok.AccessToken)
	assert.EqualValues(t, 1, r.calls.Load())

	// The refreshed session is now cached.
	_, err = m.GetValidToken(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, r.calls.Load())
}

func TestConcurrentCallersShareOneRefresh(t *testing.T) {
	fresh := Token{AccessToken: "new", RefreshToken: "r2", ExpiresAt: time.Now().Add(time.Hour)}
	r := &countingRefresher{token: fresh, delay: 50 * time.Millisecond}
	m := NewManager(r, logging.NewDiscard())
	m.SetSession(Token{AccessToken: "old", RefreshToken: "r1", ExpiresAt: time.Now().Add(-time.Minute)})

	const n = 20
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = m.GetValidToken(context.Background())
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
	}
	assert.EqualValues(t, 1, r.calls.Load(), "all callers must share a single refresh")
}

func TestRefreshFailureSurfacesAuthExpired(t *testing.T) {
	r := &countingRefresher{err: errors.New("upstream says no")}
	m := NewManager(r, logging.NewDiscard())
	m.SetSession(Token{AccessToken: "old", RefreshToken: "r1", ExpiresAt: time.Now().Add(-time.Minute)})

	_, err := m.GetValidToken(context.Background())
	assert.ErrorIs(t, err, common.ErrAuthExpired)

	// The failed session was cleared: the next call fails fast with no
	// further refresh attempts.
	_, err = m.GetValidToken(context.Background())
	assert.ErrorIs(t, err, common.ErrAuthExpired)
	assert.EqualValues(t, 1, r.calls.Load())
}

func TestNoSessionFailsFast(t *testing.T) {
	m := NewManager(&countingRefresher{}, logging.NewDiscard())
	_, err := m.GetValidToken(context.Background())
	assert.ErrorIs(t, err, common.ErrAuthExpired)
}
