// Package playback fires alarms against the remote audio API: it obtains a
// session, sets the volume, and starts playlist playback with retry and
// backoff.
package playback

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"alarmify/internal/common"
	"alarmify/internal/logging"
	"alarmify/internal/session"
)

// TokenSource supplies a valid playback API session. The session Manager
// implements it.
type TokenSource interface {
	GetValidToken(ctx context.Context) (session.Token, error)
}

// Controller is the audio control surface the trigger depends on. SetVolume
// and Play can fail with common.ErrNoActiveDevice when no playback endpoint
// is selected.
type Controller interface {
	SetVolume(ctx context.Context, percent int) error
	Play(ctx context.Context, uri string) error
	GetCurrentTime(ctx context.Context) (time.Duration, error)
}

const defaultAPIBaseURL = "https://api.spotify.com"

// SpotifyClient implements Controller against the Spotify Web API.
type SpotifyClient struct {
	http    *http.Client
	baseURL string
	tokens  TokenSource
	log     logging.Logger
}

// ClientOption configures a SpotifyClient.
type ClientOption func(*SpotifyClient)

// WithBaseURL points the client at a different API host (tests).
func WithBaseURL(u string) ClientOption {
	return func(c *SpotifyClient) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *SpotifyClient) { c.http = h }
}

// NewSpotifyClient creates a Web API client that authenticates every request
// through the given token source.
func NewSpotifyClient(tokens TokenSource, log logging.Logger, opts ...ClientOption) *SpotifyClient {
	c := &SpotifyClient{
		http:    &http.Client{Timeout: 10 * time.Second},
		baseURL: defaultAPIBaseURL,
		tokens:  tokens,
		log:     log.With("component", "spotify"),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// apiError is the error envelope of the Web API player endpoints.
type apiError struct {
	Error struct {
		Status  int    `json:"status"`
		Message string `json:"message"`
		Reason  string `json:"reason"`
	} `json:"error"`
}

func (c *SpotifyClient) do(ctx context.Context, method, path string, query url.Values, body any) (*http.Response, error) {
	tok, err := c.tokens.GetValidToken(ctx)
	if err != nil {
		return nil, err
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+tok.AccessToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("audio api request: %w", err)
	}
	if resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()

	var envelope apiError
	_ = json.NewDecoder(resp.Body).Decode(&envelope)

	switch {
	case envelope.Error.Reason == "NO_ACTIVE_DEVICE" || resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%s %s: %w", method, path, common.ErrNoActiveDevice)
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, fmt.Errorf("%s %s: %w", method, path, common.ErrAuthExpired)
	default:
		return nil, fmt.Errorf("%s %s: status %d %s", method, path, resp.StatusCode, envelope.Error.Message)
	}
}

// SetVolume sets the active device volume to the given percentage.
func (c *SpotifyClient) SetVolume(ctx context.Context, percent int) error {
	q := url.Values{"volume_percent": {strconv.Itoa(percent)}}
	resp, err := c.do(ctx, http.MethodPut, "/v1/me/player/volume", q, nil)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// Play starts playback of the given context URI on the active device.
func (c *SpotifyClient) Play(ctx context.Context, uri string) error {
	resp, err := c.do(ctx, http.MethodPut, "/v1/me/player/play", nil, map[string]string{"context_uri": uri})
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// GetCurrentTime returns the playback progress of the active device. Used as
// a cheap liveness probe to nudge a sleeping device before an alarm.
func (c *SpotifyClient) GetCurrentTime(ctx context.Context) (time.Duration, error) {
	resp, err := c.do(ctx, http.MethodGet, "/v1/me/player", nil, nil)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return 0, fmt.Errorf("playback state: %w", common.ErrNoActiveDevice)
	}

	var state struct {
		ProgressMS int64 `json:"progress_ms"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		return 0, fmt.Errorf("decoding playback state: %w", err)
	}
	return time.Duration(state.ProgressMS) * time.Millisecond, nil
}

const defaultAccountsTokenURL = "https://accounts.spotify.com/api/token"

// SpotifyRefresher exchanges a refresh token at the accounts service. It
// implements session.Refresher.
type SpotifyRefresher struct {
	http     *http.Client
	clientID string
	tokenURL string
	now      func() time.Time
}

// RefresherOption configures a SpotifyRefresher.
type RefresherOption func(*SpotifyRefresher)

// WithTokenURL points the refresher at a different token endpoint (tests).
func WithTokenURL(u string) RefresherOption {
	return func(r *SpotifyRefresher) { r.tokenURL = u }
}

// NewSpotifyRefresher creates a refresher for the given OAuth client id.
func NewSpotifyRefresher(clientID string, opts ...RefresherOption) *SpotifyRefresher {
	r := &SpotifyRefresher{
		http:     &http.Client{Timeout: 10 * time.Second},
		clientID: clientID,
		tokenURL: defaultAccountsTokenURL,
		now:      time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Refresh exchanges refreshToken for a new session. When the accounts service
// does not rotate the refresh token, the old one is carried forward.
func (r *SpotifyRefresher) Refresh(ctx context.Context, refreshToken string) (session.Token, error) {
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
		"client_id":     {r.clientID},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return session.Token{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := r.http.Do(req)
	if err != nil {
		return session.Token{}, fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return session.Token{}, fmt.Errorf("token request: status %d: %w", resp.StatusCode, common.ErrUnauthorized)
	}

	var payload struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return session.Token{}, fmt.Errorf("decoding token response: %w", err)
	}

	next := session.Token{
		AccessToken:  payload.AccessToken,
		RefreshToken: payload.RefreshToken,
		ExpiresAt:    r.now().Add(time.Duration(payload.ExpiresIn) * time.Second),
	}
	if next.RefreshToken == "" {
		next.RefreshToken = refreshToken
	}
	return next, nil
}
