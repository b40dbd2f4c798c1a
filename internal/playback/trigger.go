package playback

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"

	"alarmify/internal/alarm"
	"alarmify/internal/common"
	"alarmify/internal/logging"
)

// EventKind labels a playback event.
type EventKind string

const (
	EventAlarmFired     EventKind = "alarm_fired"
	EventPlaybackFailed EventKind = "playback_failed"
)

// Event reports the outcome of a fired alarm to observers such as the CLI.
type Event struct {
	Kind  EventKind
	Alarm alarm.Alarm
	Err   error
	At    time.Time
}

const (
	defaultMaxRetries = 3
	defaultFadeSteps  = 10
	eventBufferSize   = 16
)

// Trigger turns a due alarm into playback: it sets the volume, starts the
// playlist with retries, and optionally ramps the volume up over a fade-in
// window. It implements scheduler.Dispatcher.
type Trigger struct {
	controller Controller
	log        logging.Logger
	events     chan Event
	backoff    func() retry.Backoff
	now        func() time.Time
	fadeSteps  int
}

// TriggerOption configures a Trigger.
type TriggerOption func(*Trigger)

// WithBackoff overrides the retry backoff factory (tests use a constant zero
// backoff).
func WithBackoff(f func() retry.Backoff) TriggerOption {
	return func(t *Trigger) { t.backoff = f }
}

// WithTriggerClock overrides the time source.
func WithTriggerClock(now func() time.Time) TriggerOption {
	return func(t *Trigger) { t.now = now }
}

// NewTrigger creates a Trigger over the given controller.
func NewTrigger(c Controller, log logging.Logger, opts ...TriggerOption) *Trigger {
	t := &Trigger{
		controller: c,
		log:        log.With("component", "playback"),
		events:     make(chan Event, eventBufferSize),
		backoff:    func() retry.Backoff { return retry.NewExponential(time.Second) },
		now:        time.Now,
		fadeSteps:  defaultFadeSteps,
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Events exposes the outcome stream. Events are dropped, with a warning, when
// no observer is draining the channel.
func (t *Trigger) Events() <-chan Event {
	return t.events
}

func (t *Trigger) emit(ctx context.Context, e Event) {
	select {
	case t.events <- e:
	default:
		t.log.Warn(ctx, "event dropped, observer not draining", "kind", e.Kind, "id", e.Alarm.ID)
	}
}

// Fire starts playback for a due alarm. The initial volume write is best
// effort; starting the playlist is retried up to three times with exponential
// backoff unless the session itself is dead. A successful start with fade-in
// enabled launches the volume ramp in the background.
func (t *Trigger) Fire(ctx context.Context, a alarm.Alarm) error {
	target := a.Volume
	initial := target
	if a.FadeIn && a.FadeInMinutes > 0 {
		initial = fadeStartVolume(target)
	}

	if err := t.controller.SetVolume(ctx, initial); err != nil {
		t.log.Warn(ctx, "initial volume write failed", "id", a.ID, "error", err)
	}

	err := retry.Do(ctx, retry.WithMaxRetries(defaultMaxRetries, t.backoff()), func(ctx context.Context) error {
		err := t.controller.Play(ctx, a.PlaylistURI)
		if err == nil {
			return nil
		}
		if errors.Is(err, common.ErrAuthExpired) {
			// Retrying cannot revive a dead session.
			return err
		}
		return retry.RetryableError(err)
	})
	if err != nil {
		t.log.Error(ctx, "playback failed", "id", a.ID, "playlist", a.PlaylistName, "error", err)
		t.emit(ctx, Event{Kind: EventPlaybackFailed, Alarm: a, Err: err, At: t.now()})
		return err
	}

	t.log.Info(ctx, "playback started", "id", a.ID, "playlist", a.PlaylistName, "volume", initial)
	t.emit(ctx, Event{Kind: EventAlarmFired, Alarm: a, At: t.now()})

	if a.FadeIn && a.FadeInMinutes > 0 {
		go t.runFade(ctx, a, time.Duration(a.FadeInMinutes)*time.Minute)
	}
	return nil
}

// PreWake probes the playback endpoint shortly before an alarm so a dozing
// device reconnects in time. Failures are expected and only logged.
func (t *Trigger) PreWake(ctx context.Context, a alarm.Alarm) {
	if _, err := t.controller.GetCurrentTime(ctx); err != nil {
		t.log.Debug(ctx, "pre-wake probe", "id", a.ID, "error", err)
		return
	}
	t.log.Debug(ctx, "pre-wake probe ok", "id", a.ID)
}

// runFade ramps the volume linearly from the fade start volume to the alarm
// target over the given window. Each step is best effort.
func (t *Trigger) runFade(ctx context.Context, a alarm.Alarm, window time.Duration) {
	start := fadeStartVolume(a.Volume)
	if start >= a.Volume || t.fadeSteps < 1 {
		return
	}

	interval := window / time.Duration(t.fadeSteps)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for step := 1; step <= t.fadeSteps; step++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		v := start + (a.Volume-start)*step/t.fadeSteps
		if err := t.controller.SetVolume(ctx, v); err != nil {
			t.log.Warn(ctx, "fade volume write failed", "id", a.ID, "volume", v, "error", err)
		}
	}
}

// fadeStartVolume is the quiet level a fade-in opens at.
func fadeStartVolume(target int) int {
	v := target / 4
	if v < 1 {
		v = 1
	}
	return v
}
