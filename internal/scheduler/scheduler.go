// Package scheduler runs the 1 Hz tick loop that dispatches due alarms to the
// playback trigger. It is the only component that runs for the life of the
// process.
package scheduler

import (
	"context"
	"sync"
	"time"

	"alarmify/internal/alarm"
	"alarmify/internal/logging"
	"alarmify/internal/store"
)

// Dispatcher receives due alarms. Fire runs on its own goroutine so a slow or
// failing dispatch never delays the next tick.
type Dispatcher interface {
	Fire(ctx context.Context, a alarm.Alarm) error
}

// Scheduler polls the store once per second and dispatches each due alarm
// exactly once per calendar date.
type Scheduler struct {
	store      *store.Store
	dispatcher Dispatcher
	log        logging.Logger
	interval   time.Duration
	now        func() time.Time

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithInterval overrides the tick interval (tests use a short one).
func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) { s.interval = d }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// New creates a stopped scheduler.
func New(st *store.Store, d Dispatcher, log logging.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:      st,
		dispatcher: d,
		log:        log.With("component", "scheduler"),
		interval:   time.Second,
		now:        time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start launches the tick loop. Calling Start on a running scheduler is a
// no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true

	go s.run(ctx)
	s.log.Info(ctx, "scheduler started", "interval", s.interval)
}

// Stop cancels the tick loop and waits for it to exit. In-flight dispatches
// are left to complete or be abandoned; they only re-apply idempotent fire
// marks, so the store cannot be corrupted.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	<-done
	s.log.Info(context.Background(), "scheduler stopped")
}

// Running reports whether the tick loop is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx, s.now())
		}
	}
}

// tick dispatches every due alarm. The fire mark is applied before dispatch,
// so the 60 ticks within the matching minute cannot double-fire, and second
// skips from forward clock jumps still catch the alarm on a later tick of the
// same minute.
func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	for _, a := range s.store.FindDue(now) {
		s.store.MarkFired(ctx, a.ID, now)
		s.log.Info(ctx, "dispatching alarm", "id", a.ID, "time", a.Time, "playlist", a.PlaylistName)

		go func(a alarm.Alarm) {
			if err := s.dispatcher.Fire(ctx, a); err != nil {
				s.log.Error(ctx, "alarm dispatch failed", "id", a.ID, "error", err)
			}
		}(a)
	}
}
