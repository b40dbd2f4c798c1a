package syncengine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"alarmify/internal/alarm"
	"alarmify/internal/logging"
	"alarmify/internal/store"
)

// State is a sync engine lifecycle state.
type State string

const (
	StateIdle    State = "idle"
	StateSyncing State = "syncing"
	StateSuccess State = "success"
	StateError   State = "error"
)

// Status is the externally visible sync state.
type Status struct {
	State         State
	Message       string
	LastSyncAt    time.Time
	LastConflicts []alarm.ConflictRecord
}

// Exchange is one sync round-trip's worth of remote data.
type Exchange struct {
	Alarms     []alarm.Alarm
	Tombstones []alarm.Tombstone
	Conflicts  []alarm.ConflictRecord
}

// Transport is the cloud surface the engine needs. The cloud client
// implements it.
type Transport interface {
	SyncAlarms(ctx context.Context, deviceID string, alarms []alarm.Alarm, tombstones []alarm.Tombstone) (Exchange, error)
	RegisterDevice(ctx context.Context, d alarm.Device) error
}

const (
	defaultCooldown    = 5 * time.Second
	defaultSyncTimeout = 30 * time.Second
)

// Engine drives sync round-trips: snapshot the store, exchange with the
// cloud, re-merge against the live local state, and commit atomically.
// Concurrent TriggerSync calls coalesce into the in-flight operation.
type Engine struct {
	store     *store.Store
	transport Transport
	log       logging.Logger
	now       func() time.Time
	grace     time.Duration
	cooldown  time.Duration
	timeout   time.Duration

	sf singleflight.Group

	mu            sync.Mutex
	status        Status
	device        alarm.Device
	haveDevice    bool
	registered    bool
	cooldownTimer *time.Timer

	autoMu     sync.Mutex
	autoCancel context.CancelFunc
	autoDone   chan struct{}
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithGraceWindow overrides the tombstone retention window.
func WithGraceWindow(d time.Duration) EngineOption {
	return func(e *Engine) { e.grace = d }
}

// WithCooldown overrides how long Success/Error linger before Idle.
func WithCooldown(d time.Duration) EngineOption {
	return func(e *Engine) { e.cooldown = d }
}

// WithSyncTimeout bounds one sync round-trip.
func WithSyncTimeout(d time.Duration) EngineOption {
	return func(e *Engine) { e.timeout = d }
}

// WithEngineClock overrides the time source.
func WithEngineClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an idle engine.
func NewEngine(st *store.Store, t Transport, log logging.Logger, opts ...EngineOption) *Engine {
	e := &Engine{
		store:     st,
		transport: t,
		log:       log.With("component", "sync"),
		now:       time.Now,
		grace:     DefaultGraceWindow,
		cooldown:  defaultCooldown,
		timeout:   defaultSyncTimeout,
		status:    Status{State: StateIdle},
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Status returns a copy of the current sync status.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := e.status
	st.LastConflicts = append([]alarm.ConflictRecord(nil), e.status.LastConflicts...)
	return st
}

// TriggerSync runs one sync round-trip. A call arriving while a sync is in
// flight joins it instead of starting a second one.
func (e *Engine) TriggerSync(ctx context.Context) (Status, error) {
	ch := e.sf.DoChan("sync", func() (any, error) {
		return nil, e.doSync()
	})

	select {
	case res := <-ch:
		return e.Status(), res.Err
	case <-ctx.Done():
		return e.Status(), ctx.Err()
	}
}

// doSync performs the exchange. It detaches from any single waiter's context;
// the round-trip gets its own deadline so coalesced callers share one fate.
func (e *Engine) doSync() error {
	e.setState(StateSyncing, "sync in progress")

	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()

	dev, err := e.ensureRegistered(ctx)
	if err != nil {
		e.fail(err)
		return err
	}

	alarms, tombs := e.store.Snapshot()
	resp, err := e.transport.SyncAlarms(ctx, dev.DeviceID, alarms, tombs)
	if err != nil {
		e.fail(fmt.Errorf("sync exchange: %w", err))
		return fmt.Errorf("sync exchange: %w", err)
	}

	// Every tombstone the round-trip carried has now been seen by the remote.
	for i := range resp.Tombstones {
		resp.Tombstones[i].Observed = true
	}

	// Re-merge against the live state so edits made during the network call
	// are not clobbered by the snapshot we uploaded.
	curAlarms, curTombs := e.store.Snapshot()
	merged := Merge(curAlarms, curTombs, resp.Alarms, resp.Tombstones, e.now(), e.grace)

	conflicts := append(resp.Conflicts, merged.Conflicts...)
	sort.Slice(conflicts, func(i, j int) bool { return conflicts[i].ID < conflicts[j].ID })

	if err := e.store.ApplyMerge(ctx, merged.Alarms, merged.Tombstones); err != nil {
		e.fail(fmt.Errorf("committing merge: %w", err))
		return fmt.Errorf("committing merge: %w", err)
	}

	dev.LastSyncAt = e.now()
	if err := saveDevice(ctx, e.store, dev); err != nil {
		e.log.Warn(ctx, "persisting device sync time failed", "error", err)
	}

	e.mu.Lock()
	e.device = dev
	e.status = Status{
		State:         StateSuccess,
		Message:       fmt.Sprintf("synced %d alarms, %d conflicts", len(merged.Alarms), len(conflicts)),
		LastSyncAt:    dev.LastSyncAt,
		LastConflicts: conflicts,
	}
	e.armCooldownLocked()
	e.mu.Unlock()

	e.log.Info(ctx, "sync complete", "alarms", len(merged.Alarms), "conflicts", len(conflicts))
	return nil
}

// ensureRegistered loads the device identity and registers it with the cloud
// once per process.
func (e *Engine) ensureRegistered(ctx context.Context) (alarm.Device, error) {
	e.mu.Lock()
	dev, have, registered := e.device, e.haveDevice, e.registered
	e.mu.Unlock()

	if !have {
		var err error
		dev, err = LoadOrCreateDevice(ctx, e.store, e.now)
		if err != nil {
			return alarm.Device{}, fmt.Errorf("device identity: %w", err)
		}
		e.mu.Lock()
		e.device, e.haveDevice = dev, true
		e.mu.Unlock()
	}

	if !registered {
		if err := e.transport.RegisterDevice(ctx, dev); err != nil {
			return alarm.Device{}, fmt.Errorf("registering device: %w", err)
		}
		e.mu.Lock()
		e.registered = true
		e.mu.Unlock()
	}
	return dev, nil
}

func (e *Engine) setState(s State, msg string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.status.State = s
	e.status.Message = msg
}

func (e *Engine) fail(err error) {
	e.log.Error(context.Background(), "sync failed", "error", err)
	e.mu.Lock()
	e.status.State = StateError
	e.status.Message = err.Error()
	e.armCooldownLocked()
	e.mu.Unlock()
}

// armCooldownLocked schedules the fall back to Idle. Callers hold e.mu.
func (e *Engine) armCooldownLocked() {
	if e.cooldownTimer != nil {
		e.cooldownTimer.Stop()
	}
	e.cooldownTimer = time.AfterFunc(e.cooldown, func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.status.State == StateSuccess || e.status.State == StateError {
			e.status.State = StateIdle
		}
	})
}

// StartAutoSync launches a background loop that triggers a sync every
// interval. Calling it while a loop runs is a no-op.
func (e *Engine) StartAutoSync(ctx context.Context, interval time.Duration) {
	e.autoMu.Lock()
	defer e.autoMu.Unlock()
	if e.autoCancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	e.autoCancel = cancel
	done := make(chan struct{})
	e.autoDone = done

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := e.TriggerSync(ctx); err != nil {
					e.log.Warn(ctx, "auto sync failed", "error", err)
				}
			}
		}
	}()
	e.log.Info(ctx, "auto sync started", "interval", interval)
}

// StopAutoSync stops the background loop and waits for it to exit.
func (e *Engine) StopAutoSync() {
	e.autoMu.Lock()
	cancel, done := e.autoCancel, e.autoDone
	e.autoCancel, e.autoDone = nil, nil
	e.autoMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Close stops the auto-sync loop and the cool-down timer.
func (e *Engine) Close() {
	e.StopAutoSync()
	e.mu.Lock()
	if e.cooldownTimer != nil {
		e.cooldownTimer.Stop()
	}
	e.mu.Unlock()
}
