// Package store implements the alarm store: the single guarded boundary
// through which the scheduler, the sync engine, and the UI layer read and
// write alarms. State is held in memory and written through to a Repository.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"alarmify/internal/alarm"
	"alarmify/internal/common"
	"alarmify/internal/logging"
)

// DateKey is the per-calendar-day key used for fire deduplication.
func DateKey(t time.Time) string {
	return t.Format("2006-01-02")
}

// Store owns the device's alarm set. All operations are serialized by one
// mutex; read operations hand out copies so callers never observe a torn
// state. The lock is never held across network I/O.
type Store struct {
	mu         sync.Mutex
	repo       Repository
	log        logging.Logger
	now        func() time.Time
	alarms     map[string]alarm.Alarm
	tombstones map[string]alarm.Tombstone
	lastFired  map[string]string
	meta       map[string]string // fallback when repo == nil
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source. Tests use this to pin timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates a Store backed by repo. A nil repo keeps everything in memory,
// which the tests and the sync merge harness rely on.
func New(repo Repository, log logging.Logger, opts ...Option) *Store {
	s := &Store{
		repo:       repo,
		log:        log.With("component", "store"),
		now:        time.Now,
		alarms:     make(map[string]alarm.Alarm),
		tombstones: make(map[string]alarm.Tombstone),
		lastFired:  make(map[string]string),
		meta:       make(map[string]string),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Load populates the in-memory state from the repository.
func (s *Store) Load(ctx context.Context) error {
	if s.repo == nil {
		return nil
	}

	stored, err := s.repo.LoadAlarms(ctx)
	if err != nil {
		return fmt.Errorf("loading alarms: %w", err)
	}
	tombs, err := s.repo.LoadTombstones(ctx)
	if err != nil {
		return fmt.Errorf("loading tombstones: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.alarms = make(map[string]alarm.Alarm, len(stored))
	s.lastFired = make(map[string]string)
	for _, sa := range stored {
		s.alarms[sa.Alarm.ID] = sa.Alarm
		if sa.LastFiredDate != "" {
			s.lastFired[sa.Alarm.ID] = sa.LastFiredDate
		}
	}
	s.tombstones = make(map[string]alarm.Tombstone, len(tombs))
	for _, t := range tombs {
		s.tombstones[t.ID] = t
	}
	return nil
}

// List returns all alarms sorted by time, then id.
func (s *Store) List() []alarm.Alarm {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make([]alarm.Alarm, 0, len(s.alarms))
	for _, a := range s.alarms {
		result = append(result, a.Clone())
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Time != result[j].Time {
			return result[i].Time < result[j].Time
		}
		return result[i].ID < result[j].ID
	})
	return result
}

// Get returns the alarm with the given id.
func (s *Store) Get(id string) (alarm.Alarm, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.alarms[id]
	return a.Clone(), ok
}

// Upsert validates and stores an alarm. A missing id is assigned; CreatedAt
// defaults to now. LastModified is stamped strictly greater than the previous
// value for the same alarm, keeping the per-alarm edit clock monotonic even
// when edits land within one wall-clock instant.
func (s *Store) Upsert(ctx context.Context, a alarm.Alarm) (alarm.Alarm, error) {
	if err := a.Validate(); err != nil {
		return alarm.Alarm{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	stamp := now
	if prev, ok := s.alarms[a.ID]; ok && !stamp.After(prev.LastModified) {
		stamp = prev.LastModified.Add(time.Millisecond)
	}
	a.LastModified = stamp

	// A re-created id supersedes any lingering local tombstone.
	delete(s.tombstones, a.ID)

	if s.repo != nil {
		if err := s.repo.SaveAlarm(ctx, a, s.lastFired[a.ID]); err != nil {
			return alarm.Alarm{}, fmt.Errorf("persisting alarm: %w", err)
		}
	}
	s.alarms[a.ID] = a
	return a.Clone(), nil
}

// Toggle flips the Active flag and stamps a new LastModified.
func (s *Store) Toggle(ctx context.Context, id string) (alarm.Alarm, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.alarms[id]
	if !ok {
		return alarm.Alarm{}, fmt.Errorf("alarm %s: %w", id, common.ErrNotFound)
	}
	a.Active = !a.Active
	stamp := s.now()
	if !stamp.After(a.LastModified) {
		stamp = a.LastModified.Add(time.Millisecond)
	}
	a.LastModified = stamp

	if s.repo != nil {
		if err := s.repo.SaveAlarm(ctx, a, s.lastFired[id]); err != nil {
			return alarm.Alarm{}, fmt.Errorf("persisting alarm: %w", err)
		}
	}
	s.alarms[id] = a
	return a.Clone(), nil
}

// Remove deletes an alarm and records a tombstone so the deletion propagates
// through sync. Removing an unknown id is a no-op returning no tombstone.
func (s *Store) Remove(ctx context.Context, id string) (*alarm.Tombstone, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.alarms[id]; !ok {
		return nil, nil
	}

	t := alarm.Tombstone{ID: id, DeletedAt: s.now()}
	if s.repo != nil {
		if err := s.repo.DeleteAlarm(ctx, id); err != nil {
			return nil, fmt.Errorf("deleting alarm: %w", err)
		}
		if err := s.repo.SaveTombstone(ctx, t); err != nil {
			return nil, fmt.Errorf("persisting tombstone: %w", err)
		}
	}
	delete(s.alarms, id)
	delete(s.lastFired, id)
	s.tombstones[id] = t
	return &t, nil
}

// FindDue returns a snapshot of the alarms that should fire at now: active,
// matching now's minute and weekday, and not already fired on now's calendar
// date. The date key, not a monotonic counter, is the dedupe source of truth,
// so backward clock jumps within the same date stay deduplicated.
func (s *Store) FindDue(now time.Time) []alarm.Alarm {
	s.mu.Lock()
	defer s.mu.Unlock()

	date := DateKey(now)
	var due []alarm.Alarm
	for _, a := range s.alarms {
		if !a.Matches(now) {
			continue
		}
		if s.lastFired[a.ID] == date {
			continue
		}
		due = append(due, a.Clone())
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ID < due[j].ID })
	return due
}

// PeekDue reports the alarm matching now's minute regardless of the
// fired-today dedupe. The UI polls this for "firing now" feedback after the
// scheduler has already dispatched and marked the alarm.
func (s *Store) PeekDue(now time.Time) *alarm.Alarm {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	for id, a := range s.alarms {
		if a.Matches(now) {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	sort.Strings(ids)
	a := s.alarms[ids[0]].Clone()
	return &a
}

// MarkFired records that the alarm fired on now's calendar date. Re-applying
// the same mark is idempotent, which keeps abandoned dispatches harmless.
func (s *Store) MarkFired(ctx context.Context, id string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	date := DateKey(now)
	s.lastFired[id] = date
	if s.repo != nil {
		if err := s.repo.SetLastFired(ctx, id, date); err != nil {
			s.log.Warn(ctx, "failed to persist fire mark", "id", id, "error", err)
		}
	}
}

// Snapshot returns copies of the current alarms and tombstones for the sync
// engine to exchange without holding the store lock across the network.
func (s *Store) Snapshot() ([]alarm.Alarm, []alarm.Tombstone) {
	s.mu.Lock()
	defer s.mu.Unlock()

	alarms := make([]alarm.Alarm, 0, len(s.alarms))
	for _, a := range s.alarms {
		alarms = append(alarms, a.Clone())
	}
	tombs := make([]alarm.Tombstone, 0, len(s.tombstones))
	for _, t := range s.tombstones {
		tombs = append(tombs, t)
	}
	sort.Slice(alarms, func(i, j int) bool { return alarms[i].ID < alarms[j].ID })
	sort.Slice(tombs, func(i, j int) bool { return tombs[i].ID < tombs[j].ID })
	return alarms, tombs
}

// Tombstones returns a copy of the current tombstone set.
func (s *Store) Tombstones() []alarm.Tombstone {
	_, tombs := s.Snapshot()
	return tombs
}

// ApplyMerge atomically replaces the alarm and tombstone sets with a merged
// sync result. Persistence happens first, so a failed commit leaves the
// in-memory state untouched. Fire marks for surviving alarms are kept.
func (s *Store) ApplyMerge(ctx context.Context, alarms []alarm.Alarm, tombstones []alarm.Tombstone) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	newAlarms := make(map[string]alarm.Alarm, len(alarms))
	newFired := make(map[string]string)
	stored := make([]StoredAlarm, 0, len(alarms))
	for _, a := range alarms {
		c := a.Clone()
		newAlarms[c.ID] = c
		if date, ok := s.lastFired[c.ID]; ok {
			newFired[c.ID] = date
		}
		stored = append(stored, StoredAlarm{Alarm: c, LastFiredDate: newFired[c.ID]})
	}
	newTombs := make(map[string]alarm.Tombstone, len(tombstones))
	for _, t := range tombstones {
		newTombs[t.ID] = t
	}

	if s.repo != nil {
		if err := s.repo.ReplaceAll(ctx, stored, tombstones); err != nil {
			return fmt.Errorf("committing merged state: %w", err)
		}
	}

	s.alarms = newAlarms
	s.lastFired = newFired
	s.tombstones = newTombs
	return nil
}

// GetMeta reads a metadata value (device identity and friends).
func (s *Store) GetMeta(ctx context.Context, key string) (string, error) {
	if s.repo != nil {
		return s.repo.GetMeta(ctx, key)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.meta[key]
	if !ok {
		return "", common.ErrNotFound
	}
	return v, nil
}

// SetMeta stores a metadata value.
func (s *Store) SetMeta(ctx context.Context, key, value string) error {
	if s.repo != nil {
		return s.repo.SetMeta(ctx, key, value)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.meta[key] = value
	return nil
}
