// Package syncengine reconciles the local alarm set with a remote one. The
// merge itself is a pure function shared by the client engine and the cloud
// server; the engine around it owns the sync state machine.
package syncengine

import (
	"sort"
	"time"

	"alarmify/internal/alarm"
)

// DefaultGraceWindow is how long a tombstone is retained after deletion so
// slow-syncing devices still observe it.
const DefaultGraceWindow = 30 * 24 * time.Hour

// Result is the outcome of merging two alarm sets.
type Result struct {
	Alarms     []alarm.Alarm
	Tombstones []alarm.Tombstone
	Conflicts  []alarm.ConflictRecord
}

// Merge reconciles (local, localTombs) with (remote, remoteTombs).
//
// Per id: a copy present on one side only is kept; copies on both sides
// resolve by last-write-wins on LastModified, recording a ConflictRecord that
// retains the losing edit. A tombstone competes with the surviving copy by
// timestamp: a deletion newer than the last edit removes the alarm, an edit
// newer than the deletion resurrects it and discards the tombstone.
//
// Kept tombstones are the union of both sides, newest DeletedAt wins, and a
// tombstone seen by both sides counts as observed. Observed tombstones older
// than the grace window are pruned. Output slices are sorted by id, so the
// merge is deterministic and idempotent.
func Merge(local []alarm.Alarm, localTombs []alarm.Tombstone, remote []alarm.Alarm, remoteTombs []alarm.Tombstone, now time.Time, grace time.Duration) Result {
	localByID := indexAlarms(local)
	remoteByID := indexAlarms(remote)
	tombByID := unionTombstones(localTombs, remoteTombs)

	ids := map[string]struct{}{}
	for id := range localByID {
		ids[id] = struct{}{}
	}
	for id := range remoteByID {
		ids[id] = struct{}{}
	}

	var res Result
	for id := range ids {
		l, haveLocal := localByID[id]
		r, haveRemote := remoteByID[id]

		var winner alarm.Alarm
		switch {
		case haveLocal && haveRemote:
			switch {
			case r.LastModified.After(l.LastModified):
				winner = r
				res.Conflicts = append(res.Conflicts, alarm.ConflictRecord{
					ID: id, Winner: r.Clone(), Loser: l.Clone(), ResolvedAt: now,
				})
			case l.LastModified.After(r.LastModified):
				winner = l
				res.Conflicts = append(res.Conflicts, alarm.ConflictRecord{
					ID: id, Winner: l.Clone(), Loser: r.Clone(), ResolvedAt: now,
				})
			default:
				// Identical timestamps mean the copies converged already.
				winner = l
			}
		case haveLocal:
			winner = l
		default:
			winner = r
		}

		if tomb, dead := tombByID[id]; dead {
			if tomb.DeletedAt.After(winner.LastModified) {
				// The deletion is newer than the last edit; the alarm stays
				// gone and the tombstone is kept.
				continue
			}
			// The edit outlives the deletion and resurrects the alarm.
			delete(tombByID, id)
		}
		res.Alarms = append(res.Alarms, winner.Clone())
	}

	for _, t := range tombByID {
		if t.Observed && now.Sub(t.DeletedAt) > grace {
			continue
		}
		res.Tombstones = append(res.Tombstones, t)
	}

	sort.Slice(res.Alarms, func(i, j int) bool { return res.Alarms[i].ID < res.Alarms[j].ID })
	sort.Slice(res.Tombstones, func(i, j int) bool { return res.Tombstones[i].ID < res.Tombstones[j].ID })
	sort.Slice(res.Conflicts, func(i, j int) bool { return res.Conflicts[i].ID < res.Conflicts[j].ID })
	return res
}

func indexAlarms(alarms []alarm.Alarm) map[string]alarm.Alarm {
	m := make(map[string]alarm.Alarm, len(alarms))
	for _, a := range alarms {
		m[a.ID] = a
	}
	return m
}

// unionTombstones merges both tombstone sets, keeping the newest DeletedAt per
// id. A tombstone known to both sides has completed a round-trip and is
// observed.
func unionTombstones(local, remote []alarm.Tombstone) map[string]alarm.Tombstone {
	m := make(map[string]alarm.Tombstone, len(local)+len(remote))
	for _, t := range local {
		m[t.ID] = t
	}
	for _, t := range remote {
		if prev, ok := m[t.ID]; ok {
			merged := prev
			if t.DeletedAt.After(prev.DeletedAt) {
				merged.DeletedAt = t.DeletedAt
			}
			merged.Observed = true
			m[t.ID] = merged
			continue
		}
		m[t.ID] = t
	}
	return m
}
