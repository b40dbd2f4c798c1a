// Package alarm defines the Alarmify data model: alarms, deletion tombstones,
// merge conflict records, and registered devices.
package alarm

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Weekday is a lowercase three-letter day tag used in alarm schedules.
type Weekday string

const (
	Monday    Weekday = "mon"
	Tuesday   Weekday = "tue"
	Wednesday Weekday = "wed"
	Thursday  Weekday = "thu"
	Friday    Weekday = "fri"
	Saturday  Weekday = "sat"
	Sunday    Weekday = "sun"
)

var weekdayTags = map[time.Weekday]Weekday{
	time.Monday:    Monday,
	time.Tuesday:   Tuesday,
	time.Wednesday: Wednesday,
	time.Thursday:  Thursday,
	time.Friday:    Friday,
	time.Saturday:  Saturday,
	time.Sunday:    Sunday,
}

// WeekdayOf returns the day tag for t's local weekday.
func WeekdayOf(t time.Time) Weekday {
	return weekdayTags[t.Weekday()]
}

// ParseWeekday converts a user-supplied tag into a Weekday.
func ParseWeekday(s string) (Weekday, error) {
	w := Weekday(strings.ToLower(strings.TrimSpace(s)))
	switch w {
	case Monday, Tuesday, Wednesday, Thursday, Friday, Saturday, Sunday:
		return w, nil
	}
	return "", &ValidationError{Field: "days", Reason: fmt.Sprintf("unknown weekday %q", s)}
}

// Alarm is a scheduled playlist playback. An empty Days set means the alarm
// fires every day.
type Alarm struct {
	ID            string    `json:"id"`
	Time          string    `json:"time"`
	Days          []Weekday `json:"days,omitempty"`
	PlaylistName  string    `json:"playlist"`
	PlaylistURI   string    `json:"playlistUri"`
	Volume        int       `json:"volume"`
	FadeIn        bool      `json:"fadeIn"`
	FadeInMinutes int       `json:"fadeInMinutes,omitempty"`
	Active        bool      `json:"active"`
	CreatedAt     time.Time `json:"createdAt"`
	LastModified  time.Time `json:"lastModified"`
	OriginDevice  string    `json:"originDevice,omitempty"`
}

// ValidationError reports a rejected alarm field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

var timePattern = regexp.MustCompile(`^\d{2}:\d{2}$`)

// ParseTime splits an "HH:MM" string into hour and minute, enforcing the
// 24-hour range.
func ParseTime(s string) (hour, minute int, err error) {
	if !timePattern.MatchString(s) {
		return 0, 0, &ValidationError{Field: "time", Reason: fmt.Sprintf("%q is not HH:MM", s)}
	}
	hour, _ = strconv.Atoi(s[:2])
	minute, _ = strconv.Atoi(s[3:])
	if hour > 23 {
		return 0, 0, &ValidationError{Field: "time", Reason: fmt.Sprintf("hour %d out of range", hour)}
	}
	if minute > 59 {
		return 0, 0, &ValidationError{Field: "time", Reason: fmt.Sprintf("minute %d out of range", minute)}
	}
	return hour, minute, nil
}

// Validate checks the alarm invariants: well-formed time, volume within
// [0,100], known day tags, non-negative fade-in duration.
func (a *Alarm) Validate() error {
	if _, _, err := ParseTime(a.Time); err != nil {
		return err
	}
	if a.Volume < 0 || a.Volume > 100 {
		return &ValidationError{Field: "volume", Reason: fmt.Sprintf("%d out of range [0,100]", a.Volume)}
	}
	for _, d := range a.Days {
		if _, err := ParseWeekday(string(d)); err != nil {
			return err
		}
	}
	if a.FadeIn && a.FadeInMinutes <= 0 {
		return &ValidationError{Field: "fadeInMinutes", Reason: "must be positive when fade-in is enabled"}
	}
	if a.PlaylistURI == "" {
		return &ValidationError{Field: "playlistUri", Reason: "must not be empty"}
	}
	return nil
}

// Matches reports whether the alarm should fire at now: the alarm is active,
// its time equals now truncated to the minute, and now's weekday is in Days
// (an empty Days set matches every day). Seconds are deliberately ignored so
// any tick within the matching minute qualifies.
func (a *Alarm) Matches(now time.Time) bool {
	if !a.Active {
		return false
	}
	hour, minute, err := ParseTime(a.Time)
	if err != nil {
		return false
	}
	if now.Hour() != hour || now.Minute() != minute {
		return false
	}
	if len(a.Days) == 0 {
		return true
	}
	today := WeekdayOf(now)
	for _, d := range a.Days {
		if d == today {
			return true
		}
	}
	return false
}

// Clone returns a deep copy, so callers can hand alarms across goroutine
// boundaries without sharing the Days slice.
func (a Alarm) Clone() Alarm {
	c := a
	if a.Days != nil {
		c.Days = make([]Weekday, len(a.Days))
		copy(c.Days, a.Days)
	}
	return c
}

// Tombstone marks an alarm as deleted so the deletion propagates through sync
// instead of being resurrected by a stale remote copy. Observed is set once
// the tombstone has completed a successful sync round-trip; only observed
// tombstones older than the grace window are purged.
type Tombstone struct {
	ID        string    `json:"id"`
	DeletedAt time.Time `json:"deletedAt"`
	Observed  bool      `json:"observed,omitempty"`
}

// ConflictRecord captures a last-write-wins resolution. The losing edit is
// retained in full for audit and UI display, not silently discarded.
type ConflictRecord struct {
	ID         string    `json:"id"`
	Winner     Alarm     `json:"winner"`
	Loser      Alarm     `json:"loser"`
	ResolvedAt time.Time `json:"resolvedAt"`
}

// Device is a client instance registered with the cloud store.
type Device struct {
	DeviceID     string    `json:"deviceId"`
	Name         string    `json:"name"`
	PlatformTag  string    `json:"platformTag"`
	RegisteredAt time.Time `json:"registeredAt"`
	LastSyncAt   time.Time `json:"lastSyncAt"`
}
