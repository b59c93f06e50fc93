// Package schedule maps wall-clock time to the active broadcast slot.
//
// The slot list is immutable after construction and safe for any number of
// concurrent readers; choosing a slot does no I/O.
package schedule

import (
	"fmt"
	"strings"
	"time"
)

// Kind identifies a source implementation a slot is mapped to.
type Kind string

const (
	KindLocal    Kind = "local"
	KindTelegram Kind = "telegram"
)

func ParseKind(raw string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(raw))) {
	case KindLocal:
		return KindLocal, nil
	case KindTelegram:
		return KindTelegram, nil
	}
	return "", fmt.Errorf("unknown source kind %q", raw)
}

// TimeOfDay is a wall-clock point within a day, minute resolution.
type TimeOfDay struct {
	Hour   int
	Minute int
}

func ParseTimeOfDay(raw string) (TimeOfDay, error) {
	var h, m int
	s := strings.TrimSpace(raw)
	if n, _ := fmt.Sscanf(s, "%d:%d", &h, &m); n != 2 {
		return TimeOfDay{}, fmt.Errorf("invalid time of day %q (want HH:MM)", raw)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return TimeOfDay{}, fmt.Errorf("time of day %q out of range", raw)
	}
	return TimeOfDay{Hour: h, Minute: m}, nil
}

func (t TimeOfDay) String() string { return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute) }

func (t TimeOfDay) minutes() int { return t.Hour*60 + t.Minute }

// Before reports strict ordering within one day.
func (t TimeOfDay) Before(u TimeOfDay) bool { return t.minutes() < u.minutes() }

func (t TimeOfDay) Equal(u TimeOfDay) bool { return t.minutes() == u.minutes() }

// Slot is one recurring daily interval mapped to a source.
//
// Start == End means the slot covers the whole day; End < Start means the
// interval wraps past midnight.
type Slot struct {
	Start  TimeOfDay
	End    TimeOfDay
	Source Kind
	Key    string
}

// CacheKey identifies the long-lived source instance a slot resolves to.
func (s Slot) CacheKey() string { return string(s.Source) + "\x00" + s.Key }

// NewSlot parses one schedule entry.
func NewSlot(start, end, source, key string) (Slot, error) {
	st, err := ParseTimeOfDay(start)
	if err != nil {
		return Slot{}, err
	}
	en, err := ParseTimeOfDay(end)
	if err != nil {
		return Slot{}, err
	}
	kind, err := ParseKind(source)
	if err != nil {
		return Slot{}, err
	}
	return Slot{Start: st, End: en, Source: kind, Key: strings.TrimSpace(key)}, nil
}

// Schedule is an ordered, immutable slot list. Order matters: the first
// matching slot wins.
type Schedule struct {
	slots []Slot
}

func New(slots []Slot) *Schedule {
	cp := make([]Slot, len(slots))
	copy(cp, slots)
	return &Schedule{slots: cp}
}

func (s *Schedule) Slots() []Slot {
	cp := make([]Slot, len(s.slots))
	copy(cp, s.slots)
	return cp
}

func (s *Schedule) Empty() bool { return len(s.slots) == 0 }

// ChooseSlot returns the first slot whose interval contains now's time of
// day. When no interval matches, it falls back to the first configured slot;
// this keeps off-schedule behavior predictable rather than guessing a
// "closest" slot. ok is false only for an empty schedule.
func (s *Schedule) ChooseSlot(now time.Time) (Slot, bool) {
	if len(s.slots) == 0 {
		return Slot{}, false
	}
	cur := TimeOfDay{Hour: now.Hour(), Minute: now.Minute()}
	for _, slot := range s.slots {
		if inSlot(cur, slot.Start, slot.End) {
			return slot, true
		}
	}
	return s.slots[0], true
}

func inSlot(cur, start, end TimeOfDay) bool {
	if start.Equal(end) {
		return true
	}
	if start.Before(end) {
		return !cur.Before(start) && cur.Before(end)
	}
	// wraps across midnight
	return !cur.Before(start) || cur.Before(end)
}

// ResolvedSlot is a slot with absolute boundaries for one concrete day,
// for schedule rendering on clients in other time zones.
type ResolvedSlot struct {
	Slot
	StartAt time.Time
	EndAt   time.Time
}

// Resolve anchors every slot to the calendar day of now in loc. All-day and
// midnight-wrapping slots get their end pushed to the next day.
func (s *Schedule) Resolve(now time.Time, loc *time.Location) []ResolvedSlot {
	local := now.In(loc)
	y, mo, d := local.Date()

	out := make([]ResolvedSlot, 0, len(s.slots))
	for _, slot := range s.slots {
		startAt := time.Date(y, mo, d, slot.Start.Hour, slot.Start.Minute, 0, 0, loc)
		endAt := time.Date(y, mo, d, slot.End.Hour, slot.End.Minute, 0, 0, loc)
		if slot.Start.Equal(slot.End) {
			endAt = startAt.AddDate(0, 0, 1)
		} else if slot.End.Before(slot.Start) {
			endAt = endAt.AddDate(0, 0, 1)
		}
		out = append(out, ResolvedSlot{Slot: slot, StartAt: startAt, EndAt: endAt})
	}
	return out
}
