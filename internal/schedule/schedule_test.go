package schedule

import (
	"testing"
	"time"
)

func mustSlot(t *testing.T, start, end, source, key string) Slot {
	t.Helper()
	s, err := NewSlot(start, end, source, key)
	if err != nil {
		t.Fatalf("NewSlot(%q, %q): %v", start, end, err)
	}
	return s
}

func at(hour, min int) time.Time {
	return time.Date(2026, 3, 14, hour, min, 0, 0, time.UTC)
}

func TestChooseSlotIntervals(t *testing.T) {
	t.Parallel()
	sched := New([]Slot{
		mustSlot(t, "00:00", "08:00", "telegram", "@night"),
		mustSlot(t, "08:00", "18:00", "local", "/music"),
		mustSlot(t, "18:00", "00:00", "telegram", "@evening"),
	})

	tests := []struct {
		name string
		now  time.Time
		key  string
	}{
		{name: "night start", now: at(0, 0), key: "@night"},
		{name: "night end exclusive", now: at(7, 59), key: "@night"},
		{name: "day start inclusive", now: at(8, 0), key: "/music"},
		{name: "day", now: at(12, 30), key: "/music"},
		{name: "evening wraps to midnight", now: at(23, 59), key: "@evening"},
		{name: "evening start", now: at(18, 0), key: "@evening"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			slot, ok := sched.ChooseSlot(tt.now)
			if !ok {
				t.Fatal("expected a slot")
			}
			if slot.Key != tt.key {
				t.Fatalf("ChooseSlot(%v).Key = %q, want %q", tt.now, slot.Key, tt.key)
			}
		})
	}
}

func TestChooseSlotWraparound(t *testing.T) {
	t.Parallel()
	sched := New([]Slot{mustSlot(t, "22:00", "06:00", "local", "/night")})

	for _, now := range []time.Time{at(22, 0), at(23, 30), at(0, 0), at(5, 59)} {
		slot, ok := sched.ChooseSlot(now)
		if !ok || slot.Key != "/night" {
			t.Fatalf("expected wraparound match at %v", now)
		}
	}
}

func TestChooseSlotAllDay(t *testing.T) {
	t.Parallel()
	sched := New([]Slot{mustSlot(t, "09:00", "09:00", "local", "/music")})

	for _, now := range []time.Time{at(0, 0), at(8, 59), at(9, 0), at(23, 59)} {
		if _, ok := sched.ChooseSlot(now); !ok {
			t.Fatalf("all-day slot must match at %v", now)
		}
	}
}

func TestChooseSlotFallbackToFirst(t *testing.T) {
	t.Parallel()
	sched := New([]Slot{
		mustSlot(t, "10:00", "11:00", "local", "/a"),
		mustSlot(t, "12:00", "13:00", "local", "/b"),
	})

	slot, ok := sched.ChooseSlot(at(15, 0))
	if !ok {
		t.Fatal("non-empty schedule must always return a slot")
	}
	if slot.Key != "/a" {
		t.Fatalf("fallback slot = %q, want first slot /a", slot.Key)
	}
}

func TestChooseSlotEmpty(t *testing.T) {
	t.Parallel()
	if _, ok := New(nil).ChooseSlot(at(12, 0)); ok {
		t.Fatal("empty schedule must not return a slot")
	}
}

func TestParseTimeOfDay(t *testing.T) {
	t.Parallel()
	got, err := ParseTimeOfDay("23:15")
	if err != nil {
		t.Fatalf("ParseTimeOfDay: %v", err)
	}
	if got.Hour != 23 || got.Minute != 15 {
		t.Fatalf("unexpected result: %v", got)
	}

	for _, raw := range []string{"24:00", "12:60", "noon", ""} {
		if _, err := ParseTimeOfDay(raw); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}

func TestParseKind(t *testing.T) {
	t.Parallel()
	if k, err := ParseKind(" Telegram "); err != nil || k != KindTelegram {
		t.Fatalf("ParseKind = %v, %v", k, err)
	}
	if _, err := ParseKind("spotify"); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestResolveAbsoluteBoundaries(t *testing.T) {
	t.Parallel()
	sched := New([]Slot{
		mustSlot(t, "18:00", "00:00", "telegram", "@evening"),
		mustSlot(t, "09:00", "09:00", "local", "/music"),
	})

	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	resolved := sched.Resolve(now, time.UTC)
	if len(resolved) != 2 {
		t.Fatalf("expected 2 resolved slots, got %d", len(resolved))
	}

	wrap := resolved[0]
	if wrap.StartAt.Day() != 14 || wrap.EndAt.Day() != 15 {
		t.Fatalf("wrapping slot must end next day: %v .. %v", wrap.StartAt, wrap.EndAt)
	}
	allDay := resolved[1]
	if got := allDay.EndAt.Sub(allDay.StartAt); got != 24*time.Hour {
		t.Fatalf("all-day slot length = %v, want 24h", got)
	}
}
