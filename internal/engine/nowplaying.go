package engine

import (
	"sync"
	"time"
)

// NowPlaying is the single current-track record, replaced wholesale on each
// track change or error.
type NowPlaying struct {
	Title           string `json:"title"`
	Source          string `json:"source"`
	DurationSeconds *int   `json:"duration_seconds"`
	PositionSeconds *int   `json:"position_seconds"`
	MimeType        string `json:"mime_type"`
}

// nowPlayingState is mutated only by the master loop; read by any number of
// observers.
type nowPlayingState struct {
	mu        sync.RWMutex
	current   *NowPlaying
	startedAt time.Time // monotonic anchor; zero while no track is playing
}

func (s *nowPlayingState) setTrack(np NowPlaying) {
	s.mu.Lock()
	s.current = &np
	// time.Now carries a monotonic reading, so Position survives wall-clock
	// adjustments.
	s.startedAt = time.Now()
	s.mu.Unlock()
}

// setError publishes a visible placeholder and clears the position anchor.
func (s *nowPlayingState) setError(np NowPlaying) {
	s.mu.Lock()
	s.current = &np
	s.startedAt = time.Time{}
	s.mu.Unlock()
}

// Get returns a copy of the current record with position filled in, or nil
// before the first track.
func (s *nowPlayingState) Get() *NowPlaying {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return nil
	}
	cp := *s.current
	cp.PositionSeconds = s.positionLocked()
	return &cp
}

// Position returns elapsed playback seconds, or nil when no track has
// started (startup, recovery).
func (s *nowPlayingState) Position() *int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.positionLocked()
}

func (s *nowPlayingState) positionLocked() *int {
	if s.startedAt.IsZero() {
		return nil
	}
	sec := int(time.Since(s.startedAt).Seconds())
	return &sec
}
