package engine

import (
	"sync"
	"time"
)

// Diagnostics aggregates engine counters for observability.
//
// Totals are monotonically non-decreasing; the current-track gauges reset at
// each track boundary. Written only by the master loop and the fan-out;
// Snapshot() gives readers a torn-free copy.
type Diagnostics struct {
	mu sync.Mutex

	startedAt time.Time

	loopIterations  uint64
	tracksStarted   uint64
	tracksCompleted uint64
	errorCount      uint64
	lastError       string
	lastErrorAt     time.Time

	subsCreated uint64
	subsDropped uint64
	subsClosed  uint64

	framesBroadcast uint64
	bytesBroadcast  uint64

	current TrackGauges
}

// TrackGauges describes the track currently in the pipeline.
type TrackGauges struct {
	Title         string        `json:"title,omitempty"`
	Source        string        `json:"source,omitempty"`
	BitrateMode   string        `json:"bitrate_mode,omitempty"`
	BytesPerSec   int           `json:"bytes_per_sec,omitempty"`
	BytesSent     uint64        `json:"bytes_sent"`
	PacingSleep   time.Duration `json:"pacing_sleep_ns"`
	PacingLate    time.Duration `json:"pacing_late_ns"`
	LateFrames    uint64        `json:"late_frames"`
	StarveTime    time.Duration `json:"starve_ns"`
	MaxSourceGap  time.Duration `json:"max_source_gap_ns"`
	SourceStalls  uint64        `json:"source_stalls"`
	StartedAt     time.Time     `json:"started_at,omitzero"`
}

// Snapshot is a point-in-time copy of every counter.
type Snapshot struct {
	UptimeSeconds   int64       `json:"uptime_seconds"`
	LoopIterations  uint64      `json:"loop_iterations"`
	TracksStarted   uint64      `json:"tracks_started"`
	TracksCompleted uint64      `json:"tracks_completed"`
	Errors          uint64      `json:"errors"`
	LastError       string      `json:"last_error,omitempty"`
	LastErrorAt     *time.Time  `json:"last_error_at,omitempty"`
	Subscribers     int         `json:"subscribers"`
	SubsCreated     uint64      `json:"subscribers_created"`
	SubsDropped     uint64      `json:"subscribers_dropped"`
	SubsClosed      uint64      `json:"subscribers_closed"`
	FramesBroadcast uint64      `json:"frames_broadcast"`
	BytesBroadcast  uint64      `json:"bytes_broadcast"`
	CurrentTrack    TrackGauges `json:"current_track"`
}

func NewDiagnostics() *Diagnostics {
	return &Diagnostics{startedAt: time.Now()}
}

func (d *Diagnostics) loopTick() {
	d.mu.Lock()
	d.loopIterations++
	d.mu.Unlock()
}

func (d *Diagnostics) trackStarted(g TrackGauges) {
	d.mu.Lock()
	d.tracksStarted++
	d.current = g
	d.current.StartedAt = time.Now()
	d.mu.Unlock()
}

func (d *Diagnostics) trackCompleted() {
	d.mu.Lock()
	d.tracksCompleted++
	d.mu.Unlock()
}

func (d *Diagnostics) recordError(err error) {
	d.mu.Lock()
	d.errorCount++
	d.lastError = err.Error()
	d.lastErrorAt = time.Now()
	d.current = TrackGauges{}
	d.mu.Unlock()
}

func (d *Diagnostics) addFrame(n int) {
	d.mu.Lock()
	d.framesBroadcast++
	d.bytesBroadcast += uint64(n)
	d.current.BytesSent += uint64(n)
	d.mu.Unlock()
}

func (d *Diagnostics) addPacingSleep(dt time.Duration) {
	d.mu.Lock()
	d.current.PacingSleep += dt
	d.mu.Unlock()
}

func (d *Diagnostics) addPacingLate(dt time.Duration) {
	d.mu.Lock()
	d.current.PacingLate += dt
	d.current.LateFrames++
	d.mu.Unlock()
}

func (d *Diagnostics) addStarve(dt time.Duration) {
	d.mu.Lock()
	d.current.StarveTime += dt
	d.mu.Unlock()
}

func (d *Diagnostics) noteSourceGap(gap time.Duration, stall bool) {
	d.mu.Lock()
	if gap > d.current.MaxSourceGap {
		d.current.MaxSourceGap = gap
	}
	if stall {
		d.current.SourceStalls++
	}
	d.mu.Unlock()
}

func (d *Diagnostics) subscriberCreated() {
	d.mu.Lock()
	d.subsCreated++
	d.mu.Unlock()
}

func (d *Diagnostics) subscriberDropped() {
	d.mu.Lock()
	d.subsDropped++
	d.mu.Unlock()
}

func (d *Diagnostics) subscriberClosed() {
	d.mu.Lock()
	d.subsClosed++
	d.mu.Unlock()
}

// SnapshotWith builds a snapshot; the live subscriber count comes from the
// fan-out registry.
func (d *Diagnostics) SnapshotWith(subscribers int) Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := Snapshot{
		UptimeSeconds:   int64(time.Since(d.startedAt).Seconds()),
		LoopIterations:  d.loopIterations,
		TracksStarted:   d.tracksStarted,
		TracksCompleted: d.tracksCompleted,
		Errors:          d.errorCount,
		LastError:       d.lastError,
		Subscribers:     subscribers,
		SubsCreated:     d.subsCreated,
		SubsDropped:     d.subsDropped,
		SubsClosed:      d.subsClosed,
		FramesBroadcast: d.framesBroadcast,
		BytesBroadcast:  d.bytesBroadcast,
		CurrentTrack:    d.current,
	}
	if !d.lastErrorAt.IsZero() {
		at := d.lastErrorAt
		s.LastErrorAt = &at
	}
	return s
}
