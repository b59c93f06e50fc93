// Package engine runs the broadcast: slot selection, track picks, the
// producer/pacer pipeline and the listener fan-out.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"radiod/internal/rng"
	"radiod/internal/schedule"
	"radiod/internal/source"
	"radiod/pkg/logx"
)

// ErrScheduleEmpty is returned by Run when no slots are configured at all.
// Everything else the loop recovers from; an empty schedule it cannot.
var ErrScheduleEmpty = errors.New("engine: schedule has no slots")

// SourceFactory builds or returns the source instance for a slot. The
// engine calls it at most once per distinct (kind, key) pair and keeps the
// instance for the life of the process.
type SourceFactory func(ctx context.Context, slot schedule.Slot) (source.Source, error)

// Config carries everything the engine needs; zero byte-size and timing
// fields fall back to the documented defaults.
type Config struct {
	Schedule *schedule.Schedule
	Location *time.Location
	Factory  SourceFactory

	MimeType              string
	SourceChunkSize       int
	BroadcastChunkSize    int
	TrackBufferChunks     int
	SubscriberQueueChunks int
	AssumedBitrateKbps    int
	InterTrackPause       time.Duration
	ErrorCooldown         time.Duration

	Log logx.Logger
}

func (c Config) withDefaults() Config {
	if c.Location == nil {
		c.Location = time.UTC
	}
	if c.MimeType == "" {
		c.MimeType = "audio/mpeg"
	}
	if c.SourceChunkSize <= 0 {
		c.SourceChunkSize = 65536
	}
	if c.BroadcastChunkSize <= 0 {
		c.BroadcastChunkSize = 4096
	}
	if c.TrackBufferChunks <= 0 {
		c.TrackBufferChunks = 8
	}
	if c.SubscriberQueueChunks <= 0 {
		c.SubscriberQueueChunks = 64
	}
	if c.AssumedBitrateKbps <= 0 {
		c.AssumedBitrateKbps = 192
	}
	if c.InterTrackPause <= 0 {
		c.InterTrackPause = 50 * time.Millisecond
	}
	if c.ErrorCooldown <= 0 {
		c.ErrorCooldown = 2 * time.Second
	}
	return c
}

// Engine is the single-writer master loop plus the read-side accessors the
// HTTP layer uses. One Engine per process; Run from exactly one goroutine.
type Engine struct {
	cfg    Config
	log    logx.Logger
	diag   *Diagnostics
	fanout *Fanout
	np     nowPlayingState
	rng    *rng.Registry

	srcMu   sync.Mutex
	sources map[string]source.Source

	// now is a test seam.
	now func() time.Time
}

func New(cfg Config) (*Engine, error) {
	cfg = cfg.withDefaults()
	if cfg.Schedule == nil || cfg.Schedule.Empty() {
		return nil, ErrScheduleEmpty
	}
	if cfg.Factory == nil {
		return nil, errors.New("engine: nil source factory")
	}
	if cfg.Log.IsZero() {
		cfg.Log = logx.Nop()
	}

	diag := NewDiagnostics()
	e := &Engine{
		cfg:     cfg,
		log:     cfg.Log,
		diag:    diag,
		fanout:  NewFanout(cfg.SubscriberQueueChunks, diag, cfg.Log),
		rng:     rng.NewRegistry(cfg.Location, cfg.Log),
		sources: map[string]source.Source{},
		now:     time.Now,
	}
	return e, nil
}

// Run drives the broadcast until ctx is canceled. Any per-iteration failure
// (source down, open failed, mid-track read error) is recorded, surfaced via
// now-playing, and followed by a cooldown; the loop itself never gives up.
func (e *Engine) Run(ctx context.Context) error {
	e.rng.StartRollover()
	defer e.rng.StopRollover()

	e.log.Info("broadcast loop starting",
		logx.String("mime_type", e.cfg.MimeType),
		logx.Int("slots", len(e.cfg.Schedule.Slots())))

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		e.diag.loopTick()

		if err := e.playNext(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			e.diag.recordError(err)
			e.np.setError(NowPlaying{
				Title:    "stream unavailable",
				Source:   "none",
				MimeType: e.cfg.MimeType,
			})
			e.log.Warn("broadcast iteration failed", logx.Err(err))
			if !sleepCtx(ctx, e.cfg.ErrorCooldown) {
				return ctx.Err()
			}
			continue
		}

		if !sleepCtx(ctx, e.cfg.InterTrackPause) {
			return ctx.Err()
		}
	}
}

// playNext runs one full iteration: slot, source, pick, stream.
func (e *Engine) playNext(ctx context.Context) error {
	now := e.now().In(e.cfg.Location)
	slot, ok := e.cfg.Schedule.ChooseSlot(now)
	if !ok {
		return ErrScheduleEmpty
	}

	src, err := e.sourceFor(ctx, slot)
	if err != nil {
		return fmt.Errorf("source %s: %w", slot.CacheKey(), err)
	}
	if !src.Enabled() {
		return fmt.Errorf("source %s: %w", src.ID(), source.ErrMisconfigured)
	}

	gen := e.rng.Pick(string(slot.Source), slot.Key)
	track, err := src.NextTrack(ctx, e.cfg.MimeType, gen)
	if err != nil {
		return fmt.Errorf("pick from %s: %w", src.ID(), err)
	}

	rc, err := src.Open(ctx, track)
	if err != nil {
		return fmt.Errorf("open %q from %s: %w", track.Title, src.ID(), err)
	}

	bps, mode := resolveBitrate(track, e.cfg.AssumedBitrateKbps)
	label := src.DisplayName(ctx)

	e.np.setTrack(NowPlaying{
		Title:           track.Title,
		Source:          label,
		DurationSeconds: durationSeconds(track.Duration),
		MimeType:        e.cfg.MimeType,
	})
	e.diag.trackStarted(TrackGauges{
		Title:       track.Title,
		Source:      src.ID(),
		BitrateMode: mode,
		BytesPerSec: bps,
		StartedAt:   e.now(),
	})
	e.log.Info("track started",
		logx.String("track", track.Title),
		logx.String("source", src.ID()),
		logx.String("bitrate_mode", mode),
		logx.Int("bytes_per_sec", bps))

	err = e.runPipeline(ctx, rc, pipelineConfig{
		sourceChunkSize:    e.cfg.SourceChunkSize,
		broadcastChunkSize: e.cfg.BroadcastChunkSize,
		trackBufferChunks:  e.cfg.TrackBufferChunks,
		bytesPerSec:        bps,
	})
	if err != nil {
		return fmt.Errorf("stream %q from %s: %w", track.Title, src.ID(), err)
	}

	e.diag.trackCompleted()
	e.log.Debug("track completed", logx.String("track", track.Title))
	return nil
}

// sourceFor returns the cached instance for the slot's (kind, key),
// building it on first use.
func (e *Engine) sourceFor(ctx context.Context, slot schedule.Slot) (source.Source, error) {
	e.srcMu.Lock()
	defer e.srcMu.Unlock()

	key := slot.CacheKey()
	if src, ok := e.sources[key]; ok {
		return src, nil
	}
	src, err := e.cfg.Factory(ctx, slot)
	if err != nil {
		return nil, err
	}
	e.sources[key] = src
	return src, nil
}

// Subscribe registers one listener on the live fan-out.
func (e *Engine) Subscribe() *Subscriber { return e.fanout.Subscribe() }

// Unsubscribe removes a listener; safe to call more than once.
func (e *Engine) Unsubscribe(sub *Subscriber) { e.fanout.Unsubscribe(sub) }

// NowPlaying returns the current record, or nil before the first track.
func (e *Engine) NowPlaying() *NowPlaying { return e.np.Get() }

// Position returns elapsed seconds in the current track, nil when idle.
func (e *Engine) Position() *int { return e.np.Position() }

// Diagnostics returns a point-in-time snapshot of loop and pipeline counters.
func (e *Engine) Diagnostics() Snapshot {
	return e.diag.SnapshotWith(e.fanout.Count())
}

// RuntimeInfo echoes the effective stream settings for debug output.
type RuntimeInfo struct {
	MimeType              string `json:"mime_type"`
	Timezone              string `json:"schedule_timezone"`
	AssumedBitrateKbps    int    `json:"assumed_bitrate_kbps"`
	SourceChunkSize       int    `json:"source_chunk_size"`
	BroadcastChunkSize    int    `json:"broadcast_chunk_size"`
	TrackBufferChunks     int    `json:"track_buffer_chunks"`
	SubscriberQueueChunks int    `json:"subscriber_queue_chunks"`
}

func (e *Engine) Describe() RuntimeInfo {
	return RuntimeInfo{
		MimeType:              e.cfg.MimeType,
		Timezone:              e.cfg.Location.String(),
		AssumedBitrateKbps:    e.cfg.AssumedBitrateKbps,
		SourceChunkSize:       e.cfg.SourceChunkSize,
		BroadcastChunkSize:    e.cfg.BroadcastChunkSize,
		TrackBufferChunks:     e.cfg.TrackBufferChunks,
		SubscriberQueueChunks: e.cfg.SubscriberQueueChunks,
	}
}

// SlotView is one schedule entry resolved for clients: absolute boundaries
// on today's calendar plus the source's display label.
type SlotView struct {
	Start   string    `json:"start"`
	End     string    `json:"end"`
	StartAt time.Time `json:"start_at"`
	EndAt   time.Time `json:"end_at"`
	Source  string    `json:"source"`
	Key     string    `json:"key,omitempty"`
	Label   string    `json:"label"`
	Active  bool      `json:"active"`
}

// ScheduleView renders the configured schedule anchored to today.
func (e *Engine) ScheduleView(ctx context.Context) []SlotView {
	now := e.now().In(e.cfg.Location)
	active, _ := e.cfg.Schedule.ChooseSlot(now)

	resolved := e.cfg.Schedule.Resolve(now, e.cfg.Location)
	out := make([]SlotView, 0, len(resolved))
	for _, rs := range resolved {
		label := string(rs.Source)
		if src, err := e.sourceFor(ctx, rs.Slot); err == nil {
			label = src.DisplayName(ctx)
		}
		out = append(out, SlotView{
			Start:   rs.Start.String(),
			End:     rs.End.String(),
			// Absolute instants go out in UTC so clients in other zones
			// render them correctly.
			StartAt: rs.StartAt.UTC(),
			EndAt:   rs.EndAt.UTC(),
			Source:  string(rs.Source),
			Key:     rs.Key,
			Label:   label,
			Active:  rs.Slot == active,
		})
	}
	return out
}

// QueuePreview returns the next count titles the current slot would play,
// drawn from a clone of the live generator. The preview matches what the
// loop will actually pick as long as the listing does not change underneath.
func (e *Engine) QueuePreview(ctx context.Context, count int) ([]string, error) {
	now := e.now().In(e.cfg.Location)
	slot, ok := e.cfg.Schedule.ChooseSlot(now)
	if !ok {
		return nil, ErrScheduleEmpty
	}
	return e.previewSlot(ctx, slot, count)
}

// SlotPreview maps one slot to its upcoming titles, nil on source error.
type SlotPreview struct {
	Source string   `json:"source"`
	Key    string   `json:"key,omitempty"`
	Titles []string `json:"titles"`
	Error  string   `json:"error,omitempty"`
}

// PreviewTracks previews every distinct (kind, key) pair on the schedule.
func (e *Engine) PreviewTracks(ctx context.Context, perSlot int) []SlotPreview {
	seen := map[string]bool{}
	var out []SlotPreview
	for _, slot := range e.cfg.Schedule.Slots() {
		if seen[slot.CacheKey()] {
			continue
		}
		seen[slot.CacheKey()] = true

		p := SlotPreview{Source: string(slot.Source), Key: slot.Key}
		titles, err := e.previewSlot(ctx, slot, perSlot)
		if err != nil {
			p.Error = err.Error()
		} else {
			p.Titles = titles
		}
		out = append(out, p)
	}
	return out
}

func (e *Engine) previewSlot(ctx context.Context, slot schedule.Slot, count int) ([]string, error) {
	src, err := e.sourceFor(ctx, slot)
	if err != nil {
		return nil, err
	}
	gen := e.rng.Clone(string(slot.Source), slot.Key)

	titles := make([]string, 0, count)
	for i := 0; i < count; i++ {
		track, err := src.NextTrack(ctx, e.cfg.MimeType, gen)
		if err != nil {
			if len(titles) > 0 {
				break
			}
			return nil, err
		}
		titles = append(titles, track.Title)
	}
	return titles, nil
}

// Close terminates the fan-out and every cached source. Call after Run has
// returned.
func (e *Engine) Close() error {
	e.fanout.Close()

	e.srcMu.Lock()
	srcs := make([]source.Source, 0, len(e.sources))
	for _, src := range e.sources {
		srcs = append(srcs, src)
	}
	e.sources = map[string]source.Source{}
	e.srcMu.Unlock()

	var firstErr error
	for _, src := range srcs {
		if err := src.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func durationSeconds(d time.Duration) *int {
	if d <= 0 {
		return nil
	}
	sec := int(d.Seconds())
	return &sec
}

// sleepCtx sleeps for d unless ctx ends first; reports whether the full
// sleep completed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
