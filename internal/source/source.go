// Package source defines the capability contract every track provider
// implements: pick a next track, open its raw byte stream.
package source

import (
	"context"
	"errors"
	"io"
	"math/rand/v2"
	"time"
)

// ErrExhausted means the source currently has no eligible track
// (empty directory, empty channel catalog). The engine treats it as
// transient and retries after a cooldown.
var ErrExhausted = errors.New("source exhausted: no eligible track")

// ErrMisconfigured means required config (channel key, credentials) is
// absent or invalid. Also transient from the engine's point of view:
// config may be fixed while the process keeps serving.
var ErrMisconfigured = errors.New("source misconfigured")

// Track is an opaque handle to one selected track plus its known metadata.
//
// Ref is owned exclusively by the Source that issued the Track and is only
// ever passed back into that same source's Open call.
type Track struct {
	Title    string
	Duration time.Duration // 0 when unknown
	Size     int64         // bytes; 0 when unknown
	Ref      any
}

// Source is a provider of playable tracks and their raw bytes.
//
// Implementations cache their candidate listing for a short TTL ("radio"
// freshness, not correctness) and tolerate re-querying. One instance per
// resolved (kind, key) pair lives for the whole process.
type Source interface {
	// ID is the stable source kind label ("local", "telegram").
	ID() string

	// DisplayName is a human-facing label for schedule/now-playing output.
	DisplayName(ctx context.Context) string

	// Enabled reports whether the source can currently serve tracks.
	Enabled() bool

	// NextTrack picks one track eligible for the given mime type using the
	// caller's generator. Returns ErrExhausted or ErrMisconfigured.
	NextTrack(ctx context.Context, mimeType string, rng *rand.Rand) (Track, error)

	// Open returns the track's raw byte stream: finite, single-pass, not
	// restartable. A second read of the same Track requires asking the
	// source again. Normal end-of-stream is io.EOF from the reader, never
	// an error.
	Open(ctx context.Context, track Track) (io.ReadCloser, error)

	// Close releases session resources. Idempotent.
	Close() error
}

// ExtensionsForMime maps the broadcast mime type to the file extensions a
// source should consider eligible.
func ExtensionsForMime(mimeType string) []string {
	if mimeType == "audio/ogg" {
		return []string{".ogg", ".opus"}
	}
	return []string{".mp3"}
}
