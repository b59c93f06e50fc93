package config

// Config is the process configuration for radiod.
//
// All durations are Go duration strings (e.g. "50ms", "2s", "1m").
type Config struct {
	Stream   StreamConfig   `json:"stream"`
	Schedule ScheduleConfig `json:"schedule"`
	Sources  SourcesConfig  `json:"sources"`
	Catalog  CatalogConfig  `json:"catalog,omitempty"`
	HTTP     HTTPConfig     `json:"http"`
	Logging  LoggingConfig  `json:"logging"`
}

// StreamConfig tunes the broadcast pipeline.
//
// Defaults (when fields are omitted/zero):
//   - mime_type: "audio/mpeg"
//   - source_chunk_size: 65536
//   - broadcast_chunk_size: 4096
//   - track_buffer_chunks: 8
//   - subscriber_queue_chunks: 64
//   - assumed_bitrate_kbps: 192
//   - inter_track_pause: "50ms"
//   - error_cooldown: "2s"
type StreamConfig struct {
	MimeType              string `json:"mime_type,omitempty"`
	SourceChunkSize       int    `json:"source_chunk_size,omitempty"`
	BroadcastChunkSize    int    `json:"broadcast_chunk_size,omitempty"`
	TrackBufferChunks     int    `json:"track_buffer_chunks,omitempty"`
	SubscriberQueueChunks int    `json:"subscriber_queue_chunks,omitempty"`
	AssumedBitrateKbps    int    `json:"assumed_bitrate_kbps,omitempty"`
	InterTrackPause       string `json:"inter_track_pause,omitempty"`
	ErrorCooldown         string `json:"error_cooldown,omitempty"`
}

// ScheduleConfig is the daily schedule: an ordered slot list plus the
// time zone the wall-clock slot boundaries are interpreted in.
type ScheduleConfig struct {
	Timezone string      `json:"timezone,omitempty"` // default "UTC"
	Slots    []SlotEntry `json:"slots"`
}

// SlotEntry is one recurring daily interval mapped to a source.
//
// start == end means the slot covers the whole day; end < start means the
// interval wraps past midnight. Order matters: the first matching slot wins.
type SlotEntry struct {
	Start  string `json:"start"` // "HH:MM"
	End    string `json:"end"`   // "HH:MM"
	Source string `json:"source"`
	Key    string `json:"key,omitempty"`
}

type SourcesConfig struct {
	Local    LocalSourceConfig    `json:"local,omitempty"`
	Telegram TelegramSourceConfig `json:"telegram,omitempty"`
}

type LocalSourceConfig struct {
	Dir string `json:"dir,omitempty"` // default "/music"
}

// TelegramSourceConfig configures the Telegram channel source.
//
// The bot must be an admin of the channel so it receives channel posts; the
// candidate catalog is built from observed audio posts.
type TelegramSourceConfig struct {
	Token       string `json:"token,omitempty"`
	Channel     string `json:"channel,omitempty"`
	PollTimeout string `json:"poll_timeout,omitempty"`  // default "10s"
	RatePerSec  int    `json:"rate_per_sec,omitempty"`  // Bot API call budget, default 20
	CatalogSize int    `json:"catalog_size,omitempty"`  // max remembered candidates, default 500
	CacheTTL    string `json:"cache_ttl,omitempty"`     // candidate list TTL, default "15s"
}

// CatalogConfig controls the persistent track catalog.
//
// Driver values:
//   - "file": dependency-free file backend (jsonl journal + snapshot)
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", the catalog is memory-only.
type CatalogConfig struct {
	Driver      string `json:"driver,omitempty"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

type HTTPConfig struct {
	Addr        string `json:"addr,omitempty"`         // default ":8000"
	ReadTimeout string `json:"read_timeout,omitempty"` // default "10s"
	IdleTimeout string `json:"idle_timeout,omitempty"` // default "2m"
}

type LoggingConfig struct {
	Level   string            `json:"level,omitempty"`
	Console *bool             `json:"console,omitempty"` // default true
	File    LoggingFileConfig `json:"file,omitempty"`
}

type LoggingFileConfig struct {
	Enabled bool   `json:"enabled,omitempty"`
	Path    string `json:"path,omitempty"`
}
