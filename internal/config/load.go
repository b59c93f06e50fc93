package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// envOverrides are applied on top of the config file so secrets can stay out
// of it (container/env deployments).
type envOverrides struct {
	TelegramToken   string `env:"RADIOD_TELEGRAM_TOKEN"`
	TelegramChannel string `env:"RADIOD_TELEGRAM_CHANNEL"`
	LocalDir        string `env:"RADIOD_LOCAL_DIR"`
	HTTPAddr        string `env:"RADIOD_HTTP_ADDR"`
	LogLevel        string `env:"RADIOD_LOG_LEVEL"`
}

// Load reads, strictly decodes, env-patches and validates the config file.
func Load(path string) (*Config, error) {
	cfg, err := Parse(path)
	if err != nil {
		return nil, err
	}

	var ov envOverrides
	if err := env.Parse(&ov); err != nil {
		return nil, fmt.Errorf("env overrides: %w", err)
	}
	applyOverrides(cfg, ov)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes the file without applying env overrides or validation.
func Parse(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	jb, err := coerceToJSONBytes(path, b)
	if err != nil {
		return nil, err
	}

	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, err
	}
	// reject trailing tokens (e.g. concatenated JSON)
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return nil, fmt.Errorf("invalid config: trailing data")
		}
		return nil, err
	}
	return &cfg, nil
}

func applyOverrides(cfg *Config, ov envOverrides) {
	if ov.TelegramToken != "" {
		cfg.Sources.Telegram.Token = ov.TelegramToken
	}
	if ov.TelegramChannel != "" {
		cfg.Sources.Telegram.Channel = ov.TelegramChannel
	}
	if ov.LocalDir != "" {
		cfg.Sources.Local.Dir = ov.LocalDir
	}
	if ov.HTTPAddr != "" {
		cfg.HTTP.Addr = ov.HTTPAddr
	}
	if ov.LogLevel != "" {
		cfg.Logging.Level = ov.LogLevel
	}
}

// Validate rejects configs the engine would not be able to start with.
// These failures are fatal at process start only; everything after startup is
// retried, not validated.
func (c *Config) Validate() error {
	switch c.Stream.MimeType {
	case "", "audio/mpeg", "audio/ogg":
	default:
		return fmt.Errorf("stream.mime_type: unsupported %q", c.Stream.MimeType)
	}
	for name, v := range map[string]int{
		"stream.source_chunk_size":       c.Stream.SourceChunkSize,
		"stream.broadcast_chunk_size":    c.Stream.BroadcastChunkSize,
		"stream.track_buffer_chunks":     c.Stream.TrackBufferChunks,
		"stream.subscriber_queue_chunks": c.Stream.SubscriberQueueChunks,
		"stream.assumed_bitrate_kbps":    c.Stream.AssumedBitrateKbps,
	} {
		if v < 0 {
			return fmt.Errorf("%s: must not be negative", name)
		}
	}
	for _, field := range []struct{ path, raw string }{
		{"stream.inter_track_pause", c.Stream.InterTrackPause},
		{"stream.error_cooldown", c.Stream.ErrorCooldown},
		{"sources.telegram.poll_timeout", c.Sources.Telegram.PollTimeout},
		{"sources.telegram.cache_ttl", c.Sources.Telegram.CacheTTL},
		{"catalog.busy_timeout", c.Catalog.BusyTimeout},
		{"http.read_timeout", c.HTTP.ReadTimeout},
		{"http.idle_timeout", c.HTTP.IdleTimeout},
	} {
		if _, err := ParseDurationField(field.path, field.raw); err != nil {
			return err
		}
	}

	if tz := strings.TrimSpace(c.Schedule.Timezone); tz != "" && !strings.EqualFold(tz, "UTC") {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("schedule.timezone: %w", err)
		}
	}
	if len(c.Schedule.Slots) == 0 {
		return errors.New("schedule.slots: at least one slot is required")
	}
	for i, s := range c.Schedule.Slots {
		switch s.Source {
		case "local", "telegram":
		default:
			return fmt.Errorf("schedule.slots[%d].source: unknown kind %q", i, s.Source)
		}
		for _, f := range []struct{ name, raw string }{{"start", s.Start}, {"end", s.End}} {
			if _, _, err := parseHHMM(f.raw); err != nil {
				return fmt.Errorf("schedule.slots[%d].%s: %w", i, f.name, err)
			}
		}
	}
	return nil
}

func parseHHMM(raw string) (h, m int, err error) {
	s := strings.TrimSpace(raw)
	if n, _ := fmt.Sscanf(s, "%d:%d", &h, &m); n != 2 {
		return 0, 0, fmt.Errorf("invalid time of day %q (want HH:MM)", raw)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("time of day %q out of range", raw)
	}
	return h, m, nil
}

// Timezone resolves the schedule location, defaulting to UTC.
func (c *Config) Timezone() (*time.Location, error) {
	tz := strings.TrimSpace(c.Schedule.Timezone)
	if tz == "" || strings.EqualFold(tz, "UTC") {
		return time.UTC, nil
	}
	return time.LoadLocation(tz)
}
