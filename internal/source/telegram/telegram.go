// Package telegram serves tracks posted to a Telegram channel.
//
// The source is Bot API native: the bot must be a member of the channel so it
// receives channel posts. Observed audio posts are recorded as candidates
// (and persisted to the catalog, so the library survives restarts); playback
// downloads the file via the Bot API on demand.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"radiod/internal/catalog"
	"radiod/internal/source"
	"radiod/pkg/logx"
)

type Config struct {
	Token       string
	Channel     string
	PollTimeout time.Duration // default 10s
	RatePerSec  int           // Bot API call budget, default 20
	CatalogSize int           // max remembered candidates, default 500
	CacheTTL    time.Duration // candidate list TTL, default 15s
}

type tgTrack struct {
	fileID string
}

// Channel is the Telegram channel source.
type Channel struct {
	cfg Config
	log logx.Logger

	bot     *tele.Bot
	cat     catalog.Catalog // nil means memory-only
	limiter *rate.Limiter

	mu         sync.Mutex
	candidates map[string]catalog.Entry
	listed     []catalog.Entry // sorted snapshot of candidates
	listedAt   time.Time
	label      string

	runMu   sync.Mutex
	running bool
	stop    context.CancelFunc
	runWG   sync.WaitGroup
}

// New builds the source. A missing token or channel yields a disabled
// instance rather than an error: the engine reports ErrMisconfigured at pick
// time and the process keeps running so config can be fixed.
func New(cfg Config, cat catalog.Catalog, log logx.Logger) (*Channel, error) {
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 10 * time.Second
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 20
	}
	if cfg.CatalogSize <= 0 {
		cfg.CatalogSize = 500
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 15 * time.Second
	}
	cfg.Channel = strings.TrimSpace(cfg.Channel)

	ch := &Channel{
		cfg:        cfg,
		log:        log,
		cat:        cat,
		limiter:    rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
		candidates: map[string]catalog.Entry{},
	}

	if strings.TrimSpace(cfg.Token) == "" || cfg.Channel == "" {
		return ch, nil
	}

	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: cfg.PollTimeout},
	})
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	ch.bot = b
	return ch, nil
}

func (c *Channel) ID() string { return "telegram" }

func (c *Channel) Enabled() bool { return c.bot != nil }

// Start begins observing channel posts. Safe to call once; no-op when the
// source is disabled.
func (c *Channel) Start(ctx context.Context) {
	if c.bot == nil {
		return
	}
	c.runMu.Lock()
	if c.running {
		c.runMu.Unlock()
		return
	}
	c.running = true
	rctx, cancel := context.WithCancel(ctx)
	c.stop = cancel
	c.runMu.Unlock()

	c.bot.Handle(tele.OnChannelPost, func(tc tele.Context) error {
		c.observePost(tc.Message())
		return nil
	})

	c.runWG.Add(2)
	go func() {
		defer c.runWG.Done()
		c.bot.Start()
	}()
	go func() {
		defer c.runWG.Done()
		<-rctx.Done()
		c.bot.Stop()
	}()

	// Warm the candidate set from the catalog so the station can play
	// immediately after a restart.
	if c.cat != nil {
		if entries, err := c.cat.List(ctx, c.cfg.Channel); err == nil && len(entries) > 0 {
			c.mu.Lock()
			for _, e := range entries {
				c.candidates[e.FileID] = e
			}
			c.mu.Unlock()
			c.log.Info("telegram catalog warmed", logx.Int("candidates", len(entries)), logx.String("channel", c.cfg.Channel))
		}
	}
}

func (c *Channel) Close() error {
	c.runMu.Lock()
	stop := c.stop
	c.stop = nil
	running := c.running
	c.running = false
	c.runMu.Unlock()
	if running && stop != nil {
		stop()
		c.runWG.Wait()
	}
	return nil
}

func (c *Channel) DisplayName(ctx context.Context) string {
	if c.cfg.Channel == "" {
		return "telegram"
	}

	c.mu.Lock()
	label := c.label
	c.mu.Unlock()
	if label != "" {
		return label
	}
	if c.bot == nil {
		return c.cfg.Channel
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return c.cfg.Channel
	}
	chat, err := c.bot.ChatByUsername(c.cfg.Channel)
	if err != nil {
		return c.cfg.Channel
	}
	label = strings.TrimSpace(chat.Title)
	if label == "" && chat.Username != "" {
		label = "@" + strings.TrimPrefix(chat.Username, "@")
	}
	if label == "" {
		label = c.cfg.Channel
	}

	c.mu.Lock()
	c.label = label
	c.mu.Unlock()
	return label
}

func (c *Channel) NextTrack(ctx context.Context, mimeType string, rng *rand.Rand) (source.Track, error) {
	if c.bot == nil {
		return source.Track{}, fmt.Errorf("%w: telegram token/channel is not set", source.ErrMisconfigured)
	}

	list := c.eligible(mimeType)
	if len(list) == 0 {
		return source.Track{}, fmt.Errorf("%w: no audio posts seen in %s", source.ErrExhausted, c.cfg.Channel)
	}

	e := list[rng.IntN(len(list))]
	return source.Track{
		Title:    e.Title,
		Duration: time.Duration(e.Duration) * time.Second,
		Size:     e.Size,
		Ref:      tgTrack{fileID: e.FileID},
	}, nil
}

func (c *Channel) Open(ctx context.Context, track source.Track) (io.ReadCloser, error) {
	ref, ok := track.Ref.(tgTrack)
	if !ok {
		return nil, errors.New("telegram: track ref from another source")
	}
	if c.bot == nil {
		return nil, fmt.Errorf("%w: telegram source is disabled", source.ErrMisconfigured)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return c.bot.File(&tele.File{FileID: ref.fileID})
}

// eligible returns the TTL-cached, deterministically ordered candidate list
// filtered for the broadcast mime type.
func (c *Channel) eligible(mimeType string) []catalog.Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	if time.Since(c.listedAt) >= c.cfg.CacheTTL || c.listed == nil {
		list := make([]catalog.Entry, 0, len(c.candidates))
		for _, e := range c.candidates {
			list = append(list, e)
		}
		sort.Slice(list, func(i, j int) bool {
			if !list[i].AddedAt.Equal(list[j].AddedAt) {
				return list[i].AddedAt.Before(list[j].AddedAt)
			}
			return list[i].FileID < list[j].FileID
		})
		c.listed = list
		c.listedAt = time.Now()
	}

	exts := source.ExtensionsForMime(mimeType)
	out := make([]catalog.Entry, 0, len(c.listed))
	for _, e := range c.listed {
		if nameMatches(e.Title, exts) {
			out = append(out, e)
		}
	}
	return out
}

func (c *Channel) observePost(m *tele.Message) {
	if m == nil || m.Chat == nil {
		return
	}
	if !c.fromConfiguredChannel(m.Chat) {
		return
	}

	e, ok := entryFromMessage(m)
	if !ok {
		return
	}

	c.mu.Lock()
	c.candidates[e.FileID] = e
	c.listedAt = time.Time{} // invalidate sorted snapshot
	over := len(c.candidates) - c.cfg.CatalogSize
	c.mu.Unlock()

	c.log.Debug("telegram candidate recorded", logx.String("title", e.Title), logx.Int64("size", e.Size))

	if c.cat != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.cat.Put(ctx, c.cfg.Channel, e); err != nil {
			c.log.Warn("catalog put failed", logx.Err(err))
		}
		if over > 0 {
			_ = c.cat.Prune(ctx, c.cfg.Channel, c.cfg.CatalogSize)
		}
	}
	if over > 0 {
		c.pruneMemory()
	}
}

func (c *Channel) fromConfiguredChannel(chat *tele.Chat) bool {
	want := strings.TrimPrefix(c.cfg.Channel, "@")
	return strings.EqualFold(chat.Username, want)
}

func (c *Channel) pruneMemory() {
	c.mu.Lock()
	defer c.mu.Unlock()
	over := len(c.candidates) - c.cfg.CatalogSize
	if over <= 0 {
		return
	}
	list := make([]catalog.Entry, 0, len(c.candidates))
	for _, e := range c.candidates {
		list = append(list, e)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].AddedAt.Before(list[j].AddedAt) })
	for _, e := range list[:over] {
		delete(c.candidates, e.FileID)
	}
	c.listedAt = time.Time{}
}

// entryFromMessage extracts a playable candidate from a channel post.
// Audio posts and audio-file documents qualify.
func entryFromMessage(m *tele.Message) (catalog.Entry, bool) {
	switch {
	case m.Audio != nil:
		a := m.Audio
		title := strings.TrimSpace(a.FileName)
		if title == "" {
			title = strings.TrimSpace(strings.TrimSpace(a.Performer + " " + a.Title))
		}
		if title == "" {
			title = fmt.Sprintf("Telegram track %d", m.ID)
		}
		return catalog.Entry{
			FileID:   a.FileID,
			Title:    title,
			Duration: a.Duration,
			Size:     a.FileSize,
			AddedAt:  m.Time(),
		}, a.FileID != ""
	case m.Document != nil:
		d := m.Document
		name := strings.TrimSpace(d.FileName)
		if name == "" {
			return catalog.Entry{}, false
		}
		return catalog.Entry{
			FileID:  d.FileID,
			Title:   name,
			Size:    d.FileSize,
			AddedAt: m.Time(),
		}, d.FileID != ""
	}
	return catalog.Entry{}, false
}

func nameMatches(name string, exts []string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" {
		// Bare audio posts (no file name) are mp3 on Telegram.
		return containsExt(exts, ".mp3")
	}
	return containsExt(exts, ext)
}

func containsExt(exts []string, ext string) bool {
	for _, e := range exts {
		if e == ext {
			return true
		}
	}
	return false
}
