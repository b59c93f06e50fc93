package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"radiod/internal/catalog"
	"radiod/internal/config"
	"radiod/internal/engine"
	"radiod/internal/httpapi"
	"radiod/internal/runtime/supervisor"
	"radiod/internal/schedule"
	"radiod/internal/source"
	"radiod/internal/source/local"
	"radiod/internal/source/telegram"
	"radiod/pkg/logx"
	"radiod/pkg/systemd"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to config file (json or yaml)")
	flag.Parse()

	if err := run(cfgPath); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run(cfgPath string) error {
	// .env is optional; real env vars win either way.
	_ = godotenv.Load()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console == nil || *cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	defer log.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	loc, err := cfg.Timezone()
	if err != nil {
		return err
	}

	slots := make([]schedule.Slot, 0, len(cfg.Schedule.Slots))
	for _, e := range cfg.Schedule.Slots {
		slot, err := schedule.NewSlot(e.Start, e.End, e.Source, e.Key)
		if err != nil {
			return fmt.Errorf("schedule: %w", err)
		}
		slots = append(slots, slot)
	}
	sched := schedule.New(slots)

	busyTimeout, _ := config.ParseDurationField("catalog.busy_timeout", cfg.Catalog.BusyTimeout)
	cat, err := catalog.Open(catalog.Config{
		Driver:      cfg.Catalog.Driver,
		Path:        cfg.Catalog.Path,
		BusyTimeout: busyTimeout,
	}, log)
	if err != nil {
		return fmt.Errorf("catalog: %w", err)
	}
	defer cat.Close()

	tgCfg := cfg.Sources.Telegram
	pollTimeout, _ := config.ParseDurationOrDefault("sources.telegram.poll_timeout", tgCfg.PollTimeout, 10*time.Second)
	cacheTTL, _ := config.ParseDurationOrDefault("sources.telegram.cache_ttl", tgCfg.CacheTTL, 15*time.Second)
	tg, err := telegram.New(telegram.Config{
		Token:       tgCfg.Token,
		Channel:     tgCfg.Channel,
		PollTimeout: pollTimeout,
		RatePerSec:  tgCfg.RatePerSec,
		CatalogSize: tgCfg.CatalogSize,
		CacheTTL:    cacheTTL,
	}, cat, log)
	if err != nil {
		return err
	}
	defer tg.Close()
	if tg.Enabled() && hasKind(slots, schedule.KindTelegram) {
		tg.Start(ctx)
	}

	baseDir := cfg.Sources.Local.Dir
	if baseDir == "" {
		baseDir = "/music"
	}

	// Local slot keys select subdirectories of the library root; telegram
	// slots all map onto the configured channel.
	libs := map[string]*local.Library{}
	factory := func(_ context.Context, slot schedule.Slot) (source.Source, error) {
		switch slot.Source {
		case schedule.KindLocal:
			dir := baseDir
			if slot.Key != "" {
				dir = filepath.Join(baseDir, slot.Key)
			}
			lib, ok := libs[dir]
			if !ok {
				lib = local.NewLibrary(dir, log)
				libs[dir] = lib
			}
			return lib, nil
		case schedule.KindTelegram:
			return tg, nil
		}
		return nil, fmt.Errorf("no source for kind %q", slot.Source)
	}

	interTrackPause, _ := config.ParseDurationOrDefault("stream.inter_track_pause", cfg.Stream.InterTrackPause, 50*time.Millisecond)
	errorCooldown, _ := config.ParseDurationOrDefault("stream.error_cooldown", cfg.Stream.ErrorCooldown, 2*time.Second)

	eng, err := engine.New(engine.Config{
		Schedule:              sched,
		Location:              loc,
		Factory:               factory,
		MimeType:              cfg.Stream.MimeType,
		SourceChunkSize:       cfg.Stream.SourceChunkSize,
		BroadcastChunkSize:    cfg.Stream.BroadcastChunkSize,
		TrackBufferChunks:     cfg.Stream.TrackBufferChunks,
		SubscriberQueueChunks: cfg.Stream.SubscriberQueueChunks,
		AssumedBitrateKbps:    cfg.Stream.AssumedBitrateKbps,
		InterTrackPause:       interTrackPause,
		ErrorCooldown:         errorCooldown,
		Log:                   log.With(logx.String("comp", "engine")),
	})
	if err != nil {
		return err
	}

	readTimeout, _ := config.ParseDurationOrDefault("http.read_timeout", cfg.HTTP.ReadTimeout, 10*time.Second)
	api := httpapi.NewServer(httpapi.Config{
		Addr:        cfg.HTTP.Addr,
		ReadTimeout: readTimeout,
	}, eng, log.With(logx.String("comp", "http")))

	sup := supervisor.New(ctx, supervisor.WithLogger(log), supervisor.WithCancelOnError(true))
	sup.GoRestart("engine", eng.Run)
	sup.Go("http", api.Run)

	systemd.NotifyReady()
	systemd.NotifyStatus("broadcasting")
	log.Info("radiod started", logx.String("addr", cfg.HTTP.Addr))

	<-sup.Context().Done()

	systemd.NotifyStopping()
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	if err := sup.Stop(stopCtx); err != nil {
		log.Warn("shutdown incomplete", logx.Err(err))
	}
	if err := eng.Close(); err != nil {
		log.Warn("source close failed", logx.Err(err))
	}
	log.Info("radiod stopped")
	return sup.Err()
}

func hasKind(slots []schedule.Slot, kind schedule.Kind) bool {
	for _, s := range slots {
		if s.Source == kind {
			return true
		}
	}
	return false
}
