package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/lucaswhitaker22/specracer/config"
	"github.com/lucaswhitaker22/specracer/engine"
	"github.com/lucaswhitaker22/specracer/health"
	"github.com/lucaswhitaker22/specracer/model"
	"github.com/lucaswhitaker22/specracer/server"
	"github.com/lucaswhitaker22/specracer/snapshot"
	"github.com/lucaswhitaker22/specracer/store"
)

const shutdownTimeout = 15 * time.Second

type serveOptions struct {
	ConfigPath string
	Addr       string
	LogLevel   string
	Pretty     bool
}

// runServe assembles the service and runs it until a signal arrives.
func runServe(opts serveOptions) error {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return err
	}
	if opts.Addr != "" {
		cfg.Server.Addr = opts.Addr
	}
	if opts.LogLevel != "" {
		cfg.Log.Level = opts.LogLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := newLogger(cfg.Log, opts.Pretty)
	logger.Info().Str("version", Version).Str("addr", cfg.Server.Addr).Msg("racerd starting")

	ctx := context.Background()
	done := make(chan struct{})

	// Hot reload republishes log level and health thresholds; everything
	// structural keeps its boot value.
	var watcher *config.Watcher
	if opts.ConfigPath != "" {
		watcher, err = config.Watch(opts.ConfigPath, cfg, func(next config.Config) {
			if lvl, err := zerolog.ParseLevel(strings.ToLower(next.Log.Level)); err == nil {
				zerolog.SetGlobalLevel(lvl)
			}
		}, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("config watch unavailable")
		} else {
			defer watcher.Close()
		}
	}
	current := func() config.Config {
		if watcher != nil {
			return watcher.Current()
		}
		return cfg
	}

	var durable store.Durable
	var dbPinger health.Pinger
	if cfg.Postgres.URL != "" {
		pg, err := store.NewPostgres(ctx, cfg.Postgres.URL, logger)
		if err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
		defer pg.Close()
		durable, dbPinger = pg, pg
	} else {
		logger.Warn().Msg("no postgres configured, race history will not survive restarts")
		durable = store.NewMemory()
	}

	var backend snapshot.Backend
	var cache *store.Cache
	var cachePinger health.Pinger
	if cfg.Redis.URL != "" {
		ropts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		client := redis.NewClient(ropts)
		defer client.Close()
		backend = snapshot.NewRedisBackend(client, cfg.SnapshotTTL())
		cache = store.NewCache(client, store.DefaultStateTTL)
		cachePinger = cache
	} else {
		logger.Warn().Msg("no redis configured, snapshots are held in process memory")
		backend = snapshot.NewMemoryBackend()
	}
	snaps := snapshot.NewStore(backend, cfg.Snapshot.MaxPerRace, logger)

	conns := server.NewConnections(logger)
	bcast := server.NewBroadcaster(conns, logger)

	var writer *store.StateWriter
	if cache != nil {
		writer = store.NewStateWriter(cache, 0, logger)
	}

	var recordings *recordingSet
	if cfg.Journal.RecordingsDir != "" {
		recordings = newRecordingSet(cfg.Journal.RecordingsDir, logger)
		defer recordings.CloseAll()
	}

	recovery := engine.NewRecovery(snaps, durable, 5*time.Second, logger)

	// revive brings a crashed race back: newest valid snapshot first,
	// durable configuration second, otherwise the race is declared
	// corrupted to its members.
	var reg *engine.Registry
	revive := func(raceID string) {
		rctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		outcome := recovery.Recover(rctx, raceID)
		if outcome.Kind == engine.RecoveryFailed {
			logger.Error().Str("race_id", raceID).Str("reason", outcome.Reason).Msg("race unrecoverable")
			bcast.ToRace(raceID, server.ErrorFrame(server.CodeStateCorrupted, "race state could not be recovered"))
			conns.DropRace(raceID)
			return
		}
		if _, err := reg.Adopt(outcome.State); err != nil {
			logger.Error().Err(err).Str("race_id", raceID).Msg("could not resume recovered race")
			return
		}
		bcast.ToRace(raceID, server.Frame{Type: "race:recovered", Data: map[string]any{
			"message": recoveryMessage(outcome.Kind),
			"state":   outcome.State,
		}})
		logger.Info().Str("race_id", raceID).Str("source", string(outcome.Kind)).Msg("race recovered")
	}

	reg = engine.NewRegistry(engine.RegistryOptions{
		Engine: engine.Options{
			TickPeriod: cfg.TickPeriod(),
			QueueDepth: cfg.Race.MaxQueueSize,
			QueueRate:  cfg.Race.MaxCommandsPerSecond,
			Logger:     logger,
		},
		JournalDir: cfg.Journal.Dir,
		Archiver:   durable,
		Cleaner:    &raceCleaner{snaps: snaps, cache: cache, recordings: recordings},
		SinkFactory: func(raceID string) []engine.Sink {
			sinks := []engine.Sink{bcast.Sink(raceID)}
			if writer != nil {
				sinks = append(sinks, cacheSink{writer})
			}
			if recordings != nil {
				rec, err := recordings.Open(raceID)
				if err != nil {
					logger.Warn().Err(err).Str("race_id", raceID).Msg("recording unavailable")
				} else {
					sinks = append(sinks, rec)
				}
			}
			return sinks
		},
		OnAbnormal: func(raceID string, _ any) { go revive(raceID) },
		Logger:     logger,
	})

	adoptInterrupted(ctx, reg, recovery, durable, logger)

	sampler := snapshot.NewSampler(snaps, reg, cfg.SnapshotPeriod(), logger)
	go sampler.Run(ctx, done)
	if writer != nil {
		go writer.Run(ctx, done)
	}

	monitor := health.NewMonitor([]health.Prober{
		&health.DatabaseProbe{Pinger: dbPinger},
		&health.CacheProbe{Pinger: cachePinger},
		&health.MemoryProbe{Limits: func() (float64, float64) {
			c := current()
			return c.Health.MemoryWarnPct, c.Health.MemoryCritPct
		}},
		&health.CPUProbe{Limits: func() (float64, float64) {
			c := current()
			return c.Health.CPUWarnPct, c.Health.CPUCritPct
		}},
		&health.GaugeProbe{Component: "connections", Count: conns.Count},
		&health.GaugeProbe{Component: "races", Count: reg.Count},
	}, health.Options{
		Interval: cfg.HealthInterval(),
		OnAlert:  func(a model.Alert) { logAlert(logger, a) },
		Logger:   logger,
	})
	go monitor.Run(done)

	srv := server.New(server.Options{
		Addr:          cfg.Server.Addr,
		Registry:      reg,
		Connections:   conns,
		Broadcast:     bcast,
		Durable:       durable,
		Health:        monitor,
		StaleAfter:    cfg.StaleAfter(),
		ShutdownGrace: cfg.ShutdownGrace(),
		Logger:        logger,
	})

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		close(done)
		return err
	case s := <-sig:
		logger.Info().Str("signal", s.String()).Msg("shutting down")
	}

	// srv.Shutdown halts the engines before announcing, so by the time
	// clients hear SERVER_SHUTDOWN no further updates can follow. The
	// frozen states are then checkpointed for the next process, and
	// finally the background workers stop.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("server shutdown incomplete")
	}
	finalSnapshots(shutdownCtx, snaps, reg, logger)
	close(done)

	logger.Info().Msg("racerd stopped")
	return nil
}

func newLogger(cfg config.LogConfig, pretty bool) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	var out io.Writer = os.Stdout
	if pretty || cfg.Console {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen}
	}
	return zerolog.New(out).With().Timestamp().Logger()
}

func recoveryMessage(kind engine.RecoveryKind) string {
	if kind == engine.RecoveredFallback {
		return "race rebuilt from saved configuration, progress before the crash was lost"
	}
	return "race resumed from last snapshot"
}

// adoptInterrupted resumes races that were active when the previous
// process died: started in the durable store, results never archived.
func adoptInterrupted(ctx context.Context, reg *engine.Registry, rec *engine.Recovery, durable store.Durable, log zerolog.Logger) {
	ids, err := durable.ActiveRaceIDs(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("interrupted race scan failed")
		return
	}
	for _, id := range ids {
		outcome := rec.Recover(ctx, id)
		if outcome.Kind == engine.RecoveryFailed {
			log.Error().Str("race_id", id).Str("reason", outcome.Reason).Msg("interrupted race unrecoverable")
			continue
		}
		if _, err := reg.Adopt(outcome.State); err != nil {
			log.Error().Err(err).Str("race_id", id).Msg("could not resume interrupted race")
			continue
		}
		log.Info().Str("race_id", id).Str("source", string(outcome.Kind)).Msg("interrupted race resumed")
	}
}

// finalSnapshots checkpoints every running race so the next process can
// adopt them.
func finalSnapshots(ctx context.Context, snaps *snapshot.Store, reg *engine.Registry, log zerolog.Logger) {
	for _, st := range reg.ActiveStates() {
		if _, err := snaps.Capture(ctx, st); err != nil {
			log.Warn().Err(err).Str("race_id", st.ID).Msg("final snapshot failed")
		}
	}
}

func logAlert(log zerolog.Logger, a model.Alert) {
	ev := log.Warn()
	switch {
	case a.ResolvedAt != nil:
		ev = log.Info()
	case a.Status == model.StatusCritical:
		ev = log.Error()
	}
	ev.Str("component", a.Component).Str("status", a.Status.String()).Msg(a.Message)
}

// cacheSink forwards published states to the cache write-behind worker.
type cacheSink struct {
	writer *store.StateWriter
}

func (s cacheSink) Publish(pub *engine.Publication) {
	s.writer.Offer(pub.State)
}

// raceCleaner tears down per-race artifacts once results are archived.
type raceCleaner struct {
	snaps      *snapshot.Store
	cache      *store.Cache
	recordings *recordingSet
}

func (c *raceCleaner) CleanupRace(ctx context.Context, raceID string) error {
	if c.recordings != nil {
		c.recordings.Close(raceID)
	}
	if c.cache != nil {
		if err := c.cache.DeleteState(ctx, raceID); err != nil {
			return err
		}
	}
	return c.snaps.CleanupRace(ctx, raceID)
}

// recordingSet manages one open recording file per race. Files stay on
// disk after a race retires; only the handle is released.
type recordingSet struct {
	mu    sync.Mutex
	dir   string
	files map[string]*os.File
	log   zerolog.Logger
}

func newRecordingSet(dir string, logger zerolog.Logger) *recordingSet {
	return &recordingSet{
		dir:   dir,
		files: make(map[string]*os.File),
		log:   logger.With().Str("component", "recordings").Logger(),
	}
}

func (r *recordingSet) Open(raceID string) (engine.Sink, error) {
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return nil, err
	}
	f, err := os.Create(filepath.Join(r.dir, raceID+".jsonl"))
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.files[raceID] = f
	r.mu.Unlock()
	return engine.NewRecorder(f), nil
}

func (r *recordingSet) Close(raceID string) {
	r.mu.Lock()
	f, ok := r.files[raceID]
	delete(r.files, raceID)
	r.mu.Unlock()
	if ok {
		if err := f.Close(); err != nil {
			r.log.Warn().Err(err).Str("race_id", raceID).Msg("closing recording failed")
		}
	}
}

func (r *recordingSet) CloseAll() {
	r.mu.Lock()
	files := r.files
	r.files = make(map[string]*os.File)
	r.mu.Unlock()
	for _, f := range files {
		_ = f.Close()
	}
}
