package config

import (
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/bep/debounce"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

const reloadDebounce = 500 * time.Millisecond

// Watcher republishes a safe subset of the configuration when the file
// on disk changes. Structural settings (addresses, store URLs, tick
// rate) keep their boot values; only log level and health thresholds
// follow the file.
type Watcher struct {
	current atomic.Pointer[Config]
	fw      *fsnotify.Watcher
	onApply func(Config)
	log     zerolog.Logger
}

// Watch starts watching path. The parent directory is registered
// rather than the file itself so editor rename-and-replace saves are
// still observed. onApply may be nil.
func Watch(path string, boot Config, onApply func(Config), logger zerolog.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, err
	}

	w := &Watcher{
		fw:      fw,
		onApply: onApply,
		log:     logger.With().Str("component", "config").Logger(),
	}
	w.current.Store(&boot)

	go w.loop(path)
	return w, nil
}

// Current returns the most recently published configuration.
func (w *Watcher) Current() Config {
	return *w.current.Load()
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	return w.fw.Close()
}

func (w *Watcher) loop(path string) {
	debounced := debounce.New(reloadDebounce)
	target := filepath.Clean(path)
	for {
		select {
		case ev, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			debounced(func() { w.reload(path) })
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			w.log.Warn().Err(err).Msg("config watch error")
		}
	}
}

func (w *Watcher) reload(path string) {
	next, err := Load(path)
	if err != nil {
		w.log.Warn().Err(err).Msg("ignoring config reload")
		return
	}

	merged := *w.current.Load()
	merged.Log.Level = next.Log.Level
	merged.Health.MemoryWarnPct = next.Health.MemoryWarnPct
	merged.Health.MemoryCritPct = next.Health.MemoryCritPct
	merged.Health.CPUWarnPct = next.Health.CPUWarnPct
	merged.Health.CPUCritPct = next.Health.CPUCritPct
	w.current.Store(&merged)

	w.log.Info().Str("level", merged.Log.Level).Msg("config reloaded")
	if w.onApply != nil {
		w.onApply(merged)
	}
}
