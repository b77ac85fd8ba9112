package config

import (
	"log/slog"
	"os"
	"time"

	"solotrader/internal/engine"
)

// Reloader watches the config file's mtime and re-parses it when it changes.
// Only the hot subset is handed to the engine; structural settings need a
// restart.
type Reloader struct {
	path    string
	lastMod time.Time
	log     *slog.Logger
}

// NewReloader creates a Reloader for the given config path.
func NewReloader(path string) *Reloader {
	r := &Reloader{path: path, log: slog.Default().With("component", "config")}
	if info, err := os.Stat(path); err == nil {
		r.lastMod = info.ModTime()
	}
	return r
}

// Check implements the engine's reload hook. It returns the new hot options
// and true when the file changed and parses cleanly; a broken edit is logged
// and ignored, keeping the running settings.
func (r *Reloader) Check() (engine.HotOptions, bool) {
	info, err := os.Stat(r.path)
	if err != nil || !info.ModTime().After(r.lastMod) {
		return engine.HotOptions{}, false
	}
	r.lastMod = info.ModTime()

	cfg, err := Load(r.path)
	if err != nil {
		r.log.Error("config changed but failed to load, keeping current settings", "err", err)
		return engine.HotOptions{}, false
	}

	r.log.Info("config change detected, applying hot subset")
	return cfg.HotOptions(), true
}
