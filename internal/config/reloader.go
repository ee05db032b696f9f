package config

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Reloader re-reads the config and .env on demand (SIGHUP in serve) and
// swaps the active config atomically. Readers never block on a reload in
// flight; they keep seeing the previous config until the swap.
type Reloader struct {
	configPath string
	dotenvPath string

	active atomic.Pointer[Config]

	mu         sync.Mutex // one reload at a time; also guards listeners
	listeners  []func(*Config)
	reloadedAt time.Time
}

// NewReloader seeds the reloader with the config loaded at startup.
func NewReloader(configPath, dotenvPath string, initial *Config) *Reloader {
	r := &Reloader{configPath: configPath, dotenvPath: dotenvPath}
	r.active.Store(initial)
	return r
}

// Current returns the active config without locking.
func (r *Reloader) Current() *Config {
	return r.active.Load()
}

// LastReload reports when Reload last succeeded; zero if it never ran.
func (r *Reloader) LastReload() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reloadedAt
}

// OnReload registers fn to run after every successful reload with the new
// config. Listeners run on the reloading goroutine, in registration order.
func (r *Reloader) OnReload(fn func(*Config)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}

// Reload re-reads .env (override mode, so rotated keys take), re-parses the
// config file and swaps it in. On any error the active config is left
// untouched and no listener fires.
func (r *Reloader) Reload() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := ReloadDotenv(r.dotenvPath); err != nil {
		return fmt.Errorf("reload dotenv %s: %w", r.dotenvPath, err)
	}
	cfg, err := Load(r.configPath)
	if err != nil {
		return fmt.Errorf("reload config %s: %w", r.configPath, err)
	}

	r.active.Store(cfg)
	r.reloadedAt = time.Now()
	slog.Info("config reloaded", "path", r.configPath)

	for _, fn := range r.listeners {
		fn(cfg)
	}
	return nil
}
