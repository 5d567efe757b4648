package store

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
)

// ErrShutdownTimeout is returned when the reaper does not stop within the
// drain timeout.
var ErrShutdownTimeout = errors.New("reaper shutdown timed out")

// Reaper sweeps the store on a fixed tick and deletes regular files older
// than the window. It acquires no locks: handlers may create and delete
// files while a sweep is running.
type Reaper struct {
	store  *Store
	window time.Duration
	tick   time.Duration
	logger *slog.Logger

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// ReaperConfig holds reaper timing.
type ReaperConfig struct {
	Window time.Duration
	Tick   time.Duration
}

// NewReaper creates a reaper for the given store.
func NewReaper(cfg ReaperConfig, s *Store, logger *slog.Logger) *Reaper {
	if cfg.Window <= 0 {
		cfg.Window = 30 * time.Minute
	}
	if cfg.Tick <= 0 {
		cfg.Tick = 5 * time.Minute
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Reaper{
		store:  s,
		window: cfg.Window,
		tick:   cfg.Tick,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start launches the sweep loop.
func (r *Reaper) Start() {
	r.logger.Info("starting reaper", "window", r.window, "tick", r.tick)

	r.wg.Add(1)
	go r.run()
}

// Stop cancels the loop and waits for the current sweep to finish.
func (r *Reaper) Stop(timeout time.Duration) error {
	r.cancel()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("reaper stopped")
		return nil
	case <-time.After(timeout):
		return ErrShutdownTimeout
	}
}

func (r *Reaper) run() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.tick)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			if err := r.Sweep(); err != nil {
				r.logger.Error("reaper sweep errors", "error", err)
			}
		}
	}
}

// Sweep deletes stale regular files once. Per-file failures are collected
// rather than aborting the pass; a file deleted concurrently by a handler
// does not count as a failure.
func (r *Reaper) Sweep() error {
	entries, err := os.ReadDir(r.store.Dir())
	if err != nil {
		return err
	}

	cutoff := time.Now().Add(-r.window)
	var result *multierror.Error
	removed := 0

	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}

		path := filepath.Join(r.store.Dir(), entry.Name())
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			result = multierror.Append(result, err)
			continue
		}
		removed++
	}

	if removed > 0 {
		r.logger.Info("reaper removed stale files", "count", removed)
	}
	return result.ErrorOrNil()
}
