package projections

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Projector is a projection the daemon can run in the background.
type Projector interface {
	Name() string
	Start(ctx context.Context) error
}

type DaemonOption func(*daemonConfig)

type daemonConfig struct {
	retryInterval time.Duration
	logger        *slog.Logger
}

// WithRetryInterval sets how long the daemon waits before restarting a
// projector that failed or found its lock taken.
func WithRetryInterval(d time.Duration) DaemonOption {
	return func(c *daemonConfig) { c.retryInterval = d }
}

func WithDaemonLogger(l *slog.Logger) DaemonOption {
	return func(c *daemonConfig) { c.logger = l }
}

// Daemon runs projectors concurrently, one goroutine each. A projector that
// fails or finds its lock taken is restarted after the retry interval; one
// that stops on request is left stopped.
type Daemon struct {
	manager    *Manager
	config     daemonConfig
	projectors []Projector
}

func NewDaemon(provider Provider, opts ...DaemonOption) *Daemon {
	cfg := daemonConfig{
		retryInterval: 5 * time.Second,
		logger:        slog.Default(),
	}
	for _, o := range opts {
		o(&cfg)
	}
	return &Daemon{manager: NewManager(provider), config: cfg}
}

func (d *Daemon) Add(p Projector) {
	d.projectors = append(d.projectors, p)
}

// Run blocks until ctx is cancelled and every projector returned.
func (d *Daemon) Run(ctx context.Context) {
	var wg sync.WaitGroup

	for _, p := range d.projectors {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.runProjector(ctx, p)
		}()
	}

	wg.Wait()
}

func (d *Daemon) runProjector(ctx context.Context, p Projector) {
	for {
		err := p.Start(ctx)
		if ctx.Err() != nil {
			return
		}
		switch {
		case errors.Is(err, ErrProjectionAlreadyRunning):
			d.config.logger.Debug("projection locked elsewhere", "projection", p.Name())
		case err != nil:
			d.config.logger.Error("run projection", "projection", p.Name(), "error", err)
		default:
			d.config.logger.Info("projection stopped", "projection", p.Name())
			return
		}

		t := time.NewTimer(d.config.retryInterval)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

// Rebuild asks a registered projection to reset. Its running instance starts
// over from the first event on its next cycle.
func (d *Daemon) Rebuild(ctx context.Context, name string) error {
	found := false
	for _, p := range d.projectors {
		if p.Name() == name {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("daemon: projection %q not found", name)
	}

	if err := d.manager.Reset(ctx, name); err != nil {
		return fmt.Errorf("daemon: rebuild %s: %w", name, err)
	}
	return nil
}
