package projections

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/ripkitten-co/prism/clock"
	"github.com/ripkitten-co/prism/internal/codecs"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Config tunes the projection loop. Durations accept Go duration strings
// when loaded from the environment.
type Config struct {
	// LockTimeout is how long a lock holds without a refresh.
	LockTimeout time.Duration `env:"PRISM_LOCK_TIMEOUT" envDefault:"1s"`
	// LockThreshold delays lock refreshes on heartbeats; zero refreshes on
	// every heartbeat.
	LockThreshold time.Duration `env:"PRISM_LOCK_THRESHOLD" envDefault:"0s"`
	// BlockSize is the number of events handled between checkpoints.
	BlockSize int `env:"PRISM_BLOCK_SIZE" envDefault:"1000"`
	// Sleep is the pause before a heartbeat in background runs.
	Sleep time.Duration `env:"PRISM_SLEEP" envDefault:"100ms"`
	// Retries are the gap retry delays; empty skips gaps on sight.
	Retries []time.Duration `env:"PRISM_RETRIES" envDefault:"0s,5ms,50ms,100ms,150ms,200ms,250ms" envSeparator:","`
	// DetectionWindow confirms gaps on events older than the window.
	DetectionWindow time.Duration `env:"PRISM_DETECTION_WINDOW"`
	// LoadLimit caps the events read per stream and cycle in background runs.
	LoadLimit    int           `env:"PRISM_LOAD_LIMIT" envDefault:"1000"`
	IdleSleep    time.Duration `env:"PRISM_IDLE_SLEEP" envDefault:"10ms"`
	MaxIdleSleep time.Duration `env:"PRISM_MAX_IDLE_SLEEP" envDefault:"1s"`
	// Signals stops background runs on SIGINT or SIGTERM.
	Signals bool `env:"PRISM_SIGNALS" envDefault:"false"`
}

// DefaultConfig returns the built-in tuning.
func DefaultConfig() Config {
	return Config{
		LockTimeout:  time.Second,
		BlockSize:    1000,
		Sleep:        100 * time.Millisecond,
		Retries:      []time.Duration{0, 5 * time.Millisecond, 50 * time.Millisecond, 100 * time.Millisecond, 150 * time.Millisecond, 200 * time.Millisecond, 250 * time.Millisecond},
		LoadLimit:    1000,
		IdleSleep:    10 * time.Millisecond,
		MaxIdleSleep: time.Second,
	}
}

// ConfigFromEnv reads PRISM_* variables, falling back to the defaults.
func ConfigFromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("projections: parse env: %w", err)
	}
	return cfg, nil
}

// Wakeup lets an idle background run return early when new events may be
// available. events.Listener implements it.
type Wakeup interface {
	Wait(ctx context.Context, timeout time.Duration) error
}

type Option func(*settings)

type settings struct {
	cfg     Config
	clock   clock.Clock
	logger  *slog.Logger
	metrics *Metrics
	tracer  trace.Tracer
	wakeup  Wakeup
	codec   codecs.Codec
	signals <-chan os.Signal
}

func newSettings(opts []Option) settings {
	s := settings{
		cfg:    DefaultConfig(),
		clock:  clock.System(),
		logger: slog.Default(),
		tracer: otel.Tracer("github.com/ripkitten-co/prism/projections"),
		codec:  codecs.NewJSONIter(),
	}
	for _, o := range opts {
		o(&s)
	}
	return s
}

func WithConfig(cfg Config) Option {
	return func(s *settings) { s.cfg = cfg }
}

func WithBlockSize(n int) Option {
	return func(s *settings) { s.cfg.BlockSize = n }
}

// WithRetries sets the gap retry delays. No delays disables retrying.
func WithRetries(delays ...time.Duration) Option {
	return func(s *settings) { s.cfg.Retries = delays }
}

func WithDetectionWindow(d time.Duration) Option {
	return func(s *settings) { s.cfg.DetectionWindow = d }
}

func WithLock(timeout, threshold time.Duration) Option {
	return func(s *settings) {
		s.cfg.LockTimeout = timeout
		s.cfg.LockThreshold = threshold
	}
}

func WithSleep(d time.Duration) Option {
	return func(s *settings) { s.cfg.Sleep = d }
}

func WithSignals(enabled bool) Option {
	return func(s *settings) { s.cfg.Signals = enabled }
}

func WithClock(c clock.Clock) Option {
	return func(s *settings) { s.clock = c }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *settings) { s.logger = l }
}

func WithMetrics(m *Metrics) Option {
	return func(s *settings) { s.metrics = m }
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *settings) { s.tracer = tp.Tracer("github.com/ripkitten-co/prism/projections") }
}

func WithWakeup(w Wakeup) Option {
	return func(s *settings) { s.wakeup = w }
}

// WithCodec sets the codec used for checkpointed state.
func WithCodec(c codecs.Codec) Option {
	return func(s *settings) { s.codec = c }
}
