package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"vidrelay/internal/config"
	"vidrelay/internal/logging"
	"vidrelay/internal/preflight"
	"vidrelay/internal/syncer"
)

// ErrAlreadyRunning is returned when another agent holds the history lock.
var ErrAlreadyRunning = errors.New("another vidrelay instance is using this history")

// Cycle runs one sync pass.
type Cycle interface {
	RunOnce(ctx context.Context) syncer.Report
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	LockFilePath string
	Interval     time.Duration
	CyclesRun    int
	LastReport   *syncer.Report
}

// Daemon schedules cycles and enforces single-instance execution.
type Daemon struct {
	cfg      *config.Config
	cycle    Cycle
	logger   *slog.Logger
	interval time.Duration
	remote   preflight.StatusFetcher

	lockPath string
	heldLock *flock.Flock

	running   atomic.Bool
	mu        sync.Mutex
	cyclesRun int
	last      *syncer.Report
}

// Option customizes the daemon.
type Option func(*Daemon)

// WithInterval overrides the configured cycle interval.
func WithInterval(interval time.Duration) Option {
	return func(d *Daemon) {
		if interval > 0 {
			d.interval = interval
		}
	}
}

// WithPreflight runs the readiness checks once at startup against remote and
// logs any failures.
func WithPreflight(remote preflight.StatusFetcher) Option {
	return func(d *Daemon) {
		d.remote = remote
	}
}

// WithHeldLock hands Run a lock the caller already acquired with Lock, so the
// history can be opened under it before the daemon starts. Run releases it
// on return.
func WithHeldLock(lock *flock.Flock) Option {
	return func(d *Daemon) {
		d.heldLock = lock
	}
}

// New constructs a daemon for cfg that runs cycle on each tick.
func New(cfg *config.Config, cycle Cycle, logger *slog.Logger, opts ...Option) (*Daemon, error) {
	if cfg == nil || cycle == nil {
		return nil, errors.New("daemon requires config and cycle runner")
	}
	d := &Daemon{
		cfg:      cfg,
		cycle:    cycle,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		interval: cfg.Interval(),
		lockPath: cfg.LockPath(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.interval <= 0 {
		return nil, fmt.Errorf("daemon interval must be positive, got %s", d.interval)
	}
	return d, nil
}

// Run acquires the lock and runs cycles until ctx is canceled. It returns
// nil on a clean shutdown.
func (d *Daemon) Run(ctx context.Context) error {
	if !d.running.CompareAndSwap(false, true) {
		return errors.New("daemon already running")
	}
	defer d.running.Store(false)

	lock := d.heldLock
	if lock == nil || !lock.Locked() {
		var err error
		if lock, err = Lock(d.lockPath); err != nil {
			return err
		}
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			d.logger.Warn("failed to release daemon lock", logging.Error(err))
		}
	}()

	d.logger.Info("vidrelay daemon started",
		logging.String(logging.FieldEventType, "daemon_started"),
		logging.String("lock", d.lockPath),
		logging.Duration("interval", d.interval),
		logging.Int("folders", len(d.cfg.Folders)),
	)
	d.runPreflight(ctx)

	d.runCycle(ctx)
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			d.logger.Info("vidrelay daemon stopped",
				logging.String(logging.FieldEventType, "daemon_stopped"),
				logging.Int("cycles", d.Status().CyclesRun),
			)
			return nil
		case <-ticker.C:
			d.runCycle(ctx)
		}
	}
}

func (d *Daemon) runCycle(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	report := d.cycle.RunOnce(ctx)
	d.mu.Lock()
	d.cyclesRun++
	d.last = &report
	d.mu.Unlock()
}

func (d *Daemon) runPreflight(ctx context.Context) {
	if d.remote == nil {
		return
	}
	for _, result := range preflight.RunAll(ctx, d.cfg, d.remote) {
		if result.Passed {
			continue
		}
		attrs := []logging.Attr{
			logging.String("check", result.Name),
			logging.String("detail", result.Detail),
		}
		if result.Optional {
			d.logger.Info("optional preflight check failed", logging.Args(attrs...)...)
			continue
		}
		logging.WarnWithContext(d.logger, "preflight check failed", "preflight_failed",
			append(attrs,
				logging.String(logging.FieldErrorHint, "run vidrelay check for details"),
				logging.String(logging.FieldImpact, "affected folders or transfers fail until fixed"),
			)...)
	}
}

// Lock takes the exclusive lock at path without blocking. Commands that
// modify the history hold it for their duration; the caller must Unlock.
func Lock(path string) (*flock.Flock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}
	lock := flock.New(path)
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w (lock %s)", ErrAlreadyRunning, path)
	}
	return lock, nil
}

// Status returns a snapshot of the daemon state.
func (d *Daemon) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Status{
		Running:      d.running.Load(),
		LockFilePath: d.lockPath,
		Interval:     d.interval,
		CyclesRun:    d.cyclesRun,
		LastReport:   d.last,
	}
}
