package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"

	"github.com/gofrs/flock"

	"voiceloom/internal/config"
	"voiceloom/internal/expiry"
	"voiceloom/internal/logging"
	"voiceloom/internal/metrics"
	"voiceloom/internal/pipeline"
	"voiceloom/internal/store"
	"voiceloom/internal/taskqueue"
)

// Daemon coordinates the background services and enforces single-instance
// execution.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *store.Store
	queue    taskqueue.Queue
	pipeline *pipeline.Pipeline
	sweeper  *expiry.Sweeper
	metrics  *metrics.Server

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	DBPath       string
	LockFilePath string
	Jobs         store.HealthSummary
}

// New constructs a daemon from initialized components. The metrics server
// may be nil when the endpoint is disabled.
func New(cfg *config.Config, s *store.Store, queue taskqueue.Queue, p *pipeline.Pipeline, sweeper *expiry.Sweeper, metricsServer *metrics.Server, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || s == nil || queue == nil || p == nil || sweeper == nil {
		return nil, errors.New("daemon requires config, store, queue, pipeline, and sweeper")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	lockPath := filepath.Join(cfg.Paths.DataDir, "voiceloomd.lock")
	return &Daemon{
		cfg:      cfg,
		logger:   logger.With(logging.String(logging.FieldComponent, "daemon")),
		store:    s,
		queue:    queue,
		pipeline: p,
		sweeper:  sweeper,
		metrics:  metricsServer,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}, nil
}

// Start acquires the daemon lock and launches the workers.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another voiceloom daemon instance is already running")
	}

	d.ctx, d.cancel = context.WithCancel(ctx)
	if err := d.pipeline.Start(d.ctx); err != nil {
		_ = d.lock.Unlock()
		d.cancel()
		d.ctx = nil
		d.cancel = nil
		return fmt.Errorf("start pipeline: %w", err)
	}
	go d.sweeper.Run(d.ctx)
	if d.metrics != nil {
		d.metrics.Start()
	}

	d.running.Store(true)
	d.logger.Info("voiceloom daemon started", logging.String("lock", d.lockPath))
	return nil
}

// Stop stops background processing and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	if d.metrics != nil {
		if err := d.metrics.Shutdown(context.Background()); err != nil {
			d.logger.Warn("shutdown metrics endpoint", logging.Error(err))
		}
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.ctx = nil
	d.running.Store(false)
	d.logger.Info("voiceloom daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	var errs []error
	if d.queue != nil {
		if err := d.queue.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if d.store != nil {
		if err := d.store.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Status reports runtime information, including job counts per lifecycle
// bucket.
func (d *Daemon) Status(ctx context.Context) (Status, error) {
	health, err := d.store.Health(ctx)
	if err != nil {
		return Status{}, err
	}
	return Status{
		Running:      d.running.Load(),
		DBPath:       d.store.Path(),
		LockFilePath: d.lockPath,
		Jobs:         health,
	}, nil
}
