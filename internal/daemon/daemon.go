package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"curator/internal/api"
	"curator/internal/config"
	"curator/internal/logging"
)

// Upstream is an external collaborator reported by the status endpoint.
type Upstream struct {
	Name    string
	Enabled bool
	Check   func(ctx context.Context) error
}

// Dependencies are the services the daemon serves.
type Dependencies struct {
	Collections   *api.CollectionService
	Subscriptions *api.SubscriptionService
	Upstreams     []Upstream
}

// Daemon runs the HTTP API and the release-check loop under a single-instance lock.
type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger
	deps   Dependencies

	lockPath string
	lock     *flock.Flock
	server   *apiServer

	running atomic.Bool
	cancel  context.CancelFunc
	loop    sync.WaitGroup

	mu          sync.Mutex
	lastRelease time.Time
}

// New constructs a daemon. Collections and Subscriptions are required.
func New(cfg *config.Config, deps Dependencies, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || deps.Collections == nil || deps.Subscriptions == nil {
		return nil, errors.New("daemon requires config, collection service, and subscription service")
	}
	lockPath := cfg.LockPath()
	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		deps:     deps,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}
	d.server = newAPIServer(cfg.Paths.APIBind, cfg.Paths.APIToken, d, logger)
	return d, nil
}

// Start acquires the lock, runs an initial release check, and starts the
// API server and the release-check loop.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another curator daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.server.start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return fmt.Errorf("start api server: %w", err)
	}
	d.cancel = cancel
	d.running.Store(true)

	d.loop.Add(1)
	go func() {
		defer d.loop.Done()
		d.releaseLoop(runCtx, d.cfg.ReleaseCheckInterval())
	}()

	d.logger.Info("curator daemon started",
		logging.String("lock", d.lockPath),
		logging.String("address", d.server.addr()),
	)
	return nil
}

// Stop stops background work and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.server.stop()
	d.loop.Wait()
	if err := d.lock.Unlock(); err != nil {
		logging.WarnWithContext(d.logger, "failed to release daemon lock", "lock_release_failed",
			logging.String(logging.FieldImpact, "next start may report another instance"),
			logging.Error(err),
		)
	}
	d.running.Store(false)
	d.logger.Info("curator daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	return nil
}

// Handler returns the HTTP handler, for tests and embedding.
func (d *Daemon) Handler() http.Handler {
	return d.server.handler
}

// Address returns the bound API address once started.
func (d *Daemon) Address() string {
	return d.server.addr()
}

// ReleaseCheck promotes pending releases now and records the run time.
func (d *Daemon) ReleaseCheck(ctx context.Context) (api.ReleaseCheckResponse, error) {
	resp, err := d.deps.Subscriptions.ReleaseCheck(ctx)
	if err != nil {
		return resp, err
	}
	d.mu.Lock()
	d.lastRelease = time.Now().UTC()
	d.mu.Unlock()
	return resp, nil
}

func (d *Daemon) releaseLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	d.runReleaseCheck(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.runReleaseCheck(ctx)
		}
	}
}

func (d *Daemon) runReleaseCheck(ctx context.Context) {
	resp, err := d.ReleaseCheck(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		logging.WarnWithContext(d.logger, "release check failed", "release_check_failed",
			logging.String(logging.FieldImpact, "pending releases stay pending until the next check"),
			logging.Error(err),
		)
		return
	}
	if len(resp.Promoted) > 0 {
		d.logger.Info("release check promoted items", logging.Int("count", len(resp.Promoted)))
	}
}

// Status returns runtime information, ledger counts and upstream health.
func (d *Daemon) Status(ctx context.Context) api.DaemonStatus {
	status := api.DaemonStatus{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		DatabasePath: d.cfg.DatabasePath(),
		LockFilePath: d.lockPath,
		Upstreams:    make([]api.UpstreamStatus, 0, len(d.deps.Upstreams)),
	}
	if defs, err := d.deps.Collections.List(ctx, ""); err == nil {
		status.Collections = len(defs)
	} else {
		d.logger.Debug("status: list collections failed", logging.Error(err))
	}
	if counts, err := d.deps.Subscriptions.Counts(ctx); err == nil {
		status.Subscriptions = counts
	} else {
		d.logger.Debug("status: count subscriptions failed", logging.Error(err))
	}
	d.mu.Lock()
	if !d.lastRelease.IsZero() {
		status.LastRelease = d.lastRelease.Format(time.RFC3339)
	}
	d.mu.Unlock()

	results := make([]api.UpstreamStatus, len(d.deps.Upstreams))
	var wg sync.WaitGroup
	for i, up := range d.deps.Upstreams {
		results[i] = api.UpstreamStatus{Name: up.Name, Enabled: up.Enabled}
		if !up.Enabled || up.Check == nil {
			if !up.Enabled {
				results[i].Detail = "disabled"
			}
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			if err := up.Check(checkCtx); err != nil {
				results[i].Detail = err.Error()
				return
			}
			results[i].Healthy = true
		}()
	}
	wg.Wait()
	status.Upstreams = append(status.Upstreams, results...)
	return status
}
