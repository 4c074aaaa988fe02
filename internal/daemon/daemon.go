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

	"lockbox/internal/account"
	"lockbox/internal/config"
	"lockbox/internal/cryptfs"
	"lockbox/internal/deps"
	"lockbox/internal/lifecycle"
	"lockbox/internal/logging"
	"lockbox/internal/metrics"
	"lockbox/internal/sharing"
	"lockbox/internal/store"
	"lockbox/internal/transcode"
	"lockbox/internal/upload"
	"lockbox/internal/volume"
	"lockbox/internal/workers"
)

const (
	defaultMaintenanceInterval = time.Minute
	shutdownTimeout            = 30 * time.Second
)

// VolumeDriver is the gocryptfs surface the daemon needs: the mount
// primitives plus initialization of new volumes.
type VolumeDriver interface {
	lifecycle.Driver
	account.Initializer
}

// Options overrides the external tooling. Zero values use gocryptfs,
// fusermount and ffmpeg from configuration.
type Options struct {
	Driver          VolumeDriver
	Prober          cryptfs.Prober
	TranscodeRunner transcode.Runner
}

// Daemon owns the mount coordinator, the transcode pool and the HTTP API,
// and enforces single-instance execution.
type Daemon struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   *store.Store
	metrics *metrics.Metrics

	coord    *lifecycle.Coordinator
	pool     *workers.Pool
	pipeline *transcode.Pipeline
	uploads  *upload.Assembler
	accounts *account.Service
	sharing  *sharing.Service
	api      *apiServer

	lockPath string
	lock     *flock.Flock

	mu      sync.Mutex
	running atomic.Bool
	stopped bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Status represents daemon runtime information.
type Status struct {
	Running       bool
	PID           int
	DatabasePath  string
	LockFilePath  string
	CipherRoot    string
	MountRoot     string
	QueueDepth    int
	ReaperEnabled bool
	Dependencies  []deps.Status
	Mounts        []lifecycle.MountPoint
	// FUSEMounts counts registry entries the kernel confirms as FUSE mounts.
	FUSEMounts int
}

// New wires the daemon's components. Nothing is mounted or started until Start.
func New(cfg *config.Config, st *store.Store, logger *slog.Logger, opts Options) (*Daemon, error) {
	if cfg == nil || st == nil {
		return nil, errors.New("daemon requires config and store")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	driver := opts.Driver
	if driver == nil {
		driver = cryptfs.New(cfg)
	}
	m := metrics.New()
	volumes := volume.New(cfg)

	coord, err := lifecycle.New(lifecycle.Options{
		Registry: lifecycle.NewRegistry(cfg.Paths.MountDir),
		Driver:   driver,
		Prober:   opts.Prober,
		Volumes:  volumes,
		Holds:    st,
		Viewers:  st,
		Metrics:  m,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}
	pool := workers.New(workers.Config{
		Concurrency: cfg.Transcode.Concurrency,
		QueueSize:   cfg.Transcode.QueueSize,
		Logger:      logger,
		Metrics:     m,
	})
	pipeline := transcode.New(transcode.Options{
		Config:   cfg,
		Recorder: st,
		Notifier: coord,
		Pool:     pool,
		Runner:   opts.TranscodeRunner,
		Metrics:  m,
		Logger:   logger,
	})
	accounts, err := account.New(account.Options{
		Store:       st,
		CipherStore: volumes,
		Initializer: driver,
		Volumes:     coord,
		Logger:      logger,
	})
	if err != nil {
		_ = pool.Stop(context.Background())
		return nil, err
	}

	d := &Daemon{
		cfg:     cfg,
		logger:  logging.NewComponentLogger(logger, "daemon"),
		store:   st,
		metrics: m,
		coord:   coord,
		pool:    pool,
		uploads: upload.New(upload.Options{
			Store:         st,
			Coordinator:   coord,
			Scheduler:     pipeline,
			MaxChunkBytes: cfg.Uploads.MaxChunkBytes,
			Metrics:       m,
			Logger:        logger,
		}),
		pipeline: pipeline,
		accounts: accounts,
		sharing:  sharing.New(st, coord, logger),
		lockPath: cfg.LockPath(),
		lock:     flock.New(cfg.LockPath()),
	}
	d.api, err = newAPIServer(cfg, d, logger)
	if err != nil {
		_ = pool.Stop(context.Background())
		return nil, err
	}
	return d, nil
}

// Start acquires the daemon lock, clears state left by a previous run and
// begins serving the API.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running.Load() {
		return errors.New("daemon already running")
	}
	if d.stopped {
		return errors.New("daemon already stopped")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another lockbox daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.recover(runCtx)
	if err := d.api.start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return err
	}

	d.cancel = cancel
	d.wg.Add(1)
	go d.maintenanceLoop(runCtx)

	d.running.Store(true)
	d.logger.Info("lockbox daemon started",
		logging.String("lock", d.lockPath),
		logging.String("mount_root", d.cfg.Paths.MountDir),
	)
	return nil
}

// recover clears mounts, jobs, uploads and sessions orphaned by a previous
// process. Failures are logged; the daemon still starts.
func (d *Daemon) recover(ctx context.Context) {
	if n, err := d.coord.Sweep(ctx); err != nil {
		d.logger.Warn("mount sweep incomplete", logging.Error(err))
	} else if n > 0 {
		d.logger.Info("detached leftover mounts", logging.Int("count", n), logging.String(logging.FieldEventType, "mounts_swept"))
	}

	if n, err := d.pipeline.Recover(ctx); err != nil {
		d.logger.Warn("interrupted media not recovered", logging.Error(err))
	} else if n > 0 {
		d.logger.Info("marked interrupted media failed", logging.Int64("count", n), logging.String(logging.FieldEventType, "media_recovered"))
	}

	sessions, err := d.store.ListUploads(ctx)
	if err != nil {
		d.logger.Warn("upload sessions not listed", logging.Error(err))
	}
	for _, session := range sessions {
		if session.Status != store.UploadAssembling {
			continue
		}
		if err := d.store.ReleaseUpload(ctx, session.ID); err != nil {
			d.logger.Warn("assembling upload not released", logging.String(logging.FieldUploadID, session.ID), logging.Error(err))
		}
	}

	owners, viewers, err := d.store.ClearSessions(ctx)
	if err != nil {
		d.logger.Warn("stale sessions not cleared", logging.Error(err))
	} else if owners+viewers > 0 {
		d.logger.Info("cleared sessions from previous run",
			logging.Int64("owner_sessions", owners),
			logging.Int64("viewer_sessions", viewers),
		)
	}

	if d.cfg.UploadIdleTimeout() <= 0 {
		d.logger.Warn("abandoned upload reaper disabled",
			logging.String(logging.FieldEventType, "reaper_disabled"),
			logging.String(logging.FieldErrorHint, "set uploads.idle_timeout_seconds; abandoned uploads keep upload volumes mounted"),
		)
	}
}

func (d *Daemon) maintenanceLoop(ctx context.Context) {
	defer d.wg.Done()
	interval := d.cfg.UploadReapInterval()
	if interval <= 0 {
		interval = defaultMaintenanceInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.maintain(ctx)
		}
	}
}

// maintain reaps idle uploads and expires owner and viewer sessions,
// releasing the mounts they held.
func (d *Daemon) maintain(ctx context.Context) {
	if idle := d.cfg.UploadIdleTimeout(); idle > 0 {
		if _, err := d.uploads.Reap(ctx, idle); err != nil {
			d.logger.Warn("upload reap failed", logging.Error(err))
		}
	}

	expired, err := d.store.PurgeExpiredOwnerSessions(ctx)
	if err != nil {
		d.logger.Warn("owner session purge failed", logging.Error(err))
	}
	for _, session := range expired {
		d.coord.Logout(ctx, session.UserID)
	}

	if _, err := d.sharing.PurgeExpired(ctx); err != nil {
		d.logger.Warn("viewer session purge failed", logging.Error(err))
	}
	d.metrics.SetQueueDepth(d.pool.Pending())
}

// Stop shuts down the API, drains the transcode pool, detaches every mount
// and releases the daemon lock. A stopped daemon cannot be restarted.
func (d *Daemon) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running.Load() {
		return
	}

	d.api.stop()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := d.pool.Stop(ctx); err != nil {
		d.logger.Warn("transcode jobs cancelled at shutdown", logging.Error(err))
	}
	if _, err := d.coord.Sweep(context.Background()); err != nil {
		d.logger.Warn("mounts left attached at shutdown", logging.Error(err))
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.stopped = true
	d.running.Store(false)
	d.logger.Info("lockbox daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	_ = d.pool.Stop(context.Background())
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Handler returns the HTTP API handler.
func (d *Daemon) Handler() http.Handler {
	return d.api.handler
}

// Addr returns the address the API listens on once started.
func (d *Daemon) Addr() string {
	return d.api.addr()
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	dependencies := deps.CheckBinaries(deps.Requirements(d.cfg))
	dependencies = append(dependencies, deps.CheckFUSE())
	mounts := d.coord.Snapshot()
	fuseMounts := 0
	for _, mp := range mounts {
		if mp.Mounted && cryptfs.IsFUSE(mp.Path) {
			fuseMounts++
		}
	}
	return Status{
		Running:       d.running.Load(),
		PID:           os.Getpid(),
		DatabasePath:  d.store.Path(),
		LockFilePath:  d.lockPath,
		CipherRoot:    d.cfg.CipherRoot(),
		MountRoot:     d.cfg.Paths.MountDir,
		QueueDepth:    d.pool.Pending(),
		ReaperEnabled: d.cfg.UploadIdleTimeout() > 0,
		Dependencies:  dependencies,
		Mounts:        mounts,
		FUSEMounts:    fuseMounts,
	}
}
