package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"lockbox/internal/cryptfs"
	"lockbox/internal/logging"
	"lockbox/internal/metrics"
	"lockbox/internal/volume"
)

// Driver is the subset of the gocryptfs wrapper the coordinator needs.
type Driver interface {
	Mount(ctx context.Context, cipherDir, mountPoint, secret string, opts cryptfs.MountOptions) error
	Unmount(ctx context.Context, mountPoint string, lazy bool) error
	ChangeSecret(ctx context.Context, cipherDir, oldSecret, newSecret string) error
}

// HoldSource reports persisted work that keeps a user's upload mount alive.
type HoldSource interface {
	CountProcessing(ctx context.Context, userID string) (int, error)
	CountUploads(ctx context.Context, userID string) (int, error)
}

// ViewerCounter reports the viewer sessions open against an owner's share
// volume.
type ViewerCounter interface {
	CountViewerSessions(ctx context.Context, ownerID string) (int, error)
}

// Options wires a Coordinator. Registry, Driver and Volumes are required.
type Options struct {
	Registry *Registry
	Driver   Driver
	Prober   cryptfs.Prober
	Volumes  *volume.Store
	Holds    HoldSource
	Viewers  ViewerCounter
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

type holds struct {
	uploads    int
	transcodes int
}

// Coordinator decides when each (user, purpose) mount is attached and
// detached. All registry mutations happen here under the key lock.
type Coordinator struct {
	registry *Registry
	driver   Driver
	prober   cryptfs.Prober
	volumes  *volume.Store
	store    HoldSource
	viewers  ViewerCounter
	metrics  *metrics.Metrics
	logger   *slog.Logger

	mu    sync.Mutex
	holds map[string]*holds
}

// New builds a Coordinator. A nil Prober falls back to the kernel prober.
func New(opts Options) (*Coordinator, error) {
	if opts.Registry == nil || opts.Driver == nil || opts.Volumes == nil {
		return nil, errors.New("lifecycle: registry, driver and volumes are required")
	}
	prober := opts.Prober
	if prober == nil {
		prober = cryptfs.KernelProber{}
	}
	return &Coordinator{
		registry: opts.Registry,
		driver:   opts.Driver,
		prober:   prober,
		volumes:  opts.Volumes,
		store:    opts.Holds,
		viewers:  opts.Viewers,
		metrics:  opts.Metrics,
		logger:   logging.NewComponentLogger(opts.Logger, "lifecycle"),
		holds:    make(map[string]*holds),
	}, nil
}

// Registry exposes the mount registry for read-only use.
func (c *Coordinator) Registry() *Registry {
	return c.registry
}

// Path returns the mount point for userID and purpose.
func (c *Coordinator) Path(userID string, purpose Purpose) string {
	return c.registry.Path(Key{UserID: userID, Purpose: purpose})
}

// MountedPath returns the mount point for userID and purpose and whether
// the registry currently records it as attached.
func (c *Coordinator) MountedPath(userID string, purpose Purpose) (string, bool) {
	mp := c.registry.Get(Key{UserID: userID, Purpose: purpose})
	return mp.Path, mp.Mounted
}

// Mount attaches the volume for one purpose without touching reference
// counts. Mounting an attached key is a no-op.
func (c *Coordinator) Mount(ctx context.Context, userID string, purpose Purpose, secret string) error {
	key := Key{UserID: userID, Purpose: purpose}
	release := c.registry.lock(key)
	defer release()
	return c.mount(ctx, key, secret)
}

// Unmount detaches the volume for one purpose and clears its references.
// Unmounting a detached key is a no-op. The operator detach endpoint uses
// it to force a volume closed.
func (c *Coordinator) Unmount(ctx context.Context, userID string, purpose Purpose) error {
	key := Key{UserID: userID, Purpose: purpose}
	release := c.registry.lock(key)
	defer release()
	if err := c.unmount(ctx, key); err != nil {
		return err
	}
	c.registry.update(key, func(mp *MountPoint) {
		mp.Refs = 0
		mp.EvictPending = false
	})
	return nil
}

// Login mounts the content volume on the first login and counts the session.
func (c *Coordinator) Login(ctx context.Context, userID, secret string) error {
	key := Key{UserID: userID, Purpose: PurposeLogin}
	release := c.registry.lock(key)
	defer release()

	if err := c.mount(ctx, key, secret); err != nil {
		return err
	}
	c.registry.update(key, func(mp *MountPoint) {
		mp.Refs++
		mp.EvictPending = false
	})
	return nil
}

// Logout drops one login reference. When none remain the content and
// upload mounts are detached, unless uploads or transcodes still need
// them, in which case eviction waits for UploadFinished or
// TranscodeFinished. Unmount failures are logged, never returned.
func (c *Coordinator) Logout(ctx context.Context, userID string) {
	release := c.registry.lockUser(userID, PurposeLogin, PurposeUpload)
	defer release()

	mp := c.registry.update(Key{UserID: userID, Purpose: PurposeLogin}, func(mp *MountPoint) {
		mp.Refs--
	})
	if mp.Refs > 0 {
		return
	}
	c.evict(ctx, userID)
}

// EnterUpload mounts the upload volume for the upload page.
func (c *Coordinator) EnterUpload(ctx context.Context, userID, secret string) error {
	return c.Mount(ctx, userID, PurposeUpload, secret)
}

// UploadStarted records an open upload session for userID.
func (c *Coordinator) UploadStarted(userID string) {
	c.adjustHolds(userID, 1, 0)
}

// UploadFinished releases an upload hold and re-evaluates eviction.
func (c *Coordinator) UploadFinished(ctx context.Context, userID string) {
	c.adjustHolds(userID, -1, 0)
	c.reevaluate(ctx, userID)
}

// TranscodeStarted records a transcode job for userID.
func (c *Coordinator) TranscodeStarted(userID string) {
	c.adjustHolds(userID, 0, 1)
}

// TranscodeFinished releases a transcode hold and re-evaluates eviction.
func (c *Coordinator) TranscodeFinished(ctx context.Context, userID string) {
	c.adjustHolds(userID, 0, -1)
	c.reevaluate(ctx, userID)
}

// ViewerJoined mounts the owner's read-only share volume on the first
// viewer. With a ViewerCounter configured the viewer session must already
// be recorded, and the reference count is taken from the recorded sessions.
func (c *Coordinator) ViewerJoined(ctx context.Context, ownerID, secret string) error {
	key := Key{UserID: ownerID, Purpose: PurposeShare}
	release := c.registry.lock(key)
	defer release()

	if err := c.mount(ctx, key, secret); err != nil {
		return err
	}
	count, counted := c.countViewers(ctx, ownerID)
	c.registry.update(key, func(mp *MountPoint) {
		mp.Refs++
		if counted {
			mp.Refs = max(count, 1)
		}
	})
	return nil
}

// ViewerLeft sets the share reference count to the number of viewer
// sessions still open for ownerID and detaches the share volume when it
// reaches zero. The count is re-read under the key lock when a
// ViewerCounter is configured, so a viewer joining concurrently is never
// unmounted from under; remaining is used otherwise.
func (c *Coordinator) ViewerLeft(ctx context.Context, ownerID string, remaining int) error {
	key := Key{UserID: ownerID, Purpose: PurposeShare}
	release := c.registry.lock(key)
	defer release()

	if count, counted := c.countViewers(ctx, ownerID); counted {
		remaining = count
	}
	mp := c.registry.update(key, func(mp *MountPoint) { mp.Refs = remaining })
	if mp.Refs > 0 {
		return nil
	}
	return c.unmount(ctx, key)
}

// countViewers reads the recorded viewer sessions. A failed read is
// reported as not counted so callers fall back to their own figure.
func (c *Coordinator) countViewers(ctx context.Context, ownerID string) (int, bool) {
	if c.viewers == nil {
		return 0, false
	}
	n, err := c.viewers.CountViewerSessions(ctx, ownerID)
	if err != nil {
		c.logger.Warn("viewer count unavailable", logging.String(logging.FieldUserID, ownerID), logging.Error(err))
		return 0, false
	}
	return n, true
}

// RotateSecret re-wraps the volume key from oldSecret to newSecret. It
// runs while mounts are attached; no mount decision for the user can
// interleave with it.
func (c *Coordinator) RotateSecret(ctx context.Context, userID, oldSecret, newSecret string) error {
	release := c.registry.lockUser(userID, lockOrder...)
	defer release()

	cipherDir, err := c.volumes.CipherDir(userID)
	if err != nil {
		return fmt.Errorf("rotate secret: %w", err)
	}
	if err := c.driver.ChangeSecret(ctx, cipherDir, oldSecret, newSecret); err != nil {
		return fmt.Errorf("rotate secret for %s: %w", userID, err)
	}
	c.logger.Info("volume secret rotated",
		logging.String(logging.FieldUserID, userID),
		logging.String(logging.FieldEventType, "secret_rotated"),
	)
	return nil
}

// Destroy detaches every mount for userID and deletes the cipher store.
// It aborts with ErrBusy, leaving the store intact, while background work
// is running or any mount cannot be confirmed detached.
func (c *Coordinator) Destroy(ctx context.Context, userID string) error {
	release := c.registry.lockUser(userID, lockOrder...)
	defer release()

	if uploads, transcodes := c.Holds(userID); uploads > 0 || transcodes > 0 {
		return fmt.Errorf("destroy volume for %s: %w: %d uploads and %d transcodes running", userID, ErrBusy, uploads, transcodes)
	}
	for _, purpose := range lockOrder {
		key := Key{UserID: userID, Purpose: purpose}
		if err := c.unmount(ctx, key); err != nil {
			return fmt.Errorf("destroy volume: %w", err)
		}
	}
	for _, purpose := range lockOrder {
		state, err := c.prober.Probe(c.registry.Path(Key{UserID: userID, Purpose: purpose}))
		if err != nil {
			return fmt.Errorf("destroy volume: %w", err)
		}
		if state == cryptfs.StateMounted || state == cryptfs.StateStale {
			return fmt.Errorf("destroy volume for %s: %s mount still attached: %w", userID, purpose, ErrBusy)
		}
	}
	if err := c.volumes.Remove(userID); err != nil {
		return fmt.Errorf("destroy volume: %w", err)
	}
	for _, purpose := range lockOrder {
		c.registry.update(Key{UserID: userID, Purpose: purpose}, func(mp *MountPoint) {
			mp.Mounted = false
			mp.Refs = 0
			mp.EvictPending = false
		})
	}
	c.mu.Lock()
	delete(c.holds, userID)
	c.mu.Unlock()

	c.logger.Info("volume destroyed",
		logging.String(logging.FieldUserID, userID),
		logging.String(logging.FieldEventType, "volume_destroyed"),
	)
	return nil
}

// Holds returns the in-memory upload and transcode holds for userID.
func (c *Coordinator) Holds(userID string) (uploads, transcodes int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if h, ok := c.holds[userID]; ok {
		return h.uploads, h.transcodes
	}
	return 0, 0
}

// Snapshot returns the current registry entries.
func (c *Coordinator) Snapshot() []MountPoint {
	return c.registry.Snapshot()
}

// Sweep detaches mounts left under the mount root by a previous process and
// removes their directories. It returns how many mounts were cleared.
func (c *Coordinator) Sweep(ctx context.Context) (int, error) {
	cleared := 0
	for _, purpose := range lockOrder {
		dir := filepath.Join(c.registry.Root(), purpose.dir())
		entries, err := os.ReadDir(dir)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return cleared, fmt.Errorf("sweep %s: %w", dir, err)
		}
		for _, entry := range entries {
			key := Key{UserID: entry.Name(), Purpose: purpose}
			release := c.registry.lock(key)
			attached, err := c.sweepOne(ctx, key)
			release()
			if err != nil {
				c.logger.Warn("leftover mount not cleared",
					logging.String(logging.FieldUserID, key.UserID),
					logging.String(logging.FieldMountKind, string(purpose)),
					logging.Error(err),
					logging.String(logging.FieldEventType, "sweep_failed"),
					logging.String(logging.FieldErrorHint, "check for processes holding files under the mount and run fusermount -u"),
				)
				continue
			}
			if attached {
				cleared++
			}
		}
	}
	return cleared, nil
}

func (c *Coordinator) sweepOne(ctx context.Context, key Key) (bool, error) {
	path := c.registry.Path(key)
	state, err := c.prober.Probe(path)
	if err != nil {
		return false, err
	}
	if state == cryptfs.StateMounted || state == cryptfs.StateStale {
		if err := c.driver.Unmount(ctx, path, true); err != nil && !errors.Is(err, cryptfs.ErrNotMounted) {
			return false, err
		}
		if after, err := c.prober.Probe(path); err != nil || after == cryptfs.StateMounted || after == cryptfs.StateStale {
			return false, fmt.Errorf("%s still attached: %w", path, ErrBusy)
		}
		c.removeMountDir(key, path)
		return true, nil
	}
	if state == cryptfs.StateUnmounted {
		c.removeMountDir(key, path)
	}
	return false, nil
}

func (c *Coordinator) adjustHolds(userID string, uploads, transcodes int) {
	key := Key{UserID: userID, Purpose: PurposeUpload}
	release := c.registry.lock(key)
	defer release()

	c.mu.Lock()
	h, ok := c.holds[userID]
	if !ok {
		h = &holds{}
		c.holds[userID] = h
	}
	h.uploads = max(h.uploads+uploads, 0)
	h.transcodes = max(h.transcodes+transcodes, 0)
	total := h.uploads + h.transcodes
	if total == 0 {
		delete(c.holds, userID)
	}
	c.mu.Unlock()

	c.registry.update(key, func(mp *MountPoint) { mp.Refs = total })
}

func (c *Coordinator) reevaluate(ctx context.Context, userID string) {
	release := c.registry.lockUser(userID, PurposeLogin, PurposeUpload)
	defer release()
	if c.registry.Get(Key{UserID: userID, Purpose: PurposeLogin}).Refs > 0 {
		return
	}
	c.evict(ctx, userID)
}

// evict runs with the login and upload keys held and the user logged out.
func (c *Coordinator) evict(ctx context.Context, userID string) {
	loginKey := Key{UserID: userID, Purpose: PurposeLogin}
	uploadKey := Key{UserID: userID, Purpose: PurposeUpload}

	if reason, busy := c.busy(ctx, userID); busy {
		login := c.registry.Get(loginKey)
		upload := c.registry.Get(uploadKey)
		if !login.Mounted && !upload.Mounted {
			return
		}
		c.registry.update(loginKey, func(mp *MountPoint) { mp.EvictPending = true })
		if !login.EvictPending {
			c.metrics.EvictionDeferred()
			c.logger.Info("unmount deferred",
				logging.String(logging.FieldUserID, userID),
				logging.String("reason", reason),
				logging.String(logging.FieldEventType, "evict_deferred"),
			)
		}
		return
	}

	for _, key := range []Key{loginKey, uploadKey} {
		if err := c.unmount(ctx, key); err != nil {
			c.logger.Error("unmount after logout failed",
				logging.String(logging.FieldUserID, userID),
				logging.String(logging.FieldMountKind, string(key.Purpose)),
				logging.Error(err),
				logging.String(logging.FieldEventType, "unmount_failed"),
				logging.String(logging.FieldErrorHint, "the next mount for this path will clear the stale state"),
			)
		}
	}
	c.registry.update(loginKey, func(mp *MountPoint) { mp.EvictPending = false })
}

// busy reports whether uploads or transcodes still need the user's
// volume. Store errors count as busy so a failed query never unmounts
// under running work.
func (c *Coordinator) busy(ctx context.Context, userID string) (string, bool) {
	if uploads, transcodes := c.Holds(userID); transcodes > 0 {
		return "transcode running", true
	} else if uploads > 0 {
		return "upload in progress", true
	}
	if c.store == nil {
		return "", false
	}
	processing, err := c.store.CountProcessing(ctx, userID)
	if err != nil {
		c.logger.Warn("hold check failed", logging.String(logging.FieldUserID, userID), logging.Error(err))
		return "hold check failed", true
	}
	if processing > 0 {
		return "media processing", true
	}
	uploads, err := c.store.CountUploads(ctx, userID)
	if err != nil {
		c.logger.Warn("hold check failed", logging.String(logging.FieldUserID, userID), logging.Error(err))
		return "hold check failed", true
	}
	if uploads > 0 {
		return "upload session open", true
	}
	return "", false
}

// mount runs with the key lock held.
func (c *Coordinator) mount(ctx context.Context, key Key, secret string) error {
	path := c.registry.Path(key)
	fail := func(err error) error {
		c.metrics.MountFailed(string(key.Purpose))
		return &MountError{UserID: key.UserID, Purpose: key.Purpose, Path: path, Err: err}
	}
	if !key.Purpose.valid() {
		return fail(fmt.Errorf("%w: %q", ErrUnknownPurpose, key.Purpose))
	}
	cipherDir, err := c.volumes.CipherDir(key.UserID)
	if err != nil {
		return fail(err)
	}

	state, err := c.prober.Probe(path)
	if err != nil {
		return fail(err)
	}
	prev := c.registry.Get(key)
	switch state {
	case cryptfs.StateMounted:
		c.markMounted(key, 0)
		return nil
	case cryptfs.StateNotDirectory:
		return fail(ErrPathConflict)
	case cryptfs.StateStale:
		if err := c.clearStale(ctx, key, path); err != nil {
			return fail(err)
		}
	case cryptfs.StateUnmounted:
		if prev.Mounted {
			c.logger.Warn("registry mount was detached externally",
				logging.String(logging.FieldUserID, key.UserID),
				logging.String(logging.FieldMountKind, string(key.Purpose)),
				logging.String(logging.FieldEventType, "stale_registry"),
			)
			if err := c.clearStale(ctx, key, path); err != nil {
				return fail(err)
			}
		}
	}

	created, err := makeMountDir(path)
	if err != nil {
		return fail(fmt.Errorf("create mount point: %w", err))
	}
	start := time.Now()
	err = c.driver.Mount(ctx, cipherDir, path, secret, cryptfs.MountOptions{ReadOnly: key.Purpose.readOnly()})
	if err != nil {
		c.discardMountDirs(ctx, key, path, created)
		c.logger.Warn("mount failed",
			logging.String(logging.FieldUserID, key.UserID),
			logging.String(logging.FieldMountKind, string(key.Purpose)),
			logging.Error(err),
			logging.String(logging.FieldEventType, "mount_failed"),
		)
		return fail(err)
	}
	c.markMounted(key, time.Since(start))
	c.logger.Info("volume mounted",
		logging.String(logging.FieldUserID, key.UserID),
		logging.String(logging.FieldMountKind, string(key.Purpose)),
		logging.String(logging.FieldMountPath, path),
		logging.String(logging.FieldEventType, "mount_attached"),
	)
	return nil
}

// clearStale lazily detaches a dead or forgotten mount before remounting.
func (c *Coordinator) clearStale(ctx context.Context, key Key, path string) error {
	if err := c.driver.Unmount(ctx, path, true); err != nil && !errors.Is(err, cryptfs.ErrNotMounted) {
		c.logger.Debug("lazy unmount of stale mount reported error", logging.String(logging.FieldMountPath, path), logging.Error(err))
	}
	c.markUnmounted(key, 0)
	state, err := c.prober.Probe(path)
	if err != nil {
		return err
	}
	if state == cryptfs.StateMounted || state == cryptfs.StateStale {
		return fmt.Errorf("stale mount at %s could not be cleared: %w", path, ErrBusy)
	}
	c.logger.Info("stale mount cleared",
		logging.String(logging.FieldUserID, key.UserID),
		logging.String(logging.FieldMountKind, string(key.Purpose)),
		logging.String(logging.FieldEventType, "stale_mount_cleared"),
	)
	return nil
}

// unmount runs with the key lock held. The mount point directory is
// removed only after a probe shows nothing attached.
func (c *Coordinator) unmount(ctx context.Context, key Key) error {
	path := c.registry.Path(key)
	fail := func(err error) error {
		c.metrics.UnmountFailed(string(key.Purpose))
		return &UnmountError{UserID: key.UserID, Purpose: key.Purpose, Path: path, Err: err}
	}

	state, err := c.prober.Probe(path)
	if err != nil {
		return fail(err)
	}
	switch state {
	case cryptfs.StateAbsent, cryptfs.StateNotDirectory:
		c.markUnmounted(key, 0)
		return nil
	case cryptfs.StateUnmounted:
		c.markUnmounted(key, 0)
		c.removeMountDir(key, path)
		return nil
	}

	start := time.Now()
	unmountErr := c.driver.Unmount(ctx, path, state == cryptfs.StateStale)
	after, err := c.prober.Probe(path)
	if err != nil {
		return fail(err)
	}
	if after == cryptfs.StateMounted || after == cryptfs.StateStale {
		cause := unmountErr
		if cause == nil {
			cause = fmt.Errorf("%s still attached", path)
		}
		if !errors.Is(cause, ErrBusy) {
			cause = fmt.Errorf("%w: %w", ErrBusy, cause)
		}
		return fail(cause)
	}
	if unmountErr != nil && !errors.Is(unmountErr, cryptfs.ErrNotMounted) {
		c.logger.Debug("unmount reported error but path is detached", logging.String(logging.FieldMountPath, path), logging.Error(unmountErr))
	}
	c.markUnmounted(key, time.Since(start))
	c.removeMountDir(key, path)
	c.logger.Info("volume unmounted",
		logging.String(logging.FieldUserID, key.UserID),
		logging.String(logging.FieldMountKind, string(key.Purpose)),
		logging.String(logging.FieldEventType, "mount_detached"),
	)
	return nil
}

func (c *Coordinator) markMounted(key Key, took time.Duration) {
	c.registry.update(key, func(mp *MountPoint) {
		if !mp.Mounted {
			c.metrics.MountAttached(string(key.Purpose), took)
		}
		mp.Mounted = true
	})
}

func (c *Coordinator) markUnmounted(key Key, took time.Duration) {
	c.registry.update(key, func(mp *MountPoint) {
		if mp.Mounted {
			c.metrics.MountDetached(string(key.Purpose), took)
		}
		mp.Mounted = false
	})
}

// discardMountDirs removes directories created for a failed mount once a
// probe confirms nothing is attached there.
func (c *Coordinator) discardMountDirs(ctx context.Context, key Key, path string, created []string) {
	state, err := c.prober.Probe(path)
	if err == nil && state == cryptfs.StateMounted {
		_ = c.driver.Unmount(ctx, path, true)
		state, err = c.prober.Probe(path)
	}
	if err != nil || (state != cryptfs.StateUnmounted && state != cryptfs.StateAbsent) {
		c.logger.Warn("mount point left in place after failed mount",
			logging.String(logging.FieldUserID, key.UserID),
			logging.String(logging.FieldMountPath, path),
		)
		return
	}
	for _, dir := range created {
		if err := os.Remove(dir); err != nil && !errors.Is(err, fs.ErrNotExist) {
			c.logger.Debug("remove mount dir", logging.String(logging.FieldMountPath, dir), logging.Error(err))
			return
		}
	}
}

func (c *Coordinator) removeMountDir(key Key, path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		c.logger.Warn("mount point not removed",
			logging.String(logging.FieldUserID, key.UserID),
			logging.String(logging.FieldMountPath, path),
			logging.Error(err),
		)
	}
}

// makeMountDir creates path with 0700 permissions and returns the
// directories it created, deepest first.
func makeMountDir(path string) ([]string, error) {
	var missing []string
	for dir := path; ; {
		_, err := os.Lstat(dir)
		if err == nil {
			break
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		missing = append(missing, dir)
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	if err := os.MkdirAll(path, 0o700); err != nil {
		return nil, err
	}
	return missing, nil
}
