package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"lockbox/internal/lifecycle"
	"lockbox/internal/logging"
	"lockbox/internal/metrics"
	"lockbox/internal/store"
	"lockbox/internal/transcode"
)

// ChunkDir is the directory inside the volume root holding chunk areas.
// It is never served as content.
const ChunkDir = "_chunks"

// Coordinator is the slice of the lifecycle coordinator the assembler uses.
type Coordinator interface {
	MountedPath(userID string, purpose lifecycle.Purpose) (string, bool)
	UploadStarted(userID string)
	UploadFinished(ctx context.Context, userID string)
}

// Scheduler hands a reassembled file to the transcode pipeline.
type Scheduler interface {
	Schedule(job transcode.Job) error
}

// InitRequest announces an incoming file.
type InitRequest struct {
	Name     string
	MimeType string
	Size     int64
	UserID   string
}

// Options wires an Assembler. Store, Coordinator and Scheduler are required.
type Options struct {
	Store         *store.Store
	Coordinator   Coordinator
	Scheduler     Scheduler
	MaxChunkBytes int64
	Metrics       *metrics.Metrics
	Logger        *slog.Logger
}

// Assembler stores chunks inside the owner's upload mount and reassembles
// them into a media item.
type Assembler struct {
	store     *store.Store
	coord     Coordinator
	scheduler Scheduler
	maxChunk  int64
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time
	locks     *uploadLocks
	outputMu  sync.Mutex
}

// New builds an Assembler.
func New(opts Options) *Assembler {
	return &Assembler{
		store:     opts.Store,
		coord:     opts.Coordinator,
		scheduler: opts.Scheduler,
		maxChunk:  opts.MaxChunkBytes,
		metrics:   opts.Metrics,
		logger:    logging.NewComponentLogger(opts.Logger, "upload"),
		now:       time.Now,
		locks:     newUploadLocks(),
	}
}

// Init validates the announced file, creates its chunk area and registers
// the session. The returned id is the only credential later chunk and
// complete calls need.
func (a *Assembler) Init(ctx context.Context, req InitRequest) (*store.UploadSession, error) {
	if _, ok := MediaTypeFor(req.MimeType); !ok {
		return nil, fmt.Errorf("init upload %q: %w", req.MimeType, ErrUnsupportedType)
	}
	name, ok := CleanName(req.Name)
	if !ok {
		return nil, fmt.Errorf("init upload: %w", ErrInvalidName)
	}
	if req.Size <= 0 {
		return nil, fmt.Errorf("init upload: %w", ErrInvalidSize)
	}
	root, mounted := a.coord.MountedPath(req.UserID, lifecycle.PurposeUpload)
	if !mounted {
		return nil, fmt.Errorf("init upload: %w", ErrNotMounted)
	}
	a.removeOrphans(ctx, req.UserID, root)

	session := &store.UploadSession{
		ID:           uuid.NewString(),
		UserID:       req.UserID,
		Name:         name,
		MimeType:     req.MimeType,
		DeclaredSize: req.Size,
	}
	// The row goes in first so a concurrent orphan sweep never sees this
	// chunk area without its session.
	if err := a.store.CreateUpload(ctx, session); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(chunkDir(root, session.ID), 0o700); err != nil {
		if _, delErr := a.store.DeleteUpload(context.WithoutCancel(ctx), session.ID); delErr != nil {
			a.logger.Warn("upload row not rolled back", logging.String(logging.FieldUploadID, session.ID), logging.Error(delErr))
		}
		return nil, &WriteError{Op: "create chunk area", Err: err}
	}
	a.coord.UploadStarted(req.UserID)
	a.logger.Info("upload started",
		logging.String(logging.FieldUploadID, session.ID),
		logging.String(logging.FieldUserID, req.UserID),
		logging.String("mime_type", req.MimeType),
		logging.Int64("declared_size", req.Size),
	)
	return session, nil
}

// PutChunk streams body into the chunk slot for index. The chunk is
// written to a temporary file and renamed into place, so a failed write
// never leaves a partial chunk behind. A Complete arriving mid-write waits
// for the chunk to be recorded; a chunk arriving after the claim is
// rejected before anything is written.
func (a *Assembler) PutChunk(ctx context.Context, uploadID, index string, body io.Reader) (int64, error) {
	if _, err := uuid.Parse(uploadID); err != nil {
		return 0, ErrUnknownUpload
	}
	_, slot, ok := parseIndex(index)
	if !ok {
		return 0, fmt.Errorf("chunk %q: %w", index, ErrInvalidChunkIndex)
	}
	unlock := a.locks.shared(uploadID)
	defer unlock()

	session, err := a.store.GetUpload(ctx, uploadID)
	if err != nil {
		return 0, err
	}
	if session == nil || session.Status != store.UploadReceiving {
		return 0, ErrUnknownUpload
	}
	root, mounted := a.coord.MountedPath(session.UserID, lifecycle.PurposeUpload)
	if !mounted {
		return 0, ErrNotMounted
	}
	dir := chunkDir(root, uploadID)
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return 0, ErrUnknownUpload
	}

	tmp, err := os.CreateTemp(dir, slot+".*.part")
	if err != nil {
		return 0, &WriteError{Op: "create chunk", Err: err}
	}
	limit := a.maxChunk
	if limit <= 0 {
		limit = 1<<63 - 2
	}
	n, copyErr := io.Copy(tmp, io.LimitReader(body, limit+1))
	closeErr := tmp.Close()
	switch {
	case copyErr != nil:
		_ = os.Remove(tmp.Name())
		return 0, &WriteError{Op: "write chunk", Err: copyErr}
	case closeErr != nil:
		_ = os.Remove(tmp.Name())
		return 0, &WriteError{Op: "write chunk", Err: closeErr}
	case n > limit:
		_ = os.Remove(tmp.Name())
		return 0, fmt.Errorf("chunk %s: %w", slot, ErrChunkTooLarge)
	}

	final := filepath.Join(dir, slot)
	chunks, delta := 1, n
	if prev, err := os.Stat(final); err == nil {
		chunks, delta = 0, n-prev.Size()
	}
	if err := os.Rename(tmp.Name(), final); err != nil {
		_ = os.Remove(tmp.Name())
		return 0, &WriteError{Op: "store chunk", Err: err}
	}
	if err := a.store.RecordChunk(ctx, uploadID, chunks, delta); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return 0, ErrUnknownUpload
		}
		return 0, err
	}
	a.metrics.ChunkStored(n)
	return n, nil
}

// Complete reassembles the chunks in numeric index order, replaces the
// session with a processing media item and queues the transcode. The
// session is consumed, so a second call fails with ErrUnknownUpload. On
// failure before the media item exists the chunks are left untouched and
// the session accepts chunks again.
func (a *Assembler) Complete(ctx context.Context, uploadID string) (item *store.MediaItem, err error) {
	if _, parseErr := uuid.Parse(uploadID); parseErr != nil {
		return nil, ErrUnknownUpload
	}
	unlock := a.locks.exclusive(uploadID)
	session, err := a.store.ClaimUpload(ctx, uploadID)
	unlock()
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrUnknownUpload
	}
	if err != nil {
		return nil, err
	}
	finalized := false
	defer func() {
		if finalized {
			return
		}
		if relErr := a.store.ReleaseUpload(context.WithoutCancel(ctx), uploadID); relErr != nil {
			a.logger.Warn("upload claim not released", logging.String(logging.FieldUploadID, uploadID), logging.Error(relErr))
		}
	}()

	mediaType, ok := MediaTypeFor(session.MimeType)
	if !ok {
		return nil, ErrUnsupportedType
	}
	root, mounted := a.coord.MountedPath(session.UserID, lifecycle.PurposeUpload)
	if !mounted {
		return nil, ErrNotMounted
	}
	dir := chunkDir(root, uploadID)
	slots, err := listChunks(dir)
	if err != nil {
		return nil, err
	}

	base, ext := splitName(session.Name)
	fileName, dst, err := a.createOutput(root, base, ext)
	if err != nil {
		return nil, err
	}
	written, err := appendChunks(dst, dir, slots)
	if err != nil {
		_ = os.Remove(dst.Name())
		return nil, err
	}

	item = &store.MediaItem{
		ID:     uuid.NewString(),
		UserID: session.UserID,
		Type:   mediaType,
		Name:   session.Name,
		Size:   written,
		Path:   fileName,
		Status: store.MediaProcessing,
	}
	if err := a.store.FinalizeUpload(ctx, uploadID, item); err != nil {
		_ = os.Remove(dst.Name())
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrUnknownUpload
		}
		return nil, err
	}
	finalized = true

	if err := os.RemoveAll(dir); err != nil {
		a.logger.Warn("chunk area not removed", logging.String(logging.FieldUploadID, uploadID), logging.Error(err))
	}

	job := transcode.Job{
		MediaID:    item.ID,
		UserID:     session.UserID,
		Type:       mediaType,
		SourcePath: dst.Name(),
		OutputDir:  root,
		BaseName:   trimExt(fileName),
	}
	if err := a.scheduler.Schedule(job); err != nil {
		a.logger.Error("transcode not scheduled",
			logging.String(logging.FieldMediaID, item.ID),
			logging.Error(err),
			logging.String(logging.FieldEventType, "transcode_rejected"),
		)
		result := store.MediaResult{Status: store.MediaError, ErrorMessage: "transcoding unavailable"}
		if mediaType == store.MediaImage {
			result = store.MediaResult{Status: store.MediaReady}
		}
		if recErr := a.store.FinishMedia(context.WithoutCancel(ctx), item.ID, result); recErr != nil {
			a.logger.Error("media status not recorded", logging.String(logging.FieldMediaID, item.ID), logging.Error(recErr))
		}
		item.Status = result.Status
	}

	a.coord.UploadFinished(ctx, session.UserID)
	a.metrics.UploadFinished("completed")
	a.logger.Info("upload assembled",
		logging.String(logging.FieldUploadID, uploadID),
		logging.String(logging.FieldMediaID, item.ID),
		logging.String(logging.FieldUserID, session.UserID),
		logging.Int("chunks", len(slots)),
		logging.Int64("bytes", written),
	)
	return item, nil
}

// Abort discards a receiving session owned by userID.
func (a *Assembler) Abort(ctx context.Context, uploadID, userID string) error {
	if _, err := uuid.Parse(uploadID); err != nil {
		return ErrUnknownUpload
	}
	session, err := a.store.GetUpload(ctx, uploadID)
	if err != nil {
		return err
	}
	if session == nil || session.UserID != userID {
		return ErrUnknownUpload
	}
	unlock := a.locks.exclusive(uploadID)
	deleted, err := a.store.DeleteUpload(ctx, uploadID)
	unlock()
	if err != nil {
		return err
	}
	if !deleted {
		return ErrUnknownUpload
	}
	a.discard(ctx, session, "aborted")
	return nil
}

// Reap discards receiving sessions with no chunk activity for idle. A
// non-positive idle disables reaping.
func (a *Assembler) Reap(ctx context.Context, idle time.Duration) (int, error) {
	if idle <= 0 {
		return 0, nil
	}
	cutoff := a.now().Add(-idle)
	sessions, err := a.store.ListIdleUploads(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	reaped := 0
	for i := range sessions {
		session := &sessions[i]
		unlock := a.locks.exclusive(session.ID)
		deleted, err := a.store.DeleteIdleUpload(ctx, session.ID, cutoff)
		unlock()
		if err != nil {
			return reaped, err
		}
		if !deleted {
			continue
		}
		a.discard(ctx, session, "reaped")
		reaped++
	}
	if reaped > 0 {
		a.logger.Info("abandoned uploads discarded",
			logging.Int("count", reaped),
			logging.Duration("idle", idle),
			logging.String(logging.FieldEventType, "uploads_reaped"),
		)
	}
	return reaped, nil
}

// discard removes a deleted session's chunk area and releases its hold.
// With the upload volume detached the area stays encrypted at rest and is
// removed by the next Init for that user.
func (a *Assembler) discard(ctx context.Context, session *store.UploadSession, outcome string) {
	if root, mounted := a.coord.MountedPath(session.UserID, lifecycle.PurposeUpload); mounted {
		if err := os.RemoveAll(chunkDir(root, session.ID)); err != nil {
			a.logger.Warn("chunk area not removed", logging.String(logging.FieldUploadID, session.ID), logging.Error(err))
		}
	}
	a.coord.UploadFinished(ctx, session.UserID)
	a.metrics.UploadFinished(outcome)
	a.logger.Info("upload discarded",
		logging.String(logging.FieldUploadID, session.ID),
		logging.String(logging.FieldUserID, session.UserID),
		logging.String("outcome", outcome),
		logging.Int("chunks", session.ChunkCount),
	)
}

// removeOrphans deletes chunk areas that no longer have a session row.
// Init writes the row before the directory, so a live session is never
// mistaken for an orphan.
func (a *Assembler) removeOrphans(ctx context.Context, userID, root string) {
	entries, err := os.ReadDir(filepath.Join(root, ChunkDir))
	if err != nil {
		return
	}
	for _, entry := range entries {
		session, err := a.store.GetUpload(ctx, entry.Name())
		if err != nil || (session != nil && session.UserID == userID) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(root, ChunkDir, entry.Name())); err == nil {
			a.logger.Debug("orphaned chunk area removed", logging.String(logging.FieldUploadID, entry.Name()))
		}
	}
}

// createOutput opens a fresh file named <base>-<unix millis><ext> in root,
// stepping the suffix forward while the stem is taken. Transcode outputs
// are named after the stem, so two sources must never share one.
func (a *Assembler) createOutput(root, base, ext string) (string, *os.File, error) {
	a.outputMu.Lock()
	defer a.outputMu.Unlock()
	entries, err := os.ReadDir(root)
	if err != nil {
		return "", nil, &WriteError{Op: "create output", Err: err}
	}
	stamp := a.now().UnixMilli()
	for attempt := range 16 {
		stem := base + "-" + strconv.FormatInt(stamp+int64(attempt), 10)
		if stemTaken(entries, stem) {
			continue
		}
		name := stem + ext
		f, err := os.OpenFile(filepath.Join(root, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
		if err == nil {
			return name, f, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", nil, &WriteError{Op: "create output", Err: err}
		}
	}
	return "", nil, &WriteError{Op: "create output", Err: fmt.Errorf("no free name for %s%s", base, ext)}
}

// stemTaken reports whether a source or transcode output already uses stem.
func stemTaken(entries []fs.DirEntry, stem string) bool {
	for _, entry := range entries {
		name := entry.Name()
		if name == stem || strings.HasPrefix(name, stem+".") || strings.HasPrefix(name, stem+"-") {
			return true
		}
	}
	return false
}

type chunkSlot struct {
	index int
	name  string
}

// listChunks returns the stored chunks sorted by numeric index and checks
// that they run 0..n-1 without gaps.
func listChunks(dir string) ([]chunkSlot, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrUnknownUpload
	}
	if err != nil {
		return nil, &WriteError{Op: "list chunks", Err: err}
	}
	var slots []chunkSlot
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		index, canonical, ok := parseIndex(entry.Name())
		if !ok || canonical != entry.Name() {
			continue
		}
		slots = append(slots, chunkSlot{index: index, name: entry.Name()})
	}
	if len(slots) == 0 {
		return nil, ErrNoChunks
	}
	slices.SortFunc(slots, func(a, b chunkSlot) int { return a.index - b.index })
	for i, slot := range slots {
		if slot.index != i {
			return nil, fmt.Errorf("%w: expected chunk %d, found %d", ErrMissingChunks, i, slot.index)
		}
	}
	return slots, nil
}

// appendChunks copies every chunk into dst in order, syncs and closes it.
func appendChunks(dst *os.File, dir string, slots []chunkSlot) (int64, error) {
	var total int64
	for _, slot := range slots {
		n, err := copyFile(dst, filepath.Join(dir, slot.name))
		total += n
		if err != nil {
			_ = dst.Close()
			return total, &WriteError{Op: "assemble chunk " + slot.name, Err: err}
		}
	}
	if err := dst.Sync(); err != nil {
		_ = dst.Close()
		return total, &WriteError{Op: "sync output", Err: err}
	}
	if err := dst.Close(); err != nil {
		return total, &WriteError{Op: "close output", Err: err}
	}
	return total, nil
}

func copyFile(dst io.Writer, path string) (int64, error) {
	src, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer src.Close()
	return io.Copy(dst, src)
}

func chunkDir(root, uploadID string) string {
	return filepath.Join(root, ChunkDir, uploadID)
}

func trimExt(name string) string {
	return name[:len(name)-len(filepath.Ext(name))]
}
