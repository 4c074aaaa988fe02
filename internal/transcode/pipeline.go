package transcode

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"lockbox/internal/config"
	"lockbox/internal/logging"
	"lockbox/internal/media/ffprobe"
	"lockbox/internal/metrics"
	"lockbox/internal/store"
	"lockbox/internal/workers"
)

const (
	// ManifestName is the HLS playlist written inside a video's directory.
	ManifestName   = "index.m3u8"
	segmentPattern = "segment%03d.ts"
	thumbSuffix    = "-thumb.jpg"
	scratchSuffix  = ".part.webp"

	// StreamDirSuffix is appended to a video's base name to form its HLS
	// directory. Upload names always end in -<millis><ext>, so no source
	// file can take this name.
	StreamDirSuffix = "-hls"

	// RestartReason is recorded on media left processing by a previous daemon.
	RestartReason = "interrupted by daemon restart"
)

// Recorder persists the terminal state of a media item.
type Recorder interface {
	FinishMedia(ctx context.Context, id string, result store.MediaResult) error
	FailStuckProcessing(ctx context.Context, reason string) (int64, error)
}

// Notifier is told when a job is queued and when it has finished.
type Notifier interface {
	TranscodeStarted(userID string)
	TranscodeFinished(ctx context.Context, userID string)
}

// Submitter queues background tasks.
type Submitter interface {
	Submit(task workers.Task) error
}

// Job is one reassembled upload waiting to be transcoded. SourcePath lives
// in OutputDir, the root of the user's upload mount.
type Job struct {
	MediaID    string
	UserID     string
	Type       store.MediaType
	SourcePath string
	OutputDir  string
	BaseName   string
}

// Options wires a Pipeline. Recorder and Notifier are required.
type Options struct {
	Config   *config.Config
	Recorder Recorder
	Notifier Notifier
	Pool     Submitter
	Runner   Runner
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

// Pipeline runs ffmpeg over uploaded media and records the outcome.
type Pipeline struct {
	ffmpeg   string
	ffprobe  string
	timeout  time.Duration
	maxWidth int

	recorder Recorder
	notifier Notifier
	pool     Submitter
	runner   Runner
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// New builds a Pipeline from configuration.
func New(opts Options) *Pipeline {
	runner := opts.Runner
	if runner == nil {
		runner = execRunner{}
	}
	cfg := opts.Config
	return &Pipeline{
		ffmpeg:   cfg.Transcode.FFmpegBinary,
		ffprobe:  cfg.Transcode.FFprobeBinary,
		timeout:  cfg.TranscodeTimeout(),
		maxWidth: cfg.Transcode.ImageMaxWidth,
		recorder: opts.Recorder,
		notifier: opts.Notifier,
		pool:     opts.Pool,
		runner:   runner,
		metrics:  opts.Metrics,
		logger:   logging.NewComponentLogger(opts.Logger, "transcode"),
	}
}

// Schedule queues job on the worker pool. The notifier sees
// TranscodeStarted before Schedule returns and TranscodeFinished once the
// job ends, or immediately when it could not be queued.
func (p *Pipeline) Schedule(job Job) error {
	if p.pool == nil {
		return errors.New("transcode: no worker pool configured")
	}
	p.notifier.TranscodeStarted(job.UserID)
	err := p.pool.Submit(workers.Task{
		Name: "transcode " + job.MediaID,
		Run: func(ctx context.Context) error {
			return p.Process(ctx, job)
		},
		Done: func(error) {
			p.notifier.TranscodeFinished(context.Background(), job.UserID)
		},
	})
	if err != nil {
		p.notifier.TranscodeFinished(context.Background(), job.UserID)
		return fmt.Errorf("schedule transcode: %w", err)
	}
	return nil
}

// Process runs the job under the configured wall-clock timeout.
func (p *Pipeline) Process(ctx context.Context, job Job) error {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	logger := p.logger.With(
		logging.String(logging.FieldMediaID, job.MediaID),
		logging.String(logging.FieldUserID, job.UserID),
	)
	logger.Info("transcode started", logging.String("type", string(job.Type)))

	start := time.Now()
	var (
		status store.MediaStatus
		err    error
	)
	switch job.Type {
	case store.MediaImage:
		status, err = p.ProcessImage(ctx, job)
	case store.MediaVideo:
		status, err = p.ProcessVideo(ctx, job)
	default:
		err = fmt.Errorf("unknown media type %q", job.Type)
		status = store.MediaError
		if recErr := p.finish(job, store.MediaResult{Status: store.MediaError, ErrorMessage: "unsupported media type"}); recErr != nil {
			err = errors.Join(err, recErr)
		}
	}
	p.metrics.TranscodeFinished(string(job.Type), string(status), time.Since(start))

	attrs := []logging.Attr{
		logging.String("status", string(status)),
		logging.Duration("elapsed", time.Since(start)),
		logging.String(logging.FieldEventType, "transcode_finished"),
	}
	if err != nil {
		attrs = append(attrs, logging.Error(err))
		logger.Warn("transcode finished with errors", logging.Args(attrs...)...)
	} else {
		logger.Info("transcode finished", logging.Args(attrs...)...)
	}
	return err
}

// ProcessImage converts the source to a width-capped webp. ffmpeg writes
// to a scratch name that is renamed into place, so a webp upload is never
// its own output. When ffmpeg fails the original upload stays as the
// content and the item is still marked ready.
func (p *Pipeline) ProcessImage(ctx context.Context, job Job) (store.MediaStatus, error) {
	name := job.BaseName + ".webp"
	dst := filepath.Join(job.OutputDir, name)
	scratch := filepath.Join(job.OutputDir, job.BaseName+scratchSuffix)

	runErr := p.run(ctx, "image", imageArgs(job.SourcePath, scratch, p.maxWidth))
	if runErr == nil {
		runErr = requireFile(scratch, "image")
	}
	if runErr == nil {
		if err := os.Rename(scratch, dst); err != nil {
			runErr = &Error{Stage: "image", Err: err}
		}
	}
	if runErr != nil {
		p.removeQuietly(scratch)
		if err := p.finish(job, store.MediaResult{Status: store.MediaReady}); err != nil {
			return store.MediaReady, errors.Join(runErr, err)
		}
		return store.MediaReady, runErr
	}

	if err := p.finish(job, store.MediaResult{Status: store.MediaReady, Path: name}); err != nil {
		return store.MediaReady, err
	}
	if filepath.Clean(job.SourcePath) != dst {
		p.removeQuietly(job.SourcePath)
	}
	return store.MediaReady, nil
}

// ProcessVideo segments the source into HLS under <BaseName>-hls/ and grabs
// a thumbnail. A failed segmenting step marks the item as error; a failed
// thumbnail is ignored. The stream directory must not exist beforehand and
// is only removed when this call created it.
func (p *Pipeline) ProcessVideo(ctx context.Context, job Job) (store.MediaStatus, error) {
	dirName := job.BaseName + StreamDirSuffix
	hlsDir := filepath.Join(job.OutputDir, dirName)
	manifest := filepath.Join(hlsDir, ManifestName)

	created := false
	runErr := os.Mkdir(hlsDir, 0o700)
	if runErr == nil {
		created = true
		runErr = p.run(ctx, "segment", hlsArgs(job.SourcePath, hlsDir))
	}
	if runErr == nil {
		runErr = requireFile(manifest, "segment")
	}
	if runErr != nil {
		if created {
			if err := os.RemoveAll(hlsDir); err != nil {
				p.logger.Warn("partial stream not removed", logging.String("dir", hlsDir), logging.Error(err))
			}
		}
		result := store.MediaResult{Status: store.MediaError, ErrorMessage: "video conversion failed"}
		if err := p.finish(job, result); err != nil {
			return store.MediaError, errors.Join(runErr, err)
		}
		return store.MediaError, runErr
	}

	thumbName := job.BaseName + thumbSuffix
	thumb := filepath.Join(job.OutputDir, thumbName)
	if err := p.run(ctx, "thumbnail", thumbnailArgs(job.SourcePath, thumb, p.thumbnailOffset(ctx, job.SourcePath))); err != nil {
		p.logger.Debug("thumbnail skipped", logging.String(logging.FieldMediaID, job.MediaID), logging.Error(err))
		p.removeQuietly(thumb)
		thumbName = ""
	} else if err := requireFile(thumb, "thumbnail"); err != nil {
		thumbName = ""
	}

	result := store.MediaResult{
		Status:        store.MediaReady,
		Path:          dirName + "/" + ManifestName,
		ThumbnailPath: thumbName,
	}
	if err := p.finish(job, result); err != nil {
		return store.MediaReady, err
	}
	p.removeQuietly(job.SourcePath)
	return store.MediaReady, nil
}

// Recover fails media left processing by a previous run. Their jobs died
// with the old process, so nothing will ever finish them.
func (p *Pipeline) Recover(ctx context.Context) (int64, error) {
	n, err := p.recorder.FailStuckProcessing(ctx, RestartReason)
	if err != nil {
		return 0, fmt.Errorf("recover stuck media: %w", err)
	}
	if n > 0 {
		p.logger.Warn("stuck media marked as failed",
			logging.Int64("count", n),
			logging.String(logging.FieldEventType, "stuck_media_reset"),
		)
	}
	return n, nil
}

// thumbnailOffset picks 1s into the video, or the first frame of clips
// ffprobe reports as shorter than that.
func (p *Pipeline) thumbnailOffset(ctx context.Context, src string) float64 {
	if p.ffprobe == "" {
		return 1
	}
	result, err := ffprobe.Inspect(ctx, p.ffprobe, src)
	if err != nil {
		return 1
	}
	if seconds, ok := result.Duration(); ok && seconds < 1 {
		return 0
	}
	return 1
}

func (p *Pipeline) run(ctx context.Context, stage string, args []string) error {
	out, code, err := p.runner.Run(ctx, p.ffmpeg, args)
	if err == nil {
		return nil
	}
	return &Error{
		Stage:    stage,
		ExitCode: max(code, 0),
		TimedOut: errors.Is(ctx.Err(), context.DeadlineExceeded),
		Output:   string(out),
		Err:      err,
	}
}

// finish records the result on a fresh context so a timed-out job still
// leaves the item in a terminal state.
func (p *Pipeline) finish(job Job, result store.MediaResult) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := p.recorder.FinishMedia(ctx, job.MediaID, result); err != nil {
		return fmt.Errorf("record %s result: %w", result.Status, err)
	}
	return nil
}

func requireFile(path, stage string) error {
	info, err := os.Stat(path)
	if err != nil || info.Size() == 0 {
		return &Error{Stage: stage, Err: fmt.Errorf("no output at %s", filepath.Base(path))}
	}
	return nil
}

func (p *Pipeline) removeQuietly(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		p.logger.Debug("remove transcode file", logging.String("path", path), logging.Error(err))
	}
}
