package transcode_test

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"lockbox/internal/config"
	"lockbox/internal/store"
	"lockbox/internal/testsupport"
	"lockbox/internal/transcode"
	"lockbox/internal/workers"
)

type recordingNotifier struct {
	mu       sync.Mutex
	started  int
	finished int
	done     chan string
}

func newNotifier() *recordingNotifier {
	return &recordingNotifier{done: make(chan string, 8)}
}

func (n *recordingNotifier) TranscodeStarted(string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.started++
}

func (n *recordingNotifier) TranscodeFinished(_ context.Context, userID string) {
	n.mu.Lock()
	n.finished++
	n.mu.Unlock()
	n.done <- userID
}

func (n *recordingNotifier) counts() (int, int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.started, n.finished
}

type fixture struct {
	cfg      *config.Config
	st       *store.Store
	user     *store.User
	pipeline *transcode.Pipeline
	notifier *recordingNotifier
	outDir   string
}

func newFixture(t *testing.T, script string, pool transcode.Submitter) *fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t, testsupport.WithScript("ffmpeg", script))
	cfg.Transcode.FFprobeBinary = ""
	st := testsupport.MustOpenStore(t, cfg)
	notifier := newNotifier()
	return &fixture{
		cfg:      cfg,
		st:       st,
		user:     testsupport.NewUser(t, st, "alice"),
		notifier: notifier,
		outDir:   t.TempDir(),
		pipeline: transcode.New(transcode.Options{
			Config:   cfg,
			Recorder: st,
			Notifier: notifier,
			Pool:     pool,
		}),
	}
}

func (f *fixture) job(t *testing.T, mediaType store.MediaType, name string, data []byte) (transcode.Job, *store.MediaItem) {
	t.Helper()
	base := "clip-1700000000000"
	ext := filepath.Ext(name)
	src := filepath.Join(f.outDir, base+ext)
	testsupport.WriteFile(t, src, data)
	item := testsupport.NewMedia(t, f.st, f.user.ID, mediaType, name, base+ext)
	return transcode.Job{
		MediaID:    item.ID,
		UserID:     f.user.ID,
		Type:       mediaType,
		SourcePath: src,
		OutputDir:  f.outDir,
		BaseName:   base,
	}, item
}

func (f *fixture) media(t *testing.T, id string) *store.MediaItem {
	t.Helper()
	item, err := f.st.GetMedia(context.Background(), id)
	if err != nil || item == nil {
		t.Fatalf("GetMedia: item=%v err=%v", item, err)
	}
	return item
}

func TestVideoProducesManifestAndThumbnail(t *testing.T) {
	f := newFixture(t, testsupport.FFmpegScript(), nil)
	job, item := f.job(t, store.MediaVideo, "clip.mp4", testsupport.Pattern(1, 4096))

	if err := f.pipeline.Process(context.Background(), job); err != nil {
		t.Fatalf("Process: %v", err)
	}
	got := f.media(t, item.ID)
	if got.Status != store.MediaReady || got.Path != "clip-1700000000000-hls/index.m3u8" || got.ThumbnailPath != "clip-1700000000000-thumb.jpg" {
		t.Fatalf("unexpected media after video transcode: %#v", got)
	}
	if _, err := os.Stat(filepath.Join(f.outDir, "clip-1700000000000-hls", "segment000.ts")); err != nil {
		t.Fatalf("expected segment file: %v", err)
	}
	if _, err := os.Stat(job.SourcePath); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected source removed, stat err=%v", err)
	}
}

func TestVideoSegmentFailureMarksError(t *testing.T) {
	f := newFixture(t, testsupport.FFmpegScript(testsupport.FailSegment), nil)
	job, item := f.job(t, store.MediaVideo, "clip.mp4", testsupport.Pattern(2, 1024))

	err := f.pipeline.Process(context.Background(), job)
	var tErr *transcode.Error
	if !errors.As(err, &tErr) || tErr.Stage != "segment" || tErr.ExitCode != 1 {
		t.Fatalf("expected segment failure, got %v", err)
	}
	got := f.media(t, item.ID)
	if got.Status != store.MediaError {
		t.Fatalf("expected error status, got %s", got.Status)
	}
	if _, err := os.Stat(filepath.Join(f.outDir, "clip-1700000000000-hls")); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected partial stream dir removed, stat err=%v", err)
	}
	if _, err := os.Stat(job.SourcePath); err != nil {
		t.Fatalf("expected source kept after failure: %v", err)
	}
}

func TestExtensionlessVideoKeepsSourceApart(t *testing.T) {
	f := newFixture(t, testsupport.FFmpegScript(), nil)
	job, item := f.job(t, store.MediaVideo, "clip", testsupport.Pattern(10, 1024))
	if filepath.Base(job.SourcePath) != job.BaseName {
		t.Fatalf("fixture should share the source and base names, got %q and %q", job.SourcePath, job.BaseName)
	}

	if err := f.pipeline.Process(context.Background(), job); err != nil {
		t.Fatalf("Process: %v", err)
	}
	got := f.media(t, item.ID)
	if got.Status != store.MediaReady || got.Path != "clip-1700000000000-hls/index.m3u8" {
		t.Fatalf("unexpected media: %#v", got)
	}
	if _, err := os.Stat(filepath.Join(f.outDir, "clip-1700000000000-hls", "index.m3u8")); err != nil {
		t.Fatalf("expected manifest: %v", err)
	}
}

func TestExtensionlessVideoFailureKeepsSource(t *testing.T) {
	f := newFixture(t, testsupport.FFmpegScript(testsupport.FailSegment), nil)
	original := testsupport.Pattern(11, 1024)
	job, item := f.job(t, store.MediaVideo, "clip", original)

	if err := f.pipeline.Process(context.Background(), job); err == nil {
		t.Fatal("expected the segment failure to be reported")
	}
	if got := f.media(t, item.ID); got.Status != store.MediaError {
		t.Fatalf("expected error status, got %s", got.Status)
	}
	if data := testsupport.ReadFile(t, job.SourcePath); !bytes.Equal(data, original) {
		t.Fatal("source upload was modified")
	}
}

func TestExistingStreamDirIsLeftAlone(t *testing.T) {
	f := newFixture(t, testsupport.FFmpegScript(), nil)
	job, item := f.job(t, store.MediaVideo, "clip.mp4", testsupport.Pattern(12, 256))
	foreign := filepath.Join(f.outDir, "clip-1700000000000-hls", "keep.txt")
	testsupport.WriteFile(t, foreign, []byte("keep"))

	if err := f.pipeline.Process(context.Background(), job); err == nil {
		t.Fatal("expected an occupied stream dir to fail the job")
	}
	if got := f.media(t, item.ID); got.Status != store.MediaError {
		t.Fatalf("expected error status, got %s", got.Status)
	}
	if _, err := os.Stat(foreign); err != nil {
		t.Fatalf("expected existing directory untouched: %v", err)
	}
}

func TestVideoThumbnailFailureIsTolerated(t *testing.T) {
	f := newFixture(t, testsupport.FFmpegScript(testsupport.FailThumbnail), nil)
	job, item := f.job(t, store.MediaVideo, "clip.webm", testsupport.Pattern(3, 1024))

	if err := f.pipeline.Process(context.Background(), job); err != nil {
		t.Fatalf("Process: %v", err)
	}
	got := f.media(t, item.ID)
	if got.Status != store.MediaReady || got.ThumbnailPath != "" {
		t.Fatalf("expected ready without thumbnail, got %#v", got)
	}
}

func TestImageFailureKeepsOriginal(t *testing.T) {
	f := newFixture(t, testsupport.FFmpegScript(testsupport.FailImage), nil)
	original := testsupport.Pattern(4, 2048)
	job, item := f.job(t, store.MediaImage, "photo.png", original)

	if err := f.pipeline.Process(context.Background(), job); err == nil {
		t.Fatal("expected the ffmpeg failure to be reported")
	}
	got := f.media(t, item.ID)
	if got.Status != store.MediaReady || got.Path != "clip-1700000000000.png" {
		t.Fatalf("expected ready with original path, got %#v", got)
	}
	if data := testsupport.ReadFile(t, job.SourcePath); !bytes.Equal(data, original) {
		t.Fatal("original upload was modified")
	}
	if _, err := os.Stat(filepath.Join(f.outDir, "clip-1700000000000.webp")); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected no webp artifact, stat err=%v", err)
	}
}

func TestImageSuccessReplacesSource(t *testing.T) {
	f := newFixture(t, testsupport.FFmpegScript(), nil)
	job, item := f.job(t, store.MediaImage, "photo.jpg", testsupport.Pattern(5, 512))

	if err := f.pipeline.Process(context.Background(), job); err != nil {
		t.Fatalf("Process: %v", err)
	}
	got := f.media(t, item.ID)
	if got.Status != store.MediaReady || got.Path != "clip-1700000000000.webp" {
		t.Fatalf("unexpected media: %#v", got)
	}
	if _, err := os.Stat(job.SourcePath); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected source removed, stat err=%v", err)
	}
}

func TestWebpFailureKeepsOriginal(t *testing.T) {
	f := newFixture(t, testsupport.FFmpegScript(testsupport.FailImage), nil)
	original := testsupport.Pattern(13, 2048)
	job, item := f.job(t, store.MediaImage, "photo.webp", original)

	if err := f.pipeline.Process(context.Background(), job); err == nil {
		t.Fatal("expected the ffmpeg failure to be reported")
	}
	got := f.media(t, item.ID)
	if got.Status != store.MediaReady || got.Path != "clip-1700000000000.webp" {
		t.Fatalf("expected ready with original path, got %#v", got)
	}
	if data := testsupport.ReadFile(t, filepath.Join(f.outDir, got.Path)); !bytes.Equal(data, original) {
		t.Fatal("original webp upload was modified")
	}
	if _, err := os.Stat(filepath.Join(f.outDir, "clip-1700000000000.part.webp")); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected scratch output removed, stat err=%v", err)
	}
}

func TestWebpSuccessKeepsContent(t *testing.T) {
	f := newFixture(t, testsupport.FFmpegScript(), nil)
	job, item := f.job(t, store.MediaImage, "photo.webp", testsupport.Pattern(14, 512))

	if err := f.pipeline.Process(context.Background(), job); err != nil {
		t.Fatalf("Process: %v", err)
	}
	got := f.media(t, item.ID)
	if got.Status != store.MediaReady || got.Path != "clip-1700000000000.webp" {
		t.Fatalf("unexpected media: %#v", got)
	}
	if data := testsupport.ReadFile(t, filepath.Join(f.outDir, got.Path)); string(data) != "converted" {
		t.Fatalf("expected converted content at %s, got %d bytes", got.Path, len(data))
	}
	if _, err := os.Stat(filepath.Join(f.outDir, "clip-1700000000000.part.webp")); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected scratch output renamed away, stat err=%v", err)
	}
}

func TestTimeoutIsHardFailure(t *testing.T) {
	f := newFixture(t, testsupport.SlowFFmpegScript, nil)
	f.cfg.Transcode.TimeoutSeconds = 1
	f.pipeline = transcode.New(transcode.Options{Config: f.cfg, Recorder: f.st, Notifier: f.notifier})
	job, item := f.job(t, store.MediaVideo, "clip.mov", testsupport.Pattern(6, 256))

	err := f.pipeline.Process(context.Background(), job)
	var tErr *transcode.Error
	if !errors.As(err, &tErr) || !tErr.TimedOut || tErr.ErrorKind() != "timeout" {
		t.Fatalf("expected timeout error, got %v", err)
	}
	if got := f.media(t, item.ID); got.Status != store.MediaError {
		t.Fatalf("expected error status after timeout, got %s", got.Status)
	}
}

func TestScheduleNotifiesAroundJob(t *testing.T) {
	pool := workers.New(workers.Config{Concurrency: 1, QueueSize: 4})
	t.Cleanup(func() { _ = pool.Stop(context.Background()) })
	f := newFixture(t, testsupport.FFmpegScript(), pool)
	job, item := f.job(t, store.MediaImage, "photo.gif", testsupport.Pattern(7, 128))

	if err := f.pipeline.Schedule(job); err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if userID := <-f.notifier.done; userID != f.user.ID {
		t.Fatalf("unexpected finished user %q", userID)
	}
	if started, finished := f.notifier.counts(); started != 1 || finished != 1 {
		t.Fatalf("expected one start and one finish, got %d/%d", started, finished)
	}
	if got := f.media(t, item.ID); got.Status != store.MediaReady {
		t.Fatalf("expected ready, got %s", got.Status)
	}
}

type fullPool struct{}

func (fullPool) Submit(workers.Task) error { return workers.ErrQueueFull }

func TestScheduleQueueFullReleasesHold(t *testing.T) {
	f := newFixture(t, testsupport.FFmpegScript(), fullPool{})
	job, _ := f.job(t, store.MediaVideo, "clip.mp4", testsupport.Pattern(8, 128))

	if err := f.pipeline.Schedule(job); !errors.Is(err, workers.ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	if started, finished := f.notifier.counts(); started != 1 || finished != 1 {
		t.Fatalf("expected hold released, got %d/%d", started, finished)
	}
}

func TestRecoverFailsStuckMedia(t *testing.T) {
	f := newFixture(t, testsupport.FFmpegScript(), nil)
	_, item := f.job(t, store.MediaVideo, "clip.mp4", testsupport.Pattern(9, 64))

	n, err := f.pipeline.Recover(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("Recover: n=%d err=%v", n, err)
	}
	got := f.media(t, item.ID)
	if got.Status != store.MediaError || got.ErrorMessage != transcode.RestartReason {
		t.Fatalf("unexpected media after recover: %#v", got)
	}
}
