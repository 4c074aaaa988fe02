package transcode

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"
)

// Runner executes ffmpeg with an argument vector.
type Runner interface {
	Run(ctx context.Context, binary string, args []string) (output []byte, exitCode int, err error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, binary string, args []string) ([]byte, int, error) {
	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.WaitDelay = 2 * time.Second
	out, err := cmd.CombinedOutput()
	if err == nil {
		return out, 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return out, exitErr.ExitCode(), err
	}
	return out, -1, err
}

var commonArgs = []string{"-hide_banner", "-loglevel", "error", "-nostdin", "-y"}

func ffmpegArgs(args ...string) []string {
	return append(append([]string{}, commonArgs...), args...)
}

// imageArgs converts src to webp, capping the width at maxWidth.
func imageArgs(src, dst string, maxWidth int) []string {
	return ffmpegArgs(
		"-i", src,
		"-vf", fmt.Sprintf("scale='min(%d,iw)':-2", maxWidth),
		"-quality", "80",
		dst,
	)
}

// hlsArgs segments src into dir/index.m3u8 and dir/segmentNNN.ts.
func hlsArgs(src, dir string) []string {
	return ffmpegArgs(
		"-i", src,
		"-c:v", "libx264", "-preset", "fast", "-crf", "23",
		"-c:a", "aac", "-b:a", "128k",
		"-f", "hls", "-hls_time", "6", "-hls_list_size", "0",
		"-hls_segment_filename", filepath.Join(dir, segmentPattern),
		filepath.Join(dir, ManifestName),
	)
}

// thumbnailArgs grabs one frame at offset seconds.
func thumbnailArgs(src, dst string, offset float64) []string {
	return ffmpegArgs(
		"-ss", strconv.FormatFloat(offset, 'f', -1, 64),
		"-i", src,
		"-frames:v", "1",
		"-q:v", "2",
		dst,
	)
}
