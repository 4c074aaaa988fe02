package ffprobe

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestResultHelpers(t *testing.T) {
	result, err := Parse([]byte(`{
		"streams": [
			{"index": 0, "codec_type": "video", "codec_name": "h264", "width": 1280, "height": 720, "duration": "9.5"},
			{"index": 1, "codec_type": "audio", "codec_name": "aac"}
		],
		"format": {"duration": "10.01", "format_name": "mov,mp4"}
	}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	video, ok := result.VideoStream()
	if !ok || video.Width != 1280 {
		t.Fatalf("unexpected video stream: %#v", video)
	}
	if !result.HasAudio() {
		t.Fatal("expected audio stream")
	}
	if d, ok := result.Duration(); !ok || d != 10.01 {
		t.Fatalf("unexpected duration: %v %v", d, ok)
	}
}

func TestDurationFallsBackToStream(t *testing.T) {
	result := Result{
		Streams: []Stream{{CodecType: "video", Duration: "0.4"}},
		Format:  Format{Duration: "N/A"},
	}
	if d, ok := result.Duration(); !ok || d != 0.4 {
		t.Fatalf("expected stream duration fallback, got %v %v", d, ok)
	}
	if _, ok := (Result{}).Duration(); ok {
		t.Fatal("expected no duration for empty result")
	}
}

func TestInspectRunsBinary(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "ffprobe")
	body := "#!/bin/sh\necho '{\"streams\":[{\"codec_type\":\"video\"}],\"format\":{\"duration\":\"3.0\"}}'\n"
	if err := os.WriteFile(script, []byte(body), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	result, err := Inspect(context.Background(), script, "/tmp/in.mp4")
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if d, _ := result.Duration(); d != 3 {
		t.Fatalf("unexpected duration: %v", d)
	}
}

func TestInspectReportsFailure(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "ffprobe")
	if err := os.WriteFile(script, []byte("#!/bin/sh\necho 'moov atom not found' >&2\nexit 1\n"), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	if _, err := Inspect(context.Background(), script, "/tmp/in.mp4"); err == nil {
		t.Fatal("expected error from failing ffprobe")
	}
}
