package transcode

import (
	"slices"
	"testing"
)

func TestImageArgsKeepPathsAsSingleArguments(t *testing.T) {
	src := "/mnt/upload/u1/my photo; rm -rf ~.png"
	args := imageArgs(src, "/mnt/upload/u1/out.webp", 1920)

	i := slices.Index(args, "-i")
	if i < 0 || args[i+1] != src {
		t.Fatalf("expected source as one argument, got %q", args)
	}
	if !slices.Contains(args, "scale='min(1920,iw)':-2") {
		t.Fatalf("expected width cap filter, got %q", args)
	}
	if args[len(args)-1] != "/mnt/upload/u1/out.webp" {
		t.Fatalf("expected output last, got %q", args)
	}
}

func TestHLSArgs(t *testing.T) {
	args := hlsArgs("/in.mp4", "/out/clip")
	for _, want := range []string{"libx264", "aac", "hls", "/out/clip/segment%03d.ts", "/out/clip/index.m3u8"} {
		if !slices.Contains(args, want) {
			t.Fatalf("expected %q in %q", want, args)
		}
	}
	if !slices.Contains(args, "-nostdin") {
		t.Fatal("ffmpeg must not read stdin")
	}
}

func TestThumbnailArgsOffset(t *testing.T) {
	args := thumbnailArgs("/in.mp4", "/thumb.jpg", 0)
	i := slices.Index(args, "-ss")
	if i < 0 || args[i+1] != "0" {
		t.Fatalf("expected zero offset, got %q", args)
	}
}
