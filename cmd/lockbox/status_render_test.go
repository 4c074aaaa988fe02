package main

import (
	"fmt"
	"io"
	"strings"
	"testing"

	"lockbox/internal/api"
)

func TestRenderStatusLineNoColor(t *testing.T) {
	got := renderStatusLine("Daemon", statusError, "Not running", false)
	want := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, "Daemon:", "[ERROR] Not running")
	if got != want {
		t.Fatalf("renderStatusLine mismatch\n got: %q\nwant: %q", got, want)
	}
}

func TestRenderStatusLineWithColor(t *testing.T) {
	got := renderStatusLine("Daemon", statusOK, "Running", true)
	if !strings.HasPrefix(got, ansiGreen) || !strings.HasSuffix(got, ansiReset) {
		t.Fatalf("expected green line, got %q", got)
	}
}

func TestDependencyLines(t *testing.T) {
	deps := []api.DependencyStatus{
		{Name: "gocryptfs", Available: false},
		{Name: "FFmpeg", Available: true, Command: "/usr/bin/ffmpeg"},
		{Name: "FFprobe", Available: false, Optional: true, Detail: "binary \"ffprobe\" not found"},
	}
	lines := dependencyLines(deps, false)
	if len(lines) != 4 {
		t.Fatalf("expected 4 lines, got %d: %q", len(lines), lines)
	}
	if !strings.Contains(lines[0], "[ERROR] not available") {
		t.Fatalf("expected error for gocryptfs, got %q", lines[0])
	}
	if !strings.Contains(lines[1], "[OK] Ready (command: /usr/bin/ffmpeg)") {
		t.Fatalf("expected ready ffmpeg, got %q", lines[1])
	}
	if !strings.Contains(lines[2], "[WARN]") {
		t.Fatalf("expected optional ffprobe to warn, got %q", lines[2])
	}
	if !strings.Contains(lines[3], "Missing") || !strings.Contains(lines[3], "gocryptfs") || strings.Contains(lines[3], "FFprobe") {
		t.Fatalf("expected summary naming only required tools, got %q", lines[3])
	}
}

func TestMountRows(t *testing.T) {
	rows := mountRows([]api.MountState{{UserID: "u1", Purpose: "share", Path: "/m/share/u1", Mounted: true, ReadOnly: true, Refs: 3}})
	want := []string{"u1", "share", "/m/share/u1", "yes", "yes", "3", "no"}
	if strings.Join(rows[0], "|") != strings.Join(want, "|") {
		t.Fatalf("mountRows = %q, want %q", rows[0], want)
	}
	if table := renderTable(mountHeaders, rows, mountAligns()); !strings.Contains(table, "Evict pending") {
		t.Fatalf("expected header in table:\n%s", table)
	}
}

func TestShouldColorizeNonFile(t *testing.T) {
	if shouldColorize(io.Discard) {
		t.Fatal("expected non-file writer to disable color")
	}
}
