package metrics_test

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"lockbox/internal/metrics"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *metrics.Metrics
	m.MountAttached("login", time.Second)
	m.MountFailed("login")
	m.MountDetached("login", time.Second)
	m.UnmountFailed("share")
	m.EvictionDeferred()
	m.ChunkStored(10)
	m.UploadFinished("completed")
	m.TranscodeFinished("video", "ready", time.Second)
	m.SetQueueDepth(3)
	if m.Registry() != nil {
		t.Fatal("expected nil registry")
	}
}

func TestMountGaugeTracksAttachAndDetach(t *testing.T) {
	m := metrics.New()
	m.MountAttached("share", 10*time.Millisecond)
	m.MountAttached("share", 10*time.Millisecond)
	m.MountDetached("share", 10*time.Millisecond)

	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	var found bool
	for _, family := range families {
		if family.GetName() != "lockbox_mounts_active" {
			continue
		}
		found = true
		if got := family.GetMetric()[0].GetGauge().GetValue(); got != 1 {
			t.Fatalf("expected one active share mount, got %v", got)
		}
	}
	if !found {
		t.Fatal("lockbox_mounts_active not gathered")
	}
}

func TestHandlerServesExposition(t *testing.T) {
	m := metrics.New()
	m.ChunkStored(512)
	m.TranscodeFinished("image", "ready", time.Second)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{"lockbox_upload_bytes_total 512", `lockbox_transcode_jobs_total{status="ready",type="image"} 1`} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("expected %q in exposition:\n%s", want, body)
		}
	}
}
