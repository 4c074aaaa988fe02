package daemon_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"lockbox/internal/api"
	"lockbox/internal/config"
	"lockbox/internal/daemon"
	"lockbox/internal/lifecycle"
	"lockbox/internal/store"
	"lockbox/internal/testsupport"
)

type harness struct {
	cfg  *config.Config
	st   *store.Store
	fake *testsupport.FakeVolumes
	d    *daemon.Daemon
	srv  *httptest.Server
}

func newHarness(t *testing.T, opts ...testsupport.ConfigOption) *harness {
	t.Helper()
	opts = append([]testsupport.ConfigOption{testsupport.WithScript("ffmpeg", testsupport.FFmpegScript())}, opts...)
	cfg := testsupport.NewConfig(t, opts...)
	cfg.Transcode.FFprobeBinary = ""
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	st, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	fake := testsupport.NewFakeVolumes()
	d, err := daemon.New(cfg, st, nil, daemon.Options{Driver: fake, Prober: fake})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	srv := httptest.NewServer(d.Handler())
	t.Cleanup(func() {
		srv.Close()
		_ = d.Close()
	})
	return &harness{cfg: cfg, st: st, fake: fake, d: d, srv: srv}
}

// client returns an HTTP client with its own cookie jar, standing in for
// one browser.
func (h *harness) client(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookiejar: %v", err)
	}
	return &http.Client{Jar: jar, Timeout: 10 * time.Second}
}

// call sends a JSON request and decodes a successful JSON response into out.
func (h *harness) call(t *testing.T, c *http.Client, method, path string, body, out any) int {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, h.srv.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
	return resp.StatusCode
}

func (h *harness) fetch(t *testing.T, c *http.Client, path string) (int, string) {
	t.Helper()
	resp, err := c.Get(h.srv.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(data)
}

func (h *harness) putChunk(t *testing.T, c *http.Client, uploadID, index, data string) int {
	t.Helper()
	resp, err := c.Post(h.srv.URL+"/api/upload/chunk?id="+uploadID+"&index="+index, "application/octet-stream", strings.NewReader(data))
	if err != nil {
		t.Fatalf("put chunk: %v", err)
	}
	resp.Body.Close()
	return resp.StatusCode
}

func (h *harness) signupAndLogin(t *testing.T, c *http.Client, username, password string) api.AccountResponse {
	t.Helper()
	creds := api.Credentials{Username: username, Password: password}
	if code := h.call(t, c, http.MethodPost, "/api/signup", creds, nil); code != http.StatusCreated {
		t.Fatalf("signup: status %d", code)
	}
	var account api.AccountResponse
	if code := h.call(t, c, http.MethodPost, "/api/login", creds, &account); code != http.StatusOK {
		t.Fatalf("login: status %d", code)
	}
	return account
}

// uploadImage sends a two-chunk image out of order and waits until it is ready.
func (h *harness) uploadImage(t *testing.T, c *http.Client) api.MediaItem {
	t.Helper()
	if code := h.call(t, c, http.MethodPost, "/api/upload/enter", nil, nil); code != http.StatusOK {
		t.Fatalf("enter upload: status %d", code)
	}
	var initResp api.UploadInitResponse
	req := api.UploadInitRequest{Name: "photo.png", MimeType: "image/png", Size: 10}
	if code := h.call(t, c, http.MethodPost, "/api/upload/init", req, &initResp); code != http.StatusCreated {
		t.Fatalf("init upload: status %d", code)
	}
	if code := h.putChunk(t, c, initResp.ID, "1", "world"); code != http.StatusOK {
		t.Fatalf("chunk 1: status %d", code)
	}
	if code := h.putChunk(t, c, initResp.ID, "0", "hello"); code != http.StatusOK {
		t.Fatalf("chunk 0: status %d", code)
	}
	var done api.CompleteResponse
	if code := h.call(t, c, http.MethodPost, "/api/upload/complete", api.UploadIDRequest{ID: initResp.ID}, &done); code != http.StatusOK {
		t.Fatalf("complete: status %d", code)
	}

	deadline := time.Now().Add(10 * time.Second)
	for {
		var status api.UploadStatusResponse
		if code := h.call(t, c, http.MethodGet, "/api/upload/status?ids="+done.Media.ID, nil, &status); code != http.StatusOK {
			t.Fatalf("status poll: %d", code)
		}
		if status.Items[done.Media.ID].Status == string(store.MediaReady) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("media never became ready: %#v", status.Items)
		}
		time.Sleep(20 * time.Millisecond)
	}

	var list api.MediaListResponse
	if code := h.call(t, c, http.MethodGet, "/api/media", nil, &list); code != http.StatusOK {
		t.Fatalf("list media: status %d", code)
	}
	for _, item := range list.Items {
		if item.ID == done.Media.ID {
			return item
		}
	}
	t.Fatalf("uploaded media %s not listed", done.Media.ID)
	return api.MediaItem{}
}

func (h *harness) mounted(userID string, purpose lifecycle.Purpose) bool {
	for _, mp := range h.d.Status(context.Background()).Mounts {
		if mp.UserID == userID && mp.Purpose == purpose {
			return mp.Mounted
		}
	}
	return false
}

func (h *harness) waitUnmounted(t *testing.T, userID string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		if !h.mounted(userID, lifecycle.PurposeLogin) && !h.mounted(userID, lifecycle.PurposeUpload) {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("volumes for %s still mounted", userID)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestDaemonStartStop(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if err := h.d.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !h.d.Status(ctx).Running {
		t.Fatal("expected daemon to report running")
	}
	if h.d.Addr() == "" {
		t.Fatal("expected listener address")
	}

	resp, err := http.Get("http://" + h.d.Addr() + "/api/status")
	if err != nil {
		t.Fatalf("GET status: %v", err)
	}
	var status api.DaemonStatus
	err = json.NewDecoder(resp.Body).Decode(&status)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if !status.Running || status.PID == 0 || status.MountRoot != h.cfg.Paths.MountDir {
		t.Fatalf("unexpected status: %#v", status)
	}

	if err := h.d.Start(ctx); err == nil {
		t.Fatal("expected second start to fail")
	}

	h.d.Stop()
	if h.d.Status(ctx).Running {
		t.Fatal("expected daemon to be stopped")
	}
	if err := h.d.Start(ctx); err == nil {
		t.Fatal("expected restart after stop to fail")
	}
}

func TestSecondInstanceCannotStart(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if err := h.d.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	st, err := store.Open(h.cfg)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	other, err := daemon.New(h.cfg, st, nil, daemon.Options{Driver: h.fake, Prober: h.fake})
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	defer other.Close()
	if err := other.Start(ctx); err == nil || !strings.Contains(err.Error(), "already running") {
		t.Fatalf("expected lock contention error, got %v", err)
	}
}

func TestStartClearsSessionsFromPreviousRun(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	user := testsupport.NewUser(t, h.st, "alice")
	session, err := h.st.CreateOwnerSession(ctx, user.ID, time.Hour)
	if err != nil {
		t.Fatalf("CreateOwnerSession: %v", err)
	}

	if err := h.d.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	got, err := h.st.GetOwnerSession(ctx, session.ID)
	if err != nil {
		t.Fatalf("GetOwnerSession: %v", err)
	}
	if got != nil {
		t.Fatal("expected stale owner session to be cleared at start")
	}
}

func TestStartFailsInterruptedMedia(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	user := testsupport.NewUser(t, h.st, "alice")
	item := testsupport.NewMedia(t, h.st, user.ID, store.MediaVideo, "trip.mp4", "trip.mp4")

	if err := h.d.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	got, err := h.st.GetMedia(ctx, item.ID)
	if err != nil {
		t.Fatalf("GetMedia: %v", err)
	}
	if got.Status != store.MediaError {
		t.Fatalf("expected interrupted media marked error, got %s", got.Status)
	}
}
