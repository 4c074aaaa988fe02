package daemon_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"lockbox/internal/api"
	"lockbox/internal/lifecycle"
	"lockbox/internal/testsupport"
)

func TestOwnerUploadAndContentFlow(t *testing.T) {
	h := newHarness(t)
	c := h.client(t)

	if code := h.call(t, c, http.MethodGet, "/api/media", nil, nil); code != http.StatusUnauthorized {
		t.Fatalf("expected 401 before login, got %d", code)
	}
	account := h.signupAndLogin(t, c, "alice", "correct horse")
	if !h.mounted(account.UserID, lifecycle.PurposeLogin) {
		t.Fatal("expected content volume mounted after login")
	}

	req := api.UploadInitRequest{Name: "photo.png", MimeType: "image/png", Size: 10}
	if code := h.call(t, c, http.MethodPost, "/api/upload/init", req, nil); code != http.StatusConflict {
		t.Fatalf("expected 409 before entering upload, got %d", code)
	}

	item := h.uploadImage(t, c)
	if item.Path == "" || item.Status != "ready" {
		t.Fatalf("unexpected media item: %#v", item)
	}

	code, body := h.fetch(t, c, "/content/"+account.UserID+"/"+item.Path)
	if code != http.StatusOK || body != "converted" {
		t.Fatalf("content fetch: status %d body %q", code, body)
	}
	if code, _ := h.fetch(t, c, "/content/someone-else/"+item.Path); code != http.StatusNotFound {
		t.Fatalf("expected 404 for another user's content, got %d", code)
	}
	if code, _ := h.fetch(t, c, "/content/"+account.UserID+"/_chunks/x"); code != http.StatusNotFound {
		t.Fatalf("expected 404 for chunk area, got %d", code)
	}
	if code, _ := h.fetch(t, c, "/content/"+account.UserID+"/../../etc/passwd"); code != http.StatusNotFound {
		t.Fatalf("expected 404 for traversal, got %d", code)
	}

	var bookmark api.BookmarkResponse
	if code := h.call(t, c, http.MethodPost, "/api/media/bookmark", api.MediaIDRequest{ID: item.ID}, &bookmark); code != http.StatusOK || !bookmark.Bookmarked {
		t.Fatalf("bookmark: status %d, %#v", code, bookmark)
	}

	if code := h.call(t, c, http.MethodPost, "/api/logout", nil, nil); code != http.StatusOK {
		t.Fatalf("logout: status %d", code)
	}
	if code := h.call(t, c, http.MethodGet, "/api/media", nil, nil); code != http.StatusUnauthorized {
		t.Fatalf("expected 401 after logout, got %d", code)
	}
	h.waitUnmounted(t, account.UserID)
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	h := newHarness(t)
	c := h.client(t)
	creds := api.Credentials{Username: "alice", Password: "correct horse"}
	if code := h.call(t, c, http.MethodPost, "/api/signup", creds, nil); code != http.StatusCreated {
		t.Fatalf("signup: status %d", code)
	}
	if code := h.call(t, c, http.MethodPost, "/api/signup", creds, nil); code != http.StatusConflict {
		t.Fatalf("expected duplicate signup to conflict, got %d", code)
	}
	creds.Password = "wrong"
	if code := h.call(t, c, http.MethodPost, "/api/login", creds, nil); code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", code)
	}
	if h.fake.Mounts() != 0 {
		t.Fatalf("expected no mounts, got %d", h.fake.Mounts())
	}
}

func TestShareViewerFlow(t *testing.T) {
	h := newHarness(t)
	owner := h.client(t)
	account := h.signupAndLogin(t, owner, "alice", "correct horse")
	item := h.uploadImage(t, owner)

	var toggled api.ShareToggleResponse
	if code := h.call(t, owner, http.MethodPost, "/api/media/share", api.MediaIDRequest{ID: item.ID}, &toggled); code != http.StatusOK {
		t.Fatalf("share toggle: status %d", code)
	}
	if !toggled.Shared || toggled.Share == nil || toggled.Share.Token == "" || toggled.Share.Password == "" {
		t.Fatalf("unexpected share state: %#v", toggled)
	}

	viewer := h.client(t)
	var info api.ShareInfoResponse
	if code := h.call(t, viewer, http.MethodGet, "/api/share/info?token="+toggled.Share.Token, nil, &info); code != http.StatusOK {
		t.Fatalf("share info: status %d", code)
	}
	if !info.NeedsPassword || info.MediaName != "photo.png" || info.MediaType != "image" {
		t.Fatalf("unexpected share info: %#v", info)
	}

	wrong := api.ShareAuthRequest{Token: toggled.Share.Token, Password: "nope"}
	if code := h.call(t, viewer, http.MethodPost, "/api/share/auth", wrong, nil); code != http.StatusForbidden {
		t.Fatalf("expected 403 for wrong password, got %d", code)
	}
	if h.mounted(account.UserID, lifecycle.PurposeShare) {
		t.Fatal("share volume mounted without a viewer")
	}

	var granted api.ShareAuthResponse
	right := api.ShareAuthRequest{Token: toggled.Share.Token, Password: toggled.Share.Password}
	if code := h.call(t, viewer, http.MethodPost, "/api/share/auth", right, &granted); code != http.StatusOK {
		t.Fatalf("share auth: status %d", code)
	}
	if granted.OwnerID != account.UserID || granted.Media.ID != item.ID {
		t.Fatalf("unexpected grant: %#v", granted)
	}
	if !h.mounted(account.UserID, lifecycle.PurposeShare) {
		t.Fatal("expected share volume mounted for viewer")
	}

	code, body := h.fetch(t, viewer, "/share/"+account.UserID+"/"+item.Path)
	if code != http.StatusOK || body != "converted" {
		t.Fatalf("shared fetch: status %d body %q", code, body)
	}
	if code, _ := h.fetch(t, viewer, "/share/"+account.UserID+"/other.webp"); code != http.StatusNotFound {
		t.Fatalf("expected 404 outside the shared item, got %d", code)
	}
	if code, _ := h.fetch(t, viewer, "/content/"+account.UserID+"/"+item.Path); code != http.StatusUnauthorized {
		t.Fatalf("expected viewer refused owner content, got %d", code)
	}

	if code := h.call(t, viewer, http.MethodPost, "/api/share/cleanup", nil, nil); code != http.StatusOK {
		t.Fatalf("cleanup: status %d", code)
	}
	if h.mounted(account.UserID, lifecycle.PurposeShare) {
		t.Fatal("expected share volume detached after last viewer left")
	}
	if code, _ := h.fetch(t, viewer, "/share/"+account.UserID+"/"+item.Path); code != http.StatusUnauthorized {
		t.Fatalf("expected 401 after cleanup, got %d", code)
	}
}

func TestSharePasswordModes(t *testing.T) {
	h := newHarness(t)
	owner := h.client(t)
	h.signupAndLogin(t, owner, "alice", "correct horse")
	item := h.uploadImage(t, owner)

	var toggled api.ShareToggleResponse
	h.call(t, owner, http.MethodPost, "/api/media/share", api.MediaIDRequest{ID: item.ID}, &toggled)

	var resp api.SharePasswordResponse
	req := api.SharePasswordRequest{LinkID: toggled.Share.LinkID, Mode: "none"}
	if code := h.call(t, owner, http.MethodPost, "/api/share/password", req, &resp); code != http.StatusOK || resp.Password != "" {
		t.Fatalf("password none: status %d, %#v", code, resp)
	}
	var info api.ShareInfoResponse
	h.call(t, h.client(t), http.MethodGet, "/api/share/info?token="+toggled.Share.Token, nil, &info)
	if info.NeedsPassword {
		t.Fatal("expected link without password")
	}

	req = api.SharePasswordRequest{LinkID: toggled.Share.LinkID, Mode: "custom", Password: "letmein"}
	if code := h.call(t, owner, http.MethodPost, "/api/share/password", req, &resp); code != http.StatusOK || resp.Password != "letmein" {
		t.Fatalf("password custom: status %d, %#v", code, resp)
	}
	req = api.SharePasswordRequest{LinkID: toggled.Share.LinkID, Mode: "bogus"}
	if code := h.call(t, owner, http.MethodPost, "/api/share/password", req, nil); code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown mode, got %d", code)
	}
}

func TestMediaDeleteRemovesFiles(t *testing.T) {
	h := newHarness(t)
	c := h.client(t)
	account := h.signupAndLogin(t, c, "alice", "correct horse")
	item := h.uploadImage(t, c)

	if code := h.call(t, c, http.MethodPost, "/api/media/delete", api.MediaIDRequest{ID: item.ID}, nil); code != http.StatusOK {
		t.Fatalf("delete: status %d", code)
	}
	if code, _ := h.fetch(t, c, "/content/"+account.UserID+"/"+item.Path); code != http.StatusNotFound {
		t.Fatalf("expected deleted file gone, got %d", code)
	}
	var list api.MediaListResponse
	h.call(t, c, http.MethodGet, "/api/media", nil, &list)
	if len(list.Items) != 0 {
		t.Fatalf("expected empty library, got %#v", list.Items)
	}
	if code := h.call(t, c, http.MethodPost, "/api/media/delete", api.MediaIDRequest{ID: item.ID}, nil); code != http.StatusNotFound {
		t.Fatalf("expected 404 on second delete, got %d", code)
	}
}

func TestChangePasswordRotatesVolume(t *testing.T) {
	h := newHarness(t)
	c := h.client(t)
	account := h.signupAndLogin(t, c, "alice", "correct horse")

	req := api.PasswordChangeRequest{Current: "wrong", Next: "battery staple"}
	if code := h.call(t, c, http.MethodPost, "/api/account/password", req, nil); code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong current password, got %d", code)
	}
	req.Current = "correct horse"
	if code := h.call(t, c, http.MethodPost, "/api/account/password", req, nil); code != http.StatusOK {
		t.Fatalf("change password: status %d", code)
	}
	h.call(t, c, http.MethodPost, "/api/logout", nil, nil)
	h.waitUnmounted(t, account.UserID)

	old := api.Credentials{Username: "alice", Password: "correct horse"}
	if code := h.call(t, c, http.MethodPost, "/api/login", old, nil); code != http.StatusUnauthorized {
		t.Fatalf("expected old password refused, got %d", code)
	}
	next := api.Credentials{Username: "alice", Password: "battery staple"}
	if code := h.call(t, c, http.MethodPost, "/api/login", next, nil); code != http.StatusOK {
		t.Fatalf("expected new password to unlock the volume, got %d", code)
	}
}

func TestAccountDelete(t *testing.T) {
	h := newHarness(t)
	c := h.client(t)
	account := h.signupAndLogin(t, c, "alice", "correct horse")

	if code := h.call(t, c, http.MethodPost, "/api/account/delete", api.AccountDeleteRequest{Password: "wrong"}, nil); code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", code)
	}
	if code := h.call(t, c, http.MethodPost, "/api/account/delete", api.AccountDeleteRequest{Password: "correct horse"}, nil); code != http.StatusOK {
		t.Fatalf("delete account: status %d", code)
	}
	if h.mounted(account.UserID, lifecycle.PurposeLogin) {
		t.Fatal("expected volume detached after account deletion")
	}
	if code := h.call(t, c, http.MethodGet, "/api/media", nil, nil); code != http.StatusUnauthorized {
		t.Fatalf("expected 401 after deletion, got %d", code)
	}
	creds := api.Credentials{Username: "alice", Password: "correct horse"}
	if code := h.call(t, c, http.MethodPost, "/api/login", creds, nil); code != http.StatusUnauthorized {
		t.Fatalf("expected deleted account unable to log in, got %d", code)
	}
}

func TestUploadStatusLimitsIDs(t *testing.T) {
	h := newHarness(t)
	ids := make([]string, 51)
	for i := range ids {
		ids[i] = fmt.Sprintf("media-%d", i)
	}
	if code := h.call(t, h.client(t), http.MethodGet, "/api/upload/status?ids="+strings.Join(ids, ","), nil, nil); code != http.StatusBadRequest {
		t.Fatalf("expected 400 for 51 ids, got %d", code)
	}
	var resp api.UploadStatusResponse
	if code := h.call(t, h.client(t), http.MethodGet, "/api/upload/status?ids=unknown", nil, &resp); code != http.StatusOK || len(resp.Items) != 0 {
		t.Fatalf("unknown ids: status %d, %#v", code, resp)
	}
}

func TestOperatorEndpointsRequireToken(t *testing.T) {
	h := newHarness(t, testsupport.WithAPIToken("s3cret"))
	c := h.client(t)

	if code := h.call(t, c, http.MethodGet, "/api/status", nil, nil); code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", code)
	}
	if code := h.call(t, c, http.MethodPost, "/api/mounts/detach", api.DetachRequest{UserID: "x"}, nil); code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for detach without token, got %d", code)
	}

	client, err := api.NewClient(strings.TrimPrefix(h.srv.URL, "http://"), "s3cret")
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	status, err := client.Status(t.Context())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.PID == 0 || status.DatabasePath == "" {
		t.Fatalf("unexpected status: %#v", status)
	}

	req, _ := http.NewRequest(http.MethodGet, h.srv.URL+"/metrics", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	resp, err := c.Do(req)
	if err != nil {
		t.Fatalf("GET metrics: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics: status %d", resp.StatusCode)
	}
}

func TestOperatorDetachClosesVolumes(t *testing.T) {
	h := newHarness(t)
	c := h.client(t)
	account := h.signupAndLogin(t, c, "alice", "correct horse")
	if code := h.call(t, c, http.MethodPost, "/api/upload/enter", nil, nil); code != http.StatusOK {
		t.Fatalf("enter upload: status %d", code)
	}

	client, err := api.NewClient(h.srv.URL, "")
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	resp, err := client.Detach(t.Context(), account.UserID, "upload")
	if err != nil {
		t.Fatalf("Detach upload: %v", err)
	}
	if h.mounted(account.UserID, lifecycle.PurposeUpload) || !h.mounted(account.UserID, lifecycle.PurposeLogin) {
		t.Fatal("expected only the upload volume detached")
	}
	for _, mp := range resp.Mounts {
		if mp.Purpose == "upload" {
			t.Fatalf("detached entry still listed: %#v", resp.Mounts)
		}
	}

	if _, err := client.Detach(t.Context(), account.UserID, ""); err != nil {
		t.Fatalf("Detach all: %v", err)
	}
	if h.mounted(account.UserID, lifecycle.PurposeLogin) {
		t.Fatal("expected content volume detached")
	}

	var statusErr *api.StatusError
	if _, err := client.Detach(t.Context(), account.UserID, "attic"); !errors.As(err, &statusErr) || statusErr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown purpose, got %v", err)
	}
	if _, err := client.Detach(t.Context(), "../etc", "login"); !errors.As(err, &statusErr) || statusErr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed user id, got %v", err)
	}
}

func TestUnknownRouteReturnsJSON(t *testing.T) {
	h := newHarness(t)
	resp, err := http.Get(h.srv.URL + "/nope")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound || resp.Header.Get("Content-Type") != "application/json" {
		t.Fatalf("unexpected response: %d %s", resp.StatusCode, resp.Header.Get("Content-Type"))
	}
	var body api.ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.Error == "" {
		t.Fatalf("expected error body, got %#v (%v)", body, err)
	}
}
