package daemon

import (
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/julienschmidt/httprouter"

	"lockbox/internal/lifecycle"
	"lockbox/internal/store"
	"lockbox/internal/transcode"
	"lockbox/internal/upload"
)

var contentTypes = map[string]string{
	".m3u8": "application/vnd.apple.mpegurl",
	".ts":   "video/mp2t",
	".webp": "image/webp",
}

// handleOwnerContent serves a file from the owner's own content volume.
func (s *apiServer) handleOwnerContent(w http.ResponseWriter, r *http.Request, ps httprouter.Params, o owner) {
	if ps.ByName("user") != o.User.ID {
		s.fail(w, r, errContentDenied)
		return
	}
	root, mounted := s.daemon.coord.MountedPath(o.User.ID, lifecycle.PurposeLogin)
	if !mounted {
		s.fail(w, r, errContentDenied)
		return
	}
	full, ok := containedPath(root, ps.ByName("path"))
	if !ok {
		s.fail(w, r, errContentDenied)
		return
	}
	s.serveFile(w, r, full)
}

// handleSharedContent serves the one shared item, its thumbnail and its
// stream segments from the owner's read-only share volume.
func (s *apiServer) handleSharedContent(w http.ResponseWriter, r *http.Request, ps httprouter.Params, session *store.ViewerSession) {
	ownerID := ps.ByName("owner")
	if ownerID != session.OwnerID {
		s.fail(w, r, errContentDenied)
		return
	}
	shared, err := s.daemon.store.GetShareLink(r.Context(), session.ShareLinkID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if shared == nil || shared.Media.UserID != ownerID {
		s.fail(w, r, errContentDenied)
		return
	}
	rel := strings.TrimPrefix(path.Clean("/"+ps.ByName("path")), "/")
	if !sharedPathAllowed(shared.Media, rel) {
		s.fail(w, r, errContentDenied)
		return
	}
	root, mounted := s.daemon.coord.MountedPath(ownerID, lifecycle.PurposeShare)
	if !mounted {
		s.fail(w, r, errContentDenied)
		return
	}
	full, ok := containedPath(root, rel)
	if !ok {
		s.fail(w, r, errContentDenied)
		return
	}
	s.serveFile(w, r, full)
}

// sharedPathAllowed limits a viewer to the shared item's files.
func sharedPathAllowed(item store.MediaItem, rel string) bool {
	if rel == "" {
		return false
	}
	if rel == item.Path || (item.ThumbnailPath != "" && rel == item.ThumbnailPath) {
		return true
	}
	if item.Type == store.MediaVideo && path.Base(item.Path) == transcode.ManifestName {
		return strings.HasPrefix(rel, path.Dir(item.Path)+"/")
	}
	return false
}

// containedPath resolves a slash-separated relative path under root. The
// volume root itself and the chunk staging area are refused.
func containedPath(root, rel string) (string, bool) {
	cleaned := strings.TrimPrefix(path.Clean("/"+rel), "/")
	if cleaned == "" {
		return "", false
	}
	if first, _, _ := strings.Cut(cleaned, "/"); first == upload.ChunkDir {
		return "", false
	}
	return filepath.Join(root, filepath.FromSlash(cleaned)), true
}

func (s *apiServer) serveFile(w http.ResponseWriter, r *http.Request, full string) {
	f, err := os.Open(full)
	if err != nil {
		s.fail(w, r, errContentDenied)
		return
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil || !info.Mode().IsRegular() {
		s.fail(w, r, errContentDenied)
		return
	}
	if ct, ok := contentTypes[strings.ToLower(filepath.Ext(full))]; ok {
		w.Header().Set("Content-Type", ct)
	}
	w.Header().Set("Cache-Control", "private, no-cache")
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}
