package daemon

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path"

	"github.com/julienschmidt/httprouter"

	"lockbox/internal/api"
	"lockbox/internal/lifecycle"
	"lockbox/internal/logging"
	"lockbox/internal/sharing"
	"lockbox/internal/store"
	"lockbox/internal/transcode"
)

func (s *apiServer) handleMediaList(w http.ResponseWriter, r *http.Request, _ httprouter.Params, o owner) {
	ctx := r.Context()
	items, err := s.daemon.store.ListMedia(ctx, o.User.ID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]api.MediaItem, 0, len(items))
	for _, item := range items {
		var link *store.ShareLink
		if item.Shared {
			if link, err = s.daemon.store.GetShareByMedia(ctx, item.ID); err != nil {
				s.fail(w, r, err)
				return
			}
		}
		out = append(out, api.FromMedia(item, link))
	}
	writeJSON(w, http.StatusOK, api.MediaListResponse{Items: out})
}

func (s *apiServer) handleBookmark(w http.ResponseWriter, r *http.Request, _ httprouter.Params, o owner) {
	var req api.MediaIDRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	bookmarked, err := s.daemon.store.ToggleBookmark(r.Context(), o.User.ID, req.ID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.BookmarkResponse{Bookmarked: bookmarked})
}

func (s *apiServer) handleShareToggle(w http.ResponseWriter, r *http.Request, _ httprouter.Params, o owner) {
	var req api.MediaIDRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	state, err := s.daemon.sharing.Toggle(r.Context(), o.User.ID, req.ID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	resp := api.ShareToggleResponse{Shared: state.Shared}
	if state.Shared {
		resp.Share = &api.ShareState{LinkID: state.LinkID, Token: state.Token, Password: state.Password}
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleMediaDelete removes the item's files from the content volume and
// then its row. Items still being transcoded are refused.
func (s *apiServer) handleMediaDelete(w http.ResponseWriter, r *http.Request, _ httprouter.Params, o owner) {
	var req api.MediaIDRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	ctx := r.Context()
	item, err := s.daemon.store.GetUserMedia(ctx, o.User.ID, req.ID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if item == nil {
		s.fail(w, r, store.ErrNotFound)
		return
	}
	if item.Status == store.MediaProcessing {
		s.fail(w, r, errMediaBusy)
		return
	}
	root, mounted := s.daemon.coord.MountedPath(o.User.ID, lifecycle.PurposeLogin)
	if !mounted {
		s.fail(w, r, errNotMounted)
		return
	}
	if err := removeMediaFiles(root, *item); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.daemon.store.DeleteMedia(ctx, o.User.ID, item.ID); err != nil {
		s.fail(w, r, err)
		return
	}
	if item.Shared {
		s.daemon.sharing.Release(context.WithoutCancel(ctx), o.User.ID)
	}
	s.logger.InfoContext(ctx, "media deleted",
		logging.String(logging.FieldMediaID, item.ID),
		logging.String(logging.FieldEventType, "media_deleted"),
	)
	writeOK(w)
}

// removeMediaFiles deletes the stream directory or image file and the
// thumbnail. Files already gone are not an error.
func removeMediaFiles(root string, item store.MediaItem) error {
	var targets []string
	if item.Type == store.MediaVideo && path.Base(item.Path) == transcode.ManifestName {
		targets = append(targets, path.Dir(item.Path))
	} else {
		targets = append(targets, item.Path)
	}
	if item.ThumbnailPath != "" {
		targets = append(targets, item.ThumbnailPath)
	}
	var errs []error
	for _, rel := range targets {
		full, ok := containedPath(root, rel)
		if !ok {
			continue
		}
		if err := os.RemoveAll(full); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *apiServer) handleSharePassword(w http.ResponseWriter, r *http.Request, _ httprouter.Params, o owner) {
	var req api.SharePasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	password, err := s.daemon.sharing.SetPassword(r.Context(), o.User.ID, req.LinkID, sharing.PasswordMode(req.Mode), req.Password)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.SharePasswordResponse{Password: password})
}
