package daemon

import (
	"net/http"
	"strings"

	"github.com/julienschmidt/httprouter"

	"lockbox/internal/api"
	"lockbox/internal/upload"
)

// maxStatusIDs bounds one status poll.
const maxStatusIDs = 50

func (s *apiServer) handleUploadEnter(w http.ResponseWriter, r *http.Request, _ httprouter.Params, o owner) {
	if err := s.daemon.coord.EnterUpload(r.Context(), o.User.ID, o.User.PasswordHash); err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w)
}

func (s *apiServer) handleUploadInit(w http.ResponseWriter, r *http.Request, _ httprouter.Params, o owner) {
	var req api.UploadInitRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	session, err := s.daemon.uploads.Init(r.Context(), upload.InitRequest{
		Name:     req.Name,
		MimeType: req.MimeType,
		Size:     req.Size,
		UserID:   o.User.ID,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, api.UploadInitResponse{ID: session.ID})
}

// handleUploadChunk stores one raw chunk body. The upload id authorizes the
// write; no session cookie is required.
func (s *apiServer) handleUploadChunk(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	query := r.URL.Query()
	n, err := s.daemon.uploads.PutChunk(r.Context(), query.Get("id"), query.Get("index"), r.Body)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.ChunkResponse{Bytes: n})
}

func (s *apiServer) handleUploadComplete(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req api.UploadIDRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	item, err := s.daemon.uploads.Complete(r.Context(), req.ID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.CompleteResponse{Media: api.FromMedia(*item, nil)})
}

func (s *apiServer) handleUploadAbort(w http.ResponseWriter, r *http.Request, _ httprouter.Params, o owner) {
	var req api.UploadIDRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.daemon.uploads.Abort(r.Context(), req.ID, o.User.ID); err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w)
}

// handleUploadStatus reports processing state for comma-separated media
// ids. Media ids are unguessable, so knowing one is enough to poll it.
func (s *apiServer) handleUploadStatus(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	ids := parseIDs(r.URL.Query().Get("ids"))
	if len(ids) > maxStatusIDs {
		s.fail(w, r, errTooManyIDs)
		return
	}
	statuses, err := s.daemon.store.MediaStatuses(r.Context(), ids)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	items := make(map[string]api.UploadStatus, len(statuses))
	for id, view := range statuses {
		items[id] = api.UploadStatus{Status: string(view.Status), ThumbnailPath: view.ThumbnailPath}
	}
	writeJSON(w, http.StatusOK, api.UploadStatusResponse{Items: items})
}

func parseIDs(raw string) []string {
	var ids []string
	seen := make(map[string]struct{})
	for _, part := range strings.Split(raw, ",") {
		id := strings.TrimSpace(part)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids
}
