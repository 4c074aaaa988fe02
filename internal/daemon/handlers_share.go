package daemon

import (
	"context"
	"net/http"

	"github.com/julienschmidt/httprouter"

	"lockbox/internal/api"
	"lockbox/internal/logging"
	"lockbox/internal/store"
)

func (s *apiServer) handleShareInfo(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	info, err := s.daemon.sharing.Info(r.Context(), r.URL.Query().Get("token"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.ShareInfoResponse{
		NeedsPassword: info.NeedsPassword,
		MediaName:     info.MediaName,
		MediaType:     string(info.MediaType),
	})
}

// handleShareAuth admits a viewer and attaches the owner's share volume.
// A viewer session already carried by the request is ended first.
func (s *apiServer) handleShareAuth(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req api.ShareAuthRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	ctx := r.Context()
	grant, err := s.daemon.sharing.Authenticate(ctx, req.Token, req.Password)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if previous := s.cookies.read(r, viewerCookie); previous != "" && previous != grant.Session.ID {
		s.leave(ctx, previous)
	}
	if err := s.cookies.write(w, r, viewerCookie, grant.Session.ID, viewerCookieTTL); err != nil {
		s.leave(context.WithoutCancel(ctx), grant.Session.ID)
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, api.ShareAuthResponse{
		OwnerID: grant.Session.OwnerID,
		Media:   api.FromMedia(grant.Media, nil),
	})
}

func (s *apiServer) handleShareCleanup(w http.ResponseWriter, r *http.Request, _ httprouter.Params, session *store.ViewerSession) {
	s.leave(r.Context(), session.ID)
	s.cookies.clear(w, r, viewerCookie, s.logger)
	writeOK(w)
}

// leave ends a viewer session. A share volume that cannot be detached yet
// is logged; the session is gone either way.
func (s *apiServer) leave(ctx context.Context, sessionID string) {
	if err := s.daemon.sharing.Leave(ctx, sessionID); err != nil {
		s.logger.WarnContext(ctx, "share volume not released", logging.Error(err))
	}
}
