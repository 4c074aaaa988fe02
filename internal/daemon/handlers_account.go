package daemon

import (
	"context"
	"net/http"

	"github.com/julienschmidt/httprouter"

	"lockbox/internal/api"
	"lockbox/internal/logging"
)

func (s *apiServer) handleSignup(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req api.Credentials
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	id, err := s.daemon.accounts.Signup(r.Context(), req.Username, req.Password)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, api.AccountResponse{UserID: id.UserID, Username: id.Username})
}

// handleLogin attaches the content volume and issues an owner session. Any
// session already carried by the request is ended first so its mount
// reference is not leaked.
func (s *apiServer) handleLogin(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req api.Credentials
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	ctx := r.Context()
	id, err := s.daemon.accounts.Authenticate(ctx, req.Username, req.Password)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.endOwnerSession(ctx, s.cookies.read(r, ownerCookie))

	if err := s.daemon.coord.Login(ctx, id.UserID, id.Secret); err != nil {
		s.fail(w, r, err)
		return
	}
	session, err := s.daemon.store.CreateOwnerSession(ctx, id.UserID, ownerSessionTTL)
	if err != nil {
		s.daemon.coord.Logout(context.WithoutCancel(ctx), id.UserID)
		s.fail(w, r, err)
		return
	}
	if err := s.cookies.write(w, r, ownerCookie, session.ID, ownerSessionTTL); err != nil {
		s.endOwnerSession(context.WithoutCancel(ctx), session.ID)
		s.fail(w, r, err)
		return
	}
	s.logger.InfoContext(ctx, "owner signed in",
		logging.String(logging.FieldUserID, id.UserID),
		logging.String(logging.FieldEventType, "login"),
	)
	writeJSON(w, http.StatusOK, api.AccountResponse{UserID: id.UserID, Username: id.Username})
}

// handleLogout always invalidates the session, even when the unmount is
// deferred or fails.
func (s *apiServer) handleLogout(w http.ResponseWriter, r *http.Request, _ httprouter.Params, o owner) {
	s.endOwnerSession(r.Context(), o.SessionID)
	s.cookies.clear(w, r, ownerCookie, s.logger)
	writeOK(w)
}

// endOwnerSession deletes an owner session and drops the login reference
// it held. Unknown ids are ignored.
func (s *apiServer) endOwnerSession(ctx context.Context, sessionID string) {
	if sessionID == "" {
		return
	}
	session, err := s.daemon.store.GetOwnerSession(ctx, sessionID)
	if err != nil || session == nil {
		return
	}
	existed, err := s.daemon.store.DeleteOwnerSession(ctx, sessionID)
	if err != nil {
		s.logger.WarnContext(ctx, "owner session not deleted", logging.Error(err))
		return
	}
	if existed {
		s.daemon.coord.Logout(ctx, session.UserID)
	}
}

func (s *apiServer) handleChangePassword(w http.ResponseWriter, r *http.Request, _ httprouter.Params, o owner) {
	var req api.PasswordChangeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if _, err := s.daemon.accounts.ChangePassword(r.Context(), o.User.ID, req.Current, req.Next); err != nil {
		s.fail(w, r, err)
		return
	}
	writeOK(w)
}

// handleDeleteAccount destroys the volume and the account. The user row
// cascades to every owner and viewer session.
func (s *apiServer) handleDeleteAccount(w http.ResponseWriter, r *http.Request, _ httprouter.Params, o owner) {
	var req api.AccountDeleteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.daemon.accounts.Delete(r.Context(), o.User.ID, req.Password); err != nil {
		s.fail(w, r, err)
		return
	}
	s.cookies.clear(w, r, ownerCookie, s.logger)
	writeOK(w)
}
