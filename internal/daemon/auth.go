package daemon

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/julienschmidt/httprouter"

	"lockbox/internal/logging"
	"lockbox/internal/store"
)

// bearer guards operator endpoints with the configured API token. With no
// token configured every request passes.
func (s *apiServer) bearer(next httprouter.Handle) httprouter.Handle {
	if s.token == "" {
		return next
	}
	want := []byte(s.token)
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") {
			writeJSONError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		if subtle.ConstantTimeCompare([]byte(strings.TrimPrefix(auth, "Bearer ")), want) != 1 {
			writeJSONError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r, ps)
	}
}

// owner identifies the signed-in account behind a request.
type owner struct {
	SessionID string
	User      *store.User
}

type ownerHandle func(http.ResponseWriter, *http.Request, httprouter.Params, owner)

type viewerHandle func(http.ResponseWriter, *http.Request, httprouter.Params, *store.ViewerSession)

// owner resolves the owner session cookie. Missing, forged and expired
// sessions are rejected.
func (s *apiServer) owner(next ownerHandle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		id := s.cookies.read(r, ownerCookie)
		if id == "" {
			s.fail(w, r, errUnauthorized)
			return
		}
		session, err := s.daemon.store.GetOwnerSession(r.Context(), id)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		if session == nil {
			s.fail(w, r, errUnauthorized)
			return
		}
		user, err := s.daemon.store.GetUser(r.Context(), session.UserID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		if user == nil {
			s.fail(w, r, errUnauthorized)
			return
		}
		ctx := logging.WithUserID(r.Context(), user.ID)
		next(w, r.WithContext(ctx), ps, owner{SessionID: session.ID, User: user})
	}
}

// viewer resolves the viewer session cookie.
func (s *apiServer) viewer(next viewerHandle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		session, err := s.daemon.sharing.Viewer(r.Context(), s.cookies.read(r, viewerCookie))
		if err != nil {
			s.fail(w, r, err)
			return
		}
		if session == nil {
			s.fail(w, r, errUnauthorized)
			return
		}
		next(w, r, ps, session)
	}
}
