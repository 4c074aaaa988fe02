package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"

	"lockbox/internal/api"
	"lockbox/internal/config"
	"lockbox/internal/lifecycle"
	"lockbox/internal/logging"
)

const maxJSONBody = 64 << 10

type apiServer struct {
	bind    string
	token   string
	logger  *slog.Logger
	daemon  *Daemon
	cookies *cookieJar
	handler http.Handler

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) (*apiServer, error) {
	if cfg == nil || d == nil {
		return nil, errors.New("api server requires config and daemon")
	}
	logger = logging.NewComponentLogger(logger, "api-server")
	cookies, err := newCookieJar(cfg, logger)
	if err != nil {
		return nil, err
	}
	srv := &apiServer{
		bind:    strings.TrimSpace(cfg.Paths.APIBind),
		token:   cfg.Paths.APIToken,
		logger:  logger,
		daemon:  d,
		cookies: cookies,
	}
	srv.handler = srv.routes()
	return srv, nil
}

func (s *apiServer) routes() http.Handler {
	router := httprouter.New()
	router.NotFound = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSONError(w, http.StatusNotFound, "not found")
	})
	router.MethodNotAllowed = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	handle := func(method, path string, h httprouter.Handle) {
		router.Handle(method, path, chain(h, requestID(), panicRecoverer(s.logger), accessLog(s.logger)))
	}

	handle(http.MethodPost, "/api/signup", s.handleSignup)
	handle(http.MethodPost, "/api/login", s.handleLogin)
	handle(http.MethodPost, "/api/logout", s.owner(s.handleLogout))
	handle(http.MethodPost, "/api/account/password", s.owner(s.handleChangePassword))
	handle(http.MethodPost, "/api/account/delete", s.owner(s.handleDeleteAccount))

	handle(http.MethodPost, "/api/upload/enter", s.owner(s.handleUploadEnter))
	handle(http.MethodPost, "/api/upload/init", s.owner(s.handleUploadInit))
	handle(http.MethodPost, "/api/upload/chunk", s.handleUploadChunk)
	handle(http.MethodPost, "/api/upload/complete", s.handleUploadComplete)
	handle(http.MethodPost, "/api/upload/abort", s.owner(s.handleUploadAbort))
	handle(http.MethodGet, "/api/upload/status", s.handleUploadStatus)

	handle(http.MethodGet, "/api/media", s.owner(s.handleMediaList))
	handle(http.MethodPost, "/api/media/bookmark", s.owner(s.handleBookmark))
	handle(http.MethodPost, "/api/media/share", s.owner(s.handleShareToggle))
	handle(http.MethodPost, "/api/media/delete", s.owner(s.handleMediaDelete))

	handle(http.MethodPost, "/api/share/password", s.owner(s.handleSharePassword))
	handle(http.MethodGet, "/api/share/info", s.handleShareInfo)
	handle(http.MethodPost, "/api/share/auth", s.handleShareAuth)
	handle(http.MethodPost, "/api/share/cleanup", s.viewer(s.handleShareCleanup))

	handle(http.MethodGet, "/content/:user/*path", s.owner(s.handleOwnerContent))
	handle(http.MethodGet, "/share/:owner/*path", s.viewer(s.handleSharedContent))

	handle(http.MethodGet, "/api/status", s.bearer(s.handleStatus))
	handle(http.MethodPost, "/api/mounts/detach", s.bearer(s.handleDetach))
	handle(http.MethodGet, "/metrics", s.bearer(s.handleMetrics))
	return router
}

func (s *apiServer) start(ctx context.Context) error {
	if s.bind == "" {
		return errors.New("api bind address is empty")
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	server := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       2 * time.Minute,
		WriteTimeout:      10 * time.Minute,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}
	s.mu.Lock()
	s.listener = listener
	s.server = server
	s.mu.Unlock()

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	s.mu.Lock()
	server, listener := s.server, s.listener
	s.server, s.listener = nil, nil
	s.mu.Unlock()

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("api server shutdown incomplete", logging.Error(err))
		}
	}
	if listener != nil {
		_ = listener.Close()
	}
}

func (s *apiServer) addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	status := s.daemon.Status(r.Context())
	writeJSON(w, http.StatusOK, api.DaemonStatus{
		Running:       status.Running,
		PID:           status.PID,
		DatabasePath:  status.DatabasePath,
		LockFilePath:  status.LockFilePath,
		CipherRoot:    status.CipherRoot,
		MountRoot:     status.MountRoot,
		QueueDepth:    status.QueueDepth,
		ReaperEnabled: status.ReaperEnabled,
		Dependencies:  api.FromDependencies(status.Dependencies),
		Mounts:        api.FromMountPoints(status.Mounts),
		FUSEMounts:    status.FUSEMounts,
	})
}

func (s *apiServer) handleMetrics(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	s.daemon.metrics.Handler().ServeHTTP(w, r)
}

// handleDetach forces one user's volumes closed, whatever holds them.
// Sessions stay valid; their content requests fail until the next login.
func (s *apiServer) handleDetach(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req api.DetachRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if _, err := uuid.Parse(req.UserID); err != nil {
		s.fail(w, r, fmt.Errorf("%w: user id", errBadRequest))
		return
	}
	purposes := lifecycle.Purposes()
	if req.Purpose != "" {
		purpose, ok := lifecycle.ParsePurpose(req.Purpose)
		if !ok {
			s.fail(w, r, fmt.Errorf("%w: purpose %q", errBadRequest, req.Purpose))
			return
		}
		purposes = []lifecycle.Purpose{purpose}
	}
	ctx := r.Context()
	for _, purpose := range purposes {
		if err := s.daemon.coord.Unmount(ctx, req.UserID, purpose); err != nil {
			s.fail(w, r, err)
			return
		}
		s.logger.InfoContext(ctx, "volume detached by operator",
			logging.String(logging.FieldUserID, req.UserID),
			logging.String(logging.FieldMountKind, string(purpose)),
			logging.String(logging.FieldEventType, "mount_detached"),
		)
	}
	var mounts []lifecycle.MountPoint
	for _, mp := range s.daemon.coord.Registry().Snapshot() {
		if mp.UserID == req.UserID {
			mounts = append(mounts, mp)
		}
	}
	writeJSON(w, http.StatusOK, api.DetachResponse{Mounts: api.FromMountPoints(mounts)})
}

// decodeJSON reads a bounded JSON body into dst. Unknown fields are ignored.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	body := http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, api.ErrorResponse{Error: message})
}

func writeOK(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, api.OKResponse{OK: true})
}
