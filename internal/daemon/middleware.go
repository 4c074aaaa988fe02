package daemon

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/segmentio/ksuid"

	"lockbox/internal/logging"
)

const requestIDHeader = "X-Request-ID"

// middleware decorates a routed handle.
type middleware func(httprouter.Handle) httprouter.Handle

// chain wraps h so the first middleware listed runs outermost.
func chain(h httprouter.Handle, ms ...middleware) httprouter.Handle {
	for i := len(ms) - 1; i >= 0; i-- {
		h = ms[i](h)
	}
	return h
}

// requestID tags the request context and response with a fresh id.
func requestID() middleware {
	return func(h httprouter.Handle) httprouter.Handle {
		return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
			id := ksuid.New().String()
			w.Header().Set(requestIDHeader, id)
			h(w, r.WithContext(logging.WithRequestID(r.Context(), id)), ps)
		}
	}
}

// panicRecoverer turns a handler panic into a 500 response.
func panicRecoverer(logger *slog.Logger) middleware {
	return func(h httprouter.Handle) httprouter.Handle {
		return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.ErrorContext(r.Context(), "handler panic",
						logging.Any("panic", rec),
						logging.String("path", r.URL.Path),
						logging.Bool(logging.FieldAlert, true),
					)
					writeJSONError(w, http.StatusInternalServerError, "internal error")
				}
			}()
			h(w, r, ps)
		}
	}
}

// accessLog records method, route, status and latency at debug level.
func accessLog(logger *slog.Logger) middleware {
	return func(h httprouter.Handle) httprouter.Handle {
		return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			h(rec, r, ps)
			logger.DebugContext(r.Context(), "request served",
				logging.String("method", r.Method),
				logging.String("path", r.URL.Path),
				logging.Int("status", rec.status),
				logging.Duration("took", time.Since(start)),
			)
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
