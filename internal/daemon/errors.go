package daemon

import (
	"errors"
	"net/http"

	"lockbox/internal/account"
	"lockbox/internal/lifecycle"
	"lockbox/internal/logging"
	"lockbox/internal/sharing"
	"lockbox/internal/store"
	"lockbox/internal/upload"
)

var (
	errUnauthorized  = errors.New("unauthorized")
	errBadRequest    = errors.New("invalid request")
	errMediaBusy     = errors.New("media still processing")
	errNotMounted    = errors.New("volume not mounted")
	errTooManyIDs    = errors.New("too many ids")
	errContentDenied = errors.New("content not accessible")
)

type errorKinder interface {
	ErrorKind() string
}

type apiError struct {
	status  int
	message string
}

// sentinels maps known errors to a status and a terse user-visible message.
var sentinels = []struct {
	err error
	apiError
}{
	{errUnauthorized, apiError{http.StatusUnauthorized, "not signed in"}},
	{errBadRequest, apiError{http.StatusBadRequest, "invalid request"}},
	{errMediaBusy, apiError{http.StatusConflict, "media is still processing"}},
	{errNotMounted, apiError{http.StatusConflict, "storage is not open"}},
	{errTooManyIDs, apiError{http.StatusBadRequest, "too many ids"}},
	{errContentDenied, apiError{http.StatusNotFound, "not found"}},

	{account.ErrInvalidCredentials, apiError{http.StatusUnauthorized, "invalid username or password"}},
	{account.ErrUsernameTaken, apiError{http.StatusConflict, "username already taken"}},
	{account.ErrInvalidInput, apiError{http.StatusBadRequest, "invalid username or password"}},

	{upload.ErrUnknownUpload, apiError{http.StatusNotFound, "unknown upload"}},
	{upload.ErrUnsupportedType, apiError{http.StatusUnsupportedMediaType, "file type not allowed"}},
	{upload.ErrInvalidName, apiError{http.StatusBadRequest, "invalid file name"}},
	{upload.ErrInvalidSize, apiError{http.StatusBadRequest, "invalid file size"}},
	{upload.ErrInvalidChunkIndex, apiError{http.StatusBadRequest, "invalid chunk index"}},
	{upload.ErrChunkTooLarge, apiError{http.StatusRequestEntityTooLarge, "chunk too large"}},
	{upload.ErrNoChunks, apiError{http.StatusBadRequest, "no data received"}},
	{upload.ErrMissingChunks, apiError{http.StatusBadRequest, "upload incomplete"}},
	{upload.ErrNotMounted, apiError{http.StatusConflict, "open the upload page first"}},

	{sharing.ErrNotFound, apiError{http.StatusNotFound, "share not found"}},
	{sharing.ErrWrongPassword, apiError{http.StatusForbidden, "wrong password"}},
	{sharing.ErrInvalidPassword, apiError{http.StatusBadRequest, "invalid password"}},

	{lifecycle.ErrBusy, apiError{http.StatusConflict, "storage busy, try again"}},
	{store.ErrNotFound, apiError{http.StatusNotFound, "not found"}},
	{store.ErrDuplicate, apiError{http.StatusConflict, "already exists"}},
}

// kinds maps ErrorKind classifications from the volume, upload and
// transcode layers.
var kinds = map[string]apiError{
	"auth":        {http.StatusInternalServerError, "storage could not be unlocked"},
	"unavailable": {http.StatusServiceUnavailable, "storage unavailable"},
	"not_found":   {http.StatusInternalServerError, "storage missing"},
	"conflict":    {http.StatusConflict, "storage busy, try again"},
	"busy":        {http.StatusConflict, "storage busy, try again"},
	"mount":       {http.StatusInternalServerError, "storage unavailable"},
	"tool":        {http.StatusInternalServerError, "storage unavailable"},
	"io":          {http.StatusInternalServerError, "upload failed"},
}

func classify(err error) apiError {
	for _, s := range sentinels {
		if errors.Is(err, s.err) {
			return s.apiError
		}
	}
	var kinder errorKinder
	if errors.As(err, &kinder) {
		if mapped, ok := kinds[kinder.ErrorKind()]; ok {
			return mapped
		}
	}
	return apiError{http.StatusInternalServerError, "internal error"}
}

// fail logs err with request context and writes its terse form.
func (s *apiServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	mapped := classify(err)
	if mapped.status >= http.StatusInternalServerError {
		s.logger.ErrorContext(r.Context(), "request failed",
			logging.String("path", r.URL.Path),
			logging.Int("status", mapped.status),
			logging.Error(err),
		)
	} else {
		s.logger.DebugContext(r.Context(), "request rejected",
			logging.String("path", r.URL.Path),
			logging.Int("status", mapped.status),
			logging.Error(err),
		)
	}
	writeJSONError(w, mapped.status, mapped.message)
}
