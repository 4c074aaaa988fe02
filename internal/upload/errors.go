package upload

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownUpload covers malformed, expired and already completed upload ids.
	ErrUnknownUpload = errors.New("unknown upload")
	// ErrUnsupportedType rejects MIME types outside the allow-list.
	ErrUnsupportedType = errors.New("unsupported media type")
	// ErrInvalidName rejects file names with nothing usable left after cleaning.
	ErrInvalidName = errors.New("invalid file name")
	// ErrInvalidSize rejects a declared size that is not positive.
	ErrInvalidSize = errors.New("invalid declared size")
	// ErrInvalidChunkIndex rejects indices that are not non-negative base-10 integers.
	ErrInvalidChunkIndex = errors.New("invalid chunk index")
	// ErrChunkTooLarge rejects chunks above uploads.max_chunk_bytes.
	ErrChunkTooLarge = errors.New("chunk too large")
	// ErrNoChunks is returned by Complete when nothing was received.
	ErrNoChunks = errors.New("no chunks received")
	// ErrMissingChunks is returned by Complete when the indices have gaps.
	ErrMissingChunks = errors.New("chunks missing")
	// ErrNotMounted means the owner's upload volume is not attached.
	ErrNotMounted = errors.New("upload volume not mounted")
)

// WriteError wraps a filesystem failure while storing or assembling chunks.
type WriteError struct {
	Op  string
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("upload %s: %v", e.Op, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// ErrorKind classifies the failure for API status mapping.
func (e *WriteError) ErrorKind() string { return "io" }
