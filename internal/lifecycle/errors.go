package lifecycle

import (
	"errors"
	"fmt"

	"lockbox/internal/cryptfs"
)

var (
	// ErrBusy means a mount could not be detached because it is still in use.
	ErrBusy = cryptfs.ErrBusy
	// ErrPathConflict means something other than a directory sits at the mount point.
	ErrPathConflict = errors.New("mount point path conflict")
	// ErrUnknownPurpose rejects purposes other than login, upload and share.
	ErrUnknownPurpose = errors.New("unknown mount purpose")
)

// MountError is returned when a volume could not be attached for a purpose.
type MountError struct {
	UserID  string
	Purpose Purpose
	Path    string
	Err     error
}

func (e *MountError) Error() string {
	return fmt.Sprintf("mount %s volume for %s: %v", e.Purpose, e.UserID, e.Err)
}

func (e *MountError) Unwrap() error { return e.Err }

// ErrorKind classifies the failure for API status mapping.
func (e *MountError) ErrorKind() string {
	switch {
	case errors.Is(e.Err, cryptfs.ErrBadSecret):
		return "auth"
	case errors.Is(e.Err, cryptfs.ErrToolUnavailable):
		return "unavailable"
	case errors.Is(e.Err, cryptfs.ErrNotInitialized):
		return "not_found"
	case errors.Is(e.Err, ErrPathConflict), errors.Is(e.Err, ErrBusy):
		return "conflict"
	}
	return "mount"
}

// UnmountError is returned when a mount is still attached after an unmount attempt.
type UnmountError struct {
	UserID  string
	Purpose Purpose
	Path    string
	Err     error
}

func (e *UnmountError) Error() string {
	return fmt.Sprintf("unmount %s volume for %s: %v", e.Purpose, e.UserID, e.Err)
}

func (e *UnmountError) Unwrap() error { return e.Err }

// ErrorKind classifies the failure for API status mapping.
func (e *UnmountError) ErrorKind() string { return "busy" }
