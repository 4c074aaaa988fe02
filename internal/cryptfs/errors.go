package cryptfs

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrBadSecret means gocryptfs rejected the unlock secret.
	ErrBadSecret = errors.New("incorrect volume secret")
	// ErrToolUnavailable means the gocryptfs or fusermount binary could not be started.
	ErrToolUnavailable = errors.New("volume tool unavailable")
	// ErrBusy means the mount is in use and could not be detached.
	ErrBusy = errors.New("mount point busy")
	// ErrNotInitialized means the cipher directory has no gocryptfs.conf.
	ErrNotInitialized = errors.New("volume not initialized")
	// ErrNotMounted means fusermount found nothing mounted at the path.
	ErrNotMounted = errors.New("not mounted")
)

// gocryptfs exit codes, see gocryptfs/internal/exitcodes.
const (
	exitPasswordIncorrect = 12
	exitOpenConf          = 17
	exitLoadConf          = 8
)

// ToolError wraps a non-zero exit from gocryptfs or fusermount. Output is the
// combined tool output and never contains the secret, which is passed out of band.
type ToolError struct {
	Op       string
	Path     string
	ExitCode int
	Output   string
}

func (e *ToolError) Error() string {
	msg := fmt.Sprintf("%s %s: exit status %d", e.Op, e.Path, e.ExitCode)
	if out := strings.TrimSpace(e.Output); out != "" {
		msg += ": " + out
	}
	return msg
}

// Unwrap maps the exit status and tool output onto the package sentinels.
func (e *ToolError) Unwrap() error {
	out := strings.ToLower(e.Output)
	switch {
	case e.ExitCode == exitPasswordIncorrect:
		return ErrBadSecret
	case e.ExitCode == exitOpenConf, e.ExitCode == exitLoadConf && strings.Contains(out, "no such file"):
		return ErrNotInitialized
	case strings.Contains(out, "device or resource busy"):
		return ErrBusy
	case strings.Contains(out, "not mounted"), strings.Contains(out, "not found in /etc/mtab"):
		return ErrNotMounted
	}
	return nil
}

// ErrorKind classifies the failure for API status mapping.
func (e *ToolError) ErrorKind() string {
	switch e.Unwrap() {
	case ErrBadSecret:
		return "auth"
	case ErrBusy:
		return "busy"
	case ErrNotInitialized:
		return "not_found"
	}
	return "tool"
}
