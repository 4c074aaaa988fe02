package cryptfs

import (
	"errors"
	"fmt"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// fuseSuperMagic is the statfs f_type of every FUSE filesystem.
const fuseSuperMagic = 0x65735546

// MountState is what the kernel reports for a mount point path.
type MountState int

const (
	// StateAbsent: the path does not exist.
	StateAbsent MountState = iota
	// StateUnmounted: a plain directory on the parent filesystem.
	StateUnmounted
	// StateMounted: a live filesystem is attached.
	StateMounted
	// StateStale: a FUSE endpoint whose daemon has gone away.
	StateStale
	// StateNotDirectory: something other than a directory occupies the path.
	StateNotDirectory
)

func (s MountState) String() string {
	switch s {
	case StateAbsent:
		return "absent"
	case StateUnmounted:
		return "unmounted"
	case StateMounted:
		return "mounted"
	case StateStale:
		return "stale"
	case StateNotDirectory:
		return "not-directory"
	}
	return fmt.Sprintf("MountState(%d)", int(s))
}

// Prober reports the live mount state of a path.
type Prober interface {
	Probe(path string) (MountState, error)
}

// KernelProber probes with stat and statfs. A mount point is live when its
// device differs from its parent's.
type KernelProber struct{}

func (KernelProber) Probe(path string) (MountState, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		switch {
		case errors.Is(err, unix.ENOENT):
			return StateAbsent, nil
		case errors.Is(err, unix.ENOTCONN):
			return StateStale, nil
		}
		return StateAbsent, fmt.Errorf("stat %s: %w", path, err)
	}
	if st.Mode&unix.S_IFMT != unix.S_IFDIR {
		return StateNotDirectory, nil
	}

	var parent unix.Stat_t
	if err := unix.Stat(filepath.Dir(path), &parent); err != nil {
		return StateAbsent, fmt.Errorf("stat parent of %s: %w", path, err)
	}
	if st.Dev == parent.Dev {
		return StateUnmounted, nil
	}
	return StateMounted, nil
}

// IsFUSE reports whether path currently sits on a FUSE filesystem.
func IsFUSE(path string) bool {
	var fs unix.Statfs_t
	if err := unix.Statfs(path, &fs); err != nil {
		return false
	}
	return int64(fs.Type) == fuseSuperMagic
}
