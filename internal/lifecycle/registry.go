package lifecycle

import (
	"cmp"
	"path/filepath"
	"slices"
	"strings"
	"sync"
)

// Purpose is the reason a volume is mounted.
type Purpose string

const (
	PurposeLogin  Purpose = "login"
	PurposeUpload Purpose = "upload"
	PurposeShare  Purpose = "share"
)

// lockOrder is the fixed acquisition order for multi-key operations.
var lockOrder = []Purpose{PurposeLogin, PurposeUpload, PurposeShare}

// ParsePurpose maps a purpose name such as "upload" to its Purpose.
func ParsePurpose(name string) (Purpose, bool) {
	p := Purpose(strings.ToLower(strings.TrimSpace(name)))
	return p, p.valid()
}

// Purposes returns every purpose in lock order.
func Purposes() []Purpose {
	return slices.Clone(lockOrder)
}

func (p Purpose) valid() bool {
	return slices.Contains(lockOrder, p)
}

// dir is the mount_dir subdirectory holding mount points for the purpose.
func (p Purpose) dir() string {
	switch p {
	case PurposeLogin:
		return "content"
	case PurposeUpload:
		return "upload"
	case PurposeShare:
		return "share"
	}
	return string(p)
}

func (p Purpose) readOnly() bool {
	return p == PurposeShare
}

// Key identifies one mount point.
type Key struct {
	UserID  string
	Purpose Purpose
}

// MountPoint is the registry's view of one key.
type MountPoint struct {
	UserID   string  `json:"user_id"`
	Purpose  Purpose `json:"purpose"`
	Path     string  `json:"path"`
	Mounted  bool    `json:"mounted"`
	ReadOnly bool    `json:"read_only"`
	Refs     int     `json:"refs"`
	// EvictPending marks a login or upload mount kept past logout for background work.
	EvictPending bool `json:"evict_pending,omitempty"`
}

type keyLock struct {
	mu      sync.Mutex
	holders int
}

// Registry tracks mount points and serializes work per key. State changes
// are made only by the Coordinator while it holds the key's lock.
type Registry struct {
	root string

	mu      sync.Mutex
	entries map[Key]*MountPoint
	locks   map[Key]*keyLock
}

// NewRegistry returns an empty registry placing mount points under root.
func NewRegistry(root string) *Registry {
	return &Registry{
		root:    root,
		entries: make(map[Key]*MountPoint),
		locks:   make(map[Key]*keyLock),
	}
}

// Root returns the mount_dir the registry places mount points in.
func (r *Registry) Root() string {
	return r.root
}

// Path returns the well-known mount point for key.
func (r *Registry) Path(key Key) string {
	return filepath.Join(r.root, key.Purpose.dir(), key.UserID)
}

// lock acquires the per-key mutex and returns its release function.
func (r *Registry) lock(key Key) func() {
	r.mu.Lock()
	l := r.locks[key]
	if l == nil {
		l = &keyLock{}
		r.locks[key] = l
	}
	l.holders++
	r.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		r.mu.Lock()
		l.holders--
		if l.holders == 0 {
			delete(r.locks, key)
		}
		r.mu.Unlock()
	}
}

// lockUser acquires the given purposes for userID in lock order.
func (r *Registry) lockUser(userID string, purposes ...Purpose) func() {
	var releases []func()
	for _, p := range lockOrder {
		if slices.Contains(purposes, p) {
			releases = append(releases, r.lock(Key{UserID: userID, Purpose: p}))
		}
	}
	return func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}
}

// Get returns a copy of the entry for key.
func (r *Registry) Get(key Key) MountPoint {
	r.mu.Lock()
	defer r.mu.Unlock()
	if mp, ok := r.entries[key]; ok {
		return *mp
	}
	return r.blank(key)
}

func (r *Registry) blank(key Key) MountPoint {
	return MountPoint{
		UserID:   key.UserID,
		Purpose:  key.Purpose,
		Path:     r.Path(key),
		ReadOnly: key.Purpose.readOnly(),
	}
}

// update mutates the entry for key and drops it once it is idle.
func (r *Registry) update(key Key, fn func(*MountPoint)) MountPoint {
	r.mu.Lock()
	defer r.mu.Unlock()
	mp, ok := r.entries[key]
	if !ok {
		fresh := r.blank(key)
		mp = &fresh
	}
	fn(mp)
	if mp.Refs < 0 {
		mp.Refs = 0
	}
	if !mp.Mounted && mp.Refs == 0 && !mp.EvictPending {
		delete(r.entries, key)
	} else {
		r.entries[key] = mp
	}
	return *mp
}

// Snapshot returns every tracked mount point ordered by user and purpose.
func (r *Registry) Snapshot() []MountPoint {
	r.mu.Lock()
	out := make([]MountPoint, 0, len(r.entries))
	for _, mp := range r.entries {
		out = append(out, *mp)
	}
	r.mu.Unlock()

	slices.SortFunc(out, func(a, b MountPoint) int {
		if c := cmp.Compare(a.UserID, b.UserID); c != 0 {
			return c
		}
		return cmp.Compare(slices.Index(lockOrder, a.Purpose), slices.Index(lockOrder, b.Purpose))
	})
	return out
}
