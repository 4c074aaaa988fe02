package testsupport

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"lockbox/internal/cryptfs"
)

// FakeVolumes stands in for gocryptfs and the kernel mount table. Init
// records the secret in the cipher dir, Mount swaps the mount point
// directory for a symlink to <cipherDir>/plain, and Unmount restores an
// empty directory, so files written through one mount are visible through
// the next.
type FakeVolumes struct {
	mu       sync.Mutex
	mounted  map[string]string
	busy     map[string]bool
	mounts   int
	unmounts int
}

// NewFakeVolumes returns an empty fake mount table.
func NewFakeVolumes() *FakeVolumes {
	return &FakeVolumes{
		mounted: make(map[string]string),
		busy:    make(map[string]bool),
	}
}

func (f *FakeVolumes) Init(_ context.Context, cipherDir, secret string) error {
	if err := os.MkdirAll(filepath.Join(cipherDir, "plain"), 0o700); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(cipherDir, cryptfs.ConfigFile), []byte(secret), 0o600)
}

func (f *FakeVolumes) Mount(_ context.Context, cipherDir, mountPoint, secret string, _ cryptfs.MountOptions) error {
	if err := checkSecret(cipherDir, secret); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.mounted[mountPoint]; ok {
		return &cryptfs.ToolError{Op: "mount", Path: mountPoint, ExitCode: 1, Output: "mountpoint is not empty"}
	}
	if err := os.Remove(mountPoint); err != nil {
		return err
	}
	if err := os.Symlink(filepath.Join(cipherDir, "plain"), mountPoint); err != nil {
		return err
	}
	f.mounted[mountPoint] = cipherDir
	f.mounts++
	return nil
}

func (f *FakeVolumes) Unmount(_ context.Context, mountPoint string, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.mounted[mountPoint]; !ok {
		return &cryptfs.ToolError{Op: "unmount", Path: mountPoint, ExitCode: 1, Output: "entry for " + mountPoint + " not found in /etc/mtab"}
	}
	if f.busy[mountPoint] {
		return &cryptfs.ToolError{Op: "unmount", Path: mountPoint, ExitCode: 1, Output: "failed to unmount " + mountPoint + ": Device or resource busy"}
	}
	if err := os.Remove(mountPoint); err != nil {
		return err
	}
	if err := os.Mkdir(mountPoint, 0o700); err != nil {
		return err
	}
	delete(f.mounted, mountPoint)
	f.unmounts++
	return nil
}

func (f *FakeVolumes) ChangeSecret(_ context.Context, cipherDir, oldSecret, newSecret string) error {
	if err := checkSecret(cipherDir, oldSecret); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(cipherDir, cryptfs.ConfigFile), []byte(newSecret), 0o600)
}

// Probe implements cryptfs.Prober against the fake mount table.
func (f *FakeVolumes) Probe(path string) (cryptfs.MountState, error) {
	f.mu.Lock()
	_, ok := f.mounted[path]
	f.mu.Unlock()
	if ok {
		return cryptfs.StateMounted, nil
	}
	info, err := os.Lstat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cryptfs.StateAbsent, nil
	}
	if err != nil {
		return cryptfs.StateAbsent, err
	}
	if !info.IsDir() {
		return cryptfs.StateNotDirectory, nil
	}
	return cryptfs.StateUnmounted, nil
}

// SetBusy makes later unmounts of mountPoint fail with EBUSY.
func (f *FakeVolumes) SetBusy(mountPoint string, busy bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.busy[mountPoint] = busy
}

// IsMounted reports whether mountPoint is in the fake mount table.
func (f *FakeVolumes) IsMounted(mountPoint string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.mounted[mountPoint]
	return ok
}

// Mounts returns how many successful mounts have been performed.
func (f *FakeVolumes) Mounts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mounts
}

// Unmounts returns how many successful unmounts have been performed.
func (f *FakeVolumes) Unmounts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unmounts
}

func checkSecret(cipherDir, secret string) error {
	stored, err := os.ReadFile(filepath.Join(cipherDir, cryptfs.ConfigFile))
	if errors.Is(err, fs.ErrNotExist) {
		return &cryptfs.ToolError{Op: "mount", Path: cipherDir, ExitCode: 17, Output: "open gocryptfs.conf: no such file or directory"}
	}
	if err != nil {
		return err
	}
	if string(stored) != secret {
		return &cryptfs.ToolError{Op: "mount", Path: cipherDir, ExitCode: 12, Output: "Password incorrect."}
	}
	return nil
}
