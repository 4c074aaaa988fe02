// Package volume locates per-user gocryptfs cipher stores on disk.
package volume

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"lockbox/internal/config"
	"lockbox/internal/cryptfs"
)

// ErrInvalidID rejects identifiers that cannot be used as a single path element.
var ErrInvalidID = errors.New("invalid user id")

// ErrAlreadyInitialized is returned by Prepare when a cipher store already exists.
var ErrAlreadyInitialized = errors.New("volume already initialized")

// Store maps user ids to cipher directories under <data_dir>/encrypted.
type Store struct {
	root string
}

// New returns a Store rooted at the configured cipher root.
func New(cfg *config.Config) *Store {
	return &Store{root: cfg.CipherRoot()}
}

// ValidateID ensures id is a single, non-special path element.
func ValidateID(id string) error {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) || strings.ContainsRune(id, 0) {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}

// Root returns the directory holding every cipher store.
func (s *Store) Root() string {
	return s.root
}

// CipherDir returns the cipher directory for userID.
func (s *Store) CipherDir(userID string) (string, error) {
	if err := ValidateID(userID); err != nil {
		return "", err
	}
	return filepath.Join(s.root, userID), nil
}

// IsInitialized reports whether gocryptfs.conf exists for userID.
func (s *Store) IsInitialized(userID string) (bool, error) {
	dir, err := s.CipherDir(userID)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(filepath.Join(dir, cryptfs.ConfigFile))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("stat volume config: %w", err)
	}
}

// Prepare creates an empty cipher directory for a new volume. A leftover
// empty directory from an aborted signup is reused.
func (s *Store) Prepare(userID string) (string, error) {
	dir, err := s.CipherDir(userID)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("create cipher dir: %w", err)
	}
	empty, err := isEmptyDir(dir)
	if err != nil {
		return "", err
	}
	if !empty {
		return "", fmt.Errorf("prepare %s: %w", userID, ErrAlreadyInitialized)
	}
	return dir, nil
}

// Remove deletes the cipher store for userID. Callers must ensure nothing is mounted.
func (s *Store) Remove(userID string) error {
	dir, err := s.CipherDir(userID)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove cipher dir: %w", err)
	}
	return nil
}

// List returns the user ids that have an initialized cipher store.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read cipher root: %w", err)
	}
	var ids []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if ok, err := s.IsInitialized(entry.Name()); err == nil && ok {
			ids = append(ids, entry.Name())
		}
	}
	return ids, nil
}

func isEmptyDir(dir string) (bool, error) {
	f, err := os.Open(dir)
	if err != nil {
		return false, fmt.Errorf("open cipher dir: %w", err)
	}
	defer f.Close()
	_, err = f.Readdirnames(1)
	if errors.Is(err, io.EOF) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("read cipher dir: %w", err)
	}
	return false, nil
}
