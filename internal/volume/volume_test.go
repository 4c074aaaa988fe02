package volume_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"lockbox/internal/cryptfs"
	"lockbox/internal/testsupport"
	"lockbox/internal/volume"
)

func TestPrepareAndInitializedState(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	vols := volume.New(cfg)

	dir, err := vols.Prepare("u1")
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if dir != filepath.Join(cfg.CipherRoot(), "u1") {
		t.Fatalf("unexpected cipher dir: %s", dir)
	}
	if ok, _ := vols.IsInitialized("u1"); ok {
		t.Fatal("expected empty dir to be uninitialized")
	}

	if err := os.WriteFile(filepath.Join(dir, cryptfs.ConfigFile), []byte("{}"), 0o600); err != nil {
		t.Fatalf("write conf: %v", err)
	}
	if ok, err := vols.IsInitialized("u1"); err != nil || !ok {
		t.Fatalf("expected initialized, got %v %v", ok, err)
	}
	if _, err := vols.Prepare("u1"); !errors.Is(err, volume.ErrAlreadyInitialized) {
		t.Fatalf("expected ErrAlreadyInitialized, got %v", err)
	}
	ids, err := vols.List()
	if err != nil || len(ids) != 1 || ids[0] != "u1" {
		t.Fatalf("unexpected list: %v %v", ids, err)
	}

	if err := vols.Remove("u1"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatalf("expected cipher dir removed, got %v", err)
	}
}

func TestRejectsTraversalIDs(t *testing.T) {
	vols := volume.New(testsupport.NewConfig(t))
	for _, id := range []string{"", ".", "..", "../etc", "a/b"} {
		if _, err := vols.CipherDir(id); !errors.Is(err, volume.ErrInvalidID) {
			t.Fatalf("CipherDir(%q): expected ErrInvalidID, got %v", id, err)
		}
	}
}
