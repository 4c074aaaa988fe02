package cryptfs

import (
	"os"
	"path/filepath"
	"testing"
)

func TestKernelProberPlainPaths(t *testing.T) {
	base := t.TempDir()
	dir := filepath.Join(base, "dir")
	if err := os.Mkdir(dir, 0o700); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	file := filepath.Join(base, "file")
	if err := os.WriteFile(file, []byte("x"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	cases := map[string]MountState{
		filepath.Join(base, "missing"): StateAbsent,
		dir:                            StateUnmounted,
		file:                           StateNotDirectory,
	}
	for path, want := range cases {
		got, err := KernelProber{}.Probe(path)
		if err != nil {
			t.Fatalf("Probe(%s): %v", path, err)
		}
		if got != want {
			t.Fatalf("Probe(%s) = %s, want %s", path, got, want)
		}
	}
}

func TestMountStateString(t *testing.T) {
	if StateStale.String() != "stale" || MountState(42).String() != "MountState(42)" {
		t.Fatalf("unexpected state names: %s %s", StateStale, MountState(42))
	}
}
