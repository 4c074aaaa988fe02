package lifecycle

import (
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestRegistryPaths(t *testing.T) {
	r := NewRegistry("/mnt/lockbox")
	cases := map[Purpose]string{
		PurposeLogin:  "/mnt/lockbox/content/u1",
		PurposeUpload: "/mnt/lockbox/upload/u1",
		PurposeShare:  "/mnt/lockbox/share/u1",
	}
	for purpose, want := range cases {
		if got := r.Path(Key{UserID: "u1", Purpose: purpose}); got != filepath.FromSlash(want) {
			t.Fatalf("%s path = %s, want %s", purpose, got, want)
		}
	}
	if !r.Get(Key{UserID: "u1", Purpose: PurposeShare}).ReadOnly {
		t.Fatal("share mounts must be read-only")
	}
}

func TestRegistryKeyLockSerializes(t *testing.T) {
	r := NewRegistry(t.TempDir())
	key := Key{UserID: "u1", Purpose: PurposeLogin}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inside  int
		maxSeen int
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release := r.lock(key)
			defer release()
			mu.Lock()
			inside++
			maxSeen = max(maxSeen, inside)
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			inside--
			mu.Unlock()
		}()
	}
	wg.Wait()
	if maxSeen != 1 {
		t.Fatalf("expected exclusive access, saw %d holders", maxSeen)
	}
	if len(r.locks) != 0 {
		t.Fatalf("expected lock table to drain, got %d entries", len(r.locks))
	}
}

func TestRegistryUpdateDropsIdleEntries(t *testing.T) {
	r := NewRegistry(t.TempDir())
	login := Key{UserID: "b", Purpose: PurposeLogin}
	share := Key{UserID: "a", Purpose: PurposeShare}
	upload := Key{UserID: "b", Purpose: PurposeUpload}

	r.update(login, func(mp *MountPoint) { mp.Mounted = true; mp.Refs = 1 })
	r.update(share, func(mp *MountPoint) { mp.Mounted = true })
	r.update(upload, func(mp *MountPoint) { mp.Refs = 2 })

	snap := r.Snapshot()
	if len(snap) != 3 || snap[0].UserID != "a" || snap[1].Purpose != PurposeLogin || snap[2].Purpose != PurposeUpload {
		t.Fatalf("unexpected snapshot order: %#v", snap)
	}

	r.update(upload, func(mp *MountPoint) { mp.Refs = -3 })
	if got := len(r.Snapshot()); got != 2 {
		t.Fatalf("expected idle upload entry dropped, got %d entries", got)
	}
}

func TestParsePurpose(t *testing.T) {
	for name, want := range map[string]Purpose{" Upload ": PurposeUpload, "login": PurposeLogin, "share": PurposeShare} {
		got, ok := ParsePurpose(name)
		if !ok || got != want {
			t.Fatalf("ParsePurpose(%q) = %q, %v", name, got, ok)
		}
	}
	for _, name := range []string{"", "content", "attic"} {
		if _, ok := ParsePurpose(name); ok {
			t.Fatalf("expected %q rejected", name)
		}
	}
	if got := Purposes(); len(got) != 3 || got[0] != PurposeLogin {
		t.Fatalf("unexpected purposes %v", got)
	}
}
