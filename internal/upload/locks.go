package upload

import "sync"

type uploadLock struct {
	mu      sync.RWMutex
	holders int
}

// uploadLocks hands out one RWMutex per upload id. Chunk writes share it;
// claiming or deleting a session takes it exclusively, so a claim waits for
// chunks already being written and later chunks see the new status.
type uploadLocks struct {
	mu    sync.Mutex
	locks map[string]*uploadLock
}

func newUploadLocks() *uploadLocks {
	return &uploadLocks{locks: make(map[string]*uploadLock)}
}

func (l *uploadLocks) acquire(id string) *uploadLock {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock := l.locks[id]
	if lock == nil {
		lock = &uploadLock{}
		l.locks[id] = lock
	}
	lock.holders++
	return lock
}

func (l *uploadLocks) release(id string, lock *uploadLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock.holders--
	if lock.holders == 0 {
		delete(l.locks, id)
	}
}

// shared locks id for a chunk write and returns the release function.
func (l *uploadLocks) shared(id string) func() {
	lock := l.acquire(id)
	lock.mu.RLock()
	return func() {
		lock.mu.RUnlock()
		l.release(id, lock)
	}
}

// exclusive locks id against chunk writes and returns the release function.
func (l *uploadLocks) exclusive(id string) func() {
	lock := l.acquire(id)
	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		l.release(id, lock)
	}
}

func (l *uploadLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
