package state

import "sync"

// ThreadLocks hands out one mutex per thread id. Entries are dropped once no
// goroutine holds or waits for them.
type ThreadLocks struct {
	mu    sync.Mutex
	locks map[string]*threadLock
}

type threadLock struct {
	mu   sync.Mutex
	refs int
}

// Lock blocks until the caller owns threadID and returns the release func.
func (l *ThreadLocks) Lock(threadID string) func() {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = map[string]*threadLock{}
	}
	tl, ok := l.locks[threadID]
	if !ok {
		tl = &threadLock{}
		l.locks[threadID] = tl
	}
	tl.refs++
	l.mu.Unlock()

	tl.mu.Lock()
	return func() {
		tl.mu.Unlock()
		l.mu.Lock()
		tl.refs--
		if tl.refs == 0 {
			delete(l.locks, threadID)
		}
		l.mu.Unlock()
	}
}
