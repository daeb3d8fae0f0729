package engine

import "sync"

// instanceLocker serializes transitions per instance. The engine requires
// at-most-one in-flight transition per instance; transitions on different
// instances proceed in parallel.
type instanceLocker struct {
	mu    sync.Mutex
	locks map[string]*instanceLock
}

type instanceLock struct {
	mu   sync.Mutex
	refs int
}

func newInstanceLocker() *instanceLocker {
	return &instanceLocker{
		locks: make(map[string]*instanceLock),
	}
}

// Lock acquires the per-instance mutex and returns its release function
func (l *instanceLocker) Lock(instanceID string) func() {
	l.mu.Lock()
	lock, ok := l.locks[instanceID]
	if !ok {
		lock = &instanceLock{}
		l.locks[instanceID] = lock
	}
	lock.refs++
	l.mu.Unlock()

	lock.mu.Lock()

	return func() {
		lock.mu.Unlock()

		l.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(l.locks, instanceID)
		}
		l.mu.Unlock()
	}
}
