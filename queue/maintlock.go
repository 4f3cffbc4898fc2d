package queue

import "sync"

// maintLock ensures only one maintenance sweep runs at a time within this
// process. spec.md's original leader-election scheme (only one instance of
// a multi-process deployment may run maintenance) is out of scope for a
// single-process local daemon (SPEC_FULL §11 Non-goals); a mutex gives the
// same "only one" guarantee without a distributed election protocol.
type maintLock struct {
	mu sync.Mutex
	on bool
}

func newMaintLock() *maintLock {
	return &maintLock{}
}

// tryAcquire reports whether the lock was free and is now held.
func (l *maintLock) tryAcquire() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.on {
		return false
	}
	l.on = true
	return true
}

func (l *maintLock) release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.on = false
}
