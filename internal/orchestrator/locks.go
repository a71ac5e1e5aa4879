package orchestrator

import "sync"

// kioskLocks hands out one mutex per kiosk id. Entries are never removed; the
// set is bounded by the number of kiosks ever touched.
type kioskLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKioskLocks() *kioskLocks {
	return &kioskLocks{locks: make(map[string]*sync.Mutex)}
}

// lock acquires the kiosk's mutex and returns its unlock func.
func (k *kioskLocks) lock(kioskID string) func() {
	k.mu.Lock()
	l, ok := k.locks[kioskID]
	if !ok {
		l = &sync.Mutex{}
		k.locks[kioskID] = l
	}
	k.mu.Unlock()

	l.Lock()
	return l.Unlock
}
