package worker

import (
	"sync"

	"github.com/google/uuid"
)

// collectionLocks serializes index rewrites per collection within this
// process. Two concurrent deletes on the same collection would otherwise race
// on the read-modify-write of the index list. Cross-process ordering remains
// the queue's responsibility.
type collectionLocks struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

func newCollectionLocks() *collectionLocks {
	return &collectionLocks{locks: make(map[uuid.UUID]*sync.Mutex)}
}

func (l *collectionLocks) lock(collectionId uuid.UUID) func() {
	l.mu.Lock()
	lock, ok := l.locks[collectionId]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[collectionId] = lock
	}
	l.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}
