package generic

import "sync"

// KeyedMutex hands out one exclusive lock per employee. Mutations for the
// same employee are serialized; different employees proceed in parallel.
// Locks are reference counted and dropped once nobody holds or waits on them.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[EmployeeID]*refLock
}

type refLock struct {
	mu   sync.Mutex
	refs int
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[EmployeeID]*refLock)}
}

// Lock acquires the lock for id and returns the function that releases it.
//
//	unlock := km.Lock(emp)
//	defer unlock()
func (k *KeyedMutex) Lock(id EmployeeID) (unlock func()) {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[EmployeeID]*refLock)
	}
	l, ok := k.locks[id]
	if !ok {
		l = &refLock{}
		k.locks[id] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, id)
		}
		k.mu.Unlock()
	}
}
