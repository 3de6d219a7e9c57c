// Package filemutex serializes read-modify-write sequences per file path.
// Requests on the same key run in arrival order; distinct keys run fully
// in parallel. Callers must not re-enter Do for the same key from within
// fn, which would deadlock.
package filemutex

import "sync"

// Mutex is a keyed lock table. The zero value is not usable; call New.
type Mutex struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	sem    chan struct{} // capacity 1; blocked senders are released FIFO
	refcnt int
}

// New creates an empty lock table.
func New() *Mutex {
	return &Mutex{locks: make(map[string]*keyLock)}
}

// Do runs fn while holding the lock for key. The lock is released even
// when fn returns an error, and the next waiter proceeds.
func (m *Mutex) Do(key string, fn func() error) error {
	kl := m.enter(key)
	kl.sem <- struct{}{}
	defer func() {
		<-kl.sem
		m.leave(key)
	}()
	return fn()
}

func (m *Mutex) enter(key string) *keyLock {
	m.mu.Lock()
	defer m.mu.Unlock()
	kl, ok := m.locks[key]
	if !ok {
		kl = &keyLock{sem: make(chan struct{}, 1)}
		m.locks[key] = kl
	}
	kl.refcnt++
	return kl
}

// leave drops a reference and removes the entry once idle, so the table
// does not grow with every path ever locked.
func (m *Mutex) leave(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kl := m.locks[key]
	kl.refcnt--
	if kl.refcnt == 0 {
		delete(m.locks, key)
	}
}
