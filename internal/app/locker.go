package app

import "sync"

// Locker serializes work per key. Keys are released when their last holder
// unlocks.
type Locker struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// NewLocker returns an empty Locker.
func NewLocker() *Locker {
	return &Locker{locks: make(map[string]*keyLock)}
}

// Lock blocks until key is free and returns the function that releases it.
func (l *Locker) Lock(key string) (unlock func()) {
	l.mu.Lock()
	kl, ok := l.locks[key]
	if !ok {
		kl = &keyLock{}
		l.locks[key] = kl
	}
	kl.refs++
	l.mu.Unlock()

	kl.mu.Lock()
	return func() {
		kl.mu.Unlock()

		l.mu.Lock()
		kl.refs--
		if kl.refs == 0 {
			delete(l.locks, key)
		}
		l.mu.Unlock()
	}
}

// Lock keys. A holder of a dunning key may take invoice and subscription
// keys; the reverse never happens.
func subscriptionKey(id string) string { return "subscription:" + id }
func invoiceKey(id string) string { return "invoice:" + id }
func dunningKey(invoiceID string) string { return "dunning:" + invoiceID }
