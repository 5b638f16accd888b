// Package keymutex provides one mutex per string key. Distinct keys never
// contend on a shared lock.
package keymutex

import "sync"

// KeyMutex holds a lazily created mutex per key.
type KeyMutex struct {
	locks sync.Map // key -> *sync.Mutex
}

// Lock acquires the mutex for key and returns its unlock function.
func (k *KeyMutex) Lock(key string) (unlock func()) {
	v, _ := k.locks.LoadOrStore(key, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// Forget drops the mutex for key. Only call it once no further mutation of the
// key is expected (e.g. after a session is closed).
func (k *KeyMutex) Forget(key string) {
	k.locks.Delete(key)
}
