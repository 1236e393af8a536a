package common

import "sync"

// KeyLock serializes work per entity id so two replies for the same deal, or
// two webhook deliveries for the same contract, never race. Unrelated
// entities proceed concurrently.
type KeyLock struct {
	l sync.Mutex
	m map[string]*entry
}

type entry struct {
	mu   sync.Mutex
	refs int
}

func NewKeyLock() *KeyLock {
	return &KeyLock{m: make(map[string]*entry)}
}

func (kl *KeyLock) Lock(id string) {
	kl.l.Lock()
	e, ok := kl.m[id]
	if !ok {
		e = &entry{}
		kl.m[id] = e
	}
	e.refs++
	kl.l.Unlock()

	e.mu.Lock()
}

func (kl *KeyLock) Unlock(id string) {
	kl.l.Lock()
	e, ok := kl.m[id]
	if ok {
		e.refs--
		if e.refs == 0 {
			delete(kl.m, id)
		}
	}
	kl.l.Unlock()

	if ok {
		e.mu.Unlock()
	}
}
