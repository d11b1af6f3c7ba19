package service

import (
	"context"
	"errors"
	"sync"
)

var errKeyBusy = errors.New("key busy")

// KeyLocks serializes work per document key. Entries live only while some
// caller holds or waits for them.
type KeyLocks struct {
	mu      sync.Mutex
	entries map[string]*keyEntry
}

type keyEntry struct {
	sem    chan struct{}
	refs   int
	saving bool
}

func NewKeyLocks() *KeyLocks {
	return &KeyLocks{entries: make(map[string]*keyEntry)}
}

// acquire blocks until the key is free or ctx ends. A save acquisition fails
// fast with errKeyBusy while another save for the key holds or waits for the
// lock; at most one save per key is ever admitted.
func (k *KeyLocks) acquire(ctx context.Context, key string, save bool) (func(), error) {
	k.mu.Lock()
	e, ok := k.entries[key]
	if !ok {
		e = &keyEntry{sem: make(chan struct{}, 1)}
		k.entries[key] = e
	}
	if save && e.saving {
		k.mu.Unlock()
		return nil, errKeyBusy
	}
	e.refs++
	if save {
		e.saving = true
	}
	k.mu.Unlock()

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		k.leave(key, e, save)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.sem
			k.leave(key, e, save)
		})
	}, nil
}

func (k *KeyLocks) leave(key string, e *keyEntry, save bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	e.refs--
	if save {
		e.saving = false
	}
	if e.refs == 0 {
		delete(k.entries, key)
	}
}

func (k *KeyLocks) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.entries)
}
