package assetmanager

import (
	"sync"

	"github.com/elys-network/assetmanager/internal/types"
)

// keyedLocks hands out one mutex per pool/asset pair. Entries are never evicted.
type keyedLocks struct {
	mu    sync.Mutex
	locks map[types.PoolKey]*sync.Mutex
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{locks: make(map[types.PoolKey]*sync.Mutex)}
}

// lock blocks until the key is free and returns its unlock function.
func (k *keyedLocks) lock(key types.PoolKey) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}
