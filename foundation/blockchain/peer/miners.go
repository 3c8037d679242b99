package peer

import (
	"slices"
	"sync"
)

// MinerSet represents the set of node ids known to be mining.
type MinerSet struct {
	mu  sync.RWMutex
	set map[string]struct{}
}

// NewMinerSet constructs an empty miner set.
func NewMinerSet() *MinerSet {
	return &MinerSet{
		set: make(map[string]struct{}),
	}
}

// Add adds a miner and reports whether it was new.
func (ms *MinerSet) Add(id string) bool {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if _, exists := ms.set[id]; exists {
		return false
	}

	ms.set[id] = struct{}{}
	return true
}

// Remove removes a miner and reports whether it was known.
func (ms *MinerSet) Remove(id string) bool {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if _, exists := ms.set[id]; !exists {
		return false
	}

	delete(ms.set, id)
	return true
}

// Has reports whether the id is mining.
func (ms *MinerSet) Has(id string) bool {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	_, exists := ms.set[id]
	return exists
}

// Copy returns the miner ids in sorted order.
func (ms *MinerSet) Copy() []string {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	ids := make([]string, 0, len(ms.set))
	for id := range ms.set {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	return ids
}
