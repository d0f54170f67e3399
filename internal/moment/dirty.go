package moment

import (
	"sort"
	"sync"
	"time"
)

// DirtyTracker tracks which owners have moment changes that require rank
// recomputation. Thread-safe via RWMutex.
type DirtyTracker struct {
	mu         sync.RWMutex
	dirtyFlags map[string]time.Time // ownerID -> time marked dirty
}

// NewDirtyTracker creates a new DirtyTracker instance.
func NewDirtyTracker() *DirtyTracker {
	return &DirtyTracker{
		dirtyFlags: make(map[string]time.Time),
	}
}

// MarkDirty marks an owner as needing rank recomputation.
func (t *DirtyTracker) MarkDirty(ownerID string) {
	t.mu.Lock()
	t.dirtyFlags[ownerID] = time.Now()
	t.mu.Unlock()
}

// ClearDirty removes the dirty flag for an owner, but only if it was not
// marked again after markedBefore. A change that lands while a recompute is
// in flight keeps the owner dirty for the next sweep.
func (t *DirtyTracker) ClearDirty(ownerID string, markedBefore time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if at, ok := t.dirtyFlags[ownerID]; ok && !at.After(markedBefore) {
		delete(t.dirtyFlags, ownerID)
	}
}

// GetDirtyOwners returns the dirty owner IDs, oldest mark first.
func (t *DirtyTracker) GetDirtyOwners() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	owners := make([]string, 0, len(t.dirtyFlags))
	for ownerID := range t.dirtyFlags {
		owners = append(owners, ownerID)
	}
	sort.Slice(owners, func(i, j int) bool {
		return t.dirtyFlags[owners[i]].Before(t.dirtyFlags[owners[j]])
	})
	return owners
}

// IsDirty checks if a specific owner is marked as dirty.
func (t *DirtyTracker) IsDirty(ownerID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, exists := t.dirtyFlags[ownerID]
	return exists
}

// DirtyCount returns the number of owners marked as dirty.
func (t *DirtyTracker) DirtyCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.dirtyFlags)
}
