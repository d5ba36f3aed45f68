// Package memory tracks the Arrow-backed tables a pipeline run holds so they
// can be released together, and reports how many Arrow bytes are live.
package memory

import (
	"sync"

	"github.com/apache/arrow-go/v18/arrow/memory"
)

// Resource is anything holding Arrow buffers.
type Resource interface {
	Release()
}

// Tracker owns named resources allocated from one allocator.
type Tracker struct {
	allocator *memory.CheckedAllocator
	resources map[string]Resource
	mu        sync.Mutex
}

// NewTracker wraps allocator so its live bytes can be reported. A nil
// allocator means the Go allocator.
func NewTracker(allocator memory.Allocator) *Tracker {
	if allocator == nil {
		allocator = memory.NewGoAllocator()
	}
	return &Tracker{
		allocator: memory.NewCheckedAllocator(allocator),
		resources: make(map[string]Resource),
	}
}

// Allocator returns the allocator resources should be created with.
func (t *Tracker) Allocator() memory.Allocator {
	return t.allocator
}

// Track registers r under id, releasing whatever id held before.
func (t *Tracker) Track(id string, r Resource) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if old, ok := t.resources[id]; ok && old != nil && old != r {
		old.Release()
	}
	t.resources[id] = r
}

// Release releases and forgets the resource under id.
func (t *Tracker) Release(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if r, ok := t.resources[id]; ok {
		if r != nil {
			r.Release()
		}
		delete(t.resources, id)
	}
}

// TrackedCount returns the number of tracked resources.
func (t *Tracker) TrackedCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.resources)
}

// ReleaseAll releases every tracked resource.
func (t *Tracker) ReleaseAll() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, r := range t.resources {
		if r != nil {
			r.Release()
		}
	}
	t.resources = make(map[string]Resource)
}

// LiveBytes returns the Arrow bytes currently allocated through the tracker.
func (t *Tracker) LiveBytes() int64 {
	return int64(t.allocator.CurrentAlloc())
}
