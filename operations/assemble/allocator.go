package assemble

import (
	"sync"
)

// Allocator issues identifiers for new image and annotation records. A
// single Allocator is the only shared mutable state in an assembly run;
// workers reserve contiguous blocks up front rather than incrementing a
// global counter per record, so identifier uniqueness holds no matter
// how work is scheduled.
type Allocator struct {
	mu   sync.Mutex
	next int64
}

// NewAllocator returns an Allocator whose first issued identifier is
// start.
func NewAllocator(start int64) *Allocator {

	return &Allocator{
		next: start,
	}
}

// Reserve returns the first identifier of a freshly reserved contiguous
// block of n identifiers. Blocks never overlap.
func (a *Allocator) Reserve(n int) int64 {

	a.mu.Lock()
	defer a.mu.Unlock()

	first := a.next
	a.next += int64(n)

	return first
}
