package manager

import (
	"sync"

	"github.com/PeladoCollado/fractalload/types"
)

// Allocator hands out iterations values. Every value is returned at most once and the issued
// sequence is exactly start, start+1, ... with no gaps. The lock is held only for the increment.
type Allocator struct {
	lock   sync.Mutex
	start  int
	next   int
	issued int
}

func NewAllocator(start int) *Allocator {
	return &Allocator{start: start, next: start}
}

func (a *Allocator) Next() types.WorkItem {
	a.lock.Lock()
	defer a.lock.Unlock()
	value := a.next
	a.next++
	a.issued++
	return types.WorkItem(value)
}

func (a *Allocator) Issued() int {
	a.lock.Lock()
	defer a.lock.Unlock()
	return a.issued
}

func (a *Allocator) Start() int {
	return a.start
}
