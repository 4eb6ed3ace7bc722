// ABOUTME: Striped keyed mutex serializing work per contact address
// ABOUTME: A fixed stripe table keeps memory bounded regardless of contact count

package lifecycle

import (
	"hash/fnv"
	"sync"
)

const stripeCount = 256

// Locker serializes callers that share a key. Distinct keys may share a
// stripe, which only costs some parallelism.
type Locker struct {
	stripes [stripeCount]sync.Mutex
}

// NewLocker creates a Locker.
func NewLocker() *Locker {
	return &Locker{}
}

// Lock acquires the stripe for key and returns its unlock function.
func (l *Locker) Lock(key string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	mu := &l.stripes[h.Sum32()%stripeCount]
	mu.Lock()
	return mu.Unlock
}
