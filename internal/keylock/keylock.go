// Package keylock serializes work per string key without keeping a mutex
// per key.
package keylock

import (
	"hash/fnv"
	"sync"
)

// Stripes is the number of mutexes keys are hashed onto.
const Stripes = 64

// Striped maps keys onto a fixed set of mutexes. Two keys may share a
// stripe, so callers must never hold two stripes at once. The zero value
// is ready to use.
type Striped struct {
	stripes [Stripes]sync.Mutex
}

// Lock locks the stripe of key and returns its unlock function.
func (l *Striped) Lock(key string) (unlock func()) {
	m := &l.stripes[stripe(key)]
	m.Lock()
	return m.Unlock
}

// SameStripe reports whether a and b are locked by the same mutex.
func SameStripe(a, b string) bool {
	return stripe(a) == stripe(b)
}

func stripe(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32() % Stripes
}
