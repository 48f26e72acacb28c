// Package atom is the lock-free word primitive every higher-level lock is
// built on. Both operations are total and imply a full memory barrier, so a
// release of a spinlock publishes the writes made under it to all CPUs.
package atom

import "sync/atomic"

// Cas atomically replaces *p with nv if *p == old and returns the value *p
// held before the operation.
func Cas(p *uint32, old, nv uint32) uint32 {
	for {
		v := atomic.LoadUint32(p)
		if v != old {
			return v
		}
		if atomic.CompareAndSwapUint32(p, old, nv) {
			return old
		}
	}
}

// Tas is Cas with expected 0 and new 1: it returns the prior value, so 0
// means the caller won the word.
func Tas(p *uint32) uint32 {
	return Cas(p, 0, 1)
}
