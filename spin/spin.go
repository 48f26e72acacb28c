// Package spin provides busy-wait mutual exclusion. A spinlock never calls
// into the scheduler, so it is the one lock the scheduler itself may use and
// the only one safe in interrupt context. There is no fairness under
// contention; long critical sections belong under ksync.Mutex_t instead.
package spin

import "runtime"
import "sync/atomic"

import "utk/atom"

// 0 = free, 1 = held
type Lock_t struct {
	word uint32
}

func (l *Lock_t) Acquire() {
	for atom.Tas(&l.word) != 0 {
		// the pause in the spin body; keeps the carrier runnable
		runtime.Gosched()
	}
}

func (l *Lock_t) TryAcquire() bool {
	return atom.Tas(&l.word) == 0
}

func (l *Lock_t) Release() {
	if atomic.LoadUint32(&l.word) == 0 {
		panic("release of free spinlock")
	}
	atomic.StoreUint32(&l.word, 0)
}
