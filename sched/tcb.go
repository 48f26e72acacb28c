package sched

import "math/bits"
import "sync/atomic"

import "utk/defs"
import "utk/mem"

// exactly-one-queue tags: a thread is on some CPU's ready queue, on a sleep
// queue, on a primitive's wait list, running on a CPU, or (NEW, TERMINATED,
// idle-parked) nowhere. Anything else is a corrupted scheduler and fatal.
const (
	wh_none = iota
	wh_runq
	wh_timerq
	wh_wait
	wh_cpu
)

// what a dispatch hands a thread: the CPU it now runs on and the value its
// waker left (semaphore pend status and the like)
type switch_t struct {
	c *Cpu_t
	v int
}

type Entry_t func(t *Tcb_t, arg interface{}) int

type Tcb_t struct {
	Tid defs.Tid_t
	// owning process; 0 for pure kernel threads
	Pid int
	// the CPU this thread last ran on; written only by the thread itself
	// at resume, read only on the thread's own context
	Oncpu *Cpu_t

	// the context-switch boundary: a dispatch is a send, a switch away a
	// receive. buffered so a wakeup racing the final park is kept.
	sched chan switch_t

	// all fields below are guarded by the scheduler's critical section
	state    defs.Tstate_t
	where    int
	basepri  int
	effpri   int
	cpu      int
	slice    int
	deadline uint64
	wakev    int
	next     *Tcb_t

	status int
	cause  defs.Cause_t

	// set at creation, consumed by Ready
	entry Entry_t
	arg   interface{}

	kstack *mem.Kstack_t
	// invoked exactly once on the dying thread, before the CPU is handed
	// back; the process layer points this at its reaping bookkeeping
	Exitfn func(status int, cause defs.Cause_t)

	killed  uint32
	waitgen uint64
}

func (t *Tcb_t) Cpuid() int {
	return t.Oncpu.Id
}

// Kill marks the thread for termination at its next kernel entry.
func (t *Tcb_t) Kill() {
	atomic.StoreUint32(&t.killed, 1)
}

func (t *Tcb_t) Killed() bool {
	return atomic.LoadUint32(&t.killed) != 0
}

// Nextgen stamps a wait-list enqueue with a fresh generation; a stale timer
// holding an older generation must not cancel the newer enqueue.
func (t *Tcb_t) Nextgen() uint64 {
	return atomic.AddUint64(&t.waitgen, 1)
}

func (t *Tcb_t) Gen() uint64 {
	return atomic.LoadUint64(&t.waitgen)
}

// a thread is retained after termination until a waiter reaps it; these are
// only meaningful then
func (t *Tcb_t) Status() int {
	return t.status
}

func (t *Tcb_t) Cause() defs.Cause_t {
	return t.cause
}

// priority-indexed FIFO lists with an occupancy bitmap; pop of the best
// level is a trailing-zero count
type runq_t struct {
	present uint64
	heads   [defs.NPRI]*Tcb_t
	tails   [defs.NPRI]*Tcb_t
	n       int32
}

func (q *runq_t) push(t *Tcb_t) {
	pri := t.effpri
	t.next = nil
	if q.tails[pri] == nil {
		q.heads[pri] = t
	} else {
		q.tails[pri].next = t
	}
	q.tails[pri] = t
	q.present |= 1 << uint(pri)
	atomic.AddInt32(&q.n, 1)
}

func (q *runq_t) pop() *Tcb_t {
	if q.present == 0 {
		return nil
	}
	pri := bits.TrailingZeros64(q.present)
	t := q.heads[pri]
	q.heads[pri] = t.next
	if t.next == nil {
		q.tails[pri] = nil
		q.present &^= 1 << uint(pri)
	}
	t.next = nil
	atomic.AddInt32(&q.n, -1)
	return t
}

// remove t from its priority level; t must be queued here
func (q *runq_t) remove(t *Tcb_t) {
	pri := t.effpri
	var last *Tcb_t
	for e := q.heads[pri]; e != nil; e = e.next {
		if e == t {
			if last == nil {
				q.heads[pri] = e.next
			} else {
				last.next = e.next
			}
			if q.tails[pri] == e {
				q.tails[pri] = last
			}
			if q.heads[pri] == nil {
				q.present &^= 1 << uint(pri)
			}
			e.next = nil
			atomic.AddInt32(&q.n, -1)
			return
		}
		last = e
	}
	kpanic("remove of unqueued thread")
}

func (q *runq_t) qlen() int {
	return int(atomic.LoadInt32(&q.n))
}
