package sys

import "time"

import "utk/crit"
import "utk/defs"
import "utk/proc"
import "utk/sched"

// a fast user mutex wait queue. The key is the identity of the word's
// backing storage, not the user address: address spaces sharing a
// copy-on-write page wait on the same queue until one of them writes the
// word and diverges, exactly when their views of it diverge.
type futex_t struct {
	sc  *Syscall_t
	key uintptr
	c   *crit.Crit_t
	// guarded by c
	waiters sched.Wlist_t
	ref     int
}

// fget finds or creates the queue for key, holding a reference.
func (sc *Syscall_t) fget(key uintptr) (*futex_t, defs.Err_t) {
	sc.fl.Lock()
	f, ok := sc.futexes[key]
	if !ok {
		if !sc.fbudget.Take() {
			sc.fl.Unlock()
			return nil, -defs.ENOMEM
		}
		f = &futex_t{sc: sc, key: key, c: crit.Mkcrit(sc.s.Irqctl())}
		sc.futexes[key] = f
	}
	f.ref++
	sc.fl.Unlock()
	return f, 0
}

func (sc *Syscall_t) fput(f *futex_t) {
	sc.fl.Lock()
	f.ref--
	if f.ref == 0 {
		delete(sc.futexes, f.key)
		sc.fbudget.Give()
	}
	sc.fl.Unlock()
}

// wait sleeps until a wake on this word, unless the word no longer holds
// val. The check and the enqueue are one step against wakers. timeout is in
// milliseconds; 0 waits forever.
func (f *futex_t) wait(t *sched.Tcb_t, readf func() (uint32, defs.Err_t),
	val uint32, timeout int) defs.Err_t {
	cpu := t.Cpuid()
	fl := f.c.Enter(cpu)
	v, err := readf()
	if err != 0 {
		f.c.Exit(cpu, fl)
		return err
	}
	if v != val {
		f.c.Exit(cpu, fl)
		return -defs.EAGAIN
	}
	f.sc.s.Blockprep(t)
	gen := t.Nextgen()
	f.waiters.Enq(t)
	var tmr *time.Timer
	if timeout > 0 {
		d := time.Duration(timeout) * time.Millisecond
		tmr = time.AfterFunc(d, func() {
			f.expire(t, gen)
		})
	}
	f.c.Exit(cpu, fl)
	ret := defs.Err_t(f.sc.s.Block(t))
	if tmr != nil {
		tmr.Stop()
	}
	return ret
}

// expire fires off the timer goroutine; a wake that already dequeued t wins
// and the expiry is a no-op. The generation check keeps a stale timer from
// cancelling a later wait t started after a real wake: the new enqueue
// carries a newer generation.
func (f *futex_t) expire(t *sched.Tcb_t, gen uint64) {
	fl := f.c.Enter(-1)
	if t.Gen() == gen && f.waiters.Remove(t) {
		f.sc.s.Unblock(-1, t, int(-defs.ETIMEDOUT))
	}
	f.c.Exit(-1, fl)
}

// wake readies up to n waiters and returns how many it found.
func (f *futex_t) wake(cpu, n int) int {
	woke := 0
	fl := f.c.Enter(cpu)
	for woke < n {
		w := f.waiters.Deq()
		if w == nil {
			break
		}
		f.sc.s.Unblock(cpu, w, 0)
		woke++
	}
	f.c.Exit(cpu, fl)
	return woke
}

func sys_futex(sc *Syscall_t, u *proc.Uenv_t, tf *defs.Tf_t) int {
	op := tf.Args[0]
	va := tf.Args[1]
	val := tf.Args[2]
	timeout := tf.Args[3]
	as := u.P.As
	key, err := as.Pgid(va)
	if err != 0 {
		return int(err)
	}
	f, err := sc.fget(key)
	if err != 0 {
		return int(err)
	}
	ret := 0
	switch op {
	case defs.FUTEX_WAIT:
		readf := func() (uint32, defs.Err_t) {
			return as.Readw(va)
		}
		ret = int(f.wait(u.T, readf, uint32(val), timeout))
	case defs.FUTEX_WAKE:
		if val <= 0 {
			ret = int(-defs.EINVAL)
		} else {
			ret = f.wake(u.T.Cpuid(), val)
		}
	default:
		ret = int(-defs.EINVAL)
	}
	sc.fput(f)
	return ret
}
