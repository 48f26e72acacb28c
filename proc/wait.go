package proc

import "utk/defs"
import "utk/ksync"
import "utk/sched"
import "utk/spin"

// requirements for the wait operations (used for processes and threads):
// - wait for an id that is not my child must fail
// - only one wait for a specific id may succeed; others must fail
// - wait when there are no children must fail
// - wait for a process should not return thread statuses and vice versa
type Waitst_t struct {
	Id     int
	Status int
	Cause  defs.Cause_t
	// true iff the exit status is valid
	Valid bool
}

// Wait_t collects exit statuses for one parent: child processes on one
// list, own threads on the other. Waiters sleep through the scheduler; a
// put posts one semaphore unit per registered waiter and every waiter
// rechecks the lists.
type Wait_t struct {
	l     spin.Lock_t
	pwait whead_t
	twait whead_t
	sem   *ksync.Sem_t
	// set by Drain; a put that arrives after the drain is discarded the
	// way the drain would have discarded it
	drained  bool
	nwaiting int
	Pid      int
}

func (w *Wait_t) Wait_init(s *sched.Sched_t, mypid int) {
	sem, err := ksync.Mksem(s, 0)
	if err != 0 {
		panic("no")
	}
	w.sem = sem
	w.Pid = mypid
}

type wlist_t struct {
	next *wlist_t
	wst  Waitst_t
	// releases the terminated thread's kernel stack; runs when the
	// status is reaped or drained
	free func()
}

type whead_t struct {
	head  *wlist_t
	count int
}

func (wh *whead_t) wpush(id int) {
	n := &wlist_t{}
	n.wst.Id = id
	n.next = wh.head
	wh.head = n
	wh.count++
}

func (wh *whead_t) wpopvalid() (*wlist_t, bool) {
	var prev *wlist_t
	n := wh.head
	for n != nil {
		if n.wst.Valid {
			wh.wremove(prev, n)
			return n, true
		}
		prev = n
		n = n.next
	}
	return nil, false
}

// returns the previous element in the status list (so the requested element
// can be removed), the requested element, and whether it was found.
func (wh *whead_t) wfind(id int) (*wlist_t, *wlist_t, bool) {
	var prev *wlist_t
	ret := wh.head
	for ret != nil {
		if ret.wst.Id == id {
			return prev, ret, true
		}
		prev = ret
		ret = ret.next
	}
	return nil, nil, false
}

func (wh *whead_t) wremove(prev, h *wlist_t) {
	if prev != nil {
		prev.next = h.next
	} else {
		wh.head = h.next
	}
	h.next = nil
	wh.count--
}

func (w *Wait_t) Len() int {
	w.l.Acquire()
	ret := 0
	for p := w.pwait.head; p != nil; p = p.next {
		ret++
	}
	for p := w.twait.head; p != nil; p = p.next {
		ret++
	}
	w.l.Release()
	return ret
}

// if there are more unreaped child statuses (procs or threads) than noproc,
// _start() returns false and id is not added to the status lists.
func (w *Wait_t) _start(id int, isproc bool, noproc uint) bool {
	w.l.Acquire()
	if w.drained {
		w.l.Release()
		return false
	}
	if uint(w.pwait.count+w.twait.count) > noproc {
		w.l.Release()
		return false
	}
	wh := &w.twait
	if isproc {
		wh = &w.pwait
	}
	wh.wpush(id)
	w.l.Release()
	return true
}

// forget unregisters an id that will never get a status (an unwound fork).
func (w *Wait_t) forget(id int, isproc bool) {
	w.l.Acquire()
	wh := &w.twait
	if isproc {
		wh = &w.pwait
	}
	if wp, wn, ok := wh.wfind(id); ok {
		wh.wremove(wp, wn)
	}
	w.l.Release()
}

func (w *Wait_t) putpid(pid, status int, cause defs.Cause_t) {
	w._put(pid, status, cause, true, nil)
}

func (w *Wait_t) puttid(tid, status int, cause defs.Cause_t, free func()) {
	w._put(tid, status, cause, false, free)
}

func (w *Wait_t) _put(id, status int, cause defs.Cause_t, isproc bool, free func()) {
	w.l.Acquire()
	wh := &w.twait
	if isproc {
		wh = &w.pwait
	}
	_, wn, ok := wh.wfind(id)
	if !ok {
		if w.drained {
			// the waiter side died and drained; nobody will ever
			// claim this status
			w.l.Release()
			if free != nil {
				free()
			}
			return
		}
		panic("id must exist")
	}
	wn.wst.Valid = true
	wn.wst.Status = status
	wn.wst.Cause = cause
	wn.free = free
	n := w.nwaiting
	w.nwaiting = 0
	w.l.Release()
	// wake every waiter; each rechecks the lists
	for i := 0; i < n; i++ {
		w.sem.Post(-1)
	}
}

func (w *Wait_t) Reappid(t *sched.Tcb_t, pid int, noblk bool) (Waitst_t, defs.Err_t) {
	return w._reap(t, pid, true, noblk)
}

func (w *Wait_t) Reaptid(t *sched.Tcb_t, tid int, noblk bool) (Waitst_t, defs.Err_t) {
	return w._reap(t, tid, false, noblk)
}

func (w *Wait_t) _reap(t *sched.Tcb_t, id int, isproc, noblk bool) (Waitst_t, defs.Err_t) {
	wh := &w.twait
	if isproc {
		wh = &w.pwait
	}
	var zw Waitst_t
	for {
		w.l.Acquire()
		if id == defs.WAIT_ANY {
			if wh.count < 0 {
				panic("neg childs")
			}
			if wh.count == 0 {
				w.l.Release()
				return zw, -defs.ECHILD
			}
			if wn, ok := wh.wpopvalid(); ok {
				w.l.Release()
				if wn.free != nil {
					wn.free()
				}
				return wn.wst, 0
			}
		} else {
			wp, wn, ok := wh.wfind(id)
			if !ok {
				w.l.Release()
				return zw, -defs.ECHILD
			}
			if wn.wst.Valid {
				wh.wremove(wp, wn)
				w.l.Release()
				if wn.free != nil {
					wn.free()
				}
				return wn.wst, 0
			}
		}
		if noblk {
			w.l.Release()
			return zw, 0
		}
		// register before dropping the lock so a racing put wakes us
		w.nwaiting++
		w.l.Release()
		if err := w.sem.Pend(t); err != 0 {
			return zw, err
		}
	}
}

// Drain discards every collected status, running the free hooks; the last
// act of a terminating process for statuses nobody will ever wait for.
func (w *Wait_t) Drain() {
	w.l.Acquire()
	w.drained = true
	pw, tw := w.pwait.head, w.twait.head
	w.pwait = whead_t{}
	w.twait = whead_t{}
	w.l.Release()
	for _, h := range []*wlist_t{pw, tw} {
		for n := h; n != nil; n = n.next {
			if n.wst.Valid && n.free != nil {
				n.free()
			}
		}
	}
}
