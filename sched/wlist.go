package sched

// Wlist_t is a FIFO wait list for the synchronization primitives, threaded
// through the TCB link a blocked thread is not otherwise using. The owning
// primitive's critical section guards it.
type Wlist_t struct {
	head *Tcb_t
	tail *Tcb_t
}

func (w *Wlist_t) Empty() bool {
	return w.head == nil
}

func (w *Wlist_t) Enq(t *Tcb_t) {
	t.next = nil
	if w.tail == nil {
		w.head = t
	} else {
		w.tail.next = t
	}
	w.tail = t
}

func (w *Wlist_t) Deq() *Tcb_t {
	t := w.head
	if t == nil {
		return nil
	}
	w.head = t.next
	if w.head == nil {
		w.tail = nil
	}
	t.next = nil
	return t
}

// Remove takes t off the list if present; reports whether it was there.
func (w *Wlist_t) Remove(t *Tcb_t) bool {
	var prev *Tcb_t
	for e := w.head; e != nil; e = e.next {
		if e == t {
			if prev == nil {
				w.head = e.next
			} else {
				prev.next = e.next
			}
			if w.tail == e {
				w.tail = prev
			}
			e.next = nil
			return true
		}
		prev = e
	}
	return false
}

func (w *Wlist_t) Each(f func(t *Tcb_t)) {
	for e := w.head; e != nil; e = e.next {
		f(e)
	}
}
