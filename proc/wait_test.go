package proc

import "testing"

import "utk/defs"
import "utk/irq"
import "utk/mem"
import "utk/sched"

func mkwait(t *testing.T) *Wait_t {
	s := sched.Mksched(1, irq.Mkctl(1), mem.Mkmem())
	w := &Wait_t{}
	w.Wait_init(s, 1)
	return w
}

func TestWaitBookkeeping(t *testing.T) {
	w := mkwait(t)
	if !w._start(10, true, 100) {
		t.Fatalf("start failed")
	}
	if w.Len() != 1 {
		t.Fatalf("len %v", w.Len())
	}
	// no status yet; a non-blocking reap returns an invalid record
	ws, err := w.Reappid(nil, 10, true)
	if err != 0 || ws.Valid {
		t.Fatalf("early reap: %v %v", ws, err)
	}
	w.putpid(10, 7, defs.CAUSE_NORMAL)
	ws, err = w.Reappid(nil, 10, true)
	if err != 0 || !ws.Valid || ws.Id != 10 || ws.Status != 7 {
		t.Fatalf("reap: %v %v", ws, err)
	}
	if _, err := w.Reappid(nil, 10, true); err != -defs.ECHILD {
		t.Fatalf("second reap: %v", err)
	}
	if w.Len() != 0 {
		t.Fatalf("len after reap %v", w.Len())
	}
}

func TestWaitNotMine(t *testing.T) {
	w := mkwait(t)
	if _, err := w.Reappid(nil, 99, true); err != -defs.ECHILD {
		t.Fatalf("reap of unknown pid: %v", err)
	}
	if _, err := w.Reappid(nil, defs.WAIT_ANY, true); err != -defs.ECHILD {
		t.Fatalf("reap with no children: %v", err)
	}
}

func TestWaitAnyPicksValid(t *testing.T) {
	w := mkwait(t)
	w._start(10, true, 100)
	w._start(11, true, 100)
	w.putpid(11, 3, defs.CAUSE_NORMAL)
	ws, err := w.Reappid(nil, defs.WAIT_ANY, true)
	if err != 0 || !ws.Valid || ws.Id != 11 {
		t.Fatalf("wait-any: %v %v", ws, err)
	}
	// the unterminated child remains
	if w.Len() != 1 {
		t.Fatalf("len %v", w.Len())
	}
}

func TestWaitKinds(t *testing.T) {
	w := mkwait(t)
	w._start(5, true, 100)
	w._start(5, false, 100)
	w.puttid(5, 1, defs.CAUSE_NORMAL, nil)
	ws, err := w.Reappid(nil, 5, true)
	if err != 0 || ws.Valid {
		t.Fatalf("process reap saw the thread status: %v %v", ws, err)
	}
	ws, err = w.Reaptid(nil, 5, true)
	if err != 0 || !ws.Valid || ws.Status != 1 {
		t.Fatalf("thread reap: %v %v", ws, err)
	}
}

func TestWaitFreeHook(t *testing.T) {
	w := mkwait(t)
	freed := 0
	w._start(1, false, 100)
	w._start(2, false, 100)
	w.puttid(1, 0, defs.CAUSE_NORMAL, func() { freed++ })
	w.puttid(2, 0, defs.CAUSE_NORMAL, func() { freed++ })
	if _, err := w.Reaptid(nil, 1, true); err != 0 {
		t.Fatalf("reap failed: %v", err)
	}
	if freed != 1 {
		t.Fatalf("reap ran %v hooks", freed)
	}
	w.Drain()
	if freed != 2 {
		t.Fatalf("drain ran %v hooks", freed)
	}
	if w.Len() != 0 {
		t.Fatalf("len after drain %v", w.Len())
	}
}

func TestWaitLimit(t *testing.T) {
	w := mkwait(t)
	if !w._start(1, true, 1) {
		t.Fatalf("first start failed")
	}
	if !w._start(2, true, 1) {
		t.Fatalf("second start failed")
	}
	if w._start(3, true, 1) {
		t.Fatalf("start past the limit succeeded")
	}
}

// a status arriving after the drain is discarded, its free hook runs, and
// no new registrations are taken; concurrent terminations land here
func TestWaitPutAfterDrain(t *testing.T) {
	w := mkwait(t)
	freed := 0
	w._start(6, false, 100)
	w._start(7, true, 100)
	w.Drain()
	w.puttid(6, 0, defs.CAUSE_NORMAL, func() { freed++ })
	w.putpid(7, 0, defs.CAUSE_NORMAL)
	if freed != 1 {
		t.Fatalf("late put ran %v hooks", freed)
	}
	if _, err := w.Reaptid(nil, 6, true); err != -defs.ECHILD {
		t.Fatalf("drained tid still waitable: %v", err)
	}
	if w._start(8, true, 100) {
		t.Fatalf("start on a drained list succeeded")
	}
	if w.Len() != 0 {
		t.Fatalf("len after drain %v", w.Len())
	}
}

func TestWaitForget(t *testing.T) {
	w := mkwait(t)
	w._start(4, true, 100)
	w.forget(4, true)
	if _, err := w.Reappid(nil, 4, true); err != -defs.ECHILD {
		t.Fatalf("forgotten pid still waitable: %v", err)
	}
}
