package sys

import "sync/atomic"
import "testing"
import "time"

import "utk/defs"
import "utk/irq"
import "utk/mem"
import "utk/proc"
import "utk/sched"

func boot(t *testing.T, ncpu int) (*sched.Sched_t, *Syscall_t, *irq.Ctl_t) {
	ic := irq.Mkctl(ncpu)
	s := sched.Mksched(ncpu, ic, mem.Mkmem())
	sc := MkSyscall(s)
	s.Start()
	return s, sc, ic
}

// runs prog as a process and blocks until the process is gone
func runprog(t *testing.T, sc *Syscall_t, prog proc.Prog_t) {
	p, err := sc.Proc_start("test", defs.PRI_DEFAULT, prog)
	if err != 0 {
		t.Fatalf("proc_start failed: %v", err)
	}
	deadline := time.Now().Add(10 * time.Second)
	for {
		if _, ok := proc.Proc_check(p.Pid); !ok {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("process did not terminate")
		}
		time.Sleep(time.Millisecond)
	}
}

func ticker(ic *irq.Ctl_t) func() {
	done := make(chan bool)
	go func() {
		for {
			select {
			case <-done:
				return
			default:
				ic.Raiseall(defs.IRQ_TIMER)
				time.Sleep(time.Millisecond)
			}
		}
	}()
	return func() { close(done) }
}

func TestForkWait(t *testing.T) {
	s, sc, _ := boot(t, 1)
	defer s.Halt()
	type res_t struct {
		ret    int
		status int
		cause  defs.Cause_t
		again  int
	}
	res := make(chan res_t, 1)
	runprog(t, sc, func(u *proc.Uenv_t, rax int) int {
		return u.Fork(func(u *proc.Uenv_t, rax int) int {
			if rax < 0 {
				t.Errorf("fork failed: %v", rax)
				return 1
			}
			if rax == 0 {
				return 42
			}
			ws, ret := u.Waitpid(rax, 0)
			_, again := u.Waitpid(rax, 0)
			res <- res_t{ret, ws.Status, ws.Cause, again}
			return 0
		})
	})
	r := <-res
	if r.ret <= 0 {
		t.Fatalf("wait returned %v", r.ret)
	}
	if !defs.Wifexited(r.status) || defs.Wexitstatus(r.status) != 42 {
		t.Fatalf("status %#x, want exit 42", r.status)
	}
	if r.cause != defs.CAUSE_NORMAL {
		t.Fatalf("cause %v", r.cause)
	}
	if r.again != int(-defs.ECHILD) {
		t.Fatalf("second wait for the same pid: %v", r.again)
	}
}

func TestWaitNoChildren(t *testing.T) {
	s, sc, _ := boot(t, 1)
	defer s.Halt()
	res := make(chan int, 1)
	runprog(t, sc, func(u *proc.Uenv_t, rax int) int {
		_, ret := u.Waitpid(defs.WAIT_ANY, 0)
		res <- ret
		return 0
	})
	if r := <-res; r != int(-defs.ECHILD) {
		t.Fatalf("childless wait: %v", r)
	}
}

func TestWnohang(t *testing.T) {
	s, sc, _ := boot(t, 1)
	defer s.Halt()
	var childgo uint32
	res := make(chan [2]int, 1)
	runprog(t, sc, func(u *proc.Uenv_t, rax int) int {
		return u.Fork(func(u *proc.Uenv_t, rax int) int {
			if rax == 0 {
				for atomic.LoadUint32(&childgo) == 0 {
					u.Yield()
				}
				return 5
			}
			_, early := u.Waitpid(rax, defs.WNOHANG)
			atomic.StoreUint32(&childgo, 1)
			ws, ret := u.Waitpid(rax, 0)
			if ret != rax {
				t.Errorf("wait returned %v, want %v", ret, rax)
			}
			res <- [2]int{early, ws.Status}
			return 0
		})
	})
	r := <-res
	if r[0] != 0 {
		t.Fatalf("wnohang before child exit: %v", r[0])
	}
	if defs.Wexitstatus(r[1]) != 5 {
		t.Fatalf("status %#x, want exit 5", r[1])
	}
}

func TestChildFault(t *testing.T) {
	s, sc, _ := boot(t, 1)
	defer s.Halt()
	type res_t struct {
		status int
		cause  defs.Cause_t
	}
	res := make(chan res_t, 1)
	runprog(t, sc, func(u *proc.Uenv_t, rax int) int {
		return u.Fork(func(u *proc.Uenv_t, rax int) int {
			if rax == 0 {
				zero := 0
				return 1 / zero
			}
			ws, _ := u.Waitpid(rax, 0)
			res <- res_t{ws.Status, ws.Cause}
			return 0
		})
	})
	r := <-res
	if r.cause != defs.CAUSE_FAULT {
		t.Fatalf("cause %v, want fault", r.cause)
	}
	if !defs.Wifsignaled(r.status) {
		t.Fatalf("fault status %#x not a signal", r.status)
	}
}

func TestKillChild(t *testing.T) {
	s, sc, _ := boot(t, 1)
	defer s.Halt()
	type res_t struct {
		status int
		cause  defs.Cause_t
	}
	res := make(chan res_t, 1)
	runprog(t, sc, func(u *proc.Uenv_t, rax int) int {
		return u.Fork(func(u *proc.Uenv_t, rax int) int {
			if rax == 0 {
				for {
					u.Yield()
				}
			}
			if ret := u.Kill(rax); ret != 0 {
				t.Errorf("kill failed: %v", ret)
			}
			ws, _ := u.Waitpid(rax, 0)
			res <- res_t{ws.Status, ws.Cause}
			return 0
		})
	})
	r := <-res
	if r.cause != defs.CAUSE_KILLED {
		t.Fatalf("cause %v, want killed", r.cause)
	}
	if !defs.Wifsignaled(r.status) || defs.Wtermsig(r.status) != defs.SIGKILL {
		t.Fatalf("kill status %#x", r.status)
	}
}

func TestKillMissing(t *testing.T) {
	s, sc, _ := boot(t, 1)
	defer s.Halt()
	res := make(chan int, 1)
	runprog(t, sc, func(u *proc.Uenv_t, rax int) int {
		res <- u.Kill(1 << 20)
		return 0
	})
	if r := <-res; r != int(-defs.ESRCH) {
		t.Fatalf("kill of missing pid: %v", r)
	}
}

func TestThreadWait(t *testing.T) {
	s, sc, _ := boot(t, 1)
	defer s.Halt()
	type res_t struct {
		tid    int
		ret    int
		status int
	}
	res := make(chan res_t, 1)
	runprog(t, sc, func(u *proc.Uenv_t, rax int) int {
		tid := u.Tfork(func(u *proc.Uenv_t, rax int) int {
			return 9
		})
		if tid <= 0 {
			t.Errorf("tfork failed: %v", tid)
			return 1
		}
		ws, ret := u.Waitpid(tid, defs.WTHREAD)
		res <- res_t{tid, ret, ws.Status}
		return 0
	})
	r := <-res
	if r.ret != r.tid {
		t.Fatalf("thread wait returned %v, want %v", r.ret, r.tid)
	}
	if defs.Wexitstatus(r.status) != 9 {
		t.Fatalf("thread status %#x, want exit 9", r.status)
	}
}

// a process wait must not return a thread status, and vice versa
func TestWaitKindSeparation(t *testing.T) {
	s, sc, _ := boot(t, 1)
	defer s.Halt()
	res := make(chan [2]int, 1)
	runprog(t, sc, func(u *proc.Uenv_t, rax int) int {
		tid := u.Tfork(func(u *proc.Uenv_t, rax int) int {
			return 0
		})
		_, aspid := u.Waitpid(tid, 0)
		ws, r := u.Waitpid(tid, defs.WTHREAD)
		if r != tid || !ws.Valid {
			t.Errorf("thread wait failed: %v", r)
		}
		_, again := u.Waitpid(tid, defs.WTHREAD)
		res <- [2]int{aspid, again}
		return 0
	})
	r := <-res
	if r[0] != int(-defs.ECHILD) {
		t.Fatalf("process wait saw a thread: %v", r[0])
	}
	if r[1] != int(-defs.ECHILD) {
		t.Fatalf("thread reaped twice: %v", r[1])
	}
}

func TestReparentToInit(t *testing.T) {
	s, sc, _ := boot(t, 1)
	defer s.Halt()
	var cpid int64
	type res_t struct {
		ws  proc.Waitst_t
		ret int
	}
	res := make(chan res_t, 1)
	// this process is init: its dead child's orphan becomes its own
	runprog(t, sc, func(u *proc.Uenv_t, rax int) int {
		return u.Fork(func(u *proc.Uenv_t, rax int) int {
			if rax == 0 {
				return u.Fork(func(u *proc.Uenv_t, rax int) int {
					if rax == 0 {
						for {
							u.Yield()
						}
					}
					atomic.StoreInt64(&cpid, int64(rax))
					return 0
				})
			}
			if _, ret := u.Waitpid(rax, 0); ret != rax {
				t.Errorf("middle wait: %v", ret)
			}
			gp := int(atomic.LoadInt64(&cpid))
			if gp <= 0 {
				t.Errorf("no grandchild pid")
				return 1
			}
			if ret := u.Kill(gp); ret != 0 {
				t.Errorf("kill of orphan: %v", ret)
			}
			ws, ret := u.Waitpid(gp, 0)
			res <- res_t{ws, ret}
			return 0
		})
	})
	r := <-res
	if r.ret <= 0 {
		t.Fatalf("wait for inherited orphan: %v", r.ret)
	}
	if r.ws.Cause != defs.CAUSE_KILLED {
		t.Fatalf("orphan cause %v", r.ws.Cause)
	}
}

// all threads of a process die at once; the last one out must not pull the
// wait lists from under the others' status puts
func TestConcurrentThreadExit(t *testing.T) {
	s, sc, _ := boot(t, 2)
	defer s.Halt()
	runprog(t, sc, func(u *proc.Uenv_t, rax int) int {
		for i := 0; i < 40; i++ {
			u.Fork(func(u *proc.Uenv_t, rax int) int {
				if rax == 0 {
					var gate uint32
					for k := 0; k < 3; k++ {
						if tid := u.Tfork(func(u *proc.Uenv_t, rax int) int {
							for atomic.LoadUint32(&gate) == 0 {
								u.Yield()
							}
							return 0
						}); tid <= 0 {
							t.Errorf("tfork: %v", tid)
						}
					}
					// open the gate and exit without waiting; all four
					// threads race to be last
					atomic.StoreUint32(&gate, 1)
					return 0
				}
				if _, ret := u.Waitpid(rax, 0); ret != rax {
					t.Errorf("wait: %v", ret)
				}
				return 0
			})
		}
		return 0
	})
}

// a process and its parent terminating together: the parent must not
// reparent the dying child, and the child's status lands either with the
// parent or nowhere, never with a waiter that blocks forever
func TestConcurrentParentChildExit(t *testing.T) {
	s, sc, _ := boot(t, 2)
	defer s.Halt()
	runprog(t, sc, func(u *proc.Uenv_t, rax int) int {
		for i := 0; i < 40; i++ {
			u.Fork(func(u *proc.Uenv_t, rax int) int {
				if rax == 0 {
					// fork a grandchild and exit without waiting for
					// it; both terminate concurrently
					u.Fork(func(u *proc.Uenv_t, rax int) int {
						return 0
					})
					return 0
				}
				if _, ret := u.Waitpid(rax, 0); ret != rax {
					t.Errorf("wait: %v", ret)
				}
				return 0
			})
		}
		return 0
	})
}

func TestEnosys(t *testing.T) {
	s, sc, _ := boot(t, 1)
	defer s.Halt()
	res := make(chan [2]int, 1)
	runprog(t, sc, func(u *proc.Uenv_t, rax int) int {
		big := sc.Syscall(u, &defs.Tf_t{Sysno: defs.SYS_LAST + 1})
		neg := sc.Syscall(u, &defs.Tf_t{Sysno: -1})
		res <- [2]int{big, neg}
		return 0
	})
	r := <-res
	if r[0] != int(-defs.ENOSYS) || r[1] != int(-defs.ENOSYS) {
		t.Fatalf("bad syscall numbers returned %v", r)
	}
}

func TestMutexSyscalls(t *testing.T) {
	s, sc, _ := boot(t, 1)
	defer s.Halt()
	done := make(chan bool, 1)
	runprog(t, sc, func(u *proc.Uenv_t, rax int) int {
		h := u.Mutexcreate()
		if h < 0 {
			t.Errorf("mutex create: %v", h)
		}
		if r := u.Lock(h); r != 0 {
			t.Errorf("lock: %v", r)
		}
		if r := u.Lock(h); r != int(-defs.EDEADLK) {
			t.Errorf("relock: %v", r)
		}
		if r := u.Mutexdestroy(h); r != int(-defs.EBUSY) {
			t.Errorf("destroy held: %v", r)
		}
		if r := u.Unlock(h); r != 0 {
			t.Errorf("unlock: %v", r)
		}
		if r := u.Unlock(h); r != int(-defs.EPERM) {
			t.Errorf("unlock free: %v", r)
		}
		if r := u.Mutexdestroy(h); r != 0 {
			t.Errorf("destroy: %v", r)
		}
		if r := u.Lock(h); r != int(-defs.EBADF) {
			t.Errorf("lock of destroyed handle: %v", r)
		}
		if r := u.Lock(99); r != int(-defs.EBADF) {
			t.Errorf("lock of bad handle: %v", r)
		}
		done <- true
		return 0
	})
	<-done
}

func TestSemSyscalls(t *testing.T) {
	s, sc, _ := boot(t, 1)
	defer s.Halt()
	done := make(chan bool, 1)
	runprog(t, sc, func(u *proc.Uenv_t, rax int) int {
		h := u.Semcreate(1)
		if h < 0 {
			t.Errorf("sem create: %v", h)
		}
		if r := u.Pend(h); r != 0 {
			t.Errorf("pend: %v", r)
		}
		if r := u.Post(h); r != 0 {
			t.Errorf("post: %v", r)
		}
		if r := u.Semdestroy(h); r != 0 {
			t.Errorf("destroy: %v", r)
		}
		if r := u.Pend(h); r != int(-defs.EBADF) {
			t.Errorf("pend of destroyed handle: %v", r)
		}
		if r := u.Semcreate(-1); r != int(-defs.EINVAL) {
			t.Errorf("negative count: %v", r)
		}
		done <- true
		return 0
	})
	<-done
}

func TestFutexWakeup(t *testing.T) {
	s, sc, _ := boot(t, 1)
	defer s.Halt()
	var wret int64 = 1 << 30
	var wdone uint32
	res := make(chan bool, 1)
	runprog(t, sc, func(u *proc.Uenv_t, rax int) int {
		if err := u.P.As.Map(0); err != 0 {
			t.Errorf("map failed: %v", err)
			return 1
		}
		u.Tfork(func(u *proc.Uenv_t, rax int) int {
			atomic.StoreInt64(&wret, int64(u.Futex(defs.FUTEX_WAIT, 0, 0, 0)))
			atomic.StoreUint32(&wdone, 1)
			return 0
		})
		// let the waiter reach its wait before the write
		u.Yield()
		u.P.As.Writew(0, 1)
		for atomic.LoadUint32(&wdone) == 0 {
			u.Futex(defs.FUTEX_WAKE, 0, 1, 0)
			u.Yield()
		}
		res <- true
		return 0
	})
	<-res
	r := atomic.LoadInt64(&wret)
	// the waiter either slept and was woken, or saw the new value
	if r != 0 && r != int64(-defs.EAGAIN) {
		t.Fatalf("futex wait returned %v", r)
	}
}

func TestFutexTimeout(t *testing.T) {
	s, sc, _ := boot(t, 1)
	defer s.Halt()
	res := make(chan int, 1)
	runprog(t, sc, func(u *proc.Uenv_t, rax int) int {
		if err := u.P.As.Map(0); err != 0 {
			t.Errorf("map failed: %v", err)
			return 1
		}
		res <- u.Futex(defs.FUTEX_WAIT, 0, 0, 5)
		return 0
	})
	if r := <-res; r != int(-defs.ETIMEDOUT) {
		t.Fatalf("expired wait returned %v", r)
	}
}

// a timed wait's expiry must never end a later wait by the same thread on
// the same word, even when the wake and the timer race
func TestFutexRewaitAfterTimeout(t *testing.T) {
	s, sc, ic := boot(t, 1)
	defer s.Halt()
	stop := ticker(ic)
	defer stop()
	var wret int64 = 1 << 30
	var phase uint32
	res := make(chan bool, 1)
	runprog(t, sc, func(u *proc.Uenv_t, rax int) int {
		if err := u.P.As.Map(0); err != 0 {
			t.Errorf("map failed: %v", err)
			return 1
		}
		u.Tfork(func(u *proc.Uenv_t, rax int) int {
			// a short timed wait followed at once by an untimed one on
			// the same word; the first wait's timer may still be in
			// flight when the second enqueues
			u.Futex(defs.FUTEX_WAIT, 0, 0, 2)
			atomic.StoreUint32(&phase, 1)
			atomic.StoreInt64(&wret, int64(u.Futex(defs.FUTEX_WAIT, 0, 0, 0)))
			atomic.StoreUint32(&phase, 2)
			return 0
		})
		// hammer wakes against the 2ms expiry so the wake sometimes wins
		// with the timer already fired
		for atomic.LoadUint32(&phase) == 0 {
			u.Futex(defs.FUTEX_WAKE, 0, 1, 0)
			u.Yield()
		}
		// give any stale timer time to fire into the second wait
		u.Sleep(8)
		u.P.As.Writew(0, 1)
		for atomic.LoadUint32(&phase) != 2 {
			u.Futex(defs.FUTEX_WAKE, 0, 1, 0)
			u.Yield()
		}
		res <- true
		return 0
	})
	<-res
	if r := atomic.LoadInt64(&wret); r != 0 && r != int64(-defs.EAGAIN) {
		t.Fatalf("second wait returned %v", r)
	}
}

func TestFutexErrors(t *testing.T) {
	s, sc, _ := boot(t, 1)
	defer s.Halt()
	res := make(chan [2]int, 1)
	runprog(t, sc, func(u *proc.Uenv_t, rax int) int {
		unmapped := u.Futex(defs.FUTEX_WAIT, 1<<20, 0, 0)
		u.P.As.Map(0)
		badop := u.Futex(99, 0, 0, 0)
		res <- [2]int{unmapped, badop}
		return 0
	})
	r := <-res
	if r[0] != int(-defs.EFAULT) {
		t.Fatalf("futex on unmapped word: %v", r[0])
	}
	if r[1] != int(-defs.EINVAL) {
		t.Fatalf("bad futex op: %v", r[1])
	}
}

// threads share their process's space and each holds a reference on it;
// the space outlives any one thread and the reference accounting balances
// at process exit
func TestThreadSharedSpace(t *testing.T) {
	s, sc, _ := boot(t, 1)
	defer s.Halt()
	res := make(chan int, 1)
	runprog(t, sc, func(u *proc.Uenv_t, rax int) int {
		if err := u.P.As.Map(0); err != 0 {
			t.Errorf("map failed: %v", err)
			return 1
		}
		tid := u.Tfork(func(u *proc.Uenv_t, rax int) int {
			u.P.As.Writew(0, 77)
			return 0
		})
		if _, ret := u.Waitpid(tid, defs.WTHREAD); ret != tid {
			t.Errorf("thread wait: %v", ret)
		}
		v, err := u.P.As.Readw(0)
		if err != 0 {
			t.Errorf("read after thread exit: %v", err)
		}
		res <- int(v)
		return 0
	})
	if r := <-res; r != 77 {
		t.Fatalf("read %v, want 77", r)
	}
}

func TestSchedParams(t *testing.T) {
	s, sc, _ := boot(t, 1)
	defer s.Halt()
	done := make(chan bool, 1)
	runprog(t, sc, func(u *proc.Uenv_t, rax int) int {
		if pri := u.Getsched(); pri != defs.PRI_DEFAULT {
			t.Errorf("start priority %v", pri)
		}
		if r := u.Setsched(10); r != 0 {
			t.Errorf("setsched: %v", r)
		}
		if pri := u.Getsched(); pri != 10 {
			t.Errorf("priority after setsched: %v", pri)
		}
		if r := u.Setsched(defs.PRI_IDLE); r != int(-defs.EINVAL) {
			t.Errorf("idle priority accepted: %v", r)
		}
		done <- true
		return 0
	})
	<-done
}

func TestIdsAndInfo(t *testing.T) {
	s, sc, _ := boot(t, 1)
	defer s.Halt()
	done := make(chan bool, 1)
	runprog(t, sc, func(u *proc.Uenv_t, rax int) int {
		pid := u.Getpid()
		if pid <= 0 {
			t.Errorf("bad pid %v", pid)
		}
		if u.Info(defs.SINFO_PID) != pid {
			t.Errorf("info pid mismatch")
		}
		if u.Info(defs.SINFO_TID) != u.Gettid() {
			t.Errorf("info tid mismatch")
		}
		if u.Getppid() != 0 {
			t.Errorf("root process has a parent")
		}
		if n := u.Info(defs.SINFO_SWITCHES); n < 0 {
			t.Errorf("switches %v", n)
		}
		if r := u.Info(99); r != int(-defs.EINVAL) {
			t.Errorf("bad selector: %v", r)
		}
		done <- true
		return 0
	})
	<-done
}

func TestSleepSyscall(t *testing.T) {
	s, sc, ic := boot(t, 1)
	defer s.Halt()
	stop := ticker(ic)
	defer stop()
	res := make(chan [2]int, 1)
	runprog(t, sc, func(u *proc.Uenv_t, rax int) int {
		before := u.Info(defs.SINFO_UPTIME)
		if r := u.Sleep(3); r != 0 {
			t.Errorf("sleep: %v", r)
		}
		res <- [2]int{before, u.Info(defs.SINFO_UPTIME)}
		return 0
	})
	r := <-res
	if r[1]-r[0] < 3 {
		t.Fatalf("slept %v ticks, want at least 3", r[1]-r[0])
	}
}

func TestForkBadArgs(t *testing.T) {
	s, sc, _ := boot(t, 1)
	defer s.Halt()
	res := make(chan [2]int, 1)
	runprog(t, sc, func(u *proc.Uenv_t, rax int) int {
		noprog := sc.Syscall(u, &defs.Tf_t{
			Sysno: defs.SYS_FORK,
			Args:  [5]int{defs.FORK_PROCESS},
		})
		tf := &defs.Tf_t{Sysno: defs.SYS_FORK, Args: [5]int{0x99}}
		tf.Obj = proc.Prog_t(func(u *proc.Uenv_t, rax int) int { return 0 })
		badflag := sc.Syscall(u, tf)
		res <- [2]int{noprog, badflag}
		return 0
	})
	r := <-res
	if r[0] != int(-defs.EINVAL) || r[1] != int(-defs.EINVAL) {
		t.Fatalf("bad fork args returned %v", r)
	}
}
