package proc

import "utk/defs"
import "utk/sched"

// Prog_t is a program body: what a thread executes in its process. rax is
// the value in the entry return-register, 0 for a fresh program; a fork
// resumes both sides in a continuation whose rax tells them apart.
type Prog_t func(u *Uenv_t, rax int) int

// Uenv_t is one thread's view of its process, handed to the program body;
// all kernel services go through its syscall wrappers.
type Uenv_t struct {
	P *Proc_t
	T *sched.Tcb_t
}

type Syscall_i interface {
	Syscall(u *Uenv_t, tf *defs.Tf_t) int
}

func (u *Uenv_t) syscall(sysno, a0, a1, a2 int, obj interface{}) int {
	tf := &defs.Tf_t{Sysno: sysno, Obj: obj}
	tf.Args[0] = a0
	tf.Args[1] = a1
	tf.Args[2] = a2
	return u.P.sc.Syscall(u, tf)
}

func (u *Uenv_t) syscall4(sysno, a0, a1, a2, a3 int, obj interface{}) int {
	tf := &defs.Tf_t{Sysno: sysno, Obj: obj}
	tf.Args[0] = a0
	tf.Args[1] = a1
	tf.Args[2] = a2
	tf.Args[3] = a3
	return u.P.sc.Syscall(u, tf)
}

func (u *Uenv_t) Getpid() int {
	return u.syscall(defs.SYS_GETPID, 0, 0, 0, nil)
}

func (u *Uenv_t) Getppid() int {
	return u.syscall(defs.SYS_GETPPID, 0, 0, 0, nil)
}

func (u *Uenv_t) Gettid() int {
	return u.syscall(defs.SYS_GETTID, 0, 0, 0, nil)
}

// Fork duplicates the process and resumes both sides in cont: the child
// sees rax 0, the parent the child's pid, and either side a negative errno
// if the fork failed. The caller's remaining work must live in cont.
func (u *Uenv_t) Fork(cont Prog_t) int {
	ret := u.syscall(defs.SYS_FORK, defs.FORK_PROCESS, 0, 0, cont)
	return cont(u, ret)
}

// Tfork starts another thread of this process running fn (with rax 0) and
// returns its tid; the calling thread continues normally.
func (u *Uenv_t) Tfork(fn Prog_t) int {
	return u.syscall(defs.SYS_FORK, defs.FORK_THREAD, 0, 0, fn)
}

// Waitpid reaps a child process (or, with WTHREAD, one of the caller's
// threads). The int return is the reaped id or a negative errno; 0 with
// WNOHANG when nothing has terminated yet.
func (u *Uenv_t) Waitpid(id, opts int) (Waitst_t, int) {
	var w Waitst_t
	ret := u.syscall(defs.SYS_WAIT, id, opts, 0, &w)
	return w, ret
}

// Exit terminates the whole process with status; never returns.
func (u *Uenv_t) Exit(status int) {
	u.syscall(defs.SYS_EXIT, status, 0, 0, nil)
	panic("no")
}

// Threxit terminates the calling thread only; never returns.
func (u *Uenv_t) Threxit(status int) {
	u.syscall(defs.SYS_THREXIT, status, 0, 0, nil)
	panic("no")
}

func (u *Uenv_t) Sleep(ticks int) int {
	return u.syscall(defs.SYS_SLEEP, ticks, 0, 0, nil)
}

func (u *Uenv_t) Yield() {
	u.syscall(defs.SYS_YIELD, 0, 0, 0, nil)
}

// Futex operates on the word at va in the process's memory. For FUTEX_WAIT,
// val is the expected value and timeout a millisecond count (0 means
// forever).
func (u *Uenv_t) Futex(op, va, val, timeout int) int {
	return u.syscall4(defs.SYS_FUTEX, op, va, val, timeout, nil)
}

func (u *Uenv_t) Getsched() int {
	return u.syscall(defs.SYS_GETSCHED, 0, 0, 0, nil)
}

func (u *Uenv_t) Setsched(pri int) int {
	return u.syscall(defs.SYS_SETSCHED, pri, 0, 0, nil)
}

func (u *Uenv_t) Mutexcreate() int {
	return u.syscall(defs.SYS_MUTEX, defs.MUTEX_CREATE, 0, 0, nil)
}

func (u *Uenv_t) Mutexdestroy(h int) int {
	return u.syscall(defs.SYS_MUTEX, defs.MUTEX_DESTROY, h, 0, nil)
}

func (u *Uenv_t) Lock(h int) int {
	return u.syscall(defs.SYS_MUTEX, defs.MUTEX_LOCK, h, 0, nil)
}

func (u *Uenv_t) Unlock(h int) int {
	return u.syscall(defs.SYS_MUTEX, defs.MUTEX_UNLOCK, h, 0, nil)
}

func (u *Uenv_t) Semcreate(count int) int {
	return u.syscall(defs.SYS_SEM, defs.SEM_CREATE, count, 0, nil)
}

func (u *Uenv_t) Semdestroy(h int) int {
	return u.syscall(defs.SYS_SEM, defs.SEM_DESTROY, h, 0, nil)
}

func (u *Uenv_t) Pend(h int) int {
	return u.syscall(defs.SYS_SEM, defs.SEM_PEND, h, 0, nil)
}

func (u *Uenv_t) Post(h int) int {
	return u.syscall(defs.SYS_SEM, defs.SEM_POST, h, 0, nil)
}

func (u *Uenv_t) Kill(pid int) int {
	return u.syscall(defs.SYS_KILL, pid, 0, 0, nil)
}

func (u *Uenv_t) Info(sel int) int {
	return u.syscall(defs.SYS_INFO, sel, 0, 0, nil)
}
