// Package sys is the kernel entry surface: a fixed dispatch table mapping
// syscall numbers to handlers, plus the futex bank. Every entry first
// settles the caller's fate (a condemned thread dies here) and services any
// pending preemption before the operation runs.
package sys

import "sync"

import "utk/defs"
import "utk/limits"
import "utk/proc"
import "utk/sched"

type Syscall_t struct {
	s *sched.Sched_t

	fl      sync.Mutex
	futexes map[uintptr]*futex_t
	fbudget limits.Sysatomic_t
}

func MkSyscall(s *sched.Sched_t) *Syscall_t {
	return &Syscall_t{
		s:       s,
		futexes: make(map[uintptr]*futex_t),
		fbudget: limits.Sysatomic_t(limits.Syslimit.Futexes),
	}
}

// Proc_start creates a process with one thread running prog at pri. The
// first process started is init.
func (sc *Syscall_t) Proc_start(name string, pri int,
	prog proc.Prog_t) (*proc.Proc_t, defs.Err_t) {
	p, err := proc.Proc_new(sc.s, sc, name, nil)
	if err != 0 {
		return nil, err
	}
	if _, err := p.Thread_new(pri, prog, 0, -1); err != 0 {
		p.Abort()
		return nil, err
	}
	return p, 0
}

type syshand_t func(sc *Syscall_t, u *proc.Uenv_t, tf *defs.Tf_t) int

// the dispatch table; a nil or out-of-range slot is -ENOSYS
var systab = [defs.SYS_LAST + 1]syshand_t{
	defs.SYS_GETPID:   sys_getpid,
	defs.SYS_GETPPID:  sys_getppid,
	defs.SYS_GETTID:   sys_gettid,
	defs.SYS_FORK:     sys_fork,
	defs.SYS_EXIT:     sys_exit,
	defs.SYS_THREXIT:  sys_threxit,
	defs.SYS_WAIT:     sys_wait,
	defs.SYS_SLEEP:    sys_sleep,
	defs.SYS_YIELD:    sys_yield,
	defs.SYS_FUTEX:    sys_futex,
	defs.SYS_GETSCHED: sys_getsched,
	defs.SYS_SETSCHED: sys_setsched,
	defs.SYS_MUTEX:    sys_mutex,
	defs.SYS_SEM:      sys_sem,
	defs.SYS_KILL:     sys_kill,
	defs.SYS_INFO:     sys_info,
}

func (sc *Syscall_t) Syscall(u *proc.Uenv_t, tf *defs.Tf_t) int {
	t := u.T
	if t.Killed() || u.P.Doomed() {
		sc.s.Exit(t, defs.SIGNALED|defs.Mkexitsig(defs.SIGKILL),
			defs.CAUSE_KILLED)
	}
	sc.s.Maybeyield(t)
	n := tf.Sysno
	var ret int
	if n < 0 || n > defs.SYS_LAST || systab[n] == nil {
		ret = int(-defs.ENOSYS)
	} else {
		ret = systab[n](sc, u, tf)
	}
	tf.Rax = ret
	return ret
}

func sys_getpid(sc *Syscall_t, u *proc.Uenv_t, tf *defs.Tf_t) int {
	return u.P.Pid
}

func sys_getppid(sc *Syscall_t, u *proc.Uenv_t, tf *defs.Tf_t) int {
	return u.P.Ppid()
}

func sys_gettid(sc *Syscall_t, u *proc.Uenv_t, tf *defs.Tf_t) int {
	return int(u.T.Tid)
}

func sys_fork(sc *Syscall_t, u *proc.Uenv_t, tf *defs.Tf_t) int {
	flags := tf.Args[0]
	prog, ok := tf.Obj.(proc.Prog_t)
	if !ok || prog == nil {
		return int(-defs.EINVAL)
	}
	pri, _ := sc.s.Prio(u.T.Cpuid(), u.T)
	switch flags {
	case defs.FORK_THREAD:
		tid, err := u.P.Thread_new(pri, prog, 0, -1)
		if err != 0 {
			return int(err)
		}
		return int(tid)
	case defs.FORK_PROCESS:
		child, err := proc.Proc_new(sc.s, sc, u.P.Name, u.P)
		if err != 0 {
			return int(err)
		}
		if _, err := child.Thread_new(pri, prog, 0, -1); err != 0 {
			child.Abort()
			return int(err)
		}
		return child.Pid
	}
	return int(-defs.EINVAL)
}

func sys_exit(sc *Syscall_t, u *proc.Uenv_t, tf *defs.Tf_t) int {
	status := defs.EXITED | (tf.Args[0] & 0xff)
	u.P.Exitrecord(status, defs.CAUSE_NORMAL)
	u.P.Doomall()
	sc.s.Exit(u.T, status, defs.CAUSE_NORMAL)
	panic("no")
}

func sys_threxit(sc *Syscall_t, u *proc.Uenv_t, tf *defs.Tf_t) int {
	status := defs.EXITED | (tf.Args[0] & 0xff)
	sc.s.Exit(u.T, status, defs.CAUSE_NORMAL)
	panic("no")
}

func sys_wait(sc *Syscall_t, u *proc.Uenv_t, tf *defs.Tf_t) int {
	id := tf.Args[0]
	opts := tf.Args[1]
	wp, ok := tf.Obj.(*proc.Waitst_t)
	if !ok || wp == nil {
		return int(-defs.EFAULT)
	}
	noblk := opts&defs.WNOHANG != 0
	var ws proc.Waitst_t
	var err defs.Err_t
	if opts&defs.WTHREAD != 0 {
		ws, err = u.P.Mywait.Reaptid(u.T, id, noblk)
	} else {
		ws, err = u.P.Mywait.Reappid(u.T, id, noblk)
	}
	if err != 0 {
		return int(err)
	}
	if !ws.Valid {
		return 0
	}
	*wp = ws
	return ws.Id
}

func sys_sleep(sc *Syscall_t, u *proc.Uenv_t, tf *defs.Tf_t) int {
	return int(sc.s.Sleepfor(u.T, tf.Args[0]))
}

func sys_yield(sc *Syscall_t, u *proc.Uenv_t, tf *defs.Tf_t) int {
	sc.s.Yield(u.T)
	return 0
}

func sys_getsched(sc *Syscall_t, u *proc.Uenv_t, tf *defs.Tf_t) int {
	base, _ := sc.s.Prio(u.T.Cpuid(), u.T)
	return base
}

func sys_setsched(sc *Syscall_t, u *proc.Uenv_t, tf *defs.Tf_t) int {
	return int(sc.s.Setbase(u.T.Cpuid(), u.T, tf.Args[0]))
}

func sys_mutex(sc *Syscall_t, u *proc.Uenv_t, tf *defs.Tf_t) int {
	op := tf.Args[0]
	h := tf.Args[1]
	cpu := u.T.Cpuid()
	switch op {
	case defs.MUTEX_CREATE:
		nh, err := u.P.Mutex_create()
		if err != 0 {
			return int(err)
		}
		return nh
	case defs.MUTEX_DESTROY:
		return int(u.P.Mutex_destroy(cpu, h))
	case defs.MUTEX_LOCK:
		m, err := u.P.Mutex_get(h)
		if err != 0 {
			return int(err)
		}
		return int(m.Lock(u.T))
	case defs.MUTEX_UNLOCK:
		m, err := u.P.Mutex_get(h)
		if err != 0 {
			return int(err)
		}
		return int(m.Unlock(u.T))
	}
	return int(-defs.EINVAL)
}

func sys_sem(sc *Syscall_t, u *proc.Uenv_t, tf *defs.Tf_t) int {
	op := tf.Args[0]
	arg := tf.Args[1]
	cpu := u.T.Cpuid()
	switch op {
	case defs.SEM_CREATE:
		nh, err := u.P.Sem_create(arg)
		if err != 0 {
			return int(err)
		}
		return nh
	case defs.SEM_DESTROY:
		return int(u.P.Sem_destroy(cpu, arg))
	case defs.SEM_PEND:
		sem, err := u.P.Sem_get(arg)
		if err != 0 {
			return int(err)
		}
		return int(sem.Pend(u.T))
	case defs.SEM_POST:
		sem, err := u.P.Sem_get(arg)
		if err != 0 {
			return int(err)
		}
		return int(sem.Post(cpu))
	}
	return int(-defs.EINVAL)
}

func sys_kill(sc *Syscall_t, u *proc.Uenv_t, tf *defs.Tf_t) int {
	pid := tf.Args[0]
	tp, ok := proc.Proc_check(pid)
	if !ok {
		return int(-defs.ESRCH)
	}
	tp.Doomall()
	return 0
}

func sys_info(sc *Syscall_t, u *proc.Uenv_t, tf *defs.Tf_t) int {
	s := sc.s
	sum := func(f func(c *sched.Cpu_t) int) int {
		ret := 0
		for i := 0; i < s.Ncpu(); i++ {
			ret += f(s.Cpu(i))
		}
		return ret
	}
	switch tf.Args[0] {
	case defs.SINFO_IDLES:
		return sum(func(c *sched.Cpu_t) int { return int(c.Idles.Read()) })
	case defs.SINFO_SWITCHES:
		return sum(func(c *sched.Cpu_t) int { return int(c.Switches.Read()) })
	case defs.SINFO_STEALS:
		return sum(func(c *sched.Cpu_t) int { return int(c.Steals.Read()) })
	case defs.SINFO_UPTIME:
		return int(s.Cpu(u.T.Cpuid()).Ticks())
	case defs.SINFO_PID:
		return u.P.Pid
	case defs.SINFO_TID:
		return int(u.T.Tid)
	}
	return int(-defs.EINVAL)
}
