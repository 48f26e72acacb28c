// Package proc is the process layer over the scheduler: processes own an
// address space, a set of threads, a table of synchronization primitive
// handles and the wait lists their parent reaps them through. A terminated
// thread is retained as a zombie until waited for; a dying parent hands its
// live children to init and discards the statuses nobody will claim.
package proc

import "sync"
import "sync/atomic"

import "utk/defs"
import "utk/hashtable"
import "utk/ksync"
import "utk/limits"
import "utk/mem"
import "utk/sched"

var Allprocs = hashtable.MkHash(limits.Syslimit.Sysprocs)

var pidctr int32
var pbudget = limits.Sysatomic_t(limits.Syslimit.Sysprocs)

var _initproc struct {
	sync.Mutex
	p *Proc_t
}

func initproc() *Proc_t {
	_initproc.Lock()
	ret := _initproc.p
	_initproc.Unlock()
	return ret
}

type Proc_t struct {
	Pid  int
	Name string

	// guards threads, children and the exit status record
	sync.Mutex
	threads   map[defs.Tid_t]*sched.Tcb_t
	children  map[int]*Proc_t
	exitset   bool
	exitst    int
	exitcause defs.Cause_t

	As *mem.As_t
	s  *sched.Sched_t
	sc Syscall_i

	// statuses of my children and my threads
	Mywait Wait_t
	// guards Pwait, parent and dying against reparenting
	pwl    sync.Mutex
	Pwait  *Wait_t
	parent *Proc_t
	// set when terminate starts; a terminating parent leaves dying
	// children where they are instead of reparenting them
	dying bool

	doomed uint32
	prims  primtab_t
}

func (p *Proc_t) Sched() *sched.Sched_t {
	return p.s
}

// Proc_check looks a live process up by pid.
func Proc_check(pid int) (*Proc_t, bool) {
	v, ok := Allprocs.Get(int32(pid))
	if !ok {
		return nil, false
	}
	return v.(*Proc_t), true
}

// Proc_new creates a process with no threads yet. A nil parent makes an
// orphan; the first process ever created is init and inherits everyone
// else's orphans. With a parent, the address space is a copy-on-write
// duplicate of the parent's and the pid is registered on the parent's wait
// list.
func Proc_new(s *sched.Sched_t, sc Syscall_i, name string,
	parent *Proc_t) (*Proc_t, defs.Err_t) {
	if !pbudget.Take() {
		return nil, -defs.EAGAIN
	}
	pid := int(atomic.AddInt32(&pidctr, 1))
	p := &Proc_t{
		Pid:      pid,
		Name:     name,
		s:        s,
		sc:       sc,
		threads:  make(map[defs.Tid_t]*sched.Tcb_t),
		children: make(map[int]*Proc_t),
	}
	p.Mywait.Wait_init(s, pid)
	if parent != nil {
		as, err := parent.As.Dup()
		if err != 0 {
			pbudget.Give()
			return nil, err
		}
		p.As = as
		if !parent.Mywait._start(pid, true, uint(limits.Syslimit.Sysprocs)) {
			as.Refdown()
			pbudget.Give()
			return nil, -defs.ENOMEM
		}
		p.parent = parent
		p.Pwait = &parent.Mywait
		parent.Lock()
		parent.children[pid] = p
		parent.Unlock()
	} else {
		p.As = s.Mem().Mkas()
		_initproc.Lock()
		if _initproc.p == nil {
			_initproc.p = p
		}
		_initproc.Unlock()
	}
	Allprocs.Set(int32(pid), p)
	return p, 0
}

// Thread_new gives p another thread running prog at pri; rax is the value
// prog observes as its entry return-register (0 for a fresh program, the
// child pid on the parent side of a fork).
func (p *Proc_t) Thread_new(pri int, prog Prog_t, rax,
	affinity int) (defs.Tid_t, defs.Err_t) {
	entry := func(t *sched.Tcb_t, arg interface{}) int {
		u := &Uenv_t{P: p, T: t}
		return defs.EXITED | (prog(u, rax) & 0xff)
	}
	t, err := p.s.Thread_new(p.Pid, pri, entry, 0, nil)
	if err != 0 {
		return 0, err
	}
	if !p.Mywait._start(int(t.Tid), false, uint(limits.Syslimit.Systhreads)) {
		p.s.Abort(t)
		return 0, -defs.ENOMEM
	}
	t.Exitfn = func(status int, cause defs.Cause_t) {
		p.thread_dead(t, status, cause)
	}
	// each thread holds a reference on the space; the creation reference
	// drops at terminate
	p.As.Refup()
	p.Lock()
	p.threads[t.Tid] = t
	p.Unlock()
	p.s.Ready(t, affinity)
	return t.Tid, 0
}

func (p *Proc_t) Tnum() int {
	p.Lock()
	ret := len(p.threads)
	p.Unlock()
	return ret
}

func (p *Proc_t) Thread(tid defs.Tid_t) (*sched.Tcb_t, bool) {
	p.Lock()
	t, ok := p.threads[tid]
	p.Unlock()
	return t, ok
}

// Exitrecord fixes the status the process will report; the first record
// wins (exit beats a later fault in another thread).
func (p *Proc_t) Exitrecord(status int, cause defs.Cause_t) {
	p.Lock()
	if !p.exitset {
		p.exitset = true
		p.exitst = status
		p.exitcause = cause
	}
	p.Unlock()
}

// Doomall condemns every thread; each dies at its next kernel entry.
func (p *Proc_t) Doomall() {
	atomic.StoreUint32(&p.doomed, 1)
	p.Lock()
	for _, t := range p.threads {
		t.Kill()
	}
	p.Unlock()
}

func (p *Proc_t) Doomed() bool {
	return atomic.LoadUint32(&p.doomed) != 0
}

// invoked on the dying thread itself, exactly once per thread
func (p *Proc_t) thread_dead(t *sched.Tcb_t, status int, cause defs.Cause_t) {
	s := p.s
	// publish the status before leaving the thread table. the last
	// thread out drains the wait lists; a put after that would find the
	// registration gone.
	p.Mywait.puttid(int(t.Tid), status, cause, func() {
		s.Reap(t)
	})
	p.As.Refdown()
	p.Lock()
	delete(p.threads, t.Tid)
	last := len(p.threads) == 0
	if last && !p.exitset {
		p.exitset = true
		p.exitst = status
		p.exitcause = cause
	}
	pst, pcause := p.exitst, p.exitcause
	p.Unlock()
	if last {
		p.terminate(pst, pcause)
	}
}

// the process is dead: no threads left. runs on the last dying thread.
func (p *Proc_t) terminate(status int, cause defs.Cause_t) {
	// fix where the status goes in the same step that marks this process
	// dying; after this a terminating parent cannot move it
	p.pwl.Lock()
	p.dying = true
	pw := p.Pwait
	par := p.parent
	p.pwl.Unlock()

	// hand live children to init
	p.Lock()
	var kids []*Proc_t
	for _, c := range p.children {
		kids = append(kids, c)
	}
	p.children = nil
	p.Unlock()
	ip := initproc()
	for _, c := range kids {
		c.pwl.Lock()
		if !c.dying && c.Pwait == &p.Mywait {
			if ip != nil && ip != p &&
				ip.Mywait._start(c.Pid, true, uint(limits.Syslimit.Sysprocs)) {
				c.Pwait = &ip.Mywait
				c.parent = ip
				ip.Lock()
				ip.children[c.Pid] = c
				ip.Unlock()
			} else {
				c.Pwait = nil
				c.parent = nil
			}
		}
		c.pwl.Unlock()
	}
	// statuses nobody will wait for anymore
	p.Mywait.Drain()
	p.prims.clear()
	p.As.Refdown()

	if par != nil {
		par.Lock()
		delete(par.children, p.Pid)
		par.Unlock()
	}
	Allprocs.Del(int32(p.Pid))
	pbudget.Give()
	_initproc.Lock()
	if _initproc.p == p {
		_initproc.p = nil
	}
	_initproc.Unlock()
	if pw != nil {
		pw.putpid(p.Pid, status, cause)
	}
}

// Abort unwinds a process that never got a thread (a fork that failed
// between process and thread creation).
func (p *Proc_t) Abort() {
	p.Lock()
	if len(p.threads) != 0 {
		p.Unlock()
		panic("abort of live process")
	}
	p.Unlock()
	p.pwl.Lock()
	par := p.parent
	p.pwl.Unlock()
	if par != nil {
		par.Lock()
		delete(par.children, p.Pid)
		par.Unlock()
		par.Mywait.forget(p.Pid, true)
	}
	p.As.Refdown()
	Allprocs.Del(int32(p.Pid))
	pbudget.Give()
	_initproc.Lock()
	if _initproc.p == p {
		_initproc.p = nil
	}
	_initproc.Unlock()
}

func (p *Proc_t) Ppid() int {
	p.pwl.Lock()
	par := p.parent
	p.pwl.Unlock()
	if par == nil {
		return 0
	}
	return par.Pid
}

// handle table for the process's mutexes and semaphores; the handle is the
// lowest free slot, fd style
type prim_t struct {
	mtx *ksync.Mutex_t
	sem *ksync.Sem_t
}

type primtab_t struct {
	sync.Mutex
	prims []*prim_t
}

func (pt *primtab_t) insert(pr *prim_t) (int, defs.Err_t) {
	pt.Lock()
	defer pt.Unlock()
	for i, e := range pt.prims {
		if e == nil {
			pt.prims[i] = pr
			return i, 0
		}
	}
	if uint(len(pt.prims)) >= limits.Syslimit.Noprim {
		return 0, -defs.EMFILE
	}
	pt.prims = append(pt.prims, pr)
	return len(pt.prims) - 1, 0
}

func (pt *primtab_t) get(h int) (*prim_t, defs.Err_t) {
	pt.Lock()
	defer pt.Unlock()
	if h < 0 || h >= len(pt.prims) || pt.prims[h] == nil {
		return nil, -defs.EBADF
	}
	return pt.prims[h], 0
}

func (pt *primtab_t) del(h int) {
	pt.Lock()
	if h >= 0 && h < len(pt.prims) {
		pt.prims[h] = nil
	}
	pt.Unlock()
}

func (pt *primtab_t) clear() {
	pt.Lock()
	prims := pt.prims
	pt.prims = nil
	pt.Unlock()
	for _, pr := range prims {
		if pr == nil {
			continue
		}
		if pr.mtx != nil {
			pr.mtx.Destroy(-1)
		}
		if pr.sem != nil {
			pr.sem.Destroy(-1)
		}
	}
}

func (p *Proc_t) Mutex_create() (int, defs.Err_t) {
	return p.prims.insert(&prim_t{mtx: ksync.Mkmutex(p.s)})
}

func (p *Proc_t) Mutex_get(h int) (*ksync.Mutex_t, defs.Err_t) {
	pr, err := p.prims.get(h)
	if err != 0 {
		return nil, err
	}
	if pr.mtx == nil {
		return nil, -defs.EBADF
	}
	return pr.mtx, 0
}

func (p *Proc_t) Mutex_destroy(cpu, h int) defs.Err_t {
	m, err := p.Mutex_get(h)
	if err != 0 {
		return err
	}
	if err := m.Destroy(cpu); err != 0 {
		return err
	}
	p.prims.del(h)
	return 0
}

func (p *Proc_t) Sem_create(count int) (int, defs.Err_t) {
	sem, err := ksync.Mksem(p.s, count)
	if err != 0 {
		return 0, err
	}
	return p.prims.insert(&prim_t{sem: sem})
}

func (p *Proc_t) Sem_get(h int) (*ksync.Sem_t, defs.Err_t) {
	pr, err := p.prims.get(h)
	if err != 0 {
		return nil, err
	}
	if pr.sem == nil {
		return nil, -defs.EBADF
	}
	return pr.sem, 0
}

func (p *Proc_t) Sem_destroy(cpu, h int) defs.Err_t {
	sem, err := p.Sem_get(h)
	if err != 0 {
		return err
	}
	if err := sem.Destroy(cpu); err != 0 {
		return err
	}
	p.prims.del(h)
	return 0
}
