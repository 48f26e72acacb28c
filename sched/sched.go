// Package sched is the per-CPU preemptive scheduler: priority ready queues
// with FIFO levels, timer-driven time slicing, a sleep queue, per-CPU idle
// threads and best-effort balancing of queue lengths across CPUs. Threads
// are goroutines; the register-snapshot boundary of a real context switch is
// a channel handoff between a CPU's dispatch loop and the thread it runs.
package sched

import "fmt"
import "runtime"
import "sync/atomic"

import "utk/crit"
import "utk/defs"
import "utk/irq"
import "utk/limits"
import "utk/mem"
import "utk/stats"

// default kernel stack bytes for Thread_new callers that pass 0
const KSTACK_DEF = 8192

const idlestksz = 4096

// a scheduler-internal invariant violation; fatal, and never absorbed by the
// fault handling that kills a single thread
type kdeath_t struct {
	msg string
}

func kpanic(msg string) {
	panic(kdeath_t{msg})
}

type Cpu_t struct {
	Id int
	s  *Sched_t

	// guarded by the scheduler critical section
	runq    runq_t
	timerq  []*Tcb_t
	cur     *Tcb_t
	resched bool

	ticks uint64
	idlet *Tcb_t
	// the dispatch loop waits here for its current thread to switch away
	back chan bool

	Idles    stats.Counter_t
	Switches stats.Counter_t
	Steals   stats.Counter_t
	Tickcnt  stats.Counter_t
}

func (c *Cpu_t) Ticks() uint64 {
	return atomic.LoadUint64(&c.ticks)
}

type Sched_t struct {
	cpus []*Cpu_t
	ic   *irq.Ctl_t
	mm   *mem.Mem_t
	// one lock for all scheduling state, ptable style; per-CPU queues are
	// a data-structure choice, not a locking domain
	cs      *crit.Crit_t
	tidctr  int32
	tbudget limits.Sysatomic_t
	halted  uint32
}

func Mksched(ncpu int, ic *irq.Ctl_t, mm *mem.Mem_t) *Sched_t {
	if ncpu != ic.Ncpu() {
		panic("cpu count mismatch")
	}
	s := &Sched_t{ic: ic, mm: mm, cs: crit.Mkcrit(ic)}
	s.tbudget = limits.Sysatomic_t(limits.Syslimit.Systhreads)
	s.cpus = make([]*Cpu_t, ncpu)
	for i := range s.cpus {
		c := &Cpu_t{Id: i, s: s, back: make(chan bool)}
		s.cpus[i] = c
		c.idlet = s.mkidle(c)
	}
	ic.Register(defs.IRQ_TIMER, func(cpu int) {
		s.cpus[cpu].tick()
	})
	return s
}

func (s *Sched_t) Ncpu() int {
	return len(s.cpus)
}

func (s *Sched_t) Cpu(id int) *Cpu_t {
	return s.cpus[id]
}

func (s *Sched_t) Irqctl() *irq.Ctl_t {
	return s.ic
}

func (s *Sched_t) Mem() *mem.Mem_t {
	return s.mm
}

// Start launches the per-CPU dispatch loops.
func (s *Sched_t) Start() {
	for _, c := range s.cpus {
		go c.run()
	}
}

// Halt winds the machine down: dispatch loops exit once their current
// thread switches away and the idle threads terminate. Threads parked on a
// wait or timer queue stay parked; the machine is going away and abandons
// them with it.
func (s *Sched_t) Halt() {
	atomic.StoreUint32(&s.halted, 1)
}

func (s *Sched_t) halting() bool {
	return atomic.LoadUint32(&s.halted) != 0
}

func (s *Sched_t) mktcb(pid, pri int, ks *mem.Kstack_t) *Tcb_t {
	return &Tcb_t{
		Tid:     defs.Tid_t(atomic.AddInt32(&s.tidctr, 1)),
		Pid:     pid,
		basepri: pri,
		effpri:  pri,
		state:   defs.TNEW,
		where:   wh_none,
		kstack:  ks,
		sched:   make(chan switch_t, 1),
	}
}

func (s *Sched_t) mkidle(c *Cpu_t) *Tcb_t {
	ks, err := s.mm.Alloc_kstack(idlestksz)
	if err != 0 {
		panic("no memory for idle stack")
	}
	t := s.mktcb(0, defs.PRI_IDLE, ks)
	t.state = defs.TREADY
	t.cpu = c.Id
	go s.trampoline(t, s.idleloop, nil)
	return t
}

func (s *Sched_t) idleloop(t *Tcb_t, arg interface{}) int {
	for !s.halting() {
		runtime.Gosched()
		s.Yield(t)
	}
	return 0
}

// Thread_new admits a thread: budget is taken and a kernel stack allocated,
// but nothing runs until Ready. The split lets callers finish their own
// bookkeeping against the new tid before the thread can execute (or exit).
func (s *Sched_t) Thread_new(pid, pri int, entry Entry_t, stksz int,
	arg interface{}) (*Tcb_t, defs.Err_t) {
	if pri < defs.PRI_HIGHEST || pri > defs.PRI_LOWEST {
		return nil, -defs.EINVAL
	}
	if stksz == 0 {
		stksz = KSTACK_DEF
	}
	if !s.tbudget.Take() {
		return nil, -defs.EAGAIN
	}
	ks, err := s.mm.Alloc_kstack(stksz)
	if err != 0 {
		s.tbudget.Give()
		return nil, err
	}
	t := s.mktcb(pid, pri, ks)
	t.entry = entry
	t.arg = arg
	return t, 0
}

// Abort undoes a Thread_new that was never made Ready.
func (s *Sched_t) Abort(t *Tcb_t) {
	if t.state != defs.TNEW {
		kpanic("abort of started thread")
	}
	s.mm.Free_kstack(t.kstack)
	s.tbudget.Give()
}

// Ready launches a NEW thread on affinity, or the least-loaded CPU when
// affinity < 0.
func (s *Sched_t) Ready(t *Tcb_t, affinity int) {
	if affinity >= len(s.cpus) {
		kpanic("bad affinity")
	}
	go s.trampoline(t, t.entry, t.arg)

	tok := s.cs.Enter(-1)
	if t.state != defs.TNEW {
		kpanic("ready of started thread")
	}
	c := s.cpus[0]
	if affinity >= 0 {
		c = s.cpus[affinity]
	} else {
		for _, o := range s.cpus[1:] {
			if o.runq.qlen() < c.runq.qlen() {
				c = o
			}
		}
	}
	t.cpu = c.Id
	t.state = defs.TREADY
	t.where = wh_runq
	c.runq.push(t)
	if c.cur != nil && t.effpri < c.cur.effpri {
		c.resched = true
	}
	s.cs.Exit(-1, tok)
}

func (s *Sched_t) trampoline(t *Tcb_t, entry Entry_t, arg interface{}) {
	sw := <-t.sched
	t.Oncpu = sw.c
	status, cause := s.runentry(t, entry, arg)
	s.Exit(t, status, cause)
}

// runentry converts a panic out of the thread body into FAULT termination
// (divide by zero, nil dereference...); the thread dies, the system keeps
// going. A scheduler invariant violation is rethrown and takes the kernel
// down.
func (s *Sched_t) runentry(t *Tcb_t, entry Entry_t, arg interface{}) (status int, cause defs.Cause_t) {
	cause = defs.CAUSE_NORMAL
	defer func() {
		if r := recover(); r != nil {
			if kd, ok := r.(kdeath_t); ok {
				panic(kd.msg)
			}
			fmt.Printf("*** fault *** tid %v: %v. killing...\n", t.Tid, r)
			status = defs.SIGNALED | defs.Mkexitsig(defs.SIGFPE)
			cause = defs.CAUSE_FAULT
		}
	}()
	status = entry(t, arg)
	return
}

// the dispatch loop of one CPU
func (c *Cpu_t) run() {
	s := c.s
	for !s.halting() {
		s.ic.Poll(c.Id)

		tok := s.cs.Enter(c.Id)
		t := c.runq.pop()
		if t == nil {
			t = c.steal()
		}
		idle := false
		if t == nil {
			t = c.idlet
			idle = true
			c.Idles.Inc()
		} else {
			t.where = wh_none
		}
		if t.state != defs.TREADY {
			kpanic(fmt.Sprintf("dispatch of %v thread", t.state))
		}
		t.state = defs.TRUNNING
		t.where = wh_cpu
		t.cpu = c.Id
		t.slice = defs.TIMESLICE
		c.cur = t
		c.resched = false
		v := t.wakev
		t.wakev = 0
		s.cs.Exit(c.Id, tok)

		if !idle {
			c.Switches.Inc()
		}
		t.sched <- switch_t{c: c, v: v}
		<-c.back

		tok = s.cs.Enter(c.Id)
		c.cur = nil
		s.cs.Exit(c.Id, tok)
	}
}

// steal takes the head of the longest other ready queue. threads migrate
// only between dispatch points; this is rebalancing, not a correctness
// requirement. caller holds the scheduler critical section.
func (c *Cpu_t) steal() *Tcb_t {
	var best *Cpu_t
	for _, o := range c.s.cpus {
		if o == c {
			continue
		}
		if best == nil || o.runq.qlen() > best.runq.qlen() {
			best = o
		}
	}
	if best == nil || best.runq.qlen() == 0 {
		return nil
	}
	t := best.runq.pop()
	if t != nil {
		c.Steals.Inc()
	}
	return t
}

// park hands the CPU back to its dispatch loop and waits to be dispatched
// again, on whichever CPU picks the thread up.
func (s *Sched_t) park(t *Tcb_t) int {
	t.Oncpu.back <- true
	sw := <-t.sched
	t.Oncpu = sw.c
	return sw.v
}

// Yield surrenders the CPU voluntarily; the thread goes to the tail of its
// priority level.
func (s *Sched_t) Yield(t *Tcb_t) {
	c := t.Oncpu
	tok := s.cs.Enter(c.Id)
	if t.state != defs.TRUNNING || t.where != wh_cpu {
		kpanic("yield of non-running thread")
	}
	t.state = defs.TREADY
	if t == c.idlet {
		// the idle thread is dispatched from nowhere, never queued
		t.where = wh_none
	} else {
		t.where = wh_runq
		c.runq.push(t)
	}
	s.cs.Exit(c.Id, tok)
	s.park(t)
}

// Maybeyield is the preemption point: latched interrupts are serviced and,
// if the tick handler asked for a reschedule, the CPU is surrendered.
func (s *Sched_t) Maybeyield(t *Tcb_t) {
	c := t.Oncpu
	s.ic.Poll(c.Id)
	tok := s.cs.Enter(c.Id)
	need := c.resched
	c.resched = false
	s.cs.Exit(c.Id, tok)
	if need {
		s.Yield(t)
	}
}

// Sleepfor parks t on its CPU's deadline-ordered timer queue for at least
// ticks timer interrupts; wake-up is never early, and is FIFO among equal
// deadlines.
func (s *Sched_t) Sleepfor(t *Tcb_t, ticks int) defs.Err_t {
	if ticks < 0 {
		return -defs.EINVAL
	}
	c := t.Oncpu
	tok := s.cs.Enter(c.Id)
	if t.state != defs.TRUNNING || t.where != wh_cpu {
		kpanic("sleep of non-running thread")
	}
	t.state = defs.TSLEEPING
	t.where = wh_timerq
	t.deadline = c.ticks + uint64(ticks)
	c.timerq = append(c.timerq, t)
	s.cs.Exit(c.Id, tok)
	s.park(t)
	return 0
}

// Blockprep transitions t from running to blocked-on-a-wait-list. It is for
// the synchronization primitives only, called with the primitive's critical
// section held so the wait-list append and this transition are one step;
// the caller then drops its section and parks with Block.
func (s *Sched_t) Blockprep(t *Tcb_t) {
	c := t.Oncpu
	tok := s.cs.Enter(c.Id)
	if t.state != defs.TRUNNING || t.where != wh_cpu {
		kpanic("block of non-running thread")
	}
	t.state = defs.TBLOCKED
	t.where = wh_wait
	s.cs.Exit(c.Id, tok)
}

// Block parks a thread Blockprep already transitioned. Returns the waker's
// value.
func (s *Sched_t) Block(t *Tcb_t) int {
	return s.park(t)
}

// Unblock makes a blocked thread ready on its CPU, delivering v to its
// Block. caller is the unblocking context's CPU, -1 for daemons.
func (s *Sched_t) Unblock(caller int, t *Tcb_t, v int) {
	tok := s.cs.Enter(caller)
	if t.state != defs.TBLOCKED || t.where != wh_wait {
		kpanic("unblock of non-blocked thread")
	}
	t.wakev = v
	t.state = defs.TREADY
	t.where = wh_runq
	c := s.cpus[t.cpu]
	c.runq.push(t)
	if c.cur != nil && t.effpri < c.cur.effpri {
		c.resched = true
	}
	s.cs.Exit(caller, tok)
}

// Exit is the one way out: records status and cause, runs the reap hook,
// hands the CPU back and never returns. The TCB and its stack survive until
// a waiter reaps them.
func (s *Sched_t) Exit(t *Tcb_t, status int, cause defs.Cause_t) {
	c := t.Oncpu
	tok := s.cs.Enter(c.Id)
	if t.state != defs.TRUNNING {
		kpanic("exit of non-running thread")
	}
	t.state = defs.TTERMINATED
	t.where = wh_none
	t.status = status
	t.cause = cause
	s.cs.Exit(c.Id, tok)
	if fn := t.Exitfn; fn != nil {
		t.Exitfn = nil
		fn(status, cause)
	}
	if t != c.idlet {
		// idle threads are not budgeted
		s.tbudget.Give()
	}
	c.back <- true
	runtime.Goexit()
}

// Reap frees a terminated thread's stack; called exactly once, by whoever
// collected its status.
func (s *Sched_t) Reap(t *Tcb_t) {
	tok := s.cs.Enter(-1)
	if t.state != defs.TTERMINATED {
		kpanic("reap of live thread")
	}
	s.cs.Exit(-1, tok)
	s.mm.Free_kstack(t.kstack)
}

// Tstate reads t's scheduling state.
func (s *Sched_t) Tstate(caller int, t *Tcb_t) defs.Tstate_t {
	tok := s.cs.Enter(caller)
	st := t.state
	s.cs.Exit(caller, tok)
	return st
}

// Prio returns t's base and effective priority.
func (s *Sched_t) Prio(caller int, t *Tcb_t) (int, int) {
	tok := s.cs.Enter(caller)
	b, e := t.basepri, t.effpri
	s.cs.Exit(caller, tok)
	return b, e
}

// Setpri sets t's effective priority, requeueing it if READY. This is the
// elevation mechanism; SET-scheduling-params goes through Setbase.
func (s *Sched_t) Setpri(caller int, t *Tcb_t, npri int) {
	if npri < defs.PRI_HIGHEST || npri > defs.PRI_LOWEST {
		kpanic("bad elevation priority")
	}
	tok := s.cs.Enter(caller)
	if t.effpri != npri {
		if t.where == wh_runq {
			c := s.cpus[t.cpu]
			c.runq.remove(t)
			t.effpri = npri
			c.runq.push(t)
			if c.cur != nil && npri < c.cur.effpri {
				c.resched = true
			}
		} else {
			t.effpri = npri
		}
	}
	s.cs.Exit(caller, tok)
}

// Setbase changes the scheduling priority a thread reverts to; the
// effective priority follows unless an elevation is in force.
func (s *Sched_t) Setbase(caller int, t *Tcb_t, npri int) defs.Err_t {
	if npri < defs.PRI_HIGHEST || npri > defs.PRI_LOWEST {
		return -defs.EINVAL
	}
	tok := s.cs.Enter(caller)
	elevated := t.effpri != t.basepri
	t.basepri = npri
	if !elevated && t.effpri != npri {
		if t.where == wh_runq {
			c := s.cpus[t.cpu]
			c.runq.remove(t)
			t.effpri = npri
			c.runq.push(t)
			if c.cur != nil && npri < c.cur.effpri {
				c.resched = true
			}
		} else {
			t.effpri = npri
		}
	}
	s.cs.Exit(caller, tok)
	return 0
}

// the timer handler; runs at every IRQ_TIMER on the interrupted CPU
func (c *Cpu_t) tick() {
	s := c.s
	tok := s.cs.Enter(c.Id)
	atomic.AddUint64(&c.ticks, 1)
	c.Tickcnt.Inc()

	// wake due sleepers, preserving insertion order among equal deadlines
	if len(c.timerq) > 0 {
		rem := c.timerq[:0]
		for _, t := range c.timerq {
			if t.deadline <= c.ticks {
				if t.state != defs.TSLEEPING || t.where != wh_timerq {
					kpanic("corrupt timer queue")
				}
				t.state = defs.TREADY
				t.where = wh_runq
				c.runq.push(t)
				if c.cur != nil && t.effpri < c.cur.effpri {
					c.resched = true
				}
			} else {
				rem = append(rem, t)
			}
		}
		c.timerq = rem
	}

	if c.cur != nil && c.cur != c.idlet {
		c.cur.slice--
		if c.cur.slice <= 0 {
			c.resched = true
		}
	}
	s.cs.Exit(c.Id, tok)
	s.ic.Eoi(c.Id)
}
