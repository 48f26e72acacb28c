// Package ksync has the blocking synchronization primitives: counting
// semaphores and mutexes with priority elevation. Both put waiters to sleep
// through the scheduler rather than spinning; their internal state is
// guarded by a per-primitive critical section.
package ksync

import "utk/crit"
import "utk/defs"
import "utk/sched"

type Sem_t struct {
	s       *sched.Sched_t
	c       *crit.Crit_t
	count   int
	waiters sched.Wlist_t
	dead    bool
}

func Mksem(s *sched.Sched_t, count int) (*Sem_t, defs.Err_t) {
	if count < 0 {
		return nil, -defs.EINVAL
	}
	return &Sem_t{s: s, c: crit.Mkcrit(s.Irqctl()), count: count}, 0
}

// Pend takes a unit, blocking while the count is zero. Units handed to
// woken waiters never pass through the count, so a sleeping pender cannot
// be overtaken by a late Trypend.
func (m *Sem_t) Pend(t *sched.Tcb_t) defs.Err_t {
	cpu := t.Cpuid()
	fl := m.c.Enter(cpu)
	if m.dead {
		m.c.Exit(cpu, fl)
		return -defs.EINVAL
	}
	if m.count > 0 {
		m.count--
		m.c.Exit(cpu, fl)
		return 0
	}
	m.s.Blockprep(t)
	m.waiters.Enq(t)
	m.c.Exit(cpu, fl)
	return defs.Err_t(m.s.Block(t))
}

// Trypend takes a unit only if one is immediately available.
func (m *Sem_t) Trypend(t *sched.Tcb_t) defs.Err_t {
	cpu := t.Cpuid()
	fl := m.c.Enter(cpu)
	if m.dead {
		m.c.Exit(cpu, fl)
		return -defs.EINVAL
	}
	if m.count == 0 {
		m.c.Exit(cpu, fl)
		return -defs.EAGAIN
	}
	m.count--
	m.c.Exit(cpu, fl)
	return 0
}

// Post releases a unit: the oldest waiter gets it directly, otherwise the
// count grows. cpu is the caller's CPU, -1 outside thread context.
func (m *Sem_t) Post(cpu int) defs.Err_t {
	fl := m.c.Enter(cpu)
	if m.dead {
		m.c.Exit(cpu, fl)
		return -defs.EINVAL
	}
	if w := m.waiters.Deq(); w != nil {
		m.s.Unblock(cpu, w, 0)
	} else {
		m.count++
	}
	m.c.Exit(cpu, fl)
	return 0
}

func (m *Sem_t) Destroy(cpu int) defs.Err_t {
	fl := m.c.Enter(cpu)
	if m.dead {
		m.c.Exit(cpu, fl)
		return -defs.EINVAL
	}
	if !m.waiters.Empty() {
		m.c.Exit(cpu, fl)
		return -defs.EBUSY
	}
	m.dead = true
	m.c.Exit(cpu, fl)
	return 0
}
