package ksync

import "utk/crit"
import "utk/defs"
import "utk/sched"

// Mutex_t is an ownership mutex with priority elevation: while a
// higher-priority thread waits, the holder runs at the waiter's priority,
// and reverts to the priority saved at acquire once it unlocks. Handoff is
// FIFO, directly to the oldest waiter.
type Mutex_t struct {
	s        *sched.Sched_t
	c        *crit.Crit_t
	owner    *sched.Tcb_t
	savedpri int
	waiters  sched.Wlist_t
	dead     bool
}

func Mkmutex(s *sched.Sched_t) *Mutex_t {
	return &Mutex_t{s: s, c: crit.Mkcrit(s.Irqctl())}
}

func (m *Mutex_t) Lock(t *sched.Tcb_t) defs.Err_t {
	cpu := t.Cpuid()
	fl := m.c.Enter(cpu)
	if m.dead {
		m.c.Exit(cpu, fl)
		return -defs.EINVAL
	}
	if m.owner == t {
		m.c.Exit(cpu, fl)
		return -defs.EDEADLK
	}
	if m.owner == nil {
		m.owner = t
		_, m.savedpri = m.s.Prio(cpu, t)
		m.c.Exit(cpu, fl)
		return 0
	}
	_, oe := m.s.Prio(cpu, m.owner)
	_, me := m.s.Prio(cpu, t)
	if me < oe {
		m.s.Setpri(cpu, m.owner, me)
	}
	m.s.Blockprep(t)
	m.waiters.Enq(t)
	m.c.Exit(cpu, fl)
	return defs.Err_t(m.s.Block(t))
}

func (m *Mutex_t) Unlock(t *sched.Tcb_t) defs.Err_t {
	cpu := t.Cpuid()
	fl := m.c.Enter(cpu)
	if m.dead {
		m.c.Exit(cpu, fl)
		return -defs.EINVAL
	}
	if m.owner != t {
		m.c.Exit(cpu, fl)
		return -defs.EPERM
	}
	_, te := m.s.Prio(cpu, t)
	if te != m.savedpri {
		m.s.Setpri(cpu, t, m.savedpri)
	}
	w := m.waiters.Deq()
	if w == nil {
		m.owner = nil
		m.c.Exit(cpu, fl)
		return 0
	}
	m.owner = w
	_, m.savedpri = m.s.Prio(cpu, w)
	// the new owner inherits any remaining higher-priority waiters
	best := m.savedpri
	m.waiters.Each(func(e *sched.Tcb_t) {
		_, ee := m.s.Prio(cpu, e)
		if ee < best {
			best = ee
		}
	})
	m.s.Unblock(cpu, w, 0)
	if best < m.savedpri {
		m.s.Setpri(cpu, w, best)
	}
	m.c.Exit(cpu, fl)
	return 0
}

func (m *Mutex_t) Destroy(cpu int) defs.Err_t {
	fl := m.c.Enter(cpu)
	if m.dead {
		m.c.Exit(cpu, fl)
		return -defs.EINVAL
	}
	if m.owner != nil || !m.waiters.Empty() {
		m.c.Exit(cpu, fl)
		return -defs.EBUSY
	}
	m.dead = true
	m.c.Exit(cpu, fl)
	return 0
}
