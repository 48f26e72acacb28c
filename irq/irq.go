// Package irq is the interrupt layer the scheduler consumes: handler
// registration, raising a line, per-CPU local disable/restore, and
// end-of-interrupt. Raising latches the line in a per-CPU pending word;
// the line is serviced on the target CPU the next time its interrupts are
// enabled and it passes a poll point (dispatch loop, critical-section exit,
// syscall entry). A handler runs with local interrupts disabled and must
// acknowledge with Eoi before further lines are delivered, like a local
// APIC's in-service bit.
package irq

import "fmt"

import "utk/defs"
import "utk/spin"
import "utk/stats"

type Handler_t func(cpu int)

type percpu_t struct {
	l       spin.Lock_t
	enabled bool
	pending uint32
	// an irq was dispatched and Eoi has not been called yet
	ineoi bool
}

type Ctl_t struct {
	ncpu     int
	hl       spin.Lock_t
	handlers [defs.NIRQLINES]Handler_t
	cpus     []percpu_t
	Nirqs    [defs.NIRQLINES]stats.Counter_t
}

func Mkctl(ncpu int) *Ctl_t {
	if ncpu < 1 {
		panic("no cpus")
	}
	c := &Ctl_t{ncpu: ncpu}
	c.cpus = make([]percpu_t, ncpu)
	for i := range c.cpus {
		c.cpus[i].enabled = true
	}
	return c
}

func (c *Ctl_t) Ncpu() int {
	return c.ncpu
}

func (c *Ctl_t) badline(line int) bool {
	return line < 0 || line >= defs.NIRQLINES
}

func (c *Ctl_t) Register(line int, h Handler_t) {
	if c.badline(line) {
		panic(fmt.Sprintf("bad irq line %d", line))
	}
	c.hl.Acquire()
	if c.handlers[line] != nil {
		c.hl.Release()
		panic(fmt.Sprintf("irq line %d already registered", line))
	}
	c.handlers[line] = h
	c.hl.Release()
}

// Raise latches line on cpu. Safe from any context, including another CPU's
// interrupt handlers.
func (c *Ctl_t) Raise(cpu, line int) {
	if c.badline(line) {
		panic(fmt.Sprintf("bad irq line %d", line))
	}
	p := &c.cpus[cpu]
	p.l.Acquire()
	p.pending |= 1 << uint(line)
	p.l.Release()
}

// Raiseall latches line on every cpu.
func (c *Ctl_t) Raiseall(line int) {
	for i := 0; i < c.ncpu; i++ {
		c.Raise(i, line)
	}
}

// Disable turns off local interrupt delivery for cpu and returns the prior
// flag. cpu < 0 names a context with no CPU identity (kernel daemons); for
// those there is nothing to disable.
func (c *Ctl_t) Disable(cpu int) bool {
	if cpu < 0 {
		return false
	}
	p := &c.cpus[cpu]
	p.l.Acquire()
	was := p.enabled
	p.enabled = false
	p.l.Release()
	return was
}

// Restore undoes a Disable with its returned flag and services anything that
// latched in between.
func (c *Ctl_t) Restore(cpu int, was bool) {
	if cpu < 0 || !was {
		return
	}
	p := &c.cpus[cpu]
	p.l.Acquire()
	p.enabled = true
	p.l.Release()
	c.Poll(cpu)
}

func (c *Ctl_t) Enabled(cpu int) bool {
	if cpu < 0 {
		return false
	}
	p := &c.cpus[cpu]
	p.l.Acquire()
	ret := p.enabled
	p.l.Release()
	return ret
}

// Eoi acknowledges the interrupt the calling CPU is servicing.
func (c *Ctl_t) Eoi(cpu int) {
	p := &c.cpus[cpu]
	p.l.Acquire()
	if !p.ineoi {
		p.l.Release()
		panic("eoi without irq in service")
	}
	p.ineoi = false
	p.l.Release()
}

// Poll services latched lines on cpu. Must be called on the CPU's own
// carrier (its dispatch loop or its current thread at a kernel entry).
func (c *Ctl_t) Poll(cpu int) {
	p := &c.cpus[cpu]
	for {
		p.l.Acquire()
		if !p.enabled || p.ineoi || p.pending == 0 {
			p.l.Release()
			return
		}
		line := 0
		for p.pending&(1<<uint(line)) == 0 {
			line++
		}
		p.pending &^= 1 << uint(line)
		p.enabled = false
		p.ineoi = true
		p.l.Release()

		c.hl.Acquire()
		h := c.handlers[line]
		c.hl.Release()
		if h == nil {
			panic(fmt.Sprintf("unregistered irq line %d", line))
		}
		c.Nirqs[line].Inc()
		h(cpu)

		p.l.Acquire()
		p.enabled = true
		p.l.Release()
	}
}
