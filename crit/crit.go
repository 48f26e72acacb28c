// Package crit is the composite primitive every piece of shared scheduler
// state is mutated under: local interrupts off, plus a spinlock against the
// other CPUs. Enter order is disable-then-lock and Exit order is
// unlock-then-restore, so an interrupt replayed by the restore can never run
// while the lock is held. On a single-CPU configuration the lock is
// uncontended from other CPUs but still excludes kernel daemons, which have
// no CPU identity and no interrupt flag to disable.
package crit

import "sync/atomic"

import "utk/irq"
import "utk/spin"

// holder value when the section is free
const nobody = -(1 << 30)

type Crit_t struct {
	ic *irq.Ctl_t
	l  spin.Lock_t
	// CPU currently inside, for reentry detection; same-CPU reentry is a
	// protocol violation that would otherwise deadlock silently
	holder int32
}

func Mkcrit(ic *irq.Ctl_t) *Crit_t {
	return &Crit_t{ic: ic, holder: nobody}
}

// Enter returns the token Exit needs: the prior interrupt flag of cpu.
// Callers with no CPU identity pass cpu < 0.
func (c *Crit_t) Enter(cpu int) bool {
	fl := c.ic.Disable(cpu)
	if cpu >= 0 && atomic.LoadInt32(&c.holder) == int32(cpu) {
		panic("critical section reentered")
	}
	c.l.Acquire()
	atomic.StoreInt32(&c.holder, int32(cpu))
	return fl
}

func (c *Crit_t) Exit(cpu int, fl bool) {
	if atomic.LoadInt32(&c.holder) == nobody {
		panic("exit of free critical section")
	}
	atomic.StoreInt32(&c.holder, nobody)
	c.l.Release()
	c.ic.Restore(cpu, fl)
}
