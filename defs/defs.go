package defs

type Tid_t int32

// thread states
type Tstate_t int

const (
	TNEW Tstate_t = iota
	TREADY
	TRUNNING
	TBLOCKED
	TSLEEPING
	TTERMINATED
)

func (s Tstate_t) String() string {
	switch s {
	case TNEW:
		return "new"
	case TREADY:
		return "ready"
	case TRUNNING:
		return "running"
	case TBLOCKED:
		return "blocked"
	case TSLEEPING:
		return "sleeping"
	case TTERMINATED:
		return "terminated"
	}
	return "bad state"
}

// why a thread terminated; valid only once the thread is TTERMINATED
type Cause_t int

const (
	CAUSE_NORMAL Cause_t = iota
	CAUSE_FAULT
	CAUSE_KILLED
)

func (c Cause_t) String() string {
	switch c {
	case CAUSE_NORMAL:
		return "normal"
	case CAUSE_FAULT:
		return "fault"
	case CAUSE_KILLED:
		return "killed"
	}
	return "bad cause"
}

// priorities; lower value runs first. PRI_IDLE is reserved for the per-CPU
// idle threads and cannot be requested.
const (
	PRI_HIGHEST = 0
	PRI_DEFAULT = 31
	PRI_LOWEST  = 62
	PRI_IDLE    = 63
	NPRI        = 64
)

// ticks a thread runs before the dispatcher prefers its queue siblings
const TIMESLICE = 5

// interrupt lines
const (
	IRQ_TIMER = 0
	IRQ_SOFT0 = 1
	IRQ_SOFT1 = 2
	NIRQLINES = 16
)

const (
	EXITED   = 1 << 10
	SIGNALED = 1 << 11
	SIGSHIFT = 16

	SIGKILL = 9
	SIGFPE  = 8
)

func Mkexitsig(sig int) int {
	if sig < 0 || sig > 32 {
		panic("bad sig")
	}
	return sig << SIGSHIFT
}

func Wifexited(status int) bool {
	return status&EXITED != 0
}

func Wexitstatus(status int) int {
	return status & 0xff
}

func Wifsignaled(status int) bool {
	return status&SIGNALED != 0
}

func Wtermsig(status int) int {
	return (status >> SIGSHIFT) & 0x1f
}
