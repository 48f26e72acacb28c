package defs

// syscall numbers. the dispatch table is sized by SYS_LAST; ids past it are
// rejected with -ENOSYS and never executed.
const (
	SYS_GETPID   = 0
	SYS_GETPPID  = 1
	SYS_GETTID   = 2
	SYS_FORK     = 3
	SYS_EXIT     = 4
	SYS_THREXIT  = 5
	SYS_WAIT     = 6
	SYS_SLEEP    = 7
	SYS_YIELD    = 8
	SYS_FUTEX    = 9
	SYS_GETSCHED = 10
	SYS_SETSCHED = 11
	SYS_MUTEX    = 12
	SYS_SEM      = 13
	SYS_KILL     = 14
	SYS_INFO     = 15
	SYS_LAST     = SYS_INFO

	// SYS_FORK flags
	FORK_PROCESS = 0x1
	FORK_THREAD  = 0x2

	// SYS_WAIT options and pseudo-pids
	WAIT_ANY = -1
	WNOHANG  = 2
	// wait for a thread of the calling process instead of a child process
	WTHREAD = 4

	// SYS_FUTEX ops
	FUTEX_WAIT = 1
	FUTEX_WAKE = 2

	// SYS_MUTEX ops
	MUTEX_CREATE  = 1
	MUTEX_DESTROY = 2
	MUTEX_LOCK    = 3
	MUTEX_UNLOCK  = 4

	// SYS_SEM ops
	SEM_CREATE  = 1
	SEM_DESTROY = 2
	SEM_PEND    = 3
	SEM_POST    = 4

	// SYS_INFO selectors
	SINFO_IDLES    = 0
	SINFO_SWITCHES = 1
	SINFO_STEALS   = 2
	SINFO_UPTIME   = 3
	SINFO_PID      = 4
	SINFO_TID      = 5
)

// Tf_t is the saved user context a syscall traps in with: the syscall number
// and arguments on entry, the return value in Rax on the way out. Obj carries
// the one non-integer argument some syscalls take (a continuation for fork,
// the status record wait fills in).
type Tf_t struct {
	Sysno int
	Args  [5]int
	Obj   interface{}
	Rax   int
}
