package limits

import "sync/atomic"
import "unsafe"

type Sysatomic_t int64

type Syslimit_t struct {
	// total threads, kernel and user
	Systhreads int
	// total processes
	Sysprocs int
	// kernel stack bytes outstanding
	Stackmem Sysatomic_t
	// address-space pages outstanding
	Aspages Sysatomic_t
	// futex words with live wait queues
	Futexes int
	// mutexes/semaphores per process
	Noprim uint
}

var Syslimit *Syslimit_t = MkSysLimit()

func MkSysLimit() *Syslimit_t {
	return &Syslimit_t{
		Systhreads: 1e4,
		Sysprocs:   1e4,
		// 64MB of kernel stacks
		Stackmem: 1 << 26,
		Aspages:  1 << 16,
		Futexes:  1024,
		Noprim:   1 << 10,
	}
}

func (s *Sysatomic_t) _aptr() *int64 {
	return (*int64)(unsafe.Pointer(s))
}

func (s *Sysatomic_t) Given(_n uint) {
	n := int64(_n)
	if n < 0 {
		panic("too mighty")
	}
	atomic.AddInt64(s._aptr(), n)
}

// returns false if the budget has been exhausted.
func (s *Sysatomic_t) Taken(_n uint) bool {
	n := int64(_n)
	if n < 0 {
		panic("too mighty")
	}
	g := atomic.AddInt64(s._aptr(), -n)
	if g >= 0 {
		return true
	}
	atomic.AddInt64(s._aptr(), n)
	return false
}

func (s *Sysatomic_t) Take() bool {
	return s.Taken(1)
}

func (s *Sysatomic_t) Give() {
	s.Given(1)
}
