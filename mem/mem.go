// Package mem is the slice of memory management the scheduler and process
// layer consume: kernel-stack allocation against a global budget, and
// refcounted address spaces whose pages are shared copy-on-write across
// fork. Pages hold 32-bit words; user reads and writes are word-sized and
// word-atomic. The identity of the backing page doubles as the physical
// address futexes key on.
package mem

import "sync/atomic"
import "unsafe"

import "utk/defs"
import "utk/limits"
import "utk/spin"

const (
	PGSIZE  = 4096
	PGWORDS = PGSIZE / 4
	PGSHIFT = 12
)

type Kstack_t struct {
	mem   []uint8
	freed uint32
}

func (ks *Kstack_t) Size() int {
	return len(ks.mem)
}

type Mem_t struct {
}

func Mkmem() *Mem_t {
	return &Mem_t{}
}

// Alloc_kstack returns an exclusively owned stack block or ENOMEM once the
// system-wide stack budget is exhausted. No partial state on failure.
func (m *Mem_t) Alloc_kstack(sz int) (*Kstack_t, defs.Err_t) {
	if sz <= 0 {
		return nil, -defs.EINVAL
	}
	if !limits.Syslimit.Stackmem.Taken(uint(sz)) {
		return nil, -defs.ENOMEM
	}
	return &Kstack_t{mem: make([]uint8, sz)}, 0
}

func (m *Mem_t) Free_kstack(ks *Kstack_t) {
	if !atomic.CompareAndSwapUint32(&ks.freed, 0, 1) {
		panic("kstack double free")
	}
	limits.Syslimit.Stackmem.Given(uint(len(ks.mem)))
	ks.mem = nil
}

type Page_t struct {
	ref   int32
	words [PGWORDS]uint32
}

type As_t struct {
	l     spin.Lock_t
	pages map[int]*Page_t
	// threads referencing this space
	ref   int32
	freed bool
	m     *Mem_t
}

func (m *Mem_t) Mkas() *As_t {
	return &As_t{pages: make(map[int]*Page_t), ref: 1, m: m}
}

func (a *As_t) Map(pgn int) defs.Err_t {
	a.l.Acquire()
	defer a.l.Release()
	if a.freed {
		panic("map on freed as")
	}
	if _, ok := a.pages[pgn]; ok {
		return 0
	}
	if !limits.Syslimit.Aspages.Take() {
		return -defs.ENOMEM
	}
	a.pages[pgn] = &Page_t{ref: 1}
	return 0
}

// Dup is fork's address-space duplication: the new space references the same
// pages, each marked shared; the first write on either side copies.
func (a *As_t) Dup() (*As_t, defs.Err_t) {
	a.l.Acquire()
	defer a.l.Release()
	if a.freed {
		panic("dup of freed as")
	}
	na := &As_t{pages: make(map[int]*Page_t, len(a.pages)), ref: 1, m: a.m}
	for pgn, pg := range a.pages {
		atomic.AddInt32(&pg.ref, 1)
		na.pages[pgn] = pg
	}
	return na, 0
}

func (a *As_t) page(va int) (*Page_t, int, defs.Err_t) {
	if va < 0 || va&0x3 != 0 {
		return nil, 0, -defs.EFAULT
	}
	pg, ok := a.pages[va>>PGSHIFT]
	if !ok {
		return nil, 0, -defs.EFAULT
	}
	return pg, (va & (PGSIZE - 1)) >> 2, 0
}

func (a *As_t) Readw(va int) (uint32, defs.Err_t) {
	a.l.Acquire()
	defer a.l.Release()
	pg, idx, err := a.page(va)
	if err != 0 {
		return 0, err
	}
	return atomic.LoadUint32(&pg.words[idx]), 0
}

func (a *As_t) Writew(va int, v uint32) defs.Err_t {
	a.l.Acquire()
	defer a.l.Release()
	pg, idx, err := a.page(va)
	if err != 0 {
		return err
	}
	if atomic.LoadInt32(&pg.ref) > 1 {
		// shared page; copy before writing. the copy is safe because
		// nobody writes a page in place while it is shared.
		if !limits.Syslimit.Aspages.Take() {
			return -defs.ENOMEM
		}
		np := &Page_t{ref: 1}
		for i := range pg.words {
			np.words[i] = atomic.LoadUint32(&pg.words[i])
		}
		if atomic.AddInt32(&pg.ref, -1) == 0 {
			limits.Syslimit.Aspages.Give()
		}
		a.pages[va>>PGSHIFT] = np
		pg = np
	}
	atomic.StoreUint32(&pg.words[idx], v)
	return 0
}

// Pgid returns the identity of the word backing va, the analogue of its
// physical address: two spaces sharing a COW page see the same id until one
// of them writes.
func (a *As_t) Pgid(va int) (uintptr, defs.Err_t) {
	a.l.Acquire()
	defer a.l.Release()
	pg, idx, err := a.page(va)
	if err != 0 {
		return 0, err
	}
	return uintptr(unsafe.Pointer(&pg.words[idx])), 0
}

func (a *As_t) Refup() {
	if atomic.AddInt32(&a.ref, 1) < 2 {
		panic("refup on dead as")
	}
}

// Refdown releases one thread's reference; the last reference frees the
// space and returns its pages to the budget.
func (a *As_t) Refdown() {
	ref := atomic.AddInt32(&a.ref, -1)
	if ref < 0 {
		panic("as over-unreffed")
	}
	if ref > 0 {
		return
	}
	a.l.Acquire()
	defer a.l.Release()
	if a.freed {
		panic("as double free")
	}
	a.freed = true
	for _, pg := range a.pages {
		if atomic.AddInt32(&pg.ref, -1) == 0 {
			limits.Syslimit.Aspages.Give()
		}
	}
	a.pages = nil
}
