// Lock-free readers over per-bucket locked writers; the pid table is read on
// every syscall that names a process but written only at fork/exit.
package hashtable

import "sync"
import "sync/atomic"
import "unsafe"

type elem_t struct {
	key   int32
	value interface{}
	next  *elem_t
}

type bucket_t struct {
	sync.Mutex
	first *elem_t
}

type Hashtable_t struct {
	table []*bucket_t
}

func MkHash(size int) *Hashtable_t {
	ht := &Hashtable_t{}
	ht.table = make([]*bucket_t, size)
	for i := range ht.table {
		ht.table[i] = &bucket_t{}
	}
	return ht
}

func khash(key int32) uint32 {
	return uint32(2654435761) * uint32(key)
}

func (ht *Hashtable_t) bucket(key int32) *bucket_t {
	return ht.table[int(khash(key)%uint32(len(ht.table)))]
}

func (ht *Hashtable_t) Get(key int32) (interface{}, bool) {
	b := ht.bucket(key)
	for e := b.first; e != nil; e = loadptr(&e.next) {
		if e.key == key {
			return e.value, true
		}
	}
	return nil, false
}

func (ht *Hashtable_t) Set(key int32, value interface{}) {
	b := ht.bucket(key)
	b.Lock()
	defer b.Unlock()

	for e := b.first; e != nil; e = e.next {
		if e.key == key {
			e.value = value
			return
		}
	}
	n := &elem_t{key: key, value: value, next: b.first}
	storeptr(&b.first, n)
}

func (ht *Hashtable_t) Del(key int32) {
	b := ht.bucket(key)
	b.Lock()
	defer b.Unlock()

	var last *elem_t
	for e := b.first; e != nil; e = e.next {
		if e.key == key {
			if last == nil {
				storeptr(&b.first, e.next)
			} else {
				storeptr(&last.next, e.next)
			}
			return
		}
		last = e
	}
	panic("del of non-existing key")
}

// Iter may execute concurrently with lookups, inserts, and deletes. f
// returning false stops the iteration.
func (ht *Hashtable_t) Iter(f func(int32, interface{}) bool) {
	for _, b := range ht.table {
		for e := loadptr(&b.first); e != nil; e = loadptr(&e.next) {
			if !f(e.key, e.value) {
				return
			}
		}
	}
}

func loadptr(e **elem_t) *elem_t {
	ptr := (*unsafe.Pointer)(unsafe.Pointer(e))
	p := atomic.LoadPointer(ptr)
	return (*elem_t)(unsafe.Pointer(p))
}

func storeptr(p **elem_t, n *elem_t) {
	ptr := (*unsafe.Pointer)(unsafe.Pointer(p))
	v := (unsafe.Pointer)(n)
	atomic.StorePointer(ptr, v)
}
