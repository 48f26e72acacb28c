package stats

import "reflect"
import "strconv"
import "strings"
import "sync/atomic"
import "unsafe"

const Stats = true

type Counter_t int64

func (c *Counter_t) Inc() {
	if Stats {
		n := (*int64)(unsafe.Pointer(c))
		atomic.AddInt64(n, 1)
	}
}

func (c *Counter_t) Add(m int64) {
	if Stats {
		n := (*int64)(unsafe.Pointer(c))
		atomic.AddInt64(n, m)
	}
}

func (c *Counter_t) Read() int64 {
	n := (*int64)(unsafe.Pointer(c))
	return atomic.LoadInt64(n)
}

func Stats2String(st interface{}) string {
	if !Stats {
		return ""
	}
	v := reflect.ValueOf(st)
	s := ""
	for i := 0; i < v.NumField(); i++ {
		t := v.Field(i).Type().String()
		if strings.HasSuffix(t, "Counter_t") {
			n := v.Field(i).Interface().(Counter_t)
			s += "\n\t#" + v.Type().Field(i).Name + ": " + strconv.FormatInt(int64(n), 10)
		}
	}
	return s + "\n"
}
