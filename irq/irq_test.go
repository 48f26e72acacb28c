package irq

import "testing"

import "utk/defs"

func TestDeliver(t *testing.T) {
	ic := Mkctl(1)
	fired := 0
	ic.Register(defs.IRQ_SOFT0, func(cpu int) {
		fired++
		ic.Eoi(cpu)
	})
	ic.Raise(0, defs.IRQ_SOFT0)
	if fired != 0 {
		t.Fatalf("delivered without a poll")
	}
	ic.Poll(0)
	if fired != 1 {
		t.Fatalf("expected 1 delivery, got %v", fired)
	}
	ic.Poll(0)
	if fired != 1 {
		t.Fatalf("redelivered a serviced irq")
	}
}

func TestLatchIsLevel(t *testing.T) {
	ic := Mkctl(1)
	fired := 0
	ic.Register(defs.IRQ_SOFT0, func(cpu int) {
		fired++
		ic.Eoi(cpu)
	})
	// raising twice before the poll still delivers once
	ic.Raise(0, defs.IRQ_SOFT0)
	ic.Raise(0, defs.IRQ_SOFT0)
	ic.Poll(0)
	if fired != 1 {
		t.Fatalf("expected 1 delivery, got %v", fired)
	}
}

func TestDisableDefers(t *testing.T) {
	ic := Mkctl(1)
	fired := 0
	ic.Register(defs.IRQ_SOFT0, func(cpu int) {
		fired++
		ic.Eoi(cpu)
	})
	fl := ic.Disable(0)
	if !fl {
		t.Fatalf("interrupts should start enabled")
	}
	ic.Raise(0, defs.IRQ_SOFT0)
	ic.Poll(0)
	if fired != 0 {
		t.Fatalf("delivered while disabled")
	}
	ic.Restore(0, fl)
	if fired != 1 {
		t.Fatalf("restore did not service the latched irq")
	}
}

func TestNestedDisable(t *testing.T) {
	ic := Mkctl(1)
	fired := 0
	ic.Register(defs.IRQ_SOFT1, func(cpu int) {
		fired++
		ic.Eoi(cpu)
	})
	f1 := ic.Disable(0)
	f2 := ic.Disable(0)
	if f2 {
		t.Fatalf("inner disable saw enabled interrupts")
	}
	ic.Raise(0, defs.IRQ_SOFT1)
	ic.Restore(0, f2)
	if fired != 0 {
		t.Fatalf("inner restore enabled interrupts")
	}
	ic.Restore(0, f1)
	if fired != 1 {
		t.Fatalf("outer restore did not service the latched irq")
	}
}

func TestPriorityOrder(t *testing.T) {
	ic := Mkctl(1)
	var order []int
	for _, line := range []int{defs.IRQ_SOFT0, defs.IRQ_SOFT1} {
		l := line
		ic.Register(l, func(cpu int) {
			order = append(order, l)
			ic.Eoi(cpu)
		})
	}
	ic.Raise(0, defs.IRQ_SOFT1)
	ic.Raise(0, defs.IRQ_SOFT0)
	ic.Poll(0)
	if len(order) != 2 || order[0] != defs.IRQ_SOFT0 ||
		order[1] != defs.IRQ_SOFT1 {
		t.Fatalf("bad service order: %v", order)
	}
}

func TestHandlerMasksItself(t *testing.T) {
	ic := Mkctl(1)
	nested := false
	fired := 0
	ic.Register(defs.IRQ_SOFT0, func(cpu int) {
		fired++
		if fired == 1 {
			ic.Raise(cpu, defs.IRQ_SOFT0)
			// the poll must not reenter before the eoi
			ic.Poll(cpu)
			if fired != 1 {
				nested = true
			}
		}
		ic.Eoi(cpu)
	})
	ic.Raise(0, defs.IRQ_SOFT0)
	ic.Poll(0)
	if nested {
		t.Fatalf("handler reentered before eoi")
	}
	if fired != 2 {
		t.Fatalf("relatched irq not serviced after eoi: %v", fired)
	}
}

func TestDupRegister(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("duplicate register did not panic")
		}
	}()
	ic := Mkctl(1)
	h := func(cpu int) { ic.Eoi(cpu) }
	ic.Register(defs.IRQ_SOFT0, h)
	ic.Register(defs.IRQ_SOFT0, h)
}
