package main

import "fmt"
import "time"

import "utk/defs"
import "utk/irq"
import "utk/mem"
import "utk/proc"
import "utk/sched"
import "utk/sys"

// the timer device: a periodic interrupt on every CPU
func timerloop(ic *irq.Ctl_t, done chan bool) {
	tk := time.NewTicker(10 * time.Millisecond)
	defer tk.Stop()
	for {
		select {
		case <-done:
			return
		case <-tk.C:
			ic.Raiseall(defs.IRQ_TIMER)
		}
	}
}

func initprog(u *proc.Uenv_t, rax int) int {
	fmt.Printf("init: pid %v\n", u.Getpid())
	return u.Fork(func(u *proc.Uenv_t, rax int) int {
		if rax < 0 {
			fmt.Printf("init: fork failed: %v\n", rax)
			return 1
		}
		if rax == 0 {
			u.Sleep(2)
			fmt.Printf("child: pid %v ppid %v\n", u.Getpid(), u.Getppid())
			return 42
		}
		ws, ret := u.Waitpid(rax, 0)
		if ret < 0 {
			fmt.Printf("init: wait failed: %v\n", ret)
			return 1
		}
		fmt.Printf("init: reaped pid %v status %v cause %v\n", ws.Id,
			defs.Wexitstatus(ws.Status), ws.Cause)
		return 0
	})
}

func main() {
	ncpu := 2
	ic := irq.Mkctl(ncpu)
	s := sched.Mksched(ncpu, ic, mem.Mkmem())
	sc := sys.MkSyscall(s)

	p, err := sc.Proc_start("init", defs.PRI_DEFAULT, initprog)
	if err != 0 {
		panic(fmt.Sprintf("cannot start init: %v", err))
	}

	done := make(chan bool)
	go timerloop(ic, done)
	s.Start()

	for {
		if _, ok := proc.Proc_check(p.Pid); !ok {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	close(done)
	s.Halt()

	for i := 0; i < s.Ncpu(); i++ {
		c := s.Cpu(i)
		fmt.Printf("cpu %v: %v switches, %v steals, %v idles, %v ticks\n",
			i, c.Switches.Read(), c.Steals.Read(), c.Idles.Read(),
			c.Ticks())
	}
}
