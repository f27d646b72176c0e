package riscv

import "testing"

func TestCLINTTimerInterruptFiresAtMtimecmp(t *testing.T) {
	c := NewCLINT()
	c.Store(clintMtimecmpOffset, 8, 100)

	timer, soft := c.Tick(50)
	if timer || soft {
		t.Fatalf("tick(50): timer=%v soft=%v, want both false", timer, soft)
	}

	timer, soft = c.Tick(60)
	if !timer {
		t.Fatalf("tick(110 total): timer should now be pending")
	}
	if soft {
		t.Fatalf("software interrupt should remain clear")
	}
}

func TestCLINTSoftwareInterruptFollowsMsip(t *testing.T) {
	c := NewCLINT()
	c.Store(clintMsipOffset, 4, 1)

	_, soft := c.Tick(1)
	if !soft {
		t.Fatalf("msip=1 should report a pending software interrupt")
	}

	c.Store(clintMsipOffset, 4, 0)
	_, soft = c.Tick(1)
	if soft {
		t.Fatalf("clearing msip should clear the software interrupt")
	}
}
