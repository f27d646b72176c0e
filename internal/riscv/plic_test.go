package riscv

import "testing"

func TestPLICClaimReturnsHighestPriorityPending(t *testing.T) {
	p := NewPLIC()
	p.Store(4*1, 4, 5)  // source 1 priority 5
	p.Store(4*2, 4, 10) // source 2 priority 10
	p.Store(plicEnableBase, 4, 0b110) // enable sources 1 and 2

	p.Raise(1)
	p.Raise(2)

	got := p.Claim()
	if got != 2 {
		t.Fatalf("Claim() = %d, want 2 (higher priority)", got)
	}

	// source 2 is now in-service; next claim should return source 1.
	got = p.Claim()
	if got != 1 {
		t.Fatalf("second Claim() = %d, want 1", got)
	}

	if got := p.Claim(); got != 0 {
		t.Fatalf("third Claim() = %d, want 0 (nothing left pending)", got)
	}
}

func TestPLICDisabledSourceNeverClaimed(t *testing.T) {
	p := NewPLIC()
	p.Store(4*3, 4, 1) // source 3 priority 1, not enabled
	p.Raise(3)

	if p.Pending() {
		t.Fatalf("disabled source should not report Pending")
	}
	if got := p.Claim(); got != 0 {
		t.Fatalf("Claim() = %d, want 0 for a disabled source", got)
	}
}

func TestPLICThresholdMasksLowPriority(t *testing.T) {
	p := NewPLIC()
	p.Store(4*1, 4, 3)
	p.Store(plicEnableBase, 4, 0b10)
	p.Store(plicContextBase+plicThresholdOffset, 4, 5)
	p.Raise(1)

	if p.Pending() {
		t.Fatalf("priority 3 source should be masked by threshold 5")
	}
}

func TestPLICCompleteAllowsReclaim(t *testing.T) {
	p := NewPLIC()
	p.Store(4*1, 4, 1)
	p.Store(plicEnableBase, 4, 0b10)
	p.Raise(1)

	if got := p.Claim(); got != 1 {
		t.Fatalf("Claim() = %d, want 1", got)
	}
	p.Raise(1) // device re-asserts while still in service
	if got := p.Claim(); got != 0 {
		t.Fatalf("re-raised source still in service should not be claimable: got %d", got)
	}

	p.Store(plicContextBase+plicClaimOffset, 4, 1) // complete
	if got := p.Claim(); got != 1 {
		t.Fatalf("after Complete, source should be claimable again, got %d", got)
	}
}
