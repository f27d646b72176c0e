package riscv

import "testing"

func TestDRAMLittleEndianRoundTrip(t *testing.T) {
	d := NewDRAM(64)
	if err := d.Store(0, 8, 0x0102030405060708); err != nil {
		t.Fatalf("store: %v", err)
	}
	if d.mem[0] != 0x08 || d.mem[7] != 0x01 {
		t.Fatalf("bytes not little-endian: %x", d.mem[:8])
	}
	v, err := d.Load(0, 8)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if v != 0x0102030405060708 {
		t.Fatalf("load = %#x, want round-trip value", v)
	}
}

func TestBusDispatchesToDeviceByAddressRange(t *testing.T) {
	m := newTestMachine(t)

	if err := m.Bus.Store(CLINTBase+clintMtimecmpOffset, 8, 500); err != nil {
		t.Fatalf("store to CLINT: %v", err)
	}
	v, err := m.Bus.Load(CLINTBase+clintMtimecmpOffset, 8)
	if err != nil {
		t.Fatalf("load from CLINT: %v", err)
	}
	if v != 500 {
		t.Fatalf("CLINT mtimecmp = %d, want 500", v)
	}
}

func TestBusFaultsOnUnmappedAddress(t *testing.T) {
	m := newTestMachine(t)

	_, err := m.Bus.Load(0x5000_0000, 8) // gap between UART/virtio and DRAM
	if err == nil {
		t.Fatalf("expected a load access fault for an unmapped address")
	}
	var ex *Exception
	if ex2, ok := err.(*Exception); ok {
		ex = ex2
	}
	if ex == nil || ex.Cause != CauseLoadAccessFault {
		t.Fatalf("err = %v, want LoadAccessFault", err)
	}
}
