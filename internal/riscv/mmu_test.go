package riscv

import "testing"

// writePTE places a single Sv39 PTE at ppn*pageSize + index*8.
func writePTE(d *DRAM, ppn uint64, index uint64, pte uint64) {
	off := ppn*sv39PageSize + index*sv39PteSize - DRAMBase
	byteOrder.PutUint64(d.Bytes()[off:], pte)
}

func TestTranslateLevel0LeafUsesFullPTEPPN(t *testing.T) {
	m := newTestMachine(t)
	h := m.Hart

	// Root table at physical page DRAMBase/pageSize (ppn = DRAMBase>>12).
	rootPPN := DRAMBase >> 12
	l1PPN := rootPPN + 1
	l0PPN := rootPPN + 2
	leafPPN := rootPPN + 3

	va := uint64(0x0000_0040_1000) // vpn2=0, vpn1=2, vpn0=1, offset=0
	vpn2 := (va >> 30) & 0x1ff
	vpn1 := (va >> 21) & 0x1ff
	vpn0 := (va >> 12) & 0x1ff

	writePTE(m.DRAM, rootPPN, vpn2, (l1PPN<<ptePPNShift)|pteV)
	writePTE(m.DRAM, l1PPN, vpn1, (l0PPN<<ptePPNShift)|pteV)
	writePTE(m.DRAM, l0PPN, vpn0, (leafPPN<<ptePPNShift)|pteV|pteR|pteW|pteX|pteU|pteA|pteD)

	h.CSR.setRaw(CSRSatp, (uint64(satpModeSv39)<<60)|rootPPN)
	h.Priv = PrivUser
	h.CSR.setRaw(CSRMstatus, 0)

	phys, err := h.translate(va, accessLoad)
	if err != nil {
		t.Fatalf("translate: %v", err)
	}

	want := (leafPPN << 12) | (va & 0xfff)
	if phys != want {
		t.Fatalf("phys = %#x, want %#x (leaf PPN with page offset, not VA VPN bits)", phys, want)
	}
}

func TestTranslateLevel1SuperpagePassesThroughVPN0(t *testing.T) {
	m := newTestMachine(t)
	h := m.Hart

	rootPPN := DRAMBase >> 12
	l1PPN := rootPPN + 1
	superPPN := rootPPN + 0x400 // aligned so low 9 PPN bits are zero

	va := uint64(0x0000_0040_1800) // vpn2=0, vpn1=2, vpn0=1, offset=0x800
	vpn2 := (va >> 30) & 0x1ff
	vpn1 := (va >> 21) & 0x1ff

	writePTE(m.DRAM, rootPPN, vpn2, (l1PPN<<ptePPNShift)|pteV)
	writePTE(m.DRAM, l1PPN, vpn1, (superPPN<<ptePPNShift)|pteV|pteR|pteW|pteX|pteU|pteA|pteD)

	h.CSR.setRaw(CSRSatp, (uint64(satpModeSv39)<<60)|rootPPN)
	h.Priv = PrivUser
	h.CSR.setRaw(CSRMstatus, 0)

	phys, err := h.translate(va, accessLoad)
	if err != nil {
		t.Fatalf("translate: %v", err)
	}

	vpn0 := (va >> 12) & 0x1ff
	want := (superPPN << 12) | (vpn0 << 12) | (va & 0xfff)
	if phys != want {
		t.Fatalf("phys = %#x, want %#x (superpage PPN plus passed-through vpn0)", phys, want)
	}
}
