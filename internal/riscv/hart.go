// Package riscv implements a single-hart RV64I+M emulator with privileged
// machine/supervisor trap handling, CSRs, Sv39 address translation, and the
// memory-mapped device set needed to boot a flat binary image: DRAM, CLINT,
// PLIC, a 16550-compatible UART, and a single-queue virtio-block disk.
package riscv

import (
	"encoding/binary"
	"fmt"
)

// Memory map. Fixed, per the platform this emulator models.
const (
	CLINTBase  uint64 = 0x0200_0000
	CLINTSize  uint64 = 0x0001_0000
	PLICBase   uint64 = 0x0c00_0000
	PLICSize   uint64 = 0x0021_0000
	UARTBase   uint64 = 0x1000_0000
	UARTSize   uint64 = 0x0000_0100
	VirtioBase uint64 = 0x1000_1000
	VirtioSize uint64 = 0x0000_0100
	DRAMBase   uint64 = 0x8000_0000
	DefaultDRAMSize uint64 = 128 * 1024 * 1024
)

// Privilege levels.
const (
	PrivUser       uint8 = 0b00
	PrivSupervisor uint8 = 0b01
	PrivMachine    uint8 = 0b11
)

// Exception codes (the low bits of mcause/scause; bit 63 distinguishes an
// interrupt from an exception, see MaskInterruptBit).
const (
	CauseInstructionAddressMisaligned uint64 = 0
	CauseInstructionAccessFault       uint64 = 1
	CauseIllegalInstruction           uint64 = 2
	CauseBreakpoint                   uint64 = 3
	CauseLoadAddressMisaligned        uint64 = 4
	CauseLoadAccessFault              uint64 = 5
	CauseStoreAMOAddressMisaligned    uint64 = 6
	CauseStoreAMOAccessFault          uint64 = 7
	CauseEcallFromUMode               uint64 = 8
	CauseEcallFromSMode               uint64 = 9
	CauseEcallFromMMode               uint64 = 11
	CauseInstructionPageFault         uint64 = 12
	CauseLoadPageFault                uint64 = 13
	CauseStoreAMOPageFault            uint64 = 15
)

// Interrupt codes, pre-shifted with the interrupt bit, in the priority order
// handed to CheckInterrupt: MEI, MSI, MTI, SEI, SSI, STI.
const (
	MaskInterruptBit uint64 = 1 << 63

	CauseMachineExternalInterrupt    = MaskInterruptBit | 11
	CauseMachineSoftwareInterrupt    = MaskInterruptBit | 3
	CauseMachineTimerInterrupt       = MaskInterruptBit | 7
	CauseSupervisorExternalInterrupt = MaskInterruptBit | 9
	CauseSupervisorSoftwareInterrupt = MaskInterruptBit | 1
	CauseSupervisorTimerInterrupt    = MaskInterruptBit | 5
)

// Exception carries a trap cause and its associated trap value (tval): the
// faulting instruction word for illegal instructions, the faulting address
// for access/page faults, or 0 where the cause defines none.
type Exception struct {
	Cause uint64
	Tval  uint64
}

func (e *Exception) Error() string {
	return fmt.Sprintf("exception: cause=%#x tval=%#x", e.Cause, e.Tval)
}

// raise builds an *Exception for the given cause/tval, for use as an error
// return from decode/execute helpers.
func raise(cause, tval uint64) error {
	return &Exception{Cause: cause, Tval: tval}
}

// IsFatal reports whether this exception should terminate the run loop
// rather than be delivered as a trap. Per the design note on page-fault
// fatality, only an access fault raised against an address outside any
// mapped range during instruction fetch is fatal; every other exception
// (including page faults) is handled via HandleTrap and execution resumes.
func (e *Exception) IsFatal(duringFetch bool) bool {
	if !duringFetch {
		return false
	}
	switch e.Cause {
	case CauseInstructionAccessFault, CauseLoadAccessFault, CauseStoreAMOAccessFault:
		return true
	default:
		return false
	}
}

var byteOrder = binary.LittleEndian

// Hart holds all per-hart architectural state: integer registers, PC,
// current privilege, the CSR file, and the TLB-free Sv39 walker state.
type Hart struct {
	X  [32]uint64
	PC uint64

	Priv uint8

	CSR CSRFile

	Bus *Bus

	// WFI is set by the "wfi" instruction; Step skips fetch/execute while
	// set and clears it once an interrupt becomes pending.
	WFI bool
}

// NewHart creates a hart wired to bus, with PC and sp (x2) initialized per
// the fixed boot convention: PC = DRAM_BASE, sp = DRAM_BASE + ramSize.
func NewHart(bus *Bus, ramSize uint64) *Hart {
	h := &Hart{Bus: bus, Priv: PrivMachine}
	h.CSR.init()
	h.PC = DRAMBase
	h.X[2] = DRAMBase + ramSize
	return h
}

// ReadReg reads an integer register; x0 always reads as zero.
func (h *Hart) ReadReg(r uint32) uint64 {
	if r == 0 {
		return 0
	}
	return h.X[r]
}

// WriteReg writes an integer register; writes to x0 are discarded.
func (h *Hart) WriteReg(r uint32, v uint64) {
	if r != 0 {
		h.X[r] = v
	}
}

func signExtend(v uint64, bits uint) int64 {
	shift := 64 - bits
	return int64(v<<shift) >> shift
}
