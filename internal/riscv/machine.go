package riscv

import (
	"errors"
	"io"

	"github.com/tinyrange/riscv64emu/internal/riscv/virtio"
)

// ErrHalt stops the run loop cleanly rather than via a fatal exception:
// Run returns nil when Step returns an error matching it. No code in this
// package returns ErrHalt.
var ErrHalt = errors.New("riscv: halt")

// instructionsPerTick is how many retired instructions the run loop batches
// before ticking the CLINT and polling device interrupt lines, trading
// timer precision for fewer device-poll calls per instruction.
const instructionsPerTick = 1024

// Machine wires a Hart to its bus and the fixed device set: CLINT, PLIC,
// UART, and a single virtio-blk disk.
type Machine struct {
	Hart  *Hart
	Bus   *Bus
	DRAM  *DRAM
	CLINT *CLINT
	PLIC  *PLIC
	UART  *UART
	Block *virtio.Block
}

// NewMachine allocates a DRAM of ramSize bytes and wires up a Hart and the
// full device set. in/out drive the UART; disk may be nil for a machine
// with no block device attached.
func NewMachine(ramSize uint64, in io.Reader, out io.Writer, disk virtio.Disk) *Machine {
	dram := NewDRAM(ramSize)
	clint := NewCLINT()
	plic := NewPLIC()
	uart := NewUART(in, out)
	block := virtio.NewBlock(dram, disk)

	bus := NewBus(dram, clint, plic, uart, block)
	hart := NewHart(bus, ramSize)

	return &Machine{
		Hart:  hart,
		Bus:   bus,
		DRAM:  dram,
		CLINT: clint,
		PLIC:  plic,
		UART:  uart,
		Block: block,
	}
}

// LoadImage copies a flat boot image into DRAM at offset 0 (i.e. DRAMBase).
func (m *Machine) LoadImage(image []byte) {
	m.DRAM.LoadBytes(0, image)
}

// Step executes exactly one instruction: fetch, decode/execute, and deliver
// any resulting exception as a trap (or report it as fatal). It does not
// poll devices or advance the CLINT; callers that want interrupts serviced
// should use Run.
func (m *Machine) Step() error {
	h := m.Hart

	if h.WFI {
		pending, _ := h.CheckInterrupt()
		if !pending {
			return nil
		}
		h.WFI = false
	}

	if pending, cause := h.CheckInterrupt(); pending {
		h.HandleTrap(cause, 0)
		return nil
	}

	phys, err := h.translate(h.PC, accessFetch)
	if err != nil {
		var ex *Exception
		if errors.As(err, &ex) {
			if ex.IsFatal(true) {
				return ex
			}
			h.HandleTrap(ex.Cause, ex.Tval)
			return nil
		}
		return err
	}

	inst, err := h.Bus.Fetch(phys)
	if err != nil {
		var ex *Exception
		if errors.As(err, &ex) {
			if ex.IsFatal(true) {
				return ex
			}
			h.HandleTrap(ex.Cause, ex.Tval)
			return nil
		}
		return err
	}

	if err := h.Execute(inst); err != nil {
		var ex *Exception
		if errors.As(err, &ex) {
			if ex.IsFatal(false) {
				return ex
			}
			h.HandleTrap(ex.Cause, ex.Tval)
			return nil
		}
		return err
	}

	return nil
}

// Run steps the machine until a fatal exception, ErrHalt, or the stop
// channel is closed, ticking the CLINT and polling device interrupt lines
// every instructionsPerTick retired instructions.
func (m *Machine) Run(stop <-chan struct{}) error {
	count := 0
	for {
		select {
		case <-stop:
			return nil
		default:
		}

		if err := m.Step(); err != nil {
			if errors.Is(err, ErrHalt) {
				return nil
			}
			return err
		}

		count++
		if count >= instructionsPerTick {
			count = 0
			m.pollDevices()
		}
	}
}

// pollDevices ticks the CLINT and folds every device's interrupt condition
// into mip, in the fixed order CLINT (direct M-mode lines) then PLIC/UART
// external interrupts (S-mode, via the PLIC claim path).
func (m *Machine) pollDevices() {
	timerPending, softwarePending := m.CLINT.Tick(instructionsPerTick)

	mip := m.Hart.CSR.raw(CSRMip)
	setBit := func(bit uint64, v bool) {
		if v {
			mip |= 1 << bit
		} else {
			mip &^= 1 << bit
		}
	}
	setBit(7, timerPending)
	setBit(3, softwarePending)

	if m.UART.Pending() {
		m.PLIC.Raise(UARTUnit)
	}
	if m.Block.Pending() {
		m.PLIC.Raise(virtioBlockUnit)
	}
	setBit(9, m.PLIC.Pending())

	m.Hart.CSR.setRaw(CSRMip, mip)
}

// virtioBlockUnit is the PLIC source number the virtio-blk device asserts.
const virtioBlockUnit uint32 = 1
