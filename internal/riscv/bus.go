package riscv

// Device is anything the Bus can dispatch a load/store to: DRAM, CLINT,
// PLIC, UART, or the virtio-block MMIO window. addr is relative to the
// device's own base (the Bus has already subtracted it).
type Device interface {
	Load(addr uint64, size uint) (uint64, error)
	Store(addr uint64, size uint, value uint64) error
}

// region pairs a Device with the address range the Bus routes to it.
type region struct {
	base, size uint64
	dev        Device
}

// Bus dispatches loads/stores by address range to DRAM or a memory-mapped
// device, raising an access fault for anything unmapped.
type Bus struct {
	regions []region
}

// NewBus creates a Bus with dram mapped at DRAMBase and registers clint,
// plic, uart and vblk at their fixed platform addresses.
func NewBus(dram *DRAM, clint, plic, uart, vblk Device) *Bus {
	b := &Bus{}
	b.regions = []region{
		{DRAMBase, dram.Size(), dram},
		{CLINTBase, CLINTSize, clint},
		{PLICBase, PLICSize, plic},
		{UARTBase, UARTSize, uart},
		{VirtioBase, VirtioSize, vblk},
	}
	return b
}

func (b *Bus) find(addr uint64) (Device, uint64, bool) {
	for _, r := range b.regions {
		if addr >= r.base && addr < r.base+r.size {
			return r.dev, addr - r.base, true
		}
	}
	return nil, 0, false
}

// Load reads size bytes (1, 2, 4 or 8) from addr, raising LoadAccessFault
// if addr is not mapped.
func (b *Bus) Load(addr uint64, size uint) (uint64, error) {
	dev, off, ok := b.find(addr)
	if !ok {
		return 0, raise(CauseLoadAccessFault, addr)
	}
	return dev.Load(off, size)
}

// Store writes size bytes (1, 2, 4 or 8) to addr, raising
// StoreAMOAccessFault if addr is not mapped.
func (b *Bus) Store(addr uint64, size uint, value uint64) error {
	dev, off, ok := b.find(addr)
	if !ok {
		return raise(CauseStoreAMOAccessFault, addr)
	}
	return dev.Store(off, size, value)
}

// Fetch reads a 32-bit instruction word from addr for the decode stage,
// raising InstructionAccessFault (treated as fatal only when the address is
// outside every mapped region) if unmapped.
func (b *Bus) Fetch(addr uint64) (uint32, error) {
	dev, off, ok := b.find(addr)
	if !ok {
		return 0, raise(CauseInstructionAccessFault, addr)
	}
	v, err := dev.Load(off, 4)
	if err != nil {
		return 0, err
	}
	return uint32(v), nil
}

// DRAM is a flat byte-addressable little-endian memory region.
type DRAM struct {
	mem []byte
}

// NewDRAM allocates a zeroed DRAM region of size bytes.
func NewDRAM(size uint64) *DRAM {
	return &DRAM{mem: make([]byte, size)}
}

// Size returns the DRAM region's size in bytes.
func (d *DRAM) Size() uint64 { return uint64(len(d.mem)) }

// Load implements Device for DRAM: size is 1, 2, 4 or 8 bytes, addr is
// relative to the start of DRAM.
func (d *DRAM) Load(addr uint64, size uint) (uint64, error) {
	if addr+uint64(size) > uint64(len(d.mem)) {
		return 0, raise(CauseLoadAccessFault, addr+DRAMBase)
	}
	switch size {
	case 1:
		return uint64(d.mem[addr]), nil
	case 2:
		return uint64(byteOrder.Uint16(d.mem[addr:])), nil
	case 4:
		return uint64(byteOrder.Uint32(d.mem[addr:])), nil
	case 8:
		return byteOrder.Uint64(d.mem[addr:]), nil
	default:
		return 0, raise(CauseLoadAccessFault, addr+DRAMBase)
	}
}

// Store implements Device for DRAM.
func (d *DRAM) Store(addr uint64, size uint, value uint64) error {
	if addr+uint64(size) > uint64(len(d.mem)) {
		return raise(CauseStoreAMOAccessFault, addr+DRAMBase)
	}
	switch size {
	case 1:
		d.mem[addr] = byte(value)
	case 2:
		byteOrder.PutUint16(d.mem[addr:], uint16(value))
	case 4:
		byteOrder.PutUint32(d.mem[addr:], uint32(value))
	case 8:
		byteOrder.PutUint64(d.mem[addr:], value)
	default:
		return raise(CauseStoreAMOAccessFault, addr+DRAMBase)
	}
	return nil
}

// LoadBytes copies src into DRAM starting at offset off, for image loading
// at boot. Panics if it would run past the end of DRAM — a programming
// error in the loader, not a guest-triggerable fault.
func (d *DRAM) LoadBytes(off uint64, src []byte) {
	n := copy(d.mem[off:], src)
	if n != len(src) {
		panic("riscv: image does not fit in DRAM")
	}
}

// Bytes exposes the backing slice directly, for the virtio queue, which
// needs host-pointer access to guest memory rather than the size-gated
// Load/Store accessors above. Index 0 of the slice is DRAMBase.
func (d *DRAM) Bytes() []byte { return d.mem }
