package virtio

import "encoding/binary"

// Legacy virtio MMIO register offsets (virtio spec v1, legacy interface).
const (
	regMagic          uint64 = 0x000
	regVersion        uint64 = 0x004
	regDeviceID       uint64 = 0x008
	regVendorID       uint64 = 0x00c
	regHostFeatures   uint64 = 0x010
	regGuestFeatures  uint64 = 0x020
	regGuestPageSize  uint64 = 0x028
	regQueueSel       uint64 = 0x030
	regQueueNumMax    uint64 = 0x034
	regQueueNum       uint64 = 0x038
	regQueueAlign     uint64 = 0x03c
	regQueuePFN       uint64 = 0x040
	regQueueNotify    uint64 = 0x050
	regInterruptStat  uint64 = 0x060
	regInterruptAck   uint64 = 0x064
	regStatus         uint64 = 0x070
	regConfig         uint64 = 0x100

	magicValue   uint32 = 0x74726976 // "virt"
	legacyVer    uint32 = 1
	deviceIDBlk  uint32 = 2
	vendorID     uint32 = 0x554d4551 // "QEMU" in ASCII, the vendor id QEMU's virtio-mmio devices report
	queueNumMax  uint16 = 256
)

// Request types, per the virtio-blk spec.
const (
	blkTypeIn  uint32 = 0 // read
	blkTypeOut uint32 = 1 // write

	blkStatusOK     uint8 = 0
	blkStatusIOErr  uint8 = 1
	blkStatusUnsupp uint8 = 2

	sectorSize = 512
)

// blockRequestHeader is the 16-byte header descriptor of a virtio-blk
// request: type, reserved, sector.
type blockRequestHeader struct {
	Type   uint32
	Reserved uint32
	Sector uint64
}

// Disk is the backing store a Block device reads/writes sectors from.
type Disk interface {
	ReadAt(p []byte, off int64) (int, error)
	WriteAt(p []byte, off int64) (int, error)
	Size() int64
}

// Block is a single-queue virtio-blk MMIO device. It implements the
// riscv.Device interface (Load/Store) structurally, so the Bus can dispatch
// to it without this package importing riscv.
type Block struct {
	mem  GuestMemory
	disk Disk

	queue       *Queue
	queueSel    uint32
	guestPageSz uint32
	pfn         uint32
	status      uint32
	hostFeatures uint32
	guestFeatures uint32

	interruptStatus uint32

	pendingInterrupt bool
}

// NewBlock creates a virtio-blk device backed by disk, using mem for guest
// physical memory access once the driver configures a queue.
func NewBlock(mem GuestMemory, disk Disk) *Block {
	return &Block{mem: mem, disk: disk, guestPageSz: pageSize, hostFeatures: 0}
}

// Pending reports whether the device has raised an interrupt the guest has
// not yet acknowledged via InterruptAck.
func (b *Block) Pending() bool { return b.pendingInterrupt }

func (b *Block) Load(addr uint64, size uint) (uint64, error) {
	switch addr {
	case regMagic:
		return uint64(magicValue), nil
	case regVersion:
		return uint64(legacyVer), nil
	case regDeviceID:
		return uint64(deviceIDBlk), nil
	case regVendorID:
		return uint64(vendorID), nil
	case regHostFeatures:
		return uint64(b.hostFeatures), nil
	case regQueueNumMax:
		return uint64(queueNumMax), nil
	case regQueuePFN:
		return uint64(b.pfn), nil
	case regInterruptStat:
		return uint64(b.interruptStatus), nil
	case regStatus:
		return uint64(b.status), nil
	default:
		if addr >= regConfig {
			return b.readConfig(addr - regConfig, size), nil
		}
		return 0, nil
	}
}

func (b *Block) readConfig(off uint64, size uint) uint64 {
	// virtio-blk config space: capacity (sectors) as the first 8 bytes.
	capacity := uint64(0)
	if b.disk != nil {
		capacity = uint64(b.disk.Size()) / sectorSize
	}
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], capacity)
	if off+uint64(size) > uint64(len(buf)) {
		return 0
	}
	switch size {
	case 1:
		return uint64(buf[off])
	case 2:
		return uint64(binary.LittleEndian.Uint16(buf[off:]))
	case 4:
		return uint64(binary.LittleEndian.Uint32(buf[off:]))
	default:
		return binary.LittleEndian.Uint64(buf[off:])
	}
}

func (b *Block) Store(addr uint64, size uint, value uint64) error {
	switch addr {
	case regGuestFeatures:
		b.guestFeatures = uint32(value)
	case regGuestPageSize:
		b.guestPageSz = uint32(value)
	case regQueueSel:
		b.queueSel = uint32(value)
	case regQueueNum:
		if b.queueSel == 0 {
			// the written size is not stored: NewQueue always lays the
			// queue out with queueNumMax entries once PFN arrives
		}
	case regQueuePFN:
		b.pfn = uint32(value)
		if b.queueSel == 0 && b.pfn != 0 {
			b.queue = NewQueue(b.mem, b.pfn, queueNumMax)
		}
	case regQueueNotify:
		b.processQueue()
	case regInterruptAck:
		b.interruptStatus &^= uint32(value)
		if b.interruptStatus == 0 {
			b.pendingInterrupt = false
		}
	case regStatus:
		b.status = uint32(value)
	}
	return nil
}

// processQueue drains every available descriptor chain, treating each as a
// 3-descriptor virtio-blk request: a read-only header descriptor, a
// read-only (write request) or write-only (read request) data descriptor,
// and a write-only 1-byte status descriptor.
func (b *Block) processQueue() {
	if b.queue == nil {
		return
	}
	for {
		chain, head, ok := b.queue.PopChain()
		if !ok {
			break
		}
		b.serviceRequest(chain, head)
	}
}

func (b *Block) serviceRequest(chain []Descriptor, head uint16) {
	if len(chain) < 3 {
		return
	}
	headerDesc := chain[0]
	dataDesc := chain[1]
	statusDesc := chain[len(chain)-1]

	headerBytes := b.queue.ReadDesc(headerDesc)
	if len(headerBytes) < 16 {
		b.queue.WriteDesc(statusDesc, []byte{blkStatusUnsupp})
		b.completeAndInterrupt(head, 1)
		return
	}
	var hdr blockRequestHeader
	hdr.Type = binary.LittleEndian.Uint32(headerBytes[0:])
	hdr.Reserved = binary.LittleEndian.Uint32(headerBytes[4:])
	hdr.Sector = binary.LittleEndian.Uint64(headerBytes[8:])

	status := blkStatusOK
	var written uint32

	switch hdr.Type {
	case blkTypeIn:
		buf := make([]byte, dataDesc.Len)
		if b.disk != nil {
			if _, err := b.disk.ReadAt(buf, int64(hdr.Sector)*sectorSize); err != nil {
				status = blkStatusIOErr
			}
		}
		b.queue.WriteDesc(dataDesc, buf)
		written = dataDesc.Len
	case blkTypeOut:
		buf := b.queue.ReadDesc(dataDesc)
		if b.disk != nil {
			if _, err := b.disk.WriteAt(buf, int64(hdr.Sector)*sectorSize); err != nil {
				status = blkStatusIOErr
			}
		}
	default:
		status = blkStatusUnsupp
	}

	b.queue.WriteDesc(statusDesc, []byte{status})
	b.completeAndInterrupt(head, written+1)
}

func (b *Block) completeAndInterrupt(head uint16, writtenLen uint32) {
	b.queue.PutUsed(head, writtenLen)
	b.interruptStatus |= 1
	b.pendingInterrupt = true
}
