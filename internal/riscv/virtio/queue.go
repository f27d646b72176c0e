// Package virtio implements the single virtqueue needed to serve a
// virtio-blk device over the legacy (pre-1.0, QueuePFN-based) MMIO
// transport: descriptor table, available ring, used ring, and the
// descriptor-chain walk a device uses to read a request and write its
// result back to the driver.
package virtio

import "encoding/binary"

// GuestMemory is the host-side view of guest physical memory the queue
// needs: raw byte access at an absolute physical address, with no
// size/alignment restriction (unlike the Hart's Bus, which only exposes
// power-of-two sized loads/stores).
type GuestMemory interface {
	Bytes() []byte
}

const (
	descFlagNext     uint16 = 1
	descFlagWrite    uint16 = 2
	descFlagIndirect uint16 = 4

	descSize = 16 // addr(8) + len(4) + flags(2) + next(2)
)

// Descriptor is one entry of the descriptor table.
type Descriptor struct {
	Addr  uint64
	Len   uint32
	Flags uint16
	Next  uint16
}

// Queue is a single virtqueue: a descriptor table plus the available and
// used rings, all living in guest memory at addresses the driver supplies
// via QueuePFN (queue address = QueuePFN * PageSize, legacy layout: desc
// table, then avail ring, then used ring page-aligned after it).
type Queue struct {
	mem GuestMemory

	descTableAddr uint64
	availAddr     uint64
	usedAddr      uint64

	size uint16

	lastAvailIdx uint16
}

const pageSize = 4096

// NewQueue lays out a queue of the given size at base = pfn*PageSize using
// the legacy virtio MMIO memory layout.
func NewQueue(mem GuestMemory, pfn uint32, size uint16) *Queue {
	base := uint64(pfn) * pageSize
	descTableLen := uint64(size) * descSize
	availLen := uint64(4 + 2*int(size) + 2) // flags+idx, ring[size], used_event

	availAddr := base + descTableLen
	usedOffset := alignUp(availAddr+availLen, pageSize) - base

	return &Queue{
		mem:           mem,
		descTableAddr: base,
		availAddr:     availAddr,
		usedAddr:      base + usedOffset,
		size:          size,
	}
}

func alignUp(v, align uint64) uint64 {
	return (v + align - 1) &^ (align - 1)
}

func (q *Queue) readDescriptor(idx uint16) Descriptor {
	off := q.descTableAddr + uint64(idx)*descSize
	b := q.mem.Bytes()
	return Descriptor{
		Addr:  binary.LittleEndian.Uint64(b[off:]),
		Len:   binary.LittleEndian.Uint32(b[off+8:]),
		Flags: binary.LittleEndian.Uint16(b[off+12:]),
		Next:  binary.LittleEndian.Uint16(b[off+14:]),
	}
}

func (q *Queue) availIdx() uint16 {
	b := q.mem.Bytes()
	return binary.LittleEndian.Uint16(b[q.availAddr+2:])
}

func (q *Queue) availRing(i uint16) uint16 {
	b := q.mem.Bytes()
	off := q.availAddr + 4 + uint64(i%q.size)*2
	return binary.LittleEndian.Uint16(b[off:])
}

// HasWork reports whether the driver has published a descriptor chain the
// device has not yet consumed.
func (q *Queue) HasWork() bool {
	return q.availIdx() != q.lastAvailIdx
}

// PopChain returns the full descriptor chain for the next unconsumed
// available-ring entry, and the head index (needed for PutUsed), or ok=false
// if nothing is available.
func (q *Queue) PopChain() (chain []Descriptor, head uint16, ok bool) {
	if !q.HasWork() {
		return nil, 0, false
	}
	head = q.availRing(q.lastAvailIdx)
	q.lastAvailIdx++

	idx := head
	for {
		d := q.readDescriptor(idx)
		chain = append(chain, d)
		if d.Flags&descFlagNext == 0 {
			break
		}
		idx = d.Next
	}
	return chain, head, true
}

// ReadDesc returns a copy of the guest memory a descriptor points at.
func (q *Queue) ReadDesc(d Descriptor) []byte {
	b := q.mem.Bytes()
	out := make([]byte, d.Len)
	copy(out, b[d.Addr:d.Addr+uint64(d.Len)])
	return out
}

// WriteDesc writes data into the guest memory a (write-flagged) descriptor
// points at, truncating to the descriptor's length.
func (q *Queue) WriteDesc(d Descriptor, data []byte) {
	b := q.mem.Bytes()
	n := copy(b[d.Addr:d.Addr+uint64(d.Len)], data)
	_ = n
}

// PutUsed publishes head as completed with the given written length,
// advancing the used ring index.
func (q *Queue) PutUsed(head uint16, writtenLen uint32) {
	b := q.mem.Bytes()
	usedIdx := binary.LittleEndian.Uint16(b[q.usedAddr+2:])
	entryOff := q.usedAddr + 4 + uint64(usedIdx%q.size)*8
	binary.LittleEndian.PutUint32(b[entryOff:], uint32(head))
	binary.LittleEndian.PutUint32(b[entryOff+4:], writtenLen)
	binary.LittleEndian.PutUint16(b[q.usedAddr+2:], usedIdx+1)
}
