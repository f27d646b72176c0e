package virtio

import (
	"bytes"
	"encoding/binary"
	"testing"
)

type memDisk struct {
	data []byte
}

func (d *memDisk) ReadAt(p []byte, off int64) (int, error) {
	return copy(p, d.data[off:]), nil
}

func (d *memDisk) WriteAt(p []byte, off int64) (int, error) {
	return copy(d.data[off:], p), nil
}

func (d *memDisk) Size() int64 { return int64(len(d.data)) }

type fakeMem struct{ buf []byte }

func (m *fakeMem) Bytes() []byte { return m.buf }

func putDescriptor(mem []byte, table uint64, idx uint16, d Descriptor) {
	off := table + uint64(idx)*descSize
	binary.LittleEndian.PutUint64(mem[off:], d.Addr)
	binary.LittleEndian.PutUint32(mem[off+8:], d.Len)
	binary.LittleEndian.PutUint16(mem[off+12:], d.Flags)
	binary.LittleEndian.PutUint16(mem[off+14:], d.Next)
}

func TestBlockReadRequestRoundTrips(t *testing.T) {
	disk := &memDisk{data: make([]byte, 4*sectorSize)}
	copy(disk.data[sectorSize:], []byte("hello sector one"))

	mem := &fakeMem{buf: make([]byte, 256*1024)}
	blk := NewBlock(mem, disk)

	const qSize = 4
	pfn := uint32(0x10)
	base := uint64(pfn) * pageSize

	blk.Store(regQueueSel, 4, 0)
	blk.Store(regQueuePFN, 4, uint64(pfn))

	q := blk.queue
	if q == nil {
		t.Fatalf("queue was not created on QueuePFN write")
	}
	_ = qSize

	headerAddr := base + 0x10000
	dataAddr := headerAddr + 0x100
	statusAddr := dataAddr + 0x200

	hdr := make([]byte, 16)
	binary.LittleEndian.PutUint32(hdr[0:], blkTypeIn)
	binary.LittleEndian.PutUint64(hdr[8:], 1) // sector 1
	copy(mem.buf[headerAddr:], hdr)

	putDescriptor(mem.buf, q.descTableAddr, 0, Descriptor{Addr: headerAddr, Len: 16, Flags: descFlagNext, Next: 1})
	putDescriptor(mem.buf, q.descTableAddr, 1, Descriptor{Addr: dataAddr, Len: 512, Flags: descFlagNext | descFlagWrite, Next: 2})
	putDescriptor(mem.buf, q.descTableAddr, 2, Descriptor{Addr: statusAddr, Len: 1, Flags: descFlagWrite})

	// Publish descriptor 0 as the head of the available ring entry 0.
	binary.LittleEndian.PutUint16(mem.buf[q.availAddr+4:], 0)
	binary.LittleEndian.PutUint16(mem.buf[q.availAddr+2:], 1) // avail.idx = 1

	blk.Store(regQueueNotify, 4, 0)

	status := mem.buf[statusAddr]
	if status != blkStatusOK {
		t.Fatalf("status = %d, want OK", status)
	}
	got := mem.buf[dataAddr : dataAddr+512]
	if !bytes.HasPrefix(got, []byte("hello sector one")) {
		t.Fatalf("data descriptor = %q, want sector contents", got[:32])
	}
	if !blk.Pending() {
		t.Fatalf("block device should have raised an interrupt after completing a request")
	}
}

func TestBlockWriteRequestPersistsToDisk(t *testing.T) {
	disk := &memDisk{data: make([]byte, 2*sectorSize)}
	mem := &fakeMem{buf: make([]byte, 256*1024)}
	blk := NewBlock(mem, disk)

	pfn := uint32(0x20)
	base := uint64(pfn) * pageSize
	blk.Store(regQueueSel, 4, 0)
	blk.Store(regQueuePFN, 4, uint64(pfn))
	q := blk.queue

	headerAddr := base + 0x10000
	dataAddr := headerAddr + 0x100
	statusAddr := dataAddr + 0x200

	hdr := make([]byte, 16)
	binary.LittleEndian.PutUint32(hdr[0:], blkTypeOut)
	binary.LittleEndian.PutUint64(hdr[8:], 0)
	copy(mem.buf[headerAddr:], hdr)

	payload := make([]byte, 512)
	copy(payload, []byte("written payload"))
	copy(mem.buf[dataAddr:], payload)

	putDescriptor(mem.buf, q.descTableAddr, 0, Descriptor{Addr: headerAddr, Len: 16, Flags: descFlagNext, Next: 1})
	putDescriptor(mem.buf, q.descTableAddr, 1, Descriptor{Addr: dataAddr, Len: 512, Flags: descFlagNext, Next: 2})
	putDescriptor(mem.buf, q.descTableAddr, 2, Descriptor{Addr: statusAddr, Len: 1, Flags: descFlagWrite})

	binary.LittleEndian.PutUint16(mem.buf[q.availAddr+4:], 0)
	binary.LittleEndian.PutUint16(mem.buf[q.availAddr+2:], 1)

	blk.Store(regQueueNotify, 4, 0)

	if !bytes.HasPrefix(disk.data[:512], []byte("written payload")) {
		t.Fatalf("disk contents not updated: %q", disk.data[:32])
	}
	if mem.buf[statusAddr] != blkStatusOK {
		t.Fatalf("status = %d, want OK", mem.buf[statusAddr])
	}
}
