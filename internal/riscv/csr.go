package riscv

// CSR addresses named in the spec. Unlisted addresses are still backed by
// the 4096-entry array and read/write as plain storage — real firmware and
// Linux probe a long tail of CSRs (misa, performance counters, ...) that
// this emulator does not need to special-case to boot.
const (
	CSRSstatus  uint16 = 0x100
	CSRSie      uint16 = 0x104
	CSRStvec    uint16 = 0x105
	CSRSscratch uint16 = 0x140
	CSRSepc     uint16 = 0x141
	CSRScause   uint16 = 0x142
	CSRStval    uint16 = 0x143
	CSRSip      uint16 = 0x144
	CSRSatp     uint16 = 0x180

	CSRMstatus    uint16 = 0x300
	CSRMedeleg    uint16 = 0x302
	CSRMideleg    uint16 = 0x303
	CSRMie        uint16 = 0x304
	CSRMtvec      uint16 = 0x305
	CSRMcounteren uint16 = 0x306
	CSRMscratch   uint16 = 0x340
	CSRMepc       uint16 = 0x341
	CSRMcause     uint16 = 0x342
	CSRMtval      uint16 = 0x343
	CSRMip        uint16 = 0x344

	CSRMvendorid uint16 = 0xf11
	CSRMarchid   uint16 = 0xf12
	CSRMimpid    uint16 = 0xf13
	CSRMhartid   uint16 = 0xf14
)

// mstatus bit layout used by the trap machinery and the sstatus shadow.
const (
	mstatusSIE  uint64 = 1 << 1
	mstatusMIE  uint64 = 1 << 3
	mstatusSPIE uint64 = 1 << 5
	mstatusUBE  uint64 = 1 << 6
	mstatusMPIE uint64 = 1 << 7
	mstatusSPP  uint64 = 1 << 8
	mstatusVS   uint64 = 0b11 << 9
	mstatusMPP  uint64 = 0b11 << 11
	mstatusFS   uint64 = 0b11 << 13
	mstatusXS   uint64 = 0b11 << 15
	mstatusMPRV uint64 = 1 << 17
	mstatusSUM  uint64 = 1 << 18
	mstatusMXR  uint64 = 1 << 19
	mstatusTVM  uint64 = 1 << 20
	mstatusTW   uint64 = 1 << 21
	mstatusTSR  uint64 = 1 << 22
	mstatusUXL  uint64 = 0b11 << 32
	mstatusSXL  uint64 = 0b11 << 34
	mstatusSD   uint64 = 1 << 63

	mstatusSPPShift = 8
	mstatusMPPShift = 11
)

// SSTATUS_MASK: the bits of mstatus visible through the sstatus view, per
// the shadow-CSR invariant.
const sstatusMask = mstatusSIE | mstatusSPIE | mstatusUBE | mstatusSPP |
	mstatusVS | mstatusFS | mstatusXS | mstatusSUM | mstatusMXR | mstatusUXL | mstatusSD

// mideleg/mip/mie bits that sie/sip expose.
const sCauseMask = (1 << 1) | (1 << 5) | (1 << 9)

// CSRFile is the 4096-entry control-and-status register array. sstatus,
// sie and sip are never stored independently: they are masked views over
// mstatus/mie/mip computed on every access, per the shadow-CSR invariant.
type CSRFile struct {
	regs [4096]uint64
}

func (c *CSRFile) init() {
	c.regs[CSRMvendorid] = 0
	c.regs[CSRMarchid] = 0
	c.regs[CSRMimpid] = 0
	c.regs[CSRMhartid] = 0
}

// raw returns the unmediated backing slot. Used internally for CSRs with no
// special shadow/masking behaviour.
func (c *CSRFile) raw(addr uint16) uint64 { return c.regs[addr&0xfff] }

func (c *CSRFile) setRaw(addr uint16, v uint64) { c.regs[addr&0xfff] = v }

// Load reads a CSR, applying the shadow views and read-only masking that
// the architecture defines for sstatus/sie/sip and the mvendorid/marchid/
// mimpid/mhartid read-only-zero quartet.
func (c *CSRFile) Load(addr uint16) uint64 {
	switch addr {
	case CSRSstatus:
		return c.raw(CSRMstatus) & sstatusMask
	case CSRSie:
		return c.raw(CSRMie) & c.raw(CSRMideleg) & sCauseMask
	case CSRSip:
		return c.raw(CSRMip) & c.raw(CSRMideleg) & sCauseMask
	case CSRMvendorid, CSRMarchid, CSRMimpid, CSRMhartid:
		return 0
	default:
		return c.raw(addr)
	}
}

// Store writes a CSR. Writes to the sstatus/sie/sip shadow views preserve
// the non-view bits of the backing mstatus/mie/mip register, per the
// shadow-CSR invariant; writes to the read-only-zero identity CSRs are
// discarded.
func (c *CSRFile) Store(addr uint16, v uint64) {
	switch addr {
	case CSRSstatus:
		m := c.raw(CSRMstatus)
		c.setRaw(CSRMstatus, (m &^ sstatusMask) | (v & sstatusMask))
	case CSRSie:
		deleg := c.raw(CSRMideleg) & sCauseMask
		m := c.raw(CSRMie)
		c.setRaw(CSRMie, (m &^ deleg) | (v & deleg))
	case CSRSip:
		deleg := c.raw(CSRMideleg) & sCauseMask
		m := c.raw(CSRMip)
		c.setRaw(CSRMip, (m &^ deleg) | (v & deleg))
	case CSRMvendorid, CSRMarchid, CSRMimpid, CSRMhartid:
		// read-only
	case CSRSepc, CSRMepc:
		c.setRaw(addr, v&^1)
	default:
		c.setRaw(addr, v)
	}
}

// IsMedelegated reports whether exception code is routed to S-mode by
// medeleg.
func (c *CSRFile) IsMedelegated(code uint64) bool {
	if code >= 64 {
		return false
	}
	return c.raw(CSRMedeleg)&(1<<code) != 0
}

// IsMidelegated reports whether interrupt code is routed to S-mode by
// mideleg.
func (c *CSRFile) IsMidelegated(code uint64) bool {
	if code >= 64 {
		return false
	}
	return c.raw(CSRMideleg)&(1<<code) != 0
}
