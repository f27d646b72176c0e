package riscv

// HandleTrap delivers cause/tval as a trap: it is the single entry point
// used for both exceptions and polled interrupts (interrupts set
// MaskInterruptBit in cause). See the six-step algorithm this follows.
func (h *Hart) HandleTrap(cause, tval uint64) {
	isInterrupt := cause&MaskInterruptBit != 0
	code := cause &^ MaskInterruptBit

	delegated := h.Priv <= PrivSupervisor
	if delegated {
		if isInterrupt {
			delegated = h.CSR.IsMidelegated(code)
		} else {
			delegated = h.CSR.IsMedelegated(code)
		}
	}

	prevPriv := h.Priv
	mstatus := h.CSR.raw(CSRMstatus)

	if delegated {
		h.CSR.setRaw(CSRSepc, h.PC)
		h.CSR.setRaw(CSRScause, cause)
		h.CSR.setRaw(CSRStval, tval)

		if mstatus&mstatusSIE != 0 {
			mstatus |= mstatusSPIE
		} else {
			mstatus &^= mstatusSPIE
		}
		mstatus &^= mstatusSIE

		mstatus &^= mstatusSPP
		if prevPriv == PrivSupervisor {
			mstatus |= mstatusSPP
		}
		h.CSR.setRaw(CSRMstatus, mstatus)

		h.Priv = PrivSupervisor

		stvec := h.CSR.raw(CSRStvec)
		if isInterrupt && stvec&3 == 1 {
			h.PC = (stvec &^ 3) + 4*code
		} else {
			h.PC = stvec &^ 3
		}
		return
	}

	h.CSR.setRaw(CSRMepc, h.PC)
	h.CSR.setRaw(CSRMcause, cause)
	h.CSR.setRaw(CSRMtval, tval)

	if mstatus&mstatusMIE != 0 {
		mstatus |= mstatusMPIE
	} else {
		mstatus &^= mstatusMPIE
	}
	mstatus &^= mstatusMIE

	mstatus &^= mstatusMPP
	// SPP is a single bit and clamps values above Supervisor; MPP is two
	// bits and can hold the previous mode directly.
	mstatus |= uint64(prevPriv) << mstatusMPPShift
	h.CSR.setRaw(CSRMstatus, mstatus)

	h.Priv = PrivMachine

	mtvec := h.CSR.raw(CSRMtvec)
	if isInterrupt && mtvec&3 == 1 {
		h.PC = (mtvec &^ 3) + 4*code
	} else {
		h.PC = mtvec &^ 3
	}
}

// sret implements the SRET instruction: restores mode from SPP, SIE from
// SPIE, sets SPIE, clears SPP, and jumps to sepc.
func (h *Hart) sret() error {
	if h.Priv < PrivSupervisor {
		return raise(CauseIllegalInstruction, 0)
	}
	mstatus := h.CSR.raw(CSRMstatus)

	if mstatus&mstatusSPP != 0 {
		h.Priv = PrivSupervisor
	} else {
		h.Priv = PrivUser
	}

	if mstatus&mstatusSPIE != 0 {
		mstatus |= mstatusSIE
	} else {
		mstatus &^= mstatusSIE
	}
	mstatus |= mstatusSPIE
	mstatus &^= mstatusSPP
	h.CSR.setRaw(CSRMstatus, mstatus)

	h.PC = h.CSR.raw(CSRSepc) &^ 3
	return nil
}

// mret implements the MRET instruction: restores mode from MPP, MIE from
// MPIE, sets MPIE, clears MPP (and MPRV if MPP was not Machine), and jumps
// to mepc.
func (h *Hart) mret() error {
	if h.Priv < PrivMachine {
		return raise(CauseIllegalInstruction, 0)
	}
	mstatus := h.CSR.raw(CSRMstatus)

	mpp := uint8((mstatus & mstatusMPP) >> mstatusMPPShift)
	h.Priv = mpp

	if mstatus&mstatusMPIE != 0 {
		mstatus |= mstatusMIE
	} else {
		mstatus &^= mstatusMIE
	}
	mstatus |= mstatusMPIE
	mstatus &^= mstatusMPP

	if mpp != PrivMachine {
		mstatus &^= mstatusMPRV
	}
	h.CSR.setRaw(CSRMstatus, mstatus)

	h.PC = h.CSR.raw(CSRMepc) &^ 3
	return nil
}

// interruptPriority lists the bit position and cause for each interrupt
// source in the fixed priority order: MEI, MSI, MTI, SEI, SSI, STI.
var interruptPriority = [...]struct {
	bit   uint64
	cause uint64
}{
	{11, CauseMachineExternalInterrupt},
	{3, CauseMachineSoftwareInterrupt},
	{7, CauseMachineTimerInterrupt},
	{9, CauseSupervisorExternalInterrupt},
	{1, CauseSupervisorSoftwareInterrupt},
	{5, CauseSupervisorTimerInterrupt},
}

// CheckInterrupt implements interrupt selection: compute mie & mip, pick
// the highest-priority set bit, and check whether it is gated out by the
// current privilege/xIE/delegation state. Returns (false, 0) if nothing is
// both pending and not gated out.
func (h *Hart) CheckInterrupt() (bool, uint64) {
	mstatus := h.CSR.raw(CSRMstatus)
	pending := h.CSR.raw(CSRMie) & h.CSR.raw(CSRMip)
	if pending == 0 {
		return false, 0
	}

	for _, src := range interruptPriority {
		if pending&(1<<src.bit) == 0 {
			continue
		}

		delegatedToS := h.CSR.IsMidelegated(src.bit)
		var targetsM bool
		if !delegatedToS {
			targetsM = true
		} else {
			targetsM = h.Priv == PrivMachine
		}

		if targetsM {
			if h.Priv < PrivMachine || (h.Priv == PrivMachine && mstatus&mstatusMIE != 0) {
				return true, src.cause
			}
			continue
		}

		// Targets S-mode.
		if h.Priv < PrivSupervisor || (h.Priv == PrivSupervisor && mstatus&mstatusSIE != 0) {
			return true, src.cause
		}
	}

	return false, 0
}
