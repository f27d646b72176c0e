package riscv

import (
	"io"
	"os"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// 16550-compatible register offsets, relative to UARTBase. DLAB (LCR bit 7)
// switches the 0/1 offsets between the data/interrupt-enable registers and
// the divisor latch; the divisor latch is accepted and ignored since this
// UART has no real baud rate.
const (
	uartRBR uint64 = 0 // receiver buffer (read, DLAB=0)
	uartTHR uint64 = 0 // transmitter holding (write, DLAB=0)
	uartDLL uint64 = 0 // divisor latch low (DLAB=1)
	uartIER uint64 = 1 // interrupt enable (DLAB=0)
	uartDLM uint64 = 1 // divisor latch high (DLAB=1)
	uartIIR uint64 = 2 // interrupt identification (read)
	uartFCR uint64 = 2 // FIFO control (write)
	uartLCR uint64 = 3 // line control
	uartMCR uint64 = 4 // modem control
	uartLSR uint64 = 5 // line status
	uartMSR uint64 = 6 // modem status
	uartSCR uint64 = 7 // scratch
)

const (
	lsrDataReady   uint8 = 1 << 0
	lsrTHREmpty    uint8 = 1 << 5
	lsrTransEmpty  uint8 = 1 << 6
	ierRxAvailable uint8 = 1 << 0
)

// UARTUnit is the PLIC source number the UART asserts.
const UARTUnit uint32 = 10

// UART is a 16550-compatible serial port. Receive is driven by a dedicated
// goroutine reading from an io.Reader (stdin in the CLI, a bytes.Reader in
// tests) one byte at a time, pushing each byte into a one-byte-deep buffer
// guarded by a mutex/condvar pair — exactly the model the original Rust
// implementation uses (Mutex+Condvar holding the byte, a separate atomic
// flag for "an unconsumed interrupt condition exists"), translated into Go's
// sync primitives rather than the push-style "enqueue from the host" UARTs
// common in other emulators.
type UART struct {
	mu   sync.Mutex
	cond *sync.Cond

	rxByte  uint8
	rxFull  bool
	ier     uint8
	lcr     uint8

	interruptPending atomic.Bool

	out io.Writer

	closed   atomic.Bool
	stopPipe [2]int // self-pipe used to wake a blocked unix.Poll on Close
}

// NewUART creates a UART whose transmitted bytes (THR writes) are copied to
// out, and starts the receive goroutine reading from in. in may be nil, in
// which case the UART accepts no input (reads of RBR always return 0 with
// LSR.DR clear).
func NewUART(in io.Reader, out io.Writer) *UART {
	u := &UART{out: out, stopPipe: [2]int{-1, -1}}
	u.cond = sync.NewCond(&u.mu)
	if in != nil {
		if f, ok := in.(*os.File); ok {
			if fds, err := unixPipe(); err == nil {
				u.stopPipe = fds
				go u.receiveLoopFd(f)
				return u
			}
		}
		go u.receiveLoop(in)
	}
	return u
}

func unixPipe() ([2]int, error) {
	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		return [2]int{-1, -1}, err
	}
	return fds, nil
}

// receiveLoopFd is the *os.File fast path: it multiplexes the terminal fd
// against a self-pipe with unix.Poll so Close can wake a blocked reader
// immediately, rather than leaving the goroutine parked in a read syscall
// until the next keystroke arrives.
func (u *UART) receiveLoopFd(f *os.File) {
	fd := int(f.Fd())
	buf := make([]byte, 1)
	for {
		fds := []unix.PollFd{
			{Fd: int32(fd), Events: unix.POLLIN},
			{Fd: int32(u.stopPipe[0]), Events: unix.POLLIN},
		}
		if _, err := unix.Poll(fds, -1); err != nil {
			if err == unix.EINTR {
				continue
			}
			return
		}
		if u.closed.Load() || fds[1].Revents&unix.POLLIN != 0 {
			return
		}
		if fds[0].Revents&unix.POLLIN == 0 {
			continue
		}

		n, err := unix.Read(fd, buf)
		if err != nil || n == 0 {
			if err == unix.EINTR || err == unix.EAGAIN {
				continue
			}
			return
		}

		u.deliver(buf[0])
	}
}

// receiveLoop is the portable fallback for any io.Reader (used by tests):
// it cannot be woken early by Close, only by the reader returning EOF or an
// error, since a plain io.Reader has no fd to multiplex against.
func (u *UART) receiveLoop(in io.Reader) {
	buf := make([]byte, 1)
	for {
		n, err := in.Read(buf)
		if u.closed.Load() {
			return
		}
		if err != nil {
			if err == io.EOF {
				return
			}
			continue
		}
		if n == 0 {
			continue
		}
		u.deliver(buf[0])
	}
}

// deliver deposits b in the single-byte receive buffer, blocking on the
// condvar while a previous byte is still unconsumed. This mirrors a
// hardware UART's one-character FIFO more faithfully than an unbounded
// channel would, so a guest that is slow to drain RBR sees backpressure
// rather than silently buffered input.
func (u *UART) deliver(b byte) {
	u.mu.Lock()
	for u.rxFull {
		u.cond.Wait()
		if u.closed.Load() {
			u.mu.Unlock()
			return
		}
	}
	u.rxByte = b
	u.rxFull = true
	u.mu.Unlock()

	u.interruptPending.Store(true)
}

// Close stops the receive goroutine. Safe to call even if NewUART was given
// a nil reader.
func (u *UART) Close() {
	u.closed.Store(true)
	u.cond.Broadcast()
	if u.stopPipe[1] >= 0 {
		unix.Write(u.stopPipe[1], []byte{0})
	}
}

// Pending reports whether the UART has an unserviced receive interrupt that
// the run loop should raise on the PLIC. It does not clear the flag: the
// condition stays asserted (level-style) until the guest reads RBR.
func (u *UART) Pending() bool {
	return u.interruptPending.Load() && u.ier&ierRxAvailable != 0
}

// UART registers are byte-wide; anything but a 1-byte access faults, per
// the original implementation (`uart.rs` rejects any size other than a
// single byte).
func (u *UART) Load(addr uint64, size uint) (uint64, error) {
	if size != 1 {
		return 0, raise(CauseLoadAccessFault, UARTBase+addr)
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	dlab := u.lcr&0x80 != 0

	switch addr {
	case uartRBR: // also uartDLL when dlab
		if dlab {
			return 0, nil
		}
		if u.rxFull {
			v := u.rxByte
			u.rxFull = false
			u.interruptPending.Store(false)
			u.cond.Signal()
			return uint64(v), nil
		}
		return 0, nil
	case uartIER: // also uartDLM when dlab
		if dlab {
			return 0, nil
		}
		return uint64(u.ier), nil
	case uartIIR:
		if u.Pending() {
			return 0x04, nil // RX data available, highest priority
		}
		return 0x01, nil // no interrupt pending
	case uartLCR:
		return uint64(u.lcr), nil
	case uartLSR:
		lsr := lsrTHREmpty | lsrTransEmpty
		if u.rxFull {
			lsr |= lsrDataReady
		}
		return uint64(lsr), nil
	default:
		return 0, nil
	}
}

func (u *UART) Store(addr uint64, size uint, value uint64) error {
	if size != 1 {
		return raise(CauseStoreAMOAccessFault, UARTBase+addr)
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	dlab := u.lcr&0x80 != 0

	switch addr {
	case uartTHR: // also uartDLL when dlab
		if dlab {
			return nil
		}
		if u.out != nil {
			u.out.Write([]byte{byte(value)})
		}
	case uartIER: // also uartDLM when dlab
		if dlab {
			return nil
		}
		u.ier = uint8(value)
	case uartFCR:
		// FIFO control: this UART has no real FIFO to enable/reset.
	case uartLCR:
		u.lcr = uint8(value)
	default:
	}
	return nil
}
