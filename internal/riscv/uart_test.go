package riscv

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestUARTTransmitWritesToSink(t *testing.T) {
	var out bytes.Buffer
	u := NewUART(nil, &out)
	defer u.Close()

	u.Store(uartTHR, 1, 'h')
	u.Store(uartTHR, 1, 'i')

	if out.String() != "hi" {
		t.Fatalf("out = %q, want %q", out.String(), "hi")
	}
}

func TestUARTReceiveSetsDataReadyAndInterrupt(t *testing.T) {
	in := strings.NewReader("A")
	u := NewUART(in, &bytes.Buffer{})
	defer u.Close()

	u.Store(uartIER, 1, uint64(ierRxAvailable))

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if u.Pending() {
			break
		}
		time.Sleep(time.Millisecond)
	}
	if !u.Pending() {
		t.Fatalf("UART did not raise a receive interrupt in time")
	}

	lsr, _ := u.Load(uartLSR, 1)
	if lsr&uint64(lsrDataReady) == 0 {
		t.Fatalf("LSR.DR not set after a byte arrived")
	}

	v, _ := u.Load(uartRBR, 1)
	if v != 'A' {
		t.Fatalf("RBR = %q, want 'A'", rune(v))
	}
	if u.Pending() {
		t.Fatalf("reading RBR should clear the pending interrupt")
	}
}

func TestUARTNoInputReaderNeverReady(t *testing.T) {
	u := NewUART(nil, &bytes.Buffer{})
	defer u.Close()

	lsr, _ := u.Load(uartLSR, 1)
	if lsr&uint64(lsrDataReady) != 0 {
		t.Fatalf("LSR.DR set with no input reader attached")
	}
}
