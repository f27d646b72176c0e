// Command emu boots a flat RV64 binary image against a minimal
// machine/supervisor-mode emulator: DRAM, CLINT, PLIC, a 16550 UART wired to
// the controlling terminal, and an optional virtio-blk disk.
package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"golang.org/x/term"

	"github.com/tinyrange/riscv64emu/internal/riscv"
	"github.com/tinyrange/riscv64emu/internal/riscv/boot"
	"github.com/tinyrange/riscv64emu/internal/riscv/virtio"
)

func main() {
	if err := run(); err != nil {
		var ex *riscv.Exception
		if errors.As(err, &ex) {
			fmt.Fprintf(os.Stderr, "emu: guest halted: %s\n", ex.Error())
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "emu: %s\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		ramSize  = flag.Uint64("ram", riscv.DefaultDRAMSize, "DRAM size in bytes")
		diskPath = flag.String("disk", "", "optional virtio-blk disk image")
		dtb      = flag.Bool("dtb", false, "publish a flattened device tree at the top of DRAM")
		verbose  = flag.Bool("v", false, "enable debug logging")
	)
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] <image.bin>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if flag.NArg() != 1 {
		flag.Usage()
		return fmt.Errorf("expected exactly one image argument")
	}
	imagePath := flag.Arg(0)

	image, err := os.ReadFile(imagePath)
	if err != nil {
		return fmt.Errorf("reading image: %w", err)
	}

	var disk virtio.Disk
	if *diskPath != "" {
		f, err := os.OpenFile(*diskPath, os.O_RDWR, 0)
		if err != nil {
			return fmt.Errorf("opening disk: %w", err)
		}
		defer f.Close()
		disk = fileDisk{f}
	}

	stdin := int(os.Stdin.Fd())
	var restore func()
	if term.IsTerminal(stdin) {
		prev, err := term.MakeRaw(stdin)
		if err != nil {
			slog.Warn("failed to enable raw terminal mode", "err", err)
		} else {
			restore = func() { term.Restore(stdin, prev) }
			defer restore()
		}
	}

	m := riscv.NewMachine(*ramSize, os.Stdin, os.Stdout, disk)
	defer m.UART.Close()
	m.LoadImage(image)

	if *dtb {
		blob := boot.BuildDeviceTree(*ramSize)
		off := *ramSize - uint64(len(blob))
		m.DRAM.LoadBytes(off, blob)
		m.Hart.WriteReg(11, riscv.DRAMBase+off)
		slog.Debug("published device tree", "size", len(blob), "addr", riscv.DRAMBase+off)
	}

	slog.Info("booting", "image", imagePath, "ram", *ramSize, "disk", *diskPath)

	stop := make(chan struct{})
	defer close(stop)
	return m.Run(stop)
}

// fileDisk adapts *os.File to virtio.Disk.
type fileDisk struct{ f *os.File }

func (d fileDisk) ReadAt(p []byte, off int64) (int, error)  { return d.f.ReadAt(p, off) }
func (d fileDisk) WriteAt(p []byte, off int64) (int, error) { return d.f.WriteAt(p, off) }
func (d fileDisk) Size() int64 {
	info, err := d.f.Stat()
	if err != nil {
		return 0
	}
	return info.Size()
}
