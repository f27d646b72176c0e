// Package boot builds the flattened device tree a booted kernel image uses
// to discover the emulator's fixed memory map. It only builds the blob;
// cmd/emu copies it into guest DRAM and points a1 at it.
package boot

import (
	"github.com/tinyrange/riscv64emu/internal/fdt"
	"github.com/tinyrange/riscv64emu/internal/riscv"
)

// BuildDeviceTree returns an FDT blob describing DRAM, CLINT, PLIC, the
// UART and the virtio-blk MMIO window, sized per ramSize.
func BuildDeviceTree(ramSize uint64) []byte {
	b := fdt.NewBuilder()

	b.BeginNode("")
	b.AddPropertyU32("#address-cells", 2)
	b.AddPropertyU32("#size-cells", 2)
	b.AddPropertyString("compatible", "riscv-virtio")
	b.AddPropertyString("model", "riscv64emu")

	b.BeginNode("chosen")
	b.AddPropertyString("bootargs", "console=hvc0 earlycon=sbi")
	b.EndNode()

	b.BeginNode("cpus")
	b.AddPropertyU32("#address-cells", 1)
	b.AddPropertyU32("#size-cells", 0)
	b.AddPropertyU32("timebase-frequency", 10_000_000)

	b.BeginNode("cpu@0")
	b.AddPropertyU32("reg", 0)
	b.AddPropertyString("device_type", "cpu")
	b.AddPropertyString("compatible", "riscv")
	b.AddPropertyString("riscv,isa", "rv64im")
	b.AddPropertyString("mmu-type", "riscv,sv39")
	b.AddPropertyString("status", "okay")

	b.BeginNode("interrupt-controller")
	b.AddPropertyU32("#interrupt-cells", 1)
	b.AddPropertyEmpty("interrupt-controller")
	b.AddPropertyString("compatible", "riscv,cpu-intc")
	b.EndNode() // interrupt-controller

	b.EndNode() // cpu@0
	b.EndNode() // cpus

	b.BeginNode(memoryNodeName(riscv.DRAMBase))
	b.AddPropertyString("device_type", "memory")
	b.AddPropertyU64Pair("reg", riscv.DRAMBase, ramSize)
	b.EndNode()

	b.BeginNode(deviceNodeName("clint", riscv.CLINTBase))
	b.AddPropertyString("compatible", "riscv,clint0")
	b.AddPropertyU64Pair("reg", riscv.CLINTBase, riscv.CLINTSize)
	b.EndNode()

	b.BeginNode(deviceNodeName("plic", riscv.PLICBase))
	b.AddPropertyString("compatible", "riscv,plic0")
	b.AddPropertyU64Pair("reg", riscv.PLICBase, riscv.PLICSize)
	b.AddPropertyU32("#interrupt-cells", 1)
	b.AddPropertyEmpty("interrupt-controller")
	b.AddPropertyU32("riscv,ndev", 1023)
	b.EndNode()

	b.BeginNode(deviceNodeName("uart", riscv.UARTBase))
	b.AddPropertyString("compatible", "ns16550a")
	b.AddPropertyU64Pair("reg", riscv.UARTBase, riscv.UARTSize)
	b.AddPropertyU32("clock-frequency", 3686400)
	b.EndNode()

	b.BeginNode(deviceNodeName("virtio", riscv.VirtioBase))
	b.AddPropertyString("compatible", "virtio,mmio")
	b.AddPropertyU64Pair("reg", riscv.VirtioBase, riscv.VirtioSize)
	b.EndNode()

	b.EndNode() // root

	return b.Build()
}

func memoryNodeName(base uint64) string {
	return "memory@" + hex(base)
}

func deviceNodeName(kind string, base uint64) string {
	return kind + "@" + hex(base)
}

func hex(v uint64) string {
	const digits = "0123456789abcdef"
	if v == 0 {
		return "0"
	}
	var buf [16]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = digits[v&0xf]
		v >>= 4
	}
	return string(buf[i:])
}
