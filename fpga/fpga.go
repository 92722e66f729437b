// Copyright © 2026 HashSource, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

// Package fpga provides bounds-checked access to the Zynq FPGA register
// window that bridges the host CPU to the hash chains. The FPGA is the
// only bus master between the two, so every host-visible chain operation
// goes through this window.
package fpga

import (
	"fmt"
	"os"
	"sync/atomic"
	"syscall"
	"unsafe"
)

const (
	// DefaultDevice is the char device exported by the bitmain_axi
	// kernel module.
	DefaultDevice = "/dev/axi_fpga_dev"

	// Size of the mapped register window in bytes.
	Size = 0x1200
)

// Regs is a memory-mapped FPGA register window. All accesses are 32-bit
// and word-aligned; offsets are byte offsets from the window base. The
// window is process-wide shared mutable state: exactly one Regs should
// exist per device.
type Regs struct {
	mem   []byte
	words *[Size / 4]uint32
}

// Open maps the register window of the default FPGA device.
func Open() (*Regs, error) {
	return OpenDevice(DefaultDevice)
}

// OpenDevice maps the register window of the named device.
func OpenDevice(device string) (*Regs, error) {
	f, err := os.OpenFile(device, os.O_RDWR|os.O_SYNC, 0)
	if err != nil {
		return nil, fmt.Errorf("fpga: %w (is bitmain_axi.ko loaded?)", err)
	}
	defer f.Close()
	mem, err := syscall.Mmap(int(f.Fd()), 0, Size,
		syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("fpga: mmap %s: %w", device, err)
	}
	return wrap(mem), nil
}

// NewMem returns a Regs over anonymous memory instead of the device.
// It backs simulated targets in tests and has no hardware side effects.
func NewMem() *Regs {
	mem, err := syscall.Mmap(-1, 0, Size,
		syscall.PROT_READ|syscall.PROT_WRITE,
		syscall.MAP_PRIVATE|syscall.MAP_ANON)
	if err != nil {
		panic(err)
	}
	return wrap(mem)
}

func wrap(mem []byte) *Regs {
	return &Regs{
		mem:   mem,
		words: (*[Size / 4]uint32)(unsafe.Pointer(&mem[0])),
	}
}

// Close unmaps the register window. The Regs must not be used afterward.
func (r *Regs) Close() error {
	if r.mem == nil {
		return nil
	}
	err := syscall.Munmap(r.mem)
	r.mem = nil
	r.words = nil
	return err
}

func check(off uint32) {
	if off >= Size {
		panic(fmt.Errorf("fpga: register offset 0x%x out of range", off))
	}
	if off&3 != 0 {
		panic(fmt.Errorf("fpga: register offset 0x%x not word aligned", off))
	}
}

// Read32 returns the register at byte offset off. Every read hits
// hardware; nothing is cached by this layer.
func (r *Regs) Read32(off uint32) uint32 {
	check(off)
	return atomic.LoadUint32(&r.words[off/4])
}

// Write32 stores v at byte offset off. The atomic store doubles as the
// full memory barrier the FPGA needs: it does not snoop the CPU's
// write-combining buffers.
func (r *Regs) Write32(off uint32, v uint32) {
	check(off)
	atomic.StoreUint32(&r.words[off/4], v)
}

// Merge read-modify-writes the register at off, clearing the bits in
// mask and setting the bits in v. Dual-purpose registers shared with
// the FPGA fabric must be updated this way to preserve unrelated bits.
func (r *Regs) Merge(off, mask, v uint32) {
	r.Write32(off, (r.Read32(off)&^mask)|v)
}
