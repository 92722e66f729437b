// Copyright © 2026 HashSource, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

// Package bm1398 drives chains of BM1398 hash ASICs through the FPGA
// register window. It covers the chip-side UART command protocol, chain
// reset and configuration, PLL and baud programming, work submission
// and nonce collection for the S19 Pro hashboard.
package bm1398

import "time"

// RegIO is the register access a Driver needs. SetTimeout is part of
// the contract because chain configuration must program the FPGA nonce
// timeout for the chosen frequency. *fpga.Regs satisfies it; tests
// substitute a simulated window.
type RegIO interface {
	Read32(off uint32) uint32
	Write32(off, v uint32)
	SetTimeout(freqMHz uint32)
}

// Chip-side register addresses, reached over the chain UART.
const (
	RegChipAddr       byte = 0x00
	RegPLL0           byte = 0x08
	RegHashCounting   byte = 0x10
	RegTicketMask     byte = 0x14
	RegClockCtrl      byte = 0x18
	RegWorkRolling    byte = 0x1C
	RegWorkConfig     byte = 0x20
	RegBaudConfig     byte = 0x28
	RegResetCtrl      byte = 0x34
	RegCoreConfig     byte = 0x3C
	RegCoreParam      byte = 0x44
	RegDiodeMux       byte = 0x54
	RegIODriver       byte = 0x58
	RegPLL1           byte = 0x60
	RegPLL2           byte = 0x64
	RegPLL3           byte = 0x68
	RegVersionRolling byte = 0xA4
	RegSoftReset      byte = 0xA8
)

// Core-config register command words. The low half encodes an all-cores
// flag, a core register id and a payload byte.
const (
	coreConfigResetA  uint32 = 0x8000851F
	coreConfigResetB  uint32 = 0x80000600
	coreConfigBase    uint32 = 0x80008700
	coreConfigEnable  uint32 = 0x800082AA
	coreConfigNoNOvf  uint32 = 0x80008800
	softResetAllCores uint32 = 0xFFFFFFFF
)

// Ticket mask values. All cores during bring-up, reduced for mining so
// the FIFO is not flooded with low-difficulty nonces.
const (
	ticketMaskAllCores uint32 = 0xFFFFFFFF
	ticketMask256Cores uint32 = 0x000000FF
)

// S19 Pro chain topology.
const (
	ChipsPerChainS19Pro = 114
	MaxChipAddr         = 256
)

var sleep = time.Sleep
