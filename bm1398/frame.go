// Copyright © 2026 HashSource, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package bm1398

import "encoding/binary"

// UART command preambles. Bit 4 of the preamble selects broadcast.
const (
	preSetAddress    byte = 0x40
	preWriteReg      byte = 0x41
	preReadReg       byte = 0x42
	preWriteBcast    byte = 0x51
	preReadBcast     byte = 0x52
	preChainInactive byte = 0x53

	lenShort byte = 5 // address and chain-inactive frames
	lenLong  byte = 9 // register read/write frames
)

// Destination selects which chips on a chain a register command
// addresses: a single chip by its enumerated address, or all of them.
type Destination struct {
	broadcast bool
	chip      byte
}

// Broadcast addresses every chip on the chain at once.
func Broadcast() Destination { return Destination{broadcast: true} }

// Chip addresses the single chip with the given enumerated address.
func Chip(addr byte) Destination { return Destination{chip: addr} }

// crc5 computes the chip UART checksum over the first bits bits of
// data, MSB first. Initial value 0x1F, polynomial 0x05, and the data
// bit is folded into the shift before the polynomial is applied.
func crc5(data []byte, bits int) byte {
	crc := byte(0x1F)
	for i := 0; i < bits; i++ {
		bit := (data[i/8] >> (7 - uint(i)%8)) & 1
		if (crc>>4)&1 != bit {
			crc = ((crc << 1) | bit) ^ 0x05
		} else {
			crc = (crc << 1) | bit
		}
		crc &= 0x1F
	}
	return crc
}

// setAddressFrame assigns addr to the next unaddressed chip in the
// relay. Only valid after a chain-inactive frame.
func setAddressFrame(addr byte) []byte {
	f := []byte{preSetAddress, lenShort, addr, 0x00, 0x00}
	f[4] = crc5(f, 32)
	return f
}

// chainInactiveFrame halts the UART relay so chips stop forwarding
// commands downstream.
func chainInactiveFrame() []byte {
	f := []byte{preChainInactive, lenShort, 0x00, 0x00, 0x00}
	f[4] = crc5(f, 32)
	return f
}

// writeRegFrame writes val to the chip register reg on dst.
func writeRegFrame(dst Destination, reg byte, val uint32) []byte {
	f := make([]byte, lenLong)
	f[0] = preWriteReg
	if dst.broadcast {
		f[0] = preWriteBcast
	}
	f[1] = lenLong
	f[2] = dst.chip
	f[3] = reg
	binary.BigEndian.PutUint32(f[4:8], val)
	f[8] = crc5(f, 64)
	return f
}

// readRegFrame requests the chip register reg from dst. The response
// arrives through the FPGA return FIFO.
func readRegFrame(dst Destination, reg byte) []byte {
	f := make([]byte, lenLong)
	f[0] = preReadReg
	if dst.broadcast {
		f[0] = preReadBcast
	}
	f[1] = lenLong
	f[2] = dst.chip
	f[3] = reg
	f[8] = crc5(f, 64)
	return f
}
