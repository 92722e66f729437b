// Copyright © 2026 HashSource, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package bm1398

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/hashsource/x19/fpga"
)

var ErrFIFOFull = errors.New("work FIFO full")

// WorkPacketSize is the wire size of one work packet: a 4-byte header,
// the work id, the last 12 bytes of the block header, and 4 midstates.
const WorkPacketSize = 4 + 4 + 12 + 4*32

const workType = 0x01

// Work is one unit of hashing work for a chain. WorkID comes back with
// any nonce the chain finds. A single midstate is duplicated across all
// four slots; version-rolling work fills them individually.
type Work struct {
	WorkID    uint32
	Header    [12]byte // block header tail: ntime, nbits, start nonce
	Midstates [4][32]byte
}

// SingleMidstate returns a Work with one midstate copied into all four
// slots.
func SingleMidstate(id uint32, header [12]byte, mid [32]byte) Work {
	w := Work{WorkID: id, Header: header}
	for i := range w.Midstates {
		w.Midstates[i] = mid
	}
	return w
}

// packet serializes w for the given chain: header bytes, big-endian
// work id, header tail, midstates, then a big-endian swap of every
// 32-bit word. The FPGA expects the swapped form.
func (w Work) packet(chain int) [WorkPacketSize]byte {
	var p [WorkPacketSize]byte
	p[0] = workType
	p[1] = byte(chain) | 0x80
	binary.BigEndian.PutUint32(p[4:8], w.WorkID)
	copy(p[8:20], w.Header[:])
	for i := range w.Midstates {
		copy(p[20+32*i:], w.Midstates[i][:])
	}
	swapWords(p[:])
	return p
}

// swapWords byte-swaps every 32-bit word of b in place. Applying it
// twice is the identity.
func swapWords(b []byte) {
	for i := 0; i+4 <= len(b); i += 4 {
		binary.LittleEndian.PutUint32(b[i:], binary.BigEndian.Uint32(b[i:]))
	}
}

// SubmitWork serializes w and pushes it into the FPGA work FIFO for the
// driver's chain: the first word to the lead register, the rest to the
// FIFO register. The chain must be ready and the FIFO must have space.
func (d *Driver) SubmitWork(w Work) error {
	if d.State() != StateReady {
		return fmt.Errorf("chain %d in state %s: %w",
			d.chain, d.State(), ErrBadState)
	}
	p := w.packet(d.chain)
	d.bus.mu.Lock()
	defer d.bus.mu.Unlock()
	if d.bus.Read32(fpga.BufferSpace) == 0 {
		return fmt.Errorf("chain %d: %w", d.chain, ErrFIFOFull)
	}
	d.bus.Write32(fpga.WorkSlotA, binary.LittleEndian.Uint32(p[0:4]))
	for i := 4; i < len(p); i += 4 {
		d.bus.Write32(fpga.WorkSlotB, binary.LittleEndian.Uint32(p[i:]))
	}
	return nil
}
