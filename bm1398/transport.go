// Copyright © 2026 HashSource, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package bm1398

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashsource/x19/fpga"
)

var (
	ErrTimeout  = errors.New("command transport timeout")
	ErrFrameLen = errors.New("command frame exceeds broadcast buffer")
)

const (
	bcFrameMax   = 12 // three words of broadcast buffer
	bcPollBudget = 10 * time.Millisecond
	bcPollStep   = time.Microsecond
)

// Bus is one FPGA register window shared by every chain on the board.
// The broadcast-command buffer and the work FIFO are single hardware
// resources, so the lock that serializes them has to live here rather
// than in any one chain's Driver. Create one Bus per window and hand
// it to each Driver.
type Bus struct {
	RegIO
	mu sync.Mutex
}

// NewBus returns a Bus over regs.
func NewBus(regs RegIO) *Bus { return &Bus{RegIO: regs} }

// sendCmd loads one UART frame into the broadcast buffer and triggers
// transmission on the driver's chain, blocking until the FPGA drains
// it. Frames are packed little-endian into up to three words; the FPGA
// serializes them onto the chain at the configured baud. The bus lock
// is held from the first buffer write until the ready bit clears so
// frames from different chains never interleave.
func (d *Driver) sendCmd(frame []byte) error {
	if len(frame) == 0 || len(frame) > bcFrameMax {
		return fmt.Errorf("%w: %d bytes", ErrFrameLen, len(frame))
	}
	d.bus.mu.Lock()
	defer d.bus.mu.Unlock()

	var buf [bcFrameMax]byte
	copy(buf[:], frame)
	for i := uint32(0); i < uint32(len(frame)+3)/4; i++ {
		d.bus.Write32(fpga.BCCommandBuf+4*i,
			binary.LittleEndian.Uint32(buf[4*i:]))
	}
	d.bus.Write32(fpga.BCWriteCommand, fpga.BCReady|fpga.BCChainSel(d.chain))
	return d.waitCmdDrained()
}

// waitCmdDrained polls the trigger register until the FPGA clears the
// ready bit. Called with the bus lock held.
func (d *Driver) waitCmdDrained() error {
	deadline := time.Now().Add(bcPollBudget)
	for d.bus.Read32(fpga.BCWriteCommand)&fpga.BCReady != 0 {
		if time.Now().After(deadline) {
			return fmt.Errorf("chain %d: %w", d.chain, ErrTimeout)
		}
		sleep(bcPollStep)
	}
	return nil
}
