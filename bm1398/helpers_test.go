// Copyright © 2026 HashSource, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package bm1398

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/hashsource/x19/fpga"
)

// fakeRegs simulates the FPGA register window: broadcast commands are
// consumed immediately and captured, work words are recorded per slot.
type fakeRegs struct {
	reg      map[uint32]uint32
	buf      [12]byte
	frames   [][]byte // consumed broadcast frames, padded to 12 bytes
	triggers []uint32 // raw trigger writes
	slotA    []uint32
	slotB    []uint32
	timeouts []uint32 // SetTimeout frequencies
	stuck    bool     // never clear the ready bit
	failAt   int      // 1-based trigger index where the ready bit sticks
}

func newFakeRegs() *fakeRegs {
	return &fakeRegs{reg: make(map[uint32]uint32)}
}

func (f *fakeRegs) Read32(off uint32) uint32 { return f.reg[off] }

func (f *fakeRegs) Write32(off, v uint32) {
	switch {
	case off >= fpga.BCCommandBuf && off < fpga.BCCommandBuf+12:
		binary.LittleEndian.PutUint32(f.buf[off-fpga.BCCommandBuf:], v)
	case off == fpga.BCWriteCommand && v&fpga.BCReady != 0:
		f.triggers = append(f.triggers, v)
		frame := make([]byte, len(f.buf))
		copy(frame, f.buf[:])
		f.frames = append(f.frames, frame)
		if !f.stuck && !(f.failAt > 0 && len(f.triggers) >= f.failAt) {
			v &^= fpga.BCReady
		}
	case off == fpga.WorkSlotA:
		f.slotA = append(f.slotA, v)
	case off == fpga.WorkSlotB:
		f.slotB = append(f.slotB, v)
	}
	f.reg[off] = v
}

func (f *fakeRegs) SetTimeout(freqMHz uint32) {
	f.timeouts = append(f.timeouts, freqMHz)
}

// lastFrame returns the n leading bytes of the most recent frame.
func (f *fakeRegs) lastFrame(n int) []byte {
	if len(f.frames) == 0 {
		return nil
	}
	return f.frames[len(f.frames)-1][:n]
}

// noSleep suppresses settle delays for the duration of a test.
func noSleep(t *testing.T) {
	t.Helper()
	saved := sleep
	sleep = func(time.Duration) {}
	t.Cleanup(func() { sleep = saved })
}
