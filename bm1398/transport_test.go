// Copyright © 2026 HashSource, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package bm1398

import (
	"bytes"
	"errors"
	"sync"
	"testing"

	"github.com/hashsource/x19/fpga"
)

func TestSendCmd(t *testing.T) {
	noSleep(t)
	f := newFakeRegs()
	d := New(NewBus(f), 2)

	if err := d.ChainInactive(); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(f.lastFrame(5), []byte{0x53, 0x05, 0x00, 0x00, 0x18}) {
		t.Error("wrong frame", f.lastFrame(5))
	}
	trig := f.triggers[0]
	if trig&fpga.BCReady == 0 {
		t.Error("trigger missing ready bit")
	}
	if trig&fpga.BCChainMask != fpga.BCChainSel(2) {
		t.Errorf("trigger chain select 0x%08x", trig)
	}
	// The fake clears the ready bit when it consumes the frame.
	if f.Read32(fpga.BCWriteCommand)&fpga.BCReady != 0 {
		t.Error("ready bit still set")
	}
}

func TestSendCmdLength(t *testing.T) {
	noSleep(t)
	d := New(NewBus(newFakeRegs()), 0)
	if err := d.sendCmd(make([]byte, 13)); !errors.Is(err, ErrFrameLen) {
		t.Error("13-byte frame accepted:", err)
	}
	if err := d.sendCmd(nil); !errors.Is(err, ErrFrameLen) {
		t.Error("empty frame accepted:", err)
	}
	if err := d.sendCmd(make([]byte, 12)); err != nil {
		t.Error("12-byte frame rejected:", err)
	}
}

// Two chains on one board share the broadcast buffer. Frames sent from
// both drivers at once must come out whole, never interleaved.
func TestSendCmdSharedBus(t *testing.T) {
	noSleep(t)
	f := newFakeRegs()
	bus := NewBus(f)
	d0 := New(bus, 0)
	d1 := New(bus, 1)

	const rounds = 200
	var wg sync.WaitGroup
	send := func(d *Driver, reg byte, val uint32) {
		defer wg.Done()
		for i := 0; i < rounds; i++ {
			if err := d.WriteRegister(Broadcast(), reg, val); err != nil {
				t.Error(err)
				return
			}
		}
	}
	wg.Add(2)
	go send(d0, RegTicketMask, 0x11111111)
	go send(d1, RegDiodeMux, 0x22222222)
	wg.Wait()

	want0 := writeRegFrame(Broadcast(), RegTicketMask, 0x11111111)
	want1 := writeRegFrame(Broadcast(), RegDiodeMux, 0x22222222)
	if len(f.frames) != 2*rounds {
		t.Fatal("frame count", len(f.frames))
	}
	var n0, n1 int
	for _, fr := range f.frames {
		switch {
		case bytes.Equal(fr[:len(want0)], want0):
			n0++
		case bytes.Equal(fr[:len(want1)], want1):
			n1++
		default:
			t.Fatalf("corrupt frame % x", fr)
		}
	}
	if n0 != rounds || n1 != rounds {
		t.Error("frame split", n0, n1)
	}
}

func TestSendCmdTimeout(t *testing.T) {
	noSleep(t)
	f := newFakeRegs()
	f.stuck = true
	d := New(NewBus(f), 1)
	if err := d.ChainInactive(); !errors.Is(err, ErrTimeout) {
		t.Error("expected timeout, got", err)
	}
}
