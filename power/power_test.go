// Copyright © 2026 HashSource, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package power

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/hashsource/x19/fpga"
)

// fakeI2C simulates the FPGA I2C controller: always ready, write
// commands are recorded, read commands pop from a queued response or
// echo the last written byte.
type fakeI2C struct {
	reg       map[uint32]uint32
	writes    []uint32
	rx        []byte
	echo      bool
	lastWrite byte
}

func newFakeI2C() *fakeI2C {
	f := &fakeI2C{reg: make(map[uint32]uint32)}
	f.reg[fpga.IicCommand] = i2cReady
	return f
}

func (f *fakeI2C) Read32(off uint32) uint32 { return f.reg[off] }

func (f *fakeI2C) Write32(off, v uint32) {
	if off != fpga.IicCommand {
		f.reg[off] = v
		return
	}
	f.writes = append(f.writes, v)
	var b byte
	if v&i2cReadOp != 0 {
		if len(f.rx) > 0 {
			b, f.rx = f.rx[0], f.rx[1:]
		} else if f.echo {
			b = f.lastWrite
		}
	} else {
		f.lastWrite = byte(v)
	}
	// Bits [31:30] = 10: data ready, and the ready bit for the next
	// command.
	f.reg[off] = 2<<i2cDataShift | uint32(b)
}

// sentBytes extracts the data bytes of all write commands.
func (f *fakeI2C) sentBytes() []byte {
	var out []byte
	for _, v := range f.writes {
		if v&i2cReadOp == 0 {
			out = append(out, byte(v))
		}
	}
	return out
}

// queue appends a sealed 8-byte response frame.
func (f *fakeI2C) queue(b ...byte) { f.rx = append(f.rx, b...) }

type fakePin struct{ values []bool }

func (p *fakePin) SetValue(v bool) error {
	p.values = append(p.values, v)
	return nil
}

func noSleep(t *testing.T) {
	t.Helper()
	saved := sleep
	sleep = func(time.Duration) {}
	t.Cleanup(func() { sleep = saved })
}

func TestVoltageSteps(t *testing.T) {
	if n := voltageSteps(13000); n != 167 {
		t.Error("13000 mV ->", n)
	}
	if n := voltageSteps(15000); n != 9 {
		t.Error("15000 mV ->", n)
	}
	if n := voltageSteps(14000); n != 88 {
		t.Error("14000 mV ->", n)
	}
	// Out-of-band requests clamp to the working range.
	if n := voltageSteps(17000); n != 9 {
		t.Error("17000 mV ->", n)
	}
	if n := voltageSteps(11000); n != 246 {
		t.Error("11000 mV ->", n)
	}
}

func TestSeal(t *testing.T) {
	f := seal([]byte{psuMagic1, psuMagic2, 4, cmdGetType})
	if !bytes.Equal(f, []byte{0x55, 0xAA, 0x04, 0x02, 0x06, 0x00}) {
		t.Errorf("sealed frame %x", f)
	}
	// Sum carries into the second checksum byte.
	f = seal([]byte{psuMagic1, psuMagic2, 0xFF, 0xFF, 0xFF})
	if f[5] != 0xFD || f[6] != 0x02 {
		t.Errorf("checksum bytes %x", f[5:])
	}
}

func TestPsuCmd(t *testing.T) {
	w := psuCmd(psuRegV2, 0xF5, false)
	if w != 0x052011F5 {
		t.Errorf("write cmd 0x%08x", w)
	}
	r := psuCmd(psuRegV2, 0, true)
	if r&i2cReadOp == 0 || r&i2cRead1Byte == 0 {
		t.Errorf("read cmd 0x%08x", r)
	}
	if r&0xFF != 0 {
		t.Errorf("read cmd carries data 0x%08x", r)
	}
}

func TestPicCmd(t *testing.T) {
	w := picCmd(1, 0x55, false)
	// Slave 0x42: high nibble 4 at [23:20], low bits at [18:15].
	if w != 0x00400000|0x2<<15|0x55 {
		t.Errorf("pic cmd 0x%08x", w)
	}
	if picCmd(0, 0, true)&(i2cReadOp|i2cRead1Byte) != i2cReadOp|i2cRead1Byte {
		t.Error("pic read bits missing")
	}
}

func TestPowerOn(t *testing.T) {
	noSleep(t)
	f := newFakeI2C()
	f.echo = true // protocol probe reads back the scratch byte
	pin := &fakePin{}
	c := New(f, pin)

	f.queue(0x55, 0xAA, 0x08, cmdGetType, versionAPW12, 0, 0, 0)
	f.queue(0x55, 0xAA, 0x08, cmdSetVoltage, 0, 0, 0, 0)
	if err := c.PowerOn(13000); err != nil {
		t.Fatal(err)
	}
	if c.Version() != versionAPW12 {
		t.Errorf("version 0x%02x", c.Version())
	}
	if len(pin.values) != 1 || pin.values[0] != false {
		t.Error("enable line not driven low", pin.values)
	}

	// The voltage frame must carry the step encoding of 13000 mV.
	sent := f.sentBytes()
	want := seal([]byte{0x55, 0xAA, 6, cmdSetVoltage, 167, 0})
	if !bytes.Contains(sent, want) {
		t.Errorf("voltage frame not sent: %x", sent)
	}
}

func TestSetVoltageBeforeDetect(t *testing.T) {
	noSleep(t)
	c := New(newFakeI2C(), nil)
	if err := c.SetVoltage(13000); !errors.Is(err, ErrNotDetected) {
		t.Error("undetected psu accepted:", err)
	}
	c.version = 0x55
	if err := c.SetVoltage(13000); !errors.Is(err, ErrBadVersion) {
		t.Error("unknown psu version accepted:", err)
	}
}

func TestTransactRetry(t *testing.T) {
	noSleep(t)
	f := newFakeI2C()
	c := New(f, nil)
	// First response garbled, second good: transact must retry.
	f.queue(0, 0, 0, 0, 0, 0, 0, 0)
	f.queue(0x55, 0xAA, 0, 0, 0x33, 0, 0, 0)
	rx, err := c.transact(seal([]byte{0x55, 0xAA, 4, cmdGetType}), 8)
	if err != nil {
		t.Fatal(err)
	}
	if rx[4] != 0x33 {
		t.Error("wrong response", rx)
	}
}

func TestTransactExhausted(t *testing.T) {
	noSleep(t)
	c := New(newFakeI2C(), nil)
	if _, err := c.transact(seal([]byte{0x55, 0xAA, 4, cmdGetType}), 8); !errors.Is(err, ErrNoResponse) {
		t.Error("expected no-response error, got", err)
	}
}

func TestEnableDCDC(t *testing.T) {
	noSleep(t)
	f := newFakeI2C()
	c := New(f, nil)

	f.queue(picCmdEnableDCDC, 0x01)
	if err := c.EnableDCDC(1); err != nil {
		t.Fatal(err)
	}
	want := []byte{0x55, 0xAA, 0x05, 0x15, 0x01, 0x00, 0x1B}
	if !bytes.Equal(f.sentBytes(), want) {
		t.Errorf("dc-dc frame %x != %x", f.sentBytes(), want)
	}

	f2 := newFakeI2C()
	c2 := New(f2, nil)
	f2.queue(0xEE, 0xEE)
	if err := c2.EnableDCDC(0); !errors.Is(err, ErrNoResponse) {
		t.Error("bad pic response accepted:", err)
	}
}
