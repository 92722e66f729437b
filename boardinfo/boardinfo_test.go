// Copyright © 2026 HashSource, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package boardinfo

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/hashsource/x19/fpga"
)

func TestXxteaRoundTrip(t *testing.T) {
	v := []uint32{0x11223344, 0x55667788, 0x99AABBCC, 0xDDEEFF00,
		0x01234567, 0x89ABCDEF, 0xFEDCBA98, 0x76543210,
		0xDEADBEEF, 0xCAFEF00D, 0x00000000, 0xFFFFFFFF,
		0x13579BDF, 0x2468ACE0, 0x0F1E2D3C, 0x4B5A6978,
		0x00000001, 0x80000000}
	orig := make([]uint32, len(v))
	copy(orig, v)

	xxteaEncrypt(v)
	same := true
	for i := range v {
		if v[i] != orig[i] {
			same = false
		}
	}
	if same {
		t.Fatal("encrypt was a no-op")
	}
	xxteaDecrypt(v)
	for i := range v {
		if v[i] != orig[i] {
			t.Fatalf("word %d: 0x%08x != 0x%08x", i, v[i], orig[i])
		}
	}
}

func TestXxteaShortBlock(t *testing.T) {
	v := []uint32{0x12345678}
	xxteaEncrypt(v)
	if v[0] != 0x12345678 {
		t.Error("single word modified")
	}
}

// buildImage encrypts a crafted payload into a raw EEPROM image.
func buildImage(t *testing.T, dataLen int, fill func(p []byte)) []byte {
	t.Helper()
	encLen := (dataLen + 5) &^ 7
	p := make([]byte, encLen)
	fill(p)

	words := make([]uint32, encLen/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(p[4*i:])
	}
	xxteaEncrypt(words)

	raw := make([]byte, EEPROMSize)
	raw[0] = headerMagic
	raw[1] = byte(dataLen)
	for i, w := range words {
		binary.LittleEndian.PutUint32(raw[2+4*i:], w)
	}
	raw[255] = 0x5A
	return raw
}

func fillPayload(p []byte) {
	p[0] = 3 // format
	copy(p[1:18], "HS1942000012345BF")
	copy(p[18:20], "BH")
	copy(p[20:30], "BM1398BB")
	p[33] = 2
	binary.BigEndian.PutUint32(p[34:38], 65816)
	binary.BigEndian.PutUint16(p[45:47], 0x011E)
	binary.BigEndian.PutUint16(p[47:49], 0x0101)
	binary.BigEndian.PutUint16(p[58:60], 525)
}

func TestParse(t *testing.T) {
	raw := buildImage(t, 0x4A, fillPayload)
	info, err := Parse(raw)
	if err != nil {
		t.Fatal(err)
	}
	if info.Format != 3 {
		t.Error("format", info.Format)
	}
	if info.Serial != "HS1942000012345BF" {
		t.Error("serial", info.Serial)
	}
	if info.ChipDie != "BH" || info.ChipMarking != "BM1398BB" {
		t.Error("chip fields", info.ChipDie, info.ChipMarking)
	}
	if info.ChipBin != 2 || info.FTVersion != 65816 {
		t.Error("bin/ft", info.ChipBin, info.FTVersion)
	}
	if info.PCBVersion != 0x011E || info.BOMVersion != 0x0101 {
		t.Error("pcb/bom", info.PCBVersion, info.BOMVersion)
	}
	if info.FreqMHz != 525 {
		t.Error("freq", info.FreqMHz)
	}
}

func TestParseShortFormat(t *testing.T) {
	// The 0x42 format keeps the frequency 5 bytes earlier.
	raw := buildImage(t, 0x42, func(p []byte) {
		p[0] = 3
		binary.BigEndian.PutUint16(p[53:55], 650)
	})
	info, err := Parse(raw)
	if err != nil {
		t.Fatal(err)
	}
	if info.FreqMHz != 650 {
		t.Error("freq", info.FreqMHz)
	}
}

func TestParseRejects(t *testing.T) {
	if _, err := Parse([]byte{0x11}); !errors.Is(err, ErrShortRead) {
		t.Error("short image accepted:", err)
	}
	raw := make([]byte, EEPROMSize)
	raw[0] = 0x22
	if _, err := Parse(raw); !errors.Is(err, ErrBadHeader) {
		t.Error("bad header accepted:", err)
	}
	raw[0] = headerMagic
	raw[1] = 0xFF
	if _, err := Parse(raw); !errors.Is(err, ErrBadLength) {
		t.Error("bad length accepted:", err)
	}
}

// fakeEEPROM answers FPGA I2C read commands from an in-memory image
// laid out with the per-chain address stride.
type fakeEEPROM struct {
	mem  map[int]byte
	last uint32
}

func (f *fakeEEPROM) Write32(off, v uint32) {
	if off == fpga.IicCommand {
		f.last = v
	}
}

func (f *fakeEEPROM) Read32(off uint32) uint32 {
	if off != fpga.IicCommand {
		return 0
	}
	addr := int(f.last>>16&0xF)<<8 | int(f.last>>8&0xFF)
	return i2cDone | uint32(f.mem[addr])
}

func TestRead(t *testing.T) {
	raw := buildImage(t, 0x4A, fillPayload)
	f := &fakeEEPROM{mem: make(map[int]byte)}
	for i, b := range raw {
		f.mem[chainStride+i] = b // chain 1
	}

	info, err := Read(f, 1)
	if err != nil {
		t.Fatal(err)
	}
	if info.Serial != "HS1942000012345BF" || info.FreqMHz != 525 {
		t.Error("wrong info", info)
	}

	// Chain 0 is blank and must fail header validation.
	if _, err := Read(f, 0); !errors.Is(err, ErrBadHeader) {
		t.Error("blank eeprom accepted:", err)
	}
}

func TestReadCmd(t *testing.T) {
	cmd := readCmd(2, 0x34)
	if cmd != 0x03000000|0xA<<20|0x2<<16|0x34<<8 {
		t.Errorf("cmd 0x%08x", cmd)
	}
}
