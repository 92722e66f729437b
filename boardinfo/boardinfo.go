// Copyright © 2026 HashSource, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

// Package boardinfo reads and decodes the hashboard identification
// EEPROMs. All boards share one I2C slave address on the FPGA's
// controller; a 12-bit byte address selects the chain by its high
// nibble.
package boardinfo

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hashsource/x19/fpga"
)

var (
	ErrTimeout   = errors.New("eeprom i2c timeout")
	ErrBadHeader = errors.New("eeprom header invalid")
	ErrBadLength = errors.New("eeprom payload length invalid")
	ErrShortRead = errors.New("eeprom data truncated")
)

const (
	// EEPROMSize is the full device size in bytes.
	EEPROMSize = 256

	headerMagic byte = 0x11
	slaveAddr   byte = 0xA0
	chainStride      = 0x100

	// Read command: operation bits [25:24], slave high nibble at
	// [23:20], byte address split across [19:16] and [15:8].
	i2cReadFlags uint32 = 0x03000000
	i2cDone      uint32 = 1 << 31

	pollBudget = 100 * time.Millisecond
)

// RegIO is the FPGA register access the EEPROM reader needs.
type RegIO interface {
	Read32(off uint32) uint32
	Write32(off, v uint32)
}

var sleep = time.Sleep

// Info is the decoded content of one hashboard EEPROM.
type Info struct {
	Format      byte   // payload format, 1..4
	Serial      string // board serial number
	ChipDie     string
	ChipMarking string
	ChipBin     byte
	FTVersion   uint32 // factory test program version
	PCBVersion  uint16
	BOMVersion  uint16
	FreqMHz     uint16 // board's rated frequency
}

func readCmd(chain, addr int) uint32 {
	byteAddr := chain*chainStride + addr
	return i2cReadFlags |
		uint32(slaveAddr>>4)<<20 |
		uint32(byteAddr>>8&0xF)<<16 |
		uint32(byteAddr&0xFF)<<8
}

func readByte(r RegIO, chain, addr int) (byte, error) {
	r.Write32(fpga.IicCommand, readCmd(chain, addr))
	deadline := time.Now().Add(pollBudget)
	for {
		v := r.Read32(fpga.IicCommand)
		if v&i2cDone != 0 {
			return byte(v), nil
		}
		if time.Now().After(deadline) {
			return 0, fmt.Errorf("chain %d addr 0x%03x: %w",
				chain, addr, ErrTimeout)
		}
		sleep(10 * time.Microsecond)
	}
}

// ReadRaw fetches the full EEPROM of one chain, byte by byte.
func ReadRaw(r RegIO, chain int) ([]byte, error) {
	buf := make([]byte, EEPROMSize)
	for i := range buf {
		b, err := readByte(r, chain, i)
		if err != nil {
			return nil, err
		}
		buf[i] = b
	}
	return buf, nil
}

// Parse decrypts and decodes a raw EEPROM image.
func Parse(raw []byte) (Info, error) {
	if len(raw) < 2 {
		return Info{}, ErrShortRead
	}
	if raw[0] != headerMagic {
		return Info{}, fmt.Errorf("%w: 0x%02x", ErrBadHeader, raw[0])
	}
	dataLen := int(raw[1])
	if dataLen < 2 || dataLen > 250 {
		return Info{}, fmt.Errorf("%w: %d", ErrBadLength, dataLen)
	}
	encLen := (dataLen + 5) &^ 7
	if len(raw) < 2+encLen {
		return Info{}, ErrShortRead
	}

	words := make([]uint32, encLen/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(raw[2+4*i:])
	}
	xxteaDecrypt(words)
	p := make([]byte, encLen)
	for i, w := range words {
		binary.LittleEndian.PutUint32(p[4*i:], w)
	}

	// The short format drops 5 bytes before the tail fields.
	varOff := 0
	if dataLen == 0x42 {
		varOff = 5
	}
	if len(p) < 60-varOff {
		return Info{}, fmt.Errorf("%w: %d byte payload", ErrBadLength, len(p))
	}
	info := Info{
		Format:      p[0],
		Serial:      cstr(p[1:18]),
		ChipDie:     cstr(p[18:20]),
		ChipMarking: cstr(p[20:30]),
		ChipBin:     p[33],
		FTVersion:   binary.BigEndian.Uint32(p[34:38]),
		PCBVersion:  binary.BigEndian.Uint16(p[45:47]),
		BOMVersion:  binary.BigEndian.Uint16(p[47:49]),
		FreqMHz:     binary.BigEndian.Uint16(p[58-varOff : 60-varOff]),
	}
	return info, nil
}

// Read fetches and decodes the EEPROM of one chain.
func Read(r RegIO, chain int) (Info, error) {
	raw, err := ReadRaw(r, chain)
	if err != nil {
		return Info{}, err
	}
	return Parse(raw)
}

func cstr(b []byte) string {
	return strings.TrimRight(string(b), "\x00")
}
