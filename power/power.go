// Copyright © 2026 HashSource, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

// Package power manages the APW12 supply and the hashboard DC-DC
// converters. Both sit behind the FPGA's I2C controller; the supply
// additionally has an active-low enable line on a host GPIO.
package power

import (
	"errors"
	"fmt"
	"time"

	"github.com/hashsource/x19/fpga"
	"github.com/jpillora/backoff"
	"github.com/platinasystems/log"
)

var (
	ErrI2CTimeout  = errors.New("i2c controller timeout")
	ErrNoResponse  = errors.New("psu gave no valid response")
	ErrBadVersion  = errors.New("unsupported psu version")
	ErrNotDetected = errors.New("psu not detected, power on first")
)

// I2C controller bits in the FPGA command register.
const (
	i2cReady       uint32 = 1 << 31
	i2cReadOp      uint32 = 1 << 25
	i2cRegValid    uint32 = 1 << 24
	i2cRead1Byte   uint32 = 1 << 19
	i2cDataShift          = 30 // value>>30 == 2 means data ready
	i2cPollStep           = 5 * time.Millisecond
	i2cWaitBudget         = time.Second
)

// PSU wire protocol.
const (
	psuRegLegacy byte = 0x00
	psuRegV2     byte = 0x11
	psuMagic1    byte = 0x55
	psuMagic2    byte = 0xAA
	detectMagic  byte = 0xF5

	cmdGetType    byte = 0x02
	cmdSetVoltage byte = 0x83

	// The only supply this driver knows the voltage curve for.
	versionAPW12 byte = 0x71

	psuRetries   = 3
	psuI2CMaster = 1
	psuSlaveHigh = 0x02
	psuSlaveLow  = 0x00
)

// RegIO is the FPGA register access the power collaborators need.
type RegIO interface {
	Read32(off uint32) uint32
	Write32(off, v uint32)
}

// Pin is the supply enable line. The stock control board wires it
// active low.
type Pin interface {
	SetValue(bool) error
}

var sleep = time.Sleep

// Client owns the supply state for one control board. Protocol register
// and detected version live here rather than in package globals so two
// boards in one process stay independent.
type Client struct {
	regs    RegIO
	enable  Pin
	proto   byte // psuRegV2 or psuRegLegacy
	version byte // 0 until detected
}

// New returns a Client over the FPGA window and the supply enable pin.
// enable may be nil when the line is managed externally.
func New(regs RegIO, enable Pin) *Client {
	return &Client{regs: regs, enable: enable, proto: psuRegV2}
}

// Version reports the detected supply version, zero before PowerOn.
func (c *Client) Version() byte { return c.version }

func (c *Client) waitReady() error {
	deadline := time.Now().Add(i2cWaitBudget)
	for c.regs.Read32(fpga.IicCommand)&i2cReady == 0 {
		if time.Now().After(deadline) {
			return fmt.Errorf("wait ready: %w", ErrI2CTimeout)
		}
		sleep(i2cPollStep)
	}
	return nil
}

func (c *Client) waitData() (byte, error) {
	deadline := time.Now().Add(i2cWaitBudget)
	for {
		v := c.regs.Read32(fpga.IicCommand)
		if v>>i2cDataShift == 2 {
			return byte(v), nil
		}
		if time.Now().After(deadline) {
			return 0, fmt.Errorf("wait data: %w", ErrI2CTimeout)
		}
		sleep(i2cPollStep)
	}
}

// psuCmd builds an I2C command word addressed at the supply.
func psuCmd(reg, data byte, read bool) uint32 {
	cmd := uint32(psuI2CMaster)<<26 |
		uint32(psuSlaveHigh)<<20 |
		uint32(psuSlaveLow&0x0E)<<15 |
		i2cRegValid | uint32(reg)<<8
	if read {
		return cmd | i2cReadOp | i2cRead1Byte
	}
	return cmd | uint32(data)
}

func (c *Client) writeByte(data byte) error {
	if err := c.waitReady(); err != nil {
		return err
	}
	c.regs.Write32(fpga.IicCommand, psuCmd(c.proto, data, false))
	_, err := c.waitData()
	return err
}

func (c *Client) readByte() (byte, error) {
	if err := c.waitReady(); err != nil {
		return 0, err
	}
	c.regs.Write32(fpga.IicCommand, psuCmd(c.proto, 0, true))
	return c.waitData()
}

// checksum sums the frame bytes after the magic pair.
func checksum(frame []byte) uint16 {
	var sum uint16
	for _, b := range frame[2:] {
		sum += uint16(b)
	}
	return sum
}

// seal appends the checksum to a frame started with the magic pair.
func seal(frame []byte) []byte {
	sum := checksum(frame)
	return append(frame, byte(sum), byte(sum>>8))
}

// transact sends one sealed frame and reads rxLen response bytes,
// retrying with growing pauses until the response leads with the magic
// pair.
func (c *Client) transact(tx []byte, rxLen int) ([]byte, error) {
	retry := &backoff.Backoff{
		Min:    400 * time.Millisecond,
		Max:    2 * time.Second,
		Factor: 2,
	}
	var lastErr error = ErrNoResponse
next:
	for attempt := 0; attempt < psuRetries; attempt++ {
		if attempt > 0 {
			sleep(retry.Duration())
		}
		for _, b := range tx {
			if err := c.writeByte(b); err != nil {
				lastErr = err
				continue next
			}
		}
		sleep(400 * time.Millisecond)

		rx := make([]byte, rxLen)
		for i := range rx {
			b, err := c.readByte()
			if err != nil {
				lastErr = err
				continue next
			}
			rx[i] = b
		}
		sleep(100 * time.Millisecond)

		if rx[0] == psuMagic1 && rx[1] == psuMagic2 {
			return rx, nil
		}
		lastErr = fmt.Errorf("%w: header %02x %02x", ErrNoResponse, rx[0], rx[1])
	}
	return nil, lastErr
}

// detectProtocol probes the V2 scratch register; if a written byte does
// not read back, the supply only speaks the legacy single-register
// protocol.
func (c *Client) detectProtocol() {
	c.proto = psuRegV2
	if err := c.writeByte(detectMagic); err == nil {
		sleep(10 * time.Millisecond)
		if b, err := c.readByte(); err == nil && b == detectMagic {
			log.Print("psu: v2 protocol")
			return
		}
	}
	c.proto = psuRegLegacy
	log.Print("psu: legacy protocol")
}

// readVersion asks the supply for its type byte.
func (c *Client) readVersion() error {
	rx, err := c.transact(seal([]byte{psuMagic1, psuMagic2, 4, cmdGetType}), 8)
	if err != nil {
		return err
	}
	c.version = rx[4]
	log.Printf("psu: version 0x%02x", c.version)
	return nil
}

// voltageSteps converts millivolts to the APW12 DAC setting. The line
// is inverse: more steps mean less voltage, clamped to the supply's
// working band.
func voltageSteps(mv uint32) uint16 {
	n := (1190935338 - int64(mv)*78743) / 1000000
	if n < 9 {
		n = 9
	}
	if n > 246 {
		n = 246
	}
	return uint16(n)
}

// SetVoltage programs the supply output. The supply must have been
// detected by PowerOn first.
func (c *Client) SetVoltage(mv uint32) error {
	if c.version == 0 {
		return ErrNotDetected
	}
	if c.version != versionAPW12 {
		return fmt.Errorf("%w: 0x%02x", ErrBadVersion, c.version)
	}
	n := voltageSteps(mv)
	rx, err := c.transact(seal([]byte{
		psuMagic1, psuMagic2, 6, cmdSetVoltage, byte(n), byte(n >> 8),
	}), 8)
	if err != nil {
		return fmt.Errorf("set %d mV: %w", mv, err)
	}
	if rx[3] != cmdSetVoltage {
		return fmt.Errorf("set %d mV: %w: echo 0x%02x", mv, ErrNoResponse, rx[3])
	}
	log.Printf("psu: %d mV (%d steps)", mv, n)
	return nil
}

// PowerOn detects the supply, programs the requested voltage, drives
// the enable line low, and waits for the rails to settle.
func (c *Client) PowerOn(mv uint32) error {
	if c.version == 0 {
		c.detectProtocol()
		if err := c.readVersion(); err != nil {
			log.Print("warn", "psu: version read failed, assuming APW12: ", err)
			c.version = versionAPW12
		}
	}
	if err := c.SetVoltage(mv); err != nil {
		return err
	}
	if c.enable != nil {
		if err := c.enable.SetValue(false); err != nil {
			return fmt.Errorf("psu enable: %w", err)
		}
	}
	sleep(2 * time.Second)
	return nil
}

// PowerOff drives the enable line high.
func (c *Client) PowerOff() error {
	if c.enable == nil {
		return nil
	}
	return c.enable.SetValue(true)
}
