// Copyright © 2026 HashSource, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package power

import (
	"fmt"
	"time"

	"github.com/hashsource/x19/fpga"
	"github.com/platinasystems/log"
)

// Each hashboard carries a PIC microcontroller gating its DC-DC
// converters, addressed on the same FPGA I2C controller as the supply
// but under a different master/slave encoding.
const (
	picI2CMaster = 0
	picSlaveHigh = 0x04

	picCmdEnableDCDC byte = 0x15
)

// picCmd builds an I2C command word addressed at the PIC of the given
// chain. The chain index forms the low bits of the slave address.
func picCmd(chain int, data byte, read bool) uint32 {
	slave := byte(chain)<<1 | picSlaveHigh<<4
	cmd := uint32(picI2CMaster)<<26 |
		uint32(slave>>4)<<20 |
		uint32(slave&0x0E)<<15
	if read {
		return cmd | i2cReadOp | i2cRead1Byte
	}
	return cmd | uint32(data)
}

func (c *Client) picWrite(chain int, data byte) error {
	if err := c.waitReady(); err != nil {
		return err
	}
	c.regs.Write32(fpga.IicCommand, picCmd(chain, data, false))
	_, err := c.waitData()
	return err
}

func (c *Client) picRead(chain int) (byte, error) {
	if err := c.waitReady(); err != nil {
		return 0, err
	}
	c.regs.Write32(fpga.IicCommand, picCmd(chain, 0, true))
	return c.waitData()
}

// EnableDCDC turns on the DC-DC converters of one hashboard. Failure is
// often benign: boards keep the converters enabled across a soft
// restart and the PIC then refuses the command.
func (c *Client) EnableDCDC(chain int) error {
	frame := seal([]byte{psuMagic1, psuMagic2, 5, picCmdEnableDCDC, 0x01, 0x00})
	// The PIC checksum is a single byte.
	frame = frame[:len(frame)-1]
	for i, b := range frame {
		if err := c.picWrite(chain, b); err != nil {
			return fmt.Errorf("chain %d dc-dc: byte %d: %w", chain, i, err)
		}
	}
	sleep(300 * time.Millisecond)

	var rx [2]byte
	for i := range rx {
		b, err := c.picRead(chain)
		if err != nil {
			return fmt.Errorf("chain %d dc-dc: response: %w", chain, err)
		}
		rx[i] = b
	}
	if rx[0] != picCmdEnableDCDC || rx[1] != 0x01 {
		return fmt.Errorf("chain %d dc-dc: %w: %02x %02x",
			chain, ErrNoResponse, rx[0], rx[1])
	}
	log.Print("chain", chain, "dc-dc enabled")
	return nil
}
