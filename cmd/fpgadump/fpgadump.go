// Copyright © 2026 HashSource, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

// Package fpgadump prints the FPGA register window, whole or ranged.
package fpgadump

import (
	"fmt"
	"strconv"

	"github.com/hashsource/x19/fpga"
	"github.com/platinasystems/parms"
)

const Name = "fpgadump"

type Command struct{}

func New() Command { return Command{} }

func (Command) String() string { return Name }
func (Command) Usage() string  { return Name + " [-s OFFSET] [-e OFFSET]" }

func (Command) Main(args ...string) error {
	parm, args := parms.New(args, "-s", "-e")
	if len(args) > 0 {
		return fmt.Errorf("%v: unexpected", args)
	}
	start, end := uint64(0), uint64(fpga.Size)
	var err error
	if s := parm.ByName["-s"]; s != "" {
		if start, err = strconv.ParseUint(s, 0, 32); err != nil {
			return fmt.Errorf("-s %s: %w", s, err)
		}
	}
	if s := parm.ByName["-e"]; s != "" {
		if end, err = strconv.ParseUint(s, 0, 32); err != nil {
			return fmt.Errorf("-e %s: %w", s, err)
		}
	}
	start &^= 0xF
	if end > fpga.Size || start >= end {
		return fmt.Errorf("range 0x%x-0x%x: invalid", start, end)
	}

	regs, err := fpga.Open()
	if err != nil {
		return err
	}
	defer regs.Close()

	for off := uint32(start); off < uint32(end); off += 16 {
		fmt.Printf("0x%03x:", off)
		for i := uint32(0); i < 16 && off+i < uint32(end); i += 4 {
			fmt.Printf(" %08x", regs.Read32(off+i))
		}
		fmt.Println()
	}
	return nil
}
