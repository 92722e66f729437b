// Copyright © 2026 HashSource, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

// Package chainscan reports which chains are plugged and what their
// EEPROMs say about the boards.
package chainscan

import (
	"fmt"

	"github.com/hashsource/x19/boardinfo"
	"github.com/hashsource/x19/fpga"
	"github.com/platinasystems/flags"
)

const Name = "chainscan"

type Command struct{}

func New() Command { return Command{} }

func (Command) String() string { return Name }
func (Command) Usage() string  { return Name + " [-x]" }

func (Command) Main(args ...string) error {
	flag, args := flags.New(args, "-x")
	if len(args) > 0 {
		return fmt.Errorf("%v: unexpected", args)
	}

	regs, err := fpga.Open()
	if err != nil {
		return err
	}
	defer regs.Close()

	mask := regs.DetectChains()
	fmt.Printf("chains detected: 0x%x\n", mask)

	for chain := 0; chain < fpga.MaxChains; chain++ {
		if mask&(1<<chain) == 0 {
			continue
		}
		raw, err := boardinfo.ReadRaw(regs, chain)
		if err != nil {
			fmt.Printf("chain %d: %v\n", chain, err)
			continue
		}
		if flag.ByName["-x"] {
			hexdump(chain, raw)
		}
		info, err := boardinfo.Parse(raw)
		if err != nil {
			fmt.Printf("chain %d: %v\n", chain, err)
			continue
		}
		fmt.Printf("chain %d: serial %s\n", chain, info.Serial)
		fmt.Printf("chain %d: chip %s die %s bin %d\n",
			chain, info.ChipMarking, info.ChipDie, info.ChipBin)
		fmt.Printf("chain %d: pcb v%d bom v%d ft v%d\n",
			chain, info.PCBVersion, info.BOMVersion, info.FTVersion)
		fmt.Printf("chain %d: rated %d MHz\n", chain, info.FreqMHz)
	}
	return nil
}

func hexdump(chain int, b []byte) {
	fmt.Printf("[chain %d]\n", chain)
	for i := 0; i < len(b); i += 16 {
		fmt.Printf("0x%04x ", i)
		for j := i; j < i+16 && j < len(b); j++ {
			if j == i+8 {
				fmt.Print(" ")
			}
			fmt.Printf("%02x ", b[j])
		}
		fmt.Println()
	}
}
