// Copyright © 2026 HashSource, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

// Package chaininit powers the hashboards and brings every detected
// chain to the ready state.
package chaininit

import (
	"fmt"
	"os"
	"strconv"

	"github.com/hashsource/x19/bm1398"
	"github.com/hashsource/x19/fpga"
	"github.com/hashsource/x19/internal/fdtgpio"
	"github.com/hashsource/x19/power"
	"github.com/mattn/go-isatty"
	"github.com/platinasystems/flags"
	"github.com/platinasystems/log"
	"github.com/platinasystems/parms"
)

const Name = "chaininit"

type Command struct{}

func New() Command { return Command{} }

func (Command) String() string { return Name }

func (Command) Usage() string {
	return Name + " [-q] [-no-power] [-f MHZ] [-v MV] [-n CHIPS] [CHAIN]..."
}

func (Command) Main(args ...string) error {
	flag, args := flags.New(args, "-q", "-no-power")
	parm, args := parms.New(args, "-f", "-v", "-n")

	cfg := bm1398.DefaultConfig()
	mv := uint32(15000)
	if s := parm.ByName["-f"]; s != "" {
		f, err := strconv.ParseUint(s, 10, 32)
		if err != nil {
			return fmt.Errorf("-f %s: %w", s, err)
		}
		cfg.FreqMHz = uint32(f)
	}
	if s := parm.ByName["-v"]; s != "" {
		v, err := strconv.ParseUint(s, 10, 32)
		if err != nil {
			return fmt.Errorf("-v %s: %w", s, err)
		}
		mv = uint32(v)
	}
	if s := parm.ByName["-n"]; s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return fmt.Errorf("-n %s: %w", s, err)
		}
		cfg.Chips = n
	}

	regs, err := fpga.Open()
	if err != nil {
		return err
	}
	defer regs.Close()
	regs.Init()

	chains, err := selectChains(regs, args)
	if err != nil {
		return err
	}
	if len(chains) == 0 {
		return fmt.Errorf("no chains detected")
	}

	if !flag.ByName["-no-power"] {
		if err := powerUp(regs, mv, chains); err != nil {
			return err
		}
	}

	interactive := !flag.ByName["-q"] && isatty.IsTerminal(os.Stdout.Fd())
	bus := bm1398.NewBus(regs)
	for _, chain := range chains {
		d := bm1398.New(bus, chain)
		if interactive {
			d.Progress = func(done, total int) {
				fmt.Printf("\rchain %d: %d/%d chips", chain, done, total)
				if done == total {
					fmt.Println()
				}
			}
		}
		if err := d.ResetChain(); err != nil {
			return err
		}
		if err := d.ConfigureChain(cfg); err != nil {
			return err
		}
	}

	regs.EnableWorkSend()
	regs.StartWorkGen()
	log.Print("all chains ready")
	return nil
}

// selectChains returns the explicitly named chains, or every detected
// one when none are named.
func selectChains(regs *fpga.Regs, args []string) ([]int, error) {
	mask := regs.DetectChains()
	if len(args) == 0 {
		var chains []int
		for i := 0; i < fpga.MaxChains; i++ {
			if mask&(1<<i) != 0 {
				chains = append(chains, i)
			}
		}
		return chains, nil
	}
	var chains []int
	for _, a := range args {
		i, err := strconv.Atoi(a)
		if err != nil || i < 0 || i >= fpga.MaxChains {
			return nil, fmt.Errorf("CHAIN %q: invalid", a)
		}
		if mask&(1<<i) == 0 {
			return nil, fmt.Errorf("chain %d: not detected", i)
		}
		chains = append(chains, i)
	}
	return chains, nil
}

func powerUp(regs *fpga.Regs, mv uint32, chains []int) error {
	var pin power.Pin
	if p, err := fdtgpio.Pin(fdtgpio.PSUEnable); err != nil {
		log.Print("warn", "psu enable pin: ", err)
	} else {
		pin = p
	}
	psu := power.New(regs, pin)
	if err := psu.PowerOn(mv); err != nil {
		return err
	}
	for _, chain := range chains {
		if err := psu.EnableDCDC(chain); err != nil {
			// Boards that kept their converters up refuse this.
			log.Print("warn", "chain ", chain, ": ", err)
		}
	}
	return nil
}
