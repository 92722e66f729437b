// Copyright © 2026 HashSource, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

// Package worktest pushes pattern work at an initialized chain and
// reports what comes back, a quick sanity check that the whole path
// from work FIFO to nonce FIFO is alive.
package worktest

import (
	"fmt"
	"strconv"
	"time"

	"github.com/hashsource/x19/bm1398"
	"github.com/hashsource/x19/fpga"
	"github.com/platinasystems/parms"
)

const Name = "worktest"

type Command struct{}

func New() Command { return Command{} }

func (Command) String() string { return Name }

func (Command) Usage() string {
	return Name + " [-c CHAIN] [-n COUNT] [-w SECONDS]"
}

func (Command) Main(args ...string) error {
	parm, args := parms.New(args, "-c", "-n", "-w")
	if len(args) > 0 {
		return fmt.Errorf("%v: unexpected", args)
	}
	chain, count, wait := 0, 16, 10
	var err error
	if s := parm.ByName["-c"]; s != "" {
		if chain, err = strconv.Atoi(s); err != nil {
			return fmt.Errorf("-c %s: %w", s, err)
		}
	}
	if s := parm.ByName["-n"]; s != "" {
		if count, err = strconv.Atoi(s); err != nil {
			return fmt.Errorf("-n %s: %w", s, err)
		}
	}
	if s := parm.ByName["-w"]; s != "" {
		if wait, err = strconv.Atoi(s); err != nil {
			return fmt.Errorf("-w %s: %w", s, err)
		}
	}

	regs, err := fpga.Open()
	if err != nil {
		return err
	}
	defer regs.Close()

	regs.Init()
	regs.EnableWorkSend()

	d := bm1398.New(bm1398.NewBus(regs), chain)
	if err := d.ResetChain(); err != nil {
		return err
	}
	if err := d.ConfigureChain(bm1398.DefaultConfig()); err != nil {
		return err
	}
	regs.StartWorkGen()

	// A fixed pattern; anything the cores find against it proves the
	// path, correctness of the hashes is not the point here.
	var header [12]byte
	var mid [32]byte
	for i := range mid {
		mid[i] = byte(i)
	}
	sent := 0
	for i := 0; i < count; i++ {
		header[0] = byte(i)
		w := bm1398.SingleMidstate(uint32(i+1), header, mid)
		if err := d.SubmitWork(w); err != nil {
			fmt.Printf("work %d: %v\n", i, err)
			break
		}
		sent++
	}
	fmt.Printf("chain %d: sent %d works, waiting %ds\n", chain, sent, wait)

	deadline := time.Now().Add(time.Duration(wait) * time.Second)
	got := 0
	for time.Now().Before(deadline) {
		for _, n := range bm1398.ReadNonces(regs, 64) {
			got++
			fmt.Printf("nonce 0x%08x chain %d work %d\n",
				n.Nonce, n.Chain, n.WorkID)
		}
		time.Sleep(100 * time.Millisecond)
	}
	fmt.Printf("chain %d: %d nonces, %d crc errors\n",
		chain, got, regs.CRCErrors())
	return nil
}
