// Copyright © 2026 HashSource, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

// X19ctl drives the hash board chains of an S19 class control board:
// power sequencing, chain bring-up, board info, and work submission
// smoke tests.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/hashsource/x19/cmd/chaininit"
	"github.com/hashsource/x19/cmd/chainscan"
	"github.com/hashsource/x19/cmd/fpgadump"
	"github.com/hashsource/x19/cmd/worktest"
)

type command interface {
	String() string
	Usage() string
	Main(args ...string) error
}

var commands = []command{
	chaininit.New(),
	chainscan.New(),
	fpgadump.New(),
	worktest.New(),
}

func main() {
	if err := run(os.Args[1:]...); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n",
			filepath.Base(os.Args[0]), err)
		os.Exit(1)
	}
}

func run(args ...string) error {
	if len(args) == 0 {
		usage(os.Stderr)
		return fmt.Errorf("no command")
	}
	name := args[0]
	switch name {
	case "-h", "-help", "--help", "help":
		usage(os.Stdout)
		return nil
	}
	for _, cmd := range commands {
		if cmd.String() == name {
			return cmd.Main(args[1:]...)
		}
	}
	usage(os.Stderr)
	return fmt.Errorf("%s: command not found", name)
}

func usage(w *os.File) {
	fmt.Fprintln(w, "usage:")
	sorted := make([]command, len(commands))
	copy(sorted, commands)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].String() < sorted[j].String()
	})
	for _, cmd := range sorted {
		fmt.Fprintln(w, "\t"+cmd.Usage())
	}
}
