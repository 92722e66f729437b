// Copyright © 2026 HashSource, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

// Package fdtgpio resolves named GPIO pins from the control board's
// device tree. The PSU enable line is wired differently across control
// board revisions; the dtb is the one place that knows.
package fdtgpio

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/platinasystems/fdt"
	"github.com/platinasystems/gpio"
)

// PSUEnable is the conventional dtb name of the supply enable line.
const PSUEnable = "psu-enable"

// File is the path of the board dtb the pin map is read from.
var File = "/boot/linux.dtb"

func gatherAliases(n *fdt.Node) {
	for p, pn := range n.Properties {
		if strings.Contains(p, "gpio") {
			val := strings.Split(string(pn), "\x00")
			v := strings.Split(val[0], "/")
			gpio.Aliases[p] = v[len(v)-1]
		}
	}
}

func gatherPins(n *fdt.Node, name string, value string) {
	var pn []string
	var mode string
	for na, al := range gpio.Aliases {
		if al != n.Name {
			continue
		}
		for _, c := range n.Children {
			for p := range c.Properties {
				switch p {
				case "gpio-pin-desc":
					pn = strings.Split(c.Name, "@")
				case "output-high", "output-low", "input":
					mode = p
				}
			}
			if mode != "" && len(pn) == 2 {
				i, _ := strconv.Atoi(pn[1])
				gpio.Pins[pn[0]] = gpio.GpioPinMode[mode] |
					gpio.GpioBankToBase[na] |
					gpio.Pin(i)
			}
			mode = ""
		}
	}
}

// Load parses the board dtb and rebuilds the process pin map.
func Load() error {
	gpio.Aliases = make(gpio.GpioAliasMap)
	gpio.Pins = make(gpio.PinMap)
	b, err := os.ReadFile(File)
	if err != nil {
		return fmt.Errorf("gpio map: %w", err)
	}
	t := &fdt.Tree{Debug: false, IsLittleEndian: false}
	t.Parse(b)
	t.MatchNode("aliases", gatherAliases)
	t.EachProperty("gpio-controller", "", gatherPins)
	return nil
}

// Pin resolves one named pin, loading the map on first use.
func Pin(name string) (gpio.Pin, error) {
	if len(gpio.Pins) == 0 {
		if err := Load(); err != nil {
			return 0, err
		}
	}
	pin, found := gpio.Pins[name]
	if !found {
		return 0, fmt.Errorf("gpio %q: not in %s", name, File)
	}
	return pin, nil
}
