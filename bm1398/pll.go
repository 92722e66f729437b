// Copyright © 2026 HashSource, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package bm1398

import (
	"errors"
	"fmt"
	"time"

	"github.com/platinasystems/log"
)

var ErrVCORange = errors.New("no PLL setting reaches target frequency")

// Reference clock into every chip PLL, MHz.
const refClockMHz = 25

// VCO limits, MHz. The high range flips an extra bias bit in the
// register encoding.
const (
	vcoMin     = 1600
	vcoHighMin = 2400
	vcoMax     = 3200
)

// PLLConfig is one divider setting for a chip PLL. The output frequency
// is VCO/((PostDiv1+1)·(PostDiv2+1)) with VCO = 25·FBDiv/RefDiv.
type PLLConfig struct {
	RefDiv   uint32 // reference divider, 1..8
	FBDiv    uint32 // feedback multiplier, up to 0xFFF
	PostDiv1 uint32 // first post divider field, divisor is field+1
	PostDiv2 uint32 // second post divider, 1..8, divisor is value+1
}

// VCO returns the oscillator frequency in MHz.
func (p PLLConfig) VCO() uint32 {
	if p.RefDiv == 0 {
		return 0
	}
	return refClockMHz * p.FBDiv / p.RefDiv
}

// Frequency returns the output frequency in MHz.
func (p PLLConfig) Frequency() uint32 {
	return p.VCO() / ((p.PostDiv1 + 1) * (p.PostDiv2 + 1))
}

// Register encodes the setting for a PLL parameter register. The
// reference and second post divider are stored minus one, the first
// post divider and feedback multiplier directly.
func (p PLLConfig) Register() uint32 {
	v := uint32(0x40000000) |
		(p.PostDiv2-1)&7 |
		(p.RefDiv-1)&7<<4 |
		p.PostDiv1&0x3F<<8 |
		p.FBDiv&0xFFF<<16
	if vco := p.VCO(); vco >= vcoHighMin && vco <= vcoMax {
		v |= 0x10000000
	}
	return v
}

// DecodePLL is the inverse of Register.
func DecodePLL(r uint32) PLLConfig {
	return PLLConfig{
		RefDiv:   (r>>4)&7 + 1,
		FBDiv:    r >> 16 & 0xFFF,
		PostDiv1: r >> 8 & 0x3F,
		PostDiv2: r&7 + 1,
	}
}

// FreqToPLL searches the divider space for the setting closest to
// freqMHz with the oscillator in range. Low reference dividers come
// first so they win ties; the second post divisor never exceeds the
// first.
func FreqToPLL(freqMHz uint32) (PLLConfig, error) {
	var best PLLConfig
	bestErr := uint32(1 << 31)
	for ref := uint32(1); ref <= 2; ref++ {
		for pd1 := uint32(0); pd1 <= 63; pd1++ {
			for pd2 := uint32(1); pd2 <= pd1 && pd2 <= 8; pd2++ {
				div := (pd1 + 1) * (pd2 + 1)
				fb := (freqMHz*div*ref + refClockMHz/2) / refClockMHz
				if fb > 0xFFF {
					continue
				}
				p := PLLConfig{RefDiv: ref, FBDiv: fb, PostDiv1: pd1, PostDiv2: pd2}
				vco := p.VCO()
				if vco < vcoMin || vco > vcoMax {
					continue
				}
				got := vco / div
				var e uint32
				if got > freqMHz {
					e = got - freqMHz
				} else {
					e = freqMHz - got
				}
				if e < bestErr {
					best, bestErr = p, e
				}
			}
		}
	}
	if bestErr == 1<<31 {
		return PLLConfig{}, fmt.Errorf("%d MHz: %w", freqMHz, ErrVCORange)
	}
	return best, nil
}

// SetFrequency programs the hash clock on every chip of the chain
// through PLL0.
func (d *Driver) SetFrequency(freqMHz uint32) error {
	p, err := FreqToPLL(freqMHz)
	if err != nil {
		return err
	}
	log.Printf("chain %d: %d MHz: pll ref=%d fb=%d post=%d/%d vco=%d reg=0x%08x",
		d.chain, freqMHz, p.RefDiv, p.FBDiv, p.PostDiv1, p.PostDiv2,
		p.VCO(), p.Register())
	if err := d.WriteRegister(Broadcast(), RegPLL0, p.Register()); err != nil {
		return fmt.Errorf("chain %d: set frequency: %w", d.chain, err)
	}
	sleep(10 * time.Millisecond)
	return nil
}

// Baud divisor field packing shared by both speed modes: four high
// bits at [27:24], five low bits at [12:8].
func baudDivBits(div uint32) uint32 {
	return (div>>5)&0xF<<24 | div&0x1F<<8
}

// SetBaud programs the chain UART baud on every chip. Rates above
// 3 MBaud run from a 400 MHz clock on PLL3 with the high-speed bit set;
// lower rates divide the reference clock directly. Values are written
// whole rather than read-modify-written, reads being unreliable during
// bring-up.
func (d *Driver) SetBaud(baud int) error {
	if baud <= 0 {
		return fmt.Errorf("invalid baud %d", baud)
	}
	const settle = 10 * time.Millisecond
	var clkCtrl uint32
	if baud > 3000000 {
		div := uint32(400000000/(baud*8)) - 1
		if err := d.broadcastWrite(RegPLL3, 0xC0700111, settle); err != nil {
			return fmt.Errorf("chain %d: uart pll: %w", d.chain, err)
		}
		if err := d.broadcastWrite(RegBaudConfig, 0x06008F0F, settle); err != nil {
			return fmt.Errorf("chain %d: baud config: %w", d.chain, err)
		}
		clkCtrl = 0xF0000000 | baudDivBits(div) | 0x00010000
	} else {
		div := uint32(25000000/(baud*8)) - 1
		clkCtrl = 0xF0000400 | baudDivBits(div)
	}
	if err := d.WriteRegister(Broadcast(), RegClockCtrl, clkCtrl); err != nil {
		return fmt.Errorf("chain %d: clock ctrl: %w", d.chain, err)
	}
	sleep(50 * time.Millisecond)
	log.Printf("chain %d: baud %d, clk ctrl 0x%08x", d.chain, baud, clkCtrl)
	return nil
}
