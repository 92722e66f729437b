// Copyright © 2026 HashSource, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package bm1398

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashsource/x19/fpga"
	"github.com/platinasystems/log"
)

var (
	ErrBadState  = errors.New("chain not in required state")
	ErrNoChips   = errors.New("chain has no chips configured")
	ErrChipCount = errors.New("chip count exceeds address space")
)

// ChainState tracks how far a chain has progressed through bring-up.
// Transitions only move forward; a failed stage leaves the chain where
// it was so the caller can retry or power-cycle.
type ChainState int

const (
	StateUninit ChainState = iota
	StateReset
	StateConfigured
	StateReady
)

func (s ChainState) String() string {
	switch s {
	case StateUninit:
		return "uninitialized"
	case StateReset:
		return "reset"
	case StateConfigured:
		return "configured"
	case StateReady:
		return "ready"
	}
	return fmt.Sprintf("ChainState(%d)", int(s))
}

// ChainConfig carries the chain bring-up parameters. The zero value is
// not usable; start from DefaultConfig.
type ChainConfig struct {
	Chips       int    // populated chips on the chain
	FreqMHz     uint32 // target hash clock
	Baud        int    // operational chain baud after bring-up
	DiodeMuxSel byte   // voltage monitor diode mux selector
	PulseMode   byte
	ClkSel      byte
	PwthSel     byte
	CcdlySel    byte
	SwpfMode    bool
}

// DefaultConfig returns the stock S19 Pro chain parameters.
func DefaultConfig() ChainConfig {
	return ChainConfig{
		Chips:       ChipsPerChainS19Pro,
		FreqMHz:     525,
		Baud:        12000000,
		DiodeMuxSel: 3,
		PulseMode:   1,
		ClkSel:      0,
		PwthSel:     1,
		CcdlySel:    1,
	}
}

func (c ChainConfig) coreParam() uint32 {
	v := uint32(c.PwthSel&0xF)<<8 | uint32(c.CcdlySel&0xF)<<4
	if c.SwpfMode {
		v |= 1
	}
	return v
}

func (c ChainConfig) coreConfig() uint32 {
	return coreConfigBase | uint32(c.PulseMode&3)<<4 | uint32(c.ClkSel&7)
}

// Driver owns one hash chain behind the FPGA broadcast engine. All
// methods are safe for concurrent use, including across Drivers that
// share a Bus: command and work transmission are serialized through
// the bus lock.
type Driver struct {
	bus   *Bus
	chain int
	cfg   ChainConfig

	mu    sync.Mutex // guards state
	state ChainState

	// Progress, when non-nil, is called after each chip during
	// enumeration with the count addressed so far and the total.
	Progress func(done, total int)
}

// New returns a Driver for the given chain index on bus. Chains on one
// board must share one Bus. The chain starts uninitialized; call
// ResetChain then ConfigureChain.
func New(bus *Bus, chain int) *Driver {
	return &Driver{bus: bus, chain: chain, cfg: DefaultConfig()}
}

// Chain returns the chain index this driver owns.
func (d *Driver) Chain() int { return d.chain }

// State returns the chain's bring-up state.
func (d *Driver) State() ChainState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *Driver) setState(s ChainState) {
	d.mu.Lock()
	d.state = s
	d.mu.Unlock()
}

// WriteRegister writes val to the chip register reg on dst.
func (d *Driver) WriteRegister(dst Destination, reg byte, val uint32) error {
	return d.sendCmd(writeRegFrame(dst, reg, val))
}

// broadcastWrite is WriteRegister to all chips with the settle delay
// the bring-up sequences use between steps.
func (d *Driver) broadcastWrite(reg byte, val uint32, settle time.Duration) error {
	if err := d.WriteRegister(Broadcast(), reg, val); err != nil {
		return fmt.Errorf("broadcast reg 0x%02x: %w", reg, err)
	}
	sleep(settle)
	return nil
}

// ReadRegister requests the chip register reg from dst and waits up to
// timeout for the response to surface in the FPGA return FIFO. Early in
// bring-up reads are unreliable; the configuration sequences write
// known-good values instead of read-modify-write for that reason.
func (d *Driver) ReadRegister(dst Destination, reg byte, timeout time.Duration) (uint32, error) {
	if err := d.sendCmd(readRegFrame(dst, reg)); err != nil {
		return 0, err
	}
	deadline := time.Now().Add(timeout)
	for {
		if d.bus.Read32(fpga.NonceFifoCount)&nonceCountMask > 0 {
			return d.bus.Read32(fpga.ReturnNonce), nil
		}
		if time.Now().After(deadline) {
			return 0, fmt.Errorf("read reg 0x%02x chain %d: %w",
				reg, d.chain, ErrTimeout)
		}
		sleep(100 * time.Microsecond)
	}
}

// ModifyRegister reads reg from chip 0, clears the bits in clear, sets
// the bits in set, and broadcasts the result back to every chip.
func (d *Driver) ModifyRegister(reg byte, clear, set uint32) error {
	v, err := d.ReadRegister(Chip(0), reg, 100*time.Millisecond)
	if err != nil {
		return err
	}
	v = v&^clear | set
	if err := d.WriteRegister(Broadcast(), reg, v); err != nil {
		return err
	}
	sleep(10 * time.Millisecond)
	return nil
}

// ChainInactive halts the UART relay so chips stop forwarding frames
// downstream. Required before enumeration.
func (d *Driver) ChainInactive() error {
	return d.sendCmd(chainInactiveFrame())
}

// ResetChain runs the hardware reset sequence. Every step is a direct
// broadcast write of a known-good value; register reads do not work
// reliably this early.
func (d *Driver) ResetChain() error {
	log.Print("chain", d.chain, "hardware reset")
	const settle = 10 * time.Millisecond
	steps := []struct {
		reg byte
		val uint32
	}{
		{RegClockCtrl, 0x00000000}, // soft reset off
		{RegResetCtrl, 0x00000000}, // power control clear
		{RegClockCtrl, 0x0F400000}, // core reset on
		{RegClockCtrl, 0xF0000000}, // core reset off
		{RegClockCtrl, 0xF0000400}, // soft reset on
		{RegResetCtrl, 0x00000008}, // power control set
	}
	for _, s := range steps {
		if err := d.broadcastWrite(s.reg, s.val, settle); err != nil {
			return fmt.Errorf("chain %d reset: %w", d.chain, err)
		}
	}
	if err := d.WriteRegister(Broadcast(), RegTicketMask, ticketMaskAllCores); err != nil {
		return fmt.Errorf("chain %d reset: ticket mask: %w", d.chain, err)
	}
	sleep(50 * time.Millisecond)
	d.setState(StateReset)
	return nil
}

// EnumerateChips assigns evenly spaced addresses to chips chips through
// the relay: 0, interval, 2·interval and so on, where interval is the
// address space divided by the chip count. Individual failures are
// counted and returned; the chain can often still mine with a few
// unaddressed chips.
func (d *Driver) EnumerateChips(chips int) (failed int, err error) {
	if chips <= 0 {
		return 0, ErrNoChips
	}
	if chips > MaxChipAddr {
		return 0, fmt.Errorf("%d chips: %w", chips, ErrChipCount)
	}
	if err := d.ChainInactive(); err != nil {
		return 0, fmt.Errorf("chain %d: inactive: %w", d.chain, err)
	}
	sleep(10 * time.Millisecond)

	interval := MaxChipAddr / chips
	if interval < 1 {
		interval = 1
	}
	for i := 0; i < chips; i++ {
		if err := d.sendCmd(setAddressFrame(byte(i * interval))); err != nil {
			failed++
		}
		sleep(time.Millisecond)
		if d.Progress != nil {
			d.Progress(i+1, chips)
		}
	}
	if failed > 0 {
		log.Print("warn", "chain ", d.chain, ": ", failed,
			" of ", chips, " chips failed to address")
	}
	return failed, nil
}

// ConfigureChain runs the configuration sequence on a chain that has
// been reset: mux and relay setup, chip enumeration at low baud, core
// configuration and timing, PLL programming, the switch to the
// operational baud, a broadcast core reset, and finally the nonce
// plumbing. The step order is load-bearing.
func (d *Driver) ConfigureChain(cfg ChainConfig) error {
	if s := d.State(); s != StateReset && s != StateConfigured {
		return fmt.Errorf("chain %d in state %s: %w",
			d.chain, s, ErrBadState)
	}
	if cfg.Chips <= 0 {
		return ErrNoChips
	}
	d.cfg = cfg
	const settle = 10 * time.Millisecond
	log.Print("chain", d.chain, "configure:", cfg.Chips, "chips,",
		cfg.FreqMHz, "MHz")

	if err := d.broadcastWrite(RegDiodeMux, uint32(cfg.DiodeMuxSel), settle); err != nil {
		return err
	}
	if err := d.ChainInactive(); err != nil {
		return err
	}
	sleep(settle)

	// Enumeration must happen at low speed.
	if err := d.SetBaud(115200); err != nil {
		return err
	}
	if _, err := d.EnumerateChips(cfg.Chips); err != nil {
		return err
	}
	sleep(settle)

	// Core config reset precedes the pulse-mode configuration.
	if err := d.broadcastWrite(RegCoreConfig, coreConfigResetA, settle); err != nil {
		return err
	}
	if err := d.broadcastWrite(RegCoreConfig, coreConfigResetB, settle); err != nil {
		return err
	}
	if err := d.broadcastWrite(RegCoreConfig, cfg.coreConfig(), settle); err != nil {
		return err
	}
	if err := d.broadcastWrite(RegCoreParam, cfg.coreParam(), settle); err != nil {
		return err
	}
	// Clock output drive strength, clko_ds in bits [7:4].
	if err := d.broadcastWrite(RegIODriver, 0x10, settle); err != nil {
		return err
	}

	for _, reg := range []byte{RegPLL0, RegPLL1, RegPLL2, RegPLL3} {
		if err := d.broadcastWrite(reg, 0, settle); err != nil {
			return err
		}
	}
	if err := d.SetFrequency(cfg.FreqMHz); err != nil {
		return err
	}
	sleep(settle)

	// Operational baud only after the hash clock is up. Everything
	// past this point readies the nonce path rather than the chips.
	if err := d.SetBaud(cfg.Baud); err != nil {
		return err
	}
	d.setState(StateConfigured)

	if err := d.coreReset(cfg); err != nil {
		return err
	}

	d.bus.SetTimeout(cfg.FreqMHz)
	sleep(settle)
	if err := d.broadcastWrite(RegTicketMask, ticketMask256Cores, settle); err != nil {
		return err
	}
	if err := d.broadcastWrite(RegCoreConfig, coreConfigNoNOvf, settle); err != nil {
		return err
	}

	d.setState(StateReady)
	log.Print("chain", d.chain, "ready")
	return nil
}

// coreReset is the broadcast core reset that precedes mining. A
// per-chip loop here stalls the host for tens of seconds on a full
// chain, so every step addresses all chips at once.
func (d *Driver) coreReset(cfg ChainConfig) error {
	const settle = 100 * time.Millisecond
	steps := []struct {
		reg byte
		val uint32
	}{
		{RegSoftReset, softResetAllCores},
		{RegClockCtrl, 0xF0000000},
		{RegCoreConfig, coreConfigBase | uint32(cfg.PulseMode&3)<<4},
		{RegCoreParam, cfg.coreParam()},
		{RegCoreConfig, coreConfigEnable},
	}
	for _, s := range steps {
		if err := d.broadcastWrite(s.reg, s.val, settle); err != nil {
			return fmt.Errorf("chain %d core reset: %w", d.chain, err)
		}
	}
	// Cores need to stabilize before they accept work.
	sleep(2 * time.Second)
	return nil
}
