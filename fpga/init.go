// Copyright © 2026 HashSource, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package fpga

import (
	"time"

	"github.com/platinasystems/log"
)

var sleep = time.Sleep

// Init runs the FPGA bring-up sequence recovered from the stock
// firmware: the boot-time and startup writes on InitCtrl/InitCfg, the
// control-register enable bit, a safe nonce-timeout default, and the
// work-queue defaults. It must run once before any chain traffic.
func (r *Regs) Init() {
	// Fan/PWM block init precedes the control enable bit or the
	// broadcast engine wedges on some bitstream revisions.
	r.Write32(FanControl, 0x80808000)
	sleep(10 * time.Millisecond)

	r.Merge(HardwareVersion, 0, 1<<30)

	// Max 17-bit timeout until a chain frequency is configured.
	r.Write32(Timeout, TimeoutValueMask|TimeoutEnable)

	r.Merge(WorkCtrl, 0x8F60, 0x8060)
	r.Write32(ChainWorkCfg, 0x00007200)
	r.Write32(WorkQueueParam, 0x00003648)

	// Boot-time init, then the startup handshake with bit 31.
	r.Write32(InitCtrl, 0x0080800F)
	sleep(100 * time.Millisecond)
	r.Write32(InitCfg, 0x800001C1)
	sleep(100 * time.Millisecond)

	r.Write32(InitCtrl, 0x8080800F)
	sleep(50 * time.Millisecond)
	r.Write32(InitCfg, 0x00009C40)
	sleep(50 * time.Millisecond)
	r.Write32(InitCtrl, 0x0080800F)
	sleep(50 * time.Millisecond)
	r.Write32(InitCfg, 0x8001FFFF)
	sleep(100 * time.Millisecond)

	// Control block and broadcast engine defaults.
	r.Write32(FanSpeed, 0x00000500)
	r.Write32(HashOnPlug, 0x00000007)
	r.Write32(ReturnNonce, 0x00000004)
	r.Write32(NonceFifoInt, 0x00000001)
	r.Write32(IicCommand, 0x8242001F)
	r.Write32(ResetHashboard, 0x0000FFF8)
	r.Write32(StartNonceOff, 0x001A1A1A)
	r.Write32(BCWriteCommand, 0x00820000)
	r.Write32(BCCommandBuf, 0x52050000)
	r.Write32(BCCommandBuf+4, 0x0A000000)
	r.Write32(ChipIDAddr, 0x57104814)
	r.Write32(ChipIDAddr+4, 0x80404404)
	r.Write32(CRCErrorCount, 0x0000309D)

	sleep(50 * time.Millisecond)
	log.Print("fpga: register window initialized")
}

// DetectChains returns the chain-present bitmask: bit n set means a
// hashboard is plugged on chain n.
func (r *Regs) DetectChains() uint32 {
	return r.Read32(HashOnPlug) & (1<<MaxChains - 1)
}

// CRCErrors returns the running count of command-frame CRC errors seen
// by the FPGA since power-up.
func (r *Regs) CRCErrors() uint32 {
	return r.Read32(CRCErrorCount)
}

// WorkFIFOSpace returns the free space of the work FIFO in packets.
// Callers must check this before submitting work; the work registers
// have no backpressure of their own.
func (r *Regs) WorkFIFOSpace() uint32 {
	return r.Read32(BufferSpace)
}

// EnableWorkSend turns off the FPGA's self-generated pattern work so it
// accepts external packets.
func (r *Regs) EnableWorkSend() {
	r.Merge(WorkCtrl, workCtrlAutoGen, 0)
}

// StartWorkGen starts work distribution to the chains.
func (r *Regs) StartWorkGen() {
	r.Merge(WorkCtrl, 0, workCtrlGenStart)
}

// SetTimeout programs the nonce timeout for the given core frequency,
// preserving the unrelated baud-clock bits that share the register.
func (r *Regs) SetTimeout(freqMHz uint32) {
	if freqMHz == 0 {
		return
	}
	v := (TimeoutValueMask / freqMHz) & TimeoutValueMask
	r.Merge(Timeout, TimeoutValueMask|TimeoutEnable, v|TimeoutEnable)
	log.Printf("fpga: nonce timeout %d cycles for %d MHz", v, freqMHz)
}
