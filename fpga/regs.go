// Copyright © 2026 HashSource, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package fpga

// Register byte offsets. The map was recovered from the stock firmware's
// indirect register table; offsets below 0x200 are identical between the
// production miner and the factory test binaries.
const (
	HardwareVersion uint32 = 0x000
	FanSpeed        uint32 = 0x004
	HashOnPlug      uint32 = 0x008 // chain-detect bitmask
	BufferSpace     uint32 = 0x00C // work-FIFO free space
	ReturnNonce     uint32 = 0x010 // nonce FIFO read, low word
	ReturnNonceHi   uint32 = 0x014 // nonce FIFO read, high word
	NonceFifoCount  uint32 = 0x018
	NonceFifoInt    uint32 = 0x01C
	IicCommand      uint32 = 0x030 // shared I2C controller (PSU, PIC, EEPROM)
	ResetHashboard  uint32 = 0x034
	StartNonceOff   uint32 = 0x03C
	WorkSlotA       uint32 = 0x040 // first word of a work packet
	WorkSlotB       uint32 = 0x044 // remaining 36 words, FIFO-style
	InitCtrl        uint32 = 0x080
	FanControl      uint32 = 0x084
	InitCfg         uint32 = 0x088 // dual purpose: init config / baud clock select
	Timeout         uint32 = 0x08C // nonce timeout, read-modify-write only
	BCWriteCommand  uint32 = 0x0C0 // broadcast-command trigger
	BCCommandBuf    uint32 = 0x0C4 // broadcast-command payload, 3 words
	ChipIDAddr      uint32 = 0x0F0
	CRCErrorCount   uint32 = 0x0F8
	WorkCtrl        uint32 = 0x118 // work control/enable
	ChainWorkCfg    uint32 = 0x11C
	WorkQueueParam  uint32 = 0x140
)

// BCWriteCommand bits.
const (
	BCReady     uint32 = 1 << 31
	BCChainMask uint32 = 0xF << 16
)

// BCChainSel encodes the chain select field of the broadcast trigger.
func BCChainSel(chain int) uint32 {
	return uint32(chain&0xF) << 16
}

// Timeout register fields.
const (
	TimeoutValueMask uint32 = 0x1FFFF
	TimeoutEnable    uint32 = 1 << 31
)

// WorkCtrl bits.
const (
	workCtrlAutoGen  uint32 = 1 << 14 // FPGA self-generated pattern work
	workCtrlGenStart uint32 = 1 << 6
)

// MaxChains is the width of the chain-detect mask consumed by this
// driver. The S19 Pro board populates three.
const MaxChains = 4
