// Copyright © 2026 HashSource, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package bm1398

import "github.com/hashsource/x19/fpga"

// Return FIFO bit layout. The low word is both metadata and the nonce
// value; the high word carries the work id.
const (
	nonceCountMask uint32 = 0x7FFF
	nonceValid     uint32 = 1 << 7 // clear means a register-read response
	nonceRespFlag  uint32 = 1 << 31
	nonceChainMask uint32 = 0xF
)

// Nonce is one result from the return FIFO. ChipID and CoreID are
// recovered from the nonce's address-encoded bits; that recovery is
// unverified for this chain topology and both stay zero for now.
type Nonce struct {
	Nonce  uint32
	Chain  int
	WorkID uint16
	ChipID byte
	CoreID byte
}

// NonceCount returns how many entries wait in the return FIFO.
func NonceCount(r RegIO) int {
	return int(r.Read32(fpga.NonceFifoCount) & nonceCountMask)
}

// ReadNonce pops one FIFO entry and decodes it. The caller must know an
// entry is available; register-read responses in the FIFO are consumed
// and reported as not-a-nonce.
func ReadNonce(r RegIO) (Nonce, bool) {
	lo := r.Read32(fpga.ReturnNonce)
	hi := r.Read32(fpga.ReturnNonceHi)
	return decodeNonce(lo, hi)
}

func decodeNonce(lo, hi uint32) (Nonce, bool) {
	if lo&nonceValid == 0 {
		return Nonce{}, false
	}
	return Nonce{
		Nonce:  lo,
		Chain:  int(lo & nonceChainMask),
		WorkID: uint16(hi >> 16 & nonceCountMask),
	}, true
}

// ReadNonces drains up to max nonces from the return FIFO.
func ReadNonces(r RegIO, max int) []Nonce {
	n := NonceCount(r)
	if n > max {
		n = max
	}
	var out []Nonce
	for i := 0; i < n; i++ {
		if nn, ok := ReadNonce(r); ok {
			out = append(out, nn)
		}
	}
	return out
}
