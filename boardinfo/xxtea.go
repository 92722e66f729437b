// Copyright © 2026 HashSource, Inc. All rights reserved.
// Use of this source code is governed by the GPL-2 license described in the
// LICENSE file.

package boardinfo

// Hashboard EEPROMs are encrypted with XXTEA (corrected block TEA,
// variable block size, 6+52/n rounds). The key ships in the stock
// firmware.
var xxteaKey = [4]uint32{0x656C6975, 0x6D696E79, 0x616E6767, 0x75616E67}

const xxteaDelta uint32 = 0x9E3779B9

func xxteaMix(y, z, sum uint32, e, p uint32) uint32 {
	return ((z ^ xxteaKey[e^p&3]) + (sum ^ y)) ^
		((z>>5 ^ y<<2) + (z<<4 ^ y>>3))
}

func xxteaDecrypt(v []uint32) {
	n := uint32(len(v))
	if n < 2 {
		return
	}
	rounds := 6 + 52/n
	sum := rounds * xxteaDelta
	y := v[0]
	for ; rounds > 0; rounds-- {
		e := sum >> 2 & 3
		for p := n - 1; p > 0; p-- {
			z := v[p-1]
			v[p] -= xxteaMix(y, z, sum, e, p)
			y = v[p]
		}
		z := v[n-1]
		v[0] -= xxteaMix(y, z, sum, e, 0)
		y = v[0]
		sum -= xxteaDelta
	}
}

func xxteaEncrypt(v []uint32) {
	n := uint32(len(v))
	if n < 2 {
		return
	}
	rounds := 6 + 52/n
	var sum uint32
	z := v[n-1]
	for ; rounds > 0; rounds-- {
		sum += xxteaDelta
		e := sum >> 2 & 3
		for p := uint32(0); p < n-1; p++ {
			y := v[p+1]
			v[p] += xxteaMix(y, z, sum, e, p)
			z = v[p]
		}
		y := v[0]
		v[n-1] += xxteaMix(y, z, sum, e, n-1)
		z = v[n-1]
	}
}
