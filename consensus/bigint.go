package consensus

import (
	"math/big"
	"math/bits"
)

// Limbs160 is an ordered 5-limb little-endian unsigned 160-bit integer
// (limb[0] is least significant). Used for Difficulty.
type Limbs160 [5]uint32

// Limbs192 is an ordered 6-limb little-endian unsigned 192-bit integer.
// Used for ProofOfWork.
type Limbs192 [6]uint32

// Cmp compares two Limbs160 lexicographically from the most-significant
// limb down, returning -1, 0, or 1.
func (a Limbs160) Cmp(b Limbs160) int {
	for i := len(a) - 1; i >= 0; i-- {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

func (a Limbs192) Cmp(b Limbs192) int {
	for i := len(a) - 1; i >= 0; i-- {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

// Add192 adds b to a, wrapping modulo 2^192 (the ProofOfWork monoid is
// additive with wraparound at 192 bits; in practice accumulated work never
// reaches that bound).
func Add192(a, b Limbs192) Limbs192 {
	var out Limbs192
	var carry uint64
	for i := range out {
		s := uint64(a[i]) + uint64(b[i]) + carry
		out[i] = uint32(s)
		carry = s >> 32
	}
	return out
}

// BigInt converts a Limbs160 to a *big.Int.
func (a Limbs160) BigInt() *big.Int {
	out := new(big.Int)
	for i := len(a) - 1; i >= 0; i-- {
		out.Lsh(out, 32)
		out.Or(out, new(big.Int).SetUint64(uint64(a[i])))
	}
	return out
}

func (a Limbs192) BigInt() *big.Int {
	out := new(big.Int)
	for i := len(a) - 1; i >= 0; i-- {
		out.Lsh(out, 32)
		out.Or(out, new(big.Int).SetUint64(uint64(a[i])))
	}
	return out
}

// Limbs160FromBigInt converts a non-negative *big.Int of at most 160 bits
// into a Limbs160. Values that don't fit are truncated to the low 160 bits.
func Limbs160FromBigInt(x *big.Int) Limbs160 {
	var out Limbs160
	mask := new(big.Int).SetUint64(0xffffffff)
	tmp := new(big.Int).Set(x)
	for i := range out {
		limb := new(big.Int).And(tmp, mask)
		out[i] = uint32(limb.Uint64())
		tmp.Rsh(tmp, 32)
	}
	return out
}

// SafeMulFixedPointRational multiplies self by the fixed-point rational
// (lo + hi<<32) / 2^32, discarding the fractional word, and returns the
// product together with the most-significant overflow limb (the word that
// would have carried past limb[4]).
//
// This is the one operation in the difficulty arithmetic that must handle
// carries across every limb by hand: each limb of self is multiplied by
// both lo and hi, the hi-product is shifted up by one limb (since hi is the
// integer part's upper half of the Q32.32 multiplier), and the running
// 64-bit accumulator captures the carry into the next limb.
func (a Limbs160) SafeMulFixedPointRational(lo, hi uint32) (Limbs160, uint32) {
	var out Limbs160
	var acc [6]uint64 // one extra limb to catch the final carry before overflow

	for i := 0; i < len(a); i++ {
		if a[i] == 0 {
			continue
		}
		// self[i] * lo / 2^32 splits across two words: the high half lands
		// at word i and the low half at word i-1. For i == 0 the low half is
		// the fractional word and is discarded.
		hiLo, loLo := bits.Mul32(a[i], lo)
		addToAcc(&acc, i, uint64(hiLo))
		if i > 0 {
			addToAcc(&acc, i-1, uint64(loLo))
		}

		// self[i] * hi contributes a full limb at word i, shifted up one
		// limb because hi is the upper 32 bits of the Q32.32 multiplier.
		hiHi, loHi := bits.Mul32(a[i], hi)
		addToAcc(&acc, i, uint64(loHi))
		addToAcc(&acc, i+1, uint64(hiHi))
	}

	for i := 0; i < len(out); i++ {
		out[i] = uint32(acc[i])
	}
	overflow := uint32(acc[5])
	return out, overflow
}

// addToAcc adds v into acc[idx] and propagates carry into subsequent words,
// saturating into the final catch-all word if idx is already past it.
func addToAcc(acc *[6]uint64, idx int, v uint64) {
	for v != 0 && idx < len(acc) {
		sum := acc[idx] + v
		acc[idx] = sum & 0xffffffff
		v = sum >> 32
		idx++
	}
	if idx >= len(acc) && v != 0 {
		acc[len(acc)-1] += v
	}
}
