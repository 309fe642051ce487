package consensus

import "math/big"

// q32Dot32One is 2^32, the unit of the Q32.32 fixed-point representation
// used throughout the difficulty controller.
const q32Dot32One = int64(1) << 32

// clampLow and clampHigh bound the Q32.32 relative error before it is
// folded into the control signal, per spec §4.2: the error is clamped to
// [-1*2^32, 4*2^32] so an arbitrarily long block interval cannot crater the
// difficulty in one step.
var (
	clampLow  = -q32Dot32One
	clampHigh = 4 * q32Dot32One
)

// NextDifficulty implements the P-only difficulty controller from spec §4.2.
//
// newTs/oldTs are nanosecond timestamps of consecutive blocks; targetInterval
// is the configured target block interval in nanoseconds. prevHeight is the
// height of the block being extended (height of the *previous* tip): if it
// is the genesis height, the difficulty does not change.
//
// Rationale for a pure-proportional controller: an integral term would let
// an attacker who controls timestamps accumulate influence over many
// blocks; P-only bounds the adjustment to what a single interval's error
// can justify.
func NextDifficulty(newTs, oldTs uint64, oldDiff Difficulty, targetInterval uint64, prevHeight uint64) Difficulty {
	if prevHeight == 0 {
		return oldDiff
	}
	if targetInterval == 0 {
		return oldDiff
	}

	var deltaT int64
	if newTs >= oldTs {
		deltaT = int64(newTs - oldTs)
	} else {
		deltaT = -int64(oldTs - newTs)
	}
	target := int64(targetInterval)
	errNs := deltaT - target

	// Scale to Q32.32: floor(errNs * 2^32 / target).
	relErr := new(big.Int).Mul(big.NewInt(errNs), big.NewInt(q32Dot32One))
	relErr.Quo(relErr, big.NewInt(target))

	clamped := relErr.Int64()
	if clamped < clampLow {
		clamped = clampLow
	}
	if clamped > clampHigh {
		clamped = clampHigh
	}

	// adj = 2^32 + ((-clamped) >> 4): P = -1/16.
	adj := q32Dot32One + (-clamped >> 4)
	if adj <= 0 {
		// Clamping above guarantees adj is strictly positive; this is
		// unreachable but kept as a last-resort floor.
		adj = 1
	}

	lo := uint32(uint64(adj) & 0xffffffff)
	hi := uint32(uint64(adj) >> 32)

	product, overflow := oldDiff.limbs.SafeMulFixedPointRational(lo, hi)
	if overflow != 0 {
		return MaximumDifficulty()
	}
	next := Difficulty{limbs: product}
	if next.Cmp(MaximumDifficulty()) > 0 {
		return MaximumDifficulty()
	}
	if next.Cmp(MinimumDifficulty()) < 0 {
		return MinimumDifficulty()
	}
	return next
}
