package consensus

import "math/big"

// Difficulty is an ordered 5-limb little-endian unsigned 160-bit integer.
// Invariant: MINIMUM <= value <= MAXIMUM.
type Difficulty struct {
	limbs Limbs160
}

// ProofOfWork is accumulated chain work: an ordered 6-limb unsigned
// integer, an additive monoid with wraparound at 192 bits.
type ProofOfWork struct {
	limbs Limbs192
}

// MinimumDifficulty fixes limb[0] = 1000 and all higher limbs to zero.
func MinimumDifficulty() Difficulty {
	return Difficulty{limbs: Limbs160{1000, 0, 0, 0, 0}}
}

// MaximumDifficulty is the ceiling difficulty can saturate to.
func MaximumDifficulty() Difficulty {
	return Difficulty{limbs: Limbs160{0xffffffff, 0xffffffff, 0xffffffff, 0xffffffff, 0xffffffff}}
}

func NewDifficulty(limbs Limbs160) (Difficulty, error) {
	d := Difficulty{limbs: limbs}
	if d.Cmp(MinimumDifficulty()) < 0 || d.Cmp(MaximumDifficulty()) > 0 {
		return Difficulty{}, txerr(TX_ERR_PARSE, "difficulty out of [MINIMUM, MAXIMUM] range")
	}
	return d, nil
}

func (d Difficulty) Limbs() Limbs160 { return d.limbs }

func (d Difficulty) Cmp(other Difficulty) int { return d.limbs.Cmp(other.limbs) }

func (d Difficulty) BigInt() *big.Int { return d.limbs.BigInt() }

// DifficultyFromBigInt clamps x into [MINIMUM, MAXIMUM] and converts it to a
// Difficulty. Round-trip law: Difficulty -> BigInt -> Difficulty is the
// identity for all values already inside [MINIMUM, MAXIMUM].
func DifficultyFromBigInt(x *big.Int) Difficulty {
	min := MinimumDifficulty()
	max := MaximumDifficulty()
	if x.Cmp(min.BigInt()) < 0 {
		return min
	}
	if x.Cmp(max.BigInt()) > 0 {
		return max
	}
	return Difficulty{limbs: Limbs160FromBigInt(x)}
}

// maxDigestBigInt is the integer value of a digest whose every byte is 0xff.
var maxDigestBigInt = func() *big.Int {
	b := make([]byte, DigestBytes)
	for i := range b {
		b[i] = 0xff
	}
	return new(big.Int).SetBytes(b)
}()

// Target converts a Difficulty to a target Digest: floor(MAX_DIGEST / d),
// reinterpreted as the low bits of a digest. A lower difficulty yields a
// larger (easier) target.
func (d Difficulty) Target() Digest {
	t := new(big.Int).Quo(maxDigestBigInt, d.BigInt())
	var out Digest
	b := t.Bytes()
	if len(b) > DigestBytes {
		b = b[len(b)-DigestBytes:]
	}
	copy(out[DigestBytes-len(b):], b)
	return out
}

// HashMeetsTarget reports whether blockHash, read as a big-endian unsigned
// integer, is strictly less than target — the proof-of-work check.
func HashMeetsTarget(blockHash Digest, target Digest) bool {
	return blockHash.Compare(target) < 0
}

func (w ProofOfWork) Limbs() Limbs192 { return w.limbs }

func (w ProofOfWork) Cmp(other ProofOfWork) int { return w.limbs.Cmp(other.limbs) }

func (w ProofOfWork) Add(other ProofOfWork) ProofOfWork {
	return ProofOfWork{limbs: Add192(w.limbs, other.limbs)}
}

func (w ProofOfWork) BigInt() *big.Int { return w.limbs.BigInt() }

// WorkFromTarget returns floor(2^256 / target), the chainwork contributed
// by a single block at the given target.
func WorkFromTarget(target Digest) (ProofOfWork, error) {
	t := new(big.Int).SetBytes(target[:])
	if t.Sign() <= 0 {
		return ProofOfWork{}, txerr(TX_ERR_PARSE, "work: target must be > 0")
	}
	twoTo256 := new(big.Int).Lsh(big.NewInt(1), 256)
	work := new(big.Int).Quo(twoTo256, t)
	return ProofOfWork{limbs: Limbs192(limbs192FromBigInt(work))}, nil
}

func limbs192FromBigInt(x *big.Int) Limbs192 {
	var out Limbs192
	mask := new(big.Int).SetUint64(0xffffffff)
	tmp := new(big.Int).Set(x)
	for i := range out {
		limb := new(big.Int).And(tmp, mask)
		out[i] = uint32(limb.Uint64())
		tmp.Rsh(tmp, 32)
	}
	return out
}
