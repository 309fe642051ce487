package consensus

import "sort"

// MaxFutureDrift bounds how far a header's timestamp may exceed the
// median-time-past before it is rejected as implausible.
const MaxFutureDrift = uint64(2 * 60 * 60 * 1_000_000_000) // 2 hours, in nanoseconds

// ValidationSummary carries the basic-validation outputs a caller needs
// next (the block hash, so it doesn't have to recompute it).
type ValidationSummary struct {
	BlockHash Digest
}

// ValidateBlockBasic runs the parse-independent checks spec.md assigns to
// "block format & validation": linkage to the expected parent, the body's
// merkle commitment, proof-of-work against the header's own target, an
// optional target match against a caller-computed expectation, and the
// median-time-past timestamp rule. Transaction-level validity (scripts,
// the STARK proof) is out of scope — an opaque oracle the caller consults
// separately.
func ValidateBlockBasic(
	block Block,
	expectedPrev *Digest,
	expectedDifficulty *Difficulty,
	blockHeight uint64,
	prevTimestamps []uint64,
) (*ValidationSummary, error) {
	if expectedPrev != nil && block.Header.PrevBlockDigest != *expectedPrev {
		return nil, txerr(BLOCK_ERR_LINKAGE_INVALID, "prev_block_digest mismatch")
	}

	root, err := ComputeBodyMerkleRoot(block.Body)
	if err != nil {
		return nil, txerr(BLOCK_ERR_MERKLE_INVALID, "failed to compute body merkle root")
	}
	if root != block.Header.BodyMerkleRoot {
		return nil, txerr(BLOCK_ERR_MERKLE_INVALID, "body_merkle_root mismatch")
	}

	if expectedDifficulty != nil && block.Header.TargetDifficulty.Cmp(*expectedDifficulty) != 0 {
		return nil, txerr(BLOCK_ERR_LINKAGE_INVALID, "target_difficulty mismatch")
	}

	blockHash := BlockHash(block.Header)
	target := block.Header.TargetDifficulty.Target()
	if !HashMeetsTarget(blockHash, target) {
		return nil, txerr(ProofOfWorkInsufficient, "block hash does not meet target")
	}

	if err := validateTimestamp(block.Header.Timestamp, blockHeight, prevTimestamps); err != nil {
		return nil, err
	}

	return &ValidationSummary{BlockHash: blockHash}, nil
}

func validateTimestamp(headerTimestamp uint64, blockHeight uint64, prevTimestamps []uint64) error {
	median, ok, err := medianTimePast(blockHeight, prevTimestamps)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if headerTimestamp <= median {
		return txerr(BLOCK_ERR_PARSE, "timestamp <= median-time-past")
	}
	upperBound := median + MaxFutureDrift
	if upperBound < median {
		upperBound = ^uint64(0)
	}
	if headerTimestamp > upperBound {
		return txerr(BLOCK_ERR_PARSE, "timestamp exceeds future drift")
	}
	return nil
}

func medianTimePast(blockHeight uint64, prevTimestamps []uint64) (uint64, bool, error) {
	if blockHeight == 0 || len(prevTimestamps) == 0 {
		return 0, false, nil
	}
	k := 11
	if int(blockHeight) < k {
		k = int(blockHeight)
	}
	if len(prevTimestamps) < k {
		return 0, false, txerr(BLOCK_ERR_PARSE, "insufficient prev_timestamps context")
	}
	window := append([]uint64(nil), prevTimestamps[:k]...)
	sort.Slice(window, func(i, j int) bool { return window[i] < window[j] })
	return window[(len(window)-1)/2], true, nil
}
