package mutatorset

import "mutanet.dev/node/consensus"

func msErr(code consensus.ErrorCode, msg string) error {
	return &consensus.ChainError{Code: code, Msg: msg}
}

var (
	errChunkAlreadyZero   = msErr(consensus.MutatorSetInvariantViolated, "revert on an already-zero bit")
	errMMREmpty           = msErr(consensus.MutatorSetInvariantViolated, "revert on empty MMR")
	errMMRIndexOutOfRange = msErr(consensus.CorruptBlock, "mmr leaf index out of range")
	errActiveWindowRange  = msErr(consensus.CorruptBlock, "index out of active window range")
	errActiveWindowAbsent = msErr(consensus.MutatorSetInvariantViolated, "decremented index already zero")
	errSlideBackNonEmpty  = msErr(consensus.MutatorSetInvariantViolated, "slide_window_back into non-empty zone")
)
