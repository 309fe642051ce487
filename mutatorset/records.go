package mutatorset

import "mutanet.dev/node/digest"

// AdditionRecord is the canonical commitment appended to the AOCL on a
// UTXO's creation: H(item, sender_randomness, receiver_digest).
type AdditionRecord struct {
	CanonicalCommitment digest.Digest
}

// Commit computes the AdditionRecord for an item, without mutating any
// mutator-set state.
func Commit(item, senderRandomness, receiverDigest digest.Digest) AdditionRecord {
	buf := make([]byte, 0, digest.Bytes*3)
	buf = append(buf, item[:]...)
	buf = append(buf, senderRandomness[:]...)
	buf = append(buf, receiverDigest[:]...)
	return AdditionRecord{CanonicalCommitment: digest.Hash(buf)}
}

// RemovalRecord authenticates that a specific AOCL leaf is being spent: the
// NumTrials bloom-filter bit indices it set, plus the chunks (with MMR
// auth paths) needed to flip any of those indices that now live in the
// frozen, inactive part of the SWBF.
type RemovalRecord struct {
	BitIndices    [NumTrials]uint64
	TargetChunks  ChunkDictionary
}

func (r RemovalRecord) Clone() RemovalRecord {
	return RemovalRecord{BitIndices: r.BitIndices, TargetChunks: r.TargetChunks.Clone()}
}

// MembershipProof is the evidence that an item is a member of the mutator
// set: the AOCL authentication path for its addition record, the chunk
// dictionary covering any already-frozen chunks its bit indices touch, and
// the randomness used to recompute its canonical commitment.
type MembershipProof struct {
	SenderRandomness  digest.Digest
	ReceiverPreimage  digest.Digest
	AOCLAuthPath      MembershipAuthPath
	TargetChunks      ChunkDictionary
	CachedIndices     *[NumTrials]uint64
}

func (p MembershipProof) Clone() MembershipProof {
	out := p
	out.AOCLAuthPath = p.AOCLAuthPath.Clone()
	out.TargetChunks = p.TargetChunks.Clone()
	if p.CachedIndices != nil {
		cp := *p.CachedIndices
		out.CachedIndices = &cp
	}
	return out
}
