package mutatorset

import (
	"sort"

	"mutanet.dev/node/digest"
)

// MutatorSet is the combined privacy-preserving UTXO commitment: an AOCL
// (append-only commitment list, an MMR of addition-record digests), the
// inactive part of the sliding-window Bloom filter (an MMR of frozen
// chunk digests, plus the chunks' raw bit vectors kept alongside for
// mutation), and the active window itself.
//
// This is the archival instance: it owns the authoritative Chunks table
// directly rather than reconstructing chunk state from a caller-supplied
// ChunkDictionary, since an archival node never needs to trust a peer's
// view of its own set.
type MutatorSet struct {
	AOCL         *MMR
	SwbfInactive *MMR
	SwbfActive   *ActiveWindow
	Chunks       map[uint64]Chunk
}

func New() *MutatorSet {
	return &MutatorSet{
		AOCL:         NewMMR(),
		SwbfInactive: NewMMR(),
		SwbfActive:   NewActiveWindow(),
		Chunks:       make(map[uint64]Chunk),
	}
}

// FromParts reassembles a MutatorSet from its four persisted components,
// used when an ArchivalMutatorSet loads state back out of its catalog.
func FromParts(aocl, swbfInactive *MMR, active *ActiveWindow, chunks map[uint64]Chunk) *MutatorSet {
	if chunks == nil {
		chunks = make(map[uint64]Chunk)
	}
	return &MutatorSet{
		AOCL:         aocl,
		SwbfInactive: swbfInactive,
		SwbfActive:   active,
		Chunks:       chunks,
	}
}

// WouldSlideOnRevert reports whether the most recent Add (the one that
// brought the AOCL to its current live leaf count) triggered a window
// slide. Whether a given addition slides is a pure function of its
// position (every BatchSize-th addition slides, unconditionally on
// content), so a caller rolling back from cold storage can recompute this
// fact directly from the live leaf count instead of needing it recorded
// alongside the addition.
func (m *MutatorSet) WouldSlideOnRevert() bool {
	n := m.AOCL.LeafCount()
	return n > 1 && (n-1)%BatchSize == 0
}

// Commitment is the digest that a block header's mutator-set commitment
// field must match: the AOCL commitment, the inactive-SWBF commitment,
// and a hash of the active window, folded together.
func (m *MutatorSet) Commitment() digest.Digest {
	aw := make([]byte, 0, len(m.SwbfActive.sbf)*4)
	for _, idx := range m.SwbfActive.sbf {
		aw = append(aw, byte(idx), byte(idx>>8), byte(idx>>16), byte(idx>>24))
	}
	awDigest := digest.Hash(aw)
	return digest.Pair(digest.Pair(m.AOCL.Commitment(), m.SwbfInactive.Commitment()), awDigest)
}

// Commit computes an AdditionRecord without mutating any state.
func (m *MutatorSet) Commit(item, senderRandomness, receiverDigest digest.Digest) AdditionRecord {
	return Commit(item, senderRandomness, receiverDigest)
}

// Prove produces the membership proof an item would have immediately
// after being added: it simulates the append against the AOCL, captures
// the resulting authentication path, and reverts the simulated mutation.
func (m *MutatorSet) Prove(ar AdditionRecord, senderRandomness, receiverPreimage digest.Digest, storeIndices bool) (MembershipProof, error) {
	idx := m.AOCL.Append(ar.CanonicalCommitment)
	path, err := m.AOCL.AuthPath(idx)
	if revErr := m.AOCL.RevertLast(); revErr != nil {
		return MembershipProof{}, revErr
	}
	if err != nil {
		return MembershipProof{}, err
	}

	mp := MembershipProof{
		SenderRandomness: senderRandomness,
		ReceiverPreimage: receiverPreimage,
		AOCLAuthPath:     path,
		TargetChunks:     NewChunkDictionary(),
	}
	if storeIndices {
		idxs := SwbfIndices(ar.CanonicalCommitment, senderRandomness, idx)
		mp.CachedIndices = &idxs
	}
	return mp, nil
}

// Add appends ar to the AOCL. If this addition crosses a BatchSize
// boundary, the active window slides: the chunk that falls out is frozen
// into the inactive SWBF MMR and the Chunks table, and its index and
// contents are returned.
func (m *MutatorSet) Add(ar AdditionRecord) (slidChunkIndex uint64, slidChunk Chunk, slid bool) {
	m.AOCL.Append(ar.CanonicalCommitment)
	newLeafCount := m.AOCL.LeafCount()

	if newLeafCount > 1 && (newLeafCount-1)%BatchSize == 0 {
		chunk := m.SwbfActive.SlidChunk()
		idx := m.SwbfInactive.Append(chunk.Digest())
		m.Chunks[idx] = chunk
		m.SwbfActive.SlideWindow()
		return idx, chunk, true
	}
	return 0, Chunk{}, false
}

// Drop builds a RemovalRecord for an item given its membership proof.
func (m *MutatorSet) Drop(item digest.Digest, mp MembershipProof) RemovalRecord {
	var indices [NumTrials]uint64
	if mp.CachedIndices != nil {
		indices = *mp.CachedIndices
	} else {
		ar := Commit(item, mp.SenderRandomness, mp.ReceiverPreimage)
		indices = SwbfIndices(ar.CanonicalCommitment, mp.SenderRandomness, mp.AOCLAuthPath.LeafIndex)
	}
	return RemovalRecord{BitIndices: indices, TargetChunks: mp.TargetChunks.Clone()}
}

// Remove applies rr: flips every one of its bit indices, in the active
// window or in a frozen chunk depending on where the index currently
// falls, and returns the chunks touched plus the sorted, deduped set of
// indices that were actually flipped from 0 to 1.
func (m *MutatorSet) Remove(rr RemovalRecord) (changed map[uint64]Chunk, flipped []uint64, err error) {
	changed = make(map[uint64]Chunk)
	batchIndex := BatchIndex(m.AOCL.LeafCount())
	base := batchIndex * ChunkSize

	flippedSet := make(map[uint64]struct{})
	for _, idx := range rr.BitIndices {
		if idx >= base {
			rel := uint32(idx - base)
			if !m.SwbfActive.Contains(rel) {
				if err := m.SwbfActive.Insert(rel); err != nil {
					return nil, nil, err
				}
				flippedSet[idx] = struct{}{}
			}
			continue
		}

		chunkIndex := idx / ChunkSize
		bitInChunk := uint32(idx % ChunkSize)
		chunk, ok := m.Chunks[chunkIndex]
		if !ok {
			return nil, nil, errMMRIndexOutOfRange
		}
		if !chunk.Contains(bitInChunk) {
			chunk.Insert(bitInChunk)
			flippedSet[idx] = struct{}{}
		}
		changed[chunkIndex] = chunk
	}

	for chunkIndex, chunk := range changed {
		if err := m.SwbfInactive.SetLeaf(chunkIndex, chunk.Digest()); err != nil {
			return nil, nil, err
		}
	}

	flipped = make([]uint64, 0, len(flippedSet))
	for idx := range flippedSet {
		flipped = append(flipped, idx)
	}
	sort.Slice(flipped, func(i, j int) bool { return flipped[i] < flipped[j] })
	return changed, flipped, nil
}

// BatchRemove applies every rr in rrs and then refreshes the chunk
// dictionaries embedded in preservedMps for any chunk that changed, so
// those membership proofs remain valid. Implemented as sequential
// per-record removal rather than an upfront OR/XOR bit collapse: since
// chunk mutation goes through the authoritative Chunks table by index,
// the collapse is a write-amplification optimization, not a correctness
// requirement, for an archival instance.
func (m *MutatorSet) BatchRemove(rrs []RemovalRecord, preservedMps []*MembershipProof) ([]uint64, error) {
	touchedChunks := make(map[uint64]struct{})
	allFlipped := make(map[uint64]struct{})

	for _, rr := range rrs {
		changed, flipped, err := m.Remove(rr)
		if err != nil {
			return nil, err
		}
		for idx := range changed {
			touchedChunks[idx] = struct{}{}
		}
		for _, f := range flipped {
			allFlipped[f] = struct{}{}
		}
	}

	for _, mp := range preservedMps {
		for chunkIndex := range touchedChunks {
			if _, ok := mp.TargetChunks.Get(chunkIndex); !ok {
				continue
			}
			chunk, ok := m.Chunks[chunkIndex]
			if !ok {
				continue
			}
			path, err := m.SwbfInactive.AuthPath(chunkIndex)
			if err != nil {
				return nil, err
			}
			mp.TargetChunks.Set(chunkIndex, ChunkDictionaryEntry{Chunk: chunk, Proof: path})
		}
	}

	out := make([]uint64, 0, len(allFlipped))
	for idx := range allFlipped {
		out = append(out, idx)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// Verify reports whether item, authenticated by mp, is a current member
// of the set: its AOCL addition must be proven, and at least one of its
// bit indices must still read as unset (i.e. it has not been removed).
func (m *MutatorSet) Verify(item digest.Digest, mp MembershipProof) bool {
	if m.AOCL.LeafCount() <= mp.AOCLAuthPath.LeafIndex {
		return false
	}

	ar := Commit(item, mp.SenderRandomness, mp.ReceiverPreimage)
	if !mp.AOCLAuthPath.Verify(m.AOCL.LeafCount(), ar.CanonicalCommitment, m.AOCL.Commitment()) {
		return false
	}

	var indices [NumTrials]uint64
	if mp.CachedIndices != nil {
		indices = *mp.CachedIndices
	} else {
		indices = SwbfIndices(ar.CanonicalCommitment, mp.SenderRandomness, mp.AOCLAuthPath.LeafIndex)
	}

	batchIndex := BatchIndex(m.AOCL.LeafCount())
	base := batchIndex * ChunkSize

	foundUnset := false
	for _, idx := range indices {
		if idx >= base {
			rel := uint32(idx - base)
			if !m.SwbfActive.Contains(rel) {
				foundUnset = true
			}
			continue
		}

		chunkIndex := idx / ChunkSize
		entry, ok := mp.TargetChunks.Get(chunkIndex)
		if !ok {
			return false
		}
		if !entry.Proof.Verify(m.SwbfInactive.LeafCount(), entry.Chunk.Digest(), m.SwbfInactive.Commitment()) {
			return false
		}
		if !entry.Chunk.Contains(uint32(idx % ChunkSize)) {
			foundUnset = true
		}
	}
	return foundUnset
}

// RevertAdd undoes the most recent Add: removes the live AOCL leaf, and
// if that Add triggered a window slide (slidChunk non-nil), undoes the
// slide too.
func (m *MutatorSet) RevertAdd(slidChunk *Chunk) error {
	if slidChunk != nil {
		if err := m.SwbfInactive.RevertLast(); err != nil {
			return err
		}
		delete(m.Chunks, m.SwbfInactive.LeafCount())
		if err := m.SwbfActive.SlideWindowBack(*slidChunk); err != nil {
			return err
		}
	}
	return m.AOCL.RevertLast()
}

// RevertRemove clears exactly the given bit indices, fatal if any of them
// is already unset.
func (m *MutatorSet) RevertRemove(flippedIndices []uint64) error {
	batchIndex := BatchIndex(m.AOCL.LeafCount())
	base := batchIndex * ChunkSize

	for _, idx := range flippedIndices {
		if idx >= base {
			if err := m.SwbfActive.Remove(uint32(idx - base)); err != nil {
				return err
			}
			continue
		}

		chunkIndex := idx / ChunkSize
		chunk, ok := m.Chunks[chunkIndex]
		if !ok {
			return errMMRIndexOutOfRange
		}
		if err := chunk.Clear(uint32(idx % ChunkSize)); err != nil {
			return err
		}
		if err := m.SwbfInactive.SetLeaf(chunkIndex, chunk.Digest()); err != nil {
			return err
		}
	}
	return nil
}
