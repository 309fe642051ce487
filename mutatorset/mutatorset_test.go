package mutatorset

import (
	"testing"

	"mutanet.dev/node/digest"
)

func mkDigest(b byte) digest.Digest {
	var d digest.Digest
	d[0] = b
	return d
}

// refreshProof rebuilds mp's AOCL authentication path and chunk dictionary
// against ms's current state, as the holder of a proof does after later
// additions and removals have changed the accumulators.
func refreshProof(t *testing.T, ms *MutatorSet, mp *MembershipProof) {
	t.Helper()
	path, err := ms.AOCL.AuthPath(mp.AOCLAuthPath.LeafIndex)
	if err != nil {
		t.Fatalf("AOCL.AuthPath: %v", err)
	}
	mp.AOCLAuthPath = path
	base := BatchIndex(ms.AOCL.LeafCount()) * ChunkSize
	mp.TargetChunks = NewChunkDictionary()
	for _, idx := range *mp.CachedIndices {
		if idx >= base {
			continue
		}
		chunkIndex := idx / ChunkSize
		chunkPath, err := ms.SwbfInactive.AuthPath(chunkIndex)
		if err != nil {
			t.Fatalf("SwbfInactive.AuthPath: %v", err)
		}
		mp.TargetChunks.Set(chunkIndex, ChunkDictionaryEntry{Chunk: ms.Chunks[chunkIndex], Proof: chunkPath})
	}
}

func TestMutatorSet_ProveAddVerify(t *testing.T) {
	ms := New()
	item := mkDigest(1)
	randomness := mkDigest(2)
	receiver := mkDigest(3)

	ar := ms.Commit(item, randomness, receiver)
	mp, err := ms.Prove(ar, randomness, receiver, true)
	if err != nil {
		t.Fatalf("Prove: %v", err)
	}
	ms.Add(ar)

	if !ms.Verify(item, mp) {
		t.Fatalf("expected item to verify as a member immediately after add")
	}
}

func TestMutatorSet_AddThenMatchingRemoveInvalidatesMembership(t *testing.T) {
	ms := New()
	item := mkDigest(9)
	randomness := mkDigest(8)
	receiver := mkDigest(7)

	ar := ms.Commit(item, randomness, receiver)
	mp, err := ms.Prove(ar, randomness, receiver, true)
	if err != nil {
		t.Fatalf("Prove: %v", err)
	}
	ms.Add(ar)
	if !ms.Verify(item, mp) {
		t.Fatalf("precondition: item should verify before removal")
	}

	rr := ms.Drop(item, mp)
	if _, _, err := ms.Remove(rr); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	if ms.Verify(item, mp) {
		t.Fatalf("expected verify to fail after matching remove")
	}
}

func TestMutatorSet_MultipleItemsIndependentMembership(t *testing.T) {
	ms := New()

	type entry struct {
		item digest.Digest
		mp   MembershipProof
	}
	var entries []entry

	for i := byte(0); i < 20; i++ {
		item := mkDigest(i + 1)
		randomness := mkDigest(i + 101)
		receiver := mkDigest(i + 201)

		ar := ms.Commit(item, randomness, receiver)
		mp, err := ms.Prove(ar, randomness, receiver, true)
		if err != nil {
			t.Fatalf("Prove(%d): %v", i, err)
		}
		ms.Add(ar)
		entries = append(entries, entry{item: item, mp: mp})
	}

	// Proofs taken at insertion time are brought up to date before
	// verifying: later additions grow the AOCL and freeze chunks.
	for i := range entries {
		refreshProof(t, ms, &entries[i].mp)
	}
	for i, e := range entries {
		if !ms.Verify(e.item, e.mp) {
			t.Fatalf("entry %d failed to verify after all additions", i)
		}
	}

	// Remove entry 5 and check only it stops verifying.
	target := entries[5]
	rr := ms.Drop(target.item, target.mp)
	if _, _, err := ms.Remove(rr); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	for i := range entries {
		refreshProof(t, ms, &entries[i].mp)
	}
	for i, e := range entries {
		got := ms.Verify(e.item, e.mp)
		want := i != 5
		if got != want {
			t.Fatalf("entry %d: verify=%v, want %v", i, got, want)
		}
	}
}

func TestMutatorSet_RevertAddIsInverseOfAdd(t *testing.T) {
	ms := New()
	item := mkDigest(42)
	randomness := mkDigest(43)
	receiver := mkDigest(44)

	before := ms.Commitment()

	ar := ms.Commit(item, randomness, receiver)
	_, _, slid := ms.Add(ar)
	if slid {
		t.Fatalf("first addition should not trigger a slide")
	}

	if err := ms.RevertAdd(nil); err != nil {
		t.Fatalf("RevertAdd: %v", err)
	}

	if ms.Commitment() != before {
		t.Fatalf("commitment did not return to its pre-add value")
	}
	if ms.AOCL.LeafCount() != 0 {
		t.Fatalf("expected AOCL leaf count 0 after revert, got %d", ms.AOCL.LeafCount())
	}
}

func TestMutatorSet_WindowSlidesEveryBatchSize(t *testing.T) {
	ms := New()
	var lastSlid bool
	var lastChunk Chunk
	var lastIdx uint64

	for i := 0; i < BatchSize+1; i++ {
		item := mkDigest(byte(i + 1))
		randomness := mkDigest(byte(i + 50))
		receiver := mkDigest(byte(i + 100))
		ar := ms.Commit(item, randomness, receiver)
		idx, chunk, slid := ms.Add(ar)
		lastSlid = slid
		if slid {
			lastChunk = chunk
			lastIdx = idx
		}
	}

	if !lastSlid {
		t.Fatalf("expected a window slide after %d additions", BatchSize+1)
	}
	if ms.SwbfInactive.LeafCount() != 1 {
		t.Fatalf("expected exactly one inactive-SWBF leaf, got %d", ms.SwbfInactive.LeafCount())
	}
	if _, ok := ms.Chunks[lastIdx]; !ok {
		t.Fatalf("expected slid chunk to be recorded at index %d", lastIdx)
	}
	_ = lastChunk
}

func TestMutatorSet_RevertAddUndoesWindowSlide(t *testing.T) {
	ms := New()
	var slidChunk Chunk
	var slid bool

	for i := 0; i < BatchSize+1; i++ {
		item := mkDigest(byte(i + 1))
		randomness := mkDigest(byte(i + 50))
		receiver := mkDigest(byte(i + 100))
		ar := ms.Commit(item, randomness, receiver)
		_, chunk, didSlide := ms.Add(ar)
		if didSlide {
			slidChunk = chunk
			slid = true
		}
	}
	if !slid {
		t.Fatalf("setup: expected a slide to occur")
	}

	awBefore := ms.SwbfActive.ToSlice()

	if err := ms.RevertAdd(&slidChunk); err != nil {
		t.Fatalf("RevertAdd: %v", err)
	}

	if ms.SwbfInactive.LeafCount() != 0 {
		t.Fatalf("expected inactive-SWBF leaf count 0 after revert, got %d", ms.SwbfInactive.LeafCount())
	}
	awAfter := ms.SwbfActive.ToSlice()
	if len(awAfter) < len(awBefore) {
		t.Fatalf("expected active window to regain its slid-away entries")
	}
}
