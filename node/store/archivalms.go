package store

import (
	"encoding/binary"
	"fmt"
	"path/filepath"
	"time"

	"mutanet.dev/node/digest"
	"mutanet.dev/node/mutatorset"

	bolt "go.etcd.io/bbolt"
)

// Bucket layout for the mutator-set's own key/value store, kept separate
// from the block catalog's bbolt file so the two can be backed up or
// rebuilt independently: one bucket per leaf table plus one for the
// active window blob and running leaf counts.
var (
	msBucketAOCLLeaves  = []byte("ms_aocl_leaves")
	msBucketSwbfiLeaves = []byte("ms_swbfi_leaves")
	msBucketChunks      = []byte("ms_chunks")
	msBucketActive      = []byte("ms_active_window")
	msBucketMeta        = []byte("ms_meta")
)

var (
	msMetaKeyAOCLLive  = []byte("aocl_live")
	msMetaKeySwbfiLive = []byte("swbfi_live")
	msActiveKey        = []byte("active_window")
)

// ArchivalMutatorSet wraps mutatorset.MutatorSet with bbolt persistence.
// Unlike an accumulator client, it never prunes: every AOCL leaf and every
// frozen chunk it has ever seen stays on disk, so the node can reproduce
// any historical membership proof.
//
// Reverting the most recent Add does not require the caller to remember
// whether that Add slid the window: mutatorset.MutatorSet.WouldSlideOnRevert
// recomputes it from the live leaf count, since sliding is a pure function
// of position. This lets the orchestrator's rollback phase walk blocks
// backward purely from the catalog, without a separate undo log.
type ArchivalMutatorSet struct {
	db *bolt.DB
	ms *mutatorset.MutatorSet
}

// OpenArchivalMutatorSet opens (creating if absent) the mutator set's bbolt
// database under chainDir/databases/mutator_set.db, loading any persisted
// state back into memory.
func OpenArchivalMutatorSet(chainDir string) (*ArchivalMutatorSet, error) {
	if err := ensureDir(filepath.Join(chainDir, "databases")); err != nil {
		return nil, err
	}
	path := filepath.Join(chainDir, "databases", "mutator_set.db")
	bdb, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bbolt: %w", err)
	}

	buckets := [][]byte{msBucketAOCLLeaves, msBucketSwbfiLeaves, msBucketChunks, msBucketActive, msBucketMeta}
	if err := bdb.Update(func(tx *bolt.Tx) error {
		for _, b := range buckets {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("create bucket %s: %w", string(b), err)
			}
		}
		return nil
	}); err != nil {
		_ = bdb.Close()
		return nil, err
	}

	a := &ArchivalMutatorSet{db: bdb}
	ms, err := a.load()
	if err != nil {
		_ = bdb.Close()
		return nil, err
	}
	a.ms = ms
	return a, nil
}

func (a *ArchivalMutatorSet) Close() error {
	if a == nil || a.db == nil {
		return nil
	}
	return a.db.Close()
}

// Set returns the live MutatorSet for read-only operations (Commitment,
// Verify, Prove). Callers must not mutate it directly; go through the
// methods below so every mutation is persisted.
func (a *ArchivalMutatorSet) Set() *mutatorset.MutatorSet {
	return a.ms
}

func (a *ArchivalMutatorSet) load() (*mutatorset.MutatorSet, error) {
	var aoclLeaves, swbfiLeaves []digest.Digest
	var activeIndices []uint32
	chunks := make(map[uint64]mutatorset.Chunk)

	err := a.db.View(func(tx *bolt.Tx) error {
		aoclLive := getU64(tx.Bucket(msBucketMeta), msMetaKeyAOCLLive)
		swbfiLive := getU64(tx.Bucket(msBucketMeta), msMetaKeySwbfiLive)

		aoclLeaves = make([]digest.Digest, aoclLive)
		leaves := tx.Bucket(msBucketAOCLLeaves)
		for i := uint64(0); i < aoclLive; i++ {
			v := leaves.Get(u64Key(i))
			if v == nil {
				return fmt.Errorf("mutator set: missing aocl leaf %d", i)
			}
			copy(aoclLeaves[i][:], v)
		}

		swbfiLeaves = make([]digest.Digest, swbfiLive)
		inactive := tx.Bucket(msBucketSwbfiLeaves)
		chunkBucket := tx.Bucket(msBucketChunks)
		for i := uint64(0); i < swbfiLive; i++ {
			v := inactive.Get(u64Key(i))
			if v == nil {
				return fmt.Errorf("mutator set: missing swbf_inactive leaf %d", i)
			}
			copy(swbfiLeaves[i][:], v)
			cv := chunkBucket.Get(u64Key(i))
			if cv == nil {
				return fmt.Errorf("mutator set: missing chunk %d", i)
			}
			chunks[i] = mutatorset.FromIndices(decodeU32List(cv))
		}

		activeIndices = decodeU32List(tx.Bucket(msBucketActive).Get(msActiveKey))
		return nil
	})
	if err != nil {
		return nil, err
	}

	return mutatorset.FromParts(
		mutatorset.FromLeaves(aoclLeaves),
		mutatorset.FromLeaves(swbfiLeaves),
		mutatorset.FromSorted(activeIndices),
		chunks,
	), nil
}

func (a *ArchivalMutatorSet) persistAfterMutation(tx *bolt.Tx, touchedChunks map[uint64]mutatorset.Chunk) error {
	if err := putU64(tx.Bucket(msBucketMeta), msMetaKeyAOCLLive, a.ms.AOCL.LeafCount()); err != nil {
		return err
	}
	if err := putU64(tx.Bucket(msBucketMeta), msMetaKeySwbfiLive, a.ms.SwbfInactive.LeafCount()); err != nil {
		return err
	}
	if err := tx.Bucket(msBucketActive).Put(msActiveKey, encodeU32List(a.ms.SwbfActive.ToSlice())); err != nil {
		return err
	}
	for idx, chunk := range touchedChunks {
		if err := tx.Bucket(msBucketChunks).Put(u64Key(idx), encodeU32List(chunk.ToIndices())); err != nil {
			return err
		}
		leaf, ok := a.ms.SwbfInactive.GetLeaf(idx)
		if !ok {
			continue
		}
		if err := tx.Bucket(msBucketSwbfiLeaves).Put(u64Key(idx), leaf[:]); err != nil {
			return err
		}
	}
	return nil
}

func (a *ArchivalMutatorSet) persistAOCLLeaf(tx *bolt.Tx) error {
	idx := a.ms.AOCL.LeafCount() - 1
	leaf, ok := a.ms.AOCL.GetLeaf(idx)
	if !ok {
		return fmt.Errorf("mutator set: missing just-appended aocl leaf")
	}
	return tx.Bucket(msBucketAOCLLeaves).Put(u64Key(idx), leaf[:])
}

// Add appends ar to the AOCL, persisting the new leaf and, if this
// addition crossed a window boundary, the newly frozen chunk and its
// swbf_inactive leaf.
func (a *ArchivalMutatorSet) Add(ar mutatorset.AdditionRecord) (slidChunkIndex uint64, slidChunk mutatorset.Chunk, slid bool, err error) {
	slidChunkIndex, slidChunk, slid = a.ms.Add(ar)
	err = a.db.Update(func(tx *bolt.Tx) error {
		if err := a.persistAOCLLeaf(tx); err != nil {
			return err
		}
		touched := map[uint64]mutatorset.Chunk{}
		if slid {
			touched[slidChunkIndex] = slidChunk
		}
		return a.persistAfterMutation(tx, touched)
	})
	return slidChunkIndex, slidChunk, slid, err
}

// RevertAdd undoes the most recently applied Add. It recomputes, from the
// current live leaf count, whether that Add slid the window (see
// mutatorset.MutatorSet.WouldSlideOnRevert), recovers the slid chunk's
// bits from the persisted Chunks table, and only then calls through to
// MutatorSet.RevertAdd.
func (a *ArchivalMutatorSet) RevertAdd() error {
	var slidChunk *mutatorset.Chunk
	if a.ms.WouldSlideOnRevert() {
		idx := a.ms.SwbfInactive.LeafCount() - 1
		chunk, ok := a.ms.Chunks[idx]
		if !ok {
			return fmt.Errorf("mutator set: missing chunk %d to revert slide", idx)
		}
		slidChunk = &chunk
	}
	if err := a.ms.RevertAdd(slidChunk); err != nil {
		return err
	}
	return a.db.Update(func(tx *bolt.Tx) error {
		return a.persistAfterMutation(tx, nil)
	})
}

// Remove applies rr, persisting every chunk (and its swbf_inactive leaf)
// that changed and the active window.
func (a *ArchivalMutatorSet) Remove(rr mutatorset.RemovalRecord) ([]uint64, error) {
	changed, flipped, err := a.ms.Remove(rr)
	if err != nil {
		return nil, err
	}
	if err := a.db.Update(func(tx *bolt.Tx) error {
		return a.persistAfterMutation(tx, changed)
	}); err != nil {
		return nil, err
	}
	return flipped, nil
}

// BatchRemove applies every record in rrs, refreshing preservedMps'
// embedded chunk dictionaries, and persists every touched chunk once.
func (a *ArchivalMutatorSet) BatchRemove(rrs []mutatorset.RemovalRecord, preservedMps []*mutatorset.MembershipProof) ([]uint64, error) {
	touchedBefore := map[uint64]mutatorset.Chunk{}
	for idx, c := range a.ms.Chunks {
		touchedBefore[idx] = c
	}
	flipped, err := a.ms.BatchRemove(rrs, preservedMps)
	if err != nil {
		return nil, err
	}
	touched := map[uint64]mutatorset.Chunk{}
	for idx, c := range a.ms.Chunks {
		before, existed := touchedBefore[idx]
		if !existed || before.Digest() != c.Digest() {
			touched[idx] = c
		}
	}
	if err := a.db.Update(func(tx *bolt.Tx) error {
		return a.persistAfterMutation(tx, touched)
	}); err != nil {
		return nil, err
	}
	return flipped, nil
}

// RevertRemove clears exactly the given bit indices and persists whatever
// chunks that touched.
func (a *ArchivalMutatorSet) RevertRemove(flippedIndices []uint64) error {
	touched := map[uint64]mutatorset.Chunk{}
	base := mutatorset.BatchIndex(a.ms.AOCL.LeafCount()) * mutatorset.ChunkSize
	for _, idx := range flippedIndices {
		if idx >= base {
			continue
		}
		touched[idx/mutatorset.ChunkSize] = mutatorset.Chunk{}
	}
	if err := a.ms.RevertRemove(flippedIndices); err != nil {
		return err
	}
	for idx := range touched {
		touched[idx] = a.ms.Chunks[idx]
	}
	return a.db.Update(func(tx *bolt.Tx) error {
		return a.persistAfterMutation(tx, touched)
	})
}

func u64Key(i uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], i)
	return b[:]
}

func getU64(b *bolt.Bucket, key []byte) uint64 {
	v := b.Get(key)
	if v == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(v)
}

func putU64(b *bolt.Bucket, key []byte, v uint64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	return b.Put(key, buf[:])
}

func encodeU32List(xs []uint32) []byte {
	out := make([]byte, 4*len(xs))
	for i, x := range xs {
		binary.LittleEndian.PutUint32(out[i*4:(i+1)*4], x)
	}
	return out
}

func decodeU32List(b []byte) []uint32 {
	if len(b) == 0 {
		return nil
	}
	n := len(b) / 4
	out := make([]uint32, n)
	for i := 0; i < n; i++ {
		out[i] = binary.LittleEndian.Uint32(b[i*4 : (i+1)*4])
	}
	return out
}
