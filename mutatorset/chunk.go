// Package mutatorset implements the dual-MMR sliding-window Bloom filter
// commitment scheme ("mutator set") used to authenticate spent/unspent
// UTXO commitments without revealing which addition a removal matches.
package mutatorset

import (
	"sort"

	"github.com/bits-and-blooms/bitset"

	"mutanet.dev/node/digest"
)

// ChunkSize is the number of bits in one Chunk: the granularity at which
// the sliding-window Bloom filter slides.
const ChunkSize = 1024

// Chunk is a fixed-size bit vector: the historical, frozen slice of the
// SWBF that slid out of the active window. Backed by bitset.BitSet rather
// than a hand-rolled bitmap.
type Chunk struct {
	bits *bitset.BitSet
}

// NewChunk returns an all-zero Chunk of ChunkSize bits.
func NewChunk() Chunk {
	return Chunk{bits: bitset.New(ChunkSize)}
}

// FromIndices builds a Chunk with exactly the given relative bit indices
// set. Indices must be < ChunkSize.
func FromIndices(indices []uint32) Chunk {
	c := NewChunk()
	for _, i := range indices {
		c.bits.Set(uint(i))
	}
	return c
}

// ToIndices returns the sorted list of set bit indices.
func (c Chunk) ToIndices() []uint32 {
	out := make([]uint32, 0, c.bits.Count())
	for i, ok := c.bits.NextSet(0); ok; i, ok = c.bits.NextSet(i + 1) {
		out = append(out, uint32(i))
	}
	return out
}

// Insert sets bit i. Reports whether the bit was previously unset.
func (c Chunk) Insert(i uint32) (wasUnset bool) {
	wasUnset = !c.bits.Test(uint(i))
	c.bits.Set(uint(i))
	return wasUnset
}

// Contains reports whether bit i is set.
func (c Chunk) Contains(i uint32) bool {
	return c.bits.Test(uint(i))
}

// Clear unsets bit i. Returns an error if the bit is already zero, since a
// revert that clears an already-clear bit indicates corrupted rollback
// bookkeeping.
func (c Chunk) Clear(i uint32) error {
	if !c.bits.Test(uint(i)) {
		return errChunkAlreadyZero
	}
	c.bits.Clear(uint(i))
	return nil
}

// Clone returns an independent copy of c.
func (c Chunk) Clone() Chunk {
	return Chunk{bits: c.bits.Clone()}
}

// Or sets c to the bitwise union of c and other, in place.
func (c Chunk) Or(other Chunk) {
	c.bits.InPlaceUnion(other.bits)
}

// Xor returns the set of bit indices that differ between a and b: the
// "newly flipped" set used by batch_remove to detect which bits a chunk
// mutation actually changed.
func Xor(a, b Chunk) []uint32 {
	x := a.bits.Clone()
	x.InPlaceSymmetricDifference(b.bits)
	out := make([]uint32, 0, x.Count())
	for i, ok := x.NextSet(0); ok; i, ok = x.NextSet(i + 1) {
		out = append(out, uint32(i))
	}
	return out
}

// Digest hashes the chunk's serialized bit sequence.
func (c Chunk) Digest() digest.Digest {
	buf := make([]byte, ChunkSize/8)
	words := c.bits.Bytes()
	for i, w := range words {
		base := i * 8
		for j := 0; j < 8 && base+j < len(buf); j++ {
			buf[base+j] = byte(w >> (8 * j))
		}
	}
	return digest.Hash(buf)
}

// ChunkDictionary maps an inactive-SWBF chunk index to the chunk itself
// plus its MMR authentication path, the `target_chunks` carried by
// RemovalRecord and MembershipProof.
type ChunkDictionary struct {
	entries map[uint64]ChunkDictionaryEntry
}

type ChunkDictionaryEntry struct {
	Chunk Chunk
	Proof MembershipAuthPath
}

func NewChunkDictionary() ChunkDictionary {
	return ChunkDictionary{entries: make(map[uint64]ChunkDictionaryEntry)}
}

func (d ChunkDictionary) Get(chunkIndex uint64) (ChunkDictionaryEntry, bool) {
	e, ok := d.entries[chunkIndex]
	return e, ok
}

func (d ChunkDictionary) Set(chunkIndex uint64, e ChunkDictionaryEntry) {
	d.entries[chunkIndex] = e
}

func (d ChunkDictionary) Delete(chunkIndex uint64) {
	delete(d.entries, chunkIndex)
}

func (d ChunkDictionary) Len() int {
	return len(d.entries)
}

// SortedIndices returns the dictionary's chunk indices in ascending order,
// for deterministic iteration during verify/batch_remove.
func (d ChunkDictionary) SortedIndices() []uint64 {
	out := make([]uint64, 0, len(d.entries))
	for k := range d.entries {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (d ChunkDictionary) Clone() ChunkDictionary {
	out := NewChunkDictionary()
	for k, v := range d.entries {
		out.entries[k] = ChunkDictionaryEntry{Chunk: v.Chunk.Clone(), Proof: v.Proof.Clone()}
	}
	return out
}
