package mutatorset

import (
	"encoding/binary"

	"mutanet.dev/node/digest"
)

// SwbfIndices deterministically derives NumTrials distinct absolute
// SWBF bit indices for an item, biased toward the window that was active
// when the item was added. Sampling is counter-mode: each trial hashes
// item || aoclLeafIndex || randomness || counter, reduces modulo
// WindowSize to get a window-relative sample, and retries on a duplicate.
// The absolute bit index is the window-relative sample offset by the
// epoch's base: sample + batch_index*ChunkSize, where batch_index is
// aoclLeafIndex / BatchSize.
func SwbfIndices(item digest.Digest, randomness digest.Digest, aoclLeafIndex uint64) [NumTrials]uint64 {
	batchIndex := aoclLeafIndex / BatchSize
	base := batchIndex * ChunkSize

	var out [NumTrials]uint64
	seen := make(map[uint32]struct{}, NumTrials)

	buf := make([]byte, digest.Bytes*2+8+8)
	copy(buf[0:], item[:])
	binary.LittleEndian.PutUint64(buf[digest.Bytes:], aoclLeafIndex)
	copy(buf[digest.Bytes+8:], randomness[:])

	counter := uint64(0)
	for i := 0; i < NumTrials; {
		binary.LittleEndian.PutUint64(buf[digest.Bytes*2+8:], counter)
		counter++

		h := digest.Hash(buf)
		sample := binary.LittleEndian.Uint32(h[:4]) % WindowSize
		if _, dup := seen[sample]; dup {
			continue
		}
		seen[sample] = struct{}{}
		out[i] = base + uint64(sample)
		i++
	}
	return out
}
