package mutatorset

import (
	"encoding/binary"
	"fmt"

	"mutanet.dev/node/digest"
)

// EncodeAdditionRecord serializes an AdditionRecord to the form stored in a
// transaction kernel's Outputs: just the canonical commitment digest.
func EncodeAdditionRecord(ar AdditionRecord) []byte {
	out := make([]byte, digest.Bytes)
	copy(out, ar.CanonicalCommitment[:])
	return out
}

// DecodeAdditionRecord parses the Outputs wire form back into an
// AdditionRecord.
func DecodeAdditionRecord(b []byte) (AdditionRecord, error) {
	if len(b) != digest.Bytes {
		return AdditionRecord{}, fmt.Errorf("addition record: want %d bytes, got %d", digest.Bytes, len(b))
	}
	var ar AdditionRecord
	copy(ar.CanonicalCommitment[:], b)
	return ar, nil
}

// EncodeRemovalRecord serializes a RemovalRecord to the form stored in a
// transaction kernel's Inputs: the bit indices plus every chunk dictionary
// entry the prover attached (chunk index, the chunk's set bits, and its
// MMR authentication path).
func EncodeRemovalRecord(rr RemovalRecord) []byte {
	out := make([]byte, 0, 8*NumTrials+4)
	var tmp8 [8]byte
	for _, idx := range rr.BitIndices {
		binary.LittleEndian.PutUint64(tmp8[:], idx)
		out = append(out, tmp8[:]...)
	}

	sorted := rr.TargetChunks.SortedIndices()
	out = appendU32(out, uint32(len(sorted)))
	for _, chunkIndex := range sorted {
		entry, _ := rr.TargetChunks.Get(chunkIndex)
		binary.LittleEndian.PutUint64(tmp8[:], chunkIndex)
		out = append(out, tmp8[:]...)
		out = appendChunk(out, entry.Chunk)
		out = appendAuthPath(out, entry.Proof)
	}
	return out
}

// DecodeRemovalRecord parses the Inputs wire form back into a RemovalRecord.
func DecodeRemovalRecord(b []byte) (RemovalRecord, error) {
	var rr RemovalRecord
	if len(b) < 8*NumTrials+4 {
		return rr, fmt.Errorf("removal record: truncated header")
	}
	for i := 0; i < NumTrials; i++ {
		rr.BitIndices[i] = binary.LittleEndian.Uint64(b[i*8 : i*8+8])
	}
	b = b[8*NumTrials:]

	count, rest, err := readU32(b)
	if err != nil {
		return rr, fmt.Errorf("removal record: %w", err)
	}
	b = rest

	rr.TargetChunks = NewChunkDictionary()
	for i := uint32(0); i < count; i++ {
		if len(b) < 8 {
			return rr, fmt.Errorf("removal record: truncated chunk index")
		}
		chunkIndex := binary.LittleEndian.Uint64(b[:8])
		b = b[8:]

		chunk, rest, err := readChunk(b)
		if err != nil {
			return rr, fmt.Errorf("removal record: chunk: %w", err)
		}
		b = rest

		path, rest, err := readAuthPath(b)
		if err != nil {
			return rr, fmt.Errorf("removal record: auth path: %w", err)
		}
		b = rest

		rr.TargetChunks.Set(chunkIndex, ChunkDictionaryEntry{Chunk: chunk, Proof: path})
	}
	return rr, nil
}

func appendU32(b []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(b, tmp[:]...)
}

func readU32(b []byte) (uint32, []byte, error) {
	if len(b) < 4 {
		return 0, nil, fmt.Errorf("want 4 bytes, got %d", len(b))
	}
	return binary.LittleEndian.Uint32(b[:4]), b[4:], nil
}

func appendDigest(b []byte, d digest.Digest) []byte {
	return append(b, d[:]...)
}

func readDigest(b []byte) (digest.Digest, []byte, error) {
	if len(b) < digest.Bytes {
		return digest.Digest{}, nil, fmt.Errorf("want %d bytes, got %d", digest.Bytes, len(b))
	}
	var d digest.Digest
	copy(d[:], b[:digest.Bytes])
	return d, b[digest.Bytes:], nil
}

func appendChunk(b []byte, c Chunk) []byte {
	indices := c.ToIndices()
	b = appendU32(b, uint32(len(indices)))
	for _, i := range indices {
		b = appendU32(b, i)
	}
	return b
}

func readChunk(b []byte) (Chunk, []byte, error) {
	n, rest, err := readU32(b)
	if err != nil {
		return Chunk{}, nil, err
	}
	b = rest
	indices := make([]uint32, n)
	for i := uint32(0); i < n; i++ {
		v, rest, err := readU32(b)
		if err != nil {
			return Chunk{}, nil, err
		}
		indices[i] = v
		b = rest
	}
	return FromIndices(indices), b, nil
}

func appendAuthPath(b []byte, p MembershipAuthPath) []byte {
	var tmp8 [8]byte
	binary.LittleEndian.PutUint64(tmp8[:], p.LeafIndex)
	b = append(b, tmp8[:]...)
	b = appendDigest(b, p.MountainRoot)
	b = appendU32(b, uint32(len(p.Siblings)))
	for _, s := range p.Siblings {
		b = appendDigest(b, s)
	}
	b = appendU32(b, uint32(len(p.OtherPeaks)))
	for _, s := range p.OtherPeaks {
		b = appendDigest(b, s)
	}
	b = appendU32(b, uint32(p.MountainPos))
	return b
}

func readAuthPath(b []byte) (MembershipAuthPath, []byte, error) {
	var p MembershipAuthPath
	if len(b) < 8 {
		return p, nil, fmt.Errorf("auth path: truncated leaf index")
	}
	p.LeafIndex = binary.LittleEndian.Uint64(b[:8])
	b = b[8:]

	root, rest, err := readDigest(b)
	if err != nil {
		return p, nil, err
	}
	p.MountainRoot = root
	b = rest

	nSib, rest, err := readU32(b)
	if err != nil {
		return p, nil, err
	}
	b = rest
	p.Siblings = make([]digest.Digest, nSib)
	for i := uint32(0); i < nSib; i++ {
		d, rest, err := readDigest(b)
		if err != nil {
			return p, nil, err
		}
		p.Siblings[i] = d
		b = rest
	}

	nPeaks, rest, err := readU32(b)
	if err != nil {
		return p, nil, err
	}
	b = rest
	p.OtherPeaks = make([]digest.Digest, nPeaks)
	for i := uint32(0); i < nPeaks; i++ {
		d, rest, err := readDigest(b)
		if err != nil {
			return p, nil, err
		}
		p.OtherPeaks[i] = d
		b = rest
	}

	pos, rest, err := readU32(b)
	if err != nil {
		return p, nil, err
	}
	p.MountainPos = int(pos)
	b = rest

	return p, b, nil
}
