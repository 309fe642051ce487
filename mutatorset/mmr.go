package mutatorset

import "mutanet.dev/node/digest"

// MMR is an append-only Merkle mountain range accumulator over digest
// leaves. It is the archival variant: the full leaf history is retained in
// memory (and, via ArchivalMutatorSet, persisted to the catalog), so
// authentication paths are produced on demand by walking the authoritative
// leaf set rather than maintained incrementally through peak bookkeeping.
//
// Leaves are addressed by a logical "live" count separate from the
// physical backing slice: revert_add only needs to decrement the live
// count, never truncate storage, matching the logical-shrinkage reading of
// the rollback behaviour (see DESIGN.md).
type MMR struct {
	leaves []digest.Digest
	live   uint64
}

func NewMMR() *MMR {
	return &MMR{}
}

// FromLeaves reconstructs an MMR from a previously persisted, in-order
// leaf list (used when loading an ArchivalMutatorSet from its catalog).
func FromLeaves(leaves []digest.Digest) *MMR {
	cp := append([]digest.Digest(nil), leaves...)
	return &MMR{leaves: cp, live: uint64(len(cp))}
}

// LeafCount returns the number of live leaves.
func (m *MMR) LeafCount() uint64 {
	return m.live
}

// Append adds leaf at the current live count, overwriting any stale
// physical data left behind by a prior rollback, and returns its index.
func (m *MMR) Append(leaf digest.Digest) uint64 {
	idx := m.live
	if int(idx) < len(m.leaves) {
		m.leaves[idx] = leaf
	} else {
		m.leaves = append(m.leaves, leaf)
	}
	m.live++
	return idx
}

// RevertLast undoes the most recent Append: decrements the live count
// without discarding the physical slot (logical shrinkage).
func (m *MMR) RevertLast() error {
	if m.live == 0 {
		return errMMREmpty
	}
	m.live--
	return nil
}

// GetLeaf returns the leaf at idx, if idx is within the live range.
func (m *MMR) GetLeaf(idx uint64) (digest.Digest, bool) {
	if idx >= m.live {
		return digest.Digest{}, false
	}
	return m.leaves[idx], true
}

// SetLeaf mutates the leaf at idx in place (used when a SWBF chunk's
// digest changes after a bit flip).
func (m *MMR) SetLeaf(idx uint64, leaf digest.Digest) error {
	if idx >= m.live {
		return errMMRIndexOutOfRange
	}
	m.leaves[idx] = leaf
	return nil
}

// mountains decomposes n into descending powers of two, the sizes of the
// MMR's constituent perfect binary trees.
func mountains(n uint64) []uint64 {
	var sizes []uint64
	for bit := uint(63); ; bit-- {
		size := uint64(1) << bit
		if size <= n {
			sizes = append(sizes, size)
			n -= size
		}
		if bit == 0 {
			break
		}
	}
	return sizes
}

// mountainBounds returns the [start, size) pairs of each mountain over the
// live leaves, largest mountain first.
func (m *MMR) mountainBounds() [][2]uint64 {
	sizes := mountains(m.live)
	bounds := make([][2]uint64, len(sizes))
	offset := uint64(0)
	for i, s := range sizes {
		bounds[i] = [2]uint64{offset, s}
		offset += s
	}
	return bounds
}

func localRoot(leaves []digest.Digest) digest.Digest {
	if len(leaves) == 1 {
		return leaves[0]
	}
	level := leaves
	for len(level) > 1 {
		next := make([]digest.Digest, len(level)/2)
		for i := range next {
			next[i] = digest.Pair(level[2*i], level[2*i+1])
		}
		level = next
	}
	return level[0]
}

func localPath(leaves []digest.Digest, li int) []digest.Digest {
	path := make([]digest.Digest, 0, 8)
	level := leaves
	idx := li
	for len(level) > 1 {
		var sibling digest.Digest
		if idx%2 == 0 {
			sibling = level[idx+1]
		} else {
			sibling = level[idx-1]
		}
		path = append(path, sibling)

		next := make([]digest.Digest, len(level)/2)
		for i := range next {
			next[i] = digest.Pair(level[2*i], level[2*i+1])
		}
		level = next
		idx /= 2
	}
	return path
}

func verifyLocalPath(leaf digest.Digest, li int, path []digest.Digest) digest.Digest {
	cur := leaf
	idx := li
	for _, sib := range path {
		if idx%2 == 0 {
			cur = digest.Pair(cur, sib)
		} else {
			cur = digest.Pair(sib, cur)
		}
		idx /= 2
	}
	return cur
}

// Peaks returns the roots of the MMR's constituent mountains, largest
// first.
func (m *MMR) Peaks() []digest.Digest {
	bounds := m.mountainBounds()
	peaks := make([]digest.Digest, len(bounds))
	for i, b := range bounds {
		start, size := b[0], b[1]
		peaks[i] = localRoot(m.leaves[start : start+size])
	}
	return peaks
}

// Bag folds the peaks into a single accumulator digest, smallest mountain
// first so the fold is order-sensitive but deterministic for a given leaf
// count.
func Bag(peaks []digest.Digest) digest.Digest {
	if len(peaks) == 0 {
		return digest.Digest{}
	}
	acc := peaks[len(peaks)-1]
	for i := len(peaks) - 2; i >= 0; i-- {
		acc = digest.Pair(peaks[i], acc)
	}
	return acc
}

// Commitment is the MMR's accumulator digest: Bag(Peaks()).
func (m *MMR) Commitment() digest.Digest {
	return Bag(m.Peaks())
}

// MembershipAuthPath is an authentication path proving a leaf's membership
// in one mountain, plus the sibling peaks needed to recombine into the
// whole-MMR commitment.
type MembershipAuthPath struct {
	LeafIndex    uint64
	MountainRoot digest.Digest
	Siblings     []digest.Digest
	OtherPeaks   []digest.Digest
	MountainPos  int // position of this leaf's mountain within Peaks(), for recombination order
}

func (p MembershipAuthPath) Clone() MembershipAuthPath {
	out := p
	out.Siblings = append([]digest.Digest(nil), p.Siblings...)
	out.OtherPeaks = append([]digest.Digest(nil), p.OtherPeaks...)
	return out
}

// AuthPath produces a fresh authentication path for leafIndex by walking
// the authoritative leaf set.
func (m *MMR) AuthPath(leafIndex uint64) (MembershipAuthPath, error) {
	if leafIndex >= m.live {
		return MembershipAuthPath{}, errMMRIndexOutOfRange
	}
	bounds := m.mountainBounds()
	for pos, b := range bounds {
		start, size := b[0], b[1]
		if leafIndex < start || leafIndex >= start+size {
			continue
		}
		li := int(leafIndex - start)
		mountainLeaves := m.leaves[start : start+size]
		siblings := localPath(mountainLeaves, li)
		other := make([]digest.Digest, 0, len(bounds)-1)
		for j, ob := range bounds {
			if j == pos {
				continue
			}
			other = append(other, localRoot(m.leaves[ob[0]:ob[0]+ob[1]]))
		}
		return MembershipAuthPath{
			LeafIndex:    leafIndex,
			MountainRoot: localRoot(mountainLeaves),
			Siblings:     siblings,
			OtherPeaks:   other,
			MountainPos:  pos,
		}, nil
	}
	return MembershipAuthPath{}, errMMRIndexOutOfRange
}

// Verify checks that leaf, at the path's recorded index, is consistent
// with commitment: the recomputed local root combines with the path's
// recorded peers to reproduce commitment.
func (p MembershipAuthPath) Verify(leafCount uint64, leaf digest.Digest, commitment digest.Digest) bool {
	bounds := mountains(leafCount)
	if p.MountainPos >= len(bounds) {
		return false
	}
	localIdx := p.LeafIndex
	for i := 0; i < p.MountainPos; i++ {
		localIdx -= bounds[i]
	}
	localRootRecomputed := verifyLocalPath(leaf, int(localIdx), p.Siblings)

	peaks := make([]digest.Digest, len(bounds))
	otherIdx := 0
	for i := range peaks {
		if i == p.MountainPos {
			peaks[i] = localRootRecomputed
			continue
		}
		if otherIdx >= len(p.OtherPeaks) {
			return false
		}
		peaks[i] = p.OtherPeaks[otherIdx]
		otherIdx++
	}
	return Bag(peaks) == commitment
}
