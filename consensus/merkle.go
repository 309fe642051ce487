package consensus

// BodyMerkleRoot computes the block body's merkle root over its kernel
// digests (transaction kernel(s), next/previous mutator-set accumulator
// commitments, STARK proof digest) using a tagged hash tree: leaf and
// internal-node preimages carry distinct domain tags so a leaf can never be
// mistaken for an internal node.
func BodyMerkleRoot(leaves []Digest) (Digest, error) {
	return merkleRootTagged(leaves, 0x00, 0x01)
}

func merkleRootTagged(ids []Digest, leafTag byte, nodeTag byte) (Digest, error) {
	var zero Digest
	if len(ids) == 0 {
		return zero, txerr(TX_ERR_PARSE, "merkle: empty leaf list")
	}

	level := make([]Digest, 0, len(ids))
	var leafPreimage [1 + DigestBytes]byte
	leafPreimage[0] = leafTag
	for _, id := range ids {
		copy(leafPreimage[1:], id[:])
		level = append(level, HashDigest(leafPreimage[:]))
	}

	var nodePreimage [1 + DigestBytes + DigestBytes]byte
	nodePreimage[0] = nodeTag
	for len(level) > 1 {
		next := make([]Digest, 0, (len(level)+1)/2)
		for i := 0; i < len(level); {
			if i == len(level)-1 {
				// Odd promotion rule: carry forward unchanged.
				next = append(next, level[i])
				i++
				continue
			}
			copy(nodePreimage[1:1+DigestBytes], level[i][:])
			copy(nodePreimage[1+DigestBytes:], level[i+1][:])
			next = append(next, HashDigest(nodePreimage[:]))
			i += 2
		}
		level = next
	}

	return level[0], nil
}
