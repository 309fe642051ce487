package node

import "mutanet.dev/node/consensus"

// BlockBelongsToCanonicalChain implements spec.md §4.5's
// block_belongs_to_canonical_chain: given a candidate header and the
// current tip header, decide whether candidate lies on the chain that tip
// is the head of.
func (bs *BlockStore) BlockBelongsToCanonicalChain(candidate, tip consensus.Header) (bool, error) {
	candidateHash := consensus.BlockHash(candidate)
	tipHash := consensus.BlockHash(tip)
	if candidateHash == tipHash {
		return true, nil
	}
	if tip.Height < candidate.Height {
		return false, nil
	}

	atCandidateHeight, err := bs.db.Height(candidate.Height)
	if err != nil {
		return false, err
	}
	if len(atCandidateHeight) == 1 {
		return true, nil
	}

	frontier := []consensus.Header{candidate}
	height := candidate.Height
	for height < tip.Height {
		var next []consensus.Header
		for _, h := range frontier {
			children, err := bs.GetChildren(h)
			if err != nil {
				return false, err
			}
			next = append(next, children...)
		}
		for _, c := range next {
			if consensus.BlockHash(c) == tipHash {
				return true, nil
			}
		}
		if len(next) == 0 {
			return false, nil
		}
		height++
		atHeight, err := bs.db.Height(height)
		if err != nil {
			return false, err
		}
		if len(next) == 1 && len(atHeight) == 1 {
			return true, nil
		}
		frontier = next
	}
	return false, nil
}
