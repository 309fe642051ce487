package consensus

import (
	"fmt"

	"mutanet.dev/node/digest"
)

// Digest is re-exported from the shared digest package so existing
// consensus code can keep referring to consensus.Digest.
type Digest = digest.Digest

const DigestBytes = digest.Bytes

func HashDigest(b []byte) Digest { return digest.Hash(b) }

func HashPair(a, b Digest) Digest { return digest.Pair(a, b) }

// DigestFromBytes reinterprets a raw byte slice already known to be a
// commitment digest (as opposed to hashing it). Used where a body field is
// defined to hold an accumulator's own commitment value rather than data
// to be hashed.
func DigestFromBytes(b []byte) (Digest, error) {
	var d Digest
	if len(b) != DigestBytes {
		return d, fmt.Errorf("digest: want %d bytes, got %d", DigestBytes, len(b))
	}
	copy(d[:], b)
	return d, nil
}

func sha3_256(b []byte) [32]byte { return [32]byte(digest.Hash(b)) }
