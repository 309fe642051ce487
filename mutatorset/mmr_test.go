package mutatorset

import (
	"testing"

	"mutanet.dev/node/digest"
)

func leafAt(b byte) digest.Digest {
	var d digest.Digest
	d[0] = b
	return d
}

func TestMMR_AuthPathVerifiesAcrossSizes(t *testing.T) {
	for n := 1; n <= 20; n++ {
		m := NewMMR()
		for i := 0; i < n; i++ {
			m.Append(leafAt(byte(i + 1)))
		}
		commitment := m.Commitment()
		for i := 0; i < n; i++ {
			leaf, ok := m.GetLeaf(uint64(i))
			if !ok {
				t.Fatalf("n=%d: GetLeaf(%d) missing", n, i)
			}
			path, err := m.AuthPath(uint64(i))
			if err != nil {
				t.Fatalf("n=%d: AuthPath(%d): %v", n, i, err)
			}
			if !path.Verify(uint64(n), leaf, commitment) {
				t.Fatalf("n=%d: AuthPath(%d) failed to verify", n, i)
			}
		}
	}
}

func TestMMR_AuthPathRejectsWrongLeaf(t *testing.T) {
	m := NewMMR()
	for i := 0; i < 9; i++ {
		m.Append(leafAt(byte(i + 1)))
	}
	path, err := m.AuthPath(3)
	if err != nil {
		t.Fatalf("AuthPath: %v", err)
	}
	if path.Verify(m.LeafCount(), leafAt(99), m.Commitment()) {
		t.Fatalf("expected verification to fail against the wrong leaf")
	}
}

func TestMMR_SetLeafChangesCommitment(t *testing.T) {
	m := NewMMR()
	for i := 0; i < 5; i++ {
		m.Append(leafAt(byte(i + 1)))
	}
	before := m.Commitment()
	if err := m.SetLeaf(2, leafAt(200)); err != nil {
		t.Fatalf("SetLeaf: %v", err)
	}
	after := m.Commitment()
	if before == after {
		t.Fatalf("expected commitment to change after SetLeaf")
	}

	path, err := m.AuthPath(2)
	if err != nil {
		t.Fatalf("AuthPath: %v", err)
	}
	if !path.Verify(m.LeafCount(), leafAt(200), after) {
		t.Fatalf("AuthPath for mutated leaf failed to verify")
	}
}

func TestMMR_AppendThenRevertLastIsIdentity(t *testing.T) {
	m := NewMMR()
	for i := 0; i < 6; i++ {
		m.Append(leafAt(byte(i + 1)))
	}
	before := m.Commitment()
	beforeCount := m.LeafCount()

	m.Append(leafAt(123))
	if err := m.RevertLast(); err != nil {
		t.Fatalf("RevertLast: %v", err)
	}

	if m.LeafCount() != beforeCount {
		t.Fatalf("leaf count changed: got %d, want %d", m.LeafCount(), beforeCount)
	}
	if m.Commitment() != before {
		t.Fatalf("commitment changed after append+revert")
	}
}

func TestMMR_RevertLastOnEmptyIsError(t *testing.T) {
	m := NewMMR()
	if err := m.RevertLast(); err == nil {
		t.Fatalf("expected error reverting an empty MMR")
	}
}

func TestMountains_SumsToN(t *testing.T) {
	for n := uint64(0); n < 100; n++ {
		sizes := mountains(n)
		var sum uint64
		for _, s := range sizes {
			sum += s
		}
		if sum != n {
			t.Fatalf("mountains(%d) summed to %d", n, sum)
		}
		for i := 1; i < len(sizes); i++ {
			if sizes[i] >= sizes[i-1] {
				t.Fatalf("mountains(%d) not strictly descending: %v", n, sizes)
			}
		}
	}
}
