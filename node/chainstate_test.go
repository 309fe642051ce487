package node

import "testing"

func TestBlockBelongsToCanonicalChain_TipIsAlwaysCanonical(t *testing.T) {
	bs, genesis := openTestBlockStore(t, 1<<20)
	ok, err := bs.BlockBelongsToCanonicalChain(genesis.Header, genesis.Header)
	if err != nil {
		t.Fatalf("BlockBelongsToCanonicalChain: %v", err)
	}
	if !ok {
		t.Fatalf("expected tip to be canonical with respect to itself")
	}
}

func TestBlockBelongsToCanonicalChain_SoleBlockAtHeightIsCanonical(t *testing.T) {
	bs, genesis := openTestBlockStore(t, 1<<20)
	b1 := childBlock(t, genesis.Header, 1)
	if err := bs.WriteBlock(b1, nil); err != nil {
		t.Fatalf("WriteBlock: %v", err)
	}
	b2 := childBlock(t, b1.Header, 1)
	if err := bs.WriteBlock(b2, nil); err != nil {
		t.Fatalf("WriteBlock: %v", err)
	}

	ok, err := bs.BlockBelongsToCanonicalChain(b1.Header, b2.Header)
	if err != nil {
		t.Fatalf("BlockBelongsToCanonicalChain: %v", err)
	}
	if !ok {
		t.Fatalf("expected sole ancestor to be canonical")
	}
}

func TestBlockBelongsToCanonicalChain_RejectsSiblingFork(t *testing.T) {
	bs, genesis := openTestBlockStore(t, 1<<20)
	a := childBlock(t, genesis.Header, 1)
	b := childBlock(t, genesis.Header, 2)
	if err := bs.WriteBlock(a, nil); err != nil {
		t.Fatalf("WriteBlock a: %v", err)
	}
	pow := a.Header.ProofOfWorkFamily
	if err := bs.WriteBlock(b, &pow); err != nil {
		t.Fatalf("WriteBlock b: %v", err)
	}

	ok, err := bs.BlockBelongsToCanonicalChain(a.Header, b.Header)
	if err != nil {
		t.Fatalf("BlockBelongsToCanonicalChain: %v", err)
	}
	if ok {
		t.Fatalf("expected sibling fork to be rejected as non-canonical")
	}

	ok, err = bs.BlockBelongsToCanonicalChain(b.Header, b.Header)
	if err != nil {
		t.Fatalf("BlockBelongsToCanonicalChain: %v", err)
	}
	if !ok {
		t.Fatalf("expected b to be canonical with respect to itself")
	}
}

func TestBlockBelongsToCanonicalChain_RejectsCandidateAboveTip(t *testing.T) {
	bs, genesis := openTestBlockStore(t, 1<<20)
	b1 := childBlock(t, genesis.Header, 1)
	if err := bs.WriteBlock(b1, nil); err != nil {
		t.Fatalf("WriteBlock: %v", err)
	}

	ok, err := bs.BlockBelongsToCanonicalChain(b1.Header, genesis.Header)
	if err != nil {
		t.Fatalf("BlockBelongsToCanonicalChain: %v", err)
	}
	if ok {
		t.Fatalf("expected candidate taller than tip to be rejected")
	}
}

func TestBlockBelongsToCanonicalChain_WalksThroughAncestorOnLongerChain(t *testing.T) {
	bs, genesis := openTestBlockStore(t, 1<<20)
	b1 := childBlock(t, genesis.Header, 1)
	if err := bs.WriteBlock(b1, nil); err != nil {
		t.Fatalf("WriteBlock b1: %v", err)
	}
	b2 := childBlock(t, b1.Header, 1)
	if err := bs.WriteBlock(b2, nil); err != nil {
		t.Fatalf("WriteBlock b2: %v", err)
	}
	b3 := childBlock(t, b2.Header, 1)
	if err := bs.WriteBlock(b3, nil); err != nil {
		t.Fatalf("WriteBlock b3: %v", err)
	}

	ok, err := bs.BlockBelongsToCanonicalChain(b1.Header, b3.Header)
	if err != nil {
		t.Fatalf("BlockBelongsToCanonicalChain: %v", err)
	}
	if !ok {
		t.Fatalf("expected b1 to be canonical with respect to b3")
	}
}
