package node

import (
	"path/filepath"
	"testing"

	"mutanet.dev/node/consensus"
	"mutanet.dev/node/mutatorset"
	"mutanet.dev/node/node/store"
)

func openTestOrchestrator(t *testing.T) (*Orchestrator, *BlockStore, *store.DB, *store.ArchivalMutatorSet, consensus.Block) {
	t.Helper()
	dir := t.TempDir()
	db, err := store.Open(dir, "testnet")
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	ams, err := store.OpenArchivalMutatorSet(db.ChainDir())
	if err != nil {
		t.Fatalf("OpenArchivalMutatorSet: %v", err)
	}
	t.Cleanup(func() { _ = ams.Close() })

	emptyCommitment := mutatorset.New().Commitment()
	genesisBody := consensus.Body{
		PrevMutatorSetAccumulator: append([]byte(nil), emptyCommitment[:]...),
		NextMutatorSetAccumulator: append([]byte(nil), emptyCommitment[:]...),
	}
	root, err := consensus.ComputeBodyMerkleRoot(genesisBody)
	if err != nil {
		t.Fatalf("ComputeBodyMerkleRoot: %v", err)
	}
	genesis := consensus.Block{
		Header: consensus.Header{Version: 1, Height: 0, BodyMerkleRoot: root, TargetDifficulty: consensus.MinimumDifficulty()},
		Body:   genesisBody,
	}

	bs, err := OpenBlockStore(filepath.Join(dir, "blocks"), db, genesis, 1<<20)
	if err != nil {
		t.Fatalf("OpenBlockStore: %v", err)
	}
	t.Cleanup(func() { _ = bs.Close() })

	return NewOrchestrator(db, bs, ams), bs, db, ams, genesis
}

// buildBlock builds a block extending prev, applying additions/removals to
// scratch (mirroring update_mutator_set's reverse-iteration order) to
// compute the resulting accumulator commitment embedded in the block body.
func buildBlock(t *testing.T, prev consensus.Header, nonce uint64, scratch *mutatorset.MutatorSet, additions []mutatorset.AdditionRecord, removals []mutatorset.RemovalRecord) consensus.Block {
	t.Helper()
	prevMS := scratch.Commitment()

	kernel := consensus.TransactionKernel{}
	for _, ar := range additions {
		kernel.Outputs = append(kernel.Outputs, mutatorset.EncodeAdditionRecord(ar))
	}
	for _, rr := range removals {
		kernel.Inputs = append(kernel.Inputs, mutatorset.EncodeRemovalRecord(rr))
	}

	for i := len(additions) - 1; i >= 0; i-- {
		scratch.Add(additions[i])
	}
	for i := len(removals) - 1; i >= 0; i-- {
		rr := removals[i]
		if err := refreshRemovalRecordTargets(scratch, &rr); err != nil {
			t.Fatalf("refreshRemovalRecordTargets: %v", err)
		}
		if _, _, err := scratch.Remove(rr); err != nil {
			t.Fatalf("scratch.Remove: %v", err)
		}
	}
	nextMS := scratch.Commitment()

	body := consensus.Body{
		Kernels:                   nil,
		PrevMutatorSetAccumulator: append([]byte(nil), prevMS[:]...),
		NextMutatorSetAccumulator: append([]byte(nil), nextMS[:]...),
	}
	if len(kernel.Outputs) > 0 || len(kernel.Inputs) > 0 {
		body.Kernels = []consensus.TransactionKernel{kernel}
	}
	root, err := consensus.ComputeBodyMerkleRoot(body)
	if err != nil {
		t.Fatalf("ComputeBodyMerkleRoot: %v", err)
	}

	header := consensus.Header{
		Version:         1,
		Height:          prev.Height + 1,
		PrevBlockDigest: consensus.BlockHash(prev),
		Timestamp:       prev.Timestamp + 1000,
		Nonce:           nonce,
		BodyMerkleRoot:  root,
	}
	return consensus.Block{Header: header, Body: body}
}

func coinbaseAddition(seed byte) mutatorset.AdditionRecord {
	item := digestFromSeed(seed, 0)
	sr := digestFromSeed(seed, 1)
	rd := digestFromSeed(seed, 2)
	return mutatorset.Commit(item, sr, rd)
}

func TestOrchestrator_UpdateMutatorSetAppliesSingleBlock(t *testing.T) {
	o, bs, db, ams, genesis := openTestOrchestrator(t)
	scratch := mutatorset.New()

	ar := coinbaseAddition(1)
	b1 := buildBlock(t, genesis.Header, 1, scratch, []mutatorset.AdditionRecord{ar}, nil)
	if err := bs.WriteBlock(b1, nil); err != nil {
		t.Fatalf("WriteBlock: %v", err)
	}
	if err := o.UpdateMutatorSet(b1); err != nil {
		t.Fatalf("UpdateMutatorSet: %v", err)
	}

	if ams.Set().AOCL.LeafCount() != 1 {
		t.Fatalf("expected one live aocl leaf, got %d", ams.Set().AOCL.LeafCount())
	}
	sync, ok, err := db.SyncDigest()
	if err != nil || !ok {
		t.Fatalf("SyncDigest: ok=%v err=%v", ok, err)
	}
	if sync != consensus.BlockHash(b1.Header) {
		t.Fatalf("expected sync digest to advance to b1")
	}
}

func TestOrchestrator_UpdateMutatorSetRollsBackOnFork(t *testing.T) {
	o, bs, _, ams, genesis := openTestOrchestrator(t)
	scratch := mutatorset.New()

	b1a := buildBlock(t, genesis.Header, 1, scratch, []mutatorset.AdditionRecord{coinbaseAddition(1)}, nil)
	if err := bs.WriteBlock(b1a, nil); err != nil {
		t.Fatalf("WriteBlock b1a: %v", err)
	}
	if err := o.UpdateMutatorSet(b1a); err != nil {
		t.Fatalf("UpdateMutatorSet b1a: %v", err)
	}
	if ams.Set().AOCL.LeafCount() != 1 {
		t.Fatalf("expected b1a to add one leaf")
	}

	// b1b forks from genesis directly; applying it must roll back b1a's
	// addition before replaying its own.
	forkScratch := mutatorset.New()
	b1b := buildBlock(t, genesis.Header, 2, forkScratch, []mutatorset.AdditionRecord{coinbaseAddition(2)}, nil)
	pow := b1a.Header.ProofOfWorkFamily
	if err := bs.WriteBlock(b1b, &pow); err != nil {
		t.Fatalf("WriteBlock b1b: %v", err)
	}
	if err := o.UpdateMutatorSet(b1b); err != nil {
		t.Fatalf("UpdateMutatorSet b1b: %v", err)
	}

	if ams.Set().AOCL.LeafCount() != 1 {
		t.Fatalf("expected rollback+replay to leave exactly one live leaf, got %d", ams.Set().AOCL.LeafCount())
	}
	if ams.Set().Commitment() != forkScratch.Commitment() {
		t.Fatalf("expected mutator set commitment to match b1b's branch after rollback")
	}
}

func digestFromSeed(a, b byte) (d consensus.Digest) {
	h := consensus.HashDigest([]byte{a, b})
	return h
}
