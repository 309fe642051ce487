package node

import (
	"path/filepath"
	"testing"

	"mutanet.dev/node/consensus"
	"mutanet.dev/node/node/store"
)

func openTestBlockStore(t *testing.T, maxFileSize uint64) (*BlockStore, consensus.Block) {
	t.Helper()
	dir := t.TempDir()
	db, err := store.Open(dir, "testnet")
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	genesis := consensus.Block{Header: consensus.Header{Version: 1, Height: 0}}
	bs, err := OpenBlockStore(filepath.Join(dir, "blocks"), db, genesis, maxFileSize)
	if err != nil {
		t.Fatalf("OpenBlockStore: %v", err)
	}
	t.Cleanup(func() { _ = bs.Close() })
	return bs, genesis
}

func childBlock(t *testing.T, prev consensus.Header, nonce uint64) consensus.Block {
	t.Helper()
	body := consensus.Body{
		NextMutatorSetAccumulator: []byte("next"),
		PrevMutatorSetAccumulator: []byte("prev"),
		ProofBytes:                []byte("proof"),
	}
	root, err := consensus.ComputeBodyMerkleRoot(body)
	if err != nil {
		t.Fatalf("ComputeBodyMerkleRoot: %v", err)
	}
	h := consensus.Header{
		Version:         1,
		Height:          prev.Height + 1,
		PrevBlockDigest: consensus.BlockHash(prev),
		Timestamp:       prev.Timestamp + 1000,
		Nonce:           nonce,
		BodyMerkleRoot:  root,
	}
	return consensus.Block{Header: h, Body: body}
}

func TestBlockStore_ReadBlockReturnsGenesisFromMemory(t *testing.T) {
	bs, genesis := openTestBlockStore(t, 1<<20)
	hash := consensus.BlockHash(genesis.Header)
	got, err := bs.ReadBlock(hash)
	if err != nil {
		t.Fatalf("ReadBlock: %v", err)
	}
	if got == nil || consensus.BlockHash(got.Header) != hash {
		t.Fatalf("expected genesis round-trip")
	}
}

func TestBlockStore_WriteThenReadBlock(t *testing.T) {
	bs, genesis := openTestBlockStore(t, 1<<20)
	b1 := childBlock(t, genesis.Header, 1)
	if err := bs.WriteBlock(b1, nil); err != nil {
		t.Fatalf("WriteBlock: %v", err)
	}

	hash := consensus.BlockHash(b1.Header)
	got, err := bs.ReadBlock(hash)
	if err != nil {
		t.Fatalf("ReadBlock: %v", err)
	}
	if got == nil {
		t.Fatalf("expected block to be found")
	}
	if consensus.BlockHash(got.Header) != hash {
		t.Fatalf("round-tripped block hash mismatch")
	}

	latest, err := bs.GetLatestBlock()
	if err != nil {
		t.Fatalf("GetLatestBlock: %v", err)
	}
	if consensus.BlockHash(latest.Header) != hash {
		t.Fatalf("expected latest block to be the written block")
	}
}

func TestBlockStore_GetChildrenFiltersByPrevDigest(t *testing.T) {
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

	children, err := bs.GetChildren(genesis.Header)
	if err != nil {
		t.Fatalf("GetChildren: %v", err)
	}
	if len(children) != 2 {
		t.Fatalf("expected 2 children of genesis, got %d", len(children))
	}
}

func TestBlockStore_GetAncestorDigestsWalksToGenesis(t *testing.T) {
	bs, genesis := openTestBlockStore(t, 1<<20)
	b1 := childBlock(t, genesis.Header, 1)
	if err := bs.WriteBlock(b1, nil); err != nil {
		t.Fatalf("WriteBlock b1: %v", err)
	}
	b2 := childBlock(t, b1.Header, 1)
	if err := bs.WriteBlock(b2, nil); err != nil {
		t.Fatalf("WriteBlock b2: %v", err)
	}

	ancestors, err := bs.GetAncestorDigests(consensus.BlockHash(b2.Header), 10)
	if err != nil {
		t.Fatalf("GetAncestorDigests: %v", err)
	}
	if len(ancestors) != 2 {
		t.Fatalf("expected 2 ancestors (b1, genesis), got %d", len(ancestors))
	}
	if ancestors[0] != consensus.BlockHash(b1.Header) {
		t.Fatalf("expected first ancestor to be b1")
	}
	if ancestors[1] != consensus.BlockHash(genesis.Header) {
		t.Fatalf("expected second ancestor to be genesis")
	}
}

func TestBlockStore_WriteBlockRollsOverFileWhenCapExceeded(t *testing.T) {
	bs, genesis := openTestBlockStore(t, 64) // tiny cap forces an immediate rollover
	b1 := childBlock(t, genesis.Header, 1)
	if err := bs.WriteBlock(b1, nil); err != nil {
		t.Fatalf("WriteBlock b1: %v", err)
	}
	b2 := childBlock(t, b1.Header, 1)
	if err := bs.WriteBlock(b2, nil); err != nil {
		t.Fatalf("WriteBlock b2: %v", err)
	}

	rec1, ok, err := bs.db.Block(consensus.BlockHash(b1.Header))
	if err != nil || !ok {
		t.Fatalf("Block(b1): ok=%v err=%v", ok, err)
	}
	rec2, ok, err := bs.db.Block(consensus.BlockHash(b2.Header))
	if err != nil || !ok {
		t.Fatalf("Block(b2): ok=%v err=%v", ok, err)
	}
	if rec1.FileIndex == rec2.FileIndex {
		t.Fatalf("expected blocks to land in different files once the cap is exceeded")
	}

	got2, err := bs.ReadBlock(consensus.BlockHash(b2.Header))
	if err != nil || got2 == nil {
		t.Fatalf("ReadBlock(b2) after rollover: got=%v err=%v", got2, err)
	}
}
