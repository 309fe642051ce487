package store

import (
	"testing"

	"mutanet.dev/node/consensus"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	datadir := t.TempDir()
	db, err := Open(datadir, "testnet")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func sampleBlockRecord(height uint64) (consensus.Digest, BlockRecord) {
	h := consensus.Header{Version: 1, Height: height}
	hash := consensus.BlockHash(h)
	return hash, BlockRecord{Header: h, FileIndex: 0, ByteOffset: 100, Length: 50}
}

func TestDB_WriteBlockCatalogEntryThenLookup(t *testing.T) {
	db := openTestDB(t)
	_ = db.ChainDir()
	_ = db.Manifest()

	hash, rec := sampleBlockRecord(1)
	file := FileRecord{BlocksCount: 1, FileSize: 150, MinHeight: 1, MaxHeight: 1}
	if err := db.WriteBlockCatalogEntry(hash, rec, 0, file, true); err != nil {
		t.Fatalf("WriteBlockCatalogEntry: %v", err)
	}

	got, ok, err := db.Block(hash)
	if err != nil || !ok {
		t.Fatalf("Block: ok=%v err=%v", ok, err)
	}
	if got.FileIndex != rec.FileIndex || got.ByteOffset != rec.ByteOffset || got.Length != rec.Length {
		t.Fatalf("block record mismatch: got %+v want %+v", got, rec)
	}
	if got.Header.Height != 1 {
		t.Fatalf("expected height 1, got %d", got.Header.Height)
	}

	gotFile, ok, err := db.File(0)
	if err != nil || !ok {
		t.Fatalf("File: ok=%v err=%v", ok, err)
	}
	if *gotFile != file {
		t.Fatalf("file record mismatch: got %+v want %+v", *gotFile, file)
	}

	heights, err := db.Height(1)
	if err != nil {
		t.Fatalf("Height: %v", err)
	}
	if len(heights) != 1 || heights[0] != hash {
		t.Fatalf("expected [hash] at height 1, got %v", heights)
	}

	lastFile, ok, err := db.LastFile()
	if err != nil || !ok || lastFile != 0 {
		t.Fatalf("LastFile: idx=%d ok=%v err=%v", lastFile, ok, err)
	}

	tip, ok, err := db.Tip()
	if err != nil || !ok || tip != hash {
		t.Fatalf("Tip: got %v ok=%v err=%v", tip, ok, err)
	}
}

func TestDB_HeightAppendIsIdempotentAndAccumulates(t *testing.T) {
	db := openTestDB(t)
	file := FileRecord{BlocksCount: 1, FileSize: 50, MinHeight: 5, MaxHeight: 5}

	hashA, recA := sampleBlockRecord(5)
	if err := db.WriteBlockCatalogEntry(hashA, recA, 0, file, false); err != nil {
		t.Fatalf("WriteBlockCatalogEntry a: %v", err)
	}
	// Write the same entry again: idempotent, no duplicate.
	if err := db.WriteBlockCatalogEntry(hashA, recA, 0, file, false); err != nil {
		t.Fatalf("WriteBlockCatalogEntry a again: %v", err)
	}

	hB := consensus.Header{Version: 1, Height: 5, Nonce: 1}
	hashB := consensus.BlockHash(hB)
	recB := BlockRecord{Header: hB, FileIndex: 0, ByteOffset: 200, Length: 50}
	if err := db.WriteBlockCatalogEntry(hashB, recB, 0, file, false); err != nil {
		t.Fatalf("WriteBlockCatalogEntry b: %v", err)
	}

	heights, err := db.Height(5)
	if err != nil {
		t.Fatalf("Height: %v", err)
	}
	if len(heights) != 2 {
		t.Fatalf("expected 2 competing blocks at height 5, got %d", len(heights))
	}
}

func TestDB_MsBlockSyncRoundtrip(t *testing.T) {
	db := openTestDB(t)

	if _, ok, err := db.SyncDigest(); err != nil || ok {
		t.Fatalf("expected no sync digest initially, ok=%v err=%v", ok, err)
	}

	var h consensus.Digest
	h[0] = 0xaa
	flipped := []uint64{3, 1, 1, 9}
	if err := db.CommitMsBlockSync(h, flipped); err != nil {
		t.Fatalf("CommitMsBlockSync: %v", err)
	}

	got, ok, err := db.SyncDigest()
	if err != nil || !ok || got != h {
		t.Fatalf("SyncDigest: got %v ok=%v err=%v", got, ok, err)
	}

	diff, err := db.Diff(h)
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	if len(diff) != len(flipped) {
		t.Fatalf("expected diff to be stored verbatim (caller dedups), got %v", diff)
	}
}

func TestDB_FileRecordEncodeDecodeRoundtrip(t *testing.T) {
	r := FileRecord{BlocksCount: 7, FileSize: 1 << 20, MinHeight: 10, MaxHeight: 99}
	dec, err := decodeFileRecord(encodeFileRecord(r))
	if err != nil {
		t.Fatalf("decodeFileRecord: %v", err)
	}
	if *dec != r {
		t.Fatalf("roundtrip mismatch: got %+v want %+v", *dec, r)
	}
	if _, err := decodeFileRecord(make([]byte, 4)); err == nil {
		t.Fatalf("expected truncated error")
	}
}
