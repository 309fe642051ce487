package store

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"mutanet.dev/node/consensus"

	bolt "go.etcd.io/bbolt"
)

// Bucket layout mirrors the BlockIndex and MsBlockSync key spaces: one
// bbolt bucket per named sub-table, keyed exactly as the table's key type.
var (
	bucketFiles   = []byte("block_index_files")
	bucketBlocks  = []byte("block_index_blocks")
	bucketHeights = []byte("block_index_heights")
	bucketMeta    = []byte("block_index_meta")
	bucketSync    = []byte("ms_block_sync_digest")
	bucketDiff    = []byte("ms_block_sync_diff")
)

var (
	metaKeyLastFile = []byte("last_file")
	metaKeyTip      = []byte("tip")
	syncKeyDigest   = []byte("sync_digest")
)

// FileRecord describes one capped blk{N}.dat file.
type FileRecord struct {
	BlocksCount uint32
	FileSize    uint64
	MinHeight   uint64
	MaxHeight   uint64
}

// BlockRecord is a catalog entry: a header plus its location in a block file.
type BlockRecord struct {
	Header     consensus.Header
	FileIndex  uint32
	ByteOffset uint64
	Length     uint64
}

// DB wraps the bbolt-backed catalog (BlockIndex) and mutator-set sync
// table (MsBlockSync), per spec.md §3 and §6.
type DB struct {
	chainDir string
	db       *bolt.DB
	manifest *Manifest
}

// Open opens (creating if absent) the bbolt database for a given network
// under datadir, creating all catalog buckets in one transaction.
func Open(datadir string, networkName string) (*DB, error) {
	if datadir == "" {
		return nil, fmt.Errorf("datadir required")
	}
	if networkName == "" {
		return nil, fmt.Errorf("network_name required")
	}

	chainDir := ChainDir(datadir, networkName)
	if err := ensureDir(chainDir); err != nil {
		return nil, err
	}
	if err := ensureDir(filepath.Join(chainDir, "databases")); err != nil {
		return nil, err
	}

	path := filepath.Join(chainDir, "databases", "block_index.db")
	bdb, err := bolt.Open(path, 0o600, &bolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("open bbolt: %w", err)
	}

	d := &DB{chainDir: chainDir, db: bdb}

	buckets := [][]byte{bucketFiles, bucketBlocks, bucketHeights, bucketMeta, bucketSync, bucketDiff}
	if err := d.db.Update(func(tx *bolt.Tx) error {
		for _, b := range buckets {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("create bucket %s: %w", string(b), err)
			}
		}
		return nil
	}); err != nil {
		_ = bdb.Close()
		return nil, err
	}

	m, err := readManifest(chainDir)
	if err != nil {
		if os.IsNotExist(err) {
			return d, nil // uninitialized chain; caller must materialize genesis.
		}
		_ = bdb.Close()
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	if m.SchemaVersion > SchemaVersionV1 {
		_ = bdb.Close()
		return nil, fmt.Errorf("manifest schema_version %d > supported %d", m.SchemaVersion, SchemaVersionV1)
	}
	d.manifest = m
	return d, nil
}

func (d *DB) Close() error {
	if d == nil || d.db == nil {
		return nil
	}
	return d.db.Close()
}

func (d *DB) ChainDir() string { return d.chainDir }

func (d *DB) Manifest() *Manifest {
	if d == nil {
		return nil
	}
	return d.manifest
}

func (d *DB) SetManifest(m *Manifest) error {
	if d == nil {
		return fmt.Errorf("db: nil")
	}
	if err := writeManifestAtomic(d.chainDir, m); err != nil {
		return err
	}
	d.manifest = m
	return nil
}

// LastFile returns the index of the file currently being appended to, and
// false if no block has ever been written.
func (d *DB) LastFile() (uint32, bool, error) {
	var idx uint32
	var ok bool
	err := d.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketMeta).Get(metaKeyLastFile)
		if v == nil {
			return nil
		}
		idx = binary.LittleEndian.Uint32(v)
		ok = true
		return nil
	})
	return idx, ok, err
}

func (d *DB) setLastFile(tx *bolt.Tx, idx uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], idx)
	return tx.Bucket(bucketMeta).Put(metaKeyLastFile, buf[:])
}

func (d *DB) File(index uint32) (*FileRecord, bool, error) {
	var out *FileRecord
	err := d.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketFiles).Get(fileKey(index))
		if v == nil {
			return nil
		}
		r, err := decodeFileRecord(v)
		if err != nil {
			return err
		}
		out = r
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, out != nil, nil
}

func (d *DB) putFile(tx *bolt.Tx, index uint32, r FileRecord) error {
	return tx.Bucket(bucketFiles).Put(fileKey(index), encodeFileRecord(r))
}

func (d *DB) Block(h consensus.Digest) (*BlockRecord, bool, error) {
	var out *BlockRecord
	err := d.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketBlocks).Get(h[:])
		if v == nil {
			return nil
		}
		r, err := decodeBlockRecord(v)
		if err != nil {
			return err
		}
		out = r
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, out != nil, nil
}

func (d *DB) putBlock(tx *bolt.Tx, h consensus.Digest, r BlockRecord) error {
	b, err := encodeBlockRecord(r)
	if err != nil {
		return err
	}
	return tx.Bucket(bucketBlocks).Put(h[:], b)
}

// Height returns every known block digest at the given height.
func (d *DB) Height(height uint64) ([]consensus.Digest, error) {
	var out []consensus.Digest
	err := d.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketHeights).Get(heightKey(height))
		out = decodeDigestList(v)
		return nil
	})
	return out, err
}

func (d *DB) appendHeight(tx *bolt.Tx, height uint64, h consensus.Digest) error {
	b := tx.Bucket(bucketHeights)
	key := heightKey(height)
	existing := decodeDigestList(b.Get(key))
	for _, d := range existing {
		if d == h {
			return nil // already recorded; write_block may be retried idempotently.
		}
	}
	existing = append(existing, h)
	return b.Put(key, encodeDigestList(existing))
}

func (d *DB) Tip() (consensus.Digest, bool, error) {
	var out consensus.Digest
	var ok bool
	err := d.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketMeta).Get(metaKeyTip)
		if v == nil {
			return nil
		}
		copy(out[:], v)
		ok = true
		return nil
	})
	return out, ok, err
}

func (d *DB) setTip(tx *bolt.Tx, h consensus.Digest) error {
	return tx.Bucket(bucketMeta).Put(metaKeyTip, h[:])
}

// WriteBlockCatalogEntry performs the single atomic catalog commit step 4
// of spec.md §4.5's write_block algorithm: it updates File(N), Block(h),
// Height(height), LastFile, and Tip (if raisesTip) in one bbolt transaction.
func (d *DB) WriteBlockCatalogEntry(
	h consensus.Digest,
	record BlockRecord,
	fileIndex uint32,
	file FileRecord,
	raisesTip bool,
) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		if err := d.putBlock(tx, h, record); err != nil {
			return err
		}
		if err := d.putFile(tx, fileIndex, file); err != nil {
			return err
		}
		if err := d.appendHeight(tx, record.Header.Height, h); err != nil {
			return err
		}
		if err := d.setLastFile(tx, fileIndex); err != nil {
			return err
		}
		if raisesTip {
			if err := d.setTip(tx, h); err != nil {
				return err
			}
		}
		return nil
	})
}

// SyncDigest returns the block the mutator set is currently synced to.
func (d *DB) SyncDigest() (consensus.Digest, bool, error) {
	var out consensus.Digest
	var ok bool
	err := d.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketSync).Get(syncKeyDigest)
		if v == nil {
			return nil
		}
		copy(out[:], v)
		ok = true
		return nil
	})
	return out, ok, err
}

func (d *DB) Diff(blockHash consensus.Digest) ([]uint64, error) {
	var out []uint64
	err := d.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketDiff).Get(blockHash[:])
		out = decodeU64List(v)
		return nil
	})
	return out, err
}

// CommitMsBlockSync performs the atomic write of step 5 in
// spec.md §4.6: SyncDigest = B.hash, Diff(B.hash) = flippedIndices.
func (d *DB) CommitMsBlockSync(blockHash consensus.Digest, flippedIndices []uint64) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketSync).Put(syncKeyDigest, blockHash[:]); err != nil {
			return err
		}
		return tx.Bucket(bucketDiff).Put(blockHash[:], encodeU64List(flippedIndices))
	})
}

func fileKey(index uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], index)
	return b[:]
}

func heightKey(height uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], height)
	return b[:]
}

func encodeFileRecord(r FileRecord) []byte {
	out := make([]byte, 4+8+8+8)
	binary.LittleEndian.PutUint32(out[0:4], r.BlocksCount)
	binary.LittleEndian.PutUint64(out[4:12], r.FileSize)
	binary.LittleEndian.PutUint64(out[12:20], r.MinHeight)
	binary.LittleEndian.PutUint64(out[20:28], r.MaxHeight)
	return out
}

func decodeFileRecord(b []byte) (*FileRecord, error) {
	if len(b) != 28 {
		return nil, fmt.Errorf("file record: bad length %d", len(b))
	}
	return &FileRecord{
		BlocksCount: binary.LittleEndian.Uint32(b[0:4]),
		FileSize:    binary.LittleEndian.Uint64(b[4:12]),
		MinHeight:   binary.LittleEndian.Uint64(b[12:20]),
		MaxHeight:   binary.LittleEndian.Uint64(b[20:28]),
	}, nil
}

func encodeBlockRecord(r BlockRecord) ([]byte, error) {
	hb := consensus.HeaderBytes(r.Header)
	if len(hb) > 0xffff {
		return nil, fmt.Errorf("block record: header too large")
	}
	out := make([]byte, 0, 4+8+8+2+len(hb))
	var tmp4, tmp2 [4]byte
	binary.LittleEndian.PutUint32(tmp4[:], r.FileIndex)
	out = append(out, tmp4[:]...)
	var tmp8 [8]byte
	binary.LittleEndian.PutUint64(tmp8[:], r.ByteOffset)
	out = append(out, tmp8[:]...)
	binary.LittleEndian.PutUint64(tmp8[:], r.Length)
	out = append(out, tmp8[:]...)
	binary.LittleEndian.PutUint16(tmp2[:2], uint16(len(hb))) // #nosec G115 -- checked against 0xffff above.
	out = append(out, tmp2[:2]...)
	out = append(out, hb...)
	return out, nil
}

func decodeBlockRecord(b []byte) (*BlockRecord, error) {
	if len(b) < 4+8+8+2 {
		return nil, fmt.Errorf("block record: truncated")
	}
	fileIndex := binary.LittleEndian.Uint32(b[0:4])
	byteOffset := binary.LittleEndian.Uint64(b[4:12])
	length := binary.LittleEndian.Uint64(b[12:20])
	hLen := int(binary.LittleEndian.Uint16(b[20:22]))
	if 22+hLen != len(b) {
		return nil, fmt.Errorf("block record: bad header length")
	}
	header, _, err := consensus.ParseHeaderBytes(b[22:])
	if err != nil {
		return nil, fmt.Errorf("block record: header: %w", err)
	}
	return &BlockRecord{
		Header:     header,
		FileIndex:  fileIndex,
		ByteOffset: byteOffset,
		Length:     length,
	}, nil
}

func encodeDigestList(ds []consensus.Digest) []byte {
	out := make([]byte, 0, len(ds)*consensus.DigestBytes)
	for _, d := range ds {
		out = append(out, d[:]...)
	}
	return out
}

func decodeDigestList(b []byte) []consensus.Digest {
	if len(b) == 0 {
		return nil
	}
	n := len(b) / consensus.DigestBytes
	out := make([]consensus.Digest, 0, n)
	for i := 0; i < n; i++ {
		var d consensus.Digest
		copy(d[:], b[i*consensus.DigestBytes:(i+1)*consensus.DigestBytes])
		out = append(out, d)
	}
	return out
}

func encodeU64List(xs []uint64) []byte {
	out := make([]byte, 8*len(xs))
	for i, x := range xs {
		binary.LittleEndian.PutUint64(out[i*8:(i+1)*8], x)
	}
	return out
}

func decodeU64List(b []byte) []uint64 {
	if len(b) == 0 {
		return nil
	}
	n := len(b) / 8
	out := make([]uint64, n)
	for i := 0; i < n; i++ {
		out[i] = binary.LittleEndian.Uint64(b[i*8 : (i+1)*8])
	}
	return out
}
