package node

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	mmap "github.com/edsrzf/mmap-go"

	"mutanet.dev/node/consensus"
	"mutanet.dev/node/node/store"
)

// DefaultMaxFileSize bounds how large a single blk{N}.dat file is allowed
// to grow before write_block rolls over to a new file.
const DefaultMaxFileSize = 128 << 20 // 128 MiB

// BlockStore is the archival block store of spec.md §4.5: block bodies
// live in capped, append-only flat files (blk{N}.dat); a bbolt-backed
// catalog (store.DB) tracks where each block lives and which digest is
// the current tip.
type BlockStore struct {
	blocksDir   string
	db          *store.DB
	maxFileSize uint64
	genesis     consensus.Block
	genesisHash consensus.Digest

	mu         sync.Mutex
	writeFile  *os.File
	writeIndex uint32
}

// OpenBlockStore opens the flat-file directory alongside an already-open
// catalog. genesis is materialized in process memory per spec.md §3's
// lifecycle note: ReadBlock and GetLatestBlock serve it from memory, and
// it reaches a blk file only if WriteBlock is called with it; no other
// write persists it.
func OpenBlockStore(blocksDir string, db *store.DB, genesis consensus.Block, maxFileSize uint64) (*BlockStore, error) {
	if err := os.MkdirAll(blocksDir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", blocksDir, err)
	}
	if maxFileSize == 0 {
		maxFileSize = DefaultMaxFileSize
	}
	return &BlockStore{
		blocksDir:   blocksDir,
		db:          db,
		maxFileSize: maxFileSize,
		genesis:     genesis,
		genesisHash: consensus.BlockHash(genesis.Header),
	}, nil
}

// GenesisHash returns the digest of the in-memory genesis block.
func (bs *BlockStore) GenesisHash() consensus.Digest {
	return bs.genesisHash
}

func (bs *BlockStore) filePath(index uint32) string {
	return filepath.Join(bs.blocksDir, fmt.Sprintf("blk%d.dat", index))
}

// WriteBlock implements spec.md §4.5's write_block: append the block's
// canonical encoding to the current (or a freshly rolled-over) file, then
// commit the catalog update in one atomic batch.
func (bs *BlockStore) WriteBlock(block consensus.Block, prevTipPow *consensus.ProofOfWork) error {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	blockBytes := consensus.BlockBytes(block)

	fileIndex, ok, err := bs.db.LastFile()
	if err != nil {
		return err
	}
	if !ok {
		fileIndex = 0
	}

	existing, _, err := bs.db.File(fileIndex)
	if err != nil {
		return err
	}
	var curSize uint64
	var blocksCount uint32
	minHeight, maxHeight := block.Header.Height, block.Header.Height
	if existing != nil {
		curSize = existing.FileSize
		blocksCount = existing.BlocksCount
		minHeight = existing.MinHeight
		if minHeight > block.Header.Height {
			minHeight = block.Header.Height
		}
		maxHeight = existing.MaxHeight
		if maxHeight < block.Header.Height {
			maxHeight = block.Header.Height
		}
	}

	if existing != nil && curSize+uint64(len(blockBytes)) > bs.maxFileSize {
		fileIndex++
		curSize = 0
		blocksCount = 0
		minHeight, maxHeight = block.Header.Height, block.Header.Height
	}

	if err := bs.openForAppend(fileIndex); err != nil {
		return err
	}
	offset := curSize
	if _, err := bs.writeFile.WriteAt(blockBytes, int64(offset)); err != nil {
		return fmt.Errorf("write block: %w", err)
	}
	if err := bs.writeFile.Sync(); err != nil {
		return fmt.Errorf("sync block file: %w", err)
	}

	hash := consensus.BlockHash(block.Header)
	record := store.BlockRecord{
		Header:     block.Header,
		FileIndex:  fileIndex,
		ByteOffset: offset,
		Length:     uint64(len(blockBytes)),
	}
	file := store.FileRecord{
		BlocksCount: blocksCount + 1,
		FileSize:    offset + uint64(len(blockBytes)),
		MinHeight:   minHeight,
		MaxHeight:   maxHeight,
	}
	raisesTip := prevTipPow == nil || block.Header.ProofOfWorkFamily.Cmp(*prevTipPow) > 0

	return bs.db.WriteBlockCatalogEntry(hash, record, fileIndex, file, raisesTip)
}

func (bs *BlockStore) openForAppend(index uint32) error {
	if bs.writeFile != nil && bs.writeIndex == index {
		return nil
	}
	if bs.writeFile != nil {
		_ = bs.writeFile.Close()
		bs.writeFile = nil
	}
	f, err := os.OpenFile(bs.filePath(index), os.O_CREATE|os.O_RDWR, 0o644) // #nosec G304 -- path built from internal file index, not external input.
	if err != nil {
		return fmt.Errorf("open %s: %w", bs.filePath(index), err)
	}
	bs.writeFile = f
	bs.writeIndex = index
	return nil
}

// ReadBlock implements read_block: a catalog lookup followed by a
// memory-mapped read of the exact (offset, length) slice. The genesis
// block is served from memory without touching disk.
func (bs *BlockStore) ReadBlock(h consensus.Digest) (*consensus.Block, error) {
	if h == bs.genesisHash {
		b := bs.genesis
		return &b, nil
	}

	rec, ok, err := bs.db.Block(h)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	f, err := os.Open(bs.filePath(rec.FileIndex)) // #nosec G304 -- path built from internal file index, not external input.
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", bs.filePath(rec.FileIndex), err)
	}
	defer f.Close()

	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("mmap %s: %w", bs.filePath(rec.FileIndex), err)
	}
	defer m.Unmap()

	end := rec.ByteOffset + rec.Length
	if end > uint64(len(m)) {
		return nil, consensus.NewChainError(consensus.CorruptBlock, "block record points past end of file")
	}
	raw := append([]byte(nil), m[rec.ByteOffset:end]...)

	block, err := consensus.ParseBlockBytes(raw)
	if err != nil {
		return nil, err
	}
	return &block, nil
}

// GetLatestBlock returns the catalog tip, or genesis if none has been set.
func (bs *BlockStore) GetLatestBlock() (consensus.Block, error) {
	tip, ok, err := bs.db.Tip()
	if err != nil {
		return consensus.Block{}, err
	}
	if !ok {
		return bs.genesis, nil
	}
	block, err := bs.ReadBlock(tip)
	if err != nil {
		return consensus.Block{}, err
	}
	if block == nil {
		return consensus.Block{}, consensus.NewChainError(consensus.CorruptBlock, "tip digest not resolvable")
	}
	return *block, nil
}

// GetChildren implements get_children: all known blocks at height+1 whose
// prev_block_digest matches header's hash.
func (bs *BlockStore) GetChildren(header consensus.Header) ([]consensus.Header, error) {
	hash := consensus.BlockHash(header)
	digests, err := bs.db.Height(header.Height + 1)
	if err != nil {
		return nil, err
	}
	var out []consensus.Header
	for _, d := range digests {
		rec, ok, err := bs.db.Block(d)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if rec.Header.PrevBlockDigest == hash {
			out = append(out, rec.Header)
		}
	}
	return out, nil
}

// GetAncestorDigests walks parent pointers up to maxCount steps, stopping
// at genesis. h must be known; an unknown digest is a fatal corruption.
func (bs *BlockStore) GetAncestorDigests(h consensus.Digest, maxCount int) ([]consensus.Digest, error) {
	out := make([]consensus.Digest, 0, maxCount)
	cursor := h
	for len(out) < maxCount {
		if cursor == bs.genesisHash {
			return out, nil
		}
		rec, ok, err := bs.db.Block(cursor)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, consensus.NewChainError(consensus.CorruptBlock, "ancestor digest unknown to catalog")
		}
		out = append(out, rec.Header.PrevBlockDigest)
		cursor = rec.Header.PrevBlockDigest
	}
	return out, nil
}

// Close releases the open append-mode file handle, if any.
func (bs *BlockStore) Close() error {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	if bs.writeFile == nil {
		return nil
	}
	err := bs.writeFile.Close()
	bs.writeFile = nil
	return err
}
