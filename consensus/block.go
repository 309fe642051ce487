package consensus

// Header is a block header per spec §3.
type Header struct {
	Version              uint32
	Height               uint64
	MutatorSetHash       Digest // commitment to body.NextMutatorSetAccumulator
	PrevBlockDigest      Digest
	Timestamp            uint64 // unix nanoseconds
	Nonce                uint64
	MaxBlockSize         uint64
	ProofOfWorkLine      ProofOfWork // cumulative work up to and including this block
	ProofOfWorkFamily    ProofOfWork // cumulative work of this block's entire ancestry, incl. uncles
	TargetDifficulty     Difficulty
	BodyMerkleRoot       Digest
	Uncles               []Digest
}

// Body is a block body per spec §3. The two mutator-set accumulators and
// the STARK proof are carried as opaque serialized blobs: the core treats
// accumulator contents as data produced/consumed by the mutatorset package,
// and treats proof verification as an external oracle (spec §1 Non-goals).
type Body struct {
	Kernels                  []TransactionKernel
	NextMutatorSetAccumulator []byte
	PrevMutatorSetAccumulator []byte
	ProofBytes               []byte
}

// TransactionKernel is the consensus-visible shape of a transaction: its
// removal/addition records plus the fields needed for block validation.
// Script/signature validity over it is an opaque oracle (spec §1, §9).
type TransactionKernel struct {
	Inputs  [][]byte // serialized RemovalRecords
	Outputs [][]byte // serialized AdditionRecords (each a Digest-sized commitment)
	ScriptCommitments []Digest
	Fee       uint64
	Timestamp uint64
}

type Block struct {
	Header Header
	Body   Body
}

// leafDigests returns the per-field digests fed into BodyMerkleRoot.
func (b Body) leafDigests() []Digest {
	leaves := make([]Digest, 0, len(b.Kernels)+3)
	for _, k := range b.Kernels {
		leaves = append(leaves, k.digest())
	}
	leaves = append(leaves,
		HashDigest(b.NextMutatorSetAccumulator),
		HashDigest(b.PrevMutatorSetAccumulator),
		HashDigest(b.ProofBytes),
	)
	return leaves
}

func (k TransactionKernel) digest() Digest {
	buf := make([]byte, 0, 128)
	for _, in := range k.Inputs {
		buf = AppendCompactSize(buf, uint64(len(in)))
		buf = append(buf, in...)
	}
	for _, out := range k.Outputs {
		buf = AppendCompactSize(buf, uint64(len(out)))
		buf = append(buf, out...)
	}
	for _, c := range k.ScriptCommitments {
		buf = append(buf, c[:]...)
	}
	buf = AppendU64le(buf, k.Fee)
	buf = AppendU64le(buf, k.Timestamp)
	return HashDigest(buf)
}

// ComputeBodyMerkleRoot computes the merkle root a valid header must carry.
func ComputeBodyMerkleRoot(body Body) (Digest, error) {
	return BodyMerkleRoot(body.leafDigests())
}

// HeaderBytes serializes a Header into its canonical binary encoding
// (fixed-width little-endian integers and raw digests, then a
// CompactSize-counted uncle list), used both for hashing and for the flat
// block file format.
func HeaderBytes(h Header) []byte {
	out := make([]byte, 0, 256)
	out = AppendU32le(out, h.Version)
	out = AppendU64le(out, h.Height)
	out = append(out, h.MutatorSetHash[:]...)
	out = append(out, h.PrevBlockDigest[:]...)
	out = AppendU64le(out, h.Timestamp)
	out = AppendU64le(out, h.Nonce)
	out = AppendU64le(out, h.MaxBlockSize)
	out = appendLimbs192(out, h.ProofOfWorkLine.Limbs())
	out = appendLimbs192(out, h.ProofOfWorkFamily.Limbs())
	out = appendLimbs160(out, h.TargetDifficulty.Limbs())
	out = append(out, h.BodyMerkleRoot[:]...)
	out = AppendCompactSize(out, uint64(len(h.Uncles)))
	for _, u := range h.Uncles {
		out = append(out, u[:]...)
	}
	return out
}

func appendLimbs160(dst []byte, l Limbs160) []byte {
	for _, w := range l {
		dst = AppendU32le(dst, w)
	}
	return dst
}

func appendLimbs192(dst []byte, l Limbs192) []byte {
	for _, w := range l {
		dst = AppendU32le(dst, w)
	}
	return dst
}

// ParseHeaderBytes is the inverse of HeaderBytes.
func ParseHeaderBytes(b []byte) (Header, int, error) {
	c := newCursor(b)
	var h Header
	var err error
	if h.Version, err = c.readU32LE(); err != nil {
		return Header{}, 0, txerr(BLOCK_ERR_PARSE, "header: version")
	}
	heightU64, err := c.readU64LE()
	if err != nil {
		return Header{}, 0, txerr(BLOCK_ERR_PARSE, "header: height")
	}
	h.Height = heightU64
	msHash, err := c.readExact(DigestBytes)
	if err != nil {
		return Header{}, 0, txerr(BLOCK_ERR_PARSE, "header: mutator_set_hash")
	}
	copy(h.MutatorSetHash[:], msHash)
	prev, err := c.readExact(DigestBytes)
	if err != nil {
		return Header{}, 0, txerr(BLOCK_ERR_PARSE, "header: prev_block_digest")
	}
	copy(h.PrevBlockDigest[:], prev)
	if h.Timestamp, err = c.readU64LE(); err != nil {
		return Header{}, 0, txerr(BLOCK_ERR_PARSE, "header: timestamp")
	}
	if h.Nonce, err = c.readU64LE(); err != nil {
		return Header{}, 0, txerr(BLOCK_ERR_PARSE, "header: nonce")
	}
	if h.MaxBlockSize, err = c.readU64LE(); err != nil {
		return Header{}, 0, txerr(BLOCK_ERR_PARSE, "header: max_block_size")
	}
	powLine, err := readLimbs192(c)
	if err != nil {
		return Header{}, 0, err
	}
	powFamily, err := readLimbs192(c)
	if err != nil {
		return Header{}, 0, err
	}
	target, err := readLimbs160(c)
	if err != nil {
		return Header{}, 0, err
	}
	root, err := c.readExact(DigestBytes)
	if err != nil {
		return Header{}, 0, txerr(BLOCK_ERR_PARSE, "header: body_merkle_root")
	}
	copy(h.BodyMerkleRoot[:], root)
	uncleCount, err := c.readCompactSize()
	if err != nil {
		return Header{}, 0, txerr(BLOCK_ERR_PARSE, "header: uncle_count")
	}
	h.Uncles = make([]Digest, 0, uncleCount)
	for i := uint64(0); i < uncleCount; i++ {
		ub, err := c.readExact(DigestBytes)
		if err != nil {
			return Header{}, 0, txerr(BLOCK_ERR_PARSE, "header: uncle digest")
		}
		var u Digest
		copy(u[:], ub)
		h.Uncles = append(h.Uncles, u)
	}

	diff, err := NewDifficulty(target)
	if err != nil {
		return Header{}, 0, err
	}
	h.TargetDifficulty = diff
	h.ProofOfWorkLine = ProofOfWork{limbs: powLine}
	h.ProofOfWorkFamily = ProofOfWork{limbs: powFamily}
	return h, c.pos, nil
}

func readLimbs160(c *cursor) (Limbs160, error) {
	var l Limbs160
	for i := range l {
		v, err := c.readU32LE()
		if err != nil {
			return Limbs160{}, txerr(BLOCK_ERR_PARSE, "header: limb160")
		}
		l[i] = v
	}
	return l, nil
}

func readLimbs192(c *cursor) (Limbs192, error) {
	var l Limbs192
	for i := range l {
		v, err := c.readU32LE()
		if err != nil {
			return Limbs192{}, txerr(BLOCK_ERR_PARSE, "header: limb192")
		}
		l[i] = v
	}
	return l, nil
}

// BlockHash hashes a header's canonical byte encoding.
func BlockHash(h Header) Digest {
	return HashDigest(HeaderBytes(h))
}

// BodyBytes serializes a Body into the canonical binary encoding used
// inside a block file record.
func BodyBytes(b Body) []byte {
	out := make([]byte, 0, 256)
	out = AppendCompactSize(out, uint64(len(b.Kernels)))
	for _, k := range b.Kernels {
		out = appendKernel(out, k)
	}
	out = appendLenPrefixed(out, b.NextMutatorSetAccumulator)
	out = appendLenPrefixed(out, b.PrevMutatorSetAccumulator)
	out = appendLenPrefixed(out, b.ProofBytes)
	return out
}

func appendLenPrefixed(dst []byte, b []byte) []byte {
	dst = AppendCompactSize(dst, uint64(len(b)))
	return append(dst, b...)
}

func appendKernel(dst []byte, k TransactionKernel) []byte {
	dst = AppendCompactSize(dst, uint64(len(k.Inputs)))
	for _, in := range k.Inputs {
		dst = appendLenPrefixed(dst, in)
	}
	dst = AppendCompactSize(dst, uint64(len(k.Outputs)))
	for _, out := range k.Outputs {
		dst = appendLenPrefixed(dst, out)
	}
	dst = AppendCompactSize(dst, uint64(len(k.ScriptCommitments)))
	for _, c := range k.ScriptCommitments {
		dst = append(dst, c[:]...)
	}
	dst = AppendU64le(dst, k.Fee)
	dst = AppendU64le(dst, k.Timestamp)
	return dst
}

// ParseBodyBytes is the inverse of BodyBytes.
func ParseBodyBytes(b []byte) (Body, int, error) {
	c := newCursor(b)
	var body Body

	kernelCount, err := c.readCompactSize()
	if err != nil {
		return Body{}, 0, txerr(BLOCK_ERR_PARSE, "body: kernel_count")
	}
	body.Kernels = make([]TransactionKernel, 0, kernelCount)
	for i := uint64(0); i < kernelCount; i++ {
		k, err := parseKernel(c)
		if err != nil {
			return Body{}, 0, err
		}
		body.Kernels = append(body.Kernels, k)
	}

	if body.NextMutatorSetAccumulator, err = readLenPrefixed(c); err != nil {
		return Body{}, 0, err
	}
	if body.PrevMutatorSetAccumulator, err = readLenPrefixed(c); err != nil {
		return Body{}, 0, err
	}
	if body.ProofBytes, err = readLenPrefixed(c); err != nil {
		return Body{}, 0, err
	}
	return body, c.pos, nil
}

func readLenPrefixed(c *cursor) ([]byte, error) {
	n, err := c.readCompactSize()
	if err != nil {
		return nil, txerr(BLOCK_ERR_PARSE, "body: length prefix")
	}
	b, err := c.readExact(int(n))
	if err != nil {
		return nil, txerr(BLOCK_ERR_PARSE, "body: truncated field")
	}
	return append([]byte(nil), b...), nil
}

func parseKernel(c *cursor) (TransactionKernel, error) {
	var k TransactionKernel
	inCount, err := c.readCompactSize()
	if err != nil {
		return TransactionKernel{}, txerr(BLOCK_ERR_PARSE, "kernel: input_count")
	}
	k.Inputs = make([][]byte, 0, inCount)
	for i := uint64(0); i < inCount; i++ {
		b, err := readLenPrefixed(c)
		if err != nil {
			return TransactionKernel{}, err
		}
		k.Inputs = append(k.Inputs, b)
	}
	outCount, err := c.readCompactSize()
	if err != nil {
		return TransactionKernel{}, txerr(BLOCK_ERR_PARSE, "kernel: output_count")
	}
	k.Outputs = make([][]byte, 0, outCount)
	for i := uint64(0); i < outCount; i++ {
		b, err := readLenPrefixed(c)
		if err != nil {
			return TransactionKernel{}, err
		}
		k.Outputs = append(k.Outputs, b)
	}
	scCount, err := c.readCompactSize()
	if err != nil {
		return TransactionKernel{}, txerr(BLOCK_ERR_PARSE, "kernel: script_commitment_count")
	}
	k.ScriptCommitments = make([]Digest, 0, scCount)
	for i := uint64(0); i < scCount; i++ {
		b, err := c.readExact(DigestBytes)
		if err != nil {
			return TransactionKernel{}, txerr(BLOCK_ERR_PARSE, "kernel: script_commitment")
		}
		var d Digest
		copy(d[:], b)
		k.ScriptCommitments = append(k.ScriptCommitments, d)
	}
	if k.Fee, err = c.readU64LE(); err != nil {
		return TransactionKernel{}, txerr(BLOCK_ERR_PARSE, "kernel: fee")
	}
	if k.Timestamp, err = c.readU64LE(); err != nil {
		return TransactionKernel{}, txerr(BLOCK_ERR_PARSE, "kernel: timestamp")
	}
	return k, nil
}

// BlockBytes serializes a Block as a length-prefixed header followed by a
// length-prefixed body, the record format stored in a block file per
// spec.md's flat-file block store.
func BlockBytes(b Block) []byte {
	hb := HeaderBytes(b.Header)
	bb := BodyBytes(b.Body)
	out := make([]byte, 0, len(hb)+len(bb)+16)
	out = AppendCompactSize(out, uint64(len(hb)))
	out = append(out, hb...)
	out = AppendCompactSize(out, uint64(len(bb)))
	out = append(out, bb...)
	return out
}

// ParseBlockBytes is the inverse of BlockBytes.
func ParseBlockBytes(buf []byte) (Block, error) {
	c := newCursor(buf)
	hLen, err := c.readCompactSize()
	if err != nil {
		return Block{}, txerr(BLOCK_ERR_PARSE, "block: header length")
	}
	hBytes, err := c.readExact(int(hLen))
	if err != nil {
		return Block{}, txerr(BLOCK_ERR_PARSE, "block: truncated header")
	}
	header, _, err := ParseHeaderBytes(hBytes)
	if err != nil {
		return Block{}, err
	}
	bLen, err := c.readCompactSize()
	if err != nil {
		return Block{}, txerr(BLOCK_ERR_PARSE, "block: body length")
	}
	bBytes, err := c.readExact(int(bLen))
	if err != nil {
		return Block{}, txerr(BLOCK_ERR_PARSE, "block: truncated body")
	}
	body, _, err := ParseBodyBytes(bBytes)
	if err != nil {
		return Block{}, err
	}
	return Block{Header: header, Body: body}, nil
}
