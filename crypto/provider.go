package crypto

// Provider is the narrow cryptographic oracle consensus code depends on:
// digest production, plus a single opaque verifier standing in for the
// out-of-scope transaction proof system. It intentionally exposes no
// proving, signing, or key-management surface.
type Provider interface {
	SHA3_256(input []byte) [32]byte

	// VerifyTransactionProof reports whether proof attests to publicInput
	// (a transaction kernel's commitment digest) without revealing amounts
	// or any other witness data. The concrete proof system is out of scope;
	// implementations treat proof as opaque bytes.
	VerifyTransactionProof(proof []byte, publicInput [32]byte) bool
}
