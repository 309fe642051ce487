package crypto

import "golang.org/x/crypto/sha3"

// DevStdProvider is a development-only Provider backed by the SHA-3
// implementation in golang.org/x/crypto/sha3. It does NOT claim FIPS compliance and
// exists only to unblock early tooling; VerifyTransactionProof always
// rejects since no real proof system is wired up in this tree.
type DevStdProvider struct{}

func (p DevStdProvider) SHA3_256(input []byte) [32]byte {
	h := sha3.New256()
	_, _ = h.Write(input)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

func (p DevStdProvider) VerifyTransactionProof(_ []byte, _ [32]byte) bool { return false }
