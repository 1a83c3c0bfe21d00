package oracle

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Oracle strategies
const (
	STRATEGY_QUORUM  = "quorum"
	STRATEGY_RELAYED = "relayed"
)

// attestPrefix versions the attestation digest.
const attestPrefix = "interop:attest:v1:"

var (
	ErrBelowQuorum      = errors.New("not enough distinct attester signatures")
	ErrUnknownAttester  = errors.New("signature from unknown attester")
	ErrBadProof         = errors.New("malformed attestation proof")
	ErrUntrustedSender  = errors.New("relayed message from untrusted sender")
	ErrMessagePending   = errors.New("relayed message not yet delivered")
	ErrFillHashMismatch = errors.New("proof does not bind the recorded fill")
)

// Verifier validates an attestation proof against the fill it claims to
// bind. Strategies are interchangeable and selected per destination chain.
type Verifier interface {
	Strategy() string
	Verify(intentId, fillHash common.Hash, proof []byte) error
}

// Source produces proofs for the claiming side: the solver polls it until
// a proof for its fill is available.
type Source interface {
	Strategy() string
	ProofFor(intentId, fillHash common.Hash) ([]byte, bool, error)
}

// AttestDigest is the hash attesters sign: prefix || intentId || fillHash.
func AttestDigest(intentId, fillHash common.Hash) common.Hash {
	var buf []byte
	buf = append(buf, []byte(attestPrefix)...)
	buf = append(buf, intentId.Bytes()...)
	buf = append(buf, fillHash.Bytes()...)
	return crypto.Keccak256Hash(buf)
}
