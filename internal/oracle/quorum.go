package oracle

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	goerrors "github.com/go-errors/errors"
	"github.com/interoplabs/intent-relayer/internal/db"
	"github.com/interoplabs/intent-relayer/internal/state"
	log "github.com/sirupsen/logrus"
)

const signatureLength = 65

// QuorumVerifier accepts a proof carrying k-of-n attester signatures over
// the attest digest. The proof is the raw concatenation of 65-byte
// signatures; duplicate signers count once.
type QuorumVerifier struct {
	attesters map[common.Address]bool
	quorum    int
}

func NewQuorumVerifier(attesterSet []string, quorum int) *QuorumVerifier {
	attesters := make(map[common.Address]bool, len(attesterSet))
	for _, a := range attesterSet {
		attesters[common.HexToAddress(a)] = true
	}
	if quorum <= 0 || quorum > len(attesters) {
		log.Fatalf("Invalid attester quorum %d for set of %d", quorum, len(attesters))
	}
	return &QuorumVerifier{attesters: attesters, quorum: quorum}
}

func (v *QuorumVerifier) Strategy() string {
	return STRATEGY_QUORUM
}

func (v *QuorumVerifier) Verify(intentId, fillHash common.Hash, proof []byte) error {
	if len(proof) == 0 || len(proof)%signatureLength != 0 {
		return ErrBadProof
	}

	digest := AttestDigest(intentId, fillHash)
	seen := make(map[common.Address]bool)
	for off := 0; off < len(proof); off += signatureLength {
		sig := proof[off : off+signatureLength]
		pubKey, err := crypto.SigToPub(digest.Bytes(), sig)
		if err != nil {
			return ErrBadProof
		}
		signer := crypto.PubkeyToAddress(*pubKey)
		if !v.attesters[signer] {
			return ErrUnknownAttester
		}
		seen[signer] = true
	}

	if len(seen) < v.quorum {
		return ErrBelowQuorum
	}
	return nil
}

// QuorumSource assembles proofs from signatures collected in the database.
// The first k distinct signers in arrival order make up the proof.
type QuorumSource struct {
	state    *state.State
	verifier *QuorumVerifier
}

func NewQuorumSource(st *state.State, verifier *QuorumVerifier) *QuorumSource {
	return &QuorumSource{state: st, verifier: verifier}
}

func (s *QuorumSource) Strategy() string {
	return STRATEGY_QUORUM
}

func (s *QuorumSource) ProofFor(intentId, fillHash common.Hash) ([]byte, bool, error) {
	sigs, err := s.state.GetAttesterSignatures(fillHash.Hex())
	if err != nil {
		return nil, false, goerrors.Wrap(err, 0)
	}

	proof, count := assembleProof(sigs, s.verifier.attesters, s.verifier.quorum)
	if count < s.verifier.quorum {
		return nil, false, nil
	}
	return proof, true, nil
}

func assembleProof(sigs []*db.AttesterSignature, attesters map[common.Address]bool, quorum int) ([]byte, int) {
	var proof []byte
	seen := make(map[string]bool)
	count := 0
	for _, sig := range sigs {
		signer := strings.ToLower(sig.Signer)
		if seen[signer] || !attesters[common.HexToAddress(sig.Signer)] {
			continue
		}
		if len(sig.Signature) != signatureLength {
			continue
		}
		seen[signer] = true
		proof = append(proof, sig.Signature...)
		count++
		if count == quorum {
			break
		}
	}
	return proof, count
}
