package oracle

import (
	"encoding/json"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	goerrors "github.com/go-errors/errors"
	"github.com/interoplabs/intent-relayer/internal/messenger"
)

// AttestationPayload is the body of a cross-domain attestation message
// sent by the trusted remote registry.
type AttestationPayload struct {
	IntentId string `json:"intent_id"`
	FillHash string `json:"fill_hash"`
}

// RelayedVerifier accepts a proof that names a delivered cross-domain
// message from the trusted sender whose payload binds the fill. The proof
// bytes are the message id.
type RelayedVerifier struct {
	msgr          *messenger.Messenger
	trustedSender string
}

func NewRelayedVerifier(msgr *messenger.Messenger, trustedSender string) *RelayedVerifier {
	return &RelayedVerifier{msgr: msgr, trustedSender: trustedSender}
}

func (v *RelayedVerifier) Strategy() string {
	return STRATEGY_RELAYED
}

func (v *RelayedVerifier) Verify(intentId, fillHash common.Hash, proof []byte) error {
	if len(proof) == 0 {
		return ErrBadProof
	}

	msg, err := v.msgr.GetMessage(string(proof))
	if err == messenger.ErrMessageNotFound {
		return ErrBadProof
	}
	if err != nil {
		return goerrors.Wrap(err, 0)
	}

	if !strings.EqualFold(msg.Sender, v.trustedSender) {
		return ErrUntrustedSender
	}
	if msg.Status != messenger.STATUS_DELIVERED {
		return ErrMessagePending
	}

	var payload AttestationPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return ErrBadProof
	}
	if !strings.EqualFold(payload.IntentId, intentId.Hex()) ||
		!strings.EqualFold(payload.FillHash, fillHash.Hex()) {
		return ErrFillHashMismatch
	}
	return nil
}

// RelayedSource waits for the trusted sender's attestation message to
// clear the finality delay, then hands out its id as the proof.
type RelayedSource struct {
	msgr          *messenger.Messenger
	trustedSender string
}

func NewRelayedSource(msgr *messenger.Messenger, trustedSender string) *RelayedSource {
	return &RelayedSource{msgr: msgr, trustedSender: trustedSender}
}

func (s *RelayedSource) Strategy() string {
	return STRATEGY_RELAYED
}

func (s *RelayedSource) ProofFor(intentId, fillHash common.Hash) ([]byte, bool, error) {
	msgs, err := s.msgr.GetDeliveredBySender(s.trustedSender)
	if err != nil {
		return nil, false, err
	}
	for _, msg := range msgs {
		var payload AttestationPayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			continue
		}
		if strings.EqualFold(payload.IntentId, intentId.Hex()) &&
			strings.EqualFold(payload.FillHash, fillHash.Hex()) {
			return []byte(msg.MessageId), true, nil
		}
	}
	return nil, false, nil
}
