package oracle

import (
	"context"
	"crypto/ecdsa"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	goerrors "github.com/go-errors/errors"
	"github.com/interoplabs/intent-relayer/internal/config"
	"github.com/interoplabs/intent-relayer/internal/db"
	"github.com/interoplabs/intent-relayer/internal/state"
	log "github.com/sirupsen/logrus"
)

// SignatureMessage is the gossip payload attesters exchange.
type SignatureMessage struct {
	IntentId  string `json:"intent_id"`
	FillHash  string `json:"fill_hash"`
	Signer    string `json:"signer"`
	Signature []byte `json:"signature"`
}

// Gossiper broadcasts an attester signature to peers.
type Gossiper interface {
	PublishSignature(msg SignatureMessage) error
}

// Attester signs every fill it observes and collects peer signatures
// until the quorum is met.
type Attester struct {
	state    *state.State
	verifier *QuorumVerifier
	gossip   Gossiper

	privKey *ecdsa.PrivateKey
	signer  common.Address

	fillCh chan interface{}
}

func NewAttester(st *state.State, verifier *QuorumVerifier, gossip Gossiper) *Attester {
	privKey, err := crypto.HexToECDSA(config.AppConfig.AttesterPriKey)
	if err != nil {
		log.Fatalf("Invalid attester private key: %v", err)
	}
	signer := crypto.PubkeyToAddress(privKey.PublicKey)
	if !verifier.attesters[signer] {
		log.Fatalf("Attester %s is not in the configured attester set", signer.Hex())
	}

	return &Attester{
		state:    st,
		verifier: verifier,
		gossip:   gossip,
		privKey:  privKey,
		signer:   signer,
		fillCh:   make(chan interface{}, 256),
	}
}

func (a *Attester) Signer() common.Address {
	return a.signer
}

// SetGossiper wires the broadcast transport after construction, breaking
// the chicken-and-egg between the attester and the p2p service.
func (a *Attester) SetGossiper(g Gossiper) {
	a.gossip = g
}

func (a *Attester) Start(ctx context.Context) {
	a.state.EventBus.Subscribe(state.IntentFilled, a.fillCh)

	// sign fills that landed while we were down
	if err := a.signPendingFills(); err != nil {
		log.Errorf("Attester catch-up failed: %v", err)
	}

	go a.run(ctx)
}

func (a *Attester) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			log.Info("Attester stopping...")
			return
		case data := <-a.fillCh:
			fill, ok := data.(db.Fill)
			if !ok {
				log.Errorf("Attester received unexpected event payload %T", data)
				continue
			}
			if err := a.attestFill(&fill); err != nil {
				log.Errorf("Failed to attest fill for intent %s: %v", fill.IntentId, err)
			}
		}
	}
}

func (a *Attester) signPendingFills() error {
	filled, err := a.state.GetIntentsByStatus("filled")
	if err != nil {
		return err
	}
	for _, intent := range filled {
		fill, err := a.state.GetFillByIntent(intent.IntentId)
		if err != nil {
			log.Errorf("No fill row for filled intent %s: %v", intent.IntentId, err)
			continue
		}
		if err := a.attestFill(fill); err != nil {
			log.Errorf("Failed to attest fill for intent %s: %v", intent.IntentId, err)
		}
	}
	return nil
}

func (a *Attester) attestFill(fill *db.Fill) error {
	digest := AttestDigest(common.HexToHash(fill.IntentId), common.HexToHash(fill.FillHash))
	signature, err := crypto.Sign(digest.Bytes(), a.privKey)
	if err != nil {
		return goerrors.Wrap(err, 0)
	}

	err = a.state.AddAttesterSignature(&db.AttesterSignature{
		FillHash:  fill.FillHash,
		Signer:    a.signer.Hex(),
		Signature: signature,
	})
	if err != nil {
		return err
	}

	log.WithFields(log.Fields{
		"intentId": fill.IntentId,
		"fillHash": fill.FillHash,
		"signer":   a.signer.Hex(),
	}).Info("Signed fill attestation")

	if a.gossip != nil {
		msg := SignatureMessage{
			IntentId:  fill.IntentId,
			FillHash:  fill.FillHash,
			Signer:    a.signer.Hex(),
			Signature: signature,
		}
		if err := a.gossip.PublishSignature(msg); err != nil {
			log.Errorf("Failed to gossip signature for fill %s: %v", fill.FillHash, err)
		}
	}

	return a.checkQuorum(fill.IntentId, fill.FillHash)
}

// HandleRemoteSignature ingests a peer's gossiped signature after checking
// it recovers to a member of the attester set.
func (a *Attester) HandleRemoteSignature(msg SignatureMessage) error {
	if len(msg.Signature) != signatureLength {
		return ErrBadProof
	}
	digest := AttestDigest(common.HexToHash(msg.IntentId), common.HexToHash(msg.FillHash))
	pubKey, err := crypto.SigToPub(digest.Bytes(), msg.Signature)
	if err != nil {
		return ErrBadProof
	}
	signer := crypto.PubkeyToAddress(*pubKey)
	if !a.verifier.attesters[signer] {
		return ErrUnknownAttester
	}
	if !strings.EqualFold(signer.Hex(), msg.Signer) {
		return ErrBadProof
	}

	err = a.state.AddAttesterSignature(&db.AttesterSignature{
		FillHash:  msg.FillHash,
		Signer:    signer.Hex(),
		Signature: msg.Signature,
	})
	if err != nil {
		return err
	}
	return a.checkQuorum(msg.IntentId, msg.FillHash)
}

func (a *Attester) checkQuorum(intentId, fillHash string) error {
	sigs, err := a.state.GetAttesterSignatures(fillHash)
	if err != nil {
		return err
	}
	_, count := assembleProof(sigs, a.verifier.attesters, a.verifier.quorum)
	if count >= a.verifier.quorum {
		log.Infof("Quorum reached for intent %s with %d signatures", intentId, count)
		a.state.EventBus.Publish(state.AttestationReady, intentId)
	}
	return nil
}
