package registry

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/interoplabs/intent-relayer/internal/chain"
	"github.com/interoplabs/intent-relayer/internal/config"
	"github.com/interoplabs/intent-relayer/internal/db"
	"github.com/interoplabs/intent-relayer/internal/oracle"
	"github.com/interoplabs/intent-relayer/internal/state"
	"github.com/interoplabs/intent-relayer/internal/types"
	log "github.com/sirupsen/logrus"
)

// FeeCollector is the ledger account protocol fees accrue to.
const FeeCollector = "protocol-fee-collector"

var (
	ErrInvalidIntent      = errors.New("invalid intent parameters")
	ErrInsufficientFunds  = errors.New("insufficient funds to escrow")
	ErrIntentExpired      = errors.New("intent deadline passed")
	ErrIntentNotExpired   = errors.New("intent deadline not reached")
	ErrInvalidAttestation = errors.New("attestation does not verify")
	ErrOracleMismatch     = errors.New("attestation strategy mismatch")
)

// IntentRegistry is the source-chain half of the protocol: it escrows
// input value when an intent opens, records the winning fill, and releases
// escrow to the solver once the oracle attests the fill.
type IntentRegistry struct {
	state    *state.State
	bank     chain.Bank
	verifier oracle.Verifier
}

func NewIntentRegistry(st *state.State, bank chain.Bank, verifier oracle.Verifier) *IntentRegistry {
	return &IntentRegistry{
		state:    st,
		bank:     bank,
		verifier: verifier,
	}
}

// Open escrows the user's input and opens the intent. The returned id is
// the content hash of the parameters, so the same request is idempotent.
func (r *IntentRegistry) Open(params types.IntentParams) (common.Hash, error) {
	if err := validateParams(params); err != nil {
		return common.Hash{}, err
	}

	intentId := types.IntentID(params)

	// already open or beyond, re-submission is a no-op
	if _, err := r.state.GetIntentByID(intentId.Hex()); err == nil {
		return intentId, nil
	}

	err := r.bank.Debit(params.SourceChain, params.InputToken.Hex(), params.User.Hex(), params.InputAmount)
	if err == chain.ErrInsufficientBalance {
		return common.Hash{}, ErrInsufficientFunds
	}
	if err != nil {
		return common.Hash{}, err
	}

	intent := &db.Intent{
		IntentId:        intentId.Hex(),
		SourceChain:     params.SourceChain,
		User:            params.User.Hex(),
		InputToken:      params.InputToken.Hex(),
		InputAmount:     params.InputAmount.String(),
		DestChain:       params.DestChain,
		OutputToken:     params.OutputToken.Hex(),
		MinOutputAmount: params.MinOutputAmount.String(),
		Deadline:        params.Deadline,
		Nonce:           params.Nonce,
	}
	escrow := &db.EscrowEntry{
		Token:  params.InputToken.Hex(),
		Amount: params.InputAmount.String(),
		Holder: params.User.Hex(),
	}
	created, err := r.state.AddOpenIntent(intent, escrow)
	if err != nil {
		// return the debit, the open never happened
		if cerr := r.bank.Credit(params.SourceChain, params.InputToken.Hex(), params.User.Hex(), params.InputAmount); cerr != nil {
			log.Errorf("Failed to return escrow debit for intent %s: %v", intentId.Hex(), cerr)
		}
		return common.Hash{}, err
	}
	if !created {
		// a concurrent duplicate won the insert; only its debit is escrowed,
		// return ours
		if cerr := r.bank.Credit(params.SourceChain, params.InputToken.Hex(), params.User.Hex(), params.InputAmount); cerr != nil {
			log.Errorf("Failed to return duplicate escrow debit for intent %s: %v", intentId.Hex(), cerr)
		}
		return intentId, nil
	}

	log.WithFields(log.Fields{
		"intentId": intentId.Hex(),
		"user":     params.User.Hex(),
		"amount":   params.InputAmount.String(),
	}).Info("Intent opened")
	return intentId, nil
}

func validateParams(params types.IntentParams) error {
	if params.SourceChain == "" || params.DestChain == "" || params.SourceChain == params.DestChain {
		return ErrInvalidIntent
	}
	if params.InputAmount == nil || params.InputAmount.Sign() <= 0 {
		return ErrInvalidIntent
	}
	if params.MinOutputAmount == nil || params.MinOutputAmount.Sign() <= 0 {
		return ErrInvalidIntent
	}
	if params.Deadline <= time.Now().Unix() {
		return ErrInvalidIntent
	}
	return nil
}

// RecordFill claims the exclusive right to settle an intent. Exactly one
// solver wins; losers get ErrAlreadyFilled and must not retry.
func (r *IntentRegistry) RecordFill(intentId common.Hash, solver common.Address, destTxHash common.Hash, outputAmount *big.Int) (common.Hash, error) {
	intent, err := r.state.GetIntentByID(intentId.Hex())
	if err != nil {
		return common.Hash{}, err
	}
	if intent.Status == types.INTENT_STATUS_OPEN && intent.Deadline < time.Now().Unix() {
		return common.Hash{}, ErrIntentExpired
	}
	minOut, ok := types.ParseAmount(intent.MinOutputAmount)
	if !ok || outputAmount == nil || outputAmount.Cmp(minOut) < 0 {
		return common.Hash{}, ErrInvalidIntent
	}

	fillHash := types.FillHash(intentId, solver, destTxHash, outputAmount)
	fill := &db.Fill{
		IntentId:     intentId.Hex(),
		Solver:       solver.Hex(),
		DestTxHash:   destTxHash.Hex(),
		OutputAmount: outputAmount.String(),
		FillHash:     fillHash.Hex(),
	}
	if err := r.state.MarkIntentFilled(fill); err != nil {
		return common.Hash{}, err
	}

	log.WithFields(log.Fields{
		"intentId": intentId.Hex(),
		"solver":   solver.Hex(),
		"fillHash": fillHash.Hex(),
	}).Info("Fill recorded")
	return fillHash, nil
}

// Settle releases escrow to the solver against a verified attestation.
// The proof must bind the exact fill that was recorded, under the strategy
// this registry is configured for.
func (r *IntentRegistry) Settle(intentId common.Hash, strategy string, proof []byte) error {
	if strategy != r.verifier.Strategy() {
		return ErrOracleMismatch
	}

	intent, err := r.state.GetIntentByID(intentId.Hex())
	if err != nil {
		return err
	}
	if intent.Status == types.INTENT_STATUS_SETTLED {
		return state.ErrAlreadySettled
	}
	if intent.Deadline < time.Now().Unix() {
		// the claim window closed with the deadline, only a refund remains
		return ErrIntentExpired
	}

	fill, err := r.state.GetFillByIntent(intentId.Hex())
	if err != nil {
		return err
	}

	fillHash := common.HexToHash(fill.FillHash)
	if err := r.verifier.Verify(intentId, fillHash, proof); err != nil {
		log.Warnf("Attestation rejected for intent %s: %v", intentId.Hex(), err)
		return ErrInvalidAttestation
	}

	inputAmount, ok := types.ParseAmount(intent.InputAmount)
	if !ok {
		return ErrInvalidIntent
	}
	fee := protocolFee(inputAmount)
	payout := new(big.Int).Sub(inputAmount, fee)

	att := &db.Attestation{
		IntentId: intentId.Hex(),
		FillHash: fill.FillHash,
		Strategy: strategy,
		Proof:    proof,
	}
	if err := r.state.MarkIntentSettled(att, fill.Solver, fee.String()); err != nil {
		return err
	}

	if err := r.bank.Credit(intent.SourceChain, intent.InputToken, fill.Solver, payout); err != nil {
		log.Errorf("Failed to credit solver %s for intent %s: %v", fill.Solver, intentId.Hex(), err)
	}
	if fee.Sign() > 0 {
		if err := r.bank.Credit(intent.SourceChain, intent.InputToken, FeeCollector, fee); err != nil {
			log.Errorf("Failed to credit protocol fee for intent %s: %v", intentId.Hex(), err)
		}
	}

	log.WithFields(log.Fields{
		"intentId": intentId.Hex(),
		"solver":   fill.Solver,
		"payout":   payout.String(),
		"fee":      fee.String(),
	}).Info("Intent settled")
	return nil
}

// protocolFee computes the basis-point cut withheld from the solver payout.
func protocolFee(amount *big.Int) *big.Int {
	fee := new(big.Int).Mul(amount, big.NewInt(config.AppConfig.ProtocolFeeBps))
	return fee.Div(fee, big.NewInt(10000))
}

// Refund returns escrow to the user once the deadline has passed. A filled
// intent refunds too; its claim window closed with the deadline. Refunding
// twice is a no-op.
func (r *IntentRegistry) Refund(intentId common.Hash) error {
	intent, err := r.state.GetIntentByID(intentId.Hex())
	if err != nil {
		return err
	}
	if (intent.Status == types.INTENT_STATUS_OPEN || intent.Status == types.INTENT_STATUS_FILLED) &&
		intent.Deadline >= time.Now().Unix() {
		return ErrIntentNotExpired
	}

	refunded, err := r.state.MarkIntentRefunded(intentId.Hex())
	if err != nil {
		return err
	}
	if !refunded {
		return nil
	}

	amount, ok := types.ParseAmount(intent.InputAmount)
	if !ok {
		return ErrInvalidIntent
	}
	if err := r.bank.Credit(intent.SourceChain, intent.InputToken, intent.User, amount); err != nil {
		log.Errorf("Failed to credit refund for intent %s: %v", intentId.Hex(), err)
	}
	log.Infof("Intent %s refunded to %s", intentId.Hex(), intent.User)
	return nil
}

func (r *IntentRegistry) Start(ctx context.Context) {
	go r.refundLoop(ctx)
	go r.pruneLoop(ctx)
}

// refundLoop sweeps expired intents so users get their escrow back without
// having to call refund themselves. Filled intents past their deadline are
// swept too, their claim can no longer land.
func (r *IntentRegistry) refundLoop(ctx context.Context) {
	ticker := time.NewTicker(config.AppConfig.SolverPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("Registry refund sweep stopping...")
			return
		case <-ticker.C:
			expired, err := r.state.GetExpiredRefundableIntents(time.Now().Unix())
			if err != nil {
				log.Errorf("Failed to query expired intents: %v", err)
				continue
			}
			for _, intent := range expired {
				if err := r.Refund(common.HexToHash(intent.IntentId)); err != nil {
					log.Errorf("Failed to refund expired intent %s: %v", intent.IntentId, err)
				}
			}
		}
	}
}

func (r *IntentRegistry) pruneLoop(ctx context.Context) {
	ticker := time.NewTicker(config.AppConfig.PruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			before := time.Now().Add(-config.AppConfig.RetentionWindow)
			pruned, err := r.state.PruneTerminalIntents(before)
			if err != nil {
				log.Errorf("Failed to prune terminal intents: %v", err)
				continue
			}
			if pruned > 0 {
				log.Infof("Pruned %d terminal intents older than %v", pruned, before)
			}
		}
	}
}
