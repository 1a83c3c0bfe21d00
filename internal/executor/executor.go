package executor

import (
	"errors"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/interoplabs/intent-relayer/internal/chain"
	"github.com/interoplabs/intent-relayer/internal/config"
	"github.com/interoplabs/intent-relayer/internal/db"
	"github.com/interoplabs/intent-relayer/internal/registry"
	"github.com/interoplabs/intent-relayer/internal/state"
	"github.com/interoplabs/intent-relayer/internal/types"
	log "github.com/sirupsen/logrus"
)

const ROLE_SOLVER = "solver"

var (
	ErrSolverNotStaked       = errors.New("solver has no active stake")
	ErrChainNotSupported     = errors.New("solver stake does not cover the destination chain")
	ErrInsufficientInventory = errors.New("solver inventory cannot cover the fill")
	ErrOutputBelowMinimum    = errors.New("output amount below intent minimum")
)

// FillExecutor performs the destination-chain leg of a fill: it moves the
// solver's inventory to the user, then races to record the fill. Only
// solvers with active stake covering the destination chain may fill.
type FillExecutor struct {
	state    *state.State
	bank     chain.Bank
	registry *registry.IntentRegistry
}

func NewFillExecutor(st *state.State, bank chain.Bank, reg *registry.IntentRegistry) *FillExecutor {
	return &FillExecutor{
		state:    st,
		bank:     bank,
		registry: reg,
	}
}

// Fill pays the user on the destination chain and records the fill. An
// intent that is no longer open, or past its deadline, is rejected before
// any funds move. If another solver wins between that check and the record,
// the payment is reversed and ErrAlreadyFilled is returned; the caller must
// not retry.
func (e *FillExecutor) Fill(intent *db.Intent, solver common.Address, outputAmount *big.Int) (common.Hash, error) {
	if err := e.gateStake(solver, intent.DestChain); err != nil {
		return common.Hash{}, err
	}

	minOut, ok := types.ParseAmount(intent.MinOutputAmount)
	if !ok || outputAmount.Cmp(minOut) < 0 {
		return common.Hash{}, ErrOutputBelowMinimum
	}

	// a lost race should cost nothing, re-check the intent before any funds
	// move
	current, err := e.state.GetIntentByID(intent.IntentId)
	if err != nil {
		return common.Hash{}, err
	}
	if current.Deadline < time.Now().Unix() {
		return common.Hash{}, registry.ErrIntentExpired
	}
	switch current.Status {
	case types.INTENT_STATUS_OPEN:
	case types.INTENT_STATUS_FILLED:
		return common.Hash{}, state.ErrAlreadyFilled
	case types.INTENT_STATUS_SETTLED:
		return common.Hash{}, state.ErrAlreadySettled
	default:
		return common.Hash{}, state.ErrIntentNotOpen
	}

	err = e.bank.Debit(intent.DestChain, intent.OutputToken, solver.Hex(), outputAmount)
	if err == chain.ErrInsufficientBalance {
		return common.Hash{}, ErrInsufficientInventory
	}
	if err != nil {
		return common.Hash{}, err
	}
	if err := e.bank.Credit(intent.DestChain, intent.OutputToken, intent.User, outputAmount); err != nil {
		if cerr := e.bank.Credit(intent.DestChain, intent.OutputToken, solver.Hex(), outputAmount); cerr != nil {
			log.Errorf("Failed to return inventory to solver %s: %v", solver.Hex(), cerr)
		}
		return common.Hash{}, err
	}

	destTxHash := syntheticTxHash(intent.IntentId, solver)
	_, err = e.registry.RecordFill(common.HexToHash(intent.IntentId), solver, destTxHash, outputAmount)
	if err != nil {
		// lost the race after the pre-check, unwind the payment; if the user
		// already spent the credit the shortfall is booked as a liability
		if derr := e.bank.Debit(intent.DestChain, intent.OutputToken, intent.User, outputAmount); derr != nil {
			log.Errorf("Failed to reverse fill payment for intent %s: %v", intent.IntentId, derr)
			if lerr := e.state.RecordLiability(&db.Liability{
				Chain:    intent.DestChain,
				Token:    intent.OutputToken,
				Debtor:   intent.User,
				Creditor: solver.Hex(),
				Amount:   outputAmount.String(),
				Reason:   "fill race reversal failed",
			}); lerr != nil {
				log.Errorf("Failed to record liability for solver %s: %v", solver.Hex(), lerr)
			}
		} else if cerr := e.bank.Credit(intent.DestChain, intent.OutputToken, solver.Hex(), outputAmount); cerr != nil {
			log.Errorf("Failed to return inventory to solver %s: %v", solver.Hex(), cerr)
		}
		return common.Hash{}, err
	}

	log.WithFields(log.Fields{
		"intentId":   intent.IntentId,
		"solver":     solver.Hex(),
		"destTxHash": destTxHash.Hex(),
		"amount":     outputAmount.String(),
	}).Info("Fill executed on destination chain")
	return destTxHash, nil
}

func (e *FillExecutor) gateStake(solver common.Address, destChain string) error {
	stake, err := e.state.GetStake(solver.Hex(), ROLE_SOLVER)
	if err == state.ErrStakeNotFound {
		return ErrSolverNotStaked
	}
	if err != nil {
		return err
	}
	if stake.Status != "active" {
		return ErrSolverNotStaked
	}
	amount, ok := types.ParseAmount(stake.Amount)
	minStake, _ := types.ParseAmount(config.AppConfig.MinStake)
	if !ok || minStake == nil || amount.Cmp(minStake) < 0 {
		return ErrSolverNotStaked
	}
	if !supportsChain(stake.SupportedChains, destChain) {
		return ErrChainNotSupported
	}
	return nil
}

func supportsChain(supported, chainName string) bool {
	for _, c := range strings.Split(supported, ",") {
		if strings.TrimSpace(c) == chainName {
			return true
		}
	}
	return false
}

// syntheticTxHash stands in for the destination-chain transaction hash of
// the fill transfer.
func syntheticTxHash(intentId string, solver common.Address) common.Hash {
	var buf []byte
	buf = append(buf, []byte(intentId)...)
	buf = append(buf, solver.Bytes()...)
	buf = append(buf, []byte(uuid.New().String())...)
	buf = append(buf, []byte(time.Now().Format(time.RFC3339Nano))...)
	return crypto.Keccak256Hash(buf)
}
