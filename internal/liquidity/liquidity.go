package liquidity

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/interoplabs/intent-relayer/internal/chain"
	"github.com/interoplabs/intent-relayer/internal/config"
	"github.com/interoplabs/intent-relayer/internal/db"
	"github.com/interoplabs/intent-relayer/internal/messenger"
	"github.com/interoplabs/intent-relayer/internal/state"
	"github.com/interoplabs/intent-relayer/internal/types"
	log "github.com/sirupsen/logrus"
)

const ROLE_XLP = "xlp"

var (
	ErrBelowMinStake       = errors.New("stake below the protocol minimum")
	ErrXLPNotStaked        = errors.New("xlp has no active stake")
	ErrChainNotCovered     = errors.New("xlp stake does not cover the chain")
	ErrVoucherCapExceeded  = errors.New("outstanding vouchers would exceed the stake cap")
	ErrDisputeWindowClosed = errors.New("dispute window has closed")
	ErrDepositNotFinal     = errors.New("backing deposit not yet delivered")
)

// DepositPayload is the anchor-chain message body that backs a voucher.
type DepositPayload struct {
	VoucherId string `json:"voucher_id"`
	Chain     string `json:"chain"`
	User      string `json:"user"`
	Amount    string `json:"amount"`
}

// Adjudicator resolves a disputed voucher. Upheld means the voucher was
// unbacked and the XLP gets slashed.
type Adjudicator interface {
	Adjudicate(voucher *db.Voucher) (upheld bool, err error)
}

// LiquidityManager runs the XLP side of the protocol: staked liquidity
// providers front users instant credit on the destination chain, then
// reconcile against the finalized anchor-chain deposit. An XLP that
// fronts more than its stake allows, or fronts against a deposit that
// never finalizes, is slashed.
type LiquidityManager struct {
	state *state.State
	bank  chain.Bank
	msgr  *messenger.Messenger
	adj   Adjudicator
}

func NewLiquidityManager(st *state.State, bank chain.Bank, msgr *messenger.Messenger, adj Adjudicator) *LiquidityManager {
	lm := &LiquidityManager{
		state: st,
		bank:  bank,
		msgr:  msgr,
		adj:   adj,
	}
	if lm.adj == nil {
		lm.adj = &DeliveryAdjudicator{msgr: msgr}
	}
	return lm
}

// Register stakes collateral for a new XLP covering the given chains.
func (lm *LiquidityManager) Register(owner string, chains []string, amount *big.Int) error {
	minStake, _ := types.ParseAmount(config.AppConfig.MinStake)
	if minStake == nil || amount == nil || amount.Cmp(minStake) < 0 {
		return ErrBelowMinStake
	}
	if len(chains) == 0 {
		return ErrChainNotCovered
	}

	return lm.state.CreateStake(&db.Stake{
		Owner:           owner,
		Role:            ROLE_XLP,
		Amount:          amount.String(),
		SupportedChains: strings.Join(chains, ","),
	})
}

// TopUp adds collateral to an existing XLP stake. A slashed XLP that
// recovers above the minimum gets a fresh cooldown; once that elapses a
// further TopUp (or any amount, including a retry) reactivates it.
func (lm *LiquidityManager) TopUp(owner string, amount *big.Int) error {
	minStake, _ := types.ParseAmount(config.AppConfig.MinStake)
	if minStake == nil {
		minStake = new(big.Int)
	}
	if err := lm.state.TopUpStake(owner, ROLE_XLP, amount, minStake, config.AppConfig.StakeCooldown); err != nil {
		return err
	}
	return lm.state.ActivateRecoveredStake(owner, ROLE_XLP, minStake)
}

// IssueVoucher fronts the user instant credit on the destination chain
// against a deposit that is still waiting out source-chain finality. The
// XLP's outstanding vouchers may not exceed its stake times the cap
// multiple.
func (lm *LiquidityManager) IssueVoucher(xlp, chainName, user string, token string, amount *big.Int) (string, error) {
	stake, err := lm.state.GetStake(xlp, ROLE_XLP)
	if err == state.ErrStakeNotFound {
		return "", ErrXLPNotStaked
	}
	if err != nil {
		return "", err
	}
	if stake.Status != "active" {
		return "", ErrXLPNotStaked
	}
	if !supportsChain(stake.SupportedChains, chainName) {
		return "", ErrChainNotCovered
	}

	stakeAmount, ok := types.ParseAmount(stake.Amount)
	if !ok {
		return "", ErrXLPNotStaked
	}
	headroom := new(big.Int).Mul(stakeAmount, big.NewInt(config.AppConfig.VoucherCapMultiple))
	outstanding, err := lm.state.OutstandingVoucherTotal(xlp)
	if err != nil {
		return "", err
	}
	if new(big.Int).Add(outstanding, amount).Cmp(headroom) > 0 {
		return "", ErrVoucherCapExceeded
	}

	// the XLP's own inventory funds the instant credit
	if err := lm.bank.Debit(chainName, token, xlp, amount); err != nil {
		return "", err
	}
	if err := lm.bank.Credit(chainName, token, user, amount); err != nil {
		if cerr := lm.bank.Credit(chainName, token, xlp, amount); cerr != nil {
			log.Errorf("Failed to return voucher funds to xlp %s: %v", xlp, cerr)
		}
		return "", err
	}

	voucherId := uuid.New().String()
	payload, _ := json.Marshal(DepositPayload{
		VoucherId: voucherId,
		Chain:     chainName,
		User:      user,
		Amount:    amount.String(),
	})
	messageId, err := lm.msgr.SendMessage(chainName, config.AppConfig.AnchorChain, xlp, payload)
	if err != nil {
		lm.unwindInstantCredit(chainName, token, xlp, user, amount)
		return "", err
	}

	voucher := &db.Voucher{
		VoucherId:       voucherId,
		Xlp:             xlp,
		Chain:           chainName,
		User:            user,
		Amount:          amount.String(),
		MessageId:       messageId,
		DisputeDeadline: time.Now().Add(config.AppConfig.VoucherDisputeWindow),
	}
	if err := lm.state.AddPendingVoucher(voucher); err != nil {
		lm.unwindInstantCredit(chainName, token, xlp, user, amount)
		return "", err
	}

	log.WithFields(log.Fields{
		"voucherId": voucherId,
		"xlp":       xlp,
		"user":      user,
		"amount":    amount.String(),
	}).Info("Voucher issued")
	return voucherId, nil
}

// unwindInstantCredit pulls a fronted credit back from the user after the
// voucher could not be recorded. Without a voucher row there would be
// nothing to reconcile, dispute or slash against.
func (lm *LiquidityManager) unwindInstantCredit(chainName, token, xlp, user string, amount *big.Int) {
	if err := lm.bank.Debit(chainName, token, user, amount); err != nil {
		log.Errorf("Failed to reverse instant credit for user %s: %v", user, err)
		return
	}
	if err := lm.bank.Credit(chainName, token, xlp, amount); err != nil {
		log.Errorf("Failed to return voucher funds to xlp %s: %v", xlp, err)
	}
}

// Reconcile closes a voucher once its backing deposit message has cleared
// finality on the anchor chain. The XLP is made whole from the deposit.
func (lm *LiquidityManager) Reconcile(voucherId string) error {
	voucher, err := lm.state.GetVoucherByID(voucherId)
	if err != nil {
		return err
	}

	status, err := lm.msgr.DeliveryStatus(voucher.MessageId)
	if err != nil {
		return err
	}
	if status != messenger.STATUS_DELIVERED {
		return ErrDepositNotFinal
	}

	if err := lm.state.MarkVoucherClaimed(voucherId); err != nil {
		return err
	}

	amount, ok := types.ParseAmount(voucher.Amount)
	if ok {
		if err := lm.bank.Credit(config.AppConfig.AnchorChain, "deposit", voucher.Xlp, amount); err != nil {
			log.Errorf("Failed to repay xlp %s for voucher %s: %v", voucher.Xlp, voucherId, err)
		}
	}

	log.Infof("Voucher %s reconciled for xlp %s", voucherId, voucher.Xlp)
	return nil
}

// Dispute flags a pending voucher inside its dispute window and resolves
// it through the adjudicator.
func (lm *LiquidityManager) Dispute(voucherId string) error {
	voucher, err := lm.state.GetVoucherByID(voucherId)
	if err != nil {
		return err
	}
	if time.Now().After(voucher.DisputeDeadline) {
		return ErrDisputeWindowClosed
	}

	if err := lm.state.MarkVoucherDisputed(voucherId); err != nil {
		return err
	}

	upheld, err := lm.adj.Adjudicate(voucher)
	if err != nil {
		log.Errorf("Adjudication failed for voucher %s: %v", voucherId, err)
		return err
	}
	if !upheld {
		log.Infof("Dispute rejected for voucher %s", voucherId)
		return lm.state.ReopenDisputedVoucher(voucherId)
	}
	return lm.slash(voucher)
}

// slash punishes the XLP for an unbacked voucher. The slashed collateral
// compensates the user on the voucher's chain.
func (lm *LiquidityManager) slash(voucher *db.Voucher) error {
	amount, ok := types.ParseAmount(voucher.Amount)
	if !ok {
		amount = new(big.Int)
	}
	minStake, _ := types.ParseAmount(config.AppConfig.MinStake)
	if minStake == nil {
		minStake = new(big.Int)
	}

	applied, err := lm.state.ReduceStake(voucher.Xlp, ROLE_XLP, amount, minStake, "unbacked voucher", voucher.VoucherId)
	if err != nil {
		return err
	}
	if err := lm.state.MarkVoucherSlashed(voucher.VoucherId); err != nil {
		return err
	}

	if applied.Sign() > 0 {
		if err := lm.bank.Credit(voucher.Chain, "deposit", voucher.User, applied); err != nil {
			log.Errorf("Failed to compensate user %s from slash: %v", voucher.User, err)
		}
	}

	log.WithFields(log.Fields{
		"voucherId": voucher.VoucherId,
		"xlp":       voucher.Xlp,
		"slashed":   applied.String(),
	}).Warn("XLP slashed for unbacked voucher")
	return nil
}

func (lm *LiquidityManager) Start(ctx context.Context) {
	go lm.reconcileLoop(ctx)
	go lm.pruneLoop(ctx)
}

// reconcileLoop sweeps pending vouchers whose backing deposit has been
// delivered, and pushes unbacked ones past their dispute window through
// adjudication.
func (lm *LiquidityManager) reconcileLoop(ctx context.Context) {
	ticker := time.NewTicker(config.AppConfig.MessengerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("Liquidity manager stopping...")
			return
		case <-ticker.C:
			lm.sweepPending()
		}
	}
}

func (lm *LiquidityManager) sweepPending() {
	pending, err := lm.state.GetVouchersByStatus("pending")
	if err != nil {
		log.Errorf("Failed to query pending vouchers: %v", err)
		return
	}
	for _, voucher := range pending {
		err := lm.Reconcile(voucher.VoucherId)
		if err == nil {
			continue
		}
		if err == ErrDepositNotFinal {
			if time.Now().After(voucher.DisputeDeadline) {
				lm.expireVoucher(voucher)
			}
			continue
		}
		log.Errorf("Failed to reconcile voucher %s: %v", voucher.VoucherId, err)
	}
}

// expireVoucher resolves a voucher whose backing deposit did not clear
// within the dispute window. The adjudicator decides whether the XLP is
// slashed; a voucher it clears stays pending for a later reconcile.
func (lm *LiquidityManager) expireVoucher(voucher *db.Voucher) {
	upheld, err := lm.adj.Adjudicate(voucher)
	if err != nil {
		log.Errorf("Adjudication failed for expired voucher %s: %v", voucher.VoucherId, err)
		return
	}
	if !upheld {
		return
	}
	if err := lm.state.MarkVoucherDisputed(voucher.VoucherId); err != nil {
		log.Errorf("Failed to mark expired voucher %s disputed: %v", voucher.VoucherId, err)
		return
	}
	if err := lm.slash(voucher); err != nil {
		log.Errorf("Failed to slash xlp %s for expired voucher %s: %v", voucher.Xlp, voucher.VoucherId, err)
	}
}

func (lm *LiquidityManager) pruneLoop(ctx context.Context) {
	ticker := time.NewTicker(config.AppConfig.PruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			before := time.Now().Add(-config.AppConfig.RetentionWindow)
			pruned, err := lm.state.PruneTerminalVouchers(before)
			if err != nil {
				log.Errorf("Failed to prune terminal vouchers: %v", err)
				continue
			}
			if pruned > 0 {
				log.Infof("Pruned %d terminal vouchers older than %v", pruned, before)
			}
		}
	}
}

func supportsChain(supported, chainName string) bool {
	for _, c := range strings.Split(supported, ",") {
		if strings.TrimSpace(c) == chainName {
			return true
		}
	}
	return false
}

// DeliveryAdjudicator upholds a dispute when the voucher's backing deposit
// message does not exist or was never sent by the voucher's XLP.
type DeliveryAdjudicator struct {
	msgr *messenger.Messenger
}

func NewDeliveryAdjudicator(msgr *messenger.Messenger) *DeliveryAdjudicator {
	return &DeliveryAdjudicator{msgr: msgr}
}

func (a *DeliveryAdjudicator) Adjudicate(voucher *db.Voucher) (bool, error) {
	msg, err := a.msgr.GetMessage(voucher.MessageId)
	if err == messenger.ErrMessageNotFound {
		return true, nil
	}
	if err != nil {
		return false, err
	}

	var payload DepositPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		return true, nil
	}
	if payload.VoucherId != voucher.VoucherId ||
		!strings.EqualFold(payload.User, voucher.User) ||
		payload.Amount != voucher.Amount {
		return true, nil
	}
	return false, nil
}
