package gasless

import (
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/interoplabs/intent-relayer/internal/db"
	"github.com/interoplabs/intent-relayer/internal/registry"
	"github.com/interoplabs/intent-relayer/internal/types"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

var (
	ErrInvalidSignature      = errors.New("authorization signature does not recover to payer")
	ErrAuthorizationExpired  = errors.New("authorization outside its validity window")
	ErrAuthorizationReplayed = errors.New("authorization nonce already consumed")
	ErrValueMismatch         = errors.New("authorization value does not cover the intent input")
)

// GaslessIntentBridge opens intents on behalf of payers who signed an
// off-chain transfer authorization instead of sending a transaction. The
// bridge burns the nonce before touching funds, so a replayed submission
// can never double-open. An open that fails moves no funds and releases
// the nonce again.
type GaslessIntentBridge struct {
	dbm      *db.DatabaseManager
	registry *registry.IntentRegistry
}

func NewGaslessIntentBridge(dbm *db.DatabaseManager, reg *registry.IntentRegistry) *GaslessIntentBridge {
	return &GaslessIntentBridge{dbm: dbm, registry: reg}
}

// SubmitIntent validates the authorization, consumes its nonce and opens
// the intent with the payer as the escrow holder.
func (g *GaslessIntentBridge) SubmitIntent(auth types.TransferAuthorization, params types.IntentParams) (common.Hash, error) {
	if !auth.VerifySignature() {
		return common.Hash{}, ErrInvalidSignature
	}

	now := time.Now().Unix()
	if now < auth.ValidAfter || now >= auth.ValidBefore {
		return common.Hash{}, ErrAuthorizationExpired
	}

	if auth.Payer != params.User || auth.Token != params.InputToken {
		return common.Hash{}, ErrValueMismatch
	}
	if auth.Value == nil || params.InputAmount == nil || auth.Value.Cmp(params.InputAmount) < 0 {
		return common.Hash{}, ErrValueMismatch
	}

	if err := g.consumeNonce(auth.Payer.Hex(), auth.Nonce.Hex()); err != nil {
		return common.Hash{}, err
	}

	intentId, err := g.registry.Open(params)
	if err != nil {
		// no transfer happened, free the nonce so the payer can retry the
		// same authorization
		log.Warnf("Gasless open failed for payer %s: %v", auth.Payer.Hex(), err)
		if rerr := g.releaseNonce(auth.Payer.Hex(), auth.Nonce.Hex()); rerr != nil {
			log.Errorf("Failed to release nonce for payer %s: %v", auth.Payer.Hex(), rerr)
		}
		return common.Hash{}, err
	}

	log.WithFields(log.Fields{
		"intentId": intentId.Hex(),
		"payer":    auth.Payer.Hex(),
		"nonce":    auth.Nonce.Hex(),
	}).Info("Gasless intent opened")
	return intentId, nil
}

// consumeNonce burns the (payer, nonce) pair. The unique index makes the
// burn first-writer-wins under concurrent submission.
func (g *GaslessIntentBridge) consumeNonce(payer, nonce string) error {
	return g.dbm.GetIntentDB().Transaction(func(tx *gorm.DB) error {
		var existing db.AuthorizationNonce
		err := tx.Where("payer = ? AND nonce = ?", payer, nonce).First(&existing).Error
		if err == nil {
			return ErrAuthorizationReplayed
		}
		if err != gorm.ErrRecordNotFound {
			return err
		}
		return tx.Create(&db.AuthorizationNonce{
			Payer:  payer,
			Nonce:  nonce,
			UsedAt: time.Now(),
		}).Error
	})
}

// releaseNonce frees a burned nonce after an open that moved no funds.
func (g *GaslessIntentBridge) releaseNonce(payer, nonce string) error {
	return g.dbm.GetIntentDB().
		Where("payer = ? AND nonce = ?", payer, nonce).
		Delete(&db.AuthorizationNonce{}).Error
}
