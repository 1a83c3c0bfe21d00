package chain

import (
	"math/big"
	"time"

	goerrors "github.com/go-errors/errors"
	"github.com/interoplabs/intent-relayer/internal/db"
	"gorm.io/gorm"
)

var ErrInsufficientBalance = goerrors.Errorf("insufficient balance")

// Bank is the value-transfer surface of a ledger. Every escrow debit,
// payout and voucher credit goes through here; implementations must be
// atomic per call.
type Bank interface {
	Debit(chain, token, owner string, amount *big.Int) error
	Credit(chain, token, owner string, amount *big.Int) error
	Balance(chain, token, owner string) (*big.Int, error)
}

// LedgerBank is the relayer's authoritative balance view, backed by the
// chain database. Debits are conditional updates inside a transaction so
// concurrent spenders cannot overdraw.
type LedgerBank struct {
	dbm *db.DatabaseManager
}

func NewLedgerBank(dbm *db.DatabaseManager) *LedgerBank {
	return &LedgerBank{dbm: dbm}
}

func (b *LedgerBank) Debit(chain, token, owner string, amount *big.Int) error {
	return b.dbm.GetChainDB().Transaction(func(tx *gorm.DB) error {
		var bal db.TokenBalance
		err := tx.Where("chain = ? AND token = ? AND owner = ?", chain, token, owner).First(&bal).Error
		if err == gorm.ErrRecordNotFound {
			return ErrInsufficientBalance
		}
		if err != nil {
			return goerrors.Wrap(err, 0)
		}
		current, ok := new(big.Int).SetString(bal.Amount, 10)
		if !ok || current.Cmp(amount) < 0 {
			return ErrInsufficientBalance
		}
		bal.Amount = new(big.Int).Sub(current, amount).String()
		bal.UpdatedAt = time.Now()
		return tx.Save(&bal).Error
	})
}

func (b *LedgerBank) Credit(chain, token, owner string, amount *big.Int) error {
	return b.dbm.GetChainDB().Transaction(func(tx *gorm.DB) error {
		var bal db.TokenBalance
		err := tx.Where("chain = ? AND token = ? AND owner = ?", chain, token, owner).First(&bal).Error
		if err == gorm.ErrRecordNotFound {
			bal = db.TokenBalance{Chain: chain, Token: token, Owner: owner, Amount: amount.String(), UpdatedAt: time.Now()}
			return tx.Create(&bal).Error
		}
		if err != nil {
			return goerrors.Wrap(err, 0)
		}
		current, ok := new(big.Int).SetString(bal.Amount, 10)
		if !ok {
			current = new(big.Int)
		}
		bal.Amount = new(big.Int).Add(current, amount).String()
		bal.UpdatedAt = time.Now()
		return tx.Save(&bal).Error
	})
}

func (b *LedgerBank) Balance(chain, token, owner string) (*big.Int, error) {
	var bal db.TokenBalance
	err := b.dbm.GetChainDB().Where("chain = ? AND token = ? AND owner = ?", chain, token, owner).First(&bal).Error
	if err == gorm.ErrRecordNotFound {
		return new(big.Int), nil
	}
	if err != nil {
		return nil, goerrors.Wrap(err, 0)
	}
	amount, ok := new(big.Int).SetString(bal.Amount, 10)
	if !ok {
		return new(big.Int), nil
	}
	return amount, nil
}
