package chain

import (
	"math/big"
	"testing"

	"github.com/interoplabs/intent-relayer/internal/config"
	"github.com/interoplabs/intent-relayer/internal/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBank(t *testing.T) *LedgerBank {
	config.AppConfig.DbDir = t.TempDir()
	return NewLedgerBank(db.NewDatabaseManager())
}

func TestCreditAndBalance(t *testing.T) {
	bank := newTestBank(t)

	require.NoError(t, bank.Credit("chainA", "0xtoken", "0xowner", big.NewInt(100)))
	require.NoError(t, bank.Credit("chainA", "0xtoken", "0xowner", big.NewInt(50)))

	balance, err := bank.Balance("chainA", "0xtoken", "0xowner")
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(150), balance)
}

func TestDebitRequiresFunds(t *testing.T) {
	bank := newTestBank(t)

	assert.Equal(t, ErrInsufficientBalance, bank.Debit("chainA", "0xtoken", "0xowner", big.NewInt(1)))

	require.NoError(t, bank.Credit("chainA", "0xtoken", "0xowner", big.NewInt(100)))
	assert.Equal(t, ErrInsufficientBalance, bank.Debit("chainA", "0xtoken", "0xowner", big.NewInt(101)))

	require.NoError(t, bank.Debit("chainA", "0xtoken", "0xowner", big.NewInt(100)))
	balance, err := bank.Balance("chainA", "0xtoken", "0xowner")
	require.NoError(t, err)
	assert.Equal(t, 0, balance.Sign())
}

func TestBalancesAreScopedByChainAndToken(t *testing.T) {
	bank := newTestBank(t)

	require.NoError(t, bank.Credit("chainA", "0xtoken", "0xowner", big.NewInt(100)))

	balance, err := bank.Balance("chainB", "0xtoken", "0xowner")
	require.NoError(t, err)
	assert.Equal(t, 0, balance.Sign())

	balance, err = bank.Balance("chainA", "0xother", "0xowner")
	require.NoError(t, err)
	assert.Equal(t, 0, balance.Sign())
}

func TestBalanceForUnknownOwnerIsZero(t *testing.T) {
	bank := newTestBank(t)

	balance, err := bank.Balance("chainA", "0xtoken", "0xnobody")
	require.NoError(t, err)
	assert.Equal(t, 0, balance.Sign())
}
