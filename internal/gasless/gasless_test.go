package gasless

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/interoplabs/intent-relayer/internal/chain"
	"github.com/interoplabs/intent-relayer/internal/config"
	"github.com/interoplabs/intent-relayer/internal/db"
	"github.com/interoplabs/intent-relayer/internal/oracle"
	"github.com/interoplabs/intent-relayer/internal/registry"
	"github.com/interoplabs/intent-relayer/internal/state"
	"github.com/interoplabs/intent-relayer/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const payerKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

var attesterKeys = []string{
	"59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d",
	"5de4111afa1a4b94908f83103eb1f1706367c2e68ca870fc3fb9a804cdab365a",
}

type testEnv struct {
	bank   chain.Bank
	bridge *GaslessIntentBridge
	payer  common.Address
}

func newTestEnv(t *testing.T) *testEnv {
	config.AppConfig.DbDir = t.TempDir()
	config.AppConfig.ProtocolFeeBps = 10

	var attesters []string
	for _, k := range attesterKeys {
		key, err := crypto.HexToECDSA(k)
		require.NoError(t, err)
		attesters = append(attesters, crypto.PubkeyToAddress(key.PublicKey).Hex())
	}

	dbm := db.NewDatabaseManager()
	st := state.InitializeState(dbm)
	bank := chain.NewLedgerBank(dbm)
	reg := registry.NewIntentRegistry(st, bank, oracle.NewQuorumVerifier(attesters, 2))

	key, err := crypto.HexToECDSA(payerKey)
	require.NoError(t, err)

	return &testEnv{
		bank:   bank,
		bridge: NewGaslessIntentBridge(dbm, reg),
		payer:  crypto.PubkeyToAddress(key.PublicKey),
	}
}

func (env *testEnv) params(nonce uint64) types.IntentParams {
	return types.IntentParams{
		SourceChain:     "source",
		User:            env.payer,
		InputToken:      common.HexToAddress("0x2222222222222222222222222222222222222222"),
		InputAmount:     big.NewInt(1000000),
		DestChain:       "dest",
		OutputToken:     common.HexToAddress("0x3333333333333333333333333333333333333333"),
		MinOutputAmount: big.NewInt(990000),
		Deadline:        time.Now().Add(time.Hour).Unix(),
		Nonce:           nonce,
	}
}

func (env *testEnv) auth(t *testing.T, params types.IntentParams, authNonce string) types.TransferAuthorization {
	auth := types.TransferAuthorization{
		Payer:       env.payer,
		Payee:       common.HexToAddress("0x4444444444444444444444444444444444444444"),
		Token:       params.InputToken,
		Value:       new(big.Int).Set(params.InputAmount),
		ValidAfter:  0,
		ValidBefore: time.Now().Add(time.Hour).Unix(),
		Nonce:       common.HexToHash(authNonce),
	}
	require.NoError(t, auth.Sign(payerKey))
	return auth
}

func TestSubmitIntentOpensWithPayerFunds(t *testing.T) {
	env := newTestEnv(t)
	params := env.params(1)
	require.NoError(t, env.bank.Credit("source", params.InputToken.Hex(), env.payer.Hex(), big.NewInt(1000000)))

	intentId, err := env.bridge.SubmitIntent(env.auth(t, params, "0x01"), params)
	require.NoError(t, err)
	assert.Equal(t, types.IntentID(params), intentId)

	balance, err := env.bank.Balance("source", params.InputToken.Hex(), env.payer.Hex())
	require.NoError(t, err)
	assert.Equal(t, 0, balance.Sign())
}

func TestSubmitIntentRejectsReplay(t *testing.T) {
	env := newTestEnv(t)
	params := env.params(1)
	require.NoError(t, env.bank.Credit("source", params.InputToken.Hex(), env.payer.Hex(), big.NewInt(5000000)))

	_, err := env.bridge.SubmitIntent(env.auth(t, params, "0x01"), params)
	require.NoError(t, err)

	// same nonce, different intent
	params2 := env.params(2)
	_, err = env.bridge.SubmitIntent(env.auth(t, params2, "0x01"), params2)
	assert.Equal(t, ErrAuthorizationReplayed, err)

	// fresh nonce goes through
	_, err = env.bridge.SubmitIntent(env.auth(t, params2, "0x02"), params2)
	assert.NoError(t, err)
}

func TestSubmitIntentReleasesNonceWhenOpenFails(t *testing.T) {
	env := newTestEnv(t)
	params := env.params(1)

	// the payer has no funds, the open fails after the nonce burn
	auth := env.auth(t, params, "0x01")
	_, err := env.bridge.SubmitIntent(auth, params)
	assert.Equal(t, registry.ErrInsufficientFunds, err)

	// no funds moved, so the same authorization works once funded
	require.NoError(t, env.bank.Credit("source", params.InputToken.Hex(), env.payer.Hex(), big.NewInt(1000000)))
	_, err = env.bridge.SubmitIntent(auth, params)
	assert.NoError(t, err)
}

func TestSubmitIntentRejectsBadSignature(t *testing.T) {
	env := newTestEnv(t)
	params := env.params(1)

	auth := env.auth(t, params, "0x01")
	auth.Value = big.NewInt(2000000) // tamper after signing
	_, err := env.bridge.SubmitIntent(auth, params)
	assert.Equal(t, ErrInvalidSignature, err)
}

func TestSubmitIntentRejectsExpiredWindow(t *testing.T) {
	env := newTestEnv(t)
	params := env.params(1)

	auth := types.TransferAuthorization{
		Payer:       env.payer,
		Payee:       common.HexToAddress("0x44"),
		Token:       params.InputToken,
		Value:       new(big.Int).Set(params.InputAmount),
		ValidAfter:  0,
		ValidBefore: time.Now().Add(-time.Minute).Unix(),
		Nonce:       common.HexToHash("0x01"),
	}
	require.NoError(t, auth.Sign(payerKey))

	_, err := env.bridge.SubmitIntent(auth, params)
	assert.Equal(t, ErrAuthorizationExpired, err)

	auth.ValidAfter = time.Now().Add(time.Hour).Unix()
	auth.ValidBefore = time.Now().Add(2 * time.Hour).Unix()
	require.NoError(t, auth.Sign(payerKey))

	_, err = env.bridge.SubmitIntent(auth, params)
	assert.Equal(t, ErrAuthorizationExpired, err)
}

func TestSubmitIntentRejectsValueMismatch(t *testing.T) {
	env := newTestEnv(t)
	params := env.params(1)

	auth := env.auth(t, params, "0x01")
	auth.Value = big.NewInt(1)
	require.NoError(t, auth.Sign(payerKey))

	_, err := env.bridge.SubmitIntent(auth, params)
	assert.Equal(t, ErrValueMismatch, err)

	// payer must match the intent user
	auth = env.auth(t, params, "0x02")
	params.User = common.HexToAddress("0x9999999999999999999999999999999999999999")
	_, err = env.bridge.SubmitIntent(auth, params)
	assert.Equal(t, ErrValueMismatch, err)
}
