package executor

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

var attesterKeys = []string{
	"ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80",
	"59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d",
}

type testEnv struct {
	dbm      *db.DatabaseManager
	state    *state.State
	bank     chain.Bank
	registry *registry.IntentRegistry
	executor *FillExecutor
	solver   common.Address
}

func newTestEnv(t *testing.T) *testEnv {
	config.AppConfig.DbDir = t.TempDir()
	config.AppConfig.ProtocolFeeBps = 10
	config.AppConfig.MinStake = "1000"

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

	return &testEnv{
		dbm:      dbm,
		state:    st,
		bank:     bank,
		registry: reg,
		executor: NewFillExecutor(st, bank, reg),
		solver:   common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"),
	}
}

func (env *testEnv) stakeSolver(t *testing.T, amount string, chains string) {
	require.NoError(t, env.state.CreateStake(&db.Stake{
		Owner:           env.solver.Hex(),
		Role:            ROLE_SOLVER,
		Amount:          amount,
		SupportedChains: chains,
	}))
}

func (env *testEnv) openIntent(t *testing.T) *db.Intent {
	params := types.IntentParams{
		SourceChain:     "source",
		User:            common.HexToAddress("0x1111111111111111111111111111111111111111"),
		InputToken:      common.HexToAddress("0x2222222222222222222222222222222222222222"),
		InputAmount:     big.NewInt(1000000),
		DestChain:       "dest",
		OutputToken:     common.HexToAddress("0x3333333333333333333333333333333333333333"),
		MinOutputAmount: big.NewInt(990000),
		Deadline:        time.Now().Add(time.Hour).Unix(),
		Nonce:           1,
	}
	require.NoError(t, env.bank.Credit(params.SourceChain, params.InputToken.Hex(), params.User.Hex(), params.InputAmount))
	_, err := env.registry.Open(params)
	require.NoError(t, err)

	intent, err := env.state.GetIntentByID(types.IntentID(params).Hex())
	require.NoError(t, err)
	return intent
}

func TestFillPaysUserAndRecordsFill(t *testing.T) {
	env := newTestEnv(t)
	env.stakeSolver(t, "5000", "dest")
	intent := env.openIntent(t)

	require.NoError(t, env.bank.Credit("dest", intent.OutputToken, env.solver.Hex(), big.NewInt(2000000)))

	destTxHash, err := env.executor.Fill(intent, env.solver, big.NewInt(990000))
	require.NoError(t, err)
	assert.NotEqual(t, common.Hash{}, destTxHash)

	userBalance, err := env.bank.Balance("dest", intent.OutputToken, intent.User)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(990000), userBalance)

	solverBalance, err := env.bank.Balance("dest", intent.OutputToken, env.solver.Hex())
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(1010000), solverBalance)

	fill, err := env.state.GetFillByIntent(intent.IntentId)
	require.NoError(t, err)
	assert.Equal(t, env.solver.Hex(), fill.Solver)
	assert.Equal(t, destTxHash.Hex(), fill.DestTxHash)
}

func TestFillRequiresActiveStake(t *testing.T) {
	env := newTestEnv(t)
	intent := env.openIntent(t)

	_, err := env.executor.Fill(intent, env.solver, big.NewInt(990000))
	assert.Equal(t, ErrSolverNotStaked, err)
}

func TestFillRequiresStakeAboveMinimum(t *testing.T) {
	env := newTestEnv(t)
	env.stakeSolver(t, "10", "dest")
	intent := env.openIntent(t)

	_, err := env.executor.Fill(intent, env.solver, big.NewInt(990000))
	assert.Equal(t, ErrSolverNotStaked, err)
}

func TestFillRequiresChainCoverage(t *testing.T) {
	env := newTestEnv(t)
	env.stakeSolver(t, "5000", "otherchain")
	intent := env.openIntent(t)

	_, err := env.executor.Fill(intent, env.solver, big.NewInt(990000))
	assert.Equal(t, ErrChainNotSupported, err)
}

func TestFillRequiresInventory(t *testing.T) {
	env := newTestEnv(t)
	env.stakeSolver(t, "5000", "dest")
	intent := env.openIntent(t)

	_, err := env.executor.Fill(intent, env.solver, big.NewInt(990000))
	assert.Equal(t, ErrInsufficientInventory, err)
}

func TestFillRejectsBelowMinOutput(t *testing.T) {
	env := newTestEnv(t)
	env.stakeSolver(t, "5000", "dest")
	intent := env.openIntent(t)

	_, err := env.executor.Fill(intent, env.solver, big.NewInt(1))
	assert.Equal(t, ErrOutputBelowMinimum, err)
}

func TestFillRejectsFilledIntentWithoutMovingFunds(t *testing.T) {
	env := newTestEnv(t)
	env.stakeSolver(t, "5000", "dest")
	intent := env.openIntent(t)

	require.NoError(t, env.bank.Credit("dest", intent.OutputToken, env.solver.Hex(), big.NewInt(2000000)))

	other := common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
	_, err := env.registry.RecordFill(common.HexToHash(intent.IntentId), other, common.HexToHash("0x71"), big.NewInt(990000))
	require.NoError(t, err)

	// the race is already lost, nothing should leave the solver's inventory
	_, err = env.executor.Fill(intent, env.solver, big.NewInt(990000))
	assert.Equal(t, state.ErrAlreadyFilled, err)

	solverBalance, err := env.bank.Balance("dest", intent.OutputToken, env.solver.Hex())
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(2000000), solverBalance)

	userBalance, err := env.bank.Balance("dest", intent.OutputToken, intent.User)
	require.NoError(t, err)
	assert.Equal(t, 0, userBalance.Sign())
}

func TestFillRejectsExpiredIntentWithoutMovingFunds(t *testing.T) {
	env := newTestEnv(t)
	env.stakeSolver(t, "5000", "dest")
	intent := env.openIntent(t)

	require.NoError(t, env.bank.Credit("dest", intent.OutputToken, env.solver.Hex(), big.NewInt(2000000)))

	err := env.dbm.GetIntentDB().Model(&db.Intent{}).
		Where("intent_id = ?", intent.IntentId).
		Update("deadline", time.Now().Add(-time.Minute).Unix()).Error
	require.NoError(t, err)

	_, err = env.executor.Fill(intent, env.solver, big.NewInt(990000))
	assert.Equal(t, registry.ErrIntentExpired, err)

	solverBalance, err := env.bank.Balance("dest", intent.OutputToken, env.solver.Hex())
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(2000000), solverBalance)
}

func TestFillSecondAttemptRejected(t *testing.T) {
	env := newTestEnv(t)
	env.stakeSolver(t, "5000", "dest")
	intent := env.openIntent(t)

	require.NoError(t, env.bank.Credit("dest", intent.OutputToken, env.solver.Hex(), big.NewInt(2000000)))

	_, err := env.executor.Fill(intent, env.solver, big.NewInt(990000))
	require.NoError(t, err)

	// a second attempt is rejected and balances stay where the first fill
	// left them
	_, err = env.executor.Fill(intent, env.solver, big.NewInt(995000))
	assert.Equal(t, state.ErrAlreadyFilled, err)

	userBalance, err := env.bank.Balance("dest", intent.OutputToken, intent.User)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(990000), userBalance)

	solverBalance, err := env.bank.Balance("dest", intent.OutputToken, env.solver.Hex())
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(1010000), solverBalance)
}
