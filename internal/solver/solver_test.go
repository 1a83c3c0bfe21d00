package solver

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/interoplabs/intent-relayer/internal/chain"
	"github.com/interoplabs/intent-relayer/internal/config"
	"github.com/interoplabs/intent-relayer/internal/db"
	"github.com/interoplabs/intent-relayer/internal/executor"
	"github.com/interoplabs/intent-relayer/internal/oracle"
	"github.com/interoplabs/intent-relayer/internal/pricefeed"
	"github.com/interoplabs/intent-relayer/internal/registry"
	"github.com/interoplabs/intent-relayer/internal/state"
	"github.com/interoplabs/intent-relayer/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const solverKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

var attesterKeys = []string{
	"59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d",
	"5de4111afa1a4b94908f83103eb1f1706367c2e68ca870fc3fb9a804cdab365a",
}

type testEnv struct {
	state       *state.State
	bank        chain.Bank
	registry    *registry.IntentRegistry
	feed        *pricefeed.StaticFeed
	coordinator *SolverCoordinator
}

func newTestEnv(t *testing.T) *testEnv {
	config.AppConfig.DbDir = t.TempDir()
	config.AppConfig.ProtocolFeeBps = 10
	config.AppConfig.MinStake = "1000"
	config.AppConfig.SolverPriKey = solverKey
	config.AppConfig.SolverMinMarginBps = 30
	config.AppConfig.SolverGasCost = "0"
	config.AppConfig.SolverPollInterval = time.Second
	config.AppConfig.SolverClaimInterval = time.Second

	var attesters []string
	for _, k := range attesterKeys {
		key, err := crypto.HexToECDSA(k)
		require.NoError(t, err)
		attesters = append(attesters, crypto.PubkeyToAddress(key.PublicKey).Hex())
	}

	dbm := db.NewDatabaseManager()
	st := state.InitializeState(dbm)
	bank := chain.NewLedgerBank(dbm)
	verifier := oracle.NewQuorumVerifier(attesters, 2)
	reg := registry.NewIntentRegistry(st, bank, verifier)
	exec := executor.NewFillExecutor(st, bank, reg)
	feed := pricefeed.NewStaticFeed()
	feed.SetFallback(big.NewRat(1, 1))

	return &testEnv{
		state:       st,
		bank:        bank,
		registry:    reg,
		feed:        feed,
		coordinator: NewSolverCoordinator(st, exec, reg, feed, oracle.NewQuorumSource(st, verifier)),
	}
}

func testIntent(inputAmount, minOutput int64) *db.Intent {
	return &db.Intent{
		IntentId:        "0x01",
		SourceChain:     "source",
		User:            "0xuser",
		InputToken:      "0xin",
		InputAmount:     big.NewInt(inputAmount).String(),
		DestChain:       "dest",
		OutputToken:     "0xout",
		MinOutputAmount: big.NewInt(minOutput).String(),
		Deadline:        time.Now().Add(time.Hour).Unix(),
	}
}

func addOpenIntent(t *testing.T, env *testEnv, intent *db.Intent) {
	_, err := env.state.AddOpenIntent(intent, &db.EscrowEntry{Token: intent.InputToken, Amount: intent.InputAmount, Holder: intent.User})
	require.NoError(t, err)
}

func TestEvaluateProfitableFill(t *testing.T) {
	env := newTestEnv(t)

	// 1000000 in, 990000 out at par: ~0.9% gross margin minus 10 bps fee
	ok, err := env.coordinator.evaluate(testIntent(1000000, 990000), big.NewInt(990000))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEvaluateRejectsThinMargin(t *testing.T) {
	env := newTestEnv(t)

	// at par the payout equals the cost, below the 30 bps margin
	ok, err := env.coordinator.evaluate(testIntent(1000000, 1000000), big.NewInt(1000000))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEvaluateAccountsForGasCost(t *testing.T) {
	env := newTestEnv(t)
	config.AppConfig.SolverGasCost = "50000"

	ok, err := env.coordinator.evaluate(testIntent(1000000, 990000), big.NewInt(990000))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEvaluateUsesTokenPrices(t *testing.T) {
	env := newTestEnv(t)

	// output token trades at half the input token's price
	env.feed.SetPrice("source", "0xin", big.NewRat(1, 1))
	env.feed.SetPrice("dest", "0xout", big.NewRat(1, 2))

	ok, err := env.coordinator.evaluate(testIntent(1000000, 1500000), big.NewInt(1500000))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRecoverRebuildsPhases(t *testing.T) {
	env := newTestEnv(t)

	intent := testIntent(1000000, 990000)
	addOpenIntent(t, env, intent)

	solverAddr := env.coordinator.Solver().Hex()
	fill := &db.Fill{IntentId: "0x02", Solver: solverAddr, DestTxHash: "0x70", OutputAmount: "990000", FillHash: "0xf2"}
	second := testIntent(1000000, 990000)
	second.IntentId = "0x02"
	addOpenIntent(t, env, second)
	require.NoError(t, env.state.MarkIntentFilled(fill))

	require.NoError(t, env.coordinator.recover())

	assert.Equal(t, PHASE_DISCOVERED, env.coordinator.Phase("0x01"))
	assert.Equal(t, PHASE_CLAIMING, env.coordinator.Phase("0x02"))
}

func TestPhaseTransitionsOnFillRace(t *testing.T) {
	env := newTestEnv(t)

	intent := testIntent(1000000, 990000)
	addOpenIntent(t, env, intent)

	// no stake, the fill is refused and the intent abandoned without retries
	env.coordinator.tryFill(intent)
	assert.Equal(t, PHASE_ABANDONED, env.coordinator.Phase(intent.IntentId))

	// an abandoned intent is not retried on the next sweep
	env.coordinator.tryFill(intent)
	assert.Equal(t, PHASE_ABANDONED, env.coordinator.Phase(intent.IntentId))
}

func TestClaimAbandonedAfterDeadline(t *testing.T) {
	env := newTestEnv(t)

	intent := testIntent(1000000, 990000)
	intent.Deadline = time.Now().Add(-time.Minute).Unix()
	addOpenIntent(t, env, intent)
	require.NoError(t, env.state.MarkIntentFilled(&db.Fill{
		IntentId: intent.IntentId, Solver: env.coordinator.Solver().Hex(),
		DestTxHash: "0x70", OutputAmount: "990000", FillHash: "0xf1",
	}))
	env.coordinator.setPhase(intent.IntentId, PHASE_CLAIMING)

	// the claim window closed with the deadline, the coordinator gives up
	// instead of polling forever
	env.coordinator.tryClaim(intent.IntentId)
	assert.Equal(t, PHASE_ABANDONED, env.coordinator.Phase(intent.IntentId))
}

func TestFillAndClaimEndToEnd(t *testing.T) {
	env := newTestEnv(t)

	solverAddr := env.coordinator.Solver()
	require.NoError(t, env.state.CreateStake(&db.Stake{
		Owner: solverAddr.Hex(), Role: executor.ROLE_SOLVER, Amount: "5000", SupportedChains: "dest",
	}))
	require.NoError(t, env.bank.Credit("dest", "0x3333333333333333333333333333333333333333", solverAddr.Hex(), big.NewInt(2000000)))

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
	require.NoError(t, env.bank.Credit("source", params.InputToken.Hex(), params.User.Hex(), big.NewInt(1000000)))
	intentId, err := env.registry.Open(params)
	require.NoError(t, err)

	intent, err := env.state.GetIntentByID(intentId.Hex())
	require.NoError(t, err)

	env.coordinator.tryFill(intent)
	require.Equal(t, PHASE_CLAIMING, env.coordinator.Phase(intent.IntentId))

	// no attestation yet, the claim stays parked
	env.coordinator.tryClaim(intent.IntentId)
	assert.Equal(t, PHASE_CLAIMING, env.coordinator.Phase(intent.IntentId))

	// attesters sign the fill
	fill, err := env.state.GetFillByIntent(intent.IntentId)
	require.NoError(t, err)
	digest := oracle.AttestDigest(intentId, common.HexToHash(fill.FillHash))
	for _, k := range attesterKeys {
		key, err := crypto.HexToECDSA(k)
		require.NoError(t, err)
		sig, err := crypto.Sign(digest.Bytes(), key)
		require.NoError(t, err)
		require.NoError(t, env.state.AddAttesterSignature(&db.AttesterSignature{
			FillHash: fill.FillHash, Signer: crypto.PubkeyToAddress(key.PublicKey).Hex(), Signature: sig,
		}))
	}

	env.coordinator.tryClaim(intent.IntentId)
	assert.Equal(t, PHASE_CLAIMED, env.coordinator.Phase(intent.IntentId))

	settled, err := env.state.GetIntentByID(intent.IntentId)
	require.NoError(t, err)
	assert.Equal(t, types.INTENT_STATUS_SETTLED, settled.Status)

	// escrow minus the 10 bps protocol fee lands with the solver
	payout, err := env.bank.Balance("source", params.InputToken.Hex(), solverAddr.Hex())
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(999000), payout)
}
