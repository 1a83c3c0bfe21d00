package solver

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/interoplabs/intent-relayer/internal/config"
	"github.com/interoplabs/intent-relayer/internal/db"
	"github.com/interoplabs/intent-relayer/internal/executor"
	"github.com/interoplabs/intent-relayer/internal/oracle"
	"github.com/interoplabs/intent-relayer/internal/pricefeed"
	"github.com/interoplabs/intent-relayer/internal/registry"
	"github.com/interoplabs/intent-relayer/internal/state"
	"github.com/interoplabs/intent-relayer/internal/types"
	log "github.com/sirupsen/logrus"
)

// Per-intent solver phases. These live in memory only; after a restart the
// coordinator rebuilds them from intent and fill rows.
const (
	PHASE_DISCOVERED = "discovered"
	PHASE_FILLING    = "filling"
	PHASE_CLAIMING   = "claiming"
	PHASE_CLAIMED    = "claimed"
	PHASE_ABANDONED  = "abandoned"
)

// SolverCoordinator watches for open intents, fills the profitable ones
// and claims escrow once an attestation is available.
type SolverCoordinator struct {
	state    *state.State
	executor *executor.FillExecutor
	registry *registry.IntentRegistry
	feed     pricefeed.Feed
	source   oracle.Source

	solver common.Address

	mu     sync.Mutex
	phases map[string]string

	openCh chan interface{}
}

func NewSolverCoordinator(st *state.State, exec *executor.FillExecutor, reg *registry.IntentRegistry, feed pricefeed.Feed, source oracle.Source) *SolverCoordinator {
	privKey, err := crypto.HexToECDSA(config.AppConfig.SolverPriKey)
	if err != nil {
		log.Fatalf("Invalid solver private key: %v", err)
	}

	return &SolverCoordinator{
		state:    st,
		executor: exec,
		registry: reg,
		feed:     feed,
		source:   source,
		solver:   crypto.PubkeyToAddress(privKey.PublicKey),
		phases:   make(map[string]string),
		openCh:   make(chan interface{}, 256),
	}
}

func (c *SolverCoordinator) Solver() common.Address {
	return c.solver
}

func (c *SolverCoordinator) Start(ctx context.Context) {
	c.state.EventBus.Subscribe(state.IntentOpened, c.openCh)

	if err := c.recover(); err != nil {
		log.Errorf("Solver recovery failed: %v", err)
	}

	go c.fillLoop(ctx)
	go c.claimLoop(ctx)
}

// recover rebuilds the phase map from the database. Open intents become
// fill candidates again; our own unsettled fills go straight to claiming.
func (c *SolverCoordinator) recover() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	open, err := c.state.GetIntentsByStatus(types.INTENT_STATUS_OPEN)
	if err != nil {
		return err
	}
	for _, intent := range open {
		c.phases[intent.IntentId] = PHASE_DISCOVERED
	}

	fills, err := c.state.GetFillsBySolver(c.solver.Hex())
	if err != nil {
		return err
	}
	claiming := 0
	for _, fill := range fills {
		intent, err := c.state.GetIntentByID(fill.IntentId)
		if err != nil {
			continue
		}
		if intent.Status == types.INTENT_STATUS_FILLED {
			c.phases[fill.IntentId] = PHASE_CLAIMING
			claiming++
		}
	}

	log.Infof("Solver recovered %d open intents, %d unclaimed fills", len(open), claiming)
	return nil
}

func (c *SolverCoordinator) fillLoop(ctx context.Context) {
	ticker := time.NewTicker(config.AppConfig.SolverPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("Solver fill loop stopping...")
			return
		case data := <-c.openCh:
			intent, ok := data.(db.Intent)
			if !ok {
				continue
			}
			c.tryFill(&intent)
		case <-ticker.C:
			// event delivery is best effort, sweep the table as well
			open, err := c.state.GetIntentsByStatus(types.INTENT_STATUS_OPEN)
			if err != nil {
				log.Errorf("Solver failed to poll open intents: %v", err)
				continue
			}
			for _, intent := range open {
				c.tryFill(intent)
			}
		}
	}
}

func (c *SolverCoordinator) tryFill(intent *db.Intent) {
	c.mu.Lock()
	phase, seen := c.phases[intent.IntentId]
	if seen && phase != PHASE_DISCOVERED {
		c.mu.Unlock()
		return
	}
	c.phases[intent.IntentId] = PHASE_FILLING
	c.mu.Unlock()

	if intent.Deadline < time.Now().Unix() {
		c.setPhase(intent.IntentId, PHASE_ABANDONED)
		return
	}

	outputAmount, ok := types.ParseAmount(intent.MinOutputAmount)
	if !ok {
		c.setPhase(intent.IntentId, PHASE_ABANDONED)
		return
	}

	profitable, err := c.evaluate(intent, outputAmount)
	if err != nil {
		log.Warnf("Solver cannot price intent %s: %v", intent.IntentId, err)
		c.setPhase(intent.IntentId, PHASE_DISCOVERED)
		return
	}
	if !profitable {
		log.Debugf("Intent %s not profitable, skipping", intent.IntentId)
		c.setPhase(intent.IntentId, PHASE_ABANDONED)
		return
	}

	op := func() error {
		_, err := c.executor.Fill(intent, c.solver, outputAmount)
		switch err {
		case nil:
			return nil
		case state.ErrAlreadyFilled, state.ErrIntentNotOpen, state.ErrAlreadySettled,
			registry.ErrIntentExpired, executor.ErrSolverNotStaked, executor.ErrChainNotSupported:
			// another solver won or we are not eligible, never retry
			return backoff.Permanent(err)
		default:
			return err
		}
	}
	err = backoff.Retry(op, backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3))
	if err != nil {
		log.Infof("Solver abandoned intent %s: %v", intent.IntentId, err)
		c.setPhase(intent.IntentId, PHASE_ABANDONED)
		return
	}

	c.setPhase(intent.IntentId, PHASE_CLAIMING)
}

// evaluate prices the fill: the escrowed input (net of protocol fee) must
// exceed the output cost plus gas by the configured margin.
func (c *SolverCoordinator) evaluate(intent *db.Intent, outputAmount *big.Int) (bool, error) {
	inputAmount, ok := types.ParseAmount(intent.InputAmount)
	if !ok {
		return false, pricefeed.ErrNoPrice
	}

	inputPrice, err := c.feed.Price(intent.SourceChain, intent.InputToken)
	if err != nil {
		return false, err
	}
	outputPrice, err := c.feed.Price(intent.DestChain, intent.OutputToken)
	if err != nil {
		return false, err
	}

	feeBps := big.NewInt(config.AppConfig.ProtocolFeeBps)
	netInput := new(big.Int).Mul(inputAmount, new(big.Int).Sub(big.NewInt(10000), feeBps))
	netInput.Div(netInput, big.NewInt(10000))

	revenue := new(big.Rat).Mul(new(big.Rat).SetInt(netInput), inputPrice)
	cost := new(big.Rat).Mul(new(big.Rat).SetInt(outputAmount), outputPrice)
	if gas, ok := types.ParseAmount(config.AppConfig.SolverGasCost); ok {
		cost.Add(cost, new(big.Rat).SetInt(gas))
	}

	if cost.Sign() <= 0 {
		return revenue.Sign() > 0, nil
	}

	// revenue >= cost * (1 + minMargin)
	threshold := new(big.Rat).Mul(cost, new(big.Rat).SetFrac64(10000+config.AppConfig.SolverMinMarginBps, 10000))
	return revenue.Cmp(threshold) >= 0, nil
}

func (c *SolverCoordinator) claimLoop(ctx context.Context) {
	ticker := time.NewTicker(config.AppConfig.SolverClaimInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("Solver claim loop stopping...")
			return
		case <-ticker.C:
			for _, intentId := range c.claimingIntents() {
				c.tryClaim(intentId)
			}
		}
	}
}

func (c *SolverCoordinator) claimingIntents() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for intentId, phase := range c.phases {
		if phase == PHASE_CLAIMING {
			out = append(out, intentId)
		}
	}
	return out
}

func (c *SolverCoordinator) tryClaim(intentId string) {
	intent, err := c.state.GetIntentByID(intentId)
	if err != nil {
		log.Errorf("Solver lost intent row for %s: %v", intentId, err)
		return
	}
	switch intent.Status {
	case types.INTENT_STATUS_SETTLED:
		c.setPhase(intentId, PHASE_CLAIMED)
		return
	case types.INTENT_STATUS_REFUNDED:
		c.setPhase(intentId, PHASE_ABANDONED)
		return
	}
	if intent.Deadline < time.Now().Unix() {
		log.Warnf("Claim window closed for intent %s, abandoning", intentId)
		c.setPhase(intentId, PHASE_ABANDONED)
		return
	}

	fill, err := c.state.GetFillByIntent(intentId)
	if err != nil {
		log.Errorf("Solver lost fill row for intent %s: %v", intentId, err)
		return
	}

	proof, ready, err := c.source.ProofFor(common.HexToHash(intentId), common.HexToHash(fill.FillHash))
	if err != nil {
		log.Errorf("Solver failed to fetch proof for intent %s: %v", intentId, err)
		return
	}
	if !ready {
		return
	}

	err = c.registry.Settle(common.HexToHash(intentId), c.source.Strategy(), proof)
	if err == state.ErrAlreadySettled {
		c.setPhase(intentId, PHASE_CLAIMED)
		return
	}
	if err == registry.ErrIntentExpired {
		c.setPhase(intentId, PHASE_ABANDONED)
		return
	}
	if err != nil {
		log.Errorf("Solver failed to settle intent %s: %v", intentId, err)
		return
	}

	log.Infof("Solver claimed escrow for intent %s", intentId)
	c.setPhase(intentId, PHASE_CLAIMED)
}

func (c *SolverCoordinator) setPhase(intentId, phase string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.phases[intentId] = phase
}

// Phase reports the coordinator's view of one intent.
func (c *SolverCoordinator) Phase(intentId string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phases[intentId]
}
