package main

import (
	"context"
	"math/big"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/interoplabs/intent-relayer/internal/chain"
	"github.com/interoplabs/intent-relayer/internal/config"
	"github.com/interoplabs/intent-relayer/internal/db"
	"github.com/interoplabs/intent-relayer/internal/executor"
	"github.com/interoplabs/intent-relayer/internal/gasless"
	"github.com/interoplabs/intent-relayer/internal/http"
	"github.com/interoplabs/intent-relayer/internal/liquidity"
	"github.com/interoplabs/intent-relayer/internal/messenger"
	"github.com/interoplabs/intent-relayer/internal/oracle"
	"github.com/interoplabs/intent-relayer/internal/p2p"
	"github.com/interoplabs/intent-relayer/internal/pricefeed"
	"github.com/interoplabs/intent-relayer/internal/registry"
	"github.com/interoplabs/intent-relayer/internal/solver"
	"github.com/interoplabs/intent-relayer/internal/state"
	log "github.com/sirupsen/logrus"
)

type Application struct {
	DatabaseManager   *db.DatabaseManager
	State             *state.State
	Messenger         *messenger.Messenger
	Registry          *registry.IntentRegistry
	LiquidityManager  *liquidity.LiquidityManager
	HTTPServer        *http.HTTPServer
	Attester          *oracle.Attester
	LibP2PService     *p2p.LibP2PService
	RemoteListener    *chain.RemoteListener
	SolverCoordinator *solver.SolverCoordinator
}

func NewApplication() *Application {
	config.InitConfig()

	dbm := db.NewDatabaseManager()
	st := state.InitializeState(dbm)
	bank := chain.NewLedgerBank(dbm)
	msgr := messenger.NewMessenger(st, dbm)

	var (
		verifier     oracle.Verifier
		source       oracle.Source
		quorumVerify *oracle.QuorumVerifier
	)
	switch config.AppConfig.OracleStrategy {
	case oracle.STRATEGY_QUORUM:
		quorumVerify = oracle.NewQuorumVerifier(config.AppConfig.AttesterSet, config.AppConfig.AttesterQuorum)
		verifier = quorumVerify
		source = oracle.NewQuorumSource(st, quorumVerify)
	case oracle.STRATEGY_RELAYED:
		verifier = oracle.NewRelayedVerifier(msgr, config.AppConfig.TrustedSender)
		source = oracle.NewRelayedSource(msgr, config.AppConfig.TrustedSender)
	default:
		log.Fatalf("Unknown oracle strategy: %s", config.AppConfig.OracleStrategy)
	}

	reg := registry.NewIntentRegistry(st, bank, verifier)
	exec := executor.NewFillExecutor(st, bank, reg)
	bridge := gasless.NewGaslessIntentBridge(dbm, reg)
	lm := liquidity.NewLiquidityManager(st, bank, msgr, nil)

	var attester *oracle.Attester
	var libP2PService *p2p.LibP2PService
	if config.AppConfig.EnableAttester && quorumVerify != nil {
		if config.AppConfig.EnableP2P {
			attester = oracle.NewAttester(st, quorumVerify, nil)
			libP2PService = p2p.NewLibP2PService(attester)
			attester.SetGossiper(libP2PService)
		} else {
			attester = oracle.NewAttester(st, quorumVerify, nil)
		}
	}

	var remoteListener *chain.RemoteListener
	if config.AppConfig.RemoteRPC != "" {
		remoteListener = chain.NewRemoteListener(st, dbm)
	}

	var solverCoordinator *solver.SolverCoordinator
	if config.AppConfig.EnableSolver {
		feed := pricefeed.NewStaticFeed()
		feed.SetFallback(big.NewRat(1, 1))
		solverCoordinator = solver.NewSolverCoordinator(st, exec, reg, feed, source)
	}

	var httpServer *http.HTTPServer
	if config.AppConfig.EnableHTTP {
		httpServer = http.NewHTTPServer(st, reg, bridge, lm, bank)
	}

	return &Application{
		DatabaseManager:   dbm,
		State:             st,
		Messenger:         msgr,
		Registry:          reg,
		LiquidityManager:  lm,
		HTTPServer:        httpServer,
		Attester:          attester,
		LibP2PService:     libP2PService,
		RemoteListener:    remoteListener,
		SolverCoordinator: solverCoordinator,
	}
}

func (app *Application) Run() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	var wg sync.WaitGroup

	app.Messenger.Start(ctx)
	app.Registry.Start(ctx)
	app.LiquidityManager.Start(ctx)

	if app.Attester != nil {
		app.Attester.Start(ctx)
	}
	if app.RemoteListener != nil {
		app.RemoteListener.Start(ctx)
	}
	if app.SolverCoordinator != nil {
		app.SolverCoordinator.Start(ctx)
	}

	if app.LibP2PService != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			app.LibP2PService.Start(ctx)
		}()
	}

	if app.HTTPServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			app.HTTPServer.Start(ctx)
		}()
	}

	<-stop
	log.Info("Receiving exit signal...")

	cancel()

	wg.Wait()
	log.Info("Server stopped")
}

func main() {
	app := NewApplication()
	app.Run()
}
