package chain

import (
	"context"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	goerrors "github.com/go-errors/errors"
	"github.com/interoplabs/intent-relayer/internal/config"
	"github.com/interoplabs/intent-relayer/internal/db"
	"github.com/interoplabs/intent-relayer/internal/state"
	"github.com/interoplabs/intent-relayer/internal/types"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// RemoteListener scans an external chain's intent registry contract and
// mirrors its events into the local state machine. Used when a ledger is a
// real deployment rather than the relayer's own view.
type RemoteListener struct {
	state *state.State
	dbm   *db.DatabaseManager

	ethClient   *ethclient.Client
	registryAbi *abi.ABI
	contract    common.Address
	chainName   string
}

func NewRemoteListener(st *state.State, dbm *db.DatabaseManager) *RemoteListener {
	ethClient, err := DialEthClient()
	if err != nil {
		log.Fatalf("Error creating remote chain RPC client: %v", err)
	}
	registryAbi, err := abi.JSON(strings.NewReader(RegistryContractABI))
	if err != nil {
		log.Fatalf("Failed to parse registry abi: %v", err)
	}

	return &RemoteListener{
		state:       st,
		dbm:         dbm,
		ethClient:   ethClient,
		registryAbi: &registryAbi,
		contract:    common.HexToAddress(config.AppConfig.RemoteRegistry),
		chainName:   config.AppConfig.RemoteChain,
	}
}

func DialEthClient() (*ethclient.Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()
	client, err := rpc.DialContext(ctx, config.AppConfig.RemoteRPC)
	if err != nil {
		return nil, goerrors.Wrap(err, 0)
	}
	return ethclient.NewClient(client), nil
}

func (lis *RemoteListener) Start(ctx context.Context) {
	go lis.scanLoop(ctx)
}

func (lis *RemoteListener) scanLoop(ctx context.Context) {
	var syncStatus db.ChainSyncStatus
	chainDB := lis.dbm.GetChainDB()
	result := chainDB.Where("chain = ?", lis.chainName).First(&syncStatus)
	if result.Error == gorm.ErrRecordNotFound {
		syncStatus.Chain = lis.chainName
		syncStatus.LastSyncBlock = config.AppConfig.RemoteStartHeight
		syncStatus.UpdatedAt = time.Now()
		chainDB.Create(&syncStatus)
	} else if result.Error != nil {
		log.Fatalf("Error querying chain sync status: %v", result.Error)
	}

	requestInterval := config.AppConfig.RemoteRequestInterval
	confirmations := config.AppConfig.RemoteConfirmations
	maxBlockRange := config.AppConfig.RemoteMaxBlockRange

	for {
		select {
		case <-ctx.Done():
			log.Info("RemoteListener stopping...")
			return
		default:
			latestBlock, err := lis.ethClient.BlockNumber(ctx)
			if err != nil {
				log.Errorf("Error getting latest block number: %v", err)
				time.Sleep(requestInterval)
				continue
			}

			if latestBlock < confirmations {
				time.Sleep(requestInterval)
				continue
			}
			targetBlock := latestBlock - confirmations
			fromBlock := syncStatus.LastSyncBlock + 1

			if fromBlock <= targetBlock {
				toBlock := min(fromBlock+maxBlockRange-1, targetBlock)

				log.WithFields(log.Fields{
					"chain":     lis.chainName,
					"fromBlock": fromBlock,
					"toBlock":   toBlock,
				}).Info("Syncing remote registry events")

				if err := lis.filterEvents(ctx, fromBlock, toBlock); err != nil {
					log.Errorf("Failed to scan blocks %d-%d: %v", fromBlock, toBlock, err)
					time.Sleep(requestInterval)
					continue
				}

				syncStatus.LastSyncBlock = toBlock
				syncStatus.UpdatedAt = time.Now()
				chainDB.Save(&syncStatus)
			} else {
				log.Debugf("Sync to tip, target block: %d", targetBlock)
			}

			time.Sleep(requestInterval)
		}
	}
}

func (lis *RemoteListener) filterEvents(ctx context.Context, fromBlock, toBlock uint64) error {
	logs, err := lis.ethClient.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: []common.Address{lis.contract},
	})
	if err != nil {
		return goerrors.Wrap(err, 0)
	}

	for _, vlog := range logs {
		if len(vlog.Topics) == 0 {
			continue
		}
		switch vlog.Topics[0] {
		case lis.registryAbi.Events["IntentOpened"].ID:
			event := RegistryIntentOpened{}
			if err := lis.registryAbi.UnpackIntoInterface(&event, "IntentOpened", vlog.Data); err != nil {
				log.Errorf("failed to unpack IntentOpened event: %v", err)
				return err
			}
			if err := lis.handleIntentOpened(vlog.Topics[1], event); err != nil {
				return err
			}
		case lis.registryAbi.Events["IntentFilled"].ID:
			event := RegistryIntentFilled{}
			if err := lis.registryAbi.UnpackIntoInterface(&event, "IntentFilled", vlog.Data); err != nil {
				log.Errorf("failed to unpack IntentFilled event: %v", err)
				return err
			}
			lis.handleIntentFilled(vlog.Topics[1], vlog.TxHash, event)
		case lis.registryAbi.Events["IntentSettled"].ID,
			lis.registryAbi.Events["IntentRefunded"].ID:
			// terminal transitions are driven by the local registry
			log.Debugf("Observed terminal registry event for %s", vlog.Topics[1].Hex())
		}
	}
	return nil
}

func (lis *RemoteListener) handleIntentOpened(intentId common.Hash, event RegistryIntentOpened) error {
	intent := &db.Intent{
		IntentId:        intentId.Hex(),
		SourceChain:     lis.chainName,
		User:            event.User.Hex(),
		InputToken:      event.InputToken.Hex(),
		InputAmount:     event.InputAmount.String(),
		DestChain:       event.DestChain,
		OutputToken:     event.OutputToken.Hex(),
		MinOutputAmount: event.MinOutputAmount.String(),
		Deadline:        event.Deadline.Int64(),
		Nonce:           event.Nonce,
	}
	escrow := &db.EscrowEntry{
		Token:  event.InputToken.Hex(),
		Amount: event.InputAmount.String(),
		Holder: event.User.Hex(),
	}
	_, err := lis.state.AddOpenIntent(intent, escrow)
	return err
}

func (lis *RemoteListener) handleIntentFilled(intentId common.Hash, txHash common.Hash, event RegistryIntentFilled) {
	fill := &db.Fill{
		IntentId:     intentId.Hex(),
		Solver:       event.Solver.Hex(),
		DestTxHash:   txHash.Hex(),
		OutputAmount: event.OutputAmount.String(),
		FillHash:     types.FillHash(intentId, event.Solver, txHash, event.OutputAmount).Hex(),
	}
	err := lis.state.MarkIntentFilled(fill)
	if err == state.ErrAlreadyFilled {
		// already mirrored, expected on rescan
		log.Infof("Fill for intent %s already recorded", intentId.Hex())
		return
	}
	if err != nil {
		log.Errorf("Failed to record remote fill for intent %s: %v", intentId.Hex(), err)
	}
}

func min(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}
