package state

import (
	"errors"
	"sync"

	"github.com/interoplabs/intent-relayer/internal/db"
	log "github.com/sirupsen/logrus"
)

// Transition sentinels. Race losses map to these, callers treat them as
// control flow, not failures.
var (
	ErrIntentNotFound  = errors.New("intent not found")
	ErrIntentNotOpen   = errors.New("intent not open")
	ErrAlreadyFilled   = errors.New("intent already filled")
	ErrAlreadySettled  = errors.New("intent already settled")
	ErrIntentNotFilled = errors.New("intent not filled")

	ErrVoucherNotFound   = errors.New("voucher not found")
	ErrVoucherNotPending = errors.New("voucher not pending")

	ErrStakeNotFound = errors.New("stake not found")
)

type State struct {
	EventBus *EventBus

	dbm *db.DatabaseManager

	// Separate mutexes for different sub-modules
	intentMu    sync.RWMutex
	liquidityMu sync.RWMutex
}

// InitializeState loads a snapshot of in-flight work from the DB on startup.
// Every coordinator rebuilds its queues from these rows, nothing in memory
// is authoritative.
func InitializeState(dbm *db.DatabaseManager) *State {
	var (
		openIntents     int64
		filledIntents   int64
		pendingVouchers int64
	)

	var wg sync.WaitGroup
	wg.Add(3)

	go func() {
		defer wg.Done()
		if err := dbm.GetIntentDB().Model(&db.Intent{}).Where("status = ?", "open").Count(&openIntents).Error; err != nil {
			log.Warnf("Failed to count open intents: %v", err)
		}
	}()

	go func() {
		defer wg.Done()
		if err := dbm.GetIntentDB().Model(&db.Intent{}).Where("status = ?", "filled").Count(&filledIntents).Error; err != nil {
			log.Warnf("Failed to count filled intents: %v", err)
		}
	}()

	go func() {
		defer wg.Done()
		if err := dbm.GetLiquidityDB().Model(&db.Voucher{}).Where("status = ?", "pending").Count(&pendingVouchers).Error; err != nil {
			log.Warnf("Failed to count pending vouchers: %v", err)
		}
	}()

	wg.Wait()

	log.Infof("State init on startup, open intents: %d, awaiting settlement: %d, pending vouchers: %d",
		openIntents, filledIntents, pendingVouchers)

	return &State{
		EventBus: NewEventBus(),
		dbm:      dbm,
	}
}
