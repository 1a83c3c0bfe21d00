package state

import (
	"math/big"
	"time"

	"github.com/interoplabs/intent-relayer/internal/db"
	"github.com/interoplabs/intent-relayer/internal/types"
	"gorm.io/gorm"
)

// CreateStake registers new collateral for a solver or XLP. Registering an
// owner/role pair twice is rejected by the unique index, callers top up
// instead.
func (s *State) CreateStake(stake *db.Stake) error {
	s.liquidityMu.Lock()
	defer s.liquidityMu.Unlock()

	stake.Status = "active"
	stake.UpdatedAt = time.Now()
	return s.dbm.GetLiquidityDB().Create(stake).Error
}

func (s *State) GetStake(owner, role string) (*db.Stake, error) {
	s.liquidityMu.RLock()
	defer s.liquidityMu.RUnlock()

	return s.queryStake(s.dbm.GetLiquidityDB(), owner, role)
}

// TopUpStake adds collateral. A slashed stake that recovers above minStake
// starts a fresh cooldown before it can act again.
func (s *State) TopUpStake(owner, role string, amount, minStake *big.Int, cooldown time.Duration) error {
	s.liquidityMu.Lock()
	defer s.liquidityMu.Unlock()

	return s.dbm.GetLiquidityDB().Transaction(func(tx *gorm.DB) error {
		stake, err := s.queryStake(tx, owner, role)
		if err != nil {
			return err
		}
		current, ok := types.ParseAmount(stake.Amount)
		if !ok {
			current = new(big.Int)
		}
		stake.Amount = new(big.Int).Add(current, amount).String()
		if stake.Status == "slashed" {
			recovered, _ := types.ParseAmount(stake.Amount)
			if recovered != nil && recovered.Cmp(minStake) >= 0 {
				stake.CooldownEndsAt = time.Now().Add(cooldown)
			}
		}
		stake.UpdatedAt = time.Now()
		return tx.Save(stake).Error
	})
}

// ActivateRecoveredStake flips a slashed stake back to active once it is
// re-topped-up above minStake and its cooldown has elapsed.
func (s *State) ActivateRecoveredStake(owner, role string, minStake *big.Int) error {
	s.liquidityMu.Lock()
	defer s.liquidityMu.Unlock()

	return s.dbm.GetLiquidityDB().Transaction(func(tx *gorm.DB) error {
		stake, err := s.queryStake(tx, owner, role)
		if err != nil {
			return err
		}
		if stake.Status != "slashed" {
			return nil
		}
		amount, ok := types.ParseAmount(stake.Amount)
		if !ok || amount.Cmp(minStake) < 0 || time.Now().Before(stake.CooldownEndsAt) {
			return nil
		}
		stake.Status = "active"
		stake.UpdatedAt = time.Now()
		return tx.Save(stake).Error
	})
}

// BeginStakeWithdraw moves an active stake into its withdrawal cooldown.
// The stake stays slashable until the cooldown expires.
func (s *State) BeginStakeWithdraw(owner, role string, cooldown time.Duration) error {
	s.liquidityMu.Lock()
	defer s.liquidityMu.Unlock()

	res := s.dbm.GetLiquidityDB().Model(&db.Stake{}).
		Where("owner = ? AND role = ? AND status = ?", owner, role, "active").
		Updates(map[string]interface{}{
			"status":           "withdrawing",
			"cooldown_ends_at": time.Now().Add(cooldown),
			"updated_at":       time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStakeNotFound
	}
	return nil
}

// FinalizeStakeWithdraw releases the collateral after cooldown and removes
// the stake. Returns the withdrawn amount.
func (s *State) FinalizeStakeWithdraw(owner, role string) (*big.Int, error) {
	s.liquidityMu.Lock()
	defer s.liquidityMu.Unlock()

	var amount *big.Int
	err := s.dbm.GetLiquidityDB().Transaction(func(tx *gorm.DB) error {
		stake, err := s.queryStake(tx, owner, role)
		if err != nil {
			return err
		}
		if stake.Status != "withdrawing" || time.Now().Before(stake.CooldownEndsAt) {
			return ErrStakeNotFound
		}
		amount, _ = types.ParseAmount(stake.Amount)
		if amount == nil {
			amount = new(big.Int)
		}
		return tx.Delete(stake).Error
	})
	if err != nil {
		return nil, err
	}
	return amount, nil
}

// ReduceStake applies a slash. The reduction is clamped so the stake never
// goes below zero, and a stake falling under minStake transitions to
// slashed. Returns the amount actually slashed.
func (s *State) ReduceStake(owner, role string, amount, minStake *big.Int, reason, voucherId string) (*big.Int, error) {
	s.liquidityMu.Lock()
	defer s.liquidityMu.Unlock()

	applied := new(big.Int)
	err := s.dbm.GetLiquidityDB().Transaction(func(tx *gorm.DB) error {
		stake, err := s.queryStake(tx, owner, role)
		if err != nil {
			return err
		}
		current, ok := types.ParseAmount(stake.Amount)
		if !ok {
			current = new(big.Int)
		}

		applied.Set(amount)
		if applied.Cmp(current) > 0 {
			applied.Set(current)
		}
		remaining := new(big.Int).Sub(current, applied)

		stake.Amount = remaining.String()
		if remaining.Cmp(minStake) < 0 {
			stake.Status = "slashed"
		}
		stake.UpdatedAt = time.Now()
		if err := tx.Save(stake).Error; err != nil {
			return err
		}

		return tx.Create(&db.SlashEvent{
			Owner:     owner,
			Role:      role,
			Amount:    applied.String(),
			Reason:    reason,
			VoucherId: voucherId,
			CreatedAt: time.Now(),
		}).Error
	})
	if err != nil {
		return nil, err
	}

	s.EventBus.Publish(StakeSlashed, db.SlashEvent{Owner: owner, Role: role, Amount: applied.String(), Reason: reason, VoucherId: voucherId})
	return applied, nil
}

func (s *State) GetSlashEvents(owner string) ([]*db.SlashEvent, error) {
	s.liquidityMu.RLock()
	defer s.liquidityMu.RUnlock()

	var events []*db.SlashEvent
	if err := s.dbm.GetLiquidityDB().Where("owner = ?", owner).Order("id asc").Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

func (s *State) queryStake(tx *gorm.DB, owner, role string) (*db.Stake, error) {
	var stake db.Stake
	if err := tx.Where("owner = ? AND role = ?", owner, role).First(&stake).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrStakeNotFound
		}
		return nil, err
	}
	return &stake, nil
}
