package state

import (
	"math/big"
	"time"

	"github.com/interoplabs/intent-relayer/internal/db"
	"github.com/interoplabs/intent-relayer/internal/types"
	"gorm.io/gorm"
)

// AddPendingVoucher records a freshly issued instant-credit voucher.
func (s *State) AddPendingVoucher(voucher *db.Voucher) error {
	s.liquidityMu.Lock()
	defer s.liquidityMu.Unlock()

	voucher.Status = "pending"
	voucher.IssuedAt = time.Now()
	voucher.UpdatedAt = time.Now()
	if err := s.dbm.GetLiquidityDB().Create(voucher).Error; err != nil {
		return err
	}

	s.EventBus.Publish(VoucherIssued, *voucher)
	return nil
}

// OutstandingVoucherTotal sums the vouchers still counted against an XLP's
// stake headroom. Disputed vouchers stay outstanding until resolved.
func (s *State) OutstandingVoucherTotal(xlp string) (*big.Int, error) {
	s.liquidityMu.RLock()
	defer s.liquidityMu.RUnlock()

	var vouchers []*db.Voucher
	if err := s.dbm.GetLiquidityDB().Where("xlp = ? AND status IN (?)", xlp, []string{"pending", "disputed"}).Find(&vouchers).Error; err != nil {
		return nil, err
	}
	total := new(big.Int)
	for _, v := range vouchers {
		amount, ok := types.ParseAmount(v.Amount)
		if !ok {
			continue
		}
		total.Add(total, amount)
	}
	return total, nil
}

// MarkVoucherClaimed transitions pending -> claimed once the anchor deposit
// proof has been verified. A lost race returns ErrVoucherNotPending.
func (s *State) MarkVoucherClaimed(voucherId string) error {
	s.liquidityMu.Lock()
	defer s.liquidityMu.Unlock()

	now := time.Now()
	res := s.dbm.GetLiquidityDB().Model(&db.Voucher{}).
		Where("voucher_id = ? AND status = ?", voucherId, "pending").
		Updates(map[string]interface{}{"status": "claimed", "claimed_at": &now, "updated_at": now})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return s.classifyVoucherState(voucherId)
	}

	s.EventBus.Publish(VoucherReconciled, voucherId)
	return nil
}

// MarkVoucherDisputed flags a pending voucher inside its dispute window.
func (s *State) MarkVoucherDisputed(voucherId string) error {
	s.liquidityMu.Lock()
	defer s.liquidityMu.Unlock()

	res := s.dbm.GetLiquidityDB().Model(&db.Voucher{}).
		Where("voucher_id = ? AND status = ?", voucherId, "pending").
		Updates(map[string]interface{}{"status": "disputed", "updated_at": time.Now()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return s.classifyVoucherState(voucherId)
	}

	s.EventBus.Publish(VoucherDisputed, voucherId)
	return nil
}

// ReopenDisputedVoucher returns a voucher to pending after its dispute was
// rejected.
func (s *State) ReopenDisputedVoucher(voucherId string) error {
	s.liquidityMu.Lock()
	defer s.liquidityMu.Unlock()

	res := s.dbm.GetLiquidityDB().Model(&db.Voucher{}).
		Where("voucher_id = ? AND status = ?", voucherId, "disputed").
		Updates(map[string]interface{}{"status": "pending", "updated_at": time.Now()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return s.classifyVoucherState(voucherId)
	}
	return nil
}

// MarkVoucherSlashed closes out a disputed voucher whose evidence was upheld.
func (s *State) MarkVoucherSlashed(voucherId string) error {
	s.liquidityMu.Lock()
	defer s.liquidityMu.Unlock()

	res := s.dbm.GetLiquidityDB().Model(&db.Voucher{}).
		Where("voucher_id = ? AND status = ?", voucherId, "disputed").
		Updates(map[string]interface{}{"status": "slashed", "updated_at": time.Now()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return s.classifyVoucherState(voucherId)
	}
	return nil
}

func (s *State) classifyVoucherState(voucherId string) error {
	var voucher db.Voucher
	if err := s.dbm.GetLiquidityDB().Where("voucher_id = ?", voucherId).First(&voucher).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return ErrVoucherNotFound
		}
		return err
	}
	return ErrVoucherNotPending
}

func (s *State) GetVoucherByID(voucherId string) (*db.Voucher, error) {
	s.liquidityMu.RLock()
	defer s.liquidityMu.RUnlock()

	var voucher db.Voucher
	if err := s.dbm.GetLiquidityDB().Where("voucher_id = ?", voucherId).First(&voucher).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrVoucherNotFound
		}
		return nil, err
	}
	return &voucher, nil
}

func (s *State) GetVouchersByStatus(status string) ([]*db.Voucher, error) {
	s.liquidityMu.RLock()
	defer s.liquidityMu.RUnlock()

	var vouchers []*db.Voucher
	if err := s.dbm.GetLiquidityDB().Where("status = ?", status).Order("id asc").Find(&vouchers).Error; err != nil {
		return nil, err
	}
	return vouchers, nil
}

// PruneTerminalVouchers removes claimed and slashed vouchers older than the
// retention window.
func (s *State) PruneTerminalVouchers(before time.Time) (int64, error) {
	s.liquidityMu.Lock()
	defer s.liquidityMu.Unlock()

	res := s.dbm.GetLiquidityDB().
		Where("status IN (?) AND updated_at < ?", []string{"claimed", "slashed"}, before).
		Delete(&db.Voucher{})
	return res.RowsAffected, res.Error
}
