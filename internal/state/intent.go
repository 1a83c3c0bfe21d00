package state

import (
	"time"

	"github.com/interoplabs/intent-relayer/internal/db"
	"gorm.io/gorm"
)

// AddOpenIntent escrows the input value and opens the intent in one
// transaction. Re-submitting the same intent id is a no-op so retransmission
// after a network failure never double-escrows. The bool reports whether
// this call created the row, so the caller can return a debit it took for
// an open that turned out to be a duplicate.
func (s *State) AddOpenIntent(intent *db.Intent, escrow *db.EscrowEntry) (bool, error) {
	s.intentMu.Lock()
	defer s.intentMu.Unlock()

	created := false
	err := s.dbm.GetIntentDB().Transaction(func(tx *gorm.DB) error {
		var existing db.Intent
		err := tx.Where("intent_id = ?", intent.IntentId).First(&existing).Error
		if err == nil {
			// duplicate open, tolerate the retry
			return nil
		}
		if err != gorm.ErrRecordNotFound {
			return err
		}

		intent.Status = "open"
		intent.CreatedAt = time.Now()
		intent.UpdatedAt = time.Now()
		if err := tx.Create(intent).Error; err != nil {
			return err
		}

		escrow.IntentId = intent.IntentId
		escrow.Status = "held"
		escrow.UpdatedAt = time.Now()
		if err := tx.Create(escrow).Error; err != nil {
			return err
		}
		created = true
		return nil
	})
	if err != nil {
		return false, err
	}

	if created {
		s.EventBus.Publish(IntentOpened, *intent)
	}
	return created, nil
}

// MarkIntentFilled records the winning fill. The status update is a
// compare-and-set on "open", the loser of a fill race gets ErrAlreadyFilled
// with no rows written.
func (s *State) MarkIntentFilled(fill *db.Fill) error {
	s.intentMu.Lock()
	defer s.intentMu.Unlock()

	err := s.dbm.GetIntentDB().Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&db.Intent{}).
			Where("intent_id = ? AND status = ?", fill.IntentId, "open").
			Updates(map[string]interface{}{"status": "filled", "updated_at": time.Now()})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return s.classifyIntentState(tx, fill.IntentId, "open")
		}

		fill.FilledAt = time.Now()
		fill.UpdatedAt = time.Now()
		return tx.Create(fill).Error
	})
	if err != nil {
		return err
	}

	s.EventBus.Publish(IntentFilled, *fill)
	return nil
}

// MarkIntentSettled releases escrow to the solver and stores the accepted
// attestation. feeAmount is withheld from the payout.
func (s *State) MarkIntentSettled(att *db.Attestation, payTo string, feeAmount string) error {
	s.intentMu.Lock()
	defer s.intentMu.Unlock()

	err := s.dbm.GetIntentDB().Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&db.Intent{}).
			Where("intent_id = ? AND status = ?", att.IntentId, "filled").
			Updates(map[string]interface{}{"status": "settled", "updated_at": time.Now()})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return s.classifyIntentState(tx, att.IntentId, "filled")
		}

		att.AttestedAt = time.Now()
		if err := tx.Create(att).Error; err != nil {
			return err
		}

		return tx.Model(&db.EscrowEntry{}).
			Where("intent_id = ? AND status = ?", att.IntentId, "held").
			Updates(map[string]interface{}{
				"status":     "released",
				"paid_to":    payTo,
				"fee_amount": feeAmount,
				"updated_at": time.Now(),
			}).Error
	})
	if err != nil {
		return err
	}

	s.EventBus.Publish(IntentSettled, *att)
	return nil
}

// MarkIntentRefunded returns escrow to the original user. Both open and
// filled intents can refund; a filled intent whose deadline passed before
// the claim landed would otherwise strand the escrow. Refunding an
// already-refunded intent is a no-op, not an error, to tolerate retries.
// The bool reports whether this call performed the transition, so the
// caller credits the user exactly once.
func (s *State) MarkIntentRefunded(intentId string) (bool, error) {
	s.intentMu.Lock()
	defer s.intentMu.Unlock()

	refunded := false
	err := s.dbm.GetIntentDB().Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&db.Intent{}).
			Where("intent_id = ? AND status IN (?)", intentId, []string{"open", "filled"}).
			Updates(map[string]interface{}{"status": "refunded", "updated_at": time.Now()})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var intent db.Intent
			if err := tx.Where("intent_id = ?", intentId).First(&intent).Error; err != nil {
				if err == gorm.ErrRecordNotFound {
					return ErrIntentNotFound
				}
				return err
			}
			if intent.Status == "refunded" {
				return nil
			}
			return ErrIntentNotOpen
		}

		refunded = true
		return tx.Model(&db.EscrowEntry{}).
			Where("intent_id = ? AND status = ?", intentId, "held").
			Updates(map[string]interface{}{"status": "refunded", "updated_at": time.Now()}).Error
	})
	if err != nil {
		return false, err
	}

	if refunded {
		s.EventBus.Publish(IntentRefunded, intentId)
	}
	return refunded, nil
}

// classifyIntentState maps a lost compare-and-set into the right sentinel,
// given the phase the caller expected the intent to be in.
func (s *State) classifyIntentState(tx *gorm.DB, intentId string, expected string) error {
	var intent db.Intent
	if err := tx.Where("intent_id = ?", intentId).First(&intent).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return ErrIntentNotFound
		}
		return err
	}
	switch intent.Status {
	case "filled":
		if expected == "open" {
			return ErrAlreadyFilled
		}
		return ErrIntentNotOpen
	case "settled":
		if expected == "filled" {
			return ErrAlreadySettled
		}
		return ErrAlreadyFilled
	case "open":
		if expected == "filled" {
			return ErrIntentNotFilled
		}
		return ErrIntentNotOpen
	default:
		return ErrIntentNotOpen
	}
}

func (s *State) GetIntentByID(intentId string) (*db.Intent, error) {
	s.intentMu.RLock()
	defer s.intentMu.RUnlock()

	var intent db.Intent
	if err := s.dbm.GetIntentDB().Where("intent_id = ?", intentId).First(&intent).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrIntentNotFound
		}
		return nil, err
	}
	return &intent, nil
}

func (s *State) GetIntentsByStatus(status string) ([]*db.Intent, error) {
	s.intentMu.RLock()
	defer s.intentMu.RUnlock()

	var intents []*db.Intent
	if err := s.dbm.GetIntentDB().Where("status = ?", status).Order("id asc").Find(&intents).Error; err != nil {
		return nil, err
	}
	return intents, nil
}

// GetExpiredRefundableIntents returns open and filled intents whose
// deadline has passed. Neither can settle any more, so both are refund
// candidates.
func (s *State) GetExpiredRefundableIntents(now int64) ([]*db.Intent, error) {
	s.intentMu.RLock()
	defer s.intentMu.RUnlock()

	var intents []*db.Intent
	if err := s.dbm.GetIntentDB().Where("status IN (?) AND deadline < ?", []string{"open", "filled"}, now).Order("id asc").Find(&intents).Error; err != nil {
		return nil, err
	}
	return intents, nil
}

func (s *State) GetFillByIntent(intentId string) (*db.Fill, error) {
	s.intentMu.RLock()
	defer s.intentMu.RUnlock()

	var fill db.Fill
	if err := s.dbm.GetIntentDB().Where("intent_id = ?", intentId).First(&fill).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrIntentNotFilled
		}
		return nil, err
	}
	return &fill, nil
}

func (s *State) GetFillsBySolver(solver string) ([]*db.Fill, error) {
	s.intentMu.RLock()
	defer s.intentMu.RUnlock()

	var fills []*db.Fill
	if err := s.dbm.GetIntentDB().Where("solver = ?", solver).Find(&fills).Error; err != nil {
		return nil, err
	}
	return fills, nil
}

func (s *State) GetEscrowByIntent(intentId string) (*db.EscrowEntry, error) {
	s.intentMu.RLock()
	defer s.intentMu.RUnlock()

	var escrow db.EscrowEntry
	if err := s.dbm.GetIntentDB().Where("intent_id = ?", intentId).First(&escrow).Error; err != nil {
		return nil, err
	}
	return &escrow, nil
}

func (s *State) GetAttestationByIntent(intentId string) (*db.Attestation, error) {
	s.intentMu.RLock()
	defer s.intentMu.RUnlock()

	var att db.Attestation
	if err := s.dbm.GetIntentDB().Where("intent_id = ?", intentId).First(&att).Error; err != nil {
		return nil, err
	}
	return &att, nil
}

// PruneTerminalIntents removes settled and refunded intents older than the
// retention window, together with their fills, attestations and escrow rows.
func (s *State) PruneTerminalIntents(before time.Time) (int64, error) {
	s.intentMu.Lock()
	defer s.intentMu.Unlock()

	var pruned int64
	err := s.dbm.GetIntentDB().Transaction(func(tx *gorm.DB) error {
		var intents []*db.Intent
		if err := tx.Where("status IN (?) AND updated_at < ?", []string{"settled", "refunded"}, before).Find(&intents).Error; err != nil {
			return err
		}
		for _, intent := range intents {
			if err := tx.Where("intent_id = ?", intent.IntentId).Delete(&db.Fill{}).Error; err != nil {
				return err
			}
			if err := tx.Where("intent_id = ?", intent.IntentId).Delete(&db.Attestation{}).Error; err != nil {
				return err
			}
			if err := tx.Where("intent_id = ?", intent.IntentId).Delete(&db.EscrowEntry{}).Error; err != nil {
				return err
			}
			if err := tx.Delete(intent).Error; err != nil {
				return err
			}
			pruned++
		}
		return nil
	})
	return pruned, err
}
