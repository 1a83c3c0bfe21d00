package state

import (
	"time"

	"github.com/interoplabs/intent-relayer/internal/db"
)

// RecordLiability books funds owed after an unwind transfer failed, so the
// amount is not lost to a log line.
func (s *State) RecordLiability(l *db.Liability) error {
	l.CreatedAt = time.Now()
	return s.dbm.GetChainDB().Create(l).Error
}

func (s *State) GetLiabilities(creditor string) ([]*db.Liability, error) {
	var liabilities []*db.Liability
	if err := s.dbm.GetChainDB().Where("creditor = ?", creditor).Order("id asc").Find(&liabilities).Error; err != nil {
		return nil, err
	}
	return liabilities, nil
}
