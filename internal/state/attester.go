package state

import (
	"time"

	"github.com/interoplabs/intent-relayer/internal/db"
	"gorm.io/gorm"
)

// AddAttesterSignature stores one attester's signature over a fill hash.
// A duplicate signer for the same fill hash is ignored so it can never
// count twice toward quorum.
func (s *State) AddAttesterSignature(sig *db.AttesterSignature) error {
	s.intentMu.Lock()
	defer s.intentMu.Unlock()

	var existing db.AttesterSignature
	err := s.dbm.GetIntentDB().
		Where("fill_hash = ? AND signer = ?", sig.FillHash, sig.Signer).
		First(&existing).Error
	if err == nil {
		return nil
	}
	if err != gorm.ErrRecordNotFound {
		return err
	}

	sig.ReceivedAt = time.Now()
	return s.dbm.GetIntentDB().Create(sig).Error
}

// GetAttesterSignatures returns signatures in arrival order; the first k
// distinct signers win the quorum tie-break.
func (s *State) GetAttesterSignatures(fillHash string) ([]*db.AttesterSignature, error) {
	s.intentMu.RLock()
	defer s.intentMu.RUnlock()

	var sigs []*db.AttesterSignature
	if err := s.dbm.GetIntentDB().Where("fill_hash = ?", fillHash).Order("id asc").Find(&sigs).Error; err != nil {
		return nil, err
	}
	return sigs, nil
}
