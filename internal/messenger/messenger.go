package messenger

import (
	"context"
	"fmt"
	"sync"
	"time"

	goerrors "github.com/go-errors/errors"
	"github.com/google/uuid"
	"github.com/interoplabs/intent-relayer/internal/config"
	"github.com/interoplabs/intent-relayer/internal/db"
	"github.com/interoplabs/intent-relayer/internal/state"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Delivery statuses
const (
	STATUS_PENDING   = "pending"
	STATUS_DELIVERED = "delivered"
	STATUS_FAILED    = "failed"
)

var (
	ErrMessageNotFound = goerrors.Errorf("message not found")
	ErrInvalidRoute    = goerrors.Errorf("message route not specified")
)

// Messenger is the authenticated, ordered, delayed message relay between
// two ledgers. A message becomes deliverable only after the finality delay
// configured for its chain pair has elapsed.
type Messenger struct {
	state *state.State
	dbm   *db.DatabaseManager

	delayMu    sync.RWMutex
	pairDelays map[string]time.Duration
}

func NewMessenger(st *state.State, dbm *db.DatabaseManager) *Messenger {
	return &Messenger{
		state:      st,
		dbm:        dbm,
		pairDelays: make(map[string]time.Duration),
	}
}

// SetPairDelay overrides the finality delay for one chain pair.
func (m *Messenger) SetPairDelay(sourceChain, targetChain string, delay time.Duration) {
	m.delayMu.Lock()
	defer m.delayMu.Unlock()
	m.pairDelays[pairKey(sourceChain, targetChain)] = delay
}

func (m *Messenger) delayFor(sourceChain, targetChain string) time.Duration {
	m.delayMu.RLock()
	defer m.delayMu.RUnlock()
	if d, ok := m.pairDelays[pairKey(sourceChain, targetChain)]; ok {
		return d
	}
	return config.AppConfig.MessengerDelay
}

func pairKey(sourceChain, targetChain string) string {
	return fmt.Sprintf("%s->%s", sourceChain, targetChain)
}

// SendMessage enqueues a cross-domain message and returns its id. The
// message stays pending until the pair's finality delay has passed.
func (m *Messenger) SendMessage(sourceChain, targetChain, sender string, payload []byte) (string, error) {
	if sourceChain == "" || targetChain == "" {
		return "", ErrInvalidRoute
	}

	messageId := uuid.New().String()
	now := time.Now()
	msg := &db.CrossDomainMessage{
		MessageId:     messageId,
		SourceChain:   sourceChain,
		TargetChain:   targetChain,
		Sender:        sender,
		Payload:       payload,
		Status:        STATUS_PENDING,
		SentAt:        now,
		DeliverableAt: now.Add(m.delayFor(sourceChain, targetChain)),
		UpdatedAt:     now,
	}
	if err := m.dbm.GetChainDB().Create(msg).Error; err != nil {
		return "", goerrors.Wrap(err, 0)
	}
	log.Debugf("Cross-domain message %s enqueued %s -> %s, deliverable at %v",
		messageId, sourceChain, targetChain, msg.DeliverableAt)
	return messageId, nil
}

func (m *Messenger) DeliveryStatus(messageId string) (string, error) {
	msg, err := m.GetMessage(messageId)
	if err != nil {
		return "", err
	}
	return msg.Status, nil
}

func (m *Messenger) GetMessage(messageId string) (*db.CrossDomainMessage, error) {
	var msg db.CrossDomainMessage
	err := m.dbm.GetChainDB().Where("message_id = ?", messageId).First(&msg).Error
	if err == gorm.ErrRecordNotFound {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, goerrors.Wrap(err, 0)
	}
	return &msg, nil
}

// GetDeliveredBySender lists delivered messages from one sender, oldest
// first. Used by the relayed oracle to find attestation payloads.
func (m *Messenger) GetDeliveredBySender(sender string) ([]*db.CrossDomainMessage, error) {
	var msgs []*db.CrossDomainMessage
	err := m.dbm.GetChainDB().
		Where("sender = ? AND status = ?", sender, STATUS_DELIVERED).
		Order("id asc").
		Find(&msgs).Error
	if err != nil {
		return nil, goerrors.Wrap(err, 0)
	}
	return msgs, nil
}

func (m *Messenger) Start(ctx context.Context) {
	go m.deliveryLoop(ctx)
}

// deliveryLoop flips pending messages to delivered once their finality
// delay has elapsed, in send order per chain pair.
func (m *Messenger) deliveryLoop(ctx context.Context) {
	ticker := time.NewTicker(config.AppConfig.MessengerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("Messenger stopping...")
			return
		case <-ticker.C:
			if err := m.deliverDue(); err != nil {
				log.Errorf("Messenger delivery pass failed: %v", err)
			}
		}
	}
}

func (m *Messenger) deliverDue() error {
	var due []*db.CrossDomainMessage
	err := m.dbm.GetChainDB().
		Where("status = ? AND deliverable_at <= ?", STATUS_PENDING, time.Now()).
		Order("id asc").
		Find(&due).Error
	if err != nil {
		return goerrors.Wrap(err, 0)
	}

	for _, msg := range due {
		now := time.Now()
		res := m.dbm.GetChainDB().Model(&db.CrossDomainMessage{}).
			Where("message_id = ? AND status = ?", msg.MessageId, STATUS_PENDING).
			Updates(map[string]interface{}{"status": STATUS_DELIVERED, "delivered_at": &now, "updated_at": now})
		if res.Error != nil {
			return goerrors.Wrap(res.Error, 0)
		}
		if res.RowsAffected == 0 {
			continue
		}
		msg.Status = STATUS_DELIVERED
		m.state.EventBus.Publish(state.MessageDelivered, *msg)
		log.Debugf("Cross-domain message %s delivered", msg.MessageId)
	}
	return nil
}
