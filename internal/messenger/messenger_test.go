package messenger

import (
	"testing"
	"time"

	"github.com/interoplabs/intent-relayer/internal/config"
	"github.com/interoplabs/intent-relayer/internal/db"
	"github.com/interoplabs/intent-relayer/internal/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMessenger(t *testing.T) (*Messenger, *state.State) {
	config.AppConfig.DbDir = t.TempDir()
	config.AppConfig.MessengerDelay = 0
	dbm := db.NewDatabaseManager()
	st := state.InitializeState(dbm)
	return NewMessenger(st, dbm), st
}

func TestSendAndDeliverMessage(t *testing.T) {
	m, _ := newTestMessenger(t)

	messageId, err := m.SendMessage("source", "anchor", "0xsender", []byte(`{"k":"v"}`))
	require.NoError(t, err)
	require.NotEmpty(t, messageId)

	status, err := m.DeliveryStatus(messageId)
	require.NoError(t, err)
	assert.Equal(t, STATUS_PENDING, status)

	require.NoError(t, m.deliverDue())

	status, err = m.DeliveryStatus(messageId)
	require.NoError(t, err)
	assert.Equal(t, STATUS_DELIVERED, status)

	msg, err := m.GetMessage(messageId)
	require.NoError(t, err)
	assert.NotNil(t, msg.DeliveredAt)
}

func TestFinalityDelayHoldsDelivery(t *testing.T) {
	m, _ := newTestMessenger(t)
	m.SetPairDelay("source", "anchor", time.Hour)

	messageId, err := m.SendMessage("source", "anchor", "0xsender", []byte("payload"))
	require.NoError(t, err)

	require.NoError(t, m.deliverDue())

	status, err := m.DeliveryStatus(messageId)
	require.NoError(t, err)
	assert.Equal(t, STATUS_PENDING, status)
}

func TestDeliveryPreservesSendOrder(t *testing.T) {
	m, st := newTestMessenger(t)

	ch := make(chan interface{}, 8)
	st.EventBus.Subscribe(state.MessageDelivered, ch)

	first, err := m.SendMessage("source", "anchor", "0xsender", []byte("one"))
	require.NoError(t, err)
	second, err := m.SendMessage("source", "anchor", "0xsender", []byte("two"))
	require.NoError(t, err)

	require.NoError(t, m.deliverDue())

	got1 := (<-ch).(db.CrossDomainMessage)
	got2 := (<-ch).(db.CrossDomainMessage)
	assert.Equal(t, first, got1.MessageId)
	assert.Equal(t, second, got2.MessageId)
}

func TestDeliverDueIsIdempotent(t *testing.T) {
	m, st := newTestMessenger(t)

	ch := make(chan interface{}, 8)
	st.EventBus.Subscribe(state.MessageDelivered, ch)

	_, err := m.SendMessage("source", "anchor", "0xsender", []byte("payload"))
	require.NoError(t, err)

	require.NoError(t, m.deliverDue())
	require.NoError(t, m.deliverDue())

	assert.Len(t, ch, 1)
}

func TestGetMessageNotFound(t *testing.T) {
	m, _ := newTestMessenger(t)

	_, err := m.GetMessage("missing")
	assert.Equal(t, ErrMessageNotFound, err)

	_, err = m.DeliveryStatus("missing")
	assert.Equal(t, ErrMessageNotFound, err)
}

func TestGetDeliveredBySender(t *testing.T) {
	m, _ := newTestMessenger(t)

	_, err := m.SendMessage("source", "anchor", "0xalice", []byte("a"))
	require.NoError(t, err)
	_, err = m.SendMessage("source", "anchor", "0xbob", []byte("b"))
	require.NoError(t, err)
	require.NoError(t, m.deliverDue())

	msgs, err := m.GetDeliveredBySender("0xalice")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, []byte("a"), msgs[0].Payload)
}
