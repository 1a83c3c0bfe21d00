package oracle

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/interoplabs/intent-relayer/internal/config"
	"github.com/interoplabs/intent-relayer/internal/db"
	"github.com/interoplabs/intent-relayer/internal/messenger"
	"github.com/interoplabs/intent-relayer/internal/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const trustedSender = "0xregistry"

func newTestMessenger(t *testing.T) *messenger.Messenger {
	config.AppConfig.DbDir = t.TempDir()
	config.AppConfig.MessengerDelay = 0
	config.AppConfig.MessengerInterval = 10 * time.Millisecond
	dbm := db.NewDatabaseManager()
	st := state.InitializeState(dbm)
	return messenger.NewMessenger(st, dbm)
}

func testContext(t *testing.T) (context.Context, context.CancelFunc) {
	t.Helper()
	return context.WithCancel(context.Background())
}

func sendAttestation(t *testing.T, m *messenger.Messenger, sender string, intentId, fillHash common.Hash) string {
	payload, err := json.Marshal(AttestationPayload{
		IntentId: intentId.Hex(),
		FillHash: fillHash.Hex(),
	})
	require.NoError(t, err)
	messageId, err := m.SendMessage("dest", "source", sender, payload)
	require.NoError(t, err)
	return messageId
}

func waitDelivered(t *testing.T, m *messenger.Messenger, messageId string) {
	require.Eventually(t, func() bool {
		status, err := m.DeliveryStatus(messageId)
		return err == nil && status == messenger.STATUS_DELIVERED
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRelayedVerify(t *testing.T) {
	m := newTestMessenger(t)
	ctx, cancel := testContext(t)
	defer cancel()
	m.Start(ctx)

	intentId := common.HexToHash("0x01")
	fillHash := common.HexToHash("0x02")
	messageId := sendAttestation(t, m, trustedSender, intentId, fillHash)
	waitDelivered(t, m, messageId)

	v := NewRelayedVerifier(m, trustedSender)
	assert.Equal(t, STRATEGY_RELAYED, v.Strategy())
	assert.NoError(t, v.Verify(intentId, fillHash, []byte(messageId)))
}

func TestRelayedVerifyRejectsPendingMessage(t *testing.T) {
	m := newTestMessenger(t)
	m.SetPairDelay("dest", "source", time.Hour)

	intentId := common.HexToHash("0x01")
	fillHash := common.HexToHash("0x02")
	messageId := sendAttestation(t, m, trustedSender, intentId, fillHash)

	v := NewRelayedVerifier(m, trustedSender)
	assert.Equal(t, ErrMessagePending, v.Verify(intentId, fillHash, []byte(messageId)))
}

func TestRelayedVerifyRejectsUntrustedSender(t *testing.T) {
	m := newTestMessenger(t)
	ctx, cancel := testContext(t)
	defer cancel()
	m.Start(ctx)

	intentId := common.HexToHash("0x01")
	fillHash := common.HexToHash("0x02")
	messageId := sendAttestation(t, m, "0xmallory", intentId, fillHash)
	waitDelivered(t, m, messageId)

	v := NewRelayedVerifier(m, trustedSender)
	assert.Equal(t, ErrUntrustedSender, v.Verify(intentId, fillHash, []byte(messageId)))
}

func TestRelayedVerifyRejectsWrongBinding(t *testing.T) {
	m := newTestMessenger(t)
	ctx, cancel := testContext(t)
	defer cancel()
	m.Start(ctx)

	messageId := sendAttestation(t, m, trustedSender, common.HexToHash("0x01"), common.HexToHash("0x02"))
	waitDelivered(t, m, messageId)

	v := NewRelayedVerifier(m, trustedSender)
	assert.Equal(t, ErrFillHashMismatch, v.Verify(common.HexToHash("0x01"), common.HexToHash("0x03"), []byte(messageId)))
	assert.Equal(t, ErrBadProof, v.Verify(common.HexToHash("0x01"), common.HexToHash("0x02"), []byte("missing")))
	assert.Equal(t, ErrBadProof, v.Verify(common.HexToHash("0x01"), common.HexToHash("0x02"), nil))
}

func TestRelayedSourceFindsProof(t *testing.T) {
	m := newTestMessenger(t)
	ctx, cancel := testContext(t)
	defer cancel()
	m.Start(ctx)

	intentId := common.HexToHash("0x01")
	fillHash := common.HexToHash("0x02")

	source := NewRelayedSource(m, trustedSender)
	_, ready, err := source.ProofFor(intentId, fillHash)
	require.NoError(t, err)
	assert.False(t, ready)

	messageId := sendAttestation(t, m, trustedSender, intentId, fillHash)
	waitDelivered(t, m, messageId)

	proof, ready, err := source.ProofFor(intentId, fillHash)
	require.NoError(t, err)
	require.True(t, ready)
	assert.Equal(t, messageId, string(proof))

	v := NewRelayedVerifier(m, trustedSender)
	assert.NoError(t, v.Verify(intentId, fillHash, proof))
}
