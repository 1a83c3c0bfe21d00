package p2p

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	log "github.com/sirupsen/logrus"

	"github.com/interoplabs/intent-relayer/internal/oracle"
)

type HeartbeatMessage struct {
	PeerID    string `json:"peer_id"`
	Message   string `json:"message"`
	Timestamp int64  `json:"ts"`
}

func handleHandshake(s network.Stream, node host.Host) {
	buf := make([]byte, 1024)
	n, err := s.Read(buf)
	if err != nil {
		log.Errorf("Error reading handshake message: %v", err)
		return
	}

	handshakeMsg := buf[:n]
	if !bytes.Equal(handshakeMsg, []byte(expectedHandshake)) {
		log.Warn("Invalid handshake message received, closing connection")
		s.Reset()
		node.Network().ClosePeer(s.Conn().RemotePeer())
		return
	}

	if _, err = s.Write(handshakeMsg); err != nil {
		log.Errorf("Error writing handshake response: %v", err)
		return
	}

	log.Info("Handshake successful")
}

// PublishSignature broadcasts a local attester signature, satisfying
// oracle.Gossiper.
func (lp *LibP2PService) PublishSignature(msg oracle.SignatureMessage) error {
	lp.mu.RLock()
	topic := lp.sigTopic
	lp.mu.RUnlock()

	if topic == nil {
		return fmt.Errorf("signature topic not joined yet")
	}

	msgBytes, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return topic.Publish(context.Background(), msgBytes)
}

func (lp *LibP2PService) handleSignatureMessages(ctx context.Context, sub *pubsub.Subscription, node host.Host) {
	for {
		select {
		case <-ctx.Done():
			log.Info("Context cancelled, exiting handleSignatureMessages")
			return
		default:
			msg, err := sub.Next(ctx)
			if err != nil {
				log.Errorf("Error reading message from pubsub: %v", err)
				continue
			}

			if msg.ReceivedFrom == node.ID() {
				log.Debug("Received message from self, ignore")
				continue
			}

			var sigMsg oracle.SignatureMessage
			if err := json.Unmarshal(msg.Data, &sigMsg); err != nil {
				log.Errorf("Error unmarshaling signature message: %v", err)
				continue
			}

			if lp.sink == nil {
				continue
			}
			if err := lp.sink.HandleRemoteSignature(sigMsg); err != nil {
				log.Warnf("Rejected gossiped signature from %s for fill %s: %v",
					sigMsg.Signer, sigMsg.FillHash, err)
			}
		}
	}
}

func handleHeartbeatMessages(ctx context.Context, sub *pubsub.Subscription, node host.Host) {
	for {
		select {
		case <-ctx.Done():
			log.Info("Context cancelled, exiting handleHeartbeatMessages")
			return
		default:
			msg, err := sub.Next(ctx)
			if err != nil {
				log.Errorf("Error reading heartbeat message from pubsub: %v", err)
				continue
			}

			if msg.ReceivedFrom == node.ID() {
				log.Debug("Received heartbeat from self, ignore")
				continue
			}

			var hbMsg HeartbeatMessage
			if err := json.Unmarshal(msg.Data, &hbMsg); err != nil {
				log.Errorf("Error unmarshaling heartbeat message: %v", err)
				continue
			}

			log.Debugf("Received heartbeat from %d-%s: %s", hbMsg.Timestamp, hbMsg.PeerID, hbMsg.Message)
		}
	}
}

func startHeartbeat(ctx context.Context, node host.Host, topic *pubsub.Topic) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			hbMsg := HeartbeatMessage{
				PeerID:    node.ID().String(),
				Message:   "heartbeat",
				Timestamp: time.Now().Unix(),
			}

			msgBytes, err := json.Marshal(hbMsg)
			if err != nil {
				log.Errorf("Failed to marshal heartbeat message: %v", err)
				continue
			}

			if err := topic.Publish(ctx, msgBytes); err != nil {
				log.Errorf("Failed to publish heartbeat message: %v", err)
			}

		case <-ctx.Done():
			return
		}
	}
}
