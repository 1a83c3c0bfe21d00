package p2p

import (
	"context"
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	libp2p "github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/peerstore"
	"github.com/libp2p/go-libp2p/core/protocol"
	tcp "github.com/libp2p/go-libp2p/p2p/transport/tcp"
	"github.com/multiformats/go-multiaddr"
	log "github.com/sirupsen/logrus"

	"github.com/interoplabs/intent-relayer/internal/config"
	"github.com/interoplabs/intent-relayer/internal/oracle"
)

const (
	handshakeProtocol  = "/interop/attester/handshake/1.0.0"
	expectedHandshake  = "interopattesterhello"
	signatureTopicName = "attestation-signatures"
	heartbeatTopicName = "heartbeat-topic"
	privKeyFile        = "node_private_key.pem"
)

// SignatureSink receives attester signatures gossiped by peers.
type SignatureSink interface {
	HandleRemoteSignature(msg oracle.SignatureMessage) error
}

// LibP2PService gossips attester signatures between relayer nodes so every
// node can assemble a quorum proof locally.
type LibP2PService struct {
	sink SignatureSink

	mu       sync.RWMutex
	sigTopic *pubsub.Topic
}

func NewLibP2PService(sink SignatureSink) *LibP2PService {
	return &LibP2PService{sink: sink}
}

func (lp *LibP2PService) Start(ctx context.Context) {
	node, ps, err := createNodeWithPubSub(ctx)
	if err != nil {
		log.Fatalf("Failed to create libp2p node: %v", err)
	}

	printNodeAddrInfo(node)

	node.SetStreamHandler(protocol.ID(handshakeProtocol), func(s network.Stream) {
		handleHandshake(s, node)
		s.Close()
	})

	for _, addr := range strings.Split(config.AppConfig.Libp2pBootNodes, ",") {
		if addr == "" {
			continue
		}
		connectToBootNode(ctx, node, addr)
	}

	sigTopic, err := ps.Join(signatureTopicName)
	if err != nil {
		log.Fatalf("Failed to join signature topic: %v", err)
	}
	sub, err := sigTopic.Subscribe()
	if err != nil {
		log.Fatalf("Failed to subscribe to signature topic: %v", err)
	}

	hbTopic, err := ps.Join(heartbeatTopicName)
	if err != nil {
		log.Fatalf("Failed to join heartbeat topic: %v", err)
	}
	hbSub, err := hbTopic.Subscribe()
	if err != nil {
		log.Fatalf("Failed to subscribe to heartbeat topic: %v", err)
	}

	lp.mu.Lock()
	lp.sigTopic = sigTopic
	lp.mu.Unlock()

	go lp.handleSignatureMessages(ctx, sub, node)
	go handleHeartbeatMessages(ctx, hbSub, node)
	go startHeartbeat(ctx, node, hbTopic)

	<-ctx.Done()

	log.Info("LibP2PService is stopping...")

	if err := node.Close(); err != nil {
		log.Errorf("Error closing libp2p node: %v", err)
	}

	log.Info("LibP2PService has stopped.")
}

func createNodeWithPubSub(ctx context.Context) (host.Host, *pubsub.PubSub, error) {
	privKey, err := loadOrCreatePrivateKey(privKeyFile)
	if err != nil {
		return nil, nil, err
	}

	listenAddr := fmt.Sprintf("/ip4/0.0.0.0/tcp/%d", config.AppConfig.Libp2pPort)
	node, err := libp2p.New(
		libp2p.Identity(privKey),
		libp2p.Transport(tcp.NewTCPTransport), //TCP only
		libp2p.ListenAddrStrings(listenAddr),  // ipv4 only
	)
	if err != nil {
		return nil, nil, err
	}

	ps, err := pubsub.NewGossipSub(ctx, node)
	if err != nil {
		return nil, nil, err
	}

	return node, ps, nil
}

func connectToBootNode(ctx context.Context, node host.Host, bootNodeAddr string) {
	multiAddr, err := multiaddr.NewMultiaddr(bootNodeAddr)
	if err != nil {
		log.Printf("Failed to parse bootnode address: %v", err)
		return
	}

	peerInfo, err := peer.AddrInfoFromP2pAddr(multiAddr)
	if err != nil {
		log.Printf("Failed to get peer info from address: %v", err)
		return
	}

	node.Peerstore().AddAddrs(peerInfo.ID, peerInfo.Addrs, peerstore.PermanentAddrTTL)
	if err := node.Connect(ctx, *peerInfo); err != nil {
		log.Errorf("Failed to connect to bootnode: %v", err)
		return
	}
	log.Infof("Connected to bootnode: %s", peerInfo.ID.String())

	// Handshake after connect
	s, err := node.NewStream(ctx, peerInfo.ID, protocol.ID(handshakeProtocol))
	if err != nil {
		log.Errorf("Failed to create handshake stream to peer %s: %v", peerInfo.ID, err)
		return
	}

	if _, err = s.Write([]byte(expectedHandshake)); err != nil {
		log.Errorf("Failed to send handshake to peer %s: %v", peerInfo.ID, err)
		s.Reset()
		return
	}

	s.Close()
}

func loadOrCreatePrivateKey(fileName string) (crypto.PrivKey, error) {
	dbDir := config.AppConfig.DbDir
	if err := os.MkdirAll(dbDir, os.ModePerm); err != nil {
		log.Fatalf("Failed to create database directory: %v", err)
	}

	pemPath := filepath.Join(dbDir, fileName)
	if _, err := os.Stat(pemPath); err == nil {
		privKeyBytes, err := os.ReadFile(pemPath)
		if err != nil {
			return nil, err
		}
		return crypto.UnmarshalPrivateKey(privKeyBytes)
	}

	privKey, _, err := crypto.GenerateKeyPairWithReader(crypto.Ed25519, 2048, rand.Reader)
	if err != nil {
		return nil, err
	}

	privKeyBytes, err := crypto.MarshalPrivateKey(privKey)
	if err != nil {
		return nil, err
	}

	if err := os.WriteFile(pemPath, privKeyBytes, 0600); err != nil {
		return nil, err
	}

	return privKey, nil
}

func printNodeAddrInfo(node host.Host) {
	addrs := node.Addrs()
	peerID := node.ID().String()

	for _, addr := range addrs {
		fullAddr := fmt.Sprintf("%s/p2p/%s", addr, peerID)
		log.Infof("Bootnode address: %s", fullAddr)
	}
}
