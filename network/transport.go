// Package network provides direct TCP networking between consensus nodes.
package network

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"sync"
	"time"

	"github.com/ahwlsqja/wbft-cosmos/consensus/wbft"
	"github.com/ahwlsqja/wbft-cosmos/types"
)

const dialTimeout = 10 * time.Second

// Peer represents a remote peer in the network.
type Peer struct {
	ID      types.ID
	Address string
	conn    net.Conn
	mu      sync.Mutex
}

// Transport handles P2P communication between consensus nodes over
// newline-delimited JSON on raw TCP. It implements wbft.Transport.
type Transport struct {
	mu sync.RWMutex

	// Local node information
	nodeID  types.ID
	address string

	// Network listener
	listener net.Listener

	// Connected peers
	peers map[types.ID]*Peer

	// Message handler callback
	messageHandler func(*wbft.Message)

	// Logger
	logger *log.Logger

	// Running state
	running bool
	done    chan struct{}
}

// TransportConfig holds configuration for the transport layer.
type TransportConfig struct {
	NodeID  types.ID
	Address string
	Peers   []PeerConfig
}

// PeerConfig holds configuration for a peer.
type PeerConfig struct {
	ID      types.ID
	Address string
}

// NewTransport creates a new P2P transport.
func NewTransport(config *TransportConfig) *Transport {
	return &Transport{
		nodeID:  config.NodeID,
		address: config.Address,
		peers:   make(map[types.ID]*Peer),
		logger:  log.Default(),
		done:    make(chan struct{}),
	}
}

// Start starts the transport layer.
func (t *Transport) Start() error {
	listener, err := net.Listen("tcp", t.address)
	if err != nil {
		return fmt.Errorf("failed to start listener: %w", err)
	}

	t.mu.Lock()
	t.listener = listener
	t.running = true
	t.mu.Unlock()

	t.logger.Printf("[Transport] Listening on %s", t.address)

	// Start accepting connections
	go t.acceptConnections()

	return nil
}

// Stop stops the transport layer.
func (t *Transport) Stop() error {
	t.mu.Lock()
	t.running = false
	t.mu.Unlock()

	close(t.done)

	// Close listener
	if t.listener != nil {
		t.listener.Close()
	}

	// Close all peer connections
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, peer := range t.peers {
		peer.mu.Lock()
		if peer.conn != nil {
			peer.conn.Close()
		}
		peer.mu.Unlock()
	}

	return nil
}

// acceptConnections accepts incoming connections.
func (t *Transport) acceptConnections() {
	for {
		select {
		case <-t.done:
			return
		default:
		}

		conn, err := t.listener.Accept()
		if err != nil {
			t.mu.RLock()
			running := t.running
			t.mu.RUnlock()
			if !running {
				return
			}
			t.logger.Printf("[Transport] Accept error: %v", err)
			continue
		}

		go t.handleConnection(conn)
	}
}

// handshake 연결 직후 양쪽이 교환하는 노드 식별 정보
type handshake struct {
	NodeID string `json:"node_id"`
}

// handleConnection handles an incoming connection. The dialer sends its
// handshake first; we reply with ours so both sides learn the peer's
// identity over the same connection.
func (t *Transport) handleConnection(conn net.Conn) {
	defer conn.Close()

	// Read handshake
	decoder := json.NewDecoder(conn)
	var hs handshake
	if err := decoder.Decode(&hs); err != nil {
		t.logger.Printf("[Transport] Handshake failed: %v", err)
		return
	}
	peerID, err := types.IDFromHex(hs.NodeID)
	if err != nil {
		t.logger.Printf("[Transport] Handshake carried a bad node id: %v", err)
		return
	}

	// Reply with our own identity
	if err := json.NewEncoder(conn).Encode(&handshake{NodeID: t.nodeID.String()}); err != nil {
		t.logger.Printf("[Transport] Handshake reply failed: %v", err)
		return
	}

	// Register peer
	t.mu.Lock()
	peer := &Peer{
		ID:      peerID,
		Address: conn.RemoteAddr().String(),
		conn:    conn,
	}
	t.peers[peerID] = peer
	t.mu.Unlock()

	t.logger.Printf("[Transport] Connected to peer %s", peerID.Short())

	t.readMessages(decoder, peerID)
}

// readMessages reads messages from a peer until the connection drops,
// then deregisters the peer.
func (t *Transport) readMessages(decoder *json.Decoder, peerID types.ID) {
	for {
		select {
		case <-t.done:
			return
		default:
		}

		var msg wbft.Message
		if err := decoder.Decode(&msg); err != nil {
			if err != io.EOF {
				t.logger.Printf("[Transport] Read error from %s: %v", peerID.Short(), err)
			}
			break
		}

		// Handle message
		t.mu.RLock()
		handler := t.messageHandler
		t.mu.RUnlock()
		if handler != nil {
			handler(&msg)
		}
	}

	// Remove peer on disconnect
	t.mu.Lock()
	delete(t.peers, peerID)
	t.mu.Unlock()

	t.logger.Printf("[Transport] Disconnected from peer %s", peerID.Short())
}

// Connect connects to a remote peer.
func (t *Transport) Connect(peerID types.ID, address string) error {
	conn, err := net.DialTimeout("tcp", address, dialTimeout)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", address, err)
	}

	// Send handshake
	if err := json.NewEncoder(conn).Encode(&handshake{NodeID: t.nodeID.String()}); err != nil {
		conn.Close()
		return fmt.Errorf("handshake failed: %w", err)
	}

	// Read the reply and make sure we dialed who we think we dialed
	decoder := json.NewDecoder(conn)
	conn.SetReadDeadline(time.Now().Add(dialTimeout))
	var hs handshake
	if err := decoder.Decode(&hs); err != nil {
		conn.Close()
		return fmt.Errorf("handshake reply failed: %w", err)
	}
	conn.SetReadDeadline(time.Time{})
	remoteID, err := types.IDFromHex(hs.NodeID)
	if err != nil {
		conn.Close()
		return fmt.Errorf("handshake reply carried a bad node id: %w", err)
	}
	if remoteID != peerID {
		conn.Close()
		return fmt.Errorf("peer at %s identified as %s, expected %s", address, remoteID.Short(), peerID.Short())
	}

	// Register peer
	t.mu.Lock()
	peer := &Peer{
		ID:      peerID,
		Address: address,
		conn:    conn,
	}
	t.peers[peerID] = peer
	t.mu.Unlock()

	t.logger.Printf("[Transport] Connected to peer %s at %s", peerID.Short(), address)

	// Start reading from peer
	go func() {
		defer conn.Close()
		t.readMessages(decoder, peerID)
	}()

	return nil
}

// Broadcast 모든 연결된 피어들에게 메시지를 전송함
func (t *Transport) Broadcast(msg *wbft.Message) error {
	t.mu.RLock()
	peers := make([]*Peer, 0, len(t.peers))
	for _, peer := range t.peers {
		peers = append(peers, peer)
	}
	t.mu.RUnlock()

	var lastErr error
	for _, peer := range peers {
		if err := t.sendToPeer(peer, msg); err != nil {
			lastErr = err
			t.logger.Printf("[Transport] Failed to send to %s: %v", peer.ID.Short(), err)
		}
	}

	return lastErr
}

// Send sends a message to a specific peer.
func (t *Transport) Send(id types.ID, msg *wbft.Message) error {
	t.mu.RLock()
	peer, exists := t.peers[id]
	t.mu.RUnlock()

	if !exists {
		return fmt.Errorf("peer %s not found", id.Short())
	}

	return t.sendToPeer(peer, msg)
}

// sendToPeer 한 특정한 노드에게 메시지를 TCP 소켓을 통해 전송함
//
// json.Encoder는 "어디에 쓸지"를 생성자에서 받음
// - json.NewEncoder(os.Stdout)  → 표준출력에 씀
// - json.NewEncoder(peer.conn)  → TCP 소켓에 씀 = 네트워크 전송!
//
// 즉, Encode()는 "직렬화 + Write()"를 한 번에 수행하는 함수
func (t *Transport) sendToPeer(peer *Peer, msg *wbft.Message) error {
	// TCP는 바이트 스트림이므로, 동시 쓰기 시 메시지가 섞일 수 있음
	peer.mu.Lock()
	defer peer.mu.Unlock()

	if peer.conn == nil {
		return fmt.Errorf("no connection to peer %s", peer.ID.Short())
	}

	encoder := json.NewEncoder(peer.conn)
	return encoder.Encode(msg)
}

// SetMessageHandler sets the callback for incoming messages.
func (t *Transport) SetMessageHandler(handler func(*wbft.Message)) {
	t.mu.Lock()
	t.messageHandler = handler
	t.mu.Unlock()
}

// GetPeers returns the list of connected peer IDs.
func (t *Transport) GetPeers() []types.ID {
	t.mu.RLock()
	defer t.mu.RUnlock()

	peers := make([]types.ID, 0, len(t.peers))
	for id := range t.peers {
		peers = append(peers, id)
	}
	return peers
}

// PeerCount returns the number of connected peers.
func (t *Transport) PeerCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.peers)
}

// MockTransport records outgoing messages for testing.
type MockTransport struct {
	mu             sync.RWMutex
	nodeID         types.ID
	messageHandler func(*wbft.Message)
	sentMessages   []*wbft.Message
	peers          []types.ID
}

// NewMockTransport creates a new mock transport.
func NewMockTransport(nodeID types.ID, peers []types.ID) *MockTransport {
	return &MockTransport{
		nodeID:       nodeID,
		sentMessages: make([]*wbft.Message, 0),
		peers:        peers,
	}
}

// Broadcast records the message for testing.
func (mt *MockTransport) Broadcast(msg *wbft.Message) error {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	mt.sentMessages = append(mt.sentMessages, msg)
	return nil
}

// Send records the message for testing.
func (mt *MockTransport) Send(id types.ID, msg *wbft.Message) error {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	mt.sentMessages = append(mt.sentMessages, msg)
	return nil
}

// SetMessageHandler sets the message handler.
func (mt *MockTransport) SetMessageHandler(handler func(*wbft.Message)) {
	mt.mu.Lock()
	mt.messageHandler = handler
	mt.mu.Unlock()
}

// SimulateReceive simulates receiving a message.
func (mt *MockTransport) SimulateReceive(msg *wbft.Message) {
	mt.mu.RLock()
	handler := mt.messageHandler
	mt.mu.RUnlock()
	if handler != nil {
		handler(msg)
	}
}

// GetSentMessages returns all sent messages.
func (mt *MockTransport) GetSentMessages() []*wbft.Message {
	mt.mu.RLock()
	defer mt.mu.RUnlock()
	out := make([]*wbft.Message, len(mt.sentMessages))
	copy(out, mt.sentMessages)
	return out
}

// ClearSentMessages clears the sent messages.
func (mt *MockTransport) ClearSentMessages() {
	mt.mu.Lock()
	defer mt.mu.Unlock()
	mt.sentMessages = mt.sentMessages[:0]
}
