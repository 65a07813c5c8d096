// Package transport provides gRPC-based P2P networking between
// consensus nodes.
package transport

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/timestamppb"

	consensusv1 "github.com/ahwlsqja/wbft-cosmos/api/consensus/v1"
	"github.com/ahwlsqja/wbft-cosmos/consensus/wbft"
	"github.com/ahwlsqja/wbft-cosmos/persistence"
	"github.com/ahwlsqja/wbft-cosmos/types"
)

const (
	maxMsgSize  = 64 * 1024 * 1024 // 64MB
	dialTimeout = 10 * time.Second
	callTimeout = 5 * time.Second
)

// StatusSource reports the consensus state exposed through GetStatus.
type StatusSource interface {
	Height() uint64
	Round() uint32
	Step() wbft.RoundStep
}

// GRPCTransport implements wbft.Transport over gRPC.
type GRPCTransport struct {
	mu sync.RWMutex

	nodeID   types.ID
	address  string
	server   *grpc.Server
	listener net.Listener

	// Peer connections
	peers map[types.ID]*peerConn

	// Message handler callback
	msgHandler func(*wbft.Message)

	// Optional sources for the query endpoints
	store  persistence.Store
	status StatusSource

	// Running state
	running bool
	done    chan struct{}

	// Embed the unimplemented server for forward compatibility
	consensusv1.UnimplementedConsensusServiceServer
}

// peerConn represents a connection to a peer node.
type peerConn struct {
	id     types.ID
	addr   string
	conn   *grpc.ClientConn
	client consensusv1.ConsensusServiceClient
}

// NewGRPCTransport creates a new gRPC-based transport.
func NewGRPCTransport(nodeID types.ID, address string) (*GRPCTransport, error) {
	return &GRPCTransport{
		nodeID:  nodeID,
		address: address,
		peers:   make(map[types.ID]*peerConn),
		done:    make(chan struct{}),
	}, nil
}

// SetStore wires the block store serving SyncBlocks and GetLatestHeight.
func (t *GRPCTransport) SetStore(store persistence.Store) {
	t.mu.Lock()
	t.store = store
	t.mu.Unlock()
}

// SetStatusSource wires the consensus state serving GetStatus.
func (t *GRPCTransport) SetStatusSource(src StatusSource) {
	t.mu.Lock()
	t.status = src
	t.mu.Unlock()
}

// Start starts the gRPC server.
func (t *GRPCTransport) Start() error {
	listener, err := net.Listen("tcp", t.address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", t.address, err)
	}
	t.listener = listener

	t.server = grpc.NewServer(
		grpc.MaxRecvMsgSize(maxMsgSize),
		grpc.MaxSendMsgSize(maxMsgSize),
	)
	consensusv1.RegisterConsensusServiceServer(t.server, t)

	t.mu.Lock()
	t.running = true
	t.mu.Unlock()

	go func() {
		if err := t.server.Serve(listener); err != nil {
			t.mu.RLock()
			running := t.running
			t.mu.RUnlock()
			if running {
				fmt.Printf("[GRPCTransport] Server error: %v\n", err)
			}
		}
	}()

	fmt.Printf("[GRPCTransport] Started on %s\n", t.address)
	return nil
}

// Stop stops the gRPC server and closes all connections.
func (t *GRPCTransport) Stop() {
	t.mu.Lock()
	t.running = false
	t.mu.Unlock()

	close(t.done)

	// Close all peer connections
	t.mu.Lock()
	for _, peer := range t.peers {
		if peer.conn != nil {
			peer.conn.Close()
		}
	}
	t.peers = make(map[types.ID]*peerConn)
	t.mu.Unlock()

	// Gracefully stop the server
	if t.server != nil {
		t.server.GracefulStop()
	}

	fmt.Printf("[GRPCTransport] Stopped\n")
}

// AddPeer connects to a remote peer.
func (t *GRPCTransport) AddPeer(nodeID types.ID, address string) error {
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	conn, err := grpc.DialContext(
		ctx,
		address,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
	)
	if err != nil {
		return fmt.Errorf("failed to connect to peer %s at %s: %w", nodeID.Short(), address, err)
	}

	client := consensusv1.NewConsensusServiceClient(conn)

	t.mu.Lock()
	t.peers[nodeID] = &peerConn{
		id:     nodeID,
		addr:   address,
		conn:   conn,
		client: client,
	}
	t.mu.Unlock()

	fmt.Printf("[GRPCTransport] Connected to peer %s at %s\n", nodeID.Short(), address)
	return nil
}

// RemovePeer disconnects from a peer.
func (t *GRPCTransport) RemovePeer(nodeID types.ID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if peer, exists := t.peers[nodeID]; exists {
		if peer.conn != nil {
			peer.conn.Close()
		}
		delete(t.peers, nodeID)
		fmt.Printf("[GRPCTransport] Disconnected from peer %s\n", nodeID.Short())
	}
}

// Broadcast sends a message to all connected peers.
func (t *GRPCTransport) Broadcast(msg *wbft.Message) error {
	t.mu.RLock()
	peers := make([]*peerConn, 0, len(t.peers))
	for _, peer := range t.peers {
		peers = append(peers, peer)
	}
	t.mu.RUnlock()

	protoMsg := messageToProto(msg)

	var wg sync.WaitGroup
	var errMu sync.Mutex
	var lastErr error

	for _, peer := range peers {
		wg.Add(1)
		go func(p *peerConn) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
			defer cancel()

			_, err := p.client.BroadcastMessage(ctx, &consensusv1.BroadcastMessageRequest{
				Message: protoMsg,
			})
			if err != nil {
				errMu.Lock()
				lastErr = err
				errMu.Unlock()
				fmt.Printf("[GRPCTransport] Broadcast to %s failed: %v\n", p.id.Short(), err)
			}
		}(peer)
	}
	wg.Wait()

	return lastErr
}

// Send sends a message to a specific peer.
func (t *GRPCTransport) Send(nodeID types.ID, msg *wbft.Message) error {
	t.mu.RLock()
	peer, exists := t.peers[nodeID]
	t.mu.RUnlock()

	if !exists {
		return fmt.Errorf("peer %s not found", nodeID.Short())
	}

	protoMsg := messageToProto(msg)

	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	_, err := peer.client.SendMessage(ctx, &consensusv1.SendMessageRequest{
		TargetNodeId: nodeID.String(),
		Message:      protoMsg,
	})
	return err
}

// SetMessageHandler sets the callback for incoming messages.
func (t *GRPCTransport) SetMessageHandler(handler func(*wbft.Message)) {
	t.mu.Lock()
	t.msgHandler = handler
	t.mu.Unlock()
}

// GetPeers returns the list of connected peer IDs.
func (t *GRPCTransport) GetPeers() []types.ID {
	t.mu.RLock()
	defer t.mu.RUnlock()

	peers := make([]types.ID, 0, len(t.peers))
	for id := range t.peers {
		peers = append(peers, id)
	}
	return peers
}

// PeerCount returns the number of connected peers.
func (t *GRPCTransport) PeerCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.peers)
}

func (t *GRPCTransport) handler() func(*wbft.Message) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.msgHandler
}

// gRPC service implementations

// BroadcastMessage handles incoming broadcast messages from peers.
func (t *GRPCTransport) BroadcastMessage(ctx context.Context, req *consensusv1.BroadcastMessageRequest) (*consensusv1.BroadcastMessageResponse, error) {
	if handler := t.handler(); handler != nil && req.Message != nil {
		msg, err := protoToMessage(req.Message)
		if err != nil {
			return &consensusv1.BroadcastMessageResponse{Success: false, Error: err.Error()}, nil
		}
		handler(msg)
	}
	return &consensusv1.BroadcastMessageResponse{Success: true}, nil
}

// SendMessage handles incoming direct messages from peers.
func (t *GRPCTransport) SendMessage(ctx context.Context, req *consensusv1.SendMessageRequest) (*consensusv1.SendMessageResponse, error) {
	if handler := t.handler(); handler != nil && req.Message != nil {
		msg, err := protoToMessage(req.Message)
		if err != nil {
			return &consensusv1.SendMessageResponse{Success: false, Error: err.Error()}, nil
		}
		handler(msg)
	}
	return &consensusv1.SendMessageResponse{Success: true}, nil
}

// MessageStream handles bidirectional message streaming.
func (t *GRPCTransport) MessageStream(stream consensusv1.ConsensusService_MessageStreamServer) error {
	for {
		select {
		case <-t.done:
			return nil
		default:
		}

		protoMsg, err := stream.Recv()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		if handler := t.handler(); handler != nil {
			msg, err := protoToMessage(protoMsg)
			if err != nil {
				continue
			}
			handler(msg)
		}
	}
}

// SyncBlocks serves committed blocks to peers catching up.
func (t *GRPCTransport) SyncBlocks(ctx context.Context, req *consensusv1.SyncBlocksRequest) (*consensusv1.SyncBlocksResponse, error) {
	t.mu.RLock()
	store := t.store
	t.mu.RUnlock()
	if store == nil {
		return &consensusv1.SyncBlocksResponse{Blocks: []*consensusv1.Block{}}, nil
	}

	blocks, err := store.LoadBlocks(req.FromHeight, req.ToHeight)
	if err != nil {
		return nil, err
	}

	out := make([]*consensusv1.Block, 0, len(blocks))
	for _, b := range blocks {
		out = append(out, blockToProto(b))
	}
	return &consensusv1.SyncBlocksResponse{Blocks: out}, nil
}

// GetLatestHeight reports the local committed chain tip.
func (t *GRPCTransport) GetLatestHeight(ctx context.Context, req *consensusv1.GetLatestHeightRequest) (*consensusv1.GetLatestHeightResponse, error) {
	t.mu.RLock()
	store := t.store
	t.mu.RUnlock()
	if store == nil {
		return &consensusv1.GetLatestHeightResponse{Height: 0}, nil
	}

	height, err := store.GetLatestBlockHeight()
	if err != nil {
		return nil, err
	}
	return &consensusv1.GetLatestHeightResponse{Height: height}, nil
}

// GetStatus returns the current node status.
func (t *GRPCTransport) GetStatus(ctx context.Context, req *consensusv1.GetStatusRequest) (*consensusv1.GetStatusResponse, error) {
	resp := &consensusv1.GetStatusResponse{
		NodeId:    t.nodeID.String(),
		PeerCount: int32(t.PeerCount()),
	}

	t.mu.RLock()
	status := t.status
	t.mu.RUnlock()
	if status != nil {
		resp.Height = status.Height()
		resp.Round = status.Round()
		resp.Step = status.Step().String()
		resp.IsValidator = true
	}
	return resp, nil
}

// Helper functions for type conversion

// messageToProto converts an engine message to wire format.
func messageToProto(msg *wbft.Message) *consensusv1.ConsensusMessage {
	return &consensusv1.ConsensusMessage{
		Type:      convertMessageType(msg.Type),
		Height:    msg.Height,
		Round:     msg.Round,
		SenderId:  msg.SenderID.String(),
		Timestamp: timestamppb.New(msg.Timestamp),
		Payload:   msg.Payload,
		Signature: msg.Signature,
	}
}

// protoToMessage converts a wire message to engine format.
func protoToMessage(proto *consensusv1.ConsensusMessage) (*wbft.Message, error) {
	sender, err := types.IDFromHex(proto.SenderId)
	if err != nil {
		return nil, fmt.Errorf("bad sender id: %w", err)
	}

	var ts time.Time
	if proto.Timestamp != nil {
		ts = proto.Timestamp.AsTime()
	}

	return &wbft.Message{
		Type:      convertProtoMessageType(proto.Type),
		Height:    proto.Height,
		Round:     proto.Round,
		SenderID:  sender,
		Timestamp: ts,
		Payload:   proto.Payload,
		Signature: proto.Signature,
	}, nil
}

func blockToProto(b *types.Block) *consensusv1.Block {
	return &consensusv1.Block{
		Height:     b.Header.Height,
		Round:      b.Header.Round,
		PrevHash:   b.Header.PrevHash,
		ProposerId: b.Header.ProposerID.String(),
		Timestamp:  timestamppb.New(b.Header.Timestamp),
		Payload:    b.Payload,
		Hash:       b.Hash,
	}
}

func protoToBlock(pb *consensusv1.Block) (*types.Block, error) {
	proposer, err := types.IDFromHex(pb.ProposerId)
	if err != nil {
		return nil, fmt.Errorf("bad proposer id: %w", err)
	}

	block := types.NewBlock(pb.Height, pb.PrevHash, proposer, pb.Round, pb.Payload)
	if pb.Timestamp != nil {
		block.Header.Timestamp = pb.Timestamp.AsTime()
	}
	return block, nil
}

// convertMessageType converts an engine MessageType to the wire enum.
func convertMessageType(mt wbft.MessageType) consensusv1.MessageType {
	switch mt {
	case wbft.MsgProposal:
		return consensusv1.MessageType_MESSAGE_TYPE_PROPOSAL
	case wbft.MsgVote:
		return consensusv1.MessageType_MESSAGE_TYPE_VOTE
	case wbft.MsgEvidence:
		return consensusv1.MessageType_MESSAGE_TYPE_EVIDENCE
	default:
		return consensusv1.MessageType_MESSAGE_TYPE_UNSPECIFIED
	}
}

// convertProtoMessageType converts the wire enum to an engine MessageType.
func convertProtoMessageType(mt consensusv1.MessageType) wbft.MessageType {
	switch mt {
	case consensusv1.MessageType_MESSAGE_TYPE_PROPOSAL:
		return wbft.MsgProposal
	case consensusv1.MessageType_MESSAGE_TYPE_VOTE:
		return wbft.MsgVote
	case consensusv1.MessageType_MESSAGE_TYPE_EVIDENCE:
		return wbft.MsgEvidence
	default:
		return wbft.MsgProposal
	}
}

// RemoteProvider adapts a peer connection to persistence.BlockProvider
// so a node can catch up from a peer over gRPC.
type RemoteProvider struct {
	client consensusv1.ConsensusServiceClient
}

// NewRemoteProvider creates a provider backed by the given peer address.
func NewRemoteProvider(address string) (*RemoteProvider, error) {
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	conn, err := grpc.DialContext(
		ctx,
		address,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", address, err)
	}
	return &RemoteProvider{client: consensusv1.NewConsensusServiceClient(conn)}, nil
}

// GetBlocks fetches a range of committed blocks from the peer.
func (rp *RemoteProvider) GetBlocks(ctx context.Context, fromHeight, toHeight uint64) ([]*types.Block, error) {
	resp, err := rp.client.SyncBlocks(ctx, &consensusv1.SyncBlocksRequest{
		FromHeight: fromHeight,
		ToHeight:   toHeight,
	})
	if err != nil {
		return nil, err
	}

	blocks := make([]*types.Block, 0, len(resp.Blocks))
	for _, pb := range resp.Blocks {
		block, err := protoToBlock(pb)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, block)
	}
	return blocks, nil
}

// GetLatestHeight fetches the peer's committed chain tip.
func (rp *RemoteProvider) GetLatestHeight(ctx context.Context) (uint64, error) {
	resp, err := rp.client.GetLatestHeight(ctx, &consensusv1.GetLatestHeightRequest{})
	if err != nil {
		return 0, err
	}
	return resp.Height, nil
}

var _ persistence.BlockProvider = (*RemoteProvider)(nil)
var _ wbft.Transport = (*GRPCTransport)(nil)
