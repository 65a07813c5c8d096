// Package consensusv1 contains the wire types for the consensus gRPC
// service. The structs are hand written and travel as JSON through the
// codec registered by the transport package.
package consensusv1

import (
	"google.golang.org/protobuf/types/known/timestamppb"
)

// MessageType mirrors the consensus message kinds on the wire.
type MessageType int32

const (
	MessageType_MESSAGE_TYPE_UNSPECIFIED MessageType = 0
	MessageType_MESSAGE_TYPE_PROPOSAL    MessageType = 1
	MessageType_MESSAGE_TYPE_VOTE        MessageType = 2
	MessageType_MESSAGE_TYPE_EVIDENCE    MessageType = 3
)

// ConsensusMessage is the envelope for every consensus payload.
type ConsensusMessage struct {
	Type      MessageType            `json:"type"`
	Height    uint64                 `json:"height"`
	Round     uint32                 `json:"round"`
	SenderId  string                 `json:"sender_id"`
	Timestamp *timestamppb.Timestamp `json:"timestamp,omitempty"`
	Payload   []byte                 `json:"payload,omitempty"`
	Signature []byte                 `json:"signature,omitempty"`
}

// BroadcastMessageRequest carries a message intended for every peer.
type BroadcastMessageRequest struct {
	Message *ConsensusMessage `json:"message"`
}

type BroadcastMessageResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// SendMessageRequest carries a message for one specific peer.
type SendMessageRequest struct {
	TargetNodeId string            `json:"target_node_id"`
	Message      *ConsensusMessage `json:"message"`
}

type SendMessageResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Block is the wire form of a committed block, used for catch-up.
type Block struct {
	Height     uint64                 `json:"height"`
	Round      uint32                 `json:"round"`
	PrevHash   []byte                 `json:"prev_hash,omitempty"`
	ProposerId string                 `json:"proposer_id"`
	Timestamp  *timestamppb.Timestamp `json:"timestamp,omitempty"`
	Payload    []byte                 `json:"payload,omitempty"`
	Hash       []byte                 `json:"hash"`
}

// SyncBlocksRequest asks a peer for a range of committed blocks.
type SyncBlocksRequest struct {
	FromHeight uint64 `json:"from_height"`
	ToHeight   uint64 `json:"to_height"`
}

type SyncBlocksResponse struct {
	Blocks []*Block `json:"blocks"`
}

// GetLatestHeightRequest asks a peer for its committed chain tip.
type GetLatestHeightRequest struct{}

type GetLatestHeightResponse struct {
	Height uint64 `json:"height"`
}

// GetStatusRequest asks a peer for a snapshot of its consensus state.
type GetStatusRequest struct{}

type GetStatusResponse struct {
	NodeId      string `json:"node_id"`
	Height      uint64 `json:"height"`
	Round       uint32 `json:"round"`
	Step        string `json:"step"`
	PeerCount   int32  `json:"peer_count"`
	IsValidator bool   `json:"is_validator"`
}
