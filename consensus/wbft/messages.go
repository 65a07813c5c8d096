// Package wbft implements a weighted Tendermint-style BFT consensus engine.
// Rounds progress Propose, PreVote, PreCommit; a block commits once votes
// carrying more than two thirds of the total voting power precommit it.
package wbft

import (
	"crypto/sha256"
	"encoding/json"
	"time"

	"github.com/ahwlsqja/wbft-cosmos/types"
)

// MessageType represents the type of consensus message.
type MessageType int

const (
	// MsgProposal carries a candidate block from the round proposer.
	MsgProposal MessageType = iota
	// MsgVote carries a prevote or precommit.
	MsgVote
	// MsgEvidence relays misbehavior evidence between peers.
	MsgEvidence
)

// String returns the string representation of MessageType.
func (mt MessageType) String() string {
	switch mt {
	case MsgProposal:
		return "PROPOSAL"
	case MsgVote:
		return "VOTE"
	case MsgEvidence:
		return "EVIDENCE"
	default:
		return "UNKNOWN"
	}
}

// Message is the wire envelope for all consensus traffic.
type Message struct {
	Type      MessageType `json:"type"`
	Height    uint64      `json:"height"`
	Round     uint32      `json:"round"`
	SenderID  types.ID    `json:"sender_id"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   []byte      `json:"payload,omitempty"`
	Signature []byte      `json:"signature,omitempty"`
}

// Digest returns the SHA-256 digest of the message for signing.
func (m *Message) Digest() []byte {
	data, _ := json.Marshal(struct {
		Type     MessageType `json:"type"`
		Height   uint64      `json:"height"`
		Round    uint32      `json:"round"`
		SenderID types.ID    `json:"sender_id"`
		Payload  []byte      `json:"payload,omitempty"`
	}{m.Type, m.Height, m.Round, m.SenderID, m.Payload})
	hash := sha256.Sum256(data)
	return hash[:]
}

// Encode serializes the message to JSON.
func (m *Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// DecodeMessage deserializes a message from JSON.
func DecodeMessage(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// NewProposalMessage wraps a proposal in a wire envelope.
func NewProposalMessage(p *types.Proposal) (*Message, error) {
	payload, err := p.Encode()
	if err != nil {
		return nil, err
	}
	return &Message{
		Type:      MsgProposal,
		Height:    p.Height,
		Round:     p.Round,
		SenderID:  p.Proposer,
		Timestamp: time.Now(),
		Payload:   payload,
	}, nil
}

// NewVoteMessage wraps a vote in a wire envelope.
func NewVoteMessage(v *types.Vote) (*Message, error) {
	payload, err := v.Encode()
	if err != nil {
		return nil, err
	}
	return &Message{
		Type:      MsgVote,
		Height:    v.Height,
		Round:     v.Round,
		SenderID:  v.Voter,
		Timestamp: time.Now(),
		Payload:   payload,
	}, nil
}
