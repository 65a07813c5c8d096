// Package types defines core data structures for the weighted BFT consensus engine.
package types

import (
	"crypto/sha256"
	"encoding/json"
	"time"
)

// VoteType represents the kind of consensus vote.
type VoteType int

const (
	// VoteTypePreVote is cast after evaluating a proposal.
	VoteTypePreVote VoteType = iota
	// VoteTypePreCommit is cast after observing a polka.
	VoteTypePreCommit
	// VoteTypeCommit acknowledges a finalized block.
	VoteTypeCommit
	// VoteTypeAgainst explicitly rejects a proposal.
	VoteTypeAgainst
)

// String returns the string representation of VoteType.
func (vt VoteType) String() string {
	switch vt {
	case VoteTypePreVote:
		return "PREVOTE"
	case VoteTypePreCommit:
		return "PRECOMMIT"
	case VoteTypeCommit:
		return "COMMIT"
	case VoteTypeAgainst:
		return "AGAINST"
	default:
		return "UNKNOWN"
	}
}

// Proposal carries a candidate block for one (height, round) pair.
type Proposal struct {
	ID        ID             `json:"id"`
	Proposer  ID             `json:"proposer"`
	Height    uint64         `json:"height"`
	Round     uint32         `json:"round"`
	PrevHash  []byte         `json:"prev_hash"`
	Block     *Block         `json:"block"`
	Proof     ConsensusProof `json:"proof"`
	Timestamp time.Time      `json:"timestamp"`
	Signature []byte         `json:"signature"`
}

// NewProposal creates an unsigned proposal for the given block.
func NewProposal(proposer ID, height uint64, round uint32, block *Block, proof ConsensusProof) *Proposal {
	p := &Proposal{
		Proposer:  proposer,
		Height:    height,
		Round:     round,
		PrevHash:  block.Header.PrevHash,
		Block:     block,
		Proof:     proof,
		Timestamp: time.Now(),
	}
	p.ID = NewID(p.SignBytes())
	return p
}

// SignBytes returns the canonical bytes covered by the proposer signature.
func (p *Proposal) SignBytes() []byte {
	data := make([]byte, 0, 128)
	data = append(data, p.Proposer.Bytes()...)
	data = append(data, uint64Bytes(p.Height)...)
	data = append(data, uint64Bytes(uint64(p.Round))...)
	data = append(data, p.PrevHash...)
	if p.Block != nil {
		data = append(data, p.Block.Hash...)
	}
	hash := sha256.Sum256(data)
	return hash[:]
}

// Vote is a signed vote on a proposal identifier. A nil vote carries a
// zero ProposalID.
type Vote struct {
	ID         ID        `json:"id"`
	Voter      ID        `json:"voter"`
	ProposalID ID        `json:"proposal_id"`
	Type       VoteType  `json:"type"`
	Height     uint64    `json:"height"`
	Round      uint32    `json:"round"`
	Timestamp  time.Time `json:"timestamp"`
	Signature  []byte    `json:"signature"`
}

// NewVote creates an unsigned vote. A zero proposal ID means a nil vote.
func NewVote(voter, proposalID ID, vt VoteType, height uint64, round uint32) *Vote {
	v := &Vote{
		Voter:      voter,
		ProposalID: proposalID,
		Type:       vt,
		Height:     height,
		Round:      round,
		Timestamp:  time.Now(),
	}
	v.ID = NewID(v.SignBytes())
	return v
}

// IsNil reports whether the vote endorses no proposal.
func (v *Vote) IsNil() bool {
	return v.ProposalID.IsZero()
}

// SignBytes returns the canonical bytes covered by the voter signature.
func (v *Vote) SignBytes() []byte {
	data := make([]byte, 0, 96)
	data = append(data, v.Voter.Bytes()...)
	data = append(data, v.ProposalID.Bytes()...)
	data = append(data, byte(v.Type))
	data = append(data, uint64Bytes(v.Height)...)
	data = append(data, uint64Bytes(uint64(v.Round))...)
	hash := sha256.Sum256(data)
	return hash[:]
}

// Encode serializes the vote to JSON.
func (v *Vote) Encode() ([]byte, error) {
	return json.Marshal(v)
}

// Encode serializes the proposal to JSON.
func (p *Proposal) Encode() ([]byte, error) {
	return json.Marshal(p)
}

// DecodeVote deserializes a vote from JSON.
func DecodeVote(data []byte) (*Vote, error) {
	var v Vote
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// DecodeProposal deserializes a proposal from JSON.
func DecodeProposal(data []byte) (*Proposal, error) {
	var p Proposal
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	return &p, nil
}
