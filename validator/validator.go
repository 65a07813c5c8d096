// Package validator implements the stake/storage-weighted validator registry.
// It is the single source of truth for validator identity, stake and
// eligibility, and computes the voting power the round engine tallies with.
package validator

import (
	"time"

	"github.com/ahwlsqja/wbft-cosmos/types"
)

// Status represents the lifecycle state of a validator.
type Status int

const (
	// StatusActive - eligible to propose and vote.
	StatusActive Status = iota
	// StatusInactive - voluntarily withdrawn, history preserved.
	StatusInactive
	// StatusSlashed - penalized; may still be active unless jailed.
	StatusSlashed
	// StatusJailed - suspended until the jail term expires.
	StatusJailed
)

// String returns the string representation of Status.
func (s Status) String() string {
	switch s {
	case StatusActive:
		return "ACTIVE"
	case StatusInactive:
		return "INACTIVE"
	case StatusSlashed:
		return "SLASHED"
	case StatusJailed:
		return "JAILED"
	default:
		return "UNKNOWN"
	}
}

// SlashType classifies the misbehavior behind a slash.
type SlashType int

const (
	// SlashDoubleSign - two conflicting signatures at one height/round.
	SlashDoubleSign SlashType = iota
	// SlashInvalidProposal - proposing blocks that fail validation.
	SlashInvalidProposal
	// SlashLiveness - sustained non-participation.
	SlashLiveness
	// SlashInvalidVote - votes that fail validation.
	SlashInvalidVote
)

// String returns the string representation of SlashType.
func (s SlashType) String() string {
	switch s {
	case SlashDoubleSign:
		return "DOUBLE-SIGN"
	case SlashInvalidProposal:
		return "INVALID-PROPOSAL"
	case SlashLiveness:
		return "LIVENESS"
	case SlashInvalidVote:
		return "INVALID-VOTE"
	default:
		return "UNKNOWN"
	}
}

// reputationPenalty returns the fixed reputation cost for a slash type.
func (s SlashType) reputationPenalty() uint32 {
	switch s {
	case SlashDoubleSign:
		return 20
	case SlashInvalidProposal:
		return 10
	case SlashLiveness:
		return 5
	case SlashInvalidVote:
		return 5
	default:
		return 5
	}
}

// Validator is a registered consensus participant. Voting power is always
// recomputed from stake and storage; it is never mutated independently.
type Validator struct {
	ID              types.ID   `json:"id"`
	ConsensusKey    []byte     `json:"consensus_key"`
	Stake           uint64     `json:"stake"`
	StorageProvided uint64     `json:"storage_provided"`
	VotingPower     uint64     `json:"voting_power"`
	Status          Status     `json:"status"`
	CommissionRate  float64    `json:"commission_rate"`
	Reputation      uint32     `json:"reputation"`
	SlashCount      uint32     `json:"slash_count"`
	JailUntil       *time.Time `json:"jail_until,omitempty"`
	LastActivity    time.Time  `json:"last_activity"`
}

// CanParticipateAt reports whether the validator may vote or propose at
// the given time. Slashed validators keep participating with their
// reduced power; only jailing and voluntary withdrawal suspend a
// validator.
func (v *Validator) CanParticipateAt(now time.Time) bool {
	if v.Status == StatusInactive || v.Status == StatusJailed {
		return false
	}
	if v.JailUntil != nil && now.Before(*v.JailUntil) {
		return false
	}
	return true
}

// Copy returns a deep copy for safe hand-out across the registry boundary.
func (v *Validator) Copy() *Validator {
	cp := *v
	if v.JailUntil != nil {
		t := *v.JailUntil
		cp.JailUntil = &t
	}
	if v.ConsensusKey != nil {
		cp.ConsensusKey = make([]byte, len(v.ConsensusKey))
		copy(cp.ConsensusKey, v.ConsensusKey)
	}
	return &cp
}
