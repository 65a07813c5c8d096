package wbft

import (
	"time"

	"github.com/ahwlsqja/wbft-cosmos/types"
)

// RoundStep represents the engine's position within a consensus round.
type RoundStep int

const (
	// StepNewRound - round initialized, proposer selected.
	StepNewRound RoundStep = iota
	// StepPropose - waiting for the proposer's block.
	StepPropose
	// StepPreVote - prevote cast, collecting prevotes.
	StepPreVote
	// StepPreCommit - precommit cast, collecting precommits.
	StepPreCommit
	// StepCommit - supermajority precommit observed, finalizing.
	StepCommit
)

// String returns the string representation of RoundStep.
func (s RoundStep) String() string {
	switch s {
	case StepNewRound:
		return "NEW-ROUND"
	case StepPropose:
		return "PROPOSE"
	case StepPreVote:
		return "PREVOTE"
	case StepPreCommit:
		return "PRECOMMIT"
	case StepCommit:
		return "COMMIT"
	default:
		return "UNKNOWN"
	}
}

// noRound marks the absence of a locked or valid round.
const noRound int64 = -1

// roundState is the mutable consensus state for the current height. It
// carries the Tendermint locking variables: lockedProposal pins the
// proposal this node precommitted, and validProposal tracks the most
// recent proposal known to have a prevote supermajority.
type roundState struct {
	height uint64
	round  uint32
	step   RoundStep

	startTime time.Time

	// Proposer chosen for the current round
	proposer types.ID

	// Proposal received for the current round
	proposal *types.Proposal

	// Proposal this node is locked on, with the round it locked in
	lockedProposal *types.Proposal
	lockedRound    int64

	// Most recent proposal with a known prevote supermajority
	validProposal *types.Proposal
	validRound    int64

	// Straggler timeouts already armed for the current round
	prevoteTimeoutScheduled   bool
	precommitTimeoutScheduled bool

	// Vote tracking for every round at this height
	votes *HeightVoteSet

	// Known proposals by ID, kept so a polka can be matched to its block
	proposals map[types.ID]*types.Proposal
}

func newRoundState(height uint64, totalPower uint64, now time.Time) *roundState {
	return &roundState{
		height:      height,
		step:        StepNewRound,
		startTime:   now,
		lockedRound: noRound,
		validRound:  noRound,
		votes:       NewHeightVoteSet(height, totalPower),
		proposals:   make(map[types.ID]*types.Proposal),
	}
}

// proposalByID returns a proposal seen at this height by identifier.
func (rs *roundState) proposalByID(id types.ID) *types.Proposal {
	return rs.proposals[id]
}

// rememberProposal indexes a proposal for later polka matching.
func (rs *roundState) rememberProposal(p *types.Proposal) {
	rs.proposals[p.ID] = p
}
