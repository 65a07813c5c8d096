package wbft

import (
	"github.com/ahwlsqja/wbft-cosmos/types"
)

// VoteSet tallies weighted votes of one type for one (height, round).
// Quorum is measured in voting power, not head count: a proposal has a
// supermajority once more than two thirds of the total eligible power
// endorses it. Power figures are snapshotted per vote at insertion time
// against the total captured when the set was created, so a mid-round
// registry change cannot make quorum math inconsistent.
type VoteSet struct {
	height   uint64
	round    uint32
	voteType types.VoteType

	// Total eligible power at set creation
	totalPower uint64

	// Latest vote per voter
	votes map[types.ID]*types.Vote

	// Power per voter at insertion time
	powers map[types.ID]uint64

	// Summed power per proposal, the zero ID bucket holds nil votes
	powerByProposal map[types.ID]uint64

	// Summed power of all voters
	votedPower uint64

	// First proposal to reach a supermajority, if any
	maj23 *types.ID
}

// NewVoteSet creates an empty vote set against a total power snapshot.
func NewVoteSet(height uint64, round uint32, voteType types.VoteType, totalPower uint64) *VoteSet {
	return &VoteSet{
		height:          height,
		round:           round,
		voteType:        voteType,
		totalPower:      totalPower,
		votes:           make(map[types.ID]*types.Vote),
		powers:          make(map[types.ID]uint64),
		powerByProposal: make(map[types.ID]uint64),
	}
}

// AddVote records a vote with the voter's power. A repeat of the same
// vote is ignored. A vote for a different proposal in the same slot
// replaces the earlier one and is returned as the conflicting pair for
// evidence handling; the tally keeps only the latest vote per voter.
func (vs *VoteSet) AddVote(vote *types.Vote, power uint64) (added bool, conflict *types.Vote) {
	if vote.Height != vs.height || vote.Round != vs.round || vote.Type != vs.voteType {
		return false, nil
	}
	if power == 0 {
		return false, nil
	}

	prev, seen := vs.votes[vote.Voter]
	if seen {
		if prev.ProposalID == vote.ProposalID {
			return false, nil
		}
		conflict = prev
		prevPower := vs.powers[vote.Voter]
		vs.powerByProposal[prev.ProposalID] -= prevPower
		vs.votedPower -= prevPower
		if vs.maj23 != nil && *vs.maj23 == prev.ProposalID &&
			!hasSupermajority(vs.powerByProposal[prev.ProposalID], vs.totalPower) {
			vs.maj23 = nil
		}
	}

	vs.votes[vote.Voter] = vote
	vs.powers[vote.Voter] = power
	vs.powerByProposal[vote.ProposalID] += power
	vs.votedPower += power

	if vs.maj23 == nil && hasSupermajority(vs.powerByProposal[vote.ProposalID], vs.totalPower) {
		id := vote.ProposalID
		vs.maj23 = &id
	}
	return true, conflict
}

// TwoThirdsMajority returns the proposal holding a supermajority. The
// zero ID with ok=true means two thirds voted nil.
func (vs *VoteSet) TwoThirdsMajority() (types.ID, bool) {
	if vs.maj23 == nil {
		return types.ID{}, false
	}
	return *vs.maj23, true
}

// HasTwoThirdsAny reports whether two thirds of the power has voted at
// all, regardless of agreement. Used to start the step timeout.
func (vs *VoteSet) HasTwoThirdsAny() bool {
	return hasSupermajority(vs.votedPower, vs.totalPower)
}

// PowerFor returns the summed power behind a proposal.
func (vs *VoteSet) PowerFor(proposalID types.ID) uint64 {
	return vs.powerByProposal[proposalID]
}

// VotedPower returns the summed power of all voters in the set.
func (vs *VoteSet) VotedPower() uint64 {
	return vs.votedPower
}

// Voters returns the identities that have voted in this set.
func (vs *VoteSet) Voters() []types.ID {
	out := make([]types.ID, 0, len(vs.votes))
	for id := range vs.votes {
		out = append(out, id)
	}
	return out
}

// Size returns the number of voters in the set.
func (vs *VoteSet) Size() int {
	return len(vs.votes)
}

// hasSupermajority reports power*3 > total*2 in integer arithmetic, so
// exactly two thirds does not qualify.
func hasSupermajority(power, total uint64) bool {
	if total == 0 {
		return false
	}
	return power*3 > total*2
}

// roundVotes pairs the prevote and precommit sets of one round.
type roundVotes struct {
	prevotes   *VoteSet
	precommits *VoteSet
}

// HeightVoteSet keeps the vote sets of every round at one height,
// created lazily as votes arrive. Not safe for concurrent use; the
// engine owns it from its receive loop.
type HeightVoteSet struct {
	height     uint64
	totalPower uint64
	rounds     map[uint32]*roundVotes
}

// NewHeightVoteSet creates vote tracking for a height against a total
// power snapshot.
func NewHeightVoteSet(height uint64, totalPower uint64) *HeightVoteSet {
	return &HeightVoteSet{
		height:     height,
		totalPower: totalPower,
		rounds:     make(map[uint32]*roundVotes),
	}
}

// AddVote routes a vote to its round's set.
func (hvs *HeightVoteSet) AddVote(vote *types.Vote, power uint64) (bool, *types.Vote) {
	if vote.Height != hvs.height {
		return false, nil
	}
	switch vote.Type {
	case types.VoteTypePreVote:
		return hvs.round(vote.Round).prevotes.AddVote(vote, power)
	case types.VoteTypePreCommit:
		return hvs.round(vote.Round).precommits.AddVote(vote, power)
	default:
		return false, nil
	}
}

// PreVotes returns the prevote set for a round.
func (hvs *HeightVoteSet) PreVotes(round uint32) *VoteSet {
	return hvs.round(round).prevotes
}

// PreCommits returns the precommit set for a round.
func (hvs *HeightVoteSet) PreCommits(round uint32) *VoteSet {
	return hvs.round(round).precommits
}

// PolkaRound returns the highest round at or below maxRound whose
// prevotes hold a supermajority for a proposal, with that proposal.
func (hvs *HeightVoteSet) PolkaRound(maxRound uint32) (types.ID, uint32, bool) {
	for r := int64(maxRound); r >= 0; r-- {
		rv, ok := hvs.rounds[uint32(r)]
		if !ok {
			continue
		}
		if id, has := rv.prevotes.TwoThirdsMajority(); has && !id.IsZero() {
			return id, uint32(r), true
		}
	}
	return types.ID{}, 0, false
}

// Participants returns every identity that voted at this height in any
// round or step.
func (hvs *HeightVoteSet) Participants() map[types.ID]bool {
	out := make(map[types.ID]bool)
	for _, rv := range hvs.rounds {
		for _, id := range rv.prevotes.Voters() {
			out[id] = true
		}
		for _, id := range rv.precommits.Voters() {
			out[id] = true
		}
	}
	return out
}

func (hvs *HeightVoteSet) round(r uint32) *roundVotes {
	rv, ok := hvs.rounds[r]
	if !ok {
		rv = &roundVotes{
			prevotes:   NewVoteSet(hvs.height, r, types.VoteTypePreVote, hvs.totalPower),
			precommits: NewVoteSet(hvs.height, r, types.VoteTypePreCommit, hvs.totalPower),
		}
		hvs.rounds[r] = rv
	}
	return rv
}
