package wbft

import (
	"testing"

	"github.com/ahwlsqja/wbft-cosmos/types"
)

func testID(b byte) types.ID {
	var id types.ID
	id[0] = b
	return id
}

func prevote(voter, proposal types.ID, height uint64, round uint32) *types.Vote {
	return types.NewVote(voter, proposal, types.VoteTypePreVote, height, round)
}

func TestVoteSetWeightedQuorum(t *testing.T) {
	// Power 100 total: one heavy voter at 70 outweighs three light ones.
	vs := NewVoteSet(1, 0, types.VoteTypePreVote, 100)
	proposal := testID(10)

	vs.AddVote(prevote(testID(1), proposal, 1, 0), 10)
	vs.AddVote(prevote(testID(2), proposal, 1, 0), 10)
	vs.AddVote(prevote(testID(3), proposal, 1, 0), 10)
	if _, ok := vs.TwoThirdsMajority(); ok {
		t.Fatal("30 of 100 power treated as supermajority")
	}

	vs.AddVote(prevote(testID(4), proposal, 1, 0), 70)
	id, ok := vs.TwoThirdsMajority()
	if !ok || id != proposal {
		t.Fatal("100 of 100 power not treated as supermajority")
	}
}

func TestVoteSetExactTwoThirdsInsufficient(t *testing.T) {
	vs := NewVoteSet(1, 0, types.VoteTypePreVote, 300)
	proposal := testID(10)

	// Exactly two thirds must not qualify; the rule is strictly greater.
	vs.AddVote(prevote(testID(1), proposal, 1, 0), 200)
	if _, ok := vs.TwoThirdsMajority(); ok {
		t.Fatal("exactly two thirds treated as supermajority")
	}
	vs.AddVote(prevote(testID(2), proposal, 1, 0), 1)
	if _, ok := vs.TwoThirdsMajority(); !ok {
		t.Fatal("just over two thirds not treated as supermajority")
	}
}

func TestVoteSetHeadCountIrrelevant(t *testing.T) {
	// Many low-power voters cannot outvote a majority of power.
	vs := NewVoteSet(1, 0, types.VoteTypePreVote, 1000)
	small := testID(10)
	for b := byte(1); b <= 20; b++ {
		vs.AddVote(prevote(testID(b), small, 1, 0), 10)
	}
	if _, ok := vs.TwoThirdsMajority(); ok {
		t.Fatal("200 of 1000 power with 20 voters treated as supermajority")
	}
}

func TestVoteSetNilQuorum(t *testing.T) {
	vs := NewVoteSet(1, 0, types.VoteTypePreVote, 90)
	nilID := types.ID{}

	vs.AddVote(prevote(testID(1), nilID, 1, 0), 31)
	vs.AddVote(prevote(testID(2), nilID, 1, 0), 31)
	id, ok := vs.TwoThirdsMajority()
	if !ok {
		t.Fatal("nil supermajority not detected")
	}
	if !id.IsZero() {
		t.Fatal("nil supermajority reported a proposal")
	}
}

func TestVoteSetConflictReplaces(t *testing.T) {
	vs := NewVoteSet(1, 0, types.VoteTypePreVote, 100)
	first := testID(10)
	second := testID(11)

	added, conflict := vs.AddVote(prevote(testID(1), first, 1, 0), 40)
	if !added || conflict != nil {
		t.Fatal("first vote rejected")
	}
	// Duplicate is ignored.
	added, conflict = vs.AddVote(prevote(testID(1), first, 1, 0), 40)
	if added || conflict != nil {
		t.Fatal("duplicate vote not ignored")
	}
	// Conflicting vote replaces and reports the earlier one.
	added, conflict = vs.AddVote(prevote(testID(1), second, 1, 0), 40)
	if !added {
		t.Fatal("conflicting vote not tallied")
	}
	if conflict == nil || conflict.ProposalID != first {
		t.Fatal("conflict not reported")
	}
	if vs.PowerFor(first) != 0 {
		t.Errorf("replaced vote still carries power: %d", vs.PowerFor(first))
	}
	if vs.PowerFor(second) != 40 {
		t.Errorf("replacement vote power wrong: %d", vs.PowerFor(second))
	}
	if vs.VotedPower() != 40 {
		t.Errorf("total voted power wrong after replacement: %d", vs.VotedPower())
	}
}

func TestVoteSetConflictRevokesMajority(t *testing.T) {
	vs := NewVoteSet(1, 0, types.VoteTypePreVote, 100)
	first := testID(10)

	vs.AddVote(prevote(testID(1), first, 1, 0), 40)
	vs.AddVote(prevote(testID(2), first, 1, 0), 40)
	if _, ok := vs.TwoThirdsMajority(); !ok {
		t.Fatal("supermajority not detected")
	}
	vs.AddVote(prevote(testID(2), testID(11), 1, 0), 40)
	if _, ok := vs.TwoThirdsMajority(); ok {
		t.Fatal("supermajority survived power moving away")
	}
}

func TestVoteSetRejectsMismatchedVotes(t *testing.T) {
	vs := NewVoteSet(5, 2, types.VoteTypePreVote, 100)
	if added, _ := vs.AddVote(prevote(testID(1), testID(10), 4, 2), 10); added {
		t.Error("vote for wrong height accepted")
	}
	if added, _ := vs.AddVote(prevote(testID(1), testID(10), 5, 1), 10); added {
		t.Error("vote for wrong round accepted")
	}
	if added, _ := vs.AddVote(types.NewVote(testID(1), testID(10), types.VoteTypePreCommit, 5, 2), 10); added {
		t.Error("vote of wrong type accepted")
	}
	if added, _ := vs.AddVote(prevote(testID(1), testID(10), 5, 2), 0); added {
		t.Error("zero-power vote accepted")
	}
}

func TestHeightVoteSetPolkaRound(t *testing.T) {
	hvs := NewHeightVoteSet(3, 90)
	proposal := testID(10)

	// Polka in round 1, nothing in rounds 0 and 2.
	hvs.AddVote(prevote(testID(1), proposal, 3, 1), 31)
	hvs.AddVote(prevote(testID(2), proposal, 3, 1), 31)
	hvs.AddVote(prevote(testID(1), proposal, 3, 2), 31)

	id, round, ok := hvs.PolkaRound(5)
	if !ok {
		t.Fatal("polka not found")
	}
	if id != proposal || round != 1 {
		t.Errorf("wrong polka: id=%s round=%d", id.Short(), round)
	}

	// A cap below the polka round hides it.
	if _, _, ok := hvs.PolkaRound(0); ok {
		t.Error("polka reported above the round cap")
	}
}

func TestHeightVoteSetParticipants(t *testing.T) {
	hvs := NewHeightVoteSet(3, 100)
	hvs.AddVote(prevote(testID(1), testID(10), 3, 0), 10)
	hvs.AddVote(types.NewVote(testID(2), testID(10), types.VoteTypePreCommit, 3, 0), 10)
	hvs.AddVote(prevote(testID(3), testID(10), 3, 1), 10)

	got := hvs.Participants()
	if len(got) != 3 {
		t.Fatalf("expected 3 participants, got %d", len(got))
	}
	for b := byte(1); b <= 3; b++ {
		if !got[testID(b)] {
			t.Errorf("validator %d missing from participants", b)
		}
	}
}
