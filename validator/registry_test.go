package validator

import (
	"math"
	"testing"
	"time"

	"github.com/ahwlsqja/wbft-cosmos/types"
)

func testConfig() Config {
	return Config{
		MinStake:   1_000_000,
		MinStorage: 0,
	}
}

func testID(b byte) types.ID {
	var id types.ID
	id[0] = b
	return id
}

func newTestRegistry(t *testing.T) (*Registry, *types.ManualClock) {
	t.Helper()
	clock := types.NewManualClock(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	return NewRegistry(testConfig(), nil, clock), clock
}

func TestRegisterAndGet(t *testing.T) {
	r, _ := newTestRegistry(t)

	id := testID(1)
	v, err := r.Register(id, 4_000_000, 0, []byte("key"), 0.1)
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if v.Status != StatusActive {
		t.Errorf("expected Active status, got %s", v.Status)
	}
	if v.Reputation != 100 {
		t.Errorf("expected reputation 100, got %d", v.Reputation)
	}
	if v.VotingPower != 2000 {
		t.Errorf("expected voting power 2000 for stake 4M with no storage, got %d", v.VotingPower)
	}

	got, err := r.Get(id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Stake != 4_000_000 {
		t.Errorf("expected stake 4000000, got %d", got.Stake)
	}

	// Returned copies must not alias registry state.
	got.Stake = 0
	again, _ := r.Get(id)
	if again.Stake != 4_000_000 {
		t.Error("Get returned aliased state")
	}
}

func TestRegisterRejections(t *testing.T) {
	clock := types.NewManualClock(time.Now())
	r := NewRegistry(Config{MinStake: 1_000_000, MinStorage: 1 << 30, MaxValidators: 1}, nil, clock)

	if _, err := r.Register(testID(1), 500_000, 1<<30, nil, 0); err != ErrInsufficientStake {
		t.Errorf("expected ErrInsufficientStake, got %v", err)
	}
	if _, err := r.Register(testID(1), 2_000_000, 100, nil, 0); err != ErrInsufficientStorage {
		t.Errorf("expected ErrInsufficientStorage, got %v", err)
	}
	if _, err := r.Register(testID(1), 2_000_000, 1<<30, nil, 0); err != nil {
		t.Fatalf("valid registration failed: %v", err)
	}
	if _, err := r.Register(testID(1), 2_000_000, 1<<30, nil, 0); err != ErrAlreadyRegistered {
		t.Errorf("expected ErrAlreadyRegistered, got %v", err)
	}
	if _, err := r.Register(testID(2), 2_000_000, 1<<30, nil, 0); err != ErrMaxValidators {
		t.Errorf("expected ErrMaxValidators, got %v", err)
	}
}

func TestStakeAdjustments(t *testing.T) {
	r, _ := newTestRegistry(t)
	id := testID(1)
	r.Register(id, 2_000_000, 0, nil, 0)

	if err := r.AddStake(id, 2_000_000); err != nil {
		t.Fatalf("AddStake failed: %v", err)
	}
	v, _ := r.Get(id)
	if v.Stake != 4_000_000 {
		t.Errorf("expected stake 4000000, got %d", v.Stake)
	}
	if v.VotingPower != 2000 {
		t.Errorf("voting power not recomputed after AddStake: %d", v.VotingPower)
	}

	if err := r.RemoveStake(id, 3_500_000); err != ErrBelowMinimumStake {
		t.Errorf("expected ErrBelowMinimumStake, got %v", err)
	}
	if err := r.RemoveStake(id, 3_000_000); err != nil {
		t.Fatalf("RemoveStake failed: %v", err)
	}
	v, _ = r.Get(id)
	if v.Stake != 1_000_000 {
		t.Errorf("expected stake 1000000, got %d", v.Stake)
	}

	if err := r.AddStake(testID(9), 1); err != ErrValidatorNotFound {
		t.Errorf("expected ErrValidatorNotFound, got %v", err)
	}
}

func TestSlashReducesStakeAndPower(t *testing.T) {
	r, _ := newTestRegistry(t)
	id := testID(1)
	r.Register(id, 1_000_000_000, 0, nil, 0)

	slashed, err := r.Slash(id, SlashLiveness, 3)
	if err != nil {
		t.Fatalf("Slash failed: %v", err)
	}
	if slashed != 30_000_000 {
		t.Errorf("expected 30000000 slashed, got %d", slashed)
	}
	v, _ := r.Get(id)
	if v.Stake != 970_000_000 {
		t.Errorf("expected stake 970000000, got %d", v.Stake)
	}
	if v.Status != StatusSlashed {
		t.Errorf("expected Slashed status, got %s", v.Status)
	}
	if v.Reputation != 95 {
		t.Errorf("expected reputation 95 after liveness slash, got %d", v.Reputation)
	}
	if want := uint64(math.Sqrt(970_000_000)); v.VotingPower != want {
		t.Errorf("voting power not recomputed: got %d want %d", v.VotingPower, want)
	}
}

func TestMinorSlashKeepsValidatorEligible(t *testing.T) {
	r, _ := newTestRegistry(t)
	id := testID(1)
	r.Register(id, 1_000_000_000, 0, nil, 0)

	// A 1 percent liveness slash is below both jail triggers. The
	// validator keeps voting and proposing with its reduced power;
	// only jailing suspends participation.
	if _, err := r.Slash(id, SlashLiveness, 1); err != nil {
		t.Fatalf("Slash failed: %v", err)
	}
	v, _ := r.Get(id)
	if v.Status != StatusSlashed {
		t.Fatalf("expected Slashed status, got %s", v.Status)
	}
	if v.JailUntil != nil {
		t.Fatal("minor slash must not set a jail term")
	}
	if !r.CanParticipate(id) {
		t.Error("minor slash removed the validator from participation")
	}
	if r.VotingPower(id) == 0 {
		t.Error("minor slash zeroed effective voting power")
	}
	if r.TotalVotingPower() == 0 {
		t.Error("minor slash removed the validator from the power total")
	}
	got, err := r.SelectProposer(1, 0)
	if err != nil {
		t.Fatalf("SelectProposer failed: %v", err)
	}
	if got != id {
		t.Error("slashed sole validator no longer selectable as proposer")
	}
}

func TestRepeatedSlashJails(t *testing.T) {
	r, clock := newTestRegistry(t)
	id := testID(1)
	r.Register(id, 1_000_000_000, 0, nil, 0)

	// 10 percent slashes jail immediately.
	r.Slash(id, SlashDoubleSign, 10)
	v, _ := r.Get(id)
	if v.Stake != 900_000_000 {
		t.Errorf("expected stake 900000000 after first slash, got %d", v.Stake)
	}
	if v.Status != StatusJailed {
		t.Fatalf("expected Jailed after 10%% slash, got %s", v.Status)
	}
	if v.JailUntil == nil {
		t.Fatal("JailUntil not set")
	}
	if got := v.JailUntil.Sub(clock.Now()); got != 24*time.Hour {
		t.Errorf("expected 24h jail term, got %s", got)
	}

	// Slashing while jailed still deducts and extends the term.
	r.Slash(id, SlashDoubleSign, 10)
	v, _ = r.Get(id)
	if v.Stake != 810_000_000 {
		t.Errorf("expected stake 810000000 after second slash, got %d", v.Stake)
	}
	if v.Status != StatusJailed {
		t.Errorf("expected still Jailed, got %s", v.Status)
	}

	if r.CanParticipate(id) {
		t.Error("jailed validator must not participate")
	}
}

func TestThirdSlashJailsRegardlessOfPercentage(t *testing.T) {
	r, _ := newTestRegistry(t)
	id := testID(1)
	r.Register(id, 1_000_000_000, 0, nil, 0)

	r.Slash(id, SlashLiveness, 3)
	r.Slash(id, SlashLiveness, 3)
	v, _ := r.Get(id)
	if v.Status != StatusSlashed {
		t.Fatalf("expected Slashed after two minor slashes, got %s", v.Status)
	}

	r.Slash(id, SlashInvalidProposal, 2)
	v, _ = r.Get(id)
	if v.SlashCount != 3 {
		t.Errorf("expected slash count 3, got %d", v.SlashCount)
	}
	if v.Status != StatusJailed {
		t.Errorf("expected Jailed on third slash, got %s", v.Status)
	}
}

func TestJailRelease(t *testing.T) {
	r, clock := newTestRegistry(t)
	id := testID(1)
	r.Register(id, 1_000_000_000, 0, nil, 0)
	r.Slash(id, SlashDoubleSign, 10)

	// Early release attempt is a no-op.
	if err := r.TryReleaseFromJail(id); err != nil {
		t.Fatalf("TryReleaseFromJail failed: %v", err)
	}
	v, _ := r.Get(id)
	if v.Status != StatusJailed {
		t.Fatal("validator released before jail term expired")
	}

	clock.Advance(24*time.Hour + time.Second)
	if err := r.TryReleaseFromJail(id); err != nil {
		t.Fatalf("TryReleaseFromJail failed: %v", err)
	}
	v, _ = r.Get(id)
	if v.Status != StatusActive {
		t.Errorf("expected Active after jail term, got %s", v.Status)
	}
	if v.JailUntil != nil {
		t.Error("JailUntil not cleared on release")
	}
	if !r.CanParticipate(id) {
		t.Error("released validator must participate again")
	}
	// Slashing history survives the jail term.
	if v.SlashCount != 1 {
		t.Errorf("slash count lost on release: %d", v.SlashCount)
	}
}

func TestSlashSaturates(t *testing.T) {
	r, _ := newTestRegistry(t)
	id := testID(1)
	r.Register(id, 1_000_000, 0, nil, 0)

	// Reputation floors at zero rather than wrapping.
	for i := 0; i < 10; i++ {
		r.Slash(id, SlashDoubleSign, 10)
	}
	v, _ := r.Get(id)
	if v.Reputation != 0 {
		t.Errorf("expected reputation floor 0, got %d", v.Reputation)
	}
	if v.Stake > 1_000_000 {
		t.Errorf("stake wrapped: %d", v.Stake)
	}
}

func TestDeactivateKeepsRecord(t *testing.T) {
	r, _ := newTestRegistry(t)
	id := testID(1)
	r.Register(id, 2_000_000, 0, nil, 0)

	if err := r.Deactivate(id); err != nil {
		t.Fatalf("Deactivate failed: %v", err)
	}
	if r.CanParticipate(id) {
		t.Error("inactive validator must not participate")
	}
	v, err := r.Get(id)
	if err != nil {
		t.Fatal("deactivated validator was deleted")
	}
	if v.Status != StatusInactive {
		t.Errorf("expected Inactive, got %s", v.Status)
	}

	if err := r.Reactivate(id); err != nil {
		t.Fatalf("Reactivate failed: %v", err)
	}
	if !r.CanParticipate(id) {
		t.Error("reactivated validator must participate")
	}
}

func TestTotalVotingPowerExcludesIneligible(t *testing.T) {
	r, _ := newTestRegistry(t)
	r.Register(testID(1), 4_000_000, 0, nil, 0)
	r.Register(testID(2), 4_000_000, 0, nil, 0)
	r.Register(testID(3), 4_000_000, 0, nil, 0)

	if got := r.TotalVotingPower(); got != 6000 {
		t.Fatalf("expected total power 6000, got %d", got)
	}

	r.Slash(testID(3), SlashDoubleSign, 10)
	total := r.TotalVotingPower()
	if total != 4000 {
		t.Errorf("jailed validator still counted: total=%d", total)
	}
	if r.VotingPower(testID(3)) != 0 {
		t.Error("jailed validator reports nonzero power")
	}
	if r.ActiveCount() != 2 {
		t.Errorf("expected 2 active, got %d", r.ActiveCount())
	}
}

func TestSelectProposerDeterministic(t *testing.T) {
	r, _ := newTestRegistry(t)
	r.Register(testID(1), 4_000_000, 0, nil, 0)
	r.Register(testID(2), 9_000_000, 0, nil, 0)
	r.Register(testID(3), 16_000_000, 0, nil, 0)

	first, err := r.SelectProposer(10, 0)
	if err != nil {
		t.Fatalf("SelectProposer failed: %v", err)
	}
	for i := 0; i < 50; i++ {
		got, err := r.SelectProposer(10, 0)
		if err != nil {
			t.Fatalf("SelectProposer failed: %v", err)
		}
		if got != first {
			t.Fatal("proposer selection not deterministic for fixed height and round")
		}
	}

	// Different rounds at the same height rotate across the set.
	seen := make(map[types.ID]bool)
	for round := uint32(0); round < 100; round++ {
		id, err := r.SelectProposer(10, round)
		if err != nil {
			t.Fatalf("SelectProposer failed: %v", err)
		}
		seen[id] = true
	}
	if len(seen) < 2 {
		t.Error("proposer rotation never changed proposer across 100 rounds")
	}
}

func TestSelectProposerSkipsIneligible(t *testing.T) {
	r, _ := newTestRegistry(t)
	r.Register(testID(1), 4_000_000, 0, nil, 0)
	r.Register(testID(2), 9_000_000, 0, nil, 0)
	r.Slash(testID(2), SlashDoubleSign, 10)

	for round := uint32(0); round < 20; round++ {
		id, err := r.SelectProposer(7, round)
		if err != nil {
			t.Fatalf("SelectProposer failed: %v", err)
		}
		if id == testID(2) {
			t.Fatal("jailed validator selected as proposer")
		}
	}
}

func TestSelectProposerEmptySet(t *testing.T) {
	r, _ := newTestRegistry(t)
	if _, err := r.SelectProposer(1, 0); err != ErrNoEligibleProposer {
		t.Errorf("expected ErrNoEligibleProposer, got %v", err)
	}
}

func TestListSorted(t *testing.T) {
	r, _ := newTestRegistry(t)
	r.Register(testID(3), 2_000_000, 0, nil, 0)
	r.Register(testID(1), 2_000_000, 0, nil, 0)
	r.Register(testID(2), 2_000_000, 0, nil, 0)

	list := r.List()
	if len(list) != 3 {
		t.Fatalf("expected 3 validators, got %d", len(list))
	}
	for i := 1; i < len(list); i++ {
		if list[i-1].ID.Compare(list[i].ID) >= 0 {
			t.Fatal("List not sorted by identity")
		}
	}
}
