// Package unit provides cross-package unit tests for the consensus core.
// 검증자 등록부터 슬래싱까지의 흐름을 한 곳에서 검증함
package unit

import (
	"fmt"
	"testing"
	"time"

	"github.com/ahwlsqja/wbft-cosmos/byzantine"
	"github.com/ahwlsqja/wbft-cosmos/crypto"
	"github.com/ahwlsqja/wbft-cosmos/types"
	"github.com/ahwlsqja/wbft-cosmos/validator"
)

// ================================================================================
//                          헬퍼
// ================================================================================

func newRegistry() (*validator.Registry, *types.ManualClock) {
	clock := types.NewManualClock(time.Unix(1_700_000_000, 0))
	reg := validator.NewRegistry(validator.Config{
		MinStake:      1000,
		MinStorage:    1 << 20,
		MaxValidators: 100,
	}, validator.DefaultPowerFunc, clock)
	return reg, clock
}

func registerN(t *testing.T, reg *validator.Registry, n int, stake uint64) []types.ID {
	t.Helper()
	ids := make([]types.ID, n)
	for i := 0; i < n; i++ {
		kp, err := crypto.GenerateKeyPair()
		if err != nil {
			t.Fatalf("keygen: %v", err)
		}
		id := crypto.ValidatorID(kp.PublicKeyBytes())
		if _, err := reg.Register(id, stake, 1<<30, kp.PublicKeyBytes(), 0.1); err != nil {
			t.Fatalf("register: %v", err)
		}
		ids[i] = id
	}
	return ids
}

// ================================================================================
//                          가중치 기반 정족수
// ================================================================================

// TestWeightedPowerDominatesHeadCount confirms that voting power, not
// validator count, decides the proposer distribution.
func TestWeightedPowerDominatesHeadCount(t *testing.T) {
	reg, _ := newRegistry()

	// One whale and three small validators.
	ids := registerN(t, reg, 1, 100_000_000)
	registerN(t, reg, 3, 10_000)
	whale := ids[0]

	whalePower := reg.VotingPower(whale)
	if whalePower*3 <= reg.TotalVotingPower()*2 {
		t.Fatalf("Whale should hold a supermajority: power=%d total=%d", whalePower, reg.TotalVotingPower())
	}

	// The whale must be selected far more often than the others.
	whaleCount := 0
	const rounds = 200
	for r := uint32(0); r < rounds; r++ {
		p, err := reg.SelectProposer(1, r)
		if err != nil {
			t.Fatalf("SelectProposer: %v", err)
		}
		if p == whale {
			whaleCount++
		}
	}
	if whaleCount < rounds/2 {
		t.Errorf("Whale selected %d/%d rounds, expected majority", whaleCount, rounds)
	}
}

// TestPowerCurveDiminishes checks the square root stake curve.
func TestPowerCurveDiminishes(t *testing.T) {
	base := validator.DefaultPowerFunc(1_000_000, 0)
	quad := validator.DefaultPowerFunc(4_000_000, 0)

	// Power doubles when stake quadruples.
	if quad != base*2 {
		t.Errorf("Expected power %d for 4x stake, got %d", base*2, quad)
	}

	// Storage bonus is capped at 20 percent.
	huge := validator.DefaultPowerFunc(1_000_000, 1<<50)
	if huge > base*12/10 {
		t.Errorf("Storage bonus exceeded cap: %d > %d", huge, base*12/10)
	}
}

// TestProposerSelectionIsDeterministicAcrossInstances verifies two
// registries with the same validator set agree on every proposer.
func TestProposerSelectionIsDeterministicAcrossInstances(t *testing.T) {
	regA, _ := newRegistry()
	regB, _ := newRegistry()

	// Same validators in both registries, inserted in different order.
	type entry struct {
		id      types.ID
		stake   uint64
		storage uint64
		key     []byte
	}
	entries := make([]entry, 5)
	for i := range entries {
		kp, _ := crypto.GenerateKeyPair()
		entries[i] = entry{
			id:      crypto.ValidatorID(kp.PublicKeyBytes()),
			stake:   uint64(1_000_000 * (i + 1)),
			storage: 1 << 30,
			key:     kp.PublicKeyBytes(),
		}
	}
	for _, e := range entries {
		if _, err := regA.Register(e.id, e.stake, e.storage, e.key, 0.1); err != nil {
			t.Fatal(err)
		}
	}
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if _, err := regB.Register(e.id, e.stake, e.storage, e.key, 0.1); err != nil {
			t.Fatal(err)
		}
	}

	for h := uint64(1); h <= 20; h++ {
		for r := uint32(0); r < 5; r++ {
			a, errA := regA.SelectProposer(h, r)
			b, errB := regB.SelectProposer(h, r)
			if errA != nil || errB != nil {
				t.Fatalf("SelectProposer errors: %v %v", errA, errB)
			}
			if a != b {
				t.Fatalf("Proposer mismatch at height=%d round=%d: %s vs %s", h, r, a.Short(), b.Short())
			}
		}
	}
}

// ================================================================================
//                          이중 서명 → 슬래싱 흐름
// ================================================================================

// TestDoubleSignSlashFlow walks one conflicting vote pair from detection
// to a reduced stake and jail term.
func TestDoubleSignSlashFlow(t *testing.T) {
	reg, clock := newRegistry()
	ids := registerN(t, reg, 4, 1_000_000_000)
	det := byzantine.NewDetector(reg, clock, nil)

	offender := ids[0]
	voteA := &types.Vote{
		Type:       types.VoteTypePreVote,
		Height:     5,
		Round:      0,
		ProposalID: types.NewID([]byte("block-a")),
		Voter:      offender,
	}
	voteB := &types.Vote{
		Type:       types.VoteTypePreVote,
		Height:     5,
		Round:      0,
		ProposalID: types.NewID([]byte("block-b")),
		Voter:      offender,
	}

	if ev := det.ObserveVote(voteA); ev != nil {
		t.Fatal("First vote must not be a conflict")
	}
	ev := det.ObserveVote(voteB)
	if ev == nil {
		t.Fatal("Conflicting vote not detected")
	}

	faults := det.DetectFaults()
	if len(faults) != 1 {
		t.Fatalf("Expected 1 fault, got %d", len(faults))
	}

	before, _ := reg.Get(offender)
	slashed, errs := det.ProcessFaults(faults)
	if len(errs) != 0 {
		t.Fatalf("ProcessFaults errors: %v", errs)
	}
	if slashed == 0 {
		t.Fatal("Expected stake to be slashed")
	}

	after, _ := reg.Get(offender)
	if after.Stake >= before.Stake {
		t.Errorf("Stake not reduced: before=%d after=%d", before.Stake, after.Stake)
	}
	if after.Status != validator.StatusJailed {
		t.Errorf("Expected jailed status, got %v", after.Status)
	}
	if reg.CanParticipate(offender) {
		t.Error("Jailed validator must not participate")
	}

	// Faults drain on read, so the same evidence cannot slash twice.
	if again := det.DetectFaults(); len(again) != 0 {
		t.Errorf("Evidence processed twice: %d faults", len(again))
	}
}

// TestJailedValidatorExcludedFromSelection confirms slashed weight
// leaves the proposer rotation.
func TestJailedValidatorExcludedFromSelection(t *testing.T) {
	reg, clock := newRegistry()
	ids := registerN(t, reg, 4, 1_000_000_000)

	offender := ids[0]
	if _, err := reg.Slash(offender, validator.SlashDoubleSign, 10); err != nil {
		t.Fatal(err)
	}

	for h := uint64(1); h <= 50; h++ {
		p, err := reg.SelectProposer(h, 0)
		if err != nil {
			t.Fatalf("SelectProposer: %v", err)
		}
		if p == offender {
			t.Fatalf("Jailed validator selected at height %d", h)
		}
	}

	// After the jail term the validator rejoins the rotation.
	clock.Advance(24*time.Hour + time.Second)
	if err := reg.TryReleaseFromJail(offender); err != nil {
		t.Fatal(err)
	}
	if !reg.CanParticipate(offender) {
		t.Error("Released validator should participate again")
	}
}

// TestRegistryAdmissionOrder checks admission errors are stable and
// never mutate the set on failure.
func TestRegistryAdmissionOrder(t *testing.T) {
	reg, _ := newRegistry()

	kp, _ := crypto.GenerateKeyPair()
	id := crypto.ValidatorID(kp.PublicKeyBytes())

	if _, err := reg.Register(id, 10, 1<<30, kp.PublicKeyBytes(), 0.1); err != validator.ErrInsufficientStake {
		t.Errorf("Expected ErrInsufficientStake, got %v", err)
	}
	if _, err := reg.Register(id, 1_000_000, 10, kp.PublicKeyBytes(), 0.1); err != validator.ErrInsufficientStorage {
		t.Errorf("Expected ErrInsufficientStorage, got %v", err)
	}
	if reg.Size() != 0 {
		t.Errorf("Failed registrations must not be recorded, size=%d", reg.Size())
	}

	if _, err := reg.Register(id, 1_000_000, 1<<30, kp.PublicKeyBytes(), 0.1); err != nil {
		t.Fatalf("Valid registration failed: %v", err)
	}
	if _, err := reg.Register(id, 1_000_000, 1<<30, kp.PublicKeyBytes(), 0.1); err != validator.ErrAlreadyRegistered {
		t.Errorf("Expected ErrAlreadyRegistered, got %v", err)
	}
}

// TestLivenessFaultAfterConsecutiveMisses drives the detector through
// missed heights until a liveness fault fires.
func TestLivenessFaultAfterConsecutiveMisses(t *testing.T) {
	reg, clock := newRegistry()
	ids := registerN(t, reg, 4, 1_000_000_000)
	det := byzantine.NewDetector(reg, clock, nil)

	silent := ids[0]
	for h := uint64(1); h <= 3; h++ {
		voted := make(map[types.ID]bool)
		for _, id := range ids {
			voted[id] = id != silent
		}
		det.RecordHeightParticipation(h, voted)
	}

	faults := det.DetectFaults()
	found := false
	for _, f := range faults {
		if f.Validator == silent && f.Type == validator.SlashLiveness {
			found = true
		}
	}
	if !found {
		t.Fatalf("Expected liveness fault for %s, faults=%v", silent.Short(), describe(faults))
	}
}

func describe(faults []byzantine.Fault) []string {
	out := make([]string, len(faults))
	for i, f := range faults {
		out[i] = fmt.Sprintf("%s:%v", f.Validator.Short(), f.Type)
	}
	return out
}
