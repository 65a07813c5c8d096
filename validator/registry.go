package validator

import (
	"crypto/sha256"
	"encoding/binary"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/ahwlsqja/wbft-cosmos/events"
	"github.com/ahwlsqja/wbft-cosmos/types"
)

// Registry errors.
type registryError string

func (e registryError) Error() string {
	return string(e)
}

const (
	ErrAlreadyRegistered   = registryError("validator already registered")
	ErrInsufficientStake   = registryError("stake below registration minimum")
	ErrInsufficientStorage = registryError("storage below registration minimum")
	ErrBelowMinimumStake   = registryError("resulting stake would drop below registration minimum")
	ErrValidatorNotFound   = registryError("validator not found")
	ErrMaxValidators       = registryError("validator set is full")
	ErrNoEligibleProposer  = registryError("no eligible proposer")
)

// jailDuration is the suspension term applied on jailing.
const jailDuration = 24 * time.Hour

// initialReputation is assigned on registration.
const initialReputation = 100

// Config holds the registration policy for the registry.
type Config struct {
	// MinStake is the minimum stake required to register.
	MinStake uint64

	// MinStorage is the minimum provided storage required to register.
	MinStorage uint64

	// MaxValidators bounds the registered set. Zero means unbounded.
	MaxValidators int
}

// Registry owns the validator table. All access goes through its
// operations; the internal map is never shared. Reads take the read
// lock so quorum math and proposer selection can proceed concurrently,
// while stake and slash mutations serialize on the write lock.
type Registry struct {
	mu sync.RWMutex

	config Config

	// Registered validators by identity
	validators map[types.ID]*Validator

	// Voting power curve
	powerFunc PowerFunc

	// Injected clock for jailing decisions
	clock types.Clock

	// Event sink, optional
	events *events.Channel

	logger *log.Logger
}

// NewRegistry creates a validator registry with the given policy.
// A nil powerFunc selects DefaultPowerFunc; a nil clock selects the
// system clock.
func NewRegistry(config Config, powerFunc PowerFunc, clock types.Clock) *Registry {
	if powerFunc == nil {
		powerFunc = DefaultPowerFunc
	}
	if clock == nil {
		clock = types.SystemClock{}
	}
	return &Registry{
		config:     config,
		validators: make(map[types.ID]*Validator),
		powerFunc:  powerFunc,
		clock:      clock,
		logger:     log.Default(),
	}
}

// SetEventChannel attaches an event channel for lifecycle events.
func (r *Registry) SetEventChannel(ch *events.Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = ch
}

// Register adds a new validator. Voting power is computed from the
// supplied stake and storage, status starts Active and reputation at 100.
func (r *Registry) Register(id types.ID, stake, storage uint64, consensusKey []byte, commissionRate float64) (*Validator, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.validators[id]; exists {
		return nil, ErrAlreadyRegistered
	}
	if stake < r.config.MinStake {
		return nil, ErrInsufficientStake
	}
	if storage < r.config.MinStorage {
		return nil, ErrInsufficientStorage
	}
	if r.config.MaxValidators > 0 && len(r.validators) >= r.config.MaxValidators {
		return nil, ErrMaxValidators
	}

	v := &Validator{
		ID:              id,
		ConsensusKey:    consensusKey,
		Stake:           stake,
		StorageProvided: storage,
		VotingPower:     r.powerFunc(stake, storage),
		Status:          StatusActive,
		CommissionRate:  commissionRate,
		Reputation:      initialReputation,
		LastActivity:    r.clock.Now(),
	}
	r.validators[id] = v

	r.logger.Printf("[Registry] Registered validator %s (stake=%d, storage=%d, power=%d)",
		id.Short(), stake, storage, v.VotingPower)
	r.publish(events.Event{Type: events.EventValidatorRegistered, Validator: id, Stake: stake})

	return v.Copy(), nil
}

// AddStake increases a validator's stake and recomputes voting power.
func (r *Registry) AddStake(id types.ID, amount uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	v, ok := r.validators[id]
	if !ok {
		return ErrValidatorNotFound
	}
	v.Stake += amount
	v.VotingPower = r.powerFunc(v.Stake, v.StorageProvided)
	return nil
}

// RemoveStake decreases a validator's stake and recomputes voting power.
// The resulting stake must stay at or above the registration minimum.
func (r *Registry) RemoveStake(id types.ID, amount uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	v, ok := r.validators[id]
	if !ok {
		return ErrValidatorNotFound
	}
	if amount > v.Stake || v.Stake-amount < r.config.MinStake {
		return ErrBelowMinimumStake
	}
	v.Stake -= amount
	v.VotingPower = r.powerFunc(v.Stake, v.StorageProvided)
	return nil
}

// SetStorage updates a validator's provided storage and recomputes
// voting power.
func (r *Registry) SetStorage(id types.ID, storage uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	v, ok := r.validators[id]
	if !ok {
		return ErrValidatorNotFound
	}
	v.StorageProvided = storage
	v.VotingPower = r.powerFunc(v.Stake, v.StorageProvided)
	return nil
}

// Slash applies an economic penalty: stake is reduced by percentage,
// reputation by the fixed penalty for slashType, and voting power is
// recomputed. Jailing triggers when percentage >= 10 or the cumulative
// slash count reaches 3. Every call deducts; replay protection is the
// caller's responsibility. Returns the slashed amount.
func (r *Registry) Slash(id types.ID, slashType SlashType, percentage uint64) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	v, ok := r.validators[id]
	if !ok {
		return 0, ErrValidatorNotFound
	}

	slashed := v.Stake * percentage / 100
	v.Stake = saturatingSub(v.Stake, slashed)
	v.SlashCount++
	v.Reputation = saturatingSub32(v.Reputation, slashType.reputationPenalty())
	v.VotingPower = r.powerFunc(v.Stake, v.StorageProvided)
	if v.Status == StatusActive {
		v.Status = StatusSlashed
	}

	if percentage >= 10 || v.SlashCount >= 3 {
		until := r.clock.Now().Add(jailDuration)
		v.Status = StatusJailed
		v.JailUntil = &until
		r.logger.Printf("[Registry] Jailed validator %s until %s (slashes=%d)",
			id.Short(), until.Format(time.RFC3339), v.SlashCount)
	}

	r.logger.Printf("[Registry] Slashed validator %s: type=%s pct=%d amount=%d power=%d",
		id.Short(), slashType, percentage, slashed, v.VotingPower)

	return slashed, nil
}

// TryReleaseFromJail restores a jailed validator to Active once its jail
// term has expired. Calling early is a no-op.
func (r *Registry) TryReleaseFromJail(id types.ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	v, ok := r.validators[id]
	if !ok {
		return ErrValidatorNotFound
	}
	if v.Status != StatusJailed || v.JailUntil == nil {
		return nil
	}
	if r.clock.Now().Before(*v.JailUntil) {
		return nil
	}
	v.Status = StatusActive
	v.JailUntil = nil
	r.logger.Printf("[Registry] Released validator %s from jail", id.Short())
	return nil
}

// Deactivate marks a validator Inactive. Validators are never deleted;
// slashing history survives departure.
func (r *Registry) Deactivate(id types.ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	v, ok := r.validators[id]
	if !ok {
		return ErrValidatorNotFound
	}
	v.Status = StatusInactive
	r.publish(events.Event{Type: events.EventValidatorLeave, Validator: id})
	return nil
}

// Reactivate restores an Inactive or Slashed validator to Active.
// Jailed validators must go through TryReleaseFromJail.
func (r *Registry) Reactivate(id types.ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	v, ok := r.validators[id]
	if !ok {
		return ErrValidatorNotFound
	}
	if v.Status == StatusJailed {
		return nil
	}
	v.Status = StatusActive
	r.publish(events.Event{Type: events.EventValidatorJoin, Validator: id, Stake: v.Stake})
	return nil
}

// Heartbeat records validator activity.
func (r *Registry) Heartbeat(id types.ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	v, ok := r.validators[id]
	if !ok {
		return ErrValidatorNotFound
	}
	v.LastActivity = r.clock.Now()
	return nil
}

// CanParticipate reports whether a validator may vote or propose now.
func (r *Registry) CanParticipate(id types.ID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	v, ok := r.validators[id]
	if !ok {
		return false
	}
	return v.CanParticipateAt(r.clock.Now())
}

// Get returns a copy of the validator, if registered.
func (r *Registry) Get(id types.ID) (*Validator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	v, ok := r.validators[id]
	if !ok {
		return nil, ErrValidatorNotFound
	}
	return v.Copy(), nil
}

// VotingPower returns a validator's current voting power, zero if the
// validator cannot participate.
func (r *Registry) VotingPower(id types.ID) uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	v, ok := r.validators[id]
	if !ok || !v.CanParticipateAt(r.clock.Now()) {
		return 0
	}
	return v.VotingPower
}

// TotalVotingPower returns the summed power of all currently eligible
// validators. The round engine compares weighted vote sums against this.
func (r *Registry) TotalVotingPower() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := r.clock.Now()
	var total uint64
	for _, v := range r.validators {
		if v.CanParticipateAt(now) {
			total += v.VotingPower
		}
	}
	return total
}

// ActiveCount returns the number of currently eligible validators.
func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := r.clock.Now()
	count := 0
	for _, v := range r.validators {
		if v.CanParticipateAt(now) {
			count++
		}
	}
	return count
}

// Size returns the number of registered validators regardless of status.
func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.validators)
}

// List returns copies of all registered validators.
func (r *Registry) List() []*Validator {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Validator, 0, len(r.validators))
	for _, v := range r.validators {
		out = append(out, v.Copy())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ID.Compare(out[j].ID) < 0
	})
	return out
}

// SelectProposer deterministically picks the proposer for (height, round).
// Eligible validators are ordered by voting power descending with identity
// byte order breaking ties, then a hash of (height, round) indexes into
// the cumulative power range so each validator is chosen proportionally to
// its weight. Every honest node computes the same proposer from the same
// validator set snapshot.
func (r *Registry) SelectProposer(height uint64, round uint32) (types.ID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	now := r.clock.Now()
	eligible := make([]*Validator, 0, len(r.validators))
	var total uint64
	for _, v := range r.validators {
		if v.CanParticipateAt(now) && v.VotingPower > 0 {
			eligible = append(eligible, v)
			total += v.VotingPower
		}
	}
	if len(eligible) == 0 || total == 0 {
		return types.ID{}, ErrNoEligibleProposer
	}

	sort.Slice(eligible, func(i, j int) bool {
		if eligible[i].VotingPower != eligible[j].VotingPower {
			return eligible[i].VotingPower > eligible[j].VotingPower
		}
		return eligible[i].ID.Compare(eligible[j].ID) < 0
	})

	target := proposerSeed(height, round) % total
	var cum uint64
	for _, v := range eligible {
		cum += v.VotingPower
		if target < cum {
			return v.ID, nil
		}
	}
	// Unreachable: target < total == cum after the loop.
	return eligible[len(eligible)-1].ID, nil
}

// proposerSeed hashes (height, round) so consecutive rounds land at
// unrelated points of the cumulative power range.
func proposerSeed(height uint64, round uint32) uint64 {
	var buf [12]byte
	binary.BigEndian.PutUint64(buf[:8], height)
	binary.BigEndian.PutUint32(buf[8:], round)
	sum := sha256.Sum256(buf[:])
	return binary.BigEndian.Uint64(sum[:8])
}

// publish emits an event if a channel is attached. Caller holds r.mu.
func (r *Registry) publish(ev events.Event) {
	if r.events != nil {
		r.events.Publish(ev)
	}
}
