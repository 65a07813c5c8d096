// Package byzantine collects misbehavior evidence and turns it into
// slashing decisions. Evidence accumulates through the Record methods,
// DetectFaults drains everything actionable, and ProcessFaults applies
// the penalties through the validator registry.
package byzantine

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ahwlsqja/wbft-cosmos/events"
	"github.com/ahwlsqja/wbft-cosmos/types"
	"github.com/ahwlsqja/wbft-cosmos/validator"
)

// Severity grades a detected fault.
type Severity int

const (
	SeverityMinor Severity = iota
	SeverityMajor
	SeverityCritical
)

// String returns the string representation of Severity.
func (s Severity) String() string {
	switch s {
	case SeverityMinor:
		return "MINOR"
	case SeverityMajor:
		return "MAJOR"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// DoubleSignEvent records two conflicting signed votes from one
// validator for the same height, round and vote type.
type DoubleSignEvent struct {
	Validator  types.ID    `json:"validator"`
	Height     uint64      `json:"height"`
	Round      uint32      `json:"round"`
	VoteType   types.VoteType `json:"vote_type"`
	FirstVote  *types.Vote `json:"first_vote"`
	SecondVote *types.Vote `json:"second_vote"`
	DetectedAt time.Time   `json:"detected_at"`
}

// LivenessViolation records sustained non-participation.
type LivenessViolation struct {
	Validator     types.ID  `json:"validator"`
	MissedHeights uint64    `json:"missed_heights"`
	LastSeen      uint64    `json:"last_seen_height"`
	DetectedAt    time.Time `json:"detected_at"`
}

// InvalidProposalEvent records a proposal that failed validation.
type InvalidProposalEvent struct {
	Proposer   types.ID  `json:"proposer"`
	Height     uint64    `json:"height"`
	Round      uint32    `json:"round"`
	Reason     string    `json:"reason"`
	DetectedAt time.Time `json:"detected_at"`
}

// Fault is an actionable misbehavior finding produced by DetectFaults.
type Fault struct {
	Validator   types.ID            `json:"validator"`
	Type        validator.SlashType `json:"type"`
	Severity    Severity            `json:"severity"`
	Height      uint64              `json:"height"`
	Description string              `json:"description"`
	DetectedAt  time.Time           `json:"detected_at"`
}

// Thresholds below which evidence stays pending instead of becoming a fault.
const (
	// livenessFaultThreshold is the consecutive missed heights before a
	// liveness violation is raised.
	livenessFaultThreshold = 3

	// livenessCriticalThreshold escalates a liveness fault to critical.
	livenessCriticalThreshold = 10

	// invalidProposalFaultThreshold is the invalid proposal count before
	// a proposer is faulted. Isolated failures are tolerated as bugs.
	invalidProposalFaultThreshold = 3
)

// SlashPolicy holds the slash percentages ProcessFaults applies per
// fault type and severity. Operators tune these through the node
// configuration.
type SlashPolicy struct {
	DoubleSignCritical uint64 `json:"double_sign_critical"`
	DoubleSign         uint64 `json:"double_sign"`
	LivenessCritical   uint64 `json:"liveness_critical"`
	Liveness           uint64 `json:"liveness"`
	InvalidProposal    uint64 `json:"invalid_proposal"`
}

// DefaultSlashPolicy returns the standard slash percentages.
func DefaultSlashPolicy() SlashPolicy {
	return SlashPolicy{
		DoubleSignCritical: 10,
		DoubleSign:         5,
		LivenessCritical:   3,
		Liveness:           1,
		InvalidProposal:    2,
	}
}

// voteKey identifies one voting slot of one validator.
type voteKey struct {
	voter  types.ID
	height uint64
	round  uint32
	vtype  types.VoteType
}

// Detector accumulates evidence and converts it to faults. All evidence
// tables are guarded by one mutex; the detector is shared between the
// round engine goroutine and the per-height scan.
type Detector struct {
	mu sync.Mutex

	// First vote seen per slot, for conflict detection
	seenVotes map[voteKey]*types.Vote

	// Drained by DetectFaults
	doubleSigns      []DoubleSignEvent
	invalidProposals map[types.ID][]InvalidProposalEvent

	// Consecutive missed heights per validator
	missedHeights map[types.ID]uint64
	lastSeen      map[types.ID]uint64

	// Liveness violations already raised, cleared when the validator
	// participates again
	livenessRaised map[types.ID]bool

	policy SlashPolicy

	registry *validator.Registry
	clock    types.Clock
	events   *events.Channel
	logger   *log.Logger
}

// NewDetector creates a fault detector bound to a registry. A nil clock
// selects the system clock; the event channel is optional.
func NewDetector(registry *validator.Registry, clock types.Clock, ch *events.Channel) *Detector {
	if clock == nil {
		clock = types.SystemClock{}
	}
	return &Detector{
		seenVotes:        make(map[voteKey]*types.Vote),
		invalidProposals: make(map[types.ID][]InvalidProposalEvent),
		missedHeights:    make(map[types.ID]uint64),
		lastSeen:         make(map[types.ID]uint64),
		livenessRaised:   make(map[types.ID]bool),
		policy:           DefaultSlashPolicy(),
		registry:         registry,
		clock:            clock,
		events:           ch,
		logger:           log.Default(),
	}
}

// SetSlashPolicy replaces the slash percentages. Call before the
// detector starts processing faults.
func (d *Detector) SetSlashPolicy(p SlashPolicy) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.policy = p
}

// ObserveVote records a vote for conflict detection and participation
// tracking. Returns the double-sign event when the vote conflicts with
// one already seen for the same slot.
func (d *Detector) ObserveVote(vote *types.Vote) *DoubleSignEvent {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.markSeenLocked(vote.Voter, vote.Height)

	key := voteKey{voter: vote.Voter, height: vote.Height, round: vote.Round, vtype: vote.Type}
	prev, ok := d.seenVotes[key]
	if !ok {
		d.seenVotes[key] = vote
		return nil
	}
	if prev.ProposalID == vote.ProposalID {
		return nil
	}

	ev := DoubleSignEvent{
		Validator:  vote.Voter,
		Height:     vote.Height,
		Round:      vote.Round,
		VoteType:   vote.Type,
		FirstVote:  prev,
		SecondVote: vote,
		DetectedAt: d.clock.Now(),
	}
	d.doubleSigns = append(d.doubleSigns, ev)
	d.logger.Printf("[Detector] Double-sign by %s at height=%d round=%d type=%s",
		vote.Voter.Short(), vote.Height, vote.Round, vote.Type)
	return &ev
}

// RecordDoubleSign files externally produced double-sign evidence, for
// example relayed by a peer.
func (d *Detector) RecordDoubleSign(ev DoubleSignEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ev.DetectedAt.IsZero() {
		ev.DetectedAt = d.clock.Now()
	}
	d.doubleSigns = append(d.doubleSigns, ev)
}

// RecordInvalidProposal files evidence that a proposer produced an
// invalid block.
func (d *Detector) RecordInvalidProposal(proposer types.ID, height uint64, round uint32, reason string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.markSeenLocked(proposer, height)
	d.invalidProposals[proposer] = append(d.invalidProposals[proposer], InvalidProposalEvent{
		Proposer:   proposer,
		Height:     height,
		Round:      round,
		Reason:     reason,
		DetectedAt: d.clock.Now(),
	})
	d.logger.Printf("[Detector] Invalid proposal by %s at height=%d round=%d: %s",
		proposer.Short(), height, round, reason)
}

// RecordHeightParticipation closes the book on a committed height: every
// eligible validator that cast no vote accrues one missed height, and
// participants reset their counters.
func (d *Detector) RecordHeightParticipation(height uint64, voted map[types.ID]bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.clock.Now()
	for _, v := range d.registry.List() {
		if !v.CanParticipateAt(now) {
			continue
		}
		if voted[v.ID] {
			d.missedHeights[v.ID] = 0
			d.livenessRaised[v.ID] = false
			d.lastSeen[v.ID] = height
			continue
		}
		d.missedHeights[v.ID]++
	}
}

// markSeenLocked resets the missed-height counter for an observed
// validator. Caller holds d.mu.
func (d *Detector) markSeenLocked(id types.ID, height uint64) {
	d.missedHeights[id] = 0
	d.livenessRaised[id] = false
	if height > d.lastSeen[id] {
		d.lastSeen[id] = height
	}
}

// DetectFaults drains all actionable evidence and returns it as faults.
// A fault returned here will not be returned again, so each finding is
// slashed at most once. Liveness findings re-arm only after the
// validator participates again.
func (d *Detector) DetectFaults() []Fault {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.clock.Now()
	var faults []Fault

	for _, ev := range d.doubleSigns {
		faults = append(faults, Fault{
			Validator: ev.Validator,
			Type:      validator.SlashDoubleSign,
			Severity:  SeverityCritical,
			Height:    ev.Height,
			Description: fmt.Sprintf("conflicting %s votes at height %d round %d",
				ev.VoteType, ev.Height, ev.Round),
			DetectedAt: now,
		})
	}
	d.doubleSigns = nil

	for id, evs := range d.invalidProposals {
		if len(evs) < invalidProposalFaultThreshold {
			continue
		}
		last := evs[len(evs)-1]
		faults = append(faults, Fault{
			Validator: id,
			Type:      validator.SlashInvalidProposal,
			Severity:  SeverityMajor,
			Height:    last.Height,
			Description: fmt.Sprintf("%d invalid proposals, last at height %d: %s",
				len(evs), last.Height, last.Reason),
			DetectedAt: now,
		})
		delete(d.invalidProposals, id)
	}

	for id, missed := range d.missedHeights {
		if missed < livenessFaultThreshold || d.livenessRaised[id] {
			continue
		}
		sev := SeverityMinor
		if missed >= livenessCriticalThreshold {
			sev = SeverityCritical
		}
		faults = append(faults, Fault{
			Validator: id,
			Type:      validator.SlashLiveness,
			Severity:  sev,
			Height:    d.lastSeen[id],
			Description: fmt.Sprintf("missed %d consecutive heights, last seen at %d",
				missed, d.lastSeen[id]),
			DetectedAt: now,
		})
		d.livenessRaised[id] = true
	}

	return faults
}

// ProcessFaults applies slashing for each fault through the registry.
// One failing fault does not block the rest; all errors are collected.
// Returns the total stake slashed.
func (d *Detector) ProcessFaults(faults []Fault) (uint64, []error) {
	var total uint64
	var errs []error

	d.mu.Lock()
	policy := d.policy
	d.mu.Unlock()

	for _, f := range faults {
		pct := policy.percentageFor(f)
		slashed, err := d.registry.Slash(f.Validator, f.Type, pct)
		if err != nil {
			errs = append(errs, fmt.Errorf("slash %s for %s: %w", f.Validator.Short(), f.Type, err))
			continue
		}
		total += slashed
		d.logger.Printf("[Detector] Processed fault: validator=%s type=%s severity=%s slashed=%d",
			f.Validator.Short(), f.Type, f.Severity, slashed)
		if d.events != nil {
			d.events.Publish(events.Event{
				Type:      events.EventByzantineFault,
				Height:    f.Height,
				Validator: f.Validator,
				Trigger:   f.Description,
			})
		}
	}
	return total, errs
}

// percentageFor maps fault type and severity to the slash percentage.
func (p SlashPolicy) percentageFor(f Fault) uint64 {
	switch f.Type {
	case validator.SlashDoubleSign:
		if f.Severity == SeverityCritical {
			return p.DoubleSignCritical
		}
		return p.DoubleSign
	case validator.SlashLiveness:
		if f.Severity == SeverityCritical {
			return p.LivenessCritical
		}
		return p.Liveness
	case validator.SlashInvalidProposal:
		return p.InvalidProposal
	default:
		return p.Liveness
	}
}

// CleanupOldRecords drops vote bookkeeping below the given height. Old
// slots can no longer conflict once the chain has moved past them.
func (d *Detector) CleanupOldRecords(belowHeight uint64) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	removed := 0
	for key := range d.seenVotes {
		if key.height < belowHeight {
			delete(d.seenVotes, key)
			removed++
		}
	}
	return removed
}

// PendingInvalidProposals returns the invalid proposal count on record
// for a proposer. Used by the status endpoint.
func (d *Detector) PendingInvalidProposals(id types.ID) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.invalidProposals[id])
}

// MissedHeights returns the consecutive missed height count for a
// validator.
func (d *Detector) MissedHeights(id types.ID) uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.missedHeights[id]
}
