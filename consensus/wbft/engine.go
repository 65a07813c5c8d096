package wbft

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/ahwlsqja/wbft-cosmos/byzantine"
	"github.com/ahwlsqja/wbft-cosmos/crypto"
	"github.com/ahwlsqja/wbft-cosmos/events"
	"github.com/ahwlsqja/wbft-cosmos/metrics"
	"github.com/ahwlsqja/wbft-cosmos/types"
	"github.com/ahwlsqja/wbft-cosmos/validator"
)

// Engine errors.
type engineError string

func (e engineError) Error() string {
	return string(e)
}

const (
	ErrEngineRunning    = engineError("engine already running")
	ErrEngineNotRunning = engineError("engine not running")
	ErrNotValidator     = engineError("node is not a registered validator")
)

// Transport defines the interface for sending messages to other nodes.
type Transport interface {
	// Broadcast sends a message to all peers.
	Broadcast(msg *Message) error

	// Send sends a message to a specific peer.
	Send(id types.ID, msg *Message) error

	// SetMessageHandler sets the handler for incoming messages.
	SetMessageHandler(handler func(*Message))
}

// Application defines the interface for the state machine driven by
// consensus.
type Application interface {
	// ValidateBlock validates a block before voting on it.
	ValidateBlock(block *types.Block) error

	// ExecuteBlock executes a committed block and returns the result.
	ExecuteBlock(block *types.Block) ([]byte, error)

	// Commit makes the executed block's state durable.
	Commit(block *types.Block) error
}

// BlockProducer supplies the payload for blocks this node proposes.
type BlockProducer interface {
	// NextPayload returns at most maxBytes of pending payload, which
	// may be empty.
	NextPayload(maxBytes int) []byte
}

// BlockStore persists committed blocks.
type BlockStore interface {
	SaveBlock(block *types.Block) error
}

// Engine runs the weighted BFT round state machine. All consensus state
// lives in the receive loop goroutine; the network and timers feed it
// through channels, and the mutex only covers the snapshot accessors.
type Engine struct {
	mu sync.RWMutex

	config *Config

	// This node's consensus identity
	nodeID types.ID
	signer crypto.Signer
	verify crypto.VerifyFunc

	registry *validator.Registry
	detector *byzantine.Detector

	transport Transport
	app       Application
	producer  BlockProducer

	// Optional collaborators
	store   BlockStore
	events  *events.Channel
	metrics metrics.Collector
	clock   types.Clock

	// Round state for the current height
	rs *roundState

	// Messages for the next height, held across the block interval gap
	// and replayed when that height starts
	nextProposals []*types.Proposal
	nextVotes     []*types.Vote

	// Hash and height of the last committed block
	lastHash   []byte
	lastHeight uint64

	proposalChan chan *types.Proposal
	voteChan     chan *types.Vote
	ticker       *timeoutTicker

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool

	logger *log.Logger
}

// NewEngine creates a consensus engine. The node's identity is derived
// from the signer. Optional collaborators default to no-ops and can be
// replaced with the Set methods before Start.
func NewEngine(config *Config, signer crypto.Signer, registry *validator.Registry,
	detector *byzantine.Detector, transport Transport, app Application, producer BlockProducer) (*Engine, error) {

	if err := config.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		config:       config,
		nodeID:       signer.Address(),
		signer:       signer,
		verify:       crypto.Verify,
		registry:     registry,
		detector:     detector,
		transport:    transport,
		app:          app,
		producer:     producer,
		metrics:      &metrics.NullMetrics{},
		clock:        types.SystemClock{},
		proposalChan: make(chan *types.Proposal, 256),
		voteChan:     make(chan *types.Vote, 1024),
		ticker:       newTimeoutTicker(),
		logger:       log.Default(),
	}
	transport.SetMessageHandler(e.HandleMessage)
	return e, nil
}

// SetEventChannel attaches an event channel for consensus events.
func (e *Engine) SetEventChannel(ch *events.Channel) {
	e.events = ch
}

// SetMetrics replaces the metrics collector.
func (e *Engine) SetMetrics(c metrics.Collector) {
	e.metrics = c
}

// SetStore attaches a block store for committed blocks.
func (e *Engine) SetStore(s BlockStore) {
	e.store = s
}

// SetClock replaces the engine clock.
func (e *Engine) SetClock(c types.Clock) {
	e.clock = c
}

// Start begins consensus at the height after the given last committed
// block. For a fresh chain, pass height 0 and a nil hash.
func (e *Engine) Start(ctx context.Context, lastHeight uint64, lastHash []byte) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return ErrEngineRunning
	}
	if !e.registry.CanParticipate(e.nodeID) {
		e.mu.Unlock()
		return ErrNotValidator
	}
	e.running = true
	e.lastHeight = lastHeight
	e.lastHash = lastHash
	e.ctx, e.cancel = context.WithCancel(ctx)
	e.mu.Unlock()

	e.ticker.Start()
	e.wg.Add(1)
	go e.receiveRoutine()

	e.logger.Printf("[Engine] Started node=%s height=%d", e.nodeID.Short(), lastHeight+1)
	return nil
}

// Stop shuts the engine down and waits for the receive loop to exit.
func (e *Engine) Stop() error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return ErrEngineNotRunning
	}
	e.running = false
	e.mu.Unlock()

	e.cancel()
	e.wg.Wait()
	e.ticker.Stop()
	e.logger.Printf("[Engine] Stopped node=%s", e.nodeID.Short())
	return nil
}

// Height returns the height currently under consensus.
func (e *Engine) Height() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.rs == nil {
		return e.lastHeight
	}
	return e.rs.height
}

// Round returns the current round within the height.
func (e *Engine) Round() uint32 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.rs == nil {
		return 0
	}
	return e.rs.round
}

// Step returns the current round step.
func (e *Engine) Step() RoundStep {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.rs == nil {
		return StepNewRound
	}
	return e.rs.step
}

// CommittedHeight returns the height of the last committed block.
func (e *Engine) CommittedHeight() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastHeight
}

// HandleMessage decodes a wire message and queues it for the receive
// loop. Malformed or unverifiable messages are dropped with a log line.
func (e *Engine) HandleMessage(msg *Message) {
	e.metrics.MessageReceived(msg.Type.String())
	switch msg.Type {
	case MsgProposal:
		p, err := types.DecodeProposal(msg.Payload)
		if err != nil {
			e.logger.Printf("[Engine] Dropping malformed proposal from %s: %v", msg.SenderID.Short(), err)
			return
		}
		select {
		case e.proposalChan <- p:
		default:
			e.logger.Printf("[Engine] Proposal queue full, dropping proposal at height=%d", p.Height)
		}
	case MsgVote:
		v, err := types.DecodeVote(msg.Payload)
		if err != nil {
			e.logger.Printf("[Engine] Dropping malformed vote from %s: %v", msg.SenderID.Short(), err)
			return
		}
		select {
		case e.voteChan <- v:
		default:
			e.logger.Printf("[Engine] Vote queue full, dropping vote at height=%d", v.Height)
		}
	case MsgEvidence:
		var ev byzantine.DoubleSignEvent
		if err := json.Unmarshal(msg.Payload, &ev); err != nil {
			e.logger.Printf("[Engine] Dropping malformed evidence from %s: %v", msg.SenderID.Short(), err)
			return
		}
		e.detector.RecordDoubleSign(ev)
		e.metrics.EvidenceRecorded("double_sign")
	default:
		e.logger.Printf("[Engine] Dropping message of unknown type %d", msg.Type)
	}
}

// receiveRoutine owns all consensus state transitions. Proposals, votes
// and timeouts are serialized through it, which is what makes the step
// logic race-free without fine-grained locking.
func (e *Engine) receiveRoutine() {
	defer e.wg.Done()

	e.startHeight(e.lastHeight + 1)

	for {
		select {
		case p := <-e.proposalChan:
			e.handleProposal(p)
		case v := <-e.voteChan:
			e.handleVote(v)
		case ti := <-e.ticker.Chan():
			e.handleTimeout(ti)
		case <-e.ctx.Done():
			return
		}
	}
}

// startHeight resets round state for a new height and enters round 0.
// Total voting power is snapshotted here and used for every quorum
// decision at this height.
func (e *Engine) startHeight(height uint64) {
	total := e.registry.TotalVotingPower()
	e.mu.Lock()
	e.rs = newRoundState(height, total, e.clock.Now())
	e.mu.Unlock()

	e.metrics.SetActiveValidators(e.registry.ActiveCount())
	e.metrics.SetTotalVotingPower(total)
	e.enterNewRound(height, 0)

	// Messages that arrived for this height while the previous one was
	// finishing go through the normal handlers now.
	proposals, votes := e.nextProposals, e.nextVotes
	e.nextProposals, e.nextVotes = nil, nil
	for _, p := range proposals {
		e.handleProposal(p)
	}
	for _, v := range votes {
		e.handleVote(v)
	}
}

// Bounds on messages buffered for the upcoming height.
const (
	maxBufferedProposals = 16
	maxBufferedVotes     = 1024
)

// enterNewRound selects the proposer for (height, round) and moves to
// the propose step. If this node is the proposer it builds, signs and
// broadcasts a proposal immediately.
func (e *Engine) enterNewRound(height uint64, round uint32) {
	e.mu.Lock()
	rs := e.rs
	rs.round = round
	rs.step = StepNewRound
	rs.proposal = nil
	rs.prevoteTimeoutScheduled = false
	rs.precommitTimeoutScheduled = false
	e.mu.Unlock()

	e.metrics.StartRound(height, round)
	e.metrics.SetRound(round)
	e.publish(events.Event{Type: events.EventStartRound, Height: height, Round: round})

	proposer, err := e.registry.SelectProposer(height, round)
	if err != nil {
		e.logger.Printf("[Engine] No proposer for height=%d round=%d: %v", height, round, err)
		e.scheduleTimeout(e.config.timeoutFor(e.config.ProposeTimeout, round), height, round, StepPropose)
		return
	}
	rs.proposer = proposer

	e.mu.Lock()
	rs.step = StepPropose
	e.mu.Unlock()
	e.scheduleTimeout(e.config.timeoutFor(e.config.ProposeTimeout, round), height, round, StepPropose)

	e.logger.Printf("[Engine] Entering round height=%d round=%d proposer=%s", height, round, proposer.Short())

	if proposer == e.nodeID {
		e.decideProposal(height, round)
	}
}

// decideProposal builds and broadcasts this node's proposal. A known
// valid proposal from an earlier round is re-proposed so the network
// converges on it; otherwise a fresh block is built from the producer.
func (e *Engine) decideProposal(height uint64, round uint32) {
	rs := e.rs

	var block *types.Block
	if rs.validProposal != nil {
		block = rs.validProposal.Block
	} else {
		payload := e.producer.NextPayload(e.config.MaxBlockBytes)
		block = types.NewBlock(height, e.lastHash, e.nodeID, round, payload)
	}

	proof, err := e.buildProof()
	if err != nil {
		e.logger.Printf("[Engine] Cannot build consensus proof: %v", err)
		return
	}

	proposal := types.NewProposal(e.nodeID, height, round, block, proof)
	sig, err := e.signer.Sign(proposal.SignBytes())
	if err != nil {
		e.logger.Printf("[Engine] Failed to sign proposal: %v", err)
		return
	}
	proposal.Signature = sig

	msg, err := NewProposalMessage(proposal)
	if err != nil {
		e.logger.Printf("[Engine] Failed to encode proposal: %v", err)
		return
	}
	if err := e.transport.Broadcast(msg); err != nil {
		e.logger.Printf("[Engine] Failed to broadcast proposal: %v", err)
	}
	e.metrics.MessageSent(MsgProposal.String())
	e.logger.Printf("[Engine] Proposed block height=%d round=%d hash=%x", height, round, block.Hash[:8])

	// Deliver to ourselves on the same path as peer proposals.
	e.handleProposal(proposal)
}

// buildProof derives this node's consensus proof from its registry
// entry: a storage proof when it provides storage, a stake proof
// otherwise. The last committed hash serves as the storage challenge.
func (e *Engine) buildProof() (types.ConsensusProof, error) {
	v, err := e.registry.Get(e.nodeID)
	if err != nil {
		return types.ConsensusProof{}, err
	}
	if v.StorageProvided > 0 {
		response, err := e.signer.Sign(e.lastHash)
		if err != nil {
			return types.ConsensusProof{}, err
		}
		return types.NewStorageProof(v.StorageProvided, e.lastHash, response), nil
	}
	var stakeBytes [8]byte
	binary.BigEndian.PutUint64(stakeBytes[:], v.Stake)
	sig, err := e.signer.Sign(stakeBytes[:])
	if err != nil {
		return types.ConsensusProof{}, err
	}
	return types.NewStakeProof(v.Stake, e.lastHeight, sig), nil
}

// handleProposal validates an incoming proposal and, when it is for the
// current round during the propose step, prevotes on it.
func (e *Engine) handleProposal(p *types.Proposal) {
	rs := e.rs
	if p.Height == rs.height+1 && len(e.nextProposals) < maxBufferedProposals {
		e.nextProposals = append(e.nextProposals, p)
		return
	}
	if p.Height != rs.height {
		return
	}

	if err := e.validateProposal(p); err != nil {
		e.logger.Printf("[Engine] Invalid proposal from %s at height=%d round=%d: %v",
			p.Proposer.Short(), p.Height, p.Round, err)
		e.detector.RecordInvalidProposal(p.Proposer, p.Height, p.Round, err.Error())
		e.metrics.EvidenceRecorded("invalid_proposal")
		// An invalid proposal in our round still resolves the propose
		// step: prevote nil rather than waiting out the timeout.
		if p.Round == rs.round && rs.step == StepPropose {
			e.enterPreVote()
		}
		return
	}

	rs.rememberProposal(p)
	e.publish(events.Event{Type: events.EventProposalReceived, Height: p.Height, Round: p.Round, Proposal: p})

	if p.Round != rs.round {
		return
	}
	e.mu.Lock()
	rs.proposal = p
	e.mu.Unlock()

	if rs.step == StepPropose {
		e.enterPreVote()
	}
}

// validateProposal checks proposer legitimacy, signature, proof and
// block content.
func (e *Engine) validateProposal(p *types.Proposal) error {
	expected, err := e.registry.SelectProposer(p.Height, p.Round)
	if err != nil {
		return err
	}
	if p.Proposer != expected {
		return fmt.Errorf("proposer %s is not the round proposer %s", p.Proposer.Short(), expected.Short())
	}
	v, err := e.registry.Get(p.Proposer)
	if err != nil {
		return err
	}
	if !e.verify(v.ConsensusKey, p.SignBytes(), p.Signature) {
		return fmt.Errorf("invalid proposal signature")
	}
	if err := p.Proof.Validate(); err != nil {
		return fmt.Errorf("invalid consensus proof: %w", err)
	}
	if p.Block == nil {
		return fmt.Errorf("proposal carries no block")
	}
	if !bytes.Equal(p.Block.Hash, p.Block.ComputeHash()) {
		return fmt.Errorf("block hash mismatch")
	}
	if !bytes.Equal(p.Block.Header.PrevHash, e.lastHash) {
		return fmt.Errorf("block does not extend the committed chain")
	}
	if len(p.Block.Payload) > e.config.MaxBlockBytes {
		return fmt.Errorf("block payload exceeds %d bytes", e.config.MaxBlockBytes)
	}
	if err := e.app.ValidateBlock(p.Block); err != nil {
		return fmt.Errorf("application rejected block: %w", err)
	}
	return nil
}

// enterPreVote casts this node's prevote for the current round. A
// locked node keeps voting its locked proposal; otherwise it votes the
// received proposal, or nil when none arrived in time.
func (e *Engine) enterPreVote() {
	rs := e.rs
	e.mu.Lock()
	rs.step = StepPreVote
	e.mu.Unlock()

	var target types.ID
	switch {
	case rs.lockedProposal != nil:
		target = rs.lockedProposal.ID
	case rs.proposal != nil:
		target = rs.proposal.ID
	default:
		// nil prevote
	}
	e.castVote(types.VoteTypePreVote, target)
}

// enterPreCommit casts this node's precommit. A polka for a proposal in
// the current round locks it and precommits it; a nil polka releases
// any lock; with no polka at all the precommit is nil and the lock is
// kept.
func (e *Engine) enterPreCommit() {
	rs := e.rs
	e.mu.Lock()
	rs.step = StepPreCommit
	e.mu.Unlock()

	var target types.ID
	polkaID, hasPolka := rs.votes.PreVotes(rs.round).TwoThirdsMajority()
	switch {
	case hasPolka && !polkaID.IsZero():
		if p := rs.proposalByID(polkaID); p != nil {
			e.mu.Lock()
			rs.lockedProposal = p
			rs.lockedRound = int64(rs.round)
			e.mu.Unlock()
			target = polkaID
			e.logger.Printf("[Engine] Locked on proposal %s at height=%d round=%d",
				polkaID.Short(), rs.height, rs.round)
		}
	case hasPolka && polkaID.IsZero():
		e.mu.Lock()
		rs.lockedProposal = nil
		rs.lockedRound = noRound
		e.mu.Unlock()
	}
	e.castVote(types.VoteTypePreCommit, target)
}

// castVote signs, broadcasts and self-delivers a vote.
func (e *Engine) castVote(vt types.VoteType, proposalID types.ID) {
	rs := e.rs
	vote := types.NewVote(e.nodeID, proposalID, vt, rs.height, rs.round)
	sig, err := e.signer.Sign(vote.SignBytes())
	if err != nil {
		e.logger.Printf("[Engine] Failed to sign vote: %v", err)
		return
	}
	vote.Signature = sig

	msg, err := NewVoteMessage(vote)
	if err != nil {
		e.logger.Printf("[Engine] Failed to encode vote: %v", err)
		return
	}
	if err := e.transport.Broadcast(msg); err != nil {
		e.logger.Printf("[Engine] Failed to broadcast vote: %v", err)
	}
	e.metrics.MessageSent(MsgVote.String())

	e.handleVote(vote)
}

// handleVote verifies and tallies a vote, then advances the step when
// a quorum condition is met.
func (e *Engine) handleVote(v *types.Vote) {
	rs := e.rs
	if v.Height == rs.height+1 && len(e.nextVotes) < maxBufferedVotes {
		e.nextVotes = append(e.nextVotes, v)
		return
	}
	if v.Height != rs.height {
		return
	}

	voter, err := e.registry.Get(v.Voter)
	if err != nil {
		e.logger.Printf("[Engine] Vote from unknown validator %s", v.Voter.Short())
		return
	}
	if !e.verify(voter.ConsensusKey, v.SignBytes(), v.Signature) {
		e.logger.Printf("[Engine] Invalid vote signature from %s", v.Voter.Short())
		return
	}
	power := e.registry.VotingPower(v.Voter)
	if power == 0 {
		e.logger.Printf("[Engine] Vote from ineligible validator %s", v.Voter.Short())
		return
	}

	// Evidence tracking sees every vote, including relays of our own.
	if ev := e.detector.ObserveVote(v); ev != nil {
		e.metrics.EvidenceRecorded("double_sign")
	}

	added, conflict := rs.votes.AddVote(v, power)
	if conflict != nil {
		e.logger.Printf("[Engine] Conflicting %s vote from %s at height=%d round=%d",
			v.Type, v.Voter.Short(), v.Height, v.Round)
	}
	if !added && conflict == nil {
		return
	}

	e.metrics.VoteReceived(v.Type.String())
	e.publish(events.Event{Type: events.EventVoteReceived, Height: v.Height, Round: v.Round, Vote: v})

	switch v.Type {
	case types.VoteTypePreVote:
		e.checkPreVotes(v.Round)
	case types.VoteTypePreCommit:
		e.checkPreCommits(v.Round)
	}
}

// checkPreVotes inspects the prevote set of a round after a new vote.
func (e *Engine) checkPreVotes(round uint32) {
	rs := e.rs
	prevotes := rs.votes.PreVotes(round)

	polkaID, hasPolka := prevotes.TwoThirdsMajority()
	if hasPolka && !polkaID.IsZero() {
		e.metrics.PolkaObserved()

		if p := rs.proposalByID(polkaID); p != nil && int64(round) > rs.validRound {
			e.mu.Lock()
			rs.validProposal = p
			rs.validRound = int64(round)
			e.mu.Unlock()
			e.publish(events.Event{
				Type: events.EventRoundPrepared, Height: rs.height, Round: round,
				BlockHash: p.Block.Hash, Trigger: "polka",
			})
		}

		// A polka for a different proposal in a later round releases
		// the lock; the old proposal can no longer commit safely.
		if rs.lockedProposal != nil && polkaID != rs.lockedProposal.ID && int64(round) > rs.lockedRound {
			e.mu.Lock()
			rs.lockedProposal = nil
			rs.lockedRound = noRound
			e.mu.Unlock()
			e.logger.Printf("[Engine] Unlocked at height=%d: newer polka in round %d", rs.height, round)
		}
	}

	if round != rs.round || rs.step != StepPreVote {
		return
	}
	if hasPolka {
		e.enterPreCommit()
		return
	}
	if !rs.prevoteTimeoutScheduled && prevotes.HasTwoThirdsAny() {
		// Two thirds voted without agreeing; give stragglers one
		// timeout before precommitting nil. Armed once per round so
		// further votes cannot keep pushing the deadline back.
		rs.prevoteTimeoutScheduled = true
		e.scheduleTimeout(e.config.timeoutFor(e.config.PreVoteTimeout, round), rs.height, round, StepPreVote)
	}
}

// checkPreCommits inspects the precommit set of a round after a new vote.
func (e *Engine) checkPreCommits(round uint32) {
	rs := e.rs

	// The height is decided once. Precommits straggling in after the
	// commit are tallied above but must not re-run the commit path.
	if rs.step == StepCommit {
		return
	}
	precommits := rs.votes.PreCommits(round)

	if id, ok := precommits.TwoThirdsMajority(); ok {
		if !id.IsZero() {
			e.commit(id, round)
			return
		}
		// Supermajority precommitted nil: the round cannot commit.
		e.roundFailed(round, "two-thirds precommitted nil")
		return
	}
	if round == rs.round && rs.step == StepPreCommit && !rs.precommitTimeoutScheduled && precommits.HasTwoThirdsAny() {
		rs.precommitTimeoutScheduled = true
		e.scheduleTimeout(e.config.timeoutFor(e.config.PreCommitTimeout, round), rs.height, round, StepPreCommit)
	}
}

// commit finalizes a block that gathered a precommit supermajority:
// executes and persists it, settles misbehavior evidence for the
// height, and schedules the next height after the block interval.
func (e *Engine) commit(proposalID types.ID, round uint32) {
	rs := e.rs
	p := rs.proposalByID(proposalID)
	if p == nil {
		e.logger.Printf("[Engine] Supermajority for unknown proposal %s at height=%d, waiting for it",
			proposalID.Short(), rs.height)
		return
	}

	e.mu.Lock()
	rs.step = StepCommit
	e.mu.Unlock()
	block := p.Block

	execStart := e.clock.Now()
	if _, err := e.app.ExecuteBlock(block); err != nil {
		e.logger.Printf("[Engine] Block execution failed at height=%d: %v", rs.height, err)
		e.roundFailed(round, fmt.Sprintf("execution failed: %v", err))
		return
	}
	e.metrics.BlockExecutionTime(e.clock.Now().Sub(execStart))

	if err := e.app.Commit(block); err != nil {
		e.logger.Printf("[Engine] Application commit failed at height=%d: %v", rs.height, err)
		e.roundFailed(round, fmt.Sprintf("commit failed: %v", err))
		return
	}
	if e.store != nil {
		if err := e.store.SaveBlock(block); err != nil {
			e.logger.Printf("[Engine] Failed to persist block height=%d: %v", rs.height, err)
		}
	}

	e.mu.Lock()
	e.lastHash = block.Hash
	e.lastHeight = rs.height
	e.mu.Unlock()

	e.metrics.RoundCommitted(rs.height)
	e.metrics.SetHeight(rs.height)
	e.metrics.BlockCommitted(len(block.Payload))
	e.publish(events.Event{
		Type: events.EventRoundCompleted, Height: rs.height, Round: round, BlockHash: block.Hash,
	})
	e.logger.Printf("[Engine] Committed block height=%d round=%d hash=%x power=%d/%d",
		rs.height, round, block.Hash[:8],
		rs.votes.PreCommits(round).PowerFor(proposalID), rs.votes.PreCommits(round).totalPower)

	e.settleEvidence()

	e.scheduleTimeout(e.config.BlockInterval, rs.height+1, 0, StepNewRound)
}

// settleEvidence closes participation books for the committed height
// and applies slashing for any faults found.
func (e *Engine) settleEvidence() {
	rs := e.rs
	e.detector.RecordHeightParticipation(rs.height, rs.votes.Participants())

	faults := e.detector.DetectFaults()
	if len(faults) == 0 {
		return
	}
	for _, f := range faults {
		e.metrics.SlashApplied(f.Type.String())
	}
	slashed, errs := e.detector.ProcessFaults(faults)
	for _, err := range errs {
		e.logger.Printf("[Engine] Fault processing error: %v", err)
	}
	if slashed > 0 {
		e.logger.Printf("[Engine] Applied %d faults at height=%d, slashed %d stake",
			len(faults), rs.height, slashed)
	}

	jailed := 0
	for _, v := range e.registry.List() {
		if v.Status == validator.StatusJailed {
			jailed++
		}
	}
	e.metrics.SetJailedValidators(jailed)

	if rs.height > evidenceRetentionHeights {
		e.detector.CleanupOldRecords(rs.height - evidenceRetentionHeights)
	}
}

// evidenceRetentionHeights is how far back vote records are kept for
// conflict detection.
const evidenceRetentionHeights = 100

// roundFailed abandons the current round and enters the next one.
// Locked and valid proposals survive into the new round.
func (e *Engine) roundFailed(round uint32, reason string) {
	rs := e.rs
	e.metrics.RoundFailed()
	e.publish(events.Event{
		Type: events.EventRoundFailed, Height: rs.height, Round: round, Trigger: reason,
	})
	e.logger.Printf("[Engine] Round failed height=%d round=%d: %s", rs.height, round, reason)
	e.enterNewRound(rs.height, round+1)
}

// handleTimeout reacts to an expired timeout. Timeouts carry the state
// they were scheduled in, so anything superseded is ignored.
func (e *Engine) handleTimeout(ti timeoutInfo) {
	rs := e.rs

	if ti.Step == StepNewRound && ti.Height == rs.height+1 {
		e.startHeight(ti.Height)
		return
	}
	if ti.Height != rs.height || ti.Round != rs.round {
		return
	}

	switch ti.Step {
	case StepPropose:
		if rs.step == StepPropose {
			e.logger.Printf("[Engine] Propose timeout height=%d round=%d", rs.height, rs.round)
			e.enterPreVote()
		}
	case StepPreVote:
		if rs.step == StepPreVote {
			e.logger.Printf("[Engine] Prevote timeout height=%d round=%d", rs.height, rs.round)
			e.enterPreCommit()
		}
	case StepPreCommit:
		if rs.step == StepPreCommit || rs.step == StepPreVote {
			e.roundFailed(rs.round, "precommit timeout")
		}
	}
}

func (e *Engine) scheduleTimeout(d time.Duration, height uint64, round uint32, step RoundStep) {
	e.ticker.ScheduleTimeout(timeoutInfo{Duration: d, Height: height, Round: round, Step: step})
}

func (e *Engine) publish(ev events.Event) {
	if e.events != nil {
		e.events.Publish(ev)
	}
}
