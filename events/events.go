// Package events provides the asynchronous event boundary between the
// consensus components and their external collaborators.
package events

import (
	"log"
	"sync"

	"github.com/ahwlsqja/wbft-cosmos/types"
)

// EventType identifies a consensus event variant.
type EventType int

const (
	// EventStartRound signals the start of a new round.
	EventStartRound EventType = iota
	// EventProposalReceived signals receipt of a proposal.
	EventProposalReceived
	// EventVoteReceived signals receipt of a vote.
	EventVoteReceived
	// EventRoundPrepared signals a polka for the current round.
	EventRoundPrepared
	// EventRoundCompleted signals a committed block.
	EventRoundCompleted
	// EventRoundFailed signals a round that timed out without commit.
	EventRoundFailed
	// EventValidatorJoin signals a validator joining the set.
	EventValidatorJoin
	// EventValidatorLeave signals a validator leaving the set.
	EventValidatorLeave
	// EventValidatorRegistered signals a completed registration.
	EventValidatorRegistered
	// EventByzantineFault signals detected misbehavior.
	EventByzantineFault
)

// String returns the string representation of EventType.
func (et EventType) String() string {
	switch et {
	case EventStartRound:
		return "START-ROUND"
	case EventProposalReceived:
		return "PROPOSAL-RECEIVED"
	case EventVoteReceived:
		return "VOTE-RECEIVED"
	case EventRoundPrepared:
		return "ROUND-PREPARED"
	case EventRoundCompleted:
		return "ROUND-COMPLETED"
	case EventRoundFailed:
		return "ROUND-FAILED"
	case EventValidatorJoin:
		return "VALIDATOR-JOIN"
	case EventValidatorLeave:
		return "VALIDATOR-LEAVE"
	case EventValidatorRegistered:
		return "VALIDATOR-REGISTERED"
	case EventByzantineFault:
		return "BYZANTINE-FAULT"
	default:
		return "UNKNOWN"
	}
}

// Event is a tagged union over consensus events. Type selects which of
// the optional fields are populated.
type Event struct {
	Type EventType

	// Round lifecycle
	Height  uint64
	Round   uint32
	Trigger string
	Err     error

	// Payloads
	Proposal  *types.Proposal
	Vote      *types.Vote
	BlockHash []byte

	// Validator lifecycle
	Validator types.ID
	Stake     uint64
}

// Channel fans consensus events out to subscribers. Publish never blocks:
// a subscriber that cannot keep up has events dropped and logged, the same
// overflow discipline the engine applies to its message channel.
type Channel struct {
	mu     sync.RWMutex
	subs   []chan Event
	size   int
	logger *log.Logger
	closed bool
}

// NewChannel creates an event channel with the given subscriber buffer size.
func NewChannel(bufferSize int) *Channel {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &Channel{
		size:   bufferSize,
		logger: log.Default(),
	}
}

// Subscribe registers a new subscriber and returns its receive channel.
func (c *Channel) Subscribe() <-chan Event {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan Event, c.size)
	c.subs = append(c.subs, ch)
	return ch
}

// Publish delivers an event to all subscribers without blocking.
func (c *Channel) Publish(ev Event) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return
	}
	for _, ch := range c.subs {
		select {
		case ch <- ev:
		default:
			c.logger.Printf("[Events] Subscriber full, dropping %s event", ev.Type)
		}
	}
}

// Close closes all subscriber channels.
func (c *Channel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	for _, ch := range c.subs {
		close(ch)
	}
	c.subs = nil
}

// SubscriberCount returns the number of active subscribers.
func (c *Channel) SubscriberCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.subs)
}
