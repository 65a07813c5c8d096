// Package metrics provides Prometheus metrics for the weighted BFT
// consensus engine.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector is the metrics surface the engine and registry report to.
// Metrics implements it against Prometheus; NullMetrics is the no-op
// twin used in tests.
type Collector interface {
	StartRound(height uint64, round uint32)
	RoundCommitted(height uint64)
	RoundFailed()
	SetHeight(height uint64)
	SetRound(round uint32)
	VoteReceived(voteType string)
	PolkaObserved()
	MessageSent(msgType string)
	MessageReceived(msgType string)
	BlockExecutionTime(d time.Duration)
	BlockCommitted(payloadBytes int)
	SlashApplied(slashType string)
	EvidenceRecorded(kind string)
	SetActiveValidators(n int)
	SetJailedValidators(n int)
	SetTotalVotingPower(power uint64)
}

// Metrics holds all Prometheus metrics for the consensus engine.
type Metrics struct {
	mu sync.RWMutex

	// Consensus metrics
	roundsCommittedTotal prometheus.Counter   // 커밋된 라운드 수
	roundsFailedTotal    prometheus.Counter   // 실패한 라운드 수
	roundDuration        prometheus.Histogram // 라운드 소요 시간
	currentHeight        prometheus.Gauge     // 현재 블록 높이
	currentRound         prometheus.Gauge     // 현재 라운드 번호

	// Vote metrics
	votesReceivedTotal *prometheus.CounterVec // 타입별 수신 투표 수
	polkasTotal        prometheus.Counter     // 관측된 폴카 수

	// Message metrics
	messagesSentTotal     *prometheus.CounterVec
	messagesReceivedTotal *prometheus.CounterVec

	// Block metrics
	blockExecutionTime prometheus.Histogram
	blockBytesTotal    prometheus.Counter
	blocksTotal        prometheus.Counter

	// Validator metrics
	slashesTotal     *prometheus.CounterVec // 타입별 슬래시 수
	evidenceTotal    *prometheus.CounterVec
	activeValidators prometheus.Gauge
	jailedValidators prometheus.Gauge
	totalVotingPower prometheus.Gauge

	// Internal tracking
	roundStartTimes map[uint64]time.Time
}

// NewMetrics creates a new Metrics instance and registers all metrics.
func NewMetrics(namespace string) *Metrics {
	m := &Metrics{
		roundStartTimes: make(map[uint64]time.Time),
	}

	// Consensus metrics
	m.roundsCommittedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rounds_committed_total",
		Help:      "Total number of consensus rounds that committed a block",
	})

	m.roundsFailedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rounds_failed_total",
		Help:      "Total number of consensus rounds that timed out",
	})

	m.roundDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "round_duration_seconds",
		Help:      "Duration from round start to commit in seconds",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~32s
	})

	m.currentHeight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "block_height",
		Help:      "Current block height",
	})

	m.currentRound = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "current_round",
		Help:      "Current round number within the height",
	})

	// Vote metrics
	m.votesReceivedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "votes_received_total",
		Help:      "Total number of votes received by type",
	}, []string{"type"})

	m.polkasTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "polkas_total",
		Help:      "Total number of two-thirds prevote majorities observed",
	})

	// Message metrics
	m.messagesSentTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "messages_sent_total",
		Help:      "Total number of messages sent by type",
	}, []string{"type"})

	m.messagesReceivedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "messages_received_total",
		Help:      "Total number of messages received by type",
	}, []string{"type"})

	// Block metrics
	m.blockExecutionTime = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "block_execution_seconds",
		Help:      "Time to execute blocks in seconds",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
	})

	m.blockBytesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "block_bytes_total",
		Help:      "Total committed block payload bytes",
	})

	m.blocksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "blocks_total",
		Help:      "Total number of committed blocks",
	})

	// Validator metrics
	m.slashesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "slashes_total",
		Help:      "Total number of slashes applied by type",
	}, []string{"type"})

	m.evidenceTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "evidence_total",
		Help:      "Total number of misbehavior evidence records by kind",
	}, []string{"kind"})

	m.activeValidators = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_validators",
		Help:      "Number of validators currently eligible to participate",
	})

	m.jailedValidators = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "jailed_validators",
		Help:      "Number of currently jailed validators",
	})

	m.totalVotingPower = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "total_voting_power",
		Help:      "Summed voting power of eligible validators",
	})

	// Register all metrics
	prometheus.MustRegister(
		m.roundsCommittedTotal,
		m.roundsFailedTotal,
		m.roundDuration,
		m.currentHeight,
		m.currentRound,
		m.votesReceivedTotal,
		m.polkasTotal,
		m.messagesSentTotal,
		m.messagesReceivedTotal,
		m.blockExecutionTime,
		m.blockBytesTotal,
		m.blocksTotal,
		m.slashesTotal,
		m.evidenceTotal,
		m.activeValidators,
		m.jailedValidators,
		m.totalVotingPower,
	)

	return m
}

// StartRound records the start of a consensus round at a height. The
// first round of a height starts the commit latency clock.
func (m *Metrics) StartRound(height uint64, round uint32) {
	m.mu.Lock()
	if _, exists := m.roundStartTimes[height]; !exists {
		m.roundStartTimes[height] = time.Now()
	}
	m.mu.Unlock()
	m.currentRound.Set(float64(round))
}

// RoundCommitted records a committed height and observes its latency.
func (m *Metrics) RoundCommitted(height uint64) {
	m.mu.Lock()
	startTime, exists := m.roundStartTimes[height]
	if exists {
		delete(m.roundStartTimes, height)
	}
	m.mu.Unlock()

	if exists {
		m.roundDuration.Observe(time.Since(startTime).Seconds())
	}
	m.roundsCommittedTotal.Inc()
}

// RoundFailed records a round that timed out without committing.
func (m *Metrics) RoundFailed() {
	m.roundsFailedTotal.Inc()
}

// SetHeight sets the current block height.
func (m *Metrics) SetHeight(height uint64) {
	m.currentHeight.Set(float64(height))
}

// SetRound sets the current round number.
func (m *Metrics) SetRound(round uint32) {
	m.currentRound.Set(float64(round))
}

// VoteReceived increments the vote counter for a vote type.
func (m *Metrics) VoteReceived(voteType string) {
	m.votesReceivedTotal.WithLabelValues(voteType).Inc()
}

// PolkaObserved increments the polka counter.
func (m *Metrics) PolkaObserved() {
	m.polkasTotal.Inc()
}

// MessageSent increments the messages sent counter.
func (m *Metrics) MessageSent(msgType string) {
	m.messagesSentTotal.WithLabelValues(msgType).Inc()
}

// MessageReceived increments the messages received counter.
func (m *Metrics) MessageReceived(msgType string) {
	m.messagesReceivedTotal.WithLabelValues(msgType).Inc()
}

// BlockExecutionTime records the block execution time.
func (m *Metrics) BlockExecutionTime(d time.Duration) {
	m.blockExecutionTime.Observe(d.Seconds())
}

// BlockCommitted records a committed block and its payload size.
func (m *Metrics) BlockCommitted(payloadBytes int) {
	m.blocksTotal.Inc()
	m.blockBytesTotal.Add(float64(payloadBytes))
}

// SlashApplied increments the slash counter for a slash type.
func (m *Metrics) SlashApplied(slashType string) {
	m.slashesTotal.WithLabelValues(slashType).Inc()
}

// EvidenceRecorded increments the evidence counter for a kind.
func (m *Metrics) EvidenceRecorded(kind string) {
	m.evidenceTotal.WithLabelValues(kind).Inc()
}

// SetActiveValidators sets the eligible validator count gauge.
func (m *Metrics) SetActiveValidators(n int) {
	m.activeValidators.Set(float64(n))
}

// SetJailedValidators sets the jailed validator count gauge.
func (m *Metrics) SetJailedValidators(n int) {
	m.jailedValidators.Set(float64(n))
}

// SetTotalVotingPower sets the total voting power gauge.
func (m *Metrics) SetTotalVotingPower(power uint64) {
	m.totalVotingPower.Set(float64(power))
}

// NullMetrics is a no-op implementation of Collector for testing.
type NullMetrics struct{}

func (n *NullMetrics) StartRound(height uint64, round uint32) {}
func (n *NullMetrics) RoundCommitted(height uint64)           {}
func (n *NullMetrics) RoundFailed()                           {}
func (n *NullMetrics) SetHeight(height uint64)                {}
func (n *NullMetrics) SetRound(round uint32)                  {}
func (n *NullMetrics) VoteReceived(voteType string)           {}
func (n *NullMetrics) PolkaObserved()                         {}
func (n *NullMetrics) MessageSent(msgType string)             {}
func (n *NullMetrics) MessageReceived(msgType string)         {}
func (n *NullMetrics) BlockExecutionTime(d time.Duration)     {}
func (n *NullMetrics) BlockCommitted(payloadBytes int)        {}
func (n *NullMetrics) SlashApplied(slashType string)          {}
func (n *NullMetrics) EvidenceRecorded(kind string)           {}
func (n *NullMetrics) SetActiveValidators(count int)          {}
func (n *NullMetrics) SetJailedValidators(count int)          {}
func (n *NullMetrics) SetTotalVotingPower(power uint64)       {}
