package wbft

import "time"

// Config errors.
type configError string

func (e configError) Error() string {
	return string(e)
}

const (
	ErrNonPositiveTimeout    = configError("consensus timeouts must be positive")
	ErrNegativeTimeoutDelta  = configError("timeout delta must not be negative")
	ErrInvalidThreshold      = configError("byzantine threshold must be in (0, 1)")
	ErrNonPositiveBlockBytes = configError("max block bytes must be positive")
	ErrNonPositiveBlockTime  = configError("block interval must be positive")
)

// Config holds the timing and safety parameters of the round engine.
type Config struct {
	// ProposeTimeout bounds the wait for the round proposer's block.
	ProposeTimeout time.Duration

	// PreVoteTimeout bounds the wait for a prevote supermajority after
	// any two thirds of power has prevoted.
	PreVoteTimeout time.Duration

	// PreCommitTimeout bounds the wait for a precommit supermajority.
	// Expiry fails the round and moves to the next one.
	PreCommitTimeout time.Duration

	// TimeoutDelta is added to every timeout per failed round, so later
	// rounds wait longer under degraded conditions.
	TimeoutDelta time.Duration

	// ByzantineThreshold is the assumed maximum fraction of faulty
	// voting power. The quorum rule tolerates up to one third.
	ByzantineThreshold float64

	// BlockInterval paces block production between heights.
	BlockInterval time.Duration

	// MaxBlockBytes caps the payload size of produced blocks.
	MaxBlockBytes int

	// DevMode relaxes operational checks for local networks.
	DevMode bool
}

// DefaultConfig returns the default consensus configuration.
func DefaultConfig() *Config {
	return &Config{
		ProposeTimeout:     3 * time.Second,
		PreVoteTimeout:     1 * time.Second,
		PreCommitTimeout:   1 * time.Second,
		TimeoutDelta:       500 * time.Millisecond,
		ByzantineThreshold: 1.0 / 3.0,
		BlockInterval:      1 * time.Second,
		MaxBlockBytes:      1 << 20,
		DevMode:            false,
	}
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.ProposeTimeout <= 0 || c.PreVoteTimeout <= 0 || c.PreCommitTimeout <= 0 {
		return ErrNonPositiveTimeout
	}
	if c.TimeoutDelta < 0 {
		return ErrNegativeTimeoutDelta
	}
	if c.ByzantineThreshold <= 0 || c.ByzantineThreshold >= 1 {
		return ErrInvalidThreshold
	}
	if c.MaxBlockBytes <= 0 {
		return ErrNonPositiveBlockBytes
	}
	if c.BlockInterval <= 0 {
		return ErrNonPositiveBlockTime
	}
	return nil
}

// timeoutFor grows a base timeout linearly with the round number.
func (c *Config) timeoutFor(base time.Duration, round uint32) time.Duration {
	return base + time.Duration(round)*c.TimeoutDelta
}
