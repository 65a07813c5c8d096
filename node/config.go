// Package node wires the consensus engine, registry, fault detector,
// storage, and networking into a runnable validator node.
package node

import (
	"github.com/ahwlsqja/wbft-cosmos/consensus/wbft"
	"github.com/ahwlsqja/wbft-cosmos/producer"
)

// GenesisValidator describes a validator known at chain start.
type GenesisValidator struct {
	// PubKey is the hex encoded ed25519 public key. The validator ID
	// is derived from it.
	PubKey string `json:"pub_key"`

	Stake        uint64  `json:"stake"`
	StorageBytes uint64  `json:"storage_bytes"`
	Commission   float64 `json:"commission"`
}

// Config holds configuration for a consensus node.
type Config struct {
	// 노드 식별
	ChainID string

	// KeyFile holds the hex encoded ed25519 key pair. Generated on
	// first start when missing in dev mode.
	KeyFile string

	// 네트워크 주소
	ListenAddr     string // P2P gRPC listen address
	APIAddr        string // HTTP status/metrics address
	MetricsEnabled bool

	// 피어 목록 (hexID@host:port)
	Peers []string

	// SyncPeer is an optional peer address to catch up from before
	// joining consensus.
	SyncPeer string

	// 제네시스 검증자 목록
	Genesis []GenesisValidator

	// Self registration for dev networks
	Stake        uint64
	StorageBytes uint64

	// Registry admission rules
	MinStake      uint64
	MinStorage    uint64
	MaxValidators int

	// Slash percentages for detected faults
	SlashDoubleSign uint64
	SlashLiveness   uint64

	// Consensus timing and limits
	Consensus *wbft.Config

	// Block item queue
	Queue *producer.Config

	// Logging
	LogLevel string

	// Data directory
	DataDir string
}

// DefaultConfig returns a default configuration.
func DefaultConfig() *Config {
	return &Config{
		ChainID:         "wbft-chain",
		KeyFile:         "./data/node_key",
		ListenAddr:      "0.0.0.0:26656",
		APIAddr:         "0.0.0.0:26660",
		MetricsEnabled:  true,
		Peers:           []string{},
		Genesis:         []GenesisValidator{},
		Stake:           1_000_000,
		StorageBytes:    1 << 30, // 1GB
		MinStake:        1000,
		MinStorage:      1 << 20,
		MaxValidators:   100,
		SlashDoubleSign: 10,
		SlashLiveness:   1,
		Consensus:       wbft.DefaultConfig(),
		Queue:           producer.DefaultConfig(),
		LogLevel:        "info",
		DataDir:         "./data",
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.ChainID == "" {
		return ErrEmptyChainID
	}
	if c.ListenAddr == "" {
		return ErrEmptyListenAddr
	}
	if c.DataDir == "" {
		return ErrEmptyDataDir
	}
	if c.Consensus == nil {
		return ErrNilConsensusConfig
	}
	if err := c.Consensus.Validate(); err != nil {
		return err
	}
	// A production network needs enough validators to tolerate one
	// Byzantine node. Dev mode allows smaller sets for local runs.
	if !c.Consensus.DevMode && len(c.Genesis) < 4 {
		return ErrInsufficientValidators
	}
	return nil
}

// Custom errors
type configError string

func (e configError) Error() string {
	return string(e)
}

const (
	ErrEmptyChainID           = configError("chain ID is required")
	ErrEmptyListenAddr        = configError("listen address is required")
	ErrEmptyDataDir           = configError("data directory is required")
	ErrNilConsensusConfig     = configError("consensus config is required")
	ErrInsufficientValidators = configError("at least 4 genesis validators are required outside dev mode")
)
