package node

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ahwlsqja/wbft-cosmos/app"
	"github.com/ahwlsqja/wbft-cosmos/byzantine"
	"github.com/ahwlsqja/wbft-cosmos/consensus/wbft"
	"github.com/ahwlsqja/wbft-cosmos/crypto"
	"github.com/ahwlsqja/wbft-cosmos/events"
	"github.com/ahwlsqja/wbft-cosmos/metrics"
	"github.com/ahwlsqja/wbft-cosmos/persistence"
	"github.com/ahwlsqja/wbft-cosmos/producer"
	"github.com/ahwlsqja/wbft-cosmos/transport"
	"github.com/ahwlsqja/wbft-cosmos/types"
	"github.com/ahwlsqja/wbft-cosmos/validator"
)

const (
	queuePruneInterval  = 30 * time.Second
	jailSweepInterval   = 1 * time.Minute
	eventChannelBuffer  = 256
	defaultSelfCommRate = 0.1
)

// Node runs a validator: engine, registry, detector, producer queue,
// application state, and networking under one lifecycle.
type Node struct {
	mu sync.RWMutex

	config *Config
	signer *crypto.DefaultSigner

	registry *validator.Registry
	detector *byzantine.Detector
	eventCh  *events.Channel
	metrics  *metrics.Metrics

	engine    *wbft.Engine
	transport *transport.GRPCTransport
	queue     *producer.Queue
	app       *app.KVApp
	store     persistence.Store
	syncer    *persistence.StateSyncer

	// State
	running bool
	done    chan struct{}
	wg      sync.WaitGroup

	// Logger
	logger *log.Logger

	// HTTP server for /metrics, /health, /status
	apiServer *http.Server
}

// NewNode builds a node from the configuration. The node key is loaded
// from config.KeyFile, or generated there on first start.
func NewNode(config *Config) (*Node, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	signer, err := loadOrCreateSigner(config.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load node key: %w", err)
	}

	eventCh := events.NewChannel(eventChannelBuffer)

	// Validator registry with the configured admission rules
	registry := validator.NewRegistry(validator.Config{
		MinStake:      config.MinStake,
		MinStorage:    config.MinStorage,
		MaxValidators: config.MaxValidators,
	}, validator.DefaultPowerFunc, types.SystemClock{})
	registry.SetEventChannel(eventCh)

	// Genesis validator set
	for _, gv := range config.Genesis {
		pubKey, err := hex.DecodeString(gv.PubKey)
		if err != nil {
			return nil, fmt.Errorf("bad genesis pubkey %q: %w", gv.PubKey, err)
		}
		id := crypto.ValidatorID(pubKey)
		if _, err := registry.Register(id, gv.Stake, gv.StorageBytes, pubKey, gv.Commission); err != nil {
			return nil, fmt.Errorf("failed to register genesis validator %s: %w", id.Short(), err)
		}
	}

	// Self registration for dev networks without a genesis file entry
	selfID := signer.Address()
	if _, err := registry.Get(selfID); err != nil {
		if !config.Consensus.DevMode {
			return nil, fmt.Errorf("node key %s is not in the genesis validator set", selfID.Short())
		}
		if _, err := registry.Register(selfID, config.Stake, config.StorageBytes, signer.PublicKey(), defaultSelfCommRate); err != nil {
			return nil, fmt.Errorf("failed to register self: %w", err)
		}
	}

	detector := byzantine.NewDetector(registry, types.SystemClock{}, eventCh)
	policy := byzantine.DefaultSlashPolicy()
	if config.SlashDoubleSign > 0 {
		policy.DoubleSignCritical = config.SlashDoubleSign
	}
	if config.SlashLiveness > 0 {
		policy.Liveness = config.SlashLiveness
	}
	detector.SetSlashPolicy(policy)

	// Block storage
	store, err := persistence.NewFileStore(config.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	// Item queue feeding proposed blocks
	queue := producer.NewQueue(config.Queue, types.SystemClock{})

	// Application state machine
	kvApp := app.NewKVApp()
	kvApp.SetCommitHook(func(payload []byte) {
		if removed := queue.RemoveCommitted(payload); removed > 0 {
			log.Printf("[Node] Removed %d committed items from queue", removed)
		}
	})

	// P2P transport
	trans, err := transport.NewGRPCTransport(selfID, config.ListenAddr)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to create transport: %w", err)
	}
	trans.SetStore(store)

	// Consensus engine
	engine, err := wbft.NewEngine(config.Consensus, signer, registry, detector, trans, kvApp, queue)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}
	engine.SetEventChannel(eventCh)
	engine.SetStore(store)
	trans.SetStatusSource(engine)

	var m *metrics.Metrics
	if config.MetricsEnabled {
		m = metrics.NewMetrics("wbft")
		engine.SetMetrics(m)
		m.SetActiveValidators(registry.ActiveCount())
		m.SetTotalVotingPower(registry.TotalVotingPower())
	}

	return &Node{
		config:    config,
		signer:    signer,
		registry:  registry,
		detector:  detector,
		eventCh:   eventCh,
		metrics:   m,
		engine:    engine,
		transport: trans,
		queue:     queue,
		app:       kvApp,
		store:     store,
		syncer:    persistence.NewStateSyncer(store, nil, log.Default()),
		done:      make(chan struct{}),
		logger:    log.Default(),
	}, nil
}

// Start brings the node up: transport, catch-up, then consensus.
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	if n.running {
		n.mu.Unlock()
		return fmt.Errorf("node already running")
	}
	n.running = true
	n.mu.Unlock()

	n.logger.Printf("[Node] Starting node %s on chain %s", n.signer.Address().Short(), n.config.ChainID)

	if err := n.transport.Start(); err != nil {
		return fmt.Errorf("failed to start transport: %w", err)
	}

	// Connect to peers
	for _, peerStr := range n.config.Peers {
		parts := strings.SplitN(peerStr, "@", 2)
		if len(parts) != 2 {
			n.logger.Printf("[Node] Invalid peer format: %s (expected hexID@address)", peerStr)
			continue
		}
		peerID, err := types.IDFromHex(parts[0])
		if err != nil {
			n.logger.Printf("[Node] Invalid peer id in %s: %v", peerStr, err)
			continue
		}
		if peerID == n.signer.Address() {
			continue
		}
		if err := n.transport.AddPeer(peerID, parts[1]); err != nil {
			n.logger.Printf("[Node] Failed to connect to peer %s: %v", peerID.Short(), err)
		}
	}

	// Catch up from a peer before joining consensus
	if n.config.SyncPeer != "" {
		provider, err := transport.NewRemoteProvider(n.config.SyncPeer)
		if err != nil {
			return fmt.Errorf("failed to reach sync peer: %w", err)
		}
		n.syncer = persistence.NewStateSyncer(n.store, provider, n.logger)
		if err := n.syncer.Sync(ctx); err != nil {
			return fmt.Errorf("state sync failed: %w", err)
		}
	}

	// Replay committed blocks through the application to rebuild state
	n.syncer.SetOnBlockReceived(func(block *types.Block) error {
		if _, err := n.app.ExecuteBlock(block); err != nil {
			return err
		}
		return n.app.Commit(block)
	})
	lastHeight, err := n.syncer.ReplayLocal(ctx)
	if err != nil {
		return fmt.Errorf("local replay failed: %w", err)
	}

	var lastHash []byte
	if lastHeight > 0 {
		block, err := n.store.LoadBlock(lastHeight)
		if err != nil || block == nil {
			return fmt.Errorf("failed to load tip block %d: %v", lastHeight, err)
		}
		lastHash = block.Hash
	}

	if n.config.MetricsEnabled {
		go n.startAPIServer()
	}

	n.wg.Add(3)
	go n.eventLoop()
	go n.queuePruneLoop()
	go n.jailSweepLoop()

	if err := n.engine.Start(ctx, lastHeight, lastHash); err != nil {
		return fmt.Errorf("failed to start engine: %w", err)
	}

	n.logger.Printf("[Node] Node started")
	n.logger.Printf("[Node]   Chain ID: %s", n.config.ChainID)
	n.logger.Printf("[Node]   P2P address: %s", n.config.ListenAddr)
	n.logger.Printf("[Node]   API address: %s", n.config.APIAddr)
	n.logger.Printf("[Node]   Validators: %d", n.registry.Size())
	n.logger.Printf("[Node]   Resuming at height: %d", lastHeight+1)

	return nil
}

// Stop shuts the node down.
func (n *Node) Stop() error {
	n.mu.Lock()
	if !n.running {
		n.mu.Unlock()
		return nil
	}
	n.running = false
	n.mu.Unlock()

	n.logger.Printf("[Node] Stopping node %s", n.signer.Address().Short())

	close(n.done)

	if n.apiServer != nil {
		n.apiServer.Close()
	}

	if err := n.engine.Stop(); err != nil && err != wbft.ErrEngineNotRunning {
		n.logger.Printf("[Node] Engine stop: %v", err)
	}
	n.transport.Stop()
	n.wg.Wait()
	n.eventCh.Close()
	n.store.Close()

	n.logger.Printf("[Node] Node stopped")
	return nil
}

// eventLoop persists engine progress and surfaces faults in the log.
func (n *Node) eventLoop() {
	defer n.wg.Done()

	sub := n.eventCh.Subscribe()
	for {
		select {
		case <-n.done:
			return
		case ev, ok := <-sub:
			if !ok {
				return
			}
			switch ev.Type {
			case events.EventRoundCompleted:
				state := &persistence.EngineState{
					NodeID:        n.signer.Address(),
					LastHeight:    ev.Height,
					LastBlockHash: ev.BlockHash,
					LastAppHash:   n.app.AppHash(),
				}
				if err := n.store.SaveState(state); err != nil {
					n.logger.Printf("[Node] Failed to persist state: %v", err)
				}
			case events.EventByzantineFault:
				record := &persistence.EvidenceRecord{
					Validator:   ev.Validator,
					Type:        "BYZANTINE-FAULT",
					Height:      ev.Height,
					Description: ev.Trigger,
					SlashedAt:   time.Now(),
				}
				if err := n.store.SaveEvidence(record); err != nil {
					n.logger.Printf("[Node] Failed to persist evidence: %v", err)
				}
			}
		}
	}
}

// queuePruneLoop drops expired items from the producer queue.
func (n *Node) queuePruneLoop() {
	defer n.wg.Done()

	ticker := time.NewTicker(queuePruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-n.done:
			return
		case <-ticker.C:
			if pruned := n.queue.PruneExpired(); pruned > 0 {
				n.logger.Printf("[Node] Pruned %d expired queue items", pruned)
			}
		}
	}
}

// jailSweepLoop releases validators whose jail terms have expired.
func (n *Node) jailSweepLoop() {
	defer n.wg.Done()

	ticker := time.NewTicker(jailSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-n.done:
			return
		case <-ticker.C:
			for _, v := range n.registry.List() {
				if v.JailUntil != nil {
					n.registry.TryReleaseFromJail(v.ID)
				}
			}
			if n.metrics != nil {
				n.metrics.SetActiveValidators(n.registry.ActiveCount())
				n.metrics.SetTotalVotingPower(n.registry.TotalVotingPower())
			}
		}
	}
}

// startAPIServer serves Prometheus metrics plus health and status.
func (n *Node) startAPIServer() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		n.mu.RLock()
		running := n.running
		n.mu.RUnlock()

		status := map[string]interface{}{
			"node_id":             n.signer.Address().String(),
			"chain_id":            n.config.ChainID,
			"running":             running,
			"current_height":      n.engine.Height(),
			"current_round":       n.engine.Round(),
			"step":                n.engine.Step().String(),
			"is_validator":        n.registry.CanParticipate(n.signer.Address()),
			"validator_count":     n.registry.ActiveCount(),
			"total_voting_power":  n.registry.TotalVotingPower(),
			"is_producing_blocks": running && n.queue.Size() > 0,
			"queue_size":          n.queue.Size(),
			"peers":               n.transport.PeerCount(),
			"app_hash":            hex.EncodeToString(n.app.AppHash()),
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(status)
	})

	n.apiServer = &http.Server{
		Addr:    n.config.APIAddr,
		Handler: mux,
	}

	n.logger.Printf("[Node] API server started on %s", n.config.APIAddr)

	if err := n.apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		n.logger.Printf("[Node] API server error: %v", err)
	}
}

// SubmitItem queues an item for inclusion in a proposed block. It is
// the entry point for client data.
func (n *Node) SubmitItem(data []byte) (string, error) {
	hash, err := n.queue.Add(data)
	if err != nil {
		return "", fmt.Errorf("failed to queue item: %w", err)
	}
	n.logger.Printf("[Node] Item queued (size: %d)", n.queue.Size())
	return hash, nil
}

// Query reads a key from the committed application state.
func (n *Node) Query(key string) ([]byte, bool) {
	return n.app.Query(key)
}

// Height returns the height currently under consensus.
func (n *Node) Height() uint64 {
	return n.engine.Height()
}

// CommittedHeight returns the last committed height.
func (n *Node) CommittedHeight() uint64 {
	return n.engine.CommittedHeight()
}

// NodeID returns this node's validator ID.
func (n *Node) NodeID() types.ID {
	return n.signer.Address()
}

// ChainID returns the chain ID.
func (n *Node) ChainID() string {
	return n.config.ChainID
}

// PeerCount returns the number of connected peers.
func (n *Node) PeerCount() int {
	return n.transport.PeerCount()
}

// QueueSize returns the number of pending items.
func (n *Node) QueueSize() int {
	return n.queue.Size()
}

// Registry exposes the validator registry for administrative commands.
func (n *Node) Registry() *validator.Registry {
	return n.registry
}

// IsRunning returns true if the node is running.
func (n *Node) IsRunning() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.running
}

// loadOrCreateSigner reads the hex encoded key pair from path or
// generates one there.
func loadOrCreateSigner(path string) (*crypto.DefaultSigner, error) {
	if data, err := os.ReadFile(path); err == nil {
		raw, err := hex.DecodeString(strings.TrimSpace(string(data)))
		if err != nil {
			return nil, fmt.Errorf("bad key file %s: %w", path, err)
		}
		kp, err := crypto.KeyPairFromBytes(raw)
		if err != nil {
			return nil, err
		}
		return crypto.NewDefaultSignerFromKeyPair(kp), nil
	}

	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	encoded := hex.EncodeToString(kp.PrivateKeyBytes())
	if err := os.WriteFile(path, []byte(encoded), 0o600); err != nil {
		return nil, err
	}
	return crypto.NewDefaultSignerFromKeyPair(kp), nil
}
