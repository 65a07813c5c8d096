// Package app provides the state machine driven by the consensus engine:
// a simple key-value store executed from committed block payloads.
package app

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/ahwlsqja/wbft-cosmos/producer"
	"github.com/ahwlsqja/wbft-cosmos/types"
)

// Operation represents a key-value operation carried in a payload item.
type Operation struct {
	Type  string `json:"type"` // "set" or "delete"
	Key   string `json:"key"`
	Value string `json:"value,omitempty"`
}

// KVApp is a key-value store application. ExecuteBlock applies a block
// to working state; Commit snapshots that into committed state, which
// is what queries read. A block that fails to execute leaves committed
// state untouched.
type KVApp struct {
	mu sync.RWMutex

	// Working state, mutated by ExecuteBlock
	state map[string][]byte

	// Committed state, advanced by Commit
	committedState map[string][]byte

	height  uint64
	appHash []byte

	// Called after every commit with the committed payload
	onCommit func(payload []byte)
}

// NewKVApp creates an empty key-value application.
func NewKVApp() *KVApp {
	return &KVApp{
		state:          make(map[string][]byte),
		committedState: make(map[string][]byte),
	}
}

// SetCommitHook registers a callback invoked with each committed
// payload, after state has been committed. The node uses it to drop
// committed items from the payload queue.
func (app *KVApp) SetCommitHook(hook func(payload []byte)) {
	app.mu.Lock()
	defer app.mu.Unlock()
	app.onCommit = hook
}

// ValidateBlock checks that every payload item parses as an operation.
func (app *KVApp) ValidateBlock(block *types.Block) error {
	if block == nil {
		return fmt.Errorf("block is nil")
	}
	items, err := producer.DecodePayload(block.Payload)
	if err != nil {
		return fmt.Errorf("malformed payload: %w", err)
	}
	for i, item := range items {
		if _, err := parseOperation(item); err != nil {
			return fmt.Errorf("invalid item %d: %w", i, err)
		}
	}
	return nil
}

// ExecuteBlock applies all payload items to working state and returns
// the resulting app hash.
func (app *KVApp) ExecuteBlock(block *types.Block) ([]byte, error) {
	app.mu.Lock()
	defer app.mu.Unlock()

	items, err := producer.DecodePayload(block.Payload)
	if err != nil {
		return nil, fmt.Errorf("malformed payload: %w", err)
	}
	for i, item := range items {
		op, err := parseOperation(item)
		if err != nil {
			return nil, fmt.Errorf("invalid item %d: %w", i, err)
		}
		switch op.Type {
		case "set":
			app.state[op.Key] = []byte(op.Value)
		case "delete":
			delete(app.state, op.Key)
		}
	}

	app.appHash = app.computeAppHash()
	return app.appHash, nil
}

// Commit snapshots working state into committed state.
func (app *KVApp) Commit(block *types.Block) error {
	app.mu.Lock()
	app.committedState = make(map[string][]byte, len(app.state))
	for k, v := range app.state {
		app.committedState[k] = v
	}
	app.height = block.Header.Height
	hook := app.onCommit
	app.mu.Unlock()

	if hook != nil {
		hook(block.Payload)
	}
	return nil
}

// Query reads a key from committed state.
func (app *KVApp) Query(key string) ([]byte, bool) {
	app.mu.RLock()
	defer app.mu.RUnlock()
	v, ok := app.committedState[key]
	return v, ok
}

// Height returns the last committed height.
func (app *KVApp) Height() uint64 {
	app.mu.RLock()
	defer app.mu.RUnlock()
	return app.height
}

// AppHash returns the hash of working state after the last execution.
func (app *KVApp) AppHash() []byte {
	app.mu.RLock()
	defer app.mu.RUnlock()
	return app.appHash
}

// computeAppHash hashes working state deterministically. Caller holds
// app.mu.
func (app *KVApp) computeAppHash() []byte {
	keys := make([]string, 0, len(app.state))
	for k := range app.state {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write(app.state[k])
	}
	return h.Sum(nil)
}

// parseOperation decodes and checks one payload item.
func parseOperation(item []byte) (*Operation, error) {
	if len(item) == 0 {
		return nil, fmt.Errorf("empty item")
	}
	var op Operation
	if err := json.Unmarshal(item, &op); err != nil {
		return nil, fmt.Errorf("not a valid operation: %w", err)
	}
	switch op.Type {
	case "set":
		if op.Key == "" {
			return nil, fmt.Errorf("set without key")
		}
	case "delete":
		if op.Key == "" {
			return nil, fmt.Errorf("delete without key")
		}
	default:
		return nil, fmt.Errorf("unknown operation type %q", op.Type)
	}
	return &op, nil
}
