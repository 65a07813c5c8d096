// Package producer queues pending payload items and assembles the block
// payloads this node proposes.
package producer

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/ahwlsqja/wbft-cosmos/types"
)

var (
	// 에러 정의
	ErrItemExists   = errors.New("item already queued")
	ErrQueueFull    = errors.New("payload queue is full")
	ErrItemTooLarge = errors.New("item exceeds size limit")
	ErrEmptyItem    = errors.New("empty item")
)

// Config bounds the payload queue.
type Config struct {
	// MaxItems is the maximum number of queued items. (기본: 5000)
	MaxItems int

	// MaxItemBytes is the size limit for a single item. (기본: 64KB)
	MaxItemBytes int

	// TTL is how long an item may wait before expiry. (기본: 10분)
	TTL time.Duration
}

// DefaultConfig returns the default queue configuration.
func DefaultConfig() *Config {
	return &Config{
		MaxItems:     5000,
		MaxItemBytes: 64 * 1024,
		TTL:          10 * time.Minute,
	}
}

// item is a queued payload entry.
type item struct {
	hash    string
	data    []byte
	addedAt time.Time
}

// Queue holds pending payload items in FIFO order. NextPayload peeks at
// the head of the queue without removing; items leave the queue when
// their bytes commit (RemoveCommitted) or when they expire.
type Queue struct {
	mu sync.RWMutex

	config *Config

	// hash -> item, plus insertion order
	items map[string]*item
	order []string

	totalBytes int

	// Signal for a block producer waiting on an empty queue
	notifyCh chan struct{}

	clock  types.Clock
	logger *log.Logger
}

// NewQueue creates an empty payload queue.
func NewQueue(config *Config, clock types.Clock) *Queue {
	if config == nil {
		config = DefaultConfig()
	}
	if clock == nil {
		clock = types.SystemClock{}
	}
	return &Queue{
		config:   config,
		items:    make(map[string]*item),
		notifyCh: make(chan struct{}, 1),
		clock:    clock,
		logger:   log.Default(),
	}
}

// Add queues a payload item. Returns the item's hex hash for tracking.
func (q *Queue) Add(data []byte) (string, error) {
	if len(data) == 0 {
		return "", ErrEmptyItem
	}
	if len(data) > q.config.MaxItemBytes {
		return "", ErrItemTooLarge
	}

	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.items[hash]; exists {
		return "", ErrItemExists
	}
	if len(q.items) >= q.config.MaxItems {
		return "", ErrQueueFull
	}

	cp := make([]byte, len(data))
	copy(cp, data)
	q.items[hash] = &item{hash: hash, data: cp, addedAt: q.clock.Now()}
	q.order = append(q.order, hash)
	q.totalBytes += len(data)

	// Non-blocking wakeup
	select {
	case q.notifyCh <- struct{}{}:
	default:
	}
	return hash, nil
}

// NextPayload assembles up to maxBytes of queued items into a block
// payload, oldest first. Items stay queued until RemoveCommitted; a
// failed round must not lose them.
func (q *Queue) NextPayload(maxBytes int) []byte {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.pruneExpiredLocked()

	var batch [][]byte
	used := 0
	for _, hash := range q.order {
		it, ok := q.items[hash]
		if !ok {
			continue
		}
		// JSON wraps each item in base64, roughly 4/3 overhead.
		encoded := len(it.data)*4/3 + 8
		if used+encoded > maxBytes {
			break
		}
		batch = append(batch, it.data)
		used += encoded
	}
	if len(batch) == 0 {
		return nil
	}
	payload, err := json.Marshal(batch)
	if err != nil {
		q.logger.Printf("[Producer] Failed to encode payload: %v", err)
		return nil
	}
	return payload
}

// DecodePayload splits a block payload back into its items.
func DecodePayload(payload []byte) ([][]byte, error) {
	if len(payload) == 0 {
		return nil, nil
	}
	var batch [][]byte
	if err := json.Unmarshal(payload, &batch); err != nil {
		return nil, err
	}
	return batch, nil
}

// RemoveCommitted drops every queued item contained in a committed
// block payload.
func (q *Queue) RemoveCommitted(payload []byte) int {
	batch, err := DecodePayload(payload)
	if err != nil {
		q.logger.Printf("[Producer] Cannot decode committed payload: %v", err)
		return 0
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	removed := 0
	for _, data := range batch {
		sum := sha256.Sum256(data)
		hash := hex.EncodeToString(sum[:])
		if it, ok := q.items[hash]; ok {
			q.removeLocked(it)
			removed++
		}
	}
	return removed
}

// PruneExpired drops items older than the TTL and returns the count.
func (q *Queue) PruneExpired() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pruneExpiredLocked()
}

func (q *Queue) pruneExpiredLocked() int {
	if q.config.TTL <= 0 {
		return 0
	}
	cutoff := q.clock.Now().Add(-q.config.TTL)
	pruned := 0
	for _, hash := range q.order {
		it, ok := q.items[hash]
		if !ok {
			continue
		}
		if it.addedAt.Before(cutoff) {
			q.removeLocked(it)
			pruned++
		}
	}
	if pruned > 0 {
		q.logger.Printf("[Producer] Pruned %d expired items", pruned)
	}
	return pruned
}

// removeLocked deletes an item and compacts the order slice lazily.
// Caller holds q.mu.
func (q *Queue) removeLocked(it *item) {
	delete(q.items, it.hash)
	q.totalBytes -= len(it.data)

	// Compact once tombstones dominate the order slice.
	if len(q.order) > 64 && len(q.items)*2 < len(q.order) {
		kept := q.order[:0]
		for _, h := range q.order {
			if _, ok := q.items[h]; ok {
				kept = append(kept, h)
			}
		}
		q.order = kept
	}
}

// Notify returns a channel that receives a signal when items arrive.
func (q *Queue) Notify() <-chan struct{} {
	return q.notifyCh
}

// Size returns the number of queued items.
func (q *Queue) Size() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.items)
}

// Bytes returns the summed size of queued items.
func (q *Queue) Bytes() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.totalBytes
}

// Contains reports whether an item hash is still queued.
func (q *Queue) Contains(hash string) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	_, ok := q.items[hash]
	return ok
}
