package producer

import (
	"bytes"
	"fmt"
	"testing"
	"time"

	"github.com/ahwlsqja/wbft-cosmos/types"
)

func newTestQueue(cfg *Config) (*Queue, *types.ManualClock) {
	clock := types.NewManualClock(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	return NewQueue(cfg, clock), clock
}

func TestAddAndPayloadRoundTrip(t *testing.T) {
	q, _ := newTestQueue(nil)

	first := []byte("transfer a->b 10")
	second := []byte("transfer b->c 5")
	if _, err := q.Add(first); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if _, err := q.Add(second); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if q.Size() != 2 {
		t.Fatalf("expected 2 items, got %d", q.Size())
	}

	payload := q.NextPayload(1 << 16)
	items, err := DecodePayload(payload)
	if err != nil {
		t.Fatalf("DecodePayload failed: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items in payload, got %d", len(items))
	}
	// FIFO order survives encoding.
	if !bytes.Equal(items[0], first) || !bytes.Equal(items[1], second) {
		t.Error("payload order or content wrong")
	}

	// Items stay queued until their bytes commit.
	if q.Size() != 2 {
		t.Errorf("NextPayload removed items: size=%d", q.Size())
	}
	if removed := q.RemoveCommitted(payload); removed != 2 {
		t.Errorf("expected 2 removed, got %d", removed)
	}
	if q.Size() != 0 {
		t.Errorf("expected empty queue, got %d", q.Size())
	}
}

func TestAddRejections(t *testing.T) {
	q, _ := newTestQueue(&Config{MaxItems: 1, MaxItemBytes: 8, TTL: time.Minute})

	if _, err := q.Add(nil); err != ErrEmptyItem {
		t.Errorf("expected ErrEmptyItem, got %v", err)
	}
	if _, err := q.Add([]byte("way too large item")); err != ErrItemTooLarge {
		t.Errorf("expected ErrItemTooLarge, got %v", err)
	}
	if _, err := q.Add([]byte("ok")); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if _, err := q.Add([]byte("ok")); err != ErrItemExists {
		t.Errorf("expected ErrItemExists, got %v", err)
	}
	if _, err := q.Add([]byte("no")); err != ErrQueueFull {
		t.Errorf("expected ErrQueueFull, got %v", err)
	}
}

func TestPayloadRespectsByteLimit(t *testing.T) {
	q, _ := newTestQueue(nil)
	for i := 0; i < 100; i++ {
		if _, err := q.Add([]byte(fmt.Sprintf("item-%03d-padding-padding", i))); err != nil {
			t.Fatalf("Add failed: %v", err)
		}
	}

	payload := q.NextPayload(256)
	if len(payload) > 256 {
		t.Fatalf("payload %d bytes exceeds limit", len(payload))
	}
	items, err := DecodePayload(payload)
	if err != nil {
		t.Fatalf("DecodePayload failed: %v", err)
	}
	if len(items) == 0 || len(items) == 100 {
		t.Fatalf("expected a partial batch, got %d items", len(items))
	}
}

func TestTTLExpiry(t *testing.T) {
	q, clock := newTestQueue(&Config{MaxItems: 100, MaxItemBytes: 1024, TTL: time.Minute})

	q.Add([]byte("old"))
	clock.Advance(2 * time.Minute)
	q.Add([]byte("fresh"))

	if pruned := q.PruneExpired(); pruned != 1 {
		t.Fatalf("expected 1 pruned, got %d", pruned)
	}
	if q.Size() != 1 {
		t.Fatalf("expected 1 item left, got %d", q.Size())
	}

	payload := q.NextPayload(1 << 16)
	items, _ := DecodePayload(payload)
	if len(items) != 1 || !bytes.Equal(items[0], []byte("fresh")) {
		t.Error("expired item leaked into payload")
	}
}

func TestNotify(t *testing.T) {
	q, _ := newTestQueue(nil)
	select {
	case <-q.Notify():
		t.Fatal("notification before any item")
	default:
	}

	q.Add([]byte("wake up"))
	select {
	case <-q.Notify():
	case <-time.After(time.Second):
		t.Fatal("no notification after Add")
	}
}

func TestEmptyPayload(t *testing.T) {
	q, _ := newTestQueue(nil)
	if payload := q.NextPayload(1 << 16); payload != nil {
		t.Errorf("expected nil payload from empty queue, got %q", payload)
	}
	items, err := DecodePayload(nil)
	if err != nil || items != nil {
		t.Errorf("expected empty decode, got %v, %v", items, err)
	}
}
