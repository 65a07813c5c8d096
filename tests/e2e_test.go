// Package tests provides end to end tests of the full node lifecycle:
// start, commit, shutdown, and recovery from disk.
package tests

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/ahwlsqja/wbft-cosmos/consensus/wbft"
	"github.com/ahwlsqja/wbft-cosmos/node"
)

func devConfig(dataDir string, port int) *node.Config {
	cfg := node.DefaultConfig()
	cfg.DataDir = dataDir
	cfg.KeyFile = filepath.Join(dataDir, "node_key")
	cfg.ListenAddr = fmt.Sprintf("127.0.0.1:%d", port)
	cfg.MetricsEnabled = false
	cfg.Consensus = &wbft.Config{
		ProposeTimeout:     500 * time.Millisecond,
		PreVoteTimeout:     300 * time.Millisecond,
		PreCommitTimeout:   300 * time.Millisecond,
		TimeoutDelta:       100 * time.Millisecond,
		ByzantineThreshold: 1.0 / 3.0,
		BlockInterval:      50 * time.Millisecond,
		MaxBlockBytes:      1 << 20,
		DevMode:            true,
	}
	return cfg
}

func waitForCommit(t *testing.T, n *node.Node, height uint64, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if n.CommittedHeight() >= height {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for height %d, at %d", height, n.CommittedHeight())
}

func mustSubmitOp(t *testing.T, n *node.Node, key, value string) {
	t.Helper()
	op := map[string]string{"type": "set", "key": key, "value": value}
	data, _ := json.Marshal(op)
	if _, err := n.SubmitItem(data); err != nil {
		t.Fatalf("SubmitItem failed: %v", err)
	}
}

// TestSingleNodeLifecycle runs a dev mode node alone: its own voting
// power is the full set, so it commits blocks by itself.
func TestSingleNodeLifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping e2e test in short mode")
	}

	dataDir := t.TempDir()
	n, err := node.NewNode(devConfig(dataDir, 37656))
	if err != nil {
		t.Fatalf("NewNode failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := n.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	mustSubmitOp(t, n, "city", "seoul")
	waitForCommit(t, n, 3, 30*time.Second)

	value, ok := n.Query("city")
	if !ok || string(value) != "seoul" {
		t.Errorf("Expected committed value, got %q (ok=%v)", value, ok)
	}

	if err := n.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if n.IsRunning() {
		t.Error("Node still reports running after Stop")
	}
}

// TestNodeRecoversStateAfterRestart commits state, stops the node, and
// verifies a fresh process over the same data directory replays it.
func TestNodeRecoversStateAfterRestart(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping e2e test in short mode")
	}

	dataDir := t.TempDir()

	first, err := node.NewNode(devConfig(dataDir, 37700))
	if err != nil {
		t.Fatalf("NewNode failed: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := first.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	mustSubmitOp(t, first, "owner", "mole")
	waitForCommit(t, first, 3, 30*time.Second)
	committed := first.CommittedHeight()
	nodeID := first.NodeID()

	if err := first.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	// 같은 데이터 디렉터리로 재시작
	second, err := node.NewNode(devConfig(dataDir, 37701))
	if err != nil {
		t.Fatalf("NewNode (restart) failed: %v", err)
	}
	if second.NodeID() != nodeID {
		t.Fatalf("Identity changed across restart: %s vs %s", second.NodeID(), nodeID)
	}
	if err := second.Start(ctx); err != nil {
		t.Fatalf("Start (restart) failed: %v", err)
	}
	defer second.Stop()

	// 재생된 상태 확인
	value, ok := second.Query("owner")
	if !ok || string(value) != "mole" {
		t.Errorf("State not recovered: %q (ok=%v)", value, ok)
	}
	if second.CommittedHeight() < committed {
		t.Errorf("Chain went backwards: %d < %d", second.CommittedHeight(), committed)
	}

	// 체인이 이어서 자람
	waitForCommit(t, second, committed+2, 30*time.Second)
}
