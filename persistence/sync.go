// Package persistence provides state synchronization for new nodes.
// 새로운 노드가 네트워크에 합류할 때 상태를 동기화하는 기능
package persistence

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/ahwlsqja/wbft-cosmos/types"
)

// BlockProvider는 블록을 제공하는 인터페이스 (다른 노드로부터)
type BlockProvider interface {
	// GetBlocks는 지정된 높이 범위의 블록을 요청
	GetBlocks(ctx context.Context, fromHeight, toHeight uint64) ([]*types.Block, error)
	// GetLatestHeight는 네트워크의 최신 높이를 반환
	GetLatestHeight(ctx context.Context) (uint64, error)
}

// StateSyncer brings a node's local chain up to the network height, and
// replays stored blocks through the application on restart.
type StateSyncer struct {
	mu sync.RWMutex

	store         Store
	blockProvider BlockProvider
	logger        *log.Logger

	// 동기화 상태
	syncing       bool
	targetHeight  uint64
	currentHeight uint64

	// 콜백
	onBlockReceived func(*types.Block) error // 블록 수신 시 콜백
	onSyncComplete  func()                   // 동기화 완료 시 콜백
}

// NewStateSyncer creates a new state syncer. The block provider may be
// nil when only local replay is needed.
func NewStateSyncer(store Store, provider BlockProvider, logger *log.Logger) *StateSyncer {
	if logger == nil {
		logger = log.Default()
	}
	return &StateSyncer{
		store:         store,
		blockProvider: provider,
		logger:        logger,
	}
}

// SetOnBlockReceived sets the callback for when a block is received.
func (ss *StateSyncer) SetOnBlockReceived(callback func(*types.Block) error) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	ss.onBlockReceived = callback
}

// SetOnSyncComplete sets the callback for when sync is complete.
func (ss *StateSyncer) SetOnSyncComplete(callback func()) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	ss.onSyncComplete = callback
}

// IsSyncing reports whether a sync is in progress.
func (ss *StateSyncer) IsSyncing() bool {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	return ss.syncing
}

// Progress returns the current and target heights of an ongoing sync.
func (ss *StateSyncer) Progress() (current, target uint64) {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	return ss.currentHeight, ss.targetHeight
}

// ReplayLocal feeds every locally stored block, oldest first, through
// the block callback. Called on startup so the application rebuilds its
// state from the stored chain before consensus resumes.
// 재시작 시 저장된 블록으로 앱 상태를 복구
func (ss *StateSyncer) ReplayLocal(ctx context.Context) (uint64, error) {
	latest, err := ss.store.GetLatestBlockHeight()
	if err != nil {
		return 0, fmt.Errorf("failed to get local height: %w", err)
	}
	if latest == 0 {
		return 0, nil
	}

	ss.mu.RLock()
	callback := ss.onBlockReceived
	ss.mu.RUnlock()

	for h := uint64(1); h <= latest; h++ {
		select {
		case <-ctx.Done():
			return h - 1, ctx.Err()
		default:
		}
		block, err := ss.store.LoadBlock(h)
		if err != nil {
			return h - 1, fmt.Errorf("failed to load block %d: %w", h, err)
		}
		if block == nil {
			return h - 1, fmt.Errorf("chain gap: block %d missing", h)
		}
		if callback != nil {
			if err := callback(block); err != nil {
				return h - 1, fmt.Errorf("replay of block %d failed: %w", h, err)
			}
		}
	}

	ss.logger.Printf("[StateSync] Replayed %d local blocks", latest)
	return latest, nil
}

// Sync starts the synchronization process.
// 현재 높이에서 네트워크의 최신 높이까지 블록을 동기화
func (ss *StateSyncer) Sync(ctx context.Context) error {
	if ss.blockProvider == nil {
		return fmt.Errorf("no block provider configured")
	}

	ss.mu.Lock()
	if ss.syncing {
		ss.mu.Unlock()
		return fmt.Errorf("sync already in progress")
	}
	ss.syncing = true
	ss.mu.Unlock()

	defer func() {
		ss.mu.Lock()
		ss.syncing = false
		ss.mu.Unlock()
	}()

	// 1. 현재 로컬 높이 확인
	localHeight, err := ss.store.GetLatestBlockHeight()
	if err != nil {
		return fmt.Errorf("failed to get local height: %w", err)
	}

	ss.mu.Lock()
	ss.currentHeight = localHeight
	ss.mu.Unlock()

	ss.logger.Printf("[StateSync] Starting sync from height %d", localHeight)

	// 2. 네트워크 최신 높이 확인
	targetHeight, err := ss.blockProvider.GetLatestHeight(ctx)
	if err != nil {
		return fmt.Errorf("failed to get target height: %w", err)
	}

	ss.mu.Lock()
	ss.targetHeight = targetHeight
	ss.mu.Unlock()

	if localHeight >= targetHeight {
		ss.logger.Printf("[StateSync] Already at latest height %d", localHeight)
		return nil
	}

	ss.logger.Printf("[StateSync] Target height: %d, need to sync %d blocks",
		targetHeight, targetHeight-localHeight)

	// 3. 블록 배치로 동기화
	const batchSize = 100
	for height := localHeight + 1; height <= targetHeight; {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		// 배치 범위 계산
		endHeight := height + batchSize - 1
		if endHeight > targetHeight {
			endHeight = targetHeight
		}

		// 블록 요청
		blocks, err := ss.blockProvider.GetBlocks(ctx, height, endHeight)
		if err != nil {
			return fmt.Errorf("failed to get blocks %d-%d: %w", height, endHeight, err)
		}

		// 블록 처리
		for _, block := range blocks {
			if err := ss.processBlock(block); err != nil {
				return fmt.Errorf("failed to process block %d: %w", block.Header.Height, err)
			}
		}

		ss.mu.Lock()
		ss.currentHeight = endHeight
		ss.mu.Unlock()

		ss.logger.Printf("[StateSync] Synced blocks %d-%d", height, endHeight)

		height = endHeight + 1
	}

	ss.logger.Printf("[StateSync] Sync complete at height %d", targetHeight)

	// 동기화 완료 콜백
	ss.mu.RLock()
	callback := ss.onSyncComplete
	ss.mu.RUnlock()
	if callback != nil {
		callback()
	}

	return nil
}

// processBlock processes a single block during sync.
func (ss *StateSyncer) processBlock(block *types.Block) error {
	// 블록 저장
	if err := ss.store.SaveBlock(block); err != nil {
		return fmt.Errorf("failed to save block: %w", err)
	}

	// 콜백 호출 (앱 상태 업데이트 등)
	ss.mu.RLock()
	callback := ss.onBlockReceived
	ss.mu.RUnlock()
	if callback != nil {
		if err := callback(block); err != nil {
			return fmt.Errorf("block callback failed: %w", err)
		}
	}

	return nil
}
