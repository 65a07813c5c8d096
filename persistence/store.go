// Package persistence provides block, state and evidence storage for the
// consensus engine.
// 블록과 상태를 영구 저장하고 복구하는 기능을 제공
package persistence

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ahwlsqja/wbft-cosmos/types"
)

// EvidenceRecord는 처리된 비잔틴 증거를 나타냄 (순환 참조 방지를 위해 별도 정의)
type EvidenceRecord struct {
	Validator   types.ID  `json:"validator"`
	Type        string    `json:"type"`
	Severity    string    `json:"severity"`
	Height      uint64    `json:"height"`
	Description string    `json:"description"`
	SlashedAt   time.Time `json:"slashed_at"`
}

// Store는 블록과 상태를 저장하는 인터페이스
type Store interface {
	// 블록 관련
	SaveBlock(block *types.Block) error
	LoadBlock(height uint64) (*types.Block, error)
	LoadBlocks(fromHeight, toHeight uint64) ([]*types.Block, error)
	GetLatestBlockHeight() (uint64, error)

	// 상태 관련
	SaveState(state *EngineState) error
	LoadState() (*EngineState, error)

	// 증거 관련
	SaveEvidence(record *EvidenceRecord) error
	LoadEvidence(height uint64) ([]*EvidenceRecord, error)
	LoadAllEvidence() ([]*EvidenceRecord, error)

	// 닫기
	Close() error
}

// EngineState는 합의 엔진의 영구 상태를 나타냄
type EngineState struct {
	NodeID        types.ID `json:"node_id"`         // 노드 ID
	LastHeight    uint64   `json:"last_height"`     // 마지막 커밋 높이
	LastBlockHash []byte   `json:"last_block_hash"` // 마지막 블록 해시
	LastAppHash   []byte   `json:"last_app_hash"`   // 마지막 앱 해시
}

// ================================================================================
//                          File-based Store 구현
// ================================================================================

// FileStore는 파일 시스템 기반 저장소
type FileStore struct {
	mu      sync.RWMutex
	baseDir string // 기본 디렉토리
}

// NewFileStore creates a new file-based store.
func NewFileStore(baseDir string) (*FileStore, error) {
	// 디렉토리 생성
	dirs := []string{
		baseDir,
		filepath.Join(baseDir, "blocks"),
		filepath.Join(baseDir, "evidence"),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return &FileStore{
		baseDir: baseDir,
	}, nil
}

// ================================================================================
//                          블록 저장/로드
// ================================================================================

// SaveBlock saves a block to disk.
func (fs *FileStore) SaveBlock(block *types.Block) error {
	if block == nil {
		return fmt.Errorf("block is nil")
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	data, err := json.MarshalIndent(block, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal block: %w", err)
	}

	filename := filepath.Join(fs.baseDir, "blocks", fmt.Sprintf("block_%d.json", block.Header.Height))
	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write block file: %w", err)
	}

	return nil
}

// LoadBlock loads a block from disk.
func (fs *FileStore) LoadBlock(height uint64) (*types.Block, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	filename := filepath.Join(fs.baseDir, "blocks", fmt.Sprintf("block_%d.json", height))
	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil // 블록이 없으면 nil 반환
		}
		return nil, fmt.Errorf("failed to read block file: %w", err)
	}

	var block types.Block
	if err := json.Unmarshal(data, &block); err != nil {
		return nil, fmt.Errorf("failed to unmarshal block: %w", err)
	}

	return &block, nil
}

// LoadBlocks loads blocks in a range.
func (fs *FileStore) LoadBlocks(fromHeight, toHeight uint64) ([]*types.Block, error) {
	var blocks []*types.Block
	for h := fromHeight; h <= toHeight; h++ {
		block, err := fs.LoadBlock(h)
		if err != nil {
			return nil, err
		}
		if block != nil {
			blocks = append(blocks, block)
		}
	}
	return blocks, nil
}

// GetLatestBlockHeight returns the latest block height.
func (fs *FileStore) GetLatestBlockHeight() (uint64, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	blocksDir := filepath.Join(fs.baseDir, "blocks")
	entries, err := os.ReadDir(blocksDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read blocks directory: %w", err)
	}

	var maxHeight uint64
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		var height uint64
		if _, err := fmt.Sscanf(entry.Name(), "block_%d.json", &height); err == nil {
			if height > maxHeight {
				maxHeight = height
			}
		}
	}

	return maxHeight, nil
}

// ================================================================================
//                          상태 저장/로드
// ================================================================================

// SaveState saves the engine state.
func (fs *FileStore) SaveState(state *EngineState) error {
	if state == nil {
		return fmt.Errorf("state is nil")
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	filename := filepath.Join(fs.baseDir, "state.json")
	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}

	return nil
}

// LoadState loads the engine state.
func (fs *FileStore) LoadState() (*EngineState, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	filename := filepath.Join(fs.baseDir, "state.json")
	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil // 상태가 없으면 nil 반환
		}
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}

	var state EngineState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state: %w", err)
	}

	return &state, nil
}

// ================================================================================
//                          증거 저장/로드
// ================================================================================

// SaveEvidence appends an evidence record to its height's file.
func (fs *FileStore) SaveEvidence(record *EvidenceRecord) error {
	if record == nil {
		return fmt.Errorf("evidence record is nil")
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	records, err := fs.loadEvidenceLocked(record.Height)
	if err != nil {
		return err
	}
	records = append(records, record)

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal evidence: %w", err)
	}

	filename := filepath.Join(fs.baseDir, "evidence", fmt.Sprintf("evidence_%d.json", record.Height))
	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write evidence file: %w", err)
	}

	return nil
}

// LoadEvidence loads the evidence records for a height.
func (fs *FileStore) LoadEvidence(height uint64) ([]*EvidenceRecord, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return fs.loadEvidenceLocked(height)
}

func (fs *FileStore) loadEvidenceLocked(height uint64) ([]*EvidenceRecord, error) {
	filename := filepath.Join(fs.baseDir, "evidence", fmt.Sprintf("evidence_%d.json", height))
	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read evidence file: %w", err)
	}

	var records []*EvidenceRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to unmarshal evidence: %w", err)
	}
	return records, nil
}

// LoadAllEvidence loads every stored evidence record.
func (fs *FileStore) LoadAllEvidence() ([]*EvidenceRecord, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	evidenceDir := filepath.Join(fs.baseDir, "evidence")
	entries, err := os.ReadDir(evidenceDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read evidence directory: %w", err)
	}

	var all []*EvidenceRecord
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		var height uint64
		if _, err := fmt.Sscanf(entry.Name(), "evidence_%d.json", &height); err != nil {
			continue
		}
		records, err := fs.loadEvidenceLocked(height)
		if err != nil {
			return nil, err
		}
		all = append(all, records...)
	}
	return all, nil
}

// Close closes the store.
func (fs *FileStore) Close() error {
	// 파일 기반 저장소는 특별한 종료 로직이 필요 없음
	return nil
}

// ================================================================================
//                          Memory Store (테스트용)
// ================================================================================

// MemoryStore는 메모리 기반 저장소 (테스트용)
type MemoryStore struct {
	mu       sync.RWMutex
	blocks   map[uint64]*types.Block
	state    *EngineState
	evidence map[uint64][]*EvidenceRecord
}

// NewMemoryStore creates a new memory-based store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		blocks:   make(map[uint64]*types.Block),
		evidence: make(map[uint64][]*EvidenceRecord),
	}
}

// SaveBlock saves a block to memory.
func (ms *MemoryStore) SaveBlock(block *types.Block) error {
	if block == nil {
		return fmt.Errorf("block is nil")
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.blocks[block.Header.Height] = block
	return nil
}

// LoadBlock loads a block from memory.
func (ms *MemoryStore) LoadBlock(height uint64) (*types.Block, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return ms.blocks[height], nil
}

// LoadBlocks loads blocks in a range.
func (ms *MemoryStore) LoadBlocks(fromHeight, toHeight uint64) ([]*types.Block, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	var blocks []*types.Block
	for h := fromHeight; h <= toHeight; h++ {
		if block, ok := ms.blocks[h]; ok {
			blocks = append(blocks, block)
		}
	}
	return blocks, nil
}

// GetLatestBlockHeight returns the latest block height.
func (ms *MemoryStore) GetLatestBlockHeight() (uint64, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	var maxHeight uint64
	for h := range ms.blocks {
		if h > maxHeight {
			maxHeight = h
		}
	}
	return maxHeight, nil
}

// SaveState saves the engine state.
func (ms *MemoryStore) SaveState(state *EngineState) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.state = state
	return nil
}

// LoadState loads the engine state.
func (ms *MemoryStore) LoadState() (*EngineState, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return ms.state, nil
}

// SaveEvidence saves an evidence record.
func (ms *MemoryStore) SaveEvidence(record *EvidenceRecord) error {
	if record == nil {
		return fmt.Errorf("evidence record is nil")
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.evidence[record.Height] = append(ms.evidence[record.Height], record)
	return nil
}

// LoadEvidence loads the evidence records for a height.
func (ms *MemoryStore) LoadEvidence(height uint64) ([]*EvidenceRecord, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return ms.evidence[height], nil
}

// LoadAllEvidence loads every stored evidence record.
func (ms *MemoryStore) LoadAllEvidence() ([]*EvidenceRecord, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	var all []*EvidenceRecord
	for _, records := range ms.evidence {
		all = append(all, records...)
	}
	return all, nil
}

// Close closes the store.
func (ms *MemoryStore) Close() error {
	return nil
}
