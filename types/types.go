// Package types defines core data structures for the weighted BFT consensus engine.
package types

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// IDSize is the length of a content identifier in bytes.
const IDSize = 32

// ID is a 32-byte content identifier. It names validators, proposals
// and blocks uniquely across the network.
type ID [IDSize]byte

// NewID computes the identifier for an arbitrary byte string.
func NewID(data []byte) ID {
	return ID(sha256.Sum256(data))
}

// IDFromBytes converts a raw 32-byte slice into an ID.
func IDFromBytes(data []byte) (ID, error) {
	var id ID
	if len(data) != IDSize {
		return id, fmt.Errorf("invalid id length: expected %d, got %d", IDSize, len(data))
	}
	copy(id[:], data)
	return id, nil
}

// IDFromHex parses a hex-encoded identifier.
func IDFromHex(s string) (ID, error) {
	data, err := hex.DecodeString(s)
	if err != nil {
		return ID{}, fmt.Errorf("invalid id hex: %w", err)
	}
	return IDFromBytes(data)
}

// String returns the hex-encoded identifier.
func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

// Short returns a truncated identifier for log lines.
func (id ID) Short() string {
	return hex.EncodeToString(id[:4])
}

// IsZero reports whether the identifier is the zero value.
func (id ID) IsZero() bool {
	return id == ID{}
}

// Bytes returns the identifier as a byte slice.
func (id ID) Bytes() []byte {
	return id[:]
}

// Compare orders identifiers by byte value. Used for deterministic
// tie-breaking in proposer selection.
func (id ID) Compare(other ID) int {
	return bytes.Compare(id[:], other[:])
}

// MarshalJSON encodes the ID as a hex string.
func (id ID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.String())
}

// UnmarshalJSON decodes the ID from a hex string.
func (id *ID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := IDFromHex(s)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// Block represents a fully-formed block delivered by the block producer.
// The consensus core checks only its positional integrity (height and
// previous-hash continuity); transaction contents are opaque.
type Block struct {
	Header  BlockHeader `json:"header"`
	Payload []byte      `json:"payload"`
	Hash    []byte      `json:"hash"`
}

// BlockHeader contains metadata about the block.
type BlockHeader struct {
	Height     uint64    `json:"height"`
	PrevHash   []byte    `json:"prev_hash"`
	Timestamp  time.Time `json:"timestamp"`
	ProposerID ID        `json:"proposer_id"`
	Round      uint32    `json:"round"`
}

// ComputeHash computes the SHA256 hash of the block.
func (b *Block) ComputeHash() []byte {
	data := make([]byte, 0, len(b.Header.PrevHash)+IDSize+16+len(b.Payload))
	data = append(data, b.Header.PrevHash...)
	data = append(data, b.Header.ProposerID.Bytes()...)
	data = append(data, uint64Bytes(b.Header.Height)...)
	data = append(data, uint64Bytes(uint64(b.Header.Round))...)
	data = append(data, b.Payload...)
	hash := sha256.Sum256(data)
	return hash[:]
}

// HashString returns the hex-encoded hash string.
func (b *Block) HashString() string {
	return hex.EncodeToString(b.Hash)
}

// NewBlock creates a new block with the given parameters.
func NewBlock(height uint64, prevHash []byte, proposer ID, round uint32, payload []byte) *Block {
	block := &Block{
		Header: BlockHeader{
			Height:     height,
			PrevHash:   prevHash,
			Timestamp:  time.Now(),
			ProposerID: proposer,
			Round:      round,
		},
		Payload: payload,
	}
	block.Hash = block.ComputeHash()
	return block
}

func uint64Bytes(v uint64) []byte {
	b := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
	return b
}

// Clock supplies the current time. Injecting it keeps jailing and
// evidence ageing deterministic under test.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

// Now returns the current wall-clock time.
func (SystemClock) Now() time.Time {
	return time.Now()
}

// ManualClock is a settable clock for tests.
type ManualClock struct {
	Current time.Time
}

// NewManualClock creates a manual clock starting at t.
func NewManualClock(t time.Time) *ManualClock {
	return &ManualClock{Current: t}
}

// Now returns the manually set time.
func (c *ManualClock) Now() time.Time {
	return c.Current
}

// Advance moves the clock forward by d.
func (c *ManualClock) Advance(d time.Duration) {
	c.Current = c.Current.Add(d)
}
