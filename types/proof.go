// Package types defines core data structures for the weighted BFT consensus engine.
package types

import "fmt"

// ProofKind identifies the variant of a consensus proof.
type ProofKind int

const (
	// ProofStake proves locked token stake.
	ProofStake ProofKind = iota
	// ProofStorage proves committed storage capacity.
	ProofStorage
	// ProofUsefulWork proves completed useful-work assignments.
	ProofUsefulWork
	// ProofZKIdentity proves membership without revealing identity.
	ProofZKIdentity
)

// String returns the string representation of ProofKind.
func (k ProofKind) String() string {
	switch k {
	case ProofStake:
		return "STAKE"
	case ProofStorage:
		return "STORAGE"
	case ProofUsefulWork:
		return "USEFUL-WORK"
	case ProofZKIdentity:
		return "ZK-IDENTITY"
	default:
		return "UNKNOWN"
	}
}

// StakeProof attests to the proposer's locked stake.
type StakeProof struct {
	Amount    uint64 `json:"amount"`
	LockedAt  uint64 `json:"locked_at"`
	Signature []byte `json:"signature"`
}

// StorageProof attests to storage committed by the proposer.
type StorageProof struct {
	Bytes     uint64 `json:"bytes"`
	Challenge []byte `json:"challenge"`
	Response  []byte `json:"response"`
}

// UsefulWorkProof attests to completed work assignments.
type UsefulWorkProof struct {
	TaskID ID     `json:"task_id"`
	Result []byte `json:"result"`
}

// ZKIdentityProof attests to validator-set membership in zero knowledge.
type ZKIdentityProof struct {
	Commitment []byte `json:"commitment"`
	Proof      []byte `json:"proof"`
}

// ConsensusProof is a tagged union over the proof variants. Exactly the
// variants matching Kind are populated; everything else stays nil.
type ConsensusProof struct {
	Kind       ProofKind        `json:"kind"`
	Stake      *StakeProof      `json:"stake,omitempty"`
	Storage    *StorageProof    `json:"storage,omitempty"`
	UsefulWork *UsefulWorkProof `json:"useful_work,omitempty"`
	ZKIdentity *ZKIdentityProof `json:"zk_identity,omitempty"`
}

// NewStakeProof creates a stake-backed consensus proof.
func NewStakeProof(amount, lockedAt uint64, sig []byte) ConsensusProof {
	return ConsensusProof{Kind: ProofStake, Stake: &StakeProof{Amount: amount, LockedAt: lockedAt, Signature: sig}}
}

// NewStorageProof creates a storage-backed consensus proof.
func NewStorageProof(bytes uint64, challenge, response []byte) ConsensusProof {
	return ConsensusProof{Kind: ProofStorage, Storage: &StorageProof{Bytes: bytes, Challenge: challenge, Response: response}}
}

// Validate checks that the variant matching Kind is present and plausible.
// It does not verify cryptographic contents; that is the proof supplier's
// concern.
func (p *ConsensusProof) Validate() error {
	switch p.Kind {
	case ProofStake:
		if p.Stake == nil {
			return fmt.Errorf("proof kind %s without stake variant", p.Kind)
		}
		if p.Stake.Amount == 0 {
			return fmt.Errorf("stake proof with zero amount")
		}
	case ProofStorage:
		if p.Storage == nil {
			return fmt.Errorf("proof kind %s without storage variant", p.Kind)
		}
		if p.Storage.Bytes == 0 {
			return fmt.Errorf("storage proof with zero capacity")
		}
	case ProofUsefulWork:
		if p.UsefulWork == nil {
			return fmt.Errorf("proof kind %s without useful-work variant", p.Kind)
		}
	case ProofZKIdentity:
		if p.ZKIdentity == nil {
			return fmt.Errorf("proof kind %s without zk-identity variant", p.Kind)
		}
		if len(p.ZKIdentity.Proof) == 0 {
			return fmt.Errorf("zk-identity proof with empty proof bytes")
		}
	default:
		return fmt.Errorf("unknown proof kind %d", p.Kind)
	}
	return nil
}
