// Package crypto provides signing keys and hashing for the consensus engine.
// The engine itself never touches key material; it sees only the Signer and
// VerifyFunc capabilities defined here.
package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/cometbft/cometbft/crypto/ed25519"

	"github.com/ahwlsqja/wbft-cosmos/types"
)

// Signer signs consensus messages on behalf of one validator.
type Signer interface {
	Sign(message []byte) ([]byte, error)
	PublicKey() []byte
	Address() types.ID
}

// VerifyFunc verifies a signature over a message with a raw public key.
// The consensus core receives this as an injected capability.
type VerifyFunc func(publicKey, message, signature []byte) bool

// KeyPair wraps an ed25519 consensus key.
type KeyPair struct {
	privKey ed25519.PrivKey
}

// GenerateKeyPair generates a new ed25519 key pair.
func GenerateKeyPair() (*KeyPair, error) {
	return &KeyPair{privKey: ed25519.GenPrivKey()}, nil
}

// KeyPairFromBytes reconstructs a key pair from raw private key bytes.
func KeyPairFromBytes(data []byte) (*KeyPair, error) {
	if len(data) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid private key length: expected %d, got %d", ed25519.PrivateKeySize, len(data))
	}
	return &KeyPair{privKey: ed25519.PrivKey(data)}, nil
}

// Sign signs a message with the private key.
func (kp *KeyPair) Sign(message []byte) ([]byte, error) {
	sig, err := kp.privKey.Sign(message)
	if err != nil {
		return nil, fmt.Errorf("failed to sign message: %w", err)
	}
	return sig, nil
}

// PublicKeyBytes returns the raw public key.
func (kp *KeyPair) PublicKeyBytes() []byte {
	return kp.privKey.PubKey().Bytes()
}

// PrivateKeyBytes returns the raw private key for persistence.
func (kp *KeyPair) PrivateKeyBytes() []byte {
	return kp.privKey.Bytes()
}

// Verify verifies an ed25519 signature with a raw public key. This is the
// default VerifyFunc injected into the consensus core.
func Verify(publicKey, message, signature []byte) bool {
	if len(publicKey) != ed25519.PubKeySize {
		return false
	}
	return ed25519.PubKey(publicKey).VerifySignature(message, signature)
}

// Hash computes the SHA256 hash of data.
func Hash(data []byte) []byte {
	hash := sha256.Sum256(data)
	return hash[:]
}

// HashHex computes SHA256 hash and returns as hex string.
func HashHex(data []byte) string {
	return hex.EncodeToString(Hash(data))
}

// ValidatorID derives a validator identity from a public key.
func ValidatorID(publicKey []byte) types.ID {
	return types.NewID(publicKey)
}

// DefaultSigner implements the Signer interface over an ed25519 key pair.
type DefaultSigner struct {
	keyPair *KeyPair
	address types.ID
}

// NewDefaultSigner creates a new DefaultSigner with a generated key pair.
func NewDefaultSigner() (*DefaultSigner, error) {
	kp, err := GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	return NewDefaultSignerFromKeyPair(kp), nil
}

// NewDefaultSignerFromKeyPair creates a DefaultSigner from an existing key pair.
func NewDefaultSignerFromKeyPair(kp *KeyPair) *DefaultSigner {
	return &DefaultSigner{
		keyPair: kp,
		address: ValidatorID(kp.PublicKeyBytes()),
	}
}

// Sign signs a message.
func (s *DefaultSigner) Sign(message []byte) ([]byte, error) {
	return s.keyPair.Sign(message)
}

// PublicKey returns the public key bytes.
func (s *DefaultSigner) PublicKey() []byte {
	return s.keyPair.PublicKeyBytes()
}

// Address returns the signer's validator identity.
func (s *DefaultSigner) Address() types.ID {
	return s.address
}
