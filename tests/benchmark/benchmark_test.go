// Package benchmark provides performance benchmarks for the consensus
// building blocks.
package benchmark

import (
	"crypto/rand"
	"fmt"
	"testing"

	"github.com/ahwlsqja/wbft-cosmos/consensus/wbft"
	"github.com/ahwlsqja/wbft-cosmos/crypto"
	"github.com/ahwlsqja/wbft-cosmos/producer"
	"github.com/ahwlsqja/wbft-cosmos/types"
	"github.com/ahwlsqja/wbft-cosmos/validator"
)

func benchRegistry(b *testing.B, n int) (*validator.Registry, []types.ID) {
	b.Helper()
	reg := validator.NewRegistry(validator.Config{
		MinStake:      1000,
		MinStorage:    1 << 20,
		MaxValidators: n + 1,
	}, validator.DefaultPowerFunc, types.SystemClock{})

	ids := make([]types.ID, n)
	for i := 0; i < n; i++ {
		key := make([]byte, 32)
		rand.Read(key)
		id := crypto.ValidatorID(key)
		if _, err := reg.Register(id, uint64(1_000_000+i*1000), 1<<30, key, 0.1); err != nil {
			b.Fatalf("register: %v", err)
		}
		ids[i] = id
	}
	return reg, ids
}

// BenchmarkPowerCurve measures the stake and storage to power mapping.
func BenchmarkPowerCurve(b *testing.B) {
	for i := 0; i < b.N; i++ {
		validator.DefaultPowerFunc(uint64(i)*1000+1_000_000, 1<<30)
	}
}

// BenchmarkSelectProposer measures weighted proposer selection across
// validator set sizes.
func BenchmarkSelectProposer(b *testing.B) {
	for _, size := range []int{4, 21, 100} {
		b.Run(fmt.Sprintf("validators-%d", size), func(b *testing.B) {
			reg, _ := benchRegistry(b, size)
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, err := reg.SelectProposer(uint64(i), 0); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

// BenchmarkVoteSetAdd measures weighted vote accumulation.
func BenchmarkVoteSetAdd(b *testing.B) {
	const voters = 100
	ids := make([]types.ID, voters)
	for i := range ids {
		key := make([]byte, 32)
		rand.Read(key)
		ids[i] = crypto.ValidatorID(key)
	}
	proposalID := types.NewID([]byte("block"))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		vs := wbft.NewVoteSet(1, 0, types.VoteTypePreVote, voters*10)
		for _, id := range ids {
			vote := types.NewVote(id, proposalID, types.VoteTypePreVote, 1, 0)
			vs.AddVote(vote, 10)
		}
	}
}

// BenchmarkQueueAdd measures item admission into the producer queue.
func BenchmarkQueueAdd(b *testing.B) {
	cfg := producer.DefaultConfig()
	cfg.MaxItems = b.N + 1
	q := producer.NewQueue(cfg, types.SystemClock{})

	items := make([][]byte, b.N)
	for i := range items {
		items[i] = []byte(fmt.Sprintf("item-%d", i))
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		q.Add(items[i])
	}
}

// BenchmarkNextPayload measures payload assembly from a loaded queue.
func BenchmarkNextPayload(b *testing.B) {
	q := producer.NewQueue(producer.DefaultConfig(), types.SystemClock{})
	for i := 0; i < 1000; i++ {
		q.Add([]byte(fmt.Sprintf("item-%06d", i)))
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		q.NextPayload(1 << 20)
	}
}

// BenchmarkBlockHash measures block hash computation for a 1KB payload.
func BenchmarkBlockHash(b *testing.B) {
	payload := make([]byte, 1024)
	rand.Read(payload)
	var proposer types.ID
	block := types.NewBlock(1, []byte("prev"), proposer, 0, payload)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		block.ComputeHash()
	}
}

// BenchmarkSignVerify measures ed25519 signing and verification of a
// vote sized message.
func BenchmarkSignVerify(b *testing.B) {
	signer, err := crypto.NewDefaultSigner()
	if err != nil {
		b.Fatal(err)
	}
	msg := make([]byte, 128)
	rand.Read(msg)

	b.Run("sign", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			if _, err := signer.Sign(msg); err != nil {
				b.Fatal(err)
			}
		}
	})

	sig, _ := signer.Sign(msg)
	b.Run("verify", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			if !crypto.Verify(signer.PublicKey(), msg, sig) {
				b.Fatal("verify failed")
			}
		}
	})
}
