package validator

import "math"

// PowerFunc derives voting power from stake and provided storage. The
// curve is a deployment policy, so the registry takes it as an input
// rather than hard-coding one.
type PowerFunc func(stake, storageBytes uint64) uint64

const (
	bytesPerGB = 1 << 30

	// maxStorageBonus caps the storage multiplier at +20%.
	maxStorageBonus = 0.2
)

// DefaultPowerFunc computes floor(sqrt(stake) * (1 + bonus)) where
// bonus = min(0.2, max(0, ln(storage_gb)) * 0.1). Square-rooting stake
// dampens large holders; the log-scaled storage term rewards capacity
// with quickly diminishing returns.
func DefaultPowerFunc(stake, storageBytes uint64) uint64 {
	if stake == 0 {
		return 0
	}
	bonus := 0.0
	if storageBytes > 0 {
		storageGB := float64(storageBytes) / float64(bytesPerGB)
		if ln := math.Log(storageGB); ln > 0 {
			bonus = ln * 0.1
		}
		if bonus > maxStorageBonus {
			bonus = maxStorageBonus
		}
	}
	return uint64(math.Floor(math.Sqrt(float64(stake)) * (1 + bonus)))
}

// saturatingSub subtracts b from a, saturating at zero. Slash arithmetic
// must never underflow state.
func saturatingSub(a, b uint64) uint64 {
	if b >= a {
		return 0
	}
	return a - b
}

// saturatingSub32 is saturatingSub for 32-bit counters (reputation).
func saturatingSub32(a, b uint32) uint32 {
	if b >= a {
		return 0
	}
	return a - b
}
