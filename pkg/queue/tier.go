package queue

import (
	"errors"
	"fmt"
	"strings"
)

// Tier is a service level that bounds concurrency and throughput.
type Tier string

const (
	TierFree       Tier = "free"
	TierPro        Tier = "pro"
	TierEnterprise Tier = "enterprise"
)

// ErrUnknownTier is returned for tier names outside the known set
var ErrUnknownTier = errors.New("unknown tier")

// TierLimits are the admission limits of a tier
type TierLimits struct {
	MaxConcurrent     int     `json:"maxConcurrent"`
	RequestsPerSecond float64 `json:"requestsPerSecond"`
	Burst             int     `json:"burst"`
	BatchSize         int     `json:"batchSize"`
	MaxBlockRange     uint64  `json:"maxBlockRange"`
}

var tierLimits = map[Tier]TierLimits{
	TierFree: {
		MaxConcurrent:     3,
		RequestsPerSecond: 5,
		Burst:             5,
		BatchSize:         5,
		MaxBlockRange:     10_000,
	},
	TierPro: {
		MaxConcurrent:     10,
		RequestsPerSecond: 25,
		Burst:             25,
		BatchSize:         10,
		MaxBlockRange:     100_000,
	},
	TierEnterprise: {
		MaxConcurrent:     25,
		RequestsPerSecond: 100,
		Burst:             100,
		BatchSize:         20,
		MaxBlockRange:     1_000_000,
	},
}

// ParseTier parses a tier name, case-insensitively
func ParseTier(s string) (Tier, error) {
	t := Tier(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := tierLimits[t]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownTier, s)
	}
	return t, nil
}

// Limits returns the limits for t. Unknown tiers get the free limits.
func (t Tier) Limits() TierLimits {
	if l, ok := tierLimits[t]; ok {
		return l
	}
	return tierLimits[TierFree]
}

// Valid reports whether t is a known tier
func (t Tier) Valid() bool {
	_, ok := tierLimits[t]
	return ok
}
