// Package rangesearch splits an exploratory "does this contract have any
// activity" query into prioritized block windows, newest first.
package rangesearch

import (
	"errors"
	"fmt"
	"strings"

	"github.com/0xmhha/chainfetch/pkg/types"
)

// Strategy names a window layout
type Strategy string

const (
	StrategyQuick         Strategy = "quick"
	StrategyStandard      Strategy = "standard"
	StrategyComprehensive Strategy = "comprehensive"
	StrategyBridge        Strategy = "bridge"
)

// ErrUnknownStrategy is returned for strategy names outside the known set
var ErrUnknownStrategy = errors.New("unknown search strategy")

// window covers the blocks that are between fromAge and toAge blocks old.
// Age 0 is the current block; toAge is exclusive.
type window struct {
	name     string
	fromAge  uint64
	toAge    uint64
	priority types.Priority
}

var strategies = map[Strategy][]window{
	StrategyQuick: {
		{"recent", 0, 1_000, types.PriorityHigh},
		{"last-10k", 1_000, 10_000, types.PriorityMedium},
	},
	StrategyStandard: {
		{"recent", 0, 1_000, types.PriorityHigh},
		{"last-10k", 1_000, 10_000, types.PriorityHigh},
		{"last-50k", 10_000, 50_000, types.PriorityMedium},
		{"last-100k", 50_000, 100_000, types.PriorityLow},
	},
	StrategyComprehensive: {
		{"recent", 0, 1_000, types.PriorityHigh},
		{"last-10k", 1_000, 10_000, types.PriorityHigh},
		{"last-100k", 10_000, 100_000, types.PriorityMedium},
		{"last-500k", 100_000, 500_000, types.PriorityLow},
		{"last-1m", 500_000, 1_000_000, types.PriorityLow},
	},
	// Bridges move in bursts with long quiet stretches, so the first
	// windows are wider and a quiet medium window does not end the search
	// as early.
	StrategyBridge: {
		{"recent", 0, 5_000, types.PriorityHigh},
		{"last-25k", 5_000, 25_000, types.PriorityHigh},
		{"last-100k", 25_000, 100_000, types.PriorityMedium},
		{"last-250k", 100_000, 250_000, types.PriorityLow},
	},
}

// ParseStrategy parses a strategy name; the empty string means standard
func ParseStrategy(s string) (Strategy, error) {
	st := Strategy(strings.ToLower(strings.TrimSpace(s)))
	if st == "" {
		return StrategyStandard, nil
	}
	if _, ok := strategies[st]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownStrategy, s)
	}
	return st, nil
}

// Strategies returns the known strategy names
func Strategies() []Strategy {
	return []Strategy{StrategyQuick, StrategyStandard, StrategyComprehensive, StrategyBridge}
}

// GenerateBlockRanges lays out strategy's windows below currentBlock,
// most recent first. Windows reaching past genesis are clipped at block 0
// and windows lying entirely before genesis are dropped. Unknown strategies
// fall back to standard.
func GenerateBlockRanges(currentBlock uint64, strategy Strategy) []types.BlockRange {
	windows, ok := strategies[strategy]
	if !ok {
		windows = strategies[StrategyStandard]
	}

	ranges := make([]types.BlockRange, 0, len(windows))
	for _, w := range windows {
		if w.fromAge > currentBlock {
			break
		}
		end := currentBlock - w.fromAge
		var start uint64
		if w.toAge <= currentBlock {
			start = currentBlock - w.toAge + 1
		}
		ranges = append(ranges, types.BlockRange{
			Name:        w.name,
			Start:       start,
			End:         end,
			Priority:    w.priority,
			TotalBlocks: end - start + 1,
		})
	}
	return ranges
}
