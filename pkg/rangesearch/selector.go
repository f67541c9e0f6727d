package rangesearch

import "github.com/0xmhha/chainfetch/pkg/types"

const (
	DefaultMinActivityThreshold  = 1
	DefaultHighActivityThreshold = 10
	DefaultMaxResults            = 1000
)

// Config holds the continuation thresholds
type Config struct {
	// MinActivityThreshold is the activity a MEDIUM range needs for the
	// search to go on.
	MinActivityThreshold int `yaml:"min_activity_threshold"`

	// HighActivityThreshold is the activity a LOW range needs for the
	// search to go on.
	HighActivityThreshold int `yaml:"high_activity_threshold"`

	// MaxResults stops the search once this many transactions were found.
	// Zero disables the cap.
	MaxResults int `yaml:"max_results"`
}

// DefaultConfig returns the default thresholds
func DefaultConfig() Config {
	return Config{
		MinActivityThreshold:  DefaultMinActivityThreshold,
		HighActivityThreshold: DefaultHighActivityThreshold,
		MaxResults:            DefaultMaxResults,
	}
}

// Selector generates ranges and decides when a search may stop
type Selector struct {
	config Config
}

// NewSelector creates a selector. Non-positive thresholds take their defaults.
func NewSelector(config Config) *Selector {
	if config.MinActivityThreshold <= 0 {
		config.MinActivityThreshold = DefaultMinActivityThreshold
	}
	if config.HighActivityThreshold <= 0 {
		config.HighActivityThreshold = DefaultHighActivityThreshold
	}
	if config.MaxResults < 0 {
		config.MaxResults = 0
	}
	return &Selector{config: config}
}

// Config returns the effective thresholds
func (s *Selector) Config() Config {
	return s.config
}

// GenerateBlockRanges returns strategy's ranges below currentBlock
func (s *Selector) GenerateBlockRanges(currentBlock uint64, strategy Strategy) []types.BlockRange {
	return GenerateBlockRanges(currentBlock, strategy)
}

// ShouldContinueSearch reports whether the search goes on after rng
// produced resultsInRange transactions and totalSoFar were found overall.
// HIGH ranges always continue. MEDIUM ranges continue when they met the
// minimum activity and LOW ranges only when they met the high activity mark.
func (s *Selector) ShouldContinueSearch(resultsInRange int, rng types.BlockRange, totalSoFar int) bool {
	if s.config.MaxResults > 0 && totalSoFar >= s.config.MaxResults {
		return false
	}
	switch rng.Priority {
	case types.PriorityHigh:
		return true
	case types.PriorityMedium:
		return resultsInRange >= s.config.MinActivityThreshold
	case types.PriorityLow:
		return resultsInRange >= s.config.HighActivityThreshold
	default:
		return false
	}
}

// ShouldContinueSearch applies the default thresholds
func ShouldContinueSearch(resultsInRange int, rng types.BlockRange, totalSoFar int) bool {
	return NewSelector(DefaultConfig()).ShouldContinueSearch(resultsInRange, rng, totalSoFar)
}
