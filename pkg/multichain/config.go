package multichain

import (
	"errors"
	"fmt"
	"time"

	"github.com/0xmhha/chainfetch/pkg/adapters/factory"
	"github.com/0xmhha/chainfetch/pkg/cache"
	"github.com/0xmhha/chainfetch/pkg/fetch"
	"github.com/0xmhha/chainfetch/pkg/queue"
	"github.com/0xmhha/chainfetch/pkg/rangesearch"
	"github.com/0xmhha/chainfetch/pkg/resilience"
	"github.com/0xmhha/chainfetch/pkg/types"
)

// ChainConfig defines one chain and its providers.
type ChainConfig struct {
	// ID is the chain identifier used in requests (e.g., "ethereum", "lisk", "starknet").
	ID string `yaml:"id" json:"id"`
	// Family forces the adapter: "evm", "lisk", "starknet"; empty detects it from the node.
	Family string `yaml:"family,omitempty" json:"family,omitempty"`
	// Endpoints are the providers of this chain, tried in ascending priority.
	Endpoints []types.ProviderEndpoint `yaml:"endpoints" json:"endpoints"`
	// LogChunkSize overrides the eth_getLogs window (EVM and Lisk).
	LogChunkSize uint64 `yaml:"log_chunk_size,omitempty" json:"logChunkSize,omitempty"`
	// Enabled indicates whether this chain should be built.
	Enabled bool `yaml:"enabled" json:"enabled"`
}

// Config defines the configuration of the contract interaction fetcher.
type Config struct {
	// Chains is the list of chain configurations.
	Chains []ChainConfig `yaml:"chains" json:"chains"`
	// Tier is the subscription tier applied to every chain (default: free).
	Tier queue.Tier `yaml:"tier" json:"tier"`
	// CallTimeout bounds a single provider attempt (default: 30s).
	CallTimeout time.Duration `yaml:"call_timeout,omitempty" json:"callTimeout,omitempty"`
	// DetectionTimeout bounds family detection (default: 10s).
	DetectionTimeout time.Duration `yaml:"detection_timeout,omitempty" json:"detectionTimeout,omitempty"`
	// Retry holds the retry and circuit breaker settings.
	Retry resilience.Config `yaml:"retry" json:"retry"`
	// Cache holds the response cache settings.
	Cache cache.Config `yaml:"cache" json:"cache"`
	// CachePruneInterval is how often expired cache entries are dropped (default: 1m).
	CachePruneInterval time.Duration `yaml:"cache_prune_interval,omitempty" json:"cachePruneInterval,omitempty"`
	// Fetch holds the block-scan fallback settings.
	Fetch fetch.Config `yaml:"fetch" json:"fetch"`
	// Search holds the activity search thresholds.
	Search rangesearch.Config `yaml:"search" json:"search"`
	// HealthCheckInterval is how often to check chain health (default: 30s).
	HealthCheckInterval time.Duration `yaml:"health_check_interval,omitempty" json:"healthCheckInterval,omitempty"`
	// ProgressBuffer is the default subscription buffer (default: 100).
	ProgressBuffer int `yaml:"progress_buffer,omitempty" json:"progressBuffer,omitempty"`
}

// DefaultConfig returns the default fetcher configuration.
func DefaultConfig() *Config {
	return &Config{
		Chains:              []ChainConfig{},
		Tier:                queue.TierFree,
		CallTimeout:         30 * time.Second,
		DetectionTimeout:    10 * time.Second,
		Retry:               resilience.DefaultConfig(),
		Cache:               cache.DefaultConfig(),
		CachePruneInterval:  time.Minute,
		Fetch:               fetch.DefaultConfig(),
		Search:              rangesearch.DefaultConfig(),
		HealthCheckInterval: 30 * time.Second,
		ProgressBuffer:      100,
	}
}

// Validate validates the configuration and fills zero values with defaults.
func (c *Config) Validate() error {
	if c.Tier == "" {
		c.Tier = queue.TierFree
	}
	if !c.Tier.Valid() {
		return fmt.Errorf("%w: %w: %q", ErrInvalidConfig, queue.ErrUnknownTier, c.Tier)
	}

	seenIDs := make(map[string]bool)
	for i := range c.Chains {
		chain := &c.Chains[i]
		if err := chain.Validate(); err != nil {
			return fmt.Errorf("%w: chain[%d] (%s): %w", ErrInvalidConfig, i, chain.ID, err)
		}
		if seenIDs[chain.ID] {
			return fmt.Errorf("%w: duplicate chain ID: %s", ErrInvalidConfig, chain.ID)
		}
		seenIDs[chain.ID] = true
	}

	defaults := DefaultConfig()
	if c.CallTimeout <= 0 {
		c.CallTimeout = defaults.CallTimeout
	}
	if c.DetectionTimeout <= 0 {
		c.DetectionTimeout = defaults.DetectionTimeout
	}
	if c.CachePruneInterval <= 0 {
		c.CachePruneInterval = defaults.CachePruneInterval
	}
	if c.HealthCheckInterval <= 0 {
		c.HealthCheckInterval = defaults.HealthCheckInterval
	}
	if c.ProgressBuffer <= 0 {
		c.ProgressBuffer = defaults.ProgressBuffer
	}
	if c.Fetch.FallbackMaxRange == 0 {
		c.Fetch.FallbackMaxRange = defaults.Fetch.FallbackMaxRange
	}
	if c.Fetch.FallbackScanBlocks == 0 {
		c.Fetch.FallbackScanBlocks = defaults.Fetch.FallbackScanBlocks
	}
	return nil
}

// Validate validates a single chain configuration.
func (c *ChainConfig) Validate() error {
	if c.ID == "" {
		return errors.New("id is required")
	}
	if len(c.Endpoints) == 0 {
		return errors.New("at least one endpoint is required")
	}
	for i, ep := range c.Endpoints {
		if ep.URL == "" {
			return fmt.Errorf("endpoint[%d]: url is required", i)
		}
	}
	if _, err := factory.ParseFamily(c.Family); err != nil {
		return err
	}
	return nil
}

// GetEnabledChains returns only the enabled chain configurations.
func (c *Config) GetEnabledChains() []ChainConfig {
	var enabled []ChainConfig
	for _, chain := range c.Chains {
		if chain.Enabled {
			enabled = append(enabled, chain)
		}
	}
	return enabled
}

// GetChainByID returns the chain configuration by its ID.
func (c *Config) GetChainByID(id string) *ChainConfig {
	for i := range c.Chains {
		if c.Chains[i].ID == id {
			return &c.Chains[i]
		}
	}
	return nil
}

// factoryConfig derives the client factory settings for chain.
func (c *Config) factoryConfig(chain ChainConfig) *factory.Config {
	family, _ := factory.ParseFamily(chain.Family)
	return &factory.Config{
		Chain:            chain.ID,
		Family:           family,
		Endpoints:        chain.Endpoints,
		Tier:             c.Tier,
		CallTimeout:      c.CallTimeout,
		Retry:            c.Retry,
		Cache:            c.Cache,
		Fetch:            c.Fetch,
		LogChunkSize:     chain.LogChunkSize,
		DetectionTimeout: c.DetectionTimeout,
	}
}
