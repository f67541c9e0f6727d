package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/0xmhha/chainfetch/internal/constants"
	"github.com/0xmhha/chainfetch/pkg/cache"
	"github.com/0xmhha/chainfetch/pkg/fetch"
	"github.com/0xmhha/chainfetch/pkg/multichain"
	"github.com/0xmhha/chainfetch/pkg/queue"
	"github.com/0xmhha/chainfetch/pkg/rangesearch"
	"github.com/0xmhha/chainfetch/pkg/resilience"
	"github.com/0xmhha/chainfetch/pkg/types"
)

// Config holds all configuration for the fetcher
type Config struct {
	Log     LogConfig          `yaml:"log"`
	RPC     RPCConfig          `yaml:"rpc"`
	Fetch   FetchConfig        `yaml:"fetch"`
	Retry   resilience.Config  `yaml:"retry"`
	Cache   CacheConfig        `yaml:"cache"`
	Search  rangesearch.Config `yaml:"search"`
	Metrics MetricsConfig      `yaml:"metrics"`
	Chains  []ChainConfig      `yaml:"chains"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// RPCConfig holds settings shared by every chain's providers
type RPCConfig struct {
	Timeout          time.Duration `yaml:"timeout"`
	DetectionTimeout time.Duration `yaml:"detection_timeout"`
	// Tier is the subscription tier: free, pro or enterprise
	Tier                string        `yaml:"tier"`
	HealthCheckInterval time.Duration `yaml:"health_check_interval"`
}

// FetchConfig holds the block-scan fallback settings
type FetchConfig struct {
	FallbackMaxRange   uint64 `yaml:"fallback_max_range"`
	FallbackScanBlocks uint64 `yaml:"fallback_scan_blocks"`
	ProgressBuffer     int    `yaml:"progress_buffer"`
}

// CacheConfig holds response cache settings
type CacheConfig struct {
	TTL           time.Duration `yaml:"ttl"`
	MaxEntries    int           `yaml:"max_entries"`
	PruneInterval time.Duration `yaml:"prune_interval"`
}

// MetricsConfig holds the metrics listener configuration
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	Namespace string `yaml:"namespace"`
}

// ChainConfig defines one chain and its providers
type ChainConfig struct {
	// ID is the chain identifier used in requests
	ID string `yaml:"id"`
	// Family forces the adapter: "evm", "lisk", "starknet"; empty detects it
	Family string `yaml:"family,omitempty"`
	// Endpoints are tried in ascending priority
	Endpoints []types.ProviderEndpoint `yaml:"endpoints"`
	// LogChunkSize overrides the eth_getLogs window
	LogChunkSize uint64 `yaml:"log_chunk_size,omitempty"`
	// Enabled defaults to true when omitted
	Enabled *bool `yaml:"enabled,omitempty"`
}

// IsEnabled reports whether the chain should be built
func (c ChainConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

func NewConfig() *Config {
	cfg := &Config{}
	cfg.SetDefaults()
	return cfg
}

// SetDefaults sets default values for the configuration
func (c *Config) SetDefaults() {
	// Log defaults
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}

	// RPC defaults
	if c.RPC.Timeout == 0 {
		c.RPC.Timeout = constants.DefaultRPCTimeout
	}
	if c.RPC.DetectionTimeout == 0 {
		c.RPC.DetectionTimeout = constants.DefaultDetectionTimeout
	}
	if c.RPC.Tier == "" {
		c.RPC.Tier = constants.DefaultTier
	}
	if c.RPC.HealthCheckInterval == 0 {
		c.RPC.HealthCheckInterval = constants.DefaultHealthCheckInterval
	}

	// Fetch defaults
	if c.Fetch.FallbackMaxRange == 0 {
		c.Fetch.FallbackMaxRange = fetch.DefaultFallbackMaxRange
	}
	if c.Fetch.FallbackScanBlocks == 0 {
		c.Fetch.FallbackScanBlocks = fetch.DefaultFallbackScanBlocks
	}
	if c.Fetch.ProgressBuffer == 0 {
		c.Fetch.ProgressBuffer = constants.DefaultProgressBuffer
	}

	// Retry defaults
	retry := resilience.DefaultConfig()
	if c.Retry.MaxRetries == 0 {
		c.Retry.MaxRetries = retry.MaxRetries
	}
	if c.Retry.BaseDelay == 0 {
		c.Retry.BaseDelay = retry.BaseDelay
	}
	if c.Retry.Multiplier == 0 {
		c.Retry.Multiplier = retry.Multiplier
	}
	if c.Retry.MaxDelay == 0 {
		c.Retry.MaxDelay = retry.MaxDelay
	}
	if c.Retry.JitterFactor == 0 {
		c.Retry.JitterFactor = retry.JitterFactor
	}
	if c.Retry.CircuitBreakerThreshold == 0 {
		c.Retry.CircuitBreakerThreshold = retry.CircuitBreakerThreshold
	}
	if c.Retry.CircuitBreakerTimeout == 0 {
		c.Retry.CircuitBreakerTimeout = retry.CircuitBreakerTimeout
	}

	// Cache defaults
	if c.Cache.TTL == 0 {
		c.Cache.TTL = cache.DefaultTTL
	}
	if c.Cache.MaxEntries == 0 {
		c.Cache.MaxEntries = cache.DefaultMaxEntries
	}
	if c.Cache.PruneInterval == 0 {
		c.Cache.PruneInterval = constants.DefaultCachePruneInterval
	}

	// Search defaults
	search := rangesearch.DefaultConfig()
	if c.Search.MinActivityThreshold == 0 {
		c.Search.MinActivityThreshold = search.MinActivityThreshold
	}
	if c.Search.HighActivityThreshold == 0 {
		c.Search.HighActivityThreshold = search.HighActivityThreshold
	}
	if c.Search.MaxResults == 0 {
		c.Search.MaxResults = search.MaxResults
	}

	// Metrics defaults
	if c.Metrics.Host == "" {
		c.Metrics.Host = constants.DefaultMetricsHost
	}
	if c.Metrics.Port == 0 {
		c.Metrics.Port = constants.DefaultMetricsPort
	}
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = constants.DefaultMetricsNamespace
	}

	// Chain defaults: the built-in chains when nothing is configured, and
	// public endpoints for known chains configured without any
	if len(c.Chains) == 0 {
		for _, known := range constants.KnownChains {
			c.Chains = append(c.Chains, ChainConfig{ID: known.ID, Family: known.Family})
		}
	}
	for i := range c.Chains {
		chain := &c.Chains[i]
		known, ok := constants.LookupKnownChain(chain.ID)
		if !ok {
			continue
		}
		if chain.Family == "" {
			chain.Family = known.Family
		}
		if len(chain.Endpoints) == 0 {
			chain.Endpoints = endpointsFromURLs(chain.ID, known.Endpoints)
		}
	}
}

// LoadFromEnv applies FETCHER_* overrides
func (c *Config) LoadFromEnv() error {
	// Log configuration
	if level := os.Getenv("FETCHER_LOG_LEVEL"); level != "" {
		c.Log.Level = level
	}
	if format := os.Getenv("FETCHER_LOG_FORMAT"); format != "" {
		c.Log.Format = format
	}

	// RPC configuration
	if tier := os.Getenv("FETCHER_TIER"); tier != "" {
		c.RPC.Tier = tier
	}
	if err := envDuration("FETCHER_RPC_TIMEOUT", &c.RPC.Timeout); err != nil {
		return err
	}
	if err := envDuration("FETCHER_DETECTION_TIMEOUT", &c.RPC.DetectionTimeout); err != nil {
		return err
	}
	if err := envDuration("FETCHER_HEALTH_CHECK_INTERVAL", &c.RPC.HealthCheckInterval); err != nil {
		return err
	}

	// Fetch configuration
	if err := envUint("FETCHER_FALLBACK_MAX_RANGE", &c.Fetch.FallbackMaxRange); err != nil {
		return err
	}
	if err := envUint("FETCHER_FALLBACK_SCAN_BLOCKS", &c.Fetch.FallbackScanBlocks); err != nil {
		return err
	}

	// Retry configuration
	if err := envInt("FETCHER_MAX_RETRIES", &c.Retry.MaxRetries); err != nil {
		return err
	}
	if err := envDuration("FETCHER_RETRY_BASE_DELAY", &c.Retry.BaseDelay); err != nil {
		return err
	}
	if err := envInt("FETCHER_CIRCUIT_BREAKER_THRESHOLD", &c.Retry.CircuitBreakerThreshold); err != nil {
		return err
	}
	if err := envDuration("FETCHER_CIRCUIT_BREAKER_TIMEOUT", &c.Retry.CircuitBreakerTimeout); err != nil {
		return err
	}

	// Cache configuration
	if err := envDuration("FETCHER_CACHE_TTL", &c.Cache.TTL); err != nil {
		return err
	}
	if err := envInt("FETCHER_CACHE_MAX_ENTRIES", &c.Cache.MaxEntries); err != nil {
		return err
	}

	// Metrics configuration
	if enabled := os.Getenv("FETCHER_METRICS_ENABLED"); enabled != "" {
		val, err := strconv.ParseBool(enabled)
		if err != nil {
			return fmt.Errorf("invalid FETCHER_METRICS_ENABLED: %w", err)
		}
		c.Metrics.Enabled = val
	}
	if host := os.Getenv("FETCHER_METRICS_HOST"); host != "" {
		c.Metrics.Host = host
	}
	if err := envInt("FETCHER_METRICS_PORT", &c.Metrics.Port); err != nil {
		return err
	}

	c.loadChainURLsFromEnv()
	return nil
}

// loadChainURLsFromEnv replaces the endpoints of every chain named by a
// FETCHER_<CHAIN>_RPC_URLS variable, adding the chain when it is new.
func (c *Config) loadChainURLsFromEnv() {
	overrides := make(map[string][]string)
	for _, kv := range os.Environ() {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || value == "" {
			continue
		}
		if !strings.HasPrefix(key, constants.EnvPrefix) || !strings.HasSuffix(key, constants.EnvRPCURLsSuffix) {
			continue
		}
		name := strings.TrimSuffix(strings.TrimPrefix(key, constants.EnvPrefix), constants.EnvRPCURLsSuffix)
		if name == "" {
			continue
		}
		if urls := splitURLs(value); len(urls) > 0 {
			overrides[name] = urls
		}
	}
	if len(overrides) == 0 {
		return
	}

	for i := range c.Chains {
		chain := &c.Chains[i]
		if urls, ok := overrides[envChainName(chain.ID)]; ok {
			chain.Endpoints = endpointsFromURLs(chain.ID, urls)
			delete(overrides, envChainName(chain.ID))
		}
	}

	names := make([]string, 0, len(overrides))
	for name := range overrides {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		id := strings.ToLower(name)
		c.Chains = append(c.Chains, ChainConfig{ID: id, Endpoints: endpointsFromURLs(id, overrides[name])})
	}
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	// Validate log configuration
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.Log.Level] {
		return fmt.Errorf("invalid log level %q, must be one of: debug, info, warn, error", c.Log.Level)
	}

	validLogFormats := map[string]bool{
		"json":    true,
		"console": true,
	}
	if !validLogFormats[c.Log.Format] {
		return fmt.Errorf("invalid log format %q, must be one of: json, console", c.Log.Format)
	}

	// Validate RPC configuration
	if c.RPC.Timeout <= 0 {
		return fmt.Errorf("RPC timeout must be positive")
	}
	if _, err := queue.ParseTier(c.RPC.Tier); err != nil {
		return err
	}

	// Validate retry configuration
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	if c.Retry.CircuitBreakerThreshold < 0 {
		return fmt.Errorf("circuit breaker threshold cannot be negative")
	}

	// Validate cache configuration
	if c.Cache.MaxEntries < 0 {
		return fmt.Errorf("cache max entries cannot be negative")
	}

	// Validate metrics configuration
	if c.Metrics.Enabled && (c.Metrics.Port < constants.MinPort || c.Metrics.Port > constants.MaxPort) {
		return fmt.Errorf("metrics port must be between %d and %d", constants.MinPort, constants.MaxPort)
	}

	// Validate chains
	if len(c.Chains) == 0 {
		return fmt.Errorf("at least one chain is required")
	}
	return c.MultiChain().Validate()
}

// MultiChain converts the configuration into the fetcher configuration
func (c *Config) MultiChain() *multichain.Config {
	mc := multichain.DefaultConfig()
	mc.Tier = queue.Tier(strings.ToLower(strings.TrimSpace(c.RPC.Tier)))
	mc.CallTimeout = c.RPC.Timeout
	mc.DetectionTimeout = c.RPC.DetectionTimeout
	mc.HealthCheckInterval = c.RPC.HealthCheckInterval
	mc.Retry = c.Retry
	mc.Cache = cache.Config{TTL: c.Cache.TTL, MaxEntries: c.Cache.MaxEntries}
	mc.CachePruneInterval = c.Cache.PruneInterval
	mc.Fetch = fetch.Config{
		FallbackMaxRange:   c.Fetch.FallbackMaxRange,
		FallbackScanBlocks: c.Fetch.FallbackScanBlocks,
	}
	mc.Search = c.Search
	mc.ProgressBuffer = c.Fetch.ProgressBuffer

	mc.Chains = make([]multichain.ChainConfig, 0, len(c.Chains))
	for _, chain := range c.Chains {
		mc.Chains = append(mc.Chains, multichain.ChainConfig{
			ID:           chain.ID,
			Family:       chain.Family,
			Endpoints:    chain.Endpoints,
			LogChunkSize: chain.LogChunkSize,
			Enabled:      chain.IsEnabled(),
		})
	}
	return mc
}

// Load is a convenience method that loads configuration in the following order:
// 1. Load from file (if provided)
// 2. Load from environment variables (override file)
// 3. Set defaults for anything still missing
// 4. Validate
func Load(configFile string) (*Config, error) {
	cfg := &Config{}

	// Load from file if provided
	if configFile != "" {
		if err := cfg.LoadFromFile(configFile); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	// Load from environment variables (override file)
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	// Set defaults for any missing values
	cfg.SetDefaults()

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// envChainName maps a chain id to its environment form, e.g. base-sepolia -> BASE_SEPOLIA
func envChainName(id string) string {
	return strings.ToUpper(strings.ReplaceAll(id, "-", "_"))
}

func endpointsFromURLs(chainID string, urls []string) []types.ProviderEndpoint {
	endpoints := make([]types.ProviderEndpoint, 0, len(urls))
	for i, u := range urls {
		endpoints = append(endpoints, types.ProviderEndpoint{
			Name:     fmt.Sprintf("%s-%d", chainID, i+1),
			URL:      u,
			Priority: i + 1,
		})
	}
	return endpoints
}

func splitURLs(value string) []string {
	var urls []string
	for _, part := range strings.Split(value, ",") {
		if u := strings.TrimSpace(part); u != "" {
			urls = append(urls, u)
		}
	}
	return urls
}

func envDuration(key string, dst *time.Duration) error {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = d
	return nil
}

func envInt(key string, dst *int) error {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = v
	return nil
}

func envUint(key string, dst *uint64) error {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = v
	return nil
}
