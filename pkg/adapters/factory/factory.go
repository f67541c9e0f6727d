// Package factory builds a chain client from a list of provider endpoints.
// It wires the call path (failover pool, tier queue, response cache) and
// picks the adapter for the chain family, detecting the family from the
// node when it is not configured.
package factory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/0xmhha/chainfetch/pkg/adapters/evm"
	"github.com/0xmhha/chainfetch/pkg/adapters/jsonrpc"
	"github.com/0xmhha/chainfetch/pkg/adapters/lisk"
	"github.com/0xmhha/chainfetch/pkg/adapters/starknet"
	"github.com/0xmhha/chainfetch/pkg/cache"
	"github.com/0xmhha/chainfetch/pkg/fetch"
	"github.com/0xmhha/chainfetch/pkg/metrics"
	"github.com/0xmhha/chainfetch/pkg/provider"
	"github.com/0xmhha/chainfetch/pkg/queue"
	"github.com/0xmhha/chainfetch/pkg/resilience"
	"github.com/0xmhha/chainfetch/pkg/types"
	"github.com/0xmhha/chainfetch/pkg/types/chain"
)

// ErrUnknownFamily is returned for adapter families outside evm, lisk and starknet
var ErrUnknownFamily = errors.New("unknown chain family")

// Config holds configuration for one chain client
type Config struct {
	// Chain is the chain id used to tag results (e.g. "ethereum")
	Chain string

	// Family forces the adapter; empty means detect from the node
	Family chain.Family

	// Endpoints are the providers, tried in ascending priority
	Endpoints []types.ProviderEndpoint

	// Tier is the initial admission tier (default free)
	Tier queue.Tier

	// CallTimeout bounds a single provider attempt (default 30s)
	CallTimeout time.Duration

	// Retry holds retry and circuit breaker settings
	Retry resilience.Config

	// Cache holds response cache settings
	Cache cache.Config

	// Fetch holds block-scan fallback settings
	Fetch fetch.Config

	// LogChunkSize overrides the adapter's log window (EVM and Lisk)
	LogChunkSize uint64

	// DetectionTimeout bounds family detection (default 10s)
	DetectionTimeout time.Duration
}

// DefaultConfig returns default factory configuration
func DefaultConfig(chainName string, endpoints ...types.ProviderEndpoint) *Config {
	return &Config{
		Chain:            chainName,
		Endpoints:        endpoints,
		Tier:             queue.TierFree,
		CallTimeout:      provider.DefaultCallTimeout,
		Retry:            resilience.DefaultConfig(),
		Cache:            cache.DefaultConfig(),
		Fetch:            fetch.DefaultConfig(),
		DetectionTimeout: 10 * time.Second,
	}
}

// Factory creates chain clients
type Factory struct {
	logger    *zap.Logger
	metrics   *metrics.Metrics
	publisher types.Publisher
}

// Option configures a Factory
type Option func(*Factory)

// WithMetrics sets the metrics collector shared by every created client
func WithMetrics(m *metrics.Metrics) Option {
	return func(f *Factory) { f.metrics = m }
}

// WithPublisher sets the progress publisher shared by every created client
func WithPublisher(p types.Publisher) Option {
	return func(f *Factory) { f.publisher = p }
}

// NewFactory creates a new client factory
func NewFactory(logger *zap.Logger, opts ...Option) *Factory {
	if logger == nil {
		logger = zap.NewNop()
	}
	f := &Factory{logger: logger}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// CreateResult holds the result of client creation
type CreateResult struct {
	// Client is the created chain client
	Client chain.Client

	// Caller is the call path the client issues requests through
	Caller *jsonrpc.Caller

	// Cache is the response cache; the owner runs its prune loop
	Cache *cache.ResponseCache

	// NodeInfo is set when the family was detected
	NodeInfo *NodeInfo
}

// Create dials every endpoint and builds the client for config.Family
func (f *Factory) Create(ctx context.Context, config *Config) (*CreateResult, error) {
	if config == nil {
		return nil, fmt.Errorf("factory config is nil")
	}
	if config.Chain == "" {
		return nil, fmt.Errorf("chain name is required")
	}
	if config.Tier == "" {
		config.Tier = queue.TierFree
	}
	if !config.Tier.Valid() {
		return nil, fmt.Errorf("%w: %q", queue.ErrUnknownTier, config.Tier)
	}
	if config.DetectionTimeout == 0 {
		config.DetectionTimeout = 10 * time.Second
	}
	if config.CallTimeout == 0 {
		config.CallTimeout = provider.DefaultCallTimeout
	}

	logger := f.logger.With(zap.String("chain", config.Chain))

	providers, err := dialProviders(ctx, config.Endpoints, config.CallTimeout, logger)
	if err != nil {
		return nil, err
	}

	handler := resilience.NewHandler(config.Retry,
		resilience.WithLogger(logger),
		resilience.WithMetrics(f.metrics))
	pool, err := provider.NewPool(
		provider.Config{Chain: config.Chain, CallTimeout: config.CallTimeout, Retries: -1},
		providers,
		handler,
		provider.WithLogger(logger),
		provider.WithMetrics(f.metrics))
	if err != nil {
		closeProviders(providers)
		return nil, err
	}

	responses := cache.NewResponseCache(config.Cache)
	caller := jsonrpc.New(config.Chain, pool,
		queue.New(config.Tier, queue.WithLogger(logger), queue.WithMetrics(f.metrics, config.Chain)),
		responses,
		jsonrpc.WithLogger(logger),
		jsonrpc.WithMetrics(f.metrics))

	result := &CreateResult{Caller: caller, Cache: responses}

	family := config.Family
	if family == "" {
		detectCtx, cancel := context.WithTimeout(ctx, config.DetectionTimeout)
		info, err := Detect(detectCtx, caller)
		cancel()
		if err != nil {
			logger.Warn("Family detection failed, using generic EVM adapter", zap.Error(err))
			info = &NodeInfo{Family: chain.FamilyEVM}
		}
		result.NodeInfo = info
		family = info.Family
	}

	client, err := f.createByFamily(caller, config, family, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}
	result.Client = client

	logger.Info("Created chain client",
		zap.String("family", string(family)),
		zap.String("tier", string(config.Tier)),
		zap.Int("providers", len(providers)))
	return result, nil
}

// createByFamily creates the adapter for family
func (f *Factory) createByFamily(caller *jsonrpc.Caller, config *Config, family chain.Family, logger *zap.Logger) (chain.Client, error) {
	switch family {
	case chain.FamilyEVM:
		return evm.NewAdapter(caller, evm.Config{
			Chain:        config.Chain,
			Family:       chain.FamilyEVM,
			LogChunkSize: config.LogChunkSize,
			Fetch:        config.Fetch,
		}, f.evmOptions(logger)...), nil

	case chain.FamilyLisk:
		return lisk.NewAdapter(caller, lisk.Config{
			Chain:        config.Chain,
			LogChunkSize: config.LogChunkSize,
			Fetch:        config.Fetch,
		}, f.evmOptions(logger)...), nil

	case chain.FamilyStarknet:
		return starknet.NewAdapter(caller, starknet.Config{
			Chain: config.Chain,
			Fetch: config.Fetch,
		},
			starknet.WithLogger(logger),
			starknet.WithMetrics(f.metrics),
			starknet.WithPublisher(f.publisher)), nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFamily, family)
	}
}

func (f *Factory) evmOptions(logger *zap.Logger) []evm.Option {
	return []evm.Option{
		evm.WithLogger(logger),
		evm.WithMetrics(f.metrics),
		evm.WithPublisher(f.publisher),
	}
}

// ParseFamily parses a family name; the empty string means detect
func ParseFamily(s string) (chain.Family, error) {
	switch f := chain.Family(s); f {
	case "", chain.FamilyEVM, chain.FamilyLisk, chain.FamilyStarknet:
		return f, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFamily, s)
	}
}

// =============================================================================
// Convenience functions
// =============================================================================

// CreateClient is a convenience function that creates a client with default settings
func CreateClient(ctx context.Context, chainName string, endpoints []types.ProviderEndpoint, logger *zap.Logger) (chain.Client, error) {
	result, err := NewFactory(logger).Create(ctx, DefaultConfig(chainName, endpoints...))
	if err != nil {
		return nil, err
	}
	return result.Client, nil
}
