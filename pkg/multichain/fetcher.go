package multichain

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/0xmhha/chainfetch/pkg/adapters/factory"
	"github.com/0xmhha/chainfetch/pkg/events"
	"github.com/0xmhha/chainfetch/pkg/fetch"
	"github.com/0xmhha/chainfetch/pkg/metrics"
	"github.com/0xmhha/chainfetch/pkg/queue"
	"github.com/0xmhha/chainfetch/pkg/rangesearch"
	"github.com/0xmhha/chainfetch/pkg/resilience"
	"github.com/0xmhha/chainfetch/pkg/types"
	"github.com/0xmhha/chainfetch/pkg/types/chain"
)

// Fetcher is the main entry point for contract interaction fetching.
// It owns the chain clients, their provider pools and the progress bus.
type Fetcher struct {
	config        *Config
	registry      *Registry
	factory       *factory.Factory
	selector      *rangesearch.Selector
	bus           *events.Bus
	healthChecker *HealthChecker
	logger        *zap.Logger
	metrics       *metrics.Metrics

	tierMu sync.RWMutex
	tier   queue.Tier

	ctx        context.Context
	cancelFunc context.CancelFunc
	runningWg  sync.WaitGroup
	mu         sync.Mutex
	isRunning  bool
	isStopped  bool
}

// Option configures a Fetcher
type Option func(*Fetcher)

// WithMetrics sets the metrics collector shared by every chain client
func WithMetrics(m *metrics.Metrics) Option {
	return func(f *Fetcher) { f.metrics = m }
}

// WithBus sets the progress bus; by default the fetcher creates its own
func WithBus(bus *events.Bus) Option {
	return func(f *Fetcher) { f.bus = bus }
}

// NewFetcher builds a client for every enabled chain. A chain whose client
// cannot be built is logged and skipped; NewFetcher fails only when no
// enabled chain could be built.
func NewFetcher(ctx context.Context, config *Config, logger *zap.Logger, opts ...Option) (*Fetcher, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	f := &Fetcher{
		config:   config,
		registry: NewRegistry(logger),
		selector: rangesearch.NewSelector(config.Search),
		logger:   logger.Named("multichain"),
		tier:     config.Tier,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.bus == nil {
		f.bus = events.NewBus(events.WithLogger(f.logger), events.WithMetrics(f.metrics))
	}
	f.factory = factory.NewFactory(logger,
		factory.WithMetrics(f.metrics),
		factory.WithPublisher(f.bus))
	f.healthChecker = NewHealthChecker(f, config.HealthCheckInterval, logger)

	enabled := config.GetEnabledChains()
	var errs []error
	for _, chainCfg := range enabled {
		if err := f.AddChain(ctx, chainCfg); err != nil {
			f.logger.Error("failed to add chain",
				zap.String("chainId", chainCfg.ID),
				zap.Error(err),
			)
			errs = append(errs, err)
		}
	}
	if len(enabled) > 0 && f.registry.Count() == 0 {
		return nil, errors.Join(errs...)
	}

	f.logger.Info("contract interaction fetcher created",
		zap.Int("chains", f.registry.Count()),
		zap.String("tier", string(config.Tier)),
	)
	return f, nil
}

// Start runs the cache prune loops and the health checker until Stop.
func (f *Fetcher) Start(ctx context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.isRunning || f.isStopped {
		return
	}
	f.ctx, f.cancelFunc = context.WithCancel(ctx)
	f.isRunning = true

	for _, instance := range f.registry.List() {
		f.startPruneLocked(instance)
	}
	f.healthChecker.Start(f.ctx)
}

// Stop halts background loops, closes every chain client and the bus.
func (f *Fetcher) Stop(ctx context.Context) error {
	f.mu.Lock()
	if f.isStopped {
		f.mu.Unlock()
		return nil
	}
	wasRunning := f.isRunning
	f.isRunning = false
	f.isStopped = true
	f.mu.Unlock()

	f.logger.Info("stopping contract interaction fetcher")

	if wasRunning {
		f.healthChecker.Stop()
		f.cancelFunc()
	}

	done := make(chan struct{})
	go func() {
		f.runningWg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		f.logger.Warn("fetcher stop timed out")
		err = ctx.Err()
	}

	for _, instance := range f.registry.List() {
		instance.close()
	}
	f.bus.Close()
	return err
}

// AddChain builds a client for config through the factory and registers it.
func (f *Fetcher) AddChain(ctx context.Context, config ChainConfig) error {
	if err := config.Validate(); err != nil {
		return NewChainError(config.ID, ErrInvalidConfig, err)
	}
	if f.registry.Exists(config.ID) {
		return NewChainError(config.ID, ErrChainAlreadyExists, nil)
	}

	fc := f.config.factoryConfig(config)
	fc.Tier = f.Tier()
	result, err := f.factory.Create(ctx, fc)
	if err != nil {
		return NewChainError(config.ID, ErrClientInitFailed, err)
	}

	instance := newClientInstance(config.ID, result.Client, f.logger)
	instance.cache = result.Cache
	instance.nodeInfo = result.NodeInfo
	return f.register(instance)
}

// RegisterClient registers a caller-built client under id. client must be a
// chain.Client or a chain.LegacyClient; an empty id uses client.Chain().
func (f *Fetcher) RegisterClient(id string, client interface{}) error {
	var instance *ChainInstance
	switch c := client.(type) {
	case chain.Client:
		if id == "" {
			id = c.Chain()
		}
		if err := c.SetTier(string(f.Tier())); err != nil {
			return NewChainError(id, ErrClientInitFailed, err)
		}
		instance = newClientInstance(id, c, f.logger)
	case chain.LegacyClient:
		if id == "" {
			id = c.Chain()
		}
		instance = newLegacyInstance(id, c, f.logger)
	default:
		return fmt.Errorf("%w: %T", ErrUnsupportedClient, client)
	}
	if id == "" {
		return NewChainError(id, ErrInvalidConfig, errors.New("chain id is required"))
	}
	return f.register(instance)
}

func (f *Fetcher) register(instance *ChainInstance) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.isStopped {
		instance.close()
		return ErrShuttingDown
	}
	if err := f.registry.Register(instance); err != nil {
		return NewChainError(instance.ID, err, nil)
	}
	if f.isRunning {
		f.startPruneLocked(instance)
	}
	return nil
}

// UnregisterChain removes a chain and closes its client.
func (f *Fetcher) UnregisterChain(chainID string) error {
	instance, err := f.registry.Unregister(chainID)
	if err != nil {
		return NewChainError(chainID, err, nil)
	}
	instance.close()
	return nil
}

func (f *Fetcher) startPruneLocked(instance *ChainInstance) {
	if instance.cache == nil {
		return
	}
	f.runningWg.Add(1)
	go func() {
		defer f.runningWg.Done()
		instance.cache.Run(f.ctx, f.config.CachePruneInterval)
	}()
}

// FetchContractInteractions returns the transactions and events of
// req.Contract on req.Chain in [req.FromBlock, req.ToBlock].
func (f *Fetcher) FetchContractInteractions(ctx context.Context, req Request) (*types.FetchResult, error) {
	instance, err := f.registry.Get(req.Chain)
	if err != nil {
		return nil, NewChainError(req.Chain, err, nil)
	}
	if err := instance.validateAddress(req.Contract); err != nil {
		return nil, NewChainError(req.Chain, ErrFetchFailed, err)
	}

	from, to, err := f.resolveRange(ctx, instance, req.FromBlock, req.ToBlock)
	if err != nil {
		return nil, err
	}

	ctx, requestID := withRequestID(ctx)
	log := f.logger.With(
		zap.String("request_id", requestID),
		zap.String("chain", req.Chain),
		zap.String("contract", req.Contract),
		zap.Uint64("from", from),
		zap.Uint64("to", to),
	)
	log.Debug("fetching contract interactions")

	start := time.Now()
	result, err := instance.interactions(ctx, req.Contract, from, to)
	if err != nil {
		log.Error("contract fetch failed", zap.Error(err))
		return nil, NewChainError(req.Chain, ErrFetchFailed, err)
	}

	log.Info("contract interactions fetched",
		zap.String("method", string(result.Method)),
		zap.Int("transactions", result.Summary.TotalTransactions),
		zap.Duration("duration", time.Since(start)),
	)
	return result, nil
}

// resolveRange turns a request range into concrete bounds and checks it
// against the tier's limit.
func (f *Fetcher) resolveRange(ctx context.Context, instance *ChainInstance, from, to uint64) (uint64, uint64, error) {
	if to == 0 {
		head, err := instance.Head(ctx)
		if err != nil {
			return 0, 0, NewChainError(instance.ID, ErrHeadFailed, err)
		}
		to = head
	}
	if from > to {
		return 0, 0, resilience.NonRetryable(fmt.Errorf("%w: from %d > to %d", fetch.ErrInvalidRange, from, to))
	}

	tier := f.Tier()
	if limit := tier.Limits().MaxBlockRange; to-from >= limit {
		return 0, 0, resilience.NonRetryable(fmt.Errorf("%w: blocks %d-%d requested, %s tier allows %d",
			ErrRangeTooLarge, from, to, tier, limit))
	}
	return from, to, nil
}

// FindActivity searches strategy's ranges, most recent first, and merges
// what they hold. The continuation rule decides after every range whether
// older ranges are worth the calls. A range that fails is reported and
// treated as quiet; the search fails only when every searched range failed.
func (f *Fetcher) FindActivity(ctx context.Context, chainID, contract, strategy string) (*ActivityResult, error) {
	st, err := rangesearch.ParseStrategy(strategy)
	if err != nil {
		return nil, resilience.NonRetryable(err)
	}
	instance, err := f.registry.Get(chainID)
	if err != nil {
		return nil, NewChainError(chainID, err, nil)
	}
	if err := instance.validateAddress(contract); err != nil {
		return nil, NewChainError(chainID, ErrFetchFailed, err)
	}
	head, err := instance.Head(ctx)
	if err != nil {
		return nil, NewChainError(chainID, ErrHeadFailed, err)
	}

	ctx, requestID := withRequestID(ctx)
	log := f.logger.With(
		zap.String("request_id", requestID),
		zap.String("chain", chainID),
		zap.String("contract", contract),
		zap.String("strategy", string(st)),
	)

	ranges := f.selector.GenerateBlockRanges(head, st)
	activity := &ActivityResult{
		Chain:    chainID,
		Contract: contract,
		Strategy: st,
		Head:     head,
		Ranges:   make([]RangeReport, 0, len(ranges)),
		Result:   types.NewFetchResult(types.MethodInteractionBased),
	}

	var lastErr error
	failed := 0
	for i, rng := range ranges {
		f.bus.Publish(types.Progress{
			RequestID: requestID,
			Chain:     chainID,
			Contract:  contract,
			Step:      "range",
			Percent:   float64(i) * 100 / float64(len(ranges)),
			Message:   fmt.Sprintf("searching %s blocks %d-%d", rng.Name, rng.Start, rng.End),
		})

		report := RangeReport{Range: rng}
		found, err := f.searchRange(ctx, instance, contract, rng)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			log.Warn("range search failed", zap.String("range", rng.Name), zap.Error(err))
			report.Error = err.Error()
			lastErr = err
			failed++
		} else {
			report.Transactions = len(found.Transactions)
			activity.Result.Merge(found)
		}
		activity.Ranges = append(activity.Ranges, report)

		if i < len(ranges)-1 && !f.selector.ShouldContinueSearch(report.Transactions, rng, len(activity.Result.Transactions)) {
			activity.StoppedEarly = true
			break
		}
	}

	if failed > 0 && failed == len(activity.Ranges) {
		return nil, NewChainError(chainID, ErrFetchFailed, lastErr)
	}

	activity.Result.SetMethod(types.MethodInteractionBased)
	activity.Result.Recount()

	log.Info("activity search complete",
		zap.Int("ranges_searched", len(activity.Ranges)),
		zap.Bool("stopped_early", activity.StoppedEarly),
		zap.Int("transactions", activity.Result.Summary.TotalTransactions),
	)
	return activity, nil
}

// searchRange fetches rng in windows no larger than the tier allows.
func (f *Fetcher) searchRange(ctx context.Context, instance *ChainInstance, contract string, rng types.BlockRange) (*types.FetchResult, error) {
	limit := f.Tier().Limits().MaxBlockRange
	result := types.NewFetchResult(types.MethodEventBased)

	start := rng.Start
	for {
		end := rng.End
		if end-start+1 > limit {
			end = start + limit - 1
		}
		window, err := instance.interactions(ctx, contract, start, end)
		if err != nil {
			return nil, fmt.Errorf("blocks %d-%d: %w", start, end, err)
		}
		result.Merge(window)
		if end >= rng.End {
			break
		}
		start = end + 1
	}
	return result, nil
}

// SetTier switches every chain client to tier for subsequent requests.
func (f *Fetcher) SetTier(tier string) error {
	t, err := queue.ParseTier(tier)
	if err != nil {
		return resilience.NonRetryable(err)
	}

	f.tierMu.Lock()
	f.tier = t
	f.tierMu.Unlock()

	var errs []error
	for _, instance := range f.registry.List() {
		if instance.client == nil {
			continue
		}
		if err := instance.client.SetTier(string(t)); err != nil {
			errs = append(errs, NewChainError(instance.ID, err, nil))
		}
	}
	f.logger.Info("tier changed", zap.String("tier", string(t)))
	return errors.Join(errs...)
}

// Tier returns the current tier.
func (f *Fetcher) Tier() queue.Tier {
	f.tierMu.RLock()
	defer f.tierMu.RUnlock()
	return f.tier
}

// Subscribe returns a progress subscription; buffer <= 0 uses the configured default.
func (f *Fetcher) Subscribe(buffer int) *events.Subscription {
	if buffer <= 0 {
		buffer = f.config.ProgressBuffer
	}
	return f.bus.Subscribe(buffer)
}

// Unsubscribe cancels a progress subscription.
func (f *Fetcher) Unsubscribe(id events.SubscriptionID) {
	f.bus.Unsubscribe(id)
}

// Bus returns the progress bus.
func (f *Fetcher) Bus() *events.Bus {
	return f.bus
}

// ProviderHealth returns the provider snapshot of a chain. Legacy clients have none.
func (f *Fetcher) ProviderHealth(chainID string) ([]types.ProviderHealth, error) {
	instance, err := f.registry.Get(chainID)
	if err != nil {
		return nil, NewChainError(chainID, err, nil)
	}
	if instance.client == nil {
		return []types.ProviderHealth{}, nil
	}
	return instance.client.Health(), nil
}

// ErrorStats returns the error-handling snapshot of a chain.
func (f *Fetcher) ErrorStats(chainID string) (resilience.ErrorStats, error) {
	instance, err := f.registry.Get(chainID)
	if err != nil {
		return resilience.ErrorStats{}, NewChainError(chainID, err, nil)
	}
	if instance.client == nil {
		return resilience.ErrorStats{}, nil
	}
	return instance.client.ErrorStats(), nil
}

// HealthCheck returns health status for all chains.
func (f *Fetcher) HealthCheck(ctx context.Context) map[string]*HealthStatus {
	instances := f.registry.List()
	statuses := make(map[string]*HealthStatus, len(instances))

	for _, instance := range instances {
		statuses[instance.ID] = instance.HealthCheck(ctx)
	}

	return statuses
}

// GetChain returns a chain instance by ID.
func (f *Fetcher) GetChain(chainID string) (*ChainInstance, error) {
	return f.registry.Get(chainID)
}

// ListChains returns information for all chains.
func (f *Fetcher) ListChains() []*ChainInfo {
	instances := f.registry.List()
	infos := make([]*ChainInfo, 0, len(instances))
	for _, instance := range instances {
		infos = append(infos, instance.Info())
	}
	return infos
}

// GetMetrics returns request counters for all chains.
func (f *Fetcher) GetMetrics() map[string]*ChainMetrics {
	instances := f.registry.List()
	out := make(map[string]*ChainMetrics, len(instances))
	for _, instance := range instances {
		out[instance.ID] = instance.GetMetrics()
	}
	return out
}

// ChainCount returns the number of registered chains.
func (f *Fetcher) ChainCount() int {
	return f.registry.Count()
}

func withRequestID(ctx context.Context) (context.Context, string) {
	if id := types.RequestIDFromContext(ctx); id != "" {
		return ctx, id
	}
	id := uuid.NewString()
	return types.ContextWithRequestID(ctx, id), id
}
