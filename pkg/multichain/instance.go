package multichain

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/0xmhha/chainfetch/pkg/adapters/factory"
	"github.com/0xmhha/chainfetch/pkg/cache"
	"github.com/0xmhha/chainfetch/pkg/resilience"
	"github.com/0xmhha/chainfetch/pkg/types"
	"github.com/0xmhha/chainfetch/pkg/types/chain"
)

// headReader is implemented by legacy clients that can still report the head.
type headReader interface {
	GetBlockNumber(ctx context.Context) (uint64, error)
}

// ChainInstance is one registered chain: either a full chain.Client built
// by the factory or registered by the caller, or a legacy client.
type ChainInstance struct {
	ID string

	client   chain.Client
	legacy   chain.LegacyClient
	cache    *cache.ResponseCache
	nodeInfo *factory.NodeInfo

	createdAt   time.Time
	statusMu    sync.RWMutex
	lastError   error
	lastErrorAt *time.Time

	fetches           atomic.Uint64
	fetchErrors       atomic.Uint64
	transactionsFound atomic.Uint64
	eventsFound       atomic.Uint64

	logger *zap.Logger
}

// newClientInstance wraps a full chain client.
func newClientInstance(id string, client chain.Client, logger *zap.Logger) *ChainInstance {
	return &ChainInstance{
		ID:        id,
		client:    client,
		createdAt: time.Now(),
		logger:    logger.With(zap.String("chain", id)),
	}
}

// newLegacyInstance wraps a client producing the bare transaction slice.
func newLegacyInstance(id string, legacy chain.LegacyClient, logger *zap.Logger) *ChainInstance {
	return &ChainInstance{
		ID:        id,
		legacy:    legacy,
		createdAt: time.Now(),
		logger:    logger.With(zap.String("chain", id)),
	}
}

// Client returns the full chain client, or nil for legacy instances.
func (ci *ChainInstance) Client() chain.Client {
	return ci.client
}

// Head returns the latest block number.
func (ci *ChainInstance) Head(ctx context.Context) (uint64, error) {
	if ci.client != nil {
		return ci.client.GetBlockNumber(ctx)
	}
	if hr, ok := ci.legacy.(headReader); ok {
		return hr.GetBlockNumber(ctx)
	}
	return 0, ErrHeadUnavailable
}

// validateAddress defers to the client; legacy clients accept anything non-empty.
func (ci *ChainInstance) validateAddress(address string) error {
	if ci.client != nil {
		return ci.client.ValidateAddress(address)
	}
	if address == "" {
		return resilience.NonRetryablef("contract address is required")
	}
	return nil
}

// interactions runs one fetch and normalizes its output.
func (ci *ChainInstance) interactions(ctx context.Context, address string, from, to uint64) (*types.FetchResult, error) {
	ci.fetches.Add(1)

	var (
		out interface{}
		err error
	)
	if ci.client != nil {
		out, err = ci.client.GetTransactionsByAddress(ctx, address, from, to)
	} else {
		out, err = ci.legacy.GetTransactionsByAddress(ctx, address, from, to)
	}
	if err != nil {
		ci.fetchErrors.Add(1)
		ci.setError(err)
		return nil, err
	}

	result, err := types.NormalizeFetchOutput(out)
	if err != nil {
		ci.fetchErrors.Add(1)
		return nil, err
	}
	ci.transactionsFound.Add(uint64(len(result.Transactions)))
	ci.eventsFound.Add(uint64(len(result.Events)))
	return result, nil
}

// HealthCheck probes the head and snapshots the provider pool.
func (ci *ChainInstance) HealthCheck(ctx context.Context) *HealthStatus {
	status := &HealthStatus{
		ChainID:   ci.ID,
		Uptime:    time.Since(ci.createdAt),
		CheckedAt: time.Now(),
	}

	if ci.client != nil {
		status.Family = string(ci.client.Family())
	}

	start := time.Now()
	latestHeight, err := ci.Head(ctx)
	status.RPCLatency = time.Since(start)

	switch {
	case errors.Is(err, ErrHeadUnavailable):
		// legacy client without a head: healthy unless its last fetch failed
		status.IsHealthy = ci.LastError() == nil
	case err != nil:
		status.IsHealthy = false
		status.LastError = err.Error()
		now := time.Now()
		status.LastErrorTime = &now
	default:
		status.LatestHeight = latestHeight
		status.IsHealthy = true
	}

	if ci.client != nil {
		status.Providers = ci.client.Health()
	}
	status.State = assessChain(status.IsHealthy, status.Providers)

	if status.LastError == "" {
		ci.statusMu.RLock()
		if ci.lastError != nil {
			status.LastError = ci.lastError.Error()
			status.LastErrorTime = ci.lastErrorAt
		}
		ci.statusMu.RUnlock()
	}

	return status
}

// Info returns the chain info.
func (ci *ChainInstance) Info() *ChainInfo {
	info := &ChainInfo{
		ID:        ci.ID,
		Legacy:    ci.client == nil,
		CreatedAt: ci.createdAt,
	}
	if ci.client != nil {
		info.Family = string(ci.client.Family())
		info.Providers = len(ci.client.Health())
	}
	if ci.nodeInfo != nil {
		info.NodeName = ci.nodeInfo.Name
		info.NodeID = ci.nodeInfo.ChainID
	}
	return info
}

// GetMetrics returns the request counters for the chain.
func (ci *ChainInstance) GetMetrics() *ChainMetrics {
	return &ChainMetrics{
		ChainID:           ci.ID,
		Fetches:           ci.fetches.Load(),
		FetchErrors:       ci.fetchErrors.Load(),
		TransactionsFound: ci.transactionsFound.Load(),
		EventsFound:       ci.eventsFound.Load(),
	}
}

// LastError returns the most recent fetch failure, if any.
func (ci *ChainInstance) LastError() error {
	ci.statusMu.RLock()
	defer ci.statusMu.RUnlock()
	return ci.lastError
}

// close releases the client; legacy clients are owned by the caller.
func (ci *ChainInstance) close() {
	if ci.client != nil {
		ci.client.Close()
	}
}

// setError records a fetch failure.
func (ci *ChainInstance) setError(err error) {
	ci.statusMu.Lock()
	defer ci.statusMu.Unlock()
	ci.lastError = err
	now := time.Now()
	ci.lastErrorAt = &now
}
