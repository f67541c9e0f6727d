package multichain

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/0xmhha/chainfetch/pkg/types"
)

// ChainState is the verdict of one health check.
type ChainState string

const (
	// StateOK means the head answered and every provider is healthy.
	StateOK ChainState = "ok"
	// StateDegraded means the head answered but some providers are failing,
	// so calls are running on fewer endpoints than configured.
	StateDegraded ChainState = "degraded"
	// StateDown means the head could not be read through any provider.
	StateDown ChainState = "down"
)

// assessChain derives the state from a head probe and the provider snapshot.
func assessChain(headOK bool, providers []types.ProviderHealth) ChainState {
	if !headOK {
		return StateDown
	}
	for _, p := range providers {
		if !p.IsHealthy {
			return StateDegraded
		}
	}
	return StateOK
}

// HealthChecker probes every chain on an interval and logs state changes.
// A chain that stays in one state is reported once.
type HealthChecker struct {
	fetcher  *Fetcher
	interval time.Duration
	logger   *zap.Logger

	mu     sync.Mutex
	states map[string]ChainState

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewHealthChecker returns a checker for fetcher's chains.
func NewHealthChecker(fetcher *Fetcher, interval time.Duration, logger *zap.Logger) *HealthChecker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthChecker{
		fetcher:  fetcher,
		interval: interval,
		logger:   logger.Named("health"),
		states:   make(map[string]ChainState),
	}
}

// Start runs the probe loop until ctx ends or Stop is called.
func (hc *HealthChecker) Start(ctx context.Context) {
	ctx, hc.cancel = context.WithCancel(ctx)

	hc.wg.Add(1)
	go func() {
		defer hc.wg.Done()
		ticker := time.NewTicker(hc.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				checkCtx, cancel := context.WithTimeout(ctx, hc.interval)
				hc.Check(checkCtx)
				cancel()
			}
		}
	}()
}

// Stop ends the loop and waits for an in-flight check.
func (hc *HealthChecker) Stop() {
	if hc.cancel != nil {
		hc.cancel()
	}
	hc.wg.Wait()
}

// Check probes every chain once and returns the states. Transitions are
// logged: going down is a warning, anything else is info.
func (hc *HealthChecker) Check(ctx context.Context) map[string]ChainState {
	statuses := hc.fetcher.HealthCheck(ctx)
	current := make(map[string]ChainState, len(statuses))

	hc.mu.Lock()
	defer hc.mu.Unlock()

	for chainID, status := range statuses {
		current[chainID] = status.State
		previous, seen := hc.states[chainID]
		if seen && previous == status.State {
			continue
		}
		if !seen && status.State == StateOK {
			continue
		}

		fields := []zap.Field{
			zap.String("chain", chainID),
			zap.String("from", string(previous)),
			zap.String("to", string(status.State)),
			zap.Int("unhealthy_providers", unhealthyProviders(status.Providers)),
			zap.Int("providers", len(status.Providers)),
		}
		if status.LastError != "" {
			fields = append(fields, zap.String("error", status.LastError))
		}
		if status.State == StateDown {
			hc.logger.Warn("Chain is down", fields...)
		} else {
			hc.logger.Info("Chain health changed", fields...)
		}
	}
	// chains removed since the last round are forgotten
	hc.states = current

	return current
}

// State returns the last recorded state of chainID.
func (hc *HealthChecker) State(chainID string) (ChainState, bool) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	s, ok := hc.states[chainID]
	return s, ok
}

func unhealthyProviders(providers []types.ProviderHealth) int {
	n := 0
	for _, p := range providers {
		if !p.IsHealthy {
			n++
		}
	}
	return n
}
