package multichain

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/0xmhha/chainfetch/pkg/types"
)

func TestAssessChain(t *testing.T) {
	healthy := types.ProviderHealth{IsHealthy: true}
	failing := types.ProviderHealth{IsHealthy: false}

	tests := []struct {
		name      string
		headOK    bool
		providers []types.ProviderHealth
		want      ChainState
	}{
		{"all providers healthy", true, []types.ProviderHealth{healthy, healthy}, StateOK},
		{"no provider detail", true, nil, StateOK},
		{"one provider failing", true, []types.ProviderHealth{healthy, failing}, StateDegraded},
		{"head unreachable", false, []types.ProviderHealth{healthy}, StateDown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, assessChain(tt.headOK, tt.providers))
		})
	}
}

func TestHealthCheck_State(t *testing.T) {
	client := newFakeClient("ethereum", 10)
	f := newTestFetcher(t, client)

	assert.Equal(t, StateOK, f.HealthCheck(context.Background())["ethereum"].State)

	client.providers = []types.ProviderHealth{
		{Endpoint: types.ProviderEndpoint{Name: "p1"}, IsHealthy: true},
		{Endpoint: types.ProviderEndpoint{Name: "p2"}, IsHealthy: false},
	}
	status := f.HealthCheck(context.Background())["ethereum"]
	assert.True(t, status.IsHealthy)
	assert.Equal(t, StateDegraded, status.State)

	client.headErr = errors.New("head down")
	assert.Equal(t, StateDown, f.HealthCheck(context.Background())["ethereum"].State)
}

func TestHealthChecker_LogsTransitionsOnce(t *testing.T) {
	client := newFakeClient("ethereum", 10)
	f := newTestFetcher(t, client)

	core, logs := observer.New(zapcore.InfoLevel)
	hc := NewHealthChecker(f, 0, zap.New(core))
	ctx := context.Background()

	// a chain that starts healthy is not reported
	states := hc.Check(ctx)
	assert.Equal(t, StateOK, states["ethereum"])
	assert.Equal(t, 0, logs.Len())

	client.providers = []types.ProviderHealth{{IsHealthy: true}, {IsHealthy: false}}
	hc.Check(ctx)
	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, zapcore.InfoLevel, entry.Level)
	assert.Equal(t, int64(1), entry.ContextMap()["unhealthy_providers"])

	// unchanged state stays quiet
	hc.Check(ctx)
	assert.Equal(t, 1, logs.Len())

	client.headErr = errors.New("head down")
	hc.Check(ctx)
	require.Equal(t, 2, logs.Len())
	entry = logs.All()[1]
	assert.Equal(t, zapcore.WarnLevel, entry.Level)
	assert.Equal(t, "head down", entry.ContextMap()["error"])
	assert.Equal(t, string(StateDegraded), entry.ContextMap()["from"])

	client.headErr = nil
	client.providers = nil
	hc.Check(ctx)
	require.Equal(t, 3, logs.Len())
	state, ok := hc.State("ethereum")
	assert.True(t, ok)
	assert.Equal(t, StateOK, state)

	_, ok = hc.State("lisk")
	assert.False(t, ok)
}
