package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0xmhha/chainfetch/pkg/multichain"
	"github.com/0xmhha/chainfetch/pkg/queue"
	"github.com/0xmhha/chainfetch/pkg/resilience"
	"github.com/0xmhha/chainfetch/pkg/types"
)

type fakeSource struct {
	statuses map[string]*multichain.HealthStatus
}

func (f *fakeSource) HealthCheck(context.Context) map[string]*multichain.HealthStatus {
	return f.statuses
}

func (f *fakeSource) ListChains() []*multichain.ChainInfo {
	return []*multichain.ChainInfo{{ID: "ethereum", Family: "evm", Providers: 2}}
}

func (f *fakeSource) ProviderHealth(chainID string) ([]types.ProviderHealth, error) {
	if chainID != "ethereum" {
		return nil, multichain.NewChainError(chainID, multichain.ErrChainNotFound, nil)
	}
	return []types.ProviderHealth{
		{Endpoint: types.ProviderEndpoint{Name: "p1"}, IsHealthy: true, RequestCount: 3, SuccessCount: 3},
		{Endpoint: types.ProviderEndpoint{Name: "p2"}, IsHealthy: false, RequestCount: 2, FailureCount: 2},
	}, nil
}

func (f *fakeSource) ErrorStats(chainID string) (resilience.ErrorStats, error) {
	return resilience.ErrorStats{
		TotalErrors:  2,
		ErrorsByType: map[resilience.Kind]uint64{resilience.KindNetwork: 2},
	}, nil
}

func (f *fakeSource) Tier() queue.Tier { return queue.TierPro }

func newTestServer(t *testing.T, statuses map[string]*multichain.HealthStatus) *Server {
	t.Helper()
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_requests_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	s, err := NewServer(nil, &fakeSource{statuses: statuses}, reg, nil)
	require.NoError(t, err)
	return s
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name     string
		statuses map[string]*multichain.HealthStatus
		code     int
		status   string
	}{
		{
			name: "all healthy",
			statuses: map[string]*multichain.HealthStatus{
				"ethereum": {ChainID: "ethereum", IsHealthy: true},
				"lisk":     {ChainID: "lisk", IsHealthy: true},
			},
			code:   http.StatusOK,
			status: StatusOK,
		},
		{
			name: "one down",
			statuses: map[string]*multichain.HealthStatus{
				"ethereum": {ChainID: "ethereum", IsHealthy: true},
				"lisk":     {ChainID: "lisk", LastError: "timeout"},
			},
			code:   http.StatusOK,
			status: StatusDegraded,
		},
		{
			name: "provider failing",
			statuses: map[string]*multichain.HealthStatus{
				"ethereum": {ChainID: "ethereum", IsHealthy: true, State: multichain.StateDegraded},
			},
			code:   http.StatusOK,
			status: StatusDegraded,
		},
		{
			name: "all down",
			statuses: map[string]*multichain.HealthStatus{
				"lisk": {ChainID: "lisk", LastError: "timeout"},
			},
			code:   http.StatusServiceUnavailable,
			status: StatusDown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := get(t, newTestServer(t, tt.statuses), "/health")
			assert.Equal(t, tt.code, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

			var resp HealthResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.status, resp.Status)
			assert.Equal(t, "pro", resp.Tier)
			assert.Equal(t, len(tt.statuses), resp.Total)
			assert.Len(t, resp.Chains, len(tt.statuses))
		})
	}
}

func TestProviders(t *testing.T) {
	s := newTestServer(t, nil)

	rec := get(t, s, "/chains/ethereum/providers")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ProvidersResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ethereum", resp.Chain)
	require.Len(t, resp.Providers, 2)
	assert.False(t, resp.Providers[1].IsHealthy)
	assert.Equal(t, uint64(2), resp.Errors.ErrorsByType[resilience.KindNetwork])

	rec = get(t, s, "/chains/solana/providers")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "chain not found")
}

func TestChainsAndMetrics(t *testing.T) {
	s := newTestServer(t, nil)

	rec := get(t, s, "/chains")
	require.Equal(t, http.StatusOK, rec.Code)
	var chains []multichain.ChainInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &chains))
	require.Len(t, chains, 1)
	assert.Equal(t, "evm", chains[0].Family)

	rec = get(t, s, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "test_requests_total 1"))
}

func TestNewServer_Validation(t *testing.T) {
	_, err := NewServer(&Config{Port: 0, ShutdownTimeout: 1}, &fakeSource{}, nil, nil)
	assert.Error(t, err)

	_, err = NewServer(nil, nil, nil, nil)
	assert.Error(t, err)

	assert.Equal(t, "localhost:9090", DefaultConfig().Address())
}
