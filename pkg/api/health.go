package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/0xmhha/chainfetch/pkg/multichain"
	"github.com/0xmhha/chainfetch/pkg/resilience"
	"github.com/0xmhha/chainfetch/pkg/types"
)

// Health status values
const (
	StatusOK       = "ok"
	StatusDegraded = "degraded"
	StatusDown     = "down"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string                              `json:"status"`
	Timestamp string                              `json:"timestamp"`
	Uptime    string                              `json:"uptime"`
	Tier      string                              `json:"tier"`
	Healthy   int                                 `json:"healthy"`
	Total     int                                 `json:"total"`
	Chains    map[string]*multichain.HealthStatus `json:"chains"`
}

// ProvidersResponse is the provider and error view of one chain
type ProvidersResponse struct {
	Chain     string                 `json:"chain"`
	Providers []types.ProviderHealth `json:"providers"`
	Errors    resilience.ErrorStats  `json:"errors"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// handleHealth reports every chain. It answers 503 only when no chain is
// healthy; a chain running on a subset of its providers makes the whole
// report degraded.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	statuses := s.source.HealthCheck(r.Context())

	response := HealthResponse{
		Timestamp: time.Now().Format(time.RFC3339),
		Uptime:    time.Since(s.startedAt).Round(time.Second).String(),
		Tier:      string(s.source.Tier()),
		Total:     len(statuses),
		Chains:    statuses,
	}
	degraded := false
	for _, status := range statuses {
		if status.IsHealthy {
			response.Healthy++
		}
		if status.State == multichain.StateDegraded {
			degraded = true
		}
	}

	code := http.StatusOK
	switch {
	case response.Healthy == response.Total && !degraded:
		response.Status = StatusOK
	case response.Healthy > 0:
		response.Status = StatusDegraded
	default:
		response.Status = StatusDown
		code = http.StatusServiceUnavailable
	}

	s.writeJSON(w, code, response)
}

func (s *Server) handleChains(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.source.ListChains())
}

func (s *Server) handleProviders(w http.ResponseWriter, r *http.Request) {
	chainID := chi.URLParam(r, "chain")

	providers, err := s.source.ProviderHealth(chainID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	stats, err := s.source.ErrorStats(chainID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, ProvidersResponse{
		Chain:     chainID,
		Providers: providers,
		Errors:    stats,
	})
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	if errors.Is(err, multichain.ErrChainNotFound) {
		code = http.StatusNotFound
	}
	s.writeJSON(w, code, errorResponse{Error: err.Error()})
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("failed to write response", zap.Error(err))
	}
}
