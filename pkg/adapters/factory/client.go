package factory

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/0xmhha/chainfetch/pkg/client"
	"github.com/0xmhha/chainfetch/pkg/provider"
	"github.com/0xmhha/chainfetch/pkg/types"
)

// dialProviders connects to every endpoint. Unnamed endpoints are named
// after their position so breaker keys stay distinct.
func dialProviders(ctx context.Context, endpoints []types.ProviderEndpoint, timeout time.Duration, logger *zap.Logger) ([]*provider.Provider, error) {
	if len(endpoints) == 0 {
		return nil, provider.ErrNoProviders
	}

	providers := make([]*provider.Provider, 0, len(endpoints))
	seen := make(map[string]struct{}, len(endpoints))
	for i, ep := range endpoints {
		if ep.Name == "" {
			ep.Name = "provider-" + strconv.Itoa(i+1)
		}
		if _, dup := seen[ep.Name]; dup {
			closeProviders(providers)
			return nil, fmt.Errorf("duplicate provider name %q", ep.Name)
		}
		seen[ep.Name] = struct{}{}

		c, err := client.NewClient(ctx, &client.Config{
			Endpoint: ep,
			Timeout:  timeout,
			Logger:   logger,
		})
		if err != nil {
			closeProviders(providers)
			return nil, err
		}
		providers = append(providers, &provider.Provider{Endpoint: ep, Caller: c})
	}
	return providers, nil
}

func closeProviders(providers []*provider.Provider) {
	for _, p := range providers {
		if c, ok := p.Caller.(*client.Client); ok {
			c.Close()
		}
	}
}
