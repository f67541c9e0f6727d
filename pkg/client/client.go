package client

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"

	"github.com/0xmhha/chainfetch/pkg/types"
)

// Client is a JSON-RPC connection to one provider endpoint
type Client struct {
	rpcClient *rpc.Client
	endpoint  types.ProviderEndpoint
	logger    *zap.Logger
	nextID    atomic.Uint64
}

// Config holds client configuration
type Config struct {
	Endpoint types.ProviderEndpoint
	// Timeout bounds dialing and, through the HTTP transport, each response.
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// NewClient dials the endpoint. HTTP endpoints connect lazily, so an
// unreachable provider is only detected on the first call.
func NewClient(ctx context.Context, cfg *Config) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.Endpoint.URL == "" {
		return nil, fmt.Errorf("endpoint %q has no url", cfg.Endpoint.Name)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = newHTTPClient(cfg.Timeout)
	}

	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	rpcClient, err := rpc.DialOptions(ctx, cfg.Endpoint.URL, rpc.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC endpoint %s: %w", cfg.Endpoint.Name, err)
	}

	logger.Debug("dialed RPC endpoint",
		zap.String("provider", cfg.Endpoint.Name),
		zap.Int("priority", cfg.Endpoint.Priority))

	return NewFromRPC(rpcClient, cfg.Endpoint, logger), nil
}

// NewFromRPC wraps an existing rpc.Client
func NewFromRPC(rpcClient *rpc.Client, endpoint types.ProviderEndpoint, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		rpcClient: rpcClient,
		endpoint:  endpoint,
		logger:    logger,
	}
}

// Call invokes method and decodes the result into result
func (c *Client) Call(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	job := types.RPCJob{
		Method:    method,
		Params:    args,
		RequestID: c.nextID.Add(1),
	}

	start := time.Now()
	err := c.rpcClient.CallContext(ctx, result, job.Method, job.Params...)
	if err != nil {
		c.logger.Debug("rpc call failed",
			zap.String("provider", c.endpoint.Name),
			zap.String("method", job.Method),
			zap.Uint64("request_id", job.RequestID),
			zap.Duration("latency", time.Since(start)),
			zap.Error(err))
		return fmt.Errorf("%s: %w", method, err)
	}

	c.logger.Debug("rpc call",
		zap.String("provider", c.endpoint.Name),
		zap.String("method", job.Method),
		zap.Uint64("request_id", job.RequestID),
		zap.Duration("latency", time.Since(start)))
	return nil
}

// Endpoint returns the endpoint this client is connected to
func (c *Client) Endpoint() types.ProviderEndpoint {
	return c.endpoint
}

// RequestCount returns how many calls have been issued
func (c *Client) RequestCount() uint64 {
	return c.nextID.Load()
}

// RPCClient returns the underlying rpc.Client
func (c *Client) RPCClient() *rpc.Client {
	return c.rpcClient
}

// Close closes the client connection
func (c *Client) Close() {
	if c.rpcClient != nil {
		c.rpcClient.Close()
	}
}

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   20,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: timeout,
	}
	return &http.Client{Transport: transport}
}
