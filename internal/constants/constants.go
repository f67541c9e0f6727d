package constants

import "time"

// Environment
const (
	// EnvPrefix prefixes every environment override
	EnvPrefix = "FETCHER_"

	// EnvRPCURLsSuffix completes FETCHER_<CHAIN>_RPC_URLS
	EnvRPCURLsSuffix = "_RPC_URLS"
)

// Metrics Server Constants
const (
	// DefaultMetricsHost is the default metrics listener host
	DefaultMetricsHost = "localhost"

	// DefaultMetricsPort is the default metrics listener port
	DefaultMetricsPort = 9090

	// DefaultMetricsNamespace prefixes every metric name
	DefaultMetricsNamespace = "chainfetch"

	// MinPort is the minimum valid port number
	MinPort = 1

	// MaxPort is the maximum valid port number
	MaxPort = 65535

	// DefaultReadTimeout is the default HTTP read timeout
	DefaultReadTimeout = 15 * time.Second

	// DefaultWriteTimeout is the default HTTP write timeout
	DefaultWriteTimeout = 15 * time.Second

	// DefaultIdleTimeout is the default HTTP idle timeout
	DefaultIdleTimeout = 60 * time.Second

	// DefaultShutdownTimeout is the default graceful shutdown timeout
	DefaultShutdownTimeout = 30 * time.Second
)

// RPC Constants
const (
	// DefaultRPCTimeout bounds a single provider attempt
	DefaultRPCTimeout = 30 * time.Second

	// DefaultDetectionTimeout bounds node family detection
	DefaultDetectionTimeout = 10 * time.Second

	// DefaultTier is the subscription tier used when none is configured
	DefaultTier = "free"
)

// Monitoring Constants
const (
	// DefaultHealthCheckInterval is the default health check interval
	DefaultHealthCheckInterval = 30 * time.Second

	// DefaultCachePruneInterval is how often expired responses are dropped
	DefaultCachePruneInterval = time.Minute

	// DefaultProgressBuffer is the default progress subscription buffer
	DefaultProgressBuffer = 100
)
