package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/ethereum/go-ethereum/rpc"
)

// Kind classifies failures for retry, failover and statistics.
type Kind string

const (
	KindNetwork            Kind = "network"
	KindTimeout            Kind = "timeout"
	KindRPCProtocol        Kind = "rpc_protocol"
	KindNonRetryable       Kind = "non_retryable"
	KindCircuitOpen        Kind = "circuit_open"
	KindAllProvidersFailed Kind = "all_providers_failed"
	KindCanceled           Kind = "canceled"
)

// Sentinel errors; an *Error of the matching Kind satisfies errors.Is against them.
var (
	ErrNetwork            = errors.New("network error")
	ErrTimeout            = errors.New("request timed out")
	ErrRPCProtocol        = errors.New("json-rpc error")
	ErrNonRetryable       = errors.New("non-retryable error")
	ErrCircuitOpen        = errors.New("circuit breaker is open")
	ErrAllProvidersFailed = errors.New("all providers failed")
)

var kindSentinels = map[Kind]error{
	KindNetwork:            ErrNetwork,
	KindTimeout:            ErrTimeout,
	KindRPCProtocol:        ErrRPCProtocol,
	KindNonRetryable:       ErrNonRetryable,
	KindCircuitOpen:        ErrCircuitOpen,
	KindAllProvidersFailed: ErrAllProvidersFailed,
}

// Error carries the classification together with where the failure happened.
type Error struct {
	Kind     Kind
	Op       string
	Chain    string
	Provider string
	Err      error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Op != "" {
		b.WriteString(" op=")
		b.WriteString(e.Op)
	}
	if e.Chain != "" {
		b.WriteString(" chain=")
		b.WriteString(e.Chain)
	}
	if e.Provider != "" {
		b.WriteString(" provider=")
		b.WriteString(e.Provider)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel for e.Kind.
func (e *Error) Is(target error) bool {
	sentinel, ok := kindSentinels[e.Kind]
	return ok && sentinel == target
}

// NonRetryable marks err so that retry and failover stop immediately.
func NonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindNonRetryable, Err: err}
}

// NonRetryablef formats a non-retryable error.
func NonRetryablef(format string, args ...interface{}) error {
	return NonRetryable(fmt.Errorf(format, args...))
}

// Classify maps an error onto the taxonomy.
func Classify(err error) Kind {
	if err == nil {
		return ""
	}

	var classified *Error
	if errors.As(err, &classified) {
		return classified.Kind
	}

	switch {
	case errors.Is(err, ErrCircuitOpen):
		return KindCircuitOpen
	case errors.Is(err, ErrNonRetryable):
		return KindNonRetryable
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, context.Canceled):
		return KindCanceled
	}

	lower := strings.ToLower(err.Error())
	if containsAny(lower, nonRetryableTokens) {
		return KindNonRetryable
	}

	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return classifyJSONRPCCode(rpcErr.ErrorCode())
	}

	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) {
		return KindNetwork
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return KindTimeout
		}
		return KindNetwork
	}

	if containsAny(lower, timeoutTokens) {
		return KindTimeout
	}
	return KindNetwork
}

// IsRetryable reports whether another attempt could succeed.
func IsRetryable(err error) bool {
	switch Classify(err) {
	case KindNonRetryable, KindCanceled, "":
		return false
	default:
		return true
	}
}

func classifyJSONRPCCode(code int) Kind {
	switch code {
	case -32600, -32601, -32602:
		// invalid request, method not found, invalid params
		return KindNonRetryable
	case 20, 24, 29:
		// starknet: contract, block or transaction hash not found
		return KindNonRetryable
	}
	return KindRPCProtocol
}

func containsAny(msg string, tokens []string) bool {
	for _, token := range tokens {
		if strings.Contains(msg, token) {
			return true
		}
	}
	return false
}

var nonRetryableTokens = []string{
	"invalid address",
	"invalid argument",
	"invalid contract address",
}

var timeoutTokens = []string{
	"timeout",
	"timed out",
	"deadline exceeded",
}
