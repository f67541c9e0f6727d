package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/stretchr/testify/assert"
)

type codedError struct {
	code int
	msg  string
}

func (e codedError) Error() string  { return e.msg }
func (e codedError) ErrorCode() int { return e.code }

var _ rpc.Error = codedError{}

type timeoutNetError struct{}

func (timeoutNetError) Error() string   { return "i/o timeout" }
func (timeoutNetError) Timeout() bool   { return true }
func (timeoutNetError) Temporary() bool { return true }

var _ net.Error = timeoutNetError{}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, ""},
		{"typed", &Error{Kind: KindAllProvidersFailed}, KindAllProvidersFailed},
		{"wrapped typed", fmt.Errorf("outer: %w", &Error{Kind: KindTimeout}), KindTimeout},
		{"sentinel circuit", fmt.Errorf("x: %w", ErrCircuitOpen), KindCircuitOpen},
		{"deadline", context.DeadlineExceeded, KindTimeout},
		{"canceled", context.Canceled, KindCanceled},
		{"invalid params code", codedError{code: -32602, msg: "missing value"}, KindNonRetryable},
		{"method not found", codedError{code: -32601, msg: "the method does not exist"}, KindNonRetryable},
		{"starknet tx not found", codedError{code: 29, msg: "Transaction hash not found"}, KindNonRetryable},
		{"server error code", codedError{code: -32000, msg: "header not found"}, KindRPCProtocol},
		{"invalid address message", errors.New("Invalid address supplied"), KindNonRetryable},
		{"invalid argument message", codedError{code: -32000, msg: "invalid argument 0: hex string has length 3"}, KindNonRetryable},
		{"http error", rpc.HTTPError{StatusCode: 429, Status: "429 Too Many Requests"}, KindNetwork},
		{"net timeout", timeoutNetError{}, KindTimeout},
		{"timeout message", errors.New("request timed out"), KindTimeout},
		{"unknown", errors.New("connection refused"), KindNetwork},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestError_IsAndUnwrap(t *testing.T) {
	cause := errors.New("last provider said no")
	err := &Error{Kind: KindAllProvidersFailed, Op: "eth_getLogs", Chain: "ethereum", Err: cause}

	assert.ErrorIs(t, err, ErrAllProvidersFailed)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrTimeout)
	assert.Contains(t, err.Error(), "eth_getLogs")
	assert.Contains(t, err.Error(), "ethereum")
	assert.Contains(t, err.Error(), "last provider said no")
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(errors.New("connection refused")))
	assert.True(t, IsRetryable(ErrCircuitOpen))
	assert.False(t, IsRetryable(NonRetryable(errors.New("bad"))))
	assert.False(t, IsRetryable(context.Canceled))
	assert.False(t, IsRetryable(nil))
	assert.Nil(t, NonRetryable(nil))
}
