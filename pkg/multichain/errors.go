package multichain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the multichain package.
var (
	// Registry errors
	ErrChainNotFound      = errors.New("chain not found")
	ErrChainAlreadyExists = errors.New("chain already exists")

	// Initialization errors
	ErrClientInitFailed  = errors.New("failed to initialize client")
	ErrUnsupportedClient = errors.New("unsupported client type")

	// Configuration errors
	ErrInvalidConfig = errors.New("invalid configuration")

	// Request errors
	ErrRangeTooLarge   = errors.New("block range exceeds tier limit")
	ErrHeadUnavailable = errors.New("client cannot report the latest block")
	ErrHeadFailed      = errors.New("latest block lookup failed")
	ErrFetchFailed     = errors.New("fetch failed")
	ErrShuttingDown    = errors.New("fetcher is shutting down")
)

// ChainError wraps an error with chain context.
type ChainError struct {
	ChainID string
	Op      error
	Err     error
}

// NewChainError creates a new chain error.
func NewChainError(chainID string, op error, err error) *ChainError {
	return &ChainError{
		ChainID: chainID,
		Op:      op,
		Err:     err,
	}
}

// Error implements the error interface.
func (e *ChainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("chain %s: %v: %v", e.ChainID, e.Op, e.Err)
	}
	return fmt.Sprintf("chain %s: %v", e.ChainID, e.Op)
}

// Unwrap returns the underlying error.
func (e *ChainError) Unwrap() error {
	return e.Err
}

// Is checks if the target error matches.
func (e *ChainError) Is(target error) bool {
	return errors.Is(e.Op, target) || errors.Is(e.Err, target)
}
