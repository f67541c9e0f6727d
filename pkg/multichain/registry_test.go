package multichain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry(nil)
	logger := zap.NewNop()

	require.NoError(t, r.Register(newClientInstance("starknet", newFakeClient("starknet", 1), logger)))
	require.NoError(t, r.Register(newLegacyInstance("ethereum", &legacyClient{chain: "ethereum"}, logger)))
	assert.ErrorIs(t, r.Register(newClientInstance("ethereum", newFakeClient("ethereum", 1), logger)), ErrChainAlreadyExists)

	assert.Equal(t, 2, r.Count())
	assert.True(t, r.Exists("ethereum"))
	assert.False(t, r.Exists("lisk"))

	list := r.List()
	require.Len(t, list, 2)
	assert.Equal(t, "ethereum", list[0].ID)
	assert.Equal(t, "starknet", list[1].ID)

	instance, err := r.Get("starknet")
	require.NoError(t, err)
	assert.NotNil(t, instance.Client())

	_, err = r.Get("lisk")
	assert.ErrorIs(t, err, ErrChainNotFound)

	removed, err := r.Unregister("ethereum")
	require.NoError(t, err)
	assert.Nil(t, removed.Client())
	assert.Equal(t, 1, r.Count())

	_, err = r.Unregister("ethereum")
	assert.ErrorIs(t, err, ErrChainNotFound)
}

func TestRegistry_IDsIgnoreCase(t *testing.T) {
	r := NewRegistry(nil)
	logger := zap.NewNop()

	require.NoError(t, r.Register(newClientInstance("Lisk", newFakeClient("lisk", 1), logger)))
	assert.ErrorIs(t, r.Register(newClientInstance(" lisk ", newFakeClient("lisk", 1), logger)), ErrChainAlreadyExists)
	assert.ErrorIs(t, r.Register(newClientInstance("  ", newFakeClient("lisk", 1), logger)), ErrInvalidConfig)

	instance, err := r.Get("LISK")
	require.NoError(t, err)
	assert.Equal(t, "Lisk", instance.ID)
	assert.True(t, r.Exists("lisk"))

	_, err = r.Unregister("lisk")
	require.NoError(t, err)
	assert.Equal(t, 0, r.Count())
}

func TestChainError(t *testing.T) {
	cause := errors.New("dial tcp: refused")

	err := NewChainError("ethereum", ErrFetchFailed, cause)
	assert.Equal(t, "chain ethereum: fetch failed: dial tcp: refused", err.Error())
	assert.ErrorIs(t, err, ErrFetchFailed)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrChainNotFound)
	assert.Equal(t, cause, errors.Unwrap(err))

	bare := NewChainError("lisk", ErrChainNotFound, nil)
	assert.Equal(t, "chain lisk: chain not found", bare.Error())
	assert.ErrorIs(t, bare, ErrChainNotFound)

	var chainErr *ChainError
	require.ErrorAs(t, error(bare), &chainErr)
	assert.Equal(t, "lisk", chainErr.ChainID)
}
