package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUniqueTransactionHashes(t *testing.T) {
	events := []Event{
		{TransactionHash: "0xaa", LogIndex: 0},
		{TransactionHash: "0xBB", LogIndex: 1},
		{TransactionHash: "0xAA", LogIndex: 2},
		{TransactionHash: "", LogIndex: 3},
	}

	hashes := UniqueTransactionHashes(events)
	assert.Equal(t, []string{"0xaa", "0xBB"}, hashes)
}

func TestAttachEvents(t *testing.T) {
	txs := []*Transaction{{Hash: "0x01"}, {Hash: "0x02"}, {Hash: "0x03"}}
	events := []Event{
		{TransactionHash: "0x01", LogIndex: 0},
		{TransactionHash: "0x02", LogIndex: 1},
		{TransactionHash: "0x0001", LogIndex: 2},
	}

	AttachEvents(txs, events)

	require.Len(t, txs[0].Events, 2)
	assert.Equal(t, uint64(0), txs[0].Events[0].LogIndex)
	assert.Equal(t, uint64(2), txs[0].Events[1].LogIndex)
	require.Len(t, txs[1].Events, 1)
	assert.NotNil(t, txs[2].Events)
	assert.Empty(t, txs[2].Events)
}

func TestNormalizeHash(t *testing.T) {
	assert.Equal(t, "0xabc", NormalizeHash("0x0ABC"))
	assert.Equal(t, "0x0", NormalizeHash("0x000"))
	assert.Equal(t, "abc", NormalizeHash(" ABC "))
}

func TestFetchResult_Merge(t *testing.T) {
	a := NewFetchResult(MethodEventBased)
	a.Transactions = []*Transaction{{Hash: "0x1", Source: SourceEvent}}
	a.Events = []Event{{TransactionHash: "0x1", BlockNumber: 10, LogIndex: 0}}

	b := NewFetchResult(MethodFallbackBlockScan)
	b.Transactions = []*Transaction{{Hash: "0x1", Source: SourceEvent}, {Hash: "0x2", Source: SourceDirect}}
	b.Events = []Event{{TransactionHash: "0x1", BlockNumber: 10, LogIndex: 0}}
	b.Summary.BlocksScanned = 30
	b.Summary.FallbackReason = "boom"

	a.Merge(b)

	assert.Len(t, a.Transactions, 2)
	assert.Len(t, a.Events, 1)
	assert.Equal(t, 2, a.Summary.TotalTransactions)
	assert.Equal(t, 1, a.Summary.EventTransactions)
	assert.Equal(t, 1, a.Summary.DirectTransactions)
	assert.Equal(t, 30, a.Summary.BlocksScanned)
	assert.Equal(t, "boom", a.Summary.FallbackReason)
}

func TestNormalizeFetchOutput_Structured(t *testing.T) {
	in := &FetchResult{
		Transactions: []*Transaction{{Hash: "0x1", Source: SourceEvent}},
		Method:       MethodEventBased,
	}

	out, err := NormalizeFetchOutput(in)
	require.NoError(t, err)
	assert.Same(t, in, out)
	assert.NotNil(t, out.Events)
	assert.Equal(t, 1, out.Summary.TotalTransactions)
	assert.Equal(t, MethodEventBased, out.Summary.Method)
}

func TestNormalizeFetchOutput_Legacy(t *testing.T) {
	legacy := []*Transaction{
		{Hash: "0x1", Events: []Event{{TransactionHash: "0x1"}, {TransactionHash: "0x1", LogIndex: 1}}},
		{Hash: "0x2"},
		nil,
		{Hash: ""},
	}

	out, err := NormalizeFetchOutput(legacy)
	require.NoError(t, err)
	assert.Equal(t, MethodInteractionBased, out.Method)
	assert.Equal(t, 2, out.Summary.TotalTransactions)
	assert.Equal(t, 2, out.Summary.TotalEvents)
	assert.Equal(t, 1, out.Summary.EventTransactions)
	assert.Equal(t, 1, out.Summary.DirectTransactions)
}

func TestNormalizeFetchOutput_Unsupported(t *testing.T) {
	_, err := NormalizeFetchOutput(42)
	assert.Error(t, err)
}
