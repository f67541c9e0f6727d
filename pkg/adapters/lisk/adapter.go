// Package lisk provides the adapter for Lisk L2, an OP-stack chain. It is
// the EVM adapter with smaller log windows and L1 data fee decoding.
package lisk

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/0xmhha/chainfetch/pkg/adapters/evm"
	"github.com/0xmhha/chainfetch/pkg/adapters/jsonrpc"
	"github.com/0xmhha/chainfetch/pkg/fetch"
	"github.com/0xmhha/chainfetch/pkg/types"
	"github.com/0xmhha/chainfetch/pkg/types/chain"
)

const (
	// ChainName is the default chain id
	ChainName = "lisk"

	// DefaultLogChunkSize is smaller than on L1 since public Lisk
	// endpoints reject wide eth_getLogs windows.
	DefaultLogChunkSize = 1000
)

// Config holds configuration for the Lisk adapter
type Config struct {
	Chain        string
	LogChunkSize uint64
	Fetch        fetch.Config
}

// opReceipt carries the OP-stack L1 data fee fields
type opReceipt struct {
	L1Fee      *hexutil.Big `json:"l1Fee"`
	L1GasUsed  *hexutil.Big `json:"l1GasUsed"`
	L1GasPrice *hexutil.Big `json:"l1GasPrice"`
}

// NewAdapter creates a Lisk adapter over caller
func NewAdapter(caller *jsonrpc.Caller, config Config, opts ...evm.Option) *evm.Adapter {
	if config.Chain == "" {
		config.Chain = ChainName
	}
	if config.LogChunkSize == 0 {
		config.LogChunkSize = DefaultLogChunkSize
	}
	return evm.NewAdapter(caller, evm.Config{
		Chain:            config.Chain,
		Family:           chain.FamilyLisk,
		LogChunkSize:     config.LogChunkSize,
		Fetch:            config.Fetch,
		ReceiptExtension: DecodeL1Fee,
	}, opts...)
}

// DecodeL1Fee sets r.L1Fee from an OP-stack receipt. l1Fee is used when
// present, otherwise l1GasUsed * l1GasPrice. Receipts without L1 fields
// are left untouched.
func DecodeL1Fee(raw json.RawMessage, r *types.Receipt) error {
	var op opReceipt
	if err := json.Unmarshal(raw, &op); err != nil {
		return fmt.Errorf("decode l1 fee fields: %w", err)
	}
	switch {
	case op.L1Fee != nil:
		r.L1Fee = op.L1Fee.ToInt().String()
	case op.L1GasUsed != nil && op.L1GasPrice != nil:
		fee := new(big.Int).Mul(op.L1GasUsed.ToInt(), op.L1GasPrice.ToInt())
		r.L1Fee = fee.String()
	}
	return nil
}
