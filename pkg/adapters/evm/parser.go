package evm

import (
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/0xmhha/chainfetch/pkg/abi"
	"github.com/0xmhha/chainfetch/pkg/types"
)

// =============================================================================
// Wire shapes
// =============================================================================

// Hashes and addresses are kept as strings so that providers returning
// short or checksummed forms decode without error; quantities use hexutil.

type rpcTransaction struct {
	Hash             string          `json:"hash"`
	From             string          `json:"from"`
	To               *string         `json:"to"`
	Value            *hexutil.Big    `json:"value"`
	Gas              hexutil.Uint64  `json:"gas"`
	GasPrice         *hexutil.Big    `json:"gasPrice"`
	Input            string          `json:"input"`
	Nonce            hexutil.Uint64  `json:"nonce"`
	Type             *hexutil.Uint64 `json:"type"`
	BlockNumber      *hexutil.Big    `json:"blockNumber"`
	BlockHash        *string         `json:"blockHash"`
	TransactionIndex *hexutil.Uint64 `json:"transactionIndex"`
}

type rpcHeader struct {
	Number     hexutil.Uint64 `json:"number"`
	Hash       string         `json:"hash"`
	ParentHash string         `json:"parentHash"`
	Timestamp  hexutil.Uint64 `json:"timestamp"`
}

type rpcBlock struct {
	rpcHeader
	Transactions []rpcTransaction `json:"transactions"`
}

type rpcLog struct {
	Address          string         `json:"address"`
	Topics           []string       `json:"topics"`
	Data             string         `json:"data"`
	BlockNumber      hexutil.Uint64 `json:"blockNumber"`
	TransactionHash  string         `json:"transactionHash"`
	TransactionIndex hexutil.Uint64 `json:"transactionIndex"`
	BlockHash        string         `json:"blockHash"`
	LogIndex         hexutil.Uint64 `json:"logIndex"`
	Removed          bool           `json:"removed"`
}

type rpcReceipt struct {
	TransactionHash   string          `json:"transactionHash"`
	BlockNumber       hexutil.Uint64  `json:"blockNumber"`
	BlockHash         string          `json:"blockHash"`
	Status            *hexutil.Uint64 `json:"status"`
	GasUsed           *hexutil.Big    `json:"gasUsed"`
	EffectiveGasPrice *hexutil.Big    `json:"effectiveGasPrice"`
	ContractAddress   *string         `json:"contractAddress"`
	Logs              []rpcLog        `json:"logs"`
}

// =============================================================================
// Normalization
// =============================================================================

func (l rpcLog) toEvent() types.Event {
	topics := l.Topics
	if topics == nil {
		topics = []string{}
	}
	data := []string{}
	if l.Data != "" {
		data = []string{l.Data}
	}
	return types.Event{
		Address:          strings.ToLower(l.Address),
		Topics:           topics,
		Data:             data,
		BlockNumber:      uint64(l.BlockNumber),
		TransactionHash:  l.TransactionHash,
		TransactionIndex: uint64(l.TransactionIndex),
		BlockHash:        l.BlockHash,
		LogIndex:         uint64(l.LogIndex),
		Removed:          l.Removed,
	}
}

func (tx *rpcTransaction) toTransaction(chain string) *types.Transaction {
	out := &types.Transaction{
		Hash:     tx.Hash,
		From:     strings.ToLower(tx.From),
		Value:    bigString(tx.Value),
		GasPrice: bigString(tx.GasPrice),
		GasUsed:  "0",
		GasLimit: strconv.FormatUint(uint64(tx.Gas), 10),
		Input:    tx.Input,
		Nonce:    uint64(tx.Nonce),
		Chain:    chain,
		Events:   []types.Event{},
	}
	if tx.To != nil {
		out.To = strings.ToLower(*tx.To)
	}
	if tx.Type != nil {
		out.Type = strconv.FormatUint(uint64(*tx.Type), 10)
	} else {
		out.Type = "0"
	}
	if tx.BlockNumber != nil {
		out.BlockNumber = (*big.Int)(tx.BlockNumber).Uint64()
	}
	out.FunctionName = abi.FunctionName(tx.Input)
	return out
}

func (r *rpcReceipt) toReceipt() *types.Receipt {
	logs := make([]types.Event, 0, len(r.Logs))
	for _, l := range r.Logs {
		logs = append(logs, l.toEvent())
	}
	out := &types.Receipt{
		TransactionHash: r.TransactionHash,
		BlockNumber:     uint64(r.BlockNumber),
		BlockHash:       r.BlockHash,
		Status:          receiptStatus(r.Status),
		GasUsed:         bigString(r.GasUsed),
		Logs:            logs,
	}
	if r.EffectiveGasPrice != nil {
		out.EffectiveGasPrice = bigString(r.EffectiveGasPrice)
	}
	return out
}

// applyReceipt merges receipt outcome fields into tx
func applyReceipt(tx *types.Transaction, r *types.Receipt) {
	tx.Status = r.Status
	tx.GasUsed = r.GasUsed
	if r.EffectiveGasPrice != "" {
		tx.GasPrice = r.EffectiveGasPrice
	}
	if r.L1Fee != "" {
		tx.L1Fee = r.L1Fee
	}
	if tx.BlockNumber == 0 {
		tx.BlockNumber = r.BlockNumber
	}
}

// receiptStatus treats a missing status (pre-Byzantium receipts) as success
func receiptStatus(s *hexutil.Uint64) uint64 {
	if s == nil {
		return 1
	}
	return uint64(*s)
}

func bigString(b *hexutil.Big) string {
	if b == nil {
		return "0"
	}
	return (*big.Int)(b).String()
}
