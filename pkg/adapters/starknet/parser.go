package starknet

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/0xmhha/chainfetch/pkg/types"
)

// feltPrime is the Stark field modulus 2^251 + 17*2^192 + 1
var feltPrime = func() *big.Int {
	p := new(big.Int).Lsh(big.NewInt(1), 251)
	p.Add(p, new(big.Int).Mul(big.NewInt(17), new(big.Int).Lsh(big.NewInt(1), 192)))
	return p.Add(p, big.NewInt(1))
}()

// parseFelt parses a 0x-prefixed field element
func parseFelt(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if len(s) < 3 || len(s) > 66 || (s[:2] != "0x" && s[:2] != "0X") {
		return nil, fmt.Errorf("invalid felt %q", s)
	}
	v, ok := new(big.Int).SetString(s[2:], 16)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("invalid felt %q", s)
	}
	if v.Cmp(feltPrime) >= 0 {
		return nil, fmt.Errorf("felt %q exceeds field", s)
	}
	return v, nil
}

// sameFelt compares two felts numerically, so that zero-padded and
// unpadded forms of one address are equal.
func sameFelt(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	x, errA := parseFelt(a)
	y, errB := parseFelt(b)
	if errA != nil || errB != nil {
		return types.NormalizeHash(a) == types.NormalizeHash(b)
	}
	return x.Cmp(y) == 0
}

// feltDecimal renders a felt as a decimal string, "0" when absent or malformed
func feltDecimal(s string) string {
	v, err := parseFelt(s)
	if err != nil {
		return "0"
	}
	return v.String()
}

func feltUint64(s string) uint64 {
	v, err := parseFelt(s)
	if err != nil || !v.IsUint64() {
		return 0
	}
	return v.Uint64()
}

// =============================================================================
// Wire shapes
// =============================================================================

type blockID struct {
	BlockNumber uint64 `json:"block_number"`
}

type eventFilter struct {
	FromBlock         blockID    `json:"from_block"`
	ToBlock           blockID    `json:"to_block"`
	Address           string     `json:"address"`
	Keys              [][]string `json:"keys,omitempty"`
	ChunkSize         int        `json:"chunk_size"`
	ContinuationToken string     `json:"continuation_token,omitempty"`
}

type rpcEmittedEvent struct {
	FromAddress     string   `json:"from_address"`
	Keys            []string `json:"keys"`
	Data            []string `json:"data"`
	BlockHash       string   `json:"block_hash"`
	BlockNumber     *uint64  `json:"block_number"`
	TransactionHash string   `json:"transaction_hash"`
}

type eventsPage struct {
	Events            []rpcEmittedEvent `json:"events"`
	ContinuationToken string            `json:"continuation_token"`
}

type rpcTransaction struct {
	TransactionHash     string   `json:"transaction_hash"`
	Type                string   `json:"type"`
	Version             string   `json:"version"`
	SenderAddress       string   `json:"sender_address"`
	ContractAddress     string   `json:"contract_address"`
	Calldata            []string `json:"calldata"`
	ConstructorCalldata []string `json:"constructor_calldata"`
	MaxFee              string   `json:"max_fee"`
	Nonce               string   `json:"nonce"`
}

type rpcReceiptEvent struct {
	FromAddress string   `json:"from_address"`
	Keys        []string `json:"keys"`
	Data        []string `json:"data"`
}

type rpcReceipt struct {
	TransactionHash string            `json:"transaction_hash"`
	ActualFee       json.RawMessage   `json:"actual_fee"`
	ExecutionStatus string            `json:"execution_status"`
	FinalityStatus  string            `json:"finality_status"`
	BlockHash       string            `json:"block_hash"`
	BlockNumber     *uint64           `json:"block_number"`
	Events          []rpcReceiptEvent `json:"events"`
}

type rpcBlock struct {
	BlockHash    string           `json:"block_hash"`
	ParentHash   string           `json:"parent_hash"`
	BlockNumber  uint64           `json:"block_number"`
	Timestamp    uint64           `json:"timestamp"`
	Transactions []rpcTransaction `json:"transactions"`
}

type rpcBlockHeader struct {
	BlockNumber uint64 `json:"block_number"`
	Timestamp   uint64 `json:"timestamp"`
}

// =============================================================================
// Normalization
// =============================================================================

func (e rpcEmittedEvent) toEvent(index uint64) types.Event {
	ev := types.Event{
		Address:         e.FromAddress,
		Keys:            e.Keys,
		Data:            e.Data,
		BlockHash:       e.BlockHash,
		TransactionHash: e.TransactionHash,
		LogIndex:        index,
	}
	if ev.Data == nil {
		ev.Data = []string{}
	}
	if e.BlockNumber != nil {
		ev.BlockNumber = *e.BlockNumber
	}
	return ev
}

// from is the account that sent tx
func (tx *rpcTransaction) from() string {
	if tx.SenderAddress != "" {
		return tx.SenderAddress
	}
	return tx.ContractAddress
}

// to is the deployed contract, or the target of the first call of a
// multicall invoke ([n_calls, to, selector, ...]).
func (tx *rpcTransaction) to() string {
	if tx.ContractAddress != "" {
		return tx.ContractAddress
	}
	if strings.EqualFold(tx.Type, "INVOKE") && len(tx.Calldata) >= 2 {
		return tx.Calldata[1]
	}
	return ""
}

func (tx *rpcTransaction) toTransaction(chain string) *types.Transaction {
	calldata := tx.Calldata
	if calldata == nil {
		calldata = tx.ConstructorCalldata
	}
	return &types.Transaction{
		Hash:     tx.TransactionHash,
		From:     tx.from(),
		To:       tx.to(),
		Value:    "0",
		GasPrice: "0",
		GasUsed:  "0",
		GasLimit: feltDecimal(tx.MaxFee),
		Input:    strings.Join(calldata, ","),
		Nonce:    feltUint64(tx.Nonce),
		Type:     tx.Type,
		Chain:    chain,
		Events:   []types.Event{},
	}
}

// fee decodes actual_fee, which is {amount, unit} from RPC 0.6 onwards and
// a bare felt before that.
func (r *rpcReceipt) fee() string {
	if len(r.ActualFee) == 0 {
		return "0"
	}
	var priced struct {
		Amount string `json:"amount"`
		Unit   string `json:"unit"`
	}
	if err := json.Unmarshal(r.ActualFee, &priced); err == nil && priced.Amount != "" {
		return feltDecimal(priced.Amount)
	}
	var bare string
	if err := json.Unmarshal(r.ActualFee, &bare); err == nil {
		return feltDecimal(bare)
	}
	return "0"
}

func (r *rpcReceipt) status() uint64 {
	if strings.EqualFold(r.ExecutionStatus, "SUCCEEDED") {
		return 1
	}
	return 0
}

func (r *rpcReceipt) toReceipt() *types.Receipt {
	out := &types.Receipt{
		TransactionHash: r.TransactionHash,
		BlockHash:       r.BlockHash,
		Status:          r.status(),
		GasUsed:         "0",
		Fee:             r.fee(),
		Logs:            make([]types.Event, 0, len(r.Events)),
	}
	if r.BlockNumber != nil {
		out.BlockNumber = *r.BlockNumber
	}
	for i, e := range r.Events {
		data := e.Data
		if data == nil {
			data = []string{}
		}
		out.Logs = append(out.Logs, types.Event{
			Address:         e.FromAddress,
			Keys:            e.Keys,
			Data:            data,
			BlockNumber:     out.BlockNumber,
			BlockHash:       r.BlockHash,
			TransactionHash: r.TransactionHash,
			LogIndex:        uint64(i),
		})
	}
	return out
}
