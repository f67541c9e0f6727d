// Package types holds the chain-agnostic data model produced by the fetch engine.
package types

import (
	"fmt"
	"strings"
)

// FetchMethod records which strategy produced a FetchResult.
// It exists for observability; callers must not branch on it for correctness.
type FetchMethod string

const (
	MethodInteractionBased  FetchMethod = "interaction-based"
	MethodEventBased        FetchMethod = "event-based"
	MethodFallbackBlockScan FetchMethod = "fallback-block-scan"
)

// TransactionSource tells whether a transaction was derived from an event or found by block scanning.
type TransactionSource string

const (
	SourceEvent  TransactionSource = "event"
	SourceDirect TransactionSource = "direct"
)

// ProviderEndpoint is a static RPC endpoint entry. Lower Priority is tried first.
type ProviderEndpoint struct {
	Name     string `yaml:"name" json:"name"`
	URL      string `yaml:"url" json:"url"`
	Priority int    `yaml:"priority" json:"priority"`
}

// ProviderHealth is a point-in-time view of an endpoint's counters.
type ProviderHealth struct {
	Endpoint     ProviderEndpoint `json:"endpoint"`
	IsHealthy    bool             `json:"isHealthy"`
	RequestCount uint64           `json:"requestCount"`
	SuccessCount uint64           `json:"successCount"`
	FailureCount uint64           `json:"failureCount"`
	LastError    string           `json:"lastError,omitempty"`
	LastLatency  int64            `json:"lastLatencyMs"`
}

// RPCJob describes one JSON-RPC invocation issued by a client.
// RequestID is a per-client counter, not globally unique.
type RPCJob struct {
	Method    string        `json:"method"`
	Params    []interface{} `json:"params"`
	RequestID uint64        `json:"requestId"`
}

// Event is a contract log (EVM) or emitted event (Starknet).
type Event struct {
	Address          string   `json:"address"`
	Topics           []string `json:"topics,omitempty"`
	Keys             []string `json:"keys,omitempty"`
	Data             []string `json:"data"`
	BlockNumber      uint64   `json:"blockNumber"`
	TransactionHash  string   `json:"transactionHash"`
	TransactionIndex uint64   `json:"transactionIndex"`
	BlockHash        string   `json:"blockHash"`
	LogIndex         uint64   `json:"logIndex"`
	Removed          bool     `json:"removed"`
}

// Transaction is the normalized transaction shape shared by all chain families.
// Value and gas figures are decimal strings in the chain's base unit.
// Input is hex calldata on EVM chains and comma-separated calldata felts on Starknet.
type Transaction struct {
	Hash           string            `json:"hash"`
	From           string            `json:"from"`
	To             string            `json:"to"`
	Value          string            `json:"value"`
	GasPrice       string            `json:"gasPrice"`
	GasUsed        string            `json:"gasUsed"`
	GasLimit       string            `json:"gasLimit"`
	Input          string            `json:"input"`
	FunctionName   string            `json:"functionName,omitempty"`
	BlockNumber    uint64            `json:"blockNumber"`
	BlockTimestamp uint64            `json:"blockTimestamp"`
	Status         uint64            `json:"status"`
	Chain          string            `json:"chain"`
	Nonce          uint64            `json:"nonce"`
	Type           string            `json:"type"`
	Source         TransactionSource `json:"source"`
	L1Fee          string            `json:"l1Fee,omitempty"`
	Fee            string            `json:"fee,omitempty"`
	Events         []Event           `json:"events"`
}

// Block is the common block shape. Transactions are populated only when
// the block was requested with full transaction bodies.
type Block struct {
	Number       uint64         `json:"number"`
	Hash         string         `json:"hash"`
	ParentHash   string         `json:"parentHash"`
	Timestamp    uint64         `json:"timestamp"`
	Transactions []*Transaction `json:"transactions,omitempty"`
}

// Receipt is the common receipt shape.
type Receipt struct {
	TransactionHash   string  `json:"transactionHash"`
	BlockNumber       uint64  `json:"blockNumber"`
	BlockHash         string  `json:"blockHash"`
	Status            uint64  `json:"status"`
	GasUsed           string  `json:"gasUsed"`
	EffectiveGasPrice string  `json:"effectiveGasPrice,omitempty"`
	L1Fee             string  `json:"l1Fee,omitempty"`
	Fee               string  `json:"fee,omitempty"`
	Logs              []Event `json:"logs"`
}

// Summary aggregates counts for a FetchResult.
type Summary struct {
	TotalTransactions  int         `json:"totalTransactions"`
	TotalEvents        int         `json:"totalEvents"`
	EventTransactions  int         `json:"eventTransactions"`
	DirectTransactions int         `json:"directTransactions"`
	BlocksScanned      int         `json:"blocksScanned"`
	Method             FetchMethod `json:"method"`
	FallbackReason     string      `json:"fallbackReason,omitempty"`
}

// FetchResult is the only output shape of the engine.
type FetchResult struct {
	Transactions []*Transaction `json:"transactions"`
	Events       []Event        `json:"events"`
	Summary      Summary        `json:"summary"`
	Method       FetchMethod    `json:"method"`
}

// NewFetchResult returns an empty result tagged with method.
func NewFetchResult(method FetchMethod) *FetchResult {
	return &FetchResult{
		Transactions: []*Transaction{},
		Events:       []Event{},
		Summary:      Summary{Method: method},
		Method:       method,
	}
}

// SetMethod tags both the result and its summary.
func (r *FetchResult) SetMethod(method FetchMethod) {
	r.Method = method
	r.Summary.Method = method
}

// Recount recomputes the transaction and event counters from the slices.
// BlocksScanned and FallbackReason are left untouched.
func (r *FetchResult) Recount() {
	r.Summary.TotalTransactions = len(r.Transactions)
	r.Summary.TotalEvents = len(r.Events)
	r.Summary.EventTransactions = 0
	r.Summary.DirectTransactions = 0
	for _, tx := range r.Transactions {
		if tx.Source == SourceDirect {
			r.Summary.DirectTransactions++
		} else {
			r.Summary.EventTransactions++
		}
	}
}

// Merge appends other into r, skipping transactions and events already present.
func (r *FetchResult) Merge(other *FetchResult) {
	if other == nil {
		return
	}
	seenTx := make(map[string]struct{}, len(r.Transactions))
	for _, tx := range r.Transactions {
		seenTx[NormalizeHash(tx.Hash)] = struct{}{}
	}
	for _, tx := range other.Transactions {
		key := NormalizeHash(tx.Hash)
		if _, ok := seenTx[key]; ok {
			continue
		}
		seenTx[key] = struct{}{}
		r.Transactions = append(r.Transactions, tx)
	}

	seenEvt := make(map[string]struct{}, len(r.Events))
	for _, ev := range r.Events {
		seenEvt[ev.key()] = struct{}{}
	}
	for _, ev := range other.Events {
		if _, ok := seenEvt[ev.key()]; ok {
			continue
		}
		seenEvt[ev.key()] = struct{}{}
		r.Events = append(r.Events, ev)
	}

	r.Summary.BlocksScanned += other.Summary.BlocksScanned
	if r.Summary.FallbackReason == "" {
		r.Summary.FallbackReason = other.Summary.FallbackReason
	}
	r.Recount()
}

func (e Event) key() string {
	return fmt.Sprintf("%s:%d:%d", NormalizeHash(e.TransactionHash), e.BlockNumber, e.LogIndex)
}

// UniqueTransactionHashes returns the distinct transaction hashes referenced
// by events, in first-seen order.
func UniqueTransactionHashes(events []Event) []string {
	seen := make(map[string]struct{}, len(events))
	hashes := make([]string, 0, len(events))
	for _, ev := range events {
		if ev.TransactionHash == "" {
			continue
		}
		key := NormalizeHash(ev.TransactionHash)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		hashes = append(hashes, ev.TransactionHash)
	}
	return hashes
}

// AttachEvents sets each transaction's Events to exactly the events whose
// TransactionHash matches.
func AttachEvents(txs []*Transaction, events []Event) {
	byHash := make(map[string][]Event, len(txs))
	for _, ev := range events {
		key := NormalizeHash(ev.TransactionHash)
		byHash[key] = append(byHash[key], ev)
	}
	for _, tx := range txs {
		matched := byHash[NormalizeHash(tx.Hash)]
		if matched == nil {
			matched = []Event{}
		}
		tx.Events = matched
	}
}

// NormalizeHash lowercases a hex hash and strips leading zeros after the
// prefix so that EVM hashes and Starknet felts compare consistently.
func NormalizeHash(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	if !strings.HasPrefix(h, "0x") {
		return h
	}
	body := strings.TrimLeft(h[2:], "0")
	if body == "" {
		body = "0"
	}
	return "0x" + body
}
