// Package multichain is the contract interaction fetcher: it owns one chain
// client per configured chain, enforces the tier's range limit, delegates
// fetches to the right client and normalizes whatever shape comes back.
package multichain

import (
	"time"

	"github.com/0xmhha/chainfetch/pkg/rangesearch"
	"github.com/0xmhha/chainfetch/pkg/types"
)

// Request asks for the interactions of Contract on Chain in [FromBlock, ToBlock].
type Request struct {
	Chain     string `json:"chain"`
	Contract  string `json:"contract"`
	FromBlock uint64 `json:"fromBlock"`
	// ToBlock of zero means the latest block.
	ToBlock uint64 `json:"toBlock"`
}

// HealthStatus represents the health state of a chain connection.
type HealthStatus struct {
	ChainID       string                 `json:"chainId"`
	Family        string                 `json:"family,omitempty"`
	IsHealthy     bool                   `json:"isHealthy"`
	State         ChainState             `json:"state"`
	LatestHeight  uint64                 `json:"latestHeight"`
	LastError     string                 `json:"lastError,omitempty"`
	LastErrorTime *time.Time             `json:"lastErrorTime,omitempty"`
	RPCLatency    time.Duration          `json:"rpcLatency"`
	Providers     []types.ProviderHealth `json:"providers,omitempty"`
	Uptime        time.Duration          `json:"uptime"`
	CheckedAt     time.Time              `json:"checkedAt"`
}

// ChainInfo contains read-only information about a registered chain.
type ChainInfo struct {
	ID        string    `json:"id"`
	Family    string    `json:"family,omitempty"`
	NodeName  string    `json:"nodeName,omitempty"`
	NodeID    string    `json:"nodeChainId,omitempty"`
	Legacy    bool      `json:"legacy"`
	Providers int       `json:"providers"`
	CreatedAt time.Time `json:"createdAt"`
}

// ChainMetrics contains request counters for a chain.
type ChainMetrics struct {
	ChainID           string `json:"chainId"`
	Fetches           uint64 `json:"fetches"`
	FetchErrors       uint64 `json:"fetchErrors"`
	TransactionsFound uint64 `json:"transactionsFound"`
	EventsFound       uint64 `json:"eventsFound"`
}

// RangeReport records what one range of an activity search produced.
type RangeReport struct {
	Range        types.BlockRange `json:"range"`
	Transactions int              `json:"transactions"`
	Error        string           `json:"error,omitempty"`
}

// ActivityResult is the merged outcome of an activity search.
type ActivityResult struct {
	Chain    string               `json:"chain"`
	Contract string               `json:"contract"`
	Strategy rangesearch.Strategy `json:"strategy"`
	Head     uint64               `json:"head"`
	Ranges   []RangeReport        `json:"ranges"`
	// StoppedEarly is set when the continuation rule ended the search
	// before the last range.
	StoppedEarly bool               `json:"stoppedEarly"`
	Result       *types.FetchResult `json:"result"`
}
