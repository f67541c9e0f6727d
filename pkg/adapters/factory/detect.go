package factory

import (
	"context"
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/0xmhha/chainfetch/pkg/adapters/jsonrpc"
	"github.com/0xmhha/chainfetch/pkg/types/chain"
)

// NodeInfo contains detected node information
type NodeInfo struct {
	Family  chain.Family `json:"family"`
	ChainID string       `json:"chainId"`
	Name    string       `json:"name,omitempty"`
}

type knownChain struct {
	name   string
	family chain.Family
}

// knownEVMChains maps eth_chainId to a chain name and family
var knownEVMChains = map[uint64]knownChain{
	1:        {"ethereum", chain.FamilyEVM},
	10:       {"optimism", chain.FamilyEVM},
	56:       {"bsc", chain.FamilyEVM},
	137:      {"polygon", chain.FamilyEVM},
	8453:     {"base", chain.FamilyEVM},
	42161:    {"arbitrum", chain.FamilyEVM},
	11155111: {"sepolia", chain.FamilyEVM},
	1135:     {"lisk", chain.FamilyLisk},
	4202:     {"lisk-sepolia", chain.FamilyLisk},
}

// knownStarknetChains maps the decoded starknet_chainId to a chain name
var knownStarknetChains = map[string]string{
	"SN_MAIN":    "starknet",
	"SN_SEPOLIA": "starknet-sepolia",
}

// Detect probes the node behind caller. A node answering starknet_chainId
// is Starknet; otherwise eth_chainId decides between Lisk and generic EVM.
func Detect(ctx context.Context, caller *jsonrpc.Caller) (*NodeInfo, error) {
	var starknetID string
	found, err := caller.Call(ctx, &starknetID, "starknet_chainId")
	if err == nil && found {
		decoded := string(common.TrimLeftZeroes(common.FromHex(starknetID)))
		return &NodeInfo{
			Family:  chain.FamilyStarknet,
			ChainID: decoded,
			Name:    knownStarknetChains[decoded],
		}, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}

	var id hexutil.Uint64
	found, err = caller.Call(ctx, &id, "eth_chainId")
	if err != nil {
		return nil, fmt.Errorf("detect chain family: %w", err)
	}
	if !found {
		return nil, fmt.Errorf("detect chain family: eth_chainId returned null")
	}

	info := &NodeInfo{
		Family:  chain.FamilyEVM,
		ChainID: strconv.FormatUint(uint64(id), 10),
	}
	if known, ok := knownEVMChains[uint64(id)]; ok {
		info.Family = known.family
		info.Name = known.name
	}
	return info, nil
}
