// Package abi resolves 4-byte function selectors and event topics of
// well-known contract interfaces to readable names. Full ABI decoding is
// left to downstream consumers.
package abi

import (
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// knownFunctions are the signatures resolved without a contract ABI
var knownFunctions = []string{
	// ERC20
	"transfer(address,uint256)",
	"transferFrom(address,address,uint256)",
	"approve(address,uint256)",
	"increaseAllowance(address,uint256)",
	"decreaseAllowance(address,uint256)",
	"permit(address,address,uint256,uint256,uint8,bytes32,bytes32)",
	"mint(address,uint256)",
	"burn(uint256)",
	"burnFrom(address,uint256)",
	// ERC721 / ERC1155
	"safeTransferFrom(address,address,uint256)",
	"safeTransferFrom(address,address,uint256,bytes)",
	"safeTransferFrom(address,address,uint256,uint256,bytes)",
	"safeBatchTransferFrom(address,address,uint256[],uint256[],bytes)",
	"setApprovalForAll(address,bool)",
	// WETH
	"deposit()",
	"withdraw(uint256)",
	// Uniswap V2 router
	"swapExactTokensForTokens(uint256,uint256,address[],address,uint256)",
	"swapTokensForExactTokens(uint256,uint256,address[],address,uint256)",
	"swapExactETHForTokens(uint256,address[],address,uint256)",
	"swapExactTokensForETH(uint256,uint256,address[],address,uint256)",
	"addLiquidity(address,address,uint256,uint256,uint256,uint256,address,uint256)",
	"addLiquidityETH(address,uint256,uint256,uint256,address,uint256)",
	"removeLiquidity(address,address,uint256,uint256,uint256,address,uint256)",
	// Uniswap V3 router
	"exactInputSingle((address,address,uint24,address,uint256,uint256,uint256,uint160))",
	"exactInput((bytes,address,uint256,uint256,uint256))",
	"multicall(bytes[])",
	"multicall(uint256,bytes[])",
	// Ownable / Pausable
	"transferOwnership(address)",
	"renounceOwnership()",
	"pause()",
	"unpause()",
	// Bridges
	"bridgeETHTo(address,uint32,bytes)",
	"depositETH(uint32,bytes)",
	"depositERC20To(address,address,address,uint256,uint32,bytes)",
	"withdrawTo(address,address,uint256,uint32,bytes)",
	"finalizeBridgeETH(address,address,uint256,bytes)",
	"finalizeBridgeERC20(address,address,address,address,uint256,bytes)",
}

// knownEvents are event signatures resolved from topic0
var knownEvents = []string{
	"Transfer(address,address,uint256)",
	"Approval(address,address,uint256)",
	"ApprovalForAll(address,address,bool)",
	"TransferSingle(address,address,address,uint256,uint256)",
	"TransferBatch(address,address,address,uint256[],uint256[])",
	"Deposit(address,uint256)",
	"Withdrawal(address,uint256)",
	"Swap(address,uint256,uint256,uint256,uint256,address)",
	"Swap(address,address,int256,int256,uint160,uint128,int24)",
	"Sync(uint112,uint112)",
	"Mint(address,uint256,uint256)",
	"Burn(address,uint256,uint256,address)",
	"OwnershipTransferred(address,address)",
	"Paused(address)",
	"Unpaused(address)",
}

var (
	selectorNames = make(map[string]string, len(knownFunctions))
	topicNames    = make(map[string]string, len(knownEvents))
)

func init() {
	for _, sig := range knownFunctions {
		selectorNames[Selector(sig)] = name(sig)
	}
	for _, sig := range knownEvents {
		topicNames[Topic(sig)] = name(sig)
	}
}

// Selector returns the 0x-prefixed 4-byte selector of a function signature
func Selector(signature string) string {
	return hexutil.Encode(crypto.Keccak256([]byte(signature))[:4])
}

// Topic returns the 0x-prefixed keccak256 topic of an event signature
func Topic(signature string) string {
	return hexutil.Encode(crypto.Keccak256([]byte(signature)))
}

// FunctionName resolves the function called by input data. Known selectors
// yield the function name, unknown ones the selector itself, and input too
// short to carry a selector (plain transfers) yields "".
func FunctionName(input string) string {
	input = strings.ToLower(strings.TrimSpace(input))
	if !strings.HasPrefix(input, "0x") || len(input) < 10 {
		return ""
	}
	selector := input[:10]
	if n, ok := selectorNames[selector]; ok {
		return n
	}
	return selector
}

// EventName resolves a topic0 to a known event name, or "" if unknown
func EventName(topic0 string) string {
	return topicNames[strings.ToLower(topic0)]
}

func name(signature string) string {
	if i := strings.IndexByte(signature, '('); i > 0 {
		return signature[:i]
	}
	return signature
}
