package constants

// Well-known chain ids
const (
	ChainEthereum = "ethereum"
	ChainLisk     = "lisk"
	ChainStarknet = "starknet"
)

// KnownChain is a chain the fetcher can reach without any configuration.
type KnownChain struct {
	ID     string
	Family string
	// Endpoints are public RPC URLs, most preferred first
	Endpoints []string
}

// KnownChains lists the built-in chains and their public endpoints.
var KnownChains = []KnownChain{
	{
		ID:     ChainEthereum,
		Family: "evm",
		Endpoints: []string{
			"https://ethereum-rpc.publicnode.com",
			"https://eth.llamarpc.com",
			"https://rpc.ankr.com/eth",
		},
	},
	{
		ID:     ChainLisk,
		Family: "lisk",
		Endpoints: []string{
			"https://rpc.api.lisk.com",
			"https://lisk.drpc.org",
		},
	},
	{
		ID:     ChainStarknet,
		Family: "starknet",
		Endpoints: []string{
			"https://starknet-mainnet.public.blastapi.io/rpc/v0_7",
			"https://free-rpc.nethermind.io/mainnet-juno",
		},
	},
}

// LookupKnownChain returns the built-in chain with id.
func LookupKnownChain(id string) (KnownChain, bool) {
	for _, c := range KnownChains {
		if c.ID == id {
			return c, true
		}
	}
	return KnownChain{}, false
}
