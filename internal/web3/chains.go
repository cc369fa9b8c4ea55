package web3

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultChainID is used when neither the request nor the intent names a chain.
const DefaultChainID int64 = 1

// Chain holds the static metadata of one EVM network.
type Chain struct {
	ID         int64             `yaml:"id" json:"id"`
	Name       string            `yaml:"name" json:"name"`
	Symbol     string            `yaml:"symbol" json:"symbol"`
	Decimals   uint8             `yaml:"decimals" json:"decimals"`
	Aliases    []string          `yaml:"aliases" json:"aliases,omitempty"`
	RPCURL     string            `yaml:"rpc_url" json:"-"`
	NFTNetwork string            `yaml:"nft_network" json:"-"`
	Tokens     map[string]string `yaml:"tokens" json:"tokens,omitempty"`
}

// ChainDefinitions models the structure of configs/chains.yaml. Entries are
// keyed by a human readable name and merged over the built-in table by id.
type ChainDefinitions struct {
	Chains map[string]Chain `yaml:"chains"`
}

var builtinChains = []Chain{
	{
		ID: 1, Name: "Ethereum", Symbol: "ETH", Decimals: 18,
		Aliases:    []string{"ethereum", "eth", "mainnet", "ethereum mainnet"},
		NFTNetwork: "eth-mainnet",
		Tokens: map[string]string{
			"USDC": "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48",
			"USDT": "0xdAC17F958D2ee523a2206206994597C13D831ec7",
			"DAI":  "0x6B175474E89094C44Da98b954EedeAC495271d0F",
			"WETH": "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2",
		},
	},
	{
		ID: 10, Name: "Optimism", Symbol: "ETH", Decimals: 18,
		Aliases:    []string{"optimism", "op", "op mainnet"},
		NFTNetwork: "opt-mainnet",
		Tokens: map[string]string{
			"USDC": "0x0b2C639c533813f4Aa9D7837CAf62653d097Ff85",
		},
	},
	{
		ID: 56, Name: "BNB Smart Chain", Symbol: "BNB", Decimals: 18,
		Aliases: []string{"bsc", "bnb", "binance", "bnb chain", "bnb smart chain"},
	},
	{
		ID: 137, Name: "Polygon", Symbol: "POL", Decimals: 18,
		Aliases:    []string{"polygon", "matic", "pol", "polygon pos"},
		NFTNetwork: "polygon-mainnet",
		Tokens: map[string]string{
			"USDC": "0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359",
			"USDT": "0xc2132D05D31c914a87C6611C10748AEb04B58e8F",
			"DAI":  "0x8f3Cf7ad23Cd3CaDbD9735AFf958023239c6A063",
			"WETH": "0x7ceB23fD6bC0adD59E62ac25578270cFf1b9f619",
		},
	},
	{
		ID: 8453, Name: "Base", Symbol: "ETH", Decimals: 18,
		Aliases:    []string{"base"},
		NFTNetwork: "base-mainnet",
		Tokens: map[string]string{
			"USDC": "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
		},
	},
	{
		ID: 42161, Name: "Arbitrum One", Symbol: "ETH", Decimals: 18,
		Aliases:    []string{"arbitrum", "arb", "arbitrum one"},
		NFTNetwork: "arb-mainnet",
		Tokens: map[string]string{
			"USDC": "0xaf88d065e77c8cC2239327C5EDb3A432268e5831",
		},
	},
	{
		ID: 43114, Name: "Avalanche", Symbol: "AVAX", Decimals: 18,
		Aliases: []string{"avalanche", "avax", "avalanche c-chain"},
	},
	{
		ID: 11155111, Name: "Sepolia", Symbol: "ETH", Decimals: 18,
		Aliases:    []string{"sepolia"},
		NFTNetwork: "eth-sepolia",
	},
}

// ChainRegistry is an immutable lookup table of supported chains. It is safe
// for concurrent use.
type ChainRegistry struct {
	byID    map[int64]Chain
	byAlias map[string]int64
}

// NewChainRegistry builds a registry from the given chains. Later entries
// with the same id replace earlier ones.
func NewChainRegistry(chains ...Chain) *ChainRegistry {
	r := &ChainRegistry{
		byID:    make(map[int64]Chain, len(chains)),
		byAlias: make(map[string]int64),
	}
	for _, chain := range chains {
		r.add(chain)
	}
	return r
}

// DefaultChainRegistry returns the built-in chain table.
func DefaultChainRegistry() *ChainRegistry {
	return NewChainRegistry(builtinChains...)
}

// LoadChainRegistry parses the YAML file and merges it over the built-in
// table. An empty path yields the built-ins.
func LoadChainRegistry(path string) (*ChainRegistry, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultChainRegistry(), nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取链配置失败: %w", err)
	}
	return ParseChainRegistry(content)
}

// ParseChainRegistry merges YAML chain definitions over the built-in table.
func ParseChainRegistry(content []byte) (*ChainRegistry, error) {
	var defs ChainDefinitions
	if err := yaml.Unmarshal(content, &defs); err != nil {
		return nil, fmt.Errorf("解析链配置失败: %w", err)
	}

	registry := DefaultChainRegistry()
	names := make([]string, 0, len(defs.Chains))
	for name := range defs.Chains {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		def := defs.Chains[name]
		if def.ID <= 0 {
			return nil, fmt.Errorf("链 %s 缺少有效的 id", name)
		}
		if def.Name == "" {
			def.Name = name
		}
		merged := def
		if existing, ok := registry.byID[def.ID]; ok {
			merged = mergeChain(existing, def)
		}
		if merged.Symbol == "" {
			merged.Symbol = "ETH"
		}
		if merged.Decimals == 0 {
			merged.Decimals = 18
		}
		registry.add(merged)
	}
	return registry, nil
}

func mergeChain(base, override Chain) Chain {
	out := base
	if override.Name != "" {
		out.Name = override.Name
	}
	if override.Symbol != "" {
		out.Symbol = override.Symbol
	}
	if override.Decimals != 0 {
		out.Decimals = override.Decimals
	}
	if override.RPCURL != "" {
		out.RPCURL = override.RPCURL
	}
	if override.NFTNetwork != "" {
		out.NFTNetwork = override.NFTNetwork
	}
	out.Aliases = append(append([]string(nil), base.Aliases...), override.Aliases...)
	out.Tokens = make(map[string]string, len(base.Tokens)+len(override.Tokens))
	for k, v := range base.Tokens {
		out.Tokens[k] = v
	}
	for k, v := range override.Tokens {
		out.Tokens[k] = v
	}
	return out
}

func (r *ChainRegistry) add(chain Chain) {
	tokens := make(map[string]string, len(chain.Tokens))
	for symbol, address := range chain.Tokens {
		tokens[strings.ToUpper(strings.TrimSpace(symbol))] = strings.TrimSpace(address)
	}
	chain.Tokens = tokens
	chain.Aliases = append([]string(nil), chain.Aliases...)
	r.byID[chain.ID] = chain

	r.byAlias[normaliseName(chain.Name)] = chain.ID
	for _, alias := range chain.Aliases {
		if key := normaliseName(alias); key != "" {
			r.byAlias[key] = chain.ID
		}
	}
}

func normaliseName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

// Chain returns the chain with the given id.
func (r *ChainRegistry) Chain(id int64) (Chain, bool) {
	if r == nil {
		return Chain{}, false
	}
	chain, ok := r.byID[id]
	return chain, ok
}

// Supported reports whether the chain id is registered.
func (r *ChainRegistry) Supported(id int64) bool {
	_, ok := r.Chain(id)
	return ok
}

// Resolve finds a chain by name or alias, case-insensitively.
func (r *ChainRegistry) Resolve(name string) (Chain, bool) {
	if r == nil {
		return Chain{}, false
	}
	id, ok := r.byAlias[normaliseName(name)]
	if !ok {
		return Chain{}, false
	}
	return r.Chain(id)
}

// Symbol returns the native asset symbol, "ETH" for unknown chains.
func (r *ChainRegistry) Symbol(id int64) string {
	if chain, ok := r.Chain(id); ok && chain.Symbol != "" {
		return chain.Symbol
	}
	return "ETH"
}

// Decimals returns the native asset decimals, 18 for unknown chains.
func (r *ChainRegistry) Decimals(id int64) uint8 {
	if chain, ok := r.Chain(id); ok && chain.Decimals != 0 {
		return chain.Decimals
	}
	return 18
}

// TokenAddress resolves a well-known token symbol on the given chain.
func (r *ChainRegistry) TokenAddress(id int64, symbol string) (string, bool) {
	chain, ok := r.Chain(id)
	if !ok {
		return "", false
	}
	address, ok := chain.Tokens[strings.ToUpper(strings.TrimSpace(symbol))]
	return address, ok
}

// Aliases returns every registered name and alias, longest first so that
// "bnb smart chain" is matched before "bnb".
func (r *ChainRegistry) Aliases() []string {
	if r == nil {
		return nil
	}
	aliases := make([]string, 0, len(r.byAlias))
	for alias := range r.byAlias {
		aliases = append(aliases, alias)
	}
	sort.Slice(aliases, func(i, j int) bool {
		if len(aliases[i]) == len(aliases[j]) {
			return aliases[i] < aliases[j]
		}
		return len(aliases[i]) > len(aliases[j])
	})
	return aliases
}

// TokenSymbols returns the union of token symbols known on any chain.
func (r *ChainRegistry) TokenSymbols() []string {
	if r == nil {
		return nil
	}
	seen := make(map[string]struct{})
	for _, chain := range r.byID {
		for symbol := range chain.Tokens {
			seen[symbol] = struct{}{}
		}
	}
	symbols := make([]string, 0, len(seen))
	for symbol := range seen {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	return symbols
}

// Chains returns all registered chains ordered by id.
func (r *ChainRegistry) Chains() []Chain {
	if r == nil {
		return nil
	}
	chains := make([]Chain, 0, len(r.byID))
	for _, chain := range r.byID {
		chains = append(chains, chain)
	}
	sort.Slice(chains, func(i, j int) bool { return chains[i].ID < chains[j].ID })
	return chains
}
