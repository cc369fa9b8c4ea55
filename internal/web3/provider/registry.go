package provider

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"WalletHub/internal/web3"
	"WalletHub/internal/web3/ethereum"
	"WalletHub/pkg/logger"

	"github.com/ethereum/go-ethereum/common"
)

// chainClient is the per-chain EVM backend. *ethereum.Client satisfies it.
type chainClient interface {
	NativeBalance(ctx context.Context, address string) (*web3.Balance, error)
	TokenBalances(ctx context.Context, address string, tokens []string) ([]web3.TokenBalance, error)
	Approvals(ctx context.Context, address string) ([]web3.Approval, error)
	Close()
}

// NFTIndexer serves NFT holdings for any chain it knows a network for.
type NFTIndexer interface {
	NFTs(ctx context.Context, address string, chainID int64) ([]web3.NFT, error)
}

// Options configures the router.
type Options struct {
	ApprovalLookback uint64
	Retries          int
	NFT              NFTIndexer
}

// Router implements web3.DataSource by routing every call to the backend of
// the requested chain.
type Router struct {
	chains  *web3.ChainRegistry
	clients map[int64]chainClient
	nft     NFTIndexer
}

// NewRouter dials an EVM client for every chain that has an RPC URL. Chains
// without one remain known to the registry but their data sources fail.
func NewRouter(ctx context.Context, chains *web3.ChainRegistry, opts Options) (*Router, error) {
	if chains == nil {
		chains = web3.DefaultChainRegistry()
	}
	router := newRouter(chains, opts.NFT)

	for _, chain := range chains.Chains() {
		if strings.TrimSpace(chain.RPCURL) == "" {
			continue
		}
		client, err := ethereum.NewClient(ctx, ethereum.Config{
			ChainID:          chain.ID,
			RPCURL:           chain.RPCURL,
			Symbol:           chain.Symbol,
			Decimals:         chain.Decimals,
			ApprovalLookback: opts.ApprovalLookback,
			Retries:          opts.Retries,
		})
		if err != nil {
			router.Close()
			return nil, fmt.Errorf("初始化链 %s 失败: %w", chain.Name, err)
		}
		router.clients[chain.ID] = client
	}

	if len(router.clients) == 0 {
		logger.Named("provider").Warn("未配置任何链的 RPC 端点，余额查询将全部失败")
	}
	return router, nil
}

func newRouter(chains *web3.ChainRegistry, nft NFTIndexer) *Router {
	return &Router{chains: chains, clients: make(map[int64]chainClient), nft: nft}
}

func (r *Router) client(source web3.Source, chainID int64) (chainClient, error) {
	if r == nil {
		return nil, web3.Unsupported(source, chainID)
	}
	client, ok := r.clients[chainID]
	if !ok {
		return nil, web3.Unsupported(source, chainID)
	}
	return client, nil
}

// NativeBalance implements web3.DataSource.
func (r *Router) NativeBalance(ctx context.Context, address string, chainID int64) (*web3.Balance, error) {
	client, err := r.client(web3.SourceNative, chainID)
	if err != nil {
		return nil, err
	}
	balance, err := client.NativeBalance(ctx, address)
	if err != nil {
		return nil, web3.Unavailable(web3.SourceNative, chainID, err)
	}
	return balance, nil
}

// TokenBalances implements web3.DataSource. Entries may be contract addresses
// or symbols registered for the chain; unknown symbols are ignored.
func (r *Router) TokenBalances(ctx context.Context, address string, chainID int64, tokens []string) ([]web3.TokenBalance, error) {
	client, err := r.client(web3.SourceTokens, chainID)
	if err != nil {
		return nil, err
	}
	contracts := r.resolveTokens(chainID, tokens)
	if len(contracts) == 0 {
		return []web3.TokenBalance{}, nil
	}
	balances, err := client.TokenBalances(ctx, address, contracts)
	if err != nil {
		return nil, web3.Unavailable(web3.SourceTokens, chainID, err)
	}
	return balances, nil
}

// NFTs implements web3.DataSource.
func (r *Router) NFTs(ctx context.Context, address string, chainID int64) ([]web3.NFT, error) {
	if r == nil || r.nft == nil {
		return nil, web3.Unsupported(web3.SourceNFTs, chainID)
	}
	nfts, err := r.nft.NFTs(ctx, address, chainID)
	if err != nil {
		return nil, web3.Unavailable(web3.SourceNFTs, chainID, err)
	}
	return nfts, nil
}

// Approvals implements web3.DataSource.
func (r *Router) Approvals(ctx context.Context, address string, chainID int64) ([]web3.Approval, error) {
	client, err := r.client(web3.SourceApprovals, chainID)
	if err != nil {
		return nil, err
	}
	approvals, err := client.Approvals(ctx, address)
	if err != nil {
		return nil, web3.Unavailable(web3.SourceApprovals, chainID, err)
	}
	return approvals, nil
}

func (r *Router) resolveTokens(chainID int64, tokens []string) []string {
	out := make([]string, 0, len(tokens))
	for _, token := range tokens {
		token = strings.TrimSpace(token)
		if common.IsHexAddress(token) {
			out = append(out, token)
			continue
		}
		if address, ok := r.chains.TokenAddress(chainID, token); ok {
			out = append(out, address)
			continue
		}
		logger.Named("provider").Debug("忽略未知代币", "token", token, "chain_id", chainID)
	}
	return out
}

// Chains returns the ids of chains with a live client.
func (r *Router) Chains() []int64 {
	if r == nil {
		return nil
	}
	ids := make([]int64, 0, len(r.clients))
	for id := range r.clients {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Close releases all clients managed by the router.
func (r *Router) Close() {
	if r == nil {
		return
	}
	for id, client := range r.clients {
		if client != nil {
			client.Close()
		}
		delete(r.clients, id)
	}
}

var _ web3.DataSource = (*Router)(nil)
