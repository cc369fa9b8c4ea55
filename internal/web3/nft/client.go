// Package nft reads wallet NFT holdings from an Alchemy-compatible indexer.
package nft

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"WalletHub/internal/web3"

	"github.com/go-resty/resty/v2"
)

// NetworkPlaceholder is substituted with the chain's network slug in BaseURL.
const NetworkPlaceholder = "{network}"

// Config controls the indexer client.
type Config struct {
	// BaseURL may contain NetworkPlaceholder, e.g. https://{network}.g.alchemy.com.
	BaseURL  string
	APIKey   string
	Timeout  time.Duration
	PageSize int
	MaxPages int
}

// Client fetches NFTs owned by an address.
type Client struct {
	http   *resty.Client
	cfg    Config
	chains *web3.ChainRegistry
}

// NewClient builds a client. Chains without an NFT network slug are rejected
// at query time.
func NewClient(cfg Config, chains *web3.ChainRegistry) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("未配置 NFT 索引服务地址")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 3
	}
	if chains == nil {
		chains = web3.DefaultChainRegistry()
	}

	httpClient := resty.New().
		SetHeader("Accept", "application/json").
		SetTimeout(cfg.Timeout)

	return &Client{http: httpClient, cfg: cfg, chains: chains}, nil
}

type ownedNFTsResponse struct {
	OwnedNFTs []ownedNFT `json:"ownedNfts"`
	PageKey   string     `json:"pageKey"`
}

type ownedNFT struct {
	Contract struct {
		Address         string `json:"address"`
		Name            string `json:"name"`
		OpenSeaMetadata struct {
			CollectionName string `json:"collectionName"`
		} `json:"openSeaMetadata"`
	} `json:"contract"`
	TokenID string `json:"tokenId"`
	Name    string `json:"name"`
	Image   struct {
		CachedURL   string `json:"cachedUrl"`
		OriginalURL string `json:"originalUrl"`
	} `json:"image"`
}

// NFTs returns the NFTs owned by address on the given chain.
func (c *Client) NFTs(ctx context.Context, address string, chainID int64) ([]web3.NFT, error) {
	chain, ok := c.chains.Chain(chainID)
	if !ok || chain.NFTNetwork == "" {
		return nil, fmt.Errorf("链 %d 不支持 NFT 查询", chainID)
	}

	base := strings.TrimRight(strings.ReplaceAll(c.cfg.BaseURL, NetworkPlaceholder, chain.NFTNetwork), "/")
	endpoint := fmt.Sprintf("%s/nft/v3/%s/getNFTsForOwner", base, c.cfg.APIKey)

	out := make([]web3.NFT, 0)
	pageKey := ""
	for page := 0; page < c.cfg.MaxPages; page++ {
		req := c.http.R().
			SetContext(ctx).
			SetQueryParam("owner", address).
			SetQueryParam("withMetadata", "true").
			SetQueryParam("pageSize", fmt.Sprint(c.cfg.PageSize))
		if pageKey != "" {
			req.SetQueryParam("pageKey", pageKey)
		}

		resp, err := req.Get(endpoint)
		if err != nil {
			return nil, fmt.Errorf("请求 NFT 索引服务失败: %w", err)
		}
		if resp.StatusCode() != http.StatusOK {
			return nil, fmt.Errorf("NFT 索引服务返回状态码 %d: %s", resp.StatusCode(), truncate(resp.String(), 200))
		}

		var decoded ownedNFTsResponse
		if err := json.Unmarshal(resp.Body(), &decoded); err != nil {
			return nil, fmt.Errorf("解析 NFT 响应失败: %w", err)
		}
		for _, item := range decoded.OwnedNFTs {
			out = append(out, item.toNFT(chainID))
		}
		if decoded.PageKey == "" {
			break
		}
		pageKey = decoded.PageKey
	}
	return out, nil
}

func (n ownedNFT) toNFT(chainID int64) web3.NFT {
	image := n.Image.CachedURL
	if image == "" {
		image = n.Image.OriginalURL
	}
	collection := n.Contract.OpenSeaMetadata.CollectionName
	if collection == "" {
		collection = n.Contract.Name
	}
	return web3.NFT{
		Contract:   n.Contract.Address,
		TokenID:    n.TokenID,
		Name:       n.Name,
		Image:      image,
		Collection: collection,
		ChainID:    chainID,
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
