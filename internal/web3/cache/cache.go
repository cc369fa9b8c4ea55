// Package cache decorates a web3.DataSource with a Redis read-through cache.
//
// Entries are JSON encoded, so amounts are stored as decimal strings and never
// pass through floating point. Cache failures are logged and fall through to
// the upstream; only upstream errors are returned to the caller.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"WalletHub/internal/web3"
	"WalletHub/pkg/logger"

	"github.com/redis/go-redis/v9"
)

const (
	DefaultBalanceTTL = 30 * time.Second
	DefaultNFTTTL     = 5 * time.Minute
)

// Options configures TTLs and the key namespace.
type Options struct {
	Prefix     string
	BalanceTTL time.Duration
	NFTTTL     time.Duration
}

// Source is a caching web3.DataSource.
type Source struct {
	next   web3.DataSource
	client redis.Cmdable
	opts   Options
}

// New wraps next with a cache backed by client.
func New(next web3.DataSource, client redis.Cmdable, opts Options) *Source {
	if opts.Prefix == "" {
		opts.Prefix = "wallethub"
	}
	if opts.BalanceTTL <= 0 {
		opts.BalanceTTL = DefaultBalanceTTL
	}
	if opts.NFTTTL <= 0 {
		opts.NFTTTL = DefaultNFTTTL
	}
	return &Source{next: next, client: client, opts: opts}
}

func (s *Source) key(source web3.Source, chainID int64, address string, extra ...string) string {
	parts := []string{s.opts.Prefix, "ds", string(source), fmt.Sprint(chainID), strings.ToLower(address)}
	parts = append(parts, extra...)
	return strings.Join(parts, ":")
}

// NativeBalance implements web3.DataSource.
func (s *Source) NativeBalance(ctx context.Context, address string, chainID int64) (*web3.Balance, error) {
	key := s.key(web3.SourceNative, chainID, address)
	var cached web3.Balance
	if s.load(ctx, key, &cached) {
		return &cached, nil
	}
	balance, err := s.next.NativeBalance(ctx, address, chainID)
	if err != nil {
		return nil, err
	}
	s.store(ctx, key, balance, s.opts.BalanceTTL)
	return balance, nil
}

// TokenBalances implements web3.DataSource. The key includes the sorted token
// list so different selections never share an entry.
func (s *Source) TokenBalances(ctx context.Context, address string, chainID int64, tokens []string) ([]web3.TokenBalance, error) {
	normalised := make([]string, len(tokens))
	for i, token := range tokens {
		normalised[i] = strings.ToLower(strings.TrimSpace(token))
	}
	sort.Strings(normalised)
	key := s.key(web3.SourceTokens, chainID, address, strings.Join(normalised, ","))

	var cached []web3.TokenBalance
	if s.load(ctx, key, &cached) {
		return cached, nil
	}
	balances, err := s.next.TokenBalances(ctx, address, chainID, tokens)
	if err != nil {
		return nil, err
	}
	s.store(ctx, key, balances, s.opts.BalanceTTL)
	return balances, nil
}

// NFTs implements web3.DataSource.
func (s *Source) NFTs(ctx context.Context, address string, chainID int64) ([]web3.NFT, error) {
	key := s.key(web3.SourceNFTs, chainID, address)
	var cached []web3.NFT
	if s.load(ctx, key, &cached) {
		return cached, nil
	}
	nfts, err := s.next.NFTs(ctx, address, chainID)
	if err != nil {
		return nil, err
	}
	s.store(ctx, key, nfts, s.opts.NFTTTL)
	return nfts, nil
}

// Approvals implements web3.DataSource.
func (s *Source) Approvals(ctx context.Context, address string, chainID int64) ([]web3.Approval, error) {
	key := s.key(web3.SourceApprovals, chainID, address)
	var cached []web3.Approval
	if s.load(ctx, key, &cached) {
		return cached, nil
	}
	approvals, err := s.next.Approvals(ctx, address, chainID)
	if err != nil {
		return nil, err
	}
	s.store(ctx, key, approvals, s.opts.BalanceTTL)
	return approvals, nil
}

func (s *Source) load(ctx context.Context, key string, dest any) bool {
	raw, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logger.Named("cache").Warn("读取缓存失败", "key", key, "error", err)
		}
		return false
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		logger.Named("cache").Warn("缓存内容无法解析", "key", key, "error", err)
		return false
	}
	return true
}

func (s *Source) store(ctx context.Context, key string, value any, ttl time.Duration) {
	raw, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := s.client.Set(ctx, key, raw, ttl).Err(); err != nil {
		logger.Named("cache").Warn("写入缓存失败", "key", key, "error", err)
	}
}

var _ web3.DataSource = (*Source)(nil)
