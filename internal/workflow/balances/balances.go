// Package balances implements the wallet overview workflow: native balance,
// ERC-20 balances, NFTs and token approvals gathered concurrently with
// per-source failure isolation.
package balances

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"WalletHub/internal/intent"
	"WalletHub/internal/web3"
	"WalletHub/internal/workflow"
	"WalletHub/pkg/logger"
)

// Name is the registered workflow name.
const Name = "balances.get"

// DefaultFetchTimeout bounds each data-source call independently.
const DefaultFetchTimeout = 5 * time.Second

// FetchStatus records what happened to one data set.
type FetchStatus string

const (
	StatusNotRequested FetchStatus = "not_requested"
	StatusOK           FetchStatus = "ok"
	StatusFailed       FetchStatus = "failed"
)

// TokenFallback selects the behaviour when no token list is supplied.
type TokenFallback string

const (
	// TokenFallbackSkip fetches no tokens unless an explicit list is given.
	TokenFallbackSkip TokenFallback = "skip"
	// TokenFallbackPopular fetches the chain's well-known tokens when the
	// list is absent. An explicit empty list still skips.
	TokenFallbackPopular TokenFallback = "popular"
)

// ParseTokenFallback maps a config value to a TokenFallback.
func ParseTokenFallback(raw string) (TokenFallback, error) {
	switch TokenFallback(raw) {
	case "", TokenFallbackSkip:
		return TokenFallbackSkip, nil
	case TokenFallbackPopular:
		return TokenFallbackPopular, nil
	}
	return "", fmt.Errorf("unknown token fallback %q", raw)
}

// Params are the inputs of one run. A nil Tokens means the caller did not
// ask for tokens; a non-nil empty slice means "no tokens".
type Params struct {
	Address          string
	ChainID          int64
	Tokens           []string
	IncludeNFTs      bool
	IncludeApprovals bool
}

// Result aggregates whatever could be fetched. A data set is present in the
// JSON form only when its fetch succeeded.
type Result struct {
	Native    *web3.Balance               `json:"native,omitempty"`
	Tokens    []web3.TokenBalance         `json:"tokens,omitempty"`
	NFTs      []web3.NFT                  `json:"nfts,omitempty"`
	Approvals []web3.Approval             `json:"approvals,omitempty"`
	Status    map[web3.Source]FetchStatus `json:"-"`
}

// MarshalJSON emits only the data sets whose status is ok, so an empty but
// successful list is rendered as [] while failed or skipped ones are absent.
func (r *Result) MarshalJSON() ([]byte, error) {
	type view struct {
		Native    *web3.Balance        `json:"native,omitempty"`
		Tokens    *[]web3.TokenBalance `json:"tokens,omitempty"`
		NFTs      *[]web3.NFT          `json:"nfts,omitempty"`
		Approvals *[]web3.Approval     `json:"approvals,omitempty"`
	}
	var v view
	if r.Status[web3.SourceNative] == StatusOK {
		v.Native = r.Native
	}
	if r.Status[web3.SourceTokens] == StatusOK {
		tokens := nonNil(r.Tokens)
		v.Tokens = &tokens
	}
	if r.Status[web3.SourceNFTs] == StatusOK {
		nfts := nonNil(r.NFTs)
		v.NFTs = &nfts
	}
	if r.Status[web3.SourceApprovals] == StatusOK {
		approvals := nonNil(r.Approvals)
		v.Approvals = &approvals
	}
	return json.Marshal(v)
}

func nonNil[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}

// Recorder receives one observation per attempted fetch.
type Recorder interface {
	ObserveFetch(source string, outcome string, elapsed time.Duration)
}

// Workflow is the balances workflow handler.
type Workflow struct {
	source   web3.DataSource
	chains   *web3.ChainRegistry
	timeout  time.Duration
	fallback TokenFallback
	recorder Recorder
}

// Option configures the workflow.
type Option func(*Workflow)

// WithFetchTimeout sets the per-fetch ceiling.
func WithFetchTimeout(d time.Duration) Option {
	return func(w *Workflow) {
		if d > 0 {
			w.timeout = d
		}
	}
}

// WithTokenFallback sets the token selection policy.
func WithTokenFallback(f TokenFallback) Option {
	return func(w *Workflow) {
		if f != "" {
			w.fallback = f
		}
	}
}

// WithChains sets the chain registry used for popular tokens.
func WithChains(chains *web3.ChainRegistry) Option {
	return func(w *Workflow) {
		if chains != nil {
			w.chains = chains
		}
	}
}

// WithRecorder attaches a fetch outcome recorder.
func WithRecorder(r Recorder) Option {
	return func(w *Workflow) { w.recorder = r }
}

// New builds the workflow over the given data source.
func New(source web3.DataSource, opts ...Option) *Workflow {
	w := &Workflow{
		source:   source,
		chains:   web3.DefaultChainRegistry(),
		timeout:  DefaultFetchTimeout,
		fallback: TokenFallbackSkip,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	return w
}

// Metadata implements workflow.Handler.
func (w *Workflow) Metadata() workflow.Metadata {
	return workflow.Metadata{
		Name:        Name,
		Description: "Query wallet balances, NFTs, and token approvals",
		Examples: []string{
			"Show my balance",
			"What's my balance on Polygon?",
			"Check my USDC balance",
			"What NFTs do I own?",
			"Show my token approvals",
		},
		Intents: []string{
			intent.ActionBalanceQuery,
			intent.ActionNFTQuery,
			intent.ActionApprovalQuery,
		},
	}
}

// Execute implements workflow.Handler by mapping the intent to Params.
func (w *Workflow) Execute(ctx context.Context, req workflow.Request) (any, error) {
	if req.Address == "" {
		return nil, errors.New("wallet address is required")
	}
	params := Params{
		Address:          req.Address,
		ChainID:          req.ChainID,
		IncludeNFTs:      req.Action == intent.ActionNFTQuery || req.Entities.Bool(intent.EntityIncludeNFTs),
		IncludeApprovals: req.Action == intent.ActionApprovalQuery || req.Entities.Bool(intent.EntityIncludeApprovals),
	}
	if tokens, ok := req.Entities.Strings(intent.EntityTokens); ok {
		params.Tokens = nonNil(tokens)
	}
	return w.Run(ctx, params), nil
}

// Run gathers every requested data set concurrently. It never fails: each
// failed or timed out fetch is logged and reported through Result.Status.
func (w *Workflow) Run(ctx context.Context, p Params) *Result {
	if p.ChainID <= 0 {
		p.ChainID = web3.DefaultChainID
	}
	tokens := w.selectTokens(p)

	var (
		wg        sync.WaitGroup
		native    *web3.Balance
		tokenList []web3.TokenBalance
		nfts      []web3.NFT
		approvals []web3.Approval
		status    = map[web3.Source]FetchStatus{
			web3.SourceNative:    StatusNotRequested,
			web3.SourceTokens:    StatusNotRequested,
			web3.SourceNFTs:      StatusNotRequested,
			web3.SourceApprovals: StatusNotRequested,
		}
		mu sync.Mutex
	)

	run := func(source web3.Source, fetch func(ctx context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome := w.fetch(ctx, source, p, fetch)
			mu.Lock()
			status[source] = outcome
			mu.Unlock()
		}()
	}

	run(web3.SourceNative, func(ctx context.Context) error {
		balance, err := w.source.NativeBalance(ctx, p.Address, p.ChainID)
		if err == nil && balance == nil {
			err = errors.New("empty native balance")
		}
		native = balance
		return err
	})
	if tokens != nil {
		run(web3.SourceTokens, func(ctx context.Context) error {
			var err error
			tokenList, err = w.source.TokenBalances(ctx, p.Address, p.ChainID, tokens)
			return err
		})
	}
	if p.IncludeNFTs {
		run(web3.SourceNFTs, func(ctx context.Context) error {
			var err error
			nfts, err = w.source.NFTs(ctx, p.Address, p.ChainID)
			return err
		})
	}
	if p.IncludeApprovals {
		run(web3.SourceApprovals, func(ctx context.Context) error {
			var err error
			approvals, err = w.source.Approvals(ctx, p.Address, p.ChainID)
			return err
		})
	}
	wg.Wait()

	result := &Result{Status: status}
	if status[web3.SourceNative] == StatusOK {
		result.Native = native
	}
	if status[web3.SourceTokens] == StatusOK {
		result.Tokens = nonNil(tokenList)
	}
	if status[web3.SourceNFTs] == StatusOK {
		result.NFTs = nonNil(nfts)
	}
	if status[web3.SourceApprovals] == StatusOK {
		result.Approvals = nonNil(approvals)
	}
	return result
}

// fetch runs one data-source call under its own timeout and panic boundary.
// A fetch that outlives its timeout is reported as failed even if the
// underlying call ignores cancellation; its late result is discarded.
func (w *Workflow) fetch(parent context.Context, source web3.Source, p Params, call func(ctx context.Context) error) (outcome FetchStatus) {
	ctx, cancel := context.WithTimeout(parent, w.timeout)
	defer cancel()
	started := time.Now()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic: %v", r)
			}
		}()
		done <- call(ctx)
	}()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}

	outcome = StatusOK
	if err != nil {
		outcome = StatusFailed
		logger.Named("balances").Warn("数据源获取失败",
			"source", string(source),
			"chain_id", p.ChainID,
			"address", p.Address,
			"error", err,
		)
	}
	if w.recorder != nil {
		w.recorder.ObserveFetch(string(source), string(outcome), time.Since(started))
	}
	return outcome
}

func (w *Workflow) selectTokens(p Params) []string {
	if p.Tokens != nil {
		if len(p.Tokens) == 0 {
			return nil
		}
		return p.Tokens
	}
	if w.fallback != TokenFallbackPopular {
		return nil
	}
	chain, ok := w.chains.Chain(p.ChainID)
	if !ok || len(chain.Tokens) == 0 {
		return nil
	}
	symbols := make([]string, 0, len(chain.Tokens))
	for symbol := range chain.Tokens {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	addresses := make([]string, 0, len(symbols))
	for _, symbol := range symbols {
		addresses = append(addresses, chain.Tokens[symbol])
	}
	return addresses
}

var _ workflow.Handler = (*Workflow)(nil)
