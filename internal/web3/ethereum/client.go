package ethereum

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"WalletHub/internal/web3"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

// DefaultApprovalLookback bounds the Approval log scan.
const DefaultApprovalLookback uint64 = 50_000

// Config describes how to construct a client for one EVM chain.
type Config struct {
	ChainID          int64
	RPCURL           string
	Symbol           string
	Decimals         uint8
	ApprovalLookback uint64
	Retries          int
	RetryBackoff     time.Duration
}

// chainReader is the subset of ethclient used by the client. It is satisfied
// by *ethclient.Client and by test fakes.
type chainReader interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	CallContract(ctx context.Context, msg gethcore.CallMsg, blockNumber *big.Int) ([]byte, error)
	FilterLogs(ctx context.Context, q gethcore.FilterQuery) ([]coretypes.Log, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*coretypes.Header, error)
}

// batchCaller issues several JSON-RPC requests in one round trip.
type batchCaller interface {
	BatchCallContext(ctx context.Context, b []gethrpc.BatchElem) error
}

type tokenMeta struct {
	symbol   string
	name     string
	decimals uint8
}

// Client reads wallet state from one EVM chain.
type Client struct {
	cfg     Config
	reader  chainReader
	batch   batchCaller
	closeFn func()

	mu     sync.Mutex
	tokens map[common.Address]tokenMeta
}

// NewClient dials the configured RPC endpoint and returns a ready-to-use client.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, fmt.Errorf("链 %d 未配置 RPC 地址", cfg.ChainID)
	}

	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("连接链 %d 节点失败: %w", cfg.ChainID, err)
	}
	eth := ethclient.NewClient(rpcClient)

	client := newClient(cfg, eth, rpcClient)
	client.closeFn = eth.Close
	return client, nil
}

func newClient(cfg Config, reader chainReader, batch batchCaller) *Client {
	if cfg.Symbol == "" {
		cfg.Symbol = "ETH"
	}
	if cfg.Decimals == 0 {
		cfg.Decimals = 18
	}
	if cfg.ApprovalLookback == 0 {
		cfg.ApprovalLookback = DefaultApprovalLookback
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 200 * time.Millisecond
	}
	return &Client{
		cfg:    cfg,
		reader: reader,
		batch:  batch,
		tokens: make(map[common.Address]tokenMeta),
	}
}

// ChainID returns the chain this client reads from.
func (c *Client) ChainID() int64 { return c.cfg.ChainID }

// Close releases network connections held by the client.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closeFn != nil {
		c.closeFn()
		c.closeFn = nil
	}
}

// NativeBalance returns the native asset balance at the latest block.
func (c *Client) NativeBalance(ctx context.Context, address string) (*web3.Balance, error) {
	owner, err := parseAddress(address)
	if err != nil {
		return nil, err
	}

	var balance *big.Int
	err = c.retry(ctx, func() error {
		var callErr error
		balance, callErr = c.reader.BalanceAt(ctx, owner, nil)
		return callErr
	})
	if err != nil {
		return nil, fmt.Errorf("查询余额失败: %w", err)
	}

	return &web3.Balance{
		Address:  owner.Hex(),
		ChainID:  c.cfg.ChainID,
		Amount:   web3.NewAmount(balance),
		Symbol:   c.cfg.Symbol,
		Decimals: c.cfg.Decimals,
	}, nil
}

// TokenBalances returns the ERC-20 balances of the given token contracts.
// Zero balances are omitted.
func (c *Client) TokenBalances(ctx context.Context, address string, tokens []string) ([]web3.TokenBalance, error) {
	owner, err := parseAddress(address)
	if err != nil {
		return nil, err
	}
	contracts := make([]common.Address, 0, len(tokens))
	seen := make(map[common.Address]struct{}, len(tokens))
	for _, token := range tokens {
		contract, err := parseAddress(token)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[contract]; dup {
			continue
		}
		seen[contract] = struct{}{}
		contracts = append(contracts, contract)
	}
	if len(contracts) == 0 {
		return []web3.TokenBalance{}, nil
	}

	amounts, err := c.balancesOf(ctx, owner, contracts)
	if err != nil {
		return nil, err
	}

	out := make([]web3.TokenBalance, 0, len(contracts))
	for i, contract := range contracts {
		if amounts[i] == nil || amounts[i].Sign() == 0 {
			continue
		}
		meta := c.tokenMetadata(ctx, contract)
		out = append(out, web3.TokenBalance{
			Balance: web3.Balance{
				Address:  owner.Hex(),
				ChainID:  c.cfg.ChainID,
				Amount:   web3.NewAmount(amounts[i]),
				Symbol:   meta.symbol,
				Decimals: meta.decimals,
			},
			TokenAddress: contract.Hex(),
			Name:         meta.name,
		})
	}
	return out, nil
}

// Approvals scans recent Approval events emitted for the owner and returns the
// allowances that are still non-zero.
func (c *Client) Approvals(ctx context.Context, address string) ([]web3.Approval, error) {
	owner, err := parseAddress(address)
	if err != nil {
		return nil, err
	}

	var head *coretypes.Header
	if err := c.retry(ctx, func() error {
		var callErr error
		head, callErr = c.reader.HeaderByNumber(ctx, nil)
		return callErr
	}); err != nil {
		return nil, fmt.Errorf("获取最新区块失败: %w", err)
	}
	if head == nil || head.Number == nil {
		return nil, errors.New("节点返回了空区块头")
	}

	from := new(big.Int)
	if head.Number.Uint64() > c.cfg.ApprovalLookback {
		from.SetUint64(head.Number.Uint64() - c.cfg.ApprovalLookback)
	}
	query := gethcore.FilterQuery{
		FromBlock: from,
		ToBlock:   new(big.Int).Set(head.Number),
		Topics: [][]common.Hash{
			{approvalTopic},
			{common.BytesToHash(owner.Bytes())},
		},
	}

	var logs []coretypes.Log
	if err := c.retry(ctx, func() error {
		var callErr error
		logs, callErr = c.reader.FilterLogs(ctx, query)
		return callErr
	}); err != nil {
		return nil, fmt.Errorf("扫描授权事件失败: %w", err)
	}

	type pair struct {
		token   common.Address
		spender common.Address
	}
	latest := make(map[pair]uint64)
	order := make([]pair, 0)
	for _, entry := range logs {
		if entry.Removed || len(entry.Topics) < 3 {
			continue
		}
		key := pair{token: entry.Address, spender: common.BytesToAddress(entry.Topics[2].Bytes())}
		block, ok := latest[key]
		if !ok {
			order = append(order, key)
		}
		if !ok || entry.BlockNumber > block {
			latest[key] = entry.BlockNumber
		}
	}

	timestamps := make(map[uint64]int64)
	out := make([]web3.Approval, 0, len(order))
	for _, key := range order {
		allowance, err := c.allowance(ctx, key.token, owner, key.spender)
		if err != nil {
			return nil, err
		}
		if allowance.Sign() == 0 {
			continue
		}
		block := latest[key]
		ts, ok := timestamps[block]
		if !ok {
			ts = c.blockTime(ctx, block)
			timestamps[block] = ts
		}
		out = append(out, web3.Approval{
			Token:     key.token.Hex(),
			Spender:   key.spender.Hex(),
			Amount:    web3.NewAmount(allowance),
			ChainID:   c.cfg.ChainID,
			Timestamp: ts,
		})
	}
	return out, nil
}

// balancesOf reads balanceOf for every contract, batching the calls when the
// underlying transport supports it.
func (c *Client) balancesOf(ctx context.Context, owner common.Address, contracts []common.Address) ([]*big.Int, error) {
	data, err := erc20ABI.Pack("balanceOf", owner)
	if err != nil {
		return nil, fmt.Errorf("编码 balanceOf 失败: %w", err)
	}

	raw := make([][]byte, len(contracts))
	if c.batch != nil && len(contracts) > 1 {
		results := make([]hexutil.Bytes, len(contracts))
		elems := make([]gethrpc.BatchElem, len(contracts))
		for i, contract := range contracts {
			elems[i] = gethrpc.BatchElem{
				Method: "eth_call",
				Args:   []any{callArg(contract, data), "latest"},
				Result: &results[i],
			}
		}
		if err := c.retry(ctx, func() error { return c.batch.BatchCallContext(ctx, elems) }); err != nil {
			return nil, fmt.Errorf("批量查询代币余额失败: %w", err)
		}
		for i := range elems {
			if elems[i].Error != nil {
				return nil, fmt.Errorf("查询代币 %s 余额失败: %w", contracts[i].Hex(), elems[i].Error)
			}
			raw[i] = results[i]
		}
	} else {
		for i, contract := range contracts {
			out, err := c.call(ctx, contract, data)
			if err != nil {
				return nil, fmt.Errorf("查询代币 %s 余额失败: %w", contract.Hex(), err)
			}
			raw[i] = out
		}
	}

	amounts := make([]*big.Int, len(contracts))
	for i := range raw {
		value, err := unpackBig("balanceOf", raw[i])
		if err != nil {
			return nil, fmt.Errorf("解析代币 %s 余额失败: %w", contracts[i].Hex(), err)
		}
		amounts[i] = value
	}
	return amounts, nil
}

func (c *Client) allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	data, err := erc20ABI.Pack("allowance", owner, spender)
	if err != nil {
		return nil, fmt.Errorf("编码 allowance 失败: %w", err)
	}
	out, err := c.call(ctx, token, data)
	if err != nil {
		return nil, fmt.Errorf("查询授权额度失败: %w", err)
	}
	value, err := unpackBig("allowance", out)
	if err != nil {
		return nil, fmt.Errorf("解析授权额度失败: %w", err)
	}
	return value, nil
}

// tokenMetadata resolves symbol, name and decimals once per contract. Tokens
// that revert on the optional ERC-20 metadata methods fall back to 18 decimals
// and an empty symbol. Results are cached only when every call either
// succeeded or reverted; transport and context errors are retried next time.
func (c *Client) tokenMetadata(ctx context.Context, contract common.Address) tokenMeta {
	c.mu.Lock()
	meta, ok := c.tokens[contract]
	c.mu.Unlock()
	if ok {
		return meta
	}

	meta = tokenMeta{decimals: 18}
	settled := true
	out, err := c.callMethod(ctx, contract, "decimals")
	switch {
	case err == nil:
		if values, err := erc20ABI.Unpack("decimals", out); err == nil && len(values) == 1 {
			if d, ok := values[0].(uint8); ok {
				meta.decimals = d
			}
		}
	case !isRevert(err):
		settled = false
	}

	var symbolOK, nameOK bool
	meta.symbol, symbolOK = c.stringMethod(ctx, contract, "symbol")
	meta.name, nameOK = c.stringMethod(ctx, contract, "name")

	if settled && symbolOK && nameOK {
		c.mu.Lock()
		c.tokens[contract] = meta
		c.mu.Unlock()
	}
	return meta
}

// stringMethod reports false when the call failed for a reason other than a
// revert.
func (c *Client) stringMethod(ctx context.Context, contract common.Address, method string) (string, bool) {
	out, err := c.callMethod(ctx, contract, method)
	if err != nil {
		return "", isRevert(err)
	}
	values, err := erc20ABI.Unpack(method, out)
	if err != nil || len(values) != 1 {
		return "", true
	}
	s, _ := values[0].(string)
	return s, true
}

// isRevert reports whether the node executed the call and the contract
// reverted. JSON-RPC error code 3 is the standard revert code.
func isRevert(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var rpcErr gethrpc.Error
	if errors.As(err, &rpcErr) && rpcErr.ErrorCode() == 3 {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "execution reverted")
}

func (c *Client) callMethod(ctx context.Context, contract common.Address, method string) ([]byte, error) {
	data, err := erc20ABI.Pack(method)
	if err != nil {
		return nil, err
	}
	return c.call(ctx, contract, data)
}

func (c *Client) call(ctx context.Context, contract common.Address, data []byte) ([]byte, error) {
	var out []byte
	err := c.retry(ctx, func() error {
		var callErr error
		out, callErr = c.reader.CallContract(ctx, gethcore.CallMsg{To: &contract, Data: data}, nil)
		return callErr
	})
	return out, err
}

func (c *Client) blockTime(ctx context.Context, block uint64) int64 {
	header, err := c.reader.HeaderByNumber(ctx, new(big.Int).SetUint64(block))
	if err != nil || header == nil {
		return 0
	}
	return int64(header.Time)
}

// retry runs fn up to 1+Retries times with linear backoff. Context errors are
// returned immediately.
func (c *Client) retry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt <= c.cfg.Retries; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return err
		}
		if attempt == c.cfg.Retries {
			break
		}
		timer := time.NewTimer(time.Duration(attempt+1) * c.cfg.RetryBackoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
	return err
}

func callArg(to common.Address, data []byte) map[string]any {
	return map[string]any{
		"to":   to,
		"data": hexutil.Bytes(data),
	}
}

func unpackBig(method string, data []byte) (*big.Int, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%s 返回了空结果", method)
	}
	values, err := erc20ABI.Unpack(method, data)
	if err != nil {
		return nil, err
	}
	if len(values) != 1 {
		return nil, fmt.Errorf("%s 返回值数量异常", method)
	}
	value, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%s 返回值类型异常", method)
	}
	return value, nil
}

func parseAddress(raw string) (common.Address, error) {
	raw = strings.TrimSpace(raw)
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("无效的地址: %q", raw)
	}
	return common.HexToAddress(raw), nil
}
