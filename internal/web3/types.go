package web3

import (
	"context"
	"fmt"

	xerrors "WalletHub/internal/errors"
)

// Balance is a native-asset balance snapshot at query time.
type Balance struct {
	Address  string   `json:"address"`
	ChainID  int64    `json:"chainId"`
	Amount   Amount   `json:"balance"`
	Symbol   string   `json:"symbol"`
	Decimals uint8    `json:"decimals"`
	USDValue *float64 `json:"usdValue,omitempty"`
}

// Formatted renders the balance in whole units.
func (b Balance) Formatted() string {
	return FormatUnits(b.Amount, b.Decimals)
}

// TokenBalance is an ERC-20 balance snapshot.
type TokenBalance struct {
	Balance
	TokenAddress string `json:"tokenAddress"`
	Name         string `json:"name"`
}

// NFT describes a single non-fungible token held by a wallet.
type NFT struct {
	Contract   string `json:"contract"`
	TokenID    string `json:"tokenId"`
	Name       string `json:"name,omitempty"`
	Image      string `json:"image,omitempty"`
	Collection string `json:"collection,omitempty"`
	ChainID    int64  `json:"chainId"`
}

// Approval is an outstanding ERC-20 allowance granted by the wallet.
type Approval struct {
	Token     string `json:"token"`
	Spender   string `json:"spender"`
	Amount    Amount `json:"amount"`
	ChainID   int64  `json:"chainId"`
	Timestamp int64  `json:"timestamp"`
}

// Source identifies one of the independently fetched wallet data sets.
type Source string

const (
	SourceNative    Source = "native"
	SourceTokens    Source = "tokens"
	SourceNFTs      Source = "nfts"
	SourceApprovals Source = "approvals"
)

// Sources lists every data set in presentation order.
var Sources = []Source{SourceNative, SourceTokens, SourceNFTs, SourceApprovals}

// DataSource is the capability boundary between the workflows and whatever
// actually talks to chains or indexers. Implementations return coded
// DATA_SOURCE_UNAVAILABLE errors on failure and must be safe for concurrent use.
type DataSource interface {
	NativeBalance(ctx context.Context, address string, chainID int64) (*Balance, error)
	TokenBalances(ctx context.Context, address string, chainID int64, tokens []string) ([]TokenBalance, error)
	NFTs(ctx context.Context, address string, chainID int64) ([]NFT, error)
	Approvals(ctx context.Context, address string, chainID int64) ([]Approval, error)
}

// Unavailable wraps cause as a data-source failure tagged with the source and chain.
func Unavailable(source Source, chainID int64, cause error) error {
	if e, ok := xerrors.From(cause); ok && e.Code() == xerrors.CodeDataSourceUnavailable {
		return e
	}
	return xerrors.Wrap(xerrors.CodeDataSourceUnavailable, cause,
		fmt.Sprintf("%s unavailable on chain %d", source, chainID),
		xerrors.WithMetadata("source", string(source)),
		xerrors.WithMetadata("chain_id", fmt.Sprint(chainID)),
	)
}

// Unsupported reports that a data source cannot serve the given data set.
func Unsupported(source Source, chainID int64) error {
	return xerrors.New(xerrors.CodeDataSourceUnavailable,
		fmt.Sprintf("%s not supported on chain %d", source, chainID),
		xerrors.WithMetadata("source", string(source)),
	)
}
