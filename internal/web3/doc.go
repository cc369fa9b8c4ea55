// Package web3 houses the read-only blockchain vocabulary used by the intent
// pipeline: wallet value objects (balances, token balances, NFTs, approvals),
// an arbitrary-precision Amount type, the DataSource port that concrete chain
// adapters implement, and the static chain registry that maps chain ids to
// native symbols, decimals, aliases and well-known token addresses.
package web3
