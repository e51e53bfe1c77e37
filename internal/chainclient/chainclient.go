package chainclient

import (
	"context"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
)

// ChainClient is the read-only view of an EVM chain the indexer needs.
type ChainClient interface {
	// ChainID returns the chain ID reported by the endpoint.
	ChainID(ctx context.Context) (uint64, error)

	// BlockNumber returns the latest block number (chain tip).
	BlockNumber(ctx context.Context) (uint64, error)

	// FilterLogs returns the logs matching the query, in ascending
	// (block number, log index) order.
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
}
