package geth

import (
	"context"
	"fmt"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/evertrace/transfer-indexer/internal/chainclient"
	"github.com/evertrace/transfer-indexer/pkg/metrics"
)

// Client wraps the underlying RPC and eth clients.
type Client struct {
	rpc     *rpc.Client
	eth     *ethclient.Client
	metrics *metrics.Metrics // nil if metrics disabled
}

var _ chainclient.ChainClient = (*Client)(nil)

// Option configures the Client.
type Option func(*Client)

// WithMetrics enables metrics collection for the client.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// New creates a client for an Ethereum JSON-RPC endpoint.
func New(ctx context.Context, url string, opts ...Option) (*Client, error) {
	c, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial ethereum rpc: %w", err)
	}

	client := &Client{
		rpc: c,
		eth: ethclient.NewClient(c),
	}

	for _, opt := range opts {
		opt(client)
	}

	return client, nil
}

// ChainID returns the chain ID reported by the endpoint.
func (c *Client) ChainID(ctx context.Context) (uint64, error) {
	const method = "eth_chainId"
	start := time.Now()

	if c.metrics != nil {
		c.metrics.IncRPCInFlight()
		defer c.metrics.DecRPCInFlight()
	}

	id, err := c.eth.ChainID(ctx)

	if c.metrics != nil {
		c.metrics.RecordRPCCall(method, err, time.Since(start).Seconds())
	}

	if err != nil {
		return 0, fmt.Errorf("get chain id: %w", err)
	}
	return id.Uint64(), nil
}

// BlockNumber returns the latest block number.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	const method = "eth_blockNumber"
	start := time.Now()

	if c.metrics != nil {
		c.metrics.IncRPCInFlight()
		defer c.metrics.DecRPCInFlight()
	}

	tip, err := c.eth.BlockNumber(ctx)

	if c.metrics != nil {
		c.metrics.RecordRPCCall(method, err, time.Since(start).Seconds())
	}

	if err != nil {
		return 0, fmt.Errorf("get block number: %w", err)
	}
	return tip, nil
}

// FilterLogs returns the logs matching the query.
func (c *Client) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	const method = "eth_getLogs"
	start := time.Now()

	if c.metrics != nil {
		c.metrics.IncRPCInFlight()
		defer c.metrics.DecRPCInFlight()
	}

	logs, err := c.eth.FilterLogs(ctx, q)

	if c.metrics != nil {
		c.metrics.RecordRPCCall(method, err, time.Since(start).Seconds())
	}

	if err != nil {
		return nil, fmt.Errorf("get logs [%v, %v]: %w", q.FromBlock, q.ToBlock, err)
	}
	return logs, nil
}

// Close closes the underlying RPC client.
func (c *Client) Close() {
	c.rpc.Close()
}
