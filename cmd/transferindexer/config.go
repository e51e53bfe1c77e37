package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/urfave/cli/v2"

	"github.com/evertrace/transfer-indexer/pkg/utils"
)

// Config holds all configuration for the transferindexer application
type Config struct {
	// Application settings
	Verbose bool

	// Chain settings
	RPCURL     string
	ChainID    uint64
	StartBlock uint64
	// Tokens restricts indexing to these contracts; empty indexes every token.
	Tokens []common.Address

	// Storage settings
	DBPath string

	// Pipeline settings
	MaxBatchSpan  uint64
	PollInterval  time.Duration
	FetchAttempts uint64
	MaxBackoff    time.Duration
	QueueDepth    int

	// Metrics settings
	MetricsEnabled bool
	MetricsHost    string
	MetricsPort    int
}

func (c *Config) MetricsAddr() string {
	return fmt.Sprintf("%s:%d", c.MetricsHost, c.MetricsPort)
}

// buildConfig builds a Config from CLI context flags
func buildConfig(c *cli.Context) (*Config, error) {
	cfg := &Config{
		Verbose:        c.Bool("verbose"),
		RPCURL:         c.String("rpc-url"),
		ChainID:        c.Uint64("chain-id"),
		StartBlock:     c.Uint64("start-block"),
		DBPath:         c.String("db-path"),
		MaxBatchSpan:   c.Uint64("max-batch-span"),
		PollInterval:   c.Duration("poll-interval"),
		FetchAttempts:  c.Uint64("fetch-attempts"),
		MaxBackoff:     c.Duration("backoff-max-delay"),
		QueueDepth:     c.Int("queue-depth"),
		MetricsEnabled: c.Bool("metrics-enabled"),
		MetricsHost:    c.String("metrics-host"),
		MetricsPort:    c.Int("metrics-port"),
	}

	if token := c.String("token-address"); token != "" {
		addr, err := utils.ParseAddress(token)
		if err != nil {
			return nil, fmt.Errorf("invalid token address %q: %w", token, err)
		}
		cfg.Tokens = []common.Address{addr}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.RPCURL == "" {
		return errors.New("rpc-url is required")
	}
	if c.ChainID == 0 {
		return errors.New("chain-id must be non-zero")
	}
	if c.DBPath == "" {
		return errors.New("db-path is required")
	}
	if c.MaxBatchSpan == 0 {
		return errors.New("max-batch-span must be at least 1")
	}
	if c.PollInterval <= 0 {
		return errors.New("poll-interval must be positive")
	}
	if c.FetchAttempts == 0 {
		return errors.New("fetch-attempts must be at least 1")
	}
	if c.MaxBackoff <= 0 {
		return errors.New("backoff-max-delay must be positive")
	}
	if c.QueueDepth < 1 {
		return errors.New("queue-depth must be at least 1")
	}
	return nil
}
