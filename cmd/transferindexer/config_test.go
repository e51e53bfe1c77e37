package main

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

// parseConfig runs the real flag set so defaults and parsing behave
// exactly as they do in production.
func parseConfig(t *testing.T, args ...string) (*Config, error) {
	t.Helper()

	var cfg *Config
	var cfgErr error
	app := &cli.App{
		Commands: []*cli.Command{
			{
				Name:  "run",
				Flags: runFlags(),
				Action: func(c *cli.Context) error {
					cfg, cfgErr = buildConfig(c)
					return nil
				},
			},
		},
	}

	err := app.Run(append([]string{"transferindexer", "run"}, args...))
	require.NoError(t, err)

	return cfg, cfgErr
}

func TestBuildConfig_Defaults(t *testing.T) {
	t.Parallel()

	cfg, err := parseConfig(t)

	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.False(t, cfg.Verbose)
	assert.Equal(t, "https://eth.llamarpc.com", cfg.RPCURL)
	assert.Equal(t, uint64(11155111), cfg.ChainID)
	assert.Equal(t, uint64(0), cfg.StartBlock)
	assert.Empty(t, cfg.Tokens)
	assert.Equal(t, "indexer.db", cfg.DBPath)
	assert.Equal(t, uint64(100), cfg.MaxBatchSpan)
	assert.Equal(t, 12*time.Second, cfg.PollInterval)
	assert.Equal(t, uint64(5), cfg.FetchAttempts)
	assert.Equal(t, time.Minute, cfg.MaxBackoff)
	assert.Equal(t, 3, cfg.QueueDepth)
	assert.True(t, cfg.MetricsEnabled)
	assert.Equal(t, ":8080", cfg.MetricsAddr())
}

func TestBuildConfig_Overrides(t *testing.T) {
	t.Parallel()

	cfg, err := parseConfig(t,
		"--verbose",
		"--rpc-url", "http://localhost:8545",
		"--chain-id", "1",
		"--start-block", "19000000",
		"--db-path", "/tmp/mainnet.db",
		"--max-batch-span", "500",
		"--poll-interval", "3s",
		"--fetch-attempts", "8",
		"--backoff-max-delay", "30s",
		"--queue-depth", "10",
		"--metrics-enabled=false",
		"--metrics-host", "127.0.0.1",
		"--metrics-port", "9090",
	)

	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.True(t, cfg.Verbose)
	assert.Equal(t, "http://localhost:8545", cfg.RPCURL)
	assert.Equal(t, uint64(1), cfg.ChainID)
	assert.Equal(t, uint64(19000000), cfg.StartBlock)
	assert.Equal(t, "/tmp/mainnet.db", cfg.DBPath)
	assert.Equal(t, uint64(500), cfg.MaxBatchSpan)
	assert.Equal(t, 3*time.Second, cfg.PollInterval)
	assert.Equal(t, uint64(8), cfg.FetchAttempts)
	assert.Equal(t, 30*time.Second, cfg.MaxBackoff)
	assert.Equal(t, 10, cfg.QueueDepth)
	assert.False(t, cfg.MetricsEnabled)
	assert.Equal(t, "127.0.0.1:9090", cfg.MetricsAddr())
}

func TestBuildConfig_TokenAddress(t *testing.T) {
	t.Parallel()

	cfg, err := parseConfig(t, "--token-address", "0x1f9840a85d5aF5bf1D1762F925BDADdC4201F984")

	require.NoError(t, err)
	require.NotNil(t, cfg)
	require.Len(t, cfg.Tokens, 1)
	assert.Equal(t, common.HexToAddress("0x1f9840a85d5aF5bf1D1762F925BDADdC4201F984"), cfg.Tokens[0])
}

func TestBuildConfig_InvalidTokenAddress(t *testing.T) {
	t.Parallel()

	cfg, err := parseConfig(t, "--token-address", "not-an-address")

	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "invalid token address")
}

func TestBuildConfig_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{
			name:    "empty rpc url",
			args:    []string{"--rpc-url", ""},
			wantErr: "rpc-url is required",
		},
		{
			name:    "zero chain id",
			args:    []string{"--chain-id", "0"},
			wantErr: "chain-id must be non-zero",
		},
		{
			name:    "empty db path",
			args:    []string{"--db-path", ""},
			wantErr: "db-path is required",
		},
		{
			name:    "zero batch span",
			args:    []string{"--max-batch-span", "0"},
			wantErr: "max-batch-span must be at least 1",
		},
		{
			name:    "zero poll interval",
			args:    []string{"--poll-interval", "0s"},
			wantErr: "poll-interval must be positive",
		},
		{
			name:    "zero fetch attempts",
			args:    []string{"--fetch-attempts", "0"},
			wantErr: "fetch-attempts must be at least 1",
		},
		{
			name:    "zero backoff delay",
			args:    []string{"--backoff-max-delay", "0s"},
			wantErr: "backoff-max-delay must be positive",
		},
		{
			name:    "zero queue depth",
			args:    []string{"--queue-depth", "0"},
			wantErr: "queue-depth must be at least 1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg, err := parseConfig(t, tt.args...)

			require.Error(t, err)
			assert.Nil(t, cfg)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
