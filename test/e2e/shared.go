//go:build e2e

package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/evertrace/transfer-indexer/internal/chainclient/geth"
	"github.com/evertrace/transfer-indexer/internal/decoder"
	"github.com/evertrace/transfer-indexer/internal/fetcher"
	"github.com/evertrace/transfer-indexer/internal/pipeline"
	"github.com/evertrace/transfer-indexer/pkg/data/sqlite/transfers"
	"github.com/evertrace/transfer-indexer/pkg/utils"
)

const testChainID = 11155111

type rpcRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	ID      json.RawMessage   `json:"id"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type filterArgs struct {
	FromBlock string           `json:"fromBlock"`
	ToBlock   string           `json:"toBlock"`
	Address   []common.Address `json:"address"`
	Topics    [][]common.Hash  `json:"topics"`
}

// fakeChain is an in-memory Ethereum JSON-RPC endpoint serving eth_chainId,
// eth_blockNumber and eth_getLogs, enough to drive the whole indexer without
// touching a real network.
type fakeChain struct {
	chainID uint64

	mu      sync.Mutex
	tip     uint64
	logs    []ethtypes.Log
	maxSpan uint64 // reject eth_getLogs requests wider than this; 0 disables
	queries int
}

func newFakeChain(chainID, tip uint64) *fakeChain {
	return &fakeChain{chainID: chainID, tip: tip}
}

func (f *fakeChain) serve(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return srv.URL
}

func (f *fakeChain) setTip(n uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tip = n
}

// getLogsQueries returns how many eth_getLogs requests were served,
// including rejected ones.
func (f *fakeChain) getLogsQueries() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.queries
}

// addTransfer appends a well-formed ERC20 transfer log for the given block.
func (f *fakeChain) addTransfer(block uint64, logIndex uint, token, from, to common.Address, value *big.Int) {
	f.addLog(ethtypes.Log{
		Address: token,
		Topics: []common.Hash{
			decoder.TransferTopic,
			common.BytesToHash(common.LeftPadBytes(from.Bytes(), 32)),
			common.BytesToHash(common.LeftPadBytes(to.Bytes(), 32)),
		},
		Data:        common.LeftPadBytes(value.Bytes(), 32),
		BlockNumber: block,
		TxHash:      common.BigToHash(new(big.Int).SetUint64(block*1000 + uint64(logIndex))),
		Index:       logIndex,
	})
}

func (f *fakeChain) addLog(lg ethtypes.Log) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs = append(f.logs, lg)
}

func (f *fakeChain) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	resp := rpcResponse{JSONRPC: "2.0", ID: req.ID}
	switch req.Method {
	case "eth_chainId":
		resp.Result = hexutil.EncodeUint64(f.chainID)
	case "eth_blockNumber":
		f.mu.Lock()
		resp.Result = hexutil.EncodeUint64(f.tip)
		f.mu.Unlock()
	case "eth_getLogs":
		result, rpcErr := f.handleGetLogs(req.Params)
		if rpcErr != nil {
			resp.Error = rpcErr
		} else {
			resp.Result = result
		}
	default:
		resp.Error = &rpcError{Code: -32601, Message: fmt.Sprintf("the method %s does not exist", req.Method)}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (f *fakeChain) handleGetLogs(params []json.RawMessage) ([]ethtypes.Log, *rpcError) {
	if len(params) != 1 {
		return nil, &rpcError{Code: -32602, Message: "expected one filter argument"}
	}
	var arg filterArgs
	if err := json.Unmarshal(params[0], &arg); err != nil {
		return nil, &rpcError{Code: -32602, Message: err.Error()}
	}
	from, err := hexutil.DecodeUint64(arg.FromBlock)
	if err != nil {
		return nil, &rpcError{Code: -32602, Message: "bad fromBlock: " + err.Error()}
	}
	to, err := hexutil.DecodeUint64(arg.ToBlock)
	if err != nil {
		return nil, &rpcError{Code: -32602, Message: "bad toBlock: " + err.Error()}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries++

	if f.maxSpan > 0 && to-from+1 > f.maxSpan {
		return nil, &rpcError{Code: -32005, Message: "query returned more than 10000 results"}
	}

	matched := make([]ethtypes.Log, 0)
	for _, lg := range f.logs {
		if lg.BlockNumber < from || lg.BlockNumber > to {
			continue
		}
		if len(arg.Address) > 0 && !containsAddress(arg.Address, lg.Address) {
			continue
		}
		if !topicsMatch(arg.Topics, lg.Topics) {
			continue
		}
		matched = append(matched, lg)
	}
	return matched, nil
}

func containsAddress(addrs []common.Address, addr common.Address) bool {
	for _, a := range addrs {
		if a == addr {
			return true
		}
	}
	return false
}

// topicsMatch applies eth_getLogs filter semantics: each position must match
// one of the given hashes, an empty position matches anything.
func topicsMatch(filter [][]common.Hash, topics []common.Hash) bool {
	if len(filter) > len(topics) {
		return false
	}
	for i, want := range filter {
		if len(want) == 0 {
			continue
		}
		ok := false
		for _, h := range want {
			if topics[i] == h {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

// startIndexer wires the full stack (rpc client, repository, decoder, fetcher,
// pipeline) against the given endpoint and database file and starts it. The
// returned stop func shuts the indexer down and closes the database.
func startIndexer(t *testing.T, rpcURL, dbPath string, tokens []common.Address, maxBatchSpan uint64) (transfers.Repository, *gorm.DB, func()) {
	t.Helper()

	log, err := utils.NewSugaredLogger(true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Desugar().Sync() })

	ctx, cancel := context.WithCancel(context.Background())

	client, err := geth.New(ctx, rpcURL)
	require.NoError(t, err)

	chainID, err := client.ChainID(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(testChainID), chainID)

	db, err := transfers.Open(dbPath)
	require.NoError(t, err)

	repo, err := transfers.NewRepository(db, nil)
	require.NoError(t, err)
	require.NoError(t, repo.SeedCheckpoint(ctx, chainID, 0))

	dec, err := decoder.New(chainID)
	require.NoError(t, err)

	f := fetcher.New(client, decoder.TransferTopic, tokens, 3, log, nil)

	pipe := pipeline.New(pipeline.Config{
		ChainID:      chainID,
		StartBlock:   0,
		MaxBatchSpan: maxBatchSpan,
		PollInterval: 20 * time.Millisecond,
		MaxBackoff:   100 * time.Millisecond,
		QueueDepth:   3,
	}, client, f, dec, repo, log, nil)

	done := make(chan error, 1)
	go func() { done <- pipe.Run(ctx) }()

	stop := func() {
		cancel()
		select {
		case err := <-done:
			require.ErrorIs(t, err, context.Canceled)
		case <-time.After(5 * time.Second):
			t.Fatal("indexer did not stop")
		}
		client.Close()
		closeGorm(t, db)
	}
	return repo, db, stop
}

func closeGorm(t *testing.T, db *gorm.DB) {
	t.Helper()
	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())
}

// waitForCheckpoint polls the sync row for the chain until it reaches want or
// the deadline expires.
func waitForCheckpoint(t *testing.T, repo transfers.Repository, chainID uint64, want int64) {
	t.Helper()
	require.Eventually(t, func() bool {
		cp, ok, err := repo.LoadCheckpoint(context.Background(), chainID)
		return err == nil && ok && cp >= want
	}, 10*time.Second, 20*time.Millisecond, "checkpoint did not reach %d", want)
}

func countTransfers(t *testing.T, db *gorm.DB, chainID uint64) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(&transfers.Transfer{}).Where("chain_id = ?", chainID).Count(&n).Error)
	return n
}
