// Package fetcher retrieves transfer logs from an Ethereum JSON-RPC
// endpoint over inclusive block ranges. Providers cap eth_getLogs responses
// at limits they do not advertise, so the fetcher narrows rejected ranges
// by halving until the provider accepts them.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"

	"github.com/evertrace/transfer-indexer/internal/chainclient"
	"github.com/evertrace/transfer-indexer/internal/types"
	"github.com/evertrace/transfer-indexer/pkg/metrics"
)

const (
	retryInitialInterval = 500 * time.Millisecond
	retryMaxInterval     = 10 * time.Second
)

// ErrExhausted indicates that a range could not be fetched within the
// configured number of attempts. The caller aborts the current cycle and
// retries the same range later; the checkpoint is left untouched.
var ErrExhausted = errors.New("log fetch attempts exhausted")

// limit exceeded, per EIP-1474
const codeLimitExceeded = -32005

type Fetcher struct {
	client      chainclient.ChainClient
	topic       common.Hash
	tokens      []common.Address
	maxAttempts uint64
	log         *zap.SugaredLogger
	metrics     *metrics.Metrics
}

// New builds a Fetcher that queries logs matching topic. An empty tokens
// slice matches transfers of every contract; a non-empty one restricts the
// query to those token addresses. maxAttempts bounds the tries per request,
// including the first.
func New(
	client chainclient.ChainClient,
	topic common.Hash,
	tokens []common.Address,
	maxAttempts uint64,
	log *zap.SugaredLogger,
	metrics *metrics.Metrics,
) *Fetcher {
	if maxAttempts == 0 {
		maxAttempts = 1
	}

	return &Fetcher{
		client:      client,
		topic:       topic,
		tokens:      tokens,
		maxAttempts: maxAttempts,
		log:         log,
		metrics:     metrics,
	}
}

// Fetch returns all matching logs in r, ascending by (block number, log
// index). It has no side effects beyond the RPC calls, so a failed fetch can
// be redone from scratch.
func (f *Fetcher) Fetch(ctx context.Context, r types.BlockRange) ([]ethtypes.Log, error) {
	if r.Span() == 0 {
		return nil, nil
	}

	logs, err := f.fetchRange(ctx, r.From, r.To)
	if err != nil {
		return nil, err
	}

	for _, lg := range logs {
		if lg.BlockNumber < r.From || lg.BlockNumber > r.To {
			return nil, fmt.Errorf("provider returned log outside requested range: block %d not in [%d, %d]",
				lg.BlockNumber, r.From, r.To)
		}
	}

	// Sub-ranges are fetched in order and providers return sorted logs, but
	// the persist path depends on the ordering, so enforce it here.
	sort.SliceStable(logs, func(i, j int) bool {
		if logs[i].BlockNumber != logs[j].BlockNumber {
			return logs[i].BlockNumber < logs[j].BlockNumber
		}
		return logs[i].Index < logs[j].Index
	})

	if f.metrics != nil {
		f.metrics.AddLogsFetched(len(logs))
	}

	f.log.Debugw("fetched logs", "from", r.From, "to", r.To, "count", len(logs))

	return logs, nil
}

func (f *Fetcher) fetchRange(ctx context.Context, from, to uint64) ([]ethtypes.Log, error) {
	logs, err := f.fetchWithRetry(ctx, from, to)
	if err == nil {
		return logs, nil
	}

	if !isRangeTooWide(err) {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("%w for [%d, %d]: %v", ErrExhausted, from, to, err)
	}

	if from == to {
		return nil, fmt.Errorf("provider rejected single-block range %d: %w", from, err)
	}

	mid := from + (to-from)/2

	if f.metrics != nil {
		f.metrics.IncRangeSplit()
	}
	f.log.Warnw("provider rejected range, splitting",
		"from", from,
		"to", to,
		"mid", mid,
	)

	left, err := f.fetchRange(ctx, from, mid)
	if err != nil {
		return nil, err
	}
	right, err := f.fetchRange(ctx, mid+1, to)
	if err != nil {
		return nil, err
	}

	return append(left, right...), nil
}

func (f *Fetcher) fetchWithRetry(ctx context.Context, from, to uint64) ([]ethtypes.Log, error) {
	q := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: f.tokens,
		Topics:    [][]common.Hash{{f.topic}},
	}

	op := func() ([]ethtypes.Log, error) {
		logs, err := f.client.FilterLogs(ctx, q)
		if err != nil && isRangeTooWide(err) {
			// Retrying the same width cannot succeed; surface it so the
			// caller splits the range instead.
			return nil, backoff.Permanent(err)
		}
		return logs, err
	}

	notify := func(err error, wait time.Duration) {
		if f.metrics != nil {
			f.metrics.IncFetchRetry()
		}
		f.log.Warnw("log fetch failed, retrying",
			"from", from,
			"to", to,
			"wait", wait,
			"error", err,
		)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = retryInitialInterval
	bo.MaxInterval = retryMaxInterval

	return backoff.RetryNotifyWithData(
		op,
		backoff.WithContext(backoff.WithMaxRetries(bo, f.maxAttempts-1), ctx),
		notify,
	)
}

// isRangeTooWide reports whether the provider rejected a getLogs call for
// covering too many blocks or results. There is no standard error for this,
// so match the EIP-1474 code plus the phrasings of common providers.
func isRangeTooWide(err error) bool {
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) && rpcErr.ErrorCode() == codeLimitExceeded {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, s := range []string{
		"query returned more than",
		"block range is too wide",
		"block range too large",
		"exceed maximum block range",
		"too many results",
		"response size exceeded",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}

	return false
}
