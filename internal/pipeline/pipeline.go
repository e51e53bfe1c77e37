// Package pipeline drives continuous indexing of one chain: it computes the
// next unindexed block range from the checkpoint, then streams that range
// through fetch, decode and persist stages until the chain tip is reached,
// polling for new blocks once caught up.
//
// The stages run concurrently and hand over work through bounded channels,
// so range N+1 is fetched while range N is still being decoded or written.
// Batches reach the persist stage in block order, which keeps the checkpoint
// honest: a crash can only lose the tail, never leave a gap.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/evertrace/transfer-indexer/internal/chainclient"
	"github.com/evertrace/transfer-indexer/internal/decoder"
	"github.com/evertrace/transfer-indexer/internal/types"
	"github.com/evertrace/transfer-indexer/pkg/data/sqlite/transfers"
	"github.com/evertrace/transfer-indexer/pkg/metrics"
)

// Queue label values reported to the queue depth gauge.
const (
	queueLogs   = "logs"
	queueEvents = "events"
)

// LogFetcher retrieves the transfer logs of an inclusive block range.
type LogFetcher interface {
	Fetch(ctx context.Context, r types.BlockRange) ([]ethtypes.Log, error)
}

// EventDecoder turns a raw log into a transfer event, ErrNotTransfer for
// foreign logs, or a decode error for malformed ones.
type EventDecoder interface {
	Decode(lg ethtypes.Log) (types.TransferEvent, error)
}

// Config carries the scalar knobs of a pipeline instance.
type Config struct {
	ChainID      uint64
	StartBlock   uint64
	MaxBatchSpan uint64
	PollInterval time.Duration
	// MaxBackoff caps the delay between restart attempts after a failed
	// cycle. The attempt count itself is unbounded.
	MaxBackoff time.Duration
	// QueueDepth bounds each inter-stage channel, capping how many ranges
	// may be in flight at once.
	QueueDepth int
}

type Pipeline struct {
	cfg     Config
	client  chainclient.ChainClient
	fetcher LogFetcher
	decoder EventDecoder
	repo    transfers.Repository
	log     *zap.SugaredLogger
	metrics *metrics.Metrics
}

func New(
	cfg Config,
	client chainclient.ChainClient,
	fetcher LogFetcher,
	decoder EventDecoder,
	repo transfers.Repository,
	log *zap.SugaredLogger,
	metrics *metrics.Metrics,
) *Pipeline {
	if cfg.MaxBatchSpan == 0 {
		cfg.MaxBatchSpan = 1
	}
	if cfg.QueueDepth < 1 {
		cfg.QueueDepth = 1
	}

	return &Pipeline{
		cfg:     cfg,
		client:  client,
		fetcher: fetcher,
		decoder: decoder,
		repo:    repo,
		log:     log,
		metrics: metrics,
	}
}

// Run indexes until ctx is canceled. A cycle that reaches the chain tip is
// followed by a poll interval wait; a cycle that fails is followed by an
// exponentially growing delay and a restart from the persisted checkpoint,
// indefinitely. The delay resets whenever a cycle persists at least one
// batch, so a chain that is slowly making progress is never punished with
// long waits.
func (p *Pipeline) Run(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = p.cfg.MaxBackoff
	bo.MaxElapsedTime = 0

	for {
		progressed, err := p.runCycle(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if err == nil {
			bo.Reset()
			if !p.sleep(ctx, p.cfg.PollInterval) {
				return ctx.Err()
			}
			continue
		}

		if progressed {
			bo.Reset()
		}
		delay := bo.NextBackOff()

		if p.metrics != nil {
			p.metrics.IncBackoff()
		}
		p.log.Errorw("indexing cycle failed, backing off",
			"chain_id", p.cfg.ChainID,
			"delay", delay,
			"error", err,
		)

		if !p.sleep(ctx, delay) {
			return ctx.Err()
		}
	}
}

// runCycle indexes from the checkpoint to the chain tip through the three
// concurrent stages. It returns once caught up or on the first stage error,
// and reports whether any batch was persisted.
func (p *Pipeline) runCycle(ctx context.Context) (progressed bool, err error) {
	cp, exists, err := p.repo.LoadCheckpoint(ctx, p.cfg.ChainID)
	if err != nil {
		return false, err
	}
	if !exists {
		cp = int64(p.cfg.StartBlock) - 1
	}
	from := uint64(cp + 1)

	tip, err := p.tip(ctx)
	if err != nil {
		return false, err
	}
	if from > tip {
		p.log.Debugw("caught up with chain tip",
			"chain_id", p.cfg.ChainID,
			"checkpoint", cp,
			"tip", tip,
		)
		return false, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	logs := make(chan logBatch, p.cfg.QueueDepth)
	events := make(chan eventBatch, p.cfg.QueueDepth)

	g.Go(func() error {
		return p.produce(gctx, from, tip, logs)
	})
	g.Go(func() error {
		return p.decode(gctx, logs, events)
	})
	g.Go(func() error {
		return p.persist(gctx, events, &progressed)
	})

	err = g.Wait()
	return progressed, err
}

type logBatch struct {
	r    types.BlockRange
	logs []ethtypes.Log
}

type eventBatch struct {
	r      types.BlockRange
	events []types.TransferEvent
}

// produce walks ranges of at most MaxBatchSpan blocks from `from` towards
// the tip, fetching each and handing it downstream. The tip is re-queried
// when reached, so blocks mined during a long cycle are picked up without
// waiting for the next one.
func (p *Pipeline) produce(ctx context.Context, from, tip uint64, out chan<- logBatch) error {
	defer close(out)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if from > tip {
			newTip, err := p.tip(ctx)
			if err != nil {
				return err
			}
			if from > newTip {
				return nil
			}
			tip = newTip
		}

		r := types.BlockRange{From: from, To: min(tip, from+p.cfg.MaxBatchSpan-1)}

		fetched, err := p.fetcher.Fetch(ctx, r)
		if err != nil {
			return err
		}

		select {
		case out <- logBatch{r: r, logs: fetched}:
		case <-ctx.Done():
			return ctx.Err()
		}
		if p.metrics != nil {
			p.metrics.SetQueueDepth(queueLogs, len(out))
		}

		from = r.To + 1
	}
}

// decode converts each batch of raw logs into transfer events. Logs of other
// event types are dropped quietly; logs that carry the transfer signature
// but do not decode are logged and dropped, since one corrupt log must not
// stall the chain.
func (p *Pipeline) decode(ctx context.Context, in <-chan logBatch, out chan<- eventBatch) error {
	defer close(out)

	for batch := range in {
		events := make([]types.TransferEvent, 0, len(batch.logs))
		for _, lg := range batch.logs {
			ev, err := p.decoder.Decode(lg)
			if errors.Is(err, decoder.ErrNotTransfer) {
				if p.metrics != nil {
					p.metrics.IncLogSkipped()
				}
				continue
			}
			if err != nil {
				if p.metrics != nil {
					p.metrics.IncDecodeFailure()
				}
				p.log.Warnw("skipping undecodable log",
					"chain_id", p.cfg.ChainID,
					"block", lg.BlockNumber,
					"tx", lg.TxHash.Hex(),
					"log_index", lg.Index,
					"error", err,
				)
				continue
			}
			events = append(events, ev)
		}

		select {
		case out <- eventBatch{r: batch.r, events: events}:
		case <-ctx.Done():
			return ctx.Err()
		}
		if p.metrics != nil {
			p.metrics.SetQueueDepth(queueEvents, len(out))
		}
	}

	return nil
}

// persist writes each batch and its checkpoint in one transaction. Batches
// arrive in block order from a single upstream, so the checkpoint can never
// run ahead of a range that has not committed yet.
func (p *Pipeline) persist(ctx context.Context, in <-chan eventBatch, progressed *bool) error {
	for batch := range in {
		if err := p.repo.Advance(ctx, p.cfg.ChainID, batch.r, batch.events); err != nil {
			return err
		}
		*progressed = true

		p.log.Infow("indexed range",
			"chain_id", p.cfg.ChainID,
			"from", batch.r.From,
			"to", batch.r.To,
			"transfers", len(batch.events),
		)
	}

	return nil
}

func (p *Pipeline) tip(ctx context.Context) (uint64, error) {
	tip, err := p.client.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("get chain tip: %w", err)
	}
	if p.metrics != nil {
		p.metrics.SetChainTip(tip)
	}
	return tip, nil
}

// sleep waits for d or until ctx is canceled, reporting whether the full
// duration elapsed.
func (p *Pipeline) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
