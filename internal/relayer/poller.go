package relayer

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"bridgeRelay/internal/chain"
	"bridgeRelay/internal/model"
)

// ChainReader is the slice of the chain client the poller depends on.
type ChainReader interface {
	HeadNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, fromBlock, toBlock uint64, contract common.Address, topic0 common.Hash) ([]types.Log, error)
	Reconnect(ctx context.Context) error
}

// LogDecoder converts filtered logs into typed raw events.
type LogDecoder interface {
	Decode(log types.Log) (model.RawEvent, error)
}

// PollerConfig holds tuning knobs for the event poller.
type PollerConfig struct {
	Contract      common.Address
	Topic0        common.Hash
	MaxBlockRange uint64
	QueryRetries  int
	BackoffBase   time.Duration
	BackoffMax    time.Duration
	CallTimeout   time.Duration
}

// PollResult is one tick's worth of source observations. Events covers the
// window [WindowFrom, WindowTo]; Head is the chain head at query time.
// Skipped lists log positions present in the window that could not be
// decoded, so a buffered event is not mistaken for reorged-out when a
// later re-read of its log glitches.
type PollResult struct {
	Events     []model.RawEvent
	Skipped    []model.EventIdentity
	WindowFrom uint64
	WindowTo   uint64
	Head       uint64
}

// Poller queries the source chain for new bridge events since a checkpoint.
// It owns reconnection of the underlying transport: connectivity loss fails
// the current tick only, never the process.
type Poller struct {
	cfg     PollerConfig
	client  ChainReader
	decoder LogDecoder
	logger  *zap.Logger
}

// NewPoller builds a Poller with its dependencies.
func NewPoller(cfg PollerConfig, client ChainReader, decoder LogDecoder, logger *zap.Logger) *Poller {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxBlockRange == 0 {
		cfg.MaxBlockRange = 1000
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 15 * time.Second
	}
	return &Poller{cfg: cfg, client: client, decoder: decoder, logger: logger}
}

// Poll fetches the head and all bridge events in [fromHeight, window end].
// Transient query failures are retried briefly; transport failures trigger
// an unbounded reconnect loop before the tick is surfaced as failed.
func (p *Poller) Poll(ctx context.Context, fromHeight uint64) (PollResult, error) {
	head, err := p.headWithRetry(ctx)
	if err != nil {
		return PollResult{}, p.classify(ctx, err, "get head")
	}

	if fromHeight > head {
		return PollResult{WindowFrom: fromHeight, WindowTo: head, Head: head}, nil
	}

	to := head
	if to-fromHeight+1 > p.cfg.MaxBlockRange {
		to = fromHeight + p.cfg.MaxBlockRange - 1
	}

	logs, err := p.filterWithRetry(ctx, fromHeight, to)
	if err != nil {
		return PollResult{}, p.classify(ctx, err, "filter logs")
	}

	events := make([]model.RawEvent, 0, len(logs))
	var skipped []model.EventIdentity
	for _, log := range logs {
		event, err := p.decoder.Decode(log)
		if err != nil {
			p.logger.Warn("skip undecodable log",
				zap.Uint64("block", log.BlockNumber),
				zap.String("tx_hash", log.TxHash.Hex()),
				zap.Uint("log_index", log.Index),
				zap.Error(err),
			)
			skipped = append(skipped, model.EventIdentity{TxHash: log.TxHash, LogIndex: log.Index})
			continue
		}
		events = append(events, event)
	}

	sort.Slice(events, func(i, j int) bool {
		if events[i].BlockNumber != events[j].BlockNumber {
			return events[i].BlockNumber < events[j].BlockNumber
		}
		return events[i].LogIndex < events[j].LogIndex
	})

	return PollResult{Events: events, Skipped: skipped, WindowFrom: fromHeight, WindowTo: to, Head: head}, nil
}

// Head returns the current head height of the source chain.
func (p *Poller) Head(ctx context.Context) (uint64, error) {
	head, err := p.headWithRetry(ctx)
	if err != nil {
		return 0, p.classify(ctx, err, "get head")
	}
	return head, nil
}

func (p *Poller) headWithRetry(ctx context.Context) (uint64, error) {
	var head uint64
	err := withRetry(ctx, p.cfg.QueryRetries, p.cfg.BackoffBase, p.cfg.BackoffMax, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, p.cfg.CallTimeout)
		defer cancel()
		var err error
		head, err = p.client.HeadNumber(callCtx)
		return err
	})
	return head, err
}

func (p *Poller) filterWithRetry(ctx context.Context, from, to uint64) ([]types.Log, error) {
	var logs []types.Log
	err := withRetry(ctx, p.cfg.QueryRetries, p.cfg.BackoffBase, p.cfg.BackoffMax, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, p.cfg.CallTimeout)
		defer cancel()
		var err error
		logs, err = p.client.FilterLogs(callCtx, from, to, p.cfg.Contract, p.cfg.Topic0)
		if err != nil {
			p.logger.Warn("filter logs failed", zap.Error(err), zap.Uint64("from", from), zap.Uint64("to", to))
		}
		return err
	})
	return logs, err
}

// classify wraps a failed call; transport errors first run the reconnect
// loop so the next tick starts with a live connection.
func (p *Poller) classify(ctx context.Context, err error, op string) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if chain.IsConnectionError(err) {
		if recErr := p.reconnect(ctx); recErr != nil {
			return recErr
		}
		return fmt.Errorf("%s: connection lost: %w", op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// reconnect redials the source with capped exponential backoff until it
// succeeds or the context is cancelled.
func (p *Poller) reconnect(ctx context.Context) error {
	for attempt := 0; ; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, p.cfg.CallTimeout)
		err := p.client.Reconnect(callCtx)
		cancel()
		if err == nil {
			p.logger.Info("source reconnected", zap.Int("attempts", attempt+1))
			return nil
		}

		delay := backoffDelay(p.cfg.BackoffBase, p.cfg.BackoffMax, attempt)
		p.logger.Warn("source unreachable, retrying",
			zap.Int("attempt", attempt+1),
			zap.Duration("next_in", delay),
			zap.Error(err),
		)
		if err := sleepCtx(ctx, delay); err != nil {
			return err
		}
	}
}
