package relayer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"bridgeRelay/internal/model"
	"bridgeRelay/internal/state"
)

// Source supplies raw bridge events and the source chain head.
type Source interface {
	Poll(ctx context.Context, fromHeight uint64) (PollResult, error)
	Head(ctx context.Context) (uint64, error)
}

// Sink delivers confirmed events to the relay endpoint.
type Sink interface {
	Submit(ctx context.Context, event model.ConfirmedEvent) (model.Ack, error)
}

// PipelineConfig holds runtime settings for one pipeline instance.
type PipelineConfig struct {
	PollInterval      time.Duration
	ConfirmationDepth uint64
	// StartBlock is the first block to watch when no checkpoint exists.
	// Zero means start at the current head and skip history.
	StartBlock uint64
}

// Pipeline drives the poll, confirm, submit cycle for one contract. It owns
// the checkpoint: no block height is marked processed until every event at
// or below it has been submitted or permanently rejected.
type Pipeline struct {
	cfg    PipelineConfig
	source Source
	gate   *Gate
	sink   Sink
	store  state.Store
	logger *zap.Logger

	checkpoint uint64
}

// NewPipeline wires the pipeline components together.
func NewPipeline(cfg PipelineConfig, source Source, gate *Gate, sink Sink, store state.Store, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	return &Pipeline{
		cfg:    cfg,
		source: source,
		gate:   gate,
		sink:   sink,
		store:  store,
		logger: logger,
	}
}

// Checkpoint returns the last fully resolved block height.
func (p *Pipeline) Checkpoint() uint64 {
	return p.checkpoint
}

// Run executes the tick loop until ctx is cancelled. Cancellation is a
// graceful stop: the current tick finishes and Run returns nil.
func (p *Pipeline) Run(ctx context.Context) error {
	if err := p.loadCheckpoint(ctx); err != nil {
		return err
	}

	p.logger.Info("pipeline start",
		zap.Uint64("checkpoint", p.checkpoint),
		zap.Uint64("confirmation_depth", p.cfg.ConfirmationDepth),
		zap.Duration("poll_interval", p.cfg.PollInterval),
	)

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if err := p.runTick(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				p.logger.Info("pipeline stopped", zap.Uint64("checkpoint", p.checkpoint))
				return nil
			}
			return err
		}

		select {
		case <-ctx.Done():
			p.logger.Info("pipeline stopped", zap.Uint64("checkpoint", p.checkpoint))
			return nil
		case <-ticker.C:
		}
	}
}

func (p *Pipeline) loadCheckpoint(ctx context.Context) error {
	cp, ok, err := p.store.LoadCheckpoint(ctx)
	if err != nil {
		return fmt.Errorf("load checkpoint: %w", err)
	}
	if ok {
		p.checkpoint = cp
		p.logger.Info("resume from checkpoint", zap.Uint64("last_processed", cp))
		return nil
	}

	if p.cfg.StartBlock > 0 {
		p.checkpoint = p.cfg.StartBlock - 1
		return nil
	}

	head, err := p.source.Head(ctx)
	if err != nil {
		return fmt.Errorf("get initial head: %w", err)
	}
	p.checkpoint = head
	p.logger.Info("no checkpoint, starting at head", zap.Uint64("head", head))
	return nil
}

// runTick executes one poll-confirm-submit cycle. It returns an error only
// on cancellation or when durable state cannot be written; per-event and
// connectivity failures are tick-local.
func (p *Pipeline) runTick(ctx context.Context) error {
	result, err := p.source.Poll(ctx, p.checkpoint+1)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// Degraded, not fatal: the tick is skipped and the checkpoint
		// stays where it was.
		p.logger.Warn("pipeline degraded: poll failed", zap.Error(err))
		return nil
	}

	confirmed := p.gate.Observe(result)

	halted := false
	var haltBlock uint64
	for _, event := range confirmed {
		_, err := p.sink.Submit(ctx, event)
		if err == nil {
			continue
		}

		var rejected *RelayRejectedError
		if errors.As(err, &rejected) {
			// Permanent outcome; the checkpoint may pass this event.
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		// Unresolved: this event and everything after it will be
		// re-observed next tick, to preserve submission order.
		p.logger.Warn("submission deferred to next tick",
			zap.String("identity", event.Identity.String()),
			zap.Uint64("block", event.Payload.BlockNumber),
			zap.Error(err),
		)
		halted = true
		haltBlock = event.Payload.BlockNumber
		break
	}

	next := p.nextCheckpoint(result, halted, haltBlock)
	if next > p.checkpoint {
		if err := p.store.SaveCheckpoint(ctx, next); err != nil {
			return fmt.Errorf("save checkpoint: %w", err)
		}
		p.checkpoint = next
	}

	p.logger.Debug("tick complete",
		zap.Uint64("head", result.Head),
		zap.Uint64("checkpoint", p.checkpoint),
		zap.Int("events", len(result.Events)),
		zap.Int("confirmed", len(confirmed)),
		zap.Int("pending", p.gate.PendingCount()),
	)
	return nil
}

// nextCheckpoint computes how far the checkpoint may advance after a tick.
// On a clean tick it moves to the scanned window end, but never past the
// confirmation horizon (blocks above head-depth are re-read next tick for
// reorg detection). A halted tick pins it just below the unresolved event.
func (p *Pipeline) nextCheckpoint(result PollResult, halted bool, haltBlock uint64) uint64 {
	if halted {
		if haltBlock == 0 {
			return 0
		}
		return haltBlock - 1
	}

	if result.Head < p.cfg.ConfirmationDepth {
		return 0
	}
	horizon := result.Head - p.cfg.ConfirmationDepth
	if result.WindowTo < horizon {
		return result.WindowTo
	}
	return horizon
}
