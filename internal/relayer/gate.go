package relayer

import (
	"errors"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"bridgeRelay/internal/model"
)

// Gate buffers observed events until they are buried under the configured
// confirmation depth, and invalidates buffered entries superseded by a
// reorg before they confirm.
type Gate struct {
	depth  uint64
	logger *zap.Logger

	tick   uint64
	buffer map[model.EventIdentity]model.PendingEvent
}

// NewGate builds a confirmation gate. Depth 0 confirms events on first
// sight, with no reorg protection.
func NewGate(depth uint64, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{
		depth:  depth,
		logger: logger,
		buffer: make(map[model.EventIdentity]model.PendingEvent),
	}
}

// PendingCount returns the number of buffered, not yet confirmed events.
func (g *Gate) PendingCount() int {
	return len(g.buffer)
}

// Observe folds one poll result into the buffer and returns the events
// whose confirmation condition is newly met, in ascending
// (blockNumber, logIndex) order. Events that canonicalize badly are
// dropped with a warning; the rest of the batch proceeds.
func (g *Gate) Observe(result PollResult) []model.ConfirmedEvent {
	g.tick++

	fresh := make(map[model.EventIdentity]model.RawEvent, len(result.Events))
	for _, event := range result.Events {
		fresh[event.Identity()] = event
	}
	skipped := make(map[model.EventIdentity]struct{}, len(result.Skipped))
	for _, id := range result.Skipped {
		skipped[id] = struct{}{}
	}

	// Reorg check: a buffered entry inside the re-read window that is now
	// missing, or present with different content, has been superseded.
	// A position the poller reported as undecodable is still on chain, so
	// its buffered entry stays.
	if result.WindowTo >= result.WindowFrom {
		for id, pending := range g.buffer {
			block := pending.Raw.BlockNumber
			if block < result.WindowFrom || block > result.WindowTo {
				continue
			}
			observed, ok := fresh[id]
			if ok && observed.Equal(pending.Raw) {
				continue
			}
			if !ok {
				if _, stillPresent := skipped[id]; stillPresent {
					continue
				}
			}
			delete(g.buffer, id)
			g.logger.Info("pending event invalidated by reorg",
				zap.Uint64("block", block),
				zap.String("tx_hash", pending.Raw.TxHash.Hex()),
				zap.Uint("log_index", pending.Raw.LogIndex),
			)
		}
	}

	for id, event := range fresh {
		if _, ok := g.buffer[id]; ok {
			continue
		}
		g.buffer[id] = model.PendingEvent{Raw: event, FirstSeenTick: g.tick}
	}

	var released []model.RawEvent
	for id, pending := range g.buffer {
		block := pending.Raw.BlockNumber
		if result.Head >= block && result.Head-block >= g.depth {
			released = append(released, pending.Raw)
			delete(g.buffer, id)
		}
	}

	sort.Slice(released, func(i, j int) bool {
		if released[i].BlockNumber != released[j].BlockNumber {
			return released[i].BlockNumber < released[j].BlockNumber
		}
		return released[i].LogIndex < released[j].LogIndex
	})

	confirmed := make([]model.ConfirmedEvent, 0, len(released))
	for _, raw := range released {
		event, err := Canonicalize(raw)
		if err != nil {
			var malformed *model.MalformedEventError
			if errors.As(err, &malformed) {
				g.logger.Warn("skip malformed event", zap.Error(err))
				continue
			}
			g.logger.Error("canonicalize failed", zap.Error(err))
			continue
		}
		confirmed = append(confirmed, event)
	}
	return confirmed
}

// Canonicalize maps a raw event into the payload submitted to the relay
// sink, validating required fields at the confirmation boundary.
func Canonicalize(raw model.RawEvent) (model.ConfirmedEvent, error) {
	identity := raw.Identity()

	if raw.Amount == nil {
		return model.ConfirmedEvent{}, &model.MalformedEventError{
			Identity: identity, Field: "amount", Reason: "missing",
		}
	}
	if raw.DestinationChainID == nil {
		return model.ConfirmedEvent{}, &model.MalformedEventError{
			Identity: identity, Field: "destinationChainId", Reason: "missing",
		}
	}
	if raw.TransactionID == (common.Hash{}) {
		return model.ConfirmedEvent{}, &model.MalformedEventError{
			Identity: identity, Field: "transactionId", Reason: "zero value",
		}
	}

	return model.ConfirmedEvent{
		Identity: identity,
		Payload: model.RelayPayload{
			User:               raw.User.Hex(),
			Token:              raw.Token.Hex(),
			Amount:             raw.Amount.String(),
			DestinationChainID: raw.DestinationChainID.String(),
			TransactionID:      raw.TransactionID.Hex(),
			BlockNumber:        raw.BlockNumber,
			TxHash:             raw.TxHash.Hex(),
		},
	}, nil
}
