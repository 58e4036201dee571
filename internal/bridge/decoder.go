package bridge

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"bridgeRelay/internal/model"
)

// Decoder converts raw TokensLocked logs into typed raw events.
type Decoder struct {
	event abi.Event
}

// NewDecoder builds a decoder for the TokensLocked event.
func NewDecoder() (*Decoder, error) {
	parsed, err := BridgeABI()
	if err != nil {
		return nil, err
	}
	event, ok := parsed.Events[EventTokensLocked]
	if !ok {
		return nil, fmt.Errorf("abi is missing %s event", EventTokensLocked)
	}
	return &Decoder{event: event}, nil
}

// Topic0 returns the event signature hash the log filter must match.
func (d *Decoder) Topic0() common.Hash {
	return d.event.ID
}

// CanDecode checks whether the log carries the TokensLocked topic0.
func (d *Decoder) CanDecode(log types.Log) bool {
	return len(log.Topics) > 0 && log.Topics[0] == d.event.ID
}

// Decode converts a filtered log into a RawEvent. Failures are reported
// as MalformedEventError so the caller can skip the single event.
func (d *Decoder) Decode(log types.Log) (model.RawEvent, error) {
	identity := model.EventIdentity{TxHash: log.TxHash, LogIndex: log.Index}

	if len(log.Topics) != 3 {
		return model.RawEvent{}, &model.MalformedEventError{
			Identity: identity,
			Field:    "topics",
			Reason:   fmt.Sprintf("expected 3 topics, got %d", len(log.Topics)),
		}
	}
	if log.Topics[0] != d.event.ID {
		return model.RawEvent{}, &model.MalformedEventError{
			Identity: identity,
			Field:    "topic0",
			Reason:   fmt.Sprintf("unexpected signature %s", log.Topics[0].Hex()),
		}
	}

	var indexed struct {
		User  common.Address
		Token common.Address
	}
	if err := abi.ParseTopics(&indexed, indexedArguments(d.event.Inputs), log.Topics[1:]); err != nil {
		return model.RawEvent{}, &model.MalformedEventError{
			Identity: identity,
			Field:    "topics",
			Reason:   err.Error(),
		}
	}

	values, err := d.event.Inputs.NonIndexed().Unpack(log.Data)
	if err != nil {
		return model.RawEvent{}, &model.MalformedEventError{
			Identity: identity,
			Field:    "data",
			Reason:   err.Error(),
		}
	}
	if len(values) != 3 {
		return model.RawEvent{}, &model.MalformedEventError{
			Identity: identity,
			Field:    "data",
			Reason:   fmt.Sprintf("expected 3 values, got %d", len(values)),
		}
	}

	amount, ok := values[0].(*big.Int)
	if !ok {
		return model.RawEvent{}, &model.MalformedEventError{
			Identity: identity,
			Field:    "amount",
			Reason:   fmt.Sprintf("unexpected type %T", values[0]),
		}
	}
	destChainID, ok := values[1].(*big.Int)
	if !ok {
		return model.RawEvent{}, &model.MalformedEventError{
			Identity: identity,
			Field:    "destinationChainId",
			Reason:   fmt.Sprintf("unexpected type %T", values[1]),
		}
	}
	transactionID, ok := values[2].([32]byte)
	if !ok {
		return model.RawEvent{}, &model.MalformedEventError{
			Identity: identity,
			Field:    "transactionId",
			Reason:   fmt.Sprintf("unexpected type %T", values[2]),
		}
	}

	return model.RawEvent{
		BlockNumber:        log.BlockNumber,
		BlockHash:          log.BlockHash,
		TxHash:             log.TxHash,
		LogIndex:           log.Index,
		User:               indexed.User,
		Token:              indexed.Token,
		Amount:             amount,
		DestinationChainID: destChainID,
		TransactionID:      common.Hash(transactionID),
	}, nil
}

func indexedArguments(args abi.Arguments) abi.Arguments {
	indexed := make(abi.Arguments, 0, len(args))
	for _, arg := range args {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	return indexed
}
