package model

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// RawEvent is a decoded TokensLocked log as observed on the source chain.
type RawEvent struct {
	BlockNumber        uint64
	BlockHash          common.Hash
	TxHash             common.Hash
	LogIndex           uint
	User               common.Address
	Token              common.Address
	Amount             *big.Int
	DestinationChainID *big.Int
	TransactionID      common.Hash
}

// Identity returns the stable identity of the event occurrence.
func (e RawEvent) Identity() EventIdentity {
	return EventIdentity{TxHash: e.TxHash, LogIndex: e.LogIndex}
}

// Equal reports whether two observations carry the same content.
func (e RawEvent) Equal(other RawEvent) bool {
	return e.BlockNumber == other.BlockNumber &&
		e.BlockHash == other.BlockHash &&
		e.TxHash == other.TxHash &&
		e.LogIndex == other.LogIndex &&
		e.User == other.User &&
		e.Token == other.Token &&
		bigEqual(e.Amount, other.Amount) &&
		bigEqual(e.DestinationChainID, other.DestinationChainID) &&
		e.TransactionID == other.TransactionID
}

func bigEqual(a, b *big.Int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Cmp(b) == 0
}

// EventIdentity uniquely identifies one event occurrence across polls.
type EventIdentity struct {
	TxHash   common.Hash
	LogIndex uint
}

// String renders the identity in the form used by the dedup ledger.
func (id EventIdentity) String() string {
	return fmt.Sprintf("%s:%d", id.TxHash.Hex(), id.LogIndex)
}

// PendingEvent is a buffered observation awaiting confirmation depth.
type PendingEvent struct {
	Raw           RawEvent
	FirstSeenTick uint64
}

// ConfirmedEvent is the canonical unit handed to the relay submitter.
type ConfirmedEvent struct {
	Identity EventIdentity
	Payload  RelayPayload
}

// RelayPayload is the JSON body accepted by the relay sink.
type RelayPayload struct {
	User               string `json:"user"`
	Token              string `json:"token"`
	Amount             string `json:"amount"`
	DestinationChainID string `json:"destinationChainId"`
	TransactionID      string `json:"sourceTransactionId"`
	BlockNumber        uint64 `json:"blockNumber"`
	TxHash             string `json:"txHash"`
}

// Ack is the sink's acknowledgement of a submitted event.
type Ack struct {
	Reference string
	Duplicate bool
}
