package bridge

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"bridgeRelay/internal/model"
)

func packTokensLocked(t *testing.T, amount, destChainID *big.Int, transactionID [32]byte) []byte {
	t.Helper()

	parsed, err := BridgeABI()
	if err != nil {
		t.Fatalf("abi parse: %v", err)
	}
	data, err := parsed.Events[EventTokensLocked].Inputs.NonIndexed().Pack(amount, destChainID, transactionID)
	if err != nil {
		t.Fatalf("pack event: %v", err)
	}
	return data
}

func topicFromAddress(addr common.Address) common.Hash {
	return common.BytesToHash(addr.Bytes())
}

func TestDecodeTokensLocked(t *testing.T) {
	decoder, err := NewDecoder()
	if err != nil {
		t.Fatalf("decoder: %v", err)
	}

	user := common.HexToAddress("0x1111111111111111111111111111111111111111")
	token := common.HexToAddress("0x2222222222222222222222222222222222222222")
	transactionID := common.HexToHash("0xabcdef0000000000000000000000000000000000000000000000000000000001")

	log := types.Log{
		Address:     common.HexToAddress("0x3333333333333333333333333333333333333333"),
		BlockNumber: 100,
		BlockHash:   common.HexToHash("0x04"),
		TxHash:      common.HexToHash("0x05"),
		Index:       7,
		Topics:      []common.Hash{decoder.Topic0(), topicFromAddress(user), topicFromAddress(token)},
		Data:        packTokensLocked(t, big.NewInt(123456), big.NewInt(80001), transactionID),
	}

	event, err := decoder.Decode(log)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if event.User != user || event.Token != token {
		t.Fatalf("address mismatch: %+v", event)
	}
	if event.Amount.String() != "123456" {
		t.Fatalf("amount mismatch: %s", event.Amount)
	}
	if event.DestinationChainID.String() != "80001" {
		t.Fatalf("destination chain mismatch: %s", event.DestinationChainID)
	}
	if event.TransactionID != transactionID {
		t.Fatalf("transaction id mismatch: %s", event.TransactionID.Hex())
	}
	if event.BlockNumber != 100 || event.LogIndex != 7 {
		t.Fatalf("position mismatch: %+v", event)
	}

	id := event.Identity()
	if id.TxHash != log.TxHash || id.LogIndex != 7 {
		t.Fatalf("identity mismatch: %+v", id)
	}
}

func TestDecodeMissingTopics(t *testing.T) {
	decoder, err := NewDecoder()
	if err != nil {
		t.Fatalf("decoder: %v", err)
	}

	log := types.Log{
		TxHash: common.HexToHash("0x05"),
		Index:  1,
		Topics: []common.Hash{decoder.Topic0()},
		Data:   packTokensLocked(t, big.NewInt(1), big.NewInt(1), [32]byte{1}),
	}

	_, err = decoder.Decode(log)
	var malformed *model.MalformedEventError
	if !errors.As(err, &malformed) {
		t.Fatalf("expected MalformedEventError, got %v", err)
	}
	if malformed.Field != "topics" {
		t.Fatalf("unexpected field: %s", malformed.Field)
	}
}

func TestDecodeTruncatedData(t *testing.T) {
	decoder, err := NewDecoder()
	if err != nil {
		t.Fatalf("decoder: %v", err)
	}

	user := common.HexToAddress("0x1111111111111111111111111111111111111111")
	token := common.HexToAddress("0x2222222222222222222222222222222222222222")

	log := types.Log{
		TxHash: common.HexToHash("0x05"),
		Index:  1,
		Topics: []common.Hash{decoder.Topic0(), topicFromAddress(user), topicFromAddress(token)},
		Data:   []byte{0x01, 0x02},
	}

	_, err = decoder.Decode(log)
	var malformed *model.MalformedEventError
	if !errors.As(err, &malformed) {
		t.Fatalf("expected MalformedEventError, got %v", err)
	}
}
