package relayer

import (
	"context"
	"errors"
	"math/big"
	"net"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"bridgeRelay/internal/model"
)

type fakeChain struct {
	head           uint64
	headErrs       []error
	filterErrs     []error
	logs           []types.Log
	filterCalls    [][2]uint64
	reconnects     int
	reconnectErrs  []error
	reconnectsFail bool
}

func (f *fakeChain) HeadNumber(_ context.Context) (uint64, error) {
	if len(f.headErrs) > 0 {
		err := f.headErrs[0]
		f.headErrs = f.headErrs[1:]
		return 0, err
	}
	return f.head, nil
}

func (f *fakeChain) FilterLogs(_ context.Context, from, to uint64, _ common.Address, _ common.Hash) ([]types.Log, error) {
	f.filterCalls = append(f.filterCalls, [2]uint64{from, to})
	if len(f.filterErrs) > 0 {
		err := f.filterErrs[0]
		f.filterErrs = f.filterErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return f.logs, nil
}

func (f *fakeChain) Reconnect(_ context.Context) error {
	f.reconnects++
	if f.reconnectsFail {
		return errors.New("still down")
	}
	if len(f.reconnectErrs) > 0 {
		err := f.reconnectErrs[0]
		f.reconnectErrs = f.reconnectErrs[1:]
		return err
	}
	return nil
}

// stubDecoder turns a log into a RawEvent by position; logs flagged with a
// nil Data slice fail, standing in for undecodable payloads.
type stubDecoder struct{}

func (stubDecoder) Decode(log types.Log) (model.RawEvent, error) {
	if log.Data == nil {
		return model.RawEvent{}, &model.MalformedEventError{
			Identity: model.EventIdentity{TxHash: log.TxHash, LogIndex: log.Index},
			Field:    "data",
			Reason:   "undecodable",
		}
	}
	return model.RawEvent{
		BlockNumber:        log.BlockNumber,
		TxHash:             log.TxHash,
		LogIndex:           log.Index,
		Amount:             big.NewInt(1),
		DestinationChainID: big.NewInt(1),
		TransactionID:      common.HexToHash("0x01"),
	}, nil
}

func testPoller(client ChainReader) *Poller {
	return NewPoller(PollerConfig{
		Contract:      common.HexToAddress("0x3333333333333333333333333333333333333333"),
		Topic0:        common.HexToHash("0xdead"),
		MaxBlockRange: 1000,
		QueryRetries:  2,
		BackoffBase:   time.Millisecond,
		BackoffMax:    5 * time.Millisecond,
		CallTimeout:   time.Second,
	}, client, stubDecoder{}, nil)
}

func TestPollReturnsOrderedEvents(t *testing.T) {
	chainClient := &fakeChain{
		head: 150,
		logs: []types.Log{
			{BlockNumber: 120, TxHash: common.HexToHash("0x02"), Index: 1, Data: []byte{1}},
			{BlockNumber: 110, TxHash: common.HexToHash("0x01"), Index: 3, Data: []byte{1}},
			{BlockNumber: 110, TxHash: common.HexToHash("0x01"), Index: 0, Data: []byte{1}},
		},
	}

	result, err := testPoller(chainClient).Poll(context.Background(), 100)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}

	if result.Head != 150 || result.WindowFrom != 100 || result.WindowTo != 150 {
		t.Fatalf("window mismatch: %+v", result)
	}
	if len(result.Events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(result.Events))
	}
	if result.Events[0].BlockNumber != 110 || result.Events[0].LogIndex != 0 {
		t.Fatalf("events not ordered: %+v", result.Events)
	}
	if result.Events[2].BlockNumber != 120 {
		t.Fatalf("events not ordered: %+v", result.Events)
	}
}

func TestPollSkipsUndecodableLogs(t *testing.T) {
	chainClient := &fakeChain{
		head: 150,
		logs: []types.Log{
			{BlockNumber: 110, TxHash: common.HexToHash("0x01"), Index: 0, Data: nil},
			{BlockNumber: 111, TxHash: common.HexToHash("0x02"), Index: 0, Data: []byte{1}},
		},
	}

	result, err := testPoller(chainClient).Poll(context.Background(), 100)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if len(result.Events) != 1 || result.Events[0].BlockNumber != 111 {
		t.Fatalf("undecodable log not skipped: %+v", result.Events)
	}

	// The skipped position is surfaced so downstream does not treat the
	// log as gone from the chain.
	want := model.EventIdentity{TxHash: common.HexToHash("0x01"), LogIndex: 0}
	if len(result.Skipped) != 1 || result.Skipped[0] != want {
		t.Fatalf("skipped position not reported: %+v", result.Skipped)
	}
}

func TestPollCapsWindow(t *testing.T) {
	chainClient := &fakeChain{head: 5000}

	result, err := testPoller(chainClient).Poll(context.Background(), 1)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if result.WindowTo != 1000 {
		t.Fatalf("window not capped: %+v", result)
	}
	if result.Head != 5000 {
		t.Fatalf("head mismatch: %+v", result)
	}
	if len(chainClient.filterCalls) != 1 || chainClient.filterCalls[0] != [2]uint64{1, 1000} {
		t.Fatalf("unexpected filter range: %+v", chainClient.filterCalls)
	}
}

func TestPollAheadOfHead(t *testing.T) {
	chainClient := &fakeChain{head: 99}

	result, err := testPoller(chainClient).Poll(context.Background(), 100)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if len(result.Events) != 0 || result.Head != 99 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if len(chainClient.filterCalls) != 0 {
		t.Fatalf("filter queried beyond head")
	}
}

func TestPollRetriesTransientQueryError(t *testing.T) {
	chainClient := &fakeChain{
		head:       150,
		filterErrs: []error{errors.New("429 too many requests")},
		logs:       []types.Log{{BlockNumber: 110, TxHash: common.HexToHash("0x01"), Index: 0, Data: []byte{1}}},
	}

	result, err := testPoller(chainClient).Poll(context.Background(), 100)
	if err != nil {
		t.Fatalf("transient error not retried: %v", err)
	}
	if len(result.Events) != 1 {
		t.Fatalf("expected event after retry: %+v", result)
	}
	if len(chainClient.filterCalls) != 2 {
		t.Fatalf("expected 2 filter calls, got %d", len(chainClient.filterCalls))
	}
}

func TestPollReconnectsOnConnectionError(t *testing.T) {
	connErr := &net.OpError{Op: "read", Err: errors.New("connection reset")}
	chainClient := &fakeChain{
		head:          150,
		headErrs:      []error{connErr, connErr, connErr},
		reconnectErrs: []error{errors.New("still down")},
	}

	_, err := testPoller(chainClient).Poll(context.Background(), 100)
	if err == nil {
		t.Fatalf("expected tick failure after connection loss")
	}
	if chainClient.reconnects < 2 {
		t.Fatalf("reconnect loop did not retry: %d attempts", chainClient.reconnects)
	}

	// Connection restored: the next tick proceeds normally.
	result, err := testPoller(chainClient).Poll(context.Background(), 100)
	if err != nil {
		t.Fatalf("poll after reconnect: %v", err)
	}
	if result.Head != 150 {
		t.Fatalf("head mismatch after reconnect: %+v", result)
	}
}

func TestPollReconnectAbortsOnCancel(t *testing.T) {
	connErr := &net.OpError{Op: "dial", Err: errors.New("refused")}
	chainClient := &fakeChain{
		headErrs:       []error{connErr, connErr, connErr},
		reconnectsFail: true,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := testPoller(chainClient).Poll(ctx, 100)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected cancellation to end reconnect loop, got %v", err)
	}
}
