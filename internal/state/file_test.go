package state

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"bridgeRelay/internal/model"
)

func TestFileStoreCheckpointRoundTrip(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}

	_, ok, err := store.LoadCheckpoint(ctx)
	if err != nil {
		t.Fatalf("load empty checkpoint: %v", err)
	}
	if ok {
		t.Fatalf("expected no checkpoint in fresh store")
	}

	if err := store.SaveCheckpoint(ctx, 12345); err != nil {
		t.Fatalf("save checkpoint: %v", err)
	}

	height, ok, err := store.LoadCheckpoint(ctx)
	if err != nil || !ok {
		t.Fatalf("load checkpoint: ok=%v err=%v", ok, err)
	}
	if height != 12345 {
		t.Fatalf("checkpoint mismatch: %d", height)
	}

	// Overwrite and reopen.
	if err := store.SaveCheckpoint(ctx, 12400); err != nil {
		t.Fatalf("overwrite checkpoint: %v", err)
	}
	reopened, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	height, ok, err = reopened.LoadCheckpoint(ctx)
	if err != nil || !ok || height != 12400 {
		t.Fatalf("checkpoint not durable: height=%d ok=%v err=%v", height, ok, err)
	}
}

func TestFileStoreLedgerSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	id := model.EventIdentity{TxHash: common.HexToHash("0x0badc0de"), LogIndex: 4}
	other := model.EventIdentity{TxHash: common.HexToHash("0x0badc0de"), LogIndex: 5}

	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}

	seen, err := store.HasSubmitted(ctx, id)
	if err != nil {
		t.Fatalf("has submitted: %v", err)
	}
	if seen {
		t.Fatalf("fresh ledger reports identity")
	}

	if err := store.RecordSubmitted(ctx, id); err != nil {
		t.Fatalf("record: %v", err)
	}
	// Recording twice is a no-op, not a duplicate line.
	if err := store.RecordSubmitted(ctx, id); err != nil {
		t.Fatalf("re-record: %v", err)
	}

	reopened, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}

	seen, err = reopened.HasSubmitted(ctx, id)
	if err != nil || !seen {
		t.Fatalf("identity lost across reopen: seen=%v err=%v", seen, err)
	}
	seen, err = reopened.HasSubmitted(ctx, other)
	if err != nil || seen {
		t.Fatalf("unrelated identity reported: seen=%v err=%v", seen, err)
	}
}

func TestParseIdentity(t *testing.T) {
	id := model.EventIdentity{TxHash: common.HexToHash("0x01"), LogIndex: 7}
	parsed, err := parseIdentity(id.String())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed != id {
		t.Fatalf("round trip mismatch: %+v != %+v", parsed, id)
	}

	if _, err := parseIdentity("garbage"); err == nil {
		t.Fatalf("expected error for malformed identity")
	}
	if _, err := parseIdentity("0xabc:"); err == nil {
		t.Fatalf("expected error for missing index")
	}
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_, ok, err := store.LoadCheckpoint(ctx)
	if err != nil || ok {
		t.Fatalf("fresh memory store has checkpoint: ok=%v err=%v", ok, err)
	}
	if err := store.SaveCheckpoint(ctx, 9); err != nil {
		t.Fatalf("save: %v", err)
	}
	height, ok, _ := store.LoadCheckpoint(ctx)
	if !ok || height != 9 {
		t.Fatalf("checkpoint mismatch: %d ok=%v", height, ok)
	}

	id := model.EventIdentity{TxHash: common.HexToHash("0x02"), LogIndex: 0}
	if err := store.RecordSubmitted(ctx, id); err != nil {
		t.Fatalf("record: %v", err)
	}
	seen, _ := store.HasSubmitted(ctx, id)
	if !seen {
		t.Fatalf("identity not found")
	}
}
