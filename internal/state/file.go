package state

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"bridgeRelay/internal/model"
)

// checkpointFile is the on-disk checkpoint document.
type checkpointFile struct {
	LastProcessedBlock uint64 `json:"last_processed_block"`
	UpdatedAt          string `json:"updated_at"`
}

// FileStore persists the checkpoint as a JSON file and the dedup ledger as
// an append-only JSONL file. The ledger is loaded into memory at open so
// lookups never touch disk.
type FileStore struct {
	checkpointPath string
	ledgerPath     string

	mu        sync.Mutex
	submitted map[model.EventIdentity]struct{}
}

type ledgerLine struct {
	Identity   string `json:"identity"`
	RecordedAt string `json:"recorded_at"`
}

// NewFileStore opens (or initializes) the file-backed store under dir.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}

	s := &FileStore{
		checkpointPath: filepath.Join(dir, "checkpoint.json"),
		ledgerPath:     filepath.Join(dir, "ledger.jsonl"),
		submitted:      make(map[model.EventIdentity]struct{}),
	}
	if err := s.loadLedger(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileStore) loadLedger() error {
	file, err := os.Open(s.ledgerPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open ledger: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var entry ledgerLine
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			return fmt.Errorf("parse ledger line: %w", err)
		}
		id, err := parseIdentity(entry.Identity)
		if err != nil {
			return fmt.Errorf("parse ledger identity: %w", err)
		}
		s.submitted[id] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read ledger: %w", err)
	}
	return nil
}

func parseIdentity(raw string) (model.EventIdentity, error) {
	sep := strings.LastIndex(raw, ":")
	if sep <= 0 || sep == len(raw)-1 {
		return model.EventIdentity{}, fmt.Errorf("invalid identity: %s", raw)
	}
	index, err := strconv.ParseUint(raw[sep+1:], 10, 64)
	if err != nil {
		return model.EventIdentity{}, fmt.Errorf("invalid log index in identity %s: %w", raw, err)
	}
	return model.EventIdentity{
		TxHash:   common.HexToHash(raw[:sep]),
		LogIndex: uint(index),
	}, nil
}

func (s *FileStore) LoadCheckpoint(_ context.Context) (uint64, bool, error) {
	stat, err := os.Stat(s.checkpointPath)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("stat checkpoint: %w", err)
	}
	if stat.IsDir() {
		return 0, false, fmt.Errorf("checkpoint path is a directory")
	}

	data, err := os.ReadFile(s.checkpointPath)
	if err != nil {
		return 0, false, fmt.Errorf("read checkpoint: %w", err)
	}

	var cp checkpointFile
	if err := json.Unmarshal(data, &cp); err != nil {
		return 0, false, fmt.Errorf("parse checkpoint: %w", err)
	}
	return cp.LastProcessedBlock, true, nil
}

func (s *FileStore) SaveCheckpoint(_ context.Context, height uint64) error {
	cp := checkpointFile{
		LastProcessedBlock: height,
		UpdatedAt:          time.Now().UTC().Format(time.RFC3339Nano),
	}
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	tmpPath := s.checkpointPath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write checkpoint tmp: %w", err)
	}
	if err := os.Rename(tmpPath, s.checkpointPath); err != nil {
		return fmt.Errorf("rename checkpoint: %w", err)
	}
	return nil
}

func (s *FileStore) HasSubmitted(_ context.Context, id model.EventIdentity) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.submitted[id]
	return ok, nil
}

func (s *FileStore) RecordSubmitted(_ context.Context, id model.EventIdentity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.submitted[id]; ok {
		return nil
	}

	entry := ledgerLine{
		Identity:   id.String(),
		RecordedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal ledger entry: %w", err)
	}

	file, err := os.OpenFile(s.ledgerPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer file.Close()

	if _, err := file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append ledger entry: %w", err)
	}
	if err := file.Sync(); err != nil {
		return fmt.Errorf("sync ledger: %w", err)
	}

	s.submitted[id] = struct{}{}
	return nil
}

func (s *FileStore) Close() error { return nil }
