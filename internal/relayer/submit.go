package relayer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"bridgeRelay/internal/model"
	"bridgeRelay/internal/state"
)

// RelayRejectedError reports that the sink refused the payload. It is
// permanent: the identity is recorded so the payload is never resent.
type RelayRejectedError struct {
	Status int
	Reason string
}

func (e *RelayRejectedError) Error() string {
	return fmt.Sprintf("relay rejected submission (status %d): %s", e.Status, e.Reason)
}

// RelayUnavailableError reports that the sink could not be reached or
// answered with a server-side failure. The submission may be retried.
type RelayUnavailableError struct {
	Status int
	Err    error
}

func (e *RelayUnavailableError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("relay unavailable: %v", e.Err)
	}
	return fmt.Sprintf("relay unavailable (status %d)", e.Status)
}

func (e *RelayUnavailableError) Unwrap() error { return e.Err }

// SubmitterConfig holds tuning knobs for the relay submitter.
type SubmitterConfig struct {
	Endpoint       string
	MaxAttempts    int
	BackoffBase    time.Duration
	BackoffMax     time.Duration
	RequestTimeout time.Duration
}

// Submitter delivers confirmed events to the relay sink exactly once per
// identity, consulting the dedup ledger before any network call.
type Submitter struct {
	cfg    SubmitterConfig
	client *http.Client
	store  state.Store
	logger *zap.Logger
}

// NewSubmitter builds a Submitter with its dependencies.
func NewSubmitter(cfg SubmitterConfig, store state.Store, logger *zap.Logger) *Submitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	return &Submitter{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.RequestTimeout},
		store:  store,
		logger: logger,
	}
}

// ackResponse is the sink's acknowledgement body.
type ackResponse struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

// Submit posts the event payload to the sink. A ledger hit returns a
// synthetic Ack with no network call. Unavailable responses are retried
// with capped backoff up to the configured attempt count; rejections are
// permanent and recorded in the ledger.
func (s *Submitter) Submit(ctx context.Context, event model.ConfirmedEvent) (model.Ack, error) {
	seen, err := s.store.HasSubmitted(ctx, event.Identity)
	if err != nil {
		return model.Ack{}, fmt.Errorf("check ledger: %w", err)
	}
	if seen {
		s.logger.Debug("already submitted, skipping",
			zap.String("identity", event.Identity.String()),
		)
		return model.Ack{Reference: event.Payload.TransactionID, Duplicate: true}, nil
	}

	body, err := json.Marshal(event.Payload)
	if err != nil {
		return model.Ack{}, fmt.Errorf("marshal payload: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < s.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, backoffDelay(s.cfg.BackoffBase, s.cfg.BackoffMax, attempt-1)); err != nil {
				return model.Ack{}, err
			}
		}

		// The attempt runs detached from the caller's context: a stop
		// request waits out a request already on the wire instead of
		// abandoning it with the ledger in an ambiguous state. The
		// per-attempt timeout still bounds each call; cancellation is
		// honored between attempts.
		attemptCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.RequestTimeout)
		ack, err := s.post(attemptCtx, body)
		cancel()
		if err == nil {
			if ack.Reference == "" {
				ack.Reference = event.Payload.TransactionID
			}
			if err := s.store.RecordSubmitted(context.WithoutCancel(ctx), event.Identity); err != nil {
				return model.Ack{}, fmt.Errorf("record ledger: %w", err)
			}
			s.logger.Info("event relayed",
				zap.String("identity", event.Identity.String()),
				zap.Uint64("block", event.Payload.BlockNumber),
				zap.String("reference", ack.Reference),
			)
			return ack, nil
		}

		var rejected *RelayRejectedError
		if errors.As(err, &rejected) {
			// Record the identity so a payload the sink will never accept
			// is not resubmitted on every restart.
			if recErr := s.store.RecordSubmitted(context.WithoutCancel(ctx), event.Identity); recErr != nil {
				return model.Ack{}, fmt.Errorf("record ledger: %w", recErr)
			}
			s.logger.Error("submission permanently rejected",
				zap.String("identity", event.Identity.String()),
				zap.Int("status", rejected.Status),
				zap.String("reason", rejected.Reason),
			)
			return model.Ack{}, rejected
		}

		lastErr = err
		s.logger.Warn("relay unavailable",
			zap.String("identity", event.Identity.String()),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}

	return model.Ack{}, lastErr
}

func (s *Submitter) post(ctx context.Context, body []byte) (model.Ack, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return model.Ack{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return model.Ack{}, &RelayUnavailableError{Err: err}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	var parsed ackResponse
	_ = json.Unmarshal(respBody, &parsed)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return model.Ack{Reference: parsed.ID}, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		reason := parsed.Reason
		if reason == "" {
			reason = http.StatusText(resp.StatusCode)
		}
		return model.Ack{}, &RelayRejectedError{Status: resp.StatusCode, Reason: reason}
	default:
		return model.Ack{}, &RelayUnavailableError{Status: resp.StatusCode}
	}
}
