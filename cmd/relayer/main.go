package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"bridgeRelay/internal/bridge"
	"bridgeRelay/internal/chain"
	"bridgeRelay/internal/config"
	"bridgeRelay/internal/relayer"
	"bridgeRelay/internal/state"
	"bridgeRelay/internal/state/postgres"
)

func main() {
	root := &cobra.Command{
		Use:          "relayer",
		Short:        "Bridge event watcher and relayer",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Watch the bridge contract and relay confirmed events",
		RunE:  runRelayer,
	}

	runCmd.Flags().String("rpc", "", "source chain RPC URL")
	runCmd.Flags().String("contract", "", "bridge contract address")
	runCmd.Flags().String("event-signature", "TokensLocked(address,address,uint256,uint256,bytes32)", "event signature to watch")
	runCmd.Flags().String("relay-endpoint", "", "relay sink URL")
	runCmd.Flags().String("pipeline-name", "bridge", "name keying durable state")
	runCmd.Flags().Uint64("confirmation-depth", 12, "blocks required atop an event before relaying")
	runCmd.Flags().Duration("poll-interval", 5*time.Second, "delay between poll ticks")
	runCmd.Flags().Uint64("start-block", 0, "first block to watch when no checkpoint exists (0 = current head)")
	runCmd.Flags().Uint64("max-block-range", 1000, "blocks per poll query")
	runCmd.Flags().Int("max-submit-retries", 3, "submission attempts per event per tick")
	runCmd.Flags().Int("max-query-retries", 2, "extra attempts for a failed source query")
	runCmd.Flags().Duration("backoff-base", 500*time.Millisecond, "initial retry backoff")
	runCmd.Flags().Duration("backoff-max", 30*time.Second, "retry backoff cap")
	runCmd.Flags().Duration("call-timeout", 15*time.Second, "per network call timeout")
	runCmd.Flags().String("state-dir", "./data", "directory for checkpoint and ledger files")
	runCmd.Flags().String("pg-dsn", "", "Postgres DSN for durable state (overrides state-dir)")
	runCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(runCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runRelayer(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	chainClient, err := chain.NewClient(ctx, cfg.SourceEndpoint)
	if err != nil {
		return fmt.Errorf("connect rpc: %w", err)
	}
	defer chainClient.Close()

	decoder, err := bridge.NewDecoder()
	if err != nil {
		return fmt.Errorf("build decoder: %w", err)
	}

	// The filter topic comes from the configured signature; the decoder
	// only understands TokensLocked, so reject anything it cannot decode.
	topic0 := crypto.Keccak256Hash([]byte(cfg.EventSignature))
	if topic0 != decoder.Topic0() {
		return fmt.Errorf("unsupported event signature: %s", cfg.EventSignature)
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	defer store.Close()

	poller := relayer.NewPoller(relayer.PollerConfig{
		Contract:      common.HexToAddress(cfg.ContractAddress),
		Topic0:        topic0,
		MaxBlockRange: cfg.MaxBlockRange,
		QueryRetries:  cfg.MaxQueryRetries,
		BackoffBase:   cfg.BackoffBase,
		BackoffMax:    cfg.BackoffMax,
		CallTimeout:   cfg.CallTimeout,
	}, chainClient, decoder, logger)

	gate := relayer.NewGate(cfg.ConfirmationDepth, logger)

	submitter := relayer.NewSubmitter(relayer.SubmitterConfig{
		Endpoint:       cfg.RelayEndpoint,
		MaxAttempts:    cfg.MaxSubmitRetries,
		BackoffBase:    cfg.BackoffBase,
		BackoffMax:     cfg.BackoffMax,
		RequestTimeout: cfg.CallTimeout,
	}, store, logger)

	pipeline := relayer.NewPipeline(relayer.PipelineConfig{
		PollInterval:      cfg.PollInterval,
		ConfirmationDepth: cfg.ConfirmationDepth,
		StartBlock:        cfg.StartBlock,
	}, poller, gate, submitter, store, logger)

	logger.Info("relayer start",
		zap.String("rpc", cfg.SourceEndpoint),
		zap.String("contract", cfg.ContractAddress),
		zap.String("relay_endpoint", cfg.RelayEndpoint),
		zap.Uint64("confirmation_depth", cfg.ConfirmationDepth),
		zap.Duration("poll_interval", cfg.PollInterval),
		zap.Bool("durable", cfg.PostgresDSN != "" || cfg.StateDir != ""),
	)

	return pipeline.Run(ctx)
}

func openStore(ctx context.Context, cfg config.Config) (state.Store, error) {
	if cfg.PostgresDSN != "" {
		return postgres.NewStore(ctx, cfg.PostgresDSN, cfg.PipelineName)
	}
	if cfg.StateDir != "" {
		return state.NewFileStore(cfg.StateDir)
	}
	return state.NewMemoryStore(), nil
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
