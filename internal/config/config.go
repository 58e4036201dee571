package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds configuration values loaded from flags, env, or config file.
type Config struct {
	SourceEndpoint    string
	ContractAddress   string
	EventSignature    string
	RelayEndpoint     string
	PipelineName      string
	ConfirmationDepth uint64
	PollInterval      time.Duration
	StartBlock        uint64
	MaxBlockRange     uint64
	MaxSubmitRetries  int
	MaxQueryRetries   int
	BackoffBase       time.Duration
	BackoffMax        time.Duration
	CallTimeout       time.Duration
	StateDir          string
	PostgresDSN       string
	LogLevel          string
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("RELAYER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("pipeline-name", "bridge")
	v.SetDefault("event-signature", "TokensLocked(address,address,uint256,uint256,bytes32)")
	v.SetDefault("confirmation-depth", uint64(12))
	v.SetDefault("poll-interval", 5*time.Second)
	v.SetDefault("max-block-range", uint64(1000))
	v.SetDefault("max-submit-retries", 3)
	v.SetDefault("max-query-retries", 2)
	v.SetDefault("backoff-base", 500*time.Millisecond)
	v.SetDefault("backoff-max", 30*time.Second)
	v.SetDefault("call-timeout", 15*time.Second)
	v.SetDefault("state-dir", "./data")
	v.SetDefault("log-level", "info")

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := Config{
		SourceEndpoint:    v.GetString("rpc"),
		ContractAddress:   v.GetString("contract"),
		EventSignature:    v.GetString("event-signature"),
		RelayEndpoint:     v.GetString("relay-endpoint"),
		PipelineName:      v.GetString("pipeline-name"),
		ConfirmationDepth: v.GetUint64("confirmation-depth"),
		PollInterval:      v.GetDuration("poll-interval"),
		StartBlock:        v.GetUint64("start-block"),
		MaxBlockRange:     v.GetUint64("max-block-range"),
		MaxSubmitRetries:  v.GetInt("max-submit-retries"),
		MaxQueryRetries:   v.GetInt("max-query-retries"),
		BackoffBase:       v.GetDuration("backoff-base"),
		BackoffMax:        v.GetDuration("backoff-max"),
		CallTimeout:       v.GetDuration("call-timeout"),
		StateDir:          v.GetString("state-dir"),
		PostgresDSN:       v.GetString("pg-dsn"),
		LogLevel:          v.GetString("log-level"),
	}

	return cfg, nil
}

// Validate checks the options the pipeline cannot start without.
func (c Config) Validate() error {
	if c.SourceEndpoint == "" {
		return fmt.Errorf("rpc url is required")
	}
	if c.ContractAddress == "" {
		return fmt.Errorf("contract address is required")
	}
	if !common.IsHexAddress(c.ContractAddress) {
		return fmt.Errorf("invalid contract address: %s", c.ContractAddress)
	}
	if c.EventSignature == "" {
		return fmt.Errorf("event signature is required")
	}
	if c.RelayEndpoint == "" {
		return fmt.Errorf("relay endpoint is required")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}
	if c.MaxBlockRange == 0 {
		return fmt.Errorf("max block range must be greater than zero")
	}
	if c.MaxSubmitRetries <= 0 {
		return fmt.Errorf("max submit retries must be greater than zero")
	}
	if c.BackoffBase <= 0 {
		return fmt.Errorf("backoff base must be positive")
	}
	if c.BackoffMax < c.BackoffBase {
		return fmt.Errorf("backoff max must be at least the backoff base")
	}
	return nil
}
