package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds configuration values loaded from flags, env, or config file.
type Config struct {
	DatabaseURL string
	RedisURL    string

	ServerHost string
	ServerPort int

	ChainID    uint64
	HTTPRPCURL string
	WSRPCURL   string
	RPCTimeout time.Duration

	ContractsPath string

	BatchSize    uint64
	MaxRetries   int
	RetryBackoff time.Duration

	LogLevel string
}

// Load merges config file, LOGSCOPE_* environment variables, and flags into
// Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("LOGSCOPE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("server-host", "0.0.0.0")
	v.SetDefault("server-port", 8080)
	v.SetDefault("rpc-timeout", 5*time.Second)
	v.SetDefault("batch-size", uint64(5760))
	v.SetDefault("max-retries", 5)
	v.SetDefault("retry-backoff", 500*time.Millisecond)
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
		DatabaseURL:   v.GetString("database-url"),
		RedisURL:      v.GetString("redis-url"),
		ServerHost:    v.GetString("server-host"),
		ServerPort:    v.GetInt("server-port"),
		ChainID:       v.GetUint64("eth-chain-id"),
		HTTPRPCURL:    v.GetString("eth-http-rpc-url"),
		WSRPCURL:      v.GetString("eth-ws-rpc-url"),
		RPCTimeout:    v.GetDuration("rpc-timeout"),
		ContractsPath: v.GetString("contracts"),
		BatchSize:     v.GetUint64("batch-size"),
		MaxRetries:    v.GetInt("max-retries"),
		RetryBackoff:  v.GetDuration("retry-backoff"),
		LogLevel:      v.GetString("log-level"),
	}

	return cfg, nil
}

// Validate checks the settings required to serve traffic. Called on the run
// path; migrate only needs the database URL.
func (c Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("database-url is required")
	}
	if c.RedisURL == "" {
		return fmt.Errorf("redis-url is required")
	}
	if c.ChainID == 0 {
		return fmt.Errorf("eth-chain-id is required")
	}
	if c.HTTPRPCURL == "" {
		return fmt.Errorf("eth-http-rpc-url is required")
	}
	if c.ContractsPath == "" {
		return fmt.Errorf("contracts path is required")
	}
	return nil
}
