// Package config reads the orderwatch configuration from the environment.
// Everything has a default; a .env file next to the binary is honored when
// present. There are no CLI flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	envDataDir         = "ORDERWATCH_DATA_DIR"
	envPort            = "ORDERWATCH_PORT"
	envFeedAddress     = "ORDERWATCH_FEED_ADDRESS"
	envFeedPort        = "ORDERWATCH_FEED_PORT"
	envPollInterval    = "ORDERWATCH_POLL_INTERVAL_MS"
	envInsertThreshold = "ORDERWATCH_INSERT_THRESHOLD_MS"
	envNativeFeed      = "ORDERWATCH_NATIVE_FEED"
	envDebug           = "ORDERWATCH_DEBUG"

	defaultDataDirName = ".orderwatch"
	defaultPort        = "8080"
	defaultFeedAddress = "127.0.0.1"
	defaultFeedPort    = 9121

	// defaultPollInterval bounds staleness in polling mode while limiting
	// store load.
	defaultPollInterval = 2000 * time.Millisecond
	// defaultInsertThreshold is the "looks newly created" window for the
	// polling insert/update heuristic.
	defaultInsertThreshold = 1000 * time.Millisecond
)

type Config struct {
	// DataDir is where the store keeps its WAL.
	DataDir string
	// Port is the HTTP API listen port.
	Port string
	// FeedAddress/FeedPort locate the TCP subscriber feed.
	FeedAddress string
	FeedPort    int
	// PollInterval is the fallback scan interval.
	PollInterval time.Duration
	// InsertThreshold separates inserts from updates when polling.
	InsertThreshold time.Duration
	// NativeFeed disables push-based detection entirely when false; the
	// engine then falls back to polling on boot.
	NativeFeed bool
	// Debug lowers the log level.
	Debug bool
}

func (c *Config) validate() error {
	var errGrp []error
	if c.DataDir == "" {
		errGrp = append(errGrp, errors.New("data directory cannot be empty"))
	}
	if c.Port == "" {
		errGrp = append(errGrp, errors.New("port cannot be empty"))
	}
	if c.FeedPort <= 0 {
		errGrp = append(errGrp, fmt.Errorf("invalid feed port: %d", c.FeedPort))
	}
	if c.PollInterval <= 0 {
		errGrp = append(errGrp, errors.New("poll interval must be positive"))
	}
	if c.InsertThreshold <= 0 {
		errGrp = append(errGrp, errors.New("insert threshold must be positive"))
	}
	return errors.Join(errGrp...)
}

// New assembles the configuration from defaults and the environment.
func New() (*Config, error) {
	// missing .env is the normal case
	_ = godotenv.Load()

	cfg := &Config{
		Port:            defaultPort,
		FeedAddress:     defaultFeedAddress,
		FeedPort:        defaultFeedPort,
		PollInterval:    defaultPollInterval,
		InsertThreshold: defaultInsertThreshold,
		NativeFeed:      true,
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve home directory: %w", err)
	}
	cfg.DataDir = filepath.Join(homeDir, defaultDataDirName)

	if v := os.Getenv(envDataDir); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv(envPort); v != "" {
		cfg.Port = v
	}
	if v := os.Getenv(envFeedAddress); v != "" {
		cfg.FeedAddress = v
	}
	if v := os.Getenv(envFeedPort); v != "" {
		cfg.FeedPort, err = strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid %s value: %w", envFeedPort, err)
		}
	}
	if v := os.Getenv(envPollInterval); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid %s value: %w", envPollInterval, err)
		}
		cfg.PollInterval = time.Duration(ms) * time.Millisecond
	}
	if v := os.Getenv(envInsertThreshold); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid %s value: %w", envInsertThreshold, err)
		}
		cfg.InsertThreshold = time.Duration(ms) * time.Millisecond
	}
	if v := os.Getenv(envNativeFeed); v != "" {
		cfg.NativeFeed = v == "true" || v == "1"
	}
	if v := os.Getenv(envDebug); v != "" {
		cfg.Debug = v == "true" || v == "1"
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
