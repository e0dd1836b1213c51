// Package config holds the daemon configuration: a YAML file in the data
// directory, secrets and endpoints from the environment, and the chain and
// token registries. Route parameters live here rather than in code.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigFileName is the default config file name.
const ConfigFileName = "config.yaml"

// DefaultDataDir is where config, journal and logs live unless overridden.
const DefaultDataDir = "~/.klingon-fusion"

// Config holds all configuration for the daemon and CLI.
type Config struct {
	Relayer RelayerConfig `yaml:"relayer"`
	Chain   ChainConfig   `yaml:"chain"`
	Route   RouteConfig   `yaml:"route"`
	Swap    SwapConfig    `yaml:"swap"`
	API     APIConfig     `yaml:"api"`
	Storage StorageConfig `yaml:"storage"`
	Logging LoggingConfig `yaml:"logging"`

	// Credentials never touch the config file.
	Credentials Credentials `yaml:"-"`
}

// Credentials are read from the environment only.
type Credentials struct {
	PrivateKey string
	AuthKey    string
}

// RelayerConfig holds Fusion+ API settings.
type RelayerConfig struct {
	URL               string        `yaml:"url"`
	RequestsPerSecond int           `yaml:"requests_per_second"`
	MaxRetries        int           `yaml:"max_retries"`
	RetryBackoff      time.Duration `yaml:"retry_backoff"`
	Timeout           time.Duration `yaml:"timeout"`
}

// ChainConfig holds the source-chain RPC endpoint used for signing and checks.
type ChainConfig struct {
	RPCURL string `yaml:"rpc_url"`
}

// RouteConfig is the default swap route. Requests may override any field.
type RouteConfig struct {
	SrcChainID uint64 `yaml:"src_chain_id"`
	DstChainID uint64 `yaml:"dst_chain_id"`
	SrcToken   string `yaml:"src_token"`
	DstToken   string `yaml:"dst_token"`
	// Amount in the smallest unit of the source token.
	Amount string `yaml:"amount"`
}

// SwapConfig holds orchestrator policy.
type SwapConfig struct {
	Preset string `yaml:"preset"`
	Source string `yaml:"source"`

	PollInterval time.Duration `yaml:"poll_interval"`
	// MaxPolls bounds the loop for HTTP callers; 0 means poll until terminal.
	MaxPolls          int `yaml:"max_polls"`
	SubmitConcurrency int `yaml:"submit_concurrency"`

	Preflight       bool          `yaml:"preflight"`
	Approve         bool          `yaml:"approve"`
	ApprovalTimeout time.Duration `yaml:"approval_timeout"`
}

// APIConfig holds HTTP server settings.
type APIConfig struct {
	Listen string `yaml:"listen"`
}

// StorageConfig holds journal settings.
type StorageConfig struct {
	// DataDir is the directory for all data files.
	DataDir string `yaml:"data_dir"`

	// Journal enables the sqlite swap journal used for resume.
	Journal bool `yaml:"journal"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the log level (debug, info, warn, error).
	Level string `yaml:"level"`

	// Format is text or json.
	Format string `yaml:"format"`

	// File is the log file path (empty for stderr only).
	File string `yaml:"file"`
}

// DefaultConfig returns a Config with the reference route: 0.001 WETH from
// Arbitrum to Optimism on the fast preset.
func DefaultConfig() *Config {
	return &Config{
		Relayer: RelayerConfig{
			URL:               "https://api.1inch.dev/fusion-plus",
			RequestsPerSecond: 1,
			MaxRetries:        5,
			RetryBackoff:      10 * time.Second,
			Timeout:           30 * time.Second,
		},
		Route: RouteConfig{
			SrcChainID: 42161,
			DstChainID: 10,
			SrcToken:   "0x82af49447d8a07e3bd95bd0d56f35241523fbab1",
			DstToken:   "0x4200000000000000000000000000000000000006",
			Amount:     "1000000000000000",
		},
		Swap: SwapConfig{
			Preset:            "fast",
			Source:            "klingon-fusion",
			PollInterval:      time.Second,
			MaxPolls:          30,
			SubmitConcurrency: 4,
			Preflight:         true,
			Approve:           false,
			ApprovalTimeout:   5 * time.Minute,
		},
		API: APIConfig{
			Listen: "127.0.0.1:8090",
		},
		Storage: StorageConfig{
			DataDir: DefaultDataDir,
			Journal: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadConfig loads configuration from a YAML file.
// If the file doesn't exist, it creates one with default values.
func LoadConfig(dataDir string) (*Config, error) {
	configPath := ConfigPath(dataDir)

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.Storage.DataDir = dataDir

		if err := cfg.Save(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = dataDir
	}

	return cfg, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte("# Klingon Fusion+ swap daemon configuration\n" +
		"# Generated automatically on first run.\n" +
		"# PRIVATE_KEY, RPC_URL and AUTH_KEY are read from the environment or .env\n\n")
	data = append(header, data...)

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// DataPath resolves a file name inside the data directory.
func (c *Config) DataPath(name string) string {
	return filepath.Join(ExpandPath(c.Storage.DataDir), name)
}

// ConfigPath returns the full path to the config file for the given data directory.
func ConfigPath(dataDir string) string {
	return filepath.Join(ExpandPath(dataDir), ConfigFileName)
}

// ExpandPath expands ~ to home directory.
func ExpandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}
