package config

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

var (
	ErrMissingConfig = errors.New("missing configuration")
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Keys shared by environment bindings and CLI flags.
const (
	KeyPrivateKey = "private_key"
	KeyRPCURL     = "rpc_url"
	KeyAuthKey    = "auth_key"
	KeyRelayerURL = "relayer_url"
	KeyListen     = "api_listen"
	KeyLogLevel   = "log_level"
	KeyLogFormat  = "log_format"
	KeyPreset     = "preset"
	KeyMaxPolls   = "max_polls"
	KeyApprove    = "approve"
	KeyPreflight  = "preflight"
	KeyNoJournal  = "no_journal"
)

// envBindings lists accepted variable names per key, highest priority first.
// The unprefixed names match what the 1inch tooling and tutorials use.
var envBindings = map[string][]string{
	KeyPrivateKey: {"FUSION_PRIVATE_KEY", "PRIVATE_KEY"},
	KeyRPCURL:     {"FUSION_RPC_URL", "RPC_URL", "ALCHEMY_URL"},
	KeyAuthKey:    {"FUSION_AUTH_KEY", "AUTH_KEY", "DEV_PORTAL_KEY"},
	KeyRelayerURL: {"FUSION_RELAYER_URL"},
	KeyListen:     {"FUSION_API_LISTEN"},
	KeyLogLevel:   {"FUSION_LOG_LEVEL"},
	KeyLogFormat:  {"FUSION_LOG_FORMAT"},
	KeyPreset:     {"FUSION_PRESET"},
	KeyMaxPolls:   {"FUSION_MAX_POLLS"},
}

// LoadDotEnv loads the given .env files, skipping ones that do not exist.
// Variables already present in the process environment are not overridden.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return nil
}

// NewViper returns a viper instance with every environment binding in place.
// Callers bind CLI flags onto the same keys.
func NewViper() *viper.Viper {
	v := viper.New()
	for key, names := range envBindings {
		_ = v.BindEnv(append([]string{key}, names...)...)
	}
	return v
}

// Apply overlays environment and flag values onto the file configuration.
func (c *Config) Apply(v *viper.Viper) {
	if s := v.GetString(KeyPrivateKey); s != "" {
		c.Credentials.PrivateKey = strings.TrimSpace(s)
	}
	if s := v.GetString(KeyAuthKey); s != "" {
		c.Credentials.AuthKey = strings.TrimSpace(s)
	}
	if s := v.GetString(KeyRPCURL); s != "" {
		c.Chain.RPCURL = s
	}
	if s := v.GetString(KeyRelayerURL); s != "" {
		c.Relayer.URL = s
	}
	if s := v.GetString(KeyListen); s != "" {
		c.API.Listen = s
	}
	if s := v.GetString(KeyLogLevel); s != "" {
		c.Logging.Level = s
	}
	if s := v.GetString(KeyLogFormat); s != "" {
		c.Logging.Format = s
	}
	if s := v.GetString(KeyPreset); s != "" {
		c.Swap.Preset = s
	}
	if v.IsSet(KeyMaxPolls) {
		c.Swap.MaxPolls = v.GetInt(KeyMaxPolls)
	}
	if v.IsSet(KeyApprove) {
		c.Swap.Approve = v.GetBool(KeyApprove)
	}
	if v.IsSet(KeyPreflight) {
		c.Swap.Preflight = v.GetBool(KeyPreflight)
	}
	if v.GetBool(KeyNoJournal) {
		c.Storage.Journal = false
	}
}

// Requirement selects what Validate checks.
type Requirement int

const (
	// NeedRelayer requires the API auth key and a relayer URL.
	NeedRelayer Requirement = 1 << iota
	// NeedSigner requires the private key and RPC endpoint.
	NeedSigner
	// NeedRoute requires a complete default route.
	NeedRoute
)

// Validate fails fast, before any network I/O, when a required value is
// absent or malformed.
func (c *Config) Validate(req Requirement) error {
	if req&NeedRelayer != 0 {
		if c.Credentials.AuthKey == "" {
			return missing("AUTH_KEY", KeyAuthKey)
		}
		u, err := url.Parse(c.Relayer.URL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%w: relayer url %q", ErrInvalidConfig, c.Relayer.URL)
		}
	}

	if req&NeedSigner != 0 {
		if c.Credentials.PrivateKey == "" {
			return missing("PRIVATE_KEY", KeyPrivateKey)
		}
		if _, err := ParsePrivateKey(c.Credentials.PrivateKey); err != nil {
			return err
		}
		if c.Chain.RPCURL == "" {
			return missing("RPC_URL", KeyRPCURL)
		}
	}

	if req&NeedRoute != 0 {
		if err := c.Route.Validate(); err != nil {
			return err
		}
	}

	if c.Swap.Preset == "" {
		return fmt.Errorf("%w: swap.preset is empty", ErrInvalidConfig)
	}
	if c.Swap.PollInterval <= 0 {
		return fmt.Errorf("%w: swap.poll_interval must be positive", ErrInvalidConfig)
	}
	if c.Swap.MaxPolls < 0 {
		return fmt.Errorf("%w: swap.max_polls must not be negative", ErrInvalidConfig)
	}
	if c.Swap.SubmitConcurrency < 1 {
		return fmt.Errorf("%w: swap.submit_concurrency must be at least 1", ErrInvalidConfig)
	}
	return nil
}

func missing(envName, key string) error {
	names := envBindings[key]
	return fmt.Errorf("%w: %s is not set (export one of %s or add it to .env)",
		ErrMissingConfig, envName, strings.Join(names, ", "))
}

// Validate checks the route for supported chains, well-formed token
// addresses and a positive amount that fits in 256 bits.
func (r RouteConfig) Validate() error {
	if r.SrcChainID == 0 || r.DstChainID == 0 {
		return fmt.Errorf("%w: route chain ids are required", ErrMissingConfig)
	}
	if !IsChainSupported(r.SrcChainID) {
		return fmt.Errorf("%w: source chain %d is not supported", ErrInvalidConfig, r.SrcChainID)
	}
	if !IsChainSupported(r.DstChainID) {
		return fmt.Errorf("%w: destination chain %d is not supported", ErrInvalidConfig, r.DstChainID)
	}
	if r.SrcChainID == r.DstChainID {
		return fmt.Errorf("%w: source and destination chain are both %d", ErrInvalidConfig, r.SrcChainID)
	}
	if !common.IsHexAddress(r.SrcToken) {
		return fmt.Errorf("%w: source token %q", ErrInvalidConfig, r.SrcToken)
	}
	if !common.IsHexAddress(r.DstToken) {
		return fmt.Errorf("%w: destination token %q", ErrInvalidConfig, r.DstToken)
	}
	if _, err := ParseAmount(r.Amount); err != nil {
		return err
	}
	return nil
}

// ParseAmount parses a base-10 amount in smallest units.
func ParseAmount(s string) (*uint256.Int, error) {
	if s == "" {
		return nil, fmt.Errorf("%w: amount is required", ErrMissingConfig)
	}
	amount, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("%w: amount %q: %v", ErrInvalidConfig, s, err)
	}
	if amount.IsZero() {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidConfig)
	}
	return amount, nil
}

// ParsePrivateKey decodes a hex secp256k1 key with or without 0x prefix.
func ParsePrivateKey(s string) (*ecdsa.PrivateKey, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	key, err := crypto.HexToECDSA(s)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed private key: %v", ErrInvalidConfig, err)
	}
	return key, nil
}
