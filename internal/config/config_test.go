package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// well-known hardhat test key #0
const testKey = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func clearEnv(t *testing.T) {
	t.Helper()
	for _, names := range envBindings {
		for _, n := range names {
			t.Setenv(n, "")
			os.Unsetenv(n)
		}
	}
}

func TestLoadConfigCreatesDefault(t *testing.T) {
	dir := t.TempDir()

	cfg, err := LoadConfig(dir)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Swap.Preset != "fast" {
		t.Errorf("Preset = %s, want fast", cfg.Swap.Preset)
	}
	if cfg.Storage.DataDir != dir {
		t.Errorf("DataDir = %s, want %s", cfg.Storage.DataDir, dir)
	}

	data, err := os.ReadFile(filepath.Join(dir, ConfigFileName))
	if err != nil {
		t.Fatalf("config file not written: %v", err)
	}
	if !strings.HasPrefix(string(data), "# Klingon Fusion+") {
		t.Error("config file missing header")
	}
	if strings.Contains(string(data), "private") {
		t.Error("credentials must not be written to the config file")
	}

	info, _ := os.Stat(filepath.Join(dir, ConfigFileName))
	if info.Mode().Perm() != 0600 {
		t.Errorf("mode = %v, want 0600", info.Mode().Perm())
	}
}

func TestLoadConfigReadsFile(t *testing.T) {
	dir := t.TempDir()
	content := `
swap:
  preset: medium
  poll_interval: 2s
  max_polls: 0
route:
  src_chain_id: 42161
  dst_chain_id: 137
`
	if err := os.WriteFile(filepath.Join(dir, ConfigFileName), []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(dir)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Swap.Preset != "medium" {
		t.Errorf("Preset = %s, want medium", cfg.Swap.Preset)
	}
	if cfg.Swap.PollInterval != 2*time.Second {
		t.Errorf("PollInterval = %v, want 2s", cfg.Swap.PollInterval)
	}
	if cfg.Swap.MaxPolls != 0 {
		t.Errorf("MaxPolls = %d, want 0", cfg.Swap.MaxPolls)
	}
	if cfg.Route.DstChainID != 137 {
		t.Errorf("DstChainID = %d, want 137", cfg.Route.DstChainID)
	}
	// untouched fields keep defaults
	if cfg.Relayer.RequestsPerSecond != 1 {
		t.Errorf("RequestsPerSecond = %d, want 1", cfg.Relayer.RequestsPerSecond)
	}
}

func TestLoadConfigInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ConfigFileName), []byte("swap: [unclosed"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(dir); err == nil {
		t.Error("LoadConfig() should fail on invalid yaml")
	}
}

func TestApplyEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("PRIVATE_KEY", testKey)
	t.Setenv("ALCHEMY_URL", "https://arb.example/v2/abc")
	t.Setenv("DEV_PORTAL_KEY", "portal-key")
	t.Setenv("FUSION_MAX_POLLS", "7")

	cfg := DefaultConfig()
	cfg.Apply(NewViper())

	if cfg.Credentials.PrivateKey != testKey {
		t.Error("private key not read from PRIVATE_KEY")
	}
	if cfg.Chain.RPCURL != "https://arb.example/v2/abc" {
		t.Errorf("RPCURL = %s", cfg.Chain.RPCURL)
	}
	if cfg.Credentials.AuthKey != "portal-key" {
		t.Errorf("AuthKey = %s", cfg.Credentials.AuthKey)
	}
	if cfg.Swap.MaxPolls != 7 {
		t.Errorf("MaxPolls = %d, want 7", cfg.Swap.MaxPolls)
	}
}

func TestApplyEnvPrefixedWins(t *testing.T) {
	clearEnv(t)
	t.Setenv("AUTH_KEY", "plain")
	t.Setenv("FUSION_AUTH_KEY", "prefixed")

	cfg := DefaultConfig()
	cfg.Apply(NewViper())
	if cfg.Credentials.AuthKey != "prefixed" {
		t.Errorf("AuthKey = %s, want prefixed", cfg.Credentials.AuthKey)
	}
}

func TestJournalOnByDefault(t *testing.T) {
	clearEnv(t)
	cfg := DefaultConfig()
	cfg.Apply(NewViper())
	if !cfg.Storage.Journal {
		t.Fatal("journal should be enabled by default")
	}

	v := NewViper()
	v.Set(KeyNoJournal, true)
	cfg.Apply(v)
	if cfg.Storage.Journal {
		t.Error("no_journal did not disable the journal")
	}
}

func TestLoadDotEnv(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("AUTH_KEY=from-dotenv\n"), 0600); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Unsetenv("AUTH_KEY") })

	if err := LoadDotEnv(path, filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("LoadDotEnv() error = %v", err)
	}
	if os.Getenv("AUTH_KEY") != "from-dotenv" {
		t.Errorf("AUTH_KEY = %q, want from-dotenv", os.Getenv("AUTH_KEY"))
	}
}

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Credentials = Credentials{PrivateKey: testKey, AuthKey: "k"}
	cfg.Chain.RPCURL = "http://localhost:8545"
	return cfg
}

func TestValidate(t *testing.T) {
	all := NeedRelayer | NeedSigner | NeedRoute

	tests := []struct {
		name    string
		mutate  func(c *Config)
		req     Requirement
		wantErr error
	}{
		{"complete", func(c *Config) {}, all, nil},
		{"missing auth key", func(c *Config) { c.Credentials.AuthKey = "" }, all, ErrMissingConfig},
		{"missing private key", func(c *Config) { c.Credentials.PrivateKey = "" }, all, ErrMissingConfig},
		{"missing rpc", func(c *Config) { c.Chain.RPCURL = "" }, all, ErrMissingConfig},
		{"malformed key", func(c *Config) { c.Credentials.PrivateKey = "0x1234" }, all, ErrInvalidConfig},
		{"bad relayer url", func(c *Config) { c.Relayer.URL = "::" }, all, ErrInvalidConfig},
		{"status only needs relayer", func(c *Config) { c.Credentials.PrivateKey = "" }, NeedRelayer, nil},
		{"unsupported chain", func(c *Config) { c.Route.DstChainID = 999 }, all, ErrInvalidConfig},
		{"same chain", func(c *Config) { c.Route.DstChainID = c.Route.SrcChainID }, all, ErrInvalidConfig},
		{"bad token", func(c *Config) { c.Route.SrcToken = "weth" }, all, ErrInvalidConfig},
		{"zero amount", func(c *Config) { c.Route.Amount = "0" }, all, ErrInvalidConfig},
		{"missing amount", func(c *Config) { c.Route.Amount = "" }, all, ErrMissingConfig},
		{"zero interval", func(c *Config) { c.Swap.PollInterval = 0 }, all, ErrInvalidConfig},
		{"negative polls", func(c *Config) { c.Swap.MaxPolls = -1 }, all, ErrInvalidConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate(tt.req)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("Validate() error = %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestMissingErrorNamesVariable(t *testing.T) {
	cfg := validConfig()
	cfg.Credentials.AuthKey = ""
	err := cfg.Validate(NeedRelayer)
	if err == nil || !strings.Contains(err.Error(), "AUTH_KEY") {
		t.Errorf("error = %v, want mention of AUTH_KEY", err)
	}
}

func TestParsePrivateKey(t *testing.T) {
	key, err := ParsePrivateKey(testKey)
	if err != nil {
		t.Fatalf("ParsePrivateKey() error = %v", err)
	}
	addr := crypto.PubkeyToAddress(key.PublicKey)
	want := common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	if addr != want {
		t.Errorf("address = %s, want %s", addr.Hex(), want.Hex())
	}
}

func TestNetworkRegistry(t *testing.T) {
	for _, id := range []uint64{1, 10, 137, 8453, 42161} {
		n, ok := GetNetwork(id)
		if !ok {
			t.Fatalf("chain %d should be supported", id)
		}
		if n.Spender != AggregationRouterV6 {
			t.Errorf("chain %d spender = %s", id, n.Spender.Hex())
		}
	}
	if IsChainSupported(999) {
		t.Error("999 should not be supported")
	}
	ids := SupportedChainIDs()
	for i := 1; i < len(ids); i++ {
		if ids[i-1] >= ids[i] {
			t.Fatal("SupportedChainIDs not sorted")
		}
	}
	if ChainName(42161) != "Arbitrum" || ChainName(999) != "chain-999" {
		t.Errorf("ChainName mismatch: %s %s", ChainName(42161), ChainName(999))
	}
}

func TestLookupToken(t *testing.T) {
	weth, ok := LookupToken(42161, common.HexToAddress("0x82af49447d8a07e3bd95bd0d56f35241523fbab1"))
	if !ok || weth.Symbol != "WETH" || weth.Decimals != 18 {
		t.Errorf("LookupToken(arb weth) = %+v, %v", weth, ok)
	}

	native, ok := LookupToken(137, common.HexToAddress(NativeTokenAddress))
	if !ok || native.Symbol != "POL" {
		t.Errorf("LookupToken(native) = %+v, %v", native, ok)
	}

	if _, ok := LookupToken(1, common.HexToAddress("0x01")); ok {
		t.Error("unknown token should not resolve")
	}
}
