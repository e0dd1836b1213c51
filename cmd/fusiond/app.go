package main

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/klingon-exchange/klingon-fusion/internal/config"
	"github.com/klingon-exchange/klingon-fusion/internal/fusion"
	"github.com/klingon-exchange/klingon-fusion/internal/storage"
	"github.com/klingon-exchange/klingon-fusion/internal/swap"
	"github.com/klingon-exchange/klingon-fusion/internal/wallet"
	"github.com/klingon-exchange/klingon-fusion/pkg/logging"
)

// app holds what loadApp resolved for the running command.
var app struct {
	cfg *config.Config
	log *logging.Logger
}

// components is everything a swap needs, built from app.cfg.
type components struct {
	relayer *fusion.Client
	wallet  *wallet.EVMWallet
	store   *storage.Storage
	orch    *swap.Orchestrator
}

func (c *components) Close() {
	if c.store != nil {
		if err := c.store.Close(); err != nil {
			app.log.Warn("Failed to close journal", "error", err)
		}
	}
	if c.wallet != nil {
		c.wallet.Close()
	}
}

// journal returns the store as an interface that is nil when disabled.
func (c *components) journal() swap.Journal {
	if c.store == nil {
		return nil
	}
	return c.store
}

func newRelayer(cfg *config.Config) (*fusion.Client, error) {
	fc := fusion.DefaultConfig()
	fc.BaseURL = cfg.Relayer.URL
	fc.AuthKey = cfg.Credentials.AuthKey
	fc.RequestsPerSecond = cfg.Relayer.RequestsPerSecond
	fc.MaxRetries = cfg.Relayer.MaxRetries
	fc.RetryBackoff = cfg.Relayer.RetryBackoff
	fc.Timeout = cfg.Relayer.Timeout
	return fusion.NewClient(fc)
}

func openJournal(cfg *config.Config) (*storage.Storage, error) {
	if !cfg.Storage.Journal {
		return nil, nil
	}
	key, err := config.ParsePrivateKey(cfg.Credentials.PrivateKey)
	if err != nil {
		return nil, err
	}
	return storage.New(&storage.Config{
		DataDir: cfg.Storage.DataDir,
		SealKey: crypto.FromECDSA(key),
	})
}

// buildComponents validates the config for a signing command and wires the
// relayer client, wallet, journal and orchestrator.
func buildComponents(ctx context.Context, req config.Requirement) (*components, error) {
	cfg := app.cfg
	if err := cfg.Validate(req | config.NeedRelayer | config.NeedSigner); err != nil {
		return nil, err
	}

	c := &components{}
	var err error

	if c.relayer, err = newRelayer(cfg); err != nil {
		return nil, err
	}

	key, err := config.ParsePrivateKey(cfg.Credentials.PrivateKey)
	if err != nil {
		return nil, err
	}
	if c.wallet, err = wallet.Dial(ctx, cfg.Chain.RPCURL, key); err != nil {
		return nil, err
	}

	if c.store, err = openJournal(cfg); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}

	c.orch, err = swap.NewOrchestrator(&swap.Config{
		Relayer: c.relayer,
		Signer:  c.wallet,
		Funds:   c.wallet,
		Journal: c.journal(),
		Policy:  swap.PolicyFromConfig(cfg.Swap),
	})
	if err != nil {
		c.Close()
		return nil, err
	}

	app.log.Info("Wallet ready",
		"address", c.wallet.Address().Hex(),
		"chain", config.ChainName(c.wallet.ChainID()),
		"journal", c.store != nil)
	return c, nil
}
