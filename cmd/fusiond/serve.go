package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/klingon-exchange/klingon-fusion/internal/api"
	"github.com/klingon-exchange/klingon-fusion/internal/config"
	"github.com/klingon-exchange/klingon-fusion/internal/swap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and resume journaled swaps",
	Long: `Serve /api/executeSwap and /api/checkSwapStatus, plus /api/swaps, /ws,
/metrics and /health. Journaled swaps that were submitted but never settled
are picked up again on start.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	f := serveCmd.Flags()
	f.String("listen", "", "API listen address (default from config)")
	f.Int("max-polls", 0, "Poll budget per HTTP request; 0 polls until final")
	f.Bool("approve", false, "Approve the spender automatically when the allowance is short")
	f.Bool("preflight", true, "Check balance, allowance and liquidity before quoting")
}

func runServe(cmd *cobra.Command, args []string) error {
	bindFlags(cmd, map[string]string{
		config.KeyListen:    "listen",
		config.KeyMaxPolls:  "max-polls",
		config.KeyApprove:   "approve",
		config.KeyPreflight: "preflight",
	})
	log := app.log
	cfg := app.cfg

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c, err := buildComponents(ctx, config.NeedRoute)
	if err != nil {
		return err
	}
	defer c.Close()

	worker := swap.NewWorker(c.orch)
	resumed, err := worker.Start()
	if err != nil {
		log.Error("Failed to resume journaled swaps", "error", err)
	} else if resumed > 0 {
		log.Info("Resumed journaled swaps", "count", resumed)
	}

	apiCfg := &api.Config{
		Swapper:  c.orch,
		Status:   c.relayer,
		Worker:   worker,
		Route:    cfg.Route,
		MaxPolls: cfg.Swap.MaxPolls,
	}
	if c.store != nil {
		apiCfg.Journal = c.store
	}
	server, err := api.NewServer(apiCfg)
	if err != nil {
		worker.Stop()
		return err
	}
	if err := server.Start(cfg.API.Listen); err != nil {
		worker.Stop()
		return err
	}

	log.Info("Fusion+ daemon running",
		"version", version,
		"api", "http://"+server.Addr(),
		"route", cfg.Route.Amount+" "+config.ChainName(cfg.Route.SrcChainID)+" -> "+config.ChainName(cfg.Route.DstChainID),
		"preset", cfg.Swap.Preset,
		"max_polls", cfg.Swap.MaxPolls)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("Shutting down", "signal", sig.String())

	if err := server.Stop(); err != nil {
		log.Error("Failed to stop API server", "error", err)
	}
	worker.Stop()
	log.Info("Shutdown complete")
	return nil
}
