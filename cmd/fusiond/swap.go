package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/briandowns/spinner"
	"github.com/ethereum/go-ethereum/common"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/klingon-exchange/klingon-fusion/internal/config"
	"github.com/klingon-exchange/klingon-fusion/internal/swap"
)

var (
	swapRoute  config.RouteConfig
	swapWallet string
	swapInvert bool
	swapWait   bool
)

var swapCmd = &cobra.Command{
	Use:   "swap",
	Short: "Run one cross-chain swap in the foreground",
	Long: `Quote, sign and submit a Fusion+ order, then release secrets as escrows
become ready. Route flags override the configured route.

Examples:
  fusiond swap
  fusiond swap --src-chain 42161 --dst-chain 10 --amount 1000000000000000
  fusiond swap --invert --wait --approve`,
	Args: cobra.NoArgs,
	RunE: runSwap,
}

func init() {
	rootCmd.AddCommand(swapCmd)

	f := swapCmd.Flags()
	f.Uint64Var(&swapRoute.SrcChainID, "src-chain", 0, "Source chain id")
	f.Uint64Var(&swapRoute.DstChainID, "dst-chain", 0, "Destination chain id")
	f.StringVar(&swapRoute.SrcToken, "src-token", "", "Source token address")
	f.StringVar(&swapRoute.DstToken, "dst-token", "", "Destination token address")
	f.StringVar(&swapRoute.Amount, "amount", "", "Amount in the smallest unit of the source token")
	f.StringVar(&swapWallet, "wallet", "", "Maker address (must match PRIVATE_KEY)")
	f.BoolVar(&swapInvert, "invert", false, "Swap the route direction")
	f.BoolVar(&swapWait, "wait", false, "Poll until a final status instead of the configured budget")
	f.Int("max-polls", 0, "Poll budget; 0 polls until final")
	f.Bool("approve", false, "Approve the spender automatically when the allowance is short")
	f.Bool("preflight", true, "Check balance, allowance and liquidity before quoting")
	f.String("preset", "", "Auction preset (fast, medium, slow)")
}

func swapRequest(cfg *config.Config) (swap.Request, error) {
	route := cfg.Route
	if swapRoute.SrcChainID != 0 {
		route.SrcChainID = swapRoute.SrcChainID
	}
	if swapRoute.DstChainID != 0 {
		route.DstChainID = swapRoute.DstChainID
	}
	if swapRoute.SrcToken != "" {
		route.SrcToken = swapRoute.SrcToken
	}
	if swapRoute.DstToken != "" {
		route.DstToken = swapRoute.DstToken
	}
	if swapRoute.Amount != "" {
		route.Amount = swapRoute.Amount
	}

	req, err := swap.RequestFromRoute(route)
	if err != nil {
		return swap.Request{}, err
	}
	if swapWallet != "" {
		if !common.IsHexAddress(swapWallet) {
			return swap.Request{}, fmt.Errorf("%w: wallet %q", config.ErrInvalidConfig, swapWallet)
		}
		req.WalletAddress = common.HexToAddress(swapWallet)
	}
	if swapInvert {
		req = req.Invert()
	}
	return req, nil
}

func runSwap(cmd *cobra.Command, args []string) error {
	bindFlags(cmd, map[string]string{
		config.KeyMaxPolls:  "max-polls",
		config.KeyApprove:   "approve",
		config.KeyPreflight: "preflight",
		config.KeyPreset:    "preset",
	})
	cfg := app.cfg

	req, err := swapRequest(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := buildComponents(ctx, 0)
	if err != nil {
		return err
	}
	defer c.Close()

	maxPolls := cfg.Swap.MaxPolls
	if swapWait {
		maxPolls = 0
	}

	if !jsonOutput {
		printRequest(req)
	}

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	if !jsonOutput {
		s.Suffix = " Requesting quote..."
		s.Start()
		c.orch.OnEvent(func(e swap.SwapEvent) {
			s.Lock()
			s.Suffix = " " + eventLine(e)
			s.Unlock()
		})
	}

	res, _, err := c.orch.InitiateSwapSession(ctx, req, maxPolls)
	if !jsonOutput {
		s.Stop()
	}

	switch {
	case err == nil:
	case errors.Is(err, swap.ErrPollTimeout):
		if c.store == nil {
			color.Yellow("Journal disabled: this order can only be followed with fusiond status")
		}
	case errors.Is(err, context.Canceled) && res != nil:
		color.Yellow("Interrupted; the order stays journaled for fusiond resume")
	default:
		return err
	}

	if jsonOutput {
		printJSON(res)
	} else {
		printResult(res)
	}
	return nil
}

func eventLine(e swap.SwapEvent) string {
	data, _ := e.Data.(map[string]interface{})
	switch e.EventType {
	case swap.EventSwapQuoted:
		return fmt.Sprintf("Quote received, %v secrets. Signing order...", data["secrets_count"])
	case swap.EventOrderSubmitted:
		return "Order submitted, waiting for resolvers..."
	case swap.EventSecretShared:
		return fmt.Sprintf("Secret %v shared", data["idx"])
	case swap.EventStatusChanged:
		return fmt.Sprintf("Order %v", data["status"])
	default:
		return e.EventType
	}
}
