package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/klingon-exchange/klingon-fusion/internal/config"
	"github.com/klingon-exchange/klingon-fusion/internal/fusion"
	"github.com/klingon-exchange/klingon-fusion/internal/swap"
)

var (
	watchStatus   bool
	watchInterval time.Duration
)

var statusCmd = &cobra.Command{
	Use:   "status <orderHash>",
	Short: "Check the status of an order",
	Long: `Query the relayer for an order's status and the fills ready to accept
a secret. This never submits secrets.

Examples:
  fusiond status 0x5b1a...e8f9
  fusiond status 0x5b1a...e8f9 --watch --interval 10s`,
	Args: cobra.ExactArgs(1),
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().BoolVarP(&watchStatus, "watch", "w", false, "Watch status updates until a final status")
	statusCmd.Flags().DurationVar(&watchInterval, "interval", 5*time.Second, "Polling interval when watching")
}

func runStatus(cmd *cobra.Command, args []string) error {
	orderHash := args[0]
	if err := app.cfg.Validate(config.NeedRelayer); err != nil {
		return err
	}
	relayer, err := newRelayer(app.cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if watchStatus {
		if jsonOutput {
			return fmt.Errorf("watch mode is not supported with JSON output")
		}
		return watchOrderStatus(ctx, relayer, orderHash)
	}

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	if !jsonOutput {
		s.Suffix = " Checking order status..."
		s.Start()
	}
	report, err := swap.CheckStatus(ctx, relayer, orderHash)
	if !jsonOutput {
		s.Stop()
	}
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(report)
	} else {
		printStatus(report)
	}
	return nil
}

func watchOrderStatus(ctx context.Context, relayer *fusion.Client, orderHash string) error {
	fmt.Printf("\nWatching order %s\n", color.CyanString(orderHash))
	fmt.Printf("Checking every %s. Press Ctrl+C to stop.\n", watchInterval)

	ticker := time.NewTicker(watchInterval)
	defer ticker.Stop()

	var last fusion.OrderStatus
	for {
		report, err := swap.CheckStatus(ctx, relayer, orderHash)
		if err != nil {
			color.Red("Error: %v", err)
		} else if report.Status != last || len(report.ReadyFills) > 0 {
			printStatus(report)
			last = report.Status
			if report.Status.IsTerminal() {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
