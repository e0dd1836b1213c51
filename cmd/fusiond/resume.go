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
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/klingon-exchange/klingon-fusion/internal/storage"
	"github.com/klingon-exchange/klingon-fusion/internal/swap"
)

var resumeCmd = &cobra.Command{
	Use:   "resume <orderHash>",
	Short: "Continue releasing secrets for a journaled order",
	Long: `Load a submitted order and its sealed secrets from the journal and poll it
in the foreground until a final status. Fills already shared are skipped.`,
	Args: cobra.ExactArgs(1),
	RunE: runResume,
}

func init() {
	rootCmd.AddCommand(resumeCmd)
}

func runResume(cmd *cobra.Command, args []string) error {
	orderHash := args[0]
	if !app.cfg.Storage.Journal {
		return errors.New("resume needs the swap journal; it is disabled")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := buildComponents(ctx, 0)
	if err != nil {
		return err
	}
	defer c.Close()

	sess, err := swap.LoadSessionByOrderHash(c.journal(), orderHash)
	if errors.Is(err, storage.ErrSwapNotFound) {
		return fmt.Errorf("order %s is not in the journal at %s", orderHash, c.store.Path())
	}
	if err != nil {
		return err
	}

	status, _ := sess.Status()
	if status.IsTerminal() {
		color.Yellow("Order already finished with status %s", status)
	}

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	if !jsonOutput {
		fmt.Printf("\nResuming %s (%d of %d secrets shared)\n", color.CyanString(orderHash), len(sess.Consumed()), sess.SecretsCount())
		s.Suffix = " Polling order..."
		s.Start()
		c.orch.OnEvent(func(e swap.SwapEvent) {
			s.Lock()
			s.Suffix = " " + eventLine(e)
			s.Unlock()
		})
	}

	res, err := c.orch.Resume(ctx, sess, 0)
	if !jsonOutput {
		s.Stop()
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	if jsonOutput {
		printJSON(res)
	} else {
		printResult(res)
	}
	return nil
}
