package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/klingon-exchange/klingon-fusion/internal/config"
	"github.com/klingon-exchange/klingon-fusion/internal/fusion"
	"github.com/klingon-exchange/klingon-fusion/internal/storage"
	"github.com/klingon-exchange/klingon-fusion/pkg/helpers"
)

var (
	listLimit   int
	listState   string
	deleteForce bool
)

var swapsCmd = &cobra.Command{
	Use:   "swaps",
	Short: "List journaled swaps",
	Args:  cobra.NoArgs,
	RunE:  runSwaps,
}

var historyCmd = &cobra.Command{
	Use:   "history <orderHash>",
	Short: "Show the status history and shared secrets of a journaled swap",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistory,
}

var deleteCmd = &cobra.Command{
	Use:   "delete <orderHash>",
	Short: "Remove a finished swap and its sealed secrets from the journal",
	Args:  cobra.ExactArgs(1),
	RunE:  runDelete,
}

func init() {
	rootCmd.AddCommand(swapsCmd)
	swapsCmd.AddCommand(historyCmd)
	swapsCmd.AddCommand(deleteCmd)
	deleteCmd.Flags().BoolVar(&deleteForce, "force", false, "Also delete a swap that may still have secrets to release")

	swapsCmd.Flags().IntVarP(&listLimit, "limit", "n", 20, "Maximum number of swaps")
	swapsCmd.Flags().StringVar(&listState, "state", "", "Only swaps in this state (created, submitted, completed, failed, abandoned)")
}

// openJournalForRead opens the journal without dialing the RPC endpoint.
func openJournalForRead() (*storage.Storage, error) {
	cfg := app.cfg
	if !cfg.Storage.Journal {
		return nil, errors.New("the swap journal is disabled")
	}
	if cfg.Credentials.PrivateKey == "" {
		return nil, fmt.Errorf("%w: PRIVATE_KEY is needed to open the journal", config.ErrMissingConfig)
	}
	return openJournal(cfg)
}

func runSwaps(cmd *cobra.Command, args []string) error {
	store, err := openJournalForRead()
	if err != nil {
		return err
	}
	defer store.Close()

	var swaps []*storage.SwapRecord
	if listState != "" {
		swaps, err = store.GetSwapsByState(storage.SwapState(listState))
		if len(swaps) > listLimit && listLimit > 0 {
			swaps = swaps[:listLimit]
		}
	} else {
		swaps, err = store.ListSwaps(listLimit)
	}
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(swaps)
		return nil
	}
	if len(swaps) == 0 {
		fmt.Println("No swaps journaled yet")
		return nil
	}

	printHeader("JOURNALED SWAPS")
	for _, s := range swaps {
		fmt.Printf("\n  %s  %-9s %s\n", s.CreatedAt.Format("2006-01-02 15:04:05"), stateLabel(s.State), color.CyanString(helpers.ShortHex(s.OrderHash)))
		fmt.Printf("      %s -> %s, amount %s, %d secrets",
			config.ChainName(s.SrcChainID), config.ChainName(s.DstChainID), s.Amount, s.SecretsCount)
		if s.LastStatus != "" {
			fmt.Printf(", last %s", coloredStatus(fusion.OrderStatus(s.LastStatus)))
		}
		fmt.Println()
		if s.FailureReason != "" {
			fmt.Printf("      %s\n", color.RedString(s.FailureReason))
		}
	}
	fmt.Println()
	printFooter()
	return nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	store, err := openJournalForRead()
	if err != nil {
		return err
	}
	defer store.Close()

	rec, err := store.GetSwapByOrderHash(args[0])
	if err != nil {
		return err
	}
	history, err := store.StatusHistory(rec.ID)
	if err != nil {
		return err
	}
	shared, err := store.SharedIndices(rec.ID)
	if err != nil {
		return err
	}

	if jsonOutput {
		printJSON(map[string]interface{}{
			"swap":    rec,
			"history": history,
			"shared":  shared,
		})
		return nil
	}

	printHeader("SWAP " + strings.ToUpper(rec.ID))
	fmt.Printf("\n  Order Hash:  %s\n", color.CyanString(rec.OrderHash))
	fmt.Printf("  State:       %s\n", stateLabel(rec.State))
	fmt.Printf("  Shared:      %v of %d\n", shared, rec.SecretsCount)
	for _, idx := range shared {
		at, err := store.SecretSharedAt(rec.ID, idx)
		if err != nil || at == nil {
			continue
		}
		fmt.Printf("  Secret %-4d  shared %s\n", idx, at.Format("15:04:05"))
	}
	for _, h := range history {
		fmt.Printf("  %s  %s\n", h.ObservedAt.Format("15:04:05"), coloredStatus(fusion.OrderStatus(h.Status)))
	}
	fmt.Println()
	printFooter()
	return nil
}

func stateLabel(state storage.SwapState) string {
	switch state {
	case storage.SwapStateCompleted:
		return color.GreenString(string(state))
	case storage.SwapStateSubmitted:
		return color.YellowString(string(state))
	case storage.SwapStateFailed, storage.SwapStateAbandoned:
		return color.RedString(string(state))
	default:
		return string(state)
	}
}

// deleteJournaledSwap removes a swap by order hash. A submitted swap may still
// need its secrets, so it is only removed with force.
func deleteJournaledSwap(store *storage.Storage, orderHash string, force bool) (*storage.SwapRecord, error) {
	rec, err := store.GetSwapByOrderHash(orderHash)
	if err != nil {
		return nil, err
	}
	if rec.State == storage.SwapStateSubmitted && !force {
		return nil, fmt.Errorf("swap %s is still submitted; its secrets may be needed (use --force)", rec.ID)
	}
	if err := store.DeleteSwap(rec.ID); err != nil {
		return nil, err
	}
	return rec, nil
}

func runDelete(cmd *cobra.Command, args []string) error {
	store, err := openJournalForRead()
	if err != nil {
		return err
	}
	defer store.Close()

	rec, err := deleteJournaledSwap(store, args[0], deleteForce)
	if err != nil {
		return err
	}
	if jsonOutput {
		printJSON(map[string]interface{}{"deleted": rec.ID, "orderHash": rec.OrderHash})
		return nil
	}
	color.Green("Deleted swap %s (%s)", rec.ID, rec.OrderHash)
	return nil
}
