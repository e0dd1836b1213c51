package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/fatih/color"
	"github.com/holiman/uint256"

	"github.com/klingon-exchange/klingon-fusion/internal/config"
	"github.com/klingon-exchange/klingon-fusion/internal/fusion"
	"github.com/klingon-exchange/klingon-fusion/internal/swap"
	"github.com/klingon-exchange/klingon-fusion/pkg/helpers"
)

const rule = 70

func printJSON(v interface{}) {
	data, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(data))
}

func printHeader(title string) {
	fmt.Println("\n" + strings.Repeat("=", rule))
	color.Green("  %s", title)
	fmt.Println(strings.Repeat("=", rule))
}

func printFooter() {
	fmt.Println(strings.Repeat("=", rule) + "\n")
}

func coloredStatus(status fusion.OrderStatus) string {
	s := strings.ToUpper(string(status))
	switch status {
	case fusion.StatusExecuted:
		return color.GreenString(s)
	case fusion.StatusPending, fusion.StatusRefunding:
		return color.YellowString(s)
	case fusion.StatusExpired, fusion.StatusCancelled, fusion.StatusRefunded:
		return color.RedString(s)
	case "":
		return color.HiBlackString("UNKNOWN")
	default:
		return s
	}
}

// tokenAmount renders a base-unit amount with the token symbol when the
// token is known, and raw units otherwise.
func tokenAmount(chainID uint64, token common.Address, amount *uint256.Int) string {
	if amount == nil {
		return "-"
	}
	if t, ok := config.LookupToken(chainID, token); ok {
		return helpers.FormatUnits(amount.ToBig(), t.Decimals) + " " + t.Symbol
	}
	return amount.Dec() + " units of " + helpers.ShortHex(token.Hex())
}

func printRequest(req swap.Request) {
	printHeader("FUSION+ SWAP")
	fmt.Printf("\n  From:    %s on %s\n", tokenAmount(req.SrcChainID, req.SrcToken, req.Amount), color.CyanString(config.ChainName(req.SrcChainID)))
	fmt.Printf("  To:      %s on %s\n", helpers.ShortHex(req.DstToken.Hex()), color.CyanString(config.ChainName(req.DstChainID)))
	if req.WalletAddress != (common.Address{}) {
		fmt.Printf("  Wallet:  %s\n", req.WalletAddress.Hex())
	}
	fmt.Println()
}

func printResult(res *swap.Result) {
	printHeader("SWAP RESULT")
	fmt.Printf("\n  Order Hash:     %s\n", color.CyanString(res.OrderHash))
	fmt.Printf("  Status:         %s\n", coloredStatus(res.Status))
	fmt.Printf("  Secrets Shared: %d/%d\n", res.SecretsShared, res.SecretsCount)
	fmt.Printf("  Polls:          %d\n", res.Polls)
	if res.Details != nil {
		for _, fill := range res.Details.Fills {
			fmt.Printf("  Fill:           %s %s\n", color.HiBlackString(fill.TxHash), fill.Status)
		}
	}
	if res.Timeout {
		color.Yellow("\n  No final status yet. Continue with: fusiond resume %s", res.OrderHash)
	}
	fmt.Println()
	printFooter()
}

func printStatus(report *swap.StatusReport) {
	printHeader("ORDER STATUS")
	fmt.Printf("\n  Order Hash:   %s\n", color.CyanString(report.OrderHash))
	fmt.Printf("  Status:       %s\n", coloredStatus(report.Status))
	if len(report.ReadyFills) > 0 {
		fmt.Printf("  Ready Fills:  %v\n", report.ReadyFills)
	}
	if d := report.Details; d != nil {
		fmt.Printf("  Route:        %s -> %s\n", config.ChainName(d.SrcChainID), config.ChainName(d.DstChainID))
		for _, fill := range d.Fills {
			fmt.Printf("  Fill:         %s %s\n", color.HiBlackString(fill.TxHash), fill.Status)
		}
	}
	fmt.Println()
	printFooter()
}
