// Package main provides fusiond, the Fusion+ cross-chain swap daemon and CLI.
package main

import (
	"os"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/klingon-exchange/klingon-fusion/internal/config"
	"github.com/klingon-exchange/klingon-fusion/pkg/logging"
)

var (
	version = "0.1.0-dev"
	commit  = "unknown"
)

var (
	dataDir    string
	envFiles   []string
	jsonOutput bool

	v = config.NewViper()
)

var rootCmd = &cobra.Command{
	Use:   "fusiond",
	Short: "Cross-chain swaps over the 1inch Fusion+ relayer",
	Long: `fusiond quotes, signs and submits Fusion+ cross-chain orders, then
releases one secret per escrow fill until the order settles.

Credentials come from the environment or a .env file:
  PRIVATE_KEY   maker key (hex)
  RPC_URL       source chain RPC endpoint (ALCHEMY_URL is accepted too)
  AUTH_KEY      1inch developer portal key (DEV_PORTAL_KEY is accepted too)

Examples:
  fusiond serve
  fusiond swap --amount 1000000000000000
  fusiond swap --invert --wait
  fusiond status 0x5b1a...e8f9 --watch
  fusiond resume 0x5b1a...e8f9
  fusiond swaps`,
	Version:       version + " (commit: " + commit + ")",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&dataDir, "data-dir", config.DefaultDataDir, "Data directory for config, journal and logs")
	pf.StringSliceVar(&envFiles, "env-file", []string{".env"}, "Dotenv files to load (missing files are skipped)")
	pf.BoolVarP(&jsonOutput, "json", "j", false, "Output in JSON format")
	pf.String("log-level", "", "Log level (debug, info, warn, error)")
	pf.String("log-format", "", "Log format (text, json)")
	pf.String("relayer-url", "", "Fusion+ API base URL")
	pf.Bool("no-journal", false, "Disable the swap journal (no resume after restart)")

	_ = v.BindPFlag(config.KeyLogLevel, pf.Lookup("log-level"))
	_ = v.BindPFlag(config.KeyLogFormat, pf.Lookup("log-format"))
	_ = v.BindPFlag(config.KeyRelayerURL, pf.Lookup("relayer-url"))
	_ = v.BindPFlag(config.KeyNoJournal, pf.Lookup("no-journal"))

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		return loadApp()
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		color.Red("Error: %v", err)
		os.Exit(1)
	}
}

// bindFlags binds command-local flags onto config keys and re-applies the
// overlay. Keys shared between commands are bound only for the one running.
func bindFlags(cmd *cobra.Command, keys map[string]string) {
	for key, name := range keys {
		_ = v.BindPFlag(key, cmd.Flags().Lookup(name))
	}
	app.cfg.Apply(v)
}

// loadApp reads .env, the config file and the environment, then sets up
// logging. It does no network I/O.
func loadApp() error {
	if err := config.LoadDotEnv(envFiles...); err != nil {
		return err
	}

	cfg, err := config.LoadConfig(dataDir)
	if err != nil {
		return err
	}
	cfg.Apply(v)

	logFile := cfg.Logging.File
	if logFile != "" && !filepath.IsAbs(logFile) {
		logFile = cfg.DataPath(logFile)
	}
	log, err := logging.New(&logging.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		TimeFormat: time.TimeOnly,
		File:       logFile,
	})
	if err != nil {
		return err
	}
	logging.SetDefault(log)

	app.cfg = cfg
	app.log = log
	log.Debug("Config loaded", "path", config.ConfigPath(dataDir))
	return nil
}
