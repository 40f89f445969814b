package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"crt-trading-engine/config"
	"crt-trading-engine/internal/analysis"
	"crt-trading-engine/internal/auth"
	"crt-trading-engine/internal/backtest"
	"crt-trading-engine/internal/binance"
	"crt-trading-engine/internal/logging"
	sig "crt-trading-engine/internal/signal"
	"crt-trading-engine/internal/vault"
)

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	var cfgPath string
	var verbose bool

	rootCmd := &cobra.Command{
		Use:   "crtctl",
		Short: "Operator tool for the CRT trading engine",
		Long: `crtctl replays recorded candles through the signal engine and trade
lifecycle, downloads history from Binance Futures, issues operator
tokens for the HTTP API and writes sample configuration files.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := "WARN"
			if verbose {
				level = "DEBUG"
			}
			logging.SetDefault(logging.New(&logging.Config{Level: level, Output: "stderr", Component: "crtctl"}))
		},
	}
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (JSON or TOML)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging on stderr")

	rootCmd.AddCommand(newReplayCmd(&cfgPath))
	rootCmd.AddCommand(newFetchCmd())
	rootCmd.AddCommand(newTokenCmd(&cfgPath))
	rootCmd.AddCommand(newConfigCmd(&cfgPath))
	rootCmd.AddCommand(newVaultCmd(&cfgPath))
	return rootCmd
}

// loadConfig falls back to CRT_CONFIG, then config.json, then the defaults
func loadConfig(path string) (*config.Config, error) {
	return config.Load(path)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func newReplayCmd(cfgPath *string) *cobra.Command {
	var (
		pair, interval, htf, mode string
		balance                   float64
		jsonOut, keepOpen         bool
		learn                     bool
	)

	cmd := &cobra.Command{
		Use:   "replay <candles.json|candles.csv>",
		Short: "Replay recorded candles through the engine",
		Long: `Feed every recorded candle through analysis, signal composition and the
trade lifecycle against a paper gateway, then print the resulting trades
and metrics. Higher timeframe bars are built from the recorded candles.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*cfgPath)
			if err != nil {
				return err
			}
			sc := cfg.Session(0)
			if pair != "" {
				sc.Pair = strings.ToUpper(pair)
			}
			if interval != "" {
				sc.Interval = interval
			}
			if htf != "" {
				sc.HTFInterval = htf
			}
			if mode != "" {
				sc.Mode = analysis.ParseMode(mode)
			}
			if balance <= 0 {
				balance = cfg.BinanceConfig.PaperBalance
			}

			step, ok := binance.IntervalDuration(sc.Interval)
			if !ok {
				return fmt.Errorf("unsupported interval %q", sc.Interval)
			}
			cs, err := backtest.LoadCandles(args[0], step)
			if err != nil {
				return err
			}

			rc := backtest.Config{Session: sc, InitialBalance: balance, CloseAtEnd: !keepOpen}
			if learn {
				rc.Scorer = sig.NewOutcomeScorer(cfg.ScorerConfig.Alpha, cfg.ScorerConfig.MinSamples)
			}

			ctx, cancel := signalContext()
			defer cancel()
			res, err := backtest.NewEngine(rc).Run(ctx, cs)
			if err != nil {
				return err
			}

			if jsonOut {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(res.Rounded())
			}
			res.PrintResults(cmd.OutOrStdout())
			return nil
		},
	}

	cmd.Flags().StringVar(&pair, "pair", "", "trading pair (default from config)")
	cmd.Flags().StringVar(&interval, "interval", "", "candle interval of the file")
	cmd.Flags().StringVar(&htf, "htf", "", "higher timeframe interval")
	cmd.Flags().StringVar(&mode, "mode", "", "analysis mode: crt or smc")
	cmd.Flags().Float64Var(&balance, "balance", 0, "starting balance (default paper_balance)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print the result as JSON")
	cmd.Flags().BoolVar(&keepOpen, "keep-open", false, "leave a position open at the end of the file")
	cmd.Flags().BoolVar(&learn, "learn", false, "let closed trades adjust setup scores during the replay")
	return cmd
}

func newFetchCmd() *cobra.Command {
	var (
		pair, interval, out string
		limit               int
		testnet             bool
	)

	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Download closed klines from Binance Futures",
		Long:  `Download recent klines for a pair and write the closed ones as JSON candles suitable for replay.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !binance.ValidInterval(interval) {
				return fmt.Errorf("unsupported interval %q", interval)
			}
			if limit <= 0 || limit > 1500 {
				return fmt.Errorf("limit must be within 1..1500")
			}
			gw := binance.NewFuturesGateway(binance.FuturesConfig{Testnet: testnet, Timeout: 30 * time.Second})

			ctx, cancel := signalContext()
			defer cancel()
			cs, err := gw.FetchHistory(ctx, strings.ToUpper(pair), interval, limit)
			if err != nil {
				return err
			}
			closed := cs[:0]
			for _, c := range cs {
				if c.Closed {
					closed = append(closed, c)
				}
			}

			w := cmd.OutOrStdout()
			if out != "" && out != "-" {
				f, err := os.Create(out)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			if err := json.NewEncoder(w).Encode(closed); err != nil {
				return err
			}
			if out != "" && out != "-" {
				fmt.Fprintf(cmd.ErrOrStderr(), "wrote %d candles to %s\n", len(closed), out)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&pair, "pair", "BTCUSDT", "trading pair")
	cmd.Flags().StringVar(&interval, "interval", "5m", "kline interval")
	cmd.Flags().IntVar(&limit, "limit", 1000, "number of klines")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (stdout when empty)")
	cmd.Flags().BoolVar(&testnet, "testnet", false, "use the futures testnet")
	return cmd
}

func newTokenCmd(cfgPath *string) *cobra.Command {
	var (
		operator string
		commands bool
		ttl      time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an operator token for the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*cfgPath)
			if err != nil {
				return err
			}
			if ttl <= 0 {
				ttl = time.Duration(cfg.AuthConfig.TokenTTLHours) * time.Hour
			}
			tm := auth.NewTokenManager(cfg.AuthConfig.JWTSecret, ttl)
			if !tm.Enabled() {
				return fmt.Errorf("AUTH_JWT_SECRET is not set")
			}
			token, err := tm.Issue(operator, commands)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&operator, "operator", "operator", "operator name carried in the token")
	cmd.Flags().BoolVar(&commands, "commands", false, "allow the token to send commands")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default token_ttl_hours)")
	return cmd
}

func newConfigCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration helpers",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "sample <file>",
		Short: "Write a sample config (.json or .toml)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.GenerateSampleConfig(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", args[0])
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Load and validate the config, then print the sessions it defines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*cfgPath)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			for i, s := range cfg.Sessions {
				sc := cfg.Session(i)
				fmt.Fprintf(w, "%-12s %-10s %-4s htf=%-4s mode=%s auto=%v\n",
					s.Name, sc.Pair, sc.Interval, sc.HTF(), sc.Mode, s.AutoTrading)
			}
			return nil
		},
	})
	return cmd
}

func newVaultCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vault",
		Short: "Manage exchange credentials in Vault",
	}

	var testnet bool
	put := &cobra.Command{
		Use:   "put",
		Short: "Store BINANCE_API_KEY and BINANCE_SECRET_KEY from the environment in Vault",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*cfgPath)
			if err != nil {
				return err
			}
			if !cfg.VaultConfig.Enabled {
				return fmt.Errorf("vault is not enabled (VAULT_ENABLED)")
			}
			if cfg.BinanceConfig.APIKey == "" || cfg.BinanceConfig.SecretKey == "" {
				return fmt.Errorf("BINANCE_API_KEY and BINANCE_SECRET_KEY are required")
			}
			client, err := vault.NewClient(cfg.VaultConfig)
			if err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()
			if err := client.Health(ctx); err != nil {
				return err
			}
			creds := vault.Credentials{
				APIKey:    cfg.BinanceConfig.APIKey,
				SecretKey: cfg.BinanceConfig.SecretKey,
				Exchange:  "binance",
				IsTestnet: testnet,
			}
			if err := client.Store(ctx, creds); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "stored credentials")
			return nil
		},
	}
	put.Flags().BoolVar(&testnet, "testnet", false, "store as testnet credentials")
	cmd.AddCommand(put)
	return cmd
}
