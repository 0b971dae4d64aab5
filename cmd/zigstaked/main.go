package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"cosmossdk.io/log"
	"github.com/cometbft/cometbft/abci/server"
	"github.com/spf13/cobra"

	"github.com/SpencerLiege/zigstake/internal/app"
	"github.com/SpencerLiege/zigstake/internal/config"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "zigstaked",
		Short:         "zigstake prediction market ABCI application",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(startCmd())
	return root
}

func startCmd() *cobra.Command {
	var (
		cfgPath   string
		home      string
		addr      string
		transport string
	)

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Run the ABCI server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.Default()
			if cfgPath != "" {
				loaded, err := config.Load(cfgPath)
				if err != nil {
					return err
				}
				cfg = loaded
			}
			// Flags override the config file.
			if home != "" {
				cfg.Home = home
			}
			if addr != "" {
				cfg.ListenAddr = addr
			}
			if transport != "" {
				cfg.Transport = transport
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			filter, err := log.ParseLogLevel(cfg.LogLevel)
			if err != nil {
				return fmt.Errorf("parse log level: %w", err)
			}
			logger := log.NewLogger(os.Stderr, log.FilterOption(filter))

			a, err := app.New(cfg.Home, logger.With("module", "app"))
			if err != nil {
				return fmt.Errorf("init app: %w", err)
			}

			srv, err := server.NewServer(cfg.ListenAddr, cfg.Transport, a)
			if err != nil {
				return fmt.Errorf("start abci server: %w", err)
			}
			if err := srv.Start(); err != nil {
				return fmt.Errorf("abci server start: %w", err)
			}
			defer func() { _ = srv.Stop() }()
			logger.Info("abci server started", "addr", cfg.ListenAddr, "transport", cfg.Transport)

			// Wait for signal.
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			<-sigCh
			logger.Info("shutting down")
			return nil
		},
	}

	cmd.Flags().StringVar(&cfgPath, "config", "", "path to TOML config file")
	cmd.Flags().StringVar(&home, "home", "", "app home directory (state will be stored under <home>/app)")
	cmd.Flags().StringVar(&addr, "addr", "", "ABCI listen address")
	cmd.Flags().StringVar(&transport, "transport", "", "ABCI transport (socket|grpc)")
	return cmd
}
