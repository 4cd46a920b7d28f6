package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rampline/settlement/internal/config"
	"github.com/rampline/settlement/internal/pipeline"
	"github.com/rampline/settlement/pkg/common/logger"
)

var (
	configPath string
	networks   []string
	debug      bool
)

func main() {
	root := &cobra.Command{
		Use:          "offrampd",
		Short:        "Crypto deposit to fiat payout settlement pipeline",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "configs/config.yaml", "path to config file")
	root.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the settlement pipeline",
		RunE:  runPipeline,
	}
	runCmd.Flags().StringSliceVarP(&networks, "networks", "n", nil, "networks to run (default: all configured)")

	beneficiaryCmd := &cobra.Command{
		Use:   "beneficiary <user-id> <bank-code> <account-number>",
		Short: "Register a bank beneficiary for payouts",
		Args:  cobra.ExactArgs(3),
		RunE:  registerBeneficiary,
	}

	root.AddCommand(runCmd, beneficiaryCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func setup(ctx context.Context) (*config.Config, *pipeline.Manager, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	logger.Init(&logger.Options{Level: level})

	mgr, err := pipeline.NewManager(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return cfg, mgr, nil
}

func runPipeline(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, mgr, err := setup(ctx)
	if err != nil {
		return err
	}

	if len(networks) > 0 {
		if err := cfg.Networks.ValidateNetworks(networks); err != nil {
			return err
		}
	}

	if err := mgr.Start(ctx, networks); err != nil {
		mgr.Stop()
		return err
	}

	<-ctx.Done()
	logger.Info("Shutdown signal received")
	mgr.Stop()
	return nil
}

func registerBeneficiary(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	_, mgr, err := setup(ctx)
	if err != nil {
		return err
	}
	defer mgr.Stop()

	ben, err := mgr.Offramp().RegisterBeneficiary(ctx, args[0], args[1], args[2])
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "beneficiary %s registered (provider id %s)\n", ben.ID, ben.ProviderBeneficiaryID)
	return nil
}
