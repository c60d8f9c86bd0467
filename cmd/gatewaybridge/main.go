// Command gatewaybridge runs the LoRa gateway coordination core: it
// mediates between a serial AT-command radio link and an MQTT broker,
// arbitrating the single radio between a continuous node poller and
// sporadic enroll/unenroll/relay commands.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vegafield/lora-gateway-bridge/internal/config"
	"github.com/vegafield/lora-gateway-bridge/internal/engine"
	"github.com/vegafield/lora-gateway-bridge/internal/logger"
)

var (
	version   = "0.1.0"
	buildTime = "dev"
	gitCommit = "unknown"
)

var (
	tuningFile       string
	gatewayStorePath string
	nodeStorePath    string
	adminAddr        string
	verbose          bool
	jsonOutput       bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "gatewaybridge",
		Short:   "LoRa gateway bridge - serial/MQTT coordination core",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildTime),
	}

	rootCmd.PersistentFlags().StringVar(&tuningFile, "tuning", "", "optional YAML tuning overlay file")
	rootCmd.PersistentFlags().StringVar(&gatewayStorePath, "gateway-store", "gateway-status.json", "path to the gateway enrollment file")
	rootCmd.PersistentFlags().StringVar(&nodeStorePath, "node-store", "node-list.json", "path to the node roster file")
	rootCmd.PersistentFlags().StringVar(&adminAddr, "admin-addr", ":8080", "admin HTTP bind address, empty to disable")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "log in JSON format")

	rootCmd.AddCommand(newServeCmd(), newVersionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway bridge process",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("gatewaybridge %s (commit: %s, built: %s)\n", version, gitCommit, buildTime)
			return nil
		},
	}
}

func runServe() error {
	level := "info"
	if verbose {
		level = "debug"
	}
	format := "text"
	if jsonOutput {
		format = "json"
	}
	log := logger.New(logger.Config{Level: level, Format: format})
	logger.SetGlobal(log)

	cfg, err := config.Load(tuningFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	e := engine.New(engine.Options{
		Config:           cfg,
		GatewayStorePath: gatewayStorePath,
		NodeStorePath:    nodeStorePath,
		AdminAddr:        adminAddr,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	log.Info("gatewaybridge: starting", "gateway_id", cfg.GatewayID)
	if err := e.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}

	<-sigCh
	log.Info("gatewaybridge: shutdown signal received")

	if err := e.Stop(); err != nil {
		log.Error("gatewaybridge: error during shutdown", "error", err)
	}

	return nil
}
