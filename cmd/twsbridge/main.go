package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/gregtusar/twsbridge/api"
	"github.com/gregtusar/twsbridge/internal/config"
	"github.com/gregtusar/twsbridge/pkg/broker"
	"github.com/gregtusar/twsbridge/pkg/gateway"
	"github.com/gregtusar/twsbridge/pkg/sim"
	"github.com/gregtusar/twsbridge/pkg/tws"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	cfgFile  string
	simulate bool
	logger   *logrus.Logger
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "twsbridge",
		Short: "Synchronous bridge to a TWS/IB Gateway",
		Long:  `Places and tracks orders, streams quotes and trades, and reads positions and historical bars through a TWS/IB Gateway`,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&simulate, "simulate", false, "use the in-process simulated gateway")

	rootCmd.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Connect to the gateway and serve the HTTP API",
			RunE:  runServe,
		},
		&cobra.Command{
			Use:   "positions",
			Short: "Print current positions",
			RunE:  runPositions,
		},
		&cobra.Command{
			Use:   "quotes SYMBOL...",
			Short: "Print the latest quote for each symbol",
			Args:  cobra.MinimumNArgs(1),
			RunE:  runQuotes,
		},
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func setup() (*config.Config, error) {
	logger = logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	level, err := logrus.ParseLevel(cfg.Logging.Level)
	if err != nil {
		logger.WithError(err).Error("Invalid log level, using INFO")
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	if cfg.Logging.Format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	if cfg.Logging.File != "" {
		f, err := os.OpenFile(cfg.Logging.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		logger.SetOutput(f)
	}
	if simulate {
		cfg.Gateway.Simulate = true
	}
	return cfg, nil
}

func connect(ctx context.Context, cfg *config.Config) (*broker.Client, error) {
	var transport tws.Transport
	if cfg.Gateway.Simulate {
		transport = sim.New(logger)
	} else {
		opts, err := cfg.GatewayOptions()
		if err != nil {
			return nil, fmt.Errorf("invalid gateway settings: %w", err)
		}
		transport = gateway.NewWebSocketClient(opts, logger)
	}

	client := broker.NewClient(transport, cfg.Broker(), logger, nil)
	if err := client.Connect(ctx); err != nil {
		return nil, err
	}
	return client, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := setup()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client, err := connect(ctx, cfg)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to gateway")
	}

	apiServer := api.NewServer(client, logger, strconv.Itoa(cfg.Server.Port))
	go func() {
		if err := apiServer.Start(); err != nil {
			logger.WithError(err).Fatal("Failed to start API server")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Bridge is running. Press Ctrl+C to stop.")

	<-sigChan
	logger.Info("Received shutdown signal")

	if err := client.Disconnect(); err != nil {
		logger.WithError(err).Warn("Disconnect failed")
	}
	logger.Info("Bridge stopped")
	return nil
}

func runPositions(cmd *cobra.Command, args []string) error {
	cfg, err := setup()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	client, err := connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer client.Disconnect()

	res, err := client.Positions(ctx)
	if err != nil {
		return err
	}
	return printJSON(res)
}

func runQuotes(cmd *cobra.Command, args []string) error {
	cfg, err := setup()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	client, err := connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer client.Disconnect()

	res, err := client.LatestQuotes(ctx, args)
	if err != nil {
		return err
	}
	return printJSON(res)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
