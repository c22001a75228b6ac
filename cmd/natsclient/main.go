package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/lisuiheng/natsclient-go/core"
	"github.com/lisuiheng/natsclient-go/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
)

// app carries state shared by all subcommands once the root command has
// loaded configuration.
type app struct {
	v          *viper.Viper
	configPath string
	cfg        core.Config
	registry   *prometheus.Registry
	metrics    *core.Metrics
	serveOnce  sync.Once
}

func main() {
	a := &app{v: viper.New()}

	rootCmd := &cobra.Command{
		Use:   "natsclient",
		Short: "Publish, subscribe and request over the NATS text protocol",
		Long: `natsclient talks to a NATS server over one TCP or WebSocket connection.

Configuration is read from config.yaml (., ./config, /etc/natsclient),
NATSCLIENT_* environment variables and the flags below, in increasing order
of precedence.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			logger.Close()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&a.configPath, "config", "c", "", "Path to config file")
	flags.String("host", core.DefaultHost, "Server host")
	flags.Int("port", core.DefaultPort, "Server port")
	flags.String("transport", "tcp", "Transport: tcp or websocket")
	flags.String("ws-url", "", "WebSocket URL when --transport=websocket")
	flags.Duration("read-timeout", core.DefaultReadTimeout, "Wait bound for each frame")
	flags.Bool("manual-flush", false, "Buffer writes until an explicit flush")
	flags.Bool("verbose", false, "Ask the server to acknowledge every frame with +OK")
	flags.String("metrics-addr", "", "Serve /metrics and /healthz on this address")
	flags.Bool("debug", false, "Enable debug logging")
	bindFlags(a.v, flags)

	rootCmd.AddCommand(
		pubCmd(a),
		subCmd(a),
		reqCmd(a),
		replyCmd(a),
		benchCmd(a),
		versionCmd(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		logger.Error("Command failed", "error", err)
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func (a *app) init() error {
	cfg, err := loadConfig(a.v, a.configPath)
	if err != nil {
		return err
	}
	a.cfg = cfg

	if err := initLogger(a.v, cfg); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	a.registry = prometheus.NewRegistry()
	a.metrics = core.NewMetrics(a.registry)
	return nil
}

// dial opens a connection with the loaded configuration and, when
// configured, starts the metrics endpoint for the lifetime of ctx.
func (a *app) dial(ctx context.Context) (*core.Conn, error) {
	if a.cfg.Metrics.Addr != "" {
		a.serveOnce.Do(func() {
			serveMetrics(ctx, a.cfg.Metrics.Addr, a.registry)
		})
	}
	return core.Dial(ctx, a.cfg,
		core.WithLogger(logger.Logger()),
		core.WithMetrics(a.metrics))
}
