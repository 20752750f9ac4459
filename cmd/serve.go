package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/davebream/skycoord/internal/config"
	"github.com/davebream/skycoord/internal/coord"
	"github.com/davebream/skycoord/internal/logging"
	"github.com/davebream/skycoord/internal/world"
)

var (
	serveConfigPath string
	serveGenerate   bool
	serveSeed       int64
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the drone coordination server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(serveConfigPath)
		if err != nil {
			return err
		}

		logger, logCleanup, err := logging.Setup(cfg.LogDir, logging.ParseLevel(cfg.LogLevel), cfg.LogMaxSizeMB, true)
		if err != nil {
			fmt.Fprintf(os.Stderr, "skycoord: cannot set up file logging: %v\n", err)
			logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))
			logCleanup = func() {}
		}
		defer logCleanup()

		var metrics *coord.Metrics
		if cfg.MetricsAddr != "" {
			metrics = coord.NewMetrics(nil)
			go func() {
				mux := http.NewServeMux()
				mux.Handle("/metrics", promhttp.Handler())
				if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
					logger.Warn("metrics endpoint failed", "error", err)
				}
			}()
			logger.Info("metrics available", "addr", cfg.MetricsAddr)
		}

		c, err := coord.New(cfg, logger, metrics)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			sig := <-sigCh
			logger.Info("received signal, shutting down", "signal", sig.String())
			cancel()
		}()

		if serveGenerate {
			seed := serveSeed
			if seed == 0 {
				seed = time.Now().UnixNano()
			}
			gen := world.NewGenerator(c.Survivors(), c.Grid(), seed, logger.With("component", "generator"))
			go gen.Run(ctx)
			logger.Info("survivor generator started", "seed", seed)
		}

		return c.Run(ctx)
	},
}

func init() {
	serveCmd.Flags().StringVarP(&serveConfigPath, "config", "c", "", "Path to config file (YAML)")
	serveCmd.Flags().BoolVar(&serveGenerate, "generate", false, "Generate synthetic survivors")
	serveCmd.Flags().Int64Var(&serveSeed, "seed", 0, "Generator seed (0 = time-based)")
	rootCmd.AddCommand(serveCmd)
}
