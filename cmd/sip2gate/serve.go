package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/sip2gate/sip2gate"
	"github.com/sip2gate/sip2gate/api"
	"github.com/sip2gate/sip2gate/config"
	"github.com/sip2gate/sip2gate/events"
)

var watchConfig bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the gateway",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	serveCmd.Flags().BoolVar(&watchConfig, "watch", false,
		"reload branch configuration when the config file changes")
}

func setupLogging(cfg config.LogConfig) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	if cfg.Format == "console" {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "2006-01-02 15:04:05.000",
		}).With().Timestamp().Logger().Level(level)
	} else {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger().Level(level)
	}
}

func buildGateway(cfg *config.Config) (*sip2gate.Gateway, error) {
	options := []sip2gate.GatewayOption{
		sip2gate.WithGatewayBranches(cfg.BranchConfigs()),
		sip2gate.WithGatewayLocationCode(cfg.LocationCode),
		sip2gate.WithGatewayMasterKey(cfg.MasterKey),
		sip2gate.WithGatewayBreakerPolicy(cfg.Breaker.Threshold, cfg.Breaker.Backoff),
	}
	if cfg.Events.QueueSize > 0 {
		options = append(options, sip2gate.WithGatewayEventQueueSize(cfg.Events.QueueSize))
	}
	if cfg.TransactionLog.Enabled {
		options = append(options, sip2gate.WithGatewayTransactionLog(events.TransactionLogConfig{
			File:       cfg.TransactionLog.File,
			MaxSizeMB:  cfg.TransactionLog.MaxSizeMB,
			MaxBackups: cfg.TransactionLog.MaxBackups,
			MaxAgeDays: cfg.TransactionLog.MaxAgeDays,
			Compress:   cfg.TransactionLog.Compress,
		}))
	}
	return sip2gate.NewGateway(options...)
}

func runServe() error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	setupLogging(cfg.Log)

	gw, err := buildGateway(cfg)
	if err != nil {
		return err
	}

	server := api.NewServer(api.ServerConfig{Listen: cfg.Listen}, gw)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return server.Start(ctx)
	})
	if watchConfig && configFile != "" {
		group.Go(func() error {
			err := config.Watch(ctx, configFile, func(next *config.Config) {
				gw.Reinitialize(next.BranchConfigs(), next.LocationCode)
			})
			if err == context.Canceled {
				return nil
			}
			return err
		})
	}

	log.Info().Str("listen", cfg.Listen).Int("branches", len(cfg.Branches)).Msg("sip2gate up")
	err = group.Wait()
	if err == context.Canceled {
		err = nil
	}

	shutdownStart := time.Now()
	if cerr := gw.Close(); cerr != nil && err == nil {
		err = cerr
	}
	log.Info().Dur("elapsed", time.Since(shutdownStart)).Msg("sip2gate stopped")
	return err
}
