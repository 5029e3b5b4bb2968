package cmd

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/spigell/fiscal-sentinel/internal/market"
	"github.com/spigell/fiscal-sentinel/internal/reports"
	"github.com/spigell/fiscal-sentinel/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the fraud-analysis HTTP API",
	Run: func(_ *cobra.Command, _ []string) {
		serve()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringP("listen", "l", defaultListen, "listen address")
	serveCmd.Flags().String("database", defaultDatabase, "sqlite file for scan reports, an empty value disables storage")
	serveCmd.Flags().Bool("watch-catalog", false, "reload the catalog file when it changes")

	viper.BindPFlag("server.listen", serveCmd.Flags().Lookup("listen"))
	viper.BindPFlag("database", serveCmd.Flags().Lookup("database"))
	viper.BindPFlag("market.watch", serveCmd.Flags().Lookup("watch-catalog"))
}

func serve() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger, err := newLogger()
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}
	defer logger.Sync()

	config, err := getConfig()
	if err != nil {
		logger.Fatal("getting a config", zap.Error(err))
	}

	logger.Info("starting the fiscal-sentinel api", zap.String("version", version))

	built, err := buildAnalyzers(ctx, config, logger)
	if err != nil {
		logger.Fatal("building analyzers", zap.Error(err))
	}

	var store server.ReportStore
	if config.Database != "" {
		s, err := reports.Open(ctx, config.Database)
		if err != nil {
			logger.Fatal("opening report storage", zap.String("database", config.Database), zap.Error(err))
		}
		defer s.Close()
		store = s
		logger.Info("report storage ready", zap.String("database", config.Database))
	}

	if config.Market.Watch && config.Market.CatalogFile != "" {
		go func() {
			if err := market.Watch(ctx, config.Market.CatalogFile, built.catalog, logger.Named("market")); err != nil {
				logger.Warn("catalog watcher stopped", zap.Error(err))
			}
		}()
	}

	srv, err := server.New(config.Server, server.Deps{
		Tender:    built.tender,
		Price:     built.price,
		Ghost:     built.ghost,
		Welfare:   built.welfare,
		Reports:   store,
		Integrity: config.Integrity,
		Registry:  prometheus.NewRegistry(),
		Logger:    logger.Named("api"),
		Version:   version,
	})
	if err != nil {
		logger.Fatal("creating the server", zap.Error(err))
	}

	if err := srv.ListenAndServe(ctx); err != nil {
		logger.Fatal("serving", zap.Error(err))
	}
	logger.Info("exiting", zap.String("reason", "shutdown requested"))
}
