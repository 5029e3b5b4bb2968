package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/spigell/fiscal-sentinel/internal/ai"
	"github.com/spigell/fiscal-sentinel/internal/ai/gemini"
	"github.com/spigell/fiscal-sentinel/internal/logger"
	"github.com/spigell/fiscal-sentinel/internal/market"
	"github.com/spigell/fiscal-sentinel/internal/payroll"
	"github.com/spigell/fiscal-sentinel/internal/price"
	"github.com/spigell/fiscal-sentinel/internal/secrets"
	"github.com/spigell/fiscal-sentinel/internal/tender"
	"github.com/spigell/fiscal-sentinel/internal/welfare"
)

// analyzers holds everything built from the configuration.
type analyzers struct {
	tender  *tender.Analyzer
	price   *price.Analyzer
	ghost   *payroll.Analyzer
	welfare *welfare.Analyzer
	catalog *market.Catalog
	logger  *zap.Logger
}

type aiServices struct {
	embedder ai.Embedder
	reader   *gemini.Reader
}

func buildAnalyzers(ctx context.Context, config *Config, log *zap.Logger) (*analyzers, error) {
	services, err := newAIServices(ctx, config.AI, log)
	if err != nil {
		log.Warn("hosted model disabled", zap.Error(err),
			zap.String("hint", "set ai.gemini.api-key-file or GEMINI_API_KEY_FILE"),
		)
		services = &aiServices{}
	}

	catalog, err := buildCatalog(ctx, config.Market, log)
	if err != nil {
		return nil, fmt.Errorf("market catalog: %w", err)
	}

	var (
		embedder ai.Embedder
		docs     ai.DocumentReader
		invoices ai.InvoiceReader
	)
	if services.embedder != nil {
		embedder = services.embedder
	}
	if services.reader != nil {
		docs = services.reader
		invoices = services.reader
	}

	result := &analyzers{catalog: catalog, logger: log}

	result.tender, err = tender.New(config.Tender, embedder, docs, log.Named("tender"))
	if err != nil {
		return nil, fmt.Errorf("tender: %w", err)
	}
	result.price, err = price.New(config.Price, catalog, invoices, log.Named("price"))
	if err != nil {
		return nil, fmt.Errorf("price: %w", err)
	}
	result.ghost, err = payroll.New(config.Payroll, log.Named("payroll"))
	if err != nil {
		return nil, fmt.Errorf("payroll: %w", err)
	}
	result.welfare, err = welfare.New(config.Welfare, log.Named("welfare"))
	if err != nil {
		return nil, fmt.Errorf("welfare: %w", err)
	}

	return result, nil
}

// newAIServices returns empty services when AI is switched off and an error
// when it is switched on but cannot be built.
func newAIServices(ctx context.Context, cfg *AIConfig, log *zap.Logger) (*aiServices, error) {
	if cfg == nil || !cfg.Enabled {
		return &aiServices{}, nil
	}

	provider := strings.TrimSpace(strings.ToLower(cfg.Provider))
	if provider != "" && provider != "gemini" {
		return nil, fmt.Errorf("unsupported ai provider: %s", cfg.Provider)
	}
	if cfg.Gemini == nil {
		return nil, errors.New("gemini configuration is required when ai is enabled")
	}

	apiKey, err := secrets.Load(secrets.Source{
		Name:  "gemini api key",
		File:  cfg.Gemini.APIKeyFile,
		Value: cfg.Gemini.APIKey,
		Env:   "GEMINI_API_KEY",
	})
	if err != nil {
		return nil, err
	}

	client, err := gemini.NewClient(ctx, apiKey)
	if err != nil {
		return nil, err
	}

	genLogger := logger.ForProvider(log, "gemini", cfg.Gemini.Model)
	generator, err := gemini.NewGenerator(client, cfg.Gemini.Model, cfg.Gemini.MaxRetries, genLogger)
	if err != nil {
		return nil, err
	}

	embedder, err := gemini.NewEmbedder(client, cfg.Gemini.EmbeddingModel, logger.ForProvider(log, "gemini", cfg.Gemini.EmbeddingModel))
	if err != nil {
		return nil, err
	}

	return &aiServices{
		embedder: embedder,
		reader:   gemini.NewReader(generator, cfg.Gemini.MaxLogLength, genLogger),
	}, nil
}

// buildCatalog starts from the built-in prices, replaces them with the
// catalog file when set and merges the remote catalog on top.
func buildCatalog(ctx context.Context, cfg MarketConfig, log *zap.Logger) (*market.Catalog, error) {
	catalog := market.NewCatalog(market.DefaultPrices(), cfg.EditCosts, cfg.MinSimilarity)

	if cfg.CatalogFile != "" {
		items, err := market.LoadCatalogFile(cfg.CatalogFile)
		if err != nil {
			return nil, err
		}
		catalog.Replace(items)
		log.Info("catalog loaded", zap.String("path", cfg.CatalogFile), zap.Int("items", catalog.Len()))
	}

	if cfg.Remote != nil && cfg.Remote.URL != "" {
		token := ""
		if cfg.Remote.TokenFile != "" {
			var err error
			token, err = secrets.Load(secrets.Source{Name: "catalog token", File: cfg.Remote.TokenFile})
			if err != nil {
				return nil, err
			}
		}

		client := market.NewClient(cfg.Remote.URL, token, log.Named("market"))
		prices, err := client.FetchPrices(ctx, cfg.Remote.Query)
		if err != nil {
			log.Warn("remote catalog unavailable, using local prices", zap.String("url", cfg.Remote.URL), zap.Error(err))
		} else {
			catalog.Merge(prices)
			log.Info("remote catalog merged", zap.Int("fetched", len(prices)), zap.Int("items", catalog.Len()))
		}
	}

	return catalog, nil
}

// exportCatalog writes the resolved catalog, including merged remote prices, as YAML.
func exportCatalog(path string, catalog *market.Catalog, log *zap.Logger) error {
	items := catalog.Items()
	if err := market.SaveCatalogFile(path, items); err != nil {
		return err
	}
	log.Info("catalog exported", zap.String("path", path), zap.Int("items", len(items)))
	return nil
}
