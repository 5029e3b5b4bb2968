// Package price screens invoice lines against market reference prices.
package price

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/spigell/fiscal-sentinel/internal/ai"
	"github.com/spigell/fiscal-sentinel/internal/integrity"
	"github.com/spigell/fiscal-sentinel/internal/market"
	"github.com/spigell/fiscal-sentinel/internal/utils"
)

var (
	// ErrEmptyInput is returned when neither an image nor text carries anything to scan.
	ErrEmptyInput = errors.New("invoice is empty")
	// ErrOCRUnavailable is returned for image scans when no invoice reader is configured.
	ErrOCRUnavailable = errors.New("invoice OCR is not configured")
)

const defaultPreviewLength = 500

// Config holds the Price-Guard thresholds.
type Config struct {
	SuspiciousInflation float64  `mapstructure:"suspicious-inflation" json:"suspicious_inflation"`
	CriticalInflation   float64  `mapstructure:"critical-inflation" json:"critical_inflation"`
	Sigma               float64  `mapstructure:"sigma" json:"sigma"`
	CriticalSigma       float64  `mapstructure:"critical-sigma" json:"critical_sigma"`
	MinSigmaSamples     int      `mapstructure:"min-sigma-samples" json:"min_sigma_samples"`
	PreviewLength       int      `mapstructure:"preview-length" json:"preview_length"`
	DisabledRules       []string `mapstructure:"disabled-rules" json:"disabled_rules,omitempty"`
}

// DefaultConfig flags 50% inflation and two-sigma outliers.
func DefaultConfig() Config {
	return Config{
		SuspiciousInflation: 0.50,
		CriticalInflation:   0.75,
		Sigma:               2.0,
		CriticalSigma:       3.0,
		MinSigmaSamples:     3,
		PreviewLength:       defaultPreviewLength,
	}
}

// Item is an invoice line with its market comparison.
type Item struct {
	Description      string        `json:"item"`
	InvoicePrice     float64       `json:"extracted_price"`
	MarketPrice      float64       `json:"market_price,omitempty"`
	Market           *market.Match `json:"market_match,omitempty"`
	Ratio            float64       `json:"price_ratio,omitempty"`
	InflationPercent float64       `json:"inflation_percent"`
	ZScore           float64       `json:"z_score,omitempty"`
	Flags            []string      `json:"flags,omitempty"`
	Severity         string        `json:"severity,omitempty"`
}

func (i *Item) flag(name, severity string) {
	if !slices.Contains(i.Flags, name) {
		i.Flags = append(i.Flags, name)
	}
	if severityRank(severity) > severityRank(i.Severity) {
		i.Severity = severity
	}
}

// Flagged reports whether any rule flagged the item.
func (i *Item) Flagged() bool { return len(i.Flags) > 0 }

func severityRank(s string) int {
	switch s {
	case integrity.SeverityCritical:
		return 3
	case integrity.SeverityHigh:
		return 2
	case integrity.SeverityMedium:
		return 1
	default:
		return 0
	}
}

// Result is the Price-Guard report for one invoice.
type Result struct {
	Analyzer        string       `json:"analyzer"`
	Source          string       `json:"source"`
	OCRText         string       `json:"ocr_text"`
	TotalItemsFound int          `json:"total_items_found"`
	PricedItems     int          `json:"priced_items"`
	Items           []*Item      `json:"items"`
	FlaggedItems    []*Item      `json:"flagged_items"`
	Unpriced        []*Item      `json:"unpriced_items"`
	Steps           []StepReport `json:"steps"`
	Rules           []Status     `json:"rules"`
	Status          string       `json:"status"`
	IntegrityScore  float64      `json:"integrity_score"`
}

// Analyzer runs Price-Guard scans.
type Analyzer struct {
	cfg     Config
	catalog Lookuper
	reader  ai.InvoiceReader
	logger  *zap.Logger
}

// New creates an Analyzer. reader may be nil, in which case only text scans are possible.
func New(cfg Config, catalog Lookuper, reader ai.InvoiceReader, logger *zap.Logger) (*Analyzer, error) {
	if catalog == nil {
		return nil, fmt.Errorf("market catalog is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PreviewLength <= 0 {
		cfg.PreviewLength = defaultPreviewLength
	}

	return &Analyzer{cfg: cfg, catalog: catalog, reader: reader, logger: logger}, nil
}

// AnalyzeImage reads the invoice image and screens its lines.
func (a *Analyzer) AnalyzeImage(ctx context.Context, data []byte, mimeType string) (*Result, error) {
	if len(data) == 0 {
		return nil, ErrEmptyInput
	}
	if a.reader == nil {
		return nil, ErrOCRUnavailable
	}

	reading, err := a.reader.ReadInvoice(ctx, data, mimeType)
	if err != nil {
		return nil, fmt.Errorf("read invoice: %w", err)
	}

	var lines []Line
	if len(reading.Lines) > 0 {
		for _, l := range reading.Lines {
			if strings.TrimSpace(l.Description) == "" || l.Price <= 0 {
				continue
			}
			lines = append(lines, Line{Description: l.Description, Price: l.Price})
		}
	} else {
		lines = ParseLines(reading.Text)
	}

	a.logger.Debug("invoice read",
		zap.Int("lines", len(lines)),
		zap.String("text", utils.TruncateForLog(reading.Text, a.cfg.PreviewLength)),
	)

	return a.screen(ctx, "image", reading.Text, lines)
}

// AnalyzeText screens invoice text that needs no OCR.
func (a *Analyzer) AnalyzeText(ctx context.Context, text string) (*Result, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyInput
	}
	return a.screen(ctx, "text", text, ParseLines(text))
}

func (a *Analyzer) screen(ctx context.Context, source, text string, lines []Line) (*Result, error) {
	items := make([]*Item, 0, len(lines))
	for _, l := range lines {
		items = append(items, &Item{Description: l.Description, InvoicePrice: l.Price})
	}

	rules := DefaultRules()
	for _, name := range a.cfg.DisabledRules {
		DisableByName(rules, name, "disabled by configuration")
	}

	deps := Deps{Catalog: a.catalog, Logger: a.logger}
	priced, steps, err := Run(ctx, &a.cfg, deps, rules, items)
	if err != nil {
		return nil, fmt.Errorf("screen invoice: %w", err)
	}

	res := &Result{
		Analyzer:        integrity.PriceGuard,
		Source:          source,
		OCRText:         utils.TruncateForLog(text, a.cfg.PreviewLength),
		TotalItemsFound: len(items),
		PricedItems:     len(priced),
		Items:           priced,
		FlaggedItems:    []*Item{},
		Unpriced:        []*Item{},
		Steps:           steps,
		Rules:           Describe(rules),
	}

	for _, rule := range rules {
		if c, ok := rule.(*catalogRule); ok && c.IsEnabled() {
			res.Unpriced = append(res.Unpriced, c.Unpriced()...)
		}
	}
	for _, item := range priced {
		if item.Flagged() {
			res.FlaggedItems = append(res.FlaggedItems, item)
		}
	}

	res.Status = integrity.Status(len(res.FlaggedItems))
	res.IntegrityScore = integrity.FromRatio(len(res.FlaggedItems), len(priced))

	a.logger.Info("invoice screened",
		zap.String("source", source),
		zap.Int("items", len(items)),
		zap.Int("priced", len(priced)),
		zap.Int("flagged", len(res.FlaggedItems)),
		zap.Float64("integrity_score", res.IntegrityScore),
	)

	return res, nil
}
