package price

import (
	"context"
	"testing"

	"github.com/spigell/fiscal-sentinel/internal/integrity"
	"github.com/spigell/fiscal-sentinel/internal/market"
)

type fakeCatalog map[string]float64

func (f fakeCatalog) Lookup(description string) (market.Match, bool) {
	p, ok := f[description]
	if !ok {
		return market.Match{}, false
	}
	return market.Match{Item: description, Price: p, Similarity: 1, Method: market.MatchSubstring}, true
}

func newItems(prices map[string]float64, order ...string) []*Item {
	items := make([]*Item, 0, len(order))
	for _, name := range order {
		items = append(items, &Item{Description: name, InvoicePrice: prices[name]})
	}
	return items
}

func TestRunFlagsInflationAndOutliers(t *testing.T) {
	catalog := fakeCatalog{"a": 100, "b": 100, "c": 100, "d": 100, "e": 100, "f": 100}
	items := newItems(map[string]float64{"a": 100, "b": 100, "c": 100, "d": 100, "e": 100, "f": 300}, "a", "b", "c", "d", "e", "f")

	cfg := DefaultConfig()
	out, steps, err := Run(context.Background(), &cfg, Deps{Catalog: catalog}, DefaultRules(), items)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if len(out) != 6 {
		t.Fatalf("expected 6 items, got %d", len(out))
	}
	if len(steps) != 3 {
		t.Fatalf("expected 3 steps, got %d", len(steps))
	}

	last := out[5]
	if len(last.Flags) != 2 {
		t.Fatalf("expected inflation and outlier flags, got %v", last.Flags)
	}
	if last.Severity != integrity.SeverityCritical {
		t.Fatalf("expected CRITICAL severity, got %q", last.Severity)
	}
	if last.InflationPercent != 200 {
		t.Fatalf("expected 200%% inflation, got %v", last.InflationPercent)
	}
	if last.ZScore < 2 {
		t.Fatalf("expected z-score above 2, got %v", last.ZScore)
	}
	for _, item := range out[:5] {
		if item.Flagged() {
			t.Fatalf("item %q unexpectedly flagged: %v", item.Description, item.Flags)
		}
	}

	if steps[1].Rule != RuleInflation || steps[1].Flagged != 1 {
		t.Fatalf("unexpected inflation step %+v", steps[1])
	}
	if steps[2].Rule != RuleSigma || steps[2].Flagged != 1 {
		t.Fatalf("unexpected sigma step %+v", steps[2])
	}
}

func TestSigmaRuleFlagsOutlierInSmallInvoices(t *testing.T) {
	tests := []struct {
		name    string
		prices  map[string]float64
		order   []string
		outlier string
	}{
		{
			name:    "three items",
			prices:  map[string]float64{"a": 100, "b": 105, "c": 100000},
			order:   []string{"a", "b", "c"},
			outlier: "c",
		},
		{
			name:    "three items with identical peers",
			prices:  map[string]float64{"a": 100, "b": 100, "c": 300},
			order:   []string{"a", "b", "c"},
			outlier: "c",
		},
		{
			name:    "four items",
			prices:  map[string]float64{"a": 100, "b": 110, "c": 90, "d": 400},
			order:   []string{"a", "b", "c", "d"},
			outlier: "d",
		},
		{
			name:    "five items",
			prices:  map[string]float64{"a": 100, "b": 110, "c": 90, "d": 100, "e": 250},
			order:   []string{"a", "b", "c", "d", "e"},
			outlier: "e",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items := newItems(tt.prices, tt.order...)
			for _, item := range items {
				item.MarketPrice = 100
			}

			cfg := DefaultConfig()
			rule := NewSigmaRule()
			if err := rule.Validate(&cfg); err != nil {
				t.Fatalf("Validate returned error: %v", err)
			}

			out, step, err := rule.Apply(context.Background(), Deps{}, items)
			if err != nil {
				t.Fatalf("Apply returned error: %v", err)
			}
			if step.Flagged != 1 {
				t.Fatalf("expected 1 flagged item, got %d", step.Flagged)
			}

			for _, item := range out {
				if item.Description == tt.outlier {
					if len(item.Flags) != 1 || item.Flags[0] != FlagOutlier {
						t.Fatalf("expected outlier flag on %q, got %v", item.Description, item.Flags)
					}
					if item.Severity != integrity.SeverityCritical {
						t.Fatalf("expected CRITICAL severity, got %q (z=%v)", item.Severity, item.ZScore)
					}
					continue
				}
				if item.Flagged() {
					t.Fatalf("item %q unexpectedly flagged (z=%v)", item.Description, item.ZScore)
				}
			}

			if _, ok := rule.(*sigmaRule).Status().Details["skipped"]; ok {
				t.Fatalf("rule should not report itself as skipped")
			}
		})
	}
}

func TestCatalogRuleDropsUnpriced(t *testing.T) {
	rule := NewCatalogRule()
	items := newItems(map[string]float64{"known": 10, "mystery": 20}, "known", "mystery")

	out, step, err := rule.Apply(context.Background(), Deps{Catalog: fakeCatalog{"known": 10}}, items)
	if err != nil {
		t.Fatalf("Apply returned error: %v", err)
	}

	if len(out) != 1 || out[0].Description != "known" {
		t.Fatalf("unexpected priced items %+v", out)
	}
	if step != (Step{Initial: 2, Dropped: 1, Left: 1}) {
		t.Fatalf("unexpected step %+v", step)
	}
	unpriced := rule.(*catalogRule).Unpriced()
	if len(unpriced) != 1 || unpriced[0].Description != "mystery" {
		t.Fatalf("unexpected unpriced items %+v", unpriced)
	}
}

func TestInflationSeverity(t *testing.T) {
	tests := []struct {
		name     string
		invoice  float64
		severity string
	}{
		{name: "below threshold", invoice: 149, severity: ""},
		{name: "suspicious", invoice: 150, severity: integrity.SeverityHigh},
		{name: "critical", invoice: 175, severity: integrity.SeverityCritical},
	}

	cfg := DefaultConfig()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := NewInflationRule()
			if err := rule.Validate(&cfg); err != nil {
				t.Fatalf("Validate returned error: %v", err)
			}
			item := &Item{Description: "x", InvoicePrice: tt.invoice, MarketPrice: 100}
			if _, _, err := rule.Apply(context.Background(), Deps{}, []*Item{item}); err != nil {
				t.Fatalf("Apply returned error: %v", err)
			}
			if item.Severity != tt.severity {
				t.Fatalf("expected severity %q, got %q", tt.severity, item.Severity)
			}
		})
	}
}

func TestSigmaRuleSkipsSmallInvoices(t *testing.T) {
	cfg := DefaultConfig()
	rule := NewSigmaRule()
	if err := rule.Validate(&cfg); err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}

	items := []*Item{
		{Description: "a", InvoicePrice: 100, MarketPrice: 100},
		{Description: "b", InvoicePrice: 900, MarketPrice: 100},
	}
	_, step, err := rule.Apply(context.Background(), Deps{}, items)
	if err != nil {
		t.Fatalf("Apply returned error: %v", err)
	}
	if step.Flagged != 0 {
		t.Fatalf("expected no flags, got %d", step.Flagged)
	}
	if Describe([]Rule{rule})[0].Details["skipped"] == "" {
		t.Fatal("expected skip reason in status")
	}
}

func TestValidateRejectsInvertedThresholds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CriticalInflation = 0.1

	_, _, err := Run(context.Background(), &cfg, Deps{Catalog: fakeCatalog{}}, DefaultRules(), nil)
	if err == nil {
		t.Fatal("expected validation error")
	}
}

func TestDisableByNameKeepsRuleInDescribe(t *testing.T) {
	rules := DefaultRules()
	DisableByName(rules, RuleSigma, "off")

	statuses := Describe(rules)
	if len(statuses) != 3 {
		t.Fatalf("expected 3 statuses, got %d", len(statuses))
	}
	if statuses[2].Enabled || statuses[2].Reason != "off" {
		t.Fatalf("unexpected sigma status %+v", statuses[2])
	}
}
