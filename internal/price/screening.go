package price

import (
	"context"
	"fmt"
	"math"
	"strconv"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"github.com/spigell/fiscal-sentinel/internal/integrity"
	"github.com/spigell/fiscal-sentinel/internal/market"
	"github.com/spigell/fiscal-sentinel/internal/utils"
)

const (
	RuleCatalog   = "catalog"
	RuleInflation = "inflation"
	RuleSigma     = "sigma"

	FlagInflation = "PRICE_INFLATION"
	FlagOutlier   = "STATISTICAL_OUTLIER"

	minSpread = 0.01
)

// Lookuper resolves an invoice description to a reference price.
type Lookuper interface {
	Lookup(description string) (market.Match, bool)
}

// Rule is a single screening step applied to invoice items.
type Rule interface {
	Name() string
	Disable(reason string)
	IsEnabled() bool

	Validate(cfg *Config) error
	Apply(ctx context.Context, deps Deps, items []*Item) ([]*Item, Step, error)
}

// Deps aggregates dependencies shared across all rules.
type Deps struct {
	Catalog Lookuper
	Logger  *zap.Logger
}

// Step describes the result of executing a rule.
type Step struct {
	Initial int `json:"initial"`
	Dropped int `json:"dropped"`
	Flagged int `json:"flagged"`
	Left    int `json:"left"`
}

// StepReport ties a Step to the rule that produced it.
type StepReport struct {
	Rule string `json:"rule"`
	Step
}

// Status represents runtime information about a rule.
type Status struct {
	Name    string            `json:"name"`
	Enabled bool              `json:"enabled"`
	Reason  string            `json:"reason,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

type statusProvider interface {
	Status() Status
}

// DefaultRules returns the catalog, inflation and sigma rules in order.
func DefaultRules() []Rule {
	return []Rule{NewCatalogRule(), NewInflationRule(), NewSigmaRule()}
}

// DisableByName marks rules with the provided name as disabled while keeping them in the list.
func DisableByName(rules []Rule, name, reason string) {
	for _, rule := range rules {
		if rule.Name() == name {
			rule.Disable(reason)
		}
	}
}

// Run validates and then applies the enabled rules in order.
func Run(ctx context.Context, cfg *Config, deps Deps, rules []Rule, items []*Item) ([]*Item, []StepReport, error) {
	for _, rule := range rules {
		if !rule.IsEnabled() {
			continue
		}
		if err := rule.Validate(cfg); err != nil {
			return nil, nil, fmt.Errorf("%s: %w", rule.Name(), err)
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	reports := make([]StepReport, 0, len(rules))
	for _, rule := range rules {
		if !rule.IsEnabled() {
			logger.Debug("rule disabled", zap.String("name", rule.Name()))
			continue
		}

		next, info, err := rule.Apply(ctx, deps, items)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", rule.Name(), err)
		}

		logger.Info("screening step",
			zap.String("name", rule.Name()),
			zap.Int("initial", info.Initial),
			zap.Int("dropped", info.Dropped),
			zap.Int("flagged", info.Flagged),
			zap.Int("left", info.Left),
		)

		reports = append(reports, StepReport{Rule: rule.Name(), Step: info})
		items = next
	}

	return items, reports, nil
}

// Describe returns status entries for the provided rules.
func Describe(rules []Rule) []Status {
	statuses := make([]Status, 0, len(rules))
	for _, rule := range rules {
		if reporter, ok := rule.(statusProvider); ok {
			statuses = append(statuses, reporter.Status())
			continue
		}
		statuses = append(statuses, Status{Name: rule.Name(), Enabled: rule.IsEnabled()})
	}
	return statuses
}

type toggle struct {
	disabled bool
	reason   string
}

func (t *toggle) Disable(reason string) {
	t.disabled = true
	t.reason = reason
}

func (t *toggle) IsEnabled() bool { return !t.disabled }

// catalogRule prices items against the market catalog and drops the ones it cannot price.
type catalogRule struct {
	toggle
	unpriced []*Item
}

// NewCatalogRule creates the rule resolving market prices.
func NewCatalogRule() Rule {
	return &catalogRule{}
}

func (r *catalogRule) Name() string { return RuleCatalog }

func (r *catalogRule) Validate(*Config) error { return nil }

func (r *catalogRule) Apply(_ context.Context, deps Deps, items []*Item) ([]*Item, Step, error) {
	if deps.Catalog == nil {
		return nil, Step{}, fmt.Errorf("market catalog is required")
	}

	r.unpriced = nil
	priced := make([]*Item, 0, len(items))
	for _, item := range items {
		match, ok := deps.Catalog.Lookup(item.Description)
		if !ok {
			r.unpriced = append(r.unpriced, item)
			continue
		}
		m := match
		item.Market = &m
		item.MarketPrice = match.Price
		item.Ratio = utils.Round(item.InvoicePrice/match.Price, 4)
		item.InflationPercent = utils.Round(utils.Percent(item.InvoicePrice-match.Price, match.Price), 2)
		priced = append(priced, item)
	}

	return priced, Step{Initial: len(items), Dropped: len(r.unpriced), Left: len(priced)}, nil
}

// Unpriced returns the items dropped by the last Apply.
func (r *catalogRule) Unpriced() []*Item {
	return r.unpriced
}

func (r *catalogRule) Status() Status {
	return Status{Name: r.Name(), Enabled: r.IsEnabled(), Reason: r.reason}
}

// inflationRule flags items priced above the market by the configured margin.
type inflationRule struct {
	toggle
	suspicious float64
	critical   float64
}

// NewInflationRule creates the rule comparing invoice and market prices.
func NewInflationRule() Rule {
	return &inflationRule{}
}

func (r *inflationRule) Name() string { return RuleInflation }

func (r *inflationRule) Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if cfg.SuspiciousInflation <= 0 {
		return fmt.Errorf("suspicious inflation must be positive")
	}
	if cfg.CriticalInflation < cfg.SuspiciousInflation {
		return fmt.Errorf("critical inflation must not be below suspicious inflation")
	}
	r.suspicious = cfg.SuspiciousInflation
	r.critical = cfg.CriticalInflation
	return nil
}

func (r *inflationRule) Apply(_ context.Context, _ Deps, items []*Item) ([]*Item, Step, error) {
	flagged := 0
	for _, item := range items {
		if item.MarketPrice <= 0 {
			continue
		}
		inflation := (item.InvoicePrice - item.MarketPrice) / item.MarketPrice
		if inflation < r.suspicious {
			continue
		}
		severity := integrity.SeverityHigh
		if inflation >= r.critical {
			severity = integrity.SeverityCritical
		}
		item.flag(FlagInflation, severity)
		flagged++
	}
	return items, Step{Initial: len(items), Flagged: flagged, Left: len(items)}, nil
}

func (r *inflationRule) Status() Status {
	return Status{
		Name:    r.Name(),
		Enabled: r.IsEnabled(),
		Reason:  r.reason,
		Details: map[string]string{
			"suspicious": strconv.FormatFloat(r.suspicious, 'f', 2, 64),
			"critical":   strconv.FormatFloat(r.critical, 'f', 2, 64),
		},
	}
}

// sigmaRule flags items whose invoice/market ratio is a statistical outlier
// among the priced items of the same invoice.
type sigmaRule struct {
	toggle
	sigma      float64
	critical   float64
	minSamples int
	skipped    string
}

// NewSigmaRule creates the standard-deviation outlier rule.
func NewSigmaRule() Rule {
	return &sigmaRule{}
}

func (r *sigmaRule) Name() string { return RuleSigma }

func (r *sigmaRule) Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if cfg.Sigma <= 0 {
		return fmt.Errorf("sigma must be positive")
	}
	if cfg.CriticalSigma < cfg.Sigma {
		return fmt.Errorf("critical sigma must not be below sigma")
	}
	r.sigma = cfg.Sigma
	r.critical = cfg.CriticalSigma
	r.minSamples = max(cfg.MinSigmaSamples, 3)
	return nil
}

func (r *sigmaRule) Apply(_ context.Context, deps Deps, items []*Item) ([]*Item, Step, error) {
	r.skipped = ""
	step := Step{Initial: len(items), Left: len(items)}

	priced := make([]*Item, 0, len(items))
	for _, item := range items {
		if item.MarketPrice > 0 {
			priced = append(priced, item)
		}
	}

	if len(priced) < r.minSamples {
		r.skipped = fmt.Sprintf("needs %d priced items, got %d", r.minSamples, len(priced))
		if deps.Logger != nil {
			deps.Logger.Debug("sigma rule skipped", zap.String("reason", r.skipped))
		}
		return items, step, nil
	}

	ratios := make([]float64, len(priced))
	for i, item := range priced {
		ratios[i] = item.InvoicePrice / item.MarketPrice
	}

	if _, std := stat.MeanStdDev(ratios, nil); std == 0 {
		r.skipped = "ratios have no spread"
		return items, step, nil
	}

	for i, item := range priced {
		z := leaveOneOutScore(ratios, i)
		item.ZScore = utils.Round(z, 3)
		if z < r.sigma {
			continue
		}
		severity := integrity.SeverityHigh
		if z >= r.critical {
			severity = integrity.SeverityCritical
		}
		item.flag(FlagOutlier, severity)
		step.Flagged++
	}

	return items, step, nil
}

// leaveOneOutScore scores ratios[i] against the mean and standard deviation of
// the other ratios. Identical peers get a spread floor of minSpread of their mean.
func leaveOneOutScore(ratios []float64, i int) float64 {
	others := make([]float64, 0, len(ratios)-1)
	others = append(others, ratios[:i]...)
	others = append(others, ratios[i+1:]...)

	mean, std := stat.MeanStdDev(others, nil)
	if std == 0 {
		std = math.Max(math.Abs(mean)*minSpread, minSpread)
	}
	return stat.StdScore(ratios[i], mean, std)
}

func (r *sigmaRule) Status() Status {
	details := map[string]string{
		"sigma":          strconv.FormatFloat(r.sigma, 'f', 2, 64),
		"critical_sigma": strconv.FormatFloat(r.critical, 'f', 2, 64),
		"min_samples":    strconv.Itoa(r.minSamples),
	}
	if r.skipped != "" {
		details["skipped"] = r.skipped
	}
	return Status{Name: r.Name(), Enabled: r.IsEnabled(), Reason: r.reason, Details: details}
}
