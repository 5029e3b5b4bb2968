// Package welfare cross-references pension payments with a death registry
// to find payments still flowing to deceased beneficiaries.
package welfare

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/spigell/fiscal-sentinel/internal/integrity"
	"github.com/spigell/fiscal-sentinel/internal/tabular"
	"github.com/spigell/fiscal-sentinel/internal/utils"
)

// ErrMissingColumns is returned when either file lacks a name column.
var ErrMissingColumns = tabular.ErrMissingColumns

// Confidence levels of a match.
const (
	ConfidenceHigh   = "HIGH"
	ConfidenceMedium = "MEDIUM"
)

const deceasedFlag = "Beneficiary appears in death registry"

var (
	beneficiaryColumns = []tabular.Column{
		{Name: "beneficiary_name", Aliases: []string{"name"}, Required: true},
		{Name: "beneficiary_id", Aliases: []string{"id", "payment_id"}},
		{Name: "date_of_birth", Aliases: []string{"dob"}},
		{Name: "pension_amount", Aliases: []string{"amount"}},
		{Name: "account_number", Aliases: []string{"bank_account"}},
	}
	deathColumns = []tabular.Column{
		{Name: "name", Aliases: []string{"deceased_name"}, Required: true},
		{Name: "date_of_birth", Aliases: []string{"dob"}},
		{Name: "date_of_death", Aliases: []string{"dod"}},
		{Name: "id_number", Aliases: []string{"id"}},
	}
)

// Config holds the Welfare-Shield thresholds.
type Config struct {
	Threshold      float64 `mapstructure:"threshold" json:"threshold"`
	HighConfidence float64 `mapstructure:"high-confidence" json:"high_confidence"`
	Algorithm      string  `mapstructure:"algorithm" json:"algorithm"`
	MaxNameRunes   int     `mapstructure:"max-name-runes" json:"max_name_runes"`
	RemoveTitles   bool    `mapstructure:"remove-titles" json:"remove_titles"`
}

func DefaultConfig() Config {
	return Config{
		Threshold:      85,
		HighConfidence: 95,
		Algorithm:      AlgorithmTokenSortRatio,
		MaxNameRunes:   100,
		RemoveTitles:   true,
	}
}

// Beneficiary is one pension disbursement row.
type Beneficiary struct {
	ID            string  `json:"beneficiary_id,omitempty"`
	Name          string  `json:"beneficiary_name"`
	DateOfBirth   string  `json:"date_of_birth,omitempty"`
	Amount        float64 `json:"pension_amount,omitempty"`
	AccountNumber string  `json:"account_number,omitempty"`
}

// DeathRecord is one death registry row.
type DeathRecord struct {
	ID          string `json:"id_number,omitempty"`
	Name        string `json:"name"`
	DateOfBirth string `json:"date_of_birth,omitempty"`
	DateOfDeath string `json:"date_of_death,omitempty"`
}

// Match is a beneficiary found in the death registry.
type Match struct {
	Beneficiary Beneficiary `json:"beneficiary"`
	DeathRecord DeathRecord `json:"matched_death_record"`
	Score       float64     `json:"similarity_score"`
	Confidence  string      `json:"confidence"`
	Flag        string      `json:"flag"`
}

// Result is the Welfare-Shield report.
type Result struct {
	Analyzer           string  `json:"analyzer"`
	Algorithm          string  `json:"algorithm"`
	Threshold          float64 `json:"similarity_threshold"`
	TotalDisbursements int     `json:"num_disbursements"`
	TotalDeathRecords  int     `json:"num_death_records"`
	Matches            []Match `json:"high_risk_payments"`
	DeceasedMatches    int     `json:"num_deceased_matches"`
	FlaggedAmount      float64 `json:"total_flagged_amount"`
	Status             string  `json:"status"`
	IntegrityScore     float64 `json:"integrity_score"`
}

// Analyzer runs Welfare-Shield scans.
type Analyzer struct {
	cfg        Config
	score      Scorer
	normalizer Normalizer
	logger     *zap.Logger
}

// New creates an Analyzer for the configured algorithm.
func New(cfg Config, logger *zap.Logger) (*Analyzer, error) {
	if cfg.Threshold <= 0 || cfg.Threshold > 100 {
		return nil, fmt.Errorf("threshold must be within (0, 100], got %v", cfg.Threshold)
	}
	if cfg.HighConfidence < cfg.Threshold {
		cfg.HighConfidence = cfg.Threshold
	}
	score, err := NewScorer(cfg.Algorithm)
	if err != nil {
		return nil, err
	}
	if cfg.Algorithm == "" {
		cfg.Algorithm = AlgorithmTokenSortRatio
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Analyzer{
		cfg:   cfg,
		score: score,
		normalizer: Normalizer{
			MaxRunes:         cfg.MaxNameRunes,
			StripTitles:      cfg.RemoveTitles,
			StripAccents:     true,
			StripPunctuation: true,
		},
		logger: logger,
	}, nil
}

// ParseBeneficiaries reads a pension disbursement CSV.
func ParseBeneficiaries(r io.Reader) ([]Beneficiary, error) {
	table, err := tabular.Read(r, beneficiaryColumns)
	if err != nil {
		return nil, fmt.Errorf("pension file: %w", err)
	}

	out := make([]Beneficiary, 0, table.Len())
	for i := 0; i < table.Len(); i++ {
		out = append(out, Beneficiary{
			ID:            table.Value(i, "beneficiary_id"),
			Name:          table.Value(i, "beneficiary_name"),
			DateOfBirth:   table.Value(i, "date_of_birth"),
			Amount:        parseAmount(table.Value(i, "pension_amount")),
			AccountNumber: table.Value(i, "account_number"),
		})
	}
	return out, nil
}

// ParseDeathRecords reads a death registry CSV.
func ParseDeathRecords(r io.Reader) ([]DeathRecord, error) {
	table, err := tabular.Read(r, deathColumns)
	if err != nil {
		return nil, fmt.Errorf("death registry: %w", err)
	}

	out := make([]DeathRecord, 0, table.Len())
	for i := 0; i < table.Len(); i++ {
		out = append(out, DeathRecord{
			ID:          table.Value(i, "id_number"),
			Name:        table.Value(i, "name"),
			DateOfBirth: table.Value(i, "date_of_birth"),
			DateOfDeath: table.Value(i, "date_of_death"),
		})
	}
	return out, nil
}

// AnalyzeCSV parses both files and cross-references them.
func (a *Analyzer) AnalyzeCSV(ctx context.Context, pension, deaths io.Reader) (*Result, error) {
	beneficiaries, err := ParseBeneficiaries(pension)
	if err != nil {
		return nil, err
	}
	records, err := ParseDeathRecords(deaths)
	if err != nil {
		return nil, err
	}
	return a.Analyze(ctx, beneficiaries, records)
}

type preparedDeath struct {
	name string
	dob  string
}

// Analyze matches every beneficiary with its best death record. When both
// sides carry a date of birth and the dates differ the record is not a
// candidate.
func (a *Analyzer) Analyze(ctx context.Context, beneficiaries []Beneficiary, records []DeathRecord) (*Result, error) {
	prepared := make([]preparedDeath, len(records))
	for i, r := range records {
		prepared[i] = preparedDeath{name: a.normalizer.Name(r.Name), dob: normalizeDate(r.DateOfBirth)}
	}

	res := &Result{
		Analyzer:           integrity.WelfareShield,
		Algorithm:          a.cfg.Algorithm,
		Threshold:          a.cfg.Threshold,
		TotalDisbursements: len(beneficiaries),
		TotalDeathRecords:  len(records),
		Matches:            []Match{},
	}

	for _, b := range beneficiaries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		name := a.normalizer.Name(b.Name)
		if name == "" {
			continue
		}
		dob := normalizeDate(b.DateOfBirth)

		best, bestScore := -1, 0.0
		for i, d := range prepared {
			if d.name == "" {
				continue
			}
			if dob != "" && d.dob != "" && dob != d.dob {
				continue
			}
			if s := a.score(name, d.name); s > bestScore {
				best, bestScore = i, s
			}
		}
		if best < 0 || bestScore < a.cfg.Threshold {
			continue
		}

		confidence := ConfidenceMedium
		if bestScore >= a.cfg.HighConfidence {
			confidence = ConfidenceHigh
		}
		res.Matches = append(res.Matches, Match{
			Beneficiary: b,
			DeathRecord: records[best],
			Score:       utils.Round(bestScore, 2),
			Confidence:  confidence,
			Flag:        deceasedFlag,
		})
		res.FlaggedAmount += b.Amount
	}

	res.DeceasedMatches = len(res.Matches)
	res.FlaggedAmount = utils.Round(res.FlaggedAmount, 2)
	res.Status = integrity.Status(res.DeceasedMatches)
	res.IntegrityScore = integrity.FromRatio(res.DeceasedMatches, len(beneficiaries))

	a.logger.Info("death registry cross-referenced",
		zap.Int("disbursements", len(beneficiaries)),
		zap.Int("death_records", len(records)),
		zap.Int("matches", res.DeceasedMatches),
		zap.Float64("flagged_amount", res.FlaggedAmount),
		zap.Float64("integrity_score", res.IntegrityScore),
	)

	return res, nil
}

func parseAmount(s string) float64 {
	s = strings.NewReplacer(",", "", "₹", "", "Rs.", "", "Rs", "", "INR", "").Replace(s)
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || v < 0 {
		return 0
	}
	return v
}
