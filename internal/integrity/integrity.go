// Package integrity turns analyzer findings into 0..100 integrity scores and
// combines them into a system-wide verdict.
package integrity

import (
	"sort"

	"github.com/spigell/fiscal-sentinel/internal/utils"
)

// Analyzer names, also used as report kinds and weight keys.
const (
	TenderWatch   = "tender_watch"
	PriceGuard    = "price_guard"
	GhostHunter   = "ghost_hunter"
	WelfareShield = "welfare_shield"
)

// Per-run statuses.
const (
	StatusWarning = "WARNING"
	StatusClear   = "CLEAR"
)

// Finding severities.
const (
	SeverityMedium   = "MEDIUM"
	SeverityHigh     = "HIGH"
	SeverityCritical = "CRITICAL"
)

// System verdicts.
const (
	VerdictHighRisk = "HIGH_RISK"
	VerdictModerate = "MODERATE"
	VerdictClean    = "CLEAN"
)

// Config holds the weights and verdict thresholds.
type Config struct {
	Weights       map[string]float64 `mapstructure:"weights" json:"weights"`
	LowThreshold  float64            `mapstructure:"low-threshold" json:"low_threshold"`
	HighThreshold float64            `mapstructure:"high-threshold" json:"high_threshold"`
}

// DefaultConfig weighs the payroll graph highest as the most reliable signal.
func DefaultConfig() Config {
	return Config{
		Weights: map[string]float64{
			TenderWatch:   0.30,
			GhostHunter:   0.35,
			PriceGuard:    0.20,
			WelfareShield: 0.15,
		},
		LowThreshold:  70,
		HighThreshold: 90,
	}
}

// Status returns WARNING when anything was flagged.
func Status(flagged int) string {
	if flagged > 0 {
		return StatusWarning
	}
	return StatusClear
}

// FromRatio scores a run where flagged out of total records were suspicious.
// An empty run scores 100.
func FromRatio(flagged, total int) float64 {
	if total <= 0 || flagged <= 0 {
		return 100
	}
	if flagged > total {
		flagged = total
	}
	return utils.Round(100-utils.Percent(float64(flagged), float64(total)), 2)
}

// Component is one analyzer's contribution to the system score.
type Component struct {
	Analyzer string  `json:"analyzer"`
	Score    float64 `json:"integrity_score"`
	Weight   float64 `json:"weight"`
}

// Summary is the combined system-wide score.
type Summary struct {
	Score      float64     `json:"integrity_score"`
	Verdict    string      `json:"verdict"`
	Components []Component `json:"components"`
}

// Combine computes the weighted mean of the supplied scores, renormalising
// weights over the analyzers present. Analyzers without a positive weight are
// ignored. With no usable scores the system is considered clean.
func Combine(cfg Config, scores map[string]float64) Summary {
	names := make([]string, 0, len(scores))
	for name := range scores {
		names = append(names, name)
	}
	sort.Strings(names)

	var weighted, total float64
	components := make([]Component, 0, len(names))
	for _, name := range names {
		w := cfg.Weights[name]
		if w <= 0 {
			continue
		}
		score := clamp(scores[name])
		weighted += score * w
		total += w
		components = append(components, Component{Analyzer: name, Score: score, Weight: w})
	}

	score := 100.0
	if total > 0 {
		score = utils.Round(weighted/total, 2)
	}

	return Summary{Score: score, Verdict: Verdict(cfg, score), Components: components}
}

// Verdict classifies a system score against the configured thresholds.
func Verdict(cfg Config, score float64) string {
	switch {
	case score < cfg.LowThreshold:
		return VerdictHighRisk
	case score >= cfg.HighThreshold:
		return VerdictClean
	default:
		return VerdictModerate
	}
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	default:
		return v
	}
}
