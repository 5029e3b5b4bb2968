// Package tender looks for bid rigging by comparing tender documents in an
// embedding space.
package tender

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"

	"github.com/spigell/fiscal-sentinel/internal/ai"
	"github.com/spigell/fiscal-sentinel/internal/integrity"
	"github.com/spigell/fiscal-sentinel/internal/utils"
)

var (
	// ErrNotEnoughDocuments is returned when fewer than two documents are supplied.
	ErrNotEnoughDocuments = errors.New("at least two documents are required")
	// ErrReaderUnavailable is returned for non-text documents when no document reader is configured.
	ErrReaderUnavailable = errors.New("document reader is not configured")
)

const collusionReason = "Textual similarity above threshold; possible collusion / bid-rigging."

// Config holds the Tender-Watch thresholds.
type Config struct {
	Threshold         float64 `mapstructure:"threshold" json:"threshold"`
	CriticalThreshold float64 `mapstructure:"critical-threshold" json:"critical_threshold"`
	MaxTextRunes      int     `mapstructure:"max-text-runes" json:"max_text_runes"`
	Workers           int     `mapstructure:"workers" json:"workers"`
}

func DefaultConfig() Config {
	return Config{
		Threshold:         0.90,
		CriticalThreshold: 0.96,
		MaxTextRunes:      20000,
		Workers:           4,
	}
}

// Document is one uploaded bid.
type Document struct {
	Name        string
	ContentType string
	Data        []byte
}

// DocumentSummary describes the text extracted from a document.
type DocumentSummary struct {
	Index      int    `json:"index"`
	Name       string `json:"name"`
	Characters int    `json:"characters"`
	Empty      bool   `json:"empty"`
}

// Pair is a flagged pair of documents.
type Pair struct {
	DocIndices        [2]int    `json:"doc_indices"`
	Documents         [2]string `json:"documents"`
	Similarity        float64   `json:"similarity"`
	SimilarityPercent float64   `json:"similarity_percent"`
	Severity          string    `json:"severity"`
	CollusionRisk     bool      `json:"collusion_risk"`
	Reason            string    `json:"reason"`
}

// Result is the Tender-Watch report.
type Result struct {
	Analyzer          string            `json:"analyzer"`
	Embedder          string            `json:"embedder"`
	TotalDocuments    int               `json:"total_documents"`
	Threshold         float64           `json:"similarity_threshold"`
	CriticalThreshold float64           `json:"critical_threshold"`
	Documents         []DocumentSummary `json:"documents"`
	FlaggedPairs      []Pair            `json:"flagged_pairs"`
	Status            string            `json:"status"`
	IntegrityScore    float64           `json:"integrity_score"`
}

// Analyzer runs Tender-Watch scans.
type Analyzer struct {
	cfg      Config
	embedder ai.Embedder
	reader   ai.DocumentReader
	logger   *zap.Logger
}

// New creates an Analyzer. A nil embedder falls back to the lexical one; a nil
// reader restricts scans to plain-text documents.
func New(cfg Config, embedder ai.Embedder, reader ai.DocumentReader, logger *zap.Logger) (*Analyzer, error) {
	if cfg.Threshold <= 0 || cfg.Threshold > 1 {
		return nil, fmt.Errorf("similarity threshold must be within (0, 1], got %v", cfg.Threshold)
	}
	if cfg.CriticalThreshold < cfg.Threshold {
		cfg.CriticalThreshold = cfg.Threshold
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if embedder == nil {
		embedder = NewLexicalEmbedder()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Analyzer{cfg: cfg, embedder: embedder, reader: reader, logger: logger}, nil
}

// Analyze extracts text from every document, embeds it and flags pairs whose
// cosine similarity reaches the threshold.
func (a *Analyzer) Analyze(ctx context.Context, docs []Document) (*Result, error) {
	if len(docs) < 2 {
		return nil, ErrNotEnoughDocuments
	}

	texts, err := a.extract(ctx, docs)
	if err != nil {
		return nil, err
	}

	vectors, err := a.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed documents with %s: %w", a.embedder.Name(), err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("embedder %s returned %d vectors for %d documents", a.embedder.Name(), len(vectors), len(texts))
	}

	res := &Result{
		Analyzer:          integrity.TenderWatch,
		Embedder:          a.embedder.Name(),
		TotalDocuments:    len(docs),
		Threshold:         a.cfg.Threshold,
		CriticalThreshold: a.cfg.CriticalThreshold,
		Documents:         make([]DocumentSummary, len(docs)),
		FlaggedPairs:      []Pair{},
	}
	for i, doc := range docs {
		chars := utf8.RuneCountInString(texts[i])
		res.Documents[i] = DocumentSummary{Index: i, Name: doc.Name, Characters: chars, Empty: strings.TrimSpace(texts[i]) == ""}
	}

	involved := make(map[int]struct{})
	for i := 0; i < len(vectors); i++ {
		for j := i + 1; j < len(vectors); j++ {
			sim := Cosine(vectors[i], vectors[j])
			if sim < a.cfg.Threshold {
				continue
			}

			severity := integrity.SeverityHigh
			if sim >= a.cfg.CriticalThreshold {
				severity = integrity.SeverityCritical
			}
			res.FlaggedPairs = append(res.FlaggedPairs, Pair{
				DocIndices:        [2]int{i, j},
				Documents:         [2]string{docs[i].Name, docs[j].Name},
				Similarity:        utils.Round(sim, 4),
				SimilarityPercent: utils.Round(sim*100, 2),
				Severity:          severity,
				CollusionRisk:     true,
				Reason:            collusionReason,
			})
			involved[i] = struct{}{}
			involved[j] = struct{}{}
		}
	}

	res.Status = integrity.Status(len(res.FlaggedPairs))
	res.IntegrityScore = integrity.FromRatio(len(involved), len(docs))

	a.logger.Info("tenders compared",
		zap.Int("documents", len(docs)),
		zap.String("embedder", res.Embedder),
		zap.Int("flagged_pairs", len(res.FlaggedPairs)),
		zap.Float64("integrity_score", res.IntegrityScore),
	)

	return res, nil
}

func (a *Analyzer) extract(ctx context.Context, docs []Document) ([]string, error) {
	texts := make([]string, len(docs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.Workers)
	for i, doc := range docs {
		g.Go(func() error {
			text, err := a.extractOne(gctx, doc)
			if err != nil {
				return fmt.Errorf("extract %q: %w", doc.Name, err)
			}
			texts[i] = a.truncate(text)
			a.logger.Debug("document extracted",
				zap.String("name", doc.Name),
				zap.String("content_type", doc.ContentType),
				zap.String("preview", utils.TruncateForLog(text, 120)),
			)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return texts, nil
}

func (a *Analyzer) extractOne(ctx context.Context, doc Document) (string, error) {
	if isPlainText(doc) {
		return string(doc.Data), nil
	}
	if len(doc.Data) == 0 {
		return "", nil
	}
	if a.reader == nil {
		return "", ErrReaderUnavailable
	}
	return a.reader.ReadDocument(ctx, doc.Data, doc.ContentType)
}

func (a *Analyzer) truncate(text string) string {
	if a.cfg.MaxTextRunes <= 0 || utf8.RuneCountInString(text) <= a.cfg.MaxTextRunes {
		return text
	}
	return string([]rune(text)[:a.cfg.MaxTextRunes])
}

func isPlainText(doc Document) bool {
	ct := strings.ToLower(doc.ContentType)
	if strings.HasPrefix(ct, "text/plain") {
		return true
	}
	lower := strings.ToLower(doc.Name)
	return strings.HasSuffix(lower, ".txt") || strings.HasSuffix(lower, ".md")
}

// Cosine returns the cosine similarity of a and b, or 0 when either vector
// is zero or their dimensions differ.
func Cosine(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	na, nb := floats.Norm(a, 2), floats.Norm(b, 2)
	if na == 0 || nb == 0 {
		return 0
	}
	return floats.Dot(a, b) / (na * nb)
}
