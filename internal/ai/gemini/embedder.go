package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

const (
	defaultEmbeddingModel  = "gemini-embedding-001"
	taskSemanticSimilarity = "SEMANTIC_SIMILARITY"

	// maxEmbedBatch is the number of contents the API accepts per request.
	maxEmbedBatch = 100
)

type embedContentClient interface {
	EmbedContent(ctx context.Context, model string, contents []*genai.Content, config *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error)
}

// Embedder produces semantic-similarity embeddings with a Gemini embedding model.
type Embedder struct {
	models    embedContentClient
	model     string
	batchSize int
	logger    *zap.Logger
}

// NewEmbedder creates an embedder backed by client.
func NewEmbedder(client *genai.Client, model string, logger *zap.Logger) (*Embedder, error) {
	if client == nil {
		return nil, errors.New("genai client is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if model = strings.TrimSpace(model); model == "" {
		model = defaultEmbeddingModel
	}
	return &Embedder{models: client.Models, model: model, batchSize: maxEmbedBatch, logger: logger}, nil
}

// Name identifies the embedder in reports.
func (e *Embedder) Name() string {
	return "gemini:" + e.model
}

// Embed returns one vector per text. Blank texts are not sent to the API and
// come back as zero vectors of the common dimension.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if e == nil || e.models == nil {
		return nil, errors.New("gemini embedder is not initialized")
	}

	vectors := make([][]float64, len(texts))

	pending := make([]int, 0, len(texts))
	for i, text := range texts {
		if strings.TrimSpace(text) != "" {
			pending = append(pending, i)
		}
	}

	batch := max(e.batchSize, 1)
	dim := 0
	for start := 0; start < len(pending); start += batch {
		end := min(start+batch, len(pending))
		indices := pending[start:end]

		contents := make([]*genai.Content, 0, len(indices))
		for _, idx := range indices {
			contents = append(contents, genai.NewContentFromText(texts[idx], genai.RoleUser))
		}

		resp, err := e.models.EmbedContent(ctx, e.model, contents, &genai.EmbedContentConfig{
			TaskType: taskSemanticSimilarity,
		})
		if err != nil {
			return nil, fmt.Errorf("embed content: %w", err)
		}
		if resp == nil || len(resp.Embeddings) != len(indices) {
			got := 0
			if resp != nil {
				got = len(resp.Embeddings)
			}
			return nil, fmt.Errorf("embed content: expected %d embeddings, got %d", len(indices), got)
		}

		for j, emb := range resp.Embeddings {
			if emb == nil {
				return nil, fmt.Errorf("embed content: embedding %d is empty", j)
			}
			vec := make([]float64, len(emb.Values))
			for k, v := range emb.Values {
				vec[k] = float64(v)
			}
			vectors[indices[j]] = vec
			dim = len(vec)
		}

		e.logger.Debug("embedded batch",
			zap.Int("batch_size", len(indices)),
			zap.Int("dimension", dim),
		)
	}

	for i := range vectors {
		if vectors[i] == nil {
			vectors[i] = make([]float64, dim)
		}
	}

	return vectors, nil
}
