package gemini

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/spigell/fiscal-sentinel/internal/ai"
	"github.com/spigell/fiscal-sentinel/internal/utils"
)

type partsGenerator interface {
	GenerateFromParts(ctx context.Context, system string, parts ...genai.Part) (string, error)
}

//go:embed document_prompt.md
var documentPrompt string

//go:embed invoice_prompt.md
var invoicePrompt string

const defaultMaxLogLength = 200

// Reader transcribes documents and invoices through Gemini's multimodal input.
type Reader struct {
	generator partsGenerator
	logger    *zap.Logger
	maxLogLen int
}

var (
	_ ai.DocumentReader = (*Reader)(nil)
	_ ai.InvoiceReader  = (*Reader)(nil)
)

// NewReader creates a Reader. maxLogLength bounds prompt and response previews in debug logs.
func NewReader(generator partsGenerator, maxLogLength int, logger *zap.Logger) *Reader {
	if maxLogLength <= 0 {
		maxLogLength = defaultMaxLogLength
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Reader{
		generator: generator,
		logger:    logger,
		maxLogLen: maxLogLength,
	}
}

// ReadDocument returns the plain text of a tender or bid document.
func (r *Reader) ReadDocument(ctx context.Context, data []byte, mimeType string) (string, error) {
	raw, err := r.send(ctx, documentPrompt, data, mimeType, "Transcribe the attached document.")
	if err != nil {
		return "", err
	}
	return stripFences(raw), nil
}

// ReadInvoice returns the transcription and priced lines of an invoice image.
func (r *Reader) ReadInvoice(ctx context.Context, data []byte, mimeType string) (*ai.InvoiceReading, error) {
	raw, err := r.send(ctx, invoicePrompt, data, mimeType, "Read the attached invoice and answer with the JSON object.")
	if err != nil {
		return nil, err
	}

	reading, err := parseInvoiceResponse(raw)
	if err != nil {
		return nil, err
	}
	reading.Raw = raw
	return reading, nil
}

func (r *Reader) send(ctx context.Context, system string, data []byte, mimeType, instruction string) (string, error) {
	if r == nil || r.generator == nil {
		return "", errors.New("gemini reader is not initialized")
	}
	if len(data) == 0 {
		return "", errors.New("document is empty")
	}
	mimeType = strings.TrimSpace(mimeType)
	if mimeType == "" {
		return "", errors.New("mime type is required")
	}

	r.logger.Debug("gemini read request",
		zap.String("mime_type", mimeType),
		zap.Int("bytes", len(data)),
		zap.String("instruction", instruction),
	)

	raw, err := r.generator.GenerateFromParts(ctx, system,
		genai.Part{InlineData: &genai.Blob{Data: data, MIMEType: mimeType}},
		genai.Part{Text: instruction},
	)
	if err != nil {
		return "", err
	}

	r.logger.Debug("gemini read response",
		zap.Int("response_length", utf8.RuneCountInString(raw)),
		zap.String("response_preview", utils.TruncateForLog(raw, r.maxLogLen)),
	)

	return raw, nil
}

func parseInvoiceResponse(raw string) (*ai.InvoiceReading, error) {
	cleaned := stripFences(raw)

	var data map[string]any
	if err := json.Unmarshal([]byte(cleaned), &data); err != nil {
		return nil, fmt.Errorf("parse gemini response: %w", err)
	}

	reading := &ai.InvoiceReading{Text: coerceString(data["text"])}

	items, _ := data["items"].([]any)
	for _, item := range items {
		fields, ok := item.(map[string]any)
		if !ok {
			continue
		}
		description := coerceString(fields["description"])
		price := coerceFloat(fields["price"])
		if description == "" || math.IsNaN(price) || price <= 0 {
			continue
		}
		reading.Lines = append(reading.Lines, ai.InvoiceLine{Description: description, Price: price})
	}

	return reading, nil
}

func stripFences(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		raw = strings.TrimPrefix(raw, "```json")
		raw = strings.TrimPrefix(raw, "```text")
		raw = strings.TrimPrefix(raw, "```")
		raw = strings.TrimSpace(raw)
		if idx := strings.LastIndex(raw, "```"); idx != -1 {
			raw = raw[:idx]
		}
	}
	return strings.TrimSpace(raw)
}

func coerceFloat(v any) float64 {
	switch val := v.(type) {
	case float64:
		return val
	case int:
		return float64(val)
	case string:
		trimmed := strings.TrimSpace(val)
		trimmed = strings.TrimLeft(trimmed, "₹$€£ ")
		trimmed = strings.ReplaceAll(trimmed, ",", "")
		if trimmed == "" {
			return math.NaN()
		}
		f, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			return math.NaN()
		}
		return f
	default:
		return math.NaN()
	}
}

func coerceString(v any) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case fmt.Stringer:
		return strings.TrimSpace(val.String())
	default:
		if v == nil {
			return ""
		}
		bytes, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(bytes)
	}
}
