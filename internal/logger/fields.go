package logger

import (
	"strings"

	"go.uber.org/zap"
)

const (
	// FieldAnalyzer is the structured log field key for the analyzer name.
	FieldAnalyzer = "analyzer"
	// FieldRequestID is the structured log field key for the API request or report id.
	FieldRequestID = "request_id"
	// FieldProvider is the structured log field key for the AI provider name.
	FieldProvider = "ai_provider"
	// FieldModel is the structured log field key for the AI model identifier.
	FieldModel = "ai_model"
)

// StringField describes a string-valued structured logging field.
type StringField struct {
	Key   string
	Value string
}

// StringFields converts the provided key/value pairs into zap fields, trimming
// whitespace and omitting entries with empty keys or values.
func StringFields(fields ...StringField) []zap.Field {
	result := make([]zap.Field, 0, len(fields))
	for _, field := range fields {
		key := strings.TrimSpace(field.Key)
		if key == "" {
			continue
		}

		value := strings.TrimSpace(field.Value)
		if value == "" {
			continue
		}

		result = append(result, zap.String(key, value))
	}

	return result
}

// WithFields attaches the provided fields to the logger, defaulting to a
// no-op logger when nil.
func WithFields(logger *zap.Logger, fields ...zap.Field) *zap.Logger {
	if logger == nil {
		logger = zap.NewNop()
	}

	if len(fields) == 0 {
		return logger
	}

	return logger.With(fields...)
}

// ForAnalyzer scopes a logger to one analyzer run.
func ForAnalyzer(logger *zap.Logger, analyzer, requestID string) *zap.Logger {
	return WithFields(logger, StringFields(
		StringField{Key: FieldAnalyzer, Value: analyzer},
		StringField{Key: FieldRequestID, Value: requestID},
	)...)
}

// ForProvider scopes a logger to an AI provider and model.
func ForProvider(logger *zap.Logger, provider, model string) *zap.Logger {
	return WithFields(logger, StringFields(
		StringField{Key: FieldProvider, Value: provider},
		StringField{Key: FieldModel, Value: model},
	)...)
}
