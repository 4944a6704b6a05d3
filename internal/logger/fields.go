package logger

import (
	"strings"

	"github.com/EricBell/profile-gpt/internal/domain"
	"go.uber.org/zap"
)

const (
	// FieldProvider is the structured log field key for the AI provider name.
	FieldProvider = "ai_provider"
	// FieldModel is the structured log field key for the AI model identifier.
	FieldModel = "ai_model"
	// FieldSession is the structured log field key for the visitor session id.
	FieldSession = "session_id"
	// FieldCallType is the structured log field key for the model call kind.
	FieldCallType = "call_type"
	FieldRequest  = "reset_request_id"
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

// WithFields safely attaches the provided fields to the logger, defaulting to
// a no-op logger when nil.
func WithFields(logger *zap.Logger, fields ...zap.Field) *zap.Logger {
	if logger == nil {
		logger = zap.NewNop()
	}

	if len(fields) == 0 {
		return logger
	}

	return logger.With(fields...)
}

// CommonFields returns standard zap fields that describe the AI provider and model.
func CommonFields(provider, model string) []zap.Field {
	return StringFields(
		StringField{Key: FieldProvider, Value: provider},
		StringField{Key: FieldModel, Value: model},
	)
}

// WithCommonFields attaches the common AI fields to the provided logger.
func WithCommonFields(logger *zap.Logger, provider, model string) *zap.Logger {
	return WithFields(logger, CommonFields(provider, model)...)
}

// WithSession scopes the logger to a visitor session.
func WithSession(logger *zap.Logger, sessionID string) *zap.Logger {
	return WithFields(logger, StringFields(StringField{Key: FieldSession, Value: sessionID})...)
}

// UsageFields flattens a usage event for the access log.
func UsageFields(event domain.UsageEvent) []zap.Field {
	fields := StringFields(
		StringField{Key: FieldSession, Value: event.SessionID},
		StringField{Key: FieldCallType, Value: string(event.CallType)},
		StringField{Key: FieldModel, Value: event.Model},
		StringField{Key: "scope", Value: string(event.Scope)},
		StringField{Key: "outcome", Value: event.Outcome},
	)

	return append(fields,
		zap.Int("input_tokens", event.InputTokens),
		zap.Int("output_tokens", event.OutputTokens),
		zap.Float64("estimated_cost", event.EstimatedCost),
	)
}
