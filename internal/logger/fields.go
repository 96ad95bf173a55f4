package logger

import (
	"strings"

	"go.uber.org/zap"
)

const (
	// FieldProvider is the structured log field key for the model provider name.
	FieldProvider = "ai_provider"
	// FieldModel is the structured log field key for the model identifier.
	FieldModel = "ai_model"
	// FieldRole distinguishes the agent model from the evaluator model.
	FieldRole = "ai_role"
	// FieldTurnID correlates every entry produced while answering one user message.
	FieldTurnID = "turn_id"
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

// WithFields attaches the provided fields to the logger, defaulting to a no-op
// logger when nil.
func WithFields(logger *zap.Logger, fields ...zap.Field) *zap.Logger {
	if logger == nil {
		logger = zap.NewNop()
	}

	if len(fields) == 0 {
		return logger
	}

	return logger.With(fields...)
}

// ModelFields describes which model serves which role. Empty values are dropped.
func ModelFields(role, provider, model string) []zap.Field {
	return StringFields(
		StringField{Key: FieldRole, Value: role},
		StringField{Key: FieldProvider, Value: provider},
		StringField{Key: FieldModel, Value: model},
	)
}

// ForModel returns a logger annotated with ModelFields.
func ForModel(logger *zap.Logger, role, provider, model string) *zap.Logger {
	return WithFields(logger, ModelFields(role, provider, model)...)
}

// ForTurn returns a logger annotated with the turn identifier.
func ForTurn(logger *zap.Logger, turnID string) *zap.Logger {
	return WithFields(logger, StringFields(StringField{Key: FieldTurnID, Value: turnID})...)
}
