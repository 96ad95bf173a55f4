package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/spigell/career-agent/internal/ai"
	"github.com/spigell/career-agent/internal/logger"
	"github.com/spigell/career-agent/internal/persona"
	"github.com/spigell/career-agent/internal/utils"
)

const defaultMaxLogLength = 200

// Evaluation is the judge's verdict on a candidate reply.
type Evaluation struct {
	Acceptable bool   `json:"is_acceptable"`
	Feedback   string `json:"feedback"`
}

var evaluationSchema = ai.Closed(map[string]*ai.Schema{
	"is_acceptable": {Type: ai.TypeBoolean, Description: "Whether the latest response is acceptable"},
	"feedback":      {Type: ai.TypeString, Description: "Why the response is or is not acceptable"},
}, "is_acceptable", "feedback")

// Evaluator asks a second model whether a reply is good enough.
type Evaluator struct {
	model     ai.Model
	system    string
	maxLogLen int
	logger    *zap.Logger
}

func NewEvaluator(model ai.Model, p *persona.Persona, maxLogLength int, log *zap.Logger) *Evaluator {
	if maxLogLength <= 0 {
		maxLogLength = defaultMaxLogLength
	}

	return &Evaluator{
		model:     model,
		system:    p.EvaluatorPrompt(),
		maxLogLen: maxLogLength,
		logger:    logger.WithFields(log),
	}
}

func (e *Evaluator) Evaluate(ctx context.Context, reply, message string, history []ai.Message) (*Evaluation, error) {
	prompt := persona.JudgePrompt(reply, message, ai.Transcript(history))

	e.logger.Debug("evaluation request",
		zap.Int("prompt_length", utf8.RuneCountInString(prompt)),
		zap.String("reply_preview", utils.TruncateForLog(reply, e.maxLogLen)),
	)

	resp, err := e.model.Generate(ctx, &ai.Request{
		System:         e.system,
		Messages:       []ai.Message{{Role: ai.RoleUser, Content: prompt}},
		ResponseSchema: evaluationSchema,
		SchemaName:     "evaluation",
	})
	if err != nil {
		return nil, err
	}

	evaluation, err := parseEvaluation(resp.Message.Content)
	if err != nil {
		e.logger.Debug("unparsable evaluation", zap.String("response_preview", utils.TruncateForLog(resp.Message.Content, e.maxLogLen)))
		return nil, err
	}

	e.logger.Info("reply evaluated",
		zap.Bool("acceptable", evaluation.Acceptable),
		zap.String("feedback", utils.TruncateForLog(evaluation.Feedback, e.maxLogLen)),
	)

	return evaluation, nil
}

func parseEvaluation(raw string) (*Evaluation, error) {
	cleaned := extractJSON(raw)

	var data map[string]any
	if err := json.Unmarshal([]byte(cleaned), &data); err != nil {
		return nil, fmt.Errorf("parse evaluation: %w", err)
	}

	acceptable, ok := data["is_acceptable"]
	if !ok {
		return nil, errors.New("parse evaluation: is_acceptable is missing")
	}

	return &Evaluation{
		Acceptable: coerceBool(acceptable),
		Feedback:   coerceString(data["feedback"]),
	}, nil
}

func extractJSON(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		raw = strings.TrimPrefix(raw, "```json")
		raw = strings.TrimPrefix(raw, "```")
		raw = strings.TrimSpace(raw)
		if idx := strings.LastIndex(raw, "```"); idx != -1 {
			raw = raw[:idx]
		}
	}
	raw = strings.Trim(raw, "`")
	return strings.TrimSpace(raw)
}

func coerceBool(v any) bool {
	switch val := v.(type) {
	case bool:
		return val
	case string:
		lower := strings.ToLower(strings.TrimSpace(val))
		return lower == "true" || lower == "yes"
	case float64:
		return val != 0
	default:
		return false
	}
}

func coerceString(v any) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case nil:
		return ""
	default:
		bytes, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(bytes)
	}
}
