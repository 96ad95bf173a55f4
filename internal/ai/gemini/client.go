package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/spigell/career-agent/internal/ai"
	"github.com/spigell/career-agent/internal/utils"
)

const (
	defaultModel        = "gemini-2.5-flash"
	defaultMaxLogLength = 200
	initialBackoff      = time.Second
	// Quota errors asking to wait longer than this are not retried.
	maxQuotaDelay = 10 * time.Second
)

var sleep = utils.WaitFor

var quotaDelayPattern = regexp.MustCompile(`(?i)retry (?:after|in) ([0-9]+(?:\.[0-9]+)?)\s*s`)

type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Generator implements ai.Model on top of the Google GenAI client.
type Generator struct {
	models     contentGenerator
	model      string
	maxRetries int
	maxLogLen  int
	logger     *zap.Logger
}

// NewGenerator creates a new Generator configured for the Gemini API backend.
// maxRetries is the total number of attempts per request.
func NewGenerator(ctx context.Context, apiKey, model string, maxRetries, maxLogLength int, logger *zap.Logger) (*Generator, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("gemini api key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	if model = strings.TrimSpace(model); model == "" {
		model = defaultModel
	}
	if maxLogLength <= 0 {
		maxLogLength = defaultMaxLogLength
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Generator{
		models:     client.Models,
		model:      model,
		maxRetries: maxRetries,
		maxLogLen:  maxLogLength,
		logger:     logger,
	}, nil
}

func (g *Generator) Model() string {
	if g == nil {
		return ""
	}
	return g.model
}

// Generate sends the conversation to Gemini and normalizes the first candidate.
func (g *Generator) Generate(ctx context.Context, req *ai.Request) (*ai.Response, error) {
	if g == nil || g.models == nil {
		return nil, errors.New("gemini generator is not initialized")
	}
	if req == nil || len(req.Messages) == 0 {
		return nil, errors.New("request must contain at least one message")
	}

	contents, err := toContents(req.Messages)
	if err != nil {
		return nil, err
	}

	config := &genai.GenerateContentConfig{}
	if strings.TrimSpace(req.System) != "" {
		config.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if len(req.Tools) > 0 {
		config.Tools = []*genai.Tool{{FunctionDeclarations: toFunctionDeclarations(req.Tools)}}
	}
	if req.ResponseSchema != nil {
		config.ResponseMIMEType = "application/json"
		config.ResponseSchema = toSchema(req.ResponseSchema, true)
	}

	g.logger.Debug("gemini generate content request",
		zap.Int("messages", len(contents)),
		zap.Int("tools", len(req.Tools)),
		zap.Bool("structured", req.ResponseSchema != nil),
		zap.String("last_message_preview", utils.TruncateForLog(req.Messages[len(req.Messages)-1].Content, g.maxLogLen)),
	)

	resp, err := g.generateWithRetry(ctx, contents, config)
	if err != nil {
		return nil, err
	}

	out, err := fromResponse(resp)
	if err != nil {
		return nil, err
	}

	g.logger.Debug("gemini generate content response",
		zap.String("finish_reason", string(out.FinishReason)),
		zap.Int("tool_calls", len(out.Message.ToolCalls)),
		zap.Int("response_length", utf8.RuneCountInString(out.Message.Content)),
		zap.String("response_preview", utils.TruncateForLog(out.Message.Content, g.maxLogLen)),
	)

	return out, nil
}

func (g *Generator) generateWithRetry(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	attempts := g.maxRetries
	if attempts < 1 {
		attempts = 1
	}

	backoff := initialBackoff
	for attempt := 1; ; attempt++ {
		resp, err := g.models.GenerateContent(ctx, g.model, contents, config)
		if err == nil {
			return resp, nil
		}

		delay, retryable := retryDelay(err, backoff)
		if !retryable || attempt >= attempts {
			return nil, fmt.Errorf("generate content: %w", err)
		}

		g.logger.Warn("gemini request failed, retrying",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", attempts),
			zap.Duration("delay", delay),
			zap.Error(err),
		)

		if err := sleep(ctx, delay); err != nil {
			return nil, err
		}
		backoff *= 2
	}
}

func retryDelay(err error, backoff time.Duration) (time.Duration, bool) {
	var apiErr genai.APIError
	if !errors.As(err, &apiErr) {
		var ptr *genai.APIError
		if !errors.As(err, &ptr) || ptr == nil {
			return 0, false
		}
		apiErr = *ptr
	}

	switch {
	case apiErr.Code >= http.StatusInternalServerError:
		return backoff, true
	case apiErr.Code == http.StatusTooManyRequests:
		delay, ok := quotaDelay(apiErr.Message)
		if !ok {
			return backoff, true
		}
		if delay > maxQuotaDelay {
			return 0, false
		}
		return delay, true
	default:
		return 0, false
	}
}

func quotaDelay(message string) (time.Duration, bool) {
	match := quotaDelayPattern.FindStringSubmatch(message)
	if len(match) < 2 {
		return 0, false
	}

	seconds, err := strconv.ParseFloat(match[1], 64)
	if err != nil {
		return 0, false
	}

	return time.Duration(seconds * float64(time.Second)), true
}

// toContents maps the conversation onto Gemini roles. Consecutive tool turns
// are folded into one user content, as Gemini expects all responses to a
// batch of function calls together.
func toContents(messages []ai.Message) ([]*genai.Content, error) {
	contents := make([]*genai.Content, 0, len(messages))

	var pending *genai.Content
	flush := func() {
		if pending != nil {
			contents = append(contents, pending)
			pending = nil
		}
	}

	for _, m := range messages {
		switch m.Role {
		case ai.RoleTool:
			if pending == nil {
				pending = &genai.Content{Role: genai.RoleUser}
			}
			pending.Parts = append(pending.Parts, &genai.Part{
				FunctionResponse: &genai.FunctionResponse{
					ID:       m.ToolCallID,
					Name:     m.Name,
					Response: toolResponse(m.Content),
				},
			})
		case ai.RoleUser:
			flush()
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		case ai.RoleAssistant:
			flush()
			content := &genai.Content{Role: genai.RoleModel}
			if m.Content != "" {
				content.Parts = append(content.Parts, &genai.Part{Text: m.Content})
			}
			for _, call := range m.ToolCalls {
				args := map[string]any{}
				if strings.TrimSpace(call.Arguments) != "" {
					if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
						return nil, fmt.Errorf("decode arguments of %s call %s: %w", call.Name, call.ID, err)
					}
				}
				content.Parts = append(content.Parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{ID: call.ID, Name: call.Name, Args: args},
				})
			}
			if len(content.Parts) > 0 {
				contents = append(contents, content)
			}
		case ai.RoleSystem:
			// Carried by SystemInstruction.
		default:
			return nil, fmt.Errorf("unsupported message role %q", m.Role)
		}
	}
	flush()

	return contents, nil
}

func toolResponse(content string) map[string]any {
	var out map[string]any
	if err := json.Unmarshal([]byte(content), &out); err != nil || out == nil {
		return map[string]any{"output": content}
	}
	return out
}

func fromResponse(resp *genai.GenerateContentResponse) (*ai.Response, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0] == nil {
		return nil, errors.New("gemini api returned no candidates")
	}

	candidate := resp.Candidates[0]
	msg := ai.Message{Role: ai.RoleAssistant}

	var builder strings.Builder
	if candidate.Content != nil {
		for _, part := range candidate.Content.Parts {
			if part == nil || part.Thought {
				continue
			}
			if part.FunctionCall != nil {
				call, err := fromFunctionCall(part.FunctionCall)
				if err != nil {
					return nil, err
				}
				msg.ToolCalls = append(msg.ToolCalls, call)
				continue
			}
			builder.WriteString(part.Text)
		}
	}
	msg.Content = strings.TrimSpace(builder.String())

	if len(msg.ToolCalls) > 0 {
		return &ai.Response{FinishReason: ai.FinishToolCalls, Message: msg}, nil
	}

	if msg.Content == "" {
		return nil, fmt.Errorf("gemini api returned empty response (finish reason %q)", candidate.FinishReason)
	}

	return &ai.Response{FinishReason: finishReason(candidate.FinishReason), Message: msg}, nil
}

func fromFunctionCall(fc *genai.FunctionCall) (ai.ToolCall, error) {
	args := fc.Args
	if args == nil {
		args = map[string]any{}
	}

	raw, err := json.Marshal(args)
	if err != nil {
		return ai.ToolCall{}, fmt.Errorf("encode arguments of %s: %w", fc.Name, err)
	}

	id := strings.TrimSpace(fc.ID)
	if id == "" {
		id = uuid.NewString()
	}

	return ai.ToolCall{ID: id, Name: fc.Name, Arguments: string(raw)}, nil
}

func finishReason(reason genai.FinishReason) ai.FinishReason {
	switch reason {
	case "", genai.FinishReasonStop:
		return ai.FinishStop
	case genai.FinishReasonMaxTokens:
		return ai.FinishLength
	default:
		return ai.FinishReason(strings.ToLower(string(reason)))
	}
}
