// Package openrouter talks to OpenAI-compatible chat completion APIs such as OpenRouter.
package openrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spigell/career-agent/internal/ai"
	"github.com/spigell/career-agent/internal/utils"
)

const (
	BaseURL             = "https://openrouter.ai/api/v1"
	defaultModel        = "gpt-4o-mini"
	defaultMaxLogLength = 200
	initialBackoff      = time.Second
)

var sleep = utils.WaitFor

type chatMessage struct {
	Role       string     `json:"role"`
	Content    *string    `json:"content"`
	ToolCalls  []toolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

type toolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type toolDefinition struct {
	Type     string       `json:"type"`
	Function functionSpec `json:"function"`
}

type functionSpec struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Parameters  *ai.Schema `json:"parameters,omitempty"`
}

type responseFormat struct {
	Type       string     `json:"type"`
	JSONSchema jsonSchema `json:"json_schema"`
}

type jsonSchema struct {
	Name   string     `json:"name"`
	Strict bool       `json:"strict"`
	Schema *ai.Schema `json:"schema"`
}

type chatRequest struct {
	Model          string           `json:"model"`
	Messages       []chatMessage    `json:"messages"`
	Tools          []toolDefinition `json:"tools,omitempty"`
	ToolChoice     string           `json:"tool_choice,omitempty"`
	ResponseFormat *responseFormat  `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content   json.RawMessage `json:"content"`
			Role      string          `json:"role"`
			ToolCalls []toolCall      `json:"tool_calls,omitempty"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Client implements ai.Model for OpenAI-compatible endpoints.
type Client struct {
	apiKey     string
	model      string
	maxRetries int
	maxLogLen  int
	logger     *zap.Logger
	HTTPClient *http.Client
	BaseURL    string
}

// NewClient creates a client. maxRetries is the total number of attempts per request.
func NewClient(apiKey, model, baseURL string, maxRetries, maxLogLength int, logger *zap.Logger) (*Client, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("openrouter api key is required")
	}
	if model = strings.TrimSpace(model); model == "" {
		model = defaultModel
	}
	if baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/"); baseURL == "" {
		baseURL = BaseURL
	}
	if maxLogLength <= 0 {
		maxLogLength = defaultMaxLogLength
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		apiKey:     apiKey,
		model:      model,
		maxRetries: maxRetries,
		maxLogLen:  maxLogLength,
		logger:     logger,
		HTTPClient: &http.Client{
			// LLM requests can be slow.
			Timeout: 5 * time.Minute,
		},
		BaseURL: baseURL,
	}, nil
}

func (c *Client) Model() string {
	if c == nil {
		return ""
	}
	return c.model
}

// Generate posts the conversation to /chat/completions and normalizes the first choice.
func (c *Client) Generate(ctx context.Context, req *ai.Request) (*ai.Response, error) {
	if req == nil || len(req.Messages) == 0 {
		return nil, errors.New("request must contain at least one message")
	}

	body := chatRequest{
		Model:    c.model,
		Messages: toMessages(req),
	}
	for _, tool := range req.Tools {
		body.Tools = append(body.Tools, toolDefinition{
			Type:     "function",
			Function: functionSpec{Name: tool.Name, Description: tool.Description, Parameters: tool.Parameters},
		})
	}
	if len(body.Tools) > 0 {
		body.ToolChoice = "auto"
	}
	if req.ResponseSchema != nil {
		name := req.SchemaName
		if name == "" {
			name = "response"
		}
		body.ResponseFormat = &responseFormat{
			Type:       "json_schema",
			JSONSchema: jsonSchema{Name: name, Strict: true, Schema: req.ResponseSchema},
		}
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	c.logger.Debug("openrouter chat completion request",
		zap.Int("messages", len(body.Messages)),
		zap.Int("tools", len(body.Tools)),
		zap.Bool("structured", body.ResponseFormat != nil),
		zap.String("last_message_preview", utils.TruncateForLog(req.Messages[len(req.Messages)-1].Content, c.maxLogLen)),
	)

	status, data, err := c.post(ctx, raw)
	if err != nil {
		return nil, err
	}

	var out chatResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("openrouter: decode (HTTP %d): %w", status, err)
	}
	if out.Error != nil {
		return nil, fmt.Errorf("openrouter: %s", out.Error.Message)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("openrouter: HTTP %d: %s", status, utils.TruncateForLog(string(data), c.maxLogLen))
	}
	if len(out.Choices) == 0 {
		return nil, errors.New("openrouter: no choices in response")
	}

	choice := out.Choices[0]
	msg := ai.Message{
		Role:    ai.RoleAssistant,
		Content: parseContent(choice.Message.Content),
	}
	for _, call := range choice.Message.ToolCalls {
		id := call.ID
		if id == "" {
			id = uuid.NewString()
		}
		msg.ToolCalls = append(msg.ToolCalls, ai.ToolCall{ID: id, Name: call.Function.Name, Arguments: call.Function.Arguments})
	}

	reason := ai.FinishReason(choice.FinishReason)
	if reason == "" {
		reason = ai.FinishStop
	}

	c.logger.Debug("openrouter chat completion response",
		zap.String("finish_reason", string(reason)),
		zap.Int("tool_calls", len(msg.ToolCalls)),
		zap.Int("response_length", utf8.RuneCountInString(msg.Content)),
		zap.String("response_preview", utils.TruncateForLog(msg.Content, c.maxLogLen)),
	)

	return &ai.Response{FinishReason: reason, Message: msg}, nil
}

// post retries network errors, 429 and 5xx up to maxRetries attempts in total.
func (c *Client) post(ctx context.Context, body []byte) (int, []byte, error) {
	attempts := c.maxRetries
	if attempts < 1 {
		attempts = 1
	}

	backoff := initialBackoff
	for attempt := 1; ; attempt++ {
		status, data, err := c.do(ctx, body)
		retryable := err != nil || status == http.StatusTooManyRequests || status >= http.StatusInternalServerError
		if !retryable {
			return status, data, nil
		}
		if attempt >= attempts {
			if err != nil {
				return 0, nil, fmt.Errorf("openrouter: request failed: %w", err)
			}
			return status, data, nil
		}

		c.logger.Warn("openrouter request failed, retrying",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", attempts),
			zap.Int("status", status),
			zap.Duration("delay", backoff),
			zap.Error(err),
		)

		if err := sleep(ctx, backoff); err != nil {
			return 0, nil, err
		}
		backoff *= 2
	}
}

func (c *Client) do(ctx context.Context, body []byte) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}

	return resp.StatusCode, data, nil
}

func toMessages(req *ai.Request) []chatMessage {
	messages := make([]chatMessage, 0, len(req.Messages)+1)
	if strings.TrimSpace(req.System) != "" {
		messages = append(messages, chatMessage{Role: string(ai.RoleSystem), Content: stringPtr(req.System)})
	}

	for _, m := range req.Messages {
		msg := chatMessage{
			Role:       string(m.Role),
			ToolCallID: m.ToolCallID,
		}
		if m.Content != "" || len(m.ToolCalls) == 0 {
			msg.Content = stringPtr(m.Content)
		}
		for _, call := range m.ToolCalls {
			tc := toolCall{ID: call.ID, Type: "function"}
			tc.Function.Name = call.Name
			tc.Function.Arguments = call.Arguments
			msg.ToolCalls = append(msg.ToolCalls, tc)
		}
		messages = append(messages, msg)
	}

	return messages
}

func stringPtr(s string) *string {
	return &s
}

// parseContent accepts content as a string, null, or an array of text parts.
func parseContent(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var parts []map[string]any
	if err := json.Unmarshal(raw, &parts); err != nil {
		return ""
	}

	var b strings.Builder
	for _, p := range parts {
		if kind, ok := p["type"].(string); ok && kind != "text" {
			continue
		}
		if text, ok := p["text"].(string); ok {
			b.WriteString(text)
		}
	}
	return b.String()
}
