// Package tools holds the closed set of callbacks the model may invoke.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"

	"github.com/spigell/career-agent/internal/ai"
)

// Result is the JSON object returned to the model for one invocation.
type Result map[string]any

// Handler runs a tool with arguments that already passed schema validation.
type Handler func(ctx context.Context, args map[string]any) (Result, error)

// Tool couples a declaration with its handler.
type Tool struct {
	Declaration ai.ToolDeclaration
	Handler     Handler
}

type registered struct {
	tool   *Tool
	schema *gojsonschema.Schema
}

// Registry resolves tool invocations by name.
type Registry struct {
	tools  map[string]*registered
	order  []string
	logger *zap.Logger
}

func NewRegistry(logger *zap.Logger, tools ...*Tool) (*Registry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &Registry{
		tools:  make(map[string]*registered, len(tools)),
		logger: logger,
	}

	for _, tool := range tools {
		if tool == nil || tool.Handler == nil {
			return nil, fmt.Errorf("tool handler is required")
		}

		name := strings.TrimSpace(tool.Declaration.Name)
		if name == "" {
			return nil, fmt.Errorf("tool name is required")
		}
		if _, exists := r.tools[name]; exists {
			return nil, fmt.Errorf("tool %q registered twice", name)
		}

		entry := &registered{tool: tool}
		if tool.Declaration.Parameters != nil {
			schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(tool.Declaration.Parameters))
			if err != nil {
				return nil, fmt.Errorf("compile %s parameters schema: %w", name, err)
			}
			entry.schema = schema
		}

		r.tools[name] = entry
		r.order = append(r.order, name)
	}

	return r, nil
}

// Declarations lists the registered tools in registration order.
func (r *Registry) Declarations() []ai.ToolDeclaration {
	decls := make([]ai.ToolDeclaration, 0, len(r.order))
	for _, name := range r.order {
		decls = append(decls, r.tools[name].tool.Declaration)
	}
	return decls
}

// Dispatch runs every call in order and returns one tool turn per call.
// Unknown tools produce an empty object and invalid arguments produce an
// error object; neither aborts the turn. A handler error does.
func (r *Registry) Dispatch(ctx context.Context, calls []ai.ToolCall) ([]ai.Message, error) {
	results := make([]ai.Message, 0, len(calls))

	for _, call := range calls {
		r.logger.Info("tool called", zap.String("tool", call.Name), zap.String("call_id", call.ID))

		result, err := r.invoke(ctx, call)
		if err != nil {
			return nil, fmt.Errorf("tool %s: %w", call.Name, err)
		}

		payload, err := json.Marshal(result)
		if err != nil {
			return nil, fmt.Errorf("marshal %s result: %w", call.Name, err)
		}

		results = append(results, ai.Message{
			Role:       ai.RoleTool,
			Content:    string(payload),
			ToolCallID: call.ID,
			Name:       call.Name,
		})
	}

	return results, nil
}

func (r *Registry) invoke(ctx context.Context, call ai.ToolCall) (Result, error) {
	entry, ok := r.tools[call.Name]
	if !ok {
		r.logger.Warn("unknown tool requested", zap.String("tool", call.Name))
		return Result{}, nil
	}

	args, err := decodeArguments(call.Arguments)
	if err != nil {
		r.logger.Warn("tool arguments rejected", zap.String("tool", call.Name), zap.Error(err))
		return Result{"error": err.Error()}, nil
	}

	if err := validate(entry.schema, args); err != nil {
		r.logger.Warn("tool arguments rejected", zap.String("tool", call.Name), zap.Error(err))
		return Result{"error": err.Error()}, nil
	}

	result, err := entry.tool.Handler(ctx, args)
	if err != nil {
		return nil, err
	}
	if result == nil {
		result = Result{}
	}

	return result, nil
}

func decodeArguments(raw string) (map[string]any, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return map[string]any{}, nil
	}

	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}
	if args == nil {
		args = map[string]any{}
	}

	return args, nil
}

func validate(schema *gojsonschema.Schema, args map[string]any) error {
	if schema == nil {
		return nil
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return fmt.Errorf("validate arguments: %w", err)
	}

	if !result.Valid() {
		problems := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			problems = append(problems, desc.String())
		}
		return fmt.Errorf("invalid arguments: %s", strings.Join(problems, "; "))
	}

	return nil
}
