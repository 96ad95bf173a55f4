// Package agent answers visitor messages on behalf of a persona: it runs the
// model/tool loop, has the reply judged, and regenerates once on rejection.
package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spigell/career-agent/internal/ai"
	"github.com/spigell/career-agent/internal/logger"
	"github.com/spigell/career-agent/internal/persona"
)

const defaultMaxToolRounds = 10

// ErrToolRoundsExceeded aborts a turn whose model keeps requesting tools.
var ErrToolRoundsExceeded = errors.New("tool call rounds exceeded")

// Dispatcher exposes tools to the model and runs the ones it asks for.
type Dispatcher interface {
	Declarations() []ai.ToolDeclaration
	Dispatch(ctx context.Context, calls []ai.ToolCall) ([]ai.Message, error)
}

type Config struct {
	// MaxToolRounds bounds how many batches of tool calls one turn may run.
	MaxToolRounds int
}

// Agent is safe for concurrent use: it holds no per-turn state.
type Agent struct {
	persona       *persona.Persona
	model         ai.Model
	tools         Dispatcher
	evaluator     *Evaluator
	maxToolRounds int
	logger        *zap.Logger
}

// New wires an agent. A nil evaluator returns every candidate reply unchecked.
func New(p *persona.Persona, model ai.Model, tools Dispatcher, evaluator *Evaluator, cfg Config, log *zap.Logger) (*Agent, error) {
	if p == nil {
		return nil, errors.New("persona is required")
	}
	if model == nil {
		return nil, errors.New("model is required")
	}
	if tools == nil {
		return nil, errors.New("tool dispatcher is required")
	}

	rounds := cfg.MaxToolRounds
	if rounds <= 0 {
		rounds = defaultMaxToolRounds
	}

	return &Agent{
		persona:       p,
		model:         model,
		tools:         tools,
		evaluator:     evaluator,
		maxToolRounds: rounds,
		logger:        logger.WithFields(log),
	}, nil
}

// Reply answers one user message given the prior conversation.
func (a *Agent) Reply(ctx context.Context, message string, history []ai.Message) (string, error) {
	log := logger.ForTurn(a.logger, uuid.NewString())

	reply, err := a.respond(ctx, log, message, history)
	if err != nil {
		return "", err
	}

	if a.evaluator == nil {
		return reply, nil
	}

	evaluation, err := a.evaluator.Evaluate(ctx, reply, message, history)
	if err != nil {
		return "", fmt.Errorf("evaluate reply: %w", err)
	}

	if evaluation.Acceptable {
		log.Info("passed evaluation - returning reply")
		return reply, nil
	}

	log.Info("failed evaluation - retrying", zap.String("feedback", evaluation.Feedback))
	return a.rerun(ctx, log, reply, message, history, evaluation.Feedback)
}

func conversation(message string, history []ai.Message) []ai.Message {
	messages := make([]ai.Message, 0, len(history)+1)
	messages = append(messages, history...)
	return append(messages, ai.Message{Role: ai.RoleUser, Content: message})
}

// respond runs the model until it produces a final answer, dispatching every
// batch of tool calls it asks for in between.
func (a *Agent) respond(ctx context.Context, log *zap.Logger, message string, history []ai.Message) (string, error) {
	messages := conversation(message, history)
	declarations := a.tools.Declarations()

	for round := 0; ; round++ {
		resp, err := a.model.Generate(ctx, &ai.Request{
			System:   a.persona.AgentPrompt(),
			Messages: messages,
			Tools:    declarations,
		})
		if err != nil {
			return "", fmt.Errorf("generate reply: %w", err)
		}

		if !resp.WantsTools() {
			log.Debug("model finished", zap.String("finish_reason", string(resp.FinishReason)), zap.Int("tool_rounds", round))
			return resp.Message.Content, nil
		}

		if round >= a.maxToolRounds {
			return "", fmt.Errorf("%w: limit is %d", ErrToolRoundsExceeded, a.maxToolRounds)
		}

		results, err := a.tools.Dispatch(ctx, resp.Message.ToolCalls)
		if err != nil {
			return "", fmt.Errorf("dispatch tools: %w", err)
		}

		messages = append(messages, resp.Message)
		messages = append(messages, results...)
	}
}

// rerun makes a single tool-less attempt informed by the rejection. Its
// output is returned as-is and never evaluated again.
func (a *Agent) rerun(ctx context.Context, log *zap.Logger, rejected, message string, history []ai.Message, feedback string) (string, error) {
	resp, err := a.model.Generate(ctx, &ai.Request{
		System:   a.persona.RerunPrompt(rejected, feedback),
		Messages: conversation(message, history),
	})
	if err != nil {
		return "", fmt.Errorf("regenerate reply: %w", err)
	}

	log.Debug("regenerated reply", zap.String("finish_reason", string(resp.FinishReason)))
	return resp.Message.Content, nil
}
