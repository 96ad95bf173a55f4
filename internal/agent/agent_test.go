package agent

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spigell/career-agent/internal/ai"
	"github.com/spigell/career-agent/internal/persona"
	"github.com/spigell/career-agent/internal/tools"
)

type scriptedModel struct {
	mu        sync.Mutex
	responses []*ai.Response
	errs      []error
	requests  []*ai.Request
}

func (m *scriptedModel) Generate(_ context.Context, req *ai.Request) (*ai.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	clone := *req
	clone.Messages = append([]ai.Message(nil), req.Messages...)
	m.requests = append(m.requests, &clone)

	idx := len(m.requests) - 1
	if idx < len(m.errs) && m.errs[idx] != nil {
		return nil, m.errs[idx]
	}
	if idx >= len(m.responses) {
		return nil, errors.New("unexpected call")
	}
	return m.responses[idx], nil
}

func (m *scriptedModel) Model() string { return "scripted" }

func text(content string) *ai.Response {
	return &ai.Response{FinishReason: ai.FinishStop, Message: ai.Message{Role: ai.RoleAssistant, Content: content}}
}

func toolCalls(calls ...ai.ToolCall) *ai.Response {
	return &ai.Response{FinishReason: ai.FinishToolCalls, Message: ai.Message{Role: ai.RoleAssistant, ToolCalls: calls}}
}

type recordingNotifier struct {
	messages []string
	err      error
}

func (n *recordingNotifier) Notify(_ context.Context, message string) error {
	n.messages = append(n.messages, message)
	return n.err
}

func testPersona() *persona.Persona {
	return persona.New("Ed Donner", "I build LLM products.", "LinkedIn text", "CV text")
}

func newTestAgent(t *testing.T, model, judge ai.Model, notifier tools.Notifier, cfg Config) *Agent {
	t.Helper()

	registry, err := tools.NewRegistry(zap.NewNop(), tools.Defaults(notifier)...)
	require.NoError(t, err)

	p := testPersona()
	var evaluator *Evaluator
	if judge != nil {
		evaluator = NewEvaluator(judge, p, 0, zap.NewNop())
	}

	a, err := New(p, model, registry, evaluator, cfg, zap.NewNop())
	require.NoError(t, err)
	return a
}

func TestReplyAcceptedWithoutTools(t *testing.T) {
	model := &scriptedModel{responses: []*ai.Response{text("I build LLM products.")}}
	judge := &scriptedModel{responses: []*ai.Response{text(`{"is_acceptable": true, "feedback": "good"}`)}}
	notifier := &recordingNotifier{}
	a := newTestAgent(t, model, judge, notifier, Config{})

	reply, err := a.Reply(context.Background(), "What do you do?", nil)
	require.NoError(t, err)
	assert.Equal(t, "I build LLM products.", reply)

	require.Len(t, model.requests, 1)
	req := model.requests[0]
	assert.Equal(t, testPersona().AgentPrompt(), req.System)
	assert.Len(t, req.Tools, 2)
	require.Len(t, req.Messages, 1)
	assert.Equal(t, ai.Message{Role: ai.RoleUser, Content: "What do you do?"}, req.Messages[0])

	require.Len(t, judge.requests, 1)
	judged := judge.requests[0]
	assert.Equal(t, "evaluation", judged.SchemaName)
	require.NotNil(t, judged.ResponseSchema)
	assert.ElementsMatch(t, []string{"is_acceptable", "feedback"}, judged.ResponseSchema.Required)
	assert.Empty(t, judged.Tools)
	assert.Contains(t, judged.Messages[0].Content, "I build LLM products.")
	assert.Contains(t, judged.Messages[0].Content, "What do you do?")

	assert.Empty(t, notifier.messages)
}

func TestReplyRunsToolRoundsBeforeAnswering(t *testing.T) {
	model := &scriptedModel{responses: []*ai.Response{
		toolCalls(ai.ToolCall{ID: "c1", Name: tools.RecordUserDetailsName, Arguments: `{"email":"a@b.com","name":"Ann"}`}),
		text("Thanks Ann, I'll be in touch."),
	}}
	judge := &scriptedModel{responses: []*ai.Response{text(`{"is_acceptable": true, "feedback": ""}`)}}
	notifier := &recordingNotifier{}
	a := newTestAgent(t, model, judge, notifier, Config{})

	reply, err := a.Reply(context.Background(), "I'm Ann, a@b.com", nil)
	require.NoError(t, err)
	assert.Equal(t, "Thanks Ann, I'll be in touch.", reply)

	require.Equal(t, []string{"Recording interest from Ann with email a@b.com and notes not provided"}, notifier.messages)

	require.Len(t, model.requests, 2)
	second := model.requests[1].Messages
	require.Len(t, second, 3)
	assert.Equal(t, ai.RoleAssistant, second[1].Role)
	assert.Len(t, second[1].ToolCalls, 1)
	assert.Equal(t, ai.RoleTool, second[2].Role)
	assert.Equal(t, "c1", second[2].ToolCallID)
	assert.JSONEq(t, `{"recorded":"ok"}`, second[2].Content)
}

func TestReplyDispatchesEveryCallInOrder(t *testing.T) {
	model := &scriptedModel{responses: []*ai.Response{
		toolCalls(
			ai.ToolCall{ID: "c1", Name: tools.RecordUnknownQuestionName, Arguments: `{"question":"Favourite colour?"}`},
			ai.ToolCall{ID: "c2", Name: tools.RecordUserDetailsName, Arguments: `{"email":"x@y.z"}`},
		),
		text("done"),
	}}
	notifier := &recordingNotifier{}
	a := newTestAgent(t, model, nil, notifier, Config{})

	_, err := a.Reply(context.Background(), "hi", nil)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"Recording Favourite colour? asked that I couldn't answer",
		"Recording interest from Name not provided with email x@y.z and notes not provided",
	}, notifier.messages)

	msgs := model.requests[1].Messages
	require.Len(t, msgs, 4)
	assert.Equal(t, "c1", msgs[2].ToolCallID)
	assert.Equal(t, "c2", msgs[3].ToolCallID)
}

func TestReplyUnknownToolContinuesTurn(t *testing.T) {
	model := &scriptedModel{responses: []*ai.Response{
		toolCalls(ai.ToolCall{ID: "c1", Name: "book_meeting", Arguments: `{}`}),
		text("Sorry, I can't book meetings."),
	}}
	notifier := &recordingNotifier{}
	a := newTestAgent(t, model, nil, notifier, Config{})

	reply, err := a.Reply(context.Background(), "book a call", nil)
	require.NoError(t, err)
	assert.Equal(t, "Sorry, I can't book meetings.", reply)
	assert.Empty(t, notifier.messages)
	assert.JSONEq(t, `{}`, model.requests[1].Messages[2].Content)
}

func TestReplyRejectedTriggersSingleRerun(t *testing.T) {
	model := &scriptedModel{responses: []*ai.Response{
		text("yo whatever"),
		text("I'd be glad to tell you about my work."),
	}}
	judge := &scriptedModel{responses: []*ai.Response{
		text("```json\n{\"is_acceptable\": false, \"feedback\": \"Too casual\"}\n```"),
	}}
	a := newTestAgent(t, model, judge, &recordingNotifier{}, Config{})

	history := []ai.Message{
		{Role: ai.RoleUser, Content: "hello"},
		{Role: ai.RoleAssistant, Content: "Hi there!"},
	}
	reply, err := a.Reply(context.Background(), "What do you do?", history)
	require.NoError(t, err)
	assert.Equal(t, "I'd be glad to tell you about my work.", reply)

	require.Len(t, model.requests, 2)
	rerun := model.requests[1]
	assert.Equal(t, testPersona().RerunPrompt("yo whatever", "Too casual"), rerun.System)
	assert.Contains(t, rerun.System, "yo whatever")
	assert.Contains(t, rerun.System, "Too casual")
	assert.Empty(t, rerun.Tools)
	require.Len(t, rerun.Messages, 3)
	assert.Equal(t, "What do you do?", rerun.Messages[2].Content)

	// The regenerated reply is never judged.
	assert.Len(t, judge.requests, 1)
	assert.Contains(t, judge.requests[0].Messages[0].Content, "User: hello")
	assert.Contains(t, judge.requests[0].Messages[0].Content, "Agent: Hi there!")
}

func TestReplyEvaluationDisabled(t *testing.T) {
	model := &scriptedModel{responses: []*ai.Response{text("plain")}}
	a := newTestAgent(t, model, nil, &recordingNotifier{}, Config{})

	reply, err := a.Reply(context.Background(), "hi", nil)
	require.NoError(t, err)
	assert.Equal(t, "plain", reply)
	assert.Len(t, model.requests, 1)
}

func TestReplyFailures(t *testing.T) {
	boom := errors.New("boom")

	t.Run("model error", func(t *testing.T) {
		model := &scriptedModel{errs: []error{boom}}
		a := newTestAgent(t, model, nil, &recordingNotifier{}, Config{})

		_, err := a.Reply(context.Background(), "hi", nil)
		require.ErrorIs(t, err, boom)
	})

	t.Run("notifier error", func(t *testing.T) {
		model := &scriptedModel{responses: []*ai.Response{
			toolCalls(ai.ToolCall{ID: "c1", Name: tools.RecordUnknownQuestionName, Arguments: `{"question":"q"}`}),
		}}
		a := newTestAgent(t, model, nil, &recordingNotifier{err: boom}, Config{})

		_, err := a.Reply(context.Background(), "hi", nil)
		require.ErrorIs(t, err, boom)
		assert.Len(t, model.requests, 1)
	})

	t.Run("evaluator error", func(t *testing.T) {
		model := &scriptedModel{responses: []*ai.Response{text("reply")}}
		judge := &scriptedModel{errs: []error{boom}}
		a := newTestAgent(t, model, judge, &recordingNotifier{}, Config{})

		_, err := a.Reply(context.Background(), "hi", nil)
		require.ErrorIs(t, err, boom)
	})

	t.Run("unparsable evaluation", func(t *testing.T) {
		model := &scriptedModel{responses: []*ai.Response{text("reply")}}
		judge := &scriptedModel{responses: []*ai.Response{text("looks fine to me")}}
		a := newTestAgent(t, model, judge, &recordingNotifier{}, Config{})

		_, err := a.Reply(context.Background(), "hi", nil)
		require.Error(t, err)
		assert.Len(t, model.requests, 1)
	})

	t.Run("rerun error", func(t *testing.T) {
		model := &scriptedModel{
			responses: []*ai.Response{text("bad")},
			errs:      []error{nil, boom},
		}
		judge := &scriptedModel{responses: []*ai.Response{text(`{"is_acceptable": false, "feedback": "no"}`)}}
		a := newTestAgent(t, model, judge, &recordingNotifier{}, Config{})

		_, err := a.Reply(context.Background(), "hi", nil)
		require.ErrorIs(t, err, boom)
	})
}

func TestReplyStopsAfterMaxToolRounds(t *testing.T) {
	loop := toolCalls(ai.ToolCall{ID: "c", Name: "noop", Arguments: `{}`})
	model := &scriptedModel{responses: []*ai.Response{loop, loop, loop, loop}}
	a := newTestAgent(t, model, nil, &recordingNotifier{}, Config{MaxToolRounds: 2})

	_, err := a.Reply(context.Background(), "hi", nil)
	require.ErrorIs(t, err, ErrToolRoundsExceeded)
	assert.Len(t, model.requests, 3)
}

func TestReplyDoesNotMutateHistory(t *testing.T) {
	model := &scriptedModel{responses: []*ai.Response{
		toolCalls(ai.ToolCall{ID: "c1", Name: "noop", Arguments: `{}`}),
		text("ok"),
	}}
	a := newTestAgent(t, model, nil, &recordingNotifier{}, Config{})

	history := make([]ai.Message, 1, 8)
	history[0] = ai.Message{Role: ai.RoleUser, Content: "earlier"}

	_, err := a.Reply(context.Background(), "now", history)
	require.NoError(t, err)
	assert.Len(t, history, 1)
	assert.Equal(t, "earlier", history[:2][0].Content)
	assert.Empty(t, history[:2][1].Content)
}

func TestNewValidatesDependencies(t *testing.T) {
	registry, err := tools.NewRegistry(zap.NewNop())
	require.NoError(t, err)

	_, err = New(nil, &scriptedModel{}, registry, nil, Config{}, nil)
	assert.Error(t, err)
	_, err = New(testPersona(), nil, registry, nil, Config{}, nil)
	assert.Error(t, err)
	_, err = New(testPersona(), &scriptedModel{}, nil, nil, Config{}, nil)
	assert.Error(t, err)

	a, err := New(testPersona(), &scriptedModel{}, registry, nil, Config{}, nil)
	require.NoError(t, err)
	assert.Equal(t, defaultMaxToolRounds, a.maxToolRounds)
}
