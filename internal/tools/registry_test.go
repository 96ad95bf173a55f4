package tools

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spigell/career-agent/internal/ai"
)

type recordingNotifier struct {
	messages []string
	err      error
}

func (n *recordingNotifier) Notify(_ context.Context, message string) error {
	n.messages = append(n.messages, message)
	return n.err
}

func newTestRegistry(t *testing.T, n Notifier) *Registry {
	t.Helper()
	registry, err := NewRegistry(zap.NewNop(), Defaults(n)...)
	require.NoError(t, err)
	return registry
}

func TestDispatchPreservesOrderAndCallIDs(t *testing.T) {
	notifier := &recordingNotifier{}
	registry := newTestRegistry(t, notifier)

	calls := []ai.ToolCall{
		{ID: "call-1", Name: RecordUnknownQuestionName, Arguments: `{"question":"What is your shoe size?"}`},
		{ID: "call-2", Name: "does_not_exist", Arguments: `{}`},
		{ID: "call-3", Name: RecordUserDetailsName, Arguments: `{"email":"a@b.com"}`},
	}

	results, err := registry.Dispatch(context.Background(), calls)
	require.NoError(t, err)
	require.Len(t, results, len(calls))

	for i, call := range calls {
		assert.Equal(t, ai.RoleTool, results[i].Role)
		assert.Equal(t, call.ID, results[i].ToolCallID)
		assert.Equal(t, call.Name, results[i].Name)
	}

	assert.JSONEq(t, `{"recorded":"ok"}`, results[0].Content)
	assert.JSONEq(t, `{}`, results[1].Content)
	assert.JSONEq(t, `{"recorded":"ok"}`, results[2].Content)
	assert.Len(t, notifier.messages, 2)
}

func TestDispatchUnknownToolNeverFails(t *testing.T) {
	registry := newTestRegistry(t, &recordingNotifier{})

	results, err := registry.Dispatch(context.Background(), []ai.ToolCall{{ID: "x", Name: "launch_rockets", Arguments: "not json"}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "{}", results[0].Content)
}

func TestRecordUserDetailsRequiresEmail(t *testing.T) {
	tests := []struct {
		name      string
		arguments string
	}{
		{name: "missing email", arguments: `{"name":"Ann"}`},
		{name: "empty arguments", arguments: ``},
		{name: "wrong type", arguments: `{"email": 42}`},
		{name: "undeclared field", arguments: `{"email":"a@b.com","phone":"555"}`},
		{name: "malformed json", arguments: `{"email":`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			notifier := &recordingNotifier{}
			registry := newTestRegistry(t, notifier)

			results, err := registry.Dispatch(context.Background(), []ai.ToolCall{
				{ID: "c", Name: RecordUserDetailsName, Arguments: tt.arguments},
			})
			require.NoError(t, err)
			require.Len(t, results, 1)

			assert.Empty(t, notifier.messages, "handler must not run with invalid arguments")
			assert.Contains(t, results[0].Content, `"error"`)
			assert.Equal(t, "c", results[0].ToolCallID)
		})
	}
}

func TestRecordUserDetailsMessage(t *testing.T) {
	notifier := &recordingNotifier{}
	registry := newTestRegistry(t, notifier)

	_, err := registry.Dispatch(context.Background(), []ai.ToolCall{
		{ID: "1", Name: RecordUserDetailsName, Arguments: `{"email":"a@b.com"}`},
		{ID: "2", Name: RecordUserDetailsName, Arguments: `{"email":"c@d.com","name":"Ann","notes":"hiring for SRE"}`},
	})
	require.NoError(t, err)

	require.Equal(t, []string{
		"Recording interest from Name not provided with email a@b.com and notes not provided",
		"Recording interest from Ann with email c@d.com and notes hiring for SRE",
	}, notifier.messages)
}

func TestRecordUnknownQuestionMessage(t *testing.T) {
	notifier := &recordingNotifier{}
	registry := newTestRegistry(t, notifier)

	_, err := registry.Dispatch(context.Background(), []ai.ToolCall{
		{ID: "1", Name: RecordUnknownQuestionName, Arguments: `{"question":"Do you speak Klingon?"}`},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"Recording Do you speak Klingon? asked that I couldn't answer"}, notifier.messages)
}

func TestDispatchPropagatesNotifierFailure(t *testing.T) {
	notifier := &recordingNotifier{err: errors.New("connection refused")}
	registry := newTestRegistry(t, notifier)

	results, err := registry.Dispatch(context.Background(), []ai.ToolCall{
		{ID: "1", Name: RecordUnknownQuestionName, Arguments: `{"question":"?"}`},
	})
	require.Error(t, err)
	assert.Nil(t, results)
	assert.True(t, strings.Contains(err.Error(), "connection refused"))
}

func TestDeclarations(t *testing.T) {
	registry := newTestRegistry(t, &recordingNotifier{})

	decls := registry.Declarations()
	require.Len(t, decls, 2)
	assert.Equal(t, RecordUserDetailsName, decls[0].Name)
	assert.Equal(t, []string{"email"}, decls[0].Parameters.Required)
	assert.Equal(t, RecordUnknownQuestionName, decls[1].Name)
	assert.Equal(t, []string{"question"}, decls[1].Parameters.Required)

	for _, decl := range decls {
		require.NotNil(t, decl.Parameters.AdditionalProperties)
		assert.False(t, *decl.Parameters.AdditionalProperties)
	}
}

func TestNewRegistryRejectsDuplicates(t *testing.T) {
	n := &recordingNotifier{}
	_, err := NewRegistry(nil, NewRecordUserDetails(n), NewRecordUserDetails(n))
	require.Error(t, err)

	_, err = NewRegistry(nil, &Tool{Declaration: ai.ToolDeclaration{Name: "x"}})
	require.Error(t, err)
}
