package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"

	"github.com/spigell/career-agent/internal/ai"
)

const (
	RecordUserDetailsName     = "record_user_details"
	RecordUnknownQuestionName = "record_unknown_question"

	defaultContactName  = "Name not provided"
	defaultContactNotes = "not provided"
)

// Notifier receives a human-readable line for every recorded event.
type Notifier interface {
	Notify(ctx context.Context, message string) error
}

func recorded() Result {
	return Result{"recorded": "ok"}
}

type userDetails struct {
	Email string `mapstructure:"email"`
	Name  string `mapstructure:"name"`
	Notes string `mapstructure:"notes"`
}

// NewRecordUserDetails records a visitor who left an email address.
func NewRecordUserDetails(n Notifier) *Tool {
	return &Tool{
		Declaration: ai.ToolDeclaration{
			Name:        RecordUserDetailsName,
			Description: "Use this tool to record that a user is interested in being in touch and provided an email address",
			Parameters: ai.Closed(map[string]*ai.Schema{
				"email": {Type: ai.TypeString, Description: "The email address of this user"},
				"name":  {Type: ai.TypeString, Description: "The user's name, if they provided it"},
				"notes": {Type: ai.TypeString, Description: "Any additional information about the conversation that's worth recording to give context"},
			}, "email"),
		},
		Handler: func(ctx context.Context, args map[string]any) (Result, error) {
			var details userDetails
			if err := mapstructure.Decode(args, &details); err != nil {
				return nil, fmt.Errorf("decode arguments: %w", err)
			}

			if strings.TrimSpace(details.Name) == "" {
				details.Name = defaultContactName
			}
			if strings.TrimSpace(details.Notes) == "" {
				details.Notes = defaultContactNotes
			}

			message := fmt.Sprintf("Recording interest from %s with email %s and notes %s", details.Name, details.Email, details.Notes)
			if err := n.Notify(ctx, message); err != nil {
				return nil, err
			}

			return recorded(), nil
		},
	}
}

type unknownQuestion struct {
	Question string `mapstructure:"question"`
}

// NewRecordUnknownQuestion records a question the agent could not answer.
func NewRecordUnknownQuestion(n Notifier) *Tool {
	return &Tool{
		Declaration: ai.ToolDeclaration{
			Name:        RecordUnknownQuestionName,
			Description: "Always use this tool to record any question that couldn't be answered as you didn't know the answer",
			Parameters: ai.Closed(map[string]*ai.Schema{
				"question": {Type: ai.TypeString, Description: "The question that couldn't be answered"},
			}, "question"),
		},
		Handler: func(ctx context.Context, args map[string]any) (Result, error) {
			var q unknownQuestion
			if err := mapstructure.Decode(args, &q); err != nil {
				return nil, fmt.Errorf("decode arguments: %w", err)
			}

			if err := n.Notify(ctx, fmt.Sprintf("Recording %s asked that I couldn't answer", q.Question)); err != nil {
				return nil, err
			}

			return recorded(), nil
		},
	}
}

// Defaults returns the tools every agent exposes.
func Defaults(n Notifier) []*Tool {
	return []*Tool{
		NewRecordUserDetails(n),
		NewRecordUnknownQuestion(n),
	}
}
