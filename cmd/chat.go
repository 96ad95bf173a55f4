package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spigell/career-agent/internal/ai"
)

const exitCommand = "/exit"

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with the agent in the terminal",
	Run: func(cmd *cobra.Command, _ []string) {
		chat(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)
}

func chat(ctx context.Context) {
	log, _, a := setup(ctx)

	fmt.Printf("Type your question, %s or Ctrl-D to quit.\n", exitCommand)

	var history []ai.Message
	for {
		prompt := promptui.Prompt{Label: "You"}

		message, err := prompt.Run()
		if err != nil {
			if errors.Is(err, promptui.ErrInterrupt) || errors.Is(err, promptui.ErrEOF) {
				log.Info("exiting", zap.String("reason", "session closed"))
				return
			}
			log.Fatal("reading input", zap.Error(err))
		}

		message = strings.TrimSpace(message)
		switch message {
		case "":
			continue
		case exitCommand:
			log.Info("exiting", zap.String("reason", "got exit command"))
			return
		}

		reply, err := a.Reply(ctx, message, history)
		if err != nil {
			log.Error("answering the message", zap.Error(err))
			continue
		}

		fmt.Printf("\n%s\n\n", reply)
		history = appendTurn(history, message, reply)
	}
}

// appendTurn records a completed exchange. Failed turns are never recorded.
func appendTurn(history []ai.Message, message, reply string) []ai.Message {
	return append(history,
		ai.Message{Role: ai.RoleUser, Content: message},
		ai.Message{Role: ai.RoleAssistant, Content: reply},
	)
}
