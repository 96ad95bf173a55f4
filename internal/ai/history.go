package ai

import "strings"

// Transcript renders user and assistant turns as "Role: content" lines for embedding into prompts.
func Transcript(messages []Message) string {
	var b strings.Builder
	for _, m := range messages {
		var speaker string
		switch m.Role {
		case RoleUser:
			speaker = "User"
		case RoleAssistant:
			speaker = "Agent"
		default:
			continue
		}
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(speaker)
		b.WriteString(": ")
		b.WriteString(m.Content)
	}
	if b.Len() == 0 {
		return "(no previous messages)"
	}
	return b.String()
}
