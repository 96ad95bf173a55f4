// Package persona loads the biographical context the agent speaks from and
// renders every prompt derived from it.
package persona

import (
	"embed"
	"errors"
	"fmt"
	"os"
	"strings"
)

//go:embed prompts/*.md
var promptFS embed.FS

var (
	agentTemplate     = mustTemplate("agent.md")
	evaluatorTemplate = mustTemplate("evaluator.md")
	rerunTemplate     = mustTemplate("rerun.md")
	judgeTemplate     = mustTemplate("judge.md")
)

func mustTemplate(name string) string {
	data, err := promptFS.ReadFile("prompts/" + name)
	if err != nil {
		panic(fmt.Sprintf("persona: missing embedded prompt %s: %v", name, err))
	}
	return string(data)
}

// Sources names the documents a persona is built from.
type Sources struct {
	Name         string
	SummaryFile  string
	LinkedInFile string
	CVFile       string
}

// Extractor turns a document into plain text.
type Extractor interface {
	ExtractText(path string) (string, error)
}

// Persona is immutable once loaded and safe to share between sessions.
type Persona struct {
	Name     string
	Summary  string
	LinkedIn string
	CV       string

	agentPrompt     string
	evaluatorPrompt string
}

// Load reads every source. Any missing or unreadable source is an error; there is no fallback content.
func Load(src Sources, extractor Extractor) (*Persona, error) {
	name := strings.TrimSpace(src.Name)
	if name == "" {
		return nil, errors.New("persona name is required")
	}
	if extractor == nil {
		extractor = FileExtractor{}
	}

	summaryFile := strings.TrimSpace(src.SummaryFile)
	if summaryFile == "" {
		return nil, errors.New("summary file is required")
	}
	summary, err := os.ReadFile(summaryFile)
	if err != nil {
		return nil, fmt.Errorf("read summary: %w", err)
	}

	linkedIn, err := extract(extractor, "linkedin profile", src.LinkedInFile)
	if err != nil {
		return nil, err
	}

	cv, err := extract(extractor, "cv", src.CVFile)
	if err != nil {
		return nil, err
	}

	return New(name, string(summary), linkedIn, cv), nil
}

func extract(extractor Extractor, label, path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", fmt.Errorf("%s file is required", label)
	}

	text, err := extractor.ExtractText(path)
	if err != nil {
		return "", fmt.Errorf("extract %s: %w", label, err)
	}

	return text, nil
}

// New builds a persona from already extracted text.
func New(name, summary, linkedIn, cv string) *Persona {
	p := &Persona{
		Name:     name,
		Summary:  summary,
		LinkedIn: linkedIn,
		CV:       cv,
	}

	context := p.contextBlock()
	p.agentPrompt = strings.NewReplacer("{{NAME}}", name, "{{CONTEXT}}", context).Replace(agentTemplate)
	p.evaluatorPrompt = strings.NewReplacer("{{NAME}}", name, "{{CONTEXT}}", context).Replace(evaluatorTemplate)

	return p
}

func (p *Persona) contextBlock() string {
	return fmt.Sprintf("## Summary:\n%s\n\n## LinkedIn Profile:\n%s\n\n## CV:\n%s", p.Summary, p.LinkedIn, p.CV)
}

// AgentPrompt is the system prompt for answering visitors.
func (p *Persona) AgentPrompt() string { return p.agentPrompt }

// EvaluatorPrompt is the system prompt for judging answers.
func (p *Persona) EvaluatorPrompt() string { return p.evaluatorPrompt }

// RerunPrompt extends the agent prompt with a rejected answer and the reason it was rejected.
func (p *Persona) RerunPrompt(reply, feedback string) string {
	return p.agentPrompt + strings.NewReplacer("{{REPLY}}", reply, "{{FEEDBACK}}", feedback).Replace(rerunTemplate)
}

// JudgePrompt is the user-role prompt handed to the evaluator.
func JudgePrompt(reply, message, history string) string {
	return strings.NewReplacer(
		"{{HISTORY}}", history,
		"{{MESSAGE}}", message,
		"{{REPLY}}", reply,
	).Replace(judgeTemplate)
}
