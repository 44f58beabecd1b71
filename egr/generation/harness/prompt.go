package harness

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	ports "github.com/ZanzyTHEbar/episode-graphrag/egr/generation/harness/ports"
)

// PromptBuilder assembles model-ready inputs from system text, messages, and tools.
type PromptBuilder struct{}

func NewPromptBuilder() *PromptBuilder { return &PromptBuilder{} }

// Build flattens system + chat messages into a Provider PromptInput.
func (b *PromptBuilder) Build(system string, messages []ports.PromptMessage, contextSnippets []string, toolSpecs []ports.ToolSpec, meta map[string]string) ports.PromptInput {
	// Normalize newlines and trim whitespace to reduce prompt diffs for caching
	msgs := make([]ports.PromptMessage, len(messages))
	for i, m := range messages {
		msgs[i] = ports.PromptMessage{Role: m.Role, Content: normalize(m.Content)}
	}
	snippets := make([]string, 0, len(contextSnippets))
	for _, s := range contextSnippets {
		if s = normalize(s); s != "" {
			snippets = append(snippets, s)
		}
	}

	return ports.PromptInput{
		System:   normalize(system),
		Messages: msgs,
		Context:  snippets,
		Tools:    toolSpecs,
		Meta:     meta,
	}
}

// Render executes tmpl with data into a prompt string.
func (b *PromptBuilder) Render(tmpl *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render prompt %s: %w", tmpl.Name(), err)
	}
	return normalize(buf.String()), nil
}

// HistoryMessages renders turns as alternating user/assistant messages,
// oldest first.
func HistoryMessages(turns []ports.Turn) []ports.PromptMessage {
	msgs := make([]ports.PromptMessage, 0, 2*len(turns))
	for _, t := range turns {
		msgs = append(msgs,
			ports.PromptMessage{Role: "user", Content: t.Input},
			ports.PromptMessage{Role: "assistant", Content: t.Output},
		)
	}
	return msgs
}

func normalize(s string) string { return strings.TrimSpace(strings.ReplaceAll(s, "\r\n", "\n")) }
