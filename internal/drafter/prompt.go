package drafter

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"github.com/web-agent/web-agent/internal/adapter"
)

// Placeholder is substituted with the conversation transcript.
const Placeholder = "{{THREAD_CONTEXT}}"

//go:embed prompts/draft_reply.md
var defaultTemplate string

// LoadTemplate reads the prompt at path, or returns the built-in prompt when
// path is empty.
func LoadTemplate(path string) (string, error) {
	if path == "" {
		return defaultTemplate, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read prompt template: %w", err)
	}
	tmpl := string(data)
	if !strings.Contains(tmpl, Placeholder) {
		return "", fmt.Errorf("prompt template %s has no %s placeholder", path, Placeholder)
	}
	return tmpl, nil
}

// FormatTranscript renders messages as "[sender]: text" blocks separated by
// blank lines.
func FormatTranscript(messages []adapter.Message) string {
	parts := make([]string, len(messages))
	for i, m := range messages {
		parts[i] = fmt.Sprintf("[%s]: %s", m.From, m.Text)
	}
	return strings.Join(parts, "\n\n")
}

// RenderPrompt replaces the first placeholder in tmpl with the transcript.
func RenderPrompt(tmpl string, messages []adapter.Message) string {
	return strings.Replace(tmpl, Placeholder, FormatTranscript(messages), 1)
}
