package orchestrator

import (
	"regexp"
	"strings"

	"github.com/web-agent/web-agent/internal/adapter"
)

const (
	DefaultMaxMessages = 5
	DefaultMaxChars    = 500
)

var tagPattern = regexp.MustCompile(`<[^>]*>`)

// entities decoded by StripHTML. One pass, so "&amp;lt;" becomes "&lt;".
var entityReplacer = strings.NewReplacer(
	"&nbsp;", " ",
	"&amp;", "&",
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", `"`,
	"&#39;", "'",
)

// StripHTML removes tags, decodes the common entities and trims whitespace.
func StripHTML(s string) string {
	return strings.TrimSpace(entityReplacer.Replace(tagPattern.ReplaceAllString(s, "")))
}

// Trim keeps the last maxMessages messages in order, each stripped of markup
// and cut to maxChars characters. Non-positive limits use the defaults. The
// input is not modified.
func Trim(messages []adapter.Message, maxMessages, maxChars int) []adapter.Message {
	if maxMessages <= 0 {
		maxMessages = DefaultMaxMessages
	}
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}

	if len(messages) > maxMessages {
		messages = messages[len(messages)-maxMessages:]
	}

	out := make([]adapter.Message, len(messages))
	for i, m := range messages {
		m.Text = truncate(StripHTML(m.Text), maxChars)
		out[i] = m
	}
	return out
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
