package orchestrator

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/web-agent/web-agent/internal/adapter"
)

func TestStripHTML(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain", "hello", "hello"},
		{"tags", "<p>Hi <b>there</b></p>", "Hi there"},
		{"br and attrs", `line<br/>next <a href="/x">link</a>`, "linenext link"},
		{"entities", "Tom &amp; Jerry &lt;3 &quot;cheese&quot; it&#39;s&nbsp;ok &gt;", `Tom & Jerry <3 "cheese" it's ok >`},
		{"double encoded decodes once", "&amp;lt;", "&lt;"},
		{"whitespace", "  \n <div> spaced </div>\t ", "spaced"},
		{"unknown entity kept", "&copy; 2024", "&copy; 2024"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripHTML(tt.input); got != tt.want {
				t.Errorf("StripHTML(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestTrimKeepsTail(t *testing.T) {
	var msgs []adapter.Message
	for i := 0; i < 10; i++ {
		msgs = append(msgs, adapter.Message{From: "u", Text: fmt.Sprintf("<p>message %d</p>", i)})
	}

	got := Trim(msgs, 5, 500)
	if len(got) != 5 {
		t.Fatalf("len = %d, want 5", len(got))
	}
	for i, m := range got {
		want := fmt.Sprintf("message %d", i+5)
		if m.Text != want {
			t.Errorf("got[%d] = %q, want %q", i, m.Text, want)
		}
		if strings.ContainsAny(m.Text, "<>") {
			t.Errorf("got[%d] still has markup", i)
		}
	}
	if msgs[5].Text != "<p>message 5</p>" {
		t.Error("input was modified")
	}
}

func TestTrimTruncatesCharacters(t *testing.T) {
	long := strings.Repeat("é", 600)
	got := Trim([]adapter.Message{{Text: long}}, 5, 500)
	if n := utf8.RuneCountInString(got[0].Text); n != 500 {
		t.Errorf("rune count = %d, want 500", n)
	}
	if !utf8.ValidString(got[0].Text) {
		t.Error("truncation split a rune")
	}
}

func TestTrimDefaults(t *testing.T) {
	var msgs []adapter.Message
	for i := 0; i < 7; i++ {
		msgs = append(msgs, adapter.Message{Text: strings.Repeat("x", 800)})
	}
	got := Trim(msgs, 0, -1)
	if len(got) != DefaultMaxMessages {
		t.Errorf("len = %d, want %d", len(got), DefaultMaxMessages)
	}
	if len(got[0].Text) != DefaultMaxChars {
		t.Errorf("text len = %d, want %d", len(got[0].Text), DefaultMaxChars)
	}
	if len(Trim(nil, 5, 500)) != 0 {
		t.Error("empty input should give empty output")
	}
}
