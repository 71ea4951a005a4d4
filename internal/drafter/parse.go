package drafter

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

const replySchema = `{
	"type": "object",
	"required": ["draft", "confidence"],
	"properties": {
		"draft": {"type": "string", "minLength": 1},
		"confidence": {"type": "string", "enum": ["high", "medium", "low"]},
		"tone": {"type": "string"},
		"questions": {"type": "array", "items": {"type": "string"}},
		"should_send": {"type": "boolean"}
	}
}`

var replySchemaLoader = gojsonschema.NewStringLoader(replySchema)

// maxObjectStarts bounds how many opening braces ExtractJSONObject tries, so
// output full of unbalanced braces costs linear time.
const maxObjectStarts = 64

// ExtractJSONObject returns the first balanced {...} span of s that is valid
// JSON. Braces inside JSON strings are ignored while balancing. Only the
// first maxObjectStarts opening braces are considered.
func ExtractJSONObject(s string) (string, bool) {
	tries := 0
	for start := strings.IndexByte(s, '{'); start >= 0 && tries < maxObjectStarts; tries++ {
		if end := matchBrace(s, start); end > 0 {
			if span := s[start : end+1]; json.Valid([]byte(span)) {
				return span, true
			}
		}
		next := strings.IndexByte(s[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return "", false
}

// matchBrace returns the index of the brace closing the one at open, or -1.
func matchBrace(s string, open int) int {
	depth := 0
	inString, escaped := false, false
	for i := open; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// ParseResponse extracts and validates the reply object in output.
func ParseResponse(output string) (*Reply, error) {
	span, ok := ExtractJSONObject(output)
	if !ok {
		return nil, &ParseError{RawOutput: output, Reason: "no JSON object in output"}
	}

	var fields map[string]any
	if err := json.Unmarshal([]byte(span), &fields); err != nil {
		return nil, &ParseError{RawOutput: output, Reason: err.Error()}
	}
	if c, ok := fields["confidence"].(string); ok {
		fields["confidence"] = strings.ToLower(strings.TrimSpace(c))
	}

	result, err := gojsonschema.Validate(replySchemaLoader, gojsonschema.NewGoLoader(fields))
	if err != nil {
		return nil, &ParseError{RawOutput: output, Reason: fmt.Sprintf("schema validation failed: %v", err)}
	}
	if !result.Valid() {
		var msgs []string
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return nil, &ParseError{RawOutput: output, Reason: strings.Join(msgs, "; ")}
	}

	reply := &Reply{
		Draft:      strings.TrimSpace(fields["draft"].(string)),
		Confidence: fields["confidence"].(string),
	}
	if reply.Draft == "" {
		return nil, &ParseError{RawOutput: output, Reason: "empty draft"}
	}
	reply.Tone, _ = fields["tone"].(string)
	reply.ShouldSend, _ = fields["should_send"].(bool)
	if qs, ok := fields["questions"].([]any); ok {
		for _, q := range qs {
			reply.Questions = append(reply.Questions, q.(string))
		}
	}
	return reply, nil
}
