package harness

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	ports "github.com/ZanzyTHEbar/episode-graphrag/egr/generation/harness/ports"
)

var (
	jsonPattern    = regexp.MustCompile(`(?s)(\{.*\}|\[.*\])`)
	codeFence      = regexp.MustCompile("(?s)```[A-Za-z0-9_-]*\\s*\\n?(.*?)```")
	trailingCommas = regexp.MustCompile(`,\s*([}\]])`)
	unquotedKeys   = regexp.MustCompile(`([{,]\s*)([a-zA-Z_][a-zA-Z0-9_]*)\s*:`)
	statementStart = regexp.MustCompile(`(?im)^\s*(SELECT|WITH)\b`)
)

// OutputParser handles extracting structured data from model responses.
type OutputParser struct {
	toolCallPatterns []*regexp.Regexp
}

// NewOutputParser creates a parser with default patterns for common tool call formats.
func NewOutputParser() *OutputParser {
	return &OutputParser{
		toolCallPatterns: []*regexp.Regexp{
			// JSON array format: [{"name": "tool", "arguments": {...}}]
			regexp.MustCompile(`(?s)\[\s*\{\s*"name"\s*:\s*"([^"]+)"\s*,\s*"arguments"\s*:\s*(\{.*?\})\s*\}\s*\]`),
			// Function call format: tool_name({"arg": "value"})
			regexp.MustCompile(`(?s)\b([a-z][a-z0-9_]*)\s*\(\s*(\{.*?\})\s*\)`),
			// OpenAI format: {"tool_calls": [{"function": {"name": "tool", "arguments": "..."}}]}
			regexp.MustCompile(`(?s)"tool_calls"\s*:\s*\[\s*\{\s*"function"\s*:\s*\{\s*"name"\s*:\s*"([^"]+)"\s*,\s*"arguments"\s*:\s*"(\{.*?\})"\s*\}\s*\}\s*\]`),
		},
	}
}

// ParseToolCalls extracts tool calls from a model response text. It is the
// fallback for providers that do not populate native tool calls.
func (p *OutputParser) ParseToolCalls(text string) []ports.ToolCall {
	var calls []ports.ToolCall
	seen := make(map[string]bool)

	for _, pattern := range p.toolCallPatterns {
		for _, match := range pattern.FindAllStringSubmatch(text, -1) {
			if len(match) < 3 {
				continue
			}
			name := strings.TrimSpace(match[1])
			argsStr := strings.TrimSpace(match[2])
			// arguments embedded in a JSON string are escaped
			argsStr = strings.ReplaceAll(argsStr, `\"`, `"`)

			if !json.Valid([]byte(argsStr)) {
				argsStr = fixJSON(argsStr)
				if !json.Valid([]byte(argsStr)) {
					continue
				}
			}
			if seen[name] {
				continue
			}
			seen[name] = true
			calls = append(calls, ports.ToolCall{Name: name, Args: json.RawMessage(argsStr)})
		}
	}
	return calls
}

// ParseJSONOutput extracts the JSON value from a JSON-mode response,
// tolerating code fences and surrounding prose.
func (p *OutputParser) ParseJSONOutput(text string) (json.RawMessage, error) {
	text = StripCodeFences(text)
	if json.Valid([]byte(strings.TrimSpace(text))) {
		return json.RawMessage(strings.TrimSpace(text)), nil
	}

	match := jsonPattern.FindString(text)
	if match == "" {
		return nil, fmt.Errorf("no JSON found in response")
	}
	if json.Valid([]byte(match)) {
		return json.RawMessage(match), nil
	}

	cleaned := fixJSON(match)
	if !json.Valid([]byte(cleaned)) {
		return nil, fmt.Errorf("invalid JSON in response")
	}
	return json.RawMessage(cleaned), nil
}

// ParseSQL cleans a generated statement: code fences, leading prose and the
// trailing semicolon are removed.
func (p *OutputParser) ParseSQL(text string) (string, error) {
	q := strings.TrimSpace(StripCodeFences(text))
	loc := statementStart.FindStringSubmatchIndex(q)
	if loc == nil {
		return "", fmt.Errorf("no SQL statement in response")
	}
	q = strings.TrimSpace(q[loc[2]:])
	q = strings.TrimSpace(strings.TrimSuffix(q, ";"))
	return q, nil
}

// StripCodeFences returns the body of the first fenced block, or text
// unchanged when it has none.
func StripCodeFences(text string) string {
	if m := codeFence.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	return text
}

// fixJSON attempts to fix common JSON formatting issues.
func fixJSON(jsonStr string) string {
	jsonStr = trailingCommas.ReplaceAllString(jsonStr, "$1")
	jsonStr = unquotedKeys.ReplaceAllString(jsonStr, `$1"$2":`)
	if !strings.Contains(jsonStr, `"`) {
		jsonStr = strings.ReplaceAll(jsonStr, "'", `"`)
	}
	return jsonStr
}
