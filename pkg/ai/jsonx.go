package ai

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// ParseError reports that no recovery stage produced valid JSON. Preview
// carries the first part of the offending text for diagnostics.
type ParseError struct {
	Preview string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse model output: %s", e.Preview)
}

var trailingCommaRe = regexp.MustCompile(`,(\s*[}\]])`)

// Parse recovers a JSON value from possibly malformed, markdown-wrapped
// model output. Stages, first success wins:
//
//  1. strip a ```json (or any ```) fenced block and trim
//  2. direct parse
//  3. slice from the first '[' to the last ']' (array recovery)
//  4. slice from the first '{' to the last '}' (object recovery)
//  5. textual repairs (quotes, Title-case literals, trailing commas),
//     then stages 2-4 once more
//
// Array recovery must run before object recovery: a question-list response
// is an array of objects, and an object-first scan would cut at the braces
// of the first element instead of the array boundary.
func Parse(raw string) (interface{}, error) {
	text := stripFences(raw)

	if value, ok := tryParse(text); ok {
		return value, nil
	}

	if value, ok := trySlice(text, '[', ']'); ok {
		return value, nil
	}

	if value, ok := trySlice(text, '{', '}'); ok {
		return value, nil
	}

	repaired := repair(text)

	if value, ok := tryParse(repaired); ok {
		return value, nil
	}

	if value, ok := trySlice(repaired, '[', ']'); ok {
		return value, nil
	}

	if value, ok := trySlice(repaired, '{', '}'); ok {
		return value, nil
	}

	return nil, &ParseError{Preview: preview(raw, 200)}
}

// ParseObject runs Parse and requires an object result.
func ParseObject(raw string) (map[string]interface{}, error) {
	value, err := Parse(raw)
	if err != nil {
		return nil, err
	}

	object, ok := value.(map[string]interface{})
	if !ok {
		return nil, &ParseError{Preview: preview(raw, 200)}
	}

	return object, nil
}

// ParseArray runs Parse and requires an array result.
func ParseArray(raw string) ([]interface{}, error) {
	value, err := Parse(raw)
	if err != nil {
		return nil, err
	}

	array, ok := value.([]interface{})
	if !ok {
		return nil, &ParseError{Preview: preview(raw, 200)}
	}

	return array, nil
}

func stripFences(text string) string {
	text = strings.TrimSpace(text)

	if idx := strings.Index(text, "```json"); idx != -1 {
		rest := text[idx+len("```json"):]
		if end := strings.Index(rest, "```"); end != -1 {
			rest = rest[:end]
		}
		return strings.TrimSpace(rest)
	}

	if idx := strings.Index(text, "```"); idx != -1 {
		rest := text[idx+len("```"):]
		if end := strings.Index(rest, "```"); end != -1 {
			rest = rest[:end]
		}
		return strings.TrimSpace(rest)
	}

	return text
}

func tryParse(text string) (interface{}, bool) {
	var value interface{}
	if err := json.Unmarshal([]byte(text), &value); err != nil {
		return nil, false
	}
	if value == nil {
		return nil, false
	}
	return value, true
}

func trySlice(text string, open, close byte) (interface{}, bool) {
	start := strings.IndexByte(text, open)
	end := strings.LastIndexByte(text, close)
	if start == -1 || end <= start {
		return nil, false
	}
	return tryParse(text[start : end+1])
}

func repair(text string) string {
	text = strings.ReplaceAll(text, "'", `"`)
	text = strings.ReplaceAll(text, "True", "true")
	text = strings.ReplaceAll(text, "False", "false")
	text = strings.ReplaceAll(text, "None", "null")
	return trailingCommaRe.ReplaceAllString(text, "$1")
}

func preview(text string, limit int) string {
	text = strings.TrimSpace(text)
	if len(text) > limit {
		return text[:limit]
	}
	return text
}
