// Package autocomplete suggests the rest of the line being typed, from a
// fixed table of patterns per language plus a few context rules.
package autocomplete

import (
	"regexp"
	"strings"
)

const (
	DefaultLanguage = "python"
	matchConfidence = 0.9
)

type Request struct {
	Code           string `json:"code"`
	CursorPosition int    `json:"cursorPosition"`
	Language       string `json:"language"`
}

type Response struct {
	Suggestion string  `json:"suggestion"`
	Confidence float64 `json:"confidence"`
}

// A rule completes a line that matches pattern in full by appending suffix
type rule struct {
	pattern *regexp.Regexp
	suffix  string
}

func newRule(expr, suffix string) rule {
	return rule{pattern: regexp.MustCompile(`^` + expr + `$`), suffix: suffix}
}

var pythonRules = []rule{
	newRule(`def\s+\w+\s*\(`, "self):"),
	newRule(`def\s+\w+\s*\(\s*self\s*\)`, ":\n        pass"),
	newRule(`def\s+__init__\s*\(\s*self`, "):"),

	newRule(`class\s+\w+`, ":"),
	newRule(`class\s+\w+\s*\(`, "object):"),

	newRule(`if\s+\w+`, ":"),
	newRule(`elif\s+\w+`, ":"),
	newRule(`else`, ":"),
	newRule(`for\s+\w+\s+in\s+\w+`, ":"),
	newRule(`while\s+.*[^:\s]`, ":"),

	newRule(`try`, ":"),
	newRule(`except`, " Exception as e:"),
	newRule(`finally`, ":"),

	newRule(`from\s+\w+\s+import`, " "),
	newRule(`import\s+numpy`, " as np"),
	newRule(`import\s+pandas`, " as pd"),

	newRule(`print\s*\(`, ")"),
	newRule(`return`, " "),
}

var javascriptRules = []rule{
	newRule(`function\s+\w+\s*\(`, ") {"),
	newRule(`const\s+\w+\s*=`, " "),
	newRule(`let\s+\w+\s*=`, " "),
	newRule(`if\s*\(`, ") {"),
	newRule(`for\s*\(`, "let i = 0; i < length; i++) {"),
	newRule(`console\.log\s*\(`, ")"),
}

// Service is stateless and safe for concurrent use
type Service struct{}

func New() *Service {
	return &Service{}
}

func (s *Service) Suggest(req Request) Response {
	language := strings.ToLower(strings.TrimSpace(req.Language))
	if language == "" {
		language = DefaultLanguage
	}

	before := beforeCursor(req.Code, req.CursorPosition)
	line := before
	if i := strings.LastIndexByte(before, '\n'); i >= 0 {
		line = before[i+1:]
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return Response{}
	}

	suggestion := matchRules(line, language)
	if suggestion == "" {
		suggestion = contextSuggestion(line, language)
	}
	if suggestion == "" {
		return Response{}
	}
	return Response{Suggestion: suggestion, Confidence: matchConfidence}
}

// beforeCursor returns the text before pos, counted in characters. Negative
// positions count back from the end; out of range positions are clamped.
func beforeCursor(code string, pos int) string {
	runes := []rune(code)
	if pos < 0 {
		pos += len(runes)
		if pos < 0 {
			pos = 0
		}
	}
	if pos > len(runes) {
		pos = len(runes)
	}
	return string(runes[:pos])
}

func matchRules(line, language string) string {
	rules := javascriptRules
	if language == "python" {
		rules = pythonRules
	}
	for _, r := range rules {
		if r.pattern.MatchString(line) {
			return r.suffix
		}
	}
	return ""
}

func contextSuggestion(line, language string) string {
	switch language {
	case "python":
		return pythonContext(line)
	case "javascript":
		return javascriptContext(line)
	}
	return ""
}

func pythonContext(line string) string {
	if strings.HasSuffix(line, ".") {
		return "append()"
	}
	if strings.Contains(line, "=") && !strings.HasSuffix(line, "=") {
		return ""
	}
	if strings.HasPrefix(line, "print(") && !strings.HasSuffix(line, ")") {
		return ")"
	}

	switch {
	case line == "def":
		return " main():"
	case line == "class":
		return " MyClass:"
	case line == "import":
		return " sys"
	case line == "from":
		return " typing import"
	case strings.HasPrefix(line, "if ") && !strings.HasSuffix(line, ":"):
		return ":"
	case strings.HasPrefix(line, "for ") && strings.Contains(line, " in ") && !strings.HasSuffix(line, ":"):
		return ":"
	case strings.HasPrefix(line, "while ") && !strings.HasSuffix(line, ":"):
		return ":"
	}

	if strings.HasPrefix(line, "def ") && strings.Contains(line, "(") {
		if strings.Count(line, "(") > strings.Count(line, ")") {
			return "):"
		}
		if !strings.HasSuffix(line, ":") {
			return ":"
		}
	}

	if strings.HasPrefix(line, "for ") && !strings.Contains(line, " in ") {
		return " in range(10):"
	}
	return ""
}

func javascriptContext(line string) string {
	if strings.HasSuffix(line, ".") {
		return "map()"
	}
	switch {
	case line == "function":
		return " myFunction() {"
	case strings.HasPrefix(line, "const ") && strings.Contains(line, "="):
		return ""
	case strings.HasPrefix(line, "if (") && strings.Count(line, "(") > strings.Count(line, ")"):
		return ") {"
	}
	return ""
}
