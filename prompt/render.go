package prompt

import (
	"fmt"
	"strings"
)

// Template is a parsed user template. Placeholders are {{name}} with
// optional inner spaces; substituted values are never expanded again.
type Template struct {
	parts []string // literal, var, literal, var, ..., literal
}

// Parse splits text into literals and placeholders. An unclosed "{{" or an
// empty placeholder is an error.
func Parse(text string) (Template, error) {
	var parts []string
	rest := text
	for {
		open := strings.Index(rest, "{{")
		if open < 0 {
			parts = append(parts, rest)
			return Template{parts: parts}, nil
		}
		end := strings.Index(rest[open+2:], "}}")
		if end < 0 {
			return Template{}, fmt.Errorf("unclosed placeholder at %q", truncateAt(rest[open:], 20))
		}
		name := strings.TrimSpace(rest[open+2 : open+2+end])
		if !validVar(name) {
			return Template{}, fmt.Errorf("invalid placeholder %q", rest[open:open+4+end])
		}
		parts = append(parts, rest[:open], name)
		rest = rest[open+4+end:]
	}
}

// Vars lists the placeholder names in order of first use.
func (t Template) Vars() []string {
	seen := map[string]bool{}
	var out []string
	for i := 1; i < len(t.parts); i += 2 {
		if !seen[t.parts[i]] {
			seen[t.parts[i]] = true
			out = append(out, t.parts[i])
		}
	}
	return out
}

// Execute substitutes vars. Every placeholder must have a value.
func (t Template) Execute(vars map[string]string) (string, error) {
	var (
		b       strings.Builder
		missing []string
	)
	for i, part := range t.parts {
		if i%2 == 0 {
			b.WriteString(part)
			continue
		}
		value, ok := vars[part]
		if !ok {
			missing = append(missing, part)
			continue
		}
		b.WriteString(value)
	}
	if len(missing) > 0 {
		return "", fmt.Errorf("missing prompt variables: %s", strings.Join(dedupe(missing), ", "))
	}
	return b.String(), nil
}

// Render parses and executes template in one step.
func Render(template string, vars map[string]string) (string, error) {
	template = strings.TrimSpace(template)
	if template == "" {
		return "", fmt.Errorf("template is required")
	}
	t, err := Parse(template)
	if err != nil {
		return "", err
	}
	return t.Execute(vars)
}

func validVar(name string) bool {
	if name == "" {
		return false
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '.', r == '-':
		default:
			return false
		}
	}
	return true
}

func dedupe(values []string) []string {
	seen := map[string]bool{}
	out := values[:0]
	for _, v := range values {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}

func truncateAt(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
