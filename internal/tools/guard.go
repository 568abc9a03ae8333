package tools

import "regexp"

// DefaultMaxResultSize bounds a tool result before it's persisted to the
// session transcript or forwarded to the provider (spec §4.3, §4.6).
const DefaultMaxResultSize = 64 * 1024

// secretPatterns catches common credential shapes so tool output never
// lands verbatim in the transcript or audit log.
var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(api[_-]?key|apikey)\s*[:=]\s*['"]?[\w-]{20,}['"]?`),
	regexp.MustCompile(`(?i)bearer\s+[\w-\.]+`),
	regexp.MustCompile(`(?i)(password|passwd|secret|token)\s*[:=]\s*['"]?[^\s'"]{8,}['"]?`),
	regexp.MustCompile(`-----BEGIN (RSA |EC |DSA |OPENSSH )?PRIVATE KEY-----`),
}

// ResultGuard redacts and truncates tool output before it becomes a
// tool_result block (spec §4.3: "tool output is sanitized before it
// re-enters the transcript").
type ResultGuard struct {
	MaxChars        int
	SanitizeSecrets bool
	RedactionText   string
}

// DefaultGuard returns the guard applied when a tool doesn't specify its own.
func DefaultGuard() ResultGuard {
	return ResultGuard{MaxChars: DefaultMaxResultSize, SanitizeSecrets: true}
}

// Apply redacts and truncates output, returning the guarded text.
func (g ResultGuard) Apply(output string) string {
	redaction := g.RedactionText
	if redaction == "" {
		redaction = "[REDACTED]"
	}

	if g.SanitizeSecrets {
		for _, re := range secretPatterns {
			output = re.ReplaceAllString(output, redaction)
		}
	}

	if g.MaxChars > 0 && len(output) > g.MaxChars {
		output = output[:g.MaxChars] + "\n...[truncated]"
	}
	return output
}
