// Package learning closes the loop on policy failures: it redacts the
// triggering context, learns constraints, counts repeated mistakes, and
// quarantines agents that keep tripping the same rule.
package learning

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
)

// Redacted replaces every sensitive value. Constraint patterns are
// derived from redacted context only, so this literal is the only trace
// a secret leaves behind.
const Redacted = "REDACTED"

// sensitiveKeys are context keys whose values are redacted wholesale,
// regardless of shape.
var sensitiveKeys = []string{"api_key", "token", "secret", "authorization", "password", "access_token"}

// compiledPattern is a pre-compiled redaction regex with its replacement.
type compiledPattern struct {
	name        string
	regex       *regexp.Regexp
	replacement string
}

// Redactor applies secret-shaped redaction to strings and context maps.
// Created once at startup; thread-safe and stateless aside from compiled
// patterns.
type Redactor struct {
	patterns []*compiledPattern
}

// NewRedactor compiles the built-in redaction patterns.
func NewRedactor() *Redactor {
	return &Redactor{
		patterns: []*compiledPattern{
			{
				name:        "secret_token",
				regex:       regexp.MustCompile(`sk-[a-z]+-[A-Za-z0-9_-]{6,}`),
				replacement: Redacted,
			},
			{
				name:        "long_hex",
				regex:       regexp.MustCompile(`\b[0-9a-fA-F]{32,}\b`),
				replacement: Redacted,
			},
			{
				name:        "bearer_header",
				regex:       regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9._~+/=-]+`),
				replacement: Redacted,
			},
			{
				name:        "sensitive_query_param",
				regex:       regexp.MustCompile(`(?i)([?&](?:api_key|token|secret|authorization)=)[^&\s"']+`),
				replacement: "${1}" + Redacted,
			},
		},
	}
}

// RedactString applies every pattern to s.
func (r *Redactor) RedactString(s string) string {
	for _, p := range r.patterns {
		s = p.regex.ReplaceAllString(s, p.replacement)
	}
	return s
}

// RedactContext returns a deep-redacted copy of ctx. Values under
// sensitive keys are replaced entirely; string values elsewhere get the
// regex sweep; nested maps and slices recurse.
func (r *Redactor) RedactContext(ctx map[string]any) map[string]any {
	if ctx == nil {
		return nil
	}
	out := make(map[string]any, len(ctx))
	for k, v := range ctx {
		if slices.Contains(sensitiveKeys, strings.ToLower(k)) {
			out[k] = Redacted
			continue
		}
		out[k] = r.redactValue(v)
	}
	return out
}

func (r *Redactor) redactValue(v any) any {
	switch val := v.(type) {
	case string:
		return r.RedactString(val)
	case map[string]any:
		return r.RedactContext(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = r.redactValue(item)
		}
		return out
	default:
		return v
	}
}

// canonicalPattern renders a redacted context as a stable string for
// constraint dedup: sorted key=value pairs appended to the action.
func canonicalPattern(action string, redacted map[string]any) string {
	if len(redacted) == 0 {
		return action
	}
	keys := make([]string, 0, len(redacted))
	for k := range redacted {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	var b strings.Builder
	b.WriteString(action)
	b.WriteByte('?')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		fmt.Fprintf(&b, "%s=%v", k, redacted[k])
	}
	return b.String()
}
