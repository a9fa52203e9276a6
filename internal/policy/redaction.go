package policy

import "regexp"

type redactionRule struct {
	pattern *regexp.Regexp
	marker  string
}

// Order matters: card and SSN run before phone so long digit runs are not
// mislabeled as phone numbers.
var redactionRules = []redactionRule{
	{regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`), "[REDACTED_EMAIL]"},
	{regexp.MustCompile(`\b(?:\d[ -]?){12,18}\d\b`), "[REDACTED_CARD]"},
	{regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`), "[REDACTED_SSN]"},
	// Phones need a country code, a parenthesised area code or unspaced
	// 3-3-4 grouping; "100 - 25 - 10" is arithmetic.
	{regexp.MustCompile(`(?:\+\d{1,3}[ .-]?)?\(\d{2,4}\)[ .-]?\d{3,4}[.-]?\d{3,4}\b`), "[REDACTED_PHONE]"},
	{regexp.MustCompile(`\+\d{1,3}[ .-]?\d{2,4}[ .-]?\d{3,4}[ .-]?\d{3,4}\b`), "[REDACTED_PHONE]"},
	{regexp.MustCompile(`\b\d{3}[.-]\d{3}[.-]\d{4}\b`), "[REDACTED_PHONE]"},
}

// RedactPII masks common high-risk PII patterns before a turn is written to
// the long-term turn log.
func RedactPII(input string) (redacted string, changed bool) {
	out := input
	for _, r := range redactionRules {
		next := r.pattern.ReplaceAllString(out, r.marker)
		changed = changed || next != out
		out = next
	}
	return out, changed
}
