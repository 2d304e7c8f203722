package transform

import (
	"fmt"
	"regexp"
)

// RegexStep applies one pre-compiled pattern -> replacement rule to a body.
// All non-overlapping matches are replaced left to right; the output is not
// re-scanned, so a replacement that would itself match the pattern stays as
// written. Replacements support $1..$9 captures, $$ for a literal dollar.
type RegexStep struct {
	re          *regexp.Regexp
	replacement []byte
}

// CompileRegex builds a RegexStep. Patterns compile once at config load and
// are shared read-only across requests.
func CompileRegex(pattern, replacement string) (*RegexStep, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}
	return &RegexStep{re: re, replacement: []byte(replacement)}, nil
}

// Apply replaces every match in body. Operating on bytes keeps invalid UTF-8
// sequences in the untouched regions intact.
func (s *RegexStep) Apply(body []byte) ([]byte, error) {
	return s.re.ReplaceAll(body, s.replacement), nil
}
