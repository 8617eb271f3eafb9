package llm

import (
	"regexp"
	"strings"
)

var (
	fencePattern  = regexp.MustCompile("(?s)^```[a-zA-Z]*\\s*\\n?(.*?)\\n?```$")
	objectPattern = regexp.MustCompile(`(?s)\{.*\}`)
)

// StripCodeFences removes a surrounding markdown code fence such as
// ```json ... ``` and trims whitespace.
func StripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if m := fencePattern.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	return s
}

// ExtractJSONObject returns the span from the first '{' to the last '}', or
// false when the text holds no such span.
func ExtractJSONObject(s string) (string, bool) {
	m := objectPattern.FindString(s)
	return m, m != ""
}
