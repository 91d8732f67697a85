package recorder

import (
	"strings"
)

// normalizeText canonicalizes captured element text so identical
// content always serializes identically: runs of spaces and tabs
// collapse to one space, any run of line breaks and blank lines
// collapses to a single newline, and the result is trimmed.
func normalizeText(s string) string {
	if s == "" {
		return ""
	}

	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			continue
		}
		out = append(out, line)
	}

	return strings.Join(out, "\n")
}
