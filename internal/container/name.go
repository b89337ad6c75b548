package container

import (
	"regexp"
	"strings"
)

var disallowedNameRun = regexp.MustCompile(`[^a-zA-Z0-9_.-]+`)

const maxNameLength = 63

// normalizeName applies the naming grammar of spec.md section 4.4: runs of
// disallowed characters become a single "-", boundary punctuation is
// stripped, a "mcp-" prefix is added if the first character isn't
// alphanumeric, and the result is truncated to 63 chars. It reports
// whether normalization actually changed the name, so callers know
// whether to stash the original under the mcp.original_name label.
func normalizeName(name string) (normalized string, changed bool) {
	n := disallowedNameRun.ReplaceAllString(name, "-")
	n = strings.Trim(n, "-._")

	if n == "" {
		n = "mcp-container"
	}
	if !isAlphanumeric(rune(n[0])) {
		n = "mcp-" + n
	}
	if len(n) > maxNameLength {
		n = n[:maxNameLength]
	}
	n = strings.TrimRight(n, "-._")

	return n, n != name
}

func isAlphanumeric(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}

const originalNameLabel = "mcp.original_name"
