package agent

import "strings"

// FormatHistory renders conversation turns for inclusion in a prompt,
// one "role: content" line per turn. Returns "(none)" for an empty
// history so prompts never contain a dangling section.
func FormatHistory(turns []Turn) string {
	if len(turns) == 0 {
		return "(none)"
	}
	var sb strings.Builder
	for i, t := range turns {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(t.Role)
		sb.WriteString(": ")
		sb.WriteString(t.Content)
	}
	return sb.String()
}
