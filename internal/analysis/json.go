package analysis

import (
	"strings"
)

// extractJSON pulls a JSON object out of a model response that may contain
// surrounding prose or markdown code fences. Returns the empty string when
// no JSON object can be located.
func extractJSON(response string) string {
	response = strings.TrimSpace(response)

	if strings.Contains(response, "```json") {
		start := strings.Index(response, "```json") + len("```json")
		if end := strings.Index(response[start:], "```"); end != -1 {
			return strings.TrimSpace(response[start : start+end])
		}
	}

	if strings.Contains(response, "```") {
		start := strings.Index(response, "```") + 3
		// Skip a language identifier on the fence line.
		if newline := strings.Index(response[start:], "\n"); newline != -1 {
			start += newline + 1
		}
		if end := strings.Index(response[start:], "```"); end != -1 {
			candidate := strings.TrimSpace(response[start : start+end])
			if strings.HasPrefix(candidate, "{") {
				return candidate
			}
		}
	}

	// Fall back to the outermost braces.
	open := strings.Index(response, "{")
	close := strings.LastIndex(response, "}")
	if open == -1 || close == -1 || close < open {
		return ""
	}
	return response[open : close+1]
}
