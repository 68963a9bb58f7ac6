package cmd

import "strings"

// classifyFindingPriority infers an audit finding's priority from its
// description using keyword heuristics. High keywords are checked before
// low keywords. Defaults to "medium".
func classifyFindingPriority(desc string) string {
	lower := strings.ToLower(desc)

	highKeywords := []string{
		"material weakness", "significant deficiency", "fraud",
		"regulatory", "non-compliance", "noncompliance", "breach",
		"segregation of duties", "privileged access", "unauthorized",
		"critical", "urgent", "sox",
	}
	for _, kw := range highKeywords {
		if strings.Contains(lower, kw) {
			return "high"
		}
	}

	lowKeywords := []string{
		"minor", "cosmetic", "typo", "formatting",
		"best practice", "observation", "housekeeping", "low risk",
	}
	for _, kw := range lowKeywords {
		if strings.Contains(lower, kw) {
			return "low"
		}
	}

	return "medium"
}
