package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyFindingPriority(t *testing.T) {
	tests := []struct {
		desc     string
		expected string
	}{
		// High keywords
		{"Material weakness in revenue recognition controls", "high"},
		{"Significant deficiency in journal entry review", "high"},
		{"Potential fraud indicators in vendor master changes", "high"},
		{"Regulatory filing submitted late", "high"},
		{"Segregation of duties conflict in AP", "high"},
		{"Privileged access not reviewed quarterly", "high"},
		{"Unauthorized changes to production database", "high"},
		{"SOX key control not performed", "high"},

		// Low keywords
		{"Minor inconsistencies in policy document", "low"},
		{"Cosmetic issues in the access request form", "low"},
		{"Typo in the retention schedule", "low"},
		{"Observation: naming of shared folders", "low"},
		{"Housekeeping of stale user groups", "low"},

		// Medium (default)
		{"Quarterly access review not performed for the ERP", "medium"},
		{"Backup restore test overdue", "medium"},
		{"", "medium"},

		// Case insensitivity
		{"MATERIAL WEAKNESS identified", "high"},
		{"MINOR gap", "low"},

		// High takes precedence over low
		{"Minor fraud risk noted", "high"},
	}

	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			assert.Equal(t, tt.expected, classifyFindingPriority(tt.desc))
		})
	}
}
