package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDate_DaysUntil(t *testing.T) {
	today := NewDate(2024, time.March, 10)

	assert.Equal(t, 7, today.DaysUntil(today.AddDays(7)))
	assert.Equal(t, 0, today.DaysUntil(today))
	assert.Equal(t, -3, today.DaysUntil(today.AddDays(-3)))
	// Across a month boundary and a leap day
	assert.Equal(t, 30, NewDate(2024, time.February, 10).DaysUntil(NewDate(2024, time.March, 11)))
}

func TestDateOf_IgnoresTimeOfDay(t *testing.T) {
	morning := time.Date(2024, 5, 1, 0, 5, 0, 0, time.Local)
	evening := time.Date(2024, 5, 1, 23, 55, 0, 0, time.Local)
	assert.Equal(t, DateOf(morning), DateOf(evening))
	assert.Equal(t, "2024-05-01", DateOf(evening).String())
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2024-12-31")
	require.NoError(t, err)
	assert.Equal(t, NewDate(2024, time.December, 31), d)

	_, err = ParseDate("31/12/2024")
	assert.Error(t, err)
}

func TestDate_JSON(t *testing.T) {
	type wrapper struct {
		Due  Date  `json:"due"`
		Last *Date `json:"last"`
	}

	in := wrapper{Due: NewDate(2024, 1, 2)}
	data, err := json.Marshal(in)
	require.NoError(t, err)
	assert.JSONEq(t, `{"due":"2024-01-02","last":null}`, string(data))

	var out wrapper
	require.NoError(t, json.Unmarshal([]byte(`{"due":"2024-01-02","last":"2024-01-01"}`), &out))
	assert.Equal(t, NewDate(2024, 1, 2), out.Due)
	require.NotNil(t, out.Last)
	assert.Equal(t, NewDate(2024, 1, 1), *out.Last)
}

func TestParseStatus(t *testing.T) {
	tests := map[string]IssueStatus{
		"open":        IssueStatusOpen,
		"Open":        IssueStatusOpen,
		"In Progress": IssueStatusInProgress,
		"in_progress": IssueStatusInProgress,
		"Resolved":    IssueStatusResolved,
		"CLOSED":      IssueStatusClosed,
	}
	for in, want := range tests {
		got, err := ParseStatus(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseStatus("pending")
	assert.Error(t, err)
}

func TestIssue_Clone(t *testing.T) {
	due := NewDate(2024, 6, 1)
	orig := &Issue{ID: "AUDIT-0001", ResolutionDate: &due}

	c := orig.Clone()
	*c.ResolutionDate = due.AddDays(1)

	assert.Equal(t, due, *orig.ResolutionDate)
}

func validInput() IssueInput {
	return IssueInput{
		Description:    "Segregation of duties gap in AP",
		Team:           "Finance",
		TeamEmail:      "finance@example.com",
		Priority:       "High",
		ResolutionDate: "2024-07-01",
	}
}

func TestIssueInput_ValidateNew(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		assert.NoError(t, validInput().ValidateNew())
	})

	t.Run("missing description", func(t *testing.T) {
		in := validInput()
		in.Description = "   "
		err := in.ValidateNew()
		require.Error(t, err)
		assert.True(t, IsValidation(err))
		assert.Contains(t, err.Error(), "description")
	})

	t.Run("malformed email", func(t *testing.T) {
		in := validInput()
		in.TeamEmail = "not-an-email"
		err := in.ValidateNew()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid email")
	})

	t.Run("malformed date", func(t *testing.T) {
		in := validInput()
		in.ResolutionDate = "07/01/2024"
		err := in.ValidateNew()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "YYYY-MM-DD")
	})

	t.Run("missing date", func(t *testing.T) {
		in := validInput()
		in.ResolutionDate = ""
		err := in.ValidateNew()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "resolution_date")
		// Edits may leave the date empty
		assert.NoError(t, in.Validate())
	})

	t.Run("bad priority", func(t *testing.T) {
		in := validInput()
		in.Priority = "urgent"
		assert.Error(t, in.ValidateNew())
	})
}

func TestIssueInput_NewIssue(t *testing.T) {
	today := NewDate(2024, 6, 1)
	in := validInput()
	in.Status = "closed" // ignored on creation

	issue, err := in.NewIssue(today)
	require.NoError(t, err)
	assert.Equal(t, IssueStatusOpen, issue.Status)
	assert.Equal(t, IssuePriorityHigh, issue.Priority)
	assert.Equal(t, today, issue.CreatedDate)
	assert.Equal(t, 0, issue.ReminderCount)
	assert.Nil(t, issue.LastReminder)
	require.NotNil(t, issue.ResolutionDate)
	assert.Equal(t, "2024-07-01", issue.ResolutionDate.String())
}

func TestIssueInput_ApplyTo_KeepsReminderFields(t *testing.T) {
	last := NewDate(2024, 5, 30)
	issue := &Issue{
		ID:            "AUDIT-0007",
		Status:        IssueStatusOpen,
		Priority:      IssuePriorityLow,
		LastReminder:  &last,
		ReminderCount: 3,
	}

	in := InputFromIssue(issue)
	in.Description = "Updated"
	in.Team = "Ops"
	in.TeamEmail = "ops@example.com"
	in.Status = "Resolved"
	in.ResolutionDate = ""

	require.NoError(t, in.ApplyTo(issue))
	assert.Equal(t, "AUDIT-0007", issue.ID)
	assert.Equal(t, IssueStatusResolved, issue.Status)
	assert.Nil(t, issue.ResolutionDate)
	assert.Equal(t, 3, issue.ReminderCount)
	assert.Equal(t, last, *issue.LastReminder)
}
