package health

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/audit/internal/models"
)

var today = models.NewDate(2024, time.March, 10)

func issue(id, team string, status models.IssueStatus, priority models.IssuePriority, dueIn *int) *models.Issue {
	i := &models.Issue{ID: id, Team: team, Status: status, Priority: priority}
	if dueIn != nil {
		d := today.AddDays(*dueIn)
		i.ResolutionDate = &d
	}
	return i
}

func days(n int) *int { return &n }

func TestSummarize(t *testing.T) {
	issues := []*models.Issue{
		issue("1", "A", models.IssueStatusOpen, models.IssuePriorityHigh, days(-2)),
		issue("2", "A", models.IssueStatusInProgress, models.IssuePriorityLow, days(3)),
		issue("3", "B", models.IssueStatusOpen, models.IssuePriorityLow, days(7)),
		issue("4", "B", models.IssueStatusOpen, models.IssuePriorityLow, days(8)),
		issue("5", "B", models.IssueStatusResolved, models.IssuePriorityLow, days(-20)),
		issue("6", "C", models.IssueStatusClosed, models.IssuePriorityLow, nil),
		issue("7", "C", models.IssueStatusOpen, models.IssuePriorityLow, nil),
	}

	s := Summarize(issues, today)
	assert.Equal(t, Summary{
		Total:       7,
		Open:        4,
		InProgress:  1,
		Resolved:    1,
		Closed:      1,
		Overdue:     1,
		DueThisWeek: 2,
		NoDeadline:  1,
	}, s)
}

func TestRecent(t *testing.T) {
	a := &models.Issue{ID: "AUDIT-0001", CreatedDate: today.AddDays(-5)}
	b := &models.Issue{ID: "AUDIT-0002", CreatedDate: today}
	c := &models.Issue{ID: "AUDIT-0003", CreatedDate: today}

	got := Recent([]*models.Issue{a, b, c}, 2)
	require.Len(t, got, 2)
	assert.Equal(t, "AUDIT-0003", got[0].ID)
	assert.Equal(t, "AUDIT-0002", got[1].ID)

	assert.Len(t, Recent([]*models.Issue{a}, 8), 1)
}

func TestScore_HealthyTeam(t *testing.T) {
	s := NewScorer()
	issues := []*models.Issue{
		issue("1", "A", models.IssueStatusResolved, models.IssuePriorityHigh, days(-3)),
		issue("2", "A", models.IssueStatusClosed, models.IssuePriorityLow, nil),
	}

	h := s.Score("A", issues, today)
	assert.Equal(t, 40, h.Timeliness)
	assert.Equal(t, 30, h.Closure)
	assert.Equal(t, 30, h.Backlog)
	assert.Equal(t, 100, h.Score)
}

func TestScore_UnhealthyTeam(t *testing.T) {
	s := NewScorer()
	issues := []*models.Issue{
		issue("1", "B", models.IssueStatusOpen, models.IssuePriorityHigh, days(-1)),
		issue("2", "B", models.IssueStatusOpen, models.IssuePriorityHigh, days(-10)),
		issue("3", "B", models.IssueStatusInProgress, models.IssuePriorityHigh, days(5)),
		issue("4", "B", models.IssueStatusOpen, models.IssuePriorityHigh, days(1)),
	}

	h := s.Score("B", issues, today)
	assert.Equal(t, 4, h.Unresolved)
	assert.Equal(t, 2, h.Overdue)
	assert.Equal(t, 20, h.Timeliness)
	assert.Equal(t, 0, h.Closure)
	assert.Equal(t, 3, h.Backlog)
	assert.True(t, h.Score < 50, "unhealthy team should score below 50")
}

func TestScore_EmptyTeam(t *testing.T) {
	h := NewScorer().Score("none", nil, today)
	assert.Equal(t, 100, h.Score)
}

func TestTeams_WorstFirst(t *testing.T) {
	issues := []*models.Issue{
		issue("1", "Good", models.IssueStatusResolved, models.IssuePriorityLow, days(-1)),
		issue("2", "Bad", models.IssueStatusOpen, models.IssuePriorityHigh, days(-1)),
		issue("3", "Good", models.IssueStatusOpen, models.IssuePriorityLow, days(10)),
	}

	scores := NewScorer().Teams(issues, today)
	require.Len(t, scores, 2)
	assert.Equal(t, "Bad", scores[0].Team)
	assert.Equal(t, "Good", scores[1].Team)
	assert.Equal(t, 2, scores[1].Total)
}

func TestScoreBacklog(t *testing.T) {
	assert.Equal(t, 30, scoreBacklog(0, 30))
	assert.Equal(t, 21, scoreBacklog(1, 30))
	assert.Equal(t, 12, scoreBacklog(3, 30))
	assert.Equal(t, 3, scoreBacklog(9, 30))
}
