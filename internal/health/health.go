package health

import (
	"sort"

	"github.com/joescharf/audit/internal/models"
)

// DueSoonDays is the horizon counted as "due this week".
const DueSoonDays = 7

// Summary holds the dashboard counters.
type Summary struct {
	Total       int `json:"total"`
	Open        int `json:"open"`
	InProgress  int `json:"in_progress"`
	Resolved    int `json:"resolved"`
	Closed      int `json:"closed"`
	Overdue     int `json:"overdue"`
	DueThisWeek int `json:"due_this_week"`
	NoDeadline  int `json:"no_deadline"`
}

// Summarize counts issues by status and deadline as of today. Overdue and
// due-this-week count unresolved issues (open or in progress).
func Summarize(issues []*models.Issue, today models.Date) Summary {
	var s Summary
	for _, i := range issues {
		s.Total++
		switch i.Status {
		case models.IssueStatusOpen:
			s.Open++
		case models.IssueStatusInProgress:
			s.InProgress++
		case models.IssueStatusResolved:
			s.Resolved++
		case models.IssueStatusClosed:
			s.Closed++
		}
		if !unresolved(i) {
			continue
		}
		if i.ResolutionDate == nil {
			s.NoDeadline++
			continue
		}
		days := today.DaysUntil(*i.ResolutionDate)
		switch {
		case days < 0:
			s.Overdue++
		case days <= DueSoonDays:
			s.DueThisWeek++
		}
	}
	return s
}

// Recent returns up to n issues, newest created first.
func Recent(issues []*models.Issue, n int) []*models.Issue {
	out := make([]*models.Issue, len(issues))
	copy(out, issues)
	sort.SliceStable(out, func(a, b int) bool {
		if out[a].CreatedDate != out[b].CreatedDate {
			return out[a].CreatedDate.After(out[b].CreatedDate)
		}
		return out[a].ID > out[b].ID
	})
	if n >= 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// TeamScore is the remediation health of one team.
type TeamScore struct {
	Team       string `json:"team"`
	Total      int    `json:"total"`
	Unresolved int    `json:"unresolved"`
	Overdue    int    `json:"overdue"`
	OpenHigh   int    `json:"open_high"`
	Timeliness int    `json:"timeliness"` // 0-40
	Closure    int    `json:"closure"`    // 0-30
	Backlog    int    `json:"backlog"`    // 0-30
	Score      int    `json:"score"`
}

// Scorer computes team remediation scores.
type Scorer struct{}

// NewScorer returns a new Scorer.
func NewScorer() *Scorer {
	return &Scorer{}
}

// Score computes a 0-100 score for one team's issues.
func (s *Scorer) Score(team string, issues []*models.Issue, today models.Date) *TeamScore {
	h := &TeamScore{Team: team, Total: len(issues)}
	for _, i := range issues {
		if !unresolved(i) {
			continue
		}
		h.Unresolved++
		if i.ResolutionDate != nil && i.ResolutionDate.Before(today) {
			h.Overdue++
		}
		if i.Priority == models.IssuePriorityHigh {
			h.OpenHigh++
		}
	}

	// Timeliness (40 pts) - share of unresolved issues still within deadline
	h.Timeliness = 40
	if h.Unresolved > 0 {
		h.Timeliness = int(40 * (1 - float64(h.Overdue)/float64(h.Unresolved)))
	}

	// Closure (30 pts) - share of all issues resolved or closed
	h.Closure = 30
	if h.Total > 0 {
		h.Closure = int(30 * float64(h.Total-h.Unresolved) / float64(h.Total))
	}

	// Backlog (30 pts) - unresolved high-priority findings
	h.Backlog = scoreBacklog(h.OpenHigh, 30)

	h.Score = h.Timeliness + h.Closure + h.Backlog
	return h
}

// Teams scores every team, worst first.
func (s *Scorer) Teams(issues []*models.Issue, today models.Date) []*TeamScore {
	byTeam := make(map[string][]*models.Issue)
	var order []string
	for _, i := range issues {
		if _, ok := byTeam[i.Team]; !ok {
			order = append(order, i.Team)
		}
		byTeam[i.Team] = append(byTeam[i.Team], i)
	}

	scores := make([]*TeamScore, 0, len(order))
	for _, team := range order {
		scores = append(scores, s.Score(team, byTeam[team], today))
	}
	sort.SliceStable(scores, func(a, b int) bool {
		return scores[a].Score < scores[b].Score
	})
	return scores
}

func unresolved(i *models.Issue) bool {
	return i.Status == models.IssueStatusOpen || i.Status == models.IssueStatusInProgress
}

// scoreBacklog penalizes unresolved high-priority findings.
func scoreBacklog(openHigh, maxPoints int) int {
	switch {
	case openHigh == 0:
		return maxPoints
	case openHigh == 1:
		return int(float64(maxPoints) * 0.7)
	case openHigh <= 3:
		return int(float64(maxPoints) * 0.4)
	default:
		return int(float64(maxPoints) * 0.1)
	}
}
