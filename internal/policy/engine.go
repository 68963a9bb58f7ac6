package policy

import "github.com/joescharf/audit/internal/models"

// DaysRemaining returns the day difference from today to the issue's
// resolution date. ok is false when the issue has no deadline.
func DaysRemaining(issue *models.Issue, today models.Date) (days int, ok bool) {
	if issue.ResolutionDate == nil || issue.ResolutionDate.IsZero() {
		return 0, false
	}
	return today.DaysUntil(*issue.ResolutionDate), true
}

// IsDue reports whether the scheduled path must remind about issue today:
// the issue is open, has a deadline exactly an enabled offset away, and was
// not already reminded today.
func IsDue(issue *models.Issue, cfg Config, today models.Date) bool {
	if issue == nil || !issue.IsOpen() {
		return false
	}
	days, ok := DaysRemaining(issue, today)
	if !ok {
		return false
	}
	if !cfg.Fires(days) {
		return false
	}
	return !issue.RemindedOn(today)
}

// SelectDue filters issues with IsDue, preserving order. An issue appears
// at most once even if the input repeats it.
func SelectDue(issues []*models.Issue, cfg Config, today models.Date) []*models.Issue {
	return selectUnique(issues, func(i *models.Issue) bool {
		return IsDue(i, cfg, today)
	})
}

// SelectOverdue returns open issues whose deadline is strictly before today.
// It ignores the policy and the last reminder date.
func SelectOverdue(issues []*models.Issue, today models.Date) []*models.Issue {
	return selectUnique(issues, func(i *models.Issue) bool {
		if !i.IsOpen() {
			return false
		}
		days, ok := DaysRemaining(i, today)
		return ok && days < 0
	})
}

// SelectDueWithin returns open issues due in [today, today+horizon]. It
// ignores the policy and the last reminder date.
func SelectDueWithin(issues []*models.Issue, today models.Date, horizon int) []*models.Issue {
	return selectUnique(issues, func(i *models.Issue) bool {
		if !i.IsOpen() {
			return false
		}
		days, ok := DaysRemaining(i, today)
		return ok && days >= 0 && days <= horizon
	})
}

func selectUnique(issues []*models.Issue, keep func(*models.Issue) bool) []*models.Issue {
	var out []*models.Issue
	seen := make(map[string]bool)
	for _, issue := range issues {
		if issue == nil || seen[issue.ID] {
			continue
		}
		if keep(issue) {
			seen[issue.ID] = true
			out = append(out, issue)
		}
	}
	return out
}
