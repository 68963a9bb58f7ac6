package models

import (
	"fmt"
	"strings"
	"time"
)

// IssueStatus represents the lifecycle state of an audit issue.
type IssueStatus string

const (
	IssueStatusOpen       IssueStatus = "open"
	IssueStatusInProgress IssueStatus = "in_progress"
	IssueStatusResolved   IssueStatus = "resolved"
	IssueStatusClosed     IssueStatus = "closed"
)

// IssuePriority represents the urgency of an audit issue.
type IssuePriority string

const (
	IssuePriorityLow    IssuePriority = "low"
	IssuePriorityMedium IssuePriority = "medium"
	IssuePriorityHigh   IssuePriority = "high"
)

// Issue is a tracked audit finding that a team must remediate by its
// resolution date.
type Issue struct {
	ID             string        `json:"id"`
	Description    string        `json:"description"`
	Team           string        `json:"team"`
	TeamEmail      string        `json:"team_email"`
	Priority       IssuePriority `json:"priority"`
	Status         IssueStatus   `json:"status"`
	CreatedDate    Date          `json:"created_date"`
	ResolutionDate *Date         `json:"resolution_date,omitempty"` // nil = no deadline
	LastReminder   *Date         `json:"last_reminder,omitempty"`
	ReminderCount  int           `json:"reminder_count"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// IsOpen reports whether the issue takes part in reminder evaluation.
func (i *Issue) IsOpen() bool {
	return i.Status == IssueStatusOpen
}

// RemindedOn reports whether a reminder was already sent on day.
func (i *Issue) RemindedOn(day Date) bool {
	return i.LastReminder != nil && *i.LastReminder == day
}

// Clone returns a deep copy so callers can mutate without aliasing.
func (i *Issue) Clone() *Issue {
	c := *i
	if i.ResolutionDate != nil {
		d := *i.ResolutionDate
		c.ResolutionDate = &d
	}
	if i.LastReminder != nil {
		d := *i.LastReminder
		c.LastReminder = &d
	}
	return &c
}

// ParseStatus accepts the canonical values as well as the spreadsheet
// labels ("Open", "In Progress", "Resolved", "Closed").
func ParseStatus(s string) (IssueStatus, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.NewReplacer(" ", "_", "-", "_").Replace(norm)
	switch IssueStatus(norm) {
	case IssueStatusOpen, IssueStatusInProgress, IssueStatusResolved, IssueStatusClosed:
		return IssueStatus(norm), nil
	case "inprogress":
		return IssueStatusInProgress, nil
	}
	return "", fmt.Errorf("invalid status %q (use open, in_progress, resolved, closed)", s)
}

// ParsePriority accepts "high", "medium", "low" in any case.
func ParsePriority(s string) (IssuePriority, error) {
	switch p := IssuePriority(strings.ToLower(strings.TrimSpace(s))); p {
	case IssuePriorityHigh, IssuePriorityMedium, IssuePriorityLow:
		return p, nil
	}
	return "", fmt.Errorf("invalid priority %q (use high, medium, low)", s)
}
