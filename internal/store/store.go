package store

import (
	"context"
	"errors"

	"github.com/joescharf/audit/internal/models"
)

// ErrNotFound is returned (wrapped) when a record does not exist.
var ErrNotFound = errors.New("not found")

// ErrIDRetired is returned (wrapped) when an explicit ID belonged to a
// deleted issue.
var ErrIDRetired = errors.New("was used by a deleted issue")

// IssueListFilter specifies filters for listing issues.
type IssueListFilter struct {
	Status   models.IssueStatus
	Priority models.IssuePriority
	Team     string
}

// Store defines the persistence interface for audit issues.
type Store interface {
	// Issues
	CreateIssue(ctx context.Context, issue *models.Issue) error
	GetIssue(ctx context.Context, id string) (*models.Issue, error)
	ListIssues(ctx context.Context, filter IssueListFilter) ([]*models.Issue, error)
	UpdateIssue(ctx context.Context, issue *models.Issue) error
	RecordReminder(ctx context.Context, id string, on models.Date) error
	DeleteIssue(ctx context.Context, id string) error

	// Reminder log
	AppendReminderLog(ctx context.Context, entry *models.ReminderLog) error
	ListReminderLog(ctx context.Context, issueID string, limit int) ([]*models.ReminderLog, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
