// Package reminder owns the issue collection shared by the scheduler and
// the interactive surfaces, and implements send-and-record.
package reminder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/joescharf/audit/internal/models"
	"github.com/joescharf/audit/internal/notify"
	"github.com/joescharf/audit/internal/policy"
	"github.com/joescharf/audit/internal/store"
)

// Failure is one issue a batch could not remind about.
type Failure struct {
	IssueID string `json:"issue_id"`
	Error   string `json:"error"`
}

// BatchResult summarizes a sweep or a scheduled cycle.
type BatchResult struct {
	Trigger  models.ReminderTrigger `json:"trigger"`
	Date     models.Date            `json:"date"`
	Selected int                    `json:"selected"`
	Sent     []string               `json:"sent"`
	Failures []Failure              `json:"failures,omitempty"`
}

// Summary renders "Sent N of M".
func (r BatchResult) Summary() string {
	return fmt.Sprintf("Sent %d of %d", len(r.Sent), r.Selected)
}

// Service serializes every read-evaluate-write on the issue store. All
// mutations from the CLI, API, MCP server and scheduler go through it.
type Service struct {
	mu        sync.Mutex
	store     store.Store
	policy    policy.Source
	formatter *notify.Formatter
	sender    notify.Sender
	logger    *slog.Logger
	today     func() models.Date
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the evaluation date source.
func WithClock(today func() models.Date) Option {
	return func(s *Service) { s.today = today }
}

// WithLogger sets the logger used for send outcomes.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// NewService wires a Service.
func NewService(st store.Store, src policy.Source, formatter *notify.Formatter, sender notify.Sender, opts ...Option) *Service {
	s := &Service{
		store:     st,
		policy:    src,
		formatter: formatter,
		sender:    sender,
		logger:    slog.Default(),
		today:     models.Today,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Today returns the service's evaluation date.
func (s *Service) Today() models.Date {
	return s.today()
}

// Policy returns the current reminder policy.
func (s *Service) Policy() (policy.Config, error) {
	return s.policy.Load()
}

// --- Issues ---

func (s *Service) GetIssue(ctx context.Context, id string) (*models.Issue, error) {
	return s.store.GetIssue(ctx, id)
}

func (s *Service) ListIssues(ctx context.Context, filter store.IssueListFilter) ([]*models.Issue, error) {
	return s.store.ListIssues(ctx, filter)
}

// CreateIssue validates a manual entry and stores it as a new Open issue.
func (s *Service) CreateIssue(ctx context.Context, in models.IssueInput) (*models.Issue, error) {
	issue, err := in.NewIssue(s.today())
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.CreateIssue(ctx, issue); err != nil {
		return nil, err
	}
	return issue, nil
}

// ImportIssue stores an already-built issue, keeping its ID and reminder
// state when set.
func (s *Service) ImportIssue(ctx context.Context, issue *models.Issue) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.CreateIssue(ctx, issue)
}

// EditIssue applies a validated edit to the stored issue.
func (s *Service) EditIssue(ctx context.Context, id string, in models.IssueInput) (*models.Issue, error) {
	return s.UpdateIssue(ctx, id, in.ApplyTo)
}

// SetStatus moves an issue to status.
func (s *Service) SetStatus(ctx context.Context, id string, status models.IssueStatus) (*models.Issue, error) {
	return s.UpdateIssue(ctx, id, func(issue *models.Issue) error {
		issue.Status = status
		return nil
	})
}

// UpdateIssue loads the issue, applies fn and writes the editable fields
// back. Changes fn makes to the reminder fields are ignored; the returned
// issue carries the stored reminder state. Nothing is written if fn fails.
func (s *Service) UpdateIssue(ctx context.Context, id string, fn func(*models.Issue) error) (*models.Issue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	issue, err := s.store.GetIssue(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(issue); err != nil {
		return nil, err
	}
	if err := s.store.UpdateIssue(ctx, issue); err != nil {
		return nil, err
	}
	return s.store.GetIssue(ctx, id)
}

func (s *Service) DeleteIssue(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.DeleteIssue(ctx, id)
}

// ReminderHistory lists logged send attempts, newest first.
func (s *Service) ReminderHistory(ctx context.Context, issueID string, limit int) ([]*models.ReminderLog, error) {
	return s.store.ListReminderLog(ctx, issueID, limit)
}

// --- Reminders ---

// DuePreview returns the issues the scheduled path would remind about today.
func (s *Service) DuePreview(ctx context.Context) ([]*models.Issue, error) {
	cfg, err := s.policy.Load()
	if err != nil {
		return nil, fmt.Errorf("load policy: %w", err)
	}
	issues, err := s.store.ListIssues(ctx, store.IssueListFilter{})
	if err != nil {
		return nil, err
	}
	return policy.SelectDue(issues, cfg, s.today()), nil
}

// RunCycle is one scheduled evaluation: reload the policy, select due
// issues and send to each. A failing or panicking issue is recorded in the
// result and the cycle moves on.
func (s *Service) RunCycle(ctx context.Context) (BatchResult, error) {
	cfg, err := s.policy.Load()
	if err != nil {
		return BatchResult{Trigger: models.TriggerScheduled}, fmt.Errorf("load policy: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	today := s.today()
	issues, err := s.store.ListIssues(ctx, store.IssueListFilter{Status: models.IssueStatusOpen})
	if err != nil {
		return BatchResult{Trigger: models.TriggerScheduled, Date: today}, err
	}
	return s.sendBatch(ctx, policy.SelectDue(issues, cfg, today), models.TriggerScheduled, today), nil
}

// SendOne reminds about a single issue regardless of policy or of an
// earlier reminder today.
func (s *Service) SendOne(ctx context.Context, id string) (*models.Issue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	issue, err := s.store.GetIssue(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.sendAndRecord(ctx, issue, models.TriggerManual, s.today()); err != nil {
		return nil, err
	}
	return issue, nil
}

// SendOverdue reminds about every open issue past its deadline.
func (s *Service) SendOverdue(ctx context.Context) (BatchResult, error) {
	return s.sweep(ctx, models.TriggerOverdue, func(issues []*models.Issue, today models.Date) []*models.Issue {
		return policy.SelectOverdue(issues, today)
	})
}

// SendDueWithin reminds about every open issue due in the next days days.
func (s *Service) SendDueWithin(ctx context.Context, days int) (BatchResult, error) {
	return s.sweep(ctx, models.TriggerDueSoon, func(issues []*models.Issue, today models.Date) []*models.Issue {
		return policy.SelectDueWithin(issues, today, days)
	})
}

func (s *Service) sweep(ctx context.Context, trigger models.ReminderTrigger, pick func([]*models.Issue, models.Date) []*models.Issue) (BatchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	today := s.today()
	issues, err := s.store.ListIssues(ctx, store.IssueListFilter{Status: models.IssueStatusOpen})
	if err != nil {
		return BatchResult{Trigger: trigger, Date: today}, err
	}
	return s.sendBatch(ctx, pick(issues, today), trigger, today), nil
}

// sendBatch must be called with s.mu held.
func (s *Service) sendBatch(ctx context.Context, issues []*models.Issue, trigger models.ReminderTrigger, today models.Date) BatchResult {
	res := BatchResult{Trigger: trigger, Date: today, Selected: len(issues), Sent: []string{}}
	for _, issue := range issues {
		if ctx.Err() != nil {
			res.Failures = append(res.Failures, Failure{IssueID: issue.ID, Error: ctx.Err().Error()})
			continue
		}
		if err := s.sendSafely(ctx, issue, trigger, today); err != nil {
			s.logger.Warn("reminder failed", "issue", issue.ID, "trigger", trigger, "error", err)
			res.Failures = append(res.Failures, Failure{IssueID: issue.ID, Error: err.Error()})
			continue
		}
		res.Sent = append(res.Sent, issue.ID)
	}
	return res
}

// sendSafely turns a panic while handling one issue into an error.
func (s *Service) sendSafely(ctx context.Context, issue *models.Issue, trigger models.ReminderTrigger, today models.Date) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("reminder for %s panicked: %v", issue.ID, r)
		}
	}()
	return s.sendAndRecord(ctx, issue, trigger, today)
}

// sendAndRecord formats and hands off one reminder. Only on a successful
// handoff are the reminder fields advanced and the issue persisted; on
// failure issue is left untouched. Must be called with s.mu held.
func (s *Service) sendAndRecord(ctx context.Context, issue *models.Issue, trigger models.ReminderTrigger, today models.Date) error {
	msg, err := s.formatter.Format(issue, today)
	if err != nil {
		err = fmt.Errorf("format reminder for %s: %w", issue.ID, err)
		s.record(ctx, issue, trigger, today, err)
		return err
	}

	if err := s.sender.Send(ctx, msg); err != nil {
		err = fmt.Errorf("send reminder for %s: %w", issue.ID, err)
		s.record(ctx, issue, trigger, today, err)
		return err
	}

	if err := s.store.RecordReminder(ctx, issue.ID, today); err != nil {
		err = fmt.Errorf("record reminder for %s: %w", issue.ID, err)
		s.record(ctx, issue, trigger, today, err)
		return err
	}
	if stored, err := s.store.GetIssue(ctx, issue.ID); err == nil {
		*issue = *stored
	} else {
		if issue.LastReminder == nil || !issue.LastReminder.After(today) {
			issue.LastReminder = models.DatePtr(today)
		}
		issue.ReminderCount++
	}

	s.logger.Info("reminder sent", "issue", issue.ID, "to", msg.To, "trigger", trigger, "count", issue.ReminderCount)
	s.record(ctx, issue, trigger, today, nil)
	return nil
}

// record appends to the reminder log. A log failure never changes the
// outcome of the send.
func (s *Service) record(ctx context.Context, issue *models.Issue, trigger models.ReminderTrigger, today models.Date, sendErr error) {
	entry := &models.ReminderLog{
		IssueID:   issue.ID,
		Trigger:   trigger,
		SentOn:    today,
		Recipient: issue.TeamEmail,
		Success:   sendErr == nil,
	}
	if sendErr != nil {
		entry.Error = sendErr.Error()
	}
	if err := s.store.AppendReminderLog(context.WithoutCancel(ctx), entry); err != nil {
		s.logger.Warn("reminder log append failed", "issue", issue.ID, "error", err)
	}
}

// TestIssueID marks reminder log entries written by SendTest.
const TestIssueID = "-"

// SendTest hands a test message to the sender without touching any issue.
// The attempt is logged with the test trigger.
func (s *Service) SendTest(ctx context.Context, to string) error {
	if to == "" {
		return errors.New("test recipient is required")
	}
	err := s.sender.Send(ctx, notify.TestMessage(to))
	if err != nil {
		err = fmt.Errorf("send test message: %w", err)
	}
	s.record(ctx, &models.Issue{ID: TestIssueID, TeamEmail: to}, models.TriggerTest, s.today(), err)
	return err
}
