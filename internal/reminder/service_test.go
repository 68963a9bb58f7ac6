package reminder

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/audit/internal/models"
	"github.com/joescharf/audit/internal/notify"
	"github.com/joescharf/audit/internal/policy"
	"github.com/joescharf/audit/internal/store"
)

var today = models.NewDate(2024, time.March, 10)

// recordingSender captures messages and fails for addresses listed in failFor.
type recordingSender struct {
	mu      sync.Mutex
	sent    []notify.Message
	failFor map[string]bool
	panicOn map[string]bool
}

func (r *recordingSender) Send(_ context.Context, msg notify.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.panicOn[msg.To] {
		panic("composer crashed")
	}
	if r.failFor[msg.To] {
		return errors.New("no mail handler")
	}
	r.sent = append(r.sent, msg)
	return nil
}

func (r *recordingSender) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

type testEnv struct {
	svc    *Service
	store  *store.SQLiteStore
	sender *recordingSender
	cfg    *policy.Config
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })

	cfg := policy.Default()
	env := &testEnv{
		store:  s,
		sender: &recordingSender{failFor: map[string]bool{}, panicOn: map[string]bool{}},
		cfg:    &cfg,
	}
	src := policy.SourceFunc(func() (policy.Config, error) { return env.cfg.Clone(), nil })
	env.svc = NewService(s, src,
		notify.NewFormatter(notify.StaticTemplate("#{{REMINDER_COUNT}} {{ISSUE_ID}} due in {{DAYS_REMAINING}}")),
		env.sender,
		WithClock(func() models.Date { return today }),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	return env
}

func (e *testEnv) addIssue(t *testing.T, email string, dueIn int) *models.Issue {
	t.Helper()
	due := today.AddDays(dueIn)
	issue := &models.Issue{
		Description:    "Finding for " + email,
		Team:           "Team",
		TeamEmail:      email,
		Priority:       models.IssuePriorityMedium,
		Status:         models.IssueStatusOpen,
		CreatedDate:    today.AddDays(-30),
		ResolutionDate: &due,
	}
	require.NoError(t, e.store.CreateIssue(context.Background(), issue))
	return issue
}

func (e *testEnv) get(t *testing.T, id string) *models.Issue {
	t.Helper()
	issue, err := e.store.GetIssue(context.Background(), id)
	require.NoError(t, err)
	return issue
}

func TestRunCycle_SendsDueAndRecords(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	due := env.addIssue(t, "a@example.com", 7)
	env.addIssue(t, "b@example.com", 5)

	res, err := env.svc.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Selected)
	assert.Equal(t, []string{due.ID}, res.Sent)
	assert.Empty(t, res.Failures)
	assert.Equal(t, "Sent 1 of 1", res.Summary())

	require.Equal(t, 1, env.sender.count())
	msg := env.sender.sent[0]
	assert.Equal(t, "a@example.com", msg.To)
	assert.Equal(t, "#1 "+due.ID+" due in 7", msg.Body)

	got := env.get(t, due.ID)
	assert.Equal(t, 1, got.ReminderCount)
	require.NotNil(t, got.LastReminder)
	assert.Equal(t, today, *got.LastReminder)

	log, err := env.svc.ReminderHistory(ctx, due.ID, 0)
	require.NoError(t, err)
	require.Len(t, log, 1)
	assert.True(t, log[0].Success)
	assert.Equal(t, models.TriggerScheduled, log[0].Trigger)
}

func TestRunCycle_SameDaySuppressed(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	issue := env.addIssue(t, "a@example.com", 7)

	_, err := env.svc.RunCycle(ctx)
	require.NoError(t, err)
	res, err := env.svc.RunCycle(ctx)
	require.NoError(t, err)

	assert.Equal(t, 0, res.Selected)
	assert.Equal(t, 1, env.sender.count())
	assert.Equal(t, 1, env.get(t, issue.ID).ReminderCount)
}

func TestRunCycle_FailureLeavesRecordAndRetries(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	failing := env.addIssue(t, "fail@example.com", 3)
	ok := env.addIssue(t, "ok@example.com", 3)
	env.sender.failFor["fail@example.com"] = true

	res, err := env.svc.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Selected)
	assert.Equal(t, []string{ok.ID}, res.Sent)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, failing.ID, res.Failures[0].IssueID)
	assert.Contains(t, res.Failures[0].Error, "no mail handler")

	got := env.get(t, failing.ID)
	assert.Equal(t, 0, got.ReminderCount)
	assert.Nil(t, got.LastReminder)

	log, err := env.svc.ReminderHistory(ctx, failing.ID, 0)
	require.NoError(t, err)
	require.Len(t, log, 1)
	assert.False(t, log[0].Success)

	// Still eligible on the next cycle once the sender recovers.
	delete(env.sender.failFor, "fail@example.com")
	res, err = env.svc.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{failing.ID}, res.Sent)
	assert.Equal(t, 1, env.get(t, failing.ID).ReminderCount)
}

func TestRunCycle_PanicIsolatedToOneIssue(t *testing.T) {
	env := newTestEnv(t)
	boom := env.addIssue(t, "boom@example.com", 1)
	fine := env.addIssue(t, "fine@example.com", 1)
	env.sender.panicOn["boom@example.com"] = true

	res, err := env.svc.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{fine.ID}, res.Sent)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, boom.ID, res.Failures[0].IssueID)
	assert.Contains(t, res.Failures[0].Error, "panicked")
	assert.Equal(t, 0, env.get(t, boom.ID).ReminderCount)
}

func TestRunCycle_ReadsCurrentPolicy(t *testing.T) {
	env := newTestEnv(t)
	issue := env.addIssue(t, "a@example.com", 7)
	_ = env.cfg.Set(7, false)

	res, err := env.svc.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Selected)

	_ = env.cfg.Set(7, true)
	res, err = env.svc.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{issue.ID}, res.Sent)
}

func TestRunCycle_PolicyError(t *testing.T) {
	env := newTestEnv(t)
	env.svc.policy = policy.SourceFunc(func() (policy.Config, error) {
		return policy.Config{}, errors.New("unreadable")
	})
	_, err := env.svc.RunCycle(context.Background())
	assert.ErrorContains(t, err, "unreadable")
}

func TestSendOverdue_IgnoresSameDaySuppression(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	overdue := env.addIssue(t, "late@example.com", -3)
	env.addIssue(t, "future@example.com", 10)

	res, err := env.svc.SendOverdue(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{overdue.ID}, res.Sent)

	res, err = env.svc.SendOverdue(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{overdue.ID}, res.Sent)
	assert.Equal(t, 2, env.get(t, overdue.ID).ReminderCount)

	log, err := env.svc.ReminderHistory(ctx, overdue.ID, 0)
	require.NoError(t, err)
	require.Len(t, log, 2)
	assert.Equal(t, models.TriggerOverdue, log[0].Trigger)
}

func TestSendDueWithin(t *testing.T) {
	env := newTestEnv(t)
	a := env.addIssue(t, "a@example.com", 0)
	b := env.addIssue(t, "b@example.com", 7)
	env.addIssue(t, "c@example.com", 8)
	env.addIssue(t, "d@example.com", -1)

	res, err := env.svc.SendDueWithin(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Selected)
	assert.Equal(t, []string{a.ID, b.ID}, res.Sent)
}

func TestSendOne(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	issue := env.addIssue(t, "a@example.com", 20)

	got, err := env.svc.SendOne(ctx, issue.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.ReminderCount)
	assert.Equal(t, today, *got.LastReminder)

	// Manual sends are not limited to one per day.
	got, err = env.svc.SendOne(ctx, issue.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.ReminderCount)
	assert.Equal(t, "#2 "+issue.ID+" due in 20", env.sender.sent[1].Body)

	_, err = env.svc.SendOne(ctx, "AUDIT-9999")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSendOne_FailureUnchanged(t *testing.T) {
	env := newTestEnv(t)
	issue := env.addIssue(t, "a@example.com", 20)
	env.sender.failFor["a@example.com"] = true

	_, err := env.svc.SendOne(context.Background(), issue.ID)
	require.Error(t, err)

	got := env.get(t, issue.ID)
	assert.Equal(t, 0, got.ReminderCount)
	assert.Nil(t, got.LastReminder)
}

func TestSend_OnlyTouchesOneRecord(t *testing.T) {
	env := newTestEnv(t)
	a := env.addIssue(t, "a@example.com", 7)
	b := env.addIssue(t, "b@example.com", 7)
	before := env.get(t, b.ID)

	_, err := env.svc.SendOne(context.Background(), a.ID)
	require.NoError(t, err)

	after := env.get(t, b.ID)
	assert.Equal(t, before.ReminderCount, after.ReminderCount)
	assert.Equal(t, before.UpdatedAt, after.UpdatedAt)
}

func TestCreateAndEditIssue(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	issue, err := env.svc.CreateIssue(ctx, models.IssueInput{
		Description:    "Vendor master changes not reviewed",
		Team:           "Procurement",
		TeamEmail:      "proc@example.com",
		Priority:       "High",
		ResolutionDate: "2024-04-01",
	})
	require.NoError(t, err)
	assert.Equal(t, "AUDIT-0001", issue.ID)
	assert.Equal(t, today, issue.CreatedDate)

	_, err = env.svc.CreateIssue(ctx, models.IssueInput{Description: "x", Team: "y", TeamEmail: "bad", ResolutionDate: "2024-04-01"})
	require.Error(t, err)
	assert.True(t, models.IsValidation(err))

	in := models.InputFromIssue(issue)
	in.Status = "In Progress"
	edited, err := env.svc.EditIssue(ctx, issue.ID, in)
	require.NoError(t, err)
	assert.Equal(t, models.IssueStatusInProgress, edited.Status)

	in.TeamEmail = "nope"
	_, err = env.svc.EditIssue(ctx, issue.ID, in)
	require.Error(t, err)
	assert.Equal(t, "proc@example.com", env.get(t, issue.ID).TeamEmail)

	closed, err := env.svc.SetStatus(ctx, issue.ID, models.IssueStatusClosed)
	require.NoError(t, err)
	assert.Equal(t, models.IssueStatusClosed, closed.Status)

	require.NoError(t, env.svc.DeleteIssue(ctx, issue.ID))
	_, err = env.svc.GetIssue(ctx, issue.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestConcurrentEditAndCycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	issue := env.addIssue(t, "a@example.com", 7)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = env.svc.RunCycle(ctx)
	}()
	go func() {
		defer wg.Done()
		_, _ = env.svc.UpdateIssue(ctx, issue.ID, func(i *models.Issue) error {
			i.Description = "edited"
			return nil
		})
	}()
	wg.Wait()

	got := env.get(t, issue.ID)
	assert.Equal(t, "edited", got.Description)
	assert.Equal(t, 1, got.ReminderCount)
}

func TestDuePreview(t *testing.T) {
	env := newTestEnv(t)
	due := env.addIssue(t, "a@example.com", 14)
	env.addIssue(t, "b@example.com", 13)

	got, err := env.svc.DuePreview(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, due.ID, got[0].ID)
	assert.Equal(t, 0, env.sender.count())
}

// newServiceOn opens its own store on dbPath, the way the CLI and the
// background server each do.
func newServiceOn(t *testing.T, dbPath string, sender notify.Sender) (*Service, *store.SQLiteStore) {
	t.Helper()
	s, err := store.NewSQLiteStore(dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })

	svc := NewService(s, policy.SourceFunc(func() (policy.Config, error) { return policy.Default(), nil }),
		notify.NewFormatter(notify.StaticTemplate("{{ISSUE_ID}}")),
		sender,
		WithClock(func() models.Date { return today }),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	return svc, s
}

func TestEditDoesNotUndoReminderFromAnotherProcess(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "shared.db")
	sender := &recordingSender{failFor: map[string]bool{}, panicOn: map[string]bool{}}
	cli, _ := newServiceOn(t, dbPath, sender)
	daemon, daemonStore := newServiceOn(t, dbPath, sender)

	due := today.AddDays(7)
	issue, err := cli.CreateIssue(ctx, models.IssueInput{
		Description:    "Access review overdue",
		Team:           "IT",
		TeamEmail:      "it@example.com",
		ResolutionDate: due.String(),
	})
	require.NoError(t, err)

	// The background server sends between the edit's read and its write.
	edited, err := cli.UpdateIssue(ctx, issue.ID, func(i *models.Issue) error {
		res, err := daemon.RunCycle(ctx)
		require.NoError(t, err)
		require.Len(t, res.Sent, 1)
		i.Description = "Access review overdue (scope widened)"
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, edited.ReminderCount)

	got, err := daemonStore.GetIssue(ctx, issue.ID)
	require.NoError(t, err)
	assert.Equal(t, "Access review overdue (scope widened)", got.Description)
	assert.Equal(t, 1, got.ReminderCount)
	require.NotNil(t, got.LastReminder)
	assert.Equal(t, today, *got.LastReminder)

	res, err := daemon.RunCycle(ctx)
	require.NoError(t, err)
	assert.Empty(t, res.Sent, "no second reminder the same day")
	assert.Equal(t, 1, sender.count())
}

func TestSendTest(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.NoError(t, env.svc.SendTest(ctx, "me@example.com"))
	require.Equal(t, 1, env.sender.count())
	assert.Equal(t, "Test Email - Audit Management System", env.sender.sent[0].Subject)

	env.sender.failFor["down@example.com"] = true
	assert.Error(t, env.svc.SendTest(ctx, "down@example.com"))

	assert.Error(t, env.svc.SendTest(ctx, ""))

	entries, err := env.svc.ReminderHistory(ctx, TestIssueID, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2, "both attempts logged, the empty recipient is not an attempt")
	for _, e := range entries {
		assert.Equal(t, models.TriggerTest, e.Trigger)
	}
	byRecipient := map[string]bool{}
	for _, e := range entries {
		byRecipient[e.Recipient] = e.Success
	}
	assert.True(t, byRecipient["me@example.com"])
	assert.False(t, byRecipient["down@example.com"])
}
