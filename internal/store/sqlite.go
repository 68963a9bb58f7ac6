package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/joescharf/audit/internal/models"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DefaultIDPrefix is prepended to the sequence number of new issue IDs.
const DefaultIDPrefix = "AUDIT"

// SQLiteStore implements Store using modernc.org/sqlite (pure Go, no CGO).
type SQLiteStore struct {
	db       *sql.DB
	idPrefix string
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// One connection serializes every read and write, so the scheduler
	// goroutine and request handlers never see "database is locked".
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	// Other processes (CLI commands next to a running daemon) wait instead of failing.
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	return &SQLiteStore{db: db, idPrefix: DefaultIDPrefix}, nil
}

// WithIDPrefix sets the prefix used for newly assigned issue IDs.
func (s *SQLiteStore) WithIDPrefix(prefix string) *SQLiteStore {
	if prefix != "" {
		s.idPrefix = prefix
	}
	return s
}

// boolToInt converts a bool to 0 or 1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// newULID generates a new ULID string.
func newULID() string {
	entropy := rand.New(rand.NewSource(time.Now().UnixNano()))
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulid.Monotonic(entropy, 0)).String()
}

// Migrate runs all embedded SQL migration files in order. Migrations only
// ever add tables and columns, so existing rows survive an upgrade.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()

		var count int
		err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE filename = ?", name).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if count > 0 {
			continue
		}

		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (filename) VALUES (?)", name); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Issues ---

const issueColumns = `id, description, team, team_email, priority, status, created_date, resolution_date, last_reminder, reminder_count, updated_at`

// CreateIssue inserts a new issue. When issue.ID is empty the next
// sequential ID is assigned; an explicit ID (from an import) advances the
// sequence past it so it is never handed out again. An explicit ID that
// belonged to a deleted issue is refused with ErrIDRetired.
func (s *SQLiteStore) CreateIssue(ctx context.Context, issue *models.Issue) error {
	if issue.Status == "" {
		issue.Status = models.IssueStatusOpen
	}
	if issue.Priority == "" {
		issue.Priority = models.IssuePriorityMedium
	}
	if issue.CreatedDate.IsZero() {
		issue.CreatedDate = models.Today()
	}
	issue.UpdatedAt = time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("create issue: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if issue.ID == "" {
		var next int
		err := tx.QueryRowContext(ctx,
			`UPDATE id_sequence SET value = value + 1 WHERE name = 'issues' RETURNING value`,
		).Scan(&next)
		if err != nil {
			return fmt.Errorf("next issue id: %w", err)
		}
		issue.ID = FormatIssueID(s.idPrefix, next)
	} else {
		var retired int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM retired_issue_ids WHERE id = ?`, issue.ID,
		).Scan(&retired); err != nil {
			return fmt.Errorf("check retired id: %w", err)
		}
		if retired > 0 {
			return fmt.Errorf("issue id %s %w", issue.ID, ErrIDRetired)
		}
	}
	if n, ok := ParseIssueSeq(s.idPrefix, issue.ID); ok {
		if _, err := tx.ExecContext(ctx,
			`UPDATE id_sequence SET value = MAX(value, ?) WHERE name = 'issues'`, n,
		); err != nil {
			return fmt.Errorf("advance issue id: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO issues (`+issueColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		issue.ID, issue.Description, issue.Team, issue.TeamEmail,
		string(issue.Priority), string(issue.Status),
		issue.CreatedDate.String(), nullDate(issue.ResolutionDate), nullDate(issue.LastReminder),
		issue.ReminderCount, issue.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create issue: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("create issue: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetIssue(ctx context.Context, id string) (*models.Issue, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+issueColumns+` FROM issues WHERE id = ?`, id)
	issue, err := scanIssue(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("issue %s %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get issue: %w", err)
	}
	return issue, nil
}

// ListIssues returns issues in insertion order.
func (s *SQLiteStore) ListIssues(ctx context.Context, filter IssueListFilter) ([]*models.Issue, error) {
	query := `SELECT ` + issueColumns + ` FROM issues`
	var conditions []string
	var args []any

	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Priority != "" {
		conditions = append(conditions, "priority = ?")
		args = append(args, string(filter.Priority))
	}
	if filter.Team != "" {
		conditions = append(conditions, "team = ? COLLATE NOCASE")
		args = append(args, filter.Team)
	}

	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY rowid"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list issues: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var issues []*models.Issue
	for rows.Next() {
		issue, err := scanIssue(rows)
		if err != nil {
			return nil, fmt.Errorf("scan issue: %w", err)
		}
		issues = append(issues, issue)
	}
	return issues, rows.Err()
}

// UpdateIssue writes the editable fields of the issue. The reminder fields
// are owned by RecordReminder and are never written here, so an edit cannot
// undo a reminder recorded by another process in the meantime.
func (s *SQLiteStore) UpdateIssue(ctx context.Context, issue *models.Issue) error {
	issue.UpdatedAt = time.Now().UTC()
	result, err := s.db.ExecContext(ctx,
		`UPDATE issues SET description=?, team=?, team_email=?, priority=?, status=?, resolution_date=?, updated_at=?
		WHERE id=?`,
		issue.Description, issue.Team, issue.TeamEmail,
		string(issue.Priority), string(issue.Status),
		nullDate(issue.ResolutionDate), issue.UpdatedAt, issue.ID,
	)
	if err != nil {
		return fmt.Errorf("update issue: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("issue %s %w", issue.ID, ErrNotFound)
	}
	return nil
}

// RecordReminder counts one successful reminder sent on the given day. The
// count is incremented in place and last_reminder only moves forward.
func (s *SQLiteStore) RecordReminder(ctx context.Context, id string, on models.Date) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE issues SET
			last_reminder = CASE WHEN last_reminder IS NULL OR last_reminder = '' OR last_reminder < ? THEN ? ELSE last_reminder END,
			reminder_count = reminder_count + 1,
			updated_at = ?
		WHERE id = ?`,
		on.String(), on.String(), time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("record reminder: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("issue %s %w", id, ErrNotFound)
	}
	return nil
}

// DeleteIssue removes the issue and retires its ID.
func (s *SQLiteStore) DeleteIssue(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("delete issue: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, "DELETE FROM issues WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete issue: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("issue %s %w", id, ErrNotFound)
	}
	if _, err := tx.ExecContext(ctx, "INSERT OR IGNORE INTO retired_issue_ids (id) VALUES (?)", id); err != nil {
		return fmt.Errorf("retire issue id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("delete issue: %w", err)
	}
	return nil
}

// --- Reminder log ---

func (s *SQLiteStore) AppendReminderLog(ctx context.Context, entry *models.ReminderLog) error {
	if entry.ID == "" {
		entry.ID = newULID()
	}
	entry.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO reminder_log (id, issue_id, kind, sent_on, recipient, success, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.IssueID, string(entry.Trigger), entry.SentOn.String(),
		entry.Recipient, boolToInt(entry.Success), entry.Error, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append reminder log: %w", err)
	}
	return nil
}

// ListReminderLog returns the newest entries first. An empty issueID lists
// entries for every issue; limit <= 0 means no limit.
func (s *SQLiteStore) ListReminderLog(ctx context.Context, issueID string, limit int) ([]*models.ReminderLog, error) {
	query := `SELECT id, issue_id, kind, sent_on, recipient, success, error, created_at FROM reminder_log`
	var args []any
	if issueID != "" {
		query += " WHERE issue_id = ?"
		args = append(args, issueID)
	}
	query += " ORDER BY created_at DESC, id DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list reminder log: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []*models.ReminderLog
	for rows.Next() {
		e := &models.ReminderLog{}
		var kind, sentOn string
		if err := rows.Scan(&e.ID, &e.IssueID, &kind, &sentOn, &e.Recipient, &e.Success, &e.Error, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan reminder log: %w", err)
		}
		e.Trigger = models.ReminderTrigger(kind)
		if d, err := models.ParseDate(sentOn); err == nil {
			e.SentOn = d
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// --- helpers ---

// FormatIssueID renders a sequence number as PREFIX-0001.
func FormatIssueID(prefix string, n int) string {
	return fmt.Sprintf("%s-%04d", prefix, n)
}

// ParseIssueSeq extracts the sequence number from an ID with the given prefix.
func ParseIssueSeq(prefix, id string) (int, bool) {
	rest, ok := strings.CutPrefix(id, prefix+"-")
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIssue(row rowScanner) (*models.Issue, error) {
	issue := &models.Issue{}
	var priority, status, created string
	var resolution, last sql.NullString

	err := row.Scan(&issue.ID, &issue.Description, &issue.Team, &issue.TeamEmail,
		&priority, &status, &created, &resolution, &last,
		&issue.ReminderCount, &issue.UpdatedAt)
	if err != nil {
		return nil, err
	}

	issue.Priority = models.IssuePriority(priority)
	issue.Status = models.IssueStatus(status)
	if issue.CreatedDate, err = models.ParseDate(created); err != nil {
		return nil, fmt.Errorf("issue %s created_date: %w", issue.ID, err)
	}
	if issue.ResolutionDate, err = parseNullDate(resolution); err != nil {
		return nil, fmt.Errorf("issue %s resolution_date: %w", issue.ID, err)
	}
	if issue.LastReminder, err = parseNullDate(last); err != nil {
		return nil, fmt.Errorf("issue %s last_reminder: %w", issue.ID, err)
	}
	return issue, nil
}

func nullDate(d *models.Date) any {
	if d == nil || d.IsZero() {
		return nil
	}
	return d.String()
}

func parseNullDate(ns sql.NullString) (*models.Date, error) {
	if !ns.Valid || strings.TrimSpace(ns.String) == "" {
		return nil, nil
	}
	d, err := models.ParseDate(ns.String)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
