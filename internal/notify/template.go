// Package notify formats reminder messages and hands them to a delivery
// mechanism.
package notify

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joescharf/audit/internal/models"
)

// DefaultTemplate is written on first use and restored by Reset.
const DefaultTemplate = `Audit Issue Resolution Required

Issue ID: {{ISSUE_ID}}
Description: {{DESCRIPTION}}
Priority: {{PRIORITY}}
Status: {{STATUS}}
Resolution Due Date: {{RESOLUTION_DATE}}
Days Remaining: {{DAYS_REMAINING}}
Team: {{TEAM}}
Created Date: {{CREATED_DATE}}
Reminder Count: {{REMINDER_COUNT}}

Please review and resolve this audit issue by the specified resolution date.
If you have any questions, please contact the audit team.

This is reminder #{{REMINDER_COUNT}} of this issue.

This is an automated reminder from the Audit Management System.
Generated on: {{CURRENT_DATE}}
`

// Placeholders lists every name substituted by Render, in display order.
var Placeholders = []string{
	"ISSUE_ID", "DESCRIPTION", "PRIORITY", "STATUS", "RESOLUTION_DATE",
	"DAYS_REMAINING", "TEAM", "CREATED_DATE", "REMINDER_COUNT", "CURRENT_DATE",
}

const subjectDescLimit = 50

// Message is one outgoing notification.
type Message struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Fields returns the placeholder values for issue as of today. The
// reminder count is the number this message will carry, one past the
// stored count.
func Fields(issue *models.Issue, today models.Date) map[string]string {
	days := "N/A"
	if issue.ResolutionDate != nil && !issue.ResolutionDate.IsZero() {
		days = strconv.Itoa(today.DaysUntil(*issue.ResolutionDate))
	}
	return map[string]string{
		"ISSUE_ID":        issue.ID,
		"DESCRIPTION":     issue.Description,
		"PRIORITY":        string(issue.Priority),
		"STATUS":          string(issue.Status),
		"RESOLUTION_DATE": models.FormatDatePtr(issue.ResolutionDate, "N/A"),
		"DAYS_REMAINING":  days,
		"TEAM":            issue.Team,
		"CREATED_DATE":    issue.CreatedDate.String(),
		"REMINDER_COUNT":  strconv.Itoa(issue.ReminderCount + 1),
		"CURRENT_DATE":    today.String(),
	}
}

// Render substitutes {{NAME}} placeholders verbatim. Unknown placeholders
// are left as they are.
func Render(tmpl string, fields map[string]string) string {
	pairs := make([]string, 0, len(fields)*2)
	for _, name := range Placeholders {
		if v, ok := fields[name]; ok {
			pairs = append(pairs, "{{"+name+"}}", v)
		}
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}

// Subject returns the reminder subject line for issue.
func Subject(issue *models.Issue) string {
	desc := issue.Description
	if r := []rune(desc); len(r) > subjectDescLimit {
		desc = string(r[:subjectDescLimit])
	}
	return fmt.Sprintf("Audit Issue Reminder: %s - %s", issue.ID, desc)
}

// TestMessage is the message sent by the "test email" action.
func TestMessage(to string) Message {
	return Message{
		To:      to,
		Subject: "Test Email - Audit Management System",
		Body:    "This is a test email to verify your email configuration is working properly.",
	}
}

// TemplateSource supplies the current template text.
type TemplateSource interface {
	Template() (string, error)
}

// StaticTemplate is a fixed template, mostly for tests.
type StaticTemplate string

// Template implements TemplateSource.
func (s StaticTemplate) Template() (string, error) { return string(s), nil }

// TemplateFile keeps the template in a text file the user can edit.
type TemplateFile struct {
	Path string
}

// Template reads the file, writing DefaultTemplate first if it is missing.
func (f TemplateFile) Template() (string, error) {
	data, err := os.ReadFile(f.Path)
	if errors.Is(err, fs.ErrNotExist) {
		if err := f.Save(DefaultTemplate); err != nil {
			return "", err
		}
		return DefaultTemplate, nil
	}
	if err != nil {
		return "", fmt.Errorf("read template: %w", err)
	}
	return string(data), nil
}

// Save overwrites the template file.
func (f TemplateFile) Save(text string) error {
	if err := os.MkdirAll(filepath.Dir(f.Path), 0755); err != nil {
		return fmt.Errorf("create template directory: %w", err)
	}
	if err := os.WriteFile(f.Path, []byte(text), 0644); err != nil {
		return fmt.Errorf("write template: %w", err)
	}
	return nil
}

// Reset restores DefaultTemplate.
func (f TemplateFile) Reset() error {
	return f.Save(DefaultTemplate)
}

// Formatter renders reminder messages from the current template.
type Formatter struct {
	templates TemplateSource
}

// NewFormatter returns a Formatter that reads src on every Format call.
func NewFormatter(src TemplateSource) *Formatter {
	return &Formatter{templates: src}
}

// Format builds the reminder for issue as of today.
func (f *Formatter) Format(issue *models.Issue, today models.Date) (Message, error) {
	tmpl, err := f.templates.Template()
	if err != nil {
		return Message{}, err
	}
	return Message{
		To:      issue.TeamEmail,
		Subject: Subject(issue),
		Body:    Render(tmpl, Fields(issue, today)),
	}, nil
}
