package models

import "time"

// ReminderTrigger names the code path that attempted a reminder.
type ReminderTrigger string

const (
	TriggerScheduled ReminderTrigger = "scheduled"
	TriggerManual    ReminderTrigger = "manual"
	TriggerOverdue   ReminderTrigger = "overdue"
	TriggerDueSoon   ReminderTrigger = "due_soon"
	TriggerTest      ReminderTrigger = "test"
)

// ReminderLog records one send attempt, successful or not.
type ReminderLog struct {
	ID        string          `json:"id"`
	IssueID   string          `json:"issue_id"`
	Trigger   ReminderTrigger `json:"trigger"`
	SentOn    Date            `json:"sent_on"`
	Recipient string          `json:"recipient"`
	Success   bool            `json:"success"`
	Error     string          `json:"error,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}
