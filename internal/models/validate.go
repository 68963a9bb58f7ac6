package models

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ValidationError reports a rejected field on manual entry.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

// IssueInput is the raw form of a manual create or edit. All fields are
// strings as typed by the user; Validate checks them before anything is
// stored.
type IssueInput struct {
	Description    string `json:"description" validate:"required"`
	Team           string `json:"team" validate:"required"`
	TeamEmail      string `json:"team_email" validate:"required,email"`
	Priority       string `json:"priority" validate:"omitempty,oneof=high medium low High Medium Low"`
	Status         string `json:"status"`
	ResolutionDate string `json:"resolution_date" validate:"omitempty,datetime=2006-01-02"`
}

// Validate checks an edit. The resolution date may be empty.
func (in IssueInput) Validate() error {
	in = in.trimmed()
	if err := validate.Struct(in); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fieldError(verrs[0])
		}
		return err
	}
	if in.Status != "" {
		if _, err := ParseStatus(in.Status); err != nil {
			return &ValidationError{Field: "status", Message: err.Error()}
		}
	}
	return nil
}

// ValidateNew checks a new entry, where every field including the
// resolution date is required.
func (in IssueInput) ValidateNew() error {
	if strings.TrimSpace(in.ResolutionDate) == "" {
		if err := in.Validate(); err != nil {
			return err
		}
		return &ValidationError{Field: "resolution_date", Message: "is required"}
	}
	return in.Validate()
}

// NewIssue builds an Open issue from a validated input.
func (in IssueInput) NewIssue(today Date) (*Issue, error) {
	if err := in.ValidateNew(); err != nil {
		return nil, err
	}
	in = in.trimmed()
	issue := &Issue{
		Status:      IssueStatusOpen,
		Priority:    IssuePriorityMedium,
		CreatedDate: today,
	}
	if err := in.apply(issue); err != nil {
		return nil, err
	}
	issue.Status = IssueStatusOpen
	return issue, nil
}

// ApplyTo validates the input and overwrites the editable fields of issue.
// An empty resolution date clears the deadline. Reminder fields and the ID
// are never touched.
func (in IssueInput) ApplyTo(issue *Issue) error {
	if err := in.Validate(); err != nil {
		return err
	}
	return in.trimmed().apply(issue)
}

func (in IssueInput) apply(issue *Issue) error {
	issue.Description = in.Description
	issue.Team = in.Team
	issue.TeamEmail = in.TeamEmail
	if in.Priority != "" {
		p, err := ParsePriority(in.Priority)
		if err != nil {
			return &ValidationError{Field: "priority", Message: err.Error()}
		}
		issue.Priority = p
	}
	if in.Status != "" {
		s, err := ParseStatus(in.Status)
		if err != nil {
			return &ValidationError{Field: "status", Message: err.Error()}
		}
		issue.Status = s
	}
	issue.ResolutionDate = nil
	if in.ResolutionDate != "" {
		d, err := ParseDate(in.ResolutionDate)
		if err != nil {
			return &ValidationError{Field: "resolution_date", Message: err.Error()}
		}
		issue.ResolutionDate = &d
	}
	return nil
}

// InputFromIssue returns the editable fields of issue as an input, so a
// partial edit can start from the stored values.
func InputFromIssue(issue *Issue) IssueInput {
	return IssueInput{
		Description:    issue.Description,
		Team:           issue.Team,
		TeamEmail:      issue.TeamEmail,
		Priority:       string(issue.Priority),
		Status:         string(issue.Status),
		ResolutionDate: FormatDatePtr(issue.ResolutionDate, ""),
	}
}

func (in IssueInput) trimmed() IssueInput {
	in.Description = strings.TrimSpace(in.Description)
	in.Team = strings.TrimSpace(in.Team)
	in.TeamEmail = strings.TrimSpace(in.TeamEmail)
	in.Priority = strings.TrimSpace(in.Priority)
	in.Status = strings.TrimSpace(in.Status)
	in.ResolutionDate = strings.TrimSpace(in.ResolutionDate)
	return in
}

func fieldError(fe validator.FieldError) *ValidationError {
	switch fe.Tag() {
	case "required":
		return &ValidationError{Field: fe.Field(), Message: "is required"}
	case "email":
		return &ValidationError{Field: fe.Field(), Message: "invalid email address"}
	case "datetime":
		return &ValidationError{Field: fe.Field(), Message: "invalid date format, use YYYY-MM-DD"}
	case "oneof":
		return &ValidationError{Field: fe.Field(), Message: fmt.Sprintf("must be one of: %s", fe.Param())}
	default:
		return &ValidationError{Field: fe.Field(), Message: fmt.Sprintf("failed %s check", fe.Tag())}
	}
}
