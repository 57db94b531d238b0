package workflow

import "fmt"

// ValidationError indicates missing or invalid input fields.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// UnauthorizedError indicates the acting user lacks the identity or rank the
// operation requires. The report is left untouched.
type UnauthorizedError struct {
	UserID string
	Action string
}

func (e UnauthorizedError) Error() string {
	return fmt.Sprintf("user %s is not authorized to %s", e.UserID, e.Action)
}

// InvalidStateError indicates an operation attempted from a status that
// forbids it, e.g. editing an approved report.
type InvalidStateError struct {
	Status string
	Action string
}

func (e InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s while report is %s", e.Action, e.Status)
}

// InvalidWorkflowError indicates structural misconfiguration, e.g. submitting
// a report with no approvers.
type InvalidWorkflowError struct {
	Reason string
}

func (e InvalidWorkflowError) Error() string {
	return "invalid workflow: " + e.Reason
}

// StaleStateError indicates a write computed against state the collection has
// since advanced past, such as a second approval by the same approver.
type StaleStateError struct {
	UserID string
	Reason string
}

func (e StaleStateError) Error() string {
	return fmt.Sprintf("stale state for user %s: %s", e.UserID, e.Reason)
}
