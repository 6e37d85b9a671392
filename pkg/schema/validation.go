package schema

import (
	"fmt"
	"strings"
)

// ValidationSeverity indicates whether an issue blocks a record.
type ValidationSeverity string

const (
	SeverityError   ValidationSeverity = "error"
	SeverityWarning ValidationSeverity = "warning"
)

// ValidationIssue is one problem found in a routine record. Path points
// into the record, e.g. "actions[2].params.key".
type ValidationIssue struct {
	Path     string             `json:"path"`
	Code     string             `json:"code"`
	Message  string             `json:"message"`
	Severity ValidationSeverity `json:"severity"`
}

func (i ValidationIssue) String() string {
	if i.Path == "" {
		return fmt.Sprintf("%s: %s", i.Severity, i.Message)
	}
	return fmt.Sprintf("%s: %s: %s", i.Severity, i.Path, i.Message)
}

// ValidationResult is the report for one routine record. Issues keep the
// order they were found in.
type ValidationResult struct {
	Record string            `json:"record,omitempty"`
	Issues []ValidationIssue `json:"issues,omitempty"`
}

// Valid reports whether no issue is an error. Warnings never block.
func (r *ValidationResult) Valid() bool {
	for _, i := range r.Issues {
		if i.Severity == SeverityError {
			return false
		}
	}
	return true
}

// AddError records a blocking issue.
func (r *ValidationResult) AddError(path, code, message string) {
	r.add(path, code, message, SeverityError)
}

// AddWarning records a non-blocking issue.
func (r *ValidationResult) AddWarning(path, code, message string) {
	r.add(path, code, message, SeverityWarning)
}

func (r *ValidationResult) add(path, code, message string, sev ValidationSeverity) {
	r.Issues = append(r.Issues, ValidationIssue{Path: path, Code: code, Message: message, Severity: sev})
}

// Merge appends other's issues after r's.
func (r *ValidationResult) Merge(other *ValidationResult) {
	if other == nil {
		return
	}
	r.Issues = append(r.Issues, other.Issues...)
}

// Errors returns the blocking issues.
func (r *ValidationResult) Errors() []ValidationIssue { return r.filter(SeverityError) }

// Warnings returns the non-blocking issues.
func (r *ValidationResult) Warnings() []ValidationIssue { return r.filter(SeverityWarning) }

func (r *ValidationResult) filter(sev ValidationSeverity) []ValidationIssue {
	var out []ValidationIssue
	for _, i := range r.Issues {
		if i.Severity == sev {
			out = append(out, i)
		}
	}
	return out
}

// String lists one issue per line.
func (r *ValidationResult) String() string {
	lines := make([]string, len(r.Issues))
	for n, i := range r.Issues {
		lines[n] = i.String()
	}
	return strings.Join(lines, "\n")
}

// ToError returns nil for a valid result, otherwise a VALIDATION_ERROR
// naming the first error and carrying every issue in its details.
func (r *ValidationResult) ToError() error {
	errs := r.Errors()
	if len(errs) == 0 {
		return nil
	}

	subject := "routine record"
	if r.Record != "" {
		subject = fmt.Sprintf("routine record %q", r.Record)
	}
	first := errs[0].Message
	if errs[0].Path != "" {
		first = errs[0].Path + ": " + first
	}
	msg := fmt.Sprintf("%s is invalid: %s", subject, first)
	if len(errs) > 1 {
		msg = fmt.Sprintf("%s (and %d more)", msg, len(errs)-1)
	}

	details := map[string]any{
		"error_count":   len(errs),
		"warning_count": len(r.Issues) - len(errs),
		"issues":        r.Issues,
	}
	if r.Record != "" {
		details["record"] = r.Record
	}
	return NewError(ErrCodeValidation, msg).WithDetails(details)
}
