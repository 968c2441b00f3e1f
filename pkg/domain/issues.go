package domain

import (
	"errors"
	"fmt"
	"strings"
)

// FileKind names one of the three files that make up a design submission.
type FileKind string

const (
	FileColumnDescriptors FileKind = "column_descriptors"
	FileColumnLevels      FileKind = "column_levels"
	FilePlots             FileKind = "plots"
)

// ValidationIssue is one reportable problem in a submission. Row is the
// 1-based data row (header excluded); zero marks a file-level issue.
type ValidationIssue struct {
	File    FileKind `json:"file,omitempty"`
	Field   string   `json:"field,omitempty"`
	Row     int      `json:"row_number,omitempty"`
	Message string   `json:"message"`
}

func (i ValidationIssue) String() string {
	var b strings.Builder
	if i.File != "" {
		b.WriteString(string(i.File))
		b.WriteString(": ")
	}
	if i.Row > 0 {
		fmt.Fprintf(&b, "row %d: ", i.Row)
	}
	if i.Field != "" {
		b.WriteString(i.Field)
		b.WriteString(": ")
	}
	b.WriteString(i.Message)
	return b.String()
}

// ValidationError carries the complete issue list of a rejected submission.
type ValidationError struct {
	Issues []ValidationIssue
}

func (e ValidationError) Error() string {
	switch len(e.Issues) {
	case 0:
		return "validation failed"
	case 1:
		return "validation failed: " + e.Issues[0].String()
	default:
		return fmt.Sprintf("validation failed: %s (and %d more)", e.Issues[0].String(), len(e.Issues)-1)
	}
}

// MalformedInputError reports a file that could not be read as structured data.
type MalformedInputError struct {
	File   FileKind
	Row    int
	Reason string
}

func (e *MalformedInputError) Error() string {
	if e.Row > 0 {
		return fmt.Sprintf("malformed %s: row %d: %s", e.fileLabel(), e.Row, e.Reason)
	}
	return fmt.Sprintf("malformed %s: %s", e.fileLabel(), e.Reason)
}

func (e *MalformedInputError) fileLabel() string {
	if e.File == "" {
		return "input"
	}
	return string(e.File)
}

// Issue converts the error into the single issue reported for the file.
func (e *MalformedInputError) Issue() ValidationIssue {
	return ValidationIssue{File: e.File, Row: e.Row, Message: e.Reason}
}

// GeometryConversionError reports a plot whose geometry could not be converted.
type GeometryConversionError struct {
	PlotID string
	Row    int
	Err    error
}

func (e *GeometryConversionError) Error() string {
	return fmt.Sprintf("plot %s: geometry conversion failed: %v", e.PlotID, e.Err)
}

func (e *GeometryConversionError) Unwrap() error { return e.Err }

var (
	// ErrPlotsAlreadyAttached is returned when plots would be added to an experiment that already has some.
	ErrPlotsAlreadyAttached = errors.New("experiment already has plots")
	// ErrJobInFlight is returned when a provisioning chunk is already running for an experiment.
	ErrJobInFlight = errors.New("plot provisioning already in progress for experiment")
)

// ErrNotFound is returned when reference validation fails within transactional helpers.
type ErrNotFound struct {
	Entity EntityType
	ID     string
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}
