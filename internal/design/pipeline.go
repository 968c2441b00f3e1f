package design

import (
	"fmt"

	"fieldtrial/pkg/domain"
)

// DefaultPlotTypes is the plot-type vocabulary used when none is configured.
var DefaultPlotTypes = []string{"undefined", "treated", "control", "discard", "guard"}

// Submission is one design upload: the three raw files.
type Submission struct {
	Descriptors []byte
	Levels      []byte
	Plots       []byte
	PlotFormat  PlotFormat
}

// File returns the raw bytes submitted for kind.
func (s Submission) File(kind domain.FileKind) []byte {
	switch kind {
	case domain.FileColumnDescriptors:
		return s.Descriptors
	case domain.FileColumnLevels:
		return s.Levels
	case domain.FilePlots:
		return s.Plots
	default:
		return nil
	}
}

// Outcome is the result of validating a submission. Design is set only when
// descriptors and levels validated cleanly and at least one plot was read.
type Outcome struct {
	Descriptors []domain.ColumnDescriptor
	Levels      []domain.ColumnLevel
	Plots       []PlotRecord
	Reference   domain.Record
	Design      *domain.DesignDocument
	Issues      []domain.ValidationIssue
}

// OK reports whether the submission produced no issues.
func (o Outcome) OK() bool { return len(o.Issues) == 0 }

// Err returns a ValidationError when the outcome carries issues.
func (o Outcome) Err() error {
	if o.OK() {
		return nil
	}
	return domain.ValidationError{Issues: append([]domain.ValidationIssue(nil), o.Issues...)}
}

// IssuesFor returns the issues reported against one file.
func (o Outcome) IssuesFor(kind domain.FileKind) []domain.ValidationIssue {
	var out []domain.ValidationIssue
	for _, issue := range o.Issues {
		if issue.File == kind {
			out = append(out, issue)
		}
	}
	return out
}

// Pipeline validates design submissions. The zero value accepts no plot
// types; use NewPipeline for the default vocabulary.
type Pipeline struct {
	PlotTypes PlotTypeSet
}

// NewPipeline constructs a pipeline accepting the given plot types, falling
// back to DefaultPlotTypes when none are supplied.
func NewPipeline(plotTypes ...string) Pipeline {
	if len(plotTypes) == 0 {
		plotTypes = DefaultPlotTypes
	}
	return Pipeline{PlotTypes: NewPlotTypeSet(plotTypes...)}
}

// Run parses and validates every file of the submission, accumulating all
// issues, then assembles the design document when the descriptor and level
// files are clean.
func (p Pipeline) Run(sub Submission) Outcome {
	var out Outcome
	for _, kind := range fileOrder {
		validators[kind](p, sub.File(kind), sub.PlotFormat, &out)
	}
	p.assemble(&out)
	return out
}

// ValidateFile re-checks a single file against the context of a previous
// outcome, replacing that file's results and issues. Later files are not
// re-validated.
func (p Pipeline) ValidateFile(kind domain.FileKind, data []byte, format PlotFormat, prior Outcome) (Outcome, error) {
	validate, ok := validators[kind]
	if !ok {
		return prior, fmt.Errorf("%w: %s", ErrUnknownFileKind, kind)
	}
	out := prior
	out.Issues = make([]domain.ValidationIssue, 0, len(prior.Issues))
	for _, issue := range prior.Issues {
		if issue.File != kind {
			out.Issues = append(out.Issues, issue)
		}
	}
	validate(p, data, format, &out)
	p.assemble(&out)
	return out, nil
}

func (p Pipeline) assemble(out *Outcome) {
	out.Design = nil
	if len(out.IssuesFor(domain.FileColumnDescriptors)) > 0 || len(out.IssuesFor(domain.FileColumnLevels)) > 0 {
		return
	}
	if len(out.Reference.Keys) == 0 && len(out.Plots) == 0 {
		return
	}
	doc := Assemble(out.Descriptors, out.Levels, out.Reference)
	out.Design = &doc
}
