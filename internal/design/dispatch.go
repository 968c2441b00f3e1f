package design

import (
	"bytes"
	"errors"
	"fmt"

	"fieldtrial/internal/geofeature"
	"fieldtrial/internal/tabular"
	"fieldtrial/pkg/domain"
)

// PlotFormat identifies the encoding of a plot file.
type PlotFormat string

const (
	PlotFormatAuto    PlotFormat = ""
	PlotFormatGeoJSON PlotFormat = "geojson"
	PlotFormatCSV     PlotFormat = "csv"
)

// DetectPlotFormat sniffs a plot file: a leading JSON object is GeoJSON,
// anything else is treated as CSV.
func DetectPlotFormat(data []byte) PlotFormat {
	trimmed := bytes.TrimLeft(bytes.TrimPrefix(data, []byte("\ufeff")), " \t\r\n")
	if len(trimmed) > 0 && trimmed[0] == '{' {
		return PlotFormatGeoJSON
	}
	return PlotFormatCSV
}

// fileValidator validates one file of a submission against the state built
// from the files before it, recording its results and issues on state.
type fileValidator func(p Pipeline, data []byte, format PlotFormat, state *Outcome)

// validators is the static dispatch table from file kind to validator, in
// pipeline order.
var validators = map[domain.FileKind]fileValidator{
	domain.FileColumnDescriptors: validateDescriptorFile,
	domain.FileColumnLevels:      validateLevelFile,
	domain.FilePlots:             validatePlotFile,
}

var fileOrder = []domain.FileKind{domain.FileColumnDescriptors, domain.FileColumnLevels, domain.FilePlots}

// ErrUnknownFileKind is returned by ValidateFile for kinds with no validator.
var ErrUnknownFileKind = errors.New("unknown file kind")

func validateDescriptorFile(_ Pipeline, data []byte, _ PlotFormat, state *Outcome) {
	table, ok := parseTable(domain.FileColumnDescriptors, data, state)
	if !ok {
		state.Descriptors = nil
		return
	}
	descriptors, issues := ValidateDescriptors(table)
	state.Descriptors = descriptors
	state.Issues = append(state.Issues, issues...)
}

func validateLevelFile(_ Pipeline, data []byte, _ PlotFormat, state *Outcome) {
	table, ok := parseTable(domain.FileColumnLevels, data, state)
	if !ok {
		state.Levels = nil
		return
	}
	levels, issues := ValidateLevels(table, state.Descriptors)
	state.Levels = levels
	state.Issues = append(state.Issues, issues...)
}

func validatePlotFile(p Pipeline, data []byte, format PlotFormat, state *Outcome) {
	state.Plots = nil
	state.Reference = domain.Record{}
	if format == PlotFormatAuto {
		format = DetectPlotFormat(data)
	}

	var features []domain.Feature
	switch format {
	case PlotFormatGeoJSON:
		parsed, issues, err := geofeature.Parse(data)
		if err != nil {
			state.Issues = append(state.Issues, structuralIssue(domain.FilePlots, err))
			return
		}
		state.Issues = append(state.Issues, issues...)
		features = parsed
	case PlotFormatCSV:
		table, ok := parseTable(domain.FilePlots, data, state)
		if !ok {
			return
		}
		features = domain.FeaturesFromRecords(table.Rows)
	default:
		state.Issues = append(state.Issues, domain.ValidationIssue{
			File:    domain.FilePlots,
			Message: fmt.Sprintf("unsupported plot format '%s'", format),
		})
		return
	}

	if len(features) > 0 {
		state.Reference = features[0].Record
	}
	plots, issues := ValidatePlots(features, state.Descriptors, state.Levels, p.PlotTypes)
	state.Plots = plots
	state.Issues = append(state.Issues, issues...)
}

func parseTable(kind domain.FileKind, data []byte, state *Outcome) (domain.Table, bool) {
	table, err := tabular.Parse(bytes.NewReader(data))
	if err != nil {
		state.Issues = append(state.Issues, structuralIssue(kind, err))
		return domain.Table{}, false
	}
	return table, true
}

// structuralIssue turns a parse failure into the single issue reported for the file.
func structuralIssue(kind domain.FileKind, err error) domain.ValidationIssue {
	var malformed *domain.MalformedInputError
	if errors.As(err, &malformed) {
		issue := malformed.Issue()
		issue.File = kind
		return issue
	}
	return domain.ValidationIssue{File: kind, Message: err.Error()}
}
