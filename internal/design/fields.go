// Package design validates experiment design submissions (column
// descriptors, column levels and plot records) and assembles the ordered
// design document attached to an experiment.
package design

import (
	"fmt"
	"strconv"
	"strings"

	"fieldtrial/pkg/domain"
)

// Descriptor file columns.
const (
	FieldColumnType          = "column_type"
	FieldColumnID            = "column_id"
	FieldColumnName          = "column_name"
	FieldOntologyName        = "ontology_name"
	FieldLength              = "length"
	FieldOntologyDescription = "ontology_description"
	FieldOntologyURI         = "ontology_uri"
	FieldDataType            = "data_type"
)

// Level file columns.
const (
	FieldLevelID   = "level_id"
	FieldLevelName = "level_name"
	FieldQuantity  = "quantity"
	FieldUnits     = "units"
)

// Plot attribute fields.
const (
	FieldPlotNumber = "plot_number"
	FieldPlotID     = "plot_id"
	FieldPlotType   = "plot_type"
	FieldRow        = "row"
	FieldColumn     = "column"
	FieldParent     = "parent"
)

// DescriptorFields are the columns every descriptor row must fill, in header order.
var DescriptorFields = []string{
	FieldColumnType,
	FieldColumnID,
	FieldColumnName,
	FieldOntologyName,
	FieldLength,
	FieldOntologyDescription,
	FieldOntologyURI,
	FieldDataType,
}

// LevelFields are the columns every level row must fill.
var LevelFields = []string{FieldColumnID, FieldLevelID, FieldLevelName}

// PlotFields are the attribute fields every plot record must fill.
var PlotFields = []string{FieldPlotNumber, FieldPlotID, FieldPlotType, FieldRow, FieldColumn}

var numericPlotFields = map[string]bool{FieldPlotNumber: true, FieldRow: true, FieldColumn: true}

// IsPlotAttribute reports whether key is a fixed plot attribute rather than a
// factor column.
func IsPlotAttribute(key string) bool {
	if key == FieldParent {
		return true
	}
	for _, f := range PlotFields {
		if f == key {
			return true
		}
	}
	return false
}

// issueSink accumulates issues for one file.
type issueSink struct {
	file   domain.FileKind
	issues []domain.ValidationIssue
}

func (s *issueSink) add(row int, field, format string, args ...any) {
	s.issues = append(s.issues, domain.ValidationIssue{
		File:    s.file,
		Field:   field,
		Row:     row,
		Message: fmt.Sprintf(format, args...),
	})
}

// requireFields emits one issue per missing or empty field and returns the set
// of fields that were present.
func (s *issueSink) requireFields(rec domain.Record, fields []string) map[string]bool {
	present := make(map[string]bool, len(fields))
	for _, f := range fields {
		if v, ok := rec.Get(f); ok && strings.TrimSpace(v) != "" {
			present[f] = true
			continue
		}
		s.add(rec.RowNumber(), f, "missing required field %s", f)
	}
	return present
}

func value(rec domain.Record, key string) string {
	v, _ := rec.Get(key)
	return strings.TrimSpace(v)
}

// parseInt accepts integral values, including integral floats such as "2.0"
// written by spreadsheet exports.
func parseInt(s string) (int, bool) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		return n, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != float64(int(f)) {
		return 0, false
	}
	return int(f), true
}
