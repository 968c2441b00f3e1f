package design

import (
	"encoding/json"
	"sort"
	"strings"

	"fieldtrial/pkg/domain"
)

// MissingPlotOneMessage is the file-level issue raised when no plot is numbered 1.
const MissingPlotOneMessage = "missing plot_number 1; numbering must start at 1"

// PlotTypeSet is the vocabulary of accepted plot types.
type PlotTypeSet map[string]struct{}

// NewPlotTypeSet builds a vocabulary from a list of names.
func NewPlotTypeSet(types ...string) PlotTypeSet {
	set := make(PlotTypeSet, len(types))
	for _, t := range types {
		if t = strings.TrimSpace(t); t != "" {
			set[t] = struct{}{}
		}
	}
	return set
}

// Contains reports whether t is an accepted plot type.
func (s PlotTypeSet) Contains(t string) bool {
	_, ok := s[t]
	return ok
}

// Sorted returns the vocabulary in lexical order.
func (s PlotTypeSet) Sorted() []string {
	out := make([]string, 0, len(s))
	for t := range s {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// PlotRecord is a validated plot row ready for materialization.
type PlotRecord struct {
	Row            int
	PlotNumber     int
	PlotID         string
	PlotType       string
	GridRow        int
	GridColumn     int
	ParentLocation string
	Factors        []domain.FactorPair
	Geometry       json.RawMessage
}

// ValidatePlots checks every plot against the descriptor and level sets. All
// rows are checked regardless of earlier failures; the "numbering starts at 1"
// invariant is reported once for the whole file.
func ValidatePlots(features []domain.Feature, descriptors []domain.ColumnDescriptor, levels []domain.ColumnLevel, plotTypes PlotTypeSet) ([]PlotRecord, []domain.ValidationIssue) {
	sink := &issueSink{file: domain.FilePlots}

	columns := make(map[string]struct{}, len(descriptors))
	for _, d := range descriptors {
		columns[d.ColumnID] = struct{}{}
	}
	index := NewLevelIndex(levels)

	var (
		records     = make([]PlotRecord, 0, len(features))
		hasPlotOne  bool
		numbersSeen = make(map[int]int, len(features))
		idsSeen     = make(map[string]int, len(features))
	)
	for _, f := range features {
		row := f.RowNumber()
		rowOK := true
		present := sink.requireFields(f.Record, PlotFields)
		if len(present) != len(PlotFields) {
			rowOK = false
		}

		rec := PlotRecord{
			Row:            row,
			PlotID:         value(f.Record, FieldPlotID),
			PlotType:       value(f.Record, FieldPlotType),
			ParentLocation: value(f.Record, FieldParent),
		}
		if f.HasGeometry() {
			rec.Geometry = f.Geometry
		}
		ints := map[string]*int{FieldPlotNumber: &rec.PlotNumber, FieldRow: &rec.GridRow, FieldColumn: &rec.GridColumn}
		parsed := make(map[string]bool, len(ints))
		for _, field := range PlotFields {
			if !numericPlotFields[field] || !present[field] {
				continue
			}
			n, ok := parseInt(value(f.Record, field))
			if !ok {
				sink.add(row, field, "%s must be an integer, got '%s'", field, value(f.Record, field))
				rowOK = false
				continue
			}
			*ints[field] = n
			parsed[field] = true
		}

		if present[FieldPlotType] && !plotTypes.Contains(rec.PlotType) {
			sink.add(row, FieldPlotType, "invalid plot_type '%s'", rec.PlotType)
			rowOK = false
		}
		if parsed[FieldPlotNumber] {
			switch {
			case rec.PlotNumber == 1:
				hasPlotOne = true
			case rec.PlotNumber < 1:
				sink.add(row, FieldPlotNumber, "plot_number must be 1 or greater, got %d", rec.PlotNumber)
				rowOK = false
			}
			if first, dup := numbersSeen[rec.PlotNumber]; dup {
				sink.add(row, FieldPlotNumber, "duplicate plot_number %d (first used on row %d)", rec.PlotNumber, first)
				rowOK = false
			} else {
				numbersSeen[rec.PlotNumber] = row
			}
		}
		if present[FieldPlotID] {
			if first, dup := idsSeen[rec.PlotID]; dup {
				sink.add(row, FieldPlotID, "duplicate plot_id '%s' (first used on row %d)", rec.PlotID, first)
				rowOK = false
			} else {
				idsSeen[rec.PlotID] = row
			}
		}

		for _, key := range f.Keys {
			if IsPlotAttribute(key) {
				continue
			}
			if _, ok := columns[key]; !ok {
				sink.add(row, key, "invalid column_id '%s'", key)
				rowOK = false
				continue
			}
			raw := value(f.Record, key)
			if raw == domain.NotApplicable {
				continue
			}
			levelID, ok := parseInt(raw)
			if !ok || !index.Has(key, levelID) {
				sink.add(row, key, "invalid level_id for column_id '%s': %s", key, raw)
				rowOK = false
				continue
			}
			rec.Factors = append(rec.Factors, domain.FactorPair{Key: key, Value: raw})
		}

		if rowOK {
			records = append(records, rec)
		}
	}

	if !hasPlotOne {
		sink.add(0, FieldPlotNumber, MissingPlotOneMessage)
	}
	return records, sink.issues
}
