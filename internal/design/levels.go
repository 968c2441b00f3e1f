package design

import (
	"fieldtrial/internal/tabular"
	"fieldtrial/pkg/domain"
)

// ValidateLevels checks level rows against the validated descriptors in two
// passes: per-row structure and references first, then the per-column level
// count against each descriptor's declared length. Both passes always run.
func ValidateLevels(table domain.Table, descriptors []domain.ColumnDescriptor) ([]domain.ColumnLevel, []domain.ValidationIssue) {
	sink := &issueSink{file: domain.FileColumnLevels}
	if err := tabular.RequireHeader(table, LevelFields...); err != nil {
		sink.add(0, "", "%s", reason(err))
		return nil, sink.issues
	}

	ids := make(map[string]struct{}, len(descriptors))
	names := make(map[string]struct{}, len(descriptors))
	for _, d := range descriptors {
		ids[d.ColumnID] = struct{}{}
		if d.ColumnName != "" {
			names[d.ColumnName] = struct{}{}
		}
	}

	var (
		levels = make([]domain.ColumnLevel, 0, len(table.Rows))
		counts = make(map[string]int, len(descriptors))
		seen   = make(map[string]map[int]int, len(descriptors))
	)
	for _, rec := range table.Rows {
		row := rec.RowNumber()
		present := sink.requireFields(rec, LevelFields)

		columnID := value(rec, FieldColumnID)
		known := false
		if present[FieldColumnID] {
			if _, ok := ids[columnID]; ok {
				known = true
				counts[columnID]++
			} else {
				sink.add(row, FieldColumnID, "invalid column_id '%s'", columnID)
			}
		}
		if name := value(rec, FieldColumnName); name != "" {
			if _, ok := names[name]; !ok {
				sink.add(row, FieldColumnName, "invalid column_name '%s'", name)
			}
		}

		if !present[FieldLevelID] {
			continue
		}
		levelID, ok := parseInt(value(rec, FieldLevelID))
		if !ok {
			sink.add(row, FieldLevelID, "level_id must be an integer, got '%s'", value(rec, FieldLevelID))
			continue
		}
		if levelID < 1 {
			sink.add(row, FieldLevelID, "level_id must be 1 or greater, got %d", levelID)
			continue
		}
		if !known {
			continue
		}
		if seen[columnID] == nil {
			seen[columnID] = make(map[int]int)
		}
		if first, dup := seen[columnID][levelID]; dup {
			sink.add(row, FieldLevelID, "duplicate level_id %d for column_id '%s' (first declared on row %d)", levelID, columnID, first)
			continue
		}
		seen[columnID][levelID] = row
		levels = append(levels, domain.ColumnLevel{
			ColumnID:  columnID,
			LevelID:   levelID,
			LevelName: value(rec, FieldLevelName),
			Quantity:  value(rec, FieldQuantity),
			Units:     value(rec, FieldUnits),
		})
	}

	for _, d := range descriptors {
		if d.Length < 0 {
			continue
		}
		if got := counts[d.ColumnID]; got != d.Length {
			sink.add(0, FieldLength, "level count mismatch for column_id '%s': got %d, expected %d", d.ColumnID, got, d.Length)
		}
	}
	return levels, sink.issues
}

// LevelIndex maps each column id to the set of its level ids.
type LevelIndex map[string]map[int]struct{}

// NewLevelIndex builds the factor-level lookup used by plot validation.
func NewLevelIndex(levels []domain.ColumnLevel) LevelIndex {
	idx := make(LevelIndex)
	for _, l := range levels {
		if idx[l.ColumnID] == nil {
			idx[l.ColumnID] = make(map[int]struct{})
		}
		idx[l.ColumnID][l.LevelID] = struct{}{}
	}
	return idx
}

// Has reports whether levelID is declared for columnID.
func (idx LevelIndex) Has(columnID string, levelID int) bool {
	_, ok := idx[columnID][levelID]
	return ok
}
