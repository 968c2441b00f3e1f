package design

import (
	"errors"

	"fieldtrial/internal/tabular"
	"fieldtrial/pkg/domain"
)

// ValidateDescriptors checks every descriptor row and returns the rows that
// parsed together with all issues found. A header lacking a required column
// is a structural failure reported as a single file-level issue.
func ValidateDescriptors(table domain.Table) ([]domain.ColumnDescriptor, []domain.ValidationIssue) {
	sink := &issueSink{file: domain.FileColumnDescriptors}
	if err := tabular.RequireHeader(table, DescriptorFields...); err != nil {
		sink.add(0, "", "%s", reason(err))
		return nil, sink.issues
	}

	descriptors := make([]domain.ColumnDescriptor, 0, len(table.Rows))
	firstRow := make(map[string]int, len(table.Rows))
	for _, rec := range table.Rows {
		row := rec.RowNumber()
		present := sink.requireFields(rec, DescriptorFields)

		d := domain.ColumnDescriptor{
			ColumnID:            value(rec, FieldColumnID),
			ColumnName:          value(rec, FieldColumnName),
			ColumnType:          domain.ColumnType(value(rec, FieldColumnType)),
			OntologyName:        value(rec, FieldOntologyName),
			OntologyDescription: value(rec, FieldOntologyDescription),
			OntologyURI:         value(rec, FieldOntologyURI),
			DataType:            value(rec, FieldDataType),
			Length:              -1,
		}

		if present[FieldColumnType] && !d.ColumnType.Valid() {
			sink.add(row, FieldColumnType, "invalid column_type '%s'", d.ColumnType)
		}
		if present[FieldLength] {
			n, ok := parseInt(value(rec, FieldLength))
			if !ok || n < 0 {
				sink.add(row, FieldLength, "length must be a non-negative integer, got '%s'", value(rec, FieldLength))
			} else {
				d.Length = n
			}
		}
		if present[FieldColumnID] {
			if first, dup := firstRow[d.ColumnID]; dup {
				sink.add(row, FieldColumnID, "duplicate column_id '%s' (first declared on row %d)", d.ColumnID, first)
				continue
			}
			firstRow[d.ColumnID] = row
			descriptors = append(descriptors, d)
		}
	}
	return descriptors, sink.issues
}

// reason extracts the user-facing part of a structural error.
func reason(err error) string {
	var malformed *domain.MalformedInputError
	if errors.As(err, &malformed) {
		return malformed.Reason
	}
	return err.Error()
}
