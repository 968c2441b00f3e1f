package design

import (
	"sort"

	"fieldtrial/pkg/domain"
)

// Assemble attaches levels to their descriptors in file order and orders the
// descriptors by the position of their column_id among the reference row's
// keys. Descriptors absent from the reference row keep their relative order
// and sort after every present one. Inputs are not modified.
func Assemble(descriptors []domain.ColumnDescriptor, levels []domain.ColumnLevel, reference domain.Record) domain.DesignDocument {
	columns := make([]domain.ColumnDescriptor, len(descriptors))
	byID := make(map[string]int, len(descriptors))
	for i, d := range descriptors {
		d.FactorLevels = nil
		columns[i] = d
		byID[d.ColumnID] = i
	}
	for _, l := range levels {
		i, ok := byID[l.ColumnID]
		if !ok {
			continue
		}
		columns[i].FactorLevels = append(columns[i].FactorLevels, l)
	}

	position := make(map[string]int, len(reference.Keys))
	for i, key := range reference.Keys {
		if _, seen := position[key]; !seen {
			position[key] = i
		}
	}
	rank := func(id string) int {
		if p, ok := position[id]; ok {
			return p
		}
		return len(reference.Keys)
	}
	sort.SliceStable(columns, func(i, j int) bool {
		return rank(columns[i].ColumnID) < rank(columns[j].ColumnID)
	})
	return domain.DesignDocument{Columns: columns}
}
