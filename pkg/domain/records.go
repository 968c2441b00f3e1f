package domain

import "encoding/json"

// Record is one parsed input row (tabular) or feature property set (GeoJSON).
// Keys keeps the source column order; Values holds the raw string cells.
type Record struct {
	Index  int
	Keys   []string
	Values map[string]string
}

// NewRecord builds a record from parallel key/value slices.
func NewRecord(index int, keys, values []string) Record {
	r := Record{Index: index, Keys: make([]string, 0, len(keys)), Values: make(map[string]string, len(keys))}
	for i, k := range keys {
		v := ""
		if i < len(values) {
			v = values[i]
		}
		r.Set(k, v)
	}
	return r
}

// Set assigns key, appending it to the key order when new.
func (r *Record) Set(key, value string) {
	if r.Values == nil {
		r.Values = make(map[string]string)
	}
	if _, ok := r.Values[key]; !ok {
		r.Keys = append(r.Keys, key)
	}
	r.Values[key] = value
}

// Get returns the raw value of key and whether the key is present.
func (r Record) Get(key string) (string, bool) {
	v, ok := r.Values[key]
	return v, ok
}

// RowNumber is the 1-based user-facing row number (header excluded).
func (r Record) RowNumber() int { return r.Index + 1 }

// Table is a parsed delimited file.
type Table struct {
	Header []string
	Rows   []Record
}

// Feature pairs a property record with its raw GeoJSON geometry. The geometry
// stays opaque until a geometry service converts it.
type Feature struct {
	Record
	Geometry json.RawMessage
}

// HasGeometry reports whether the feature carries a non-null geometry.
func (f Feature) HasGeometry() bool {
	return len(f.Geometry) > 0 && string(f.Geometry) != "null"
}

// FeaturesFromRecords wraps geometry-less records, e.g. plots read from CSV.
func FeaturesFromRecords(records []Record) []Feature {
	out := make([]Feature, len(records))
	for i, r := range records {
		out[i] = Feature{Record: r}
	}
	return out
}
