// Package geofeature reads GeoJSON plot uploads into ordered property records
// paired with their raw geometry.
package geofeature

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/paulmach/orb/geojson"

	"fieldtrial/pkg/domain"
)

const featureCollection = "FeatureCollection"

// rawCollection keeps features undecoded so one bad feature cannot fail the
// whole collection.
type rawCollection struct {
	Type     string            `json:"type"`
	Features []json.RawMessage `json:"features"`
}

// rawFeature carries the members orb decodes into maps: the properties object
// in file order and the geometry bytes handed to the geometry service.
type rawFeature struct {
	Properties json.RawMessage `json:"properties"`
	Geometry   json.RawMessage `json:"geometry"`
}

// Parse decodes a FeatureCollection. Structural problems with the document
// itself abort with a MalformedInputError. Each feature is checked with orb's
// GeoJSON decoder; one that cannot be read, including a geometry member that
// is not valid GeoJSON, is reported as an issue on its row and skipped.
func Parse(data []byte) ([]domain.Feature, []domain.ValidationIssue, error) {
	var fc rawCollection
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, nil, &domain.MalformedInputError{File: domain.FilePlots, Reason: fmt.Sprintf("invalid GeoJSON: %v", err)}
	}
	if fc.Type != featureCollection {
		return nil, nil, &domain.MalformedInputError{
			File:   domain.FilePlots,
			Reason: fmt.Sprintf("expected a FeatureCollection, got type %q", fc.Type),
		}
	}

	var (
		features = make([]domain.Feature, 0, len(fc.Features))
		issues   []domain.ValidationIssue
	)
	for i, raw := range fc.Features {
		row := i + 1
		feat, err := geojson.UnmarshalFeature(raw)
		if err != nil {
			issues = append(issues, domain.ValidationIssue{File: domain.FilePlots, Row: row, Message: fmt.Sprintf("invalid feature: %v", err)})
			continue
		}
		var f rawFeature
		if err := json.Unmarshal(raw, &f); err != nil {
			issues = append(issues, domain.ValidationIssue{File: domain.FilePlots, Row: row, Message: fmt.Sprintf("invalid feature: %v", err)})
			continue
		}
		if feat.Properties == nil {
			issues = append(issues, domain.ValidationIssue{File: domain.FilePlots, Row: row, Field: "properties", Message: "feature has no properties"})
			continue
		}
		record, err := decodeProperties(i, f.Properties)
		if err != nil {
			issues = append(issues, domain.ValidationIssue{File: domain.FilePlots, Row: row, Field: "properties", Message: err.Error()})
			continue
		}
		var geometry json.RawMessage
		if feat.Geometry != nil {
			geometry = f.Geometry
		}
		features = append(features, domain.Feature{Record: record, Geometry: geometry})
	}
	return features, issues, nil
}

// decodeProperties walks the properties object token by token so the record
// keeps the key order written in the file.
func decodeProperties(index int, raw json.RawMessage) (domain.Record, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return domain.Record{}, fmt.Errorf("invalid properties: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return domain.Record{}, fmt.Errorf("properties must be an object")
	}
	record := domain.Record{Index: index, Values: make(map[string]string)}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return domain.Record{}, fmt.Errorf("invalid properties: %w", err)
		}
		key, _ := keyTok.(string)
		var value any
		if err := dec.Decode(&value); err != nil {
			return domain.Record{}, fmt.Errorf("invalid property %q: %w", key, err)
		}
		text, err := stringify(value)
		if err != nil {
			return domain.Record{}, fmt.Errorf("property %q: %w", key, err)
		}
		record.Set(key, text)
	}
	return record, nil
}

func stringify(value any) (string, error) {
	switch v := value.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case json.Number:
		return v.String(), nil
	case bool:
		return strconv.FormatBool(v), nil
	default:
		return "", fmt.Errorf("nested values are not supported")
	}
}
