// Package geometry converts plot and boundary GeoJSON geometries into the WKT
// representation persisted on entities.
package geometry

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkt"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
)

var (
	// ErrEmptyGeometry is returned for null or missing geometries.
	ErrEmptyGeometry = errors.New("geometry is empty")
	// ErrUnsupportedGeometry is returned for geometry types plots cannot carry.
	ErrUnsupportedGeometry = errors.New("unsupported geometry type")
)

// DefaultTypes are the geometry types accepted when none are configured.
var DefaultTypes = []string{"Point", "Polygon", "MultiPolygon"}

// Service converts GeoJSON geometry members to WKT. The zero value accepts
// DefaultTypes.
type Service struct {
	allowed map[string]bool
}

// NewService returns a service accepting the given orb geometry type names
// (for example "Polygon"). With no arguments the default set is used.
func NewService(types ...string) *Service {
	if len(types) == 0 {
		types = DefaultTypes
	}
	allowed := make(map[string]bool, len(types))
	for _, t := range types {
		allowed[t] = true
	}
	return &Service{allowed: allowed}
}

// Convert decodes a raw GeoJSON geometry member and renders it as WKT.
func (s *Service) Convert(raw json.RawMessage) (string, error) {
	g, err := s.Decode(raw)
	if err != nil {
		return "", err
	}
	return wkt.MarshalString(g), nil
}

// Decode parses and checks a raw GeoJSON geometry member.
func (s *Service) Decode(raw json.RawMessage) (orb.Geometry, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, ErrEmptyGeometry
	}
	decoded, err := geojson.UnmarshalGeometry(raw)
	if err != nil {
		return nil, fmt.Errorf("decode geojson geometry: %w", err)
	}
	g := decoded.Geometry()
	if g == nil {
		return nil, ErrEmptyGeometry
	}
	if !s.accepts(g.GeoJSONType()) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedGeometry, g.GeoJSONType())
	}
	if err := check(g); err != nil {
		return nil, err
	}
	return g, nil
}

func centroid(text string) (orb.Point, error) {
	g, err := wkt.Unmarshal(text)
	if err != nil {
		return orb.Point{}, fmt.Errorf("decode wkt: %w", err)
	}
	c, _ := planar.CentroidArea(g)
	return c, nil
}

// Contains reports whether the inner geometry's centroid lies inside the
// outer polygon or multipolygon. Both arguments are WKT.
func (s *Service) Contains(outer, inner string) (bool, error) {
	og, err := wkt.Unmarshal(outer)
	if err != nil {
		return false, fmt.Errorf("decode outer wkt: %w", err)
	}
	c, err := centroid(inner)
	if err != nil {
		return false, err
	}
	switch g := og.(type) {
	case orb.Polygon:
		return planar.PolygonContains(g, c), nil
	case orb.MultiPolygon:
		return planar.MultiPolygonContains(g, c), nil
	default:
		return false, fmt.Errorf("%w: %s", ErrUnsupportedGeometry, og.GeoJSONType())
	}
}

func (s *Service) accepts(t string) bool {
	if s == nil || s.allowed == nil {
		for _, d := range DefaultTypes {
			if d == t {
				return true
			}
		}
		return false
	}
	return s.allowed[t]
}

func check(g orb.Geometry) error {
	switch v := g.(type) {
	case orb.Point:
		return checkPoint(v)
	case orb.Polygon:
		return checkPolygon(v)
	case orb.MultiPolygon:
		if len(v) == 0 {
			return ErrEmptyGeometry
		}
		for _, p := range v {
			if err := checkPolygon(p); err != nil {
				return err
			}
		}
	}
	return nil
}

func checkPoint(p orb.Point) error {
	for _, c := range p {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return fmt.Errorf("invalid coordinate %v", p)
		}
	}
	return nil
}

func checkPolygon(p orb.Polygon) error {
	if len(p) == 0 {
		return ErrEmptyGeometry
	}
	for i, ring := range p {
		if len(ring) < 4 {
			return fmt.Errorf("ring %d has %d positions, need at least 4", i, len(ring))
		}
		if !ring.Closed() {
			return fmt.Errorf("ring %d is not closed", i)
		}
		for _, pt := range ring {
			if err := checkPoint(pt); err != nil {
				return err
			}
		}
	}
	return nil
}
