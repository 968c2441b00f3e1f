package core

import (
	"fmt"
	"strconv"

	"fieldtrial/internal/design"
	"fieldtrial/pkg/domain"
)

// Materializer turns validated plot records into plot entities.
type Materializer struct {
	geometry GeometryService
}

// NewMaterializer constructs a materializer; nil uses the default geometry service.
func NewMaterializer(g GeometryService) Materializer {
	if g == nil {
		g = newDefaultGeometryService()
	}
	return Materializer{geometry: g}
}

// Build converts one plot record for the given experiment. A geometry
// failure yields a *domain.GeometryConversionError and no plot.
func (m Materializer) Build(experimentID string, boundaryID *string, rec design.PlotRecord) (Plot, error) {
	plot := Plot{
		ExperimentID:   experimentID,
		BoundaryID:     cloneStringPtr(boundaryID),
		Name:           plotName(rec.PlotNumber, rec.PlotID),
		PlotNumber:     rec.PlotNumber,
		PlotID:         rec.PlotID,
		PlotType:       rec.PlotType,
		Row:            rec.GridRow,
		Column:         rec.GridColumn,
		ParentLocation: rec.ParentLocation,
		Factors:        append([]FactorPair(nil), rec.Factors...),
	}
	if len(rec.Geometry) > 0 {
		if m.geometry == nil {
			m.geometry = newDefaultGeometryService()
		}
		wkt, err := m.geometry.Convert(rec.Geometry)
		if err != nil {
			return Plot{}, &domain.GeometryConversionError{PlotID: rec.PlotID, Row: rec.Row, Err: err}
		}
		plot.Geometry = wkt
	}
	return plot, nil
}

// Reserve builds an empty numbered plot for count-only provisioning.
func (m Materializer) Reserve(experimentID string, boundaryID *string, number int) Plot {
	return Plot{
		ExperimentID: experimentID,
		BoundaryID:   cloneStringPtr(boundaryID),
		Name:         plotName(number, ""),
		PlotNumber:   number,
	}
}

func plotName(number int, plotID string) string {
	if plotID != "" {
		return fmt.Sprintf("Plot %d (%s)", number, plotID)
	}
	return "Plot " + strconv.Itoa(number)
}

func cloneStringPtr(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
