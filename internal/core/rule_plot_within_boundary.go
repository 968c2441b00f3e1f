package core

import (
	"context"
	"fmt"

	"fieldtrial/internal/geometry"
	"fieldtrial/pkg/domain"
)

// BoundaryContainment reports whether a plot geometry lies inside a boundary
// geometry. Both arguments are WKT.
type BoundaryContainment interface {
	Contains(boundary, plot string) (bool, error)
}

// NewPlotWithinBoundaryRule warns about plots whose centroid falls outside
// their experiment boundary. A nil checker uses the default geometry service.
func NewPlotWithinBoundaryRule(g BoundaryContainment) domain.Rule {
	if g == nil {
		g = geometry.NewService()
	}
	return plotWithinBoundaryRule{geometry: g}
}

type plotWithinBoundaryRule struct {
	geometry BoundaryContainment
}

func (plotWithinBoundaryRule) Name() string { return "plot_within_boundary" }

func (r plotWithinBoundaryRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		if change.Entity != domain.EntityPlot || change.Action == domain.ActionDelete {
			continue
		}
		plot, ok := change.After.(domain.Plot)
		if !ok || plot.BoundaryID == nil || plot.Geometry == "" {
			continue
		}
		boundary, ok := view.FindBoundary(*plot.BoundaryID)
		if !ok || boundary.Geometry == "" {
			continue
		}
		// Point boundaries cannot contain anything; they are not checked.
		inside, err := r.geometry.Contains(boundary.Geometry, plot.Geometry)
		if err != nil || inside {
			continue
		}
		res.Violations = append(res.Violations, domain.Violation{
			Rule:     r.Name(),
			Severity: domain.SeverityWarn,
			Message:  fmt.Sprintf("plot %d lies outside boundary %s", plot.PlotNumber, boundary.Name),
			Entity:   domain.EntityPlot,
			EntityID: plot.ID,
		})
	}
	return res, nil
}
