package core

import (
	"context"
	"fmt"

	"fieldtrial/pkg/domain"
)

// NewPlotBoundaryReferenceRule blocks plots that reference a missing boundary
// or a boundary of another experiment.
func NewPlotBoundaryReferenceRule() domain.Rule {
	return plotBoundaryReferenceRule{}
}

type plotBoundaryReferenceRule struct{}

func (plotBoundaryReferenceRule) Name() string { return "plot_boundary_reference" }

func (r plotBoundaryReferenceRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		if change.Entity != domain.EntityPlot || change.Action == domain.ActionDelete {
			continue
		}
		plot, ok := change.After.(domain.Plot)
		if !ok || plot.BoundaryID == nil {
			continue
		}
		current, ok := view.FindPlot(plot.ID)
		if !ok || current.BoundaryID == nil {
			continue
		}
		boundary, ok := view.FindBoundary(*current.BoundaryID)
		var msg string
		switch {
		case !ok:
			msg = fmt.Sprintf("plot %s references missing boundary %s", current.ID, *current.BoundaryID)
		case boundary.ExperimentID != current.ExperimentID:
			msg = fmt.Sprintf("plot %s references boundary %s of experiment %s", current.ID, boundary.ID, boundary.ExperimentID)
		default:
			continue
		}
		res.Violations = append(res.Violations, domain.Violation{
			Rule:     r.Name(),
			Severity: domain.SeverityBlock,
			Message:  msg,
			Entity:   domain.EntityPlot,
			EntityID: current.ID,
		})
	}
	return res, nil
}
