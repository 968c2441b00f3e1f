package core

import (
	"context"
	"fmt"
	"slices"

	"fieldtrial/pkg/domain"
)

// NewPlotAppendOnceRule blocks any change to an experiment's plot list once
// it is non-empty.
func NewPlotAppendOnceRule() domain.Rule {
	return plotAppendOnceRule{}
}

type plotAppendOnceRule struct{}

func (plotAppendOnceRule) Name() string { return "plot_append_once" }

func (r plotAppendOnceRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		if change.Entity != domain.EntityExperiment || change.Action != domain.ActionUpdate {
			continue
		}
		before, okBefore := change.Before.(domain.Experiment)
		after, okAfter := change.After.(domain.Experiment)
		if !okBefore || !okAfter || !before.HasPlots() || slices.Equal(before.PlotIDs, after.PlotIDs) {
			continue
		}
		res.Violations = append(res.Violations, domain.Violation{
			Rule:     r.Name(),
			Severity: domain.SeverityBlock,
			Message:  fmt.Sprintf("experiment %s already has %d plots attached", before.ID, len(before.PlotIDs)),
			Entity:   domain.EntityExperiment,
			EntityID: before.ID,
		})
	}
	return res, nil
}
