package core

import (
	"context"
	"fmt"

	"fieldtrial/pkg/domain"
)

// NewPlotNumberingRule blocks commits that leave two plots of one experiment
// sharing a plot number.
func NewPlotNumberingRule() domain.Rule {
	return plotNumberingRule{}
}

type plotNumberingRule struct{}

func (plotNumberingRule) Name() string { return "plot_numbering" }

func (r plotNumberingRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	touched := make(map[string]struct{})
	for _, change := range changes {
		if change.Entity != domain.EntityPlot || change.Action == domain.ActionDelete {
			continue
		}
		if p, ok := change.After.(domain.Plot); ok {
			touched[p.ExperimentID] = struct{}{}
		}
	}
	res := domain.Result{}
	if len(touched) == 0 {
		return res, nil
	}
	type key struct {
		experiment string
		number     int
	}
	seen := make(map[key]string)
	for _, plot := range view.ListPlots() {
		if _, ok := touched[plot.ExperimentID]; !ok {
			continue
		}
		k := key{plot.ExperimentID, plot.PlotNumber}
		if first, dup := seen[k]; dup {
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     r.Name(),
				Severity: domain.SeverityBlock,
				Message:  fmt.Sprintf("plot_number %d used by plots %s and %s in experiment %s", plot.PlotNumber, first, plot.ID, plot.ExperimentID),
				Entity:   domain.EntityPlot,
				EntityID: plot.ID,
			})
			continue
		}
		seen[k] = plot.ID
	}
	return res, nil
}
