package core

import "fieldtrial/pkg/domain"

// NewRulesEngine constructs an empty engine.
func NewRulesEngine() *RulesEngine {
	return domain.NewRulesEngine()
}

// NewDefaultRulesEngine builds a rules engine with the built-in policy set.
func NewDefaultRulesEngine() *RulesEngine {
	engine := domain.NewRulesEngine()
	engine.Register(NewPlotNumberingRule())
	engine.Register(NewPlotBoundaryReferenceRule())
	engine.Register(NewPlotAppendOnceRule())
	engine.Register(NewPlotWithinBoundaryRule(nil))
	return engine
}
