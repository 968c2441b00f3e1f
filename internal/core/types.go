package core

import "fieldtrial/pkg/domain"

type (
	EntityType         = domain.EntityType
	Severity           = domain.Severity
	Base               = domain.Base
	Experiment         = domain.Experiment
	Boundary           = domain.Boundary
	Plot               = domain.Plot
	FactorPair         = domain.FactorPair
	DesignDocument     = domain.DesignDocument
	ValidationIssue    = domain.ValidationIssue
	ValidationError    = domain.ValidationError
	Change             = domain.Change
	Action             = domain.Action
	Violation          = domain.Violation
	Result             = domain.Result
	RuleViolationError = domain.RuleViolationError
	RulesEngine        = domain.RulesEngine
	Rule               = domain.Rule
	Transaction        = domain.Transaction
	TransactionView    = domain.TransactionView
	PersistentStore    = domain.PersistentStore
)

const (
	EntityExperiment = domain.EntityExperiment
	EntityBoundary   = domain.EntityBoundary
	EntityPlot       = domain.EntityPlot
)

const (
	SeverityBlock = domain.SeverityBlock
	SeverityWarn  = domain.SeverityWarn
	SeverityLog   = domain.SeverityLog
)

const (
	ActionCreate = domain.ActionCreate
	ActionUpdate = domain.ActionUpdate
	ActionDelete = domain.ActionDelete
)
