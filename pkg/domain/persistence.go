package domain

import "context"

// Transaction exposes the domain operations that a persistence implementation
// must support within an atomic scope.
type Transaction interface {
	Snapshot() TransactionView
	CreateExperiment(Experiment) (Experiment, error)
	UpdateExperiment(id string, mutator func(*Experiment) error) (Experiment, error)
	DeleteExperiment(id string) error
	CreateBoundary(Boundary) (Boundary, error)
	UpdateBoundary(id string, mutator func(*Boundary) error) (Boundary, error)
	DeleteBoundary(id string) error
	CreatePlot(Plot) (Plot, error)
	UpdatePlot(id string, mutator func(*Plot) error) (Plot, error)
	DeletePlot(id string) error
	FindExperiment(id string) (Experiment, bool)
	FindBoundary(id string) (Boundary, bool)
	FindPlot(id string) (Plot, bool)
}

// TransactionView provides read-only access to snapshot data for rules.
type TransactionView interface {
	ListExperiments() []Experiment
	ListBoundaries() []Boundary
	ListPlots() []Plot
	FindExperiment(id string) (Experiment, bool)
	FindBoundary(id string) (Boundary, bool)
	FindPlot(id string) (Plot, bool)
}

// PersistentStore is a minimal abstraction over durable backends. It mirrors
// the subset of store capabilities used directly by higher layers.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
	GetExperiment(id string) (Experiment, bool)
	ListExperiments() []Experiment
	GetBoundary(id string) (Boundary, bool)
	ListBoundaries() []Boundary
	GetPlot(id string) (Plot, bool)
	ListPlots() []Plot
	ListExperimentPlots(experimentID string) []Plot
}
