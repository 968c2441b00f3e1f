// Package memory provides an in-memory implementation of the field-trial
// persistence store used for tests, ephemeral environments and as the
// transactional core of the snapshotting SQL stores.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"fieldtrial/pkg/domain"

	"github.com/google/uuid"
)

// Compile-time contract assertion ensuring memory.Store adheres to the domain persistence interfaces.
var _ domain.PersistentStore = (*Store)(nil)

type (
	// Experiment aliases domain.Experiment.
	Experiment = domain.Experiment
	// Boundary aliases domain.Boundary.
	Boundary = domain.Boundary
	// Plot aliases domain.Plot.
	Plot = domain.Plot
	// Change aliases domain.Change captured in transactions.
	Change = domain.Change
	// Result aliases domain.Result summarizing rule evaluation.
	Result = domain.Result
	// RulesEngine aliases domain.RulesEngine used to evaluate rules.
	RulesEngine = domain.RulesEngine
	// Transaction aliases domain.Transaction representing a mutable unit of work.
	Transaction = domain.Transaction
	// TransactionView aliases domain.TransactionView providing read-only state.
	TransactionView = domain.TransactionView
)

type memoryState struct {
	experiments map[string]Experiment
	boundaries  map[string]Boundary
	plots       map[string]Plot
}

// Snapshot captures a point-in-time clone of the store state.
type Snapshot struct {
	Experiments map[string]Experiment `json:"experiments"`
	Boundaries  map[string]Boundary   `json:"boundaries"`
	Plots       map[string]Plot       `json:"plots"`
}

func newMemoryState() memoryState {
	return memoryState{
		experiments: make(map[string]Experiment),
		boundaries:  make(map[string]Boundary),
		plots:       make(map[string]Plot),
	}
}

func snapshotFromMemoryState(state memoryState) Snapshot {
	s := Snapshot{
		Experiments: make(map[string]Experiment, len(state.experiments)),
		Boundaries:  make(map[string]Boundary, len(state.boundaries)),
		Plots:       make(map[string]Plot, len(state.plots)),
	}
	for k, v := range state.experiments {
		s.Experiments[k] = cloneExperiment(v)
	}
	for k, v := range state.boundaries {
		s.Boundaries[k] = v
	}
	for k, v := range state.plots {
		s.Plots[k] = clonePlot(v)
	}
	return s
}

func memoryStateFromSnapshot(s Snapshot) memoryState {
	state := newMemoryState()
	for k, v := range s.Experiments {
		state.experiments[k] = cloneExperiment(v)
	}
	for k, v := range s.Boundaries {
		state.boundaries[k] = v
	}
	for k, v := range s.Plots {
		state.plots[k] = clonePlot(v)
	}
	return state
}

// migrateSnapshot drops dangling references left by older snapshots: plot ids
// whose plots no longer exist and boundary pointers to missing boundaries.
func migrateSnapshot(snapshot Snapshot) Snapshot {
	for id, exp := range snapshot.Experiments {
		if exp.BoundaryID != nil {
			if _, ok := snapshot.Boundaries[*exp.BoundaryID]; !ok {
				exp.BoundaryID = nil
			}
		}
		if len(exp.PlotIDs) > 0 {
			kept := make([]string, 0, len(exp.PlotIDs))
			for _, pid := range exp.PlotIDs {
				if _, ok := snapshot.Plots[pid]; ok {
					kept = append(kept, pid)
				}
			}
			exp.PlotIDs = kept
		}
		if exp.PlotIDs == nil {
			exp.PlotIDs = []string{}
		}
		snapshot.Experiments[id] = exp
	}
	return snapshot
}

func (s memoryState) clone() memoryState {
	return memoryStateFromSnapshot(snapshotFromMemoryState(s))
}

func cloneExperiment(e Experiment) Experiment {
	cp := e
	if e.BoundaryID != nil {
		id := *e.BoundaryID
		cp.BoundaryID = &id
	}
	if e.Design != nil {
		doc := e.Design.Clone()
		cp.Design = &doc
	}
	cp.PlotIDs = append([]string{}, e.PlotIDs...)
	return cp
}

func clonePlot(p Plot) Plot {
	cp := p
	if p.BoundaryID != nil {
		id := *p.BoundaryID
		cp.BoundaryID = &id
	}
	if p.Factors != nil {
		cp.Factors = append([]domain.FactorPair(nil), p.Factors...)
	}
	return cp
}

// Store provides an in-memory transactional store for the field-trial domain.
type Store struct {
	mu     sync.RWMutex
	state  memoryState
	engine *RulesEngine
	nowFn  func() time.Time
}

// NewStore constructs an in-memory store backed by the provided rules engine.
func NewStore(engine *RulesEngine) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	return &Store{
		state:  newMemoryState(),
		engine: engine,
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) newID() string {
	return uuid.NewString()
}

// ExportState clones the current store state for external persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotFromMemoryState(s.state)
}

// ImportState replaces the store state with the provided snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = memoryStateFromSnapshot(migrateSnapshot(snapshot))
}

// RulesEngine exposes the currently configured engine.
func (s *Store) RulesEngine() *RulesEngine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

// NowFunc returns the time provider used by the in-memory store.
func (s *Store) NowFunc() func() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nowFn
}

// SetNowFunc overrides the time provider; nil restores the wall clock.
func (s *Store) SetNowFunc(fn func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fn == nil {
		fn = func() time.Time { return time.Now().UTC() }
	}
	s.nowFn = fn
}

// transaction represents a mutation set applied to the store state.
type transaction struct {
	store   *Store
	state   memoryState
	changes []Change
	now     time.Time
}

// transactionView exposes a read-only snapshot of the transactional state to rules.
type transactionView struct {
	state *memoryState
}

func newTransactionView(state *memoryState) TransactionView {
	return transactionView{state: state}
}

func (v transactionView) ListExperiments() []Experiment { return listExperiments(v.state) }
func (v transactionView) ListBoundaries() []Boundary    { return listBoundaries(v.state) }
func (v transactionView) ListPlots() []Plot             { return listPlots(v.state, "") }

func (v transactionView) FindExperiment(id string) (Experiment, bool) {
	return findExperiment(v.state, id)
}

func (v transactionView) FindBoundary(id string) (Boundary, bool) {
	b, ok := v.state.boundaries[id]
	return b, ok
}

func (v transactionView) FindPlot(id string) (Plot, bool) {
	return findPlot(v.state, id)
}

func listExperiments(state *memoryState) []Experiment {
	out := make([]Experiment, 0, len(state.experiments))
	for _, e := range state.experiments {
		out = append(out, cloneExperiment(e))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func listBoundaries(state *memoryState) []Boundary {
	out := make([]Boundary, 0, len(state.boundaries))
	for _, b := range state.boundaries {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// listPlots returns plots ordered by experiment then plot number; a non-empty
// experimentID restricts the result to that experiment.
func listPlots(state *memoryState, experimentID string) []Plot {
	out := make([]Plot, 0, len(state.plots))
	for _, p := range state.plots {
		if experimentID != "" && p.ExperimentID != experimentID {
			continue
		}
		out = append(out, clonePlot(p))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ExperimentID != out[j].ExperimentID {
			return out[i].ExperimentID < out[j].ExperimentID
		}
		if out[i].PlotNumber != out[j].PlotNumber {
			return out[i].PlotNumber < out[j].PlotNumber
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func findExperiment(state *memoryState, id string) (Experiment, bool) {
	e, ok := state.experiments[id]
	if !ok {
		return Experiment{}, false
	}
	return cloneExperiment(e), true
}

func findPlot(state *memoryState, id string) (Plot, bool) {
	p, ok := state.plots[id]
	if !ok {
		return Plot{}, false
	}
	return clonePlot(p), true
}

// RunInTransaction executes fn within a transactional copy of the store state.
// The copy replaces committed state only when fn succeeds and no rule blocks.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx Transaction) error) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &transaction{
		store: s,
		state: s.state.clone(),
		now:   s.nowFn(),
	}

	if err := fn(tx); err != nil {
		return Result{}, err
	}

	var result Result
	if s.engine != nil {
		view := newTransactionView(&tx.state)
		res, err := s.engine.Evaluate(ctx, view, tx.changes)
		if err != nil {
			return Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}

	s.state = tx.state
	return result, nil
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(_ context.Context, fn func(TransactionView) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := s.state.clone()
	view := newTransactionView(&snapshot)
	return fn(view)
}

func (tx *transaction) recordChange(change Change) {
	tx.changes = append(tx.changes, change)
}

// Snapshot returns a read-only view over the transactional state.
func (tx *transaction) Snapshot() TransactionView {
	return newTransactionView(&tx.state)
}

// FindExperiment exposes experiment lookup within the transaction scope.
func (tx *transaction) FindExperiment(id string) (Experiment, bool) {
	return findExperiment(&tx.state, id)
}

// FindBoundary exposes boundary lookup within the transaction scope.
func (tx *transaction) FindBoundary(id string) (Boundary, bool) {
	b, ok := tx.state.boundaries[id]
	return b, ok
}

// FindPlot exposes plot lookup within the transaction scope.
func (tx *transaction) FindPlot(id string) (Plot, bool) {
	return findPlot(&tx.state, id)
}

// CreateExperiment stores a new experiment within the transaction.
func (tx *transaction) CreateExperiment(e Experiment) (Experiment, error) {
	if e.ID == "" {
		e.ID = tx.store.newID()
	}
	if _, exists := tx.state.experiments[e.ID]; exists {
		return Experiment{}, fmt.Errorf("experiment %q already exists", e.ID)
	}
	if e.BoundaryID != nil {
		if _, ok := tx.state.boundaries[*e.BoundaryID]; !ok {
			return Experiment{}, domain.ErrNotFound{Entity: domain.EntityBoundary, ID: *e.BoundaryID}
		}
	}
	if e.PlotIDs == nil {
		e.PlotIDs = []string{}
	}
	for _, pid := range e.PlotIDs {
		if _, ok := tx.state.plots[pid]; !ok {
			return Experiment{}, domain.ErrNotFound{Entity: domain.EntityPlot, ID: pid}
		}
	}
	e.CreatedAt = tx.now
	e.UpdatedAt = tx.now
	tx.state.experiments[e.ID] = cloneExperiment(e)
	tx.recordChange(Change{Entity: domain.EntityExperiment, Action: domain.ActionCreate, After: cloneExperiment(e)})
	return cloneExperiment(e), nil
}

// UpdateExperiment mutates an experiment using the provided mutator function.
func (tx *transaction) UpdateExperiment(id string, mutator func(*Experiment) error) (Experiment, error) {
	current, ok := tx.state.experiments[id]
	if !ok {
		return Experiment{}, domain.ErrNotFound{Entity: domain.EntityExperiment, ID: id}
	}
	before := cloneExperiment(current)
	current = cloneExperiment(current)
	if err := mutator(&current); err != nil {
		return Experiment{}, err
	}
	current.ID = id
	current.CreatedAt = before.CreatedAt
	current.UpdatedAt = tx.now
	if current.PlotIDs == nil {
		current.PlotIDs = []string{}
	}
	for _, pid := range current.PlotIDs {
		if _, ok := tx.state.plots[pid]; !ok {
			return Experiment{}, domain.ErrNotFound{Entity: domain.EntityPlot, ID: pid}
		}
	}
	if current.BoundaryID != nil {
		if _, ok := tx.state.boundaries[*current.BoundaryID]; !ok {
			return Experiment{}, domain.ErrNotFound{Entity: domain.EntityBoundary, ID: *current.BoundaryID}
		}
	}
	tx.state.experiments[id] = cloneExperiment(current)
	tx.recordChange(Change{Entity: domain.EntityExperiment, Action: domain.ActionUpdate, Before: before, After: cloneExperiment(current)})
	return cloneExperiment(current), nil
}

// DeleteExperiment removes an experiment that no longer owns plots or boundaries.
func (tx *transaction) DeleteExperiment(id string) error {
	current, ok := tx.state.experiments[id]
	if !ok {
		return domain.ErrNotFound{Entity: domain.EntityExperiment, ID: id}
	}
	for _, p := range tx.state.plots {
		if p.ExperimentID == id {
			return fmt.Errorf("experiment %q still referenced by plot %q", id, p.ID)
		}
	}
	for _, b := range tx.state.boundaries {
		if b.ExperimentID == id {
			return fmt.Errorf("experiment %q still referenced by boundary %q", id, b.ID)
		}
	}
	delete(tx.state.experiments, id)
	tx.recordChange(Change{Entity: domain.EntityExperiment, Action: domain.ActionDelete, Before: cloneExperiment(current)})
	return nil
}

// CreateBoundary stores a new boundary for an existing experiment.
func (tx *transaction) CreateBoundary(b Boundary) (Boundary, error) {
	if b.ID == "" {
		b.ID = tx.store.newID()
	}
	if _, exists := tx.state.boundaries[b.ID]; exists {
		return Boundary{}, fmt.Errorf("boundary %q already exists", b.ID)
	}
	if _, ok := tx.state.experiments[b.ExperimentID]; !ok {
		return Boundary{}, domain.ErrNotFound{Entity: domain.EntityExperiment, ID: b.ExperimentID}
	}
	b.CreatedAt = tx.now
	b.UpdatedAt = tx.now
	tx.state.boundaries[b.ID] = b
	tx.recordChange(Change{Entity: domain.EntityBoundary, Action: domain.ActionCreate, After: b})
	return b, nil
}

// UpdateBoundary mutates an existing boundary.
func (tx *transaction) UpdateBoundary(id string, mutator func(*Boundary) error) (Boundary, error) {
	current, ok := tx.state.boundaries[id]
	if !ok {
		return Boundary{}, domain.ErrNotFound{Entity: domain.EntityBoundary, ID: id}
	}
	before := current
	if err := mutator(&current); err != nil {
		return Boundary{}, err
	}
	current.ID = id
	current.CreatedAt = before.CreatedAt
	current.UpdatedAt = tx.now
	if _, ok := tx.state.experiments[current.ExperimentID]; !ok {
		return Boundary{}, domain.ErrNotFound{Entity: domain.EntityExperiment, ID: current.ExperimentID}
	}
	tx.state.boundaries[id] = current
	tx.recordChange(Change{Entity: domain.EntityBoundary, Action: domain.ActionUpdate, Before: before, After: current})
	return current, nil
}

// DeleteBoundary removes a boundary no experiment or plot points at.
func (tx *transaction) DeleteBoundary(id string) error {
	current, ok := tx.state.boundaries[id]
	if !ok {
		return domain.ErrNotFound{Entity: domain.EntityBoundary, ID: id}
	}
	for _, e := range tx.state.experiments {
		if e.BoundaryID != nil && *e.BoundaryID == id {
			return fmt.Errorf("boundary %q still referenced by experiment %q", id, e.ID)
		}
	}
	for _, p := range tx.state.plots {
		if p.BoundaryID != nil && *p.BoundaryID == id {
			return fmt.Errorf("boundary %q still referenced by plot %q", id, p.ID)
		}
	}
	delete(tx.state.boundaries, id)
	tx.recordChange(Change{Entity: domain.EntityBoundary, Action: domain.ActionDelete, Before: current})
	return nil
}

// CreatePlot stores a new plot for an existing experiment. Attaching the plot
// to the experiment's plot list is a separate experiment update.
func (tx *transaction) CreatePlot(p Plot) (Plot, error) {
	if p.ID == "" {
		p.ID = tx.store.newID()
	}
	if _, exists := tx.state.plots[p.ID]; exists {
		return Plot{}, fmt.Errorf("plot %q already exists", p.ID)
	}
	if _, ok := tx.state.experiments[p.ExperimentID]; !ok {
		return Plot{}, domain.ErrNotFound{Entity: domain.EntityExperiment, ID: p.ExperimentID}
	}
	p.CreatedAt = tx.now
	p.UpdatedAt = tx.now
	tx.state.plots[p.ID] = clonePlot(p)
	tx.recordChange(Change{Entity: domain.EntityPlot, Action: domain.ActionCreate, After: clonePlot(p)})
	return clonePlot(p), nil
}

// UpdatePlot mutates an existing plot.
func (tx *transaction) UpdatePlot(id string, mutator func(*Plot) error) (Plot, error) {
	current, ok := tx.state.plots[id]
	if !ok {
		return Plot{}, domain.ErrNotFound{Entity: domain.EntityPlot, ID: id}
	}
	before := clonePlot(current)
	current = clonePlot(current)
	if err := mutator(&current); err != nil {
		return Plot{}, err
	}
	current.ID = id
	current.ExperimentID = before.ExperimentID
	current.CreatedAt = before.CreatedAt
	current.UpdatedAt = tx.now
	tx.state.plots[id] = clonePlot(current)
	tx.recordChange(Change{Entity: domain.EntityPlot, Action: domain.ActionUpdate, Before: before, After: clonePlot(current)})
	return clonePlot(current), nil
}

// DeletePlot removes a plot that is no longer attached to its experiment.
func (tx *transaction) DeletePlot(id string) error {
	current, ok := tx.state.plots[id]
	if !ok {
		return domain.ErrNotFound{Entity: domain.EntityPlot, ID: id}
	}
	if exp, ok := tx.state.experiments[current.ExperimentID]; ok {
		for _, pid := range exp.PlotIDs {
			if pid == id {
				return fmt.Errorf("plot %q still attached to experiment %q", id, exp.ID)
			}
		}
	}
	delete(tx.state.plots, id)
	tx.recordChange(Change{Entity: domain.EntityPlot, Action: domain.ActionDelete, Before: clonePlot(current)})
	return nil
}

// Read helpers ---------------------------------------------------------------

// GetExperiment retrieves an experiment by ID from committed state.
func (s *Store) GetExperiment(id string) (Experiment, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return findExperiment(&s.state, id)
}

// ListExperiments returns all experiments from committed state.
func (s *Store) ListExperiments() []Experiment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listExperiments(&s.state)
}

// GetBoundary retrieves a boundary by ID.
func (s *Store) GetBoundary(id string) (Boundary, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.state.boundaries[id]
	return b, ok
}

// ListBoundaries returns all boundaries.
func (s *Store) ListBoundaries() []Boundary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listBoundaries(&s.state)
}

// GetPlot retrieves a plot by ID.
func (s *Store) GetPlot(id string) (Plot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return findPlot(&s.state, id)
}

// ListPlots returns every plot ordered by experiment and plot number.
func (s *Store) ListPlots() []Plot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listPlots(&s.state, "")
}

// ListExperimentPlots returns the plots of one experiment ordered by plot number.
func (s *Store) ListExperimentPlots(experimentID string) []Plot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if experimentID == "" {
		return []Plot{}
	}
	return listPlots(&s.state, experimentID)
}
