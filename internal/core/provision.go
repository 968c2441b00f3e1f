package core

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"fieldtrial/internal/blob"
	"fieldtrial/pkg/domain"
)

// DefaultChunkSize is the number of plots created per provisioning chunk.
const DefaultChunkSize = 50

// EnvChunkSize overrides DefaultChunkSize.
const EnvChunkSize = "FIELDTRIAL_PLOT_CHUNK_SIZE"

// ChunkSizeFromEnv reads FIELDTRIAL_PLOT_CHUNK_SIZE, returning DefaultChunkSize
// when unset. Invalid or non-positive values are an error.
func ChunkSizeFromEnv() (int, error) {
	raw := strings.TrimSpace(os.Getenv(EnvChunkSize))
	if raw == "" {
		return DefaultChunkSize, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("%s must be a positive integer, got %q", EnvChunkSize, raw)
	}
	return n, nil
}

// BatchCursor is the resumable state of a count-only provisioning job. It is
// returned by every chunk and must be passed back to continue.
type BatchCursor struct {
	ExperimentID string   `json:"experiment_id"`
	BoundaryID   *string  `json:"boundary_id,omitempty"`
	Progress     int      `json:"progress"`
	Max          int      `json:"max"`
	ChunkSize    int      `json:"chunk_size"`
	PlotIDs      []string `json:"plot_ids"`
	Attached     bool     `json:"attached"`
}

// Done reports whether every plot has been created and attached.
func (c BatchCursor) Done() bool { return c.Attached }

// Remaining is the number of plots still to be created.
func (c BatchCursor) Remaining() int {
	if c.Progress >= c.Max {
		return 0
	}
	return c.Max - c.Progress
}

// CursorStore persists cursors between chunks.
type CursorStore interface {
	Load(ctx context.Context, experimentID string) (BatchCursor, bool, error)
	Save(ctx context.Context, cursor BatchCursor) error
	Delete(ctx context.Context, experimentID string) error
}

// MemoryCursorStore keeps cursors in process memory.
type MemoryCursorStore struct {
	mu      sync.Mutex
	cursors map[string]BatchCursor
}

// NewMemoryCursorStore returns an empty MemoryCursorStore.
func NewMemoryCursorStore() *MemoryCursorStore {
	return &MemoryCursorStore{cursors: make(map[string]BatchCursor)}
}

// Load implements CursorStore.
func (m *MemoryCursorStore) Load(_ context.Context, experimentID string) (BatchCursor, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cursors[experimentID]
	if ok {
		c.PlotIDs = append([]string(nil), c.PlotIDs...)
	}
	return c, ok, nil
}

// Save implements CursorStore.
func (m *MemoryCursorStore) Save(_ context.Context, cursor BatchCursor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cursor.PlotIDs = append([]string(nil), cursor.PlotIDs...)
	m.cursors[cursor.ExperimentID] = cursor
	return nil
}

// Delete implements CursorStore.
func (m *MemoryCursorStore) Delete(_ context.Context, experimentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cursors, experimentID)
	return nil
}

// BlobCursorStore persists cursors as JSON objects under cursors/<experiment>.json.
type BlobCursorStore struct {
	store blob.Store
}

// NewBlobCursorStore wraps a blob store.
func NewBlobCursorStore(store blob.Store) *BlobCursorStore {
	return &BlobCursorStore{store: store}
}

// Load implements CursorStore.
func (b *BlobCursorStore) Load(ctx context.Context, experimentID string) (BatchCursor, bool, error) {
	var c BatchCursor
	ok, err := blob.GetJSON(ctx, b.store, blob.CursorKey(experimentID), &c)
	return c, ok, err
}

// Save implements CursorStore.
func (b *BlobCursorStore) Save(ctx context.Context, cursor BatchCursor) error {
	_, err := blob.PutJSON(ctx, b.store, blob.CursorKey(cursor.ExperimentID), cursor, map[string]string{
		"experiment": cursor.ExperimentID,
		"progress":   strconv.Itoa(cursor.Progress),
		"max":        strconv.Itoa(cursor.Max),
	})
	return err
}

// Delete implements CursorStore.
func (b *BlobCursorStore) Delete(ctx context.Context, experimentID string) error {
	_, err := b.store.Delete(ctx, blob.CursorKey(experimentID))
	return err
}

// ProvisionJob reserves N empty, sequentially numbered plots for an
// experiment in fixed-size chunks. Plots are attached to the experiment only
// after the last chunk. At most one chunk runs per experiment at a time.
type ProvisionJob struct {
	svc       *Service
	cursors   CursorStore
	chunkSize int

	mu       sync.Mutex
	inflight map[string]struct{}
}

// NewProvisionJob constructs a job over svc. A nil cursor store keeps
// cursors in memory; chunkSize below 1 uses DefaultChunkSize.
func NewProvisionJob(svc *Service, cursors CursorStore, chunkSize int) *ProvisionJob {
	if cursors == nil {
		cursors = NewMemoryCursorStore()
	}
	return newProvisionJob(svc, cursors, chunkSize)
}

func newProvisionJob(svc *Service, cursors CursorStore, chunkSize int) *ProvisionJob {
	if chunkSize < 1 {
		chunkSize = DefaultChunkSize
	}
	return &ProvisionJob{svc: svc, cursors: cursors, chunkSize: chunkSize, inflight: make(map[string]struct{})}
}

// ChunkSize returns the configured chunk size.
func (j *ProvisionJob) ChunkSize() int { return j.chunkSize }

// Start returns the cursor for provisioning n plots. A stored, unfinished
// cursor for the same target is resumed rather than restarted.
func (j *ProvisionJob) Start(ctx context.Context, experimentID string, n int) (BatchCursor, error) {
	if n < 1 {
		return BatchCursor{}, fmt.Errorf("plot count must be at least 1, got %d", n)
	}
	exp, ok := j.svc.store.GetExperiment(experimentID)
	if !ok {
		return BatchCursor{}, domain.ErrNotFound{Entity: EntityExperiment, ID: experimentID}
	}
	if exp.HasPlots() {
		j.svc.messenger.Report(ctx, ValidationIssue{Message: domain.ErrPlotsAlreadyAttached.Error()})
		return BatchCursor{}, domain.ErrPlotsAlreadyAttached
	}
	stored, found, err := j.cursors.Load(ctx, experimentID)
	if err != nil {
		return BatchCursor{}, fmt.Errorf("load cursor: %w", err)
	}
	if found && !stored.Done() {
		if stored.Max != n {
			return BatchCursor{}, fmt.Errorf("provisioning of %d plots already started for experiment %s", stored.Max, experimentID)
		}
		j.svc.logger.Info("resuming plot provisioning", "experiment_id", experimentID, "progress", stored.Progress, "max", stored.Max)
		return stored, nil
	}
	cursor := BatchCursor{
		ExperimentID: experimentID,
		BoundaryID:   cloneStringPtr(exp.BoundaryID),
		Max:          n,
		ChunkSize:    j.chunkSize,
		PlotIDs:      []string{},
	}
	if err := j.cursors.Save(ctx, cursor); err != nil {
		return BatchCursor{}, fmt.Errorf("save cursor: %w", err)
	}
	return cursor, nil
}

// RunChunk creates at most one chunk of plots and returns the advanced
// cursor. When progress reaches max the plot list is attached and the
// stored cursor removed.
func (j *ProvisionJob) RunChunk(ctx context.Context, cursor BatchCursor) (BatchCursor, error) {
	if cursor.Done() {
		return cursor, nil
	}
	if err := j.acquire(cursor.ExperimentID); err != nil {
		return cursor, err
	}
	defer j.release(cursor.ExperimentID)

	next := cursor
	err := j.svc.run(ctx, "provision_chunk", func(ctx context.Context) (string, error) {
		var err error
		next, err = j.step(ctx, cursor)
		return cursor.ExperimentID, err
	})
	if err != nil {
		return cursor, err
	}
	return next, nil
}

// Run drives the job to completion, resuming any stored cursor. The context
// is checked between chunks.
func (j *ProvisionJob) Run(ctx context.Context, experimentID string, n int) (BatchCursor, error) {
	cursor, err := j.Start(ctx, experimentID, n)
	if err != nil {
		return cursor, err
	}
	for !cursor.Done() {
		if err := ctx.Err(); err != nil {
			return cursor, err
		}
		cursor, err = j.RunChunk(ctx, cursor)
		if err != nil {
			return cursor, err
		}
	}
	return cursor, nil
}

func (j *ProvisionJob) acquire(experimentID string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if _, busy := j.inflight[experimentID]; busy {
		return domain.ErrJobInFlight
	}
	j.inflight[experimentID] = struct{}{}
	return nil
}

func (j *ProvisionJob) release(experimentID string) {
	j.mu.Lock()
	delete(j.inflight, experimentID)
	j.mu.Unlock()
}

func (j *ProvisionJob) step(ctx context.Context, cursor BatchCursor) (BatchCursor, error) {
	next := cursor
	next.PlotIDs = append([]string(nil), cursor.PlotIDs...)
	size := cursor.ChunkSize
	if size < 1 {
		size = j.chunkSize
	}

	if next.Progress < next.Max {
		end := min(next.Progress+size, next.Max)
		var created []string
		_, err := j.svc.store.RunInTransaction(ctx, func(tx Transaction) error {
			exp, ok := tx.FindExperiment(cursor.ExperimentID)
			if !ok {
				return domain.ErrNotFound{Entity: EntityExperiment, ID: cursor.ExperimentID}
			}
			if exp.HasPlots() {
				return domain.ErrPlotsAlreadyAttached
			}
			// Plots left behind by a chunk whose cursor was never saved are reused.
			existing := make(map[int]string)
			for _, p := range tx.Snapshot().ListPlots() {
				if p.ExperimentID == cursor.ExperimentID {
					existing[p.PlotNumber] = p.ID
				}
			}
			for number := next.Progress + 1; number <= end; number++ {
				if id, ok := existing[number]; ok {
					created = append(created, id)
					continue
				}
				p, err := tx.CreatePlot(j.svc.materializer.Reserve(cursor.ExperimentID, cursor.BoundaryID, number))
				if err != nil {
					return fmt.Errorf("create plot %d: %w", number, err)
				}
				created = append(created, p.ID)
			}
			return nil
		})
		if err != nil {
			return cursor, err
		}
		next.PlotIDs = append(next.PlotIDs, created...)
		next.Progress = end
		j.svc.countPlots(ctx, "provision_chunk", len(created), 0)
		j.svc.logger.Debug("provisioned plot chunk", "experiment_id", cursor.ExperimentID, "progress", next.Progress, "max", next.Max)
	}

	if next.Progress < next.Max {
		if err := j.cursors.Save(ctx, next); err != nil {
			return cursor, fmt.Errorf("save cursor: %w", err)
		}
		return next, nil
	}

	pruned := 0
	if _, err := j.svc.store.RunInTransaction(ctx, func(tx Transaction) error {
		_, err := tx.UpdateExperiment(cursor.ExperimentID, func(e *Experiment) error {
			if e.HasPlots() {
				return domain.ErrPlotsAlreadyAttached
			}
			e.PlotIDs = append([]string(nil), next.PlotIDs...)
			return nil
		})
		if err != nil {
			return err
		}
		// A restart with a smaller count leaves plots above Max behind.
		keep := make(map[string]struct{}, len(next.PlotIDs))
		for _, id := range next.PlotIDs {
			keep[id] = struct{}{}
		}
		pruned = 0
		for _, p := range tx.Snapshot().ListPlots() {
			if p.ExperimentID != cursor.ExperimentID {
				continue
			}
			if _, ok := keep[p.ID]; ok {
				continue
			}
			if err := tx.DeletePlot(p.ID); err != nil {
				return fmt.Errorf("remove orphan plot %d: %w", p.PlotNumber, err)
			}
			pruned++
		}
		return nil
	}); err != nil {
		// Keep the finished cursor so attachment can be retried.
		if saveErr := j.cursors.Save(ctx, next); saveErr != nil {
			return cursor, errors.Join(err, saveErr)
		}
		return next, err
	}
	next.Attached = true
	if err := j.cursors.Delete(ctx, cursor.ExperimentID); err != nil {
		j.svc.logger.Warn("delete provisioning cursor", "experiment_id", cursor.ExperimentID, "error", err)
	}
	j.svc.logger.Info("plots provisioned", "experiment_id", cursor.ExperimentID, "plots", len(next.PlotIDs), "pruned", pruned)
	return next, nil
}
