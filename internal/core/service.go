package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"fieldtrial/pkg/domain"
)

// Service exposes transactional operations over experiments, boundaries and
// plots, and orchestrates design imports.
type Service struct {
	store        PersistentStore
	clock        Clock
	logger       Logger
	audit        AuditRecorder
	metrics      MetricsRecorder
	tracer       Tracer
	messenger    Messenger
	plotTypes    PlotTypeVocabulary
	blobs        BlobStore
	materializer Materializer
	provision    *ProvisionJob
}

// NewService constructs a service backed by the supplied store.
func NewService(store PersistentStore, opts ...ServiceOption) *Service {
	o := defaultServiceOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	svc := &Service{
		store:        store,
		clock:        o.clock,
		logger:       o.logger,
		audit:        o.audit,
		metrics:      o.metrics,
		tracer:       o.tracer,
		messenger:    o.messenger,
		plotTypes:    o.plotTypes,
		blobs:        o.blobs,
		materializer: NewMaterializer(o.geometry),
	}
	var cursors CursorStore = NewMemoryCursorStore()
	if o.blobs != nil {
		cursors = NewBlobCursorStore(o.blobs)
	}
	svc.provision = newProvisionJob(svc, cursors, o.chunkSize)
	return svc
}

// NewInMemoryService creates a service and in-memory store with the given rules engine.
func NewInMemoryService(engine *RulesEngine, opts ...ServiceOption) *Service {
	return NewService(NewMemoryStore(engine), opts...)
}

// Store returns the underlying storage implementation.
func (s *Service) Store() PersistentStore {
	return s.store
}

// Provisioning returns the count-only plot provisioning job bound to this service.
func (s *Service) Provisioning() *ProvisionJob {
	return s.provision
}

// run wraps an operation with tracing, metrics, logging and auditing. fn
// returns the id of the affected entity when one is known.
func (s *Service) run(ctx context.Context, op string, fn func(context.Context) (string, error)) error {
	ctx, span := s.tracer.Start(ctx, op)
	start := time.Now()
	entityID, err := fn(ctx)
	elapsed := time.Since(start)
	if es, ok := span.(entitySpan); ok && entityID != "" {
		es.SetEntityID(entityID)
	}
	span.End(err)
	s.metrics.Observe(ctx, op, err == nil, elapsed)
	if err != nil {
		s.logger.Error("operation failed", "op", op, "entity_id", entityID, "duration", elapsed, "error", err)
		s.recordAuditError(ctx, op, entityID, elapsed, err)
		return err
	}
	s.logger.Debug("operation completed", "op", op, "entity_id", entityID, "duration", elapsed)
	s.recordAuditSuccess(ctx, op, entityID, elapsed)
	return nil
}

func (s *Service) countPlots(ctx context.Context, op string, persisted, skipped int) {
	if c, ok := s.metrics.(PlotCounter); ok {
		c.CountPlots(ctx, op, persisted, skipped)
	}
}

type auditTarget struct {
	entity EntityType
	action Action
}

var auditOperations = map[string]auditTarget{
	"create_experiment": {EntityExperiment, ActionCreate},
	"update_experiment": {EntityExperiment, ActionUpdate},
	"delete_experiment": {EntityExperiment, ActionDelete},
	"create_boundary":   {EntityBoundary, ActionCreate},
	"delete_boundary":   {EntityBoundary, ActionDelete},
	"import_design":     {EntityExperiment, ActionUpdate},
	"provision_chunk":   {EntityPlot, ActionCreate},
}

func (s *Service) recordAuditSuccess(ctx context.Context, op, entityID string, d time.Duration) {
	s.recordAudit(ctx, op, entityID, d, nil)
}

func (s *Service) recordAuditError(ctx context.Context, op, entityID string, d time.Duration, err error) {
	s.recordAudit(ctx, op, entityID, d, err)
}

func (s *Service) recordAudit(ctx context.Context, op, entityID string, d time.Duration, err error) {
	target, ok := auditOperations[op]
	if !ok {
		return
	}
	entry := AuditEntry{
		Operation: op,
		Entity:    target.entity,
		Action:    target.action,
		EntityID:  entityID,
		Status:    AuditStatusSuccess,
		Duration:  d,
		Timestamp: s.clock.Now(),
	}
	if err != nil {
		entry.Status = AuditStatusError
		entry.Error = err.Error()
	}
	s.audit.Record(ctx, entry)
}

// CreateExperiment persists a new experiment.
func (s *Service) CreateExperiment(ctx context.Context, experiment Experiment) (Experiment, Result, error) {
	var created Experiment
	var res Result
	err := s.run(ctx, "create_experiment", func(ctx context.Context) (string, error) {
		if strings.TrimSpace(experiment.Name) == "" {
			return "", errors.New("experiment name is required")
		}
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			var err error
			created, err = tx.CreateExperiment(experiment)
			return err
		})
		return created.ID, err
	})
	return created, res, err
}

// UpdateExperiment mutates an experiment using the provided mutator.
func (s *Service) UpdateExperiment(ctx context.Context, id string, mutator func(*Experiment) error) (Experiment, Result, error) {
	var updated Experiment
	var res Result
	err := s.run(ctx, "update_experiment", func(ctx context.Context) (string, error) {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			var err error
			updated, err = tx.UpdateExperiment(id, mutator)
			return err
		})
		return id, err
	})
	return updated, res, err
}

// DeleteExperiment removes an experiment that has no plots or boundaries.
func (s *Service) DeleteExperiment(ctx context.Context, id string) (Result, error) {
	var res Result
	err := s.run(ctx, "delete_experiment", func(ctx context.Context) (string, error) {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			return tx.DeleteExperiment(id)
		})
		return id, err
	})
	return res, err
}

// GetExperiment returns an experiment by id.
func (s *Service) GetExperiment(id string) (Experiment, bool) {
	return s.store.GetExperiment(id)
}

// ExperimentPlots returns the plots stored for an experiment ordered by plot number.
func (s *Service) ExperimentPlots(experimentID string) []Plot {
	return s.store.ListExperimentPlots(experimentID)
}

// CreateBoundary converts a GeoJSON geometry, stores it as the experiment's
// boundary and links it from the experiment in one transaction.
func (s *Service) CreateBoundary(ctx context.Context, experimentID, name string, geojson []byte) (Boundary, Result, error) {
	var created Boundary
	var res Result
	err := s.run(ctx, "create_boundary", func(ctx context.Context) (string, error) {
		boundary := Boundary{ExperimentID: experimentID, Name: name}
		if len(geojson) > 0 {
			wkt, err := s.materializer.geometry.Convert(geojson)
			if err != nil {
				return "", fmt.Errorf("boundary geometry: %w", err)
			}
			boundary.Geometry = wkt
		}
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			if _, ok := tx.FindExperiment(experimentID); !ok {
				return domain.ErrNotFound{Entity: EntityExperiment, ID: experimentID}
			}
			var err error
			created, err = tx.CreateBoundary(boundary)
			if err != nil {
				return err
			}
			_, err = tx.UpdateExperiment(experimentID, func(e *Experiment) error {
				id := created.ID
				e.BoundaryID = &id
				return nil
			})
			return err
		})
		return created.ID, err
	})
	return created, res, err
}

// DeleteBoundary unlinks and removes an experiment boundary.
func (s *Service) DeleteBoundary(ctx context.Context, id string) (Result, error) {
	var res Result
	err := s.run(ctx, "delete_boundary", func(ctx context.Context) (string, error) {
		var err error
		res, err = s.store.RunInTransaction(ctx, func(tx Transaction) error {
			boundary, ok := tx.FindBoundary(id)
			if !ok {
				return domain.ErrNotFound{Entity: EntityBoundary, ID: id}
			}
			if exp, ok := tx.FindExperiment(boundary.ExperimentID); ok && exp.BoundaryID != nil && *exp.BoundaryID == id {
				if _, err := tx.UpdateExperiment(exp.ID, func(e *Experiment) error {
					e.BoundaryID = nil
					return nil
				}); err != nil {
					return err
				}
			}
			return tx.DeleteBoundary(id)
		})
		return id, err
	})
	return res, err
}
