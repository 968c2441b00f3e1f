package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"fieldtrial/internal/blob"
	"fieldtrial/internal/design"
	"fieldtrial/pkg/domain"
)

// ImportResult summarises a committed design import.
type ImportResult struct {
	SubmissionID string
	Experiment   Experiment
	Plots        []Plot
	// Failed lists plots refused because their geometry could not be converted.
	Failed   []*domain.GeometryConversionError
	Archived []blob.Info
	// Warnings are non-blocking rule findings raised by the commit.
	Warnings []domain.Violation
}

// Pipeline returns a validation pipeline for the configured plot types.
func (s *Service) Pipeline() design.Pipeline {
	return design.NewPipeline(s.plotTypes.ListValidPlotTypes()...)
}

// ValidateDesign validates a submission without persisting anything. Every
// issue is reported to the messenger.
func (s *Service) ValidateDesign(ctx context.Context, sub design.Submission) design.Outcome {
	outcome := s.Pipeline().Run(sub)
	s.report(ctx, outcome.Issues)
	return outcome
}

// RevalidateFile re-checks one corrected file against a previous outcome.
func (s *Service) RevalidateFile(ctx context.Context, kind domain.FileKind, data []byte, format design.PlotFormat, prior design.Outcome) (design.Outcome, error) {
	outcome, err := s.Pipeline().ValidateFile(kind, data, format, prior)
	if err != nil {
		return prior, err
	}
	s.report(ctx, outcome.IssuesFor(kind))
	return outcome, nil
}

func (s *Service) report(ctx context.Context, issues []ValidationIssue) {
	for _, issue := range issues {
		s.messenger.Report(ctx, issue)
	}
}

// ImportDesign validates a submission and, when it is clean, archives the raw
// files, attaches the assembled design to the experiment and creates its
// plots in a single transaction. Any validation issue blocks persistence and
// is returned as a domain.ValidationError.
func (s *Service) ImportDesign(ctx context.Context, experimentID string, sub design.Submission) (ImportResult, error) {
	var result ImportResult
	err := s.run(ctx, "import_design", func(ctx context.Context) (string, error) {
		exp, ok := s.store.GetExperiment(experimentID)
		if !ok {
			return experimentID, domain.ErrNotFound{Entity: EntityExperiment, ID: experimentID}
		}
		if exp.HasPlots() {
			s.messenger.Report(ctx, ValidationIssue{File: domain.FilePlots, Message: domain.ErrPlotsAlreadyAttached.Error()})
			return experimentID, domain.ErrPlotsAlreadyAttached
		}

		outcome := s.ValidateDesign(ctx, sub)
		if err := outcome.Err(); err != nil {
			return experimentID, err
		}
		if outcome.Design == nil {
			return experimentID, errors.New("submission produced no design document")
		}

		result.SubmissionID = uuid.NewString()
		plots := make([]Plot, 0, len(outcome.Plots))
		for _, rec := range outcome.Plots {
			plot, err := s.materializer.Build(experimentID, exp.BoundaryID, rec)
			var geomErr *domain.GeometryConversionError
			if errors.As(err, &geomErr) {
				result.Failed = append(result.Failed, geomErr)
				s.messenger.Report(ctx, ValidationIssue{File: domain.FilePlots, Row: rec.Row, Field: "geometry", Message: geomErr.Error()})
				continue
			}
			if err != nil {
				return experimentID, err
			}
			plots = append(plots, plot)
		}

		archived, err := s.archive(ctx, experimentID, result.SubmissionID, sub)
		if err != nil {
			s.discardArchive(ctx, archived)
			return experimentID, err
		}

		designDoc := outcome.Design.Clone()
		res, err := s.store.RunInTransaction(ctx, func(tx Transaction) error {
			current, ok := tx.FindExperiment(experimentID)
			if !ok {
				return domain.ErrNotFound{Entity: EntityExperiment, ID: experimentID}
			}
			if current.HasPlots() {
				return domain.ErrPlotsAlreadyAttached
			}
			created := make([]Plot, 0, len(plots))
			ids := make([]string, 0, len(plots))
			for _, p := range plots {
				c, err := tx.CreatePlot(p)
				if err != nil {
					return fmt.Errorf("create plot %d: %w", p.PlotNumber, err)
				}
				created = append(created, c)
				ids = append(ids, c.ID)
			}
			updated, err := tx.UpdateExperiment(experimentID, func(e *Experiment) error {
				e.Design = &designDoc
				e.PlotIDs = ids
				return nil
			})
			if err != nil {
				return err
			}
			result.Experiment = updated
			result.Plots = created
			return nil
		})
		if err != nil {
			s.discardArchive(ctx, archived)
			result.Experiment, result.Plots = Experiment{}, nil
			return experimentID, err
		}
		result.Archived = archived
		for _, v := range res.Violations {
			if v.Severity != domain.SeverityWarn {
				continue
			}
			result.Warnings = append(result.Warnings, v)
			s.messenger.Report(ctx, ValidationIssue{File: domain.FilePlots, Message: v.Message})
		}
		s.countPlots(ctx, "import_design", len(result.Plots), len(result.Failed))
		s.logger.Info("design imported", "experiment_id", experimentID, "submission_id", result.SubmissionID,
			"plots", len(result.Plots), "failed", len(result.Failed), "columns", len(designDoc.Columns))
		return experimentID, nil
	})
	return result, err
}

// archive stores the raw submitted files under uploads/<experiment>/<submission>/<kind>.
func (s *Service) archive(ctx context.Context, experimentID, submissionID string, sub design.Submission) ([]blob.Info, error) {
	if s.blobs == nil {
		return nil, nil
	}
	var out []blob.Info
	for _, kind := range []domain.FileKind{domain.FileColumnDescriptors, domain.FileColumnLevels, domain.FilePlots} {
		data := sub.File(kind)
		if len(data) == 0 {
			continue
		}
		contentType := "text/csv"
		if kind == domain.FilePlots && plotFormat(sub.PlotFormat, data) == design.PlotFormatGeoJSON {
			contentType = "application/geo+json"
		}
		info, err := s.blobs.Put(ctx, blob.UploadKey(experimentID, submissionID, string(kind)), bytes.NewReader(data), blob.PutOptions{
			ContentType: contentType,
			Metadata:    map[string]string{"experiment": experimentID, "submission": submissionID, "kind": string(kind)},
		})
		if err != nil {
			return out, fmt.Errorf("archive %s: %w", kind, err)
		}
		out = append(out, info)
	}
	return out, nil
}

// discardArchive removes uploads archived for a submission that was not committed.
func (s *Service) discardArchive(ctx context.Context, archived []blob.Info) {
	for _, info := range archived {
		if _, err := s.blobs.Delete(ctx, info.Key); err != nil {
			s.logger.Warn("discard archived upload", "key", info.Key, "error", err)
		}
	}
}

func plotFormat(format design.PlotFormat, data []byte) design.PlotFormat {
	if format == design.PlotFormatAuto {
		return design.DetectPlotFormat(data)
	}
	return format
}
