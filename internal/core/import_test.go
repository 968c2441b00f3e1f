package core

import (
	"context"
	"errors"
	"io"
	"slices"
	"strings"
	"testing"

	"fieldtrial/internal/blob"
	"fieldtrial/internal/design"
	"fieldtrial/pkg/domain"
)

func TestImportDesignCreatesPlotsAndDesign(t *testing.T) {
	ctx := context.Background()
	issues := &IssueCollector{}
	svc := NewInMemoryService(NewDefaultRulesEngine(), WithMessenger(issues))
	exp := mustExperiment(t, svc, "Scenario")

	res, err := svc.ImportDesign(ctx, exp.ID, testSubmission(`"na"`))
	if err != nil {
		t.Fatalf("import design: %v", err)
	}
	if len(issues.Issues()) != 0 {
		t.Fatalf("expected zero issues, got %+v", issues.Issues())
	}
	if res.SubmissionID == "" {
		t.Fatalf("expected submission id")
	}
	if len(res.Plots) != 2 || len(res.Failed) != 0 {
		t.Fatalf("expected two plots and no failures, got %d/%d", len(res.Plots), len(res.Failed))
	}

	stored, _ := svc.GetExperiment(exp.ID)
	if stored.Design == nil || len(stored.Design.Columns) != 1 {
		t.Fatalf("expected design with one descriptor, got %+v", stored.Design)
	}
	col := stored.Design.Columns[0]
	if col.ColumnID != "F1" || len(col.FactorLevels) != 2 {
		t.Fatalf("unexpected descriptor %+v", col)
	}
	if len(stored.PlotIDs) != 2 {
		t.Fatalf("expected two attached plot ids, got %v", stored.PlotIDs)
	}

	plots := svc.ExperimentPlots(exp.ID)
	if len(plots) != 2 {
		t.Fatalf("expected two stored plots, got %d", len(plots))
	}
	first, second := plots[0], plots[1]
	if first.PlotNumber != 1 || first.PlotID != "P1" || first.Name != "Plot 1 (P1)" || !strings.HasPrefix(first.Geometry, "POLYGON") {
		t.Fatalf("unexpected first plot %+v", first)
	}
	if v, ok := first.Factor("F1"); !ok || v != "1" {
		t.Fatalf("expected F1=1 on first plot, got %q (%v)", v, ok)
	}
	if second.Geometry != "" || len(second.Factors) != 0 {
		t.Fatalf("expected bare second plot, got %+v", second)
	}
}

func TestImportDesignRejectsInvalidLevel(t *testing.T) {
	ctx := context.Background()
	issues := &IssueCollector{}
	svc := NewInMemoryService(NewDefaultRulesEngine(), WithMessenger(issues))
	exp := mustExperiment(t, svc, "Bad level")

	_, err := svc.ImportDesign(ctx, exp.ID, testSubmission(`3`))
	var verr domain.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(verr.Issues) != 1 || !strings.Contains(verr.Issues[0].Message, "invalid level_id for column_id 'F1': 3") {
		t.Fatalf("expected single invalid level issue, got %+v", verr.Issues)
	}
	if got := issues.Issues(); len(got) != 1 || got[0] != verr.Issues[0] {
		t.Fatalf("expected messenger to receive the same issue, got %+v", got)
	}
	if len(svc.Store().ListPlots()) != 0 {
		t.Fatalf("no plots may be persisted for an invalid submission")
	}
	stored, _ := svc.GetExperiment(exp.ID)
	if stored.Design != nil || stored.HasPlots() {
		t.Fatalf("experiment must be unchanged, got %+v", stored)
	}
}

func TestImportDesignReportsLengthMismatch(t *testing.T) {
	issues := &IssueCollector{}
	svc := NewInMemoryService(NewDefaultRulesEngine(), WithMessenger(issues))
	exp := mustExperiment(t, svc, "Short levels")
	sub := testSubmission(`"na"`)
	sub.Levels = []byte("column_id,level_id,level_name\nF1,1,Low\n")

	_, err := svc.ImportDesign(context.Background(), exp.ID, sub)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	got := issues.Issues()
	if len(got) != 1 || got[0].File != domain.FileColumnLevels {
		t.Fatalf("expected one level issue, got %+v", got)
	}
	if !strings.Contains(got[0].Message, "got 1, expected 2") {
		t.Fatalf("expected got=1 expected=2 in message, got %q", got[0].Message)
	}
}

func TestImportDesignIsAppendOnce(t *testing.T) {
	ctx := context.Background()
	issues := &IssueCollector{}
	svc := NewInMemoryService(NewDefaultRulesEngine(), WithMessenger(issues))
	exp := mustExperiment(t, svc, "Once")
	if _, err := svc.ImportDesign(ctx, exp.ID, testSubmission(`2`)); err != nil {
		t.Fatalf("first import: %v", err)
	}
	_, err := svc.ImportDesign(ctx, exp.ID, testSubmission(`"na"`))
	if !errors.Is(err, domain.ErrPlotsAlreadyAttached) {
		t.Fatalf("expected ErrPlotsAlreadyAttached, got %v", err)
	}
	if len(issues.Issues()) != 1 {
		t.Fatalf("expected the refusal to be reported once, got %+v", issues.Issues())
	}
	if got := len(svc.Store().ListPlots()); got != 2 {
		t.Fatalf("expected original two plots only, got %d", got)
	}
}

func TestImportDesignMissingExperiment(t *testing.T) {
	svc := NewInMemoryService(NewDefaultRulesEngine())
	var notFound domain.ErrNotFound
	if _, err := svc.ImportDesign(context.Background(), "nope", testSubmission(`"na"`)); !errors.As(err, &notFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestImportDesignSkipsPlotWithBadGeometry(t *testing.T) {
	ctx := context.Background()
	issues := &IssueCollector{}
	svc := NewInMemoryService(NewDefaultRulesEngine(),
		WithMessenger(issues),
		WithGeometryService(failingGeometry{marker: "[1,1]"}),
	)
	exp := mustExperiment(t, svc, "Geometry")

	res, err := svc.ImportDesign(ctx, exp.ID, testSubmission(`"na"`))
	if err != nil {
		t.Fatalf("import design: %v", err)
	}
	if len(res.Failed) != 1 || res.Failed[0].PlotID != "P1" {
		t.Fatalf("expected P1 geometry failure, got %+v", res.Failed)
	}
	if len(res.Plots) != 1 || res.Plots[0].PlotID != "P2" {
		t.Fatalf("expected only P2 persisted, got %+v", res.Plots)
	}
	got := issues.Issues()
	if len(got) != 1 || got[0].Field != "geometry" || got[0].File != domain.FilePlots {
		t.Fatalf("expected one geometry issue, got %+v", got)
	}
	// The skipped plot cannot be added afterwards: the plot list is append-once.
	if _, err := svc.ImportDesign(ctx, exp.ID, testSubmission(`"na"`)); !errors.Is(err, domain.ErrPlotsAlreadyAttached) {
		t.Fatalf("expected re-import to be refused, got %v", err)
	}
}

func TestImportDesignArchivesUploads(t *testing.T) {
	ctx := context.Background()
	store := blob.NewMemory()
	svc := NewInMemoryService(NewDefaultRulesEngine(), WithBlobStore(store))
	exp := mustExperiment(t, svc, "Archived")

	res, err := svc.ImportDesign(ctx, exp.ID, testSubmission(`"na"`))
	if err != nil {
		t.Fatalf("import design: %v", err)
	}
	if len(res.Archived) != 3 {
		t.Fatalf("expected three archived files, got %d", len(res.Archived))
	}
	infos, err := store.List(ctx, blob.UploadsPrefix+"/"+exp.ID+"/"+res.SubmissionID)
	if err != nil {
		t.Fatalf("list uploads: %v", err)
	}
	var keys []string
	for _, info := range infos {
		keys = append(keys, info.Key)
	}
	want := blob.UploadKey(exp.ID, res.SubmissionID, string(domain.FilePlots))
	if !slices.Contains(keys, want) {
		t.Fatalf("expected %s among %v", want, keys)
	}
	info, rc, err := store.Get(ctx, want)
	if err != nil {
		t.Fatalf("get archived plots: %v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != testPlots(`"na"`) {
		t.Fatalf("archived bytes differ from upload")
	}
	if info.ContentType != "application/geo+json" || info.Metadata["submission"] != res.SubmissionID {
		t.Fatalf("unexpected archived info %+v", info)
	}
}

func TestImportDesignDoesNotArchiveInvalidSubmission(t *testing.T) {
	ctx := context.Background()
	store := blob.NewMemory()
	svc := NewInMemoryService(NewDefaultRulesEngine(), WithBlobStore(store))
	exp := mustExperiment(t, svc, "Rejected")
	if _, err := svc.ImportDesign(ctx, exp.ID, testSubmission(`7`)); err == nil {
		t.Fatalf("expected validation error")
	}
	infos, err := store.List(ctx, blob.UploadsPrefix)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(infos) != 0 {
		t.Fatalf("expected nothing archived, got %+v", infos)
	}
}

type frozenPlotsRule struct{}

func (frozenPlotsRule) Name() string { return "frozen_plots" }

func (r frozenPlotsRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	for _, change := range changes {
		if change.Entity == domain.EntityPlot {
			return domain.Result{Violations: []domain.Violation{{
				Rule: r.Name(), Severity: domain.SeverityBlock, Message: "plots are frozen", Entity: domain.EntityPlot,
			}}}, nil
		}
	}
	return domain.Result{}, nil
}

func TestImportDesignDiscardsArchiveWhenCommitFails(t *testing.T) {
	ctx := context.Background()
	store := blob.NewMemory()
	engine := NewRulesEngine()
	engine.Register(frozenPlotsRule{})
	svc := NewInMemoryService(engine, WithBlobStore(store))
	exp := mustExperiment(t, svc, "Frozen")

	res, err := svc.ImportDesign(ctx, exp.ID, testSubmission(`"na"`))
	var violation domain.RuleViolationError
	if !errors.As(err, &violation) {
		t.Fatalf("expected rule violation, got %v", err)
	}
	if len(res.Archived) != 0 || len(res.Plots) != 0 {
		t.Fatalf("expected no committed output, got %+v", res)
	}
	infos, err := store.List(ctx, blob.UploadsPrefix)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(infos) != 0 {
		t.Fatalf("expected archived uploads removed, got %+v", infos)
	}
	if stored, _ := svc.GetExperiment(exp.ID); stored.HasPlots() || stored.Design != nil {
		t.Fatalf("experiment must be unchanged, got %+v", stored)
	}
}

func TestValidateDesignUsesConfiguredPlotTypes(t *testing.T) {
	issues := &IssueCollector{}
	svc := NewInMemoryService(NewRulesEngine(), WithMessenger(issues), WithPlotTypes(StaticPlotTypes{"treated"}))
	out := svc.ValidateDesign(context.Background(), testSubmission(`"na"`))
	if out.OK() {
		t.Fatalf("expected plot type issues with restricted vocabulary")
	}
	for _, issue := range issues.Issues() {
		if issue.File != domain.FilePlots {
			t.Fatalf("unexpected issue outside plot file: %+v", issue)
		}
	}
	if len(issues.Issues()) != len(out.Issues) {
		t.Fatalf("every issue must reach the messenger")
	}
}

func TestRevalidateFileReplacesFileIssues(t *testing.T) {
	ctx := context.Background()
	svc := NewInMemoryService(NewRulesEngine())
	prior := svc.ValidateDesign(ctx, testSubmission(`3`))
	if len(prior.IssuesFor(domain.FilePlots)) != 1 {
		t.Fatalf("expected one plot issue, got %+v", prior.Issues)
	}
	next, err := svc.RevalidateFile(ctx, domain.FilePlots, []byte(testPlots(`2`)), design.PlotFormatAuto, prior)
	if err != nil {
		t.Fatalf("revalidate: %v", err)
	}
	if !next.OK() || next.Design == nil {
		t.Fatalf("expected clean outcome with design, got %+v", next.Issues)
	}
	if _, err := svc.RevalidateFile(ctx, domain.FileKind("photos"), nil, design.PlotFormatAuto, prior); !errors.Is(err, design.ErrUnknownFileKind) {
		t.Fatalf("expected ErrUnknownFileKind, got %v", err)
	}
}
