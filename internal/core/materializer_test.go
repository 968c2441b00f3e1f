package core

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"testing"

	"fieldtrial/internal/design"
	"fieldtrial/pkg/domain"
)

func TestMaterializerRoundTrip(t *testing.T) {
	ctx := context.Background()
	svc := NewInMemoryService(NewDefaultRulesEngine())
	exp := mustExperiment(t, svc, "round trip")

	rec := design.PlotRecord{
		Row:            1,
		PlotNumber:     4,
		PlotID:         "P4",
		PlotType:       "treated",
		GridRow:        2,
		GridColumn:     3,
		ParentLocation: "block-a",
		Geometry:       json.RawMessage(`{"type":"Point","coordinates":[-0.35,51.8]}`),
		Factors:        []FactorPair{{Key: "F1", Value: "2"}, {Key: "variety", Value: "Skyfall"}},
	}
	built, err := svc.materializer.Build(exp.ID, nil, rec)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	var stored Plot
	if _, err := svc.Store().RunInTransaction(ctx, func(tx Transaction) error {
		var err error
		stored, err = tx.CreatePlot(built)
		return err
	}); err != nil {
		t.Fatalf("persist: %v", err)
	}
	got, ok := svc.Store().GetPlot(stored.ID)
	if !ok {
		t.Fatalf("plot %s not found", stored.ID)
	}
	if got.PlotNumber != 4 || got.PlotID != "P4" || got.PlotType != "treated" || got.Row != 2 || got.Column != 3 {
		t.Fatalf("required attributes not preserved: %+v", got)
	}
	if got.ParentLocation != "block-a" || got.Geometry == "" || got.Name != "Plot 4 (P4)" {
		t.Fatalf("unexpected plot %+v", got)
	}
	key := func(p FactorPair) string { return p.Key + "=" + p.Value }
	want := []string{"F1=2", "variety=Skyfall"}
	var have []string
	for _, f := range got.Factors {
		have = append(have, key(f))
	}
	slices.Sort(have)
	if !slices.Equal(have, want) {
		t.Fatalf("factor pairs differ: %v vs %v", have, want)
	}
}

func TestMaterializerGeometryFailure(t *testing.T) {
	m := NewMaterializer(failingGeometry{marker: "Polygon"})
	_, err := m.Build("exp", nil, design.PlotRecord{
		Row:        3,
		PlotNumber: 3,
		PlotID:     "P3",
		Geometry:   json.RawMessage(`{"type":"Polygon","coordinates":[]}`),
	})
	var geomErr *domain.GeometryConversionError
	if !errors.As(err, &geomErr) {
		t.Fatalf("expected GeometryConversionError, got %v", err)
	}
	if geomErr.PlotID != "P3" || geomErr.Row != 3 || geomErr.Unwrap() == nil {
		t.Fatalf("unexpected error detail %+v", geomErr)
	}

	plot, err := m.Build("exp", strPtr("b"), design.PlotRecord{PlotNumber: 5})
	if err != nil {
		t.Fatalf("missing geometry must be skipped: %v", err)
	}
	if plot.Geometry != "" || plot.Name != "Plot 5" || *plot.BoundaryID != "b" {
		t.Fatalf("unexpected plot %+v", plot)
	}
}

func TestMaterializerReserve(t *testing.T) {
	boundary := "b-1"
	plot := NewMaterializer(nil).Reserve("exp", &boundary, 12)
	boundary = "changed"
	if plot.Name != "Plot 12" || plot.PlotNumber != 12 || plot.ExperimentID != "exp" {
		t.Fatalf("unexpected reserved plot %+v", plot)
	}
	if plot.BoundaryID == nil || *plot.BoundaryID != "b-1" {
		t.Fatalf("boundary reference must be copied, got %v", plot.BoundaryID)
	}
}
