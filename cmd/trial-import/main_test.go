package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"fieldtrial/internal/blob"
	"fieldtrial/internal/core"
)

const descriptorsCSV = "column_type,column_id,column_name,ontology_name,length,ontology_description,ontology_uri,data_type\n" +
	"treatment_factor,F1,Fertiliser,Nitrogen rate,2,Applied nitrogen,http://purl.example/N,integer\n"

const levelsCSV = "column_id,level_id,level_name,quantity,units\n" +
	"F1,1,Low,50,kg/ha\n" +
	"F1,2,High,100,kg/ha\n"

func plotsGeoJSON(secondLevel string) string {
	return `{"type":"FeatureCollection","features":[
		{"type":"Feature","properties":{"plot_number":1,"plot_id":"P1","plot_type":"undefined","row":1,"column":1,"F1":1},
		 "geometry":{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,1],[0,0]]]}},
		{"type":"Feature","properties":{"plot_number":2,"plot_id":"P2","plot_type":"undefined","row":1,"column":2,"F1":` + secondLevel + `},
		 "geometry":null}
	]}`
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func setupEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv(core.EnvStorageDriver, "memory")
	t.Setenv(blob.EnvDriver, "fs")
	t.Setenv(blob.EnvFSRoot, filepath.Join(dir, "blobs"))
	t.Setenv(core.EnvChunkSize, "")
	t.Setenv(core.EnvPlotTypes, "")
	return dir
}

func designArgs(t *testing.T, dir, secondLevel string) []string {
	t.Helper()
	return []string{
		"-descriptors", writeFile(t, dir, "descriptors.csv", descriptorsCSV),
		"-levels", writeFile(t, dir, "levels.csv", levelsCSV),
		"-plots", writeFile(t, dir, "plots.geojson", plotsGeoJSON(secondLevel)),
	}
}

func TestCLIImportsDesign(t *testing.T) {
	dir := setupEnv(t)
	var out, errBuf bytes.Buffer
	args := append([]string{"-name", "Broadbalk"}, designArgs(t, dir, `"na"`)...)
	if code := cli(args, &out, &errBuf); code != 0 {
		t.Fatalf("expected exit 0, got %d: %s", code, errBuf.String())
	}
	if !strings.Contains(out.String(), "imported 2 plots, 1 columns") {
		t.Fatalf("unexpected output %q", out.String())
	}
	entries, err := os.ReadDir(filepath.Join(dir, "blobs", blob.UploadsPrefix))
	if err != nil || len(entries) != 1 {
		t.Fatalf("expected archived uploads for one experiment, got %v %v", entries, err)
	}
}

func TestCLIReportsEveryIssue(t *testing.T) {
	dir := setupEnv(t)
	var out, errBuf bytes.Buffer
	args := append([]string{"-name", "Rejected"}, designArgs(t, dir, `3`)...)
	if code := cli(args, &out, &errBuf); code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
	if !strings.Contains(out.String(), "invalid level_id for column_id 'F1': 3") {
		t.Fatalf("expected issue on stdout, got %q", out.String())
	}
	if !strings.Contains(errBuf.String(), "Design rejected with 1 issue(s).") {
		t.Fatalf("expected rejection summary, got %q", errBuf.String())
	}
}

func TestCLIValidateOnly(t *testing.T) {
	dir := setupEnv(t)
	var out, errBuf bytes.Buffer
	args := append([]string{"-validate-only"}, designArgs(t, dir, `2`)...)
	if code := cli(args, &out, &errBuf); code != 0 {
		t.Fatalf("expected exit 0, got %d: %s", code, errBuf.String())
	}
	if !strings.Contains(out.String(), "design valid: 1 columns, 2 plots") {
		t.Fatalf("unexpected output %q", out.String())
	}
}

func TestCLIProvisionsPlots(t *testing.T) {
	dir := setupEnv(t)
	var out, errBuf bytes.Buffer
	boundary := writeFile(t, dir, "boundary.geojson", `{"type":"Polygon","coordinates":[[[0,0],[9,0],[9,9],[0,9],[0,0]]]}`)
	args := []string{"-name", "Reserved", "-boundary", boundary, "-provision", "7", "-chunk", "3", "-trace"}
	if code := cli(args, &out, &errBuf); code != 0 {
		t.Fatalf("expected exit 0, got %d: %s", code, errBuf.String())
	}
	if !strings.Contains(out.String(), "provisioned 7 plots") || !strings.Contains(out.String(), "boundary ") {
		t.Fatalf("unexpected output %q", out.String())
	}
	if got := strings.Count(errBuf.String(), `"op":"provision_chunk"`); got != 3 {
		t.Fatalf("expected three chunk spans, got %d in %q", got, errBuf.String())
	}
}

func TestCLIExportsPrometheusMetrics(t *testing.T) {
	dir := setupEnv(t)
	var out, errBuf bytes.Buffer
	args := append([]string{"-name", "Measured", "-metrics", "prometheus", "-list-plots"}, designArgs(t, dir, `2`)...)
	if code := cli(args, &out, &errBuf); code != 0 {
		t.Fatalf("expected exit 0, got %d: %s", code, errBuf.String())
	}
	for _, want := range []string{
		`fieldtrial_service_operations_total{operation="import_design",status="success"} 1`,
		`fieldtrial_service_plots_total{operation="import_design",outcome="persisted"} 2`,
	} {
		if !strings.Contains(errBuf.String(), want) {
			t.Fatalf("expected %q in metrics dump %q", want, errBuf.String())
		}
	}
	for _, want := range []string{"plot 1 (P1): Fertiliser=Low", "plot 2 (P2): Fertiliser=High"} {
		if !strings.Contains(out.String(), want) {
			t.Fatalf("expected %q in %q", want, out.String())
		}
	}
}

func TestCLIExportsExpvarMetrics(t *testing.T) {
	setupEnv(t)
	var out, errBuf bytes.Buffer
	args := []string{"-name", "Reserved", "-provision", "4", "-chunk", "2", "-metrics", "expvar"}
	if code := cli(args, &out, &errBuf); code != 0 {
		t.Fatalf("expected exit 0, got %d: %s", code, errBuf.String())
	}
	if !strings.Contains(errBuf.String(), `"provision_chunk.persisted"`) || !strings.Contains(errBuf.String(), `"provision_chunk.success"`) {
		t.Fatalf("expected provisioning counters in %q", errBuf.String())
	}
}

func TestCLIUsageErrors(t *testing.T) {
	setupEnv(t)
	cases := [][]string{
		{},
		{"--bogus"},
		{"-name", "x", "-provision", "3", "-plots", "p.geojson"},
		{"-name", "x", "-plots", "p.geojson"},
		{"-provision", "3"},
		{"-name", "x", "-provision", "3", "-format", "shp"},
		{"-name", "x", "-provision", "3", "-metrics", "statsd"},
	}
	for _, args := range cases {
		var out, errBuf bytes.Buffer
		if code := cli(args, &out, &errBuf); code != 2 {
			t.Fatalf("args %v: expected exit 2, got %d", args, code)
		}
	}
}

func TestCLIMissingExperiment(t *testing.T) {
	setupEnv(t)
	var out, errBuf bytes.Buffer
	if code := cli([]string{"-experiment", "missing", "-provision", "2"}, &out, &errBuf); code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
	if !strings.Contains(errBuf.String(), "missing") {
		t.Fatalf("expected not-found message, got %q", errBuf.String())
	}
}

func TestMainUsesExitFunc(t *testing.T) {
	setupEnv(t)
	var code int
	exitFunc = func(c int) { code = c }
	defer func() { exitFunc = os.Exit }()
	oldArgs := os.Args
	os.Args = []string{"trial-import"}
	defer func() { os.Args = oldArgs }()
	main()
	if code != 2 {
		t.Fatalf("expected exit code 2, got %d", code)
	}
}
