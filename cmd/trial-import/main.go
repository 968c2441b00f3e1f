// Command trial-import validates an experiment design upload and, when it is
// clean, imports the design and its plots into the configured store. It can
// also provision a count of empty plots for an experiment in resumable chunks.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"fieldtrial/internal/blob"
	"fieldtrial/internal/core"
	"fieldtrial/internal/design"
	"fieldtrial/pkg/domain"
)

var exitFunc = os.Exit

func main() {
	code := cli(os.Args[1:], os.Stdout, os.Stderr)
	exitFunc(code)
}

type options struct {
	experimentID string
	name         string
	boundary     string
	descriptors  string
	levels       string
	plots        string
	format       string
	provision    int
	chunk        int
	validateOnly bool
	trace        bool
	metrics      string
	listPlots    bool
	logLevel     string
}

func cli(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("trial-import", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var opts options
	fs.StringVar(&opts.experimentID, "experiment", "", "id of an existing experiment")
	fs.StringVar(&opts.name, "name", "", "name of a new experiment to create when -experiment is not set")
	fs.StringVar(&opts.boundary, "boundary", "", "GeoJSON geometry file for the experiment boundary")
	fs.StringVar(&opts.descriptors, "descriptors", "", "column descriptor CSV")
	fs.StringVar(&opts.levels, "levels", "", "column level CSV")
	fs.StringVar(&opts.plots, "plots", "", "plot file (GeoJSON FeatureCollection or CSV)")
	fs.StringVar(&opts.format, "format", "auto", "plot file format: auto|geojson|csv")
	fs.IntVar(&opts.provision, "provision", 0, "reserve this many empty plots instead of importing a design")
	fs.IntVar(&opts.chunk, "chunk", 0, "plots per provisioning chunk (default from "+core.EnvChunkSize+")")
	fs.BoolVar(&opts.validateOnly, "validate-only", false, "report issues without persisting anything")
	fs.BoolVar(&opts.trace, "trace", false, "write operation spans as JSON lines to stderr")
	fs.StringVar(&opts.metrics, "metrics", "none", "dump operation and plot metrics to stderr on exit: none|expvar|prometheus")
	fs.BoolVar(&opts.listPlots, "list-plots", false, "print every imported plot with its factor levels")
	fs.StringVar(&opts.logLevel, "log-level", "info", "debug|info|warn|error")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if err := opts.check(); err != nil {
		fmt.Fprintf(stderr, "trial-import: %v\n", err)
		fs.Usage()
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, opts, stdout, stderr); err != nil {
		var verr domain.ValidationError
		if errors.As(err, &verr) {
			fmt.Fprintf(stderr, "Design rejected with %d issue(s).\n", len(verr.Issues))
			return 1
		}
		fmt.Fprintf(stderr, "trial-import: %v\n", err)
		return 1
	}
	return 0
}

func (o options) check() error {
	hasDesign := o.descriptors != "" || o.levels != "" || o.plots != ""
	switch {
	case hasDesign && o.provision > 0:
		return errors.New("-provision cannot be combined with design files")
	case !hasDesign && o.provision <= 0:
		return errors.New("nothing to do: supply design files or -provision")
	case hasDesign && (o.descriptors == "" || o.levels == "" || o.plots == ""):
		return errors.New("-descriptors, -levels and -plots are all required")
	case o.validateOnly && !hasDesign:
		return errors.New("-validate-only needs design files")
	case o.provision < 0 || o.chunk < 0:
		return errors.New("-provision and -chunk must not be negative")
	case o.experimentID == "" && strings.TrimSpace(o.name) == "" && !o.validateOnly:
		return errors.New("-experiment or -name is required")
	}
	if _, err := plotFormat(o.format); err != nil {
		return err
	}
	switch o.metrics {
	case "", "none", "expvar", "prometheus":
	default:
		return fmt.Errorf("unknown metrics exporter %q", o.metrics)
	}
	return nil
}

// metricsRecorder builds the recorder selected by -metrics and a function
// that writes its current values.
func metricsRecorder(kind string) (core.MetricsRecorder, func(io.Writer) error, error) {
	switch kind {
	case "expvar":
		m := core.NewExpvarMetrics("fieldtrial")
		return m, func(w io.Writer) error {
			_, err := fmt.Fprintln(w, m.String())
			return err
		}, nil
	case "prometheus":
		reg := prometheus.NewRegistry()
		m, err := core.NewPrometheusMetricsRecorder(reg)
		if err != nil {
			return nil, nil, err
		}
		return m, func(w io.Writer) error {
			families, err := reg.Gather()
			if err != nil {
				return err
			}
			for _, mf := range families {
				if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
					return err
				}
			}
			return nil
		}, nil
	default:
		return nil, nil, nil
	}
}

func plotFormat(s string) (design.PlotFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return design.PlotFormatAuto, nil
	case "geojson", "json":
		return design.PlotFormatGeoJSON, nil
	case "csv":
		return design.PlotFormatCSV, nil
	default:
		return "", fmt.Errorf("unknown plot format %q", s)
	}
}

func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}

func run(ctx context.Context, opts options, stdout, stderr io.Writer) (err error) {
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: parseLevel(opts.logLevel)}))

	store, err := core.OpenPersistentStore(core.NewDefaultRulesEngine())
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	if closer, ok := store.(io.Closer); ok {
		defer func() {
			if cerr := closer.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}()
	}
	blobs, err := blob.Open(ctx)
	if err != nil {
		return fmt.Errorf("open blob store: %w", err)
	}

	chunk := opts.chunk
	if chunk == 0 {
		if chunk, err = core.ChunkSizeFromEnv(); err != nil {
			return err
		}
	}

	svcOpts := []core.ServiceOption{
		core.WithLogger(core.NewSlogLogger(logger)),
		core.WithMessenger(core.MessengerFunc(func(_ context.Context, issue domain.ValidationIssue) {
			fmt.Fprintln(stdout, issue.String())
		})),
		core.WithPlotTypes(core.PlotTypesFromEnv()),
		core.WithBlobStore(blobs),
		core.WithChunkSize(chunk),
	}
	if opts.trace {
		svcOpts = append(svcOpts, core.WithTracer(core.NewJSONTracer(stderr)))
	}
	recorder, dump, err := metricsRecorder(opts.metrics)
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	if recorder != nil {
		svcOpts = append(svcOpts, core.WithMetricsRecorder(recorder))
		defer func() {
			if derr := dump(stderr); derr != nil && err == nil {
				err = derr
			}
		}()
	}
	svc := core.NewService(store, svcOpts...)

	if opts.validateOnly {
		return validate(ctx, svc, opts, stdout)
	}

	exp, err := experiment(ctx, svc, opts)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "experiment %s (%s)\n", exp.ID, exp.Name)

	if opts.boundary != "" {
		data, err := os.ReadFile(opts.boundary)
		if err != nil {
			return fmt.Errorf("read boundary: %w", err)
		}
		b, _, err := svc.CreateBoundary(ctx, exp.ID, "boundary", data)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "boundary %s\n", b.ID)
	}

	if opts.provision > 0 {
		cursor, err := svc.Provisioning().Run(ctx, exp.ID, opts.provision)
		if err != nil {
			return fmt.Errorf("provision stopped at %d/%d: %w", cursor.Progress, cursor.Max, err)
		}
		fmt.Fprintf(stdout, "provisioned %d plots\n", len(cursor.PlotIDs))
		return nil
	}

	sub, err := readSubmission(opts)
	if err != nil {
		return err
	}
	res, err := svc.ImportDesign(ctx, exp.ID, sub)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "imported %d plots, %d columns (submission %s)\n", len(res.Plots), len(res.Experiment.Design.Columns), res.SubmissionID)
	if len(res.Failed) > 0 {
		fmt.Fprintf(stdout, "%d plot(s) skipped: geometry could not be converted\n", len(res.Failed))
	}
	if opts.listPlots && res.Experiment.Design != nil {
		for _, p := range res.Plots {
			fmt.Fprintln(stdout, describePlot(*res.Experiment.Design, p))
		}
	}
	return nil
}

// describePlot renders a plot with its factor values resolved to column and
// level names, e.g. "plot 1 (P1): Fertiliser=Low".
func describePlot(doc domain.DesignDocument, p domain.Plot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "plot %d", p.PlotNumber)
	if p.PlotID != "" {
		fmt.Fprintf(&b, " (%s)", p.PlotID)
	}
	for i, f := range p.Factors {
		sep := ", "
		if i == 0 {
			sep = ": "
		}
		name, value := f.Key, f.Value
		if col, ok := doc.Column(f.Key); ok {
			name = col.ColumnName
		}
		if id, err := strconv.Atoi(f.Value); err == nil {
			if level, ok := doc.LevelName(f.Key, id); ok {
				value = level
			}
		}
		fmt.Fprintf(&b, "%s%s=%s", sep, name, value)
	}
	return b.String()
}

func experiment(ctx context.Context, svc *core.Service, opts options) (domain.Experiment, error) {
	if opts.experimentID != "" {
		exp, ok := svc.GetExperiment(opts.experimentID)
		if !ok {
			return domain.Experiment{}, domain.ErrNotFound{Entity: domain.EntityExperiment, ID: opts.experimentID}
		}
		return exp, nil
	}
	exp, _, err := svc.CreateExperiment(ctx, domain.Experiment{Name: strings.TrimSpace(opts.name)})
	return exp, err
}

func validate(ctx context.Context, svc *core.Service, opts options, stdout io.Writer) error {
	sub, err := readSubmission(opts)
	if err != nil {
		return err
	}
	outcome := svc.ValidateDesign(ctx, sub)
	if err := outcome.Err(); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "design valid: %d columns, %d plots\n", len(outcome.Descriptors), len(outcome.Plots))
	return nil
}

func readSubmission(opts options) (design.Submission, error) {
	format, err := plotFormat(opts.format)
	if err != nil {
		return design.Submission{}, err
	}
	sub := design.Submission{PlotFormat: format}
	for _, f := range []struct {
		path string
		dst  *[]byte
	}{
		{opts.descriptors, &sub.Descriptors},
		{opts.levels, &sub.Levels},
		{opts.plots, &sub.Plots},
	} {
		data, err := os.ReadFile(f.path)
		if err != nil {
			return design.Submission{}, fmt.Errorf("read %s: %w", f.path, err)
		}
		*f.dst = data
	}
	return sub, nil
}
