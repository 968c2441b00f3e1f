package core

import (
	"context"
	"expvar"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

var expvarSeq atomic.Uint64

// ExpvarMetrics publishes service outcomes and plot counts as one expvar map
// with three children:
//
//	operations   "<op>.success" / "<op>.error" counts
//	duration_ms  total milliseconds per operation
//	plots        "<op>.persisted" / "<op>.skipped" plot counts
type ExpvarMetrics struct {
	name       string
	root       *expvar.Map
	operations *expvar.Map
	durations  *expvar.Map
	plots      *expvar.Map
}

// NewExpvarMetrics publishes a metrics map under name, or reuses the map
// already published there. An empty name generates a unique one.
func NewExpvarMetrics(name string) *ExpvarMetrics {
	if name == "" {
		name = fmt.Sprintf("fieldtrial_metrics_%d", expvarSeq.Add(1))
	}
	root, ok := expvar.Get(name).(*expvar.Map)
	if !ok {
		root = expvar.NewMap(name)
	}
	return &ExpvarMetrics{
		name:       name,
		root:       root,
		operations: childMap(root, "operations"),
		durations:  childMap(root, "duration_ms"),
		plots:      childMap(root, "plots"),
	}
}

func childMap(root *expvar.Map, key string) *expvar.Map {
	if m, ok := root.Get(key).(*expvar.Map); ok {
		return m
	}
	m := new(expvar.Map).Init()
	root.Set(key, m)
	return m
}

// Name returns the expvar name the map is published under.
func (m *ExpvarMetrics) Name() string { return m.name }

// String renders the published map as JSON.
func (m *ExpvarMetrics) String() string { return m.root.String() }

// Observe implements MetricsRecorder.
func (m *ExpvarMetrics) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	status := "error"
	if success {
		status = "success"
	}
	m.operations.Add(operation+"."+status, 1)
	m.durations.AddFloat(operation, float64(duration)/float64(time.Millisecond))
}

// CountPlots implements PlotCounter.
func (m *ExpvarMetrics) CountPlots(_ context.Context, operation string, persisted, skipped int) {
	m.plots.Add(operation+".persisted", int64(persisted))
	if skipped > 0 {
		m.plots.Add(operation+".skipped", int64(skipped))
	}
}

// Operations returns the success or error count recorded for an operation.
func (m *ExpvarMetrics) Operations(operation string, success bool) int64 {
	status := "error"
	if success {
		status = "success"
	}
	return intVar(m.operations, operation+"."+status)
}

// Plots returns the persisted and skipped plot counts for an operation.
func (m *ExpvarMetrics) Plots(operation string) (persisted, skipped int64) {
	return intVar(m.plots, operation+".persisted"), intVar(m.plots, operation+".skipped")
}

// DurationMS returns the total time spent in an operation.
func (m *ExpvarMetrics) DurationMS(operation string) float64 {
	if v, ok := m.durations.Get(operation).(*expvar.Float); ok {
		return v.Value()
	}
	return 0
}

func intVar(m *expvar.Map, key string) int64 {
	if v, ok := m.Get(key).(*expvar.Int); ok {
		return v.Value()
	}
	return 0
}

// SpanRecord is one finished operation span.
type SpanRecord struct {
	Operation string
	EntityID  string
	Err       string
	Started   time.Time
	Duration  time.Duration
}

// OK reports whether the operation succeeded.
func (r SpanRecord) OK() bool { return r.Err == "" }

// SpanLog is a Tracer that writes finished spans as JSON log lines and keeps
// them for inspection.
type SpanLog struct {
	logger *slog.Logger

	mu      sync.Mutex
	records []SpanRecord
}

// NewJSONTracer returns a SpanLog writing to w. A nil writer only retains spans.
func NewJSONTracer(w io.Writer) *SpanLog {
	t := &SpanLog{}
	if w != nil {
		t.logger = slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	return t
}

// Records returns a copy of the finished spans in completion order.
func (t *SpanLog) Records() []SpanRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]SpanRecord(nil), t.records...)
}

// Start implements Tracer.
func (t *SpanLog) Start(ctx context.Context, operation string) (context.Context, TraceSpan) {
	return ctx, &logSpan{log: t, rec: SpanRecord{Operation: operation, Started: time.Now().UTC()}}
}

type logSpan struct {
	log *SpanLog
	rec SpanRecord
}

func (s *logSpan) SetEntityID(id string) { s.rec.EntityID = id }

func (s *logSpan) End(err error) {
	s.rec.Duration = time.Since(s.rec.Started)
	if err != nil {
		s.rec.Err = err.Error()
	}
	s.log.mu.Lock()
	s.log.records = append(s.log.records, s.rec)
	s.log.mu.Unlock()

	if s.log.logger == nil {
		return
	}
	attrs := []slog.Attr{
		slog.String("op", s.rec.Operation),
		slog.Bool("ok", s.rec.OK()),
		slog.Float64("duration_ms", float64(s.rec.Duration)/float64(time.Millisecond)),
	}
	if s.rec.EntityID != "" {
		attrs = append(attrs, slog.String("entity_id", s.rec.EntityID))
	}
	level := slog.LevelInfo
	if err != nil {
		level = slog.LevelError
		attrs = append(attrs, slog.String("error", s.rec.Err))
	}
	s.log.logger.LogAttrs(context.Background(), level, "span", attrs...)
}
