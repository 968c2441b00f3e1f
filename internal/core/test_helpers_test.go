package core

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"fieldtrial/internal/design"
)

func strPtr(v string) *string {
	return &v
}

const testDescriptors = "column_type,column_id,column_name,ontology_name,length,ontology_description,ontology_uri,data_type\n" +
	"treatment_factor,F1,Fertiliser,Nitrogen rate,2,Applied nitrogen,http://purl.example/N,integer\n"

const testLevels = "column_id,level_id,level_name,quantity,units\n" +
	"F1,1,Low,50,kg/ha\n" +
	"F1,2,High,100,kg/ha\n"

func testPlots(secondLevel string) string {
	return `{"type":"FeatureCollection","features":[
		{"type":"Feature","properties":{"plot_number":1,"plot_id":"P1","plot_type":"undefined","row":1,"column":1,"F1":1},
		 "geometry":{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,1],[0,0]]]}},
		{"type":"Feature","properties":{"plot_number":2,"plot_id":"P2","plot_type":"undefined","row":1,"column":2,"F1":` + secondLevel + `},
		 "geometry":null}
	]}`
}

func testSubmission(secondLevel string) design.Submission {
	return design.Submission{
		Descriptors: []byte(testDescriptors),
		Levels:      []byte(testLevels),
		Plots:       []byte(testPlots(secondLevel)),
	}
}

func mustExperiment(t *testing.T, svc *Service, name string) Experiment {
	t.Helper()
	exp, _, err := svc.CreateExperiment(context.Background(), Experiment{Name: name})
	if err != nil {
		t.Fatalf("create experiment: %v", err)
	}
	return exp
}

type captureAuditRecorder struct {
	mu      sync.Mutex
	entries []AuditEntry
}

func (c *captureAuditRecorder) Record(_ context.Context, entry AuditEntry) {
	c.mu.Lock()
	c.entries = append(c.entries, entry)
	c.mu.Unlock()
}

func (c *captureAuditRecorder) has(op string, status AuditStatus, predicate func(AuditEntry) bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, entry := range c.entries {
		if entry.Operation == op && entry.Status == status {
			if predicate == nil || predicate(entry) {
				return true
			}
		}
	}
	return false
}

type metricsCall struct {
	op       string
	success  bool
	duration time.Duration
}

type captureMetricsRecorder struct {
	calls []metricsCall
}

func (c *captureMetricsRecorder) Observe(_ context.Context, op string, success bool, duration time.Duration) {
	c.calls = append(c.calls, metricsCall{op: op, success: success, duration: duration})
}

func (c *captureMetricsRecorder) has(op string, success bool) bool {
	for _, call := range c.calls {
		if call.op == op && call.success == success {
			return true
		}
	}
	return false
}

type spanRecord struct {
	op  string
	err error
}

type captureTracer struct {
	started []string
	ended   []spanRecord
}

func (c *captureTracer) Start(ctx context.Context, op string) (context.Context, TraceSpan) {
	c.started = append(c.started, op)
	return ctx, &captureSpan{tracer: c, op: op}
}

func (c *captureTracer) has(op string, success bool) bool {
	for _, record := range c.ended {
		if record.op == op && (record.err == nil) == success {
			return true
		}
	}
	return false
}

type captureSpan struct {
	tracer *captureTracer
	op     string
}

func (s *captureSpan) End(err error) {
	s.tracer.ended = append(s.tracer.ended, spanRecord{op: s.op, err: err})
}

type logCall struct {
	level string
	msg   string
	args  []any
}

type captureLogger struct {
	mu    sync.Mutex
	calls []logCall
}

func (l *captureLogger) record(level, msg string, args []any) {
	l.mu.Lock()
	l.calls = append(l.calls, logCall{level: level, msg: msg, args: args})
	l.mu.Unlock()
}

func (l *captureLogger) Debug(msg string, args ...any) { l.record("debug", msg, args) }
func (l *captureLogger) Info(msg string, args ...any)  { l.record("info", msg, args) }
func (l *captureLogger) Warn(msg string, args ...any)  { l.record("warn", msg, args) }
func (l *captureLogger) Error(msg string, args ...any) { l.record("error", msg, args) }

func (l *captureLogger) count(level, msg string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, c := range l.calls {
		if c.level == level && c.msg == msg {
			n++
		}
	}
	return n
}

// failingGeometry rejects any geometry containing marker.
type failingGeometry struct {
	marker string
}

func (f failingGeometry) Convert(raw json.RawMessage) (string, error) {
	if strings.Contains(string(raw), f.marker) {
		return "", errors.New("self-intersecting ring")
	}
	return newDefaultGeometryService().Convert(raw)
}
