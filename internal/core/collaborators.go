package core

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"sync"

	"fieldtrial/internal/blob"
	"fieldtrial/internal/design"
	"fieldtrial/internal/geometry"
)

// EnvPlotTypes lists the accepted plot types, comma separated.
const EnvPlotTypes = "FIELDTRIAL_PLOT_TYPES"

// BlobStore archives raw submissions and provisioning cursors.
type BlobStore = blob.Store

// Messenger is the user-facing sink for validation issues. The service
// reports issues; rendering them is the messenger's concern.
type Messenger interface {
	Report(ctx context.Context, issue ValidationIssue)
}

// MessengerFunc adapts a function to Messenger.
type MessengerFunc func(ctx context.Context, issue ValidationIssue)

// Report implements Messenger.
func (f MessengerFunc) Report(ctx context.Context, issue ValidationIssue) { f(ctx, issue) }

type discardMessenger struct{}

func (discardMessenger) Report(context.Context, ValidationIssue) {}

// IssueCollector is a Messenger that keeps every reported issue.
type IssueCollector struct {
	mu     sync.Mutex
	issues []ValidationIssue
}

// Report implements Messenger.
func (c *IssueCollector) Report(_ context.Context, issue ValidationIssue) {
	c.mu.Lock()
	c.issues = append(c.issues, issue)
	c.mu.Unlock()
}

// Issues returns a copy of the collected issues in report order.
func (c *IssueCollector) Issues() []ValidationIssue {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ValidationIssue(nil), c.issues...)
}

// LogMessenger forwards issues to a Logger at warn level.
type LogMessenger struct {
	Logger Logger
}

// Report implements Messenger.
func (m LogMessenger) Report(_ context.Context, issue ValidationIssue) {
	if m.Logger == nil {
		return
	}
	m.Logger.Warn("validation issue", "file", issue.File, "row", issue.Row, "field", issue.Field, "message", issue.Message)
}

// PlotTypeVocabulary lists the plot types a plot file may use.
type PlotTypeVocabulary interface {
	ListValidPlotTypes() []string
}

// StaticPlotTypes is a fixed vocabulary.
type StaticPlotTypes []string

// ListValidPlotTypes implements PlotTypeVocabulary.
func (s StaticPlotTypes) ListValidPlotTypes() []string {
	return append([]string(nil), s...)
}

// DefaultPlotTypes returns the built-in vocabulary.
func DefaultPlotTypes() StaticPlotTypes {
	return StaticPlotTypes(append([]string(nil), design.DefaultPlotTypes...))
}

// PlotTypesFromEnv reads FIELDTRIAL_PLOT_TYPES, falling back to the defaults.
func PlotTypesFromEnv() StaticPlotTypes {
	raw := os.Getenv(EnvPlotTypes)
	var out StaticPlotTypes
	for _, part := range strings.Split(raw, ",") {
		if t := strings.TrimSpace(part); t != "" {
			out = append(out, t)
		}
	}
	if len(out) == 0 {
		return DefaultPlotTypes()
	}
	return out
}

// GeometryService converts a raw GeoJSON geometry into its stored WKT form.
type GeometryService interface {
	Convert(raw json.RawMessage) (string, error)
}

func newDefaultGeometryService() GeometryService {
	return geometry.NewService()
}
