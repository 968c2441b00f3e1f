// Package domain defines the persistent field-trial entities, the experiment
// design value types, and the rule evaluation primitives used by fieldtrial.
package domain

import (
	"encoding/json"
	"time"
)

// EntityType identifies the type of record stored in the entity store.
type EntityType string

// Supported entity type identifiers used in Change records and persistence buckets.
const (
	// EntityExperiment identifies an experiment record.
	EntityExperiment EntityType = "experiment"
	// EntityBoundary identifies an experiment boundary record.
	EntityBoundary EntityType = "boundary"
	// EntityPlot identifies a plot record.
	EntityPlot EntityType = "plot"
)

// ColumnType classifies a declared design column.
type ColumnType string

// Canonical column types accepted in a column descriptor file.
const (
	ColumnDesignFactor         ColumnType = "design_factor"
	ColumnFieldAttribute       ColumnType = "field_attribute"
	ColumnTreatmentFactor      ColumnType = "treatment_factor"
	ColumnTreatmentComponent   ColumnType = "treatment_component"
	ColumnTreatmentApplication ColumnType = "treatment_application"
	ColumnBasalTreatment       ColumnType = "basal_treatment"
)

// ColumnTypes lists every accepted column type in declaration order.
func ColumnTypes() []ColumnType {
	return []ColumnType{
		ColumnDesignFactor,
		ColumnFieldAttribute,
		ColumnTreatmentFactor,
		ColumnTreatmentComponent,
		ColumnTreatmentApplication,
		ColumnBasalTreatment,
	}
}

// Valid reports whether t is one of the accepted column types.
func (t ColumnType) Valid() bool {
	for _, known := range ColumnTypes() {
		if t == known {
			return true
		}
	}
	return false
}

// NotApplicable marks a plot that carries no assignment for a factor column.
const NotApplicable = "na"

// Severity captures rule outcomes.
type Severity string

// Rule evaluation severities determine commit behavior and logging.
const (
	// SeverityBlock blocks transaction commit.
	SeverityBlock Severity = "block"
	// SeverityWarn logs a warning but allows commit.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// Base contains common fields for all domain records.
type Base struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ColumnLevel is one allowed value of a design column.
type ColumnLevel struct {
	ColumnID  string `json:"column_id"`
	LevelID   int    `json:"level_id"`
	LevelName string `json:"level_name"`
	Quantity  string `json:"quantity,omitempty"`
	Units     string `json:"units,omitempty"`
}

// ColumnDescriptor declares one experimental factor or attribute column.
type ColumnDescriptor struct {
	ColumnID            string        `json:"column_id"`
	ColumnName          string        `json:"column_name"`
	ColumnType          ColumnType    `json:"column_type"`
	OntologyName        string        `json:"ontology_name"`
	OntologyDescription string        `json:"ontology_description"`
	OntologyURI         string        `json:"ontology_uri"`
	Length              int           `json:"length"`
	DataType            string        `json:"data_type"`
	FactorLevels        []ColumnLevel `json:"factor_levels"`
}

// DesignDocument is the assembled, ordered descriptor + level tree attached to
// an experiment. It serializes as a bare JSON array of descriptors.
type DesignDocument struct {
	Columns []ColumnDescriptor
}

// MarshalJSON renders the canonical nested array form.
func (d DesignDocument) MarshalJSON() ([]byte, error) {
	cols := d.Columns
	if cols == nil {
		cols = []ColumnDescriptor{}
	}
	return json.Marshal(cols)
}

// UnmarshalJSON accepts the canonical nested array form.
func (d *DesignDocument) UnmarshalJSON(data []byte) error {
	var cols []ColumnDescriptor
	if err := json.Unmarshal(data, &cols); err != nil {
		return err
	}
	d.Columns = cols
	return nil
}

// Column returns the descriptor with the given id.
func (d DesignDocument) Column(id string) (ColumnDescriptor, bool) {
	for _, c := range d.Columns {
		if c.ColumnID == id {
			return c, true
		}
	}
	return ColumnDescriptor{}, false
}

// LevelName resolves a plot's stored level id to its display name.
func (d DesignDocument) LevelName(columnID string, levelID int) (string, bool) {
	col, ok := d.Column(columnID)
	if !ok {
		return "", false
	}
	for _, lvl := range col.FactorLevels {
		if lvl.LevelID == levelID {
			return lvl.LevelName, true
		}
	}
	return "", false
}

// Clone returns a deep copy of the document.
func (d DesignDocument) Clone() DesignDocument {
	if d.Columns == nil {
		return DesignDocument{}
	}
	out := DesignDocument{Columns: make([]ColumnDescriptor, len(d.Columns))}
	for i, c := range d.Columns {
		c.FactorLevels = append([]ColumnLevel(nil), c.FactorLevels...)
		out.Columns[i] = c
	}
	return out
}

// Experiment is a field trial. Its design document and plot list are written
// once by the import pipeline.
type Experiment struct {
	Base
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	BoundaryID  *string         `json:"boundary_id,omitempty"`
	Design      *DesignDocument `json:"design,omitempty"`
	PlotIDs     []string        `json:"plot_ids"`
}

// HasPlots reports whether any plots are attached.
func (e Experiment) HasPlots() bool { return len(e.PlotIDs) > 0 }

// Boundary outlines the land occupied by an experiment.
type Boundary struct {
	Base
	ExperimentID string `json:"experiment_id"`
	Name         string `json:"name"`
	Geometry     string `json:"geometry,omitempty"`
}

// FactorPair is one free-form factor assignment carried by a plot.
type FactorPair struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Plot is one physical subdivision of an experiment boundary.
type Plot struct {
	Base
	ExperimentID   string       `json:"experiment_id"`
	BoundaryID     *string      `json:"boundary_id,omitempty"`
	Name           string       `json:"name"`
	PlotNumber     int          `json:"plot_number"`
	PlotID         string       `json:"plot_id,omitempty"`
	PlotType       string       `json:"plot_type,omitempty"`
	Row            int          `json:"row,omitempty"`
	Column         int          `json:"column,omitempty"`
	Geometry       string       `json:"geometry,omitempty"`
	ParentLocation string       `json:"parent_location,omitempty"`
	Factors        []FactorPair `json:"factors,omitempty"`
}

// Factor returns the value assigned to key.
func (p Plot) Factor(key string) (string, bool) {
	for _, f := range p.Factors {
		if f.Key == key {
			return f.Value, true
		}
	}
	return "", false
}

// Change describes a mutation applied to an entity during a transaction.
type Change struct {
	Entity EntityType
	Action Action
	Before any
	After  any
}

// Action indicates the type of modification performed.
type Action string

// Change actions enumerate supported CRUD operations captured in audit trail.
const (
	// ActionCreate indicates an entity was created.
	ActionCreate Action = "create"
	// ActionUpdate indicates an entity was updated.
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Violation reports a failed rule evaluation.
type Violation struct {
	Rule     string
	Severity Severity
	Message  string
	Entity   EntityType
	EntityID string
}

// Result aggregates violations from the rules engine.
type Result struct {
	Violations []Violation
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// RuleViolationError is returned when blocking violations are present.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	return "transaction blocked by rules"
}
