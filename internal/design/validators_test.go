package design

import (
	"strings"
	"testing"

	"fieldtrial/internal/tabular"
	"fieldtrial/pkg/domain"
)

func mustTable(t *testing.T, csv string) domain.Table {
	t.Helper()
	table, err := tabular.Parse(strings.NewReader(csv))
	if err != nil {
		t.Fatalf("parse table: %v", err)
	}
	return table
}

func messages(issues []domain.ValidationIssue) []string {
	out := make([]string, len(issues))
	for i, issue := range issues {
		out[i] = issue.Message
	}
	return out
}

func TestValidateDescriptors(t *testing.T) {
	table := mustTable(t, descriptorHeader+
		"treatment_factor,F1,Fert,N,2,d,u,integer\n"+
		"bogus,F2,Other,N,x,d,u,text\n"+
		"design_factor,F1,Again,N,1,d,u,text\n"+
		"field_attribute,,Missing,N,0,d,u,text\n")
	descriptors, issues := ValidateDescriptors(table)

	want := []string{
		"invalid column_type 'bogus'",
		"length must be a non-negative integer, got 'x'",
		"duplicate column_id 'F1' (first declared on row 1)",
		"missing required field column_id",
	}
	if got := messages(issues); strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("unexpected issues:\n got %q\nwant %q", got, want)
	}
	if issues[2].Row != 3 || issues[2].Field != FieldColumnID {
		t.Fatalf("duplicate reported at wrong location: %+v", issues[2])
	}
	if len(descriptors) != 2 || descriptors[1].ColumnID != "F2" || descriptors[1].Length != -1 {
		t.Fatalf("unexpected descriptors: %+v", descriptors)
	}
}

func TestValidateDescriptorsMissingHeaderIsStructural(t *testing.T) {
	table := mustTable(t, "column_type,column_id\ntreatment_factor,F1\ntreatment_factor,F2\n")
	descriptors, issues := ValidateDescriptors(table)
	if len(issues) != 1 || issues[0].Row != 0 {
		t.Fatalf("expected one file-level issue, got %+v", issues)
	}
	if !strings.Contains(issues[0].Message, "column_name") || !strings.Contains(issues[0].Message, "data_type") {
		t.Fatalf("expected missing columns to be named: %q", issues[0].Message)
	}
	if descriptors != nil {
		t.Fatalf("expected no descriptors, got %+v", descriptors)
	}
}

func TestValidateLevels(t *testing.T) {
	descriptors := []domain.ColumnDescriptor{
		{ColumnID: "F1", ColumnName: "Fert", Length: 2},
		{ColumnID: "F2", ColumnName: "Variety", Length: 1},
		{ColumnID: "F3", ColumnName: "Unparsed", Length: -1},
	}
	table := mustTable(t, "column_id,column_name,level_id,level_name\n"+
		"F1,Fert,1,Low\n"+
		"F1,Fert,1,Dup\n"+
		"F9,Fert,1,Unknown\n"+
		"F2,Nope,abc,Bad\n"+
		"F1,Fert,2,\n")
	levels, issues := ValidateLevels(table, descriptors)

	want := []string{
		"duplicate level_id 1 for column_id 'F1' (first declared on row 1)",
		"invalid column_id 'F9'",
		"invalid column_name 'Nope'",
		"level_id must be an integer, got 'abc'",
		"missing required field level_name",
		"level count mismatch for column_id 'F1': got 3, expected 2",
	}
	if got := messages(issues); strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("unexpected issues:\n got %q\nwant %q", got, want)
	}
	if len(levels) != 2 || levels[0].LevelID != 1 || levels[1].LevelID != 2 {
		t.Fatalf("unexpected levels: %+v", levels)
	}
}

func TestValidateLevelsRejectsNonPositiveAndFractionalIDs(t *testing.T) {
	descriptors := []domain.ColumnDescriptor{{ColumnID: "F1", ColumnName: "Fert", Length: 4}}
	table := mustTable(t, "column_id,level_id,level_name\n"+
		"F1,1.5,Half\n"+
		"F1,0,Zero\n"+
		"F1,-2,Negative\n"+
		"F1,2.0,Two\n")
	levels, issues := ValidateLevels(table, descriptors)
	want := []string{
		"level_id must be an integer, got '1.5'",
		"level_id must be 1 or greater, got 0",
		"level_id must be 1 or greater, got -2",
	}
	if got := messages(issues); strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("unexpected issues:\n got %q\nwant %q", got, want)
	}
	for i, issue := range issues {
		if issue.Row != i+1 || issue.Field != FieldLevelID {
			t.Fatalf("issue %d must point at level_id on row %d: %+v", i, i+1, issue)
		}
	}
	if len(levels) != 1 || levels[0].LevelID != 2 {
		t.Fatalf("expected only level 2 kept, got %+v", levels)
	}
}

func TestValidateLevelsOneIssuePerMismatchedColumn(t *testing.T) {
	descriptors := []domain.ColumnDescriptor{{ColumnID: "A", Length: 3}, {ColumnID: "B", Length: 0}, {ColumnID: "C", Length: 1}}
	table := mustTable(t, "column_id,level_id,level_name\nA,1,x\nB,1,y\nB,2,z\nC,1,w\n")
	_, issues := ValidateLevels(table, descriptors)
	if len(issues) != 2 {
		t.Fatalf("expected one issue per mismatched column, got %+v", issues)
	}
	for _, issue := range issues {
		if issue.Row != 0 || issue.Field != FieldLength {
			t.Fatalf("mismatch must be file-level on length: %+v", issue)
		}
	}
}

func plotFeature(index int, kv ...string) domain.Feature {
	rec := domain.Record{Index: index}
	for i := 0; i+1 < len(kv); i += 2 {
		rec.Set(kv[i], kv[i+1])
	}
	return domain.Feature{Record: rec}
}

func TestValidatePlots(t *testing.T) {
	descriptors := []domain.ColumnDescriptor{{ColumnID: "F1", Length: 2}}
	levels := []domain.ColumnLevel{{ColumnID: "F1", LevelID: 1}, {ColumnID: "F1", LevelID: 2}}
	features := []domain.Feature{
		plotFeature(0, "plot_number", "1", "plot_id", "P1", "plot_type", "control", "row", "1", "column", "1", "F1", "2", "parent", "field-7"),
		plotFeature(1, "plot_number", "", "plot_id", "P2", "plot_type", "weird", "row", "x", "column", "2", "F9", "1"),
		plotFeature(2, "plot_number", "1", "plot_id", "P1", "plot_type", "control", "row", "2", "column", "1", "F1", "na"),
		plotFeature(3, "plot_number", "0", "plot_id", "P4", "plot_type", "control", "row", "2", "column", "2", "F1", "na"),
	}
	records, issues := ValidatePlots(features, descriptors, levels, NewPlotTypeSet(DefaultPlotTypes...))

	want := []string{
		"missing required field plot_number",
		"row must be an integer, got 'x'",
		"invalid plot_type 'weird'",
		"invalid column_id 'F9'",
		"duplicate plot_number 1 (first used on row 1)",
		"duplicate plot_id 'P1' (first used on row 1)",
		"plot_number must be 1 or greater, got 0",
	}
	if got := messages(issues); strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("unexpected issues:\n got %q\nwant %q", got, want)
	}
	if len(records) != 1 {
		t.Fatalf("expected only the clean plot to survive, got %+v", records)
	}
	rec := records[0]
	if rec.ParentLocation != "field-7" || rec.PlotNumber != 1 || len(rec.Factors) != 1 {
		t.Fatalf("unexpected record %+v", rec)
	}
}

func TestValidatePlotsMissingPlotOneReportedOnce(t *testing.T) {
	for _, n := range []int{0, 1, 5} {
		features := make([]domain.Feature, n)
		for i := range features {
			num := string(rune('2' + i))
			features[i] = plotFeature(i, "plot_number", num, "plot_id", "P"+num, "plot_type", "undefined", "row", "1", "column", num)
		}
		_, issues := ValidatePlots(features, nil, nil, NewPlotTypeSet(DefaultPlotTypes...))
		count := 0
		for _, issue := range issues {
			if issue.Message == MissingPlotOneMessage {
				count++
				if issue.Row != 0 {
					t.Fatalf("missing plot 1 must be file-level: %+v", issue)
				}
			}
		}
		if count != 1 || len(issues) != 1 {
			t.Fatalf("%d rows: expected exactly one missing plot 1 issue, got %+v", n, issues)
		}
	}
}

func TestValidatePlotsAcceptsIntegralFloats(t *testing.T) {
	descriptors := []domain.ColumnDescriptor{{ColumnID: "F1", Length: 1}}
	levels := []domain.ColumnLevel{{ColumnID: "F1", LevelID: 1}}
	features := []domain.Feature{
		plotFeature(0, "plot_number", "1.0", "plot_id", "P1", "plot_type", "undefined", "row", "1", "column", "1", "F1", "1.0"),
	}
	records, issues := ValidatePlots(features, descriptors, levels, NewPlotTypeSet("undefined"))
	if len(issues) != 0 || len(records) != 1 {
		t.Fatalf("expected integral floats to validate, got %+v", issues)
	}
}

func TestAssembleOrdersByReferenceRow(t *testing.T) {
	descriptors := []domain.ColumnDescriptor{
		{ColumnID: "A"}, {ColumnID: "B"}, {ColumnID: "C"}, {ColumnID: "D"},
	}
	levels := []domain.ColumnLevel{
		{ColumnID: "C", LevelID: 2}, {ColumnID: "A", LevelID: 1}, {ColumnID: "C", LevelID: 1}, {ColumnID: "Z", LevelID: 1},
	}
	reference := plotFeature(0, "plot_number", "1", "C", "1", "plot_id", "P1", "A", "1").Record

	doc := Assemble(descriptors, levels, reference)
	var order []string
	for _, c := range doc.Columns {
		order = append(order, c.ColumnID)
	}
	if got := strings.Join(order, ","); got != "C,A,B,D" {
		t.Fatalf("expected C,A,B,D, got %s", got)
	}
	c := doc.Columns[0]
	if len(c.FactorLevels) != 2 || c.FactorLevels[0].LevelID != 2 || c.FactorLevels[1].LevelID != 1 {
		t.Fatalf("levels must keep file order: %+v", c.FactorLevels)
	}
	if descriptors[0].ColumnID != "A" || descriptors[0].FactorLevels != nil {
		t.Fatalf("inputs must not be modified: %+v", descriptors)
	}
}

func TestPlotTypeSet(t *testing.T) {
	set := NewPlotTypeSet(" control ", "", "guard", "control")
	if !set.Contains("control") || set.Contains("") {
		t.Fatalf("unexpected membership: %+v", set)
	}
	if got := strings.Join(set.Sorted(), ","); got != "control,guard" {
		t.Fatalf("unexpected sorted vocabulary %s", got)
	}
}
