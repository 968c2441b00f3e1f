// Package tabular reads delimited text uploads into ordered row records.
package tabular

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"fieldtrial/pkg/domain"
)

const utf8BOM = "\ufeff"

// Parse reads the whole stream, consuming the first line as the header. A data
// row with fewer cells than the header is a parse failure; extra trailing
// cells are ignored.
func Parse(r io.Reader) (domain.Table, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return domain.Table{}, &domain.MalformedInputError{Reason: "file is empty; expected a header row"}
		}
		return domain.Table{}, &domain.MalformedInputError{Reason: fmt.Sprintf("read header: %v", err)}
	}
	for i, h := range header {
		header[i] = strings.TrimSpace(h)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], utf8BOM)
	}
	if err := checkHeader(header); err != nil {
		return domain.Table{}, err
	}

	table := domain.Table{Header: header}
	for {
		cells, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		row := len(table.Rows) + 1
		if err != nil {
			return domain.Table{}, &domain.MalformedInputError{Row: row, Reason: fmt.Sprintf("read row: %v", err)}
		}
		if blank(cells) {
			continue
		}
		if len(cells) < len(header) {
			return domain.Table{}, &domain.MalformedInputError{
				Row:    row,
				Reason: fmt.Sprintf("row has %d cells, header has %d", len(cells), len(header)),
			}
		}
		for i := range cells {
			cells[i] = strings.TrimSpace(cells[i])
		}
		table.Rows = append(table.Rows, domain.NewRecord(len(table.Rows), header, cells[:len(header)]))
	}
	return table, nil
}

// RequireHeader reports the required columns absent from the table header.
func RequireHeader(table domain.Table, required ...string) error {
	present := make(map[string]struct{}, len(table.Header))
	for _, h := range table.Header {
		present[h] = struct{}{}
	}
	var missing []string
	for _, col := range required {
		if _, ok := present[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return &domain.MalformedInputError{Reason: "header is missing required columns: " + strings.Join(missing, ", ")}
	}
	return nil
}

func checkHeader(header []string) error {
	seen := make(map[string]struct{}, len(header))
	for i, h := range header {
		if h == "" {
			return &domain.MalformedInputError{Reason: fmt.Sprintf("header column %d is empty", i+1)}
		}
		if _, dup := seen[h]; dup {
			return &domain.MalformedInputError{Reason: fmt.Sprintf("header column %q is repeated", h)}
		}
		seen[h] = struct{}{}
	}
	return nil
}

// blank reports an empty line; encoding/csv already drops truly empty lines,
// this catches lines made only of separators and whitespace.
func blank(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
