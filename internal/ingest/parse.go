package ingest

import (
	"encoding/csv"
	"fmt"
	"strings"
)

// ParseTable parses file-mode input: a CSV whose first row is treated as a
// header unless hasHeader is false. Blank rows are skipped and column
// presence is schema-free — the normalizer tolerates missing or extra
// columns. Returns one raw record map per data row.
func ParseTable(data []byte, hasHeader bool) ([]any, error) {
	reader := csv.NewReader(strings.NewReader(string(data)))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	var header []string
	start := 0
	if hasHeader {
		header = rows[0]
		start = 1
	}

	records := make([]any, 0, len(rows)-start)
	for _, row := range rows[start:] {
		if blankRow(row) {
			continue
		}
		rec := make(map[string]any, len(row))
		for i, cell := range row {
			rec[columnName(header, i)] = cell
		}
		records = append(records, rec)
	}
	return records, nil
}

func blankRow(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

func columnName(header []string, i int) string {
	if i < len(header) {
		if name := strings.TrimSpace(header[i]); name != "" {
			return name
		}
	}
	return fmt.Sprintf("column_%d", i+1)
}
