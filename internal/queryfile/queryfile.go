// Package queryfile reads batch query files: CSV or XLSX rows of
// (year, make, model).
package queryfile

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/gearline/vehicle-cli/internal/model"
)

// Read loads queries from the file, dispatching on its extension.
func Read(path string) ([]model.Query, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return ReadCSV(path)
	case ".xlsx":
		return ReadXLSX(path)
	}
	return nil, eris.Errorf("queryfile: unsupported file type %q (want .csv or .xlsx)", filepath.Ext(path))
}

// ReadCSV reads year,make,model rows. A non-numeric first cell in the first
// row is treated as a header and skipped.
func ReadCSV(path string) ([]model.Query, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "queryfile: open csv")
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, eris.Wrap(err, "queryfile: read csv")
	}
	return parseRows(records)
}

// ReadXLSX reads year,make,model rows from the first sheet.
func ReadXLSX(path string) ([]model.Query, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "queryfile: open xlsx")
	}
	if len(f.Sheets) == 0 {
		return nil, eris.New("queryfile: xlsx has no sheets")
	}

	var rows [][]string
	for _, row := range f.Sheets[0].Rows {
		cells := make([]string, 0, len(row.Cells))
		for _, c := range row.Cells {
			cells = append(cells, c.String())
		}
		rows = append(rows, cells)
	}
	return parseRows(rows)
}

// parseRows turns raw rows into validated queries. Errors carry 1-based row
// numbers so a bad batch file is easy to fix.
func parseRows(rows [][]string) ([]model.Query, error) {
	queries := make([]model.Query, 0, len(rows))
	for i, row := range rows {
		if isEmptyRow(row) {
			continue
		}
		if i == 0 && isHeaderRow(row) {
			continue
		}
		if len(row) < 3 {
			return nil, eris.Errorf("queryfile: row %d has %d columns, want year,make,model", i+1, len(row))
		}

		year, err := strconv.Atoi(strings.TrimSpace(row[0]))
		if err != nil {
			return nil, eris.Wrapf(err, "queryfile: row %d year %q", i+1, row[0])
		}
		q := model.Query{
			Year:  year,
			Make:  strings.TrimSpace(row[1]),
			Model: strings.TrimSpace(row[2]),
		}
		if err := q.Validate(); err != nil {
			return nil, eris.Wrapf(err, "queryfile: row %d", i+1)
		}
		queries = append(queries, q)
	}
	if len(queries) == 0 {
		return nil, eris.New("queryfile: no queries found")
	}
	return queries, nil
}

func isHeaderRow(row []string) bool {
	_, err := strconv.Atoi(strings.TrimSpace(row[0]))
	return err != nil
}

func isEmptyRow(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
