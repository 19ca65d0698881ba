package inventory

import (
	"encoding/csv"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/ramiqadoumi/go-audit-jobs/internal/domain"
)

// Row is one data row with its 1-based line number in the source.
type Row struct {
	Line   int
	Values RawRecord
}

// Sheet is the tabular content of an uploaded file.
type Sheet struct {
	Source  string
	Headers []string
	Rows    []Row
}

// ReadSource picks the reader by file extension: .csv is read as CSV,
// anything else as a workbook.
func ReadSource(r io.Reader, source string) (*Sheet, error) {
	if strings.EqualFold(filepath.Ext(source), ".csv") {
		return ReadCSV(r, source)
	}
	return ReadWorkbook(r, source)
}

// ReadWorkbook reads the first worksheet of an xlsx workbook.
func ReadWorkbook(r io.Reader, source string) (*Sheet, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, &domain.ParsingError{Source: source, Reason: "open workbook", Err: err}
	}
	defer f.Close()

	names := f.GetSheetList()
	if len(names) == 0 {
		return nil, &domain.ParsingError{Source: source, Reason: "workbook has no sheets"}
	}
	rows, err := f.GetRows(names[0])
	if err != nil {
		return nil, &domain.ParsingError{Source: source, Reason: fmt.Sprintf("read sheet %q", names[0]), Err: err}
	}
	return buildSheet(source, rows)
}

// ReadCSV reads comma separated input with a header line.
func ReadCSV(r io.Reader, source string) (*Sheet, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	rows, err := cr.ReadAll()
	if err != nil {
		return nil, &domain.ParsingError{Source: source, Reason: "read csv", Err: err}
	}
	return buildSheet(source, rows)
}

// buildSheet takes the first non-empty row as the header and skips empty
// data rows. Duplicate headers get a numeric suffix.
func buildSheet(source string, rows [][]string) (*Sheet, error) {
	headerIdx := -1
	for i, row := range rows {
		if !blank(row) {
			headerIdx = i
			break
		}
	}
	if headerIdx < 0 {
		return nil, &domain.ParsingError{Source: source, Reason: "no header row"}
	}

	seen := make(map[string]int)
	headers := make([]string, len(rows[headerIdx]))
	for i, cell := range rows[headerIdx] {
		h := NormalizeHeader(cell)
		if h == "" {
			continue
		}
		seen[h]++
		if n := seen[h]; n > 1 {
			h = fmt.Sprintf("%s_%d", h, n)
		}
		headers[i] = h
	}

	sheet := &Sheet{Source: source, Headers: headers}
	for i := headerIdx + 1; i < len(rows); i++ {
		if blank(rows[i]) {
			continue
		}
		values := make(RawRecord, len(headers))
		for col, cell := range rows[i] {
			if col >= len(headers) || headers[col] == "" {
				continue
			}
			if v := strings.TrimSpace(cell); v != "" {
				values[headers[col]] = v
			}
		}
		sheet.Rows = append(sheet.Rows, Row{Line: i + 1, Values: values})
	}
	return sheet, nil
}

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
