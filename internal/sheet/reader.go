// Package sheet turns an uploaded spreadsheet into header-keyed records.
package sheet

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported spreadsheet format")
	ErrUnreadable        = errors.New("spreadsheet could not be read")
	ErrNoRows            = errors.New("spreadsheet has no data rows")
)

// Record is one data row keyed by its raw header text.
type Record struct {
	Row    int // 1-based sheet row; the header is row 1
	Values map[string]string
}

// Table is the first sheet of a workbook: a header row plus data rows.
type Table struct {
	Headers []string
	Rows    [][]string

	lines []int
}

// SupportedExtensions lists file extensions Read can handle.
var SupportedExtensions = map[string]bool{
	".xlsx": true,
	".csv":  true,
}

func IsSupported(filename string) bool {
	return SupportedExtensions[strings.ToLower(filepath.Ext(filename))]
}

// Read parses data according to the file extension of filename.
func Read(data []byte, filename string) (*Table, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".xlsx":
		return readXLSX(bytes.NewReader(data))
	case ".csv":
		return readCSV(bytes.NewReader(data))
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(filename))
	}
}

func readXLSX(r io.Reader) (*Table, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrNoRows
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("%w: read sheet %q: %v", ErrUnreadable, sheets[0], err)
	}
	return newTable(rows)
}

func readCSV(r io.Reader) (*Table, error) {
	reader := csv.NewReader(r)
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	return newTable(rows)
}

func newTable(rows [][]string) (*Table, error) {
	if len(rows) < 2 {
		return nil, ErrNoRows
	}
	t := &Table{Headers: uniqueHeaders(rows[0])}
	for i, row := range rows[1:] {
		if blank(row) {
			continue
		}
		t.Rows = append(t.Rows, row)
		t.lines = append(t.lines, i+2)
	}
	if len(t.Rows) == 0 {
		return nil, ErrNoRows
	}
	return t, nil
}

// Records returns the data rows keyed by header. Cells past the end of a
// short row default to "".
func (t *Table) Records() []Record {
	out := make([]Record, 0, len(t.Rows))
	for n, cells := range t.Rows {
		row := n + 2
		if n < len(t.lines) {
			row = t.lines[n]
		}
		values := make(map[string]string, len(t.Headers))
		for i, h := range t.Headers {
			if i < len(cells) {
				values[h] = cells[i]
			} else {
				values[h] = ""
			}
		}
		out = append(out, Record{Row: row, Values: values})
	}
	return out
}

// uniqueHeaders names empty headers "__EMPTY" and suffixes repeats with
// _1, _2, ... so no column is lost.
func uniqueHeaders(raw []string) []string {
	seen := make(map[string]int, len(raw))
	out := make([]string, len(raw))
	for i, h := range raw {
		h = strings.TrimSpace(h)
		if h == "" {
			h = "__EMPTY"
		}
		name := h
		if n, ok := seen[h]; ok {
			name = fmt.Sprintf("%s_%d", h, n)
		}
		seen[h]++
		out[i] = name
	}
	return out
}

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
