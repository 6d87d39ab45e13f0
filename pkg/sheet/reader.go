package sheet

import (
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/FranciscoCL13/carga-masiva/pkg/engine"
)

// Workbook is a parsed workbook, sheets in workbook order.
type Workbook struct {
	Sheets []*Sheet
}

// Sheet is a header row plus the non-blank records beneath it.
type Sheet struct {
	Name    string
	Headers []string
	Records []Record
}

// Record is one data row.
type Record struct {
	// Row is the 1-based worksheet row number.
	Row int

	// Values maps every header to the normalized cell value; blank cells are nil.
	Values engine.VariableSet
}

// ReadOptions controls cell normalization.
type ReadOptions struct {
	// DateColumns are coerced to ISO-8601 timestamps even when their cells
	// hold text. Cells with a date number format are converted regardless.
	DateColumns []string
}

// Sheet returns the sheet with the given name.
func (wb *Workbook) Sheet(name string) (*Sheet, bool) {
	for _, s := range wb.Sheets {
		if s.Name == name {
			return s, true
		}
	}
	return nil, false
}

// Names returns the sheet names in workbook order.
func (wb *Workbook) Names() []string {
	names := make([]string, len(wb.Sheets))
	for i, s := range wb.Sheets {
		names[i] = s.Name
	}
	return names
}

// Read parses an .xlsx workbook. Malformed workbooks and header rows are
// reported as input errors.
func Read(r io.Reader, opts ReadOptions) (*Workbook, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, engine.NewInputError("unreadable workbook", err).WithCode(engine.ErrCodeBadWorkbook)
	}
	defer func() { _ = f.Close() }()

	dates := make(map[string]bool, len(opts.DateColumns))
	for _, c := range opts.DateColumns {
		dates[strings.TrimSpace(c)] = true
	}

	wb := &Workbook{}
	for _, name := range f.GetSheetList() {
		s, err := readSheet(f, name, dates)
		if err != nil {
			return nil, err
		}
		wb.Sheets = append(wb.Sheets, s)
	}
	if len(wb.Sheets) == 0 {
		return nil, engine.NewInputError("workbook has no sheets", nil).WithCode(engine.ErrCodeBadWorkbook)
	}
	return wb, nil
}

func readSheet(f *excelize.File, name string, dates map[string]bool) (*Sheet, error) {
	rows, err := f.GetRows(name, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, engine.NewInputError(fmt.Sprintf("cannot read sheet %q", name), err).
			WithCode(engine.ErrCodeBadWorkbook)
	}

	styles := newDateStyles(f)
	s := &Sheet{Name: name}
	if len(rows) == 0 {
		return s, nil
	}

	headers, err := parseHeaders(name, rows)
	if err != nil {
		return nil, err
	}
	s.Headers = headers

	for i := 1; i < len(rows); i++ {
		row := rows[i]
		if isBlankRow(row) {
			continue
		}

		rowNum := i + 1
		values := make(engine.VariableSet, len(headers))
		for col, header := range headers {
			var raw string
			if col < len(row) {
				raw = row[col]
			}
			if header == "" {
				continue
			}

			cell, err := excelize.CoordinatesToCellName(col+1, rowNum)
			if err != nil {
				return nil, engine.NewInputError("invalid cell coordinates", err).WithCode(engine.ErrCodeBadWorkbook)
			}
			typ, err := f.GetCellType(name, cell)
			if err != nil {
				typ = excelize.CellTypeUnset
			}
			isDate := dates[header]
			if !isDate && (typ == excelize.CellTypeNumber || typ == excelize.CellTypeUnset) && raw != "" {
				isDate = styles.isDate(name, cell)
			}
			values[header] = normalizeCell(raw, typ, isDate)
		}
		s.Records = append(s.Records, Record{Row: rowNum, Values: values})
	}
	return s, nil
}

// parseHeaders validates the first row. A column without a header is allowed
// only if no record fills it.
func parseHeaders(sheet string, rows [][]string) ([]string, error) {
	headers := make([]string, len(rows[0]))
	seen := make(map[string]bool, len(headers))
	for i, h := range rows[0] {
		h = strings.TrimSpace(h)
		headers[i] = h
		if h == "" {
			continue
		}
		if seen[h] {
			return nil, engine.NewInputError(fmt.Sprintf("sheet %q: duplicate column %q", sheet, h), nil).
				WithCode(engine.ErrCodeBadWorkbook)
		}
		seen[h] = true
	}

	for r := 1; r < len(rows); r++ {
		for c, v := range rows[r] {
			if strings.TrimSpace(v) == "" {
				continue
			}
			if c >= len(headers) || headers[c] == "" {
				cell, _ := excelize.CoordinatesToCellName(c+1, r+1)
				return nil, engine.NewInputError(fmt.Sprintf("sheet %q: value in %s has no column header", sheet, cell), nil).
					WithCode(engine.ErrCodeBadWorkbook)
			}
		}
	}
	return headers, nil
}

func isBlankRow(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
