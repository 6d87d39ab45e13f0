package sheet

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
)

// DateLayout is the format date cells are written as.
const DateLayout = "2006-01-02T15:04:05"

// textDateLayouts are tried in order when a date column holds text.
var textDateLayouts = []string{
	time.RFC3339,
	DateLayout,
	"2006-01-02 15:04:05",
	"2006-01-02",
	"02/01/2006 15:04:05",
	"02/01/2006 15:04",
	"02/01/2006",
	"2/1/2006",
	"02-01-2006",
}

// normalizeCell converts a raw cell value into a JSON-safe scalar.
// Blank, error and non-finite cells become nil.
func normalizeCell(raw string, typ excelize.CellType, isDate bool) interface{} {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	switch typ {
	case excelize.CellTypeError:
		return nil
	case excelize.CellTypeBool:
		return raw == "1" || strings.EqualFold(raw, "true")
	case excelize.CellTypeDate:
		return parseTextDate(raw)
	case excelize.CellTypeSharedString, excelize.CellTypeInlineString, excelize.CellTypeFormula:
		if isDate {
			return parseTextDate(raw)
		}
		return raw
	}

	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		if isDate {
			return parseTextDate(raw)
		}
		if isErrorLiteral(raw) {
			return nil
		}
		return raw
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}

	if isDate {
		t, err := excelize.ExcelDateToTime(f, false)
		if err != nil {
			return nil
		}
		return t.Format(DateLayout)
	}

	if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return int64(f)
	}
	return f
}

// builtinDateFormats are the built-in number format ids that render dates or
// times, including the East Asian locale variants.
var builtinDateFormats = map[int]bool{
	14: true, 15: true, 16: true, 17: true, 18: true, 19: true, 20: true, 21: true, 22: true,
	27: true, 28: true, 29: true, 30: true, 31: true, 32: true, 33: true, 34: true, 35: true, 36: true,
	45: true, 46: true, 47: true,
	50: true, 51: true, 52: true, 53: true, 54: true, 55: true, 56: true, 57: true, 58: true,
}

// dateStyles caches, per style id, whether numbers under that style are dates.
type dateStyles struct {
	f     *excelize.File
	cache map[int]bool
}

func newDateStyles(f *excelize.File) *dateStyles {
	return &dateStyles{f: f, cache: make(map[int]bool)}
}

// isDate reports whether the cell carries a date number format.
func (d *dateStyles) isDate(sheet, cell string) bool {
	id, err := d.f.GetCellStyle(sheet, cell)
	if err != nil || id == 0 {
		return false
	}
	if v, ok := d.cache[id]; ok {
		return v
	}

	var date bool
	if style, err := d.f.GetStyle(id); err == nil && style != nil {
		date = builtinDateFormats[style.NumFmt]
		if !date && style.CustomNumFmt != nil {
			date = isDateFormatCode(*style.CustomNumFmt)
		}
	}
	d.cache[id] = date
	return date
}

// isDateFormatCode reports whether a custom number format has a year, month
// or day token outside quoted text, escapes and bracketed sections.
func isDateFormatCode(code string) bool {
	inQuote, inBracket := false, false
	for i := 0; i < len(code); i++ {
		c := code[i]
		switch {
		case inQuote:
			inQuote = c != '"'
		case inBracket:
			inBracket = c != ']'
		case c == '"':
			inQuote = true
		case c == '[':
			inBracket = true
		case c == '\\' || c == '_' || c == '*':
			i++
		default:
			switch c {
			case 'y', 'Y', 'm', 'M', 'd', 'D':
				return true
			}
		}
	}
	return false
}

// parseTextDate returns nil when the text is not a recognizable date.
func parseTextDate(s string) interface{} {
	for _, layout := range textDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format(DateLayout)
		}
	}
	return nil
}

func isErrorLiteral(s string) bool {
	switch strings.ToUpper(s) {
	case "#N/A", "#NULL!", "#DIV/0!", "#VALUE!", "#REF!", "#NAME?", "#NUM!", "#GETTING_DATA":
		return true
	}
	return false
}
