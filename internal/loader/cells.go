package loader

import (
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

// builtinDateFormats are the built-in number format ids that render a
// calendar date
var builtinDateFormats = map[int]bool{
	14: true, 15: true, 16: true, 17: true, 22: true,
	27: true, 28: true, 29: true, 30: true, 31: true, 32: true, 33: true, 34: true, 35: true, 36: true,
	50: true, 51: true, 52: true, 53: true, 54: true, 55: true, 56: true, 57: true, 58: true,
}

// dateCells turns raw date serials back into dates. Rows are read with raw
// values so amounts keep their stored precision; only cells whose style is
// a date format are converted.
type dateCells struct {
	file     *excelize.File
	sheet    string
	date1904 bool
	styles   map[int]bool
}

func newDateCells(f *excelize.File, sheet string) *dateCells {
	dc := &dateCells{file: f, sheet: sheet, styles: make(map[int]bool)}
	if props, err := f.GetWorkbookProps(); err == nil && props.Date1904 != nil {
		dc.date1904 = *props.Date1904
	}
	return dc
}

// value returns the cell text, rendering date serials as yyyy-mm-dd or
// yyyy-mm-dd hh:mm:ss
func (dc *dateCells) value(col, row int, raw string) string {
	serial, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return raw
	}
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return raw
	}
	style, err := dc.file.GetCellStyle(dc.sheet, cell)
	if err != nil || !dc.isDateStyle(style) {
		return raw
	}

	t, err := excelize.ExcelDateToTime(serial, dc.date1904)
	if err != nil {
		return raw
	}
	if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 {
		return t.Format("2006-01-02")
	}
	return t.Format("2006-01-02 15:04:05")
}

func (dc *dateCells) isDateStyle(idx int) bool {
	if isDate, ok := dc.styles[idx]; ok {
		return isDate
	}

	isDate := false
	if style, err := dc.file.GetStyle(idx); err == nil {
		if style.CustomNumFmt != nil {
			isDate = isDateFormat(*style.CustomNumFmt)
		} else {
			isDate = builtinDateFormats[style.NumFmt]
		}
	}
	dc.styles[idx] = isDate
	return isDate
}

// isDateFormat reports whether a custom number format has a year or day
// token outside quoted literals and bracketed sections
func isDateFormat(format string) bool {
	var quoted, bracketed bool
	for _, r := range strings.ToLower(format) {
		switch {
		case r == '"':
			quoted = !quoted
		case quoted:
		case r == '[':
			bracketed = true
		case r == ']':
			bracketed = false
		case bracketed:
		case r == 'y' || r == 'd':
			return true
		}
	}
	return false
}
