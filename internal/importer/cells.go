package importer

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
)

// CellKind tells how a spreadsheet stored a value.
type CellKind int

const (
	CellEmpty CellKind = iota
	CellString
	CellNumber
	CellDate
)

// Cell is one decoded spreadsheet value.
type Cell struct {
	Kind CellKind
	Str  string
	Num  float64
	Time time.Time
}

func StringCell(s string) Cell {
	if s == "" {
		return Cell{Kind: CellEmpty}
	}
	return Cell{Kind: CellString, Str: s}
}

func NumberCell(f float64) Cell { return Cell{Kind: CellNumber, Num: f} }

func DateCell(t time.Time) Cell { return Cell{Kind: CellDate, Time: t} }

// Falsy mirrors how loosely typed exports treat blanks: empty cells, empty
// or blank strings and the number zero count as missing.
func (c Cell) Falsy() bool {
	switch c.Kind {
	case CellEmpty:
		return true
	case CellString:
		return strings.TrimSpace(c.Str) == ""
	case CellNumber:
		return c.Num == 0
	default:
		return c.Time.IsZero()
	}
}

// Text renders the cell as a string, numbers without trailing zeros.
func (c Cell) Text() string {
	switch c.Kind {
	case CellString:
		return c.Str
	case CellNumber:
		return strconv.FormatFloat(c.Num, 'f', -1, 64)
	case CellDate:
		return c.Time.Format("2006-01-02")
	default:
		return ""
	}
}

var (
	zipMagic  = []byte("PK\x03\x04")
	biffMagic = []byte{0xD0, 0xCF, 0x11, 0xE0}
)

type format int

const (
	formatXLSX format = iota
	formatCSV
	formatLegacyXLS
)

func sniff(head []byte) format {
	switch {
	case bytes.HasPrefix(head, zipMagic):
		return formatXLSX
	case bytes.HasPrefix(head, biffMagic):
		return formatLegacyXLS
	default:
		return formatCSV
	}
}

// decodeXLSX reads the first worksheet of the workbook at path.
func decodeXLSX(path string) ([][]Cell, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%w: workbook has no sheets", ErrUnreadable)
	}
	sheet := sheets[0]

	raw, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}

	out := make([][]Cell, len(raw))
	for r, values := range raw {
		row := make([]Cell, len(values))
		for c, v := range values {
			if v == "" {
				continue
			}
			name, err := excelize.CoordinatesToCellName(c+1, r+1)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
			}
			typ, err := f.GetCellType(sheet, name)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
			}
			row[c] = xlsxCell(typ, v)
		}
		out[r] = row
	}
	return out, nil
}

func xlsxCell(typ excelize.CellType, raw string) Cell {
	switch typ {
	case excelize.CellTypeUnset, excelize.CellTypeNumber:
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			return NumberCell(f)
		}
	case excelize.CellTypeDate:
		// t="d" cells hold ISO 8601 text; some writers store a serial instead.
		if t, ok := parseISODate(raw); ok {
			return DateCell(t)
		}
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			if t, err := excelize.ExcelDateToTime(f, false); err == nil {
				return DateCell(t)
			}
		}
	}
	return StringCell(raw)
}

var isoDateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

func parseISODate(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	for _, layout := range isoDateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// decodeCSV reads comma separated content. Numeric looking fields become
// numbers, as spreadsheet applications do when opening CSV.
func decodeCSV(r io.Reader) ([][]Cell, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	var out [][]Cell
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
		}
		if len(out) == 0 && len(rec) > 0 {
			rec[0] = strings.TrimPrefix(rec[0], "\ufeff")
		}
		row := make([]Cell, len(rec))
		for i, v := range rec {
			trimmed := strings.TrimSpace(v)
			if f, err := strconv.ParseFloat(trimmed, 64); err == nil && trimmed != "" {
				row[i] = NumberCell(f)
				continue
			}
			row[i] = StringCell(v)
		}
		out = append(out, row)
	}
	return out, nil
}
