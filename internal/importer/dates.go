package importer

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"budget/internal/core"

	"cloud.google.com/go/civil"
	"github.com/xuri/excelize/v2"
)

// ErrUnsupportedDateFormat is returned for date values that are neither a
// serial number, a native date nor a dash or slash separated string.
var ErrUnsupportedDateFormat = errors.New("unsupported date format")

// Largest serial a spreadsheet can hold: 9999-12-31.
const maxSerial = 2958465

// resolveDate turns a date cell into a calendar date. Exactly one branch
// applies, in this order: serial number, native date, "-" string, "/" string.
func resolveDate(c Cell) (civil.Date, error) {
	switch c.Kind {
	case CellNumber:
		return fromSerial(c.Num)
	case CellDate:
		return civil.Date{Year: c.Time.Year(), Month: c.Time.Month(), Day: c.Time.Day()}, nil
	case CellString:
		s := strings.TrimSpace(c.Str)
		switch {
		case strings.Contains(s, "-"):
			return fromParts(strings.Split(s, "-"))
		case strings.Contains(s, "/"):
			return fromParts(strings.Split(s, "/"))
		}
	}
	return civil.Date{}, ErrUnsupportedDateFormat
}

func fromSerial(serial float64) (civil.Date, error) {
	if serial < 1 || serial > maxSerial {
		return civil.Date{}, core.ErrInvalidDate
	}
	t, err := excelize.ExcelDateToTime(serial, false)
	if err != nil {
		return civil.Date{}, core.ErrInvalidDate
	}
	d := civil.Date{Year: t.Year(), Month: t.Month(), Day: t.Day()}
	if !d.IsValid() {
		return civil.Date{}, core.ErrInvalidDate
	}
	return d, nil
}

// fromParts reads YYYY?MM?DD when the first part has four characters and
// DD?MM?YYYY otherwise.
func fromParts(parts []string) (civil.Date, error) {
	if len(parts) != 3 {
		return civil.Date{}, core.ErrInvalidDate
	}
	nums := make([]int, 3)
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return civil.Date{}, core.ErrInvalidDate
		}
		nums[i] = n
	}
	var y, m, d int
	if len(strings.TrimSpace(parts[0])) == 4 {
		y, m, d = nums[0], nums[1], nums[2]
	} else {
		d, m, y = nums[0], nums[1], nums[2]
	}
	if m < 1 || m > 12 {
		return civil.Date{}, core.ErrInvalidDate
	}
	date := civil.Date{Year: y, Month: time.Month(m), Day: d}
	if !date.IsValid() {
		return civil.Date{}, core.ErrInvalidDate
	}
	return date, nil
}

// shiftUpstreamOffset adds the one day that imported dates are expected to
// carry. The source exports truncate dates one day early; consumers of the
// normalized rows depend on the shifted value.
func shiftUpstreamOffset(d civil.Date) civil.Date {
	return d.AddDays(1)
}
