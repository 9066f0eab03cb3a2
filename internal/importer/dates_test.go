package importer

import (
	"errors"
	"testing"
	"time"

	"budget/internal/core"

	"cloud.google.com/go/civil"
)

func TestResolveDate(t *testing.T) {
	tests := []struct {
		name    string
		cell    Cell
		want    civil.Date
		wantErr error
	}{
		{"day first dashes", StringCell("15-07-2024"), civil.Date{Year: 2024, Month: 7, Day: 15}, nil},
		{"year first dashes", StringCell("2024-07-15"), civil.Date{Year: 2024, Month: 7, Day: 15}, nil},
		{"day first slashes", StringCell("15/07/2024"), civil.Date{Year: 2024, Month: 7, Day: 15}, nil},
		{"year first slashes unpadded", StringCell(" 2024/7/5 "), civil.Date{Year: 2024, Month: 7, Day: 5}, nil},
		{"serial number", NumberCell(45488), civil.Date{Year: 2024, Month: 7, Day: 15}, nil},
		{"serial with time of day", NumberCell(45488.75), civil.Date{Year: 2024, Month: 7, Day: 15}, nil},
		{"native date", DateCell(time.Date(2024, 7, 15, 0, 0, 0, 0, time.UTC)), civil.Date{Year: 2024, Month: 7, Day: 15}, nil},
		{"words", StringCell("July 15 2024"), civil.Date{}, ErrUnsupportedDateFormat},
		{"dotted", StringCell("15.07.2024"), civil.Date{}, ErrUnsupportedDateFormat},
		{"month out of range", StringCell("2024-13-01"), civil.Date{}, core.ErrInvalidDate},
		{"impossible day", StringCell("31-02-2024"), civil.Date{}, core.ErrInvalidDate},
		{"two parts", StringCell("2024-07"), civil.Date{}, core.ErrInvalidDate},
		{"letters in part", StringCell("2024-Jul-15"), civil.Date{}, core.ErrInvalidDate},
		{"negative serial", NumberCell(-3), civil.Date{}, core.ErrInvalidDate},
		{"serial beyond year 9999", NumberCell(3e6), civil.Date{}, core.ErrInvalidDate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolveDate(tt.cell)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("resolveDate() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("resolveDate() unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("resolveDate() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestShiftUpstreamOffset(t *testing.T) {
	cases := map[civil.Date]civil.Date{
		{Year: 2024, Month: 7, Day: 15}:  {Year: 2024, Month: 7, Day: 16},
		{Year: 2024, Month: 2, Day: 28}:  {Year: 2024, Month: 2, Day: 29},
		{Year: 2024, Month: 12, Day: 31}: {Year: 2025, Month: 1, Day: 1},
	}
	for in, want := range cases {
		if got := shiftUpstreamOffset(in); got != want {
			t.Errorf("shiftUpstreamOffset(%v) = %v, want %v", in, got, want)
		}
	}
}
