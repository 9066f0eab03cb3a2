package importer

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"regexp"
	"strings"
	"testing"

	"budget/internal/core"

	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func header() []Cell {
	return []Cell{StringCell("Type"), StringCell("Category"), StringCell("Amount"), StringCell("Date"), StringCell("Note")}
}

func TestNormalizeRows_DateProperties(t *testing.T) {
	grid := [][]Cell{
		header(),
		{StringCell("expense"), StringCell("Food"), NumberCell(12), StringCell("15-07-2024")},
		{StringCell("expense"), StringCell("Food"), NumberCell(12), StringCell("2024-07-15")},
	}
	rows, err := NormalizeRows(grid)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "2024-07-16", rows[0].Date)
	require.Equal(t, "2024-07-16", rows[1].Date)
	require.Equal(t, 2, rows[0].Row)
	require.Equal(t, 3, rows[1].Row)
}

func TestNormalizeRows_OutputNormalization(t *testing.T) {
	grid := [][]Cell{
		{StringCell(" DATE "), StringCell("amount"), StringCell("Category"), StringCell("TYPE"), StringCell("note")},
		{NumberCell(45488), StringCell("12,5"), StringCell("  Groceries "), StringCell(" Expense "), StringCell("  weekly shop ")},
		{},
		{StringCell("2024/01/31"), NumberCell(-20), StringCell("Refund"), StringCell("INCOME")},
	}
	rows, err := NormalizeRows(grid)
	require.NoError(t, err)
	require.Equal(t, []Row{
		{Row: 2, Draft: core.Draft{Type: "expense", Category: "Groceries", Amount: 12.5, Date: "2024-07-16", Note: "weekly shop"}},
		{Row: 4, Draft: core.Draft{Type: "income", Category: "Refund", Amount: -20, Date: "2024-02-01", Note: ""}},
	}, rows)
}

func TestNormalizeRows_FailuresNameTheRow(t *testing.T) {
	tests := []struct {
		name    string
		row     []Cell
		message string
		cause   error
	}{
		{
			name:    "missing amount",
			row:     []Cell{StringCell("expense"), StringCell("Food"), {}, StringCell("2024-07-15")},
			message: "Missing data in row 2",
			cause:   ErrMissingData,
		},
		{
			name:    "zero amount counts as missing",
			row:     []Cell{StringCell("expense"), StringCell("Food"), NumberCell(0), StringCell("2024-07-15")},
			message: "Missing data in row 2",
			cause:   ErrMissingData,
		},
		{
			name:    "blank category",
			row:     []Cell{StringCell("expense"), StringCell("   "), NumberCell(3), StringCell("2024-07-15")},
			message: "Missing data in row 2",
			cause:   ErrMissingData,
		},
		{
			name:    "unsupported date",
			row:     []Cell{StringCell("expense"), StringCell("Food"), NumberCell(3), StringCell("yesterday")},
			message: "Unsupported date format in row 2",
			cause:   ErrUnsupportedDateFormat,
		},
		{
			name:    "invalid date",
			row:     []Cell{StringCell("expense"), StringCell("Food"), NumberCell(3), StringCell("32-01-2024")},
			message: "Invalid date in row 2",
			cause:   core.ErrInvalidDate,
		},
		{
			name:    "unparseable amount",
			row:     []Cell{StringCell("expense"), StringCell("Food"), StringCell("lots"), StringCell("2024-01-02")},
			message: "Invalid amount in row 2",
			cause:   core.ErrInvalidAmount,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows, err := NormalizeRows([][]Cell{header(), tt.row})
			require.Nil(t, rows)
			require.Equal(t, core.KindValidation, core.KindOf(err))
			require.Equal(t, tt.message, core.MessageOf(err))
			require.ErrorIs(t, err, tt.cause)

			var rowErr *RowError
			require.True(t, errors.As(err, &rowErr))
			require.Equal(t, 2, rowErr.Row)
		})
	}
}

func TestNormalizeRows_AbortsWholeBatch(t *testing.T) {
	grid := [][]Cell{
		header(),
		{StringCell("income"), StringCell("Salary"), NumberCell(100), StringCell("2024-07-01")},
		{StringCell("expense"), StringCell("Food"), NumberCell(5), StringCell("2024-07-02")},
		{StringCell("expense"), {}, NumberCell(5), StringCell("2024-07-03")},
	}
	rows, err := NormalizeRows(grid)
	require.Nil(t, rows)
	require.Equal(t, "Missing data in row 4", core.MessageOf(err))
}

func TestNormalizeRows_HeaderOnly(t *testing.T) {
	rows, err := NormalizeRows([][]Cell{header()})
	require.NoError(t, err)
	require.Empty(t, rows)
}

func buildWorkbook(t *testing.T, rows ...[]any) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	for i, r := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		row := r
		require.NoError(t, f.SetSheetRow("Sheet1", cell, &row))
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf.Bytes()
}

func requireEmptyDir(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries, "spooled upload left behind")
}

func TestStage_XLSX(t *testing.T) {
	dir := t.TempDir()
	data := buildWorkbook(t,
		[]any{"type", "category", "amount", "date", "note"},
		[]any{"Income", " Salary ", 1500.5, 45488, "july pay"},
		[]any{"expense", "Rent", "700", "01/08/2024"},
	)

	n := New(WithTempDir(dir))
	rows, err := n.Stage(context.Background(), Upload{
		Filename:    "july.xlsx",
		ContentType: MIMEXLSX,
		Body:        bytes.NewReader(data),
	})
	require.NoError(t, err)
	require.Equal(t, []Row{
		{Row: 2, Draft: core.Draft{Type: "income", Category: "Salary", Amount: 1500.5, Date: "2024-07-16", Note: "july pay"}},
		{Row: 3, Draft: core.Draft{Type: "expense", Category: "Rent", Amount: 700, Date: "2024-08-02", Note: ""}},
	}, rows)
	requireEmptyDir(t, dir)
}

// rewriteCell replaces the XML of one cell in the first worksheet.
func rewriteCell(t *testing.T, workbook []byte, ref, cellXML string) []byte {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(workbook), int64(len(workbook)))
	require.NoError(t, err)

	pattern := regexp.MustCompile(`<c r="` + ref + `"[^>]*?(/>|>.*?</c>)`)
	var out bytes.Buffer
	zw := zip.NewWriter(&out)
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		content, err := io.ReadAll(rc)
		require.NoError(t, err)
		require.NoError(t, rc.Close())

		if f.Name == "xl/worksheets/sheet1.xml" {
			require.True(t, pattern.Match(content), "cell %s not found", ref)
			content = pattern.ReplaceAll(content, []byte(cellXML))
		}
		w, err := zw.Create(f.Name)
		require.NoError(t, err)
		_, err = w.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return out.Bytes()
}

func TestStage_XLSXNativeDateCell(t *testing.T) {
	data := buildWorkbook(t,
		[]any{"type", "category", "amount", "date"},
		[]any{"expense", "Food", 12, 1},
	)
	data = rewriteCell(t, data, "D2", `<c r="D2" t="d"><v>2024-07-15T00:00:00Z</v></c>`)

	rows, err := New(WithTempDir(t.TempDir())).Stage(context.Background(), Upload{
		Filename:    "native.xlsx",
		ContentType: MIMEXLSX,
		Body:        bytes.NewReader(data),
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "2024-07-16", rows[0].Date)
}

func TestXLSXCell_DateTyped(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"2024-07-15T00:00:00Z", "2024-07-15"},
		{"2024-07-15T13:45:00", "2024-07-15"},
		{"2024-07-15", "2024-07-15"},
		{"45488", "2024-07-15"},
	}
	for _, tt := range tests {
		c := xlsxCell(excelize.CellTypeDate, tt.raw)
		require.Equal(t, CellDate, c.Kind, tt.raw)
		require.Equal(t, tt.want, c.Time.Format("2006-01-02"), tt.raw)
	}
	require.Equal(t, CellString, xlsxCell(excelize.CellTypeDate, "soon").Kind)
}

func TestStage_CSVLabelledAsExcel(t *testing.T) {
	dir := t.TempDir()
	body := "\ufefftype,category,amount,date,note\nexpense,Food,12.40,15-07-2024,\"pizza, large\"\n"

	rows, err := New(WithTempDir(dir)).Stage(context.Background(), Upload{
		Filename:    "export.csv",
		ContentType: MIMEXLS,
		Body:        strings.NewReader(body),
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "2024-07-16", rows[0].Date)
	require.Equal(t, 12.4, rows[0].Amount)
	require.Equal(t, "pizza, large", rows[0].Note)
	requireEmptyDir(t, dir)
}

func TestStage_RejectsNonExcelBeforeParsing(t *testing.T) {
	dir := t.TempDir()
	for _, ct := range []string{"text/csv", "application/pdf", "", "application/json"} {
		_, err := New(WithTempDir(dir)).Stage(context.Background(), Upload{
			Filename:    "x.csv",
			ContentType: ct,
			Body:        strings.NewReader("type,category,amount,date\n"),
		})
		require.Equal(t, core.KindValidation, core.KindOf(err), ct)
		require.ErrorIs(t, err, ErrUnsupportedMIME)
	}
	requireEmptyDir(t, dir)
}

func TestStage_CleansUpOnFailure(t *testing.T) {
	dir := t.TempDir()
	data := buildWorkbook(t,
		[]any{"type", "category", "amount", "date"},
		[]any{"expense", "Food", "", "2024-07-15"},
	)
	_, err := New(WithTempDir(dir)).Stage(context.Background(), Upload{
		Filename: "bad.xlsx", ContentType: MIMEXLSX, Body: bytes.NewReader(data),
	})
	require.Equal(t, "Missing data in row 2", core.MessageOf(err))
	requireEmptyDir(t, dir)

	_, err = New(WithTempDir(dir)).Stage(context.Background(), Upload{
		Filename: "old.xls", ContentType: MIMEXLS, Body: bytes.NewReader([]byte{0xD0, 0xCF, 0x11, 0xE0, 0, 0, 0, 0}),
	})
	require.ErrorIs(t, err, ErrUnreadable)
	requireEmptyDir(t, dir)

	_, err = New(WithTempDir(dir)).Stage(context.Background(), Upload{
		Filename: "fake.xlsx", ContentType: MIMEXLSX, Body: strings.NewReader("not a workbook"),
	})
	require.ErrorIs(t, err, ErrUnreadable)
	requireEmptyDir(t, dir)
}

func TestStage_TooLarge(t *testing.T) {
	dir := t.TempDir()
	_, err := New(WithTempDir(dir), WithMaxBytes(16)).Stage(context.Background(), Upload{
		Filename: "big.csv", ContentType: MIMEXLS, Body: strings.NewReader(strings.Repeat("a", 64)),
	})
	require.ErrorIs(t, err, ErrTooLarge)
	requireEmptyDir(t, dir)
}

func TestAcceptsMIME(t *testing.T) {
	require.True(t, AcceptsMIME(MIMEXLSX))
	require.True(t, AcceptsMIME("application/vnd.ms-excel; charset=binary"))
	require.False(t, AcceptsMIME("text/plain"))
	require.False(t, AcceptsMIME("not a media type;;"))
}
