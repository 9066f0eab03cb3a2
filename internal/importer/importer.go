// Package importer stages spreadsheet uploads as normalized transaction rows.
//
// Staging never writes to the ledger. It either returns every data row of
// the upload or fails the whole batch, naming the first offending row.
package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"budget/internal/core"
	"budget/internal/log"
)

// Accepted upload content types.
const (
	MIMEXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	MIMEXLS  = "application/vnd.ms-excel"
)

var (
	ErrUnsupportedMIME = errors.New("unsupported file type")
	ErrUnreadable      = errors.New("unreadable spreadsheet")
	ErrMissingData     = errors.New("missing data")
	ErrTooLarge        = errors.New("file too large")
)

// DefaultMaxBytes caps the spooled upload size.
const DefaultMaxBytes int64 = 10 << 20

// Row is a normalized data row. Row is the physical 1-based line, so the
// first data row under the header is row 2.
type Row struct {
	Row int `json:"row"`
	core.Draft
}

// RowError names the row that aborted a batch.
type RowError struct {
	Row int
	Err error
}

func (e *RowError) Error() string { return fmt.Sprintf("row %d: %v", e.Row, e.Err) }

func (e *RowError) Unwrap() error { return e.Err }

// Upload is an incoming file.
type Upload struct {
	Filename    string
	ContentType string
	Body        io.Reader
}

type Normalizer struct {
	dir      string
	maxBytes int64
	logger   *log.Logger
}

type Option func(*Normalizer)

// WithTempDir sets where uploads are spooled. Empty means os.TempDir.
func WithTempDir(dir string) Option {
	return func(n *Normalizer) { n.dir = dir }
}

func WithMaxBytes(max int64) Option {
	return func(n *Normalizer) {
		if max > 0 {
			n.maxBytes = max
		}
	}
}

func WithLogger(l *log.Logger) Option {
	return func(n *Normalizer) { n.logger = l.WithComponent(log.ComponentImport) }
}

func New(opts ...Option) *Normalizer {
	n := &Normalizer{maxBytes: DefaultMaxBytes, logger: log.Discard()}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// AcceptsMIME reports whether contentType is one of the Excel types.
func AcceptsMIME(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mt == MIMEXLSX || mt == MIMEXLS
}

// Stage validates the content type, spools the upload to a temporary file
// and normalizes every data row. The temporary file is removed on every
// return path.
func (n *Normalizer) Stage(ctx context.Context, up Upload) ([]Row, error) {
	if !AcceptsMIME(up.ContentType) {
		return nil, core.NewValidation("Only Excel files are allowed", fmt.Errorf("%w: %q", ErrUnsupportedMIME, up.ContentType))
	}

	tmp, err := os.CreateTemp(n.dir, "import-*"+filepath.Ext(filepath.Base(up.Filename)))
	if err != nil {
		return nil, core.NewUpstream("failed to store upload", err)
	}
	defer func() {
		tmp.Close()
		if err := os.Remove(tmp.Name()); err != nil && !errors.Is(err, os.ErrNotExist) {
			n.logger.WarnContext(ctx, "Failed to remove spooled upload", log.FieldError, err)
		}
	}()

	written, err := io.Copy(tmp, io.LimitReader(up.Body, n.maxBytes+1))
	if err != nil {
		return nil, core.NewUpstream("failed to store upload", err)
	}
	if written > n.maxBytes {
		return nil, core.NewValidation(fmt.Sprintf("File exceeds %d bytes", n.maxBytes), ErrTooLarge)
	}
	if err := ctx.Err(); err != nil {
		return nil, core.NewUpstream("import cancelled", err)
	}

	grid, err := n.decode(tmp, up.ContentType)
	if err != nil {
		return nil, err
	}

	rows, err := NormalizeRows(grid)
	if err != nil {
		n.logger.InfoContext(ctx, "Import rejected", log.FieldError, err)
		return nil, err
	}

	n.logger.InfoContext(ctx, "Import staged", log.FieldRows, len(rows))
	return rows, nil
}

func (n *Normalizer) decode(tmp *os.File, contentType string) ([][]Cell, error) {
	head := make([]byte, 8)
	k, _ := tmp.ReadAt(head, 0)
	head = head[:k]

	unreadable := func(err error) error {
		return core.NewValidation("Could not read the spreadsheet", err)
	}

	switch sniff(head) {
	case formatXLSX:
		grid, err := decodeXLSX(tmp.Name())
		if err != nil {
			return nil, unreadable(err)
		}
		return grid, nil
	case formatLegacyXLS:
		return nil, unreadable(fmt.Errorf("%w: legacy .xls workbooks are not supported, save as .xlsx", ErrUnreadable))
	default:
		mt, _, _ := mime.ParseMediaType(contentType)
		if mt != MIMEXLS {
			return nil, unreadable(fmt.Errorf("%w: not an xlsx workbook", ErrUnreadable))
		}
		if _, err := tmp.Seek(0, io.SeekStart); err != nil {
			return nil, core.NewUpstream("failed to read upload", err)
		}
		grid, err := decodeCSV(tmp)
		if err != nil {
			return nil, unreadable(err)
		}
		return grid, nil
	}
}

// NormalizeRows maps the header row to field names and normalizes every
// following non-blank row. The first failure aborts the batch. A sheet with
// no data rows yields an empty slice.
func NormalizeRows(grid [][]Cell) ([]Row, error) {
	if len(grid) == 0 {
		return []Row{}, nil
	}
	columns := headerIndex(grid[0])

	out := make([]Row, 0, len(grid)-1)
	for i := 1; i < len(grid); i++ {
		if blank(grid[i]) {
			continue
		}
		row, err := normalizeRow(i+1, grid[i], columns)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, nil
}

func headerIndex(header []Cell) map[string]int {
	idx := make(map[string]int, len(header))
	for i, c := range header {
		name := strings.ToLower(strings.TrimSpace(c.Text()))
		if _, dup := idx[name]; name != "" && !dup {
			idx[name] = i
		}
	}
	return idx
}

func blank(row []Cell) bool {
	for _, c := range row {
		if !c.Falsy() {
			return false
		}
	}
	return true
}

func normalizeRow(physical int, cells []Cell, columns map[string]int) (Row, error) {
	get := func(name string) Cell {
		i, ok := columns[name]
		if !ok || i >= len(cells) {
			return Cell{}
		}
		return cells[i]
	}
	fail := func(msg string, err error) error {
		return core.NewValidation(fmt.Sprintf("%s in row %d", msg, physical), &RowError{Row: physical, Err: err})
	}

	typ, category, amount, date := get("type"), get("category"), get("amount"), get("date")
	if typ.Falsy() || category.Falsy() || amount.Falsy() || date.Falsy() {
		return Row{}, fail("Missing data", ErrMissingData)
	}

	resolved, err := resolveDate(date)
	if errors.Is(err, ErrUnsupportedDateFormat) {
		return Row{}, fail("Unsupported date format", err)
	}
	if err != nil {
		return Row{}, fail("Invalid date", err)
	}

	var value float64
	if amount.Kind == CellNumber {
		value = amount.Num
	} else if value, err = core.ParseAmount(amount.Text()); err != nil {
		return Row{}, fail("Invalid amount", err)
	}

	return Row{
		Row: physical,
		Draft: core.Draft{
			Type:     strings.ToLower(strings.TrimSpace(typ.Text())),
			Category: strings.TrimSpace(category.Text()),
			Amount:   value,
			Date:     shiftUpstreamOffset(resolved).String(),
			Note:     strings.TrimSpace(get("note").Text()),
		},
	}, nil
}
