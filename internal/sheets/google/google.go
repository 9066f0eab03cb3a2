package google

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"budget/internal/core"
	"budget/internal/log"
	ports "budget/internal/sheets"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"
)

// Ensure interface conformance
var _ ports.Mirror = (*Mirror)(nil)

// Config locates the mirror spreadsheet and its credentials. With neither
// credential set, Application Default Credentials are used.
type Config struct {
	SpreadsheetID   string
	SheetName       string
	CredentialsFile string
	CredentialsJSON string
}

// Mirror writes transactions to a Google Sheet keyed by transaction ID in
// column A.
type Mirror struct {
	svc           *gsheet.Service
	spreadsheetID string
	sheet         string
	logger        *log.Logger

	// serializes lookup-then-write so two events never claim the same row
	mu      sync.Mutex
	sheetID *int64
}

// New creates a Sheets mirror. Extra client options are appended after the
// credential options.
func New(ctx context.Context, cfg Config, logger *log.Logger, opts ...goption.ClientOption) (*Mirror, error) {
	spreadsheetID := strings.TrimSpace(cfg.SpreadsheetID)
	if spreadsheetID == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}
	sheet := strings.TrimSpace(cfg.SheetName)
	if sheet == "" {
		sheet = "Transactions"
	}
	if logger == nil {
		logger = log.Discard()
	}
	logger = logger.WithComponent(log.ComponentSheets)

	var base []goption.ClientOption
	switch {
	case strings.TrimSpace(cfg.CredentialsJSON) != "":
		logger.InfoContext(ctx, "Using inline JSON credentials")
		base = append(base, goption.WithCredentialsJSON([]byte(cfg.CredentialsJSON)))
	case strings.TrimSpace(cfg.CredentialsFile) != "":
		logger.InfoContext(ctx, "Reading credentials from file", "path", cfg.CredentialsFile)
		base = append(base, goption.WithCredentialsFile(cfg.CredentialsFile))
	}
	base = append(base, goption.WithScopes(gsheet.SpreadsheetsScope))

	svc, err := gsheet.NewService(ctx, append(base, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}

	return &Mirror{svc: svc, spreadsheetID: spreadsheetID, sheet: sheet, logger: logger}, nil
}

// Upsert implements ports.Mirror.
func (m *Mirror) Upsert(ctx context.Context, tx core.Transaction) error {
	if err := tx.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	if m.svc == nil {
		return errors.New("sheets service not initialized")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	rows, err := m.readKeys(ctx)
	if err != nil {
		return err
	}

	row := rowOf(rows, tx.ID)
	if row == 0 {
		if len(rows) == 0 {
			header := make([]any, len(ports.Header))
			for i, h := range ports.Header {
				header[i] = h
			}
			if err := m.writeRow(ctx, 1, header); err != nil {
				return err
			}
			rows = append(rows, []string{ports.Header[0]})
		}
		row = len(rows) + 1
	}

	if err := m.writeRow(ctx, row, rowValues(tx)); err != nil {
		return err
	}
	m.logger.DebugContext(ctx, "Mirrored transaction",
		log.FieldTransactionID, tx.ID,
		log.FieldRow, row)
	return nil
}

// Remove implements ports.Mirror. Rows owned by someone else are left alone.
func (m *Mirror) Remove(ctx context.Context, owner, id string) error {
	if m.svc == nil {
		return errors.New("sheets service not initialized")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	rows, err := m.readKeys(ctx)
	if err != nil {
		return err
	}
	row := rowOf(rows, id)
	if row == 0 || safeGet(rows[row-1], 1) != owner {
		m.logger.DebugContext(ctx, "Nothing to remove from sheet", log.FieldTransactionID, id)
		return nil
	}

	sheetID, err := m.lookupSheetID(ctx)
	if err != nil {
		return err
	}
	req := &gsheet.BatchUpdateSpreadsheetRequest{
		Requests: []*gsheet.Request{{
			DeleteDimension: &gsheet.DeleteDimensionRequest{
				Range: &gsheet.DimensionRange{
					SheetId:         sheetID,
					Dimension:       "ROWS",
					StartIndex:      int64(row - 1),
					EndIndex:        int64(row),
					ForceSendFields: []string{"SheetId", "StartIndex"},
				},
			},
		}},
	}
	if _, err := m.svc.Spreadsheets.BatchUpdate(m.spreadsheetID, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("failed to delete row %d in sheet %s: %w", row, m.sheet, err)
	}
	m.logger.DebugContext(ctx, "Removed mirrored transaction",
		log.FieldTransactionID, id,
		log.FieldRow, row)
	return nil
}

// readKeys returns the ID and owner columns, one entry per sheet row.
func (m *Mirror) readKeys(ctx context.Context) ([][]string, error) {
	rng := fmt.Sprintf("%s!A:B", m.sheet)
	resp, err := m.svc.Spreadsheets.Values.Get(m.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to read keys from %s: %w", m.sheet, err)
	}
	out := make([][]string, len(resp.Values))
	for i, r := range resp.Values {
		out[i] = toStrings(r)
	}
	return out, nil
}

func (m *Mirror) writeRow(ctx context.Context, row int, values []any) error {
	rng := fmt.Sprintf("%s!A%d:H%d", m.sheet, row, row)
	vr := &gsheet.ValueRange{Values: [][]any{values}}
	_, err := m.svc.Spreadsheets.Values.Update(m.spreadsheetID, rng, vr).
		ValueInputOption("USER_ENTERED").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", rng, err)
	}
	return nil
}

func (m *Mirror) lookupSheetID(ctx context.Context) (int64, error) {
	if m.sheetID != nil {
		return *m.sheetID, nil
	}
	ss, err := m.svc.Spreadsheets.Get(m.spreadsheetID).Fields("sheets.properties").Context(ctx).Do()
	if err != nil {
		return 0, fmt.Errorf("failed to read spreadsheet metadata: %w", err)
	}
	for _, s := range ss.Sheets {
		if s.Properties != nil && s.Properties.Title == m.sheet {
			id := s.Properties.SheetId
			m.sheetID = &id
			return id, nil
		}
	}
	return 0, fmt.Errorf("sheet %q not found", m.sheet)
}

func rowValues(tx core.Transaction) []any {
	updated := tx.UpdatedAt
	if updated.IsZero() {
		updated = tx.CreatedAt
	}
	return []any{
		tx.ID,
		tx.Owner,
		tx.Date.String(),
		string(tx.Type),
		tx.Category,
		tx.Amount,
		tx.Note,
		updated.UTC().Format(time.RFC3339),
	}
}

// rowOf returns the 1-based sheet row holding id, or 0.
func rowOf(rows [][]string, id string) int {
	for i, r := range rows {
		if i == 0 {
			continue
		}
		if strings.TrimSpace(safeGet(r, 0)) == id {
			return i + 1
		}
	}
	return 0
}

func toStrings(row []any) []string {
	out := make([]string, len(row))
	for i, v := range row {
		out[i] = fmt.Sprint(v)
	}
	return out
}

func safeGet(arr []string, idx int) string {
	if idx < 0 || idx >= len(arr) {
		return ""
	}
	return arr[idx]
}
