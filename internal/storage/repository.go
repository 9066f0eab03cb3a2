package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"budget/internal/core"
	"budget/internal/ledger"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const timestampLayout = time.RFC3339Nano

// SQLiteRepository is the ledger store backed by a local SQLite file.
type SQLiteRepository struct {
	db      *sql.DB
	queries *Queries
	now     func() time.Time
}

var (
	_ ledger.Store        = (*SQLiteRepository)(nil)
	_ ledger.MonthGrouper = (*SQLiteRepository)(nil)
	_ ledger.Pinger       = (*SQLiteRepository)(nil)
)

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db, queries: New(db), now: time.Now}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *SQLiteRepository) Create(ctx context.Context, tx core.Transaction) (core.Transaction, error) {
	if err := tx.Validate(); err != nil {
		return core.Transaction{}, err
	}
	now := r.now().UTC()
	tx.ID = uuid.NewString()
	tx.CreatedAt, tx.UpdatedAt = now, now

	if err := r.queries.CreateTransaction(ctx, toRow(tx)); err != nil {
		return core.Transaction{}, fmt.Errorf("create transaction: %w", err)
	}
	return tx, nil
}

func (r *SQLiteRepository) Get(ctx context.Context, owner, id string) (core.Transaction, error) {
	row, err := r.queries.GetTransaction(ctx, id, owner)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Transaction{}, ledger.ErrNotFound
	}
	if err != nil {
		return core.Transaction{}, fmt.Errorf("get transaction %s: %w", id, err)
	}
	return fromRow(row)
}

func (r *SQLiteRepository) Find(ctx context.Context, q ledger.Query) ([]core.Transaction, error) {
	params := ListTransactionsParams{Owner: q.Owner, Type: string(q.Type)}
	if q.From.IsValid() {
		params.FromDate = q.From.String()
	}
	if q.To.IsValid() {
		params.ToDate = q.To.String()
	}

	rows, err := r.queries.ListTransactions(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}

	out := make([]core.Transaction, 0, len(rows))
	for _, row := range rows {
		tx, err := fromRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, nil
}

func (r *SQLiteRepository) Update(ctx context.Context, tx core.Transaction) (core.Transaction, error) {
	if err := tx.Validate(); err != nil {
		return core.Transaction{}, err
	}
	n, err := r.queries.UpdateTransaction(ctx, UpdateTransactionParams{
		ID:        tx.ID,
		Owner:     tx.Owner,
		Type:      string(tx.Type),
		Amount:    tx.Amount,
		Category:  tx.Category,
		Note:      tx.Note,
		UpdatedAt: r.now().UTC().Format(timestampLayout),
	})
	if err != nil {
		return core.Transaction{}, fmt.Errorf("update transaction %s: %w", tx.ID, err)
	}
	if n == 0 {
		return core.Transaction{}, ledger.ErrNotFound
	}
	return r.Get(ctx, tx.Owner, tx.ID)
}

func (r *SQLiteRepository) Delete(ctx context.Context, owner, id string) error {
	n, err := r.queries.DeleteTransaction(ctx, id, owner)
	if err != nil {
		return fmt.Errorf("delete transaction %s: %w", id, err)
	}
	if n == 0 {
		return ledger.ErrNotFound
	}
	return nil
}

// SumByMonth groups the owner's amounts by calendar month and type.
func (r *SQLiteRepository) SumByMonth(ctx context.Context, owner string, from civil.Date) ([]ledger.MonthTotal, error) {
	rows, err := r.queries.SumByMonth(ctx, owner, from.String())
	if err != nil {
		return nil, fmt.Errorf("sum by month: %w", err)
	}
	out := make([]ledger.MonthTotal, 0, len(rows))
	for _, row := range rows {
		out = append(out, ledger.MonthTotal{
			Year:  int(row.Year),
			Month: time.Month(row.Month),
			Type:  core.Type(row.Type),
			Total: row.Total,
		})
	}
	return out, nil
}

func toRow(tx core.Transaction) TransactionRow {
	return TransactionRow{
		ID:        tx.ID,
		Owner:     tx.Owner,
		Type:      string(tx.Type),
		Amount:    tx.Amount,
		Category:  tx.Category,
		Date:      tx.Date.String(),
		Note:      tx.Note,
		CreatedAt: tx.CreatedAt.Format(timestampLayout),
		UpdatedAt: tx.UpdatedAt.Format(timestampLayout),
	}
}

func fromRow(row TransactionRow) (core.Transaction, error) {
	date, err := civil.ParseDate(row.Date)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("transaction %s: bad stored date %q: %w", row.ID, row.Date, err)
	}
	created, err := time.Parse(timestampLayout, row.CreatedAt)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("transaction %s: bad created_at: %w", row.ID, err)
	}
	updated, err := time.Parse(timestampLayout, row.UpdatedAt)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("transaction %s: bad updated_at: %w", row.ID, err)
	}
	return core.Transaction{
		ID:        row.ID,
		Owner:     row.Owner,
		Type:      core.Type(row.Type),
		Amount:    row.Amount,
		Category:  row.Category,
		Date:      date,
		Note:      row.Note,
		CreatedAt: created,
		UpdatedAt: updated,
	}, nil
}
