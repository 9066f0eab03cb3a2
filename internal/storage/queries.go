package storage

import (
	"context"
	"database/sql"
)

type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

type Queries struct {
	db DBTX
}

// TransactionRow mirrors the transactions table.
type TransactionRow struct {
	ID        string
	Owner     string
	Type      string
	Amount    float64
	Category  string
	Date      string
	Note      string
	CreatedAt string
	UpdatedAt string
}

const transactionColumns = `id, owner, type, amount, category, date, note, created_at, updated_at`

func scanTransaction(row interface{ Scan(...interface{}) error }) (TransactionRow, error) {
	var i TransactionRow
	err := row.Scan(
		&i.ID,
		&i.Owner,
		&i.Type,
		&i.Amount,
		&i.Category,
		&i.Date,
		&i.Note,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const createTransaction = `
INSERT INTO transactions (` + transactionColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
`

func (q *Queries) CreateTransaction(ctx context.Context, arg TransactionRow) error {
	_, err := q.db.ExecContext(ctx, createTransaction,
		arg.ID,
		arg.Owner,
		arg.Type,
		arg.Amount,
		arg.Category,
		arg.Date,
		arg.Note,
		arg.CreatedAt,
		arg.UpdatedAt,
	)
	return err
}

const getTransaction = `
SELECT ` + transactionColumns + ` FROM transactions
WHERE id = ? AND owner = ?
`

func (q *Queries) GetTransaction(ctx context.Context, id, owner string) (TransactionRow, error) {
	return scanTransaction(q.db.QueryRowContext(ctx, getTransaction, id, owner))
}

type ListTransactionsParams struct {
	Owner    string
	FromDate string
	ToDate   string
	Type     string
}

// Empty bounds and type are matched with the '' sentinels below.
const listTransactions = `
SELECT ` + transactionColumns + ` FROM transactions
WHERE owner = ?1
  AND (?2 = '' OR date >= ?2)
  AND (?3 = '' OR date <= ?3)
  AND (?4 = '' OR type = ?4)
ORDER BY date DESC, created_at DESC, id ASC
`

func (q *Queries) ListTransactions(ctx context.Context, arg ListTransactionsParams) ([]TransactionRow, error) {
	rows, err := q.db.QueryContext(ctx, listTransactions, arg.Owner, arg.FromDate, arg.ToDate, arg.Type)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []TransactionRow
	for rows.Next() {
		i, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

type UpdateTransactionParams struct {
	ID        string
	Owner     string
	Type      string
	Amount    float64
	Category  string
	Note      string
	UpdatedAt string
}

const updateTransaction = `
UPDATE transactions
SET type = ?, amount = ?, category = ?, note = ?, updated_at = ?
WHERE id = ? AND owner = ?
`

func (q *Queries) UpdateTransaction(ctx context.Context, arg UpdateTransactionParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, updateTransaction,
		arg.Type,
		arg.Amount,
		arg.Category,
		arg.Note,
		arg.UpdatedAt,
		arg.ID,
		arg.Owner,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const deleteTransaction = `
DELETE FROM transactions WHERE id = ? AND owner = ?
`

func (q *Queries) DeleteTransaction(ctx context.Context, id, owner string) (int64, error) {
	result, err := q.db.ExecContext(ctx, deleteTransaction, id, owner)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

type SumByMonthRow struct {
	Year  int64
	Month int64
	Type  string
	Total float64
}

const sumByMonth = `
SELECT CAST(substr(date, 1, 4) AS INTEGER) AS year,
       CAST(substr(date, 6, 2) AS INTEGER) AS month,
       type,
       SUM(amount) AS total
FROM transactions
WHERE owner = ? AND date >= ?
GROUP BY year, month, type
ORDER BY year, month, type
`

func (q *Queries) SumByMonth(ctx context.Context, owner, fromDate string) ([]SumByMonthRow, error) {
	rows, err := q.db.QueryContext(ctx, sumByMonth, owner, fromDate)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []SumByMonthRow
	for rows.Next() {
		var i SumByMonthRow
		if err := rows.Scan(&i.Year, &i.Month, &i.Type, &i.Total); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
