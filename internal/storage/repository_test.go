package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"budget/internal/core"
	"budget/internal/ledger"

	"cloud.google.com/go/civil"
	"github.com/stretchr/testify/require"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "nested", "budget.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func date(y int, m time.Month, d int) civil.Date {
	return civil.Date{Year: y, Month: m, Day: d}
}

func TestSQLiteRepository_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	created, err := repo.Create(ctx, core.Transaction{
		Owner: "alice", Type: core.Income, Amount: 1200.5, Category: "Salary",
		Date: date(2024, time.July, 16), Note: "july",
	})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)

	got, err := repo.Get(ctx, "alice", created.ID)
	require.NoError(t, err)
	require.Equal(t, created.ID, got.ID)
	require.Equal(t, 1200.5, got.Amount)
	require.Equal(t, date(2024, time.July, 16), got.Date)
	require.True(t, created.CreatedAt.Equal(got.CreatedAt))

	_, err = repo.Get(ctx, "bob", created.ID)
	require.ErrorIs(t, err, ledger.ErrNotFound)
	require.NoError(t, repo.Ping(ctx))
}

func TestSQLiteRepository_FindAndSum(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	seed := []core.Transaction{
		{Owner: "alice", Type: core.Income, Amount: 100, Category: "Salary", Date: date(2024, time.January, 31)},
		{Owner: "alice", Type: core.Expense, Amount: 40.25, Category: "Food", Date: date(2024, time.February, 1)},
		{Owner: "alice", Type: core.Expense, Amount: 9.75, Category: "Food", Date: date(2024, time.February, 29)},
		{Owner: "alice", Type: core.Income, Amount: 5, Category: "Gift", Date: date(2023, time.December, 31)},
		{Owner: "bob", Type: core.Expense, Amount: 1000, Category: "Rent", Date: date(2024, time.February, 1)},
	}
	for _, tx := range seed {
		_, err := repo.Create(ctx, tx)
		require.NoError(t, err)
	}

	all, err := repo.Find(ctx, ledger.Query{Owner: "alice"})
	require.NoError(t, err)
	require.Len(t, all, 4)
	require.Equal(t, date(2024, time.February, 29), all[0].Date)
	require.Equal(t, date(2023, time.December, 31), all[3].Date)

	feb, err := repo.Find(ctx, ledger.Query{
		Owner: "alice", Type: core.Expense,
		From: date(2024, time.February, 1), To: date(2024, time.February, 29),
	})
	require.NoError(t, err)
	require.Len(t, feb, 2)

	totals, err := repo.SumByMonth(ctx, "alice", date(2024, time.January, 1))
	require.NoError(t, err)
	require.Equal(t, []ledger.MonthTotal{
		{Year: 2024, Month: time.January, Type: core.Income, Total: 100},
		{Year: 2024, Month: time.February, Type: core.Expense, Total: 50},
	}, totals)
}

func TestSQLiteRepository_UpdateAndDelete(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	created, err := repo.Create(ctx, core.Transaction{
		Owner: "alice", Type: core.Expense, Amount: 12, Category: "Food", Date: date(2024, time.May, 5),
	})
	require.NoError(t, err)

	upd := created
	upd.Type = core.Income
	upd.Amount = 15
	upd.Note = "refund"
	got, err := repo.Update(ctx, upd)
	require.NoError(t, err)
	require.Equal(t, core.Income, got.Type)
	require.Equal(t, 15.0, got.Amount)
	require.Equal(t, "refund", got.Note)
	require.Equal(t, created.Date, got.Date)

	foreign := upd
	foreign.Owner = "bob"
	_, err = repo.Update(ctx, foreign)
	require.ErrorIs(t, err, ledger.ErrNotFound)

	require.ErrorIs(t, repo.Delete(ctx, "bob", created.ID), ledger.ErrNotFound)
	require.NoError(t, repo.Delete(ctx, "alice", created.ID))
	_, err = repo.Get(ctx, "alice", created.ID)
	require.ErrorIs(t, err, ledger.ErrNotFound)
}
