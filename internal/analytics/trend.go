package analytics

import (
	"context"
	"fmt"
	"time"

	"budget/internal/core"
	"budget/internal/ledger"
	"budget/internal/log"

	"cloud.google.com/go/civil"
)

// DefaultMonths is the trend length used when the caller gives none.
const DefaultMonths = 12

// MonthlyTrend holds parallel per-month series, oldest month first.
type MonthlyTrend struct {
	Labels  []string  `json:"labels"`
	Income  []float64 `json:"income"`
	Expense []float64 `json:"expense"`
}

type monthKey struct {
	year  int
	month time.Month
}

// MonthLabel formats a month as "YYYY-M", without zero padding.
func MonthLabel(year int, month time.Month) string {
	return fmt.Sprintf("%d-%d", year, int(month))
}

// MonthlyTrend sums income and expense for each of the monthsBack calendar
// months ending with the current one. Months without entries are zero.
// Entries whose type is neither income nor expense count as expense.
func (e *Engine) MonthlyTrend(ctx context.Context, owner string, monthsBack int) (MonthlyTrend, error) {
	return cached(e, ctx, owner, fmt.Sprintf("trend:%d", monthsBack), func(ctx context.Context) (MonthlyTrend, error) {
		return e.monthlyTrend(ctx, owner, monthsBack)
	})
}

func (e *Engine) monthlyTrend(ctx context.Context, owner string, monthsBack int) (MonthlyTrend, error) {
	out := MonthlyTrend{Labels: []string{}, Income: []float64{}, Expense: []float64{}}
	if monthsBack <= 0 {
		return out, nil
	}

	anchor := core.MonthStart(e.Today())
	first := core.AddMonths(anchor, -(monthsBack - 1))

	totals, err := e.monthTotals(ctx, owner, first)
	if err != nil {
		return MonthlyTrend{}, err
	}

	type pair struct{ income, expense core.Tally }
	sums := make(map[monthKey]*pair, monthsBack)
	keys := make([]monthKey, 0, monthsBack)
	for i := 0; i < monthsBack; i++ {
		m := core.AddMonths(first, i)
		k := monthKey{m.Year, m.Month}
		keys = append(keys, k)
		sums[k] = &pair{}
	}

	for _, t := range totals {
		p, ok := sums[monthKey{t.Year, t.Month}]
		if !ok {
			continue
		}
		if t.Type == core.Income {
			p.income.Add(t.Total)
		} else {
			p.expense.Add(t.Total)
		}
	}

	for _, k := range keys {
		out.Labels = append(out.Labels, MonthLabel(k.year, k.month))
		out.Income = append(out.Income, sums[k].income.Float64())
		out.Expense = append(out.Expense, sums[k].expense.Float64())
	}

	e.logger.DebugContext(ctx, "Monthly trend computed",
		log.FieldOwner, owner,
		log.FieldCount, monthsBack,
		log.FieldRows, len(totals))
	return out, nil
}

// monthTotals pushes the grouping down to the store when it can.
func (e *Engine) monthTotals(ctx context.Context, owner string, first civil.Date) ([]ledger.MonthTotal, error) {
	if g, ok := e.store.(ledger.MonthGrouper); ok {
		totals, err := g.SumByMonth(ctx, owner, first)
		if err != nil {
			e.logger.ErrorContext(ctx, "Ledger aggregation failed",
				log.FieldOwner, owner,
				log.FieldOperation, log.OpTrend,
				log.FieldError, err,
				log.FieldErrorType, log.ErrorTypeDatabase)
			return nil, core.NewUpstream("failed to fetch monthly trend data", err)
		}
		return totals, nil
	}

	txs, err := e.find(ctx, ledger.Query{Owner: owner, From: first}, "monthly trend")
	if err != nil {
		return nil, err
	}
	return GroupByMonth(txs), nil
}

// GroupByMonth sums amounts per (year, month, type).
func GroupByMonth(txs []core.Transaction) []ledger.MonthTotal {
	type key struct {
		monthKey
		typ core.Type
	}
	sums := make(map[key]*core.Tally)
	var order []key
	for _, tx := range txs {
		k := key{monthKey{tx.Date.Year, tx.Date.Month}, tx.Type}
		t, ok := sums[k]
		if !ok {
			t = &core.Tally{}
			sums[k] = t
			order = append(order, k)
		}
		t.Add(tx.Amount)
	}
	out := make([]ledger.MonthTotal, 0, len(order))
	for _, k := range order {
		out = append(out, ledger.MonthTotal{Year: k.year, Month: k.month, Type: k.typ, Total: sums[k].Float64()})
	}
	return out
}
