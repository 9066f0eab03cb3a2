package analytics

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"budget/internal/core"
	"budget/internal/ledger"

	"cloud.google.com/go/civil"
	"golang.org/x/sync/errgroup"
)

// MonthlySummary totals the current calendar month.
type MonthlySummary struct {
	Income  float64 `json:"income"`
	Expense float64 `json:"expense"`
}

// ProfitLoss totals an inclusive date range.
type ProfitLoss struct {
	Period    string  `json:"period"`
	Start     string  `json:"start"`
	End       string  `json:"end"`
	Income    float64 `json:"income"`
	Expenses  float64 `json:"expenses"`
	NetProfit float64 `json:"netProfit"`
}

// CategoryTotal is one row of a category breakdown.
type CategoryTotal struct {
	Category string  `json:"category"`
	Total    float64 `json:"total"`
	Count    int     `json:"count"`
}

// Overview is the dashboard payload.
type Overview struct {
	Summary  MonthlySummary `json:"summary"`
	Trend    MonthlyTrend   `json:"trend"`
	CashFlow CashFlow       `json:"cashFlow"`
}

// MonthlySummary sums the reference month. Unknown types are ignored.
func (e *Engine) MonthlySummary(ctx context.Context, owner string) (MonthlySummary, error) {
	return cached(e, ctx, owner, "summary", func(ctx context.Context) (MonthlySummary, error) {
		first := core.MonthStart(e.Today())
		last := core.AddMonths(first, 1).AddDays(-1)
		txs, err := e.find(ctx, ledger.Query{Owner: owner, From: first, To: last}, "monthly summary")
		if err != nil {
			return MonthlySummary{}, err
		}
		income, expense := totals(txs)
		return MonthlySummary{Income: income.Float64(), Expense: expense.Float64()}, nil
	})
}

// ProfitLoss sums income and expenses between start and end inclusive.
func (e *Engine) ProfitLoss(ctx context.Context, owner string, start, end civil.Date) (ProfitLoss, error) {
	if !start.IsValid() || !end.IsValid() {
		return ProfitLoss{}, core.NewValidation("start and end must be valid YYYY-MM-DD dates", core.ErrInvalidDate)
	}
	if end.Before(start) {
		return ProfitLoss{}, core.NewValidation("end must not be before start", core.ErrInvalidDate)
	}
	key := fmt.Sprintf("pl:%s:%s", start, end)
	return cached(e, ctx, owner, key, func(ctx context.Context) (ProfitLoss, error) {
		txs, err := e.find(ctx, ledger.Query{Owner: owner, From: start, To: end}, "profit and loss")
		if err != nil {
			return ProfitLoss{}, err
		}
		income, expense := totals(txs)
		in, out := income.Float64(), expense.Float64()
		return ProfitLoss{
			Period:    start.String() + "_" + end.String(),
			Start:     start.String(),
			End:       end.String(),
			Income:    in,
			Expenses:  out,
			NetProfit: in - out,
		}, nil
	})
}

// CategoryBreakdown groups one type by category, largest total first.
// Zero bounds default to the current month.
func (e *Engine) CategoryBreakdown(ctx context.Context, owner string, typ core.Type, start, end civil.Date) ([]CategoryTotal, error) {
	if typ == "" {
		typ = core.Expense
	}
	if !typ.Valid() {
		return nil, core.NewValidation("type must be income or expense", core.ErrInvalidType)
	}
	if !start.IsValid() {
		start = core.MonthStart(e.Today())
	}
	if !end.IsValid() {
		end = core.AddMonths(core.MonthStart(start), 1).AddDays(-1)
	}
	if end.Before(start) {
		return nil, core.NewValidation("end must not be before start", core.ErrInvalidDate)
	}

	key := fmt.Sprintf("categories:%s:%s:%s", typ, start, end)
	return cached(e, ctx, owner, key, func(ctx context.Context) ([]CategoryTotal, error) {
		txs, err := e.find(ctx, ledger.Query{Owner: owner, Type: typ, From: start, To: end}, "category breakdown")
		if err != nil {
			return nil, err
		}
		return GroupByCategory(txs), nil
	})
}

// GroupByCategory sums amounts per category.
func GroupByCategory(txs []core.Transaction) []CategoryTotal {
	sums := map[string]*core.Tally{}
	counts := map[string]int{}
	for _, tx := range txs {
		t, ok := sums[tx.Category]
		if !ok {
			t = &core.Tally{}
			sums[tx.Category] = t
		}
		t.Add(tx.Amount)
		counts[tx.Category]++
	}
	out := make([]CategoryTotal, 0, len(sums))
	for category, t := range sums {
		out = append(out, CategoryTotal{Category: category, Total: t.Float64(), Count: counts[category]})
	}
	slices.SortFunc(out, func(a, b CategoryTotal) int {
		if c := cmp.Compare(b.Total, a.Total); c != 0 {
			return c
		}
		return cmp.Compare(a.Category, b.Category)
	})
	return out
}

// Overview computes the default trend, daily cash flow and summary
// concurrently. Any failure fails the whole payload.
func (e *Engine) Overview(ctx context.Context, owner string) (Overview, error) {
	var out Overview
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		out.Summary, err = e.MonthlySummary(gctx, owner)
		return err
	})
	g.Go(func() (err error) {
		out.Trend, err = e.MonthlyTrend(gctx, owner, DefaultMonths)
		return err
	})
	g.Go(func() (err error) {
		out.CashFlow, err = e.CashFlow(gctx, owner, Daily, DefaultDays)
		return err
	})
	if err := g.Wait(); err != nil {
		return Overview{}, err
	}
	return out, nil
}

func totals(txs []core.Transaction) (income, expense core.Tally) {
	for _, tx := range txs {
		switch tx.Type {
		case core.Income:
			income.Add(tx.Amount)
		case core.Expense:
			expense.Add(tx.Amount)
		}
	}
	return income, expense
}

