package analytics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"budget/internal/core"
	"budget/internal/ledger"
	"budget/internal/log"

	"cloud.google.com/go/civil"
)

// Range selects the cash flow bucket width.
type Range string

const (
	Daily  Range = "daily"
	Weekly Range = "weekly"
)

const (
	DefaultDays  = 7
	DefaultWeeks = 4
)

// ParseRange maps the query value to a Range. Anything but "weekly" is daily.
func ParseRange(s string) Range {
	if strings.EqualFold(strings.TrimSpace(s), string(Weekly)) {
		return Weekly
	}
	return Daily
}

// DefaultCount is the number of buckets used when the caller gives none.
func (r Range) DefaultCount() int {
	if r == Weekly {
		return DefaultWeeks
	}
	return DefaultDays
}

// Bucket is one inclusive window of calendar days.
type Bucket struct {
	Label string
	Start civil.Date
	End   civil.Date
}

// CashFlow holds parallel per-bucket series, oldest bucket first.
// Net[i] is always exactly Inflow[i] - Outflow[i].
type CashFlow struct {
	Labels  []string  `json:"labels"`
	Inflow  []float64 `json:"inflow"`
	Outflow []float64 `json:"outflow"`
	Net     []float64 `json:"net"`
}

// Buckets lays out count windows ending at today. Daily windows are single
// days labelled "M/D". Weekly windows start 7*i days before today, span
// seven days and are labelled with the ISO week of their first day.
func Buckets(today civil.Date, r Range, count int) []Bucket {
	if count <= 0 {
		return nil
	}
	step := 1
	if r == Weekly {
		step = 7
	}
	out := make([]Bucket, 0, count)
	for i := count - 1; i >= 0; i-- {
		start := today.AddDays(-i * step)
		end := start.AddDays(step - 1)
		out = append(out, Bucket{Label: bucketLabel(start, r), Start: start, End: end})
	}
	return out
}

func bucketLabel(start civil.Date, r Range) string {
	if r == Weekly {
		return fmt.Sprintf("Week %d", ISOWeek(start))
	}
	return fmt.Sprintf("%d/%d", int(start.Month), start.Day)
}

// ISOWeek returns the ISO 8601 week number of d: weeks start on Monday and
// week 1 holds the year's first Thursday.
func ISOWeek(d civil.Date) int {
	_, week := d.In(time.UTC).ISOWeek()
	return week
}

// CashFlow sums income as inflow and expense as outflow per bucket. The
// whole window is fetched once and bucketed in memory; a failed fetch fails
// the whole series.
func (e *Engine) CashFlow(ctx context.Context, owner string, r Range, count int) (CashFlow, error) {
	return cached(e, ctx, owner, fmt.Sprintf("cashflow:%s:%d", r, count), func(ctx context.Context) (CashFlow, error) {
		return e.cashFlow(ctx, owner, r, count)
	})
}

func (e *Engine) cashFlow(ctx context.Context, owner string, r Range, count int) (CashFlow, error) {
	out := CashFlow{Labels: []string{}, Inflow: []float64{}, Outflow: []float64{}, Net: []float64{}}
	buckets := Buckets(e.Today(), r, count)
	if len(buckets) == 0 {
		return out, nil
	}

	first, last := buckets[0].Start, buckets[len(buckets)-1].End
	txs, err := e.find(ctx, ledger.Query{Owner: owner, From: first, To: last}, "cash flow")
	if err != nil {
		return CashFlow{}, err
	}

	step := buckets[0].End.DaysSince(buckets[0].Start) + 1
	inflow := make([]core.Tally, len(buckets))
	outflow := make([]core.Tally, len(buckets))
	for _, tx := range txs {
		offset := tx.Date.DaysSince(first)
		if offset < 0 || offset/step >= len(buckets) {
			continue
		}
		idx := offset / step
		switch tx.Type {
		case core.Income:
			inflow[idx].Add(tx.Amount)
		case core.Expense:
			outflow[idx].Add(tx.Amount)
		}
	}

	for i, b := range buckets {
		in, outAmt := inflow[i].Float64(), outflow[i].Float64()
		out.Labels = append(out.Labels, b.Label)
		out.Inflow = append(out.Inflow, in)
		out.Outflow = append(out.Outflow, outAmt)
		out.Net = append(out.Net, in-outAmt)
	}

	e.logger.DebugContext(ctx, "Cash flow computed",
		log.FieldOwner, owner,
		log.FieldRange, string(r),
		log.FieldCount, count,
		log.FieldRows, len(txs))
	return out, nil
}
