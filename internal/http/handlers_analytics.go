package http

import (
	"net/http"

	"budget/internal/analytics"
)

var (
	monthsBounds = Bounds{Min: 1, Max: 120}
	daysBounds   = Bounds{Min: 1, Max: 366}
	weeksBounds  = Bounds{Min: 1, Max: 104}
)

// handleMonthlyTrend serves GET /api/analytics/monthly-trend?months=
func (s *Server) handleMonthlyTrend(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerOf(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	months, err := ParseBoundedInt(r.URL.Query(), "months", analytics.DefaultMonths, monthsBounds)
	if err != nil {
		writeError(w, r, err)
		return
	}

	trend, err := s.engine.MonthlyTrend(r.Context(), owner, months)
	if err != nil {
		writeError(w, r, err)
		return
	}
	NewJSONResponse().Body(trend).Write(w)
}

// handleCashFlow serves GET /api/analytics/cash-flow?range=&days=&weeks=
// The count parameter read depends on the range.
func (s *Server) handleCashFlow(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerOf(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	query := r.URL.Query()
	rng := analytics.ParseRange(query.Get("range"))
	var count int
	if rng == analytics.Weekly {
		count, err = ParseBoundedInt(query, "weeks", rng.DefaultCount(), weeksBounds)
	} else {
		count, err = ParseBoundedInt(query, "days", rng.DefaultCount(), daysBounds)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}

	flow, err := s.engine.CashFlow(r.Context(), owner, rng, count)
	if err != nil {
		writeError(w, r, err)
		return
	}
	NewJSONResponse().Body(flow).Write(w)
}

// handleProfitLoss serves GET /api/analytics/profit-loss?start=&end=
func (s *Server) handleProfitLoss(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerOf(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	query := r.URL.Query()
	start, err := RequireDateParam(query, "start")
	if err != nil {
		writeError(w, r, err)
		return
	}
	end, err := RequireDateParam(query, "end")
	if err != nil {
		writeError(w, r, err)
		return
	}

	pl, err := s.engine.ProfitLoss(r.Context(), owner, start, end)
	if err != nil {
		writeError(w, r, err)
		return
	}
	NewJSONResponse().Body(pl).Write(w)
}

// handleCategories serves GET /api/analytics/categories?type=&start=&end=
func (s *Server) handleCategories(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerOf(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	query := r.URL.Query()
	typ, err := ParseTypeParam(query, "type")
	if err != nil {
		writeError(w, r, err)
		return
	}
	start, err := ParseDateParam(query, "start")
	if err != nil {
		writeError(w, r, err)
		return
	}
	end, err := ParseDateParam(query, "end")
	if err != nil {
		writeError(w, r, err)
		return
	}

	totals, err := s.engine.CategoryBreakdown(r.Context(), owner, typ, start, end)
	if err != nil {
		writeError(w, r, err)
		return
	}
	NewJSONResponse().Data(totals).Write(w)
}

func (s *Server) handleOverview(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerOf(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	overview, err := s.engine.Overview(r.Context(), owner)
	if err != nil {
		writeError(w, r, err)
		return
	}
	NewJSONResponse().Body(overview).Write(w)
}

// handleMonthlySummary serves GET /api/transactions/monthly-summary
func (s *Server) handleMonthlySummary(w http.ResponseWriter, r *http.Request) {
	owner, err := ownerOf(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	summary, err := s.engine.MonthlySummary(r.Context(), owner)
	if err != nil {
		writeError(w, r, err)
		return
	}
	NewJSONResponse().Body(summary).Write(w)
}
